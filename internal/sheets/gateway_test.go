package sheets

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partnerdesk/backend/internal/breaker"
	"github.com/partnerdesk/backend/internal/config"
	"github.com/partnerdesk/backend/internal/faults"
)

// fakeAPI scripts vendor behavior per operation.
type fakeAPI struct {
	mu          sync.Mutex
	getErrs     []error // popped per GetRange call; nil entry = success
	rows        [][]string
	updateErr   error
	updates     []string // a1 ranges in call order
	appends     [][]string
	invalidated atomic.Int32

	inflight    atomic.Int32
	maxInflight atomic.Int32
	writeGate   chan struct{} // when set, UpdateRange blocks until a receive
}

func (f *fakeAPI) GetRange(ctx context.Context, id, a1 string) ([][]string, error) {
	f.mu.Lock()
	var err error
	if len(f.getErrs) > 0 {
		err = f.getErrs[0]
		f.getErrs = f.getErrs[1:]
	}
	rows := f.rows
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (f *fakeAPI) UpdateRange(ctx context.Context, id, a1 string, values [][]string) error {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		max := f.maxInflight.Load()
		if cur <= max || f.maxInflight.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.writeGate != nil {
		<-f.writeGate
	}
	f.mu.Lock()
	f.updates = append(f.updates, a1)
	err := f.updateErr
	f.mu.Unlock()
	return err
}

func (f *fakeAPI) BatchUpdateRanges(ctx context.Context, id string, data map[string][][]string) error {
	return nil
}

func (f *fakeAPI) AppendRow(ctx context.Context, id, sheetName string, row []string) error {
	f.mu.Lock()
	f.appends = append(f.appends, row)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) SetBackground(ctx context.Context, id, sheetName string, row, col int, color Color) error {
	return nil
}

func (f *fakeAPI) Invalidate() { f.invalidated.Add(1) }

func testRefs() map[Endpoint]config.SheetRef {
	return map[Endpoint]config.SheetRef{
		EndpointAuth:       {SpreadsheetID: "auth-spreadsheet", SheetName: "partners"},
		EndpointAppeals:    {SpreadsheetID: "appeals-spreadsheet", SheetName: "appeals"},
		EndpointPromotions: {SpreadsheetID: "promo-spreadsheet", SheetName: "promos"},
	}
}

func newTestGateway(t *testing.T, api API) *Gateway {
	t.Helper()
	pool := NewPool(4)
	t.Cleanup(pool.Close)
	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 5, CoolDown: time.Minute}, nil)
	return NewGateway(api, pool, reg, testRefs(), slog.Default(), Options{
		CallTimeout:  time.Second,
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
		MaxAttempts:  5,
	})
}

func TestListRowsReturnsValues(t *testing.T) {
	api := &fakeAPI{rows: [][]string{{"P1", "89101234567"}, {"P2", "89997654321"}}}
	g := newTestGateway(t, api)

	rows, err := g.ListRows(context.Background(), EndpointAuth)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, "P1", rows[0][0])
}

func TestTransientErrorsAreRetriedWithinBudget(t *testing.T) {
	api := &fakeAPI{
		getErrs: []error{
			faults.Transient("flap 1"),
			faults.Transient("flap 2"),
			nil,
		},
		rows: [][]string{{"ok"}},
	}
	g := newTestGateway(t, api)

	rows, err := g.ListRows(context.Background(), EndpointAppeals)
	require.NoError(t, err)
	assert.Equal(t, "ok", rows[0][0])
}

func TestRetryBudgetExhausted(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = faults.Transient("down")
	}
	api := &fakeAPI{getErrs: errs}
	g := newTestGateway(t, api)

	_, err := g.ListRows(context.Background(), EndpointAppeals)
	require.Error(t, err)
	assert.True(t, faults.IsTransient(err))
	// 5 attempts consumed, no more.
	api.mu.Lock()
	remaining := len(api.getErrs)
	api.mu.Unlock()
	assert.Equal(t, 5, remaining)
}

func TestPermanentErrorFailsFast(t *testing.T) {
	api := &fakeAPI{getErrs: []error{
		faults.Permanent("schema mismatch"),
		nil, // would succeed if retried
	}}
	g := newTestGateway(t, api)

	_, err := g.ListRows(context.Background(), EndpointAuth)
	require.Error(t, err)
	assert.True(t, faults.IsPermanent(err))
	api.mu.Lock()
	remaining := len(api.getErrs)
	api.mu.Unlock()
	assert.Equal(t, 1, remaining, "permanent errors must not be retried")
}

func TestBreakerOpensAndFailsFast(t *testing.T) {
	// Exhaust the breaker: one gateway call makes 5 attempts, each counted.
	errs := make([]error, 5)
	for i := range errs {
		errs[i] = faults.Transient("down")
	}
	api := &fakeAPI{getErrs: errs}
	g := newTestGateway(t, api)

	_, err := g.ListRows(context.Background(), EndpointPromotions)
	require.Error(t, err)

	// Breaker is now open: next call is rejected without reaching the vendor.
	_, err = g.ListRows(context.Background(), EndpointPromotions)
	require.Error(t, err)
	assert.True(t, faults.IsBreakerOpen(err))

	// Other endpoints keep working.
	api.mu.Lock()
	api.rows = [][]string{{"alive"}}
	api.mu.Unlock()
	_, err = g.ListRows(context.Background(), EndpointAuth)
	assert.NoError(t, err)
}

func TestWritesAreSerialized(t *testing.T) {
	api := &fakeAPI{writeGate: make(chan struct{})}
	g := newTestGateway(t, api)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = g.WriteCell(context.Background(), EndpointAppeals, n+1, 5, "x")
		}(i)
	}
	for i := 0; i < 4; i++ {
		api.writeGate <- struct{}{}
	}
	wg.Wait()

	assert.Equal(t, int32(1), api.maxInflight.Load(), "mutating RPCs must never overlap")
	assert.Len(t, api.updates, 4)
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = faults.Transient("down")
	}
	api := &fakeAPI{getErrs: errs}
	g := newTestGateway(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.ListRows(ctx, EndpointAuth)
	require.Error(t, err)
}
