package auth

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partnerdesk/backend/internal/faults"
	"github.com/partnerdesk/backend/internal/sheets"
)

// fakeSheet holds the auth sheet as mutable rows.
type fakeSheet struct {
	mu        sync.Mutex
	rows      [][]string
	listCalls int
	listErr   error
	writeErr  error
}

func (f *fakeSheet) ListRows(ctx context.Context, ep sheets.Endpoint) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([][]string, len(f.rows))
	for i, r := range f.rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (f *fakeSheet) BatchWrite(ctx context.Context, ep sheets.Endpoint, updates []sheets.CellUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	for _, u := range updates {
		row := f.rows[u.Row-1]
		for len(row) < u.Col {
			row = append(row, "")
		}
		row[u.Col-1] = u.Value
		f.rows[u.Row-1] = row
	}
	return nil
}

func newTestService(t *testing.T, sheet *fakeSheet, now *time.Time) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth_cache.json")
	return NewService(sheet, path, slog.Default(), func() time.Time { return *now })
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+7 (910) 123-45-67", "89101234567", true},
		{"910 123 45 67", "89101234567", true},
		{"89101234567", "89101234567", true},
		{"79101234567", "89101234567", true},
		{"123", "", false},
		{"", "", false},
		{"8910123456789", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizePhone(tc.in)
		if tc.ok {
			require.NoError(t, err, "input %q", tc.in)
			assert.Equal(t, tc.want, got)
		} else {
			assert.Error(t, err, "input %q", tc.in)
			assert.Equal(t, faults.KindValidation, faults.KindOf(err))
		}
	}
}

func TestBindClaimsRowAndAuthorizes(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	sheet := &fakeSheet{rows: [][]string{
		{"P1", "89101234567", "Ivanov I.I.", "", flagNotAuthorized, ""},
	}}
	svc := newTestService(t, sheet, &now)

	require.NoError(t, svc.Bind(context.Background(), "P1", "+7 910 123-45-67", 111222333))

	row := sheet.rows[0]
	assert.Equal(t, "111222333", row[colUserID-1])
	assert.Equal(t, flagAuthorized, row[colFlag-1])
	assert.Equal(t, now.Format(time.RFC3339), row[colBoundAt-1])

	ok, err := svc.IsAuthorized(context.Background(), 111222333)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBindIsIdempotent(t *testing.T) {
	now := time.Now()
	sheet := &fakeSheet{rows: [][]string{
		{"P1", "89101234567", "Ivanov I.I.", "", flagNotAuthorized, ""},
	}}
	svc := newTestService(t, sheet, &now)

	require.NoError(t, svc.Bind(context.Background(), "P1", "89101234567", 42))
	boundAt := sheet.rows[0][colBoundAt-1]

	now = now.Add(time.Hour)
	require.NoError(t, svc.Bind(context.Background(), "P1", "89101234567", 42))
	assert.Equal(t, boundAt, sheet.rows[0][colBoundAt-1], "second bind must not rewrite the row")
	assert.Len(t, sheet.rows, 1, "no duplicate row")
}

func TestBindMissReturnsNotFound(t *testing.T) {
	now := time.Now()
	sheet := &fakeSheet{rows: [][]string{
		{"P1", "89101234567", "Ivanov I.I.", "", flagNotAuthorized, ""},
	}}
	svc := newTestService(t, sheet, &now)

	err := svc.Bind(context.Background(), "P1", "89990000000", 42)
	assert.True(t, faults.IsNotFound(err))

	err = svc.Bind(context.Background(), "P2", "89101234567", 42)
	assert.True(t, faults.IsNotFound(err))
}

func TestBindRejectsBadPhoneBeforeTouchingSheet(t *testing.T) {
	now := time.Now()
	sheet := &fakeSheet{}
	svc := newTestService(t, sheet, &now)

	err := svc.Bind(context.Background(), "P1", "123", 42)
	assert.Equal(t, faults.KindValidation, faults.KindOf(err))
	assert.Zero(t, sheet.listCalls)
}

func TestIsAuthorizedCachesWithinTTL(t *testing.T) {
	now := time.Now()
	sheet := &fakeSheet{rows: [][]string{
		{"P1", "89101234567", "Ivanov I.I.", "42", flagAuthorized, ""},
	}}
	svc := newTestService(t, sheet, &now)

	ok, err := svc.IsAuthorized(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, ok)
	first := sheet.listCalls

	// Within TTL: served from cache, no second fetch.
	now = now.Add(23 * time.Hour)
	ok, _ = svc.IsAuthorized(context.Background(), 42)
	assert.True(t, ok)
	assert.Equal(t, first, sheet.listCalls)

	// Past TTL: reloaded.
	now = now.Add(2 * time.Hour)
	ok, _ = svc.IsAuthorized(context.Background(), 42)
	assert.True(t, ok)
	assert.Greater(t, sheet.listCalls, first)
}

func TestCacheSurvivesRestart(t *testing.T) {
	now := time.Now()
	path := filepath.Join(t.TempDir(), "auth_cache.json")
	sheet := &fakeSheet{rows: [][]string{
		{"P1", "89101234567", "Ivanov I.I.", "42", flagAuthorized, ""},
	}}

	svc := NewService(sheet, path, slog.Default(), func() time.Time { return now })
	_, err := svc.IsAuthorized(context.Background(), 42)
	require.NoError(t, err)
	fetches := sheet.listCalls

	// New service over the same cache file: verdict comes from disk.
	svc2 := NewService(sheet, path, slog.Default(), func() time.Time { return now })
	ok, err := svc2.IsAuthorized(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, fetches, sheet.listCalls)
}

func TestIsAuthorizedSurfacesSheetErrors(t *testing.T) {
	now := time.Now()
	sheet := &fakeSheet{listErr: faults.Transient("contour down")}
	svc := newTestService(t, sheet, &now)

	_, err := svc.IsAuthorized(context.Background(), 42)
	assert.True(t, faults.IsTransient(err))
}

func TestAuthorizedUsers(t *testing.T) {
	now := time.Now()
	sheet := &fakeSheet{rows: [][]string{
		{"P1", "89101234567", "A", "42", flagAuthorized, ""},
		{"P2", "89101234568", "B", "", flagNotAuthorized, ""},
		{"P3", "89101234569", "C", "77", flagAuthorized, ""},
		{"P4", "89101234570", "D", "nonsense", flagAuthorized, ""},
	}}
	svc := newTestService(t, sheet, &now)

	users, err := svc.AuthorizedUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 77}, users)
}

func TestIdentityLookup(t *testing.T) {
	now := time.Now()
	sheet := &fakeSheet{rows: [][]string{
		{"P1", "89101234567", "Ivanov I.I.", "42", flagAuthorized, ""},
	}}
	svc := newTestService(t, sheet, &now)

	id, err := svc.Identity(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "P1", id.PartnerCode)
	assert.Equal(t, "Ivanov I.I.", id.Name)

	_, err = svc.Identity(context.Background(), 999)
	assert.Equal(t, faults.KindUnauthorized, faults.KindOf(err))
}
