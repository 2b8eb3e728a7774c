// Package sheets presents row- and cell-level spreadsheet operations as safe
// concurrent operations over the blocking vendor client: worker offload,
// write serialization, retry with jitter, and a circuit breaker per contour.
package sheets

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/googleapi"

	"github.com/partnerdesk/backend/internal/breaker"
	"github.com/partnerdesk/backend/internal/config"
	"github.com/partnerdesk/backend/internal/faults"
	"github.com/partnerdesk/backend/internal/metrics"
)

// Endpoint names one spreadsheet contour. Each has its own breaker.
type Endpoint string

const (
	EndpointAuth       Endpoint = "auth"
	EndpointAppeals    Endpoint = "appeals"
	EndpointPromotions Endpoint = "promotions"
)

// CellUpdate addresses one cell write inside a batch. Row and Col are 1-based.
type CellUpdate struct {
	Row   int
	Col   int
	Value string
}

// Options tune the gateway; zero values mean defaults.
type Options struct {
	CallTimeout  time.Duration // per-attempt RPC timeout, default 30s
	RetryInitial time.Duration // first backoff interval, default 500ms
	RetryMax     time.Duration // backoff cap, default 8s
	MaxAttempts  uint64        // total attempts per call, default 5
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 500 * time.Millisecond
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 8 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	return o
}

// Gateway owns the worker pool, the process-global write lock and the
// per-endpoint breakers. Reads run in parallel; every mutating operation is
// serialized so the last-writer-wins store never sees interleaved
// read-modify-write cycles from this process.
type Gateway struct {
	api      API
	pool     *Pool
	breakers *breaker.Registry
	refs     map[Endpoint]config.SheetRef
	opts     Options
	log      *slog.Logger

	writeMu sync.Mutex
}

// NewGateway wires the gateway over the vendor adapter.
func NewGateway(api API, pool *Pool, breakers *breaker.Registry, refs map[Endpoint]config.SheetRef, log *slog.Logger, opts Options) *Gateway {
	return &Gateway{
		api:      api,
		pool:     pool,
		breakers: breakers,
		refs:     refs,
		opts:     opts.withDefaults(),
		log:      log,
	}
}

// Ref exposes the contour location for callers composing A1 ranges.
func (g *Gateway) Ref(ep Endpoint) config.SheetRef { return g.refs[ep] }

// InvalidateClient drops the cached vendor client and handles. The next call
// on any contour rebuilds them.
func (g *Gateway) InvalidateClient() {
	g.api.Invalidate()
	g.log.Info("sheets client cache invalidated")
}

// ListRows returns every row of the contour's sheet, columns A onward.
func (g *Gateway) ListRows(ctx context.Context, ep Endpoint) ([][]string, error) {
	ref := g.refs[ep]
	var rows [][]string
	err := g.call(ctx, ep, "list_rows", false, func(cctx context.Context) error {
		var err error
		rows, err = g.api.GetRange(cctx, ref.SpreadsheetID, SheetA1(ref.SheetName))
		return err
	})
	return rows, err
}

// ReadCell reads a single cell. A cell outside the populated range reads as "".
func (g *Gateway) ReadCell(ctx context.Context, ep Endpoint, row, col int) (string, error) {
	ref := g.refs[ep]
	var value string
	err := g.call(ctx, ep, "read_cell", false, func(cctx context.Context) error {
		rows, err := g.api.GetRange(cctx, ref.SpreadsheetID, CellA1(ref.SheetName, row, col))
		if err != nil {
			return err
		}
		if len(rows) > 0 && len(rows[0]) > 0 {
			value = rows[0][0]
		}
		return nil
	})
	return value, err
}

// WriteCell overwrites a single cell.
func (g *Gateway) WriteCell(ctx context.Context, ep Endpoint, row, col int, value string) error {
	ref := g.refs[ep]
	return g.call(ctx, ep, "write_cell", true, func(cctx context.Context) error {
		return g.api.UpdateRange(cctx, ref.SpreadsheetID, CellA1(ref.SheetName, row, col), [][]string{{value}})
	})
}

// BatchWrite applies several cell updates in one vendor round trip.
func (g *Gateway) BatchWrite(ctx context.Context, ep Endpoint, updates []CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ref := g.refs[ep]
	data := make(map[string][][]string, len(updates))
	for _, u := range updates {
		data[CellA1(ref.SheetName, u.Row, u.Col)] = [][]string{{u.Value}}
	}
	return g.call(ctx, ep, "batch_write", true, func(cctx context.Context) error {
		return g.api.BatchUpdateRanges(cctx, ref.SpreadsheetID, data)
	})
}

// AppendRow appends one row after the last populated row.
func (g *Gateway) AppendRow(ctx context.Context, ep Endpoint, row []string) error {
	ref := g.refs[ep]
	return g.call(ctx, ep, "append_row", true, func(cctx context.Context) error {
		return g.api.AppendRow(cctx, ref.SpreadsheetID, ref.SheetName, row)
	})
}

// FormatCell paints a cell background. Formatting mutates the sheet and is
// serialized like any other write.
func (g *Gateway) FormatCell(ctx context.Context, ep Endpoint, row, col int, color Color) error {
	ref := g.refs[ep]
	return g.call(ctx, ep, "format_cell", true, func(cctx context.Context) error {
		return g.api.SetBackground(cctx, ref.SpreadsheetID, ref.SheetName, row, col, color)
	})
}

// call is the middleware stack around one logical operation:
// classify → retry → breaker → pool → vendor RPC. The write lock, when taken,
// is held across the whole stack including retries; that is its purpose.
func (g *Gateway) call(ctx context.Context, ep Endpoint, op string, mutating bool, fn func(context.Context) error) error {
	if mutating {
		g.writeMu.Lock()
		defer g.writeMu.Unlock()
	}

	attempt := func() error {
		return g.breakers.Call(string(ep), func() error {
			return g.pool.Do(ctx, func() error {
				cctx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
				defer cancel()
				return g.classify(fn(cctx))
			})
		})
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.opts.RetryInitial
	bo.MaxInterval = g.opts.RetryMax
	bo.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		err := attempt()
		switch {
		case err == nil:
			return nil
		case faults.IsBreakerOpen(err):
			// Fail fast; burning the retry budget on an open breaker helps nobody.
			return backoff.Permanent(err)
		case faults.IsTransient(err):
			return err
		default:
			return backoff.Permanent(err)
		}
	}, backoff.WithContext(backoff.WithMaxRetries(bo, g.opts.MaxAttempts-1), ctx))

	g.observe(ep, op, err)
	return err
}

func (g *Gateway) classify(err error) error {
	if err == nil {
		return nil
	}
	// Credentials problems are the one permanent error we can self-heal:
	// drop the cached client so the next call re-authorizes.
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden) {
		g.api.Invalidate()
	}
	return faults.ClassifyGoogle(err)
}

func (g *Gateway) observe(ep Endpoint, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = faults.KindOf(err).String()
		g.log.Warn("sheet call failed",
			slog.String("endpoint", string(ep)),
			slog.String("op", op),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()))
	}
	metrics.SheetCalls.WithLabelValues(string(ep), op, outcome).Inc()
}
