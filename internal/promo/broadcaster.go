package promo

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/partnerdesk/backend/internal/logging"
	"github.com/partnerdesk/backend/internal/metrics"
	"github.com/partnerdesk/backend/internal/sheets"
)

// Audience resolves the current set of authorized recipients.
type Audience interface {
	AuthorizedUsers(ctx context.Context) ([]int64, error)
}

// SheetOps is the slice of the gateway the broadcaster reads through.
type SheetOps interface {
	ListRows(ctx context.Context, ep sheets.Endpoint) ([][]string, error)
}

// Sender delivers one promotion message. media and link may be empty.
type Sender interface {
	SendPromo(ctx context.Context, chatID int64, text string, media []byte, link string) error
}

// Options tune the broadcaster; zero values mean defaults.
type Options struct {
	Interval time.Duration // default 15m
	Workers  int           // default 4
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 15 * time.Minute
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	return o
}

// Broadcaster fans active promotions out to the audience.
type Broadcaster struct {
	gw       SheetOps
	audience Audience
	ledger   *Ledger
	media    *MediaCache
	send     Sender
	log      *slog.Logger
	opts     Options
	now      func() time.Time
}

// New builds the broadcaster.
func New(gw SheetOps, audience Audience, ledger *Ledger, media *MediaCache, send Sender, log *slog.Logger, opts Options) *Broadcaster {
	return &Broadcaster{
		gw:       gw,
		audience: audience,
		ledger:   ledger,
		media:    media,
		send:     send,
		log:      log,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// Run sweeps on the configured interval until the context ends.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.sweep(ctx)
		}
	}
}

type job struct {
	promo  Promotion
	userID int64
}

// sweep enumerates active promotions and delivers the ones the ledger has
// not seen for some recipient.
func (b *Broadcaster) sweep(ctx context.Context) {
	rows, err := b.gw.ListRows(ctx, sheets.EndpointPromotions)
	if err != nil {
		b.log.Warn("promotions sheet read failed", slog.String("error", err.Error()))
		return
	}
	var active []Promotion
	for i, row := range rows {
		if blank(row) {
			continue
		}
		p, err := ParseRow(row)
		if err != nil {
			b.log.Warn("promotion row skipped",
				slog.Int("row", i+1),
				slog.String("error", err.Error()))
			continue
		}
		if p.Status == StatusActive {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return
	}

	users, err := b.audience.AuthorizedUsers(ctx)
	if err != nil {
		b.log.Warn("audience resolution failed", slog.String("error", err.Error()))
		return
	}

	var jobs []job
	for _, p := range active {
		for _, uid := range users {
			if !b.ledger.Sent(p.ID, uid) {
				jobs = append(jobs, job{promo: p, userID: uid})
			}
		}
	}
	if len(jobs) == 0 {
		return
	}
	b.log.Info("promotion fan-out started",
		slog.Int("promotions", len(active)),
		slog.Int("deliveries", len(jobs)))

	queue := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < b.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				b.deliver(ctx, j.promo, j.userID)
			}
		}()
	}
	for _, j := range jobs {
		select {
		case queue <- j:
		case <-ctx.Done():
			close(queue)
			wg.Wait()
			return
		}
	}
	close(queue)
	wg.Wait()
}

// deliver sends one promotion to one user. The ledger entry is written only
// after a successful send; any failure leaves the pair for the next sweep.
func (b *Broadcaster) deliver(ctx context.Context, p Promotion, userID int64) {
	uid := logging.MaskUserID(strconv.FormatInt(userID, 10))

	var media []byte
	if p.ContentURL != "" {
		data, err := b.media.Get(ctx, p.ContentURL)
		if err != nil {
			b.log.Warn("promotion media unavailable",
				slog.String("promotion", p.ID),
				slog.String("user_id", uid),
				slog.String("error", err.Error()))
			return
		}
		media = data
	}
	if err := b.send.SendPromo(ctx, userID, p.Text(), media, p.DeepLink); err != nil {
		metrics.PromoDeliveries.WithLabelValues("failed").Inc()
		b.log.Warn("promotion delivery failed",
			slog.String("promotion", p.ID),
			slog.String("user_id", uid),
			slog.String("error", err.Error()))
		return
	}
	if err := b.ledger.MarkSent(p.ID, userID, b.now()); err != nil {
		// The send already happened; a lost entry means one duplicate next
		// sweep, which the invariant tolerates over a lost promotion.
		b.log.Error("sent ledger write failed",
			slog.String("promotion", p.ID),
			slog.String("user_id", uid),
			slog.String("error", err.Error()))
		return
	}
	metrics.PromoDeliveries.WithLabelValues("ok").Inc()
}

func blank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}
