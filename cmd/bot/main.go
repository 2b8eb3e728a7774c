// Command bot runs the partner-desk coordinator: the messenger long-poll
// loop, the AI session manager, the appeals state machine and the periodic
// monitors, glued over the Google Sheets state of record.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/api/option"

	"github.com/partnerdesk/backend/internal/ai"
	"github.com/partnerdesk/backend/internal/ai/assistant"
	"github.com/partnerdesk/backend/internal/appeals"
	"github.com/partnerdesk/backend/internal/auth"
	"github.com/partnerdesk/backend/internal/breaker"
	"github.com/partnerdesk/backend/internal/config"
	"github.com/partnerdesk/backend/internal/health"
	"github.com/partnerdesk/backend/internal/knowledge"
	"github.com/partnerdesk/backend/internal/logging"
	"github.com/partnerdesk/backend/internal/metrics"
	"github.com/partnerdesk/backend/internal/monitor"
	"github.com/partnerdesk/backend/internal/promo"
	"github.com/partnerdesk/backend/internal/router"
	"github.com/partnerdesk/backend/internal/sheets"
	"github.com/partnerdesk/backend/internal/tasks"
	"github.com/partnerdesk/backend/internal/telegram"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.Setup(cfg.LogLevel)

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	lock, err := tasks.AcquireLock(filepath.Join(cfg.StateDir, "bot.pid"))
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hb := health.NewHeartbeat()
	bot, err := telegram.New(cfg.MessengerToken, hb, logging.For(log, "telegram"))
	if err != nil {
		return err
	}

	// Sheets gateway: one worker pool, one write lock, one breaker per contour.
	api := sheets.NewGoogleAPI(cfg.CredentialsJSON, cfg.CredentialsFile)
	pool := sheets.NewPool(cfg.SheetsPoolSize)
	defer pool.Close()
	breakers := breaker.NewRegistry(breaker.Config{}, logging.For(log, "breaker"))
	gw := sheets.NewGateway(api, pool, breakers, map[sheets.Endpoint]config.SheetRef{
		sheets.EndpointAuth:       cfg.AuthSheet,
		sheets.EndpointAppeals:    cfg.AppealsSheet,
		sheets.EndpointPromotions: cfg.PromotionsSheet,
	}, logging.For(log, "sheets"), sheets.Options{})

	authSvc := auth.NewService(gw, filepath.Join(cfg.StateDir, "auth_cache.json"), logging.For(log, "auth"), nil)
	appealsSvc := appeals.NewService(gw, logging.For(log, "appeals"), nil)

	var history *ai.History
	if cfg.ChatHistoryFile != "" {
		history, err = ai.OpenHistory(cfg.ChatHistoryFile)
		if err != nil {
			return fmt.Errorf("chat history: %w", err)
		}
		defer history.Close()
	}

	tools := ai.NewRegistry()
	var kb *knowledge.Base
	if cfg.KnowledgeFolderID != "" {
		creds, err := cfg.Credentials()
		if err != nil {
			return fmt.Errorf("credentials: %w", err)
		}
		fetcher, err := knowledge.NewDriveFetcher(ctx, cfg.KnowledgeFolderID,
			logging.For(log, "knowledge"), option.WithCredentialsJSON(creds))
		if err != nil {
			return err
		}
		kb = knowledge.NewBase(fetcher, logging.For(log, "knowledge"))
	}
	registerTools(tools, gw, kb)

	vendor := assistant.New(cfg.LLMAPIKey, cfg.LLMAssistantID, logging.For(log, "assistant"))
	mgr := ai.NewManager(vendor, tools, history, logging.For(log, "ai"), ai.Options{})

	rtr := router.New(bot, authSvc, appealsSvc, mgr, cfg.WebFormURL,
		logging.For(log, "router"), router.Options{})

	respMon := monitor.New(appealsSvc, bot, logging.For(log, "monitor"), monitor.Options{})

	ledger, err := promo.OpenLedger(filepath.Join(cfg.StateDir, "promo_sent.log"))
	if err != nil {
		return err
	}
	defer ledger.Close()
	broadcaster := promo.New(gw, authSvc, ledger, promo.NewMediaCache(nil), bot,
		logging.For(log, "promo"), promo.Options{})

	tracker := tasks.NewTracker(ctx, logging.For(log, "tasks"))
	var notify func(string)
	if cfg.AdminUserID != 0 {
		notify = func(reason string) {
			nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = bot.SendText(nctx, cfg.AdminUserID, "CRITICAL: "+reason+". Перезапуск.")
		}
	}
	watchdog := health.NewWatchdog(hb, tracker, logging.For(log, "watchdog"),
		health.WatchdogOptions{Notify: notify})
	healthMon := health.NewMonitor(bot, gw,
		[]sheets.Endpoint{sheets.EndpointAuth, sheets.EndpointAppeals, sheets.EndpointPromotions},
		watchdog.Escalate, logging.For(log, "health"), health.Options{})

	ops := metrics.NewServer(cfg.OpsListenAddr, healthMon.Healthy, logging.For(log, "ops"))

	tracker.Go("poll", func(ctx context.Context) error { return bot.Poll(ctx, rtr) })
	tracker.Go("response-monitor", respMon.Run)
	tracker.Go("promotions", broadcaster.Run)
	tracker.Go("health", healthMon.Run)
	tracker.Go("watchdog", watchdog.Run)
	tracker.Go("ops", func(ctx context.Context) error { return serveOps(ctx, ops) })

	log.Info("partner desk started",
		slog.String("ops_addr", cfg.OpsListenAddr),
		slog.String("state_dir", cfg.StateDir))
	if cfg.AdminUserID != 0 {
		if err := bot.SendText(ctx, cfg.AdminUserID, "Бот запущен."); err != nil {
			log.Warn("admin notification failed", slog.String("error", err.Error()))
		}
	}

	<-ctx.Done()
	log.Info("shutdown signal received")
	if !tracker.Shutdown(shutdownGrace) {
		return errors.New("tasks did not stop within grace period")
	}
	return nil
}

func serveOps(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
