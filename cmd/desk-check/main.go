// Command desk-check is the pre-flight diagnostic: it validates the
// environment and, with -probe, performs one read-only call against each
// external backend. Exits non-zero when any check fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/partnerdesk/backend/internal/breaker"
	"github.com/partnerdesk/backend/internal/config"
	"github.com/partnerdesk/backend/internal/faults"
	"github.com/partnerdesk/backend/internal/health"
	"github.com/partnerdesk/backend/internal/logging"
	"github.com/partnerdesk/backend/internal/sheets"
	"github.com/partnerdesk/backend/internal/telegram"
)

type check struct {
	name string
	run  func(ctx context.Context) error
}

func main() {
	probe := flag.Bool("probe", false, "perform read-only calls against the external backends")
	flag.Parse()

	fmt.Println("Partner Desk Pre-Flight Diagnostic")
	fmt.Println("------------------------------------")

	cfg, err := config.Load()
	report("Configuration", err)
	if err != nil {
		fmt.Println("------------------------------------")
		fmt.Println("Status: NOT READY")
		os.Exit(1)
	}

	failed := false
	if *probe {
		log := logging.Setup("error")
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		for _, c := range probes(cfg, log) {
			err := c.run(ctx)
			report(c.name, err)
			if err != nil {
				failed = true
			}
		}
	}

	fmt.Println("------------------------------------")
	if failed {
		fmt.Println("Status: NOT READY")
		os.Exit(1)
	}
	fmt.Println("Status: ready")
}

func report(name string, err error) {
	if err != nil {
		fmt.Printf("%-28s [FAIL]\n", name)
		fmt.Printf("  >> %v\n", err)
		return
	}
	fmt.Printf("%-28s [OK]\n", name)
}

func probes(cfg *config.Config, log *slog.Logger) []check {
	api := sheets.NewGoogleAPI(cfg.CredentialsJSON, cfg.CredentialsFile)
	pool := sheets.NewPool(2)
	breakers := breaker.NewRegistry(breaker.Config{}, log)
	gw := sheets.NewGateway(api, pool, breakers, map[sheets.Endpoint]config.SheetRef{
		sheets.EndpointAuth:       cfg.AuthSheet,
		sheets.EndpointAppeals:    cfg.AppealsSheet,
		sheets.EndpointPromotions: cfg.PromotionsSheet,
	}, log, sheets.Options{MaxAttempts: 1})

	sheetProbe := func(ep sheets.Endpoint) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			_, err := gw.ReadCell(ctx, ep, 1, 1)
			if faults.IsNotFound(err) {
				return nil // empty sheet still proves access
			}
			return err
		}
	}

	return []check{
		{"Messenger token", func(ctx context.Context) error {
			bot, err := telegram.New(cfg.MessengerToken, health.NewHeartbeat(), log)
			if err != nil {
				return err
			}
			return bot.Ping(ctx)
		}},
		{"Auth sheet", sheetProbe(sheets.EndpointAuth)},
		{"Appeals sheet", sheetProbe(sheets.EndpointAppeals)},
		{"Promotions sheet", sheetProbe(sheets.EndpointPromotions)},
		{"LLM assistant", func(ctx context.Context) error {
			client := openai.NewClient(cfg.LLMAPIKey)
			_, err := client.RetrieveAssistant(ctx, cfg.LLMAssistantID)
			return err
		}},
	}
}
