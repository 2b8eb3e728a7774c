// Package config loads and validates the process configuration from the
// environment. Every required variable is checked at startup; validation
// failures are collected and reported as one fatal diagnostic listing.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var messengerTokenRe = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// SheetRef locates one spreadsheet contour.
type SheetRef struct {
	SpreadsheetID string
	SheetName     string
}

// Config is the validated process configuration.
type Config struct {
	MessengerToken string

	AuthSheet       SheetRef
	AppealsSheet    SheetRef
	PromotionsSheet SheetRef

	// Exactly one of CredentialsFile / CredentialsJSON is set.
	CredentialsFile string
	CredentialsJSON []byte

	LLMAPIKey      string
	LLMAssistantID string

	KnowledgeFolderID string // optional RAG source
	WebFormURL        string
	AdminUserID       int64 // 0 when unset

	OpsListenAddr   string
	StateDir        string
	ChatHistoryFile string
	LogLevel        string
	SheetsPoolSize  int
}

// Load reads the environment (after a best-effort .env load) and validates
// it. On failure the returned error lists every diagnostic.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional; real env wins

	cfg := &Config{
		MessengerToken:    os.Getenv("MESSENGER_TOKEN"),
		AuthSheet:         SheetRef{os.Getenv("AUTH_SHEET_ID"), os.Getenv("AUTH_SHEET_NAME")},
		AppealsSheet:      SheetRef{os.Getenv("APPEALS_SHEET_ID"), os.Getenv("APPEALS_SHEET_NAME")},
		PromotionsSheet:   SheetRef{os.Getenv("PROMOTIONS_SHEET_ID"), os.Getenv("PROMOTIONS_SHEET_NAME")},
		CredentialsFile:   os.Getenv("SA_CREDENTIALS_FILE"),
		LLMAPIKey:         os.Getenv("LLM_API_KEY"),
		LLMAssistantID:    os.Getenv("LLM_ASSISTANT_ID"),
		KnowledgeFolderID: os.Getenv("KNOWLEDGE_DRIVE_FOLDER_ID"),
		WebFormURL:        os.Getenv("WEB_FORM_URL"),
		OpsListenAddr:     envDefault("OPS_LISTEN_ADDR", "127.0.0.1:9180"),
		StateDir:          envDefault("STATE_DIR", "./state"),
		ChatHistoryFile:   os.Getenv("CHAT_HISTORY_FILE"),
		LogLevel:          envDefault("LOG_LEVEL", "info"),
		SheetsPoolSize:    8,
	}
	if raw := os.Getenv("SA_CREDENTIALS_JSON"); raw != "" {
		cfg.CredentialsJSON = []byte(raw)
	}
	if raw := os.Getenv("SHEETS_POOL_SIZE"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.SheetsPoolSize = n
		}
	}
	if raw := os.Getenv("ADMIN_USER_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("configuration invalid:\n  - ADMIN_USER_ID must be numeric, got %q", raw)
		}
		cfg.AdminUserID = id
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		lines := make([]string, len(errs))
		for i, e := range errs {
			lines[i] = "  - " + e.Error()
		}
		return nil, fmt.Errorf("configuration invalid:\n%s", strings.Join(lines, "\n"))
	}
	return cfg, nil
}

// Validate returns one error per violated rule.
func (c *Config) Validate() []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.MessengerToken == "" {
		add("MESSENGER_TOKEN is required")
	} else if !messengerTokenRe.MatchString(c.MessengerToken) {
		add(`MESSENGER_TOKEN must match \d+:[A-Za-z0-9_-]+`)
	}

	checkSheet := func(name string, ref SheetRef) {
		if ref.SpreadsheetID == "" {
			add("%s_SHEET_ID is required", name)
		} else if len(ref.SpreadsheetID) < 10 {
			add("%s_SHEET_ID looks malformed (length < 10)", name)
		}
		if ref.SheetName == "" {
			add("%s_SHEET_NAME is required", name)
		}
	}
	checkSheet("AUTH", c.AuthSheet)
	checkSheet("APPEALS", c.AppealsSheet)
	checkSheet("PROMOTIONS", c.PromotionsSheet)

	switch {
	case c.CredentialsFile == "" && len(c.CredentialsJSON) == 0:
		add("one of SA_CREDENTIALS_FILE or SA_CREDENTIALS_JSON is required")
	case c.CredentialsFile != "" && len(c.CredentialsJSON) > 0:
		add("SA_CREDENTIALS_FILE and SA_CREDENTIALS_JSON are mutually exclusive")
	case c.CredentialsFile != "":
		raw, err := os.ReadFile(c.CredentialsFile)
		if err != nil {
			add("SA_CREDENTIALS_FILE %q is not readable: %v", c.CredentialsFile, err)
		} else if !json.Valid(raw) {
			add("SA_CREDENTIALS_FILE %q does not contain valid JSON", c.CredentialsFile)
		}
	default:
		if !json.Valid(c.CredentialsJSON) {
			add("SA_CREDENTIALS_JSON is not valid JSON")
		}
	}

	if c.LLMAPIKey == "" {
		add("LLM_API_KEY is required")
	}
	if c.LLMAssistantID == "" {
		add("LLM_ASSISTANT_ID is required")
	}

	if c.WebFormURL == "" {
		add("WEB_FORM_URL is required")
	} else if u, err := url.Parse(c.WebFormURL); err != nil {
		add("WEB_FORM_URL does not parse: %v", err)
	} else if u.Scheme != "https" {
		add("WEB_FORM_URL must be an HTTPS URL")
	} else if !strings.HasSuffix(c.WebFormURL, "/") {
		add("WEB_FORM_URL must end in /")
	}

	return errs
}

// Credentials returns the service-account JSON regardless of the source.
func (c *Config) Credentials() ([]byte, error) {
	if len(c.CredentialsJSON) > 0 {
		return c.CredentialsJSON, nil
	}
	return os.ReadFile(c.CredentialsFile)
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
