package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		MessengerToken:  "123456:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw",
		AuthSheet:       SheetRef{"1aBcDeFgHiJkLmNo", "partners"},
		AppealsSheet:    SheetRef{"1aBcDeFgHiJkLmNp", "appeals"},
		PromotionsSheet: SheetRef{"1aBcDeFgHiJkLmNq", "promos"},
		CredentialsJSON: []byte(`{"type":"service_account"}`),
		LLMAPIKey:       "sk-test",
		LLMAssistantID:  "asst_123",
		WebFormURL:      "https://forms.example.com/partner/",
	}
}

func TestValidConfigPasses(t *testing.T) {
	assert.Empty(t, validConfig().Validate())
}

func TestMessengerTokenFormat(t *testing.T) {
	c := validConfig()
	c.MessengerToken = "not-a-token"
	errs := c.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "MESSENGER_TOKEN")
}

func TestShortSheetIDRejected(t *testing.T) {
	c := validConfig()
	c.AppealsSheet.SpreadsheetID = "short"
	errs := c.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "APPEALS_SHEET_ID")
}

func TestWebFormURLRules(t *testing.T) {
	for _, bad := range []string{
		"http://forms.example.com/partner/", // not https
		"https://forms.example.com/partner", // no trailing slash
	} {
		c := validConfig()
		c.WebFormURL = bad
		errs := c.Validate()
		require.Len(t, errs, 1, "url %q", bad)
		assert.Contains(t, errs[0].Error(), "WEB_FORM_URL")
	}
}

func TestCredentialsExclusive(t *testing.T) {
	c := validConfig()
	c.CredentialsFile = "/tmp/sa.json"
	errs := c.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "mutually exclusive")
}

func TestInvalidCredentialsJSON(t *testing.T) {
	c := validConfig()
	c.CredentialsJSON = []byte("{nope")
	errs := c.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "SA_CREDENTIALS_JSON")
}

func TestAllFailuresAreListed(t *testing.T) {
	c := &Config{}
	errs := c.Validate()
	// Every required variable produces its own diagnostic.
	assert.GreaterOrEqual(t, len(errs), 8)
	joined := make([]string, len(errs))
	for i, e := range errs {
		joined[i] = e.Error()
	}
	all := strings.Join(joined, "\n")
	for _, want := range []string{
		"MESSENGER_TOKEN", "AUTH_SHEET_ID", "APPEALS_SHEET_ID",
		"PROMOTIONS_SHEET_ID", "SA_CREDENTIALS", "LLM_API_KEY",
		"LLM_ASSISTANT_ID", "WEB_FORM_URL",
	} {
		assert.Contains(t, all, want)
	}
}
