// Package logging configures the process-wide structured logger and provides
// the PII maskers every component above the sheets gateway must use when a
// partner's phone, name or user id ends up in a log record.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup builds the root logger. level accepts "debug", "info", "warn",
// "error"; anything else falls back to info.
func Setup(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lv})
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// For returns a child logger tagged with the component name.
func For(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// MaskPhone keeps the first digit and the last two, starring the middle:
// "89101234567" -> "8********67". Short values are fully starred.
func MaskPhone(phone string) string {
	if len(phone) <= 3 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:1] + strings.Repeat("*", len(phone)-3) + phone[len(phone)-2:]
}

// MaskUserID keeps the first three and last three characters:
// "111222333" -> "111***333".
func MaskUserID(id string) string {
	if len(id) <= 6 {
		return strings.Repeat("*", len(id))
	}
	return id[:3] + "***" + id[len(id)-3:]
}

// MaskName keeps the first and last letter of each word:
// "Ivanov Ivan" -> "I****v I**n".
func MaskName(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		r := []rune(w)
		if len(r) <= 2 {
			words[i] = string(r)
			continue
		}
		words[i] = string(r[0]) + strings.Repeat("*", len(r)-2) + string(r[len(r)-1])
	}
	return strings.Join(words, " ")
}
