package promo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerMarksAndReports(t *testing.T) {
	l, err := OpenLedger(filepath.Join(t.TempDir(), "promo_sent.log"))
	require.NoError(t, err)
	defer l.Close()

	assert.False(t, l.Sent("abc123", 100))
	require.NoError(t, l.MarkSent("abc123", 100, time.Now()))
	assert.True(t, l.Sent("abc123", 100))
	assert.False(t, l.Sent("abc123", 200))
	assert.False(t, l.Sent("other", 100))
}

func TestLedgerSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promo_sent.log")

	l, err := OpenLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.MarkSent("abc123", 100, time.Now()))
	require.NoError(t, l.MarkSent("abc123", 200, time.Now()))
	require.NoError(t, l.Close())

	l2, err := OpenLedger(path)
	require.NoError(t, err)
	defer l2.Close()
	assert.True(t, l2.Sent("abc123", 100))
	assert.True(t, l2.Sent("abc123", 200))
	assert.False(t, l2.Sent("abc123", 300))
}

func TestLedgerWritesOneLinePerPair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promo_sent.log")
	l, err := OpenLedger(path)
	require.NoError(t, err)

	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	require.NoError(t, l.MarkSent("abc123", 100, at))
	require.NoError(t, l.MarkSent("abc123", 100, at.Add(time.Hour)))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Equal(t, "abc123\t100\t2026-08-24T12:00:00Z", lines[0])
}

func TestLedgerSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promo_sent.log")
	require.NoError(t, os.WriteFile(path, []byte("abc123\t100\t2026-08-24T12:00:00Z\ngarbage\n\nxyz\tnotanumber\tts\n"), 0o600))

	l, err := OpenLedger(path)
	require.NoError(t, err)
	defer l.Close()
	assert.True(t, l.Sent("abc123", 100))
}
