package tasks

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() *Tracker {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewTracker(context.Background(), log)
}

func find(t *testing.T, recs []Record, name string) Record {
	t.Helper()
	for _, rec := range recs {
		if rec.Name == name {
			return rec
		}
	}
	t.Fatalf("no record for task %q", name)
	return Record{}
}

func TestTaskLifecycle(t *testing.T) {
	tr := newTestTracker()
	started := make(chan struct{})
	release := make(chan struct{})

	tr.Go("loop", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})

	<-started
	assert.Equal(t, StateRunning, find(t, tr.Snapshot(), "loop").State)

	close(release)
	require.Eventually(t, func() bool {
		return find(t, tr.Snapshot(), "loop").State == StateDone
	}, time.Second, 5*time.Millisecond)
}

func TestTaskErrorRecordedAsFailed(t *testing.T) {
	tr := newTestTracker()
	tr.Go("broken", func(ctx context.Context) error {
		return errors.New("boom")
	})

	require.Eventually(t, func() bool {
		return find(t, tr.Snapshot(), "broken").State == StateFailed
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, find(t, tr.Snapshot(), "broken").Err, "boom")
}

func TestTaskPanicCaptured(t *testing.T) {
	tr := newTestTracker()
	tr.Go("panicky", func(ctx context.Context) error {
		panic("oh no")
	})

	require.Eventually(t, func() bool {
		return find(t, tr.Snapshot(), "panicky").State == StateFailed
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, find(t, tr.Snapshot(), "panicky").Err, "oh no")
}

func TestCancellationCountsAsDone(t *testing.T) {
	tr := newTestTracker()
	tr.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.True(t, tr.Shutdown(time.Second))
	assert.Equal(t, StateDone, find(t, tr.Snapshot(), "loop").State)
}

func TestShutdownTimesOutOnStuckTask(t *testing.T) {
	tr := newTestTracker()
	release := make(chan struct{})
	defer close(release)
	tr.Go("stuck", func(ctx context.Context) error {
		<-release // ignores cancellation
		return nil
	})

	assert.False(t, tr.Shutdown(30*time.Millisecond))
}

func TestLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.pid")

	l, err := AcquireLock(path)
	require.NoError(t, err)

	_, err = AcquireLock(path)
	require.Error(t, err)

	require.NoError(t, l.Release())
	l2, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestLockFileHoldsPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.pid")
	l, err := AcquireLock(path)
	require.NoError(t, err)
	defer l.Release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))
}
