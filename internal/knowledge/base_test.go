package knowledge

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partnerdesk/backend/internal/faults"
)

type fakeFetcher struct {
	docs    []Doc
	err     error
	fetches int
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]Doc, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func testDocs() []Doc {
	return []Doc{
		{ID: "1", Title: "Начисление баллов", Body: "Баллы начисляются за каждую установку в течение 5 рабочих дней."},
		{ID: "2", Title: "Вывод средств", Body: "Вывод средств доступен при балансе от 1000 баллов через личный кабинет."},
		{ID: "3", Title: "Регистрация", Body: "Для регистрации партнёра нужен код и номер телефона."},
	}
}

func newTestBase(fetch Fetcher) *Base {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewBase(fetch, log)
}

func TestSearchRanksTitleHitsFirst(t *testing.T) {
	b := newTestBase(&fakeFetcher{docs: testDocs()})

	got, err := b.Search(context.Background(), "вывод средств", 3)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "Вывод средств", got[0].Title)
}

func TestSearchLimitsResults(t *testing.T) {
	b := newTestBase(&fakeFetcher{docs: testDocs()})

	got, err := b.Search(context.Background(), "баллов", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSearchNoMatches(t *testing.T) {
	b := newTestBase(&fakeFetcher{docs: testDocs()})

	got, err := b.Search(context.Background(), "ипотека", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDocumentsCachedForAnHour(t *testing.T) {
	fetch := &fakeFetcher{docs: testDocs()}
	b := newTestBase(fetch)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now := base
	b.now = func() time.Time { return now }

	_, err := b.Search(context.Background(), "баллы", 3)
	require.NoError(t, err)
	now = base.Add(30 * time.Minute)
	_, err = b.Search(context.Background(), "баллы", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, fetch.fetches)

	now = base.Add(61 * time.Minute)
	_, err = b.Search(context.Background(), "баллы", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, fetch.fetches)
}

func TestStaleCacheServedWhenRefreshFails(t *testing.T) {
	fetch := &fakeFetcher{docs: testDocs()}
	b := newTestBase(fetch)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now := base
	b.now = func() time.Time { return now }

	_, err := b.Search(context.Background(), "баллы", 3)
	require.NoError(t, err)

	fetch.err = faults.Transient("drive down")
	now = base.Add(2 * time.Hour)
	got, err := b.Search(context.Background(), "баллы", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestFetchErrorWithEmptyCacheSurfaces(t *testing.T) {
	b := newTestBase(&fakeFetcher{err: faults.Transient("drive down")})

	_, err := b.Search(context.Background(), "баллы", 3)
	require.Error(t, err)
	assert.True(t, faults.IsTransient(err))
}

func TestExcerptWindowsAroundMatch(t *testing.T) {
	long := strings.Repeat("а ", 300) + "ключевое слово" + strings.Repeat(" б", 300)
	b := newTestBase(&fakeFetcher{docs: []Doc{{ID: "1", Title: "Док", Body: long}}})

	got, err := b.Search(context.Background(), "ключевое", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Excerpt, "ключевое слово")
	assert.Less(t, len(got[0].Excerpt), len(long))
	assert.True(t, strings.HasPrefix(got[0].Excerpt, "…"))
	assert.True(t, strings.HasSuffix(got[0].Excerpt, "…"))
}

func TestToolParsesQueryAndReturnsSnippets(t *testing.T) {
	b := newTestBase(&fakeFetcher{docs: testDocs()})
	tool := b.Tool()

	res, err := tool(context.Background(), json.RawMessage(`{"query":"регистрация"}`))
	require.NoError(t, err)
	snippets, ok := res.([]Snippet)
	require.True(t, ok)
	require.NotEmpty(t, snippets)
	assert.Equal(t, "Регистрация", snippets[0].Title)
}

func TestToolRejectsEmptyQuery(t *testing.T) {
	b := newTestBase(&fakeFetcher{docs: testDocs()})
	tool := b.Tool()

	_, err := tool(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, faults.KindValidation, faults.KindOf(err))
}
