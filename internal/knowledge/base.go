// Package knowledge serves the assistant's search_knowledge_base tool from a
// Google Drive folder of reference documents. Documents are fetched in bulk
// and cached in memory; search is a scored substring scan.
package knowledge

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Doc is one knowledge-base document.
type Doc struct {
	ID    string
	Title string
	Body  string
}

// Snippet is one search hit returned to the assistant.
type Snippet struct {
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
}

// Fetcher loads the full document set. The Drive adapter implements it.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Doc, error)
}

const (
	cacheTTL       = time.Hour
	defaultLimit   = 3
	excerptRadius  = 120
	titleHitWeight = 3
)

// Base is the cached, searchable document set.
type Base struct {
	fetch Fetcher
	log   *slog.Logger
	now   func() time.Time

	mu      sync.Mutex
	docs    []Doc
	fetched time.Time
}

// NewBase builds a knowledge base over the fetcher.
func NewBase(fetch Fetcher, log *slog.Logger) *Base {
	return &Base{fetch: fetch, log: log, now: time.Now}
}

// Search returns the best-matching snippets for the query, most relevant
// first. A stale cache that cannot be refreshed is served anyway: old
// answers beat no answers.
func (b *Base) Search(ctx context.Context, query string, limit int) ([]Snippet, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	docs, err := b.documents(ctx)
	if err != nil {
		return nil, err
	}

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	type hit struct {
		doc   Doc
		score int
		pos   int
	}
	var hits []hit
	for _, doc := range docs {
		title := strings.ToLower(doc.Title)
		body := strings.ToLower(doc.Body)
		score, first := 0, -1
		for _, term := range terms {
			score += titleHitWeight * strings.Count(title, term)
			score += strings.Count(body, term)
			if idx := strings.Index(body, term); idx >= 0 && (first < 0 || idx < first) {
				first = idx
			}
		}
		if score > 0 {
			hits = append(hits, hit{doc: doc, score: score, pos: first})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Snippet, 0, len(hits))
	for _, h := range hits {
		out = append(out, Snippet{Title: h.doc.Title, Excerpt: excerpt(h.doc.Body, h.pos)})
	}
	return out, nil
}

func (b *Base) documents(ctx context.Context) ([]Doc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.docs != nil && b.now().Sub(b.fetched) < cacheTTL {
		return b.docs, nil
	}
	docs, err := b.fetch.Fetch(ctx)
	if err != nil {
		if b.docs != nil {
			b.log.Warn("knowledge refresh failed, serving stale cache",
				slog.String("error", err.Error()),
				slog.Time("fetched_at", b.fetched))
			return b.docs, nil
		}
		return nil, err
	}
	b.docs = docs
	b.fetched = b.now()
	b.log.Info("knowledge base refreshed", slog.Int("documents", len(docs)))
	return b.docs, nil
}

// excerpt cuts a window around the first match, snapped to rune boundaries.
func excerpt(body string, pos int) string {
	if pos < 0 {
		pos = 0
	}
	start := pos - excerptRadius
	if start < 0 {
		start = 0
	}
	end := pos + excerptRadius
	if end > len(body) {
		end = len(body)
	}
	for start > 0 && !utf8Start(body[start]) {
		start--
	}
	for end < len(body) && !utf8Start(body[end]) {
		end++
	}
	s := strings.TrimSpace(body[start:end])
	if start > 0 {
		s = "…" + s
	}
	if end < len(body) {
		s += "…"
	}
	return s
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
