package promo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/partnerdesk/backend/internal/faults"
)

const (
	mediaCacheSize  = 32
	mediaCacheTTL   = time.Hour
	mediaFetchLimit = 15 * time.Second
	maxMediaBytes   = 10 << 20
)

// MediaCache resolves content URLs to bytes through a bounded LRU with TTL.
// All fetches share one HTTP client; per-delivery clients would leak sockets
// across a large audience.
type MediaCache struct {
	client *http.Client
	lru    *expirable.LRU[string, []byte]

	// fetchMu collapses concurrent misses for the same sweep into one fetch.
	fetchMu sync.Mutex
}

// NewMediaCache builds the cache. client may be nil.
func NewMediaCache(client *http.Client) *MediaCache {
	if client == nil {
		client = &http.Client{Timeout: mediaFetchLimit}
	}
	return &MediaCache{
		client: client,
		lru:    expirable.NewLRU[string, []byte](mediaCacheSize, nil, mediaCacheTTL),
	}
}

// Get returns the media bytes for the URL, fetching on miss.
func (c *MediaCache) Get(ctx context.Context, url string) ([]byte, error) {
	if data, ok := c.lru.Get(url); ok {
		return data, nil
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	if data, ok := c.lru.Get(url); ok {
		return data, nil
	}

	fctx, cancel := context.WithTimeout(ctx, mediaFetchLimit)
	defer cancel()
	req, err := http.NewRequestWithContext(fctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, faults.Wrap(faults.KindValidation, err, "bad media url")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.KindTransient, err, "media fetch failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, faults.Transient("media fetch returned %d", resp.StatusCode)
	default:
		return nil, faults.Permanent("media fetch returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, faults.Wrap(faults.KindTransient, err, "media read interrupted")
	}
	if len(data) > maxMediaBytes {
		return nil, faults.Permanent("media at %s exceeds %s", url, byteSize(maxMediaBytes))
	}
	c.lru.Add(url, data)
	return data, nil
}

func byteSize(n int) string {
	return fmt.Sprintf("%d MiB", n>>20)
}
