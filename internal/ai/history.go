package ai

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// TurnRecord is one chat-history line.
type TurnRecord struct {
	UserID int64     `json:"user_id"`
	TurnID string    `json:"turn_id"`
	Role   string    `json:"role"` // "user" or "assistant"
	Text   string    `json:"text"`
	TS     time.Time `json:"ts"`
}

// History appends turn records to a JSON Lines file. Best-effort: a write
// failure is reported to the caller for logging and otherwise ignored.
type History struct {
	mu sync.Mutex
	f  *os.File
}

// OpenHistory opens (or creates) the append-only history file.
func OpenHistory(path string) (*History, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &History{f: f}, nil
}

// Append writes one record as a JSON line.
func (h *History) Append(rec TurnRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.f.Write(append(data, '\n'))
	return err
}

// Close flushes and closes the file.
func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.f.Close()
}
