package promo

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/partnerdesk/backend/internal/faults"
)

// Ledger is the append-only SENT file: one `promotion_id\tuser_id\tts` line
// per delivery. It is read fully on open so dedup survives restarts, and
// fsynced on every append so a crash cannot lose an acknowledged delivery.
type Ledger struct {
	mu   sync.Mutex
	f    *os.File
	seen map[string]struct{}
}

// OpenLedger opens (or creates) the ledger and loads the sent set.
func OpenLedger(path string) (*Ledger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, faults.Wrap(faults.KindFatal, err, "sent ledger open failed")
	}
	l := &Ledger{f: f, seen: make(map[string]struct{})}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		uid, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		l.seen[key(fields[0], uid)] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		f.Close()
		return nil, faults.Wrap(faults.KindFatal, err, "sent ledger read failed")
	}
	if _, err := f.Seek(0, 2); err != nil {
		f.Close()
		return nil, faults.Wrap(faults.KindFatal, err, "sent ledger seek failed")
	}
	return l, nil
}

// Sent reports whether the promotion was already delivered to the user.
func (l *Ledger) Sent(promoID string, userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[key(promoID, userID)]
	return ok
}

// MarkSent records a successful delivery. The in-memory set is updated only
// after the line is durably on disk.
func (l *Ledger) MarkSent(promoID string, userID int64, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(promoID, userID)
	if _, ok := l.seen[k]; ok {
		return nil
	}
	line := fmt.Sprintf("%s\t%d\t%s\n", promoID, userID, at.UTC().Format(time.RFC3339))
	if _, err := l.f.WriteString(line); err != nil {
		return faults.Wrap(faults.KindTransient, err, "sent ledger append failed")
	}
	if err := l.f.Sync(); err != nil {
		return faults.Wrap(faults.KindTransient, err, "sent ledger sync failed")
	}
	l.seen[k] = struct{}{}
	return nil
}

// Close syncs and closes the file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.f.Sync(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

func key(promoID string, userID int64) string {
	return promoID + "\t" + strconv.FormatInt(userID, 10)
}
