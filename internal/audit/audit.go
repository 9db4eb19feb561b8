// Package audit keeps the append-only ledger of permission checks and
// administrative actions. Entry ids and timestamps are strictly
// monotonic so the ledger can be replayed as a total order.
package audit

import (
	"sync"
	"time"

	"github.com/mindmux/mindmux/internal/log"
)

// Entry is one ledger record.
type Entry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"userId"`
	Action     string    `json:"action"`
	Resource   string    `json:"resource,omitempty"`
	ResourceID string    `json:"resourceId,omitempty"`
	Granted    bool      `json:"granted"`
	Reason     string    `json:"reason,omitempty"`
}

// Ledger is the in-memory append-only audit log.
type Ledger struct {
	mu      sync.Mutex
	nextID  int64
	lastTS  time.Time
	entries []Entry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{nextID: 1}
}

// Append records an entry, assigning its id and timestamp. If the clock
// has not advanced since the previous entry, the timestamp is nudged
// forward one nanosecond to keep the order strict.
func (l *Ledger) Append(entry Entry) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if !now.After(l.lastTS) {
		now = l.lastTS.Add(time.Nanosecond)
	}
	l.lastTS = now

	entry.ID = l.nextID
	entry.Timestamp = now
	l.nextID++
	l.entries = append(l.entries, entry)

	log.Debug(log.CatAudit, "audit entry appended",
		"id", entry.ID, "action", entry.Action, "user", entry.UserID, "granted", entry.Granted)
	return entry
}

// Entries returns a snapshot of the ledger, oldest first.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear empties the ledger. Id numbering continues; it never restarts.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	log.Info(log.CatAudit, "audit ledger cleared")
}
