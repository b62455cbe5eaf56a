package stats

import (
	"fmt"
	"sync"
	"time"
)

// Status values recorded in [Stat.Status].
const (
	StatusReady         = "ready"
	StatusSending       = "sending"
	StatusSuccess       = "success"
	StatusParseError    = "parse_error"
	StatusTokenExpired  = "token_expired"
	StatusRefreshing    = "refreshing"
	StatusRefreshed     = "refreshed"
	StatusRefreshFailed = "refresh_failed"
	StatusFailed        = "failed"
)

// subscriberBuffer is the channel capacity handed to each subscriber.
const subscriberBuffer = 100

// Stat is a point-in-time copy of one wallet's runtime statistics.
//
// Stat is optimised for JSON serialization (used by the dashboard API and
// SSE stream).
type Stat struct {
	// PublicID identifies the wallet.
	PublicID string `json:"wallet"`

	// RequestsSent counts action invocations, one per cycle.
	RequestsSent uint64 `json:"requests"`

	// Successes counts cycles that returned a well-formed payload.
	Successes uint64 `json:"successes"`

	// Failures counts cycles that ended in an error, unauthorized included.
	Failures uint64 `json:"failures"`

	// ServerTime is the sum of the elapsed-time values reported by the service.
	ServerTime float64 `json:"total_time"`

	// Status is the last state transition recorded for the wallet.
	Status string `json:"status"`

	// Reason explains a StatusFailed or StatusRefreshFailed transition.
	Reason string `json:"reason,omitempty"`

	// Refreshing is true while a credential refresh is in flight.
	Refreshing bool `json:"refreshing"`

	// UpdatedAt is when the entry last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Table is the fleet-wide statistics table.
//
// Entries are added once, before the loops start, and are never removed.
// Table is safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	order   []*Entry
	entries map[string]*Entry

	subMu       sync.RWMutex
	subscribers map[chan Stat]struct{}
}

// NewTable creates an empty [Table].
func NewTable() *Table {
	return &Table{
		entries:     make(map[string]*Entry),
		subscribers: make(map[chan Stat]struct{}),
	}
}

// Add registers a wallet and returns its entry in the ready state.
//
// Returns an error if the wallet is already present.
func (t *Table) Add(publicID string) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[publicID]; exists {
		return nil, fmt.Errorf("duplicate wallet %q", publicID)
	}

	e := &Entry{
		table: t,
		stat: Stat{
			PublicID:  publicID,
			Status:    StatusReady,
			UpdatedAt: time.Now(),
		},
	}
	t.entries[publicID] = e
	t.order = append(t.order, e)
	return e, nil
}

// Get returns the entry for a wallet.
func (t *Table) Get(publicID string) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[publicID]
	return e, ok
}

// Len returns the number of wallets in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Snapshot returns a copy of every entry in insertion order.
//
// Each element is internally consistent; different elements may have been
// captured a few microseconds apart.
func (t *Table) Snapshot() []Stat {
	t.mu.RLock()
	entries := make([]*Entry, len(t.order))
	copy(entries, t.order)
	t.mu.RUnlock()

	out := make([]Stat, len(entries))
	for i, e := range entries {
		out[i] = e.Snapshot()
	}
	return out
}

// Subscribe returns a channel that receives a copy of every entry change.
//
// The channel has a buffer of 100 messages; when it fills, updates are
// dropped for this subscriber. Callers must call [Table.Unsubscribe].
func (t *Table) Subscribe() <-chan Stat {
	ch := make(chan Stat, subscriberBuffer)

	t.subMu.Lock()
	t.subscribers[ch] = struct{}{}
	t.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Safe to call multiple times or with an unknown channel.
func (t *Table) Unsubscribe(ch <-chan Stat) {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	for subCh := range t.subscribers {
		if subCh == ch {
			delete(t.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

func (t *Table) notify(s Stat) {
	t.subMu.RLock()
	defer t.subMu.RUnlock()

	for ch := range t.subscribers {
		select {
		case ch <- s:
		default:
			// slow subscriber, drop
		}
	}
}

// Entry is one wallet's mutable statistics.
//
// Only the wallet's poll loop writes to an entry; any goroutine may read it.
type Entry struct {
	table *Table

	mu   sync.Mutex
	stat Stat
}

// Snapshot returns a copy of the entry.
func (e *Entry) Snapshot() Stat {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stat
}

// Update applies fn to the entry under its lock, stamps UpdatedAt and
// publishes the result to table subscribers. The resulting copy is returned.
func (e *Entry) Update(fn func(*Stat)) Stat {
	e.mu.Lock()
	fn(&e.stat)
	e.stat.UpdatedAt = time.Now()
	s := e.stat
	e.mu.Unlock()

	if e.table != nil {
		e.table.notify(s)
	}
	return s
}
