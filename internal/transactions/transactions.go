// Package transactions is Kromer's append-only ledger of committed
// transfers and name purchases, with exactly-once semantics via a unique
// request id.
package transactions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrNotFound = errors.New("transactions: transaction not found")
	ErrConflict = errors.New("transactions: request_id already used")
)

// NameSentinel is the synthetic recipient recorded for a name purchase
// ledger row (§4.7 step 4: "to=\"name\"").
const NameSentinel = "name"

// Transaction is one committed ledger entry.
type Transaction struct {
	ID            int64
	From          string // empty for system-originated entries
	To            string // empty, an address, or NameSentinel
	Value         int64
	Time          time.Time
	Name          string // name involved, if any
	SentMetaname  string
	SentName      string
	Metadata      string
	RequestID     string // unique; empty entries (e.g. admin adjustments) are exempt
}

// Store persists the transaction ledger.
type Store interface {
	// Insert appends a committed transfer. Returns ErrConflict if
	// RequestID is non-empty and already used by a prior entry.
	Insert(ctx context.Context, t *Transaction) (*Transaction, error)
	Get(ctx context.Context, id int64) (*Transaction, error)
	List(ctx context.Context, limit, offset int) ([]*Transaction, int, error)
	ListLatest(ctx context.Context, limit int) ([]*Transaction, error)
	ListByAddress(ctx context.Context, address string, limit, offset int) ([]*Transaction, int, error)
}

// -----------------------------------------------------------------------------
// In-memory store
// -----------------------------------------------------------------------------

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu           sync.Mutex
	entries      []*Transaction
	byID         map[int64]*Transaction
	requestIDs   map[string]bool
	nextID       int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[int64]*Transaction),
		requestIDs: make(map[string]bool),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Insert(ctx context.Context, t *Transaction) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.RequestID != "" && m.requestIDs[t.RequestID] {
		return nil, ErrConflict
	}

	cp := *t
	cp.ID = atomic.AddInt64(&m.nextID, 1)
	cp.Time = time.Now()

	m.entries = append(m.entries, &cp)
	m.byID[cp.ID] = &cp
	if cp.RequestID != "" {
		m.requestIDs[cp.RequestID] = true
	}

	out := cp
	return &out, nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) List(ctx context.Context, limit, offset int) ([]*Transaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := len(m.entries)
	sorted := append([]*Transaction(nil), m.entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if offset >= total {
		return []*Transaction{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return copyAll(sorted[offset:end]), total, nil
}

func (m *MemoryStore) ListLatest(ctx context.Context, limit int) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := append([]*Transaction(nil), m.entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })

	if limit > len(sorted) {
		limit = len(sorted)
	}
	return copyAll(sorted[:limit]), nil
}

func (m *MemoryStore) ListByAddress(ctx context.Context, address string, limit, offset int) ([]*Transaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matching []*Transaction
	for _, t := range m.entries {
		if t.From == address || t.To == address {
			matching = append(matching, t)
		}
	}
	sort.Slice(matching, func(i, j int) bool { return matching[i].ID < matching[j].ID })

	total := len(matching)
	if offset >= total {
		return []*Transaction{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return copyAll(matching[offset:end]), total, nil
}

func copyAll(in []*Transaction) []*Transaction {
	out := make([]*Transaction, len(in))
	for i, t := range in {
		cp := *t
		out[i] = &cp
	}
	return out
}
