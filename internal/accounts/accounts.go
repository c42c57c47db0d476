// Package accounts persists Kromer wallets: balance, lifetime totals, and
// the optional password hash that authenticates a holder who connects
// without a bare private key.
package accounts

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Errors - typed errors for programmatic handling
// -----------------------------------------------------------------------------

var (
	ErrNotFound            = errors.New("accounts: address not found")
	ErrAlreadyExists       = errors.New("accounts: address already exists")
	ErrInsufficientFunds   = errors.New("accounts: insufficient funds")
	ErrLocked              = errors.New("accounts: address is locked")
	ErrInvalidAmount       = errors.New("accounts: amount must be positive")
	ErrInsufficientBalance = errors.New("accounts: insufficient balance")
)

// Address is a Kromer wallet.
type Address struct {
	Address   string
	Balance   int64
	TotalIn   int64
	TotalOut  int64
	FirstSeen time.Time
	PwHash    string // empty when the wallet has no stored password
	Locked    bool
}

// Store persists addresses. Implementations must enforce the invariant
// balance + total_out == total_in and never let balance go negative.
type Store interface {
	Get(ctx context.Context, address string) (*Address, error)
	// GetOrCreate returns the address, creating a zero-balance row with
	// FirstSeen set to now if it does not yet exist.
	GetOrCreate(ctx context.Context, address string) (*Address, error)
	List(ctx context.Context, limit, offset int) ([]*Address, int, error)
	SetPasswordHash(ctx context.Context, address, hash string) error
	SetLocked(ctx context.Context, address string, locked bool) error

	// Transfer atomically moves value from `from` to `to`, incrementing
	// total_out on the sender and total_in on the recipient. Returns
	// ErrNotFound if either address is absent, ErrLocked if the sender is
	// locked, ErrInsufficientFunds if the sender's balance is too low.
	Transfer(ctx context.Context, from, to string, value int64) error

	// Debit atomically subtracts value from address's balance and adds it
	// to total_out, without crediting a counterparty balance row — used
	// for name purchases, whose ledger counterparty is the name itself.
	Debit(ctx context.Context, address string, value int64) error

	// Credit atomically adds value to address's balance and total_in,
	// without debiting a counterparty — used by admin-key-gated balance
	// grants (there being no mining or external deposit source in Kromer).
	Credit(ctx context.Context, address string, value int64) error
}

// -----------------------------------------------------------------------------
// In-memory store
// -----------------------------------------------------------------------------

// MemoryStore is a thread-safe in-memory Store, used in tests and for
// running without a configured database.
type MemoryStore struct {
	mu        sync.Mutex
	addresses map[string]*Address
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{addresses: make(map[string]*Address)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Get(ctx context.Context, address string) (*Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr, ok := m.addresses[normalize(address)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *addr
	return &cp, nil
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, address string) (*Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalize(address)
	addr, ok := m.addresses[key]
	if !ok {
		addr = &Address{Address: key, FirstSeen: time.Now()}
		m.addresses[key] = addr
	}
	cp := *addr
	return &cp, nil
}

func (m *MemoryStore) List(ctx context.Context, limit, offset int) ([]*Address, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*Address, 0, len(m.addresses))
	for _, a := range m.addresses {
		cp := *a
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Address < all[j].Address })

	total := len(all)
	if offset >= total {
		return []*Address{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MemoryStore) SetPasswordHash(ctx context.Context, address, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr, ok := m.addresses[normalize(address)]
	if !ok {
		return ErrNotFound
	}
	addr.PwHash = hash
	return nil
}

func (m *MemoryStore) SetLocked(ctx context.Context, address string, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr, ok := m.addresses[normalize(address)]
	if !ok {
		return ErrNotFound
	}
	addr.Locked = locked
	return nil
}

func (m *MemoryStore) Transfer(ctx context.Context, from, to string, value int64) error {
	if value <= 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sender, ok := m.addresses[normalize(from)]
	if !ok {
		return ErrNotFound
	}
	recipient, ok := m.addresses[normalize(to)]
	if !ok {
		return ErrNotFound
	}
	if sender.Locked {
		return ErrLocked
	}
	if sender.Balance < value {
		return ErrInsufficientFunds
	}

	sender.Balance -= value
	sender.TotalOut += value
	recipient.Balance += value
	recipient.TotalIn += value
	return nil
}

func (m *MemoryStore) Debit(ctx context.Context, address string, value int64) error {
	if value <= 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	addr, ok := m.addresses[normalize(address)]
	if !ok {
		return ErrNotFound
	}
	if addr.Locked {
		return ErrLocked
	}
	if addr.Balance < value {
		return ErrInsufficientBalance
	}
	addr.Balance -= value
	addr.TotalOut += value
	return nil
}

func (m *MemoryStore) Credit(ctx context.Context, address string, value int64) error {
	if value <= 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	addr, ok := m.addresses[normalize(address)]
	if !ok {
		return ErrNotFound
	}
	addr.Balance += value
	addr.TotalIn += value
	return nil
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
