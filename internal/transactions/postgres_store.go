package transactions

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kromer-go/kromer/internal/dbtx"
	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Insert(ctx context.Context, t *Transaction) (*Transaction, error) {
	row := dbtx.From(ctx, p.db).QueryRowContext(ctx, `
		INSERT INTO transactions
			(from_address, to_address, value, time, name, sent_metaname, sent_name, metadata, request_id)
		VALUES ($1, $2, $3, NOW(), $4, $5, $6, $7, NULLIF($8, ''))
		RETURNING id, from_address, to_address, value, time,
		          COALESCE(name, ''), COALESCE(sent_metaname, ''), COALESCE(sent_name, ''),
		          COALESCE(metadata, ''), COALESCE(request_id, '')
	`, nullIfEmpty(t.From), nullIfEmpty(t.To), t.Value, nullIfEmpty(t.Name),
		nullIfEmpty(t.SentMetaname), nullIfEmpty(t.SentName), nullIfEmpty(t.Metadata), t.RequestID)

	out, err := scanTx(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrConflict
		}
		return nil, err
	}
	return out, nil
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*Transaction, error) {
	row := dbtx.From(ctx, p.db).QueryRowContext(ctx, `
		SELECT id, from_address, to_address, value, time,
		       COALESCE(name, ''), COALESCE(sent_metaname, ''), COALESCE(sent_name, ''),
		       COALESCE(metadata, ''), COALESCE(request_id, '')
		FROM transactions WHERE id = $1
	`, id)
	return scanTx(row)
}

func (p *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Transaction, int, error) {
	exec := dbtx.From(ctx, p.db)

	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := exec.QueryContext(ctx, `
		SELECT id, from_address, to_address, value, time,
		       COALESCE(name, ''), COALESCE(sent_metaname, ''), COALESCE(sent_name, ''),
		       COALESCE(metadata, ''), COALESCE(request_id, '')
		FROM transactions ORDER BY id LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := scanTxRows(rows)
	return out, total, err
}

func (p *PostgresStore) ListLatest(ctx context.Context, limit int) ([]*Transaction, error) {
	rows, err := dbtx.From(ctx, p.db).QueryContext(ctx, `
		SELECT id, from_address, to_address, value, time,
		       COALESCE(name, ''), COALESCE(sent_metaname, ''), COALESCE(sent_name, ''),
		       COALESCE(metadata, ''), COALESCE(request_id, '')
		FROM transactions ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTxRows(rows)
}

func (p *PostgresStore) ListByAddress(ctx context.Context, address string, limit, offset int) ([]*Transaction, int, error) {
	exec := dbtx.From(ctx, p.db)

	var total int
	if err := exec.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions WHERE from_address = $1 OR to_address = $1
	`, address).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := exec.QueryContext(ctx, `
		SELECT id, from_address, to_address, value, time,
		       COALESCE(name, ''), COALESCE(sent_metaname, ''), COALESCE(sent_name, ''),
		       COALESCE(metadata, ''), COALESCE(request_id, '')
		FROM transactions WHERE from_address = $1 OR to_address = $1
		ORDER BY id LIMIT $2 OFFSET $3
	`, address, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := scanTxRows(rows)
	return out, total, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTx(s rowScanner) (*Transaction, error) {
	var t Transaction
	var from, to sql.NullString
	err := s.Scan(&t.ID, &from, &to, &t.Value, &t.Time,
		&t.Name, &t.SentMetaname, &t.SentName, &t.Metadata, &t.RequestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.From = from.String
	t.To = to.String
	return &t, nil
}

func scanTxRows(rows *sql.Rows) ([]*Transaction, error) {
	var out []*Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
