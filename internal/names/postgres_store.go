package names

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

// NewPostgresStore creates a new PostgreSQL-backed name store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Get(ctx context.Context, name string) (*Name, error) {
	return scanName(dbtx.From(ctx, p.db).QueryRowContext(ctx, `
		SELECT name, owner, original_owner, registered, updated, transferred,
		       metadata, unpaid
		FROM names WHERE name = $1
	`, normalize(name)))
}

func (p *PostgresStore) List(ctx context.Context, limit, offset int) ([]*Name, int, error) {
	exec := dbtx.From(ctx, p.db)

	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM names`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := exec.QueryContext(ctx, `
		SELECT name, owner, original_owner, registered, updated, transferred,
		       metadata, unpaid
		FROM names ORDER BY name LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Name
	for rows.Next() {
		n, err := scanNameRows(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (p *PostgresStore) ListByOwner(ctx context.Context, owner string) ([]*Name, error) {
	rows, err := dbtx.From(ctx, p.db).QueryContext(ctx, `
		SELECT name, owner, original_owner, registered, updated, transferred,
		       metadata, unpaid
		FROM names WHERE owner = $1 ORDER BY name
	`, normalize(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Name
	for rows.Next() {
		n, err := scanNameRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Create(ctx context.Context, name, owner string) (*Name, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	key := normalize(name)
	owner = normalize(owner)

	_, err := dbtx.From(ctx, p.db).ExecContext(ctx, `
		INSERT INTO names (name, owner, original_owner, registered, unpaid)
		VALUES ($1, $2, $2, NOW(), 0)
	`, key, owner)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrTaken
		}
		return nil, err
	}
	return p.Get(ctx, key)
}

func (p *PostgresStore) Transfer(ctx context.Context, name, newOwner string) (*Name, error) {
	res, err := dbtx.From(ctx, p.db).ExecContext(ctx, `
		UPDATE names SET owner = $2, transferred = NOW() WHERE name = $1
	`, normalize(name), normalize(newOwner))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return p.Get(ctx, name)
}

func (p *PostgresStore) SetMetadata(ctx context.Context, name, metadata string) (*Name, error) {
	res, err := dbtx.From(ctx, p.db).ExecContext(ctx, `
		UPDATE names SET metadata = $2, updated = NOW() WHERE name = $1
	`, normalize(name), metadata)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotFound
	}
	return p.Get(ctx, name)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanName(row *sql.Row) (*Name, error) {
	return scanNameScanner(row)
}

func scanNameRows(rows *sql.Rows) (*Name, error) {
	return scanNameScanner(rows)
}

func scanNameScanner(s rowScanner) (*Name, error) {
	var n Name
	var updated, transferred sql.NullTime
	var metadata sql.NullString
	err := s.Scan(&n.Name, &n.Owner, &n.OriginalOwner, &n.Registered,
		&updated, &transferred, &metadata, &n.Unpaid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if updated.Valid {
		n.Updated = &updated.Time
	}
	if transferred.Valid {
		n.Transferred = &transferred.Time
	}
	n.Metadata = metadata.String
	return &n, nil
}
