package transactions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kromer-go/kromer/internal/testutil"
)

func TestPostgresStore_InsertAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO addresses (address) VALUES ($1), ($2)`, "kpgfrom0001", "kpgto000001")
	require.NoError(t, err)

	tx, err := store.Insert(ctx, &Transaction{From: "kpgfrom0001", To: "kpgto000001", Value: 10, RequestID: "pg-req-1"})
	require.NoError(t, err)
	assert.NotZero(t, tx.ID)

	got, err := store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.Value, got.Value)
}

func TestPostgresStore_Insert_DuplicateRequestIDConflicts(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO addresses (address) VALUES ($1), ($2)`, "kpgfrom0002", "kpgto000002")
	require.NoError(t, err)

	_, err = store.Insert(ctx, &Transaction{From: "kpgfrom0002", To: "kpgto000002", Value: 5, RequestID: "pg-req-dup"})
	require.NoError(t, err)

	_, err = store.Insert(ctx, &Transaction{From: "kpgfrom0002", To: "kpgto000002", Value: 5, RequestID: "pg-req-dup"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPostgresStore_ListByAddress(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO addresses (address) VALUES ($1), ($2)`, "kpgfrom0003", "kpgto000003")
	require.NoError(t, err)

	_, err = store.Insert(ctx, &Transaction{From: "kpgfrom0003", To: "kpgto000003", Value: 1, RequestID: "pg-req-a"})
	require.NoError(t, err)
	_, err = store.Insert(ctx, &Transaction{From: "kpgfrom0003", To: "kpgto000003", Value: 2, RequestID: "pg-req-b"})
	require.NoError(t, err)

	txs, total, err := store.ListByAddress(ctx, "kpgfrom0003", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, txs, 2)
}

func TestPostgresStore_ListLatest(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `INSERT INTO addresses (address) VALUES ($1), ($2)`, "kpgfrom0004", "kpgto000004")
	require.NoError(t, err)

	_, err = store.Insert(ctx, &Transaction{From: "kpgfrom0004", To: "kpgto000004", Value: 1, RequestID: "pg-req-c"})
	require.NoError(t, err)

	latest, err := store.ListLatest(ctx, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
}
