package accounts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kromer-go/kromer/internal/testutil"
)

// These tests only run with POSTGRES_URL set; testutil.PGTest skips them
// otherwise. They exercise the same Store contract accounts_test.go checks
// against MemoryStore, against the real row-locking Transfer/Debit paths.
func TestPostgresStore_GetOrCreateAndCredit(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	addr, err := store.GetOrCreate(ctx, "kpgaddress1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), addr.Balance)

	require.NoError(t, store.Credit(ctx, "kpgaddress1", 100))
	addr, err = store.Get(ctx, "kpgaddress1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), addr.Balance)
	assert.Equal(t, int64(100), addr.TotalIn)
}

func TestPostgresStore_Transfer(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "kpgsender01")
	require.NoError(t, err)
	_, err = store.GetOrCreate(ctx, "kpgrecip001")
	require.NoError(t, err)
	require.NoError(t, store.Credit(ctx, "kpgsender01", 50))

	require.NoError(t, store.Transfer(ctx, "kpgsender01", "kpgrecip001", 20))

	from, err := store.Get(ctx, "kpgsender01")
	require.NoError(t, err)
	assert.Equal(t, int64(30), from.Balance)

	to, err := store.Get(ctx, "kpgrecip001")
	require.NoError(t, err)
	assert.Equal(t, int64(20), to.Balance)
}

func TestPostgresStore_Transfer_InsufficientFunds(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "kpgpoor0001")
	require.NoError(t, err)
	_, err = store.GetOrCreate(ctx, "kpgrecip002")
	require.NoError(t, err)

	err = store.Transfer(ctx, "kpgpoor0001", "kpgrecip002", 10)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestPostgresStore_Transfer_LockedSender(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "kpglocked01")
	require.NoError(t, err)
	_, err = store.GetOrCreate(ctx, "kpgrecip003")
	require.NoError(t, err)
	require.NoError(t, store.Credit(ctx, "kpglocked01", 100))
	require.NoError(t, store.SetLocked(ctx, "kpglocked01", true))

	err = store.Transfer(ctx, "kpglocked01", "kpgrecip003", 10)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestPostgresStore_List(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "kpglist0001")
	require.NoError(t, err)
	_, err = store.GetOrCreate(ctx, "kpglist0002")
	require.NoError(t, err)

	addrs, total, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 2)
	assert.NotEmpty(t, addrs)
}
