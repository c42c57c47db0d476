package transactions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Insert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tx, err := store.Insert(ctx, &Transaction{
		From:      "ksenderxxx",
		To:        "krecipientx",
		Value:     40,
		RequestID: "req-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), tx.ID)
	assert.False(t, tx.Time.IsZero())
}

func TestMemoryStore_Insert_DuplicateRequestID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Insert(ctx, &Transaction{From: "ka", To: "kb", Value: 1, RequestID: "dup"})
	require.NoError(t, err)

	_, err = store.Insert(ctx, &Transaction{From: "ka", To: "kb", Value: 1, RequestID: "dup"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStore_Insert_EmptyRequestIDNotUnique(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Insert(ctx, &Transaction{From: "ka", To: "kb", Value: 1})
	require.NoError(t, err)
	_, err = store.Insert(ctx, &Transaction{From: "ka", To: "kb", Value: 1})
	assert.NoError(t, err)
}

func TestMemoryStore_Get(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tx, err := store.Insert(ctx, &Transaction{From: "ka", To: "kb", Value: 5})
	require.NoError(t, err)

	got, err := store.Get(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)
}

func TestMemoryStore_Get_NotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListLatest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i := 0; i < 5; i++ {
		_, err := store.Insert(ctx, &Transaction{From: "ka", To: "kb", Value: int64(i)})
		require.NoError(t, err)
	}

	latest, err := store.ListLatest(ctx, 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, int64(4), latest[0].Value)
}

func TestMemoryStore_ListByAddress(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, _ = store.Insert(ctx, &Transaction{From: "ka", To: "kb", Value: 1})
	_, _ = store.Insert(ctx, &Transaction{From: "kc", To: "kd", Value: 2})
	_, _ = store.Insert(ctx, &Transaction{From: "kb", To: "ka", Value: 3})

	page, total, err := store.ListByAddress(ctx, "ka", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, page, 2)
}

func TestMemoryStore_List_Pagination(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i := 0; i < 3; i++ {
		_, err := store.Insert(ctx, &Transaction{From: "ka", To: "kb", Value: int64(i)})
		require.NoError(t, err)
	}

	page, total, err := store.List(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].Value)
}
