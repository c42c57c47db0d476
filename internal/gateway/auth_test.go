package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kromer-go/kromer/internal/accounts"
)

func TestAuthenticate_BootstrapsPasswordOnFirstUse(t *testing.T) {
	store := accounts.NewMemoryStore()
	ctx := context.Background()

	account, err := Authenticate(ctx, store, "my-private-key")
	require.NoError(t, err)
	assert.NotEmpty(t, account.PwHash)

	addr, err := deriveAddress("my-private-key")
	require.NoError(t, err)
	assert.Equal(t, addr, account.Address)
}

func TestAuthenticate_VerifiesSubsequentLogins(t *testing.T) {
	store := accounts.NewMemoryStore()
	ctx := context.Background()

	_, err := Authenticate(ctx, store, "my-private-key")
	require.NoError(t, err)

	account, err := Authenticate(ctx, store, "my-private-key")
	require.NoError(t, err)
	assert.NotNil(t, account)
}

func TestAuthenticate_RejectsWrongKeyForClaimedAddress(t *testing.T) {
	store := accounts.NewMemoryStore()
	ctx := context.Background()

	addr, err := deriveAddress("original-key")
	require.NoError(t, err)

	_, err = Authenticate(ctx, store, "original-key")
	require.NoError(t, err)

	// A pw_hash collision scenario isn't reachable through derivation alone
	// (different keys derive different addresses), so this test instead
	// confirms that the same key is rejected once the stored hash no longer
	// matches it.
	require.NoError(t, store.SetPasswordHash(ctx, addr, "deadbeef:deadbeef"))
	_, err = Authenticate(ctx, store, "original-key")
	assert.Error(t, err)
}
