package gateway

import (
	"context"
	"errors"

	"github.com/kromer-go/kromer/internal/accounts"
	"github.com/kromer-go/kromer/internal/kristcrypto"
)

// AddressPrefix is the single-character prefix every derived address
// carries; the live network only ever mints "k" addresses.
const AddressPrefix = "k"

// GuestAddress is the sentinel authenticated-address value for a session
// that has not (or no longer) logged in with a private key.
const GuestAddress = "guest"

// ErrAuthFailed is returned by Authenticate when no address can be derived
// from privateKey, or when privateKey does not match the password hash its
// address already committed to.
var ErrAuthFailed = errors.New("gateway: auth failed")

// deriveAddress derives the v2 address for privateKey under AddressPrefix.
func deriveAddress(privateKey string) (string, error) {
	return kristcrypto.DeriveV2Address(privateKey, AddressPrefix)
}

// Authenticate derives the address for privateKey and reconciles it against
// the account's stored password hash. Kromer's "password" is simply the
// private key string, so pw_hash exists only to avoid re-deriving and to
// detect a caller who supplies a different key for an address that has
// already been claimed: the first private key ever presented for a derived
// address bootstraps its pw_hash; every later call must match it.
func Authenticate(ctx context.Context, store accounts.Store, privateKey string) (*accounts.Address, error) {
	addr, err := kristcrypto.DeriveV2Address(privateKey, AddressPrefix)
	if err != nil {
		return nil, ErrAuthFailed
	}

	account, err := store.GetOrCreate(ctx, addr)
	if err != nil {
		return nil, err
	}

	if account.PwHash == "" {
		salt, err := kristcrypto.NewSalt()
		if err != nil {
			return nil, err
		}
		hash := kristcrypto.HashPassword(privateKey, salt)
		if err := store.SetPasswordHash(ctx, addr, hash); err != nil {
			return nil, err
		}
		account.PwHash = hash
		return account, nil
	}

	ok, err := kristcrypto.VerifyPassword(privateKey, account.PwHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAuthFailed
	}
	return account, nil
}
