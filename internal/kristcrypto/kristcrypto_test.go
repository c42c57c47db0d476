package kristcrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveV2Address(t *testing.T) {
	addr, err := DeriveV2Address("some private key", "k")
	require.NoError(t, err)

	assert.Len(t, addr, 1+AddressSuffixLen)
	assert.Equal(t, byte('k'), addr[0])
	for _, c := range addr[1:] {
		assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z'), "unexpected char %q", c)
	}
}

func TestDeriveV2Address_Deterministic(t *testing.T) {
	a1, err := DeriveV2Address("my secret key", "k")
	require.NoError(t, err)
	a2, err := DeriveV2Address("my secret key", "k")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
}

func TestDeriveV2Address_DifferentKeysDiffer(t *testing.T) {
	a1, err := DeriveV2Address("key one", "k")
	require.NoError(t, err)
	a2, err := DeriveV2Address("key two", "k")
	require.NoError(t, err)

	assert.NotEqual(t, a1, a2)
}

func TestDeriveV2Address_EmptyInputs(t *testing.T) {
	_, err := DeriveV2Address("", "k")
	assert.ErrorIs(t, err, ErrEmptyPrivateKey)

	_, err = DeriveV2Address("key", "")
	assert.ErrorIs(t, err, ErrEmptyPrefix)
}

func TestHashAndVerifyPassword(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)

	stored := HashPassword("correct horse battery staple", salt)

	ok, err := VerifyPassword("correct horse battery staple", stored)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong password", stored)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPassword_MalformedStored(t *testing.T) {
	_, err := VerifyPassword("anything", "not-a-valid-hash")
	assert.Error(t, err)
}
