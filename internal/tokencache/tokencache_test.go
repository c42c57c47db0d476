package tokencache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_MintConsume(t *testing.T) {
	c := New(30 * time.Second)
	defer c.Stop()

	token, err := c.Mint(Params{PrivateKey: "alpha"})
	require.NoError(t, err)
	assert.Len(t, token, 32) // 16 bytes hex-encoded

	params, err := c.Consume(token)
	require.NoError(t, err)
	assert.Equal(t, "alpha", params.PrivateKey)
}

func TestCache_Consume_OnlyOnce(t *testing.T) {
	c := New(30 * time.Second)
	defer c.Stop()

	token, err := c.Mint(Params{})
	require.NoError(t, err)

	_, err = c.Consume(token)
	require.NoError(t, err)

	_, err = c.Consume(token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_Consume_Unknown(t *testing.T) {
	c := New(30 * time.Second)
	defer c.Stop()

	_, err := c.Consume("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_Consume_Expired(t *testing.T) {
	c := New(10 * time.Millisecond)
	defer c.Stop()

	token, err := c.Mint(Params{})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = c.Consume(token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_Sweep_RemovesExpiredEntries(t *testing.T) {
	c := New(10 * time.Millisecond)
	defer c.Stop()

	_, err := c.Mint(Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	c.sweep()
	assert.Equal(t, 1, c.Len(), "not yet past ttl relative to mint time check inside sweep")

	time.Sleep(30 * time.Millisecond)
	c.sweep()
	assert.Equal(t, 0, c.Len())
}

func TestCache_Mint_Unique(t *testing.T) {
	c := New(30 * time.Second)
	defer c.Stop()

	a, err := c.Mint(Params{})
	require.NoError(t, err)
	b, err := c.Mint(Params{})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
