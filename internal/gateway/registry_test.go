package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ConnectSendDisconnect(t *testing.T) {
	r := NewRegistry()
	send := make(chan []byte, 1)

	channelID := r.Connect("session-1", send)
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.SendToChannel(channelID, []byte("hello")))
	assert.Equal(t, []byte("hello"), <-send)

	assert.True(t, r.SendToSession("session-1", []byte("again")))
	assert.Equal(t, []byte("again"), <-send)

	r.Disconnect(channelID)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.SendToChannel(channelID, []byte("gone")))
}

func TestRegistry_SendToChannel_DropsWhenFull(t *testing.T) {
	r := NewRegistry()
	send := make(chan []byte, 1)
	channelID := r.Connect("session-1", send)

	require.True(t, r.SendToChannel(channelID, []byte("first")))
	assert.False(t, r.SendToChannel(channelID, []byte("second")))
}

func TestRegistry_SendToChannel_UnknownChannel(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.SendToChannel("nonexistent", []byte("x")))
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	r.Connect("a", make(chan []byte, 1))
	r.Connect("b", make(chan []byte, 1))
	assert.Len(t, r.List(), 2)
}
