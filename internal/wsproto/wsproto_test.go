package wsproto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kromer-go/kromer/internal/accounts"
)

func TestInbound_UnmarshalJSON(t *testing.T) {
	var in Inbound
	err := json.Unmarshal([]byte(`{"id":"1","type":"address","address":"kre3w0i79j"}`), &in)
	require.NoError(t, err)
	assert.Equal(t, "1", in.ID)
	assert.Equal(t, "address", in.Type)

	var fields struct {
		Address string `json:"address"`
	}
	require.NoError(t, json.Unmarshal(in.Raw, &fields))
	assert.Equal(t, "kre3w0i79j", fields.Address)
}

func TestResponse_MarshalJSON(t *testing.T) {
	resp := NewResponse("1", "me", map[string]any{"isGuest": true})
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, true, decoded["ok"])
	assert.Equal(t, "response", decoded["type"])
	assert.Equal(t, "me", decoded["responding_to_type"])
	assert.Equal(t, true, decoded["isGuest"])
}

func TestErrorFrame(t *testing.T) {
	e := NewError("1", ErrMissingParameter, "address is required")
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"error":"missing_parameter"`)
}

func TestSubLevel_IsValid(t *testing.T) {
	assert.True(t, SubTransactions.IsValid())
	assert.False(t, SubLevel("bogus").IsValid())
}

func TestNewHello_FormatsISO8601(t *testing.T) {
	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	h := NewHello(ts, HelloParams{NameCost: 500, WalletVersion: 2})
	assert.Equal(t, "2026-07-31T12:00:00.000Z", h.ServerTime)
	assert.Equal(t, int64(500), h.Constants.NameCost)
	assert.False(t, h.MiningEnabled)
}

func TestNewAddressView_WireFieldNames(t *testing.T) {
	addr := &accounts.Address{Address: "kre3w0i79j", Balance: 100, TotalIn: 100, FirstSeen: time.Now()}
	view := NewAddressView(addr)
	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"totalin"`)
	assert.Contains(t, string(data), `"totalout"`)
	assert.Contains(t, string(data), `"firstseen"`)
}

func TestToMap(t *testing.T) {
	addr := &accounts.Address{Address: "kre3w0i79j", Balance: 5}
	m := ToMap(NewAddressView(addr))
	assert.Equal(t, "kre3w0i79j", m["address"])
	assert.Equal(t, float64(5), m["balance"])
}
