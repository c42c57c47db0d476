package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kromer-go/kromer/internal/accounts"
	"github.com/kromer-go/kromer/internal/money"
	"github.com/kromer-go/kromer/internal/names"
	"github.com/kromer-go/kromer/internal/transactions"
	"github.com/kromer-go/kromer/internal/wsproto"
)

func newTestSession(t *testing.T) (*session, accounts.Store) {
	t.Helper()
	accountsStore := accounts.NewMemoryStore()
	namesStore := names.NewMemoryStore()
	txStore := transactions.NewMemoryStore()

	registry := NewRegistry()
	broadcaster := NewBroadcaster(registry)
	moneySvc := money.New(accountsStore, namesStore, txStore, nil, 500, broadcaster, nil)

	gw := New(registry, broadcaster, accountsStore, namesStore, moneySvc, DefaultConfig(), nil)

	s := &session{
		gw:          gw,
		send:        make(chan []byte, 16),
		channelID:   registry.Connect("test-session", make(chan []byte, 16)),
		authAddress: GuestAddress,
		subs:        map[wsproto.SubLevel]bool{wsproto.SubTransactions: true},
	}
	broadcaster.Register(s.channelID, s.authAddress, s.subs)
	return s, accountsStore
}

func rawInbound(id, typ string, body string) wsproto.Inbound {
	return wsproto.Inbound{ID: id, Type: typ, Raw: []byte(body)}
}

func TestDispatch_UnknownType(t *testing.T) {
	s, _ := newTestSession(t)
	resp := s.dispatch(context.Background(), rawInbound("1", "frobnicate", `{}`))
	ef, ok := resp.(wsproto.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, wsproto.ErrInvalidParameter, ef.Error)
}

func TestDispatch_SubmitBlockDisabled(t *testing.T) {
	s, _ := newTestSession(t)
	resp := s.dispatch(context.Background(), rawInbound("1", "submit_block", `{}`))
	ef, ok := resp.(wsproto.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, wsproto.ErrMiningDisabled, ef.Error)
}

func TestDispatch_Me_Guest(t *testing.T) {
	s, _ := newTestSession(t)
	resp := s.dispatch(context.Background(), rawInbound("1", "me", `{}`))
	r, ok := resp.(wsproto.Response)
	require.True(t, ok)
	assert.Equal(t, true, r.Payload["isGuest"])
}

func TestDispatch_Login_ThenMe(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	resp := s.dispatch(ctx, rawInbound("1", "login", `{"privatekey":"alice-key"}`))
	r, ok := resp.(wsproto.Response)
	require.True(t, ok)
	assert.Equal(t, false, r.Payload["isGuest"])
	assert.NotEqual(t, GuestAddress, s.authAddress)

	meResp := s.dispatch(ctx, rawInbound("2", "me", `{}`))
	me, ok := meResp.(wsproto.Response)
	require.True(t, ok)
	assert.Equal(t, false, me.Payload["isGuest"])
}

func TestDispatch_Login_MissingKey(t *testing.T) {
	s, _ := newTestSession(t)
	resp := s.dispatch(context.Background(), rawInbound("1", "login", `{}`))
	ef, ok := resp.(wsproto.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, wsproto.ErrMissingParameter, ef.Error)
}

func TestDispatch_Logout_ResetsToGuest(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()
	s.dispatch(ctx, rawInbound("1", "login", `{"privatekey":"alice-key"}`))
	require.NotEqual(t, GuestAddress, s.authAddress)

	resp := s.dispatch(ctx, rawInbound("2", "logout", `{}`))
	r, ok := resp.(wsproto.Response)
	require.True(t, ok)
	assert.Equal(t, true, r.Payload["isGuest"])
	assert.Equal(t, GuestAddress, s.authAddress)
}

func TestDispatch_Subscribe_Unsubscribe(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	resp := s.dispatch(ctx, rawInbound("1", "subscribe", `{"event":"names"}`))
	_, ok := resp.(wsproto.Response)
	require.True(t, ok)
	assert.True(t, s.subs[wsproto.SubNames])

	resp = s.dispatch(ctx, rawInbound("2", "unsubscribe", `{"event":"names"}`))
	_, ok = resp.(wsproto.Response)
	require.True(t, ok)
	assert.False(t, s.subs[wsproto.SubNames])
}

func TestDispatch_Subscribe_InvalidLevel(t *testing.T) {
	s, _ := newTestSession(t)
	resp := s.dispatch(context.Background(), rawInbound("1", "subscribe", `{"event":"not_a_level"}`))
	ef, ok := resp.(wsproto.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, wsproto.ErrInvalidParameter, ef.Error)
}

func TestDispatch_GetValidSubscriptionLevels(t *testing.T) {
	s, _ := newTestSession(t)
	resp := s.dispatch(context.Background(), rawInbound("1", "get_valid_subscription_levels", `{}`))
	r, ok := resp.(wsproto.Response)
	require.True(t, ok)
	levels, ok := r.Payload["valid_subscription_levels"].([]string)
	require.True(t, ok)
	assert.NotEmpty(t, levels)
}

func TestDispatch_Address_NotFound(t *testing.T) {
	s, _ := newTestSession(t)
	resp := s.dispatch(context.Background(), rawInbound("1", "address", `{"address":"kmissing000"}`))
	ef, ok := resp.(wsproto.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, wsproto.ErrAddressNotFound, ef.Error)
}

func TestDispatch_Address_MissingParameter(t *testing.T) {
	s, _ := newTestSession(t)
	resp := s.dispatch(context.Background(), rawInbound("1", "address", `{}`))
	ef, ok := resp.(wsproto.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, wsproto.ErrMissingParameter, ef.Error)
}

func TestDispatch_MakeTransaction_RequiresAuthOrKey(t *testing.T) {
	s, _ := newTestSession(t)
	resp := s.dispatch(context.Background(), rawInbound("1", "make_transaction", `{"to":"kbob000000","amount":10}`))
	ef, ok := resp.(wsproto.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, wsproto.ErrMissingParameter, ef.Error)
}

func TestDispatch_MakeTransaction_Success(t *testing.T) {
	s, store := newTestSession(t)
	ctx := context.Background()

	senderAddr, err := deriveAddress("sender-key")
	require.NoError(t, err)
	_, err = store.GetOrCreate(ctx, senderAddr)
	require.NoError(t, err)
	require.NoError(t, store.Credit(ctx, senderAddr, 100))
	_, err = store.GetOrCreate(ctx, "krecipientx")
	require.NoError(t, err)

	resp := s.dispatch(ctx, rawInbound("1", "make_transaction", `{"privatekey":"sender-key","to":"krecipientx","amount":40}`))
	r, ok := resp.(wsproto.Response)
	require.True(t, ok)
	assert.Equal(t, "make_transaction", r.RespondingToType)
}

func TestDispatch_MakeTransaction_IdempotentReplayIsConflict(t *testing.T) {
	s, store := newTestSession(t)
	ctx := context.Background()

	senderAddr, err := deriveAddress("sender-key")
	require.NoError(t, err)
	_, err = store.GetOrCreate(ctx, senderAddr)
	require.NoError(t, err)
	require.NoError(t, store.Credit(ctx, senderAddr, 100))
	_, err = store.GetOrCreate(ctx, "krecipientx")
	require.NoError(t, err)

	body := `{"privatekey":"sender-key","to":"krecipientx","amount":10,"requestId":"dup-1"}`
	resp := s.dispatch(ctx, rawInbound("1", "make_transaction", body))
	_, ok := resp.(wsproto.Response)
	require.True(t, ok)

	resp = s.dispatch(ctx, rawInbound("2", "make_transaction", body))
	ef, ok := resp.(wsproto.ErrorFrame)
	require.True(t, ok)
	assert.Equal(t, wsproto.ErrTransactionConflict, ef.Error)
}

func TestDispatch_MakeTransaction_UsesSessionKeyWhenOmitted(t *testing.T) {
	s, store := newTestSession(t)
	ctx := context.Background()

	s.dispatch(ctx, rawInbound("1", "login", `{"privatekey":"sender-key"}`))
	require.NoError(t, store.Credit(ctx, s.authAddress, 100))
	_, err := store.GetOrCreate(ctx, "krecipientx")
	require.NoError(t, err)

	resp := s.dispatch(ctx, rawInbound("2", "make_transaction", `{"to":"krecipientx","amount":15}`))
	r, ok := resp.(wsproto.Response)
	require.True(t, ok)
	assert.Equal(t, "make_transaction", r.RespondingToType)
}
