package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kromer-go/kromer/internal/accounts"
	"github.com/kromer-go/kromer/internal/money"
	"github.com/kromer-go/kromer/internal/names"
	"github.com/kromer-go/kromer/internal/transactions"
	"github.com/kromer-go/kromer/internal/wsproto"
)

// dispatch routes an inbound envelope to its command handler (C8). Every
// branch returns a value wsproto can marshal directly: either a
// wsproto.Response or a wsproto.ErrorFrame.
func (s *session) dispatch(ctx context.Context, in wsproto.Inbound) any {
	switch in.Type {
	case "address":
		return s.handleAddress(ctx, in)
	case "login":
		return s.handleLogin(ctx, in)
	case "logout":
		return s.handleLogout(in)
	case "me":
		return s.handleMe(ctx, in)
	case "subscribe":
		return s.handleSubscription(in, true)
	case "unsubscribe":
		return s.handleSubscription(in, false)
	case "get_subscription_level":
		return s.handleGetSubscriptionLevel(in)
	case "get_valid_subscription_levels":
		return s.handleGetValidSubscriptionLevels(in)
	case "make_transaction":
		return s.handleMakeTransaction(ctx, in)
	case "submit_block":
		return wsproto.NewError(in.ID, wsproto.ErrMiningDisabled, "mining is disabled on this node")
	default:
		return wsproto.NewError(in.ID, wsproto.ErrInvalidParameter, "unknown command type: "+in.Type)
	}
}

// -----------------------------------------------------------------------------
// address
// -----------------------------------------------------------------------------

func (s *session) handleAddress(ctx context.Context, in wsproto.Inbound) any {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(in.Raw, &req); err != nil || req.Address == "" {
		return wsproto.NewError(in.ID, wsproto.ErrMissingParameter, "address is required")
	}

	addr, err := s.gw.Accounts.Get(ctx, req.Address)
	if err != nil {
		return errorFrame(in.ID, err)
	}
	return wsproto.NewResponse(in.ID, "address", map[string]any{
		"address": wsproto.ToMap(wsproto.NewAddressView(addr)),
	})
}

// -----------------------------------------------------------------------------
// login / logout / me
// -----------------------------------------------------------------------------

func (s *session) handleLogin(ctx context.Context, in wsproto.Inbound) any {
	var req struct {
		PrivateKey string `json:"privatekey"`
	}
	if err := json.Unmarshal(in.Raw, &req); err != nil || req.PrivateKey == "" {
		return wsproto.NewError(in.ID, wsproto.ErrMissingParameter, "privatekey is required")
	}

	account, err := Authenticate(ctx, s.gw.Accounts, req.PrivateKey)
	if err != nil {
		// Failure responds like a `me` call for the session's current
		// state, leaving that state untouched, per spec §4.5.
		return s.meResponse(in.ID)
	}

	s.authAddress = account.Address
	s.privateKey = req.PrivateKey
	s.syncSubscription()

	return wsproto.NewResponse(in.ID, "login", map[string]any{
		"isGuest": false,
		"address": wsproto.ToMap(wsproto.NewAddressView(account)),
	})
}

func (s *session) handleLogout(in wsproto.Inbound) any {
	s.authAddress = GuestAddress
	s.privateKey = ""
	s.syncSubscription()
	return wsproto.NewResponse(in.ID, "logout", map[string]any{"isGuest": true})
}

func (s *session) handleMe(ctx context.Context, in wsproto.Inbound) any {
	return s.meResponse(in.ID)
}

func (s *session) meResponse(id string) any {
	if s.authAddress == GuestAddress {
		return wsproto.NewResponse(id, "me", map[string]any{"isGuest": true})
	}

	addr, err := s.gw.Accounts.Get(context.Background(), s.authAddress)
	if err != nil {
		return wsproto.NewResponse(id, "me", map[string]any{"isGuest": true})
	}
	return wsproto.NewResponse(id, "me", map[string]any{
		"isGuest": false,
		"address": wsproto.ToMap(wsproto.NewAddressView(addr)),
	})
}

// -----------------------------------------------------------------------------
// subscriptions
// -----------------------------------------------------------------------------

func (s *session) handleSubscription(in wsproto.Inbound, subscribe bool) any {
	var req struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(in.Raw, &req); err != nil || req.Event == "" {
		return wsproto.NewError(in.ID, wsproto.ErrMissingParameter, "event is required")
	}

	level := wsproto.SubLevel(req.Event)
	if !level.IsValid() {
		return wsproto.NewError(in.ID, wsproto.ErrInvalidParameter, "event")
	}

	if subscribe {
		s.subs[level] = true
	} else {
		delete(s.subs, level)
	}
	s.syncSubscription()

	respType := "unsubscribe"
	if subscribe {
		respType = "subscribe"
	}
	return wsproto.NewResponse(in.ID, respType, map[string]any{
		"subscription_level": s.subLevelStrings(),
	})
}

func (s *session) handleGetSubscriptionLevel(in wsproto.Inbound) any {
	return wsproto.NewResponse(in.ID, "get_subscription_level", map[string]any{
		"subscription_level": s.subLevelStrings(),
	})
}

func (s *session) handleGetValidSubscriptionLevels(in wsproto.Inbound) any {
	all := make([]string, len(wsproto.AllSubLevels))
	for i, l := range wsproto.AllSubLevels {
		all[i] = string(l)
	}
	return wsproto.NewResponse(in.ID, "get_valid_subscription_levels", map[string]any{
		"valid_subscription_levels": all,
	})
}

func (s *session) subLevelStrings() []string {
	out := make([]string, 0, len(s.subs))
	for l := range s.subs {
		out = append(out, string(l))
	}
	return out
}

// -----------------------------------------------------------------------------
// make_transaction
// -----------------------------------------------------------------------------

func (s *session) handleMakeTransaction(ctx context.Context, in wsproto.Inbound) any {
	var req struct {
		PrivateKey string `json:"privatekey"`
		To         string `json:"to"`
		Amount     int64  `json:"amount"`
		Metadata   string `json:"metadata"`
		RequestID  string `json:"requestId"`
	}
	if err := json.Unmarshal(in.Raw, &req); err != nil {
		return wsproto.NewError(in.ID, wsproto.ErrInvalidParameter, "malformed payload")
	}

	privateKey := req.PrivateKey
	if privateKey == "" {
		privateKey = s.privateKey
	}
	if privateKey == "" {
		return wsproto.NewError(in.ID, wsproto.ErrMissingParameter, "privatekey")
	}
	if req.To == "" {
		return wsproto.NewError(in.ID, wsproto.ErrMissingParameter, "to")
	}

	from, err := deriveAddress(privateKey)
	if err != nil {
		return wsproto.NewError(in.ID, wsproto.ErrInvalidParameter, "privatekey")
	}

	tx, err := s.gw.Money.Transfer(ctx, from, req.To, req.Amount, req.Metadata, req.RequestID)
	if err != nil {
		return errorFrame(in.ID, err)
	}
	if tx == nil {
		// Idempotent replay: money.Service treats a repeated request id as
		// an already-committed transfer, but the wire contract (spec §8
		// scenario 3) surfaces the retry itself as a conflict so the
		// client knows not to expect a second debit.
		return wsproto.NewError(in.ID, wsproto.ErrTransactionConflict, "request_id already used")
	}

	return wsproto.NewResponse(in.ID, "make_transaction", map[string]any{
		"transaction": wsproto.ToMap(wsproto.NewTransactionView(tx)),
	})
}

// -----------------------------------------------------------------------------
// error translation
// -----------------------------------------------------------------------------

// errorFrame maps a typed store/service error onto its wire-visible kind
// (spec §7). Unrecognized errors are never leaked verbatim to the client.
func errorFrame(id string, err error) wsproto.ErrorFrame {
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		return wsproto.NewError(id, wsproto.ErrAddressNotFound, "address not found")
	case errors.Is(err, accounts.ErrLocked):
		return wsproto.NewError(id, wsproto.ErrTransactionsDisabled, "address is locked")
	case errors.Is(err, accounts.ErrInsufficientFunds):
		return wsproto.NewError(id, wsproto.ErrInsufficientFunds, "insufficient funds")
	case errors.Is(err, accounts.ErrInsufficientBalance):
		return wsproto.NewError(id, wsproto.ErrInsufficientBalance, "insufficient balance")
	case errors.Is(err, names.ErrNotFound):
		return wsproto.NewError(id, wsproto.ErrNameNotFound, "name not found")
	case errors.Is(err, names.ErrTaken):
		return wsproto.NewError(id, wsproto.ErrNameTaken, "name already registered")
	case errors.Is(err, names.ErrNotOwner):
		return wsproto.NewError(id, wsproto.ErrNotNameOwner, "caller does not own this name")
	case errors.Is(err, names.ErrInvalidName):
		return wsproto.NewError(id, wsproto.ErrInvalidParameter, "name")
	case errors.Is(err, transactions.ErrConflict):
		return wsproto.NewError(id, wsproto.ErrTransactionConflict, "request_id already used")
	case errors.Is(err, transactions.ErrNotFound):
		return wsproto.NewError(id, wsproto.ErrTransactionNotFound, "transaction not found")
	case errors.Is(err, money.ErrInvalidAmount):
		return wsproto.NewError(id, wsproto.ErrInvalidParameter, "amount")
	case errors.Is(err, money.ErrSameAddress):
		return wsproto.NewError(id, wsproto.ErrInvalidParameter, "to")
	case errors.Is(err, money.ErrMetadataTooLong):
		return wsproto.NewError(id, wsproto.ErrInvalidParameter, "metadata")
	default:
		return wsproto.NewError(id, wsproto.ErrDatabaseError, "internal storage error")
	}
}
