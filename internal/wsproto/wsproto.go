// Package wsproto defines the wire envelopes and subscription vocabulary of
// the gateway's WebSocket protocol: inbound command frames, outbound
// response/error/event frames, and the wire-visible views of domain types
// that carry the protocol's lowercased field names.
package wsproto

import (
	"encoding/json"
	"time"

	"github.com/kromer-go/kromer/internal/accounts"
	"github.com/kromer-go/kromer/internal/names"
	"github.com/kromer-go/kromer/internal/transactions"
)

// -----------------------------------------------------------------------------
// Error kinds - wire-visible strings, never reworded once shipped
// -----------------------------------------------------------------------------

const (
	ErrMissingParameter    = "missing_parameter"
	ErrInvalidParameter    = "invalid_parameter"
	ErrAddressNotFound     = "address_not_found"
	ErrNameNotFound        = "name_not_found"
	ErrNameTaken           = "name_taken"
	ErrNotNameOwner        = "not_name_owner"
	ErrInsufficientBalance = "insufficient_balance"
	ErrInsufficientFunds   = "insufficient_funds"
	ErrTransactionNotFound = "transaction_not_found"
	ErrTransactionsDisabled = "transactions_disabled"
	ErrTransactionConflict = "transaction_conflict"
	ErrAuthFailed          = "auth_failed"
	ErrInvalidWebsocketToken = "invalid_websocket_token"
	ErrMiningDisabled      = "mining_disabled"
	ErrDatabaseError       = "database_error"
	ErrMessageTooLong      = "message_too_long"
	ErrRouteNotFound       = "route_not_found"
	ErrRateLimitHit        = "rate_limit_hit"
)

// -----------------------------------------------------------------------------
// Subscription levels
// -----------------------------------------------------------------------------

// SubLevel is a subscription class a session may hold.
type SubLevel string

const (
	SubBlocks           SubLevel = "blocks"
	SubOwnBlocks        SubLevel = "ownBlocks"
	SubTransactions     SubLevel = "transactions"
	SubOwnTransactions  SubLevel = "ownTransactions"
	SubNames            SubLevel = "names"
	SubOwnNames         SubLevel = "ownNames"
	SubMotd             SubLevel = "motd"
)

// AllSubLevels enumerates every valid subscription level.
var AllSubLevels = []SubLevel{SubBlocks, SubOwnBlocks, SubTransactions, SubOwnTransactions, SubNames, SubOwnNames, SubMotd}

// DefaultSubLevels is the subscription set a freshly upgraded session
// starts with.
var DefaultSubLevels = []SubLevel{SubOwnTransactions, SubBlocks}

// IsValid reports whether level is one of the seven known levels.
func (l SubLevel) IsValid() bool {
	for _, v := range AllSubLevels {
		if v == l {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Envelopes
// -----------------------------------------------------------------------------

// Inbound is a decoded client-sent command frame. Fields beyond Type/ID are
// read directly from Raw by each command handler.
type Inbound struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the envelope's own fields and retains the full
// payload so handlers can pull their type-specific fields out of it.
func (in *Inbound) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	in.ID = a.ID
	in.Type = a.Type
	in.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Response is an outbound success/failure reply to an Inbound command.
type Response struct {
	OK                bool   `json:"ok"`
	ID                string `json:"id"`
	Type              string `json:"type"`
	RespondingToType  string `json:"responding_to_type"`
	Payload           map[string]any `json:"-"`
}

// MarshalJSON flattens Payload alongside the envelope's own fields.
func (r Response) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"ok":                  r.OK,
		"id":                  r.ID,
		"type":                "response",
		"responding_to_type":  r.RespondingToType,
	}
	for k, v := range r.Payload {
		m[k] = v
	}
	return json.Marshal(m)
}

// NewResponse builds a successful response envelope.
func NewResponse(id, respondingTo string, payload map[string]any) Response {
	return Response{OK: true, ID: id, Type: "response", RespondingToType: respondingTo, Payload: payload}
}

// ErrorFrame is an outbound protocol error.
type ErrorFrame struct {
	OK      bool   `json:"ok"`
	ID      string `json:"id"`
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewError builds an error envelope for the given kind.
func NewError(id, kind, message string) ErrorFrame {
	return ErrorFrame{OK: false, ID: id, Type: "error", Error: kind, Message: message}
}

// EventFrame is an outbound broadcaster push, unsolicited by any request.
type EventFrame struct {
	Type    string         `json:"type"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"-"`
}

func (e EventFrame) MarshalJSON() ([]byte, error) {
	m := map[string]any{"type": "event", "event": e.Event}
	for k, v := range e.Payload {
		m[k] = v
	}
	return json.Marshal(m)
}

// HelloConstants carries the protocol-level constants a client needs before
// it can validate its own requests; the mining-related constants the live
// network's hello also carries (min_work, max_work, seconds_per_block) are
// omitted since Kromer-Go mines no blocks.
type HelloConstants struct {
	WalletVersion int   `json:"wallet_version"`
	NameCost      int64 `json:"name_cost"`
}

// HelloPackage identifies the running server implementation.
type HelloPackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Hello is sent once, immediately after a successful upgrade.
type Hello struct {
	OK                  bool           `json:"ok"`
	Type                string         `json:"type"`
	ServerTime          string         `json:"server_time"`
	Motd                string         `json:"motd"`
	Set                 string         `json:"set"`
	MotdSet             string         `json:"motd_set"`
	PublicURL           string         `json:"public_url"`
	PublicWebsocketURL  string         `json:"public_ws_url"`
	MiningEnabled       bool           `json:"mining_enabled"`
	TransactionsEnabled bool           `json:"transactions_enabled"`
	DebugMode           bool           `json:"debug_mode"`
	Package             HelloPackage   `json:"package"`
	Constants           HelloConstants `json:"constants"`
}

// HelloParams carries the deployment-specific values a hello envelope
// reports, so gateway need not depend on internal/config directly.
type HelloParams struct {
	Motd          string
	PublicURL     string
	PublicWSURL   string
	NameCost      int64
	WalletVersion int
	DebugMode     bool
}

// NewHello builds a hello envelope stamped with the current time.
func NewHello(now time.Time, params HelloParams) Hello {
	t := formatTime(now)
	return Hello{
		OK:                  true,
		Type:                "hello",
		ServerTime:          t,
		Motd:                params.Motd,
		Set:                 t,
		MotdSet:             t,
		PublicURL:           params.PublicURL,
		PublicWebsocketURL:  params.PublicWSURL,
		MiningEnabled:       false,
		TransactionsEnabled: true,
		DebugMode:           params.DebugMode,
		Package:             HelloPackage{Name: "kromer-go", Version: "0.1.0"},
		Constants: HelloConstants{
			WalletVersion: params.WalletVersion,
			NameCost:      params.NameCost,
		},
	}
}

// Keepalive is pushed by the session's keepalive task every interval.
type Keepalive struct {
	Type       string `json:"type"`
	ServerTime string `json:"server_time"`
}

// NewKeepalive builds a keepalive envelope stamped with the current time.
func NewKeepalive(now time.Time) Keepalive {
	return Keepalive{Type: "keepalive", ServerTime: formatTime(now)}
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// ToMap flattens any JSON-marshalable value into a map, so it can be spliced
// into a Response or EventFrame payload alongside the envelope's own keys.
func ToMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// -----------------------------------------------------------------------------
// Wire views - external field names diverge from Go's idiomatic casing
// -----------------------------------------------------------------------------

// AddressView is the wire-visible projection of accounts.Address.
type AddressView struct {
	Address   string `json:"address"`
	Balance   int64  `json:"balance"`
	TotalIn   int64  `json:"totalin"`
	TotalOut  int64  `json:"totalout"`
	FirstSeen string `json:"firstseen"`
	Locked    bool   `json:"locked"`
}

// NewAddressView projects an accounts.Address onto its wire shape.
func NewAddressView(a *accounts.Address) AddressView {
	return AddressView{
		Address:   a.Address,
		Balance:   a.Balance,
		TotalIn:   a.TotalIn,
		TotalOut:  a.TotalOut,
		FirstSeen: formatTime(a.FirstSeen),
		Locked:    a.Locked,
	}
}

// NameView is the wire-visible projection of names.Name. Metadata is
// serialised under the key "a", matching the field naming the live
// network's clients already depend on.
type NameView struct {
	Name          string  `json:"name"`
	Owner         string  `json:"owner"`
	OriginalOwner string  `json:"original_owner"`
	Registered    string  `json:"registered"`
	Updated       *string `json:"updated,omitempty"`
	Transferred   *string `json:"transferred,omitempty"`
	Metadata      string  `json:"a,omitempty"`
	Unpaid        int     `json:"unpaid"`
}

// NewNameView projects a names.Name onto its wire shape.
func NewNameView(n *names.Name) NameView {
	v := NameView{
		Name:          n.Name,
		Owner:         n.Owner,
		OriginalOwner: n.OriginalOwner,
		Registered:    formatTime(n.Registered),
		Metadata:      n.Metadata,
		Unpaid:        n.Unpaid,
	}
	if n.Updated != nil {
		s := formatTime(*n.Updated)
		v.Updated = &s
	}
	if n.Transferred != nil {
		s := formatTime(*n.Transferred)
		v.Transferred = &s
	}
	return v
}

// TransactionView is the wire-visible projection of transactions.Transaction.
type TransactionView struct {
	ID           int64  `json:"id"`
	From         string `json:"from,omitempty"`
	To           string `json:"to,omitempty"`
	Value        int64  `json:"value"`
	Time         string `json:"time"`
	Name         string `json:"name,omitempty"`
	SentMetaname string `json:"sent_metaname,omitempty"`
	SentName     string `json:"sent_name,omitempty"`
	Metadata     string `json:"metadata,omitempty"`
}

// NewTransactionView projects a transactions.Transaction onto its wire shape.
func NewTransactionView(t *transactions.Transaction) TransactionView {
	return TransactionView{
		ID:           t.ID,
		From:         t.From,
		To:           t.To,
		Value:        t.Value,
		Time:         formatTime(t.Time),
		Name:         t.Name,
		SentMetaname: t.SentMetaname,
		SentName:     t.SentName,
		Metadata:     t.Metadata,
	}
}
