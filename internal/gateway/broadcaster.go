package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kromer-go/kromer/internal/metrics"
	"github.com/kromer-go/kromer/internal/money"
	"github.com/kromer-go/kromer/internal/wsproto"
)

// subState is the subscription directory entry the broadcaster keeps per
// live channel: enough to evaluate the delivery rule in spec §4.6 without
// the session registry ever exposing session internals. Sessions push
// updates here whenever login/logout/subscribe/unsubscribe change their
// own state; the broadcaster never reads a session directly.
type subState struct {
	address string
	levels  map[wsproto.SubLevel]bool
}

// Broadcaster is the subscription broadcaster (C9): a directory of live
// channels' current address and subscription levels, consulted at publish
// time to decide which channels receive a given money.Event. It implements
// money.Publisher so internal/money can publish without depending on the
// gateway package.
type Broadcaster struct {
	registry *Registry

	mu   sync.RWMutex
	subs map[string]*subState // channel id -> directory entry
}

// NewBroadcaster creates a Broadcaster that delivers through registry.
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		subs:     make(map[string]*subState),
	}
}

var _ money.Publisher = (*Broadcaster)(nil)

// Register records a newly connected channel's initial address and
// subscription set.
func (b *Broadcaster) Register(channelID, address string, levels map[wsproto.SubLevel]bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channelID] = &subState{address: address, levels: cloneLevels(levels)}
}

// Update replaces channelID's address and subscription set, called whenever
// a session's own state changes (login, logout, subscribe, unsubscribe).
func (b *Broadcaster) Update(channelID, address string, levels map[wsproto.SubLevel]bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[channelID]; ok {
		s.address = address
		s.levels = cloneLevels(levels)
	}
}

// Unregister drops channelID's directory entry, called on disconnect.
func (b *Broadcaster) Unregister(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, channelID)
}

// Publish fans ev out to every channel whose current subscription set
// matches, per the delivery rule in spec §4.6. Evaluating the rule as a
// single boolean per channel (rather than once per matching level) is what
// keeps delivery at-most-once even for a channel holding both the broad and
// "own" level for the same event kind.
func (b *Broadcaster) Publish(ctx context.Context, ev money.Event) {
	var frame wsproto.EventFrame
	var from, to, owner string

	switch ev.Type {
	case "transaction":
		if ev.Transaction == nil {
			return
		}
		from, to = ev.Transaction.From, ev.Transaction.To
		frame = wsproto.EventFrame{Event: "transaction", Payload: map[string]any{
			"transaction": wsproto.ToMap(wsproto.NewTransactionView(ev.Transaction)),
		}}
	case "name":
		if ev.Name == nil {
			return
		}
		owner = ev.Name.Owner
		frame = wsproto.EventFrame{Event: "name", Payload: map[string]any{
			"name": wsproto.ToMap(wsproto.NewNameView(ev.Name)),
		}}
	default:
		return
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	b.mu.RLock()
	channels := make([]string, 0, len(b.subs))
	matched := make(map[string]bool, len(b.subs))
	for id, s := range b.subs {
		if deliversTo(s, ev.Type, from, to, owner) {
			channels = append(channels, id)
			matched[id] = true
		}
	}
	b.mu.RUnlock()

	for _, id := range channels {
		if !b.registry.SendToChannel(id, data) {
			metrics.BroadcastDroppedTotal.WithLabelValues(ev.Type).Inc()
		}
	}
}

func deliversTo(s *subState, eventType, from, to, owner string) bool {
	switch eventType {
	case "transaction":
		return s.levels[wsproto.SubTransactions] ||
			(s.levels[wsproto.SubOwnTransactions] && (s.address == from || s.address == to))
	case "name":
		return s.levels[wsproto.SubNames] ||
			(s.levels[wsproto.SubOwnNames] && s.address == owner)
	default:
		return false
	}
}

func cloneLevels(levels map[wsproto.SubLevel]bool) map[wsproto.SubLevel]bool {
	cp := make(map[wsproto.SubLevel]bool, len(levels))
	for k, v := range levels {
		if v {
			cp[k] = true
		}
	}
	return cp
}
