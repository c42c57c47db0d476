package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/kromer-go/kromer/internal/accounts"
	"github.com/kromer-go/kromer/internal/kristcrypto"
	"github.com/kromer-go/kromer/internal/metrics"
	"github.com/kromer-go/kromer/internal/money"
	"github.com/kromer-go/kromer/internal/names"
	"github.com/kromer-go/kromer/internal/tokencache"
	"github.com/kromer-go/kromer/internal/wsproto"
)

// maxCommandChars is the wire-level limit on an inbound text frame's
// content, independent of the transport frame-size cap enforced by the
// websocket read limit (spec §4.4).
const maxCommandChars = 512

// Config tunes the timers every session task runs on (spec §4.4 / §5) and
// the deployment-specific values reported in the hello envelope.
type Config struct {
	HeartbeatTick time.Duration // how often to check client silence / send a ping
	ClientTimeout time.Duration // disconnect if no heartbeat within this long
	KeepaliveTick time.Duration // interval of the separate keepalive envelope
	ReadLimit     int64         // transport-level aggregated frame cap, bytes

	Motd        string
	PublicURL   string
	PublicWSURL string
	NameCost    int64
	DebugMode   bool
}

// DefaultConfig returns the timer values spec.md §4.4/§5 specifies.
func DefaultConfig() Config {
	return Config{
		HeartbeatTick: 5 * time.Second,
		ClientTimeout: 10 * time.Second,
		KeepaliveTick: 10 * time.Second,
		ReadLimit:     2 << 20, // 2 MiB
	}
}

// Gateway wires the session registry, broadcaster, and money/account stores
// together and constructs one session task per upgraded connection (C11's
// collaborator for the gateway half of the protocol).
type Gateway struct {
	Registry    *Registry
	Broadcaster *Broadcaster
	Accounts    accounts.Store
	Names       names.Store
	Money       *money.Service
	Cfg         Config
	Logger      *slog.Logger
}

// New constructs a Gateway. logger may be nil, in which case slog.Default
// is used.
func New(registry *Registry, broadcaster *Broadcaster, accountsStore accounts.Store, namesStore names.Store, moneySvc *money.Service, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		Registry:    registry,
		Broadcaster: broadcaster,
		Accounts:    accountsStore,
		Names:       namesStore,
		Money:       moneySvc,
		Cfg:         cfg,
		Logger:      logger,
	}
}

// session is the per-connection state machine (C7). Everything but the
// send channel is owned exclusively by the goroutine running run(); the
// registry and broadcaster only ever see the channel id and a send-only
// sink, matching the no-synchronous-callback rule in spec §4.3/§9.
type session struct {
	gw           *Gateway
	conn         *websocket.Conn
	sessionToken string
	channelID    string
	send         chan []byte

	authAddress   string
	privateKey    string
	subs          map[wsproto.SubLevel]bool
	lastHeartbeat time.Time

	logger *slog.Logger
}

func newSession(gw *Gateway, conn *websocket.Conn, params tokencache.Params) *session {
	subs := make(map[wsproto.SubLevel]bool, len(wsproto.DefaultSubLevels))
	for _, l := range wsproto.DefaultSubLevels {
		subs[l] = true
	}

	addr := GuestAddress
	if params.PrivateKey != "" {
		if derived, err := deriveAddress(params.PrivateKey); err == nil {
			addr = derived
		}
	}

	return &session{
		gw:            gw,
		conn:          conn,
		send:          make(chan []byte, 64),
		authAddress:   addr,
		privateKey:    params.PrivateKey,
		subs:          subs,
		lastHeartbeat: time.Now(),
		logger:        gw.Logger,
	}
}

// run is the session task's main loop. It registers the session, emits the
// hello envelope, starts the keepalive task, then services three event
// sources nondeterministically until one tells it to stop: inbound
// transport frames, outbound sink messages, and the heartbeat tick
// (spec §4.4).
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	token, err := newSessionToken()
	if err != nil {
		s.logger.Error("gateway: failed to mint session token", "error", err)
		_ = s.conn.Close()
		return
	}
	s.sessionToken = token
	s.channelID = s.gw.Registry.Connect(s.sessionToken, s.send)
	s.gw.Broadcaster.Register(s.channelID, s.authAddress, s.subs)
	metrics.ActiveWebSocketClients.Inc()

	defer func() {
		s.gw.Broadcaster.Unregister(s.channelID)
		s.gw.Registry.Disconnect(s.channelID)
		metrics.ActiveWebSocketClients.Dec()
		_ = s.conn.Close()
	}()

	inbound := make(chan inboundFrame, 1)
	s.conn.SetReadLimit(s.gw.Cfg.ReadLimit)
	// The pong handler runs on readLoop's goroutine, so it forwards the pong
	// to run's select loop instead of touching lastHeartbeat itself.
	s.conn.SetPongHandler(func(string) error {
		select {
		case inbound <- inboundFrame{isPong: true}:
		case <-ctx.Done():
		}
		return nil
	})

	hello := wsproto.NewHello(time.Now(), wsproto.HelloParams{
		Motd:          s.gw.Cfg.Motd,
		PublicURL:     s.gw.Cfg.PublicURL,
		PublicWSURL:   s.gw.Cfg.PublicWSURL,
		NameCost:      s.gw.Cfg.NameCost,
		WalletVersion: kristcrypto.WalletVersion,
		DebugMode:     s.gw.Cfg.DebugMode,
	})
	if err := s.writeJSON(hello); err != nil {
		return
	}

	go s.readLoop(ctx, inbound)

	keepaliveDone := make(chan struct{})
	go s.keepaliveLoop(ctx, keepaliveDone)
	defer func() { cancel(); <-keepaliveDone }()

	heartbeat := time.NewTicker(s.gw.Cfg.HeartbeatTick)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-inbound:
			if !ok {
				return
			}
			if frame.closed {
				return
			}
			if frame.isPing {
				s.lastHeartbeat = time.Now()
				_ = s.conn.WriteMessage(websocket.PongMessage, frame.data)
				continue
			}
			if frame.isPong {
				s.lastHeartbeat = time.Now()
				continue
			}
			s.handleText(ctx, frame.data)

		case msg, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-heartbeat.C:
			if time.Since(s.lastHeartbeat) > s.gw.Cfg.ClientTimeout {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleText enforces the command-length cap, decodes the envelope, and
// dispatches it to C8, writing back whatever response the handler produces.
func (s *session) handleText(ctx context.Context, data []byte) {
	if utf8.RuneCount(data) > maxCommandChars {
		s.writeError("", wsproto.ErrMessageTooLong, "message exceeds 512 characters")
		return
	}

	var in wsproto.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		s.writeError("", wsproto.ErrInvalidParameter, "malformed JSON")
		return
	}

	resp := s.dispatch(ctx, in)
	s.writeEnvelope(resp)
}

func (s *session) writeEnvelope(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("gateway: failed to marshal response", "error", err)
		return
	}
	select {
	case s.send <- data:
	default:
		metrics.BroadcastDroppedTotal.WithLabelValues("response").Inc()
	}
}

func (s *session) writeError(id, kind, message string) {
	s.writeEnvelope(wsproto.NewError(id, kind, message))
}

func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// syncSubscription pushes the session's current address/subs to the
// broadcaster's directory; called after login, logout, subscribe, and
// unsubscribe, the only commands that change either field.
func (s *session) syncSubscription() {
	s.gw.Broadcaster.Update(s.channelID, s.authAddress, s.subs)
}

type inboundFrame struct {
	data   []byte
	isPing bool
	isPong bool
	closed bool
}

// readLoop is the only goroutine that calls conn.ReadMessage, since gorilla
// does not support concurrent reads; it forwards decoded frames to run's
// select loop so all session-state mutation stays on one goroutine.
func (s *session) readLoop(ctx context.Context, out chan<- inboundFrame) {
	defer close(out)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{closed: true}:
			case <-ctx.Done():
			}
			return
		}

		var frame inboundFrame
		switch msgType {
		case websocket.TextMessage:
			frame = inboundFrame{data: data}
		case websocket.PingMessage:
			frame = inboundFrame{isPing: true, data: data}
		case websocket.PongMessage:
			frame = inboundFrame{isPong: true}
		default:
			continue
		}

		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// keepaliveLoop direct-sends a keepalive envelope to this session's own
// channel every KeepaliveTick, independent of the heartbeat timer (spec
// §4.4). Closing done lets run's defer wait for this goroutine to notice
// ctx cancellation before the connection is torn down.
func (s *session) keepaliveLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.gw.Cfg.KeepaliveTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := json.Marshal(wsproto.NewKeepalive(time.Now()))
			if err != nil {
				continue
			}
			s.gw.Registry.SendToChannel(s.channelID, data)
		}
	}
}
