package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/kromer-go/kromer/internal/tokencache"
	"github.com/kromer-go/kromer/internal/wsproto"
)

// upgrader is shared by every connection; origin checking is left to the
// caller's CORS policy, matching the rest of the REST surface.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Serve upgrades r to a WebSocket connection and spawns a session task
// bound to params, registering it in the gateway's registry and
// broadcaster. The spawned session keeps r.Context()'s values but not its
// cancellation: net/http cancels that context as soon as the handler
// returns, while the session lives until the connection closes or times out.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, params tokencache.Params) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	sess := newSession(g, conn, params)
	go sess.run(context.WithoutCancel(r.Context()))
	return nil
}

// RejectInvalidToken upgrades the connection per spec §6.1's handshake
// contract even when the token was missing or already expired, then
// immediately sends the protocol error frame and closes — the client
// always gets a WebSocket response, never a bare HTTP error, at this route.
func (g *Gateway) RejectInvalidToken(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	data, err := json.Marshal(wsproto.NewError("", wsproto.ErrInvalidWebsocketToken, "gateway token is invalid or expired"))
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
