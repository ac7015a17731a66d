// Package signal is the realtime event surface: one websocket per
// client, authenticated at the handshake, carrying the closed event set
// for chat fan-out and call signaling.
package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/campfire-im/relay/internal/app"
	"github.com/campfire-im/relay/internal/auth"
	"github.com/campfire-im/relay/internal/domain"
	"github.com/campfire-im/relay/internal/repo"
)

var ErrBackpressure = errors.New("backpressure")

const (
	defaultSendBuffer = 32
	writeTimeout      = 5 * time.Second
	teardownTimeout   = 10 * time.Second
)

// Controller handles one websocket endpoint backed by the relay's core
// services.
type Controller struct {
	Verifier      auth.TokenVerifier
	Registry      *app.Registry
	Rooms         *app.Rooms
	Relay         *app.Relay
	Calls         *app.Calls
	Messages      repo.Messages
	Conversations repo.Conversations
	Limiter       *app.RateLimiter

	ReadLimit  int64
	SendBuffer int
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- frame:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bearerToken pulls the credential from the Authorization header or the
// token query param (browser websockets cannot set headers).
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
	}
	return c.Query("token")
}

// Handle authenticates and upgrades the connection, registers the
// session and runs the pumps until the client goes away.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	uid, err := ctl.Verifier.Verify(bearerToken(c))
	if err != nil {
		// Refused at the transport boundary, no session is created.
		log.Warn().Str("module", "signal").Err(err).Msg("connection rejected")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	buf := ctl.SendBuffer
	if buf <= 0 {
		buf = defaultSendBuffer
	}
	sid := domain.NewSessionID()
	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, buf),
	}

	if err := ctl.Registry.Register(ctx, sid, uid, conn); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("register session")
		conn.Close()
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Int64("user_id", int64(uid)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, uid, conn)
}

// teardown runs the full disconnect cascade: room removal, peer removal
// from any live calls (possibly auto-terminating one), then registry
// cleanup. Disconnect is the only cancellation signal; there is no
// reconnect grace period.
func (ctl *Controller) teardown(sid domain.SessionID, uid domain.UserID) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := ctl.Rooms.LeaveAll(ctx, sid); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("teardown: leave rooms")
	}

	// Only the current session of the user tears down its call peers; a
	// superseded session leaves the new one's calls alone.
	current, ok, err := ctl.Registry.SessionByUser(ctx, uid)
	if err == nil && ok && current == sid {
		calls, err := ctl.Relay.CallsOf(ctx, uid)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("teardown: calls lookup")
		}
		for _, callID := range calls {
			ctl.removePeerAndNotify(ctx, callID, uid)
		}
	}

	if err := ctl.Registry.Unregister(ctx, sid); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("teardown: unregister")
	}
}

// removePeerAndNotify drops the user from a call's peer set, tells the
// remaining peers, and lets the relay auto-terminate an emptied call.
func (ctl *Controller) removePeerAndNotify(ctx context.Context, callID domain.CallID, uid domain.UserID) {
	remaining, err := ctl.Relay.RemovePeer(ctx, callID, uid)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Int64("call_id", int64(callID)).Msg("remove peer")
		return
	}
	if len(remaining) == 0 {
		return
	}
	frame := mustMarshal(peerLeftFrame{
		Type:   "peer_left",
		CallID: callID,
		UserID: uid,
	})
	for _, peer := range remaining {
		ctl.sendToUser(ctx, peer.UserID, frame)
	}
}
