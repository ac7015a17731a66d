package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/campfire-im/relay/internal/domain"
	"github.com/campfire-im/relay/internal/metrics"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sid domain.SessionID, uid domain.UserID, c *wsConn) {
	defer func() {
		cancel()
		c.Close()
		ctl.teardown(sid, uid)
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("connection closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			ctl.handleFrame(ctx, sid, uid, c, data)
		}
	}
}

// handleFrame dispatches one inbound event. Handler faults never escape
// the event boundary: they degrade to a generic error frame for the
// caller, the connection stays up.
func (ctl *Controller) handleFrame(ctx context.Context, sid domain.SessionID, uid domain.UserID, c *wsConn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("sid", string(sid)).Any("panic", r).Msg("handler fault")
			ctl.sendError(c, "internal error")
		}
	}()

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}

	if ctl.Limiter != nil && env.Type != evPing && !ctl.Limiter.Allow(uid) {
		ctl.sendError(c, "rate_limited")
		return
	}
	metrics.EventsTotal.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case evJoinConversation:
		ctl.handleJoinConversation(ctx, sid, c, data)
	case evLeaveConversation:
		ctl.handleLeaveConversation(ctx, sid, c, data)
	case evSendMessage:
		ctl.handleSendMessage(ctx, sid, uid, c, data)
	case evTyping:
		ctl.handleTyping(ctx, sid, uid, c, data)
	case evCallOffer:
		ctl.handleCallOffer(ctx, uid, c, data)
	case evCallAnswer:
		ctl.handleCallAnswer(ctx, uid, c, data)
	case evIceCandidate:
		ctl.handleIceCandidate(ctx, uid, c, data)
	case evCallEnded:
		ctl.handleCallEnded(ctx, uid, c, data)
	case evPing:
		ctl.sendJSON(c, struct {
			Type string `json:"type"`
		}{Type: "pong"})
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown event")
		ctl.sendError(c, "unknown event type")
	}
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *wsConn, msg string) {
	ctl.sendJSON(c, errorFrame{Type: "error", Error: msg})
}

func (ctl *Controller) sendAck(c *wsConn, event, status string) {
	ctl.sendJSON(c, ackFrame{Type: "ack", Event: event, Status: status})
}

// sendToUser delivers a frame to the user's current session if it is
// live; unreachable users are skipped silently.
func (ctl *Controller) sendToUser(ctx context.Context, uid domain.UserID, frame []byte) {
	sid, ok, err := ctl.Registry.SessionByUser(ctx, uid)
	if err != nil || !ok {
		return
	}
	if sender, live := ctl.Registry.Sender(sid); live {
		_ = sender.TrySend(frame)
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Frames are plain structs; a marshal failure is a programming error.
		panic(err)
	}
	return b
}
