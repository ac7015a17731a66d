package signal

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/campfire-im/relay/internal/app"
	"github.com/campfire-im/relay/internal/domain"
	"github.com/campfire-im/relay/internal/repo"
)

func (ctl *Controller) handleJoinConversation(ctx context.Context, sid domain.SessionID, c *wsConn, data []byte) {
	var p joinConversationEvent
	if err := decodeEvent(data, &p); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}

	if err := ctl.Rooms.Join(ctx, p.ConversationID, sid); err != nil {
		switch {
		case errors.Is(err, app.ErrNotAMember):
			ctl.sendError(c, "not a participant")
		case errors.Is(err, app.ErrNotAuthenticated):
			ctl.sendError(c, "not authenticated")
		default:
			log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join conversation")
			ctl.sendError(c, "internal error")
		}
		return
	}
	ctl.sendJSON(c, joinedFrame{
		Type:           "joined",
		ConversationID: p.ConversationID,
		Status:         "joined",
	})
}

func (ctl *Controller) handleLeaveConversation(ctx context.Context, sid domain.SessionID, c *wsConn, data []byte) {
	var p leaveConversationEvent
	if err := decodeEvent(data, &p); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}
	if err := ctl.Rooms.Leave(ctx, p.ConversationID, sid); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("leave conversation")
		ctl.sendError(c, "internal error")
		return
	}
	ctl.sendJSON(c, struct {
		Type           string                `json:"type"`
		ConversationID domain.ConversationID `json:"conversation_id"`
	}{Type: "left", ConversationID: p.ConversationID})
}

// handleSendMessage persists the message, bumps the conversation's
// last-activity marker, then fans the new message out to the room.
// Persist and broadcast are not transactionally linked: a crash in
// between leaves a durable message some live members see only on their
// next history fetch.
func (ctl *Controller) handleSendMessage(ctx context.Context, sid domain.SessionID, uid domain.UserID, c *wsConn, data []byte) {
	var p sendMessageEvent
	if err := decodeEvent(data, &p); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}

	member, err := ctl.Conversations.IsParticipant(ctx, p.ConversationID, uid)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("membership check")
		ctl.sendError(c, "internal error")
		return
	}
	if !member {
		ctl.sendError(c, "not a participant")
		return
	}

	msgType := domain.MessageType(p.MessageType)
	if msgType == "" {
		msgType = domain.MessageText
	}
	msg, err := ctl.Messages.Create(ctx, repo.NewMessage{
		ConversationID: p.ConversationID,
		SenderID:       uid,
		Content:        p.Content,
		MessageType:    msgType,
		MediaURL:       p.MediaURL,
		ReplyToID:      p.ReplyToID,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("persist message")
		ctl.sendError(c, "internal error")
		return
	}
	if err := ctl.Conversations.TouchLastMessage(ctx, p.ConversationID, msg.CreatedAt); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("touch conversation")
	}

	frame := mustMarshal(newMessageFrame{
		Type:           "new_message",
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		MessageType:    string(msg.MessageType),
		MediaURL:       msg.MediaURL,
		ReplyToID:      msg.ReplyToID,
		CreatedAt:      msg.CreatedAt.Format(time.RFC3339),
	})
	room := domain.ConversationRoom(p.ConversationID)
	if err := ctl.Rooms.Broadcast(ctx, room, frame, sid); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("room", string(room)).Msg("broadcast message")
	}

	ctl.sendJSON(c, messageSentFrame{Type: "message_sent", Status: "sent", MessageID: msg.ID})
}

// handleTyping broadcasts the indicator to everyone but the sender; no
// persistence.
func (ctl *Controller) handleTyping(ctx context.Context, sid domain.SessionID, uid domain.UserID, c *wsConn, data []byte) {
	var p typingEvent
	if err := decodeEvent(data, &p); err != nil {
		ctl.sendError(c, "bad_payload")
		return
	}
	frame := mustMarshal(userTypingFrame{
		Type:           "user_typing",
		UserID:         uid,
		ConversationID: p.ConversationID,
		IsTyping:       p.IsTyping,
	})
	room := domain.ConversationRoom(p.ConversationID)
	if err := ctl.Rooms.Broadcast(ctx, room, frame, sid); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("room", string(room)).Msg("broadcast typing")
	}
}
