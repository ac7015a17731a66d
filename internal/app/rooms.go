package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/campfire-im/relay/internal/domain"
	"github.com/campfire-im/relay/internal/metrics"
	"github.com/campfire-im/relay/internal/repo"
	"github.com/campfire-im/relay/internal/store"
)

// Rooms tracks which sessions belong to which conversation room and
// fans events out to them.
type Rooms struct {
	store         store.SessionStore
	conversations repo.Conversations
	registry      *Registry
}

func NewRooms(st store.SessionStore, conversations repo.Conversations, registry *Registry) *Rooms {
	return &Rooms{store: st, conversations: conversations, registry: registry}
}

// Join adds the session to the conversation's room after checking the
// user really belongs to the conversation. Idempotent: re-joining does
// not grow the set or the participant counter.
func (r *Rooms) Join(ctx context.Context, conv domain.ConversationID, sid domain.SessionID) error {
	uid, ok, err := r.registry.UserBySession(ctx, sid)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	if !ok {
		return ErrNotAuthenticated
	}
	member, err := r.conversations.IsParticipant(ctx, conv, uid)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return ErrNotAMember
	}

	room := domain.ConversationRoom(conv)
	added, err := r.store.JoinRoom(ctx, room, sid)
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	if added {
		n, err := r.store.IncrementParticipants(ctx, room)
		if err != nil {
			return fmt.Errorf("increment participants: %w", err)
		}
		if n == 1 {
			metrics.ActiveRooms.Inc()
		}
	}
	log.Info().Str("module", "app.rooms").Str("sid", string(sid)).Str("room", string(room)).Msg("joined room")
	return nil
}

// Leave removes the session from the room. Idempotent.
func (r *Rooms) Leave(ctx context.Context, conv domain.ConversationID, sid domain.SessionID) error {
	return r.leaveRoom(ctx, domain.ConversationRoom(conv), sid)
}

func (r *Rooms) leaveRoom(ctx context.Context, room domain.RoomID, sid domain.SessionID) error {
	removed, err := r.store.LeaveRoom(ctx, room, sid)
	if err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	if removed {
		// Decrement floors at zero, a duplicate leave cannot go negative.
		n, err := r.store.DecrementParticipants(ctx, room)
		if err != nil {
			return fmt.Errorf("decrement participants: %w", err)
		}
		if n == 0 {
			metrics.ActiveRooms.Dec()
		}
	}
	return nil
}

// LeaveAll drops the session from every room it is in; part of
// disconnect teardown.
func (r *Rooms) LeaveAll(ctx context.Context, sid domain.SessionID) error {
	rooms, err := r.store.RoomsOf(ctx, sid)
	if err != nil {
		return fmt.Errorf("rooms of session: %w", err)
	}
	for _, room := range rooms {
		if err := r.leaveRoom(ctx, room, sid); err != nil {
			return err
		}
	}
	return nil
}

// Broadcast delivers the frame to every member of the room except
// exclude. Delivery is best-effort over a snapshot of the membership
// taken at call time; dead transports are skipped silently.
func (r *Rooms) Broadcast(ctx context.Context, room domain.RoomID, frame []byte, exclude domain.SessionID) error {
	sids, err := r.store.RoomSessions(ctx, room)
	if err != nil {
		return fmt.Errorf("room sessions: %w", err)
	}
	for _, sid := range sids {
		if sid == exclude {
			continue
		}
		sender, ok := r.registry.Sender(sid)
		if !ok {
			continue
		}
		if err := sender.TrySend(frame); err != nil {
			log.Debug().Str("module", "app.rooms").Str("sid", string(sid)).Err(err).Msg("broadcast delivery skipped")
		}
	}
	return nil
}
