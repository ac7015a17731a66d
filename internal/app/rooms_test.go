package app

import (
	"context"
	"errors"
	"testing"

	"github.com/campfire-im/relay/internal/domain"
	repomem "github.com/campfire-im/relay/internal/repo/memory"
	storemem "github.com/campfire-im/relay/internal/store/memory"
)

type roomsEnv struct {
	store         *storemem.Store
	conversations *repomem.Conversations
	registry      *Registry
	rooms         *Rooms
}

func newRoomsEnv(t *testing.T) *roomsEnv {
	t.Helper()
	st := storemem.New()
	conversations := repomem.NewConversations()
	registry := NewRegistry(st, NewPresence(repomem.NewUsers()))
	return &roomsEnv{
		store:         st,
		conversations: conversations,
		registry:      registry,
		rooms:         NewRooms(st, conversations, registry),
	}
}

func (e *roomsEnv) connect(t *testing.T, uid domain.UserID) (domain.SessionID, *fakeSender) {
	t.Helper()
	sid := domain.NewSessionID()
	sender := &fakeSender{}
	if err := e.registry.Register(context.Background(), sid, uid, sender); err != nil {
		t.Fatalf("register user %d: %v", uid, err)
	}
	return sid, sender
}

func TestJoinRequiresMembership(t *testing.T) {
	ctx := context.Background()
	env := newRoomsEnv(t)
	conv := domain.ConversationID(1)
	env.conversations.AddParticipant(conv, 1)

	sid, _ := env.connect(t, 2)
	if err := env.rooms.Join(ctx, conv, sid); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("join as outsider = %v; want ErrNotAMember", err)
	}

	if err := env.rooms.Join(ctx, conv, domain.NewSessionID()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("join with unknown session = %v; want ErrNotAuthenticated", err)
	}
}

func TestJoinIdempotentCounter(t *testing.T) {
	ctx := context.Background()
	env := newRoomsEnv(t)
	conv := domain.ConversationID(1)
	env.conversations.AddParticipant(conv, 1)
	sid, _ := env.connect(t, 1)

	for i := 0; i < 3; i++ {
		if err := env.rooms.Join(ctx, conv, sid); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	room := domain.ConversationRoom(conv)
	sids, err := env.store.RoomSessions(ctx, room)
	if err != nil {
		t.Fatalf("room sessions: %v", err)
	}
	if len(sids) != 1 {
		t.Fatalf("room has %d members after repeated joins, want 1", len(sids))
	}

	// One real leave plus a duplicate; the counter must not go negative
	// and a later join must count from zero again.
	if err := env.rooms.Leave(ctx, conv, sid); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := env.rooms.Leave(ctx, conv, sid); err != nil {
		t.Fatalf("duplicate leave: %v", err)
	}
	if n, err := env.store.IncrementParticipants(ctx, room); err != nil || n != 1 {
		t.Fatalf("counter after leave cycle = %d, %v; want 1", n, err)
	}
}

func TestBroadcastExcludesSenderAndOutsiders(t *testing.T) {
	ctx := context.Background()
	env := newRoomsEnv(t)
	conv := domain.ConversationID(9)
	for uid := domain.UserID(1); uid <= 3; uid++ {
		env.conversations.AddParticipant(conv, uid)
	}

	sid1, s1 := env.connect(t, 1)
	sid2, s2 := env.connect(t, 2)
	_, s3 := env.connect(t, 3) // connected but never joins the room

	for _, sid := range []domain.SessionID{sid1, sid2} {
		if err := env.rooms.Join(ctx, conv, sid); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	frame := []byte(`{"type":"new_message"}`)
	if err := env.rooms.Broadcast(ctx, domain.ConversationRoom(conv), frame, sid1); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if s1.count() != 0 {
		t.Fatalf("excluded sender received %d frames", s1.count())
	}
	if s2.count() != 1 {
		t.Fatalf("room member received %d frames, want 1", s2.count())
	}
	if s3.count() != 0 {
		t.Fatalf("non-joined session received %d frames", s3.count())
	}
	if got := string(s2.last()); got != string(frame) {
		t.Fatalf("delivered frame = %s, want %s", got, frame)
	}
}

func TestBroadcastSkipsDeadTransport(t *testing.T) {
	ctx := context.Background()
	env := newRoomsEnv(t)
	conv := domain.ConversationID(4)
	env.conversations.AddParticipant(conv, 1)
	env.conversations.AddParticipant(conv, 2)

	sid1, s1 := env.connect(t, 1)
	sid2, s2 := env.connect(t, 2)
	s2.fail = true
	for _, sid := range []domain.SessionID{sid1, sid2} {
		if err := env.rooms.Join(ctx, conv, sid); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	if err := env.rooms.Broadcast(ctx, domain.ConversationRoom(conv), []byte(`{}`), ""); err != nil {
		t.Fatalf("broadcast with dead member: %v", err)
	}
	if s1.count() != 1 {
		t.Fatalf("live member received %d frames, want 1", s1.count())
	}
}

func TestLeaveAll(t *testing.T) {
	ctx := context.Background()
	env := newRoomsEnv(t)
	sid, _ := env.connect(t, 1)
	for conv := domain.ConversationID(1); conv <= 3; conv++ {
		env.conversations.AddParticipant(conv, 1)
		if err := env.rooms.Join(ctx, conv, sid); err != nil {
			t.Fatalf("join %d: %v", conv, err)
		}
	}

	if err := env.rooms.LeaveAll(ctx, sid); err != nil {
		t.Fatalf("leave all: %v", err)
	}
	rooms, err := env.store.RoomsOf(ctx, sid)
	if err != nil {
		t.Fatalf("rooms of: %v", err)
	}
	if len(rooms) != 0 {
		t.Fatalf("session still in %d rooms after LeaveAll", len(rooms))
	}
}
