// Package storetest holds the behavioral contract every session-store
// backend must satisfy. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/campfire-im/relay/internal/domain"
	"github.com/campfire-im/relay/internal/store"
)

// Factory returns a fresh, empty store per subtest.
type Factory func(t *testing.T) store.SessionStore

// Run exercises the full contract against the given backend.
func Run(t *testing.T, factory Factory) {
	t.Run("ConnectionBimap", func(t *testing.T) { testConnectionBimap(t, factory(t)) })
	t.Run("SupersedeSession", func(t *testing.T) { testSupersede(t, factory(t)) })
	t.Run("UnregisterIdempotent", func(t *testing.T) { testUnregisterIdempotent(t, factory(t)) })
	t.Run("RoomMembership", func(t *testing.T) { testRoomMembership(t, factory(t)) })
	t.Run("CounterFloor", func(t *testing.T) { testCounterFloor(t, factory(t)) })
	t.Run("PeerSet", func(t *testing.T) { testPeerSet(t, factory(t)) })
	t.Run("CandidateQueue", func(t *testing.T) { testCandidateQueue(t, factory(t)) })
	t.Run("DropCall", func(t *testing.T) { testDropCall(t, factory(t)) })
}

func testConnectionBimap(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	if err := s.RegisterConnection(ctx, "sid-1", 7); err != nil {
		t.Fatalf("register: %v", err)
	}
	sid, ok, err := s.SessionByUser(ctx, 7)
	if err != nil || !ok || sid != "sid-1" {
		t.Fatalf("SessionByUser = %q, %v, %v; want sid-1", sid, ok, err)
	}
	uid, ok, err := s.UserBySession(ctx, "sid-1")
	if err != nil || !ok || uid != 7 {
		t.Fatalf("UserBySession = %d, %v, %v; want 7", uid, ok, err)
	}

	if err := s.UnregisterConnection(ctx, "sid-1"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, ok, _ := s.SessionByUser(ctx, 7); ok {
		t.Fatalf("forward mapping survived unregister")
	}
	if _, ok, _ := s.UserBySession(ctx, "sid-1"); ok {
		t.Fatalf("reverse mapping survived unregister")
	}
}

func testSupersede(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	if err := s.RegisterConnection(ctx, "old", 3); err != nil {
		t.Fatalf("register old: %v", err)
	}
	if err := s.RegisterConnection(ctx, "new", 3); err != nil {
		t.Fatalf("register new: %v", err)
	}
	sid, ok, _ := s.SessionByUser(ctx, 3)
	if !ok || sid != "new" {
		t.Fatalf("SessionByUser = %q; want new", sid)
	}
	if _, ok, _ := s.UserBySession(ctx, "old"); ok {
		t.Fatalf("superseded session still resolvable")
	}

	// Late unregister of the stale session must not evict the new binding.
	if err := s.UnregisterConnection(ctx, "old"); err != nil {
		t.Fatalf("unregister old: %v", err)
	}
	if sid, ok, _ := s.SessionByUser(ctx, 3); !ok || sid != "new" {
		t.Fatalf("current binding lost after stale unregister, got %q ok=%v", sid, ok)
	}
}

func testUnregisterIdempotent(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	if err := s.UnregisterConnection(ctx, "ghost"); err != nil {
		t.Fatalf("unregister of absent session: %v", err)
	}
	if err := s.RegisterConnection(ctx, "s", 1); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.UnregisterConnection(ctx, "s"); err != nil {
		t.Fatalf("first unregister: %v", err)
	}
	if err := s.UnregisterConnection(ctx, "s"); err != nil {
		t.Fatalf("second unregister: %v", err)
	}
}

func testRoomMembership(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	room := domain.RoomID("conversation_42")
	added, err := s.JoinRoom(ctx, room, "a")
	if err != nil || !added {
		t.Fatalf("first join = %v, %v; want added", added, err)
	}
	added, err = s.JoinRoom(ctx, room, "a")
	if err != nil || added {
		t.Fatalf("duplicate join = %v, %v; want not added", added, err)
	}
	if _, err := s.JoinRoom(ctx, room, "b"); err != nil {
		t.Fatalf("join b: %v", err)
	}
	sids, err := s.RoomSessions(ctx, room)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sids) != 2 {
		t.Fatalf("expected 2 members after duplicate join, got %d", len(sids))
	}

	rooms, err := s.RoomsOf(ctx, "a")
	if err != nil || len(rooms) != 1 || rooms[0] != room {
		t.Fatalf("RoomsOf(a) = %v, %v", rooms, err)
	}

	removed, err := s.LeaveRoom(ctx, room, "a")
	if err != nil || !removed {
		t.Fatalf("leave = %v, %v; want removed", removed, err)
	}
	removed, err = s.LeaveRoom(ctx, room, "a")
	if err != nil || removed {
		t.Fatalf("duplicate leave = %v, %v; want no-op", removed, err)
	}
	sids, _ = s.RoomSessions(ctx, room)
	if len(sids) != 1 || sids[0] != "b" {
		t.Fatalf("expected only b left, got %v", sids)
	}
}

func testCounterFloor(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	room := domain.RoomID("conversation_9")

	// Duplicate decrement on an empty counter stays at zero and succeeds.
	n, err := s.DecrementParticipants(ctx, room)
	if err != nil || n != 0 {
		t.Fatalf("decrement at floor = %d, %v; want 0, nil", n, err)
	}

	if n, err = s.IncrementParticipants(ctx, room); err != nil || n != 1 {
		t.Fatalf("increment = %d, %v; want 1", n, err)
	}
	if n, err = s.IncrementParticipants(ctx, room); err != nil || n != 2 {
		t.Fatalf("increment = %d, %v; want 2", n, err)
	}
	if n, err = s.DecrementParticipants(ctx, room); err != nil || n != 1 {
		t.Fatalf("decrement = %d, %v; want 1", n, err)
	}
	if n, err = s.DecrementParticipants(ctx, room); err != nil || n != 0 {
		t.Fatalf("decrement = %d, %v; want 0", n, err)
	}
	if n, err = s.DecrementParticipants(ctx, room); err != nil || n != 0 {
		t.Fatalf("decrement past floor = %d, %v; want 0, nil", n, err)
	}
}

func testPeerSet(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	call := domain.CallID(7)
	offer := json.RawMessage(`{"sdp":"v=0"}`)

	if err := s.AddPeer(ctx, call, 1, map[string]json.RawMessage{"offer": offer}); err != nil {
		t.Fatalf("add peer: %v", err)
	}
	if err := s.AddPeer(ctx, call, 2, nil); err != nil {
		t.Fatalf("add peer 2: %v", err)
	}
	// Upsert: adding the same user again must not grow the set.
	if err := s.AddPeer(ctx, call, 1, nil); err != nil {
		t.Fatalf("re-add peer: %v", err)
	}

	peers, err := s.Peers(ctx, call)
	if err != nil {
		t.Fatalf("peers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(peers))
	}

	calls, err := s.CallsOf(ctx, 1)
	if err != nil || len(calls) != 1 || calls[0] != call {
		t.Fatalf("CallsOf(1) = %v, %v; want [%d]", calls, err, call)
	}

	left, err := s.RemovePeer(ctx, call, 1)
	if err != nil || left != 1 {
		t.Fatalf("remove = %d, %v; want 1 remaining", left, err)
	}
	left, err = s.RemovePeer(ctx, call, 2)
	if err != nil || left != 0 {
		t.Fatalf("remove last = %d, %v; want 0 remaining", left, err)
	}
	peers, _ = s.Peers(ctx, call)
	if len(peers) != 0 {
		t.Fatalf("peer set not empty after all removals: %v", peers)
	}
	calls, _ = s.CallsOf(ctx, 2)
	if len(calls) != 0 {
		t.Fatalf("CallsOf(2) not empty after removal: %v", calls)
	}
}

func testCandidateQueue(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	call := domain.CallID(11)

	c1 := json.RawMessage(`{"candidate":"a"}`)
	c2 := json.RawMessage(`{"candidate":"b"}`)
	if err := s.EnqueueCandidate(ctx, call, 5, c1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.EnqueueCandidate(ctx, call, 5, c2); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := s.DrainCandidates(ctx, call, 5)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 2 || string(got[0]) != string(c1) || string(got[1]) != string(c2) {
		t.Fatalf("drain returned %v; want [a b] in order", got)
	}

	// Drain empties atomically: a second drain yields nothing.
	got, err = s.DrainCandidates(ctx, call, 5)
	if err != nil || len(got) != 0 {
		t.Fatalf("second drain = %v, %v; want empty", got, err)
	}
}

func testDropCall(t *testing.T, s store.SessionStore) {
	ctx := context.Background()
	call := domain.CallID(13)
	if err := s.AddPeer(ctx, call, 1, nil); err != nil {
		t.Fatalf("add peer: %v", err)
	}
	if err := s.EnqueueCandidate(ctx, call, 2, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.DropCall(ctx, call); err != nil {
		t.Fatalf("drop: %v", err)
	}
	peers, _ := s.Peers(ctx, call)
	if len(peers) != 0 {
		t.Fatalf("peers survived drop: %v", peers)
	}
	got, _ := s.DrainCandidates(ctx, call, 2)
	if len(got) != 0 {
		t.Fatalf("queued candidates survived drop: %v", got)
	}
}
