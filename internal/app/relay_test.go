package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/campfire-im/relay/internal/domain"
	repomem "github.com/campfire-im/relay/internal/repo/memory"
	storemem "github.com/campfire-im/relay/internal/store/memory"
)

type relayEnv struct {
	registry *Registry
	relay    *Relay
	calls    *Calls
}

func newRelayEnv(t *testing.T) *relayEnv {
	t.Helper()
	st := storemem.New()
	registry := NewRegistry(st, NewPresence(repomem.NewUsers()))
	conversations := repomem.NewConversations()
	conversations.AddParticipant(1, 1)
	conversations.AddParticipant(1, 2)
	calls := NewCalls(repomem.NewCalls(), conversations)
	return &relayEnv{
		registry: registry,
		relay:    NewRelay(st, registry, calls),
		calls:    calls,
	}
}

func (e *relayEnv) connect(t *testing.T, uid domain.UserID) *fakeSender {
	t.Helper()
	sender := &fakeSender{}
	if err := e.registry.Register(context.Background(), domain.NewSessionID(), uid, sender); err != nil {
		t.Fatalf("register user %d: %v", uid, err)
	}
	return sender
}

func TestRelayDeliversToLivePeer(t *testing.T) {
	ctx := context.Background()
	env := newRelayEnv(t)
	target := env.connect(t, 2)

	frame := json.RawMessage(`{"type":"call_offer"}`)
	queued, err := env.relay.Relay(ctx, 1, 2, KindOffer, frame)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if queued {
		t.Fatal("frame to live peer reported as queued")
	}
	if target.count() != 1 {
		t.Fatalf("target received %d frames, want 1", target.count())
	}
}

func TestRelayDropsOfferToOfflinePeer(t *testing.T) {
	ctx := context.Background()
	env := newRelayEnv(t)

	for _, kind := range []PayloadKind{KindOffer, KindAnswer} {
		queued, err := env.relay.Relay(ctx, 1, 2, kind, json.RawMessage(`{}`))
		if err != nil {
			t.Fatalf("relay %s: %v", kind, err)
		}
		if queued {
			t.Fatalf("%s to offline peer was queued", kind)
		}
	}
	pending, err := env.relay.DrainPending(ctx, 1, 2)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("offline offer/answer left %d queued frames", len(pending))
	}
}

func TestRelayQueuesCandidateForOfflinePeer(t *testing.T) {
	ctx := context.Background()
	env := newRelayEnv(t)

	first := json.RawMessage(`{"type":"ice_candidate","n":1}`)
	second := json.RawMessage(`{"type":"ice_candidate","n":2}`)
	for _, frame := range []json.RawMessage{first, second} {
		queued, err := env.relay.Relay(ctx, 1, 2, KindCandidate, frame)
		if err != nil {
			t.Fatalf("relay candidate: %v", err)
		}
		if !queued {
			t.Fatal("candidate to offline peer was not queued")
		}
	}

	// The peer shows up: AddPeer drains the queue in arrival order, once.
	drained, err := env.relay.AddPeer(ctx, 1, 2, nil)
	if err != nil {
		t.Fatalf("add peer: %v", err)
	}
	if len(drained) != 2 {
		t.Fatalf("drained %d frames, want 2", len(drained))
	}
	if string(drained[0]) != string(first) || string(drained[1]) != string(second) {
		t.Fatalf("drained out of order: %s, %s", drained[0], drained[1])
	}

	again, err := env.relay.DrainPending(ctx, 1, 2)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second drain returned %d frames, want 0", len(again))
	}
}

func TestRelayBroadcastSkipsSenderAndOffline(t *testing.T) {
	ctx := context.Background()
	env := newRelayEnv(t)
	sender := env.connect(t, 1)
	if _, err := env.relay.AddPeer(ctx, 1, 1, nil); err != nil {
		t.Fatalf("add peer 1: %v", err)
	}
	if _, err := env.relay.AddPeer(ctx, 1, 2, nil); err != nil { // never connects
		t.Fatalf("add peer 2: %v", err)
	}

	if err := env.relay.RelayBroadcast(ctx, 1, 1, KindCandidate, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if sender.count() != 0 {
		t.Fatalf("sender received its own broadcast, %d frames", sender.count())
	}
}

func TestRemovePeerReportsRemaining(t *testing.T) {
	ctx := context.Background()
	env := newRelayEnv(t)
	if _, err := env.relay.AddPeer(ctx, 1, 1, nil); err != nil {
		t.Fatalf("add peer: %v", err)
	}
	if _, err := env.relay.AddPeer(ctx, 1, 2, nil); err != nil {
		t.Fatalf("add peer: %v", err)
	}

	remaining, err := env.relay.RemovePeer(ctx, 1, 1)
	if err != nil {
		t.Fatalf("remove peer: %v", err)
	}
	if len(remaining) != 1 || remaining[0].UserID != 2 {
		t.Fatalf("remaining = %+v, want just user 2", remaining)
	}
}

func TestLastPeerLeavingEndsCall(t *testing.T) {
	ctx := context.Background()
	env := newRelayEnv(t)

	call, err := env.calls.Initiate(ctx, 1, 1)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := env.calls.Accept(ctx, call.ID, 2); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := env.relay.AddPeer(ctx, call.ID, 1, nil); err != nil {
		t.Fatalf("add peer: %v", err)
	}
	if _, err := env.relay.Relay(ctx, call.ID, 2, KindCandidate, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("queue candidate: %v", err)
	}

	remaining, err := env.relay.RemovePeer(ctx, call.ID, 1)
	if err != nil {
		t.Fatalf("remove last peer: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("remaining after last peer = %d", len(remaining))
	}

	got, err := env.calls.Get(ctx, call.ID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if got.Status != domain.CallEnded {
		t.Fatalf("call status = %s, want %s", got.Status, domain.CallEnded)
	}
	if got.Duration == nil {
		t.Fatal("auto-terminated call has no duration")
	}

	// Transient state is gone with the call.
	pending, err := env.relay.DrainPending(ctx, call.ID, 2)
	if err != nil {
		t.Fatalf("drain after drop: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("dropped call still holds %d queued frames", len(pending))
	}
	userCalls, err := env.relay.CallsOf(ctx, 1)
	if err != nil {
		t.Fatalf("calls of: %v", err)
	}
	if len(userCalls) != 0 {
		t.Fatalf("user still attached to %d calls", len(userCalls))
	}
}
