package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/campfire-im/relay/internal/domain"
	"github.com/campfire-im/relay/internal/metrics"
	"github.com/campfire-im/relay/internal/store"
)

// PayloadKind classifies a signaling frame for the relay's buffering
// decision.
type PayloadKind string

const (
	KindOffer     PayloadKind = "offer"
	KindAnswer    PayloadKind = "answer"
	KindCandidate PayloadKind = "candidate"
)

// Relay routes signaling frames between call peers. It owns the peer
// sets and pending candidate queues; both are transient call-scoped
// caches, never authoritative call state.
type Relay struct {
	store    store.SessionStore
	registry *Registry
	calls    *Calls
}

func NewRelay(st store.SessionStore, registry *Registry, calls *Calls) *Relay {
	return &Relay{store: st, registry: registry, calls: calls}
}

// Relay delivers a frame to one peer. If the target has no live session
// the frame is queued only when it carries an ICE candidate; offers and
// answers to unreachable peers are dropped. Returns whether the frame
// was queued.
func (r *Relay) Relay(ctx context.Context, call domain.CallID, to domain.UserID, kind PayloadKind, frame json.RawMessage) (bool, error) {
	sid, ok, err := r.store.SessionByUser(ctx, to)
	if err != nil {
		return false, fmt.Errorf("resolve target: %w", err)
	}
	if ok {
		if sender, live := r.registry.Sender(sid); live {
			if err := sender.TrySend(frame); err == nil {
				metrics.FramesRelayed.WithLabelValues(string(kind)).Inc()
				return false, nil
			}
		}
	}
	if kind != KindCandidate {
		// Offers and answers need a reachable peer; tolerating an absent
		// answerer is a candidates-only affordance.
		log.Debug().Str("module", "app.relay").Int64("call_id", int64(call)).Int64("to", int64(to)).Str("kind", string(kind)).Msg("target unreachable, frame dropped")
		return false, nil
	}
	if err := r.store.EnqueueCandidate(ctx, call, to, frame); err != nil {
		return false, fmt.Errorf("enqueue candidate: %w", err)
	}
	metrics.CandidatesBuffered.Inc()
	return true, nil
}

// RelayBroadcast sends a frame to every peer of the call except the
// sender. Peers without a live session are skipped silently.
func (r *Relay) RelayBroadcast(ctx context.Context, call domain.CallID, from domain.UserID, kind PayloadKind, frame json.RawMessage) error {
	peers, err := r.store.Peers(ctx, call)
	if err != nil {
		return fmt.Errorf("call peers: %w", err)
	}
	for _, peer := range peers {
		if peer.UserID == from {
			continue
		}
		sid, ok, err := r.store.SessionByUser(ctx, peer.UserID)
		if err != nil {
			return fmt.Errorf("resolve peer: %w", err)
		}
		if !ok {
			continue
		}
		if sender, live := r.registry.Sender(sid); live {
			if err := sender.TrySend(frame); err == nil {
				metrics.FramesRelayed.WithLabelValues(string(kind)).Inc()
			}
		}
	}
	return nil
}

// AddPeer upserts the user into the call's peer set and drains any
// candidates queued while the peer was unreachable. The drained frames
// are returned for delivery to the now-reachable peer.
func (r *Relay) AddPeer(ctx context.Context, call domain.CallID, uid domain.UserID, meta map[string]json.RawMessage) ([]json.RawMessage, error) {
	if err := r.store.AddPeer(ctx, call, uid, meta); err != nil {
		return nil, fmt.Errorf("add peer: %w", err)
	}
	queued, err := r.store.DrainCandidates(ctx, call, uid)
	if err != nil {
		return nil, fmt.Errorf("drain candidates: %w", err)
	}
	return queued, nil
}

// RemovePeer deletes the user from the peer set. When the set empties
// the call is force-terminated and its transient state discarded. The
// remaining peers are returned so callers can notify them.
func (r *Relay) RemovePeer(ctx context.Context, call domain.CallID, uid domain.UserID) ([]store.PeerInfo, error) {
	remaining, err := r.store.RemovePeer(ctx, call, uid)
	if err != nil {
		return nil, fmt.Errorf("remove peer: %w", err)
	}
	if remaining == 0 {
		if err := r.store.DropCall(ctx, call); err != nil {
			return nil, fmt.Errorf("drop call: %w", err)
		}
		if err := r.calls.ForceEnd(ctx, call); err != nil {
			log.Warn().Err(err).Str("module", "app.relay").Int64("call_id", int64(call)).Msg("force-end after last peer left")
		}
		return nil, nil
	}
	peers, err := r.store.Peers(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("call peers: %w", err)
	}
	return peers, nil
}

// CallsOf lists the calls the user is currently a signaling peer of.
func (r *Relay) CallsOf(ctx context.Context, uid domain.UserID) ([]domain.CallID, error) {
	return r.store.CallsOf(ctx, uid)
}

// DrainPending returns and empties the queued candidates for a peer.
func (r *Relay) DrainPending(ctx context.Context, call domain.CallID, uid domain.UserID) ([]json.RawMessage, error) {
	return r.store.DrainCandidates(ctx, call, uid)
}
