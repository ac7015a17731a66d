package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/campfire-im/relay/internal/domain"
	"github.com/campfire-im/relay/internal/metrics"
	"github.com/campfire-im/relay/internal/store"
)

// Sender delivers one frame to a live transport connection without
// blocking. Delivery failure means the peer is effectively gone.
type Sender interface {
	TrySend(frame []byte) error
}

// Registry owns the session↔user lifecycle. Session facts live in the
// session store; the sender table is in-process transport state.
type Registry struct {
	store    store.SessionStore
	presence *Presence

	mu      sync.RWMutex
	senders map[domain.SessionID]Sender
}

func NewRegistry(st store.SessionStore, presence *Presence) *Registry {
	return &Registry{
		store:    st,
		presence: presence,
		senders:  make(map[domain.SessionID]Sender),
	}
}

// Register binds a freshly authenticated session. A prior session of the
// same user is superseded: its binding is dropped but its transport is
// left alone, it will fail its next lookup.
func (r *Registry) Register(ctx context.Context, sid domain.SessionID, uid domain.UserID, sender Sender) error {
	if old, ok, err := r.store.SessionByUser(ctx, uid); err == nil && ok && old != sid {
		log.Info().Str("module", "app.registry").Int64("user_id", int64(uid)).Str("old_sid", string(old)).Str("sid", string(sid)).Msg("superseding session")
		r.mu.Lock()
		delete(r.senders, old)
		r.mu.Unlock()
	}
	if err := r.store.RegisterConnection(ctx, sid, uid); err != nil {
		return err
	}
	r.mu.Lock()
	r.senders[sid] = sender
	r.mu.Unlock()

	metrics.ActiveSessions.Inc()
	r.presence.Touch(uid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int64("user_id", int64(uid)).Msg("session registered")
	return nil
}

// Unregister removes both directions of the mapping. No-op for unknown
// sessions.
func (r *Registry) Unregister(ctx context.Context, sid domain.SessionID) error {
	uid, known, err := r.store.UserBySession(ctx, sid)
	if err != nil {
		return err
	}
	if err := r.store.UnregisterConnection(ctx, sid); err != nil {
		return err
	}

	r.mu.Lock()
	_, hadSender := r.senders[sid]
	delete(r.senders, sid)
	r.mu.Unlock()

	if known {
		if hadSender {
			metrics.ActiveSessions.Dec()
		}
		r.presence.Touch(uid)
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int64("user_id", int64(uid)).Msg("session unregistered")
	}
	return nil
}

func (r *Registry) SessionByUser(ctx context.Context, uid domain.UserID) (domain.SessionID, bool, error) {
	return r.store.SessionByUser(ctx, uid)
}

func (r *Registry) UserBySession(ctx context.Context, sid domain.SessionID) (domain.UserID, bool, error) {
	return r.store.UserBySession(ctx, sid)
}

// Sender resolves the in-process delivery handle for a session.
func (r *Registry) Sender(sid domain.SessionID) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[sid]
	return s, ok
}
