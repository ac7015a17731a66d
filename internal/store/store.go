// Package store defines the session-store contract shared by the
// in-process and durable backends. Everything the registry, rooms and
// relay keep between events goes through this interface so both
// deployment shapes run the same component logic.
package store

import (
	"context"
	"encoding/json"

	"github.com/campfire-im/relay/internal/domain"
)

// PeerInfo is the ephemeral per-call bookkeeping for one signaling peer,
// such as its last offer payload. It is a cache, not call state.
type PeerInfo struct {
	UserID   domain.UserID
	Metadata map[string]json.RawMessage
}

// SessionStore is the capability set shared by both backends.
//
// Counter mutations must be safe under concurrent callers:
// DecrementParticipants floors at zero and reports success when the floor
// is hit. DrainCandidates returns the queued payloads and empties the
// queue in one step.
type SessionStore interface {
	// Connection bimap. RegisterConnection replaces any session already
	// bound to the user; the superseded session's reverse entry is dropped.
	RegisterConnection(ctx context.Context, sid domain.SessionID, uid domain.UserID) error
	UnregisterConnection(ctx context.Context, sid domain.SessionID) error
	SessionByUser(ctx context.Context, uid domain.UserID) (domain.SessionID, bool, error)
	UserBySession(ctx context.Context, sid domain.SessionID) (domain.UserID, bool, error)

	// Room membership sets, keyed by room id, values are session ids.
	// The returned bool reports whether membership actually changed, so
	// callers can keep participant counters in step with set semantics.
	JoinRoom(ctx context.Context, room domain.RoomID, sid domain.SessionID) (added bool, err error)
	LeaveRoom(ctx context.Context, room domain.RoomID, sid domain.SessionID) (removed bool, err error)
	RoomSessions(ctx context.Context, room domain.RoomID) ([]domain.SessionID, error)
	RoomsOf(ctx context.Context, sid domain.SessionID) ([]domain.RoomID, error)

	// Participant counters, floor at zero.
	IncrementParticipants(ctx context.Context, room domain.RoomID) (int64, error)
	DecrementParticipants(ctx context.Context, room domain.RoomID) (int64, error)

	// Call peer sets.
	AddPeer(ctx context.Context, call domain.CallID, uid domain.UserID, meta map[string]json.RawMessage) error
	RemovePeer(ctx context.Context, call domain.CallID, uid domain.UserID) (remaining int, err error)
	Peers(ctx context.Context, call domain.CallID) ([]PeerInfo, error)
	// CallsOf lists the calls a user is currently a signaling peer of;
	// disconnect teardown walks it.
	CallsOf(ctx context.Context, uid domain.UserID) ([]domain.CallID, error)

	// Pending ICE candidate queues, per (call, user).
	EnqueueCandidate(ctx context.Context, call domain.CallID, uid domain.UserID, payload json.RawMessage) error
	DrainCandidates(ctx context.Context, call domain.CallID, uid domain.UserID) ([]json.RawMessage, error)

	// DropCall discards the peer set and all candidate queues for a call.
	DropCall(ctx context.Context, call domain.CallID) error
}
