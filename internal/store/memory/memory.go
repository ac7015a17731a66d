// Package memory is the in-process session store: mutex-guarded maps
// with copy-on-read snapshots.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/campfire-im/relay/internal/domain"
	"github.com/campfire-im/relay/internal/store"
)

type Store struct {
	mu sync.RWMutex

	byUser    map[domain.UserID]domain.SessionID
	bySession map[domain.SessionID]domain.UserID

	rooms    map[domain.RoomID]map[domain.SessionID]struct{}
	counters map[domain.RoomID]int64

	peers   map[domain.CallID]map[domain.UserID]map[string]json.RawMessage
	pending map[domain.CallID]map[domain.UserID][]json.RawMessage
}

func New() *Store {
	return &Store{
		byUser:    make(map[domain.UserID]domain.SessionID),
		bySession: make(map[domain.SessionID]domain.UserID),
		rooms:     make(map[domain.RoomID]map[domain.SessionID]struct{}),
		counters:  make(map[domain.RoomID]int64),
		peers:     make(map[domain.CallID]map[domain.UserID]map[string]json.RawMessage),
		pending:   make(map[domain.CallID]map[domain.UserID][]json.RawMessage),
	}
}

var _ store.SessionStore = (*Store)(nil)

func (s *Store) RegisterConnection(_ context.Context, sid domain.SessionID, uid domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byUser[uid]; ok {
		delete(s.bySession, old)
	}
	s.byUser[uid] = sid
	s.bySession[sid] = uid
	return nil
}

func (s *Store) UnregisterConnection(_ context.Context, sid domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.bySession[sid]
	if !ok {
		return nil
	}
	delete(s.bySession, sid)
	// Only unmap the user if this session is still the current one.
	if cur, ok := s.byUser[uid]; ok && cur == sid {
		delete(s.byUser, uid)
	}
	return nil
}

func (s *Store) SessionByUser(_ context.Context, uid domain.UserID) (domain.SessionID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sid, ok := s.byUser[uid]
	return sid, ok, nil
}

func (s *Store) UserBySession(_ context.Context, sid domain.SessionID) (domain.UserID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uid, ok := s.bySession[sid]
	return uid, ok, nil
}

func (s *Store) JoinRoom(_ context.Context, room domain.RoomID, sid domain.SessionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.rooms[room]
	if !ok {
		set = make(map[domain.SessionID]struct{})
		s.rooms[room] = set
	}
	if _, exists := set[sid]; exists {
		return false, nil
	}
	set[sid] = struct{}{}
	return true, nil
}

func (s *Store) LeaveRoom(_ context.Context, room domain.RoomID, sid domain.SessionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.rooms[room]
	if !ok {
		return false, nil
	}
	if _, exists := set[sid]; !exists {
		return false, nil
	}
	delete(set, sid)
	if len(set) == 0 {
		delete(s.rooms, room)
	}
	return true, nil
}

func (s *Store) RoomSessions(_ context.Context, room domain.RoomID) ([]domain.SessionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.rooms[room]
	out := make([]domain.SessionID, 0, len(set))
	for sid := range set {
		out = append(out, sid)
	}
	return out, nil
}

func (s *Store) RoomsOf(_ context.Context, sid domain.SessionID) ([]domain.RoomID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RoomID
	for room, set := range s.rooms {
		if _, ok := set[sid]; ok {
			out = append(out, room)
		}
	}
	return out, nil
}

func (s *Store) IncrementParticipants(_ context.Context, room domain.RoomID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[room]++
	return s.counters[room], nil
}

func (s *Store) DecrementParticipants(_ context.Context, room domain.RoomID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters[room] <= 0 {
		// Floor at zero: duplicate decrements succeed as no-ops.
		s.counters[room] = 0
		return 0, nil
	}
	s.counters[room]--
	return s.counters[room], nil
}

func (s *Store) AddPeer(_ context.Context, call domain.CallID, uid domain.UserID, meta map[string]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.peers[call]
	if !ok {
		set = make(map[domain.UserID]map[string]json.RawMessage)
		s.peers[call] = set
	}
	cloned := make(map[string]json.RawMessage, len(meta))
	for k, v := range meta {
		cloned[k] = append(json.RawMessage(nil), v...)
	}
	set[uid] = cloned
	return nil
}

func (s *Store) RemovePeer(_ context.Context, call domain.CallID, uid domain.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.peers[call]
	if !ok {
		return 0, nil
	}
	delete(set, uid)
	if len(set) == 0 {
		delete(s.peers, call)
		delete(s.pending, call)
		return 0, nil
	}
	return len(set), nil
}

func (s *Store) Peers(_ context.Context, call domain.CallID) ([]store.PeerInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.peers[call]
	out := make([]store.PeerInfo, 0, len(set))
	for uid, meta := range set {
		cloned := make(map[string]json.RawMessage, len(meta))
		for k, v := range meta {
			cloned[k] = append(json.RawMessage(nil), v...)
		}
		out = append(out, store.PeerInfo{UserID: uid, Metadata: cloned})
	}
	return out, nil
}

func (s *Store) CallsOf(_ context.Context, uid domain.UserID) ([]domain.CallID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.CallID
	for call, set := range s.peers {
		if _, ok := set[uid]; ok {
			out = append(out, call)
		}
	}
	return out, nil
}

func (s *Store) EnqueueCandidate(_ context.Context, call domain.CallID, uid domain.UserID, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	queues, ok := s.pending[call]
	if !ok {
		queues = make(map[domain.UserID][]json.RawMessage)
		s.pending[call] = queues
	}
	queues[uid] = append(queues[uid], append(json.RawMessage(nil), payload...))
	return nil
}

func (s *Store) DrainCandidates(_ context.Context, call domain.CallID, uid domain.UserID) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queues, ok := s.pending[call]
	if !ok {
		return nil, nil
	}
	out := queues[uid]
	delete(queues, uid)
	if len(queues) == 0 {
		delete(s.pending, call)
	}
	return out, nil
}

func (s *Store) DropCall(_ context.Context, call domain.CallID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, call)
	delete(s.pending, call)
	return nil
}
