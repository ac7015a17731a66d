// Package memory provides in-process repositories for development and
// tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/campfire-im/relay/internal/domain"
	"github.com/campfire-im/relay/internal/repo"
)

type Messages struct {
	mu     sync.Mutex
	nextID int64
	items  []*domain.Message
}

func NewMessages() *Messages {
	return &Messages{nextID: 1}
}

func (r *Messages) Create(_ context.Context, m repo.NewMessage) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := &domain.Message{
		ID:             r.nextID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		MessageType:    m.MessageType,
		MediaURL:       m.MediaURL,
		ReplyToID:      m.ReplyToID,
		CreatedAt:      time.Now().UTC(),
	}
	r.nextID++
	r.items = append(r.items, msg)
	return msg, nil
}

type Conversations struct {
	mu      sync.Mutex
	members map[domain.ConversationID]map[domain.UserID]struct{}
	touched map[domain.ConversationID]time.Time
}

func NewConversations() *Conversations {
	return &Conversations{
		members: make(map[domain.ConversationID]map[domain.UserID]struct{}),
		touched: make(map[domain.ConversationID]time.Time),
	}
}

// AddParticipant seeds membership; the real collaborator manages this
// elsewhere in the product.
func (r *Conversations) AddParticipant(conv domain.ConversationID, uid domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[conv]
	if !ok {
		set = make(map[domain.UserID]struct{})
		r.members[conv] = set
	}
	set[uid] = struct{}{}
}

func (r *Conversations) IsParticipant(_ context.Context, conv domain.ConversationID, uid domain.UserID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[conv][uid]
	return ok, nil
}

func (r *Conversations) TouchLastMessage(_ context.Context, conv domain.ConversationID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched[conv] = at
	return nil
}

type Users struct {
	mu       sync.Mutex
	lastSeen map[domain.UserID]time.Time
}

func NewUsers() *Users {
	return &Users{lastSeen: make(map[domain.UserID]time.Time)}
}

func (r *Users) TouchLastSeen(_ context.Context, uid domain.UserID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeen[uid] = at
	return nil
}

func (r *Users) LastSeen(uid domain.UserID) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.lastSeen[uid]
	return at, ok
}

type Calls struct {
	mu     sync.Mutex
	nextID int64
	items  map[domain.CallID]*domain.Call
}

func NewCalls() *Calls {
	return &Calls{nextID: 1, items: make(map[domain.CallID]*domain.Call)}
}

func (r *Calls) Create(_ context.Context, conv domain.ConversationID, initiator domain.UserID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := &domain.Call{
		ID:             domain.CallID(r.nextID),
		ConversationID: conv,
		InitiatorID:    &initiator,
		Status:         domain.CallInitiated,
		StartedAt:      time.Now().UTC(),
	}
	r.nextID++
	r.items[call.ID] = call
	return clone(call), nil
}

func (r *Calls) Get(_ context.Context, id domain.CallID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.items[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return clone(call), nil
}

func (r *Calls) Update(_ context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[call.ID]; !ok {
		return repo.ErrNotFound
	}
	r.items[call.ID] = clone(call)
	return nil
}

func (r *Calls) LiveForConversation(_ context.Context, conv domain.ConversationID) (*domain.Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, call := range r.items {
		if call.ConversationID == conv && call.Status.Live() {
			return clone(call), nil
		}
	}
	return nil, nil
}

func clone(c *domain.Call) *domain.Call {
	out := *c
	if c.InitiatorID != nil {
		v := *c.InitiatorID
		out.InitiatorID = &v
	}
	if c.EndedAt != nil {
		v := *c.EndedAt
		out.EndedAt = &v
	}
	if c.Duration != nil {
		v := *c.Duration
		out.Duration = &v
	}
	return &out
}
