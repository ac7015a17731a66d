// Package repo declares the data-access collaborators the relay depends
// on. They are plain record reads and writes; nothing here coordinates
// or orders anything.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/campfire-im/relay/internal/domain"
)

var (
	ErrNotFound = errors.New("record not found")
)

// NewMessage carries the caller-supplied message fields; the repository
// assigns the id and timestamp.
type NewMessage struct {
	ConversationID domain.ConversationID
	SenderID       domain.UserID
	Content        string
	MessageType    domain.MessageType
	MediaURL       string
	ReplyToID      *int64
}

type Messages interface {
	Create(ctx context.Context, m NewMessage) (*domain.Message, error)
}

type Conversations interface {
	IsParticipant(ctx context.Context, conv domain.ConversationID, uid domain.UserID) (bool, error)
	TouchLastMessage(ctx context.Context, conv domain.ConversationID, at time.Time) error
}

type Users interface {
	TouchLastSeen(ctx context.Context, uid domain.UserID, at time.Time) error
}

type Calls interface {
	Create(ctx context.Context, conv domain.ConversationID, initiator domain.UserID) (*domain.Call, error)
	Get(ctx context.Context, id domain.CallID) (*domain.Call, error)
	Update(ctx context.Context, call *domain.Call) error
	// LiveForConversation returns the call, if any, whose status is
	// non-terminal for the conversation.
	LiveForConversation(ctx context.Context, conv domain.ConversationID) (*domain.Call, error)
}
