package signal

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/campfire-im/relay/internal/domain"
)

// The inbound event surface is a closed set; anything else is refused
// at the boundary with an error frame.
const (
	evJoinConversation  = "join_conversation"
	evLeaveConversation = "leave_conversation"
	evSendMessage       = "send_message"
	evTyping            = "typing"
	evCallOffer         = "call_offer"
	evCallAnswer        = "call_answer"
	evIceCandidate      = "ice_candidate"
	evCallEnded         = "call_ended"
	evPing              = "ping"
)

var validate = validator.New()

type joinConversationEvent struct {
	ConversationID domain.ConversationID `json:"conversation_id" validate:"required"`
}

type leaveConversationEvent struct {
	ConversationID domain.ConversationID `json:"conversation_id" validate:"required"`
}

type sendMessageEvent struct {
	ConversationID domain.ConversationID `json:"conversation_id" validate:"required"`
	Content        string                `json:"content"`
	MessageType    string                `json:"message_type"`
	MediaURL       string                `json:"media_url"`
	ReplyToID      *int64                `json:"reply_to_id"`
}

type typingEvent struct {
	ConversationID domain.ConversationID `json:"conversation_id" validate:"required"`
	IsTyping       bool                  `json:"is_typing"`
}

type callOfferEvent struct {
	CallID       domain.CallID   `json:"call_id" validate:"required"`
	TargetUserID domain.UserID   `json:"target_user_id" validate:"required"`
	Offer        json.RawMessage `json:"offer" validate:"required"`
}

type callAnswerEvent struct {
	CallID       domain.CallID   `json:"call_id" validate:"required"`
	TargetUserID domain.UserID   `json:"target_user_id" validate:"required"`
	Answer       json.RawMessage `json:"answer" validate:"required"`
}

type iceCandidateEvent struct {
	CallID       domain.CallID   `json:"call_id" validate:"required"`
	TargetUserID domain.UserID   `json:"target_user_id"`
	Candidate    json.RawMessage `json:"candidate" validate:"required"`
}

type callEndedEvent struct {
	CallID domain.CallID `json:"call_id" validate:"required"`
}

// decodeEvent unmarshals and validates an inbound payload in one step.
func decodeEvent(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// Outbound frames.

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type ackFrame struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Status string `json:"status"`
}

type joinedFrame struct {
	Type           string                `json:"type"`
	ConversationID domain.ConversationID `json:"conversation_id"`
	Status         string                `json:"status"`
}

type newMessageFrame struct {
	Type           string                `json:"type"`
	ID             int64                 `json:"id"`
	ConversationID domain.ConversationID `json:"conversation_id"`
	SenderID       domain.UserID         `json:"sender_id"`
	Content        string                `json:"content"`
	MessageType    string                `json:"message_type"`
	MediaURL       string                `json:"media_url,omitempty"`
	ReplyToID      *int64                `json:"reply_to_id,omitempty"`
	CreatedAt      string                `json:"created_at"`
}

type messageSentFrame struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	MessageID int64  `json:"message_id"`
}

type userTypingFrame struct {
	Type           string                `json:"type"`
	UserID         domain.UserID         `json:"user_id"`
	ConversationID domain.ConversationID `json:"conversation_id"`
	IsTyping       bool                  `json:"is_typing"`
}

type callOfferFrame struct {
	Type       string          `json:"type"`
	CallID     domain.CallID   `json:"call_id"`
	FromUserID domain.UserID   `json:"from_user_id"`
	Offer      json.RawMessage `json:"offer"`
}

type callAnswerFrame struct {
	Type       string          `json:"type"`
	CallID     domain.CallID   `json:"call_id"`
	FromUserID domain.UserID   `json:"from_user_id"`
	Answer     json.RawMessage `json:"answer"`
}

type iceCandidateFrame struct {
	Type       string          `json:"type"`
	CallID     domain.CallID   `json:"call_id"`
	FromUserID domain.UserID   `json:"from_user_id"`
	Candidate  json.RawMessage `json:"candidate"`
}

type peerLeftFrame struct {
	Type   string        `json:"type"`
	CallID domain.CallID `json:"call_id"`
	UserID domain.UserID `json:"user_id"`
}
