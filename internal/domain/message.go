package domain

import "time"

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageMedia MessageType = "media"
)

type Message struct {
	ID             int64          `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	SenderID       UserID         `json:"sender_id"`
	Content        string         `json:"content"`
	MessageType    MessageType    `json:"message_type"`
	MediaURL       string         `json:"media_url,omitempty"`
	ReplyToID      *int64         `json:"reply_to_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

type Conversation struct {
	ID            ConversationID `json:"id"`
	LastMessageAt time.Time      `json:"last_message_at"`
}
