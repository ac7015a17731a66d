// Package domain contains entities without logic, just meta-data.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type (
	UserID         int64
	ConversationID int64
	CallID         int64

	// SessionID identifies one live transport connection.
	SessionID string

	// RoomID names a broadcast group. Chat rooms follow the
	// conversation_{id} convention, see ConversationRoom.
	RoomID string
)

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// ConversationRoom is the room a conversation's members share.
func ConversationRoom(id ConversationID) RoomID {
	return RoomID(fmt.Sprintf("conversation_%d", id))
}
