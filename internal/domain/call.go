package domain

import "time"

type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallRinging   CallStatus = "ringing"
	CallActive    CallStatus = "active"
	CallEnded     CallStatus = "ended"
	CallMissed    CallStatus = "missed"
	CallRejected  CallStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallEnded, CallMissed, CallRejected:
		return true
	}
	return false
}

// Live reports whether the call counts against the one-live-call-per-
// conversation admission rule.
func (s CallStatus) Live() bool {
	switch s {
	case CallInitiated, CallRinging, CallActive:
		return true
	}
	return false
}

// Call is a voice/video negotiation scoped to one conversation. The call
// service is the sole writer of Status, EndedAt and Duration.
type Call struct {
	ID             CallID         `json:"id"`
	ConversationID ConversationID `json:"conversation_id"`
	// InitiatorID is nil once the initiator's account is gone.
	InitiatorID *UserID    `json:"initiator_id"`
	Status      CallStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	// Duration in whole seconds, set when the call reaches a terminal state.
	Duration *int `json:"duration,omitempty"`
}
