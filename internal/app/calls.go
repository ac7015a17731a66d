package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/campfire-im/relay/internal/domain"
	"github.com/campfire-im/relay/internal/metrics"
	"github.com/campfire-im/relay/internal/repo"
)

// Calls is the per-conversation call state machine and the sole writer
// of call status, ended_at and duration.
type Calls struct {
	calls         repo.Calls
	conversations repo.Conversations
}

func NewCalls(calls repo.Calls, conversations repo.Conversations) *Calls {
	return &Calls{calls: calls, conversations: conversations}
}

// Initiate creates a call after admission control: at most one call in a
// non-terminal state may exist per conversation.
func (s *Calls) Initiate(ctx context.Context, conv domain.ConversationID, initiator domain.UserID) (*domain.Call, error) {
	member, err := s.conversations.IsParticipant(ctx, conv, initiator)
	if err != nil {
		return nil, fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return nil, ErrNotAMember
	}

	live, err := s.calls.LiveForConversation(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("live call lookup: %w", err)
	}
	if live != nil {
		return nil, ErrCallAlreadyActive
	}

	call, err := s.calls.Create(ctx, conv, initiator)
	if err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	metrics.LiveCalls.Inc()
	log.Info().Str("module", "app.calls").Int64("call_id", int64(call.ID)).Int64("conversation_id", int64(conv)).Msg("call initiated")
	return call, nil
}

// Accept moves an INITIATED or RINGING call to ACTIVE.
func (s *Calls) Accept(ctx context.Context, id domain.CallID, uid domain.UserID) (*domain.Call, error) {
	return s.transition(ctx, id, uid, func(call *domain.Call) error {
		if call.Status != domain.CallInitiated && call.Status != domain.CallRinging {
			return ErrInvalidTransition
		}
		call.Status = domain.CallActive
		return nil
	})
}

// Reject terminates an INITIATED or RINGING call.
func (s *Calls) Reject(ctx context.Context, id domain.CallID, uid domain.UserID) (*domain.Call, error) {
	return s.transition(ctx, id, uid, func(call *domain.Call) error {
		if call.Status != domain.CallInitiated && call.Status != domain.CallRinging {
			return ErrInvalidTransition
		}
		now := time.Now().UTC()
		call.Status = domain.CallRejected
		call.EndedAt = &now
		metrics.LiveCalls.Dec()
		return nil
	})
}

// End terminates an ACTIVE call. Duration is the caller's figure when
// supplied, otherwise computed from started_at.
func (s *Calls) End(ctx context.Context, id domain.CallID, uid domain.UserID, duration *int) (*domain.Call, error) {
	return s.transition(ctx, id, uid, func(call *domain.Call) error {
		if call.Status != domain.CallActive {
			return ErrInvalidTransition
		}
		now := time.Now().UTC()
		call.Status = domain.CallEnded
		call.EndedAt = &now
		if duration != nil {
			call.Duration = duration
		} else {
			d := int(now.Sub(call.StartedAt).Seconds())
			call.Duration = &d
		}
		metrics.LiveCalls.Dec()
		return nil
	})
}

// ForceEnd is the teardown path for a call whose peer set emptied. It is
// idempotent: a call already in a terminal state is left untouched.
func (s *Calls) ForceEnd(ctx context.Context, id domain.CallID) error {
	call, err := s.calls.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get call: %w", err)
	}
	if call.Status.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	call.Status = domain.CallEnded
	call.EndedAt = &now
	d := int(now.Sub(call.StartedAt).Seconds())
	call.Duration = &d
	if err := s.calls.Update(ctx, call); err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	metrics.LiveCalls.Dec()
	log.Info().Str("module", "app.calls").Int64("call_id", int64(id)).Int("duration", d).Msg("call auto-terminated")
	return nil
}

func (s *Calls) Get(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	call, err := s.calls.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnknownCall
		}
		return nil, err
	}
	return call, nil
}

func (s *Calls) transition(ctx context.Context, id domain.CallID, uid domain.UserID, apply func(*domain.Call) error) (*domain.Call, error) {
	call, err := s.calls.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnknownCall
		}
		return nil, fmt.Errorf("get call: %w", err)
	}

	member, err := s.conversations.IsParticipant(ctx, call.ConversationID, uid)
	if err != nil {
		return nil, fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return nil, ErrNotAMember
	}

	if call.Status.Terminal() {
		return nil, ErrInvalidTransition
	}
	if err := apply(call); err != nil {
		return nil, err
	}
	if err := s.calls.Update(ctx, call); err != nil {
		return nil, fmt.Errorf("update call: %w", err)
	}
	log.Info().Str("module", "app.calls").Int64("call_id", int64(id)).Str("status", string(call.Status)).Msg("call transition")
	return call, nil
}
