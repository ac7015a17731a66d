package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/campfire-im/relay/internal/domain"
	"github.com/campfire-im/relay/internal/store"
	"github.com/campfire-im/relay/internal/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.SessionStore {
		return New()
	})
}

func TestConcurrentCounter(t *testing.T) {
	s := New()
	ctx := context.Background()
	room := domain.RoomID("conversation_1")

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := s.IncrementParticipants(ctx, room); err != nil {
					t.Errorf("increment: %v", err)
					return
				}
				if _, err := s.DecrementParticipants(ctx, room); err != nil {
					t.Errorf("decrement: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	n, err := s.DecrementParticipants(ctx, room)
	if err != nil || n != 0 {
		t.Fatalf("counter after balanced churn = %d, %v; want 0", n, err)
	}
}

func TestConcurrentJoins(t *testing.T) {
	s := New()
	ctx := context.Background()
	room := domain.RoomID("conversation_2")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Same session from racing handlers stays one membership entry.
			if _, err := s.JoinRoom(ctx, room, "shared"); err != nil {
				t.Errorf("join: %v", err)
			}
		}()
	}
	wg.Wait()

	sids, err := s.RoomSessions(ctx, room)
	if err != nil || len(sids) != 1 {
		t.Fatalf("RoomSessions = %v, %v; want exactly one entry", sids, err)
	}
}
