package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/campfire-im/relay/internal/domain"
	repomem "github.com/campfire-im/relay/internal/repo/memory"
	storemem "github.com/campfire-im/relay/internal/store/memory"
)

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (f *fakeSender) TrySend(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("transport dead")
	}
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeSender) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

// failingUsers always refuses presence writes.
type failingUsers struct{}

func (failingUsers) TouchLastSeen(context.Context, domain.UserID, time.Time) error {
	return errors.New("db down")
}

func TestRegisterUnregisterNoTrace(t *testing.T) {
	ctx := context.Background()
	users := repomem.NewUsers()
	reg := NewRegistry(storemem.New(), NewPresence(users))

	sid := domain.NewSessionID()
	uid := domain.UserID(7)
	sender := &fakeSender{}

	if err := reg.Register(ctx, sid, uid, sender); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got, ok, _ := reg.SessionByUser(ctx, uid); !ok || got != sid {
		t.Fatalf("SessionByUser = %q, %v; want %q, true", got, ok, sid)
	}
	if got, ok, _ := reg.UserBySession(ctx, sid); !ok || got != uid {
		t.Fatalf("UserBySession = %d, %v; want %d, true", got, ok, uid)
	}
	if _, ok := reg.Sender(sid); !ok {
		t.Fatal("expected sender for registered session")
	}

	if err := reg.Unregister(ctx, sid); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, ok, _ := reg.SessionByUser(ctx, uid); ok {
		t.Fatal("user mapping survived unregister")
	}
	if _, ok, _ := reg.UserBySession(ctx, sid); ok {
		t.Fatal("session mapping survived unregister")
	}
	if _, ok := reg.Sender(sid); ok {
		t.Fatal("sender survived unregister")
	}
}

func TestRegisterSupersedes(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(storemem.New(), NewPresence(repomem.NewUsers()))

	uid := domain.UserID(3)
	oldSID := domain.NewSessionID()
	newSID := domain.NewSessionID()

	if err := reg.Register(ctx, oldSID, uid, &fakeSender{}); err != nil {
		t.Fatalf("register old: %v", err)
	}
	if err := reg.Register(ctx, newSID, uid, &fakeSender{}); err != nil {
		t.Fatalf("register new: %v", err)
	}

	if got, ok, _ := reg.SessionByUser(ctx, uid); !ok || got != newSID {
		t.Fatalf("SessionByUser = %q; want new session %q", got, newSID)
	}
	if _, ok := reg.Sender(oldSID); ok {
		t.Fatal("superseded session still has a sender")
	}

	// The stale session's own teardown must not evict the new binding.
	if err := reg.Unregister(ctx, oldSID); err != nil {
		t.Fatalf("unregister old: %v", err)
	}
	if got, ok, _ := reg.SessionByUser(ctx, uid); !ok || got != newSID {
		t.Fatalf("stale unregister evicted new binding, got %q, %v", got, ok)
	}
}

func TestRegisterTouchesPresence(t *testing.T) {
	ctx := context.Background()
	users := repomem.NewUsers()
	reg := NewRegistry(storemem.New(), NewPresence(users))

	uid := domain.UserID(11)
	if err := reg.Register(ctx, domain.NewSessionID(), uid, &fakeSender{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := users.LastSeen(uid); ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("presence was never touched")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPresenceFailureDoesNotPropagate(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(storemem.New(), NewPresence(failingUsers{}))

	sid := domain.NewSessionID()
	if err := reg.Register(ctx, sid, 5, &fakeSender{}); err != nil {
		t.Fatalf("register with broken presence: %v", err)
	}
	if err := reg.Unregister(ctx, sid); err != nil {
		t.Fatalf("unregister with broken presence: %v", err)
	}
}
