package app

import (
	"testing"
	"time"
)

func TestRateLimiterCapsWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow(1) {
			t.Fatalf("attempt %d refused under the limit", i)
		}
	}
	if rl.Allow(1) {
		t.Fatal("attempt over the limit allowed")
	}
}

func TestRateLimiterPerUser(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	if !rl.Allow(1) {
		t.Fatal("first user refused")
	}
	if !rl.Allow(2) {
		t.Fatal("second user throttled by first user's window")
	}
	if rl.Allow(1) {
		t.Fatal("first user allowed past its limit")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(2, 30*time.Millisecond)

	if !rl.Allow(1) || !rl.Allow(1) {
		t.Fatal("initial attempts refused")
	}
	if rl.Allow(1) {
		t.Fatal("attempt over the limit allowed")
	}

	time.Sleep(40 * time.Millisecond)
	if !rl.Allow(1) {
		t.Fatal("attempt refused after the window expired")
	}
}
