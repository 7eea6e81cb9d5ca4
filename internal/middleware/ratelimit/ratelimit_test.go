package ratelimit

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAllow_ExhaustsAndRefills(t *testing.T) {
	rl := New(Config{
		MaxRequestsPerMinute: 2,
		WindowDuration:       20 * time.Millisecond,
		Logger:               zap.NewNop(),
	})
	defer rl.Stop()

	if !rl.allow("client") || !rl.allow("client") {
		t.Fatal("first requests within the budget should pass")
	}
	if rl.allow("client") {
		t.Fatal("request over the budget should be rejected")
	}

	time.Sleep(15 * time.Millisecond)
	if !rl.allow("client") {
		t.Error("tokens should refill over the window")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1, Logger: zap.NewNop()})
	defer rl.Stop()

	if !rl.allow("a") {
		t.Fatal("first request for a should pass")
	}
	if rl.allow("a") {
		t.Fatal("second request for a should be rejected")
	}
	if !rl.allow("b") {
		t.Error("a's exhausted bucket must not affect b")
	}
}

func TestStop_TerminatesCleanup(t *testing.T) {
	rl := New(Config{Logger: zap.NewNop()})

	rl.Stop()
	rl.Stop() // idempotent

	finished := make(chan struct{})
	go func() {
		rl.cleanup()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not exit after Stop")
	}
}
