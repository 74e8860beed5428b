package relay

import (
	"context"
	"testing"
	"time"
)

func TestGuardConnectTimeout(t *testing.T) {
	g := newStreamGuard(context.Background(), 20*time.Millisecond, time.Second, time.Second)
	defer g.stop()

	select {
	case <-g.ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("connect timer never fired")
	}
	if cause := g.abortCause(); cause != causeConnectTimeout {
		t.Fatalf("expected connect_timeout cause, got %q", cause)
	}
}

func TestGuardTouchKeepsIdleAlive(t *testing.T) {
	g := newStreamGuard(context.Background(), time.Second, 60*time.Millisecond, time.Second)
	defer g.stop()
	g.connected()

	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		g.touch()
		if g.ctx.Err() != nil {
			t.Fatalf("idle timer fired despite activity (iteration %d)", i)
		}
	}

	select {
	case <-g.ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("idle timer never fired after activity stopped")
	}
	if cause := g.abortCause(); cause != causeIdleTimeout {
		t.Fatalf("expected idle_timeout cause, got %q", cause)
	}
}

func TestGuardClientDisconnect(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	g := newStreamGuard(parent, time.Second, time.Second, time.Second)
	defer g.stop()
	g.connected()

	cancel()
	<-g.ctx.Done()
	if cause := g.abortCause(); cause != causeClientGone {
		t.Fatalf("expected client_gone cause, got %q", cause)
	}
}

func TestGuardStopIsIdempotent(t *testing.T) {
	g := newStreamGuard(context.Background(), time.Second, time.Second, time.Second)
	g.stop()
	g.stop()
	if g.ctx.Err() == nil {
		t.Fatalf("stop must cancel the context")
	}
}
