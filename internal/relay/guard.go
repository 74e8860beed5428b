package relay

import (
	"context"
	"sync"
	"time"
)

// Cancellation causes recorded by the guard. Downstream all of them look
// like a clean stream close; they are only told apart for logs and metrics.
const (
	causeConnectTimeout = "connect_timeout"
	causeIdleTimeout    = "idle_timeout"
	causeTotalTimeout   = "total_timeout"
	causeClientGone     = "client_gone"
)

// streamGuard owns the timers and the cancellation handle for one relayed
// exchange. The connect timer runs until upstream response headers arrive,
// the idle timer resets on every received chunk, the total timer is an
// absolute ceiling from request start. Whichever fires first cancels the
// shared context; stop releases everything and is safe to call twice.
type streamGuard struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	cause        string
	idleInterval time.Duration
	connectTimer *time.Timer
	idleTimer    *time.Timer
	totalTimer   *time.Timer
}

func newStreamGuard(parent context.Context, connect, idle, total time.Duration) *streamGuard {
	ctx, cancel := context.WithCancel(parent)
	g := &streamGuard{
		ctx:          ctx,
		cancel:       cancel,
		idleInterval: idle,
	}
	g.connectTimer = time.AfterFunc(connect, func() { g.abort(causeConnectTimeout) })
	g.totalTimer = time.AfterFunc(total, func() { g.abort(causeTotalTimeout) })
	return g
}

// connected marks the end of the connect phase and arms the idle watchdog.
func (g *streamGuard) connected() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.connectTimer != nil {
		g.connectTimer.Stop()
		g.connectTimer = nil
	}
	if g.cause == "" && g.idleTimer == nil {
		g.idleTimer = time.AfterFunc(g.idleInterval, func() { g.abort(causeIdleTimeout) })
	}
}

// touch resets the idle watchdog after a chunk arrived.
func (g *streamGuard) touch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idleTimer != nil {
		g.idleTimer.Reset(g.idleInterval)
	}
}

func (g *streamGuard) abort(cause string) {
	g.mu.Lock()
	if g.cause == "" {
		g.cause = cause
	}
	g.mu.Unlock()
	g.cancel()
}

// stop cancels the context and releases all pending timers.
func (g *streamGuard) stop() {
	g.mu.Lock()
	for _, t := range []*time.Timer{g.connectTimer, g.idleTimer, g.totalTimer} {
		if t != nil {
			t.Stop()
		}
	}
	g.connectTimer, g.idleTimer, g.totalTimer = nil, nil, nil
	g.mu.Unlock()
	g.cancel()
}

// abortCause returns why the exchange was cancelled: one of the timeout
// causes, client_gone when the downstream request context died first, or
// empty while the exchange is still live.
func (g *streamGuard) abortCause() string {
	g.mu.Lock()
	cause := g.cause
	g.mu.Unlock()
	if cause != "" {
		return cause
	}
	if g.ctx.Err() != nil {
		return causeClientGone
	}
	return ""
}
