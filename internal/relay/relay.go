package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"chatrelay/internal/metrics"
	"chatrelay/internal/upstream"
)

const (
	maxErrorBody = 4 << 20
	copyBufSize  = 32 * 1024
)

// Limiter gates requests per client identity. Implemented by queue.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error)
}

type Config struct {
	Upstream       *upstream.Client
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	TotalTimeout   time.Duration
	Limiter        Limiter
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
}

// Relay forwards chat completion requests to the upstream provider and
// re-streams the SSE response body to the caller under timeout policy.
type Relay struct {
	upstream *upstream.Client
	connect  time.Duration
	idle     time.Duration
	total    time.Duration
	limiter  Limiter
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

func New(cfg Config) *Relay {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = 5 * time.Minute
	}
	return &Relay{
		upstream: cfg.Upstream,
		connect:  cfg.ConnectTimeout,
		idle:     cfg.IdleTimeout,
		total:    cfg.TotalTimeout,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
		metrics:  m,
	}
}

func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if rl.limiter != nil {
		allowed, _, resetAt, err := rl.limiter.Allow(r.Context(), clientKey(r), time.Now())
		if err != nil {
			rl.logger.Error().Err(err).Msg("rate limiter unavailable")
		} else if !allowed {
			rl.metrics.RateLimited.Inc()
			w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(resetAt).Seconds())+1, 10))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	var req upstream.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxErrorBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must be a non-empty array")
		return
	}
	if !rl.upstream.Configured() {
		writeError(w, http.StatusInternalServerError, "upstream api key is not configured")
		return
	}

	rl.metrics.RelayRequests.Inc()
	rl.stream(w, r, req)
}

func (rl *Relay) stream(w http.ResponseWriter, r *http.Request, req upstream.Request) {
	guard := newStreamGuard(r.Context(), rl.connect, rl.idle, rl.total)
	defer guard.stop()

	resp, err := rl.upstream.Start(guard.ctx, req)
	if err != nil {
		switch cause := guard.abortCause(); cause {
		case causeConnectTimeout, causeTotalTimeout:
			rl.metrics.StreamAborts.WithLabelValues(cause).Inc()
			rl.logger.Warn().Str("cause", cause).Msg("upstream connect timed out")
			writeError(w, http.StatusGatewayTimeout, "upstream connect timeout")
		case causeClientGone:
			rl.metrics.StreamAborts.WithLabelValues(cause).Inc()
		default:
			rl.logger.Error().Err(err).Msg("upstream request failed")
			writeError(w, http.StatusBadGateway, "upstream request failed")
		}
		return
	}
	defer resp.Body.Close()
	guard.connected()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rl.metrics.UpstreamErrors.Inc()
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			rl.logger.Error().Err(readErr).Int("status", resp.StatusCode).Msg("failed to read upstream error body")
		}
		rl.logger.Warn().Int("status", resp.StatusCode).Msg("upstream returned error status")
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(body)
		return
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		writeError(w, http.StatusBadGateway, "upstream returned no body")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	buf := make([]byte, copyBufSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			guard.touch()
			rl.metrics.StreamedChunks.Inc()
			if _, werr := w.Write(buf[:n]); werr != nil {
				rl.metrics.StreamAborts.WithLabelValues(causeClientGone).Inc()
				return
			}
			_ = rc.Flush()
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if cause := guard.abortCause(); cause != "" {
			// Timeout or client disconnect: end the stream cleanly so the
			// downstream reader unblocks without seeing a hard failure.
			rl.metrics.StreamAborts.WithLabelValues(cause).Inc()
			rl.logger.Debug().Str("cause", cause).Msg("stream cancelled")
			return
		}
		rl.logger.Error().Err(err).Msg("upstream read failed mid-stream")
		panic(http.ErrAbortHandler)
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
