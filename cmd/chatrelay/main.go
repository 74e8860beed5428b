package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chatrelay/internal/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/queue"
	"chatrelay/internal/relay"
	"chatrelay/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("upstream", cfg.Upstream.BaseURL).
		Bool("credential_configured", cfg.Upstream.APIKey != "").
		Dur("connect_timeout", cfg.Timeouts.Connect).
		Dur("idle_timeout", cfg.Timeouts.Idle).
		Dur("total_timeout", cfg.Timeouts.Total).
		Msg("starting chatrelay")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var limiter relay.Limiter
	if cfg.Rate.PerHour > 0 {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		limiter = queue.NewRateLimiter(rdb, cfg.Rate.PerHour)
		log.Info().Int64("per_hour", cfg.Rate.PerHour).Msg("rate limiting enabled")
	}

	m := metrics.Global()
	rl := relay.New(relay.Config{
		Upstream: upstream.New(upstream.Config{
			BaseURL:      cfg.Upstream.BaseURL,
			APIKey:       cfg.Upstream.APIKey,
			DefaultModel: cfg.Upstream.DefaultModel,
			Referer:      cfg.Upstream.Referer,
			AppTitle:     cfg.Upstream.AppTitle,
		}),
		ConnectTimeout: cfg.Timeouts.Connect,
		IdleTimeout:    cfg.Timeouts.Idle,
		TotalTimeout:   cfg.Timeouts.Total,
		Limiter:        limiter,
		Logger:         log.Logger,
		Metrics:        m,
	})

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.HTTP.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(cfg.HTTP.MetricsPath, promhttp.Handler())
	mux.Handle("/chat", rl)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		// No write timeout: SSE responses stay open for the stream lifetime,
		// bounded by the relay's own total timeout.
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
