package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RelayRequests  prometheus.Counter
	UpstreamErrors prometheus.Counter
	StreamedChunks prometheus.Counter
	RateLimited    prometheus.Counter
	StreamAborts   *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			RelayRequests: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatrelay",
				Name:      "relay_requests_total",
				Help:      "Total chat completion requests accepted by the relay",
			}),
			UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatrelay",
				Name:      "upstream_errors_total",
				Help:      "Total non-2xx responses received from the upstream provider",
			}),
			StreamedChunks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatrelay",
				Name:      "streamed_chunks_total",
				Help:      "Total byte chunks relayed downstream",
			}),
			RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatrelay",
				Name:      "rate_limited_total",
				Help:      "Total requests rejected by the rate limiter",
			}),
			StreamAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "chatrelay",
				Name:      "stream_aborts_total",
				Help:      "Total streams cancelled before upstream close, by cause",
			}, []string{"cause"}),
		}
		prometheus.MustRegister(
			global.RelayRequests,
			global.UpstreamErrors,
			global.StreamedChunks,
			global.RateLimited,
			global.StreamAborts,
		)
	})
	return global
}
