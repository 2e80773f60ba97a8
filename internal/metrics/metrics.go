package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	GamesCreated    *prometheus.CounterVec
	GamesFinished   *prometheus.CounterVec
	Rounds          *prometheus.CounterVec
	RoundLatency    prometheus.Histogram
	FeedSubscribers prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the collectors and registers them on a private registry.
func New(namespace string) *Metrics {
	m := &Metrics{
		GamesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_created_total",
			Help:      "Number of games created",
		}, []string{"game_type"}),
		GamesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_finished_total",
			Help:      "Number of games that reached a winner",
		}, []string{"game_type"}),
		Rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Round submissions by result",
		}, []string{"game_type", "result"}),
		RoundLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_latency_seconds",
			Help:      "Round submission processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		FeedSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_subscribers",
			Help:      "Number of connected live feed clients",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.GamesCreated,
		m.GamesFinished,
		m.Rounds,
		m.RoundLatency,
		m.FeedSubscribers,
	)
	return m
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) GameCreated(gameType string) {
	if m == nil {
		return
	}
	m.GamesCreated.WithLabelValues(gameType).Inc()
}

func (m *Metrics) GameFinished(gameType string) {
	if m == nil {
		return
	}
	m.GamesFinished.WithLabelValues(gameType).Inc()
}

// ObserveRound counts a submission and its processing time. result is
// "accepted" or the error class that rejected it.
func (m *Metrics) ObserveRound(gameType, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Rounds.WithLabelValues(gameType, result).Inc()
	m.RoundLatency.Observe(d.Seconds())
}

func (m *Metrics) IncSubscribers() {
	if m == nil {
		return
	}
	m.FeedSubscribers.Inc()
}

func (m *Metrics) DecSubscribers() {
	if m == nil {
		return
	}
	m.FeedSubscribers.Dec()
}
