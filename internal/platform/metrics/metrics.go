// Package metrics holds the prometheus collectors for the sampling pipeline
// A nil *Registry is valid and records nothing, so callers never nil-check
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns a private prometheus registry and the pipeline collectors
type Registry struct {
	reg *prometheus.Registry

	APIRequests   *prometheus.CounterVec
	APILatency    *prometheus.HistogramVec
	StreamPosts   *prometheus.CounterVec
	Candidates    *prometheus.CounterVec
	Cooldowns     prometheus.Counter
	CooldownWait  prometheus.Counter
	Verified      *prometheus.GaugeVec
	BreakerState  *prometheus.GaugeVec
	CheckpointOps *prometheus.CounterVec
}

// New builds a Registry with go and process collectors attached
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		APIRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miping_api_requests_total",
				Help: "Remote API calls by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		APILatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "miping_api_request_duration_seconds",
				Help:    "Remote API call latency including retries",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"endpoint"},
		),
		StreamPosts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miping_stream_posts_total",
				Help: "Streamed posts by admission outcome",
			},
			[]string{"region", "outcome"},
		),
		Candidates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miping_candidates_total",
				Help: "Verification decisions by pool and outcome",
			},
			[]string{"region", "pool", "outcome"},
		),
		Cooldowns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "miping_follower_cooldowns_total",
				Help: "Cooldowns taken between follower batches",
			},
		),
		CooldownWait: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "miping_follower_cooldown_seconds_total",
				Help: "Seconds spent waiting between follower batches",
			},
		),
		Verified: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "miping_verified_users",
				Help: "Verified users in the current run",
			},
			[]string{"region", "pool"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "miping_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
		CheckpointOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miping_checkpoint_rows_total",
				Help: "Rows read or written to checkpoints",
			},
			[]string{"stage", "op"},
		),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.APIRequests, r.APILatency, r.StreamPosts, r.Candidates,
		r.Cooldowns, r.CooldownWait, r.Verified, r.BreakerState, r.CheckpointOps,
	)
	return r
}

// Gatherer exposes the underlying registry for tests and handlers
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// Handler serves the registry in the prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// ObserveAPI records one remote call
func (r *Registry) ObserveAPI(endpoint, outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.APIRequests.WithLabelValues(endpoint, outcome).Inc()
	r.APILatency.WithLabelValues(endpoint).Observe(took.Seconds())
}

// StreamPost counts one streamed post by outcome (admitted, retweet, statuses, followers)
func (r *Registry) StreamPost(region, outcome string) {
	if r == nil {
		return
	}
	r.StreamPosts.WithLabelValues(region, outcome).Inc()
}

// Candidate counts one verification decision
func (r *Registry) Candidate(region, pool, outcome string) {
	if r == nil {
		return
	}
	r.Candidates.WithLabelValues(region, pool, outcome).Inc()
}

// Cooldown records one inter-batch wait
func (r *Registry) Cooldown(d time.Duration) {
	if r == nil {
		return
	}
	r.Cooldowns.Inc()
	r.CooldownWait.Add(d.Seconds())
}

// SetVerified publishes the verified count for a pool
func (r *Registry) SetVerified(region, pool string, n int) {
	if r == nil {
		return
	}
	r.Verified.WithLabelValues(region, pool).Set(float64(n))
}

// SetBreaker publishes a breaker state as 0 closed, 1 half-open, 2 open
func (r *Registry) SetBreaker(name string, state int) {
	if r == nil {
		return
	}
	r.BreakerState.WithLabelValues(name).Set(float64(state))
}

// CheckpointRows counts rows moved through a checkpoint
func (r *Registry) CheckpointRows(stage, op string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.CheckpointOps.WithLabelValues(stage, op).Add(float64(n))
}
