// Package metrics holds the Prometheus series a trading cycle updates. The
// process runs one cycle and exits, so the registry is pushed to a
// Pushgateway at the end instead of being scraped.
//
//	cryptex_exchange_requests_total{operation,status}
//	cryptex_market_cache_lookups_total{result}
//	cryptex_signals_total{direction}
//	cryptex_gate_decisions_total{decision}
//	cryptex_cycle_duration_seconds
//	cryptex_cycle_last_success_timestamp_seconds
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Recorder owns a private registry so independent pipelines (and tests) do
// not share counters. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	exchangeRequests *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	signals          *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	cycleDuration    prometheus.Gauge
	lastSuccess      prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		exchangeRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptex_exchange_requests_total",
				Help: "Exchange REST calls by operation and status",
			},
			[]string{"operation", "status"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptex_market_cache_lookups_total",
				Help: "Market data cache lookups by result (hit|miss|refresh_error)",
			},
			[]string{"result"},
		),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptex_signals_total",
				Help: "Signals generated by direction",
			},
			[]string{"direction"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptex_gate_decisions_total",
				Help: "Order safety gate decisions",
			},
			[]string{"decision"},
		),
		cycleDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cryptex_cycle_duration_seconds",
			Help: "Wall-clock duration of the last decision cycle",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cryptex_cycle_last_success_timestamp_seconds",
			Help: "Unix time of the last cycle that finished without error",
		}),
	}
	r.registry.MustRegister(r.exchangeRequests, r.cacheLookups, r.signals, r.decisions, r.cycleDuration, r.lastSuccess)
	return r
}

// Registry exposes the underlying registry as a gatherer.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ExchangeCall(operation string, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.exchangeRequests.WithLabelValues(operation, status).Inc()
}

func (r *Recorder) CacheLookup(result string) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

func (r *Recorder) Signal(direction string) {
	if r == nil {
		return
	}
	r.signals.WithLabelValues(direction).Inc()
}

func (r *Recorder) Decision(decision string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(decision).Inc()
}

// CycleFinished records the cycle duration and, on success, its end time.
func (r *Recorder) CycleFinished(duration time.Duration, end time.Time, err error) {
	if r == nil {
		return
	}
	r.cycleDuration.Set(duration.Seconds())
	if err == nil {
		r.lastSuccess.Set(float64(end.Unix()))
	}
}

// Push sends the registry to a Pushgateway under the given job name.
func (r *Recorder) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	if r == nil || url == "" {
		return nil
	}
	pusher := push.New(url, job).Gatherer(r.registry)
	for k, v := range grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
