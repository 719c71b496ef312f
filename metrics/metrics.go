// Package metrics exposes Prometheus instrumentation for the connection
// pool: how many agents exist per origin, how many were reused versus
// freshly dialed, how many were evicted for sitting idle too long, and how
// long callers waited for a free agent.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "fetchttp"

// Pool bundles the collectors a Pool reports against. A Pool built with a
// nil *Pool metrics field is silently a no-op (see the IsNil-style guards
// on each method), so instrumentation stays optional.
type Pool struct {
	AgentsCreated  *prometheus.CounterVec
	AgentsReused   *prometheus.CounterVec
	AgentsEvicted  *prometheus.CounterVec
	AgentsInFlight *prometheus.GaugeVec
	AcquireWait    *prometheus.HistogramVec
}

// NewPool constructs a Pool's collectors and registers them against reg.
// Pass prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid cross-test collisions.
func NewPool(reg prometheus.Registerer) *Pool {
	p := &Pool{
		AgentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "agents_created_total",
			Help:      "Agents dialed, labeled by origin.",
		}, []string{"origin"}),
		AgentsReused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "agents_reused_total",
			Help:      "Agents handed out from the idle set instead of dialed, labeled by origin.",
		}, []string{"origin"}),
		AgentsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "agents_evicted_total",
			Help:      "Idle agents closed by the evictor for exceeding the idle timeout, labeled by origin.",
		}, []string{"origin"}),
		AgentsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "agents_in_flight",
			Help:      "Agents currently holding a concurrency permit, labeled by origin.",
		}, []string{"origin"}),
		AcquireWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a free agent, labeled by origin.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"origin"}),
	}
	reg.MustRegister(p.AgentsCreated, p.AgentsReused, p.AgentsEvicted, p.AgentsInFlight, p.AcquireWait)
	return p
}

func (p *Pool) created(origin string) {
	if p == nil {
		return
	}
	p.AgentsCreated.WithLabelValues(origin).Inc()
}

func (p *Pool) reused(origin string) {
	if p == nil {
		return
	}
	p.AgentsReused.WithLabelValues(origin).Inc()
}

func (p *Pool) evicted(origin string) {
	if p == nil {
		return
	}
	p.AgentsEvicted.WithLabelValues(origin).Inc()
}

func (p *Pool) inFlightDelta(origin string, delta float64) {
	if p == nil {
		return
	}
	p.AgentsInFlight.WithLabelValues(origin).Add(delta)
}

func (p *Pool) acquireWait(origin string, seconds float64) {
	if p == nil {
		return
	}
	p.AcquireWait.WithLabelValues(origin).Observe(seconds)
}

// Created records a freshly dialed agent.
func (p *Pool) Created(origin string) { p.created(origin) }

// Reused records an agent handed out from the idle set.
func (p *Pool) Reused(origin string) { p.reused(origin) }

// Evicted records an idle agent closed by the evictor.
func (p *Pool) Evicted(origin string) { p.evicted(origin) }

// InFlightInc records an agent acquiring a concurrency permit.
func (p *Pool) InFlightInc(origin string) { p.inFlightDelta(origin, 1) }

// InFlightDec records an agent releasing a concurrency permit.
func (p *Pool) InFlightDec(origin string) { p.inFlightDelta(origin, -1) }

// AcquireWaitObserve records how long a caller waited for a free agent.
func (p *Pool) AcquireWaitObserve(origin string, seconds float64) { p.acquireWait(origin, seconds) }
