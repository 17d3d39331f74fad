package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reserve_tracker"

// Metrics groups the collectors shared by the pipeline. A nil *Metrics is a no-op.
type Metrics struct {
	refreshes        *prometheus.CounterVec
	droppedTriggers  *prometheus.CounterVec
	refreshDuration  *prometheus.HistogramVec
	retryAttempts    *prometheus.CounterVec
	batchSize        *prometheus.HistogramVec
	externalCalls    *prometheus.HistogramVec
	reportedErrors   *prometheus.CounterVec
	lastRefreshBlock *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_refreshes_total",
			Help:      "Completed per-chain cache refreshes by result.",
		}, []string{"chain", "result"}),
		droppedTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_triggers_dropped_total",
			Help:      "Block triggers dropped because a refresh was already running.",
		}, []string{"chain"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chain_refresh_duration_seconds",
			Help:      "Duration of per-chain refreshes.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"chain"}),
		retryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Failed attempts seen by the retry engine by failure kind.",
		}, []string{"kind"}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "multicall_batch_size",
			Help:      "Number of calls per multicall round trip.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 200},
		}, []string{"chain"}),
		externalCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_duration_seconds",
			Help:      "Duration of rate-limited external calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain", "result"}),
		reportedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reported_errors_total",
			Help:      "Errors forwarded to error tracking.",
		}, []string{"kind"}),
		lastRefreshBlock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_refresh_block",
			Help:      "Block height that triggered the last refresh.",
		}, []string{"chain"}),
	}
	if reg != nil {
		reg.MustRegister(m.refreshes, m.droppedTriggers, m.refreshDuration, m.retryAttempts,
			m.batchSize, m.externalCalls, m.reportedErrors, m.lastRefreshBlock)
	}
	return m
}

func (m *Metrics) ObserveRefresh(chain string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.refreshes.WithLabelValues(chain, result).Inc()
	m.refreshDuration.WithLabelValues(chain).Observe(d.Seconds())
}

func (m *Metrics) IncDroppedTrigger(chain string) {
	if m == nil {
		return
	}
	m.droppedTriggers.WithLabelValues(chain).Inc()
}

func (m *Metrics) SetRefreshBlock(chain string, block uint64) {
	if m == nil {
		return
	}
	m.lastRefreshBlock.WithLabelValues(chain).Set(float64(block))
}

func (m *Metrics) IncRetry(kind string) {
	if m == nil {
		return
	}
	m.retryAttempts.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveBatch(chain string, size int) {
	if m == nil {
		return
	}
	m.batchSize.WithLabelValues(chain).Observe(float64(size))
}

func (m *Metrics) ObserveExternalCall(chain string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.externalCalls.WithLabelValues(chain, result).Observe(d.Seconds())
}

func (m *Metrics) IncReportedError(kind string) {
	if m == nil {
		return
	}
	m.reportedErrors.WithLabelValues(kind).Inc()
}
