package replication

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	propagations        prometheus.Counter
	propagationFailures *prometheus.CounterVec
	propagationLatency  prometheus.Histogram
	droppedFrames       prometheus.Counter
	heartbeatFailures   *prometheus.CounterVec
	healthyBackups      prometheus.Gauge
	registeredBackups   prometheus.Gauge
	storeKeys           prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		propagations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kv_propagations_total",
			Help: "Write operations pushed to backups",
		}),
		propagationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kv_propagation_failures_total",
			Help: "Failed pushes per backup address",
		}, []string{"backup"}),
		propagationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kv_propagation_duration_seconds",
			Help:    "Latency of one push to one backup",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kv_propagation_dropped_total",
			Help: "Frames dropped because a backup queue was full",
		}),
		heartbeatFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kv_heartbeat_failures_total",
			Help: "Heartbeats that failed or timed out per backup address",
		}, []string{"backup"}),
		healthyBackups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kv_healthy_backups",
			Help: "Backups that answered the most recent heartbeat",
		}),
		registeredBackups: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kv_registered_backups",
			Help: "Backups in the registry",
		}),
		storeKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kv_store_keys",
			Help: "Keys in the local store",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.propagations,
			m.propagationFailures,
			m.propagationLatency,
			m.droppedFrames,
			m.heartbeatFailures,
			m.healthyBackups,
			m.registeredBackups,
			m.storeKeys,
		)
	}
	return m
}

func (m *Metrics) SetStoreKeys(n int) {
	if m != nil {
		m.storeKeys.Set(float64(n))
	}
}
