package discovery

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/HerbHall/wofinder/pkg/models"
)

// Metrics are the discovery engine's Prometheus instruments.
type Metrics struct {
	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	probeFindings *prometheus.CounterVec
	probeFailures *prometheus.CounterVec
	servers       *prometheus.GaugeVec
}

// NewMetrics creates the instruments and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wofinder",
			Name:      "discovery_cycles_total",
			Help:      "Discovery cycles run.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wofinder",
			Name:      "discovery_cycle_duration_seconds",
			Help:      "Wall time of a discovery cycle.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		probeFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wofinder",
			Name:      "probe_findings_total",
			Help:      "Server records reported, by probe.",
		}, []string{"probe"}),
		probeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wofinder",
			Name:      "probe_failures_total",
			Help:      "Probe runs that returned an error, panicked or overran, by probe.",
		}, []string{"probe"}),
		servers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wofinder",
			Name:      "servers",
			Help:      "Servers in the current view, by status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.cycleDuration, m.probeFindings, m.probeFailures, m.servers)
	}
	return m
}

func (m *Metrics) observeView(view []models.ServerRecord) {
	var online, offline int
	for _, rec := range view {
		if rec.Status == models.ServerStatusOffline {
			offline++
		} else {
			online++
		}
	}
	m.servers.WithLabelValues(string(models.ServerStatusOnline)).Set(float64(online))
	m.servers.WithLabelValues(string(models.ServerStatusOffline)).Set(float64(offline))
}
