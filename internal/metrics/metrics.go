// Package metrics holds the Prometheus collectors for a scouting run.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapetech/iptvscout/internal/channel"
	"github.com/snapetech/iptvscout/internal/ranking"
)

// Metrics is a private registry plus the collectors written to it.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	probes   *prometheus.CounterVec
	samples  *prometheus.CounterVec
	speed    prometheus.Histogram
	rendered *prometheus.GaugeVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iptv_scout_probes_total",
			Help: "Listing probes by result.",
		}, []string{"result"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iptv_scout_samples_total",
			Help: "Throughput samples by result.",
		}, []string{"result"}),
		speed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "iptv_scout_sample_speed_mbps",
			Help:    "Measured channel speed in MB/s.",
			Buckets: []float64{0.1, 0.3, 0.5, 1, 2, 5, 10},
		}),
		rendered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "iptv_scout_channels_rendered",
			Help: "Channels written to the playlist by group.",
		}, []string{"group"}),
	}
	reg.MustRegister(m.probes, m.samples, m.speed, m.rendered)
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

// ObserveProbe counts one listing probe.
func (m *Metrics) ObserveProbe(result string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(result).Inc()
}

// ObserveSample counts one sample; a zero speed counts as failed.
func (m *Metrics) ObserveSample(speed float64) {
	if m == nil {
		return
	}
	if speed <= 0 {
		m.samples.WithLabelValues("failed").Inc()
		return
	}
	m.samples.WithLabelValues("ok").Inc()
	m.speed.Observe(speed)
}

// SetRendered records how many channels of each group pass threshold.
func (m *Metrics) SetRendered(doc channel.PlaylistDocument, threshold float64) {
	if m == nil {
		return
	}
	for _, g := range doc.Groups {
		n := 0
		for _, c := range g.Channels {
			if ranking.Passes(c.SpeedMBps, threshold) {
				n++
			}
		}
		m.rendered.WithLabelValues(string(g.Name)).Set(float64(n))
	}
}

// WriteTextfile writes the registry in text exposition format for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
