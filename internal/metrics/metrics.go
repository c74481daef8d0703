package metrics

import (
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/stat"
)

// ProbeMetrics holds the collectors for probe runs on a private registry,
// so a run can be exported to a textfile without the global default collectors.
type ProbeMetrics struct {
	registry          *prometheus.Registry
	framesReceived    prometheus.Counter
	runs              *prometheus.CounterVec
	runDuration       prometheus.Histogram
	firstFrameLatency prometheus.Histogram
}

func NewProbeMetrics() *ProbeMetrics {
	m := &ProbeMetrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandprobe_frames_received_total",
			Help: "Frames received from the probed endpoint.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandprobe_runs_total",
			Help: "Probe runs by terminal outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sandprobe_run_duration_seconds",
			Help:    "Wall time of a probe run from dial to release.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		firstFrameLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sandprobe_first_frame_latency_seconds",
			Help:    "Time from sending the command to the first inbound frame.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	m.registry.MustRegister(m.framesReceived, m.runs, m.runDuration, m.firstFrameLatency)
	return m
}

func (m *ProbeMetrics) FrameReceived() {
	m.framesReceived.Inc()
}

func (m *ProbeMetrics) FirstFrame(latency time.Duration) {
	m.firstFrameLatency.Observe(latency.Seconds())
}

// RunFinished records the outcome label (the terminal state or error kind) and duration
func (m *ProbeMetrics) RunFinished(outcome string, duration time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(duration.Seconds())
}

func (m *ProbeMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the registry in the text exposition format, atomically, for the
// node exporter textfile collector.
func (m *ProbeMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// LatencySummary describes frame arrival latencies of one run
type LatencySummary struct {
	Count  int
	Mean   time.Duration
	Median time.Duration
	Max    time.Duration
}

// Summarize computes the summary; an empty input gives a zero summary
func Summarize(latencies []time.Duration) LatencySummary {
	if len(latencies) == 0 {
		return LatencySummary{}
	}
	secs := make([]float64, len(latencies))
	var longest time.Duration
	for i, l := range latencies {
		secs[i] = l.Seconds()
		if l > longest {
			longest = l
		}
	}
	// stat.Quantile requires sorted input
	sort.Float64s(secs)

	return LatencySummary{
		Count:  len(secs),
		Mean:   seconds(stat.Mean(secs, nil)),
		Median: seconds(stat.Quantile(0.5, stat.Empirical, secs, nil)),
		Max:    longest,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
