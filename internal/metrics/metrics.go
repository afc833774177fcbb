// Package metrics implements runtimeapi.StatsSink against
// github.com/prometheus/client_golang, the metrics stack the rest of the
// examples pack reaches for whenever a component exposes counters; the
// teacher itself has no metrics package to ground this on, so this one
// follows the library's own idiomatic constructor/registerer shape instead.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskgraph/tgraph/pkg/runtimeapi"
)

var _ runtimeapi.StatsSink = (*Sink)(nil)

// Sink is a runtimeapi.StatsSink backed by a Prometheus CounterVec and
// HistogramVec, both labeled only by event name: the StatsSink interface
// hands back an arbitrary label map per call, but Prometheus vectors need a
// fixed label schema declared up front, so extra caller-supplied labels
// are folded into the name itself rather than dropped silently.
type Sink struct {
	counters  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// New registers a counter/histogram pair against reg and returns a Sink
// using them. Pass prometheus.DefaultRegisterer to expose the process's
// global registry, or a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Sink {
	counters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgraph",
		Name:      "events_total",
		Help:      "Count of named events recorded through StatsSink.IncCounter.",
	}, []string{"name"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tgraph",
		Name:      "operation_duration_seconds",
		Help:      "Duration of named timed operations.",
	}, []string{"name"})
	reg.MustRegister(counters, durations)
	return &Sink{counters: counters, durations: durations}
}

func (s *Sink) IncCounter(name string, labels map[string]string) {
	s.counters.WithLabelValues(labelName(name, labels)).Inc()
}

func (s *Sink) ObserveDuration(name string, labels map[string]string, seconds float64) {
	s.durations.WithLabelValues(labelName(name, labels)).Observe(seconds)
}

func labelName(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	out := name
	for k, v := range labels {
		out += ":" + k + "=" + v
	}
	return out
}

// Handler returns the standard Prometheus scrape handler, for a driver
// (cmd/tgctl) to mount on its own HTTP mux.
func Handler() http.Handler {
	return promhttp.Handler()
}
