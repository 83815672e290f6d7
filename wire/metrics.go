package wire

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts channel traffic. A nil Registerer yields unregistered
// collectors.
type Metrics struct {
	sent      *prometheus.CounterVec
	responses *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	timeouts  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flintdbg",
			Subsystem: "wire",
			Name:      "requests_sent_total",
			Help:      "Request frames written to the transport.",
		}, []string{"command"}),
		responses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flintdbg",
			Subsystem: "wire",
			Name:      "responses_total",
			Help:      "Responses delivered to a waiting request.",
		}, []string{"command", "code"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flintdbg",
			Subsystem: "wire",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames discarded before delivery.",
		}, []string{"reason"}),
		timeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flintdbg",
			Subsystem: "wire",
			Name:      "timeouts_total",
			Help:      "Requests that got no response in time.",
		}, []string{"command"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flintdbg",
			Subsystem: "wire",
			Name:      "request_duration_seconds",
			Help:      "Time from write to response.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		}, []string{"command"}),
	}
}
