package host

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// hostMetrics are the Prometheus metrics of one host
type hostMetrics struct {
	set *metrics.Set

	requests      *metrics.Counter
	unavailable   *metrics.Counter
	timeouts      *metrics.Counter
	tooLarge      *metrics.Counter
	failed        *metrics.Counter
	lateResponses *metrics.Counter
	connects      *metrics.Counter
	duration      *metrics.Histogram
}

func newHostMetrics(h *Host) *hostMetrics {
	s := metrics.NewSet()
	m := &hostMetrics{
		set:           s,
		requests:      s.NewCounter("dnet_host_requests_total"),
		unavailable:   s.NewCounter("dnet_host_unavailable_total"),
		timeouts:      s.NewCounter("dnet_host_timeouts_total"),
		tooLarge:      s.NewCounter("dnet_host_body_too_large_total"),
		failed:        s.NewCounter("dnet_host_failed_total"),
		lateResponses: s.NewCounter("dnet_host_late_responses_total"),
		connects:      s.NewCounter("dnet_host_connects_total"),
		duration:      s.NewHistogram("dnet_host_request_duration_seconds"),
	}
	s.NewGauge("dnet_host_pending_requests", func() float64 {
		return float64(h.pending.Size())
	})
	s.NewGauge("dnet_host_connected", func() float64 {
		if h.Connected() {
			return 1
		}
		return 0
	})
	return m
}

// writePrometheus writes the host metrics followed by the process wide ones
func (m *hostMetrics) writePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
	metrics.WritePrometheus(w, true)
}
