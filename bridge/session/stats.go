package session

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// Stats is a snapshot of the session counters
type Stats struct {
	FramesSent     int64
	FramesReceived int64
	FramesDropped  int64
	Connects       int64
	// FrameSizeMean and FrameSizeMax describe the payload sizes of sent frames
	FrameSizeMean float64
	FrameSizeMax  int64
}

// sessionMetrics holds the live metrics of one session in its own registry
type sessionMetrics struct {
	registry       gometrics.Registry
	framesSent     gometrics.Counter
	framesReceived gometrics.Counter
	framesDropped  gometrics.Counter
	connects       gometrics.Counter
	frameSize      gometrics.Histogram
}

func newSessionMetrics() *sessionMetrics {
	r := gometrics.NewRegistry()
	return &sessionMetrics{
		registry:       r,
		framesSent:     gometrics.GetOrRegisterCounter("frames.sent", r),
		framesReceived: gometrics.GetOrRegisterCounter("frames.received", r),
		framesDropped:  gometrics.GetOrRegisterCounter("frames.dropped", r),
		connects:       gometrics.GetOrRegisterCounter("connects", r),
		frameSize:      gometrics.GetOrRegisterHistogram("frames.size", r, gometrics.NewUniformSample(1028)),
	}
}

func (m *sessionMetrics) snapshot() Stats {
	size := m.frameSize.Snapshot()
	return Stats{
		FramesSent:     m.framesSent.Count(),
		FramesReceived: m.framesReceived.Count(),
		FramesDropped:  m.framesDropped.Count(),
		Connects:       m.connects.Count(),
		FrameSizeMean:  size.Mean(),
		FrameSizeMax:   size.Max(),
	}
}
