package interfaces

import "time"

// MetricsRecorder receives operational observations from the transport,
// poller and session store
type MetricsRecorder interface {
	ObserveRequest(method, path string, status int, duration time.Duration)
	ObservePoll(subscription, outcome string)
	ObserveSessionTransition(kind, reason string)
}

// NoopMetrics discards every observation
type NoopMetrics struct{}

func (NoopMetrics) ObserveRequest(string, string, int, time.Duration) {}
func (NoopMetrics) ObservePoll(string, string)                        {}
func (NoopMetrics) ObserveSessionTransition(string, string)           {}
