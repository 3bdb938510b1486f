// Package ioutilx holds small server-side helpers used by httpconn that
// don't warrant their own public package.
package ioutilx

import "time"

// ConnectionTimer measures the phases of one Connection's lifetime:
// accept, preamble-read, and total — the server-side analogue of a
// client request timer (mirrored from the DNS/TCP/TLS/TTFB phase-timer
// pattern, adapted to the phases a listener actually observes).
type ConnectionTimer struct {
	accepted      time.Time
	preambleStart time.Time
	preambleEnd   time.Time
}

// NewConnectionTimer starts a timer at accept time.
func NewConnectionTimer() *ConnectionTimer {
	return &ConnectionTimer{accepted: time.Now()}
}

// StartPreamble marks the beginning of reading a request preamble.
func (t *ConnectionTimer) StartPreamble() { t.preambleStart = time.Now() }

// EndPreamble marks the preamble as fully parsed.
func (t *ConnectionTimer) EndPreamble() { t.preambleEnd = time.Now() }

// ConnectionMetrics is a point-in-time snapshot of a ConnectionTimer.
type ConnectionMetrics struct {
	PreambleTime time.Duration
	TotalTime    time.Duration
}

// Metrics snapshots the durations measured so far.
func (t *ConnectionTimer) Metrics() ConnectionMetrics {
	m := ConnectionMetrics{TotalTime: time.Since(t.accepted)}
	if !t.preambleStart.IsZero() && !t.preambleEnd.IsZero() {
		m.PreambleTime = t.preambleEnd.Sub(t.preambleStart)
	}
	return m
}
