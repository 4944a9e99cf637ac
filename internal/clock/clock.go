// Package clock provides the run-local monotonic clock shared by the beacon
// observer and the interaction driver. Beacon timestamps and window
// boundaries must come from the same clock source or correlation is
// undefined, so one Monotonic is created per run and threaded through both.
package clock

import "time"

// Monotonic measures milliseconds since the start of a run using Go's
// monotonic clock reading, immune to wall-clock adjustments.
type Monotonic struct {
	start time.Time
}

// New starts a new run clock.
func New() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// NowMs returns milliseconds elapsed since the clock started.
func (m *Monotonic) NowMs() int64 {
	return time.Since(m.start).Milliseconds()
}
