package cranking

import (
	"time"

	"github.com/barnapet/smartdrive/internal/pkg/model"
)

// Window buffers the voltage of one cranking event. It belongs to a single
// controller and is not safe for concurrent use.
type Window struct {
	start  time.Time
	points []model.CrankingPoint
	open   bool
}

// Open starts a new event at start, dropping anything buffered before.
func (w *Window) Open(start time.Time) {
	w.start = start
	w.points = w.points[:0]
	w.open = true
}

// Append records a reading. Readings before the start are clamped to offset 0.
func (w *Window) Append(ts time.Time, voltage float64) {
	if !w.open {
		return
	}
	offset := max(ts.Sub(w.start).Seconds(), 0)
	w.points = append(w.points, model.CrankingPoint{Offset: offset, Voltage: voltage})
}

// IsOpen reports whether an event is being recorded.
func (w *Window) IsOpen() bool { return w.open }

// Len returns the number of buffered points.
func (w *Window) Len() int { return len(w.points) }

// Start returns the timestamp passed to Open.
func (w *Window) Start() time.Time { return w.start }

// Close ends the event and returns a copy of its points. The buffer is
// cleared, so the returned slice is never appended to afterwards.
func (w *Window) Close() (time.Time, []model.CrankingPoint) {
	out := make([]model.CrankingPoint, len(w.points))
	copy(out, w.points)
	start := w.start
	w.Reset()
	return start, out
}

// Reset discards the event.
func (w *Window) Reset() {
	w.points = w.points[:0]
	w.open = false
	w.start = time.Time{}
}
