package filter

// Window is a fixed-capacity history of the most recent samples.
// It grows by appending until it holds Cap() samples and from then on
// drops the oldest sample for every new one.
type Window struct {
	buf []float64
}

// NewWindow creates an empty window with capacity n.
func NewWindow(n int) *Window {
	return &Window{
		buf: make([]float64, 0, n),
	}
}

// Append adds v as the newest sample, evicting the oldest once the window is full.
func (w *Window) Append(v float64) {
	if len(w.buf) < cap(w.buf) {
		w.buf = append(w.buf, v)
		return
	}
	copy(w.buf, w.buf[1:])
	w.buf[len(w.buf)-1] = v
}

// ReplaceLast swaps the newest sample for v and returns the sample it replaced.
// It is a no-op returning 0 on an empty window.
func (w *Window) ReplaceLast(v float64) float64 {
	if len(w.buf) == 0 {
		return 0
	}
	old := w.buf[len(w.buf)-1]
	w.buf[len(w.buf)-1] = v
	return old
}

// Values returns the samples ordered oldest first.
// The slice aliases the window and is only valid until the next mutation.
func (w *Window) Values() []float64 {
	return w.buf
}

// Len returns the number of samples held.
func (w *Window) Len() int {
	return len(w.buf)
}

// Cap returns the window capacity.
func (w *Window) Cap() int {
	return cap(w.buf)
}

// Full reports whether the window has been primed.
func (w *Window) Full() bool {
	return len(w.buf) == cap(w.buf)
}

// Reset empties the window, keeping its capacity.
func (w *Window) Reset() {
	w.buf = w.buf[:0]
}
