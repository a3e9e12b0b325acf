package aec

// ReferenceWindow caches the most recent system-audio samples so that each
// mic block can be paired with a reference slice of the same length.
type ReferenceWindow struct {
	capacity int
	samples  []float32
}

// NewReferenceWindow creates a window holding at most capacity samples
func NewReferenceWindow(capacity int) *ReferenceWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &ReferenceWindow{
		capacity: capacity,
		samples:  make([]float32, 0, capacity),
	}
}

// Push appends samples, discarding the oldest beyond capacity
func (w *ReferenceWindow) Push(samples []float32) {
	if len(samples) >= w.capacity {
		w.samples = append(w.samples[:0], samples[len(samples)-w.capacity:]...)
		return
	}

	if overflow := len(w.samples) + len(samples) - w.capacity; overflow > 0 {
		copy(w.samples, w.samples[overflow:])
		w.samples = w.samples[:len(w.samples)-overflow]
	}
	w.samples = append(w.samples, samples...)
}

// Latest returns a copy of the newest n samples, or all of them if fewer are cached
func (w *ReferenceWindow) Latest(n int) []float32 {
	if n > len(w.samples) {
		n = len(w.samples)
	}
	if n <= 0 {
		return nil
	}

	out := make([]float32, n)
	copy(out, w.samples[len(w.samples)-n:])
	return out
}

// Len returns the number of cached samples
func (w *ReferenceWindow) Len() int {
	return len(w.samples)
}

// Reset empties the window
func (w *ReferenceWindow) Reset() {
	w.samples = w.samples[:0]
}
