package gait

// StrideHistory keeps the last N stride durations. It starts full of a
// sentinel so the phase gate stays closed until N real strides arrive.
type StrideHistory struct {
	data []float64
	head int // oldest entry, next to be overwritten
}

// sentinelStride is a duration no real stride can pass the gate with.
const sentinelStride = 1000.0

func NewStrideHistory(n int) *StrideHistory {
	h := &StrideHistory{data: make([]float64, n)}
	h.Reset()
	return h
}

// Push drops the oldest stride and stores d.
func (h *StrideHistory) Push(d float64) {
	h.data[h.head] = d
	h.head = (h.head + 1) % len(h.data)
}

// Reset refills the history with the sentinel.
func (h *StrideHistory) Reset() {
	for i := range h.data {
		h.data[i] = sentinelStride
	}
	h.head = 0
}

func (h *StrideHistory) Len() int { return len(h.data) }

// AllWithin reports whether every stored stride lies strictly inside
// (lo, hi).
func (h *StrideHistory) AllWithin(lo, hi float64) bool {
	for _, d := range h.data {
		if !(lo < d && d < hi) {
			return false
		}
	}
	return true
}

// Durations returns the strides oldest first.
func (h *StrideHistory) Durations() []float64 {
	out := make([]float64, 0, len(h.data))
	for i := range h.data {
		out = append(out, h.data[(h.head+i)%len(h.data)])
	}
	return out
}
