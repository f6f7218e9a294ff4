package store

// dedupWindow keeps the last K sequence markers seen for one emitter plus the
// most recent marker. Insertion is circular, the oldest marker is overwritten.
// Only markers actually recorded participate in matching; an empty window
// never matches, including marker value 0.
type dedupWindow struct {
	last   uint8
	ring   []uint8
	index  int
	filled int
}

func newDedupWindow(capacity int) dedupWindow {
	return dedupWindow{ring: make([]uint8, capacity)}
}

// contains reports whether seq matches the last marker or any held ring slot.
func (w *dedupWindow) contains(seq uint8) bool {
	if w.filled == 0 {
		return false
	}
	if seq == w.last {
		return true
	}
	for i := 0; i < w.filled; i++ {
		if w.ring[i] == seq {
			return true
		}
	}
	return false
}

// push records seq as the most recent marker and inserts it into the ring,
// overwriting the oldest slot.
func (w *dedupWindow) push(seq uint8) {
	w.last = seq
	w.ring[w.index] = seq
	w.index = (w.index + 1) % len(w.ring)
	if w.filled < len(w.ring) {
		w.filled++
	}
}

// reset clears all held markers, for slot reuse by a new emitter.
func (w *dedupWindow) reset() {
	w.index = 0
	w.filled = 0
	w.last = 0
}
