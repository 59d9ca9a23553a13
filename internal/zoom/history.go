package zoom

// History is a back/forward stack of zoom states with browser semantics.
// It is not safe for concurrent use; the timeline model guards it with its
// own lock.
type History struct {
	states []State
	index  int
}

// NewHistory returns a history whose only entry is initial.
func NewHistory(initial State) *History {
	return &History{states: []State{initial}}
}

// Current returns the state at the current index.
func (h *History) Current() State {
	return h.states[h.index]
}

// Len returns the number of states held.
func (h *History) Len() int { return len(h.states) }

// Index returns the current position.
func (h *History) Index() int { return h.index }

// CanAdvance reports whether Forward would move.
func (h *History) CanAdvance() bool { return h.index < len(h.states)-1 }

// CanRetreat reports whether Back would move.
func (h *History) CanRetreat() bool { return h.index > 0 }

// Advance pushes s. A state equal to the current one is ignored; otherwise
// everything after the current index is dropped before s is appended.
// It reports whether the history changed.
func (h *History) Advance(s State) bool {
	if s.Equal(h.Current()) {
		return false
	}
	h.states = append(h.states[:h.index+1:h.index+1], s)
	h.index = len(h.states) - 1
	return true
}

// Forward moves one step towards the tail. No-op at the tail.
func (h *History) Forward() State {
	if h.CanAdvance() {
		h.index++
	}
	return h.Current()
}

// Back moves one step towards the head. No-op at the head.
func (h *History) Back() State {
	if h.CanRetreat() {
		h.index--
	}
	return h.Current()
}

// Amend replaces the current state in place, keeping the entries around it.
func (h *History) Amend(s State) {
	h.states[h.index] = s
}
