package feedback

import "github.com/JohnnyHuang0515/TravelAI-sub001/travel"

const defaultHistoryLimit = 10

// History keeps the bounded trail of committed itinerary versions, so a
// revision always has its predecessor to fall back to. Pushes beyond
// the limit evict the oldest version.
type History struct {
	limit   int
	entries []*travel.Itinerary
}

// NewHistory creates a history. limit <= 0 uses the default.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &History{limit: limit}
}

// Push snapshots a committed version.
func (h *History) Push(it *travel.Itinerary) {
	if it == nil {
		return
	}
	h.entries = append(h.entries, it.Clone())
	if len(h.entries) > h.limit {
		copy(h.entries, h.entries[1:])
		h.entries[len(h.entries)-1] = nil
		h.entries = h.entries[:len(h.entries)-1]
	}
}

// Last returns a copy of the most recent version, nil when empty.
func (h *History) Last() *travel.Itinerary {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[len(h.entries)-1].Clone()
}

// Pop removes and returns the most recent version, nil when empty.
func (h *History) Pop() *travel.Itinerary {
	if len(h.entries) == 0 {
		return nil
	}
	last := h.entries[len(h.entries)-1]
	h.entries[len(h.entries)-1] = nil
	h.entries = h.entries[:len(h.entries)-1]
	return last
}

// Len returns the number of kept versions.
func (h *History) Len() int {
	return len(h.entries)
}
