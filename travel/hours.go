package travel

import (
	"sort"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
)

const minutesPerDay = 1440

// OpenWindow is a normalized opening window on one weekday:
// Start < End, both in minutes-of-day within [0, 1440].
type OpenWindow struct {
	Start int
	End   int
}

// Contains reports whether [from, to] lies inside the window.
func (w OpenWindow) Contains(from, to int) bool {
	return w.Start <= from && to <= w.End
}

// Hours is a normalized weekly opening-hours lookup for a set of places.
// Overnight wrap rows (close <= open) are split into a tail window on
// their weekday and a head window on the following weekday, so both the
// single-row and the split-row store representations converge here.
type Hours struct {
	byDay [7]map[string][]OpenWindow
}

// BuildHours normalizes raw store intervals into an Hours lookup.
func BuildHours(intervals []*store.OpeningInterval) *Hours {
	h := &Hours{}
	for d := range h.byDay {
		h.byDay[d] = make(map[string][]OpenWindow)
	}
	for _, interval := range intervals {
		day := int(interval.Weekday) % 7
		open := int(interval.OpenMinute)
		close := int(interval.CloseMinute)
		if open < 0 || open > minutesPerDay {
			continue
		}
		if close > open {
			h.add(day, interval.PlaceID, OpenWindow{Start: open, End: min(close, minutesPerDay)})
			continue
		}
		// Overnight wrap: tail of this weekday plus head of the next.
		h.add(day, interval.PlaceID, OpenWindow{Start: open, End: minutesPerDay})
		if close > 0 {
			h.add((day+1)%7, interval.PlaceID, OpenWindow{Start: 0, End: close})
		}
	}
	for d := range h.byDay {
		for id := range h.byDay[d] {
			windows := h.byDay[d][id]
			sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })
			h.byDay[d][id] = mergeWindows(windows)
		}
	}
	return h
}

func (h *Hours) add(day int, placeID string, w OpenWindow) {
	if w.End <= w.Start {
		return
	}
	h.byDay[day][placeID] = append(h.byDay[day][placeID], w)
}

// mergeWindows coalesces overlapping or touching sorted windows.
func mergeWindows(windows []OpenWindow) []OpenWindow {
	if len(windows) < 2 {
		return windows
	}
	merged := windows[:1]
	for _, w := range windows[1:] {
		last := &merged[len(merged)-1]
		if w.Start <= last.End {
			if w.End > last.End {
				last.End = w.End
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

// Windows returns the normalized windows for a place on a weekday
// (0=Sunday), sorted by start. A place with no rows for the weekday
// returns nil, meaning closed all day.
func (h *Hours) Windows(placeID string, weekday int) []OpenWindow {
	if h == nil {
		return nil
	}
	return h.byDay[((weekday%7)+7)%7][placeID]
}

// NextFit finds the earliest placement of a stay within the place's
// windows on the weekday: given an arrival minute, it returns the
// start minute (arrival plus any wait until open) such that
// [start, start+stay] fits one window. ok is false when no window can
// hold the stay at or after the arrival.
func (h *Hours) NextFit(placeID string, weekday, arrival, stay int) (start int, ok bool) {
	for _, w := range h.Windows(placeID, weekday) {
		begin := arrival
		if begin < w.Start {
			begin = w.Start
		}
		if begin+stay <= w.End {
			return begin, true
		}
	}
	return 0, false
}

// OpenAt reports whether the place is open during [from, to] on the weekday.
func (h *Hours) OpenAt(placeID string, weekday, from, to int) bool {
	for _, w := range h.Windows(placeID, weekday) {
		if w.Contains(from, to) {
			return true
		}
	}
	return false
}
