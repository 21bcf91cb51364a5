package planner

import (
	"fmt"
	"math"

	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

// Reviser applies targeted edits to an existing itinerary: drop,
// replace, move, insert, swap, and per-day reorder. Edits gate
// feasibility on the edited day only; anything an edit breaks elsewhere
// comes back from Finish as violations, so the caller can commit, roll
// back, or put the trade-off to the user. The input itinerary is never
// mutated.
//
// The request's candidate pool must cover every place the itinerary
// schedules plus every place the staged edits will reference; its
// matrix and hours must span that pool.
type Reviser struct {
	s *state
}

// NewReviser stages a revision of it against the request's story and
// candidate pool.
func (p *Planner) NewReviser(req Request, it *travel.Itinerary) (*Reviser, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if it == nil {
		return nil, fmt.Errorf("%w: reviser needs an itinerary to edit", travel.ErrInvariant)
	}
	if len(it.Days) > req.Story.DayCount {
		return nil, fmt.Errorf("%w: itinerary has %d days but the story has %d", travel.ErrInvariant, len(it.Days), req.Story.DayCount)
	}

	s := newState(p, req)
	for d, day := range it.Days {
		seq := make([]int, 0, len(day.Visits))
		for _, v := range day.Visits {
			idx, ok := s.byID[v.PlaceID]
			if !ok {
				return nil, fmt.Errorf("%w: scheduled place %q missing from the candidate pool", travel.ErrInvariant, v.PlaceID)
			}
			seq = append(seq, idx)
			s.scheduled[v.PlaceID] = true
			if v.StayMinutes > 0 {
				s.stay[v.PlaceID] = v.StayMinutes
			}
		}
		s.days[d] = seq
	}
	return &Reviser{s: s}, nil
}

// Drop removes a scheduled place from its day.
func (r *Reviser) Drop(placeID string) error {
	s := r.s
	day, pos, ok := s.find(placeID)
	if !ok {
		return fmt.Errorf("%w: %q is not on the plan", travel.ErrRevision, placeID)
	}
	delete(s.pinned, s.days[day][pos])
	s.days[day] = removeAt(s.days[day], pos)
	s.scheduled[placeID] = false
	return nil
}

// Replace removes a scheduled place and puts the best-ranked open
// substitute in its day at the cheapest slot that re-times. Substitutes
// match the hints when given, else they share a tag or category with
// the removed place.
func (r *Reviser) Replace(placeID string, hints []string) error {
	s := r.s
	day, pos, ok := s.find(placeID)
	if !ok {
		return fmt.Errorf("%w: %q is not on the plan", travel.ErrRevision, placeID)
	}
	old := s.candAt(s.days[day][pos])
	terms := append(append([]string{}, old.Place.Tags...), old.Place.Categories...)
	matches := func(c *travel.Candidate) bool {
		if len(hints) > 0 {
			for _, h := range hints {
				if travel.MatchesTerm(c.Place, h) {
					return true
				}
			}
			return false
		}
		return travel.TagsIntersect(c.Place, terms)
	}

	saved := s.days[day]
	s.days[day] = removeAt(saved, pos)
	for _, c := range s.cands {
		if s.scheduled[c.ID()] || (c.MustNot && !c.MustHave) {
			continue
		}
		if !matches(c) {
			continue
		}
		idx := s.byID[c.ID()]
		if p, ok := s.cheapestSlotOn(day, idx); ok {
			s.days[day] = insertAt(s.days[day], p, idx)
			s.scheduled[old.ID()] = false
			s.scheduled[c.ID()] = true
			delete(s.pinned, s.byID[old.ID()])
			return nil
		}
	}
	s.days[day] = saved
	return fmt.Errorf("%w: nothing open can stand in for %q", travel.ErrRevision, old.Place.Name)
}

// Move relocates a scheduled place to the given day. With atMinute >= 0
// the visit is pinned to start at that minute (or its arrival, when the
// arrival is later) at the position that lands closest; a pin that
// breaks opening hours or the window is honored and surfaces as a
// violation, not refused. Without a time target it takes the cheapest
// slot that re-times, falling back to the end of the day.
func (r *Reviser) Move(placeID string, day, atMinute int) error {
	s := r.s
	if day < 0 || day >= len(s.days) {
		return fmt.Errorf("%w: day %d is outside the trip", travel.ErrRevision, day)
	}
	fromDay, pos, ok := s.find(placeID)
	if !ok {
		return fmt.Errorf("%w: %q is not on the plan", travel.ErrRevision, placeID)
	}
	idx := s.days[fromDay][pos]
	s.days[fromDay] = removeAt(s.days[fromDay], pos)

	if atMinute >= 0 {
		if s.pinned == nil {
			s.pinned = make(map[int]int)
		}
		s.pinned[idx] = atMinute
		s.days[day] = insertAt(s.days[day], s.slotClosestTo(day, idx, atMinute), idx)
		return nil
	}
	delete(s.pinned, idx)
	if p, ok := s.cheapestSlotOn(day, idx); ok {
		s.days[day] = insertAt(s.days[day], p, idx)
		return nil
	}
	// No slot re-times cleanly; honor the move anyway and let
	// validation name the damage.
	s.days[day] = append(s.days[day], idx)
	return nil
}

// Insert schedules a place from the candidate pool at the cheapest slot
// that re-times, trying the preferred day first and then the rest of
// the trip. day -1 means no preference.
func (r *Reviser) Insert(placeID string, day int) error {
	s := r.s
	idx, known := s.byID[placeID]
	if !known {
		return fmt.Errorf("%w: %q is not in the candidate pool", travel.ErrRevision, placeID)
	}
	if s.scheduled[placeID] {
		return fmt.Errorf("%w: %q is already on the plan", travel.ErrRevision, placeID)
	}
	if day >= len(s.days) {
		return fmt.Errorf("%w: day %d is outside the trip", travel.ErrRevision, day)
	}

	order := make([]int, 0, len(s.days))
	if day >= 0 {
		order = append(order, day)
	}
	for d := range s.days {
		if d != day {
			order = append(order, d)
		}
	}
	for _, d := range order {
		if p, ok := s.cheapestSlotOn(d, idx); ok {
			s.days[d] = insertAt(s.days[d], p, idx)
			s.scheduled[placeID] = true
			return nil
		}
	}
	return fmt.Errorf("%w: no day has a feasible slot for %q", travel.ErrRevision, placeID)
}

// Swap exchanges the positions of two scheduled places, across days or
// within one.
func (r *Reviser) Swap(aID, bID string) error {
	s := r.s
	if aID == bID {
		return fmt.Errorf("%w: swap needs two different places", travel.ErrRevision)
	}
	da, pa, ok := s.find(aID)
	if !ok {
		return fmt.Errorf("%w: %q is not on the plan", travel.ErrRevision, aID)
	}
	db, pb, ok := s.find(bID)
	if !ok {
		return fmt.Errorf("%w: %q is not on the plan", travel.ErrRevision, bID)
	}
	s.days[da][pa], s.days[db][pb] = s.days[db][pb], s.days[da][pa]
	return nil
}

// Reorder re-runs 2-opt on one day.
func (r *Reviser) Reorder(day int) error {
	s := r.s
	if day < 0 || day >= len(s.days) {
		return fmt.Errorf("%w: day %d is outside the trip", travel.ErrRevision, day)
	}
	s.twoOpt(day, s.dayFeasible)
	return nil
}

// Finish times the revised plan and validates it against the story.
// Days are timed leniently: a visit that no longer fits keeps its
// computed arrival so the violations name exactly what the edits broke.
func (r *Reviser) Finish() (*travel.Itinerary, []travel.Violation) {
	s := r.s
	it := &travel.Itinerary{Days: make([]travel.DayPlan, len(s.days))}
	for d, seq := range s.days {
		day := travel.DayPlan{
			Day:    d,
			Date:   s.story.DateOf(d),
			Visits: s.materializeDayLenient(d, seq),
		}
		if s.hasBase() {
			day.Accommodation = &travel.Accommodation{
				Name:  "accommodation",
				Point: *s.story.Accommodation,
			}
		}
		it.Days[d] = day
	}
	violations := s.validate(it)
	violations = append(violations, s.returnLegViolations(it)...)
	return it, violations
}

// find returns the day and position of a scheduled place.
func (s *state) find(placeID string) (day, pos int, ok bool) {
	idx, known := s.byID[placeID]
	if !known {
		return -1, -1, false
	}
	for d, seq := range s.days {
		for p, x := range seq {
			if x == idx {
				return d, p, true
			}
		}
	}
	return -1, -1, false
}

// dayFeasible gates reviser edits on the edited day alone; cross-day
// fallout is reported at Finish instead of refusing the edit.
func (s *state) dayFeasible(d int, trial []int) bool {
	_, ok := s.materializeDay(d, trial)
	return ok
}

// cheapestSlotOn returns the position on day d where inserting idx adds
// the least travel while the day still re-times.
func (s *state) cheapestSlotOn(d, idx int) (pos int, ok bool) {
	before := s.seqTravel(d, s.days[d])
	bestPos, bestDetour := -1, math.MaxInt
	for p := 0; p <= len(s.days[d]); p++ {
		trial := insertAt(s.days[d], p, idx)
		detour := s.seqTravel(d, trial) - before
		if detour >= bestDetour {
			continue
		}
		if !s.dayFeasible(d, trial) {
			continue
		}
		bestPos, bestDetour = p, detour
	}
	return bestPos, bestPos >= 0
}

// slotClosestTo returns the position on day d where idx's lenient
// arrival lands closest to the requested minute, earliest position on
// ties.
func (s *state) slotClosestTo(d, idx, minute int) int {
	bestPos, bestDist := 0, math.MaxInt
	for p := 0; p <= len(s.days[d]); p++ {
		trial := insertAt(s.days[d], p, idx)
		visits := s.materializeDayLenient(d, trial)
		dist := visits[p].ETA - minute
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			bestPos, bestDist = p, dist
		}
	}
	return bestPos
}

// materializeDayLenient times day d without rejecting: a pinned visit
// starts at its pin, a stay that fits no opening window starts at its
// arrival, and overruns are kept, so the validator can name
// opening-hours and window violations precisely.
func (s *state) materializeDayLenient(d int, seq []int) []travel.Visit {
	weekday := s.story.WeekdayOf(d)
	cur := s.window().StartMinute
	fromIdx := s.dayStartIdx(d)

	visits := make([]travel.Visit, 0, len(seq))
	for _, idx := range seq {
		c := s.candAt(idx)
		leg := s.matrix.Leg(fromIdx, idx)
		travelMin := s.matrix.MinutesInflated(fromIdx, idx, s.opts.Inflation)
		arrival := cur + travelMin
		stay := s.stayOf(c)
		var start int
		if pin, ok := s.pinned[idx]; ok {
			start = max(arrival, pin)
		} else if fit, ok := s.hours.NextFit(c.ID(), weekday, arrival, stay); ok {
			start = fit
		} else {
			start = arrival
		}
		visits = append(visits, travel.Visit{
			PlaceID:       c.ID(),
			Name:          c.Place.Name,
			ETA:           start,
			ETD:           start + stay,
			TravelMinutes: travelMin,
			StayMinutes:   stay,
			EstimatedLeg:  leg.Estimated,
		})
		cur = start + stay
		fromIdx = idx
	}
	return visits
}

// returnLegViolations checks the return-to-base bound, which the shared
// validator cannot see without the matrix.
func (s *state) returnLegViolations(it *travel.Itinerary) []travel.Violation {
	if !s.hasBase() {
		return nil
	}
	var violations []travel.Violation
	for d, seq := range s.days {
		if len(seq) == 0 {
			continue
		}
		last := it.Days[d].Visits[len(seq)-1]
		back := s.matrix.MinutesInflated(seq[len(seq)-1], 0, s.opts.Inflation)
		if last.ETD+back > s.window().EndMinute {
			violations = append(violations, travel.Violation{
				Code:    travel.ViolationDayBudget,
				Day:     d,
				PlaceID: last.PlaceID,
				Detail:  fmt.Sprintf("no room for the %d minute return to the accommodation", back),
			})
		}
	}
	return violations
}
