package planner

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

// maximum candidates adopted from one repair re-retrieval
const refillAdoptLimit = 8

// repair walks the ladder over the current violations: each rung that
// changes the working set is followed by a must-have re-insertion and a
// full re-validation. Rungs are tried once, in order; whatever is still
// violated after the last rung goes back to the caller for a user
// decision.
func (s *state) repair(ctx context.Context, violations []travel.Violation) []travel.Violation {
	rungs := []struct {
		name  string
		apply func(ctx context.Context, v travel.Violation) bool
	}{
		{"rotate", s.repairRotate},
		{"shorten_stay", s.repairShortenStay},
		{"shift_day", s.repairShiftDay},
		{"refill", s.repairRefill},
		{"substitute", s.repairSubstitute},
	}

	for _, rung := range rungs {
		if ctx.Err() != nil || len(violations) == 0 {
			break
		}
		if !rung.apply(ctx, violations[0]) {
			continue
		}
		s.p.recordRepair(rung.name)
		slog.Debug("repair rung applied", "rung", rung.name, "violation", violations[0].Code)

		s.insertMustHaves()
		it, err := s.buildItinerary()
		if err != nil {
			return violations
		}
		violations = s.validate(it)
		if len(violations) == 0 {
			return nil
		}
	}
	return violations
}

// locateBlocking resolves a violation to a scheduled (day, position).
// Violations without a scheduled place fall back to the busiest day's
// last visit, the one construction valued least.
func (s *state) locateBlocking(v travel.Violation) (int, int) {
	if v.PlaceID != "" {
		if idx, ok := s.byID[v.PlaceID]; ok {
			for d, seq := range s.days {
				for p, x := range seq {
					if x == idx {
						return d, p
					}
				}
			}
		}
	}
	d := s.busiestDay()
	if len(s.days[d]) == 0 {
		return -1, -1
	}
	return d, len(s.days[d]) - 1
}

func (s *state) busiestDay() int {
	best, bestBusy := 0, -1
	for d := range s.days {
		busy := s.busyMinutes(d)
		if busy > bestBusy {
			best, bestBusy = d, busy
		}
	}
	return best
}

func (s *state) busyMinutes(d int) int {
	busy := s.seqTravel(d, s.days[d])
	for _, idx := range s.days[d] {
		busy += s.stayOf(s.candAt(idx))
	}
	return busy
}

func (s *state) freeMinutes(d int) int {
	return s.window().Minutes() - s.busyMinutes(d)
}

// repairRotate tries a light 3-opt exchange on the blocking day: cycle
// three visit positions, accept the first feasible variant with strictly
// less total travel.
func (s *state) repairRotate(ctx context.Context, v travel.Violation) bool {
	day, _ := s.locateBlocking(v)
	if day < 0 {
		return false
	}
	seq := s.days[day]
	n := len(seq)
	if n < 3 {
		return false
	}
	base := s.seqTravel(day, seq)

	for i := 0; i < n-2; i++ {
		for j := i + 1; j < n-1; j++ {
			for k := j + 1; k < n; k++ {
				for _, trial := range cycleTriple(seq, i, j, k) {
					if s.seqTravel(day, trial) >= base {
						continue
					}
					if !s.feasibleWith(day, trial) {
						continue
					}
					s.days[day] = trial
					return true
				}
			}
		}
	}
	return false
}

// cycleTriple returns the two 3-cycles of positions i<j<k.
func cycleTriple(seq []int, i, j, k int) [][]int {
	a := make([]int, len(seq))
	copy(a, seq)
	a[i], a[j], a[k] = seq[k], seq[i], seq[j]

	b := make([]int, len(seq))
	copy(b, seq)
	b[i], b[j], b[k] = seq[j], seq[k], seq[i]

	return [][]int{a, b}
}

// repairShortenStay cuts the longest stay on the blocking day by up to
// a quarter. Shorter stays always re-time, so the rung applies whenever
// there is something to shorten.
func (s *state) repairShortenStay(ctx context.Context, v travel.Violation) bool {
	day, _ := s.locateBlocking(v)
	if day < 0 {
		return false
	}

	longestID, longest := "", 0
	for _, idx := range s.days[day] {
		c := s.candAt(idx)
		if stay := s.stayOf(c); stay > longest {
			longestID, longest = c.ID(), stay
		}
	}
	if longestID == "" {
		return false
	}
	shortened := longest * 3 / 4
	if shortened >= longest {
		return false
	}
	slog.Debug("shortening stay", "place_id", longestID, "from", longest, "to", shortened)
	s.stay[longestID] = shortened
	return true
}

// repairShiftDay moves the blocking visit to the adjacent day with the
// most slack, at its cheapest feasible position.
func (s *state) repairShiftDay(ctx context.Context, v travel.Violation) bool {
	day, pos := s.locateBlocking(v)
	if day < 0 {
		return false
	}
	idx := s.days[day][pos]

	for _, ad := range s.adjacentBySlack(day) {
		oldDay, oldAd := s.days[day], s.days[ad]
		s.days[day] = removeAt(oldDay, pos)

		bestPos, bestDetour := -1, math.MaxInt
		before := s.seqTravel(ad, s.days[ad])
		for p := 0; p <= len(s.days[ad]); p++ {
			trial := insertAt(s.days[ad], p, idx)
			detour := s.seqTravel(ad, trial) - before
			if detour >= bestDetour {
				continue
			}
			s.days[ad] = trial
			ok := s.feasibleFrom(0)
			s.days[ad] = oldAd
			if ok {
				bestPos, bestDetour = p, detour
			}
		}

		if bestPos >= 0 {
			s.days[ad] = insertAt(oldAd, bestPos, idx)
			return true
		}
		s.days[day] = oldDay
	}
	return false
}

func (s *state) adjacentBySlack(day int) []int {
	var adj []int
	if day > 0 {
		adj = append(adj, day-1)
	}
	if day+1 < len(s.days) {
		adj = append(adj, day+1)
	}
	sort.SliceStable(adj, func(i, j int) bool {
		return s.freeMinutes(adj[i]) > s.freeMinutes(adj[j])
	})
	return adj
}

// repairRefill re-retrieves around the blocking slot with the expanded
// radius and adopts the unseen candidates into the working set,
// re-resolving the matrix and hours over the grown point set. The rung
// itself changes no day; the follow-up must-have insertion and later
// rungs pick from the widened pool.
func (s *state) repairRefill(ctx context.Context, v travel.Violation) bool {
	p := s.p
	if p.travel == nil || p.refill == nil || p.hoursFn == nil {
		return false
	}

	center := s.matrix.Points[0]
	if day, pos := s.locateBlocking(v); day >= 0 {
		seq := s.days[day]
		if pos > 0 {
			center = s.matrix.Points[seq[pos-1]]
		} else {
			center = s.matrix.Points[s.dayStartIdx(day)]
		}
	}

	found, err := p.refill(ctx, s.story, center, s.opts.RefillRadiusM)
	if err != nil {
		slog.Warn("repair re-retrieval failed", "error", err)
		return false
	}

	var fresh []*travel.Candidate
	for _, c := range found {
		if _, known := s.byID[c.ID()]; known {
			continue
		}
		fresh = append(fresh, c)
		if len(fresh) == refillAdoptLimit {
			break
		}
	}
	if len(fresh) == 0 {
		return false
	}

	oldCands, oldMatrix, oldHours := s.cands, s.matrix, s.hours

	grown := append(append([]*travel.Candidate{}, s.cands...), fresh...)
	points := make([]travel.GeoPoint, 0, len(grown)+1)
	points = append(points, s.matrix.Points[0])
	for _, c := range grown {
		points = append(points, c.Point())
	}

	matrix, err := p.travel.Matrix(ctx, points)
	if err != nil {
		slog.Warn("repair matrix refresh failed", "error", err)
		return false
	}
	ids := make([]string, 0, len(grown))
	for _, c := range grown {
		ids = append(ids, c.ID())
	}
	hours, err := p.hoursFn(ctx, ids)
	if err != nil {
		slog.Warn("repair hours refresh failed", "error", err)
		return false
	}

	s.cands, s.matrix, s.hours = grown, matrix, hours
	s.rebuildIndex()
	if !s.feasibleFrom(0) {
		// Refreshed durations broke a committed day; keep the old set.
		s.cands, s.matrix, s.hours = oldCands, oldMatrix, oldHours
		s.rebuildIndex()
		return false
	}
	slog.Debug("repair adopted refill candidates", "count", len(fresh))
	return true
}

func (s *state) rebuildIndex() {
	s.byID = make(map[string]int, len(s.cands))
	s.places = make(map[string]*store.Place, len(s.cands))
	s.indexCandidates()
}

// repairSubstitute swaps the blocking visit for the next-ranked
// unscheduled candidate sharing at least one category or tag with it.
// Required place ids are never substituted away.
func (s *state) repairSubstitute(ctx context.Context, v travel.Violation) bool {
	day, pos := s.locateBlocking(v)
	if day < 0 {
		return false
	}
	blockIdx := s.days[day][pos]
	blocking := s.candAt(blockIdx)
	if isRequiredID(s.story, blocking.ID()) {
		return false
	}
	terms := append(append([]string{}, blocking.Place.Tags...), blocking.Place.Categories...)

	for _, c := range s.cands {
		if s.scheduled[c.ID()] || c.MustNot {
			continue
		}
		if !travel.TagsIntersect(c.Place, terms) {
			continue
		}
		trial := make([]int, len(s.days[day]))
		copy(trial, s.days[day])
		trial[pos] = s.byID[c.ID()]
		if !s.feasibleWith(day, trial) {
			continue
		}
		s.days[day] = trial
		s.scheduled[blocking.ID()] = false
		s.scheduled[c.ID()] = true
		return true
	}
	return false
}

func isRequiredID(story *travel.Story, placeID string) bool {
	for _, id := range story.MustHaveIDs() {
		if id == placeID {
			return true
		}
	}
	return false
}

// partialOptions assembles the few alternatives surfaced with a decision
// error: the plan without its blocking visits, the plan reduced to its
// clean days, and the best effort as built. All are flagged truncated.
func (s *state) partialOptions(current *travel.Itinerary, violations []travel.Violation) []*travel.Itinerary {
	var options []*travel.Itinerary
	seen := make(map[string]bool)
	add := func(it *travel.Itinerary) {
		if it == nil || len(options) >= s.opts.MaxOptions {
			return
		}
		key := strings.Join(it.PlaceIDs(), ",")
		if seen[key] {
			return
		}
		seen[key] = true
		it.Truncated = true
		options = append(options, it)
	}

	add(s.optionWithoutBlockers(violations))
	add(s.optionCleanDays(violations))
	if current != nil {
		add(current.Clone())
	}
	return options
}

// optionWithoutBlockers re-times the plan with every violating visit
// removed.
func (s *state) optionWithoutBlockers(violations []travel.Violation) *travel.Itinerary {
	drop := make(map[int]bool)
	for _, v := range violations {
		if v.PlaceID == "" {
			continue
		}
		if idx, ok := s.byID[v.PlaceID]; ok {
			drop[idx] = true
		}
	}
	if len(drop) == 0 {
		return nil
	}

	saved := s.snapshotDays()
	for d, seq := range s.days {
		kept := make([]int, 0, len(seq))
		for _, idx := range seq {
			if !drop[idx] {
				kept = append(kept, idx)
			}
		}
		s.days[d] = kept
	}
	it, err := s.buildItinerary()
	s.days = saved
	if err != nil {
		return nil
	}
	return it
}

// optionCleanDays re-times the plan with every violating day emptied.
func (s *state) optionCleanDays(violations []travel.Violation) *travel.Itinerary {
	dirty := make(map[int]bool)
	for _, v := range violations {
		if v.Day >= 0 {
			dirty[v.Day] = true
		}
	}
	if len(dirty) == 0 || len(dirty) == len(s.days) {
		return nil
	}

	saved := s.snapshotDays()
	for d := range s.days {
		if dirty[d] {
			s.days[d] = nil
		}
	}
	it, err := s.buildItinerary()
	s.days = saved
	if err != nil {
		return nil
	}
	return it
}

func (s *state) snapshotDays() [][]int {
	saved := make([][]int, len(s.days))
	for d, seq := range s.days {
		saved[d] = append([]int{}, seq...)
	}
	return saved
}
