package planner

import (
	"math"

	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

// twoOptDay runs first-improvement 2-opt on day d: reverse a contiguous
// segment, accept iff the day (and every chained later day) re-times
// feasibly and total travel strictly drops. Scanning order is segment
// length ascending then start ascending, so identical inputs always walk
// the same improvement path.
func (s *state) twoOptDay(d int) int {
	return s.twoOpt(d, s.feasibleWith)
}

// twoOpt takes the feasibility gate as a parameter: planning gates on
// the whole chained plan, the reviser on the edited day alone.
func (s *state) twoOpt(d int, feasible func(day int, trial []int) bool) int {
	improvements := 0
	for improvements < s.opts.TwoOptCap {
		if !s.twoOptScan(d, feasible) {
			break
		}
		improvements++
	}
	return improvements
}

func (s *state) twoOptScan(d int, feasible func(day int, trial []int) bool) bool {
	seq := s.days[d]
	n := len(seq)
	if n < 2 {
		return false
	}
	base := s.seqTravel(d, seq)

	for length := 2; length <= n; length++ {
		for start := 0; start+length <= n; start++ {
			trial := reverseSegment(seq, start, length)
			if s.seqTravel(d, trial) >= base {
				continue
			}
			if !feasible(d, trial) {
				continue
			}
			s.days[d] = trial
			return true
		}
	}
	return false
}

func reverseSegment(seq []int, start, length int) []int {
	trial := make([]int, len(seq))
	copy(trial, seq)
	for i, j := start, start+length-1; i < j; i, j = i+1, j-1 {
		trial[i], trial[j] = trial[j], trial[i]
	}
	return trial
}

// insertMustHaves places leftover must-have candidates by cheapest
// insertion: the feasible day and position with the smallest travel
// detour across the whole trip, days and positions scanned in order so
// ties resolve to the earliest slot.
func (s *state) insertMustHaves() {
	for _, c := range s.cands {
		if !c.MustHave || s.scheduled[c.ID()] {
			continue
		}
		s.insertCheapest(c)
	}
}

func (s *state) insertCheapest(c *travel.Candidate) bool {
	idx := s.byID[c.ID()]
	bestDay, bestPos, bestDetour := -1, -1, math.MaxInt

	for d := range s.days {
		before := s.seqTravel(d, s.days[d])
		for pos := 0; pos <= len(s.days[d]); pos++ {
			trial := insertAt(s.days[d], pos, idx)
			detour := s.seqTravel(d, trial) - before
			if detour >= bestDetour {
				continue
			}
			if !s.feasibleWith(d, trial) {
				continue
			}
			bestDay, bestPos, bestDetour = d, pos, detour
		}
	}

	if bestDay < 0 {
		return false
	}
	s.days[bestDay] = insertAt(s.days[bestDay], bestPos, idx)
	s.scheduled[c.ID()] = true
	return true
}

func insertAt(seq []int, pos, idx int) []int {
	trial := make([]int, 0, len(seq)+1)
	trial = append(trial, seq[:pos]...)
	trial = append(trial, idx)
	trial = append(trial, seq[pos:]...)
	return trial
}

func removeAt(seq []int, pos int) []int {
	trial := make([]int, 0, len(seq)-1)
	trial = append(trial, seq[:pos]...)
	trial = append(trial, seq[pos+1:]...)
	return trial
}
