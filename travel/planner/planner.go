// Package planner builds day-by-day itineraries from ranked candidates:
// greedy construction under opening-hours and day-window feasibility,
// per-day 2-opt local search, and a bounded repair ladder that ends in a
// user decision instead of a silently broken plan.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/metrics"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/traveltime"
)

const (
	defaultTravelPenalty = 0.005
	defaultWaitPenalty   = 0.003
	defaultStopThreshold = 0.15
	defaultInflation     = 1.3
	defaultTwoOptCap     = 64
	defaultRefillRadiusM = 18750 // retrieval default radius expanded 25%
	defaultMaxOptions    = 3
)

// Options are the planner knobs. Zero values fall back to defaults.
type Options struct {
	TravelPenalty float64 // utility cost per travel minute
	WaitPenalty   float64 // utility cost per wait-until-open minute
	StopThreshold float64 // marginal utility floor once the pace target is met
	Inflation     float64 // factor applied to estimated (non-routed) legs
	TwoOptCap     int     // accepted improvements per day
	RefillRadiusM float64 // radius for the repair re-retrieval rung
	MaxOptions    int     // partial options surfaced on a decision error
}

func (o *Options) normalize() {
	if o.TravelPenalty <= 0 {
		o.TravelPenalty = defaultTravelPenalty
	}
	if o.WaitPenalty <= 0 {
		o.WaitPenalty = defaultWaitPenalty
	}
	if o.StopThreshold <= 0 {
		o.StopThreshold = defaultStopThreshold
	}
	if o.Inflation <= 0 {
		o.Inflation = defaultInflation
	}
	if o.TwoOptCap <= 0 {
		o.TwoOptCap = defaultTwoOptCap
	}
	if o.RefillRadiusM <= 0 {
		o.RefillRadiusM = defaultRefillRadiusM
	}
	if o.MaxOptions <= 0 {
		o.MaxOptions = defaultMaxOptions
	}
}

// TravelSource re-resolves a travel matrix after the candidate set grew.
// *traveltime.Oracle satisfies it.
type TravelSource interface {
	Matrix(ctx context.Context, points []travel.GeoPoint) (*traveltime.Matrix, error)
}

// RefillFunc retrieves replacement candidates around a blocking slot.
// retrieve.(*Retriever).RetrieveNear satisfies it.
type RefillFunc func(ctx context.Context, story *travel.Story, center travel.GeoPoint, radiusM float64) ([]*travel.Candidate, error)

// HoursFunc loads the opening-hours lookup for a place id set.
type HoursFunc func(ctx context.Context, placeIDs []string) (*travel.Hours, error)

// Request carries one planning job. Matrix index 0 is the day anchor:
// the accommodation when the story has one, else the destination
// centroid. Candidate i maps to matrix index i+1.
type Request struct {
	Story      *travel.Story
	Candidates []*travel.Candidate
	Matrix     *traveltime.Matrix
	Hours      *travel.Hours
}

func (r *Request) validate() error {
	if r.Story == nil {
		return fmt.Errorf("%w: planner called without a story", travel.ErrInvariant)
	}
	if len(r.Candidates) == 0 {
		return fmt.Errorf("%w: planner called with no candidates", travel.ErrNoCandidates)
	}
	if r.Matrix == nil || r.Matrix.Dim() != len(r.Candidates)+1 {
		return fmt.Errorf("%w: matrix dimension does not cover anchor plus candidates", travel.ErrInvariant)
	}
	if r.Hours == nil {
		return fmt.Errorf("%w: planner called without an hours lookup", travel.ErrInvariant)
	}
	return nil
}

// Planner is safe for concurrent use; every Plan call works on its own
// state.
type Planner struct {
	travel  TravelSource
	refill  RefillFunc
	hoursFn HoursFunc
	exp     *metrics.Exporter
	opts    Options
}

// New creates a planner. travelSource, refill, hoursFn, and exporter may
// each be nil; the refill repair rung is skipped unless all three of
// travelSource, refill, and hoursFn are present.
func New(travelSource TravelSource, refill RefillFunc, hoursFn HoursFunc, exporter *metrics.Exporter, opts Options) *Planner {
	opts.normalize()
	return &Planner{
		travel:  travelSource,
		refill:  refill,
		hoursFn: hoursFn,
		exp:     exporter,
		opts:    opts,
	}
}

// Plan builds an itinerary for the request. On unrepairable
// infeasibility it returns a *travel.DecisionNeededError carrying the
// violations and a few partial options. A deadline hit mid-construction
// returns the partial plan flagged Truncated instead of failing the
// turn.
func (p *Planner) Plan(ctx context.Context, req Request) (*travel.Itinerary, error) {
	if err := req.validate(); err != nil {
		p.recordOutcome("invalid")
		return nil, err
	}

	s := newState(p, req)

	for d := 0; d < req.Story.DayCount; d++ {
		if ctx.Err() != nil {
			s.truncated = true
			break
		}
		s.constructDay(d)
	}
	s.insertMustHaves()

	if !s.truncated {
		for d := range s.days {
			if ctx.Err() != nil {
				s.truncated = true
				break
			}
			s.twoOptDay(d)
		}
	}

	it, err := s.buildItinerary()
	if err != nil {
		p.recordOutcome("error")
		return nil, err
	}
	if s.truncated {
		slog.Warn("plan truncated by deadline",
			"days_built", len(it.Days), "visits", it.VisitCount())
		it.Truncated = true
		p.recordOutcome("truncated")
		return it, nil
	}

	violations := s.validate(it)
	if len(violations) == 0 {
		if it.VisitCount() == 0 {
			p.recordOutcome("empty")
			return nil, fmt.Errorf("%w: none of the %d candidates fit the trip window", travel.ErrNoCandidates, len(req.Candidates))
		}
		p.recordOutcome("planned")
		return it, nil
	}

	violations = s.repair(ctx, violations)
	it, err = s.buildItinerary()
	if err != nil {
		p.recordOutcome("error")
		return nil, err
	}
	if len(violations) == 0 {
		if it.VisitCount() == 0 {
			p.recordOutcome("empty")
			return nil, fmt.Errorf("%w: none of the %d candidates fit the trip window", travel.ErrNoCandidates, len(req.Candidates))
		}
		p.recordOutcome("repaired")
		return it, nil
	}

	p.recordOutcome("needs_decision")
	return nil, &travel.DecisionNeededError{
		Violations: violations,
		Options:    s.partialOptions(it, violations),
	}
}

func (p *Planner) recordOutcome(outcome string) {
	if p.exp != nil {
		p.exp.RecordPlanOutcome(outcome)
	}
}

func (p *Planner) recordRepair(rung string) {
	if p.exp != nil {
		p.exp.RecordRepair(rung)
	}
}

// state is the working representation of one planning job: per-day visit
// sequences as matrix indices, materialized into visits only when timing
// is needed.
type state struct {
	p     *Planner
	story *travel.Story
	opts  Options

	cands  []*travel.Candidate
	matrix *traveltime.Matrix
	hours  *travel.Hours

	byID      map[string]int // place id -> matrix index
	places    map[string]*store.Place
	scheduled map[string]bool
	stay      map[string]int // stay minutes, shortened by repair
	pinned    map[int]int    // start minutes pinned by a reviser move

	days      [][]int // per day, ordered matrix indices
	truncated bool
}

func newState(p *Planner, req Request) *state {
	s := &state{
		p:         p,
		story:     req.Story,
		opts:      p.opts,
		cands:     req.Candidates,
		matrix:    req.Matrix,
		hours:     req.Hours,
		byID:      make(map[string]int, len(req.Candidates)),
		places:    make(map[string]*store.Place, len(req.Candidates)),
		scheduled: make(map[string]bool, len(req.Candidates)),
		stay:      make(map[string]int, len(req.Candidates)),
		days:      make([][]int, req.Story.DayCount),
	}
	s.indexCandidates()
	return s
}

func (s *state) indexCandidates() {
	for i, c := range s.cands {
		s.byID[c.ID()] = i + 1
		s.places[c.ID()] = c.Place
		if _, ok := s.stay[c.ID()]; !ok {
			s.stay[c.ID()] = c.StayMinutes()
		}
	}
}

func (s *state) hasBase() bool {
	return s.story.Accommodation != nil
}

func (s *state) window() travel.DailyWindow {
	return s.story.Window
}

// dayStartIdx is the matrix index each day departs from: the
// accommodation when one exists, else the previous non-empty day's last
// visit, else the centroid.
func (s *state) dayStartIdx(d int) int {
	if s.hasBase() {
		return 0
	}
	for prev := d - 1; prev >= 0; prev-- {
		if n := len(s.days[prev]); n > 0 {
			return s.days[prev][n-1]
		}
	}
	return 0
}

func (s *state) candAt(idx int) *travel.Candidate {
	return s.cands[idx-1]
}

func (s *state) stayOf(c *travel.Candidate) int {
	if m, ok := s.stay[c.ID()]; ok {
		return m
	}
	return c.StayMinutes()
}

// placement is one evaluated next-visit slot.
type placement struct {
	travelMin int
	wait      int
	start     int // stay begins (post-wait), minutes-of-day
	end       int
	estimated bool
}

// placeAfter evaluates candidate c as the next visit departing fromIdx
// at minute cur. Feasible means: the stay fits an open interval at or
// after arrival, ends inside the daily window, and (with a base) leaves
// room to travel back before the window closes.
func (s *state) placeAfter(fromIdx, cur, weekday int, c *travel.Candidate) (placement, bool) {
	idx := s.byID[c.ID()]
	leg := s.matrix.Leg(fromIdx, idx)
	travelMin := s.matrix.MinutesInflated(fromIdx, idx, s.opts.Inflation)

	arrival := cur + travelMin
	stay := s.stayOf(c)
	var start int
	if pin, ok := s.pinned[idx]; ok {
		// A pinned start must itself lie inside an open window to
		// count as feasible.
		start = max(arrival, pin)
		if !s.hours.OpenAt(c.ID(), weekday, start, start+stay) {
			return placement{}, false
		}
	} else {
		var ok bool
		start, ok = s.hours.NextFit(c.ID(), weekday, arrival, stay)
		if !ok {
			return placement{}, false
		}
	}
	end := start + stay
	if end > s.window().EndMinute {
		return placement{}, false
	}
	if s.hasBase() {
		back := s.matrix.MinutesInflated(idx, 0, s.opts.Inflation)
		if end+back > s.window().EndMinute {
			return placement{}, false
		}
	}
	return placement{
		travelMin: travelMin,
		wait:      start - arrival,
		start:     start,
		end:       end,
		estimated: leg.Estimated,
	}, true
}

// constructDay greedily fills day d: always the feasible candidate with
// the best marginal utility, must-haves as a priority class, stopping at
// the pace target once marginal utility drops below the threshold.
func (s *state) constructDay(d int) {
	weekday := s.story.WeekdayOf(d)
	target := s.story.Pace.TargetVisits()
	cur := s.window().StartMinute
	fromIdx := s.dayStartIdx(d)

	var seq []int
	for {
		bestIdx := -1
		bestUtil := math.Inf(-1)
		bestMust := false
		var bestPl placement

		for _, c := range s.cands {
			if s.scheduled[c.ID()] {
				continue
			}
			// Must-not places are only ever scheduled when the user
			// also named them as required; the conflict then surfaces
			// as a violation instead of a silent drop.
			if c.MustNot && !c.MustHave {
				continue
			}
			pl, ok := s.placeAfter(fromIdx, cur, weekday, c)
			if !ok {
				continue
			}
			util := c.Score - s.opts.TravelPenalty*float64(pl.travelMin) - s.opts.WaitPenalty*float64(pl.wait)

			better := false
			switch {
			case bestIdx == -1:
				better = true
			case c.MustHave != bestMust:
				better = c.MustHave
			default:
				better = util > bestUtil
			}
			if better {
				bestIdx = s.byID[c.ID()]
				bestUtil = util
				bestMust = c.MustHave
				bestPl = pl
			}
		}

		if bestIdx == -1 {
			break
		}
		if len(seq) >= target && !bestMust && bestUtil < s.opts.StopThreshold {
			break
		}

		seq = append(seq, bestIdx)
		s.scheduled[s.candAt(bestIdx).ID()] = true
		cur = bestPl.end
		fromIdx = bestIdx
	}

	s.days[d] = seq
}

// materializeDay times day d's sequence into visits, or reports the
// sequence infeasible.
func (s *state) materializeDay(d int, seq []int) ([]travel.Visit, bool) {
	weekday := s.story.WeekdayOf(d)
	cur := s.window().StartMinute
	fromIdx := s.dayStartIdx(d)

	visits := make([]travel.Visit, 0, len(seq))
	for _, idx := range seq {
		c := s.candAt(idx)
		pl, ok := s.placeAfter(fromIdx, cur, weekday, c)
		if !ok {
			return nil, false
		}
		visits = append(visits, travel.Visit{
			PlaceID:       c.ID(),
			Name:          c.Place.Name,
			ETA:           pl.start,
			ETD:           pl.end,
			TravelMinutes: pl.travelMin,
			StayMinutes:   s.stayOf(c),
			EstimatedLeg:  pl.estimated,
		})
		cur = pl.end
		fromIdx = idx
	}

	if s.hasBase() && len(seq) > 0 {
		back := s.matrix.MinutesInflated(fromIdx, 0, s.opts.Inflation)
		if cur+back > s.window().EndMinute {
			return nil, false
		}
	}
	return visits, true
}

// feasibleFrom re-times days d onward against the current sequences.
// Days are chained through dayStartIdx when there is no base, so a
// change on one day must keep every later day feasible.
func (s *state) feasibleFrom(d int) bool {
	for i := d; i < len(s.days); i++ {
		if _, ok := s.materializeDay(i, s.days[i]); !ok {
			return false
		}
	}
	return true
}

// feasibleWith answers whether replacing day d's sequence keeps the plan
// feasible, without committing the replacement.
func (s *state) feasibleWith(d int, trial []int) bool {
	old := s.days[d]
	s.days[d] = trial
	ok := s.feasibleFrom(d)
	s.days[d] = old
	return ok
}

// seqTravel is the total travel minutes of a trial sequence for day d,
// including the leg in from the day start and, with a base, the leg back.
func (s *state) seqTravel(d int, seq []int) int {
	if len(seq) == 0 {
		return 0
	}
	total := 0
	fromIdx := s.dayStartIdx(d)
	for _, idx := range seq {
		total += s.matrix.MinutesInflated(fromIdx, idx, s.opts.Inflation)
		fromIdx = idx
	}
	if s.hasBase() {
		total += s.matrix.MinutesInflated(fromIdx, 0, s.opts.Inflation)
	}
	return total
}

// buildItinerary materializes every day. Committed sequences are always
// feasible, so a failure here is an internal invariant break.
func (s *state) buildItinerary() (*travel.Itinerary, error) {
	it := &travel.Itinerary{Days: make([]travel.DayPlan, len(s.days))}
	for d, seq := range s.days {
		visits, ok := s.materializeDay(d, seq)
		if !ok {
			return nil, fmt.Errorf("%w: committed day %d no longer re-times feasibly", travel.ErrInvariant, d)
		}
		day := travel.DayPlan{
			Day:    d,
			Date:   s.story.DateOf(d),
			Visits: visits,
		}
		if s.hasBase() {
			day.Accommodation = &travel.Accommodation{
				Name:  "accommodation",
				Point: *s.story.Accommodation,
			}
		}
		it.Days[d] = day
	}
	return it, nil
}

func (s *state) validate(it *travel.Itinerary) []travel.Violation {
	return travel.ValidateItinerary(it, s.story, s.hours, s.places, nil)
}
