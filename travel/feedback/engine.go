package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lithammer/shortuuid/v4"

	"github.com/JohnnyHuang0515/TravelAI-sub001/ai"
	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/metrics"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/planner"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/traveltime"
)

const (
	defaultSearchRadiusM = 15000
	defaultSearchLimit   = 5
)

// ResolveFunc retrieves candidates for an insert description the local
// pool cannot satisfy. retrieve-backed callers plug the semantic branch
// in here.
type ResolveFunc func(ctx context.Context, story *travel.Story, query string) ([]*travel.Candidate, error)

// Deps are the engine's collaborators. Store and Resolve may be nil;
// Travel and Hours may be nil together, which limits inserts to places
// already in the candidate pool.
type Deps struct {
	Travel  planner.TravelSource
	Hours   planner.HoursFunc
	Resolve ResolveFunc
	Store   *store.Store
	Metrics *metrics.Exporter
}

// EngineOptions bound the catalog lookups behind insert resolution.
type EngineOptions struct {
	SearchRadiusM float64 // catalog search radius around the story anchor
	SearchLimit   int     // catalog rows fetched per insert query
}

func (o *EngineOptions) normalize() {
	if o.SearchRadiusM <= 0 {
		o.SearchRadiusM = defaultSearchRadiusM
	}
	if o.SearchLimit <= 0 {
		o.SearchLimit = defaultSearchLimit
	}
}

// Engine applies parsed feedback to the committed itinerary.
// Application is transactional: every operation must apply and the
// revised plan must validate, or the caller keeps the prior version and
// gets the exact refusal. Committed revisions bump the itinerary
// version and land in the feedback event log.
type Engine struct {
	parser  *Parser
	planner *planner.Planner
	deps    Deps
	opts    EngineOptions
}

// NewEngine creates a feedback engine.
func NewEngine(parser *Parser, pl *planner.Planner, deps Deps, opts EngineOptions) *Engine {
	opts.normalize()
	return &Engine{parser: parser, planner: pl, deps: deps, opts: opts}
}

// Input is one feedback turn with the session's planning context. The
// candidate pool, matrix, and hours must be the ones the itinerary was
// planned against.
type Input struct {
	SessionID  string
	Utterance  string
	Story      *travel.Story
	Itinerary  *travel.Itinerary
	Candidates []*travel.Candidate
	Matrix     *traveltime.Matrix
	Hours      *travel.Hours
	History    []ai.Message
}

// AppliedOp reports one committed operation.
type AppliedOp struct {
	Kind    OpKind `json:"op"`
	PlaceID string `json:"place_id,omitempty"`
	OtherID string `json:"other_place_id,omitempty"` // swap's second target
	Day     int    `json:"day"`                      // 0-based; -1 when the op has no day
}

// Result is a committed revision. Candidates, Matrix, and Hours carry
// the possibly grown planning context the session must keep for the
// next turn.
type Result struct {
	Itinerary  *travel.Itinerary
	Applied    []AppliedOp
	Candidates []*travel.Candidate
	Matrix     *traveltime.Matrix
	Hours      *travel.Hours
}

// Apply parses the utterance and applies the operations as one
// transaction. On any refusal the input itinerary is untouched: parse
// and resolution problems come back as ErrRevision or ErrSchema, a
// revised plan that breaks constraints comes back as a
// *travel.ViolationsError naming them.
func (e *Engine) Apply(ctx context.Context, in Input) (*Result, error) {
	if in.Story == nil || in.Itinerary == nil || in.Matrix == nil || in.Matrix.Dim() == 0 || in.Hours == nil {
		return nil, fmt.Errorf("%w: feedback applied without a committed plan context", travel.ErrInvariant)
	}

	ops, err := e.parser.Parse(ctx, in.Utterance, in.Itinerary, placesOf(in.Candidates), in.History)
	if err != nil {
		return nil, err
	}

	pool, matrix, hours, err := e.resolveInserts(ctx, in, ops)
	if err != nil {
		return nil, err
	}

	req := planner.Request{
		Story:      effectiveStory(in.Story, ops),
		Candidates: pool,
		Matrix:     matrix,
		Hours:      hours,
	}
	rev, err := e.planner.NewReviser(req, in.Itinerary)
	if err != nil {
		return nil, err
	}

	applied := make([]AppliedOp, 0, len(ops))
	for _, op := range ops {
		if err := applyOp(rev, op); err != nil {
			e.recordOp(op.Kind, "rejected")
			return nil, err
		}
		applied = append(applied, appliedFor(op, in.Itinerary))
	}

	next, violations := rev.Finish()
	if len(violations) > 0 {
		for _, op := range ops {
			e.recordOp(op.Kind, "violated")
		}
		return nil, &travel.ViolationsError{Violations: violations}
	}

	next.Version = in.Itinerary.Version + 1
	for i, op := range ops {
		// Inserts and moves report the day they actually landed on.
		if op.Kind == OpInsert || op.Kind == OpMove {
			if d, _ := next.Locate(op.PlaceID); d >= 0 {
				applied[i].Day = d
			}
		}
		e.recordOp(op.Kind, "committed")
	}
	e.logEvents(ctx, in.SessionID, in.Utterance, applied)

	return &Result{
		Itinerary:  next,
		Applied:    applied,
		Candidates: pool,
		Matrix:     matrix,
		Hours:      hours,
	}, nil
}

func applyOp(rev *planner.Reviser, op Op) error {
	switch op.Kind {
	case OpDrop:
		return rev.Drop(op.PlaceID)
	case OpReplace:
		return rev.Replace(op.PlaceID, op.Hints)
	case OpMove:
		return rev.Move(op.PlaceID, op.Day, op.AtMinute)
	case OpInsert:
		return rev.Insert(op.PlaceID, op.Day)
	case OpSwap:
		return rev.Swap(op.PlaceID, op.OtherID)
	case OpReorder:
		return rev.Reorder(op.Day)
	}
	return fmt.Errorf("%w: unhandled operation %q", travel.ErrInvariant, op.Kind)
}

// appliedFor fills the day a target sat on before the edit, which is
// the day a drop, replace, or swap acts on.
func appliedFor(op Op, prior *travel.Itinerary) AppliedOp {
	a := AppliedOp{Kind: op.Kind, PlaceID: op.PlaceID, Day: op.Day}
	switch op.Kind {
	case OpDrop, OpReplace, OpSwap:
		if d, _ := prior.Locate(op.PlaceID); d >= 0 {
			a.Day = d
		}
	}
	if op.Kind == OpSwap {
		a.OtherID = op.OtherID
	}
	return a
}

// resolveInserts pins every insert op to a place id, growing the
// candidate pool and re-resolving the matrix and hours when the place
// comes from outside the pool.
func (e *Engine) resolveInserts(ctx context.Context, in Input, ops []Op) ([]*travel.Candidate, *traveltime.Matrix, *travel.Hours, error) {
	pool, matrix, hours := in.Candidates, in.Matrix, in.Hours
	scheduled := in.Itinerary.PlaceIDSet()
	claimed := make(map[string]bool)

	for i := range ops {
		if ops[i].Kind != OpInsert {
			continue
		}
		id, fresh, err := e.resolveInsert(ctx, in.Story, ops[i].Query, pool, scheduled, claimed)
		if err != nil {
			return nil, nil, nil, err
		}
		if grown, added := mergePool(pool, fresh); added {
			matrix, hours, err = e.refreshContext(ctx, grown, matrix)
			if err != nil {
				return nil, nil, nil, err
			}
			pool = grown
		}
		ops[i].PlaceID = id
		claimed[id] = true
	}
	return pool, matrix, hours, nil
}

// resolveInsert finds the place an insert query means: an unscheduled
// pool candidate first, then the resolve hook, then a catalog search
// around the story anchor. The returned candidates, if any, are what
// the lookup produced beyond the pool.
func (e *Engine) resolveInsert(ctx context.Context, story *travel.Story, query string, pool []*travel.Candidate, scheduled map[string]struct{}, claimed map[string]bool) (string, []*travel.Candidate, error) {
	taken := func(id string) bool {
		_, on := scheduled[id]
		return on || claimed[id]
	}

	if rest, found := strings.CutPrefix(query, "id:"); found {
		id := strings.TrimSpace(rest)
		for _, c := range pool {
			if c.ID() == id {
				return id, nil, nil
			}
		}
		if e.deps.Store == nil || !e.canGrow() {
			return "", nil, fmt.Errorf("%w: no place with id %q is available", travel.ErrRevision, id)
		}
		rows, err := e.deps.Store.FindPlaces(ctx, &store.FindPlace{IDs: []string{id}})
		if err != nil {
			return "", nil, fmt.Errorf("%w: place lookup: %v", travel.ErrBackendUnavailable, err)
		}
		if len(rows) == 0 {
			return "", nil, fmt.Errorf("%w: no place with id %q is available", travel.ErrRevision, id)
		}
		return id, candidatesFrom(rows), nil
	}

	for _, c := range pool {
		if taken(c.ID()) {
			continue
		}
		if travel.MatchesTerm(c.Place, query) {
			return c.ID(), nil, nil
		}
	}

	if e.canGrow() && e.deps.Resolve != nil {
		cands, err := e.deps.Resolve(ctx, story, query)
		if err != nil {
			slog.Warn("insert resolve hook failed", "query", query, "error", err)
		}
		for _, c := range cands {
			if !taken(c.ID()) {
				return c.ID(), cands, nil
			}
		}
	}

	if e.canGrow() && e.deps.Store != nil {
		// Search the raw term and its folded form; catalog tags carry
		// either.
		term := strings.ToLower(strings.TrimSpace(query))
		tags := []string{term}
		if folded := travel.NormalizeTerm(query); folded != term {
			tags = append(tags, folded)
		}
		limit := e.opts.SearchLimit
		find := &store.FindPlace{
			City:      &story.Destination,
			CenterLat: &story.Anchor.Lat,
			CenterLng: &story.Anchor.Lng,
			RadiusM:   &e.opts.SearchRadiusM,
			Tags:      tags,
			Limit:     &limit,
		}
		rows, err := e.deps.Store.FindPlaces(ctx, find)
		if err != nil {
			return "", nil, fmt.Errorf("%w: place lookup: %v", travel.ErrBackendUnavailable, err)
		}
		for _, row := range rows {
			if !taken(row.Place.ID) {
				return row.Place.ID, candidatesFrom(rows), nil
			}
		}
	}

	return "", nil, fmt.Errorf("%w: nothing available matches %q", travel.ErrRevision, query)
}

func (e *Engine) canGrow() bool {
	return e.deps.Travel != nil && e.deps.Hours != nil
}

// mergePool appends the candidates not already pooled. Fresh candidates
// join with a zero score; the user asked for them by name, so rank no
// longer decides.
func mergePool(pool, fresh []*travel.Candidate) ([]*travel.Candidate, bool) {
	if len(fresh) == 0 {
		return pool, false
	}
	have := make(map[string]bool, len(pool))
	for _, c := range pool {
		have[c.ID()] = true
	}
	grown := pool
	added := false
	for _, c := range fresh {
		if have[c.ID()] {
			continue
		}
		if !added {
			grown = append(make([]*travel.Candidate, 0, len(pool)+len(fresh)), pool...)
			added = true
		}
		have[c.ID()] = true
		grown = append(grown, c)
	}
	return grown, added
}

// refreshContext re-resolves the travel matrix and hours lookup over a
// grown pool. Matrix index 0 keeps the original anchor.
func (e *Engine) refreshContext(ctx context.Context, pool []*travel.Candidate, prior *traveltime.Matrix) (*traveltime.Matrix, *travel.Hours, error) {
	points := make([]travel.GeoPoint, 0, len(pool)+1)
	points = append(points, prior.Points[0])
	ids := make([]string, 0, len(pool))
	for _, c := range pool {
		points = append(points, c.Point())
		ids = append(ids, c.ID())
	}

	m, err := e.deps.Travel.Matrix(ctx, points)
	if err != nil {
		return nil, nil, fmt.Errorf("travel matrix for grown candidate pool: %w", err)
	}
	h, err := e.deps.Hours(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("opening hours for grown candidate pool: %w", err)
	}
	return m, h, nil
}

func candidatesFrom(rows []*store.PlaceWithDistance) []*travel.Candidate {
	out := make([]*travel.Candidate, 0, len(rows))
	for _, row := range rows {
		out = append(out, &travel.Candidate{
			Place:         row.Place,
			DistanceM:     row.DistanceM,
			HasStructured: true,
		})
	}
	return out
}

// effectiveStory releases id must-have requirements the user's own
// edits remove: dropping or replacing a required place is read as
// letting the requirement go, not as a violation to refuse.
func effectiveStory(story *travel.Story, ops []Op) *travel.Story {
	removed := make(map[string]bool)
	for _, op := range ops {
		if op.Kind == OpDrop || op.Kind == OpReplace {
			removed[op.PlaceID] = true
		}
	}
	if len(removed) == 0 || len(story.MustHave) == 0 {
		return story
	}

	kept := make([]travel.MustHaveRef, 0, len(story.MustHave))
	for _, ref := range story.MustHave {
		if ref.Kind == travel.RefID && removed[ref.Value] {
			continue
		}
		kept = append(kept, ref)
	}
	if len(kept) == len(story.MustHave) {
		return story
	}
	clone := *story
	clone.MustHave = kept
	return &clone
}

// logEvents appends the committed operations to the feedback log.
// Logging is best-effort; a failed write never rolls the revision back.
func (e *Engine) logEvents(ctx context.Context, sessionID, utterance string, applied []AppliedOp) {
	if e.deps.Store == nil || sessionID == "" {
		return
	}
	for _, a := range applied {
		event := &store.FeedbackEvent{
			ID:        shortuuid.New(),
			SessionID: sessionID,
			Operation: string(a.Kind),
			Reason:    utterance,
		}
		if a.PlaceID != "" {
			id := a.PlaceID
			event.TargetPlaceID = &id
		}
		if a.OtherID != "" {
			id := a.OtherID
			event.OtherPlaceID = &id
		}
		if a.Day >= 0 {
			day := int32(a.Day)
			event.TargetDay = &day
		}
		if _, err := e.deps.Store.CreateFeedbackEvent(ctx, event); err != nil {
			slog.Warn("feedback event not recorded", "session_id", sessionID, "op", a.Kind, "error", err)
		}
	}
}

func (e *Engine) recordOp(kind OpKind, outcome string) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordFeedbackOp(string(kind), outcome)
	}
}

func placesOf(cands []*travel.Candidate) map[string]*store.Place {
	m := make(map[string]*store.Place, len(cands))
	for _, c := range cands {
		m[c.ID()] = c.Place
	}
	return m
}
