package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/JohnnyHuang0515/TravelAI-sub001/ai"
	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/extract"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/feedback"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/metrics"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/planner"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/present"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/retrieve"
)

const (
	defaultTurnDeadline = 20 * time.Second
	defaultHistoryLimit = 12 // messages, i.e. six exchanges
)

// Config bounds turn execution.
type Config struct {
	TurnDeadline time.Duration
	HistoryLimit int
}

func (c *Config) normalize() {
	if c.TurnDeadline <= 0 {
		c.TurnDeadline = defaultTurnDeadline
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
}

// Pipeline bundles the stage executors the orchestrator drives.
type Pipeline struct {
	Extractor *extract.Extractor
	Retriever *retrieve.Retriever
	Planner   *planner.Planner
	Feedback  *feedback.Engine
	Presenter *present.Presenter
	Travel    planner.TravelSource
}

// Orchestrator advances one session per call: route the message by the
// session's state, run the pipeline nodes in order, and leave the
// session in a resting state with its snapshot persisted.
type Orchestrator struct {
	sessions *Manager
	pipe     Pipeline
	store    *store.Store
	exp      *metrics.Exporter
	cfg      Config
}

// NewOrchestrator wires the conversation loop. store must be non-nil;
// opening hours and session snapshots go through it.
func NewOrchestrator(sessions *Manager, pipe Pipeline, st *store.Store, exporter *metrics.Exporter, cfg Config) *Orchestrator {
	cfg.normalize()
	return &Orchestrator{
		sessions: sessions,
		pipe:     pipe,
		store:    st,
		exp:      exporter,
		cfg:      cfg,
	}
}

// TurnResult is the outcome of one processed message.
type TurnResult struct {
	SessionID   string
	State       State
	Reply       *present.Reply
	Itinerary   *travel.Itinerary // nil until a plan is committed
	Suggestions []string
	AppliedOps  []feedback.AppliedOp // feedback turns only
}

// Message processes one user message. User-recoverable and transient
// failures come back as a TurnResult carrying the clarification; only
// internal failures surface as errors.
func (o *Orchestrator) Message(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnDeadline)
	defer cancel()

	start := time.Now()
	var res *TurnResult
	switch sess.state {
	case StateReady:
		res, err = o.feedbackTurn(ctx, sess, text)
	case StatePendingDecision:
		res, err = o.decisionTurn(ctx, sess, text)
	default:
		res, err = o.planningTurn(ctx, sess, text)
	}
	o.finishTurn(ctx, sess, start, err)
	return res, err
}

// Feedback processes a revision message. Unlike Message it refuses to
// run without a committed plan instead of treating the text as a new
// trip description.
func (o *Orchestrator) Feedback(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.slots.Itinerary == nil {
		return &TurnResult{
			SessionID:   sess.ID,
			State:       sess.state,
			Reply:       present.TextReply("There is no plan to change yet. Tell me about your trip first."),
			Suggestions: present.Suggestions(nil, false),
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnDeadline)
	defer cancel()

	start := time.Now()
	res, err := o.feedbackTurn(ctx, sess, text)
	o.finishTurn(ctx, sess, start, err)
	return res, err
}

// Snapshot returns the session's externally visible state.
func (o *Orchestrator) Snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

func (o *Orchestrator) finishTurn(ctx context.Context, sess *Session, start time.Time, err error) {
	if err == nil {
		sess.turn++
	}
	sess.touch()
	// The snapshot write must not be lost to a turn deadline that just
	// fired.
	o.sessions.persistLocked(context.WithoutCancel(ctx), sess)
	if o.exp != nil {
		o.exp.RecordTurn(string(sess.state), time.Since(start), err == nil)
	}
}

// planningTurn runs EXTRACT → RETRIEVE → RANK → PLAN → PRESENT.
func (o *Orchestrator) planningTurn(ctx context.Context, sess *Session, text string) (*TurnResult, error) {
	sess.slots.UserInput = text
	sess.slots.Error = ""

	story, err := o.extractStory(ctx, sess, text)
	if err != nil {
		return o.failTurn(sess, StateIdle, text, err)
	}
	sess.slots.Story = story
	return o.planFromStory(ctx, sess, text)
}

func (o *Orchestrator) extractStory(ctx context.Context, sess *Session, text string) (*travel.Story, error) {
	sess.state = StateExtract
	stage := time.Now()
	story, err := o.pipe.Extractor.Extract(ctx, text, extract.Context{
		Prior:   sess.slots.Story,
		History: sess.slots.History,
	})
	o.recordStage("extract", stage)
	return story, err
}

// planFromStory runs the pipeline after the story slot is settled.
func (o *Orchestrator) planFromStory(ctx context.Context, sess *Session, text string) (*TurnResult, error) {
	story := sess.slots.Story

	sess.state = StateRetrieve
	stage := time.Now()
	found, err := o.pipe.Retriever.Retrieve(ctx, story)
	o.recordStage("retrieve", stage)
	if err != nil {
		return o.failTurn(sess, StateIdle, text, err)
	}
	sess.state = StateRank
	sess.slots.Candidates = found.Candidates
	sess.slots.Partial = found.Partial

	sess.state = StatePlan
	stage = time.Now()
	matrix, err := o.pipe.Travel.Matrix(ctx, tripPoints(story, found.Candidates))
	if err != nil {
		o.recordStage("plan", stage)
		return o.failTurn(sess, StateIdle, text, fmt.Errorf("%w: travel matrix: %v", travel.ErrBackendUnavailable, err))
	}
	intervals, err := o.loadIntervals(ctx, found.Candidates)
	if err != nil {
		o.recordStage("plan", stage)
		return o.failTurn(sess, StateIdle, text, err)
	}
	sess.slots.Matrix = matrix
	sess.slots.Intervals = intervals

	it, err := o.pipe.Planner.Plan(ctx, planner.Request{
		Story:      story,
		Candidates: found.Candidates,
		Matrix:     matrix,
		Hours:      sess.slots.Hours(),
	})
	o.recordStage("plan", stage)
	if err != nil {
		var decision *travel.DecisionNeededError
		if errors.As(err, &decision) {
			return o.pendingDecision(sess, text, decision)
		}
		return o.failTurn(sess, StateIdle, text, err)
	}

	sess.slots.Itinerary = it
	return o.presentTurn(ctx, sess, text, nil)
}

// decisionTurn resolves PLAN_PENDING_DECISION: a bare pick ("option 2")
// commits that partial plan; anything else is read as a constraint
// revision and replans. A message the extractor cannot parse keeps the
// decision on the table.
func (o *Orchestrator) decisionTurn(ctx context.Context, sess *Session, text string) (*TurnResult, error) {
	sess.slots.UserInput = text
	sess.slots.Error = ""

	if n, ok := parsePick(text); ok && n >= 1 && n <= len(sess.slots.Options) {
		sess.slots.Itinerary = sess.slots.Options[n-1]
		sess.slots.Options = nil
		sess.slots.Violations = nil
		return o.presentTurn(ctx, sess, text, nil)
	}

	story, err := o.extractStory(ctx, sess, text)
	if err != nil {
		return o.failTurn(sess, StatePendingDecision, text, err)
	}
	sess.slots.Story = story
	sess.slots.Options = nil
	sess.slots.Violations = nil
	return o.planFromStory(ctx, sess, text)
}

// feedbackTurn applies a revision to the committed plan and re-presents
// it. A refused or violating batch leaves the plan untouched.
func (o *Orchestrator) feedbackTurn(ctx context.Context, sess *Session, text string) (*TurnResult, error) {
	sess.slots.UserInput = text
	sess.slots.Error = ""
	sess.state = StateFeedback

	stage := time.Now()
	res, err := o.pipe.Feedback.Apply(ctx, feedback.Input{
		SessionID:  sess.ID,
		Utterance:  text,
		Story:      sess.slots.Story,
		Itinerary:  sess.slots.Itinerary,
		Candidates: sess.slots.Candidates,
		Matrix:     sess.slots.Matrix,
		Hours:      sess.slots.Hours(),
		History:    sess.slots.History,
	})
	o.recordStage("feedback", stage)
	if err != nil {
		var rejected *travel.ViolationsError
		if errors.As(err, &rejected) {
			sess.state = StateReady
			sess.slots.Error = err.Error()
			reply := present.TextReply(present.ViolationsText(rejected.Violations, candidateNames(sess.slots.Candidates)))
			o.appendExchange(sess, text, reply.Text)
			return &TurnResult{
				SessionID:   sess.ID,
				State:       sess.state,
				Reply:       reply,
				Itinerary:   sess.slots.Itinerary,
				Suggestions: present.Suggestions(sess.slots.Itinerary, false),
			}, nil
		}
		return o.failTurn(sess, StateReady, text, err)
	}

	sess.slots.Itinerary = res.Itinerary
	sess.slots.Candidates = res.Candidates
	sess.slots.Matrix = res.Matrix
	o.refreshIntervals(ctx, sess)

	return o.presentTurn(ctx, sess, text, res.Applied)
}

// presentTurn voices the committed itinerary and parks the session in
// READY.
func (o *Orchestrator) presentTurn(ctx context.Context, sess *Session, text string, applied []feedback.AppliedOp) (*TurnResult, error) {
	sess.state = StatePresent
	stage := time.Now()
	reply := o.pipe.Presenter.Itinerary(ctx, sess.slots.Story, sess.slots.Itinerary)
	o.recordStage("present", stage)

	sess.state = StateReady
	sess.trail.Push(sess.slots.Itinerary)
	o.appendExchange(sess, text, reply.Text)

	return &TurnResult{
		SessionID:   sess.ID,
		State:       sess.state,
		Reply:       reply,
		Itinerary:   sess.slots.Itinerary,
		Suggestions: present.Suggestions(sess.slots.Itinerary, false),
		AppliedOps:  applied,
	}, nil
}

func (o *Orchestrator) pendingDecision(sess *Session, text string, decision *travel.DecisionNeededError) (*TurnResult, error) {
	sess.state = StatePendingDecision
	sess.slots.Options = decision.Options
	sess.slots.Violations = decision.Violations
	sess.slots.Error = decision.Error()

	reply := present.TextReply(present.DecisionText(decision, candidateNames(sess.slots.Candidates)))
	o.appendExchange(sess, text, reply.Text)
	return &TurnResult{
		SessionID:   sess.ID,
		State:       sess.state,
		Reply:       reply,
		Suggestions: present.Suggestions(nil, true),
	}, nil
}

// failTurn shapes a non-internal failure into a clarification reply and
// parks the session back in the given resting state. Internal failures
// propagate as errors and never reach the user verbatim.
func (o *Orchestrator) failTurn(sess *Session, backTo State, text string, err error) (*TurnResult, error) {
	sess.slots.Error = err.Error()
	sess.state = backTo
	if travel.Classify(err) == travel.ErrorClassInternal {
		return nil, err
	}

	reply := present.TextReply(present.ErrorText(err))
	o.appendExchange(sess, text, reply.Text)
	return &TurnResult{
		SessionID:   sess.ID,
		State:       backTo,
		Reply:       reply,
		Itinerary:   sess.slots.Itinerary,
		Suggestions: present.Suggestions(sess.slots.Itinerary, backTo == StatePendingDecision),
	}, nil
}

func (o *Orchestrator) appendExchange(sess *Session, user, assistant string) {
	sess.slots.History = append(sess.slots.History,
		ai.Message{Role: "user", Content: user},
		ai.Message{Role: "assistant", Content: assistant},
	)
	if n := len(sess.slots.History); n > o.cfg.HistoryLimit {
		sess.slots.History = append([]ai.Message(nil), sess.slots.History[n-o.cfg.HistoryLimit:]...)
	}
}

func (o *Orchestrator) recordStage(stage string, start time.Time) {
	if o.exp != nil {
		o.exp.RecordStage(stage, time.Since(start))
	}
}

func (o *Orchestrator) loadIntervals(ctx context.Context, candidates []*travel.Candidate) ([]*store.OpeningInterval, error) {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID())
	}
	intervals, err := o.store.ListOpeningIntervals(ctx, &store.FindOpeningInterval{PlaceIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("%w: opening hours: %v", travel.ErrBackendUnavailable, err)
	}
	return intervals, nil
}

// refreshIntervals re-fetches hours after a feedback commit so a grown
// candidate pool keeps its hours in the snapshot. Best-effort: on
// failure the stale intervals stay and later revisions may see the new
// place as closed.
func (o *Orchestrator) refreshIntervals(ctx context.Context, sess *Session) {
	intervals, err := o.loadIntervals(ctx, sess.slots.Candidates)
	if err != nil {
		return
	}
	sess.slots.Intervals = intervals
}

// tripPoints lays out the matrix points: index 0 is the day anchor, the
// accommodation when the story has one, else the destination centroid.
func tripPoints(story *travel.Story, candidates []*travel.Candidate) []travel.GeoPoint {
	points := make([]travel.GeoPoint, 0, len(candidates)+1)
	if story.Accommodation != nil {
		points = append(points, *story.Accommodation)
	} else {
		points = append(points, story.Anchor)
	}
	for _, c := range candidates {
		points = append(points, c.Point())
	}
	return points
}

func candidateNames(candidates []*travel.Candidate) map[string]string {
	names := make(map[string]string, len(candidates))
	for _, c := range candidates {
		names[c.ID()] = c.Place.Name
	}
	return names
}

// HoursLoader adapts the store into the planner's hours lookup.
func HoursLoader(st *store.Store) planner.HoursFunc {
	return func(ctx context.Context, placeIDs []string) (*travel.Hours, error) {
		intervals, err := st.ListOpeningIntervals(ctx, &store.FindOpeningInterval{PlaceIDs: placeIDs})
		if err != nil {
			return nil, fmt.Errorf("opening hours: %w", err)
		}
		return travel.BuildHours(intervals), nil
	}
}

// pickPattern accepts a bare option pick: "2", "#2", "option 2",
// "take plan 1", "go with option 3". Anything longer is a revision.
var pickPattern = regexp.MustCompile(`(?i)^\s*(?:(?:take|pick|choose|use|go with)\s+)?(?:option\s*|plan\s*)?#?\s*([0-9]+)\s*\.?\s*$`)

func parsePick(text string) (int, bool) {
	m := pickPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
