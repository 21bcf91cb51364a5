// Package session runs the conversation: a per-session state machine
// over a typed slot record, one turn at a time, persisted through the
// store so a conversation survives a process restart.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/JohnnyHuang0515/TravelAI-sub001/ai"
	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/feedback"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/traveltime"
)

// State names one position in the conversation state machine. The
// resting states between turns are Idle, PendingDecision, and Ready;
// the others are transient and only visible in snapshots taken while a
// turn is running.
type State string

const (
	StateIdle            State = "IDLE"
	StateExtract         State = "EXTRACT"
	StateRetrieve        State = "RETRIEVE"
	StateRank            State = "RANK"
	StatePlan            State = "PLAN"
	StatePendingDecision State = "PLAN_PENDING_DECISION"
	StatePresent         State = "PRESENT"
	StateReady           State = "READY"
	StateFeedback        State = "FEEDBACK"
)

// Slots is the conversation's working memory. Nodes write it in order
// within a turn and never mutate slots an earlier node produced. The
// whole record serializes as the persisted snapshot, so everything in
// it must round-trip through JSON; opening hours are therefore kept as
// raw intervals and rebuilt into a lookup on use.
type Slots struct {
	UserInput  string                   `json:"user_input,omitempty"`
	Story      *travel.Story            `json:"story,omitempty"`
	Candidates []*travel.Candidate      `json:"candidates,omitempty"`
	Partial    bool                     `json:"retrieval_partial,omitempty"`
	Matrix     *traveltime.Matrix       `json:"matrix,omitempty"`
	Intervals  []*store.OpeningInterval `json:"opening_intervals,omitempty"`
	Itinerary  *travel.Itinerary        `json:"itinerary,omitempty"`

	// Decision context, populated only in PLAN_PENDING_DECISION.
	Options    []*travel.Itinerary `json:"options,omitempty"`
	Violations []travel.Violation  `json:"violations,omitempty"`

	// Error holds the last turn failure for inspection; it is cleared at
	// the start of the next turn.
	Error string `json:"error,omitempty"`

	// History is the bounded recent conversation fed back into LLM calls.
	History []ai.Message `json:"history,omitempty"`
}

// Hours rebuilds the opening-hours lookup from the persisted intervals.
func (s *Slots) Hours() *travel.Hours {
	return travel.BuildHours(s.Intervals)
}

// Session is one live conversation. The mutex serializes turns; all
// slot access happens under it.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu         sync.Mutex
	state      State
	slots      Slots
	turn       int32
	lastActive time.Time

	// trail is the bounded undo history of committed itineraries. It is
	// not persisted; a restored session starts with an empty trail.
	trail *feedback.History
}

func newSession(id string, revisionLimit int) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		CreatedAt:  now,
		state:      StateIdle,
		lastActive: now,
		trail:      feedback.NewHistory(revisionLimit),
	}
}

func (s *Session) touch() {
	s.lastActive = time.Now()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot is the externally visible view of a session, also the shape
// persisted through the store.
type Snapshot struct {
	ID         string    `json:"id"`
	State      State     `json:"state"`
	Turn       int32     `json:"turn"`
	Slots      Slots     `json:"slots"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Snapshot returns a point-in-time copy. The slot record is copied
// through JSON so callers cannot reach the live slots.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.ID,
		State:      s.state,
		Turn:       s.turn,
		Slots:      copySlots(s.slots),
		CreatedAt:  s.CreatedAt,
		LastActive: s.lastActive,
	}
}

func copySlots(slots Slots) Slots {
	raw, err := json.Marshal(slots)
	if err != nil {
		return Slots{}
	}
	var out Slots
	if err := json.Unmarshal(raw, &out); err != nil {
		return Slots{}
	}
	return out
}

// reset clears the conversation back to a fresh IDLE session, keeping
// the id. Caller holds the session mutex.
func (s *Session) resetLocked(revisionLimit int) {
	s.state = StateIdle
	s.slots = Slots{}
	s.turn = 0
	s.trail = feedback.NewHistory(revisionLimit)
	s.touch()
}
