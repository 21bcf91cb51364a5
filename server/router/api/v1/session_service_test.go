package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnnyHuang0515/TravelAI-sub001/ai"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/feedback"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/present"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/session"
)

type stubEngine struct {
	result   *session.TurnResult
	snapshot session.Snapshot
	err      error

	gotSessionID string
	gotText      string
	feedbackHits int
}

func (e *stubEngine) Message(_ context.Context, id, text string) (*session.TurnResult, error) {
	e.gotSessionID, e.gotText = id, text
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func (e *stubEngine) Feedback(_ context.Context, id, text string) (*session.TurnResult, error) {
	e.gotSessionID, e.gotText = id, text
	e.feedbackHits++
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func (e *stubEngine) Snapshot(_ context.Context, id string) (session.Snapshot, error) {
	e.gotSessionID = id
	if e.err != nil {
		return session.Snapshot{}, e.err
	}
	return e.snapshot, nil
}

type stubRegistry struct {
	created  int
	resetIDs []string
	resetErr error
}

func (r *stubRegistry) Create(context.Context) (*session.Session, error) {
	r.created++
	return &session.Session{ID: "sess-1"}, nil
}

func (r *stubRegistry) Reset(_ context.Context, id string) error {
	r.resetIDs = append(r.resetIDs, id)
	return r.resetErr
}

func newTestService(engine *stubEngine, registry *stubRegistry) *APIV1Service {
	return &APIV1Service{Sessions: registry, Engine: engine}
}

func perform(svc *APIV1Service, method, target, body string) *httptest.ResponseRecorder {
	e := echo.New()
	svc.RegisterRoutes(e)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func museumItinerary() *travel.Itinerary {
	return &travel.Itinerary{
		Version: 2,
		Days: []travel.DayPlan{{
			Day:  0,
			Date: "2026-04-10",
			Visits: []travel.Visit{{
				PlaceID:       "p-1",
				Name:          "Old Museum",
				ETA:           540,
				ETD:           600,
				TravelMinutes: 12,
				StayMinutes:   60,
			}},
		}},
	}
}

func TestCreateSession(t *testing.T) {
	registry := &stubRegistry{}
	rec := perform(newTestService(&stubEngine{}, registry), http.MethodPost, "/api/v1/sessions", "")

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, 1, registry.created)
}

func TestPostMessageRendersClockTimes(t *testing.T) {
	engine := &stubEngine{
		result: &session.TurnResult{
			SessionID:   "sess-1",
			State:       session.StateReady,
			Reply:       &present.Reply{Text: "Here is your plan.", HTML: "<p>Here is your plan.</p>", Source: present.SourceLLM},
			Itinerary:   museumItinerary(),
			Suggestions: []string{"Ask to move a stop"},
		},
	}
	rec := perform(newTestService(engine, &stubRegistry{}), http.MethodPost,
		"/api/v1/sessions/sess-1/messages", `{"text":"two days in taipei"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-1", engine.gotSessionID)
	assert.Equal(t, "two days in taipei", engine.gotText)

	var resp messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "READY", resp.State)
	assert.Equal(t, "Here is your plan.", resp.Reply)
	assert.Equal(t, "<p>Here is your plan.</p>", resp.ReplyHTML)
	assert.Equal(t, present.SourceLLM, resp.ReplySource)
	require.NotNil(t, resp.Itinerary)
	require.Len(t, resp.Itinerary.Days, 1)
	require.Len(t, resp.Itinerary.Days[0].Visits, 1)
	visit := resp.Itinerary.Days[0].Visits[0]
	assert.Equal(t, "09:00", visit.ETA)
	assert.Equal(t, "10:00", visit.ETD)
	assert.Equal(t, 12, visit.TravelMinutes)
	assert.Equal(t, 2, resp.Itinerary.Version)
}

func TestPostMessageRequiresText(t *testing.T) {
	engine := &stubEngine{}
	rec := perform(newTestService(engine, &stubRegistry{}), http.MethodPost,
		"/api/v1/sessions/sess-1/messages", `{"text":"   "}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, engine.gotText)
}

func TestPostMessageUnknownSession(t *testing.T) {
	engine := &stubEngine{err: session.ErrSessionNotFound}
	rec := perform(newTestService(engine, &stubRegistry{}), http.MethodPost,
		"/api/v1/sessions/ghost/messages", `{"text":"hello"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostFeedbackReportsAppliedOps(t *testing.T) {
	engine := &stubEngine{
		result: &session.TurnResult{
			SessionID:  "sess-1",
			State:      session.StateReady,
			Reply:      present.TextReply("Dropped it."),
			Itinerary:  museumItinerary(),
			AppliedOps: []feedback.AppliedOp{{Kind: feedback.OpDrop, PlaceID: "p-2", Day: 1}},
		},
	}
	rec := perform(newTestService(engine, &stubRegistry{}), http.MethodPost,
		"/api/v1/sessions/sess-1/feedback", `{"text":"drop the market"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, engine.feedbackHits)

	var resp feedbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.AppliedOps, 1)
	assert.Equal(t, feedback.OpDrop, resp.AppliedOps[0].Kind)
	assert.Equal(t, "p-2", resp.AppliedOps[0].PlaceID)
}

func TestPostFeedbackEmptyOpsArray(t *testing.T) {
	// A turn that applied nothing still reports an array, not null.
	engine := &stubEngine{
		result: &session.TurnResult{
			SessionID: "sess-1",
			State:     session.StateReady,
			Reply:     present.TextReply("Nothing to change."),
		},
	}
	rec := perform(newTestService(engine, &stubRegistry{}), http.MethodPost,
		"/api/v1/sessions/sess-1/feedback", `{"text":"keep it"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"applied_ops":[]`)
}

func TestGetSessionStateOmitsInternals(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	engine := &stubEngine{
		snapshot: session.Snapshot{
			ID:         "sess-1",
			State:      session.StatePendingDecision,
			Turn:       3,
			CreatedAt:  now,
			LastActive: now,
			Slots: session.Slots{
				Story:      &travel.Story{Destination: "taipei", StartDate: "2026-04-10", DayCount: 2},
				Candidates: []*travel.Candidate{{}, {}, {}},
				Options:    []*travel.Itinerary{museumItinerary()},
				Violations: []travel.Violation{{Code: travel.ViolationMustHaveMissing, Day: 1, Detail: "required place is not scheduled"}},
				History:    []ai.Message{{Role: "user", Content: "secret planning banter"}},
			},
		},
	}
	rec := perform(newTestService(engine, &stubRegistry{}), http.MethodGet,
		"/api/v1/sessions/sess-1/state", "")

	require.Equal(t, http.StatusOK, rec.Code)

	var resp sessionStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PLAN_PENDING_DECISION", resp.State)
	assert.Equal(t, int32(3), resp.Turn)
	assert.Equal(t, 3, resp.CandidateCount)
	assert.Equal(t, 1, resp.PendingOptions)
	require.NotNil(t, resp.Story)
	assert.Equal(t, "taipei", resp.Story.Destination)
	require.Len(t, resp.Violations, 1)

	// The raw pipeline context never leaves the process.
	body := rec.Body.String()
	assert.NotContains(t, body, "history")
	assert.NotContains(t, body, "banter")
	assert.NotContains(t, body, "matrix")
}

func TestResetSession(t *testing.T) {
	registry := &stubRegistry{}
	rec := perform(newTestService(&stubEngine{}, registry), http.MethodPost,
		"/api/v1/sessions/sess-1/reset", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"sess-1"}, registry.resetIDs)
}

func TestResetUnknownSession(t *testing.T) {
	registry := &stubRegistry{resetErr: session.ErrSessionNotFound}
	rec := perform(newTestService(&stubEngine{}, registry), http.MethodPost,
		"/api/v1/sessions/ghost/reset", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestItineraryFeed(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	engine := &stubEngine{
		snapshot: session.Snapshot{
			ID:         "sess-1",
			State:      session.StateReady,
			CreatedAt:  now,
			LastActive: now,
			Slots: session.Slots{
				Story:     &travel.Story{Destination: "taipei"},
				Itinerary: museumItinerary(),
			},
		},
	}
	rec := perform(newTestService(engine, &stubRegistry{}), http.MethodGet,
		"/api/v1/sessions/sess-1/itinerary/feed", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/atom+xml")

	body := rec.Body.String()
	assert.Contains(t, body, "Itinerary for taipei")
	assert.Contains(t, body, "Day 1 (2026-04-10)")
	assert.Contains(t, body, "09:00-10:00 Old Museum")
	assert.Contains(t, body, "urn:travelai:sess-1:day-1:v2")
}

func TestItineraryFeedWithoutPlan(t *testing.T) {
	engine := &stubEngine{snapshot: session.Snapshot{ID: "sess-1", State: session.StateIdle}}
	rec := perform(newTestService(engine, &stubRegistry{}), http.MethodGet,
		"/api/v1/sessions/sess-1/itinerary/feed", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
