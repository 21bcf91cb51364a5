package v1

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/feedback"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/session"
)

type sendMessageRequest struct {
	Text string `json:"text"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type messageResponse struct {
	SessionID   string        `json:"session_id"`
	State       string        `json:"state"`
	Reply       string        `json:"reply"`
	ReplyHTML   string        `json:"reply_html,omitempty"`
	ReplySource string        `json:"reply_source"`
	Itinerary   *itineraryDTO `json:"itinerary,omitempty"`
	Suggestions []string      `json:"suggestions"`
}

type feedbackResponse struct {
	SessionID  string               `json:"session_id"`
	State      string               `json:"state"`
	Reply      string               `json:"reply"`
	ReplyHTML  string               `json:"reply_html,omitempty"`
	Itinerary  *itineraryDTO        `json:"itinerary,omitempty"`
	AppliedOps []feedback.AppliedOp `json:"applied_ops"`
}

type sessionStateResponse struct {
	SessionID      string             `json:"session_id"`
	State          string             `json:"state"`
	Turn           int32              `json:"turn"`
	CreatedAt      time.Time          `json:"created_at"`
	LastActive     time.Time          `json:"last_active"`
	Story          *travel.Story      `json:"story,omitempty"`
	CandidateCount int                `json:"candidate_count"`
	Partial        bool               `json:"retrieval_partial,omitempty"`
	Itinerary      *itineraryDTO      `json:"itinerary,omitempty"`
	PendingOptions int                `json:"pending_options,omitempty"`
	Violations     []travel.Violation `json:"violations,omitempty"`
	LastError      string             `json:"last_error,omitempty"`
}

// itineraryDTO is the wire form of an itinerary: clock times instead of
// minutes-of-day.
type itineraryDTO struct {
	Days      []dayPlanDTO `json:"days"`
	Version   int          `json:"version"`
	Truncated bool         `json:"truncated,omitempty"`
}

type dayPlanDTO struct {
	Day           int        `json:"day"`
	Date          string     `json:"date"`
	Visits        []visitDTO `json:"visits"`
	Accommodation string     `json:"accommodation,omitempty"`
}

type visitDTO struct {
	PlaceID       string `json:"place_id"`
	Name          string `json:"name"`
	ETA           string `json:"eta"`
	ETD           string `json:"etd"`
	TravelMinutes int    `json:"travel_minutes"`
	StayMinutes   int    `json:"stay_minutes"`
	EstimatedLeg  bool   `json:"estimated_leg,omitempty"`
}

func toItineraryDTO(it *travel.Itinerary) *itineraryDTO {
	if it == nil {
		return nil
	}
	dto := &itineraryDTO{
		Days:      make([]dayPlanDTO, 0, len(it.Days)),
		Version:   it.Version,
		Truncated: it.Truncated,
	}
	for _, day := range it.Days {
		dayDTO := dayPlanDTO{
			Day:    day.Day,
			Date:   day.Date,
			Visits: make([]visitDTO, 0, len(day.Visits)),
		}
		if day.Accommodation != nil {
			dayDTO.Accommodation = day.Accommodation.Name
		}
		for _, visit := range day.Visits {
			dayDTO.Visits = append(dayDTO.Visits, visitDTO{
				PlaceID:       visit.PlaceID,
				Name:          visit.Name,
				ETA:           travel.FormatMinute(visit.ETA),
				ETD:           travel.FormatMinute(visit.ETD),
				TravelMinutes: visit.TravelMinutes,
				StayMinutes:   visit.StayMinutes,
				EstimatedLeg:  visit.EstimatedLeg,
			})
		}
		dto.Days = append(dto.Days, dayDTO)
	}
	return dto
}

// CreateSession starts a fresh conversation.
func (s *APIV1Service) CreateSession(c echo.Context) error {
	sess, err := s.Sessions.Create(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create session").SetInternal(err)
	}
	return c.JSON(http.StatusCreated, createSessionResponse{SessionID: sess.ID})
}

// PostMessage runs one conversation turn.
func (s *APIV1Service) PostMessage(c echo.Context) error {
	text, err := bindText(c)
	if err != nil {
		return err
	}

	result, err := s.Engine.Message(c.Request().Context(), c.Param("id"), text)
	if err != nil {
		return turnError(err)
	}
	return c.JSON(http.StatusOK, messageResponse{
		SessionID:   result.SessionID,
		State:       string(result.State),
		Reply:       result.Reply.Text,
		ReplyHTML:   result.Reply.HTML,
		ReplySource: result.Reply.Source,
		Itinerary:   toItineraryDTO(result.Itinerary),
		Suggestions: result.Suggestions,
	})
}

// PostFeedback applies a revision to the committed plan. Unlike
// PostMessage it refuses when the session has no plan yet.
func (s *APIV1Service) PostFeedback(c echo.Context) error {
	text, err := bindText(c)
	if err != nil {
		return err
	}

	result, err := s.Engine.Feedback(c.Request().Context(), c.Param("id"), text)
	if err != nil {
		return turnError(err)
	}
	applied := result.AppliedOps
	if applied == nil {
		applied = []feedback.AppliedOp{}
	}
	return c.JSON(http.StatusOK, feedbackResponse{
		SessionID:  result.SessionID,
		State:      string(result.State),
		Reply:      result.Reply.Text,
		ReplyHTML:  result.Reply.HTML,
		Itinerary:  toItineraryDTO(result.Itinerary),
		AppliedOps: applied,
	})
}

// GetSessionState returns the conversation snapshot: story, committed
// plan, pending decision context. Raw candidate pools, travel matrices,
// and the LLM history stay internal.
func (s *APIV1Service) GetSessionState(c echo.Context) error {
	snap, err := s.Engine.Snapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return turnError(err)
	}
	return c.JSON(http.StatusOK, sessionStateResponse{
		SessionID:      snap.ID,
		State:          string(snap.State),
		Turn:           snap.Turn,
		CreatedAt:      snap.CreatedAt,
		LastActive:     snap.LastActive,
		Story:          snap.Slots.Story,
		CandidateCount: len(snap.Slots.Candidates),
		Partial:        snap.Slots.Partial,
		Itinerary:      toItineraryDTO(snap.Slots.Itinerary),
		PendingOptions: len(snap.Slots.Options),
		Violations:     snap.Slots.Violations,
		LastError:      snap.Slots.Error,
	})
}

// ResetSession clears a conversation back to IDLE, keeping the id.
func (s *APIV1Service) ResetSession(c echo.Context) error {
	if err := s.Sessions.Reset(c.Request().Context(), c.Param("id")); err != nil {
		return turnError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func bindText(c echo.Context) (string, error) {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	return text, nil
}

func turnError(err error) error {
	if errors.Is(err, session.ErrSessionNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "turn failed").SetInternal(err)
}
