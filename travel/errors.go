package travel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Base error definitions for pipeline failures. Consumers branch with
// errors.Is; the orchestrator maps them onto user-visible replies.
var (
	ErrSchema                 = errors.New("utterance does not match the story schema")
	ErrImpossibleWindow       = errors.New("impossible date or daily window")
	ErrUnsupportedDestination = errors.New("unsupported destination")
	ErrNoCandidates           = errors.New("no candidate places matched")
	ErrBackendUnavailable     = errors.New("backend unavailable")
	ErrInvariant              = errors.New("itinerary invariant violated")
	// ErrRevision: a feedback operation that cannot apply to the current
	// plan (unknown place, duplicate insert, no feasible slot).
	ErrRevision = errors.New("revision not applicable")
)

// ErrorClass categorizes a failure for reply shaping and retry decisions.
type ErrorClass int

const (
	// ErrorClassUser: the user can fix it by rephrasing or deciding.
	ErrorClassUser ErrorClass = iota
	// ErrorClassEnvironment: a collaborator failed; retrying may help.
	ErrorClassEnvironment
	// ErrorClassInternal: a bug; never surfaced verbatim to the user.
	ErrorClassInternal
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassUser:
		return "user"
	case ErrorClassEnvironment:
		return "environment"
	default:
		return "internal"
	}
}

// Classify maps an error onto its class. Unknown errors default to
// internal so they are logged rather than shown.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassInternal
	}
	switch {
	case errors.Is(err, ErrSchema),
		errors.Is(err, ErrImpossibleWindow),
		errors.Is(err, ErrUnsupportedDestination),
		errors.Is(err, ErrNoCandidates),
		errors.Is(err, ErrRevision):
		return ErrorClassUser
	}
	var decision *DecisionNeededError
	if errors.As(err, &decision) {
		return ErrorClassUser
	}
	var violations *ViolationsError
	if errors.As(err, &violations) {
		return ErrorClassUser
	}
	if errors.Is(err, ErrBackendUnavailable) || isTransient(err) {
		return ErrorClassEnvironment
	}
	return ErrorClassInternal
}

// isTransient reports whether the error looks like a temporary
// network or deadline failure.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"i/o timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Violation describes one broken itinerary constraint in terms a user
// can act on.
type Violation struct {
	Code    string `json:"code"`
	Day     int    `json:"day"`
	PlaceID string `json:"place_id,omitempty"`
	Detail  string `json:"detail"`
}

// Violation codes.
const (
	ViolationOpeningHours    = "opening_hours"
	ViolationDayBudget       = "day_budget"
	ViolationTravelGap       = "travel_gap"
	ViolationDuplicatePlace  = "duplicate_place"
	ViolationMustHaveMissing = "must_have_missing"
	ViolationMustNotPresent  = "must_not_present"
	ViolationStayMismatch    = "stay_mismatch"
	ViolationUnknownPlace    = "unknown_place"
)

func (v Violation) String() string {
	if v.PlaceID != "" {
		return fmt.Sprintf("%s: day %d, place %s: %s", v.Code, v.Day, v.PlaceID, v.Detail)
	}
	return fmt.Sprintf("%s: day %d: %s", v.Code, v.Day, v.Detail)
}

// DecisionNeededError is returned when the repair ladder is exhausted.
// It carries the violated constraints and a few partial itineraries the
// user can pick from.
type DecisionNeededError struct {
	Violations []Violation
	Options    []*Itinerary
}

func (e *DecisionNeededError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("needs user decision: %s", strings.Join(parts, "; "))
}

// ViolationsError reports a feedback application that failed validation.
// The prior itinerary is untouched when this is returned.
type ViolationsError struct {
	Violations []Violation
}

func (e *ViolationsError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("revision rejected: %s", strings.Join(parts, "; "))
}
