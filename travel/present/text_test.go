package present

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

func TestItineraryMarkdownListsEveryStop(t *testing.T) {
	text := ItineraryMarkdown(presentStory(), presentItinerary())

	assert.Contains(t, text, "Here is your 2-day plan for Taipei.")
	assert.Contains(t, text, "### Day 1 (Friday 2026-04-10)")
	assert.Contains(t, text, "- 09:00-10:30 **Old Museum** (10 min travel)")
	assert.Contains(t, text, "- 10:50-11:50 **River Park** (20 min travel)")
	assert.Contains(t, text, "### Day 2 (Saturday 2026-04-11)")
	assert.Contains(t, text, "- 18:00-20:00 **Night Market** (15 min travel)")
	assert.Contains(t, text, "_3 stops, 45 minutes of travel in total.")
	assert.NotContains(t, text, "ran out of time")
}

func TestItineraryMarkdownFlagsTruncation(t *testing.T) {
	it := presentItinerary()
	it.Truncated = true

	text := ItineraryMarkdown(nil, it)

	assert.Contains(t, text, "Here is your 2-day plan.", "no story still renders")
	assert.Contains(t, text, "ran out of time")
}

func TestItineraryMarkdownHandlesEmptyDays(t *testing.T) {
	it := &travel.Itinerary{Days: []travel.DayPlan{{Day: 0, Date: "2026-04-10"}}}

	text := ItineraryMarkdown(nil, it)

	assert.Contains(t, text, "- nothing scheduled")
	assert.Contains(t, text, "_0 stops, 0 minutes of travel in total.")
}

func TestDecisionTextNumbersTheOptions(t *testing.T) {
	short := &travel.Itinerary{Days: []travel.DayPlan{
		{Day: 0, Visits: []travel.Visit{{PlaceID: "p-1", Name: "Old Museum", TravelMinutes: 10}}},
		{Day: 1, Visits: []travel.Visit{{PlaceID: "p-3", Name: "Night Market", TravelMinutes: 15}}},
	}}
	e := &travel.DecisionNeededError{
		Violations: []travel.Violation{
			{Code: travel.ViolationDayBudget, Day: 1, PlaceID: "p-9", Detail: "the day runs 120 minutes over"},
		},
		Options: []*travel.Itinerary{presentItinerary(), short},
	}

	text := DecisionText(e, map[string]string{"p-9": "Hot Spring"})

	assert.Contains(t, text, "- day 2, Hot Spring: the day runs 120 minutes over")
	assert.Contains(t, text, "1. 2 days, 3 stops, 45 minutes of travel")
	assert.Contains(t, text, "2. 2 days, 2 stops, 25 minutes of travel")
	assert.Contains(t, text, "Reply with a plan number")
}

func TestDecisionTextWithoutOptionsAsksToRelax(t *testing.T) {
	e := &travel.DecisionNeededError{
		Violations: []travel.Violation{
			{Code: travel.ViolationMustHaveMissing, Day: -1, PlaceID: "p-7", Detail: "required place is not scheduled"},
		},
	}

	text := DecisionText(e, nil)

	assert.Contains(t, text, "- p-7: required place is not scheduled", "trip-level lines carry no day")
	assert.Contains(t, text, "Relax one of the constraints")
	assert.NotContains(t, text, "plan number")
}

func TestViolationsTextKeepsThePriorPlanPromise(t *testing.T) {
	violations := []travel.Violation{
		{Code: travel.ViolationOpeningHours, Day: 0, PlaceID: "p-2", Detail: "arrives before opening"},
		{Code: travel.ViolationTravelGap, Day: 1, Detail: "stops overlap"},
	}

	text := ViolationsText(violations, map[string]string{"p-2": "River Park"})

	assert.Contains(t, text, "That change doesn't fit:")
	assert.Contains(t, text, "- day 1, River Park: arrives before opening")
	assert.Contains(t, text, "- day 2: stops overlap")
	assert.Contains(t, text, "unchanged")
}

func TestErrorTextMapsTheTaxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"revision detail", fmt.Errorf("%w: %q is not on the plan", travel.ErrRevision, "zoo"), `"zoo" is not on the plan`},
		{"schema", fmt.Errorf("extract: %w", travel.ErrSchema), "didn't quite catch"},
		{"window", travel.ErrImpossibleWindow, "dates or daily hours"},
		{"destination", travel.ErrUnsupportedDestination, "destination"},
		{"no candidates", travel.ErrNoCandidates, "Loosen a filter"},
		{"backend", fmt.Errorf("%w: routing", travel.ErrBackendUnavailable), "unavailable right now"},
		{"internal", errors.New("nil pointer"), "on my side"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Contains(t, ErrorText(tc.err), tc.want)
		})
	}
}

func TestErrorTextRendersStructuredErrors(t *testing.T) {
	decision := &travel.DecisionNeededError{
		Violations: []travel.Violation{{Code: travel.ViolationDayBudget, Day: 0, Detail: "over budget"}},
	}
	assert.Contains(t, ErrorText(decision), "I couldn't fit everything")

	rejected := &travel.ViolationsError{
		Violations: []travel.Violation{{Code: travel.ViolationOpeningHours, Day: 0, PlaceID: "p-1", Detail: "closed then"}},
	}
	assert.Contains(t, ErrorText(rejected), "That change doesn't fit")
	assert.Contains(t, ErrorText(rejected), "- day 1, p-1: closed then")
}

func TestSuggestionsFollowTheConversation(t *testing.T) {
	pending := Suggestions(nil, true)
	require.NotEmpty(t, pending)
	assert.Contains(t, pending[0], "number")

	fresh := Suggestions(nil, false)
	require.NotEmpty(t, fresh)
	assert.Contains(t, fresh[0], "where you're going")

	planned := Suggestions(presentItinerary(), false)
	require.Len(t, planned, 3)
	assert.Contains(t, planned[0], "Old Museum")
	assert.Contains(t, planned[2], "Night Market")

	solo := &travel.Itinerary{Days: []travel.DayPlan{
		{Day: 0, Visits: []travel.Visit{{PlaceID: "p-1", Name: "Old Museum"}}},
	}}
	assert.Len(t, Suggestions(solo, false), 2, "one stop leaves nothing distinct to re-time")
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("# Day 1\n\n- **Old Museum**\n- River Park")
	require.NoError(t, err)
	assert.Contains(t, html, "<h1>Day 1</h1>")
	assert.Contains(t, html, "<strong>Old Museum</strong>")
	assert.Contains(t, html, "<li>River Park</li>")
}
