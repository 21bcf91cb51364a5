package feedback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnnyHuang0515/TravelAI-sub001/ai"
	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

type fakeLLM struct {
	content string
	err     error

	calls    int
	lastMsgs []ai.Message
}

func (f *fakeLLM) Chat(ctx context.Context, messages []ai.Message) (string, *ai.LLMCallStats, error) {
	return f.ChatJSON(ctx, messages)
}

func (f *fakeLLM) ChatJSON(ctx context.Context, messages []ai.Message) (string, *ai.LLMCallStats, error) {
	f.calls++
	f.lastMsgs = messages
	if f.err != nil {
		return "", nil, f.err
	}
	return f.content, &ai.LLMCallStats{TotalTokens: 42}, nil
}

func (f *fakeLLM) Warmup(ctx context.Context) {}

// testItinerary is two planned days: a museum and a park on the first,
// a night market on the second.
func testItinerary() *travel.Itinerary {
	return &travel.Itinerary{
		Days: []travel.DayPlan{
			{
				Day:  0,
				Date: "2026-04-10",
				Visits: []travel.Visit{
					{PlaceID: "p-1", Name: "Old Museum", ETA: 540, ETD: 630, TravelMinutes: 10, StayMinutes: 90},
					{PlaceID: "p-2", Name: "River Park", ETA: 650, ETD: 710, TravelMinutes: 20, StayMinutes: 60},
				},
			},
			{
				Day:  1,
				Date: "2026-04-11",
				Visits: []travel.Visit{
					{PlaceID: "p-3", Name: "Night Market", ETA: 1080, ETD: 1200, TravelMinutes: 15, StayMinutes: 120},
				},
			},
		},
		Version: 1,
	}
}

func testPlaces() map[string]*store.Place {
	return map[string]*store.Place{
		"p-1": {ID: "p-1", Name: "Old Museum", Categories: []string{"museum"}},
		"p-2": {ID: "p-2", Name: "River Park", Tags: []string{"park", "outdoor"}},
		"p-3": {ID: "p-3", Name: "Night Market", Tags: []string{"food"}},
	}
}

func parseWith(t *testing.T, content string) ([]Op, error) {
	t.Helper()
	p := NewParser(&fakeLLM{content: content}, Options{})
	return p.Parse(context.Background(), "change my plan", testItinerary(), testPlaces(), nil)
}

func TestParseResolvesTargetsByIdOrdinalAndName(t *testing.T) {
	ops, err := parseWith(t, `{"ops": [
		{"op": "drop", "target": {"place_id": "p-3"}},
		{"op": "drop", "target": {"day": 1, "ordinal": 2}},
		{"op": "drop", "target": {"name": "old museum"}},
		{"op": "drop", "target": {"name": "outdoor"}}
	]}`)
	require.NoError(t, err)
	require.Len(t, ops, 4)

	assert.Equal(t, "p-3", ops[0].PlaceID)
	assert.Equal(t, "p-2", ops[1].PlaceID, "day 1 ordinal 2 is the park")
	assert.Equal(t, "p-1", ops[2].PlaceID, "matched on the visit name")
	assert.Equal(t, "p-2", ops[3].PlaceID, "matched on the place tag")
	for _, op := range ops {
		assert.Equal(t, OpDrop, op.Kind)
		assert.Equal(t, -1, op.Day)
	}
}

func TestParseMoveResolvesDayAndTime(t *testing.T) {
	ops, err := parseWith(t, `{"ops": [
		{"op": "move", "target": {"place_id": "p-1"}, "day": 2, "time": "18:30"}
	]}`)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, OpMove, ops[0].Kind)
	assert.Equal(t, 1, ops[0].Day, "wire days are 1-based")
	assert.Equal(t, 1110, ops[0].AtMinute)

	// A time-only move stays on the target's current day.
	ops, err = parseWith(t, `{"ops": [
		{"op": "move", "target": {"place_id": "p-3"}, "time": "12:30"}
	]}`)
	require.NoError(t, err)
	assert.Equal(t, 1, ops[0].Day)
	assert.Equal(t, 750, ops[0].AtMinute)

	_, err = parseWith(t, `{"ops": [{"op": "move", "target": {"place_id": "p-1"}}]}`)
	assert.ErrorIs(t, err, travel.ErrRevision, "a move needs a day or a time")

	_, err = parseWith(t, `{"ops": [{"op": "move", "target": {"place_id": "p-1"}, "time": "25:99"}]}`)
	assert.ErrorIs(t, err, travel.ErrSchema)
}

func TestParseRefusesAmbiguousAndUnknownNames(t *testing.T) {
	_, err := parseWith(t, `{"ops": [{"op": "drop", "target": {"name": "aquarium"}}]}`)
	assert.ErrorIs(t, err, travel.ErrRevision)

	p := NewParser(&fakeLLM{content: `{"ops": [{"op": "drop", "target": {"name": "museum"}}]}`}, Options{})
	it := &travel.Itinerary{Days: []travel.DayPlan{{Visits: []travel.Visit{
		{PlaceID: "m-1", Name: "Old Museum"},
		{PlaceID: "m-2", Name: "Modern Museum"},
	}}}}
	_, err = p.Parse(context.Background(), "skip the museum", it, nil, nil)
	assert.ErrorIs(t, err, travel.ErrRevision, "two museums match, the parser must not guess")
}

func TestParseOrdinalRules(t *testing.T) {
	// On a multi-day trip an ordinal without its day is ambiguous.
	_, err := parseWith(t, `{"ops": [{"op": "drop", "target": {"ordinal": 1}}]}`)
	assert.ErrorIs(t, err, travel.ErrRevision)

	_, err = parseWith(t, `{"ops": [{"op": "drop", "target": {"day": 1, "ordinal": 9}}]}`)
	assert.ErrorIs(t, err, travel.ErrRevision)

	// On a single-day trip the day is implied.
	p := NewParser(&fakeLLM{content: `{"ops": [{"op": "drop", "target": {"ordinal": 1}}]}`}, Options{})
	it := &travel.Itinerary{Days: []travel.DayPlan{{Visits: []travel.Visit{{PlaceID: "solo", Name: "Solo"}}}}}
	ops, err := p.Parse(context.Background(), "drop the first stop", it, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "solo", ops[0].PlaceID)
}

func TestParseSwapNeedsBothTargets(t *testing.T) {
	ops, err := parseWith(t, `{"ops": [
		{"op": "swap", "target": {"place_id": "p-1"}, "other": {"name": "night market"}}
	]}`)
	require.NoError(t, err)
	assert.Equal(t, "p-1", ops[0].PlaceID)
	assert.Equal(t, "p-3", ops[0].OtherID)

	_, err = parseWith(t, `{"ops": [{"op": "swap", "target": {"place_id": "p-1"}}]}`)
	assert.ErrorIs(t, err, travel.ErrRevision)
}

func TestParseInsertAndReorder(t *testing.T) {
	ops, err := parseWith(t, `{"ops": [
		{"op": "insert", "query": "a quiet teahouse", "day": 2},
		{"op": "reorder", "day": 1}
	]}`)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, OpInsert, ops[0].Kind)
	assert.Equal(t, "a quiet teahouse", ops[0].Query)
	assert.Equal(t, 1, ops[0].Day)
	assert.Empty(t, ops[0].PlaceID, "insert targets resolve later, against the pool")
	assert.Equal(t, OpReorder, ops[1].Kind)
	assert.Equal(t, 0, ops[1].Day)

	_, err = parseWith(t, `{"ops": [{"op": "insert", "query": "  "}]}`)
	assert.ErrorIs(t, err, travel.ErrRevision)

	_, err = parseWith(t, `{"ops": [{"op": "reorder", "day": 9}]}`)
	assert.ErrorIs(t, err, travel.ErrRevision)

	_, err = parseWith(t, `{"ops": [{"op": "reorder"}]}`)
	assert.ErrorIs(t, err, travel.ErrRevision)
}

func TestParseRejectsMalformedAnswers(t *testing.T) {
	_, err := parseWith(t, `not json at all`)
	assert.ErrorIs(t, err, travel.ErrSchema)

	_, err = parseWith(t, `{"ops": [{"op": "drop", "bogus": 1}]}`)
	assert.ErrorIs(t, err, travel.ErrSchema, "unknown fields mean prompt drift")

	_, err = parseWith(t, `{"ops": [{"op": "explode", "target": {"place_id": "p-1"}}]}`)
	assert.ErrorIs(t, err, travel.ErrSchema)

	// Fenced output is tolerated, providers wrap JSON mode anyway.
	ops, err := parseWith(t, "```json\n{\"ops\": [{\"op\": \"drop\", \"target\": {\"place_id\": \"p-1\"}}]}\n```")
	require.NoError(t, err)
	assert.Equal(t, "p-1", ops[0].PlaceID)
}

func TestParseBoundsTheBatch(t *testing.T) {
	_, err := parseWith(t, `{"ops": []}`)
	assert.ErrorIs(t, err, travel.ErrRevision, "an empty ops list is not a revision")

	_, err = parseWith(t, `{"ops": [
		{"op": "drop", "target": {"place_id": "p-1"}},
		{"op": "drop", "target": {"place_id": "p-2"}},
		{"op": "drop", "target": {"place_id": "p-3"}},
		{"op": "reorder", "day": 1},
		{"op": "reorder", "day": 2}
	]}`)
	assert.ErrorIs(t, err, travel.ErrRevision, "five ops is past the default cap")
}

func TestParseFailuresClassifyByCause(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection refused")}
	p := NewParser(llm, Options{})
	_, err := p.Parse(context.Background(), "drop the park", testItinerary(), testPlaces(), nil)
	assert.ErrorIs(t, err, travel.ErrBackendUnavailable)
	assert.Equal(t, travel.ErrorClassEnvironment, travel.Classify(err))

	_, err = parseWith(t, `{"ops": [{"op": "drop", "target": {"name": "zoo"}}]}`)
	assert.Equal(t, travel.ErrorClassUser, travel.Classify(err))
}

func TestParsePromptShowsTheItinerary(t *testing.T) {
	llm := &fakeLLM{content: `{"ops": [{"op": "drop", "target": {"place_id": "p-1"}}]}`}
	p := NewParser(llm, Options{})
	history := []ai.Message{ai.UserMessage("plan me a trip"), ai.AssistantMessage("here it is")}

	_, err := p.Parse(context.Background(), "drop the museum", testItinerary(), testPlaces(), history)
	require.NoError(t, err)
	require.Equal(t, 1, llm.calls)
	require.Len(t, llm.lastMsgs, 4)

	system := llm.lastMsgs[0].Content
	assert.Contains(t, system, "Day 1 (2026-04-10):")
	assert.Contains(t, system, "1. Old Museum [p-1] 09:00-10:30")
	assert.Contains(t, system, "2. River Park [p-2] 10:50-11:50")
	assert.Contains(t, system, "Day 2 (2026-04-11):")
	assert.Equal(t, "drop the museum", llm.lastMsgs[3].Content)
}

func TestParseWithoutItineraryIsAnInvariantBreak(t *testing.T) {
	p := NewParser(&fakeLLM{content: `{"ops": []}`}, Options{})
	_, err := p.Parse(context.Background(), "drop it", nil, nil, nil)
	assert.ErrorIs(t, err, travel.ErrInvariant)
}
