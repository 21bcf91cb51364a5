package present

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnnyHuang0515/TravelAI-sub001/ai"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

type fakeLLM struct {
	content  string
	err      error
	calls    int
	lastMsgs []ai.Message
}

func (f *fakeLLM) Chat(_ context.Context, msgs []ai.Message) (string, *ai.LLMCallStats, error) {
	f.calls++
	f.lastMsgs = msgs
	if f.err != nil {
		return "", nil, f.err
	}
	return f.content, &ai.LLMCallStats{TotalTokens: 64}, nil
}

func (f *fakeLLM) ChatJSON(ctx context.Context, msgs []ai.Message) (string, *ai.LLMCallStats, error) {
	return f.Chat(ctx, msgs)
}

func (f *fakeLLM) Warmup(context.Context) {}

func presentStory() *travel.Story {
	return &travel.Story{
		Destination: "Taipei",
		StartDate:   "2026-04-10",
		DayCount:    2,
		Window:      travel.DailyWindow{StartMinute: 540, EndMinute: 1260},
		Pace:        travel.PaceModerate,
		Interests:   []string{"culture", "food"},
	}
}

func presentItinerary() *travel.Itinerary {
	return &travel.Itinerary{
		Version: 1,
		Days: []travel.DayPlan{
			{Day: 0, Date: "2026-04-10", Visits: []travel.Visit{
				{PlaceID: "p-1", Name: "Old Museum", ETA: 540, ETD: 630, StayMinutes: 90, TravelMinutes: 10},
				{PlaceID: "p-2", Name: "River Park", ETA: 650, ETD: 710, StayMinutes: 60, TravelMinutes: 20},
			}},
			{Day: 1, Date: "2026-04-11", Visits: []travel.Visit{
				{PlaceID: "p-3", Name: "Night Market", ETA: 1080, ETD: 1200, StayMinutes: 120, TravelMinutes: 15},
			}},
		},
	}
}

func TestItineraryUsesTheLLMReply(t *testing.T) {
	llm := &fakeLLM{content: "Your **plan** is ready.\n"}
	p := NewPresenter(llm, Options{})

	reply := p.Itinerary(context.Background(), presentStory(), presentItinerary())

	require.Equal(t, SourceLLM, reply.Source)
	assert.Equal(t, "Your **plan** is ready.", reply.Text)
	assert.Contains(t, reply.HTML, "<strong>plan</strong>")

	require.Len(t, llm.lastMsgs, 2)
	system := llm.lastMsgs[0]
	require.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "Never invent")
	user := llm.lastMsgs[1]
	assert.Contains(t, user.Content, `"destination":"Taipei"`)
	assert.Contains(t, user.Content, `"name":"Old Museum"`)
	assert.Contains(t, user.Content, `"eta":"09:00"`, "times go to the model as clock strings")
	assert.NotContains(t, user.Content, "anchor", "internal coordinates stay out of the prompt")
}

func TestItineraryFallsBackWhenTheLLMFails(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection refused")}
	p := NewPresenter(llm, Options{})

	reply := p.Itinerary(context.Background(), presentStory(), presentItinerary())

	require.Equal(t, SourceFallback, reply.Source)
	assert.Equal(t, 1, llm.calls)
	assert.Contains(t, reply.Text, "### Day 1")
	assert.Contains(t, reply.Text, "09:00-10:30 **Old Museum**")
	assert.Contains(t, reply.HTML, "<strong>Old Museum</strong>")
}

func TestItineraryWithoutAnLLMIsDeterministic(t *testing.T) {
	p := NewPresenter(nil, Options{})

	reply := p.Itinerary(context.Background(), presentStory(), presentItinerary())

	require.Equal(t, SourceFallback, reply.Source)
	assert.Contains(t, reply.Text, "Here is your 2-day plan for Taipei.")
}

func TestItineraryRejectsEmptyLLMReplies(t *testing.T) {
	llm := &fakeLLM{content: "  \n\t"}
	p := NewPresenter(llm, Options{})

	reply := p.Itinerary(context.Background(), presentStory(), presentItinerary())

	require.Equal(t, SourceFallback, reply.Source)
	assert.Contains(t, reply.Text, "Night Market")
}
