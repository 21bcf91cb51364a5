package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnnyHuang0515/TravelAI-sub001/ai"
	"github.com/JohnnyHuang0515/TravelAI-sub001/internal/profile"
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

type fakeDriver struct {
	store.Driver

	lat, lng      float64
	centroidErr   error
	centroidCalls int
}

func (f *fakeDriver) GetCityCentroid(ctx context.Context, city string) (float64, float64, error) {
	f.centroidCalls++
	if f.centroidErr != nil {
		return 0, 0, f.centroidErr
	}
	return f.lat, f.lng, nil
}

// fixedClock pins extraction to Friday 2026-03-06.
func fixedClock() time.Time {
	return time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC)
}

func newTestExtractor(llm *fakeLLM, driver *fakeDriver) *Extractor {
	st := store.New(driver, &profile.Profile{})
	return NewExtractor(llm, st, fixedClock, Options{})
}

const fullStoryJSON = `{
  "destination": "Taipei",
  "start_date": "2026-04-10",
  "day_count": 3,
  "daily_start": "10:00",
  "daily_end": "20:00",
  "pace": "relaxed",
  "interests": ["Museums", "hiking", "museum"],
  "must_have": ["id:p-101", " Night Market "],
  "must_not": ["Clubs"],
  "budget": 3,
  "accommodation": {"lat": 25.04, "lng": 121.52}
}`

func TestExtractFullStory(t *testing.T) {
	llm := &fakeLLM{content: fullStoryJSON}
	driver := &fakeDriver{lat: 25.0478, lng: 121.517}
	ex := newTestExtractor(llm, driver)

	story, err := ex.Extract(context.Background(), "three relaxed days in Taipei", Context{})
	require.NoError(t, err)

	assert.Equal(t, "taipei", story.Destination)
	assert.Equal(t, "2026-04-10", story.StartDate)
	assert.Equal(t, 3, story.DayCount)
	assert.Equal(t, travel.DailyWindow{StartMinute: 600, EndMinute: 1200}, story.Window)
	assert.Equal(t, travel.PaceRelaxed, story.Pace)
	assert.Equal(t, []string{"culture", "outdoors"}, story.Interests)
	assert.Equal(t, []travel.MustHaveRef{
		{Kind: travel.RefID, Value: "p-101"},
		{Kind: travel.RefTerm, Value: "night market"},
	}, story.MustHave)
	assert.Equal(t, []string{"nightlife"}, story.MustNot)
	assert.Equal(t, 3, story.Budget)
	require.NotNil(t, story.Accommodation)
	assert.Equal(t, travel.GeoPoint{Lat: 25.04, Lng: 121.52}, *story.Accommodation)
	assert.Equal(t, travel.GeoPoint{Lat: 25.0478, Lng: 121.517}, story.Anchor)
	assert.Equal(t, 1, driver.centroidCalls)
}

func TestExtractStripsCodeFences(t *testing.T) {
	llm := &fakeLLM{content: "```json\n" + fullStoryJSON + "\n```"}
	ex := newTestExtractor(llm, &fakeDriver{lat: 25, lng: 121})

	story, err := ex.Extract(context.Background(), "taipei trip", Context{})
	require.NoError(t, err)
	assert.Equal(t, "taipei", story.Destination)
}

func TestExtractUnknownFieldIsSchemaError(t *testing.T) {
	llm := &fakeLLM{content: `{"destination": "taipei", "frobnicate": true}`}
	ex := newTestExtractor(llm, &fakeDriver{lat: 25, lng: 121})

	_, err := ex.Extract(context.Background(), "taipei", Context{})
	assert.ErrorIs(t, err, travel.ErrSchema)
}

func TestExtractMalformedJSONIsSchemaError(t *testing.T) {
	llm := &fakeLLM{content: "sorry, I could not parse that"}
	ex := newTestExtractor(llm, &fakeDriver{lat: 25, lng: 121})

	_, err := ex.Extract(context.Background(), "taipei", Context{})
	assert.ErrorIs(t, err, travel.ErrSchema)
}

func TestExtractInvalidPaceIsSchemaError(t *testing.T) {
	llm := &fakeLLM{content: `{"destination": "taipei", "start_date": "2026-04-10", "day_count": 2, "pace": "blistering"}`}
	ex := newTestExtractor(llm, &fakeDriver{lat: 25, lng: 121})

	_, err := ex.Extract(context.Background(), "taipei at blistering pace", Context{})
	assert.ErrorIs(t, err, travel.ErrSchema)
}

func TestExtractInvertedWindowIsRejected(t *testing.T) {
	llm := &fakeLLM{content: `{
	  "destination": "taipei",
	  "start_date": "2026-04-10",
	  "day_count": 2,
	  "daily_start": "21:00",
	  "daily_end": "09:00",
	  "pace": "moderate"
	}`}
	ex := newTestExtractor(llm, &fakeDriver{lat: 25, lng: 121})

	_, err := ex.Extract(context.Background(), "evenings only", Context{})
	assert.ErrorIs(t, err, travel.ErrImpossibleWindow)
}

func TestExtractUnsupportedDestination(t *testing.T) {
	llm := &fakeLLM{content: `{"destination": "atlantis", "start_date": "2026-04-10", "day_count": 2}`}
	driver := &fakeDriver{centroidErr: errors.New("no such city")}
	ex := newTestExtractor(llm, driver)

	_, err := ex.Extract(context.Background(), "take me to atlantis", Context{})
	assert.ErrorIs(t, err, travel.ErrUnsupportedDestination)
}

func TestExtractResolvesRelativeDates(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "tomorrow", raw: "tomorrow", want: "2026-03-07"},
		{name: "today", raw: "today", want: "2026-03-06"},
		{name: "unstated defaults to tomorrow", raw: "", want: "2026-03-07"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{content: `{"destination": "taipei", "start_date": "` + tt.raw + `", "day_count": 1}`}
			ex := newTestExtractor(llm, &fakeDriver{lat: 25, lng: 121})

			story, err := ex.Extract(context.Background(), "a day in taipei", Context{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, story.StartDate)
		})
	}
}

func TestExtractMergesPriorStory(t *testing.T) {
	prior := &travel.Story{
		Destination: "taipei",
		Anchor:      travel.GeoPoint{Lat: 25.0478, Lng: 121.517},
		StartDate:   "2026-04-10",
		DayCount:    3,
		Window:      travel.DailyWindow{StartMinute: 540, EndMinute: 1260},
		Pace:        travel.PaceRelaxed,
		Interests:   []string{"food"},
		Budget:      2,
	}
	llm := &fakeLLM{content: `{"pace": "intensive", "interests": ["food", "culture"]}`}
	driver := &fakeDriver{}
	ex := newTestExtractor(llm, driver)

	story, err := ex.Extract(context.Background(), "make it more intense", Context{Prior: prior})
	require.NoError(t, err)

	assert.Equal(t, "taipei", story.Destination)
	assert.Equal(t, "2026-04-10", story.StartDate)
	assert.Equal(t, 3, story.DayCount)
	assert.Equal(t, prior.Window, story.Window)
	assert.Equal(t, travel.PaceIntensive, story.Pace)
	assert.Equal(t, []string{"culture", "food"}, story.Interests)
	assert.Equal(t, 2, story.Budget)
	assert.Equal(t, prior.Anchor, story.Anchor)
	assert.Zero(t, driver.centroidCalls, "unchanged destination must reuse the prior anchor")
}

func TestExtractPriorStoryAppearsInPrompt(t *testing.T) {
	prior := &travel.Story{
		Destination: "taipei",
		Anchor:      travel.GeoPoint{Lat: 25, Lng: 121},
		StartDate:   "2026-04-10",
		DayCount:    2,
		Window:      travel.DailyWindow{StartMinute: 540, EndMinute: 1260},
		Pace:        travel.PaceModerate,
	}
	llm := &fakeLLM{content: `{"destination": "taipei"}`}
	ex := newTestExtractor(llm, &fakeDriver{})

	_, err := ex.Extract(context.Background(), "add a beach day", Context{Prior: prior})
	require.NoError(t, err)

	require.NotEmpty(t, llm.lastMsgs)
	last := llm.lastMsgs[len(llm.lastMsgs)-1]
	assert.Contains(t, last.Content, "Previous trip description")
	assert.Contains(t, last.Content, "add a beach day")
}

func TestExtractClipsDayCount(t *testing.T) {
	llm := &fakeLLM{content: `{"destination": "taipei", "start_date": "2026-04-10", "day_count": 30}`}
	ex := newTestExtractor(llm, &fakeDriver{lat: 25, lng: 121})

	story, err := ex.Extract(context.Background(), "a month in taipei", Context{})
	require.NoError(t, err)
	assert.Equal(t, 14, story.DayCount)
}

func TestExtractDefaultsPaceAndWindow(t *testing.T) {
	llm := &fakeLLM{content: `{"destination": "taipei", "start_date": "2026-04-10", "day_count": 2}`}
	ex := newTestExtractor(llm, &fakeDriver{lat: 25, lng: 121})

	story, err := ex.Extract(context.Background(), "two days in taipei", Context{})
	require.NoError(t, err)
	assert.Equal(t, travel.PaceModerate, story.Pace)
	assert.Equal(t, travel.DailyWindow{StartMinute: 540, EndMinute: 1260}, story.Window)
}

func TestExtractLLMFailureIsBackendErrorAndNotRetried(t *testing.T) {
	llm := &fakeLLM{err: errors.New("connection refused")}
	ex := newTestExtractor(llm, &fakeDriver{lat: 25, lng: 121})

	_, err := ex.Extract(context.Background(), "taipei", Context{})
	assert.ErrorIs(t, err, travel.ErrBackendUnavailable)
	assert.Equal(t, 1, llm.calls)
}
