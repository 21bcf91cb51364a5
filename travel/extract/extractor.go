// Package extract turns free-form trip descriptions into normalized
// stories through a schema-constrained LLM call.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JohnnyHuang0515/TravelAI-sub001/ai"
	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

// Clock injects the current time so relative dates resolve the same way
// in tests as in production.
type Clock func() time.Time

// Options bound extraction.
type Options struct {
	MaxDayCount int                // default 14
	Timeout     time.Duration      // hard per-call deadline, default 8s
	Window      travel.DailyWindow // daily window when the user leaves it open
}

func (o *Options) normalize() {
	if o.MaxDayCount <= 0 {
		o.MaxDayCount = 14
	}
	if o.Timeout <= 0 {
		o.Timeout = 8 * time.Second
	}
	if o.Window.EndMinute <= o.Window.StartMinute {
		o.Window = travel.DailyWindow{StartMinute: 540, EndMinute: 1260}
	}
}

// Context carries what the extractor may read from the conversation.
type Context struct {
	Prior   *travel.Story // last accepted story, nil on the first turn
	History []ai.Message  // bounded recent turns
}

// Extractor parses one utterance into a validated story.
type Extractor struct {
	llm   ai.LLMService
	store *store.Store
	clock Clock
	opts  Options
}

// NewExtractor creates an extractor. clock may be nil for wall time.
func NewExtractor(llm ai.LLMService, st *store.Store, clock Clock, opts Options) *Extractor {
	opts.normalize()
	if clock == nil {
		clock = time.Now
	}
	return &Extractor{
		llm:   llm,
		store: st,
		clock: clock,
		opts:  opts,
	}
}

// storyPayload is the fixed wire schema the LLM must produce. Unknown
// fields are rejected so prompt drift surfaces as a schema error instead
// of silently dropped data.
type storyPayload struct {
	Destination string   `json:"destination"`
	StartDate   string   `json:"start_date"`
	DayCount    int      `json:"day_count"`
	DailyStart  string   `json:"daily_start"`
	DailyEnd    string   `json:"daily_end"`
	Pace        string   `json:"pace"`
	Interests   []string `json:"interests"`
	MustHave    []string `json:"must_have"`
	MustNot     []string `json:"must_not"`
	Budget      int      `json:"budget"`

	Accommodation *struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"accommodation"`
}

const systemPromptFmt = `You are the trip-intake parser of a travel planning assistant.
Read the user's trip description and answer with ONE JSON object and nothing else, using exactly these fields:
{
  "destination": "city name, lowercase",
  "start_date": "YYYY-MM-DD",
  "day_count": 0,
  "daily_start": "HH:MM",
  "daily_end": "HH:MM",
  "pace": "relaxed | moderate | intensive",
  "interests": ["..."],
  "must_have": ["..."],
  "must_not": ["..."],
  "budget": 0,
  "accommodation": {"lat": 0.0, "lng": 0.0}
}
Rules:
- Today is %s (%s). Resolve relative dates ("next weekend", "in two weeks") to YYYY-MM-DD against it.
- Leave unstated fields empty: "" for strings, 0 for numbers, [] for lists, null for accommodation.
- budget is a price tier 1 (cheap) to 5 (luxury), 0 when unstated.
- must_have: a place the user explicitly refuses to skip. Use "id:<place-id>" only when the user referenced a known place id, otherwise the place name or phrase as given.
- must_not: categories or traits the user wants excluded.
- When a previous trip description is provided, treat the new message as a refinement and return the FULL updated description, not a diff.`

// Extract parses one utterance. Schema problems come back wrapped in the
// user-error sentinels; LLM transport problems come back as backend
// errors. The call is never retried, a malformed answer costs one
// clarification round instead.
func (e *Extractor) Extract(ctx context.Context, utterance string, sc Context) (*travel.Story, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	now := e.clock()
	system := fmt.Sprintf(systemPromptFmt, now.Format("2006-01-02"), now.Weekday())

	user := utterance
	if sc.Prior != nil {
		prior, err := json.Marshal(sc.Prior)
		if err == nil {
			user = fmt.Sprintf("Previous trip description:\n%s\n\nNew message:\n%s", prior, utterance)
		}
	}

	content, stats, err := e.llm.ChatJSON(ctx, ai.FormatMessages(system, user, sc.History))
	if err != nil {
		return nil, fmt.Errorf("%w: extractor call: %v", travel.ErrBackendUnavailable, err)
	}
	if stats != nil {
		slog.Debug("extractor LLM call", "total_tokens", stats.TotalTokens, "duration_ms", stats.TotalDurationMs)
	}

	payload, err := decodePayload(content)
	if err != nil {
		return nil, err
	}

	story, err := e.buildStory(ctx, payload, sc.Prior)
	if err != nil {
		return nil, err
	}
	return story, nil
}

// decodePayload strictly decodes the LLM answer. Code fences are stripped
// first since some providers wrap JSON-mode output anyway.
func decodePayload(content string) (*storyPayload, error) {
	text := stripFences(content)

	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()

	var payload storyPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", travel.ErrSchema, err)
	}
	return &payload, nil
}

func (e *Extractor) buildStory(ctx context.Context, payload *storyPayload, prior *travel.Story) (*travel.Story, error) {
	story := &travel.Story{
		Destination: strings.ToLower(strings.TrimSpace(payload.Destination)),
		DayCount:    payload.DayCount,
		Pace:        travel.Pace(strings.ToLower(strings.TrimSpace(payload.Pace))),
		Interests:   travel.NormalizeTerms(payload.Interests),
		MustNot:     travel.NormalizeTerms(payload.MustNot),
		Budget:      clampInt(payload.Budget, 0, 5),
	}

	for _, raw := range payload.MustHave {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		story.MustHave = append(story.MustHave, travel.ParseMustHaveRef(raw))
	}

	if payload.Accommodation != nil {
		story.Accommodation = &travel.GeoPoint{
			Lat: payload.Accommodation.Lat,
			Lng: payload.Accommodation.Lng,
		}
	}

	window, err := e.resolveWindow(payload)
	if err != nil {
		return nil, err
	}
	story.Window = window
	story.StartDate = e.resolveDate(payload.StartDate)

	// Refinement turns inherit the frame fields the new message left
	// open; list fields are taken as returned since the prompt demands
	// the full updated description.
	if prior != nil {
		mergeFrame(story, prior, payload)
	}

	if story.DayCount < 1 {
		story.DayCount = 1
	}
	if story.DayCount > e.opts.MaxDayCount {
		slog.Debug("clipping day count", "requested", story.DayCount, "max", e.opts.MaxDayCount)
		story.DayCount = e.opts.MaxDayCount
	}
	if story.Pace == "" {
		story.Pace = travel.PaceModerate
	}
	// Only a window nobody set falls back to the default. A stated but
	// inverted window must fail validation, not get repaired.
	if story.Window == (travel.DailyWindow{}) {
		story.Window = e.opts.Window
	}

	if err := e.resolveAnchor(ctx, story, prior); err != nil {
		return nil, err
	}

	if err := story.Validate(e.opts.MaxDayCount); err != nil {
		return nil, err
	}
	return story, nil
}

func (e *Extractor) resolveWindow(payload *storyPayload) (travel.DailyWindow, error) {
	if payload.DailyStart == "" && payload.DailyEnd == "" {
		return travel.DailyWindow{}, nil // filled from prior or defaults later
	}

	window := e.opts.Window
	if payload.DailyStart != "" {
		start, err := travel.ParseMinute(payload.DailyStart)
		if err != nil {
			return travel.DailyWindow{}, fmt.Errorf("%w: daily start: %v", travel.ErrSchema, err)
		}
		window.StartMinute = start
	}
	if payload.DailyEnd != "" {
		end, err := travel.ParseMinute(payload.DailyEnd)
		if err != nil {
			return travel.DailyWindow{}, fmt.Errorf("%w: daily end: %v", travel.ErrSchema, err)
		}
		window.EndMinute = end
	}
	return window, nil
}

// resolveDate maps the few relative tokens the LLM is allowed to leave
// through, and defaults an unstated date to tomorrow.
func (e *Extractor) resolveDate(raw string) string {
	now := e.clock()
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "tomorrow":
		return now.AddDate(0, 0, 1).Format("2006-01-02")
	case "today":
		return now.Format("2006-01-02")
	}
	return strings.TrimSpace(raw)
}

// mergeFrame fills frame fields the new payload left empty from the
// prior story.
func mergeFrame(story *travel.Story, prior *travel.Story, payload *storyPayload) {
	if story.Destination == "" {
		story.Destination = prior.Destination
	}
	if payload.StartDate == "" && prior.StartDate != "" {
		story.StartDate = prior.StartDate
	}
	if payload.DayCount == 0 && prior.DayCount > 0 {
		story.DayCount = prior.DayCount
	}
	if payload.DailyStart == "" && payload.DailyEnd == "" {
		story.Window = prior.Window
	}
	if payload.Pace == "" {
		story.Pace = prior.Pace
	}
	if payload.Budget == 0 {
		story.Budget = prior.Budget
	}
	if story.Accommodation == nil {
		story.Accommodation = prior.Accommodation
	}
}

// resolveAnchor reuses the prior anchor when the destination is
// unchanged and otherwise asks the catalog for the city centroid. A city
// the catalog does not know is an unsupported destination.
func (e *Extractor) resolveAnchor(ctx context.Context, story *travel.Story, prior *travel.Story) error {
	if prior != nil && prior.Destination == story.Destination && (prior.Anchor.Lat != 0 || prior.Anchor.Lng != 0) {
		story.Anchor = prior.Anchor
		return nil
	}
	if story.Destination == "" {
		return fmt.Errorf("%w: no destination given", travel.ErrUnsupportedDestination)
	}

	lat, lng, err := e.store.GetCityCentroid(ctx, story.Destination)
	if err != nil {
		return fmt.Errorf("%w: %q", travel.ErrUnsupportedDestination, story.Destination)
	}
	story.Anchor = travel.GeoPoint{Lat: lat, Lng: lng}
	return nil
}

func stripFences(content string) string {
	text := strings.TrimSpace(content)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
