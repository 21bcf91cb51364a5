// Package present turns planning results into user-facing replies. The
// LLM voices the itinerary; a deterministic renderer stands in when the
// LLM is down or absent, flagged so callers can tell. Violation and
// decision texts never go through the LLM at all, their wording must
// stay exact.
package present

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JohnnyHuang0515/TravelAI-sub001/ai"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

// Reply sources.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// Reply is one user-facing message. HTML is the markdown rendering of
// Text, empty when rendering failed.
type Reply struct {
	Text   string `json:"text"`
	HTML   string `json:"html,omitempty"`
	Source string `json:"source"`
}

// Options bound reply generation.
type Options struct {
	Timeout time.Duration // hard per-call deadline, default 10s
}

func (o *Options) normalize() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
}

// Presenter generates replies. A nil LLM presenter is valid and always
// answers deterministically.
type Presenter struct {
	llm  ai.LLMService
	opts Options
}

// NewPresenter creates a presenter. llm may be nil.
func NewPresenter(llm ai.LLMService, opts Options) *Presenter {
	opts.normalize()
	return &Presenter{llm: llm, opts: opts}
}

const generatorSystemPrompt = `You are the voice of a travel planning assistant.
You are given a trip request and the computed itinerary as JSON. Write the reply shown to the user, in markdown.
Rules:
- Present the plan day by day with the given times and names. Never invent, rename, drop, or re-time a stop.
- Match the language of the trip request.
- Be warm and compact: a short opening line, the days, one closing line inviting changes.
- If the itinerary is marked truncated, say the plan was cut short and the user can ask to continue it.`

// Itinerary voices a planned itinerary. LLM failures degrade to the
// deterministic rendering instead of failing the turn.
func (p *Presenter) Itinerary(ctx context.Context, story *travel.Story, it *travel.Itinerary) *Reply {
	if p.llm == nil {
		return p.fallback(story, it)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	user := fmt.Sprintf("Trip request:\n%s\n\nItinerary:\n%s", storyContext(story), itineraryContext(it))
	content, stats, err := p.llm.Chat(ctx, ai.FormatMessages(generatorSystemPrompt, user, nil))
	if err != nil {
		slog.Warn("reply generation failed, degrading to the deterministic rendering", "error", err)
		return p.fallback(story, it)
	}
	if stats != nil {
		slog.Debug("generator LLM call", "total_tokens", stats.TotalTokens, "duration_ms", stats.TotalDurationMs)
	}

	text := strings.TrimSpace(content)
	if text == "" {
		return p.fallback(story, it)
	}
	return &Reply{Text: text, HTML: safeHTML(text), Source: SourceLLM}
}

func (p *Presenter) fallback(story *travel.Story, it *travel.Itinerary) *Reply {
	return TextReply(ItineraryMarkdown(story, it))
}

// TextReply wraps deterministic text (clarifications, decision prompts,
// violation lists) as a reply.
func TextReply(text string) *Reply {
	return &Reply{Text: text, HTML: safeHTML(text), Source: SourceFallback}
}

func safeHTML(text string) string {
	html, err := RenderHTML(text)
	if err != nil {
		slog.Debug("markdown rendering failed", "error", err)
		return ""
	}
	return html
}

// storyContext is the compact trip frame the generator needs; the full
// story carries coordinates and internals the reply must not leak.
func storyContext(story *travel.Story) string {
	view := struct {
		Destination string   `json:"destination"`
		StartDate   string   `json:"start_date"`
		DayCount    int      `json:"day_count"`
		Pace        string   `json:"pace"`
		Interests   []string `json:"interests,omitempty"`
	}{
		Destination: story.Destination,
		StartDate:   story.StartDate,
		DayCount:    story.DayCount,
		Pace:        string(story.Pace),
		Interests:   story.Interests,
	}
	b, err := json.Marshal(view)
	if err != nil {
		return story.Destination
	}
	return string(b)
}

// itineraryContext renders times as HH:MM so the generator repeats them
// verbatim instead of doing minute arithmetic.
func itineraryContext(it *travel.Itinerary) string {
	type stop struct {
		Name   string `json:"name"`
		ETA    string `json:"eta"`
		ETD    string `json:"etd"`
		Travel int    `json:"travel_minutes"`
	}
	type day struct {
		Day   int    `json:"day"`
		Date  string `json:"date"`
		Stops []stop `json:"stops"`
	}
	view := struct {
		Days      []day `json:"days"`
		Truncated bool  `json:"truncated,omitempty"`
	}{Truncated: it.Truncated}

	for _, d := range it.Days {
		dv := day{Day: d.Day + 1, Date: d.Date}
		for _, v := range d.Visits {
			dv.Stops = append(dv.Stops, stop{
				Name:   v.Name,
				ETA:    travel.FormatMinute(v.ETA),
				ETD:    travel.FormatMinute(v.ETD),
				Travel: v.TravelMinutes,
			})
		}
		view.Days = append(view.Days, dv)
	}

	b, err := json.Marshal(view)
	if err != nil {
		return ""
	}
	return string(b)
}
