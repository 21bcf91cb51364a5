// Package feedback revises a committed itinerary from conversational
// feedback: a schema-constrained LLM call parses the utterance into
// typed operations, and the engine applies them transactionally so the
// user either gets the next version or the exact reasons it was
// refused.
package feedback

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

// OpKind is the closed set of revision operations.
type OpKind string

const (
	OpDrop    OpKind = "drop"
	OpReplace OpKind = "replace"
	OpMove    OpKind = "move"
	OpInsert  OpKind = "insert"
	OpSwap    OpKind = "swap"
	OpReorder OpKind = "reorder"
)

// Op is one revision operation with its targets resolved to place ids.
// Day is 0-based; -1 means no day stated. AtMinute is a minutes-of-day
// start for move; -1 means no time stated.
type Op struct {
	Kind     OpKind
	PlaceID  string   // drop, replace, move, insert (after resolution), swap
	OtherID  string   // swap's second target
	Query    string   // insert: free description or "id:<place-id>"
	Hints    []string // replace: what the substitute should be
	Day      int
	AtMinute int
}

// Options bound parsing.
type Options struct {
	Timeout time.Duration // hard per-call deadline, default 8s
	MaxOps  int           // operations accepted per utterance, default 4
}

func (o *Options) normalize() {
	if o.Timeout <= 0 {
		o.Timeout = 8 * time.Second
	}
	if o.MaxOps <= 0 {
		o.MaxOps = 4
	}
}

// Parser turns one feedback utterance into resolved operations.
type Parser struct {
	llm  ai.LLMService
	opts Options
}

// NewParser creates a parser.
func NewParser(llm ai.LLMService, opts Options) *Parser {
	opts.normalize()
	return &Parser{llm: llm, opts: opts}
}

// opsPayload is the fixed wire schema the LLM must produce. Days and
// ordinals are 1-based on the wire, matching the outline the prompt
// shows; 0 means unstated. Unknown fields are rejected so prompt drift
// surfaces as a schema error.
type opsPayload struct {
	Ops []opPayload `json:"ops"`
}

type opPayload struct {
	Op     string         `json:"op"`
	Target *targetPayload `json:"target"`
	Other  *targetPayload `json:"other"`
	Query  string         `json:"query"`
	Hints  []string       `json:"hints"`
	Day    int            `json:"day"`
	Time   string         `json:"time"`
}

type targetPayload struct {
	PlaceID string `json:"place_id"`
	Name    string `json:"name"`
	Day     int    `json:"day"`
	Ordinal int    `json:"ordinal"`
}

const systemPromptFmt = `You are the revision parser of a travel planning assistant.
The user already has the itinerary below and is asking for changes. Answer with ONE JSON object and nothing else, using exactly these fields:
{
  "ops": [
    {
      "op": "drop | replace | move | insert | swap | reorder",
      "target": {"place_id": "", "name": "", "day": 0, "ordinal": 0},
      "other": {"place_id": "", "name": "", "day": 0, "ordinal": 0},
      "query": "",
      "hints": ["..."],
      "day": 0,
      "time": ""
    }
  ]
}
Rules:
- Emit one op per requested change, in the user's order. An empty ops list means the message asks for no change.
- target is the place being edited. Copy its place_id from the itinerary when you can; otherwise give the name as the user said it, or its day and ordinal position. Days and ordinals are 1-based as shown; 0 means unstated.
- drop removes target. replace swaps target for something else; put what the user wants instead (category, style) in hints. move relocates target to day and/or time. insert adds a new place; put the user's description, or "id:<place-id>" for a known id, in query, and the preferred day in day. swap exchanges target and other. reorder re-optimizes the visit order of day.
- time is 24h "HH:MM"; "" when unstated. Leave unused fields empty: "" for strings, 0 for numbers, [] for lists, null for unused targets.

Current itinerary:
%s`

// Parse resolves one utterance against the itinerary it revises. Every
// target comes back as a place id or the whole parse is refused:
// schema problems wrap ErrSchema, unresolvable or empty revisions wrap
// ErrRevision, transport problems wrap ErrBackendUnavailable.
func (p *Parser) Parse(ctx context.Context, utterance string, it *travel.Itinerary, places map[string]*store.Place, history []ai.Message) ([]Op, error) {
	if it == nil || len(it.Days) == 0 {
		return nil, fmt.Errorf("%w: feedback parsed before an itinerary exists", travel.ErrInvariant)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	system := fmt.Sprintf(systemPromptFmt, renderOutline(it))
	content, stats, err := p.llm.ChatJSON(ctx, ai.FormatMessages(system, utterance, history))
	if err != nil {
		return nil, fmt.Errorf("%w: feedback parser call: %v", travel.ErrBackendUnavailable, err)
	}
	if stats != nil {
		slog.Debug("feedback parser LLM call", "total_tokens", stats.TotalTokens, "duration_ms", stats.TotalDurationMs)
	}

	payload, err := decodeOps(content)
	if err != nil {
		return nil, err
	}
	if len(payload.Ops) == 0 {
		return nil, fmt.Errorf("%w: the message asks for no change", travel.ErrRevision)
	}
	if len(payload.Ops) > p.opts.MaxOps {
		return nil, fmt.Errorf("%w: %d changes in one message, limit is %d", travel.ErrRevision, len(payload.Ops), p.opts.MaxOps)
	}

	ops := make([]Op, 0, len(payload.Ops))
	for _, raw := range payload.Ops {
		op, err := resolveOp(raw, it, places)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// renderOutline prints the itinerary the way the prompt's rules refer
// to it: 1-based days and ordinals, place ids in brackets.
func renderOutline(it *travel.Itinerary) string {
	var b strings.Builder
	for _, day := range it.Days {
		fmt.Fprintf(&b, "Day %d (%s):\n", day.Day+1, day.Date)
		if len(day.Visits) == 0 {
			b.WriteString("  (empty)\n")
			continue
		}
		for i, v := range day.Visits {
			fmt.Fprintf(&b, "  %d. %s [%s] %s-%s\n",
				i+1, v.Name, v.PlaceID, travel.FormatMinute(v.ETA), travel.FormatMinute(v.ETD))
		}
	}
	return b.String()
}

func decodeOps(content string) (*opsPayload, error) {
	text := stripFences(content)

	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()

	var payload opsPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", travel.ErrSchema, err)
	}
	return &payload, nil
}

// resolveOp turns one wire op into a resolved Op, converting 1-based
// wire days to 0-based and HH:MM times to minutes-of-day.
func resolveOp(raw opPayload, it *travel.Itinerary, places map[string]*store.Place) (Op, error) {
	op := Op{
		Kind:     OpKind(strings.ToLower(strings.TrimSpace(raw.Op))),
		Day:      raw.Day - 1,
		AtMinute: -1,
	}
	if raw.Day <= 0 {
		op.Day = -1
	}
	if strings.TrimSpace(raw.Time) != "" {
		minute, err := travel.ParseMinute(raw.Time)
		if err != nil {
			return Op{}, fmt.Errorf("%w: %v", travel.ErrSchema, err)
		}
		op.AtMinute = minute
	}

	var err error
	switch op.Kind {
	case OpDrop:
		op.PlaceID, err = resolveTarget(raw.Target, it, places)
	case OpReplace:
		op.PlaceID, err = resolveTarget(raw.Target, it, places)
		op.Hints = travel.NormalizeTerms(raw.Hints)
	case OpMove:
		op.PlaceID, err = resolveTarget(raw.Target, it, places)
		if err == nil && op.Day < 0 {
			// A time-only move stays on the target's current day.
			if op.AtMinute < 0 {
				err = fmt.Errorf("%w: a move needs a day or a time", travel.ErrRevision)
			} else if d, _ := it.Locate(op.PlaceID); d >= 0 {
				op.Day = d
			} else {
				err = fmt.Errorf("%w: %q is not on the plan", travel.ErrRevision, op.PlaceID)
			}
		}
	case OpInsert:
		op.Query = strings.TrimSpace(raw.Query)
		if op.Query == "" {
			err = fmt.Errorf("%w: an insert needs a description of the place to add", travel.ErrRevision)
		}
	case OpSwap:
		op.PlaceID, err = resolveTarget(raw.Target, it, places)
		if err == nil {
			op.OtherID, err = resolveTarget(raw.Other, it, places)
		}
	case OpReorder:
		if op.Day < 0 || op.Day >= len(it.Days) {
			err = fmt.Errorf("%w: a reorder needs a day inside the trip", travel.ErrRevision)
		}
	default:
		err = fmt.Errorf("%w: unknown operation %q", travel.ErrSchema, raw.Op)
	}
	if err != nil {
		return Op{}, err
	}
	return op, nil
}

// resolveTarget maps a wire target onto a scheduled place id: directly
// by id, by day and ordinal, or by name. A name that matches nothing,
// or more than one scheduled place, is refused rather than guessed.
func resolveTarget(t *targetPayload, it *travel.Itinerary, places map[string]*store.Place) (string, error) {
	if t == nil {
		return "", fmt.Errorf("%w: the operation names no target", travel.ErrRevision)
	}
	if id := strings.TrimSpace(t.PlaceID); id != "" {
		return id, nil
	}

	if t.Ordinal > 0 {
		day := t.Day - 1
		if day < 0 {
			if len(it.Days) != 1 {
				return "", fmt.Errorf("%w: an ordinal needs its day on a multi-day trip", travel.ErrRevision)
			}
			day = 0
		}
		if day >= len(it.Days) || t.Ordinal > len(it.Days[day].Visits) {
			return "", fmt.Errorf("%w: day %d has no visit %d", travel.ErrRevision, day+1, t.Ordinal)
		}
		return it.Days[day].Visits[t.Ordinal-1].PlaceID, nil
	}

	// Name fragments match verbatim; only the tag and category fallback
	// goes through term folding, so "museum" still finds the place named
	// Old Museum by its name.
	name := strings.ToLower(strings.TrimSpace(t.Name))
	if name == "" {
		return "", fmt.Errorf("%w: the operation names no target", travel.ErrRevision)
	}
	var matches []string
	seen := make(map[string]bool)
	for _, day := range it.Days {
		for _, v := range day.Visits {
			if seen[v.PlaceID] {
				continue
			}
			hit := strings.Contains(strings.ToLower(v.Name), name)
			if !hit && places[v.PlaceID] != nil {
				hit = travel.MatchesTerm(places[v.PlaceID], name)
			}
			if hit {
				seen[v.PlaceID] = true
				matches = append(matches, v.PlaceID)
			}
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no scheduled place matches %q", travel.ErrRevision, t.Name)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("%w: %q matches %d scheduled places, name one", travel.ErrRevision, t.Name, len(matches))
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
