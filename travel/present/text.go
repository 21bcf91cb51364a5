package present

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

// ItineraryMarkdown renders the plan day by day without an LLM. It is
// the degraded reply and the base text the generator rewrites, so it
// must stay complete: every stop, exact times.
func ItineraryMarkdown(story *travel.Story, it *travel.Itinerary) string {
	var b strings.Builder

	switch {
	case story != nil && story.Destination != "":
		fmt.Fprintf(&b, "Here is your %d-day plan for %s.\n", len(it.Days), story.Destination)
	default:
		fmt.Fprintf(&b, "Here is your %d-day plan.\n", len(it.Days))
	}

	for _, day := range it.Days {
		fmt.Fprintf(&b, "\n### Day %d%s\n", day.Day+1, dayHeaderSuffix(day.Date))
		if len(day.Visits) == 0 {
			b.WriteString("- nothing scheduled\n")
			continue
		}
		for _, v := range day.Visits {
			fmt.Fprintf(&b, "- %s-%s **%s**", travel.FormatMinute(v.ETA), travel.FormatMinute(v.ETD), v.Name)
			if v.TravelMinutes > 0 {
				fmt.Fprintf(&b, " (%d min travel)", v.TravelMinutes)
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\n_%d stops, %d minutes of travel in total. Tell me what to change._\n",
		it.VisitCount(), it.TotalTravelMinutes())
	if it.Truncated {
		b.WriteString("\n_Planning ran out of time, so some stops may be missing. Ask me to plan again for a fuller version._\n")
	}
	return b.String()
}

func dayHeaderSuffix(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return ""
	}
	return fmt.Sprintf(" (%s %s)", t.Weekday(), date)
}

// DecisionText explains an exhausted repair ladder: what broke and the
// partial plans the user can pick from. Deterministic on purpose.
func DecisionText(e *travel.DecisionNeededError, names map[string]string) string {
	var b strings.Builder
	b.WriteString("I couldn't fit everything you asked for:\n")
	writeViolations(&b, e.Violations, names)

	if len(e.Options) > 0 {
		b.WriteString("\nClosest workable plans:\n")
		for i, opt := range e.Options {
			fmt.Fprintf(&b, "%d. %d days, %d stops, %d minutes of travel\n",
				i+1, len(opt.Days), opt.VisitCount(), opt.TotalTravelMinutes())
		}
		b.WriteString("\nReply with a plan number, or relax one of the constraints.\n")
	} else {
		b.WriteString("\nRelax one of the constraints and I'll try again.\n")
	}
	return b.String()
}

// ViolationsText explains a rejected revision. The prior plan stands.
func ViolationsText(violations []travel.Violation, names map[string]string) string {
	var b strings.Builder
	b.WriteString("That change doesn't fit:\n")
	writeViolations(&b, violations, names)
	b.WriteString("\nYour current plan is unchanged. Try a different change, or relax a constraint.\n")
	return b.String()
}

func writeViolations(b *strings.Builder, violations []travel.Violation, names map[string]string) {
	for _, v := range violations {
		name := v.PlaceID
		if n, ok := names[v.PlaceID]; ok && n != "" {
			name = n
		}
		switch {
		case v.Day < 0 && name != "":
			fmt.Fprintf(b, "- %s: %s\n", name, v.Detail)
		case v.Day < 0:
			fmt.Fprintf(b, "- %s\n", v.Detail)
		case name != "":
			fmt.Fprintf(b, "- day %d, %s: %s\n", v.Day+1, name, v.Detail)
		default:
			fmt.Fprintf(b, "- day %d: %s\n", v.Day+1, v.Detail)
		}
	}
}

// ErrorText maps a pipeline failure onto the clarification or apology
// shown to the user. Internal errors are never surfaced verbatim.
func ErrorText(err error) string {
	var decision *travel.DecisionNeededError
	if errors.As(err, &decision) {
		return DecisionText(decision, nil)
	}
	var rejected *travel.ViolationsError
	if errors.As(err, &rejected) {
		return ViolationsText(rejected.Violations, nil)
	}

	switch {
	case errors.Is(err, travel.ErrRevision):
		if d := detailAfter(err, travel.ErrRevision); d != "" {
			return fmt.Sprintf("I can't make that change: %s. Your current plan is unchanged.", d)
		}
		return "I can't make that change to the current plan. Try naming the stop differently."
	case errors.Is(err, travel.ErrSchema):
		return "I didn't quite catch that. Tell me where you want to go, when, and what you enjoy."
	case errors.Is(err, travel.ErrImpossibleWindow):
		return "Those dates or daily hours don't work as given. Could you restate them?"
	case errors.Is(err, travel.ErrUnsupportedDestination):
		return "I don't know that destination yet. Could you name a nearby major city?"
	case errors.Is(err, travel.ErrNoCandidates):
		return "I couldn't find places matching all of that. Loosen a filter or drop an exclusion and I'll look again."
	}

	if travel.Classify(err) == travel.ErrorClassEnvironment {
		return "A service I rely on is unavailable right now. Please try again in a moment."
	}
	return "Something went wrong on my side. Please try again."
}

// detailAfter extracts the human tail of a wrapped sentinel error.
func detailAfter(err, sentinel error) string {
	msg := err.Error()
	marker := sentinel.Error() + ": "
	if i := strings.LastIndex(msg, marker); i >= 0 {
		return strings.TrimSpace(msg[i+len(marker):])
	}
	return ""
}

// Suggestions offers next-step hints for the reply footer, tuned to
// where the conversation stands.
func Suggestions(it *travel.Itinerary, pendingDecision bool) []string {
	if pendingDecision {
		return []string{
			`Pick a plan by its number, e.g. "take plan 1"`,
			`Relax a constraint, e.g. "start days at 08:00"`,
			"Drop a must-see to make room",
		}
	}
	if it == nil || it.VisitCount() == 0 {
		return []string{
			"Tell me where you're going and for how many days",
			`Mention what you enjoy, e.g. "food and museums"`,
			`Add limits, e.g. "no nightlife, relaxed pace"`,
		}
	}

	var first, last string
	for _, day := range it.Days {
		for _, v := range day.Visits {
			if first == "" {
				first = v.Name
			}
			last = v.Name
		}
	}
	out := []string{
		fmt.Sprintf(`Swap a stop, e.g. "replace %s with something similar"`, first),
		`Add one, e.g. "add a night market on day 1"`,
	}
	if last != first {
		out = append(out, fmt.Sprintf(`Re-time one, e.g. "move %s to 15:00"`, last))
	}
	return out
}
