package travel

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Pace is the coarse intensity of a trip. It controls the per-day visit
// target and the rerank weight set.
type Pace string

const (
	PaceRelaxed   Pace = "relaxed"
	PaceModerate  Pace = "moderate"
	PaceIntensive Pace = "intensive"
)

// Valid reports whether the pace is one of the closed set.
func (p Pace) Valid() bool {
	switch p {
	case PaceRelaxed, PaceModerate, PaceIntensive:
		return true
	}
	return false
}

// TargetVisits returns the soft per-day visit target for the pace.
func (p Pace) TargetVisits() int {
	switch p {
	case PaceRelaxed:
		return 3
	case PaceIntensive:
		return 7
	default:
		return 5
	}
}

// RefKind discriminates how a must-have entry identifies its subject.
type RefKind string

const (
	RefID   RefKind = "id"   // stable place id
	RefTerm RefKind = "term" // free term matched against names and tags
)

// MustHaveRef is a typed hard-inclusion constraint.
type MustHaveRef struct {
	Kind  RefKind `json:"kind"`
	Value string  `json:"value"`
}

// ParseMustHaveRef reads the extractor's wire form: an "id:" prefix marks
// a stable place id, anything else is a term.
func ParseMustHaveRef(raw string) MustHaveRef {
	if rest, found := strings.CutPrefix(raw, "id:"); found {
		return MustHaveRef{Kind: RefID, Value: strings.TrimSpace(rest)}
	}
	return MustHaveRef{Kind: RefTerm, Value: NormalizeTerm(raw)}
}

// DailyWindow is the active part of each trip day in minutes-of-day.
type DailyWindow struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

// Minutes returns the window length.
func (w DailyWindow) Minutes() int {
	return w.EndMinute - w.StartMinute
}

// Story is the normalized structured form of a user's trip description.
// It is immutable once built; retrieval and planning read it only.
type Story struct {
	Destination   string        `json:"destination"`
	Anchor        GeoPoint      `json:"anchor"`
	StartDate     string        `json:"start_date"` // YYYY-MM-DD
	DayCount      int           `json:"day_count"`
	Window        DailyWindow   `json:"daily_window"`
	Pace          Pace          `json:"pace"`
	Interests     []string      `json:"interests"`
	MustHave      []MustHaveRef `json:"must_have"`
	MustNot       []string      `json:"must_not"`
	Budget        int           `json:"budget"` // 1..5, 0 = unspecified
	Accommodation *GeoPoint     `json:"accommodation,omitempty"`
}

// Validate checks the story invariants shared by every consumer.
func (s *Story) Validate(maxDayCount int) error {
	if strings.TrimSpace(s.Destination) == "" {
		return fmt.Errorf("%w: destination is empty", ErrUnsupportedDestination)
	}
	if _, err := time.Parse("2006-01-02", s.StartDate); err != nil {
		return fmt.Errorf("%w: start date %q is not ISO", ErrImpossibleWindow, s.StartDate)
	}
	if s.DayCount < 1 || s.DayCount > maxDayCount {
		return fmt.Errorf("%w: day count %d outside [1, %d]", ErrImpossibleWindow, s.DayCount, maxDayCount)
	}
	if s.Window.StartMinute < 0 || s.Window.EndMinute > minutesPerDay || s.Window.StartMinute >= s.Window.EndMinute {
		return fmt.Errorf("%w: daily window [%d, %d]", ErrImpossibleWindow, s.Window.StartMinute, s.Window.EndMinute)
	}
	if !s.Pace.Valid() {
		return fmt.Errorf("%w: pace %q", ErrSchema, s.Pace)
	}
	if s.Budget < 0 || s.Budget > 5 {
		return fmt.Errorf("%w: budget tier %d", ErrSchema, s.Budget)
	}
	return nil
}

// WeekdayOf returns the weekday (0=Sunday) of the trip day at the given
// 0-based index.
func (s *Story) WeekdayOf(dayIndex int) int {
	t, err := time.Parse("2006-01-02", s.StartDate)
	if err != nil {
		return 0
	}
	return int(t.AddDate(0, 0, dayIndex).Weekday())
}

// DateOf returns the calendar date of the trip day at the given index.
func (s *Story) DateOf(dayIndex int) string {
	t, err := time.Parse("2006-01-02", s.StartDate)
	if err != nil {
		return s.StartDate
	}
	return t.AddDate(0, 0, dayIndex).Format("2006-01-02")
}

// MustHaveIDs returns the id-kind must-have values, sorted.
func (s *Story) MustHaveIDs() []string {
	var ids []string
	for _, ref := range s.MustHave {
		if ref.Kind == RefID {
			ids = append(ids, ref.Value)
		}
	}
	sort.Strings(ids)
	return ids
}

// synonymTable folds common user phrasings onto canonical interest terms.
var synonymTable = map[string]string{
	"cuisine":     "food",
	"foodie":      "food",
	"eating":      "food",
	"restaurant":  "food",
	"restaurants": "food",
	"cafe":        "food",
	"cafes":       "food",
	"museum":      "culture",
	"museums":     "culture",
	"history":     "culture",
	"historical":  "culture",
	"art":         "culture",
	"temple":      "culture",
	"temples":     "culture",
	"heritage":    "culture",
	"hike":        "outdoors",
	"hiking":      "outdoors",
	"nature":      "outdoors",
	"park":        "outdoors",
	"parks":       "outdoors",
	"mountain":    "outdoors",
	"mountains":   "outdoors",
	"market":      "shopping",
	"markets":     "shopping",
	"mall":        "shopping",
	"malls":       "shopping",
	"bar":         "nightlife",
	"bars":        "nightlife",
	"club":        "nightlife",
	"clubs":       "nightlife",
	"kid":         "family",
	"kids":        "family",
	"children":    "family",
}

// NormalizeTerm lower-cases, trims, and folds a term through the synonym
// table. Unknown terms pass through unchanged.
func NormalizeTerm(term string) string {
	t := strings.ToLower(strings.TrimSpace(term))
	if canonical, ok := synonymTable[t]; ok {
		return canonical
	}
	return t
}

// NormalizeTerms normalizes, deduplicates, and sorts a term list.
func NormalizeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		t := NormalizeTerm(term)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// FormatMinute renders a minute-of-day as HH:MM. Minute 1440 renders as
// 24:00 so an end-of-day boundary stays unambiguous.
func FormatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ParseMinute reads HH:MM into a minute-of-day.
func ParseMinute(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || h*60+m > minutesPerDay {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return h*60 + m, nil
}
