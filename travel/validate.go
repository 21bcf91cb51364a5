package travel

import (
	"fmt"
	"strings"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
)

// TravelMinutesFunc yields the travel minutes between two points. The
// validator uses it to re-check inter-visit gaps; a nil func falls back
// to the travel minutes recorded on each visit.
type TravelMinutesFunc func(from, to GeoPoint) int

// MatchesTerm reports whether a place matches a free term by name,
// category, or tag.
func MatchesTerm(place *store.Place, term string) bool {
	t := NormalizeTerm(term)
	if t == "" {
		return false
	}
	if strings.Contains(strings.ToLower(place.Name), t) {
		return true
	}
	for _, c := range place.Categories {
		if NormalizeTerm(c) == t {
			return true
		}
	}
	for _, tag := range place.Tags {
		if NormalizeTerm(tag) == t {
			return true
		}
	}
	return false
}

// TagsIntersect reports whether any of the place's tags or categories
// matches one of the terms.
func TagsIntersect(place *store.Place, terms []string) bool {
	for _, term := range terms {
		t := NormalizeTerm(term)
		for _, tag := range place.Tags {
			if NormalizeTerm(tag) == t {
				return true
			}
		}
		for _, c := range place.Categories {
			if NormalizeTerm(c) == t {
				return true
			}
		}
	}
	return false
}

// ValidateItinerary checks every produced-itinerary invariant and
// returns the violations found, empty when the itinerary is sound.
// places maps ids onto catalog entries for the scheduled universe.
func ValidateItinerary(it *Itinerary, story *Story, hours *Hours, places map[string]*store.Place, travelFn TravelMinutesFunc) []Violation {
	var violations []Violation
	seen := make(map[string]int) // place id -> day first scheduled

	for _, day := range it.Days {
		weekday := story.WeekdayOf(day.Day)
		violations = append(violations, validateDay(&day, weekday, story, hours, places, travelFn, seen)...)
	}

	for _, id := range story.MustHaveIDs() {
		if !it.HasPlace(id) {
			violations = append(violations, Violation{
				Code:    ViolationMustHaveMissing,
				Day:     -1,
				PlaceID: id,
				Detail:  "required place is not scheduled",
			})
		}
	}

	return violations
}

func validateDay(day *DayPlan, weekday int, story *Story, hours *Hours, places map[string]*store.Place, travelFn TravelMinutesFunc, seen map[string]int) []Violation {
	var violations []Violation

	window := story.Window
	if day.BusyMinutes() > window.Minutes() {
		violations = append(violations, Violation{
			Code:   ViolationDayBudget,
			Day:    day.Day,
			Detail: fmt.Sprintf("%d busy minutes exceed the %d minute window", day.BusyMinutes(), window.Minutes()),
		})
	}

	var prev *Visit
	for i := range day.Visits {
		v := &day.Visits[i]

		if firstDay, dup := seen[v.PlaceID]; dup {
			violations = append(violations, Violation{
				Code:    ViolationDuplicatePlace,
				Day:     day.Day,
				PlaceID: v.PlaceID,
				Detail:  fmt.Sprintf("already scheduled on day %d", firstDay),
			})
		} else {
			seen[v.PlaceID] = day.Day
		}

		place, known := places[v.PlaceID]
		if !known {
			violations = append(violations, Violation{
				Code:    ViolationUnknownPlace,
				Day:     day.Day,
				PlaceID: v.PlaceID,
				Detail:  "place is not in the candidate catalog",
			})
			prev = v
			continue
		}

		if v.ETD != v.ETA+v.StayMinutes {
			violations = append(violations, Violation{
				Code:    ViolationStayMismatch,
				Day:     day.Day,
				PlaceID: v.PlaceID,
				Detail:  fmt.Sprintf("etd %s != eta %s + stay %d", FormatMinute(v.ETD), FormatMinute(v.ETA), v.StayMinutes),
			})
		}

		if !hours.OpenAt(v.PlaceID, weekday, v.ETA, v.ETD) {
			violations = append(violations, Violation{
				Code:    ViolationOpeningHours,
				Day:     day.Day,
				PlaceID: v.PlaceID,
				Detail:  fmt.Sprintf("[%s, %s] is outside opening hours", FormatMinute(v.ETA), FormatMinute(v.ETD)),
			})
		}

		if v.ETA-v.TravelMinutes < window.StartMinute || v.ETD > window.EndMinute {
			violations = append(violations, Violation{
				Code:    ViolationDayBudget,
				Day:     day.Day,
				PlaceID: v.PlaceID,
				Detail:  fmt.Sprintf("[%s, %s] leaves the daily window [%s, %s]", FormatMinute(v.ETA), FormatMinute(v.ETD), FormatMinute(window.StartMinute), FormatMinute(window.EndMinute)),
			})
		}

		if prev != nil {
			gap := v.TravelMinutes
			if travelFn != nil {
				if prevPlace, ok := places[prev.PlaceID]; ok {
					gap = travelFn(GeoPoint{Lat: prevPlace.Lat, Lng: prevPlace.Lng}, GeoPoint{Lat: place.Lat, Lng: place.Lng})
				}
			}
			if v.ETA < prev.ETD+gap {
				violations = append(violations, Violation{
					Code:    ViolationTravelGap,
					Day:     day.Day,
					PlaceID: v.PlaceID,
					Detail:  fmt.Sprintf("eta %s earlier than %s + %d travel minutes", FormatMinute(v.ETA), FormatMinute(prev.ETD), gap),
				})
			}
		}

		if TagsIntersect(place, story.MustNot) {
			violations = append(violations, Violation{
				Code:    ViolationMustNotPresent,
				Day:     day.Day,
				PlaceID: v.PlaceID,
				Detail:  "place matches an excluded term",
			})
		}

		prev = v
	}

	return violations
}
