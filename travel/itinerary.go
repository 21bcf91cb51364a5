package travel

// Visit is a scheduled stop: ETA/ETD in minutes-of-day plus the travel
// leg into it. ETD is always ETA + StayMinutes.
type Visit struct {
	PlaceID       string `json:"place_id"`
	Name          string `json:"name"`
	ETA           int    `json:"eta_minute"`
	ETD           int    `json:"etd_minute"`
	TravelMinutes int    `json:"travel_minutes"`
	StayMinutes   int    `json:"stay_minutes"`
	// EstimatedLeg marks a travel leg derived from a great-circle
	// fallback rather than the routing backend.
	EstimatedLeg bool `json:"estimated_leg,omitempty"`
}

// Accommodation anchors a day's start and end when the user has a fixed
// base.
type Accommodation struct {
	Name  string   `json:"name"`
	Point GeoPoint `json:"point"`
}

// DayPlan is one day's ordered visit sequence.
type DayPlan struct {
	Day           int            `json:"day"`
	Date          string         `json:"date"` // YYYY-MM-DD
	Visits        []Visit        `json:"visits"`
	Accommodation *Accommodation `json:"accommodation,omitempty"`
}

// TravelMinutes sums the travel legs of the day.
func (d *DayPlan) TravelMinutes() int {
	total := 0
	for _, v := range d.Visits {
		total += v.TravelMinutes
	}
	return total
}

// BusyMinutes sums travel plus stay time of the day.
func (d *DayPlan) BusyMinutes() int {
	total := 0
	for _, v := range d.Visits {
		total += v.TravelMinutes + v.StayMinutes
	}
	return total
}

// Itinerary is the trip-level ordered sequence of day plans. Version
// counts committed feedback revisions; Truncated marks a plan cut short
// by a deadline.
type Itinerary struct {
	Days      []DayPlan `json:"days"`
	Version   int       `json:"version"`
	Truncated bool      `json:"truncated,omitempty"`
}

// Clone deep-copies the itinerary so revisions can be staged without
// touching the committed version.
func (it *Itinerary) Clone() *Itinerary {
	if it == nil {
		return nil
	}
	out := &Itinerary{
		Days:      make([]DayPlan, len(it.Days)),
		Version:   it.Version,
		Truncated: it.Truncated,
	}
	for i, day := range it.Days {
		copied := day
		copied.Visits = make([]Visit, len(day.Visits))
		copy(copied.Visits, day.Visits)
		if day.Accommodation != nil {
			acc := *day.Accommodation
			copied.Accommodation = &acc
		}
		out.Days[i] = copied
	}
	return out
}

// PlaceIDs returns every scheduled place id in day-then-sequence order.
func (it *Itinerary) PlaceIDs() []string {
	var ids []string
	for _, day := range it.Days {
		for _, v := range day.Visits {
			ids = append(ids, v.PlaceID)
		}
	}
	return ids
}

// PlaceIDSet returns the scheduled place ids as a set.
func (it *Itinerary) PlaceIDSet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, day := range it.Days {
		for _, v := range day.Visits {
			set[v.PlaceID] = struct{}{}
		}
	}
	return set
}

// HasPlace reports whether the place is scheduled on any day.
func (it *Itinerary) HasPlace(id string) bool {
	_, ok := it.PlaceIDSet()[id]
	return ok
}

// Locate returns the day index and visit index of a place, or (-1, -1).
func (it *Itinerary) Locate(placeID string) (dayIndex, visitIndex int) {
	for d, day := range it.Days {
		for v, visit := range day.Visits {
			if visit.PlaceID == placeID {
				return d, v
			}
		}
	}
	return -1, -1
}

// VisitCount returns the total number of scheduled visits.
func (it *Itinerary) VisitCount() int {
	total := 0
	for _, day := range it.Days {
		total += len(day.Visits)
	}
	return total
}

// TotalTravelMinutes sums travel legs across all days.
func (it *Itinerary) TotalTravelMinutes() int {
	total := 0
	for _, day := range it.Days {
		total += day.TravelMinutes()
	}
	return total
}
