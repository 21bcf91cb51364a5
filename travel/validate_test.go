package travel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
)

func testPlace(id string, lat, lng float64, tags ...string) *store.Place {
	rating := 4.0
	return &store.Place{
		ID: id, Name: id, City: "Taipei",
		Lat: lat, Lng: lng,
		Categories: []string{"sight"}, Tags: tags,
		StayMinutes: 60, Rating: &rating,
	}
}

func placeMap(places ...*store.Place) map[string]*store.Place {
	m := make(map[string]*store.Place, len(places))
	for _, p := range places {
		m[p.ID] = p
	}
	return m
}

// allDayHours opens every listed place 08:00-22:00 all week.
func allDayHours(ids ...string) *Hours {
	var intervals []*store.OpeningInterval
	for _, id := range ids {
		for day := int32(0); day < 7; day++ {
			intervals = append(intervals, interval(id, day, 480, 1320))
		}
	}
	return BuildHours(intervals)
}

func soundItinerary() *Itinerary {
	return &Itinerary{
		Days: []DayPlan{
			{
				Day:  0,
				Date: "2025-11-01",
				Visits: []Visit{
					{PlaceID: "a", Name: "a", ETA: 560, ETD: 620, TravelMinutes: 20, StayMinutes: 60},
					{PlaceID: "b", Name: "b", ETA: 640, ETD: 700, TravelMinutes: 15, StayMinutes: 60},
				},
			},
		},
	}
}

func TestValidateItinerarySound(t *testing.T) {
	story := validStory()
	places := placeMap(testPlace("a", 25.03, 121.56), testPlace("b", 25.04, 121.57))
	violations := ValidateItinerary(soundItinerary(), story, allDayHours("a", "b"), places, nil)
	assert.Empty(t, violations)
}

func TestValidateItineraryViolations(t *testing.T) {
	story := validStory()
	places := placeMap(testPlace("a", 25.03, 121.56), testPlace("b", 25.04, 121.57))

	tests := []struct {
		name     string
		mutate   func(*Itinerary)
		wantCode string
	}{
		{
			"stay mismatch",
			func(it *Itinerary) { it.Days[0].Visits[0].ETD = 650 },
			ViolationStayMismatch,
		},
		{
			"outside opening hours",
			func(it *Itinerary) {
				it.Days[0].Visits[0].ETA = 400
				it.Days[0].Visits[0].ETD = 460
			},
			ViolationOpeningHours,
		},
		{
			"travel gap too tight",
			func(it *Itinerary) { it.Days[0].Visits[1].ETA = 625; it.Days[0].Visits[1].ETD = 685 },
			ViolationTravelGap,
		},
		{
			"unknown place",
			func(it *Itinerary) { it.Days[0].Visits[1].PlaceID = "ghost" },
			ViolationUnknownPlace,
		},
		{
			"past end of daily window",
			func(it *Itinerary) {
				it.Days[0].Visits[1].ETA = 1230
				it.Days[0].Visits[1].ETD = 1290
			},
			ViolationDayBudget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it := soundItinerary()
			tt.mutate(it)
			violations := ValidateItinerary(it, story, allDayHours("a", "b"), places, nil)
			require.NotEmpty(t, violations)
			codes := make([]string, 0, len(violations))
			for _, v := range violations {
				codes = append(codes, v.Code)
			}
			assert.Contains(t, codes, tt.wantCode)
		})
	}
}

func TestValidateDuplicateAcrossDays(t *testing.T) {
	story := validStory()
	story.DayCount = 2
	places := placeMap(testPlace("a", 25.03, 121.56))

	it := &Itinerary{Days: []DayPlan{
		{Day: 0, Date: "2025-11-01", Visits: []Visit{{PlaceID: "a", ETA: 560, ETD: 620, TravelMinutes: 20, StayMinutes: 60}}},
		{Day: 1, Date: "2025-11-02", Visits: []Visit{{PlaceID: "a", ETA: 560, ETD: 620, TravelMinutes: 20, StayMinutes: 60}}},
	}}

	violations := ValidateItinerary(it, story, allDayHours("a"), places, nil)
	require.NotEmpty(t, violations)
	assert.Equal(t, ViolationDuplicatePlace, violations[0].Code)
}

func TestValidateMustHaveAndMustNot(t *testing.T) {
	story := validStory()
	story.MustHave = []MustHaveRef{{Kind: RefID, Value: "missing-id"}}
	story.MustNot = []string{"crowded"}

	places := placeMap(testPlace("a", 25.03, 121.56, "crowded"), testPlace("b", 25.04, 121.57))
	violations := ValidateItinerary(soundItinerary(), story, allDayHours("a", "b"), places, nil)

	codes := make(map[string]bool)
	for _, v := range violations {
		codes[v.Code] = true
	}
	assert.True(t, codes[ViolationMustHaveMissing])
	assert.True(t, codes[ViolationMustNotPresent])
}

func TestItineraryClone(t *testing.T) {
	it := soundItinerary()
	it.Days[0].Accommodation = &Accommodation{Name: "hotel", Point: GeoPoint{Lat: 25, Lng: 121}}

	clone := it.Clone()
	clone.Days[0].Visits[0].PlaceID = "changed"
	clone.Days[0].Accommodation.Name = "other"

	assert.Equal(t, "a", it.Days[0].Visits[0].PlaceID)
	assert.Equal(t, "hotel", it.Days[0].Accommodation.Name)
}

func TestMatchesTerm(t *testing.T) {
	p := testPlace("night-market", 25, 121, "street food")
	p.Name = "Shilin Night Market"

	assert.True(t, MatchesTerm(p, "night market"))
	assert.True(t, MatchesTerm(p, "street food"))
	assert.True(t, MatchesTerm(p, "sight"))
	assert.False(t, MatchesTerm(p, "aquarium"))
}
