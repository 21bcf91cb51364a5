package planner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/traveltime"
)

func newTestPlanner() *Planner {
	return New(nil, nil, nil, nil, Options{})
}

// testStory starts Friday 2026-04-10 with a 09:00-21:00 window.
func testStory(days int, pace travel.Pace) *travel.Story {
	return &travel.Story{
		Destination: "taipei",
		Anchor:      travel.GeoPoint{Lat: 25.0478, Lng: 121.517},
		StartDate:   "2026-04-10",
		DayCount:    days,
		Window:      travel.DailyWindow{StartMinute: 540, EndMinute: 1260},
		Pace:        pace,
	}
}

func cand(id string, score float64, stay int, tags ...string) *travel.Candidate {
	return &travel.Candidate{
		Place: &store.Place{
			ID:          id,
			Name:        id,
			City:        "taipei",
			Lat:         25.0,
			Lng:         121.5,
			StayMinutes: int32(stay),
			Tags:        tags,
		},
		Score: score,
	}
}

func dummyPoints(n int) []travel.GeoPoint {
	pts := make([]travel.GeoPoint, n)
	for i := range pts {
		pts[i] = travel.GeoPoint{Lat: 25 + float64(i)*0.01, Lng: 121.5}
	}
	return pts
}

// minuteMatrix builds a backend-confirmed matrix from whole minutes.
func minuteMatrix(minutes [][]int) *traveltime.Matrix {
	n := len(minutes)
	m := &traveltime.Matrix{
		Points:    dummyPoints(n),
		Seconds:   make([][]float64, n),
		Estimated: make([][]bool, n),
	}
	for i := 0; i < n; i++ {
		m.Seconds[i] = make([]float64, n)
		m.Estimated[i] = make([]bool, n)
		for j := 0; j < n; j++ {
			m.Seconds[i][j] = float64(minutes[i][j] * 60)
		}
	}
	return m
}

func uniformMinutes(n, mins int) [][]int {
	out := make([][]int, n)
	for i := range out {
		out[i] = make([]int, n)
		for j := range out[i] {
			if i != j {
				out[i][j] = mins
			}
		}
	}
	return out
}

func openAllWeek(id string) []*store.OpeningInterval {
	var intervals []*store.OpeningInterval
	for wd := int32(0); wd < 7; wd++ {
		intervals = append(intervals, &store.OpeningInterval{
			PlaceID: id, Weekday: wd, OpenMinute: 0, CloseMinute: 1440,
		})
	}
	return intervals
}

func openDaily(id string, open, close int32) []*store.OpeningInterval {
	var intervals []*store.OpeningInterval
	for wd := int32(0); wd < 7; wd++ {
		intervals = append(intervals, &store.OpeningInterval{
			PlaceID: id, Weekday: wd, OpenMinute: open, CloseMinute: close,
		})
	}
	return intervals
}

func hoursOf(groups ...[]*store.OpeningInterval) *travel.Hours {
	var all []*store.OpeningInterval
	for _, g := range groups {
		all = append(all, g...)
	}
	return travel.BuildHours(all)
}

func visitIDs(day travel.DayPlan) []string {
	ids := make([]string, 0, len(day.Visits))
	for _, v := range day.Visits {
		ids = append(ids, v.PlaceID)
	}
	return ids
}

func TestPlanSingleDayOrdersByUtility(t *testing.T) {
	story := testStory(1, travel.PaceModerate)
	cands := []*travel.Candidate{
		cand("a", 0.9, 60),
		cand("b", 0.8, 60),
		cand("c", 0.7, 60),
	}
	req := Request{
		Story:      story,
		Candidates: cands,
		Matrix:     minuteMatrix(uniformMinutes(4, 10)),
		Hours:      hoursOf(openAllWeek("a"), openAllWeek("b"), openAllWeek("c")),
	}

	it, err := newTestPlanner().Plan(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, it.Days, 1)
	assert.Equal(t, []string{"a", "b", "c"}, visitIDs(it.Days[0]))

	first := it.Days[0].Visits[0]
	assert.Equal(t, 550, first.ETA)
	assert.Equal(t, 610, first.ETD)
	assert.Equal(t, 10, first.TravelMinutes)
	assert.Equal(t, 620, it.Days[0].Visits[1].ETA)
	assert.Equal(t, 690, it.Days[0].Visits[2].ETA)
	assert.False(t, it.Truncated)
}

func TestPlanStopsAtPaceTargetWhenUtilityDrops(t *testing.T) {
	story := testStory(1, travel.PaceRelaxed) // target 3
	cands := []*travel.Candidate{
		cand("a", 0.9, 60),
		cand("b", 0.8, 60),
		cand("c", 0.7, 60),
		cand("d", 0.12, 60),
		cand("e", 0.11, 60),
	}
	req := Request{
		Story:      story,
		Candidates: cands,
		Matrix:     minuteMatrix(uniformMinutes(6, 10)),
		Hours: hoursOf(openAllWeek("a"), openAllWeek("b"), openAllWeek("c"),
			openAllWeek("d"), openAllWeek("e")),
	}

	it, err := newTestPlanner().Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, visitIDs(it.Days[0]),
		"marginal utility below the stop threshold must end the day at the pace target")
}

func TestPlanExceedsPaceTargetForStrongCandidates(t *testing.T) {
	story := testStory(1, travel.PaceRelaxed)
	cands := []*travel.Candidate{
		cand("a", 0.9, 60),
		cand("b", 0.8, 60),
		cand("c", 0.7, 60),
		cand("f", 0.5, 60),
		cand("d", 0.12, 60),
	}
	req := Request{
		Story:      story,
		Candidates: cands,
		Matrix:     minuteMatrix(uniformMinutes(6, 10)),
		Hours: hoursOf(openAllWeek("a"), openAllWeek("b"), openAllWeek("c"),
			openAllWeek("f"), openAllWeek("d")),
	}

	it, err := newTestPlanner().Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "f"}, visitIDs(it.Days[0]),
		"the pace target is soft; strong candidates still get scheduled")
}

func TestPlanWaitsForOpeningAndSkipsTooShortWindows(t *testing.T) {
	story := testStory(1, travel.PaceModerate)
	cands := []*travel.Candidate{
		cand("m", 0.9, 120), // opens 10:00, ranks below n once the wait is priced in
		cand("n", 0.8, 60),
		cand("p", 0.85, 120), // window 10:00-11:40 can never hold a 2 h stay
	}
	req := Request{
		Story:      story,
		Candidates: cands,
		Matrix:     minuteMatrix(uniformMinutes(4, 10)),
		Hours: hoursOf(openDaily("m", 600, 800), openAllWeek("n"),
			openDaily("p", 600, 700)),
	}

	it, err := newTestPlanner().Plan(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, []string{"n", "m"}, visitIDs(it.Days[0]))

	m := it.Days[0].Visits[1]
	assert.Equal(t, 620, m.ETA, "arrival after opening needs no wait")
	assert.Equal(t, 740, m.ETD)
	assert.False(t, it.HasPlace("p"))
}

func TestPlanReturnToAccommodationLimitsTheDay(t *testing.T) {
	cands := []*travel.Candidate{
		cand("far", 0.9, 60),
		cand("near", 0.5, 60),
	}
	minutes := [][]int{
		{0, 30, 10},
		{30, 0, 10},
		{10, 10, 0},
	}
	hours := hoursOf(openAllWeek("far"), openAllWeek("near"))

	story := testStory(1, travel.PaceModerate)
	story.Window = travel.DailyWindow{StartMinute: 540, EndMinute: 700}
	story.Accommodation = &travel.GeoPoint{Lat: 25.0478, Lng: 121.517}

	it, err := newTestPlanner().Plan(context.Background(), Request{
		Story: story, Candidates: cands, Matrix: minuteMatrix(minutes), Hours: hours,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"far"}, visitIDs(it.Days[0]),
		"a second visit would not leave room to return before the window closes")
	require.NotNil(t, it.Days[0].Accommodation)

	// Without a base the same day fits both visits; 2-opt then flips the
	// greedy order because near-first halves the travel.
	free := testStory(1, travel.PaceModerate)
	free.Window = travel.DailyWindow{StartMinute: 540, EndMinute: 700}

	it, err = newTestPlanner().Plan(context.Background(), Request{
		Story: free, Candidates: cands, Matrix: minuteMatrix(minutes), Hours: hours,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "far"}, visitIDs(it.Days[0]))
	assert.Nil(t, it.Days[0].Accommodation)
}

func TestPlanSkipsMustNotCandidates(t *testing.T) {
	story := testStory(1, travel.PaceModerate)
	bad := cand("bad", 0.95, 60, "casino")
	bad.MustNot = true
	cands := []*travel.Candidate{bad, cand("good", 0.5, 60)}

	it, err := newTestPlanner().Plan(context.Background(), Request{
		Story:      story,
		Candidates: cands,
		Matrix:     minuteMatrix(uniformMinutes(3, 10)),
		Hours:      hoursOf(openAllWeek("bad"), openAllWeek("good")),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, visitIDs(it.Days[0]))
}

func TestPlanInflatesEstimatedLegs(t *testing.T) {
	story := testStory(1, travel.PaceModerate)
	cands := []*travel.Candidate{cand("x", 0.9, 60)}
	m := minuteMatrix(uniformMinutes(2, 10))
	m.Estimated[0][1] = true

	it, err := newTestPlanner().Plan(context.Background(), Request{
		Story: story, Candidates: cands, Matrix: m,
		Hours: hoursOf(openAllWeek("x")),
	})
	require.NoError(t, err)

	v := it.Days[0].Visits[0]
	assert.Equal(t, 13, v.TravelMinutes, "estimated 10 min legs are planned as ceil(10*1.3)")
	assert.True(t, v.EstimatedLeg)
	assert.Equal(t, 553, v.ETA)
}

func TestPlanSchedulesMustHaveFirstDespiteLowScore(t *testing.T) {
	story := testStory(1, travel.PaceModerate)
	mh := cand("mh", 0.2, 60)
	mh.MustHave = true
	cands := []*travel.Candidate{cand("x", 0.9, 60), cand("y", 0.8, 60), mh}

	it, err := newTestPlanner().Plan(context.Background(), Request{
		Story:      story,
		Candidates: cands,
		Matrix:     minuteMatrix(uniformMinutes(4, 10)),
		Hours:      hoursOf(openAllWeek("x"), openAllWeek("y"), openAllWeek("mh")),
	})
	require.NoError(t, err)
	assert.Equal(t, "mh", it.Days[0].Visits[0].PlaceID)
}

func TestPlanMustHaveWaitsForItsWeekday(t *testing.T) {
	story := testStory(2, travel.PaceModerate) // Friday + Saturday
	mh := cand("mh", 0.3, 60)
	mh.MustHave = true
	cands := []*travel.Candidate{cand("x", 0.9, 60), mh}

	var saturdayOnly []*store.OpeningInterval
	saturdayOnly = append(saturdayOnly, &store.OpeningInterval{
		PlaceID: "mh", Weekday: 6, OpenMinute: 0, CloseMinute: 1440,
	})

	it, err := newTestPlanner().Plan(context.Background(), Request{
		Story:      story,
		Candidates: cands,
		Matrix:     minuteMatrix(uniformMinutes(3, 10)),
		Hours:      hoursOf(openAllWeek("x"), saturdayOnly),
	})
	require.NoError(t, err)
	day, _ := it.Locate("mh")
	assert.Equal(t, 1, day, "a place closed on Friday must land on Saturday")
}

func TestPlanTruncatesOnExpiredContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	story := testStory(2, travel.PaceModerate)
	cands := []*travel.Candidate{cand("a", 0.9, 60)}

	it, err := newTestPlanner().Plan(ctx, Request{
		Story:      story,
		Candidates: cands,
		Matrix:     minuteMatrix(uniformMinutes(2, 10)),
		Hours:      hoursOf(openAllWeek("a")),
	})
	require.NoError(t, err)
	assert.True(t, it.Truncated)
	assert.Zero(t, it.VisitCount())
}

func TestPlanAllDaysEmptyIsNoCandidates(t *testing.T) {
	story := testStory(2, travel.PaceModerate)
	cands := []*travel.Candidate{
		cand("a", 0.9, 60),
		cand("b", 0.8, 60),
	}

	// Both places are closed all week, so no day can schedule anything.
	it, err := newTestPlanner().Plan(context.Background(), Request{
		Story:      story,
		Candidates: cands,
		Matrix:     minuteMatrix(uniformMinutes(3, 10)),
		Hours:      hoursOf(),
	})
	assert.Nil(t, it)
	assert.ErrorIs(t, err, travel.ErrNoCandidates)
	assert.Equal(t, travel.ErrorClassUser, travel.Classify(err))
}

func TestPlanRejectsBadRequests(t *testing.T) {
	p := newTestPlanner()
	story := testStory(1, travel.PaceModerate)

	_, err := p.Plan(context.Background(), Request{Story: story})
	assert.ErrorIs(t, err, travel.ErrNoCandidates)

	_, err = p.Plan(context.Background(), Request{
		Story:      story,
		Candidates: []*travel.Candidate{cand("a", 0.9, 60)},
		Matrix:     minuteMatrix(uniformMinutes(4, 10)), // wrong dimension
		Hours:      hoursOf(openAllWeek("a")),
	})
	assert.ErrorIs(t, err, travel.ErrInvariant)
}

func TestPlanIsByteIdenticalAcrossRuns(t *testing.T) {
	story := testStory(2, travel.PaceModerate)
	cands := []*travel.Candidate{
		cand("a", 0.9, 60), cand("b", 0.8, 90), cand("c", 0.7, 45),
		cand("d", 0.6, 60), cand("e", 0.55, 30), cand("f", 0.5, 120),
	}
	req := Request{
		Story:      story,
		Candidates: cands,
		Matrix:     minuteMatrix(uniformMinutes(7, 12)),
		Hours: hoursOf(openAllWeek("a"), openAllWeek("b"), openAllWeek("c"),
			openAllWeek("d"), openAllWeek("e"), openAllWeek("f")),
	}

	first, err := newTestPlanner().Plan(context.Background(), req)
	require.NoError(t, err)
	second, err := newTestPlanner().Plan(context.Background(), req)
	require.NoError(t, err)

	b1, err := json.Marshal(first)
	require.NoError(t, err)
	b2, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}
