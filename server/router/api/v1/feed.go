package v1

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/feeds"
	"github.com/labstack/echo/v4"

	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

// GetItineraryFeed renders the committed itinerary as an Atom feed, one
// entry per trip day, so a plan can be followed from a feed reader or
// dropped into a calendar pipeline.
func (s *APIV1Service) GetItineraryFeed(c echo.Context) error {
	snap, err := s.Engine.Snapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return turnError(err)
	}
	it := snap.Slots.Itinerary
	if it == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no itinerary committed yet")
	}

	destination := "your trip"
	if snap.Slots.Story != nil && snap.Slots.Story.Destination != "" {
		destination = snap.Slots.Story.Destination
	}
	selfURL := s.requestURL(c)

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Itinerary for %s", destination),
		Link:        &feeds.Link{Href: selfURL},
		Description: fmt.Sprintf("%d-day plan, revision %d", len(it.Days), it.Version),
		Created:     snap.CreatedAt,
		Updated:     snap.LastActive,
	}
	for _, day := range it.Days {
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          fmt.Sprintf("urn:travelai:%s:day-%d:v%d", snap.ID, day.Day+1, it.Version),
			Title:       fmt.Sprintf("Day %d (%s)", day.Day+1, day.Date),
			Link:        &feeds.Link{Href: fmt.Sprintf("%s#day-%d", selfURL, day.Day+1)},
			Description: dayDescription(day),
			Created:     snap.LastActive,
		})
	}

	atom, err := feed.ToAtom()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to render feed").SetInternal(err)
	}
	return c.Blob(http.StatusOK, "application/atom+xml; charset=utf-8", []byte(atom))
}

// requestURL rebuilds the absolute URL of the request, preferring the
// configured instance URL so feeds stay stable behind proxies.
func (s *APIV1Service) requestURL(c echo.Context) string {
	path := c.Request().URL.Path
	if s.Profile != nil && s.Profile.InstanceURL != "" {
		return strings.TrimSuffix(s.Profile.InstanceURL, "/") + path
	}
	return c.Scheme() + "://" + c.Request().Host + path
}

func dayDescription(day travel.DayPlan) string {
	if len(day.Visits) == 0 {
		return "Free day."
	}
	lines := make([]string, 0, len(day.Visits)+1)
	if day.Accommodation != nil {
		lines = append(lines, fmt.Sprintf("Base: %s", day.Accommodation.Name))
	}
	for _, v := range day.Visits {
		line := fmt.Sprintf("%s-%s %s", travel.FormatMinute(v.ETA), travel.FormatMinute(v.ETD), v.Name)
		if v.TravelMinutes > 0 {
			line += fmt.Sprintf(" (%d min travel)", v.TravelMinutes)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
