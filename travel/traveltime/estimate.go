package traveltime

import (
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

// defaultFallbackSpeedKMH approximates urban driving including stops.
const defaultFallbackSpeedKMH = 40.0

// EstimateSeconds returns a great-circle travel-time estimate between two
// points at the given average speed.
func EstimateSeconds(a, b travel.GeoPoint, speedKMH float64) float64 {
	if speedKMH <= 0 {
		speedKMH = defaultFallbackSpeedKMH
	}
	meters := travel.HaversineM(a, b)
	return meters / (speedKMH * 1000 / 3600)
}
