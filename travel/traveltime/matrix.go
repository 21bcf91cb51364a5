package traveltime

import (
	"math"

	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

// Matrix holds pairwise travel durations for a fixed slice of points.
// Seconds[i][j] is the duration from Points[i] to Points[j]; Estimated
// marks cells answered by great-circle fallback instead of the backend.
type Matrix struct {
	Points    []travel.GeoPoint
	Seconds   [][]float64
	Estimated [][]bool

	filled [][]bool
}

func newMatrix(points []travel.GeoPoint) *Matrix {
	n := len(points)
	m := &Matrix{
		Points:    points,
		Seconds:   make([][]float64, n),
		Estimated: make([][]bool, n),
		filled:    make([][]bool, n),
	}
	for i := 0; i < n; i++ {
		m.Seconds[i] = make([]float64, n)
		m.Estimated[i] = make([]bool, n)
		m.filled[i] = make([]bool, n)
		m.filled[i][i] = true
	}
	return m
}

func (m *Matrix) setLeg(i, j int, leg Leg) {
	m.Seconds[i][j] = leg.Seconds
	m.Estimated[i][j] = leg.Estimated
	m.filled[i][j] = true
}

func (m *Matrix) scale(factor float64) {
	if factor == 1 {
		return
	}
	for i := range m.Seconds {
		for j := range m.Seconds[i] {
			m.Seconds[i][j] *= factor
		}
	}
}

// Dim returns the number of points.
func (m *Matrix) Dim() int { return len(m.Points) }

// Leg returns the duration cell (i, j).
func (m *Matrix) Leg(i, j int) Leg {
	return Leg{Seconds: m.Seconds[i][j], Estimated: m.Estimated[i][j]}
}

// Minutes returns cell (i, j) rounded up to whole minutes.
func (m *Matrix) Minutes(i, j int) int {
	return minutesCeil(m.Seconds[i][j])
}

// MinutesInflated returns cell (i, j) in whole minutes, scaling estimated
// cells by factor before rounding up.
func (m *Matrix) MinutesInflated(i, j int, factor float64) int {
	seconds := m.Seconds[i][j]
	if m.Estimated[i][j] && factor > 0 {
		seconds *= factor
	}
	return minutesCeil(seconds)
}

func minutesCeil(seconds float64) int {
	if seconds <= 0 {
		return 0
	}
	return int(math.Ceil(seconds / 60))
}
