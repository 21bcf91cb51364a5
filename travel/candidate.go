package travel

import (
	"sort"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
)

// Candidate is a place considered for scheduling, together with the
// retrieval signals that feed the rerank score. A candidate exists at
// most once per place id after fusion.
type Candidate struct {
	Place *store.Place

	// Branch signals. The Has flags distinguish a true zero from a
	// branch that never produced the signal.
	Semantic      float64
	HasSemantic   bool
	Structured    float64
	HasStructured bool

	// Derived signals.
	DistanceM  float64
	RatingNorm float64
	TagOverlap float64
	PaceFit    float64
	MustHave   bool
	MustNot    bool

	// Score is the final rerank score.
	Score float64
}

// ID returns the candidate's place id.
func (c *Candidate) ID() string {
	return c.Place.ID
}

// Point returns the candidate's coordinate.
func (c *Candidate) Point() GeoPoint {
	return GeoPoint{Lat: c.Place.Lat, Lng: c.Place.Lng}
}

// StayMinutes returns the default stay length for the place.
func (c *Candidate) StayMinutes() int {
	return int(c.Place.StayMinutes)
}

// SortCandidates orders candidates by score descending with the
// deterministic tie-break chain: rating descending, distance ascending,
// id ascending. Every consumer that picks "the best candidate" relies on
// this order being reproducible.
func SortCandidates(candidates []*Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ra, rb := ratingOrZero(a.Place), ratingOrZero(b.Place)
		if ra != rb {
			return ra > rb
		}
		if a.DistanceM != b.DistanceM {
			return a.DistanceM < b.DistanceM
		}
		return a.Place.ID < b.Place.ID
	})
}

func ratingOrZero(p *store.Place) float64 {
	if p.Rating == nil {
		return 0
	}
	return *p.Rating
}
