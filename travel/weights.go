package travel

import (
	"encoding/json"
	"fmt"
)

// Weights is the rerank weight set applied to candidate signals:
//
//	score = Semantic·semantic + Rating·rating_norm + Distance·distance_score
//	      + TagOverlap·tag_overlap + PaceFit·pace_fit
//	      + MustHave·must_have_bonus − MustNot·must_not_penalty
type Weights struct {
	Semantic   float64 `json:"semantic"`
	Rating     float64 `json:"rating"`
	Distance   float64 `json:"distance"`
	TagOverlap float64 `json:"tag_overlap"`
	PaceFit    float64 `json:"pace_fit"`
	MustHave   float64 `json:"must_have"`
	MustNot    float64 `json:"must_not"`
}

// WeightTable maps each pace onto its weight set.
type WeightTable map[Pace]Weights

// DefaultWeightTable returns the documented default weights per pace.
// Relaxed leans on rating and pace fit; intensive leans on distance so
// dense clusters of short stops rank up.
func DefaultWeightTable() WeightTable {
	return WeightTable{
		PaceRelaxed: {
			Semantic: 0.30, Rating: 0.25, Distance: 0.15,
			TagOverlap: 0.15, PaceFit: 0.15, MustHave: 1.0, MustNot: 1.0,
		},
		PaceModerate: {
			Semantic: 0.35, Rating: 0.20, Distance: 0.20,
			TagOverlap: 0.15, PaceFit: 0.10, MustHave: 1.0, MustNot: 1.0,
		},
		PaceIntensive: {
			Semantic: 0.30, Rating: 0.15, Distance: 0.25,
			TagOverlap: 0.15, PaceFit: 0.15, MustHave: 1.0, MustNot: 1.0,
		},
	}
}

// ParseWeightTable reads a JSON weight table keyed by pace and overlays
// it on the defaults, so a partial override only replaces the paces it
// names.
func ParseWeightTable(raw string) (WeightTable, error) {
	table := DefaultWeightTable()
	if raw == "" {
		return table, nil
	}
	override := map[Pace]Weights{}
	if err := json.Unmarshal([]byte(raw), &override); err != nil {
		return nil, fmt.Errorf("invalid rerank weight table: %w", err)
	}
	for pace, weights := range override {
		if !pace.Valid() {
			return nil, fmt.Errorf("invalid rerank weight table: unknown pace %q", pace)
		}
		table[pace] = weights
	}
	return table, nil
}

// For returns the weight set for a pace, falling back to moderate.
func (t WeightTable) For(pace Pace) Weights {
	if w, ok := t[pace]; ok {
		return w
	}
	return t[PaceModerate]
}
