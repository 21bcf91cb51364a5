package retrieve

import (
	"math"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
)

// Rerank computes every candidate's weighted score in place and orders
// the slice with the deterministic tie-break chain. The weight set is
// chosen by the story's pace.
func Rerank(story *travel.Story, candidates []*travel.Candidate, table travel.WeightTable, radiusM float64) {
	w := table.For(story.Pace)

	for _, c := range candidates {
		c.RatingNorm = ratingNorm(c.Place.Rating)
		c.TagOverlap = tagOverlap(c.Place, story.Interests)
		c.PaceFit = paceFit(story.Pace, c)
		c.MustHave = matchesMustHave(story.MustHave, c.Place)
		c.MustNot = travel.TagsIntersect(c.Place, story.MustNot)

		distScore := distanceScore(c.DistanceM, radiusM)
		if c.HasStructured {
			c.Structured = 0.5*c.RatingNorm + 0.5*distScore
		}

		score := w.Semantic*c.Semantic +
			w.Rating*c.RatingNorm +
			w.Distance*distScore +
			w.TagOverlap*c.TagOverlap +
			w.PaceFit*c.PaceFit
		if c.MustHave {
			score += w.MustHave
		}
		if c.MustNot {
			score -= w.MustNot
		}
		c.Score = score
	}

	travel.SortCandidates(candidates)
}

// Truncate deduplicates by place id preserving order and keeps at most k.
func Truncate(candidates []*travel.Candidate, k int) []*travel.Candidate {
	if k <= 0 {
		return nil
	}
	seen := make(map[string]bool, len(candidates))
	out := make([]*travel.Candidate, 0, min(k, len(candidates)))
	for _, c := range candidates {
		if seen[c.ID()] {
			continue
		}
		seen[c.ID()] = true
		out = append(out, c)
		if len(out) == k {
			break
		}
	}
	return out
}

// ratingNorm maps a nullable 0..5 rating into [0,1]; unrated places get a
// neutral-low prior instead of 0 so a missing rating is not a death
// sentence.
func ratingNorm(rating *float64) float64 {
	if rating == nil {
		return 0.3
	}
	return clamp(*rating/5, 0, 1)
}

func distanceScore(distanceM, radiusM float64) float64 {
	if radiusM <= 0 {
		return 0
	}
	return math.Max(0, 1-distanceM/radiusM)
}

func tagOverlap(place *store.Place, interests []string) float64 {
	if len(interests) == 0 {
		return 0
	}
	matched := 0
	for _, interest := range interests {
		if travel.TagsIntersect(place, []string{interest}) {
			matched++
		}
	}
	return float64(matched) / float64(len(interests))
}

// paceFit scores how a place's default stay suits the pace: relaxed
// rewards highly-rated places worth a long visit, intensive rewards
// compact stays, moderate is neutral.
func paceFit(pace travel.Pace, c *travel.Candidate) float64 {
	stayNorm := clamp(float64(c.StayMinutes())/120, 0, 1)
	switch pace {
	case travel.PaceRelaxed:
		return 0.5*c.RatingNorm + 0.5*stayNorm
	case travel.PaceIntensive:
		return 1 - stayNorm
	default:
		return 0.5
	}
}

func matchesMustHave(refs []travel.MustHaveRef, place *store.Place) bool {
	for _, ref := range refs {
		switch ref.Kind {
		case travel.RefID:
			if place.ID == ref.Value {
				return true
			}
		case travel.RefTerm:
			if travel.MatchesTerm(place, ref.Value) {
				return true
			}
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
