// Package retrieve implements hybrid candidate retrieval: a structured
// spatial/attribute branch and a semantic vector branch run concurrently,
// fused by place id, and reranked into a deterministic top-K.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JohnnyHuang0515/TravelAI-sub001/ai"
	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/metrics"
)

// Options bound the retrieval fan-out.
type Options struct {
	StructuredLimit int
	SemanticLimit   int
	TopK            int
	RadiusM         float64
	BranchTimeout   time.Duration
	Weights         travel.WeightTable
	EmbeddingModel  string
}

func (o *Options) normalize() {
	if o.StructuredLimit <= 0 {
		o.StructuredLimit = 128
	}
	if o.SemanticLimit <= 0 {
		o.SemanticLimit = 128
	}
	if o.TopK <= 0 {
		o.TopK = 64
	}
	if o.RadiusM <= 0 {
		o.RadiusM = 15000
	}
	if o.BranchTimeout <= 0 {
		o.BranchTimeout = 3 * time.Second
	}
	if o.Weights == nil {
		o.Weights = travel.DefaultWeightTable()
	}
}

// Result carries the reranked candidates. Partial marks that one branch
// failed or timed out, so the set is thinner than it should be.
type Result struct {
	Candidates []*travel.Candidate
	Partial    bool
}

// Retriever fans a story out to both branches and reranks the fused set.
type Retriever struct {
	store     *store.Store
	embedding ai.EmbeddingService // nil disables the semantic branch
	exp       *metrics.Exporter
	opts      Options
}

// NewRetriever creates a retriever. embedding may be nil, in which case
// only the structured branch runs.
func NewRetriever(st *store.Store, embedding ai.EmbeddingService, exporter *metrics.Exporter, opts Options) *Retriever {
	opts.normalize()
	return &Retriever{
		store:     st,
		embedding: embedding,
		exp:       exporter,
		opts:      opts,
	}
}

// Retrieve runs both branches under independent deadlines. One branch
// failing degrades to the other with a partial flag; both failing is an
// environmental error. An empty fused set maps to ErrNoCandidates.
func (r *Retriever) Retrieve(ctx context.Context, story *travel.Story) (*Result, error) {
	var (
		structured    []*store.PlaceWithDistance
		structuredErr error
		semantic      []*store.PlaceWithSimilarity
		semanticErr   error
	)

	semanticEnabled := r.embedding != nil

	g := new(errgroup.Group)
	g.Go(func() error {
		bctx, cancel := context.WithTimeout(ctx, r.opts.BranchTimeout)
		defer cancel()
		structured, structuredErr = r.structuredSearch(bctx, story)
		return nil
	})
	if semanticEnabled {
		g.Go(func() error {
			bctx, cancel := context.WithTimeout(ctx, r.opts.BranchTimeout)
			defer cancel()
			semantic, semanticErr = r.semanticSearch(bctx, story)
			return nil
		})
	}
	_ = g.Wait()

	if structuredErr != nil && (!semanticEnabled || semanticErr != nil) {
		return nil, fmt.Errorf("%w: structured=%v, semantic=%v", travel.ErrBackendUnavailable, structuredErr, semanticErr)
	}

	partial := false
	if structuredErr != nil {
		r.noteBranchFailure("structured", structuredErr)
		partial = true
	}
	if semanticErr != nil {
		r.noteBranchFailure("semantic", semanticErr)
		partial = true
	}
	if r.exp != nil {
		r.exp.RecordBranchCandidates("structured", len(structured))
		if semanticEnabled {
			r.exp.RecordBranchCandidates("semantic", len(semantic))
		}
	}

	candidates := fuse(story, structured, semantic)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no places matched in %q", travel.ErrNoCandidates, story.Destination)
	}

	Rerank(story, candidates, r.opts.Weights, r.opts.RadiusM)
	return &Result{
		Candidates: Truncate(candidates, r.opts.TopK),
		Partial:    partial,
	}, nil
}

// RetrieveNear reruns the structured branch around an arbitrary center
// with a caller-chosen radius. The planner's repair ladder uses it to
// refill candidates for a blocking slot.
func (r *Retriever) RetrieveNear(ctx context.Context, story *travel.Story, center travel.GeoPoint, radiusM float64) ([]*travel.Candidate, error) {
	bctx, cancel := context.WithTimeout(ctx, r.opts.BranchTimeout)
	defer cancel()

	limit := r.opts.StructuredLimit
	find := &store.FindPlace{
		City:      &story.Destination,
		CenterLat: &center.Lat,
		CenterLng: &center.Lng,
		RadiusM:   &radiusM,
		Tags:      story.Interests,
		Limit:     &limit,
	}
	places, err := r.store.FindPlaces(bctx, find)
	if err != nil {
		return nil, fmt.Errorf("refill search: %w", err)
	}

	candidates := fuse(story, places, nil)
	Rerank(story, candidates, r.opts.Weights, radiusM)
	return Truncate(candidates, r.opts.TopK), nil
}

// resolveLimit bounds candidates returned per insert query. Insert
// resolution grows the candidate pool and re-resolves the travel
// matrix, so the hit list stays small.
const resolveLimit = 8

// ResolveQuery embeds a free-text place description and returns the
// nearest catalog matches. The feedback engine uses it to resolve
// insert requests the current pool cannot satisfy. Without an embedding
// service it returns nothing and the caller falls back to tag search.
func (r *Retriever) ResolveQuery(ctx context.Context, story *travel.Story, query string) ([]*travel.Candidate, error) {
	if r.embedding == nil {
		return nil, nil
	}
	bctx, cancel := context.WithTimeout(ctx, r.opts.BranchTimeout)
	defer cancel()

	vector, err := r.embedding.Embed(bctx, query+", in "+story.Destination)
	if err != nil {
		return nil, fmt.Errorf("embed insert query: %w", err)
	}
	hits, err := r.store.SearchPlacesByVector(bctx, &store.SearchPlacesByVector{
		Vector: vector,
		Model:  r.opts.EmbeddingModel,
		City:   &story.Destination,
		Limit:  resolveLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("insert query search: %w", err)
	}
	return fuse(story, nil, hits), nil
}

func (r *Retriever) structuredSearch(ctx context.Context, story *travel.Story) ([]*store.PlaceWithDistance, error) {
	weekday := int32(story.WeekdayOf(0))
	limit := r.opts.StructuredLimit
	radius := r.opts.RadiusM

	find := &store.FindPlace{
		City:      &story.Destination,
		CenterLat: &story.Anchor.Lat,
		CenterLng: &story.Anchor.Lng,
		RadiusM:   &radius,
		Tags:      story.Interests,
		Weekday:   &weekday,
		Limit:     &limit,
	}
	if story.Budget > 0 {
		maxPrice := int32(story.Budget)
		find.MaxPrice = &maxPrice
	}
	return r.store.FindPlaces(ctx, find)
}

func (r *Retriever) semanticSearch(ctx context.Context, story *travel.Story) ([]*store.PlaceWithSimilarity, error) {
	vector, err := r.embedding.Embed(ctx, storyProjection(story))
	if err != nil {
		return nil, fmt.Errorf("embed story: %w", err)
	}
	return r.store.SearchPlacesByVector(ctx, &store.SearchPlacesByVector{
		Vector: vector,
		Model:  r.opts.EmbeddingModel,
		City:   &story.Destination,
		Limit:  r.opts.SemanticLimit,
	})
}

func (r *Retriever) noteBranchFailure(branch string, err error) {
	slog.Warn("retrieval branch failed, degrading", "branch", branch, "error", err)
	if r.exp != nil && errors.Is(err, context.DeadlineExceeded) {
		r.exp.RecordBranchTimeout(branch)
	}
}

// storyProjection flattens the story into the text embedded for the
// semantic branch.
func storyProjection(story *travel.Story) string {
	parts := make([]string, 0, len(story.Interests)+2)
	parts = append(parts, story.Destination)
	parts = append(parts, story.Interests...)
	switch story.Pace {
	case travel.PaceRelaxed:
		parts = append(parts, "relaxed sightseeing with unhurried stops")
	case travel.PaceIntensive:
		parts = append(parts, "packed schedule covering many stops")
	default:
		parts = append(parts, "balanced day of sightseeing")
	}
	return strings.Join(parts, ", ")
}

// PlaceProjection flattens a catalog place into the text its stored
// embedding is computed from. The seeding path must use this so place
// vectors and story vectors live in the same space.
func PlaceProjection(place *store.Place) string {
	parts := make([]string, 0, len(place.Categories)+len(place.Tags)+2)
	parts = append(parts, place.Name)
	parts = append(parts, place.Categories...)
	parts = append(parts, place.Tags...)
	parts = append(parts, "in "+place.City)
	return strings.Join(parts, ", ")
}

// fuse unions both branch results by place id. Fusion never drops a
// place: a semantic-only hit gets its distance computed from the anchor,
// a structured-only hit keeps semantic 0.
func fuse(story *travel.Story, structured []*store.PlaceWithDistance, semantic []*store.PlaceWithSimilarity) []*travel.Candidate {
	byID := make(map[string]*travel.Candidate, len(structured)+len(semantic))
	candidates := make([]*travel.Candidate, 0, len(structured)+len(semantic))

	for _, p := range structured {
		if _, ok := byID[p.ID]; ok {
			continue
		}
		c := &travel.Candidate{
			Place:         p.Place,
			HasStructured: true,
			DistanceM:     p.DistanceM,
		}
		byID[p.ID] = c
		candidates = append(candidates, c)
	}

	for _, p := range semantic {
		if c, ok := byID[p.ID]; ok {
			c.Semantic = p.Similarity
			c.HasSemantic = true
			continue
		}
		c := &travel.Candidate{
			Place:       p.Place,
			Semantic:    p.Similarity,
			HasSemantic: true,
			DistanceM:   travel.HaversineM(story.Anchor, travel.GeoPoint{Lat: p.Lat, Lng: p.Lng}),
		}
		byID[p.ID] = c
		candidates = append(candidates, c)
	}

	return candidates
}
