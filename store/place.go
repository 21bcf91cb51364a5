package store

// Place is a catalog entry: a visitable point of interest with its
// attributes. The catalog is read-mostly; writes happen only through
// seeding and enrichment jobs.
type Place struct {
	ID          string
	Name        string
	City        string
	Lat         float64
	Lng         float64
	Categories  []string
	Tags        []string
	StayMinutes int32
	PriceTier   *int32   // 1..5, nil when unknown
	Rating      *float64 // 0.0..5.0, nil when unrated
	CreatedTs   int64
	UpdatedTs   int64
}

// OpeningInterval is one weekly opening window of a place.
// Weekday domain is 0=Sunday..6=Saturday. CloseMinute <= OpenMinute
// means the window wraps past midnight into the next weekday.
type OpeningInterval struct {
	PlaceID     string
	Weekday     int32
	OpenMinute  int32
	CloseMinute int32
}

// FindPlace is the filter for catalog queries. Spatial filtering uses a
// great-circle radius around the center; category and tag filters match
// on set overlap.
type FindPlace struct {
	IDs        []string
	City       *string
	CenterLat  *float64
	CenterLng  *float64
	RadiusM    *float64
	Categories []string
	Tags       []string
	MinRating  *float64
	MaxPrice   *int32
	// Weekday restricts results to places with at least one opening
	// interval on that weekday; OpenAtMinute additionally requires the
	// interval to contain the minute.
	Weekday      *int32
	OpenAtMinute *int32
	Limit        *int
}

// PlaceWithDistance pairs a place with its distance to the query center.
type PlaceWithDistance struct {
	*Place
	DistanceM float64
}

// FindOpeningInterval filters opening intervals by place and weekday.
type FindOpeningInterval struct {
	PlaceIDs []string
	Weekday  *int32
}

// PlaceEmbedding is the vector representation of a place description,
// used by the semantic retrieval branch.
type PlaceEmbedding struct {
	PlaceID   string
	Embedding []float32
	Model     string
	CreatedTs int64
	UpdatedTs int64
}

// SearchPlacesByVector is the nearest-neighbor query over place embeddings.
type SearchPlacesByVector struct {
	Vector []float32
	Model  string
	City   *string
	Limit  int
}

// PlaceWithSimilarity pairs a place with its cosine similarity to the
// query vector, normalized into [0, 1].
type PlaceWithSimilarity struct {
	*Place
	Similarity float64
}

// FindPlacesWithoutEmbedding selects places missing an embedding for the
// given model, used by the seeding path.
type FindPlacesWithoutEmbedding struct {
	Model string
	Limit int
}
