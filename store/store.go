package store

import (
	"context"

	"github.com/JohnnyHuang0515/TravelAI-sub001/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.driver.Ping(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) UpsertPlace(ctx context.Context, place *Place) (*Place, error) {
	return s.driver.UpsertPlace(ctx, place)
}

func (s *Store) FindPlaces(ctx context.Context, find *FindPlace) ([]*PlaceWithDistance, error) {
	return s.driver.FindPlaces(ctx, find)
}

func (s *Store) GetCityCentroid(ctx context.Context, city string) (float64, float64, error) {
	return s.driver.GetCityCentroid(ctx, city)
}

func (s *Store) ListOpeningIntervals(ctx context.Context, find *FindOpeningInterval) ([]*OpeningInterval, error) {
	return s.driver.ListOpeningIntervals(ctx, find)
}

func (s *Store) ReplaceOpeningIntervals(ctx context.Context, placeID string, intervals []*OpeningInterval) error {
	return s.driver.ReplaceOpeningIntervals(ctx, placeID, intervals)
}

// GetHours returns the opening intervals relevant to the given weekday,
// keyed by place id. Rows from the preceding weekday that wrap past
// midnight are included since their tail belongs to the requested day;
// callers normalize wraps before interval arithmetic.
func (s *Store) GetHours(ctx context.Context, placeIDs []string, weekday int32) (map[string][]*OpeningInterval, error) {
	day := weekday % 7
	sameDay, err := s.driver.ListOpeningIntervals(ctx, &FindOpeningInterval{PlaceIDs: placeIDs, Weekday: &day})
	if err != nil {
		return nil, err
	}
	prev := (day + 6) % 7
	prevDay, err := s.driver.ListOpeningIntervals(ctx, &FindOpeningInterval{PlaceIDs: placeIDs, Weekday: &prev})
	if err != nil {
		return nil, err
	}

	hours := make(map[string][]*OpeningInterval, len(placeIDs))
	for _, interval := range sameDay {
		hours[interval.PlaceID] = append(hours[interval.PlaceID], interval)
	}
	for _, interval := range prevDay {
		if interval.CloseMinute <= interval.OpenMinute {
			hours[interval.PlaceID] = append(hours[interval.PlaceID], interval)
		}
	}
	return hours, nil
}

func (s *Store) UpsertPlaceEmbedding(ctx context.Context, embedding *PlaceEmbedding) (*PlaceEmbedding, error) {
	return s.driver.UpsertPlaceEmbedding(ctx, embedding)
}

func (s *Store) SearchPlacesByVector(ctx context.Context, search *SearchPlacesByVector) ([]*PlaceWithSimilarity, error) {
	return s.driver.SearchPlacesByVector(ctx, search)
}

func (s *Store) FindPlacesWithoutEmbedding(ctx context.Context, find *FindPlacesWithoutEmbedding) ([]*Place, error) {
	return s.driver.FindPlacesWithoutEmbedding(ctx, find)
}

func (s *Store) UpsertConversationSession(ctx context.Context, upsert *UpsertConversationSession) (*ConversationSession, error) {
	return s.driver.UpsertConversationSession(ctx, upsert)
}

// GetConversationSession returns the persisted session with the given id,
// or nil when none exists.
func (s *Store) GetConversationSession(ctx context.Context, id string) (*ConversationSession, error) {
	list, err := s.driver.ListConversationSessions(ctx, &FindConversationSession{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListConversationSessions(ctx context.Context, find *FindConversationSession) ([]*ConversationSession, error) {
	return s.driver.ListConversationSessions(ctx, find)
}

func (s *Store) DeleteConversationSession(ctx context.Context, delete *DeleteConversationSession) error {
	return s.driver.DeleteConversationSession(ctx, delete)
}

func (s *Store) CreateFeedbackEvent(ctx context.Context, create *FeedbackEvent) (*FeedbackEvent, error) {
	return s.driver.CreateFeedbackEvent(ctx, create)
}

func (s *Store) ListFeedbackEvents(ctx context.Context, find *FindFeedbackEvent) ([]*FeedbackEvent, error) {
	return s.driver.ListFeedbackEvents(ctx, find)
}
