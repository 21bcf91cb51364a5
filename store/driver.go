package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for database drivers.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates or upgrades the schema. It is idempotent.
	Migrate(ctx context.Context) error
	IsInitialized(ctx context.Context) (bool, error)
	Ping(ctx context.Context) error

	// Catalog.
	UpsertPlace(ctx context.Context, place *Place) (*Place, error)
	FindPlaces(ctx context.Context, find *FindPlace) ([]*PlaceWithDistance, error)
	GetCityCentroid(ctx context.Context, city string) (lat, lng float64, err error)
	ListOpeningIntervals(ctx context.Context, find *FindOpeningInterval) ([]*OpeningInterval, error)
	ReplaceOpeningIntervals(ctx context.Context, placeID string, intervals []*OpeningInterval) error

	// Vector index.
	UpsertPlaceEmbedding(ctx context.Context, embedding *PlaceEmbedding) (*PlaceEmbedding, error)
	SearchPlacesByVector(ctx context.Context, search *SearchPlacesByVector) ([]*PlaceWithSimilarity, error)
	FindPlacesWithoutEmbedding(ctx context.Context, find *FindPlacesWithoutEmbedding) ([]*Place, error)

	// Sessions.
	UpsertConversationSession(ctx context.Context, upsert *UpsertConversationSession) (*ConversationSession, error)
	ListConversationSessions(ctx context.Context, find *FindConversationSession) ([]*ConversationSession, error)
	DeleteConversationSession(ctx context.Context, delete *DeleteConversationSession) error

	// Feedback log.
	CreateFeedbackEvent(ctx context.Context, create *FeedbackEvent) (*FeedbackEvent, error)
	ListFeedbackEvents(ctx context.Context, find *FindFeedbackEvent) ([]*FeedbackEvent, error)
}
