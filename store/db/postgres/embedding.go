package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
)

// UpsertPlaceEmbedding inserts or updates a place embedding.
func (d *DB) UpsertPlaceEmbedding(ctx context.Context, embedding *store.PlaceEmbedding) (*store.PlaceEmbedding, error) {
	stmt := `
		INSERT INTO place_embedding (place_id, embedding, model, created_ts, updated_ts)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (place_id, model)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			updated_ts = EXCLUDED.updated_ts
		RETURNING created_ts, updated_ts
	`

	now := time.Now().Unix()
	vector := pgvector.NewVector(embedding.Embedding)
	err := d.db.QueryRowContext(ctx, stmt,
		embedding.PlaceID,
		vector,
		embedding.Model,
		now,
		now,
	).Scan(&embedding.CreatedTs, &embedding.UpdatedTs)

	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert place embedding")
	}
	return embedding, nil
}

// SearchPlacesByVector runs nearest-neighbor search over the embedding
// index. The <=> operator computes cosine distance, so similarity is
// 1 - distance, clamped into [0, 1].
func (d *DB) SearchPlacesByVector(ctx context.Context, search *store.SearchPlacesByVector) ([]*store.PlaceWithSimilarity, error) {
	limit := search.Limit
	if limit <= 0 {
		limit = 10
	}

	where, args := []string{"e.model = " + placeholder(1)}, []any{search.Model}
	if search.City != nil {
		where, args = append(where, "p.city = "+placeholder(len(args)+1)), append(args, *search.City)
	}

	vector := pgvector.NewVector(search.Vector)
	scoreP := placeholder(len(args) + 1)
	args = append(args, vector)
	orderP := placeholder(len(args) + 1)
	args = append(args, vector)
	limitP := placeholder(len(args) + 1)
	args = append(args, limit)

	query := `
		SELECT p.id, p.name, p.city, p.lat, p.lng, p.categories, p.tags, p.stay_minutes, p.price_tier, p.rating, p.created_ts, p.updated_ts,
			1 - (e.embedding <=> ` + scoreP + `) AS similarity
		FROM place p
		INNER JOIN place_embedding e ON p.id = e.place_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY e.embedding <=> ` + orderP + `
		LIMIT ` + limitP

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search places by vector")
	}
	defer rows.Close()

	list := []*store.PlaceWithSimilarity{}
	for rows.Next() {
		place := &store.Place{}
		result := &store.PlaceWithSimilarity{Place: place}
		err := rows.Scan(
			&place.ID,
			&place.Name,
			&place.City,
			&place.Lat,
			&place.Lng,
			pq.Array(&place.Categories),
			pq.Array(&place.Tags),
			&place.StayMinutes,
			&place.PriceTier,
			&place.Rating,
			&place.CreatedTs,
			&place.UpdatedTs,
			&result.Similarity,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan vector search result")
		}
		if result.Similarity < 0 {
			result.Similarity = 0
		}
		list = append(list, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// FindPlacesWithoutEmbedding finds places missing an embedding for the
// given model, newest first. The seeding path drains this set.
func (d *DB) FindPlacesWithoutEmbedding(ctx context.Context, find *store.FindPlacesWithoutEmbedding) ([]*store.Place, error) {
	limit := find.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT p.id, p.name, p.city, p.lat, p.lng, p.categories, p.tags, p.stay_minutes, p.price_tier, p.rating, p.created_ts, p.updated_ts
		FROM place p
		LEFT JOIN place_embedding e ON p.id = e.place_id AND e.model = ` + placeholder(1) + `
		WHERE e.place_id IS NULL
		ORDER BY p.created_ts DESC
		LIMIT ` + placeholder(2)

	rows, err := d.db.QueryContext(ctx, query, find.Model, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find places without embedding")
	}
	defer rows.Close()

	list := []*store.Place{}
	for rows.Next() {
		place := &store.Place{}
		err := rows.Scan(
			&place.ID,
			&place.Name,
			&place.City,
			&place.Lat,
			&place.Lng,
			pq.Array(&place.Categories),
			pq.Array(&place.Tags),
			&place.StayMinutes,
			&place.PriceTier,
			&place.Rating,
			&place.CreatedTs,
			&place.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan place")
		}
		list = append(list, place)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
