package sqlite

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
)

// Embeddings are stored as little-endian float32 BLOBs and ranked in
// Go. The scan is bounded by an over-fetch factor, so recall degrades
// gracefully on very large catalogs instead of the query degrading.
const vectorCandidateFactor = 5
const vectorCandidateCap = 500

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
	err := d.db.QueryRowContext(ctx, stmt,
		embedding.PlaceID,
		encodeVector(embedding.Embedding),
		embedding.Model,
		now,
		now,
	).Scan(&embedding.CreatedTs, &embedding.UpdatedTs)

	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert place embedding")
	}
	return embedding, nil
}

// SearchPlacesByVector ranks candidate embeddings by cosine similarity
// in Go. Candidates are drawn best-rated first, then the top matches
// are kept. Similarity is clamped into [0, 1].
func (d *DB) SearchPlacesByVector(ctx context.Context, search *store.SearchPlacesByVector) ([]*store.PlaceWithSimilarity, error) {
	limit := search.Limit
	if limit <= 0 {
		limit = 10
	}
	candidates := limit * vectorCandidateFactor
	if candidates > vectorCandidateCap {
		candidates = vectorCandidateCap
	}

	where, args := []string{"e.model = ?"}, []any{search.Model}
	if search.City != nil {
		where, args = append(where, "p.city = ?"), append(args, *search.City)
	}
	args = append(args, candidates)

	query := `
		SELECT p.id, p.name, p.city, p.lat, p.lng, p.categories, p.tags, p.stay_minutes, p.price_tier, p.rating, p.created_ts, p.updated_ts,
			e.embedding
		FROM place p
		INNER JOIN place_embedding e ON p.id = e.place_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY p.rating DESC NULLS LAST, p.id ASC
		LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search places by vector")
	}
	defer rows.Close()

	list := []*store.PlaceWithSimilarity{}
	for rows.Next() {
		place := &store.Place{}
		result := &store.PlaceWithSimilarity{Place: place}
		var categories, tags string
		var blob []byte
		err := rows.Scan(
			&place.ID,
			&place.Name,
			&place.City,
			&place.Lat,
			&place.Lng,
			&categories,
			&tags,
			&place.StayMinutes,
			&place.PriceTier,
			&place.Rating,
			&place.CreatedTs,
			&place.UpdatedTs,
			&blob,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan vector search result")
		}
		if place.Categories, err = decodeStringList(categories); err != nil {
			return nil, errors.Wrap(err, "failed to decode categories")
		}
		if place.Tags, err = decodeStringList(tags); err != nil {
			return nil, errors.Wrap(err, "failed to decode tags")
		}

		vector, err := decodeVector(blob)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode embedding for place %s", place.ID)
		}
		if len(vector) != len(search.Vector) {
			continue
		}
		result.Similarity = cosineSimilarity(search.Vector, vector)
		if result.Similarity < 0 {
			result.Similarity = 0
		}
		list = append(list, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Similarity != list[j].Similarity {
			return list[i].Similarity > list[j].Similarity
		}
		return list[i].ID < list[j].ID
	})
	if len(list) > limit {
		list = list[:limit]
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
		LEFT JOIN place_embedding e ON p.id = e.place_id AND e.model = ?
		WHERE e.place_id IS NULL
		ORDER BY p.created_ts DESC
		LIMIT ?
	`

	rows, err := d.db.QueryContext(ctx, query, find.Model, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find places without embedding")
	}
	defer rows.Close()

	list := []*store.Place{}
	for rows.Next() {
		place := &store.Place{}
		var categories, tags string
		err := rows.Scan(
			&place.ID,
			&place.Name,
			&place.City,
			&place.Lat,
			&place.Lng,
			&categories,
			&tags,
			&place.StayMinutes,
			&place.PriceTier,
			&place.Rating,
			&place.CreatedTs,
			&place.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan place")
		}
		if place.Categories, err = decodeStringList(categories); err != nil {
			return nil, errors.Wrap(err, "failed to decode categories")
		}
		if place.Tags, err = decodeStringList(tags); err != nil {
			return nil, errors.Wrap(err, "failed to decode tags")
		}
		list = append(list, place)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func encodeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.Errorf("invalid embedding blob length %d", len(blob))
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4 : i*4+4]))
	}
	return vector, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
