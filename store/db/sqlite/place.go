package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
)

const earthRadiusM = 6371000

// UpsertPlace inserts or updates a catalog place. Category and tag
// lists are stored as JSON text.
func (d *DB) UpsertPlace(ctx context.Context, place *store.Place) (*store.Place, error) {
	categories, err := encodeStringList(place.Categories)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode categories")
	}
	tags, err := encodeStringList(place.Tags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode tags")
	}

	stmt := `
		INSERT INTO place (id, name, city, lat, lng, categories, tags, stay_minutes, price_tier, rating, created_ts, updated_ts)
		VALUES (` + placeholders(12) + `)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			city = EXCLUDED.city,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			categories = EXCLUDED.categories,
			tags = EXCLUDED.tags,
			stay_minutes = EXCLUDED.stay_minutes,
			price_tier = EXCLUDED.price_tier,
			rating = EXCLUDED.rating,
			updated_ts = EXCLUDED.updated_ts
		RETURNING created_ts, updated_ts
	`

	now := time.Now().Unix()
	err = d.db.QueryRowContext(ctx, stmt,
		place.ID,
		place.Name,
		place.City,
		place.Lat,
		place.Lng,
		categories,
		tags,
		place.StayMinutes,
		place.PriceTier,
		place.Rating,
		now,
		now,
	).Scan(&place.CreatedTs, &place.UpdatedTs)

	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert place")
	}
	return place, nil
}

// FindPlaces runs the structured catalog query. SQLite has no
// great-circle functions, so a bounding box narrows the scan and the
// exact distance, ordering and limit are applied after decode.
func (d *DB) FindPlaces(ctx context.Context, find *store.FindPlace) ([]*store.PlaceWithDistance, error) {
	where, args := []string{"1 = 1"}, []any{}

	if len(find.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(find.IDs))+")")
		for _, id := range find.IDs {
			args = append(args, id)
		}
	}
	if find.City != nil {
		where, args = append(where, "city = ?"), append(args, *find.City)
	}
	// LIKE against the JSON encoding narrows the scan; the exact
	// overlap check happens after decode.
	if len(find.Categories) > 0 {
		clause, clauseArgs := likeAnyClause("categories", find.Categories)
		where, args = append(where, clause), append(args, clauseArgs...)
	}
	if len(find.Tags) > 0 {
		clause, clauseArgs := likeAnyClause("tags", find.Tags)
		where, args = append(where, clause), append(args, clauseArgs...)
	}
	if find.MinRating != nil {
		where, args = append(where, "rating >= ?"), append(args, *find.MinRating)
	}
	if find.MaxPrice != nil {
		// An unknown price tier passes the budget filter.
		where, args = append(where, "(price_tier IS NULL OR price_tier <= ?)"), append(args, *find.MaxPrice)
	}
	if find.Weekday != nil {
		open := "SELECT 1 FROM opening_interval oi WHERE oi.place_id = place.id AND oi.weekday = ?"
		args = append(args, *find.Weekday)
		if find.OpenAtMinute != nil {
			// A close at or before the open wraps past midnight and stays
			// open for the rest of the day.
			open += " AND oi.open_minute <= ? AND (oi.close_minute > ? OR oi.close_minute <= oi.open_minute)"
			args = append(args, *find.OpenAtMinute, *find.OpenAtMinute)
		}
		where = append(where, "EXISTS ("+open+")")
	}
	if find.CenterLat != nil && find.CenterLng != nil && find.RadiusM != nil {
		latDelta := *find.RadiusM / 111320.0
		cosLat := math.Cos(*find.CenterLat * math.Pi / 180)
		if cosLat < 1e-6 {
			cosLat = 1e-6
		}
		lngDelta := *find.RadiusM / (111320.0 * cosLat)
		where = append(where, "lat BETWEEN ? AND ?", "lng BETWEEN ? AND ?")
		args = append(args,
			*find.CenterLat-latDelta, *find.CenterLat+latDelta,
			*find.CenterLng-lngDelta, *find.CenterLng+lngDelta,
		)
	}

	query := `
		SELECT id, name, city, lat, lng, categories, tags, stay_minutes, price_tier, rating, created_ts, updated_ts
		FROM place
		WHERE ` + strings.Join(where, " AND ")

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find places")
	}
	defer rows.Close()

	list := []*store.PlaceWithDistance{}
	for rows.Next() {
		place := &store.Place{}
		result := &store.PlaceWithDistance{Place: place}
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

		if len(find.Categories) > 0 && !overlaps(place.Categories, find.Categories) {
			continue
		}
		if len(find.Tags) > 0 && !overlaps(place.Tags, find.Tags) {
			continue
		}
		if find.CenterLat != nil && find.CenterLng != nil {
			result.DistanceM = haversineM(*find.CenterLat, *find.CenterLng, place.Lat, place.Lng)
			if find.RadiusM != nil && result.DistanceM > *find.RadiusM {
				continue
			}
		}
		list = append(list, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].DistanceM != list[j].DistanceM {
			return list[i].DistanceM < list[j].DistanceM
		}
		ri, rj := ratingOrZero(list[i].Rating), ratingOrZero(list[j].Rating)
		if ri != rj {
			return ri > rj
		}
		return list[i].ID < list[j].ID
	})
	if find.Limit != nil && len(list) > *find.Limit {
		list = list[:*find.Limit]
	}
	return list, nil
}

// GetCityCentroid derives a city's anchor point from its catalog places.
// A city with no places is unknown.
func (d *DB) GetCityCentroid(ctx context.Context, city string) (float64, float64, error) {
	var lat, lng sql.NullFloat64
	err := d.db.QueryRowContext(ctx,
		"SELECT AVG(lat), AVG(lng) FROM place WHERE city = ?", city,
	).Scan(&lat, &lng)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get city centroid")
	}
	if !lat.Valid || !lng.Valid {
		return 0, 0, errors.Errorf("no places in city %q", city)
	}
	return lat.Float64, lng.Float64, nil
}

// ListOpeningIntervals lists weekly opening windows.
func (d *DB) ListOpeningIntervals(ctx context.Context, find *store.FindOpeningInterval) ([]*store.OpeningInterval, error) {
	where, args := []string{"1 = 1"}, []any{}

	if len(find.PlaceIDs) > 0 {
		where = append(where, "place_id IN ("+placeholders(len(find.PlaceIDs))+")")
		for _, id := range find.PlaceIDs {
			args = append(args, id)
		}
	}
	if find.Weekday != nil {
		where, args = append(where, "weekday = ?"), append(args, *find.Weekday)
	}

	query := `
		SELECT place_id, weekday, open_minute, close_minute
		FROM opening_interval
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY place_id, weekday, open_minute
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list opening intervals")
	}
	defer rows.Close()

	list := []*store.OpeningInterval{}
	for rows.Next() {
		var interval store.OpeningInterval
		if err := rows.Scan(&interval.PlaceID, &interval.Weekday, &interval.OpenMinute, &interval.CloseMinute); err != nil {
			return nil, errors.Wrap(err, "failed to scan opening interval")
		}
		list = append(list, &interval)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// ReplaceOpeningIntervals swaps a place's weekly windows in one
// transaction.
func (d *DB) ReplaceOpeningIntervals(ctx context.Context, placeID string, intervals []*store.OpeningInterval) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM opening_interval WHERE place_id = ?", placeID); err != nil {
		return errors.Wrap(err, "failed to clear opening intervals")
	}
	for _, interval := range intervals {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO opening_interval (place_id, weekday, open_minute, close_minute) VALUES ("+placeholders(4)+")",
			placeID, interval.Weekday, interval.OpenMinute, interval.CloseMinute,
		)
		if err != nil {
			return errors.Wrap(err, "failed to insert opening interval")
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit opening intervals")
}

// likeAnyClause matches rows whose JSON list column contains any of the
// given values. Each value is matched through its JSON encoding, so the
// quotes keep "art" from matching "mart".
func likeAnyClause(column string, values []string) (string, []any) {
	parts, args := make([]string, 0, len(values)), make([]any, 0, len(values))
	for _, v := range values {
		encoded, err := json.Marshal(v)
		if err != nil {
			continue
		}
		parts = append(parts, column+" LIKE ?")
		args = append(args, "%"+string(encoded)+"%")
	}
	if len(parts) == 0 {
		return "1 = 1", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func overlaps(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func ratingOrZero(rating *float64) float64 {
	if rating == nil {
		return 0
	}
	return *rating
}

func haversineM(lat1, lng1, lat2, lng2 float64) float64 {
	const rad = math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(a))
}

func encodeStringList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeStringList(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	return list, nil
}
