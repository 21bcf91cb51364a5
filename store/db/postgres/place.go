package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
)

// UpsertPlace inserts or updates a catalog place.
func (d *DB) UpsertPlace(ctx context.Context, place *store.Place) (*store.Place, error) {
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
	err := d.db.QueryRowContext(ctx, stmt,
		place.ID,
		place.Name,
		place.City,
		place.Lat,
		place.Lng,
		pq.Array(place.Categories),
		pq.Array(place.Tags),
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

// FindPlaces runs the structured catalog query: great-circle radius
// around the center, category/tag overlap, opening-hours prefilter,
// rating and price bounds. Ordering is deterministic: distance first
// when a center is given, then rating, then id.
func (d *DB) FindPlaces(ctx context.Context, find *store.FindPlace) ([]*store.PlaceWithDistance, error) {
	where, args := []string{"1 = 1"}, []any{}

	if len(find.IDs) > 0 {
		where, args = append(where, "id = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(find.IDs))
	}
	if find.City != nil {
		where, args = append(where, "city = "+placeholder(len(args)+1)), append(args, *find.City)
	}
	if len(find.Categories) > 0 {
		where, args = append(where, "categories && "+placeholder(len(args)+1)), append(args, pq.Array(find.Categories))
	}
	if len(find.Tags) > 0 {
		where, args = append(where, "tags && "+placeholder(len(args)+1)), append(args, pq.Array(find.Tags))
	}
	if find.MinRating != nil {
		where, args = append(where, "rating >= "+placeholder(len(args)+1)), append(args, *find.MinRating)
	}
	if find.MaxPrice != nil {
		// An unknown price tier passes the budget filter.
		where, args = append(where, "(price_tier IS NULL OR price_tier <= "+placeholder(len(args)+1)+")"), append(args, *find.MaxPrice)
	}
	if find.Weekday != nil {
		open := "SELECT 1 FROM opening_interval oi WHERE oi.place_id = place.id AND oi.weekday = " + placeholder(len(args)+1)
		args = append(args, *find.Weekday)
		if find.OpenAtMinute != nil {
			// A close at or before the open wraps past midnight and stays
			// open for the rest of the day.
			m := placeholder(len(args) + 1)
			args = append(args, *find.OpenAtMinute)
			open += fmt.Sprintf(" AND oi.open_minute <= %[1]s AND (oi.close_minute > %[1]s OR oi.close_minute <= oi.open_minute)", m)
		}
		where = append(where, "EXISTS ("+open+")")
	}

	distance := "0::double precision"
	if find.CenterLat != nil && find.CenterLng != nil {
		latP := placeholder(len(args) + 1)
		args = append(args, *find.CenterLat)
		lngP := placeholder(len(args) + 1)
		args = append(args, *find.CenterLng)
		distance = fmt.Sprintf(
			"2 * 6371000 * asin(sqrt(power(sin(radians(lat - %[1]s) / 2), 2) + cos(radians(%[1]s)) * cos(radians(lat)) * power(sin(radians(lng - %[2]s) / 2), 2)))",
			latP, lngP)
		if find.RadiusM != nil {
			where, args = append(where, distance+" <= "+placeholder(len(args)+1)), append(args, *find.RadiusM)
		}
	}

	query := `
		SELECT id, name, city, lat, lng, categories, tags, stay_minutes, price_tier, rating, created_ts, updated_ts,
			` + distance + ` AS distance_m
		FROM place
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY distance_m ASC, rating DESC NULLS LAST, id ASC
	`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find places")
	}
	defer rows.Close()

	list := []*store.PlaceWithDistance{}
	for rows.Next() {
		place := &store.Place{}
		result := &store.PlaceWithDistance{Place: place}
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
			&result.DistanceM,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan place")
		}
		list = append(list, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// GetCityCentroid derives a city's anchor point from its catalog places.
// A city with no places is unknown.
func (d *DB) GetCityCentroid(ctx context.Context, city string) (float64, float64, error) {
	var lat, lng sql.NullFloat64
	err := d.db.QueryRowContext(ctx,
		"SELECT AVG(lat), AVG(lng) FROM place WHERE city = "+placeholder(1), city,
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
		where, args = append(where, "place_id = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(find.PlaceIDs))
	}
	if find.Weekday != nil {
		where, args = append(where, "weekday = "+placeholder(len(args)+1)), append(args, *find.Weekday)
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

	if _, err := tx.ExecContext(ctx, "DELETE FROM opening_interval WHERE place_id = "+placeholder(1), placeID); err != nil {
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
