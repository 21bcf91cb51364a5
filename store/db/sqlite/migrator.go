package sqlite

import (
	"context"

	"github.com/pkg/errors"
)

// Migrate creates or upgrades the schema. Statements are idempotent so
// the migrator can run on every boot. Category and tag lists are stored
// as JSON text, embeddings as little-endian float32 BLOBs.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS place (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			city TEXT NOT NULL,
			lat REAL NOT NULL,
			lng REAL NOT NULL,
			categories TEXT NOT NULL DEFAULT '[]',
			tags TEXT NOT NULL DEFAULT '[]',
			stay_minutes INTEGER NOT NULL DEFAULT 60,
			price_tier INTEGER,
			rating REAL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_place_city ON place (city)`,
		`CREATE INDEX IF NOT EXISTS idx_place_city_location ON place (city, lat, lng)`,

		`CREATE TABLE IF NOT EXISTS opening_interval (
			place_id TEXT NOT NULL,
			weekday INTEGER NOT NULL,
			open_minute INTEGER NOT NULL,
			close_minute INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opening_interval_place_weekday ON opening_interval (place_id, weekday)`,

		`CREATE TABLE IF NOT EXISTS place_embedding (
			place_id TEXT NOT NULL,
			embedding BLOB NOT NULL,
			model TEXT NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			PRIMARY KEY (place_id, model)
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_session (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			slots TEXT NOT NULL DEFAULT '',
			turn INTEGER NOT NULL DEFAULT 0,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_session_updated ON conversation_session (updated_ts)`,

		`CREATE TABLE IF NOT EXISTS feedback_event (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			target_place_id TEXT,
			other_place_id TEXT,
			target_day INTEGER,
			reason TEXT NOT NULL DEFAULT '',
			created_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_event_session ON feedback_event (session_id, created_ts)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to migrate schema")
		}
	}
	return nil
}
