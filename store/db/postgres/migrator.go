package postgres

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

const defaultEmbeddingDim = 1024

// Migrate creates or upgrades the schema. Statements are idempotent so
// the migrator can run on every boot.
func (d *DB) Migrate(ctx context.Context) error {
	dim := d.profile.EmbeddingDim
	if dim <= 0 {
		dim = defaultEmbeddingDim
	}

	// The embedding index needs the pgvector extension. Creating it
	// requires superuser on most installations, so a failure names the
	// fix instead of surfacing a bare SQL error later.
	if _, err := d.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return errors.Wrap(err, "pgvector extension unavailable; install it or run CREATE EXTENSION vector as a superuser")
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS place (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			city TEXT NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			categories TEXT[] NOT NULL DEFAULT '{}',
			tags TEXT[] NOT NULL DEFAULT '{}',
			stay_minutes INTEGER NOT NULL DEFAULT 60,
			price_tier INTEGER,
			rating DOUBLE PRECISION,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_place_city ON place (city)`,
		`CREATE INDEX IF NOT EXISTS idx_place_city_location ON place (city, lat, lng)`,

		`CREATE TABLE IF NOT EXISTS opening_interval (
			place_id TEXT NOT NULL REFERENCES place (id) ON DELETE CASCADE,
			weekday INTEGER NOT NULL,
			open_minute INTEGER NOT NULL,
			close_minute INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opening_interval_place_weekday ON opening_interval (place_id, weekday)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS place_embedding (
			place_id TEXT NOT NULL REFERENCES place (id) ON DELETE CASCADE,
			embedding vector(%d) NOT NULL,
			model TEXT NOT NULL,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL,
			PRIMARY KEY (place_id, model)
		)`, dim),

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
			return errors.Wrapf(err, "failed to migrate schema: %s", firstLine(stmt))
		}
	}
	return nil
}

func firstLine(stmt string) string {
	for i, r := range stmt {
		if r == '\n' {
			return stmt[:i]
		}
	}
	return stmt
}
