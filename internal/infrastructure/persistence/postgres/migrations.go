package postgres

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_experiments",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_assignments",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_events",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}

// Experiments are stored as one row per aggregate. The variable-shape parts
// (variants, metrics, segmentation, schedule, statistical config, results)
// live in JSONB columns since they are read and written as a whole.
const migration001Up = `
CREATE TABLE IF NOT EXISTS experiments (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	type          TEXT NOT NULL,
	status        TEXT NOT NULL,
	variants      JSONB NOT NULL,
	metrics       JSONB NOT NULL,
	segmentation  JSONB NOT NULL DEFAULT '[]',
	allocation    JSONB NOT NULL DEFAULT '{}',
	schedule      JSONB NOT NULL DEFAULT '{}',
	statistical   JSONB NOT NULL DEFAULT '{}',
	results       JSONB,
	stop_reason   TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	ended_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);
`

const migration001Down = `
DROP TABLE IF EXISTS experiments;
`

// The unique index on (user_id, experiment_id) is what makes Upsert a
// single-writer-wins operation.
const migration002Up = `
CREATE TABLE IF NOT EXISTS assignments (
	user_id       TEXT NOT NULL,
	experiment_id TEXT NOT NULL,
	variant_id    TEXT NOT NULL,
	bucket_hash   DOUBLE PRECISION NOT NULL,
	assigned_at   TIMESTAMPTZ NOT NULL,
	exposures     JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (user_id, experiment_id)
);

CREATE INDEX IF NOT EXISTS idx_assignments_experiment ON assignments(experiment_id);
`

const migration002Down = `
DROP TABLE IF EXISTS assignments;
`

const migration003Up = `
CREATE TABLE IF NOT EXISTS events (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	experiment_id TEXT NOT NULL,
	variant_id    TEXT NOT NULL,
	name          TEXT NOT NULL,
	value         DOUBLE PRECISION NOT NULL DEFAULT 0,
	properties    JSONB NOT NULL DEFAULT '{}',
	occurred_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_experiment ON events(experiment_id);
CREATE INDEX IF NOT EXISTS idx_events_experiment_name ON events(experiment_id, name);
`

const migration003Down = `
DROP TABLE IF EXISTS events;
`
