package migrations

import "time"

// ArchiveConfig adds the key/value threshold table read at every job run
var ArchiveConfig = &Migration{
	ID:   "002_archive_config",
	Name: "002_archive_config",
	UpSQL: `
	CREATE TABLE IF NOT EXISTS archive_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	INSERT INTO archive_config (key, value) VALUES
		('inactivity_threshold', '30m'),
		('hot.max_age', '24h'),
		('hot.emergency_cap', '0'),
		('warm.delay', '0s'),
		('warm.retention', '90d'),
		('cold.age', '7d'),
		('cold.target_count', '100'),
		('cold.span_window', '1h'),
		('cold.retention', '365d'),
		('archive.retention', '730d'),
		('batch_size', '5000')
	ON CONFLICT (key) DO NOTHING;
	`,
	DownSQL: `
	DROP TABLE IF EXISTS archive_config;
	`,
	CreatedAt: time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
}
