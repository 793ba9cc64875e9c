package migrations

import "time"

// InitialSchema creates the flight tables, the three trajectory tiers and the job log
var InitialSchema = &Migration{
	ID:   "001_initial_schema",
	Name: "001_initial_schema",
	UpSQL: `
		-- Active flight sessions
		CREATE TABLE IF NOT EXISTS flight_core (
			flight_uid TEXT PRIMARY KEY,
			callsign TEXT NOT NULL,
			first_seen_utc TIMESTAMPTZ NOT NULL,
			last_seen_utc TIMESTAMPTZ NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			altitude_ft INTEGER,
			groundspeed_kts INTEGER,
			heading_deg INTEGER,
			vertical_rate_fpm INTEGER,
			dept_icao TEXT,
			dest_icao TEXT,
			aircraft_type TEXT,
			squawk TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_flight_core_callsign ON flight_core (callsign, last_seen_utc DESC);
		CREATE INDEX IF NOT EXISTS idx_flight_core_last_seen ON flight_core (last_seen_utc);

		-- Completed flights, one row per flight_uid ever
		CREATE TABLE IF NOT EXISTS flight_archive (
			flight_uid TEXT PRIMARY KEY,
			callsign TEXT NOT NULL,
			first_seen_utc TIMESTAMPTZ NOT NULL,
			last_seen_utc TIMESTAMPTZ NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			altitude_ft INTEGER,
			groundspeed_kts INTEGER,
			heading_deg INTEGER,
			vertical_rate_fpm INTEGER,
			dept_icao TEXT,
			dest_icao TEXT,
			aircraft_type TEXT,
			squawk TEXT,
			archived_utc TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_flight_archive_callsign ON flight_archive (callsign, last_seen_utc DESC);
		CREATE INDEX IF NOT EXISTS idx_flight_archive_archived ON flight_archive (archived_utc);

		-- Full resolution trajectory of recent flights
		CREATE TABLE IF NOT EXISTS trajectory_hot (
			flight_uid TEXT NOT NULL,
			recorded_utc TIMESTAMPTZ NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			altitude_ft INTEGER,
			groundspeed_kts INTEGER,
			heading_deg INTEGER,
			vertical_rate_fpm INTEGER,
			PRIMARY KEY (flight_uid, recorded_utc)
		);

		CREATE INDEX IF NOT EXISTS idx_trajectory_hot_recorded ON trajectory_hot (recorded_utc);

		-- Warm and cold tiers share one table, tagged by source_tier
		CREATE TABLE IF NOT EXISTS trajectory_archive (
			flight_uid TEXT NOT NULL,
			timestamp_utc TIMESTAMPTZ NOT NULL,
			source_tier TEXT NOT NULL CHECK (source_tier IN ('WARM', 'COLD')),
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			altitude_ft INTEGER,
			groundspeed_kts INTEGER,
			heading_deg INTEGER,
			vertical_rate_fpm INTEGER,
			PRIMARY KEY (flight_uid, timestamp_utc, source_tier)
		);

		CREATE INDEX IF NOT EXISTS idx_trajectory_archive_tier_ts ON trajectory_archive (source_tier, timestamp_utc);

		CREATE TABLE IF NOT EXISTS flight_changelog (
			id BIGSERIAL PRIMARY KEY,
			flight_uid TEXT NOT NULL,
			field TEXT NOT NULL,
			old_value TEXT,
			new_value TEXT,
			ts TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_flight_changelog_flight ON flight_changelog (flight_uid, ts);

		CREATE TABLE IF NOT EXISTS archive_log (
			id BIGSERIAL PRIMARY KEY,
			job_name TEXT NOT NULL,
			run_time TIMESTAMPTZ NOT NULL,
			rows_affected BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			detail TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_archive_log_run_time ON archive_log (run_time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS archive_log;
		DROP TABLE IF EXISTS flight_changelog;
		DROP TABLE IF EXISTS trajectory_archive;
		DROP TABLE IF EXISTS trajectory_hot;
		DROP TABLE IF EXISTS flight_archive;
		DROP TABLE IF EXISTS flight_core;
	`,
	CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
}
