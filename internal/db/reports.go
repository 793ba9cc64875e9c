package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/saviobatista/sbs-archive/internal/types"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func appendLog(ctx context.Context, e execer, entry types.ArchiveLogEntry) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO archive_log (job_name, run_time, rows_affected, status, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.JobName, entry.RunTime.UTC(), entry.RowsAffected, entry.Status, entry.Detail,
	)
	return err
}

// AppendLog appends a job log entry
func (c *Client) AppendLog(ctx context.Context, entry types.ArchiveLogEntry) error {
	return storeErr("append archive log", appendLog(ctx, c.db, entry))
}

// RecentLogs returns up to limit entries, newest first
func (c *Client) RecentLogs(ctx context.Context, limit int) ([]types.ArchiveLogEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT job_name, run_time, rows_affected, status, COALESCE(detail, '')
		FROM archive_log
		ORDER BY run_time DESC, id DESC
		LIMIT $1`, limitArg(limit))
	if err != nil {
		return nil, storeErr("read archive log", err)
	}
	defer closeRows(rows)

	var logs []types.ArchiveLogEntry
	for rows.Next() {
		var e types.ArchiveLogEntry
		if err := rows.Scan(&e.JobName, &e.RunTime, &e.RowsAffected, &e.Status, &e.Detail); err != nil {
			return nil, storeErr("scan archive log", err)
		}
		e.RunTime = e.RunTime.UTC()
		logs = append(logs, e)
	}
	return logs, storeErr("read archive log", rows.Err())
}

// statQueries lists the table statistics in report order
var statQueries = []struct {
	table, tier, query string
}{
	{"trajectory_hot", string(types.TierHot),
		`SELECT COUNT(*), MIN(recorded_utc), MAX(recorded_utc) FROM trajectory_hot`},
	{"trajectory_archive", string(types.TierWarm),
		`SELECT COUNT(*), MIN(timestamp_utc), MAX(timestamp_utc) FROM trajectory_archive WHERE source_tier = 'WARM'`},
	{"trajectory_archive", string(types.TierCold),
		`SELECT COUNT(*), MIN(timestamp_utc), MAX(timestamp_utc) FROM trajectory_archive WHERE source_tier = 'COLD'`},
	{"flight_core", "",
		`SELECT COUNT(*), MIN(last_seen_utc), MAX(last_seen_utc) FROM flight_core`},
	{"flight_archive", "",
		`SELECT COUNT(*), MIN(last_seen_utc), MAX(last_seen_utc) FROM flight_archive`},
	{"flight_changelog", "",
		`SELECT COUNT(*), MIN(ts), MAX(ts) FROM flight_changelog`},
	{"archive_log", "",
		`SELECT COUNT(*), MIN(run_time), MAX(run_time) FROM archive_log`},
}

// TableStats returns row counts and timestamp ranges per table and tier
func (c *Client) TableStats(ctx context.Context) ([]types.TableStat, error) {
	stats := make([]types.TableStat, 0, len(statQueries))
	for _, q := range statQueries {
		st := types.TableStat{TableName: q.table, Tier: q.tier}
		var oldest, newest sql.NullTime
		if err := c.db.QueryRowContext(ctx, q.query).Scan(&st.RowCount, &oldest, &newest); err != nil {
			return nil, storeErr("get stats for "+q.table, err)
		}
		if oldest.Valid {
			st.OldestTS = oldest.Time.UTC()
		}
		if newest.Valid {
			st.NewestTS = newest.Time.UTC()
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// ArchivedBetween pages warm and cold rows with timestamps in [from, to),
// joined with the callsign and airports of their flight
func (c *Client) ArchivedBetween(ctx context.Context, from, to time.Time, offset, limit int) ([]types.ArchivedRow, error) {
	query := `
		SELECT t.flight_uid, t.timestamp_utc, t.source_tier, t.latitude, t.longitude,
			COALESCE(t.altitude_ft, 0), COALESCE(t.groundspeed_kts, 0),
			COALESCE(t.heading_deg, 0), COALESCE(t.vertical_rate_fpm, 0),
			COALESCE(c.callsign, a.callsign, ''),
			COALESCE(c.dept_icao, a.dept_icao, ''), COALESCE(c.dest_icao, a.dest_icao, '')
		FROM trajectory_archive t
		LEFT JOIN flight_core c ON c.flight_uid = t.flight_uid
		LEFT JOIN flight_archive a ON a.flight_uid = t.flight_uid
		WHERE t.timestamp_utc >= $1 AND t.timestamp_utc < $2
		ORDER BY t.timestamp_utc, t.flight_uid, t.source_tier
		OFFSET $3
		LIMIT $4`
	rows, err := c.db.QueryContext(ctx, query, from.UTC(), to.UTC(), offset, limitArg(limit))
	if err != nil {
		return nil, storeErr("read archived rows", err)
	}
	defer closeRows(rows)

	var out []types.ArchivedRow
	for rows.Next() {
		var r types.ArchivedRow
		var tier string
		if err := rows.Scan(
			&r.FlightUID, &r.TimestampUTC, &tier, &r.Latitude, &r.Longitude,
			&r.AltitudeFt, &r.GroundspeedKts, &r.HeadingDeg, &r.VerticalRateFpm,
			&r.Callsign, &r.DeptICAO, &r.DestICAO,
		); err != nil {
			return nil, storeErr("scan archived row", err)
		}
		if r.SourceTier, err = types.ParseTier(tier); err != nil {
			return nil, err
		}
		r.TimestampUTC = r.TimestampUTC.UTC()
		out = append(out, r)
	}
	return out, storeErr("read archived rows", rows.Err())
}
