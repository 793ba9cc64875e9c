package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/saviobatista/sbs-archive/internal/types"
)

const hotColumns = `flight_uid, recorded_utc, latitude, longitude,
	COALESCE(altitude_ft, 0), COALESCE(groundspeed_kts, 0), COALESCE(heading_deg, 0), COALESCE(vertical_rate_fpm, 0)`

const archivedColumns = `flight_uid, timestamp_utc, source_tier, latitude, longitude,
	COALESCE(altitude_ft, 0), COALESCE(groundspeed_kts, 0), COALESCE(heading_deg, 0), COALESCE(vertical_rate_fpm, 0)`

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		log.Printf("Warning: failed to close rows: %v", err)
	}
}

func scanHot(rows *sql.Rows) ([]types.TrajectoryPoint, error) {
	defer closeRows(rows)
	var out []types.TrajectoryPoint
	for rows.Next() {
		var p types.TrajectoryPoint
		if err := rows.Scan(
			&p.FlightUID, &p.RecordedUTC, &p.Latitude, &p.Longitude,
			&p.AltitudeFt, &p.GroundspeedKts, &p.HeadingDeg, &p.VerticalRateFpm,
		); err != nil {
			return nil, err
		}
		p.RecordedUTC = p.RecordedUTC.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanArchived(rows *sql.Rows) ([]types.ArchivedPoint, error) {
	defer closeRows(rows)
	var out []types.ArchivedPoint
	for rows.Next() {
		var p types.ArchivedPoint
		var tier string
		if err := rows.Scan(
			&p.FlightUID, &p.TimestampUTC, &tier, &p.Latitude, &p.Longitude,
			&p.AltitudeFt, &p.GroundspeedKts, &p.HeadingDeg, &p.VerticalRateFpm,
		); err != nil {
			return nil, err
		}
		t, err := types.ParseTier(tier)
		if err != nil {
			return nil, err
		}
		p.SourceTier = t
		p.TimestampUTC = p.TimestampUTC.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// InactiveFlights lists core rows last seen at or before cutoff, oldest first
func (c *Client) InactiveFlights(ctx context.Context, cutoff time.Time, limit int) ([]types.FlightCore, error) {
	query := `SELECT ` + coreColumns + `
		FROM flight_core
		WHERE last_seen_utc <= $1
		ORDER BY last_seen_utc, flight_uid
		LIMIT $2`
	rows, err := c.db.QueryContext(ctx, query, cutoff.UTC(), limitArg(limit))
	if err != nil {
		return nil, storeErr("select inactive flights", err)
	}
	defer closeRows(rows)

	var flights []types.FlightCore
	for rows.Next() {
		f, err := scanCore(rows)
		if err != nil {
			return nil, storeErr("scan inactive flight", err)
		}
		flights = append(flights, f)
	}
	return flights, storeErr("select inactive flights", rows.Err())
}

// ArchiveFlight copies the core row into flight_archive and deletes it, in
// one transaction. Both statements are guarded by the last_seen_utc read at
// selection time, so a flight that received a snapshot meanwhile stays active.
// It returns false when nothing new was archived.
func (c *Client) ArchiveFlight(ctx context.Context, core types.FlightCore, archivedAt time.Time) (bool, error) {
	var archived bool
	err := c.withTx(ctx, "archive flight", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO flight_archive (
				flight_uid, callsign, first_seen_utc, last_seen_utc,
				latitude, longitude, altitude_ft, groundspeed_kts, heading_deg, vertical_rate_fpm,
				dept_icao, dest_icao, aircraft_type, squawk, archived_utc
			)
			SELECT flight_uid, callsign, first_seen_utc, last_seen_utc,
				latitude, longitude, altitude_ft, groundspeed_kts, heading_deg, vertical_rate_fpm,
				dept_icao, dest_icao, aircraft_type, squawk, $3::timestamptz
			FROM flight_core
			WHERE flight_uid = $1 AND last_seen_utc = $2
			ON CONFLICT (flight_uid) DO NOTHING`,
			core.FlightUID, core.LastSeenUTC.UTC(), archivedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert archive row: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		archived = n == 1

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM flight_core WHERE flight_uid = $1 AND last_seen_utc = $2`,
			core.FlightUID, core.LastSeenUTC.UTC(),
		); err != nil {
			return fmt.Errorf("delete core row: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return archived, nil
}

// DeleteHotDuplicates removes hot rows that already have a WARM copy
func (c *Client) DeleteHotDuplicates(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM trajectory_hot h
		USING trajectory_archive a
		WHERE a.flight_uid = h.flight_uid
			AND a.timestamp_utc = h.recorded_utc
			AND a.source_tier = 'WARM'`)
	if err != nil {
		return 0, storeErr("delete hot duplicates", err)
	}
	n, err := res.RowsAffected()
	return n, storeErr("delete hot duplicates", err)
}

// WarmChunks lists flights with hot points eligible for the warm tier
func (c *Client) WarmChunks(ctx context.Context, archivedBefore, hotBefore time.Time, limit int) ([]types.WarmChunk, error) {
	query := `
		SELECT h.flight_uid, COALESCE(a.archived_utc <= $1, false) AS move_all
		FROM (
			SELECT flight_uid, MIN(recorded_utc) AS oldest
			FROM trajectory_hot
			GROUP BY flight_uid
		) h
		LEFT JOIN flight_archive a ON a.flight_uid = h.flight_uid
		WHERE a.archived_utc <= $1 OR h.oldest < $2
		ORDER BY h.flight_uid
		LIMIT $3`
	rows, err := c.db.QueryContext(ctx, query, archivedBefore.UTC(), nullTime(hotBefore), limitArg(limit))
	if err != nil {
		return nil, storeErr("select warm chunks", err)
	}
	defer closeRows(rows)

	var chunks []types.WarmChunk
	for rows.Next() {
		var chunk types.WarmChunk
		if err := rows.Scan(&chunk.FlightUID, &chunk.All); err != nil {
			return nil, storeErr("scan warm chunk", err)
		}
		if !chunk.All {
			chunk.Before = hotBefore.UTC()
		}
		chunks = append(chunks, chunk)
	}
	return chunks, storeErr("select warm chunks", rows.Err())
}

// HotPoints returns the chunk's hot points in time order
func (c *Client) HotPoints(ctx context.Context, chunk types.WarmChunk) ([]types.TrajectoryPoint, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if chunk.All {
		rows, err = c.db.QueryContext(ctx, `SELECT `+hotColumns+`
			FROM trajectory_hot
			WHERE flight_uid = $1
			ORDER BY recorded_utc`, chunk.FlightUID)
	} else {
		rows, err = c.db.QueryContext(ctx, `SELECT `+hotColumns+`
			FROM trajectory_hot
			WHERE flight_uid = $1 AND recorded_utc < $2
			ORDER BY recorded_utc`, chunk.FlightUID, chunk.Before.UTC())
	}
	if err != nil {
		return nil, storeErr("read hot points", err)
	}
	points, err := scanHot(rows)
	return points, storeErr("read hot points", err)
}

// CopyToWarm inserts WARM rows, ignoring rows that already exist
func (c *Client) CopyToWarm(ctx context.Context, points []types.ArchivedPoint) (int64, error) {
	n, err := c.insertArchived(ctx, types.TierWarm, points)
	return n, storeErr("copy points to warm", err)
}

// WriteCold inserts COLD rows, ignoring rows that already exist
func (c *Client) WriteCold(ctx context.Context, points []types.ArchivedPoint) (int64, error) {
	n, err := c.insertArchived(ctx, types.TierCold, points)
	return n, storeErr("write cold points", err)
}

// insertArchived writes points in one statement by unnesting column arrays
func (c *Client) insertArchived(ctx context.Context, tier types.Tier, points []types.ArchivedPoint) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}

	uids := make([]string, len(points))
	ts := make([]time.Time, len(points))
	lats := make([]float64, len(points))
	lons := make([]float64, len(points))
	alts := make([]int64, len(points))
	speeds := make([]int64, len(points))
	headings := make([]int64, len(points))
	rates := make([]int64, len(points))
	for i, p := range points {
		uids[i] = p.FlightUID
		ts[i] = p.TimestampUTC
		lats[i] = p.Latitude
		lons[i] = p.Longitude
		alts[i] = int64(p.AltitudeFt)
		speeds[i] = int64(p.GroundspeedKts)
		headings[i] = int64(p.HeadingDeg)
		rates[i] = int64(p.VerticalRateFpm)
	}

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO trajectory_archive (
			flight_uid, timestamp_utc, source_tier, latitude, longitude,
			altitude_ft, groundspeed_kts, heading_deg, vertical_rate_fpm
		)
		SELECT u.flight_uid, u.ts, $1::text, u.lat, u.lon, u.alt, u.gs, u.hdg, u.vr
		FROM unnest(
			$2::text[], $3::timestamptz[], $4::float8[], $5::float8[],
			$6::int[], $7::int[], $8::int[], $9::int[]
		) AS u(flight_uid, ts, lat, lon, alt, gs, hdg, vr)
		ON CONFLICT (flight_uid, timestamp_utc, source_tier) DO NOTHING`,
		string(tier), pq.Array(uids), timestampArray(ts), pq.Array(lats), pq.Array(lons),
		pq.Array(alts), pq.Array(speeds), pq.Array(headings), pq.Array(rates),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteHotPoints removes the given hot points of one flight
func (c *Client) DeleteHotPoints(ctx context.Context, flightUID string, recorded []time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM trajectory_hot
		WHERE flight_uid = $1 AND recorded_utc = ANY($2::timestamptz[])`,
		flightUID, timestampArray(recorded),
	)
	if err != nil {
		return 0, storeErr("delete hot points", err)
	}
	n, err := res.RowsAffected()
	return n, storeErr("delete hot points", err)
}

// ColdSpans groups WARM points before cutoff into epoch-aligned windows per
// flight and returns the buckets holding more than minCount points
func (c *Client) ColdSpans(ctx context.Context, cutoff time.Time, window time.Duration, minCount, limit int) ([]types.Span, error) {
	query := `
		SELECT flight_uid,
			to_timestamp(floor(extract(epoch FROM timestamp_utc)::float8 / $2::float8) * $2::float8) AS span_start,
			COUNT(*) AS points
		FROM trajectory_archive
		WHERE source_tier = 'WARM' AND timestamp_utc < $1
		GROUP BY flight_uid, span_start
		HAVING COUNT(*) > $3
		ORDER BY span_start, flight_uid
		LIMIT $4`
	seconds := int64(window / time.Second)
	rows, err := c.db.QueryContext(ctx, query, cutoff.UTC(), seconds, minCount, limitArg(limit))
	if err != nil {
		return nil, storeErr("select cold spans", err)
	}
	defer closeRows(rows)

	var spans []types.Span
	for rows.Next() {
		var s types.Span
		if err := rows.Scan(&s.FlightUID, &s.Start, &s.Count); err != nil {
			return nil, storeErr("scan cold span", err)
		}
		s.Start = s.Start.UTC()
		s.End = s.Start.Add(window)
		spans = append(spans, s)
	}
	return spans, storeErr("select cold spans", rows.Err())
}

// WarmSpanPoints returns the WARM points of span in time order
func (c *Client) WarmSpanPoints(ctx context.Context, span types.Span) ([]types.ArchivedPoint, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+archivedColumns+`
		FROM trajectory_archive
		WHERE flight_uid = $1 AND source_tier = 'WARM'
			AND timestamp_utc >= $2 AND timestamp_utc < $3
		ORDER BY timestamp_utc`,
		span.FlightUID, span.Start.UTC(), span.End.UTC(),
	)
	if err != nil {
		return nil, storeErr("read warm span", err)
	}
	points, err := scanArchived(rows)
	return points, storeErr("read warm span", err)
}

// DeleteWarmPoints removes the given WARM points of one flight
func (c *Client) DeleteWarmPoints(ctx context.Context, flightUID string, timestamps []time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM trajectory_archive
		WHERE flight_uid = $1 AND source_tier = 'WARM' AND timestamp_utc = ANY($2::timestamptz[])`,
		flightUID, timestampArray(timestamps),
	)
	if err != nil {
		return 0, storeErr("delete warm points", err)
	}
	n, err := res.RowsAffected()
	return n, storeErr("delete warm points", err)
}

// PurgeTier deletes rows of target older than before and appends entry to
// archive_log in the same transaction
func (c *Client) PurgeTier(ctx context.Context, target types.PurgeTarget, before time.Time, entry types.ArchiveLogEntry) (int64, error) {
	var n int64
	err := c.withTx(ctx, "purge "+string(target), func(tx *sql.Tx) error {
		var (
			res sql.Result
			err error
		)
		switch target {
		case types.PurgeCold, types.PurgeWarm:
			res, err = tx.ExecContext(ctx,
				`DELETE FROM trajectory_archive WHERE source_tier = $1 AND timestamp_utc < $2`,
				string(target), before.UTC())
		case types.PurgeArchive:
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM flight_changelog
				WHERE flight_uid IN (SELECT flight_uid FROM flight_archive WHERE last_seen_utc < $1)`,
				before.UTC()); err != nil {
				return fmt.Errorf("delete changelog: %w", err)
			}
			res, err = tx.ExecContext(ctx,
				`DELETE FROM flight_archive WHERE last_seen_utc < $1`, before.UTC())
		default:
			return fmt.Errorf("unsupported purge target %s", target)
		}
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		entry.RowsAffected = n
		return appendLog(ctx, tx, entry)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// PurgeHotOverCap deletes the oldest hot rows beyond cap and logs the count
func (c *Client) PurgeHotOverCap(ctx context.Context, cap int64, entry types.ArchiveLogEntry) (int64, error) {
	var n int64
	err := c.withTx(ctx, "purge hot over cap", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM trajectory_hot
			WHERE (flight_uid, recorded_utc) IN (
				SELECT flight_uid, recorded_utc
				FROM trajectory_hot
				ORDER BY recorded_utc, flight_uid
				LIMIT GREATEST((SELECT COUNT(*) FROM trajectory_hot) - $1, 0)
			)`, cap)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		entry.RowsAffected = n
		return appendLog(ctx, tx, entry)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
