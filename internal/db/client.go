package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/lib/pq"

	"github.com/saviobatista/sbs-archive/internal/archive"
	"github.com/saviobatista/sbs-archive/internal/types"
)

// Client is the Postgres implementation of the archive store
type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// NewWithDB wraps an existing connection pool
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// DB returns the underlying connection pool
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return storeErr("ping database", c.db.PingContext(ctx))
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// unavailable reports connection-level failures, as opposed to errors in a
// single statement
func unavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 08: connection exception, 57: operator intervention
		class := pqErr.Code.Class()
		return class == "08" || class == "57"
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if unavailable(err) {
		return fmt.Errorf("failed to %s: %w: %w", op, archive.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// withTx runs fn in a transaction, committing only if fn succeeds
func (c *Client) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			log.Printf("Warning: failed to rollback transaction: %v", rerr)
		}
		return storeErr(op, err)
	}
	return storeErr(op, tx.Commit())
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as no limit
func limitArg(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// timestampArray renders times as a text array, cast to timestamptz[] in SQL
func timestampArray(ts []time.Time) interface{} {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.UTC().Format(time.RFC3339Nano)
	}
	return pq.Array(out)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

const coreColumns = `flight_uid, callsign, first_seen_utc, last_seen_utc,
	COALESCE(latitude, 0), COALESCE(longitude, 0), COALESCE(altitude_ft, 0),
	COALESCE(groundspeed_kts, 0), COALESCE(heading_deg, 0), COALESCE(vertical_rate_fpm, 0),
	COALESCE(dept_icao, ''), COALESCE(dest_icao, ''), COALESCE(aircraft_type, ''), COALESCE(squawk, '')`

func scanCore(row scanner) (types.FlightCore, error) {
	var f types.FlightCore
	err := row.Scan(
		&f.FlightUID, &f.Callsign, &f.FirstSeenUTC, &f.LastSeenUTC,
		&f.Latitude, &f.Longitude, &f.AltitudeFt,
		&f.GroundspeedKts, &f.HeadingDeg, &f.VerticalRateFpm,
		&f.DeptICAO, &f.DestICAO, &f.AircraftType, &f.Squawk,
	)
	f.FirstSeenUTC = f.FirstSeenUTC.UTC()
	f.LastSeenUTC = f.LastSeenUTC.UTC()
	return f, err
}

// ActiveFlightByCallsign returns the most recently seen core row for callsign, or nil
func (c *Client) ActiveFlightByCallsign(ctx context.Context, callsign string) (*types.FlightCore, error) {
	query := `SELECT ` + coreColumns + `
		FROM flight_core
		WHERE callsign = $1
		ORDER BY last_seen_utc DESC
		LIMIT 1`
	f, err := scanCore(c.db.QueryRowContext(ctx, query, callsign))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get active flight", err)
	}
	return &f, nil
}

// CreateFlight inserts a new core row
func (c *Client) CreateFlight(ctx context.Context, core types.FlightCore) error {
	query := `
		INSERT INTO flight_core (
			flight_uid, callsign, first_seen_utc, last_seen_utc,
			latitude, longitude, altitude_ft, groundspeed_kts, heading_deg, vertical_rate_fpm,
			dept_icao, dest_icao, aircraft_type, squawk
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := c.db.ExecContext(ctx, query,
		core.FlightUID, core.Callsign, core.FirstSeenUTC.UTC(), core.LastSeenUTC.UTC(),
		core.Latitude, core.Longitude, core.AltitudeFt, core.GroundspeedKts, core.HeadingDeg, core.VerticalRateFpm,
		core.DeptICAO, core.DestICAO, core.AircraftType, core.Squawk,
	)
	return storeErr("create flight", err)
}

// UpdateFlight writes the changelog rows and the new core row in one transaction
func (c *Client) UpdateFlight(ctx context.Context, core types.FlightCore, changes []types.ChangelogEntry) error {
	return c.withTx(ctx, "update flight", func(tx *sql.Tx) error {
		for _, ch := range changes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO flight_changelog (flight_uid, field, old_value, new_value, ts)
				VALUES ($1, $2, $3, $4, $5)`,
				ch.FlightUID, ch.Field, ch.OldValue, ch.NewValue, ch.TS.UTC(),
			); err != nil {
				return fmt.Errorf("insert changelog: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE flight_core SET
				callsign = $2, last_seen_utc = $3,
				latitude = $4, longitude = $5, altitude_ft = $6,
				groundspeed_kts = $7, heading_deg = $8, vertical_rate_fpm = $9,
				dept_icao = $10, dest_icao = $11, aircraft_type = $12, squawk = $13
			WHERE flight_uid = $1`,
			core.FlightUID, core.Callsign, core.LastSeenUTC.UTC(),
			core.Latitude, core.Longitude, core.AltitudeFt,
			core.GroundspeedKts, core.HeadingDeg, core.VerticalRateFpm,
			core.DeptICAO, core.DestICAO, core.AircraftType, core.Squawk,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("flight %s: %w", core.FlightUID, archive.ErrFlightNotFound)
		}
		return nil
	})
}

// AppendPoint inserts a hot point; a repeated timestamp is ignored
func (c *Client) AppendPoint(ctx context.Context, p types.TrajectoryPoint) error {
	query := `
		INSERT INTO trajectory_hot (
			flight_uid, recorded_utc, latitude, longitude,
			altitude_ft, groundspeed_kts, heading_deg, vertical_rate_fpm
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (flight_uid, recorded_utc) DO NOTHING
	`
	_, err := c.db.ExecContext(ctx, query,
		p.FlightUID, p.RecordedUTC.UTC(), p.Latitude, p.Longitude,
		p.AltitudeFt, p.GroundspeedKts, p.HeadingDeg, p.VerticalRateFpm,
	)
	return storeErr("append hot point", err)
}

// LookupFlight finds a flight by uid in core, then in the archive
func (c *Client) LookupFlight(ctx context.Context, flightUID string) (*types.FlightRef, error) {
	ref, err := c.findRef(ctx, "flight_core", "flight_uid = $1", flightUID)
	if err != nil || ref != nil {
		return ref, err
	}
	ref, err = c.findRef(ctx, "flight_archive", "flight_uid = $1", flightUID)
	if ref != nil {
		ref.Archived = true
	}
	return ref, err
}

// ResolveCallsign returns the latest active session of callsign, else the latest archived one
func (c *Client) ResolveCallsign(ctx context.Context, callsign string) (*types.FlightRef, error) {
	ref, err := c.findRef(ctx, "flight_core", "callsign = $1", callsign)
	if err != nil || ref != nil {
		return ref, err
	}
	ref, err = c.findRef(ctx, "flight_archive", "callsign = $1", callsign)
	if ref != nil {
		ref.Archived = true
	}
	return ref, err
}

func (c *Client) findRef(ctx context.Context, table, where string, arg interface{}) (*types.FlightRef, error) {
	query := `SELECT flight_uid, callsign, last_seen_utc FROM ` + table +
		` WHERE ` + where + ` ORDER BY last_seen_utc DESC LIMIT 1`
	var ref types.FlightRef
	err := c.db.QueryRowContext(ctx, query, arg).Scan(&ref.FlightUID, &ref.Callsign, &ref.LastSeenUTC)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("look up flight in "+table, err)
	}
	ref.LastSeenUTC = ref.LastSeenUTC.UTC()
	return &ref, nil
}

// HotTrack returns every hot point of a flight in time order
func (c *Client) HotTrack(ctx context.Context, flightUID string) ([]types.TrajectoryPoint, error) {
	return c.HotPoints(ctx, types.WarmChunk{FlightUID: flightUID, All: true})
}

// ArchivedTrack returns the flight's warm or cold points in time order
func (c *Client) ArchivedTrack(ctx context.Context, flightUID string, tier types.Tier) ([]types.ArchivedPoint, error) {
	if tier != types.TierWarm && tier != types.TierCold {
		return nil, fmt.Errorf("tier %s is not an archive tier", tier)
	}
	query := `SELECT ` + archivedColumns + `
		FROM trajectory_archive
		WHERE flight_uid = $1 AND source_tier = $2
		ORDER BY timestamp_utc`
	rows, err := c.db.QueryContext(ctx, query, flightUID, string(tier))
	if err != nil {
		return nil, storeErr("read archived track", err)
	}
	points, err := scanArchived(rows)
	return points, storeErr("read archived track", err)
}
