package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/model"
	"github.com/transitkit/feedsmith/internal/repository"
)

var _ repository.TripRepository = (*DB)(nil)

// CreateTrip inserts the trip together with its seeded stop-time rows in one
// transaction, so a trip is never visible without its full cell sequence.
func (db *DB) CreateTrip(ctx context.Context, ns string, t *model.Trip, rows []model.StopTime) error {
	t.ID = xid.New().String()
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := conflictCheckTx(ctx, tx, ns, "trips", "trip_id", t.TripID, t.ID, "trip"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO trips (namespace, id, trip_id, pattern_id, service_id, headsign, short_name, block_id, direction, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, t.ID, t.TripID, t.PatternID, t.ServiceID, t.Headsign, t.ShortName, t.BlockID, t.Direction, t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating trip: %w", err)
		}
		if err := insertStopTimesTx(ctx, tx, ns, t.TripID, rows); err != nil {
			return err
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) GetTrip(ctx context.Context, ns, id string) (*model.Trip, error) {
	var t model.Trip
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, trip_id, pattern_id, service_id, headsign, short_name, block_id, direction, created_at, updated_at
		 FROM trips WHERE namespace = ? AND id = ?`, ns, id,
	).Scan(&t.ID, &t.TripID, &t.PatternID, &t.ServiceID, &t.Headsign, &t.ShortName, &t.BlockID, &t.Direction, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("trip", id)
		}
		return nil, fmt.Errorf("sqlite: getting trip %s: %w", id, err)
	}
	return &t, nil
}

// ListTrips filters by pattern and/or service natural key; empty means any.
func (db *DB) ListTrips(ctx context.Context, ns, patternID, serviceID string) ([]model.Trip, error) {
	query := `SELECT id, trip_id, pattern_id, service_id, headsign, short_name, block_id, direction, created_at, updated_at
	          FROM trips WHERE namespace = ?`
	args := []any{ns}
	if patternID != "" {
		query += ` AND pattern_id = ?`
		args = append(args, patternID)
	}
	if serviceID != "" {
		query += ` AND service_id = ?`
		args = append(args, serviceID)
	}
	query += ` ORDER BY trip_id`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing trips: %w", err)
	}
	defer rows.Close()

	var trips []model.Trip
	for rows.Next() {
		var t model.Trip
		if err := rows.Scan(&t.ID, &t.TripID, &t.PatternID, &t.ServiceID, &t.Headsign, &t.ShortName, &t.BlockID, &t.Direction, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning trip row: %w", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating trips: %w", err)
	}
	return trips, nil
}

func (db *DB) UpdateTrip(ctx context.Context, ns string, t *model.Trip) error {
	t.UpdatedAt = time.Now()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := conflictCheckTx(ctx, tx, ns, "trips", "trip_id", t.TripID, t.ID, "trip"); err != nil {
			return err
		}

		// Stop-time rows reference the trip by natural key; keep them attached
		// if it changes.
		var oldTripID string
		err := tx.QueryRowContext(ctx,
			`SELECT trip_id FROM trips WHERE namespace = ? AND id = ?`, ns, t.ID,
		).Scan(&oldTripID)
		if err != nil {
			if err == sql.ErrNoRows {
				return apperror.NotFound("trip", t.ID)
			}
			return fmt.Errorf("sqlite: getting trip %s: %w", t.ID, err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE trips SET trip_id = ?, pattern_id = ?, service_id = ?, headsign = ?, short_name = ?, block_id = ?, direction = ?, updated_at = ?
			 WHERE namespace = ? AND id = ?`,
			t.TripID, t.PatternID, t.ServiceID, t.Headsign, t.ShortName, t.BlockID, t.Direction, t.UpdatedAt, ns, t.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating trip %s: %w", t.ID, err)
		}
		if oldTripID != t.TripID {
			if _, err := tx.ExecContext(ctx,
				`UPDATE stop_times SET trip_id = ? WHERE namespace = ? AND trip_id = ?`,
				t.TripID, ns, oldTripID,
			); err != nil {
				return fmt.Errorf("sqlite: renaming trip stop times: %w", err)
			}
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) DeleteTrip(ctx context.Context, ns, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var tripID string
		err := tx.QueryRowContext(ctx,
			`SELECT trip_id FROM trips WHERE namespace = ? AND id = ?`, ns, id,
		).Scan(&tripID)
		if err != nil {
			if err == sql.ErrNoRows {
				return apperror.NotFound("trip", id)
			}
			return fmt.Errorf("sqlite: getting trip %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM stop_times WHERE namespace = ? AND trip_id = ?`, ns, tripID,
		); err != nil {
			return fmt.Errorf("sqlite: deleting trip stop times: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM trips WHERE namespace = ? AND id = ?`, ns, id,
		); err != nil {
			return fmt.Errorf("sqlite: deleting trip %s: %w", id, err)
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func scanStopTime(row interface{ Scan(...any) error }) (*model.StopTime, error) {
	var st model.StopTime
	var arrival, departure sql.NullInt64
	if err := row.Scan(&st.ID, &st.TripID, &st.Ordinal, &arrival, &departure); err != nil {
		return nil, fmt.Errorf("sqlite: scanning stop time row: %w", err)
	}
	if arrival.Valid {
		t := model.ClockTime(arrival.Int64)
		st.Arrival = &t
	}
	if departure.Valid {
		t := model.ClockTime(departure.Int64)
		st.Departure = &t
	}
	return &st, nil
}

// StopTimes returns the trip's cell rows ordered by ordinal. tripID is the
// natural key.
func (db *DB) StopTimes(ctx context.Context, ns, tripID string) ([]model.StopTime, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, trip_id, ordinal, arrival, departure
		 FROM stop_times WHERE namespace = ? AND trip_id = ? ORDER BY ordinal`,
		ns, tripID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing stop times: %w", err)
	}
	defer rows.Close()

	var times []model.StopTime
	for rows.Next() {
		st, err := scanStopTime(rows)
		if err != nil {
			return nil, err
		}
		times = append(times, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating stop times: %w", err)
	}
	return times, nil
}

func (db *DB) UpdateStopTime(ctx context.Context, ns string, st *model.StopTime) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE stop_times SET arrival = ?, departure = ? WHERE namespace = ? AND id = ?`,
			clockValue(st.Arrival), clockValue(st.Departure), ns, st.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating stop time %s: %w", st.ID, err)
		}
		if err := checkAffected(result, "stop time", st.ID); err != nil {
			return err
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

// ReplaceStopTimes swaps the trip's entire stop-time sequence atomically.
func (db *DB) ReplaceStopTimes(ctx context.Context, ns, tripID string, rows []model.StopTime) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := existsTx(ctx, tx,
			`SELECT COUNT(*) FROM trips WHERE namespace = ? AND trip_id = ?`, ns, tripID)
		if err != nil {
			return fmt.Errorf("sqlite: checking trip %s: %w", tripID, err)
		}
		if !exists {
			return apperror.NotFound("trip", tripID)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM stop_times WHERE namespace = ? AND trip_id = ?`, ns, tripID,
		); err != nil {
			return fmt.Errorf("sqlite: clearing trip stop times: %w", err)
		}
		if err := insertStopTimesTx(ctx, tx, ns, tripID, rows); err != nil {
			return err
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func insertStopTimesTx(ctx context.Context, tx *sql.Tx, ns, tripID string, rows []model.StopTime) error {
	for i := range rows {
		st := &rows[i]
		st.ID = xid.New().String()
		st.TripID = tripID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stop_times (namespace, id, trip_id, ordinal, arrival, departure)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ns, st.ID, tripID, st.Ordinal, clockValue(st.Arrival), clockValue(st.Departure),
		); err != nil {
			return fmt.Errorf("sqlite: inserting stop time %s[%d]: %w", tripID, st.Ordinal, err)
		}
	}
	return nil
}
