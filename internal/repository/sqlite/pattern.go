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

var _ repository.PatternRepository = (*DB)(nil)

func (db *DB) CreatePattern(ctx context.Context, ns string, p *model.Pattern) error {
	p.ID = xid.New().String()
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := conflictCheckTx(ctx, tx, ns, "patterns", "pattern_id", p.PatternID, p.ID, "pattern"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO patterns (namespace, id, pattern_id, route_id, name, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ns, p.ID, p.PatternID, p.RouteID, p.Name, p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating pattern: %w", err)
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) GetPattern(ctx context.Context, ns, id string) (*model.Pattern, error) {
	var p model.Pattern
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, pattern_id, route_id, name, created_at, updated_at
		 FROM patterns WHERE namespace = ? AND id = ?`, ns, id,
	).Scan(&p.ID, &p.PatternID, &p.RouteID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("pattern", id)
		}
		return nil, fmt.Errorf("sqlite: getting pattern %s: %w", id, err)
	}
	return &p, nil
}

// ListPatterns returns the namespace's patterns, optionally filtered by the
// owning route's natural key.
func (db *DB) ListPatterns(ctx context.Context, ns, routeID string) ([]model.Pattern, error) {
	query := `SELECT id, pattern_id, route_id, name, created_at, updated_at
	          FROM patterns WHERE namespace = ?`
	args := []any{ns}
	if routeID != "" {
		query += ` AND route_id = ?`
		args = append(args, routeID)
	}
	query += ` ORDER BY pattern_id`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing patterns: %w", err)
	}
	defer rows.Close()

	var patterns []model.Pattern
	for rows.Next() {
		var p model.Pattern
		if err := rows.Scan(&p.ID, &p.PatternID, &p.RouteID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning pattern row: %w", err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating patterns: %w", err)
	}
	return patterns, nil
}

func (db *DB) UpdatePattern(ctx context.Context, ns string, p *model.Pattern) error {
	p.UpdatedAt = time.Now()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := conflictCheckTx(ctx, tx, ns, "patterns", "pattern_id", p.PatternID, p.ID, "pattern"); err != nil {
			return err
		}
		oldKey, err := currentKeyTx(ctx, tx, ns, "patterns", "pattern_id", p.ID, "pattern")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE patterns SET pattern_id = ?, route_id = ?, name = ?, updated_at = ?
			 WHERE namespace = ? AND id = ?`,
			p.PatternID, p.RouteID, p.Name, p.UpdatedAt, ns, p.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating pattern %s: %w", p.ID, err)
		}
		// The stop sequence and dependent trips reference the pattern by
		// natural key; keep them attached if it changes.
		if err := cascadeRenameTx(ctx, tx, ns, oldKey, p.PatternID,
			keyRef{"pattern_stops", "pattern_id"}, keyRef{"trips", "pattern_id"}); err != nil {
			return err
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) DeletePattern(ctx context.Context, ns, id string, cascade bool) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var patternID string
		err := tx.QueryRowContext(ctx,
			`SELECT pattern_id FROM patterns WHERE namespace = ? AND id = ?`, ns, id,
		).Scan(&patternID)
		if err != nil {
			if err == sql.ErrNoRows {
				return apperror.NotFound("pattern", id)
			}
			return fmt.Errorf("sqlite: getting pattern %s: %w", id, err)
		}

		var tripCount int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM trips WHERE namespace = ? AND pattern_id = ?`, ns, patternID,
		).Scan(&tripCount); err != nil {
			return fmt.Errorf("sqlite: counting pattern trips: %w", err)
		}
		if tripCount > 0 && !cascade {
			return apperror.ReferentialIntegrity("pattern", patternID, fmt.Sprintf("%d trip(s)", tripCount))
		}

		if err := deletePatternCascadeTx(ctx, tx, ns, patternID); err != nil {
			return err
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) PatternExists(ctx context.Context, ns, patternID string) (bool, error) {
	ok, err := existsTx(ctx, db.conn,
		`SELECT COUNT(*) FROM patterns WHERE namespace = ? AND pattern_id = ?`, ns, patternID)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking pattern %s: %w", patternID, err)
	}
	return ok, nil
}

// PatternStops returns the pattern's stop sequence ordered by position.
// patternID is the natural key.
func (db *DB) PatternStops(ctx context.Context, ns, patternID string) ([]model.PatternStop, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, pattern_id, position, stop_id, shape_dist_traveled, default_travel_time, default_dwell_time
		 FROM pattern_stops WHERE namespace = ? AND pattern_id = ? ORDER BY position`,
		ns, patternID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing pattern stops: %w", err)
	}
	defer rows.Close()

	var stops []model.PatternStop
	for rows.Next() {
		var ps model.PatternStop
		if err := rows.Scan(&ps.ID, &ps.PatternID, &ps.Position, &ps.StopID,
			&ps.ShapeDistTraveled, &ps.DefaultTravelTime, &ps.DefaultDwellTime); err != nil {
			return nil, fmt.Errorf("sqlite: scanning pattern stop row: %w", err)
		}
		stops = append(stops, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating pattern stops: %w", err)
	}
	return stops, nil
}

// InsertPatternStop shifts ordinals at or after ps.Position up by one, in the
// pattern and in every dependent trip's stop times, then inserts the pattern
// stop and a blank stop-time row per trip at the freed ordinal.
func (db *DB) InsertPatternStop(ctx context.Context, ns string, ps *model.PatternStop) error {
	ps.ID = xid.New().String()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		var seqLen int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pattern_stops WHERE namespace = ? AND pattern_id = ?`,
			ns, ps.PatternID,
		).Scan(&seqLen); err != nil {
			return fmt.Errorf("sqlite: counting pattern stops: %w", err)
		}
		if ps.Position < 0 || ps.Position > seqLen {
			return apperror.ValidationFailed("position",
				fmt.Sprintf("position %d outside sequence of length %d", ps.Position, seqLen))
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE pattern_stops SET position = position + 1
			 WHERE namespace = ? AND pattern_id = ? AND position >= ?`,
			ns, ps.PatternID, ps.Position,
		); err != nil {
			return fmt.Errorf("sqlite: shifting pattern stops: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE stop_times SET ordinal = ordinal + 1
			 WHERE namespace = ? AND ordinal >= ? AND trip_id IN (
				SELECT trip_id FROM trips WHERE namespace = ? AND pattern_id = ?)`,
			ns, ps.Position, ns, ps.PatternID,
		); err != nil {
			return fmt.Errorf("sqlite: shifting trip stop times: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pattern_stops (namespace, id, pattern_id, position, stop_id, shape_dist_traveled, default_travel_time, default_dwell_time)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, ps.ID, ps.PatternID, ps.Position, ps.StopID, ps.ShapeDistTraveled, ps.DefaultTravelTime, ps.DefaultDwellTime,
		); err != nil {
			return fmt.Errorf("sqlite: inserting pattern stop: %w", err)
		}

		// Blank cell per dependent trip at the new ordinal.
		tripIDs, err := db.patternTripIDsTx(ctx, tx, ns, ps.PatternID)
		if err != nil {
			return err
		}
		for _, tripID := range tripIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO stop_times (namespace, id, trip_id, ordinal, arrival, departure)
				 VALUES (?, ?, ?, ?, NULL, NULL)`,
				ns, xid.New().String(), tripID, ps.Position,
			); err != nil {
				return fmt.Errorf("sqlite: inserting blank stop time for trip %s: %w", tripID, err)
			}
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) RemovePatternStop(ctx context.Context, ns, patternID string, position int) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := removePatternStopTx(ctx, tx, ns, patternID, position); err != nil {
			if err == errNoSuchPosition {
				return apperror.NotFound("pattern stop", fmt.Sprintf("%s[%d]", patternID, position))
			}
			return err
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

// MovePatternStop relocates the ordinal at from to to, closing the gap and
// reopening it, and moves every dependent trip's stop-time ordinals the same
// way. Rows are repositioned by surrogate ID so intermediate states never
// collide on position.
func (db *DB) MovePatternStop(ctx context.Context, ns, patternID string, from, to int) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var seqLen int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pattern_stops WHERE namespace = ? AND pattern_id = ?`,
			ns, patternID,
		).Scan(&seqLen); err != nil {
			return fmt.Errorf("sqlite: counting pattern stops: %w", err)
		}
		if from < 0 || from >= seqLen || to < 0 || to >= seqLen {
			return apperror.ValidationFailed("position",
				fmt.Sprintf("move %d -> %d outside sequence of length %d", from, to, seqLen))
		}
		if from == to {
			return nil
		}

		if err := movePositionsTx(ctx, tx, ns,
			`SELECT id, position FROM pattern_stops WHERE namespace = ? AND pattern_id = ? ORDER BY position`,
			`UPDATE pattern_stops SET position = ? WHERE namespace = ? AND id = ?`,
			[]any{ns, patternID}, from, to,
		); err != nil {
			return fmt.Errorf("sqlite: moving pattern stop %s[%d]: %w", patternID, from, err)
		}

		tripIDs, err := db.patternTripIDsTx(ctx, tx, ns, patternID)
		if err != nil {
			return err
		}
		for _, tripID := range tripIDs {
			if err := movePositionsTx(ctx, tx, ns,
				`SELECT id, ordinal FROM stop_times WHERE namespace = ? AND trip_id = ? ORDER BY ordinal`,
				`UPDATE stop_times SET ordinal = ? WHERE namespace = ? AND id = ?`,
				[]any{ns, tripID}, from, to,
			); err != nil {
				return fmt.Errorf("sqlite: moving stop times for trip %s: %w", tripID, err)
			}
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

// movePositionsTx rewrites a dense ordinal sequence so the row at from lands
// at to. selectQ yields (id, position) ordered ascending; updateQ takes
// (position, ns, id).
func movePositionsTx(ctx context.Context, tx *sql.Tx, ns, selectQ, updateQ string, selectArgs []any, from, to int) error {
	rows, err := tx.QueryContext(ctx, selectQ, selectArgs...)
	if err != nil {
		return err
	}
	type row struct {
		id  string
		pos int
	}
	var seq []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.pos); err != nil {
			rows.Close()
			return err
		}
		seq = append(seq, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range seq {
		newPos := r.pos
		switch {
		case r.pos == from:
			newPos = to
		case from < to && r.pos > from && r.pos <= to:
			newPos = r.pos - 1
		case to < from && r.pos >= to && r.pos < from:
			newPos = r.pos + 1
		}
		if newPos == r.pos {
			continue
		}
		if _, err := tx.ExecContext(ctx, updateQ, newPos, ns, r.id); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) patternTripIDsTx(ctx context.Context, tx *sql.Tx, ns, patternID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT trip_id FROM trips WHERE namespace = ? AND pattern_id = ?`, ns, patternID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing pattern trips: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning trip id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
