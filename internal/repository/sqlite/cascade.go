package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Cascading delete helpers. Each runs inside the caller's transaction so a
// cascade is all-or-nothing: compute the affected rows, mutate, and let the
// caller commit or roll back as one unit.

// deleteRouteCascadeTx removes a route and everything hanging off it:
// patterns, their trips and stop times, and fare rules scoped to the route.
// routeID is the natural key.
func deleteRouteCascadeTx(ctx context.Context, tx *sql.Tx, ns, routeID string) error {
	steps := []struct {
		desc  string
		query string
	}{
		{"stop times", `DELETE FROM stop_times WHERE namespace = ? AND trip_id IN (
			SELECT trip_id FROM trips WHERE namespace = ? AND pattern_id IN (
				SELECT pattern_id FROM patterns WHERE namespace = ? AND route_id = ?))`},
		{"trips", `DELETE FROM trips WHERE namespace = ? AND pattern_id IN (
			SELECT pattern_id FROM patterns WHERE namespace = ? AND route_id = ?)`},
		{"pattern stops", `DELETE FROM pattern_stops WHERE namespace = ? AND pattern_id IN (
			SELECT pattern_id FROM patterns WHERE namespace = ? AND route_id = ?)`},
		{"patterns", `DELETE FROM patterns WHERE namespace = ? AND route_id = ?`},
		{"fare rules", `DELETE FROM fare_rules WHERE namespace = ? AND route_id = ?`},
	}
	args := [][]any{
		{ns, ns, ns, routeID},
		{ns, ns, routeID},
		{ns, ns, routeID},
		{ns, routeID},
		{ns, routeID},
	}
	for i, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, args[i]...); err != nil {
			return fmt.Errorf("cascading route %s delete (%s): %w", routeID, step.desc, err)
		}
	}
	return nil
}

// deletePatternCascadeTx removes a pattern, its stop sequence, and its trips
// with their stop times. patternID is the natural key.
func deletePatternCascadeTx(ctx context.Context, tx *sql.Tx, ns, patternID string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM stop_times WHERE namespace = ? AND trip_id IN (
			SELECT trip_id FROM trips WHERE namespace = ? AND pattern_id = ?)`,
		ns, ns, patternID,
	); err != nil {
		return fmt.Errorf("cascading pattern %s delete (stop times): %w", patternID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM trips WHERE namespace = ? AND pattern_id = ?`, ns, patternID,
	); err != nil {
		return fmt.Errorf("cascading pattern %s delete (trips): %w", patternID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pattern_stops WHERE namespace = ? AND pattern_id = ?`, ns, patternID,
	); err != nil {
		return fmt.Errorf("cascading pattern %s delete (pattern stops): %w", patternID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM patterns WHERE namespace = ? AND pattern_id = ?`, ns, patternID,
	); err != nil {
		return fmt.Errorf("cascading pattern %s delete: %w", patternID, err)
	}
	return nil
}

// deleteTripsByServiceTx removes every trip referencing a service ID, with
// their stop times.
func deleteTripsByServiceTx(ctx context.Context, tx *sql.Tx, ns, serviceID string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM stop_times WHERE namespace = ? AND trip_id IN (
			SELECT trip_id FROM trips WHERE namespace = ? AND service_id = ?)`,
		ns, ns, serviceID,
	); err != nil {
		return fmt.Errorf("cascading service %s delete (stop times): %w", serviceID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM trips WHERE namespace = ? AND service_id = ?`, ns, serviceID,
	); err != nil {
		return fmt.Errorf("cascading service %s delete (trips): %w", serviceID, err)
	}
	return nil
}

// removePatternStopTx deletes one ordinal from a pattern's stop sequence and
// the stop-time row at that ordinal in every dependent trip, shifting later
// positions down by one in lockstep.
func removePatternStopTx(ctx context.Context, tx *sql.Tx, ns, patternID string, position int) error {
	result, err := tx.ExecContext(ctx,
		`DELETE FROM pattern_stops WHERE namespace = ? AND pattern_id = ? AND position = ?`,
		ns, patternID, position,
	)
	if err != nil {
		return fmt.Errorf("removing pattern stop %s[%d]: %w", patternID, position, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("removing pattern stop %s[%d]: %w", patternID, position, err)
	}
	if affected == 0 {
		return errNoSuchPosition
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pattern_stops SET position = position - 1
		 WHERE namespace = ? AND pattern_id = ? AND position > ?`,
		ns, patternID, position,
	); err != nil {
		return fmt.Errorf("shifting pattern stops %s: %w", patternID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM stop_times WHERE namespace = ? AND ordinal = ? AND trip_id IN (
			SELECT trip_id FROM trips WHERE namespace = ? AND pattern_id = ?)`,
		ns, position, ns, patternID,
	); err != nil {
		return fmt.Errorf("removing trip stop times %s[%d]: %w", patternID, position, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE stop_times SET ordinal = ordinal - 1
		 WHERE namespace = ? AND ordinal > ? AND trip_id IN (
			SELECT trip_id FROM trips WHERE namespace = ? AND pattern_id = ?)`,
		ns, position, ns, patternID,
	); err != nil {
		return fmt.Errorf("shifting trip stop times %s: %w", patternID, err)
	}
	return nil
}

var errNoSuchPosition = fmt.Errorf("no pattern stop at that position")
