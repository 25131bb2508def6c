package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/model"
)

func (db *DB) CreateStop(ctx context.Context, ns string, s *model.Stop) error {
	s.ID = xid.New().String()
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := conflictCheckTx(ctx, tx, ns, "stops", "stop_id", s.StopID, s.ID, "stop"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO stops (namespace, id, stop_id, name, code, description, lat, lon, zone_id, location_type, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, s.ID, s.StopID, s.Name, s.Code, s.Desc, s.Lat, s.Lon, s.ZoneID, s.LocationType, s.CreatedAt, s.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating stop: %w", err)
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) GetStop(ctx context.Context, ns, id string) (*model.Stop, error) {
	var s model.Stop
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, stop_id, name, code, description, lat, lon, zone_id, location_type, created_at, updated_at
		 FROM stops WHERE namespace = ? AND id = ?`, ns, id,
	).Scan(&s.ID, &s.StopID, &s.Name, &s.Code, &s.Desc, &s.Lat, &s.Lon, &s.ZoneID, &s.LocationType, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("stop", id)
		}
		return nil, fmt.Errorf("sqlite: getting stop %s: %w", id, err)
	}
	return &s, nil
}

func (db *DB) ListStops(ctx context.Context, ns string) ([]model.Stop, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, stop_id, name, code, description, lat, lon, zone_id, location_type, created_at, updated_at
		 FROM stops WHERE namespace = ? ORDER BY stop_id`, ns)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing stops: %w", err)
	}
	defer rows.Close()

	var stops []model.Stop
	for rows.Next() {
		var s model.Stop
		if err := rows.Scan(&s.ID, &s.StopID, &s.Name, &s.Code, &s.Desc, &s.Lat, &s.Lon, &s.ZoneID, &s.LocationType, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning stop row: %w", err)
		}
		stops = append(stops, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating stops: %w", err)
	}
	return stops, nil
}

func (db *DB) UpdateStop(ctx context.Context, ns string, s *model.Stop) error {
	s.UpdatedAt = time.Now()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := conflictCheckTx(ctx, tx, ns, "stops", "stop_id", s.StopID, s.ID, "stop"); err != nil {
			return err
		}
		oldKey, err := currentKeyTx(ctx, tx, ns, "stops", "stop_id", s.ID, "stop")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE stops SET stop_id = ?, name = ?, code = ?, description = ?, lat = ?, lon = ?, zone_id = ?, location_type = ?, updated_at = ?
			 WHERE namespace = ? AND id = ?`,
			s.StopID, s.Name, s.Code, s.Desc, s.Lat, s.Lon, s.ZoneID, s.LocationType, s.UpdatedAt, ns, s.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating stop %s: %w", s.ID, err)
		}
		// Pattern sequences reference the stop by natural key; keep them
		// attached if it changes.
		if err := cascadeRenameTx(ctx, tx, ns, oldKey, s.StopID, keyRef{"pattern_stops", "stop_id"}); err != nil {
			return err
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

// DeleteStop refuses to remove a stop referenced by any pattern unless
// cascade is set, in which case each referencing pattern ordinal is removed
// with the usual structural cascade into dependent trips.
func (db *DB) DeleteStop(ctx context.Context, ns, id string, cascade bool) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var stopID string
		err := tx.QueryRowContext(ctx,
			`SELECT stop_id FROM stops WHERE namespace = ? AND id = ?`, ns, id,
		).Scan(&stopID)
		if err != nil {
			if err == sql.ErrNoRows {
				return apperror.NotFound("stop", id)
			}
			return fmt.Errorf("sqlite: getting stop %s: %w", id, err)
		}

		// A stop may appear at several ordinals, even within one pattern.
		// Remove highest positions first so earlier ordinals stay valid.
		rows, err := tx.QueryContext(ctx,
			`SELECT pattern_id, position FROM pattern_stops
			 WHERE namespace = ? AND stop_id = ? ORDER BY pattern_id, position DESC`,
			ns, stopID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: finding stop references: %w", err)
		}
		type ref struct {
			patternID string
			position  int
		}
		var refs []ref
		for rows.Next() {
			var r ref
			if err := rows.Scan(&r.patternID, &r.position); err != nil {
				rows.Close()
				return fmt.Errorf("sqlite: scanning stop reference: %w", err)
			}
			refs = append(refs, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("sqlite: iterating stop references: %w", err)
		}

		if len(refs) > 0 {
			if !cascade {
				return apperror.ReferentialIntegrity("stop", stopID, fmt.Sprintf("%d pattern stop(s)", len(refs)))
			}
			for _, r := range refs {
				if err := removePatternStopTx(ctx, tx, ns, r.patternID, r.position); err != nil {
					return err
				}
			}
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM stops WHERE namespace = ? AND id = ?`, ns, id,
		); err != nil {
			return fmt.Errorf("sqlite: deleting stop %s: %w", id, err)
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) StopExists(ctx context.Context, ns, stopID string) (bool, error) {
	ok, err := existsTx(ctx, db.conn,
		`SELECT COUNT(*) FROM stops WHERE namespace = ? AND stop_id = ?`, ns, stopID)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking stop %s: %w", stopID, err)
	}
	return ok, nil
}
