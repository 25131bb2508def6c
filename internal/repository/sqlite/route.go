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

func (db *DB) CreateRoute(ctx context.Context, ns string, r *model.Route) error {
	r.ID = xid.New().String()
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := conflictCheckTx(ctx, tx, ns, "routes", "route_id", r.RouteID, r.ID, "route"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO routes (namespace, id, route_id, agency_id, short_name, long_name, description, type, color, text_color, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, r.ID, r.RouteID, r.AgencyID, r.ShortName, r.LongName, r.Desc, r.Type, r.Color, r.TextColor, r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating route: %w", err)
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) GetRoute(ctx context.Context, ns, id string) (*model.Route, error) {
	var r model.Route
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, route_id, agency_id, short_name, long_name, description, type, color, text_color, created_at, updated_at
		 FROM routes WHERE namespace = ? AND id = ?`, ns, id,
	).Scan(&r.ID, &r.RouteID, &r.AgencyID, &r.ShortName, &r.LongName, &r.Desc, &r.Type, &r.Color, &r.TextColor, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("route", id)
		}
		return nil, fmt.Errorf("sqlite: getting route %s: %w", id, err)
	}
	return &r, nil
}

func (db *DB) ListRoutes(ctx context.Context, ns string) ([]model.Route, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, route_id, agency_id, short_name, long_name, description, type, color, text_color, created_at, updated_at
		 FROM routes WHERE namespace = ? ORDER BY route_id`, ns)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing routes: %w", err)
	}
	defer rows.Close()

	var routes []model.Route
	for rows.Next() {
		var r model.Route
		if err := rows.Scan(&r.ID, &r.RouteID, &r.AgencyID, &r.ShortName, &r.LongName, &r.Desc, &r.Type, &r.Color, &r.TextColor, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning route row: %w", err)
		}
		routes = append(routes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating routes: %w", err)
	}
	return routes, nil
}

func (db *DB) UpdateRoute(ctx context.Context, ns string, r *model.Route) error {
	r.UpdatedAt = time.Now()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := conflictCheckTx(ctx, tx, ns, "routes", "route_id", r.RouteID, r.ID, "route"); err != nil {
			return err
		}
		oldKey, err := currentKeyTx(ctx, tx, ns, "routes", "route_id", r.ID, "route")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE routes SET route_id = ?, agency_id = ?, short_name = ?, long_name = ?, description = ?, type = ?, color = ?, text_color = ?, updated_at = ?
			 WHERE namespace = ? AND id = ?`,
			r.RouteID, r.AgencyID, r.ShortName, r.LongName, r.Desc, r.Type, r.Color, r.TextColor, r.UpdatedAt, ns, r.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating route %s: %w", r.ID, err)
		}
		// Patterns and fare rules reference the route by natural key; keep them
		// attached if it changes.
		if err := cascadeRenameTx(ctx, tx, ns, oldKey, r.RouteID,
			keyRef{"patterns", "route_id"}, keyRef{"fare_rules", "route_id"}); err != nil {
			return err
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) DeleteRoute(ctx context.Context, ns, id string, cascade bool) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var routeID string
		err := tx.QueryRowContext(ctx,
			`SELECT route_id FROM routes WHERE namespace = ? AND id = ?`, ns, id,
		).Scan(&routeID)
		if err != nil {
			if err == sql.ErrNoRows {
				return apperror.NotFound("route", id)
			}
			return fmt.Errorf("sqlite: getting route %s: %w", id, err)
		}

		var patternCount, ruleCount int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM patterns WHERE namespace = ? AND route_id = ?`, ns, routeID,
		).Scan(&patternCount); err != nil {
			return fmt.Errorf("sqlite: counting route patterns: %w", err)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM fare_rules WHERE namespace = ? AND route_id = ?`, ns, routeID,
		).Scan(&ruleCount); err != nil {
			return fmt.Errorf("sqlite: counting route fare rules: %w", err)
		}
		if patternCount+ruleCount > 0 && !cascade {
			return apperror.ReferentialIntegrity("route", routeID,
				fmt.Sprintf("%d pattern(s) and %d fare rule(s)", patternCount, ruleCount))
		}
		if patternCount+ruleCount > 0 {
			if err := deleteRouteCascadeTx(ctx, tx, ns, routeID); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM routes WHERE namespace = ? AND id = ?`, ns, id,
		); err != nil {
			return fmt.Errorf("sqlite: deleting route %s: %w", id, err)
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) RouteExists(ctx context.Context, ns, routeID string) (bool, error) {
	ok, err := existsTx(ctx, db.conn,
		`SELECT COUNT(*) FROM routes WHERE namespace = ? AND route_id = ?`, ns, routeID)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking route %s: %w", routeID, err)
	}
	return ok, nil
}
