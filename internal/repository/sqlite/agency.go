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

var _ repository.EntityRepository = (*DB)(nil)

// conflictCheckTx rejects a natural key already held by a different surrogate
// identity in the same namespace. table and column are trusted constants.
func conflictCheckTx(ctx context.Context, tx *sql.Tx, ns, table, column, key, excludeID, resource string) error {
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE namespace = ? AND %s = ? AND id <> ?`, table, column)
	taken, err := existsTx(ctx, tx, q, ns, key, excludeID)
	if err != nil {
		return fmt.Errorf("sqlite: checking %s key: %w", resource, err)
	}
	if taken {
		return apperror.Conflict(resource, key)
	}
	return nil
}

// keyRef names a table column that references an entity's natural key within
// the same namespace.
type keyRef struct {
	table  string
	column string
}

// currentKeyTx reads the natural key an entity currently holds, before an
// update overwrites it.
func currentKeyTx(ctx context.Context, tx *sql.Tx, ns, table, column, id, resource string) (string, error) {
	var key string
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE namespace = ? AND id = ?`, column, table)
	if err := tx.QueryRowContext(ctx, q, ns, id).Scan(&key); err != nil {
		if err == sql.ErrNoRows {
			return "", apperror.NotFound(resource, id)
		}
		return "", fmt.Errorf("sqlite: getting %s %s: %w", resource, id, err)
	}
	return key, nil
}

// cascadeRenameTx carries a natural-key change into every referencing column,
// so references keep resolving after the rename. No-op when the key is
// unchanged.
func cascadeRenameTx(ctx context.Context, tx *sql.Tx, ns, oldKey, newKey string, refs ...keyRef) error {
	if oldKey == newKey {
		return nil
	}
	for _, ref := range refs {
		q := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE namespace = ? AND %s = ?`, ref.table, ref.column, ref.column)
		if _, err := tx.ExecContext(ctx, q, newKey, ns, oldKey); err != nil {
			return fmt.Errorf("sqlite: renaming %s.%s: %w", ref.table, ref.column, err)
		}
	}
	return nil
}

func (db *DB) CreateAgency(ctx context.Context, ns string, a *model.Agency) error {
	a.ID = xid.New().String()
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := conflictCheckTx(ctx, tx, ns, "agencies", "agency_id", a.AgencyID, a.ID, "agency"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO agencies (namespace, id, agency_id, name, url, timezone, lang, phone, fare_url, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, a.ID, a.AgencyID, a.Name, a.URL, a.Timezone, a.Lang, a.Phone, a.FareURL, a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating agency: %w", err)
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) GetAgency(ctx context.Context, ns, id string) (*model.Agency, error) {
	var a model.Agency
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, agency_id, name, url, timezone, lang, phone, fare_url, created_at, updated_at
		 FROM agencies WHERE namespace = ? AND id = ?`, ns, id,
	).Scan(&a.ID, &a.AgencyID, &a.Name, &a.URL, &a.Timezone, &a.Lang, &a.Phone, &a.FareURL, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("agency", id)
		}
		return nil, fmt.Errorf("sqlite: getting agency %s: %w", id, err)
	}
	return &a, nil
}

func (db *DB) ListAgencies(ctx context.Context, ns string) ([]model.Agency, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, agency_id, name, url, timezone, lang, phone, fare_url, created_at, updated_at
		 FROM agencies WHERE namespace = ? ORDER BY agency_id`, ns)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing agencies: %w", err)
	}
	defer rows.Close()

	var agencies []model.Agency
	for rows.Next() {
		var a model.Agency
		if err := rows.Scan(&a.ID, &a.AgencyID, &a.Name, &a.URL, &a.Timezone, &a.Lang, &a.Phone, &a.FareURL, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning agency row: %w", err)
		}
		agencies = append(agencies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating agencies: %w", err)
	}
	return agencies, nil
}

func (db *DB) UpdateAgency(ctx context.Context, ns string, a *model.Agency) error {
	a.UpdatedAt = time.Now()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := conflictCheckTx(ctx, tx, ns, "agencies", "agency_id", a.AgencyID, a.ID, "agency"); err != nil {
			return err
		}
		oldKey, err := currentKeyTx(ctx, tx, ns, "agencies", "agency_id", a.ID, "agency")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE agencies SET agency_id = ?, name = ?, url = ?, timezone = ?, lang = ?, phone = ?, fare_url = ?, updated_at = ?
			 WHERE namespace = ? AND id = ?`,
			a.AgencyID, a.Name, a.URL, a.Timezone, a.Lang, a.Phone, a.FareURL, a.UpdatedAt, ns, a.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating agency %s: %w", a.ID, err)
		}
		// Routes reference the agency by natural key; keep them attached if it
		// changes.
		if err := cascadeRenameTx(ctx, tx, ns, oldKey, a.AgencyID, keyRef{"routes", "agency_id"}); err != nil {
			return err
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) DeleteAgency(ctx context.Context, ns, id string, cascade bool) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var agencyID string
		err := tx.QueryRowContext(ctx,
			`SELECT agency_id FROM agencies WHERE namespace = ? AND id = ?`, ns, id,
		).Scan(&agencyID)
		if err != nil {
			if err == sql.ErrNoRows {
				return apperror.NotFound("agency", id)
			}
			return fmt.Errorf("sqlite: getting agency %s: %w", id, err)
		}

		var routeCount int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM routes WHERE namespace = ? AND agency_id = ?`, ns, agencyID,
		).Scan(&routeCount); err != nil {
			return fmt.Errorf("sqlite: counting agency dependents: %w", err)
		}
		if routeCount > 0 {
			if !cascade {
				return apperror.ReferentialIntegrity("agency", agencyID, fmt.Sprintf("%d route(s)", routeCount))
			}
			rows, err := tx.QueryContext(ctx,
				`SELECT route_id FROM routes WHERE namespace = ? AND agency_id = ?`, ns, agencyID)
			if err != nil {
				return fmt.Errorf("sqlite: listing agency routes: %w", err)
			}
			var routeIDs []string
			for rows.Next() {
				var rid string
				if err := rows.Scan(&rid); err != nil {
					rows.Close()
					return fmt.Errorf("sqlite: scanning route id: %w", err)
				}
				routeIDs = append(routeIDs, rid)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return fmt.Errorf("sqlite: iterating route ids: %w", err)
			}
			for _, rid := range routeIDs {
				if err := deleteRouteCascadeTx(ctx, tx, ns, rid); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM routes WHERE namespace = ? AND agency_id = ?`, ns, agencyID,
			); err != nil {
				return fmt.Errorf("sqlite: deleting agency routes: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM agencies WHERE namespace = ? AND id = ?`, ns, id,
		); err != nil {
			return fmt.Errorf("sqlite: deleting agency %s: %w", id, err)
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) AgencyExists(ctx context.Context, ns, agencyID string) (bool, error) {
	ok, err := existsTx(ctx, db.conn,
		`SELECT COUNT(*) FROM agencies WHERE namespace = ? AND agency_id = ?`, ns, agencyID)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking agency %s: %w", agencyID, err)
	}
	return ok, nil
}
