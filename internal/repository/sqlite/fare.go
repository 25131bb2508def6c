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

func (db *DB) CreateFare(ctx context.Context, ns string, f *model.Fare) error {
	f.ID = xid.New().String()
	now := time.Now()
	f.CreatedAt = now
	f.UpdatedAt = now

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := conflictCheckTx(ctx, tx, ns, "fares", "fare_id", f.FareID, f.ID, "fare"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO fares (namespace, id, fare_id, price, currency_type, payment_method, transfers, transfer_duration, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, f.ID, f.FareID, f.Price, f.CurrencyType, f.PaymentMethod, f.Transfers, f.TransferDuration, f.CreatedAt, f.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating fare: %w", err)
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) GetFare(ctx context.Context, ns, id string) (*model.Fare, error) {
	var f model.Fare
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, fare_id, price, currency_type, payment_method, transfers, transfer_duration, created_at, updated_at
		 FROM fares WHERE namespace = ? AND id = ?`, ns, id,
	).Scan(&f.ID, &f.FareID, &f.Price, &f.CurrencyType, &f.PaymentMethod, &f.Transfers, &f.TransferDuration, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("fare", id)
		}
		return nil, fmt.Errorf("sqlite: getting fare %s: %w", id, err)
	}
	return &f, nil
}

func (db *DB) ListFares(ctx context.Context, ns string) ([]model.Fare, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, fare_id, price, currency_type, payment_method, transfers, transfer_duration, created_at, updated_at
		 FROM fares WHERE namespace = ? ORDER BY fare_id`, ns)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing fares: %w", err)
	}
	defer rows.Close()

	var fares []model.Fare
	for rows.Next() {
		var f model.Fare
		if err := rows.Scan(&f.ID, &f.FareID, &f.Price, &f.CurrencyType, &f.PaymentMethod, &f.Transfers, &f.TransferDuration, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning fare row: %w", err)
		}
		fares = append(fares, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating fares: %w", err)
	}
	return fares, nil
}

func (db *DB) UpdateFare(ctx context.Context, ns string, f *model.Fare) error {
	f.UpdatedAt = time.Now()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := conflictCheckTx(ctx, tx, ns, "fares", "fare_id", f.FareID, f.ID, "fare"); err != nil {
			return err
		}
		oldKey, err := currentKeyTx(ctx, tx, ns, "fares", "fare_id", f.ID, "fare")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE fares SET fare_id = ?, price = ?, currency_type = ?, payment_method = ?, transfers = ?, transfer_duration = ?, updated_at = ?
			 WHERE namespace = ? AND id = ?`,
			f.FareID, f.Price, f.CurrencyType, f.PaymentMethod, f.Transfers, f.TransferDuration, f.UpdatedAt, ns, f.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating fare %s: %w", f.ID, err)
		}
		// Fare rules reference the fare by natural key; keep them attached if
		// it changes.
		if err := cascadeRenameTx(ctx, tx, ns, oldKey, f.FareID, keyRef{"fare_rules", "fare_id"}); err != nil {
			return err
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) DeleteFare(ctx context.Context, ns, id string, cascade bool) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var fareID string
		err := tx.QueryRowContext(ctx,
			`SELECT fare_id FROM fares WHERE namespace = ? AND id = ?`, ns, id,
		).Scan(&fareID)
		if err != nil {
			if err == sql.ErrNoRows {
				return apperror.NotFound("fare", id)
			}
			return fmt.Errorf("sqlite: getting fare %s: %w", id, err)
		}

		var ruleCount int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM fare_rules WHERE namespace = ? AND fare_id = ?`, ns, fareID,
		).Scan(&ruleCount); err != nil {
			return fmt.Errorf("sqlite: counting fare rules: %w", err)
		}
		if ruleCount > 0 {
			if !cascade {
				return apperror.ReferentialIntegrity("fare", fareID, fmt.Sprintf("%d fare rule(s)", ruleCount))
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM fare_rules WHERE namespace = ? AND fare_id = ?`, ns, fareID,
			); err != nil {
				return fmt.Errorf("sqlite: deleting fare rules for %s: %w", fareID, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM fares WHERE namespace = ? AND id = ?`, ns, id,
		); err != nil {
			return fmt.Errorf("sqlite: deleting fare %s: %w", id, err)
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) FareExists(ctx context.Context, ns, fareID string) (bool, error) {
	ok, err := existsTx(ctx, db.conn,
		`SELECT COUNT(*) FROM fares WHERE namespace = ? AND fare_id = ?`, ns, fareID)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking fare %s: %w", fareID, err)
	}
	return ok, nil
}

func (db *DB) CreateFareRule(ctx context.Context, ns string, fr *model.FareRule) error {
	fr.ID = xid.New().String()
	now := time.Now()
	fr.CreatedAt = now
	fr.UpdatedAt = now

	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO fare_rules (namespace, id, fare_id, route_id, origin_zone, dest_zone, contains_zone, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, fr.ID, fr.FareID, fr.RouteID, fr.OriginZone, fr.DestZone, fr.ContainsZone, fr.CreatedAt, fr.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating fare rule: %w", err)
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) GetFareRule(ctx context.Context, ns, id string) (*model.FareRule, error) {
	var fr model.FareRule
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, fare_id, route_id, origin_zone, dest_zone, contains_zone, created_at, updated_at
		 FROM fare_rules WHERE namespace = ? AND id = ?`, ns, id,
	).Scan(&fr.ID, &fr.FareID, &fr.RouteID, &fr.OriginZone, &fr.DestZone, &fr.ContainsZone, &fr.CreatedAt, &fr.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("fare rule", id)
		}
		return nil, fmt.Errorf("sqlite: getting fare rule %s: %w", id, err)
	}
	return &fr, nil
}

func (db *DB) ListFareRules(ctx context.Context, ns string) ([]model.FareRule, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, fare_id, route_id, origin_zone, dest_zone, contains_zone, created_at, updated_at
		 FROM fare_rules WHERE namespace = ? ORDER BY fare_id, id`, ns)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing fare rules: %w", err)
	}
	defer rows.Close()

	var rules []model.FareRule
	for rows.Next() {
		var fr model.FareRule
		if err := rows.Scan(&fr.ID, &fr.FareID, &fr.RouteID, &fr.OriginZone, &fr.DestZone, &fr.ContainsZone, &fr.CreatedAt, &fr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning fare rule row: %w", err)
		}
		rules = append(rules, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating fare rules: %w", err)
	}
	return rules, nil
}

func (db *DB) UpdateFareRule(ctx context.Context, ns string, fr *model.FareRule) error {
	fr.UpdatedAt = time.Now()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE fare_rules SET fare_id = ?, route_id = ?, origin_zone = ?, dest_zone = ?, contains_zone = ?, updated_at = ?
			 WHERE namespace = ? AND id = ?`,
			fr.FareID, fr.RouteID, fr.OriginZone, fr.DestZone, fr.ContainsZone, fr.UpdatedAt, ns, fr.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating fare rule %s: %w", fr.ID, err)
		}
		if err := checkAffected(result, "fare rule", fr.ID); err != nil {
			return err
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) DeleteFareRule(ctx context.Context, ns, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM fare_rules WHERE namespace = ? AND id = ?`, ns, id,
		)
		if err != nil {
			return fmt.Errorf("sqlite: deleting fare rule %s: %w", id, err)
		}
		if err := checkAffected(result, "fare rule", id); err != nil {
			return err
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}
