package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rickb777/date"
	"github.com/rs/xid"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/model"
	"github.com/transitkit/feedsmith/internal/repository"
)

var _ repository.FeedRepository = (*DB)(nil)

func (db *DB) CreateFeedSource(ctx context.Context, fs *model.FeedSource) error {
	fs.ID = xid.New().String()
	now := time.Now()
	fs.CreatedAt = now
	fs.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO feed_sources (id, name, fetch_url, deployable, active_snapshot_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, NULL, ?, ?)`,
		fs.ID, fs.Name, fs.FetchURL, fs.Deployable, fs.CreatedAt, fs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating feed source: %w", err)
	}
	return nil
}

func (db *DB) GetFeedSource(ctx context.Context, id string) (*model.FeedSource, error) {
	var fs model.FeedSource
	var active sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, fetch_url, deployable, active_snapshot_id, created_at, updated_at
		 FROM feed_sources WHERE id = ?`, id,
	).Scan(&fs.ID, &fs.Name, &fs.FetchURL, &fs.Deployable, &active, &fs.CreatedAt, &fs.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("feed source", id)
		}
		return nil, fmt.Errorf("sqlite: getting feed source %s: %w", id, err)
	}
	if active.Valid {
		fs.ActiveSnapshotID = &active.String
	}
	return &fs, nil
}

func (db *DB) ListFeedSources(ctx context.Context, opts repository.ListOptions) ([]model.FeedSource, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, fetch_url, deployable, active_snapshot_id, created_at, updated_at
		 FROM feed_sources ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing feed sources: %w", err)
	}
	defer rows.Close()

	sources := make([]model.FeedSource, 0, limit)
	for rows.Next() {
		var fs model.FeedSource
		var active sql.NullString
		if err := rows.Scan(&fs.ID, &fs.Name, &fs.FetchURL, &fs.Deployable, &active, &fs.CreatedAt, &fs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning feed source row: %w", err)
		}
		if active.Valid {
			fs.ActiveSnapshotID = &active.String
		}
		sources = append(sources, fs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating feed sources: %w", err)
	}
	return sources, nil
}

func (db *DB) UpdateFeedSource(ctx context.Context, fs *model.FeedSource) error {
	fs.UpdatedAt = time.Now()
	result, err := db.conn.ExecContext(ctx,
		`UPDATE feed_sources SET name = ?, fetch_url = ?, deployable = ?, updated_at = ? WHERE id = ?`,
		fs.Name, fs.FetchURL, fs.Deployable, fs.UpdatedAt, fs.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating feed source %s: %w", fs.ID, err)
	}
	return checkAffected(result, "feed source", fs.ID)
}

// DeleteFeedSource removes the source plus every snapshot, version, and
// entity namespace under it.
func (db *DB) DeleteFeedSource(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		namespaces := []string{}

		collect := func(query string) error {
			rows, err := tx.QueryContext(ctx, query, id)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var ns string
				if err := rows.Scan(&ns); err != nil {
					return err
				}
				namespaces = append(namespaces, ns)
			}
			return rows.Err()
		}
		if err := collect(`SELECT id FROM snapshots WHERE feed_source_id = ?`); err != nil {
			return fmt.Errorf("sqlite: collecting snapshot namespaces: %w", err)
		}
		if err := collect(`SELECT id FROM feed_versions WHERE feed_source_id = ?`); err != nil {
			return fmt.Errorf("sqlite: collecting version namespaces: %w", err)
		}

		for _, ns := range namespaces {
			if err := deleteNamespace(ctx, tx, ns); err != nil {
				return fmt.Errorf("sqlite: deleting feed source %s: %w", id, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE feed_source_id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: deleting snapshots: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM feed_versions WHERE feed_source_id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: deleting feed versions: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM feed_sources WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlite: deleting feed source %s: %w", id, err)
		}
		return checkAffected(result, "feed source", id)
	})
}

// CreateSnapshot inserts the snapshot, copies the source namespace when
// forking from a version, and makes it the feed source's active snapshot.
func (db *DB) CreateSnapshot(ctx context.Context, snap *model.Snapshot, fromNamespace string) error {
	snap.ID = xid.New().String()
	now := time.Now()
	snap.CreatedAt = now
	snap.UpdatedAt = now
	if snap.Status == "" {
		snap.Status = model.SnapshotEditing
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (id, feed_source_id, name, status, edits, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 0, ?, ?)`,
			snap.ID, snap.FeedSourceID, snap.Name, snap.Status, snap.CreatedAt, snap.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating snapshot: %w", err)
		}

		if fromNamespace != "" {
			if err := copyNamespace(ctx, tx, fromNamespace, snap.ID); err != nil {
				return fmt.Errorf("sqlite: forking snapshot from %s: %w", fromNamespace, err)
			}
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE feed_sources SET active_snapshot_id = ?, updated_at = ? WHERE id = ?`,
			snap.ID, now, snap.FeedSourceID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: activating snapshot: %w", err)
		}
		return checkAffected(result, "feed source", snap.FeedSourceID)
	})
}

func (db *DB) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	var s model.Snapshot
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, feed_source_id, name, status, edits, created_at, updated_at
		 FROM snapshots WHERE id = ?`, id,
	).Scan(&s.ID, &s.FeedSourceID, &s.Name, &s.Status, &s.Edits, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("snapshot", id)
		}
		return nil, fmt.Errorf("sqlite: getting snapshot %s: %w", id, err)
	}
	return &s, nil
}

func (db *DB) ListSnapshots(ctx context.Context, feedSourceID string) ([]model.Snapshot, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, feed_source_id, name, status, edits, created_at, updated_at
		 FROM snapshots WHERE feed_source_id = ? ORDER BY created_at DESC`,
		feedSourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []model.Snapshot
	for rows.Next() {
		var s model.Snapshot
		if err := rows.Scan(&s.ID, &s.FeedSourceID, &s.Name, &s.Status, &s.Edits, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning snapshot row: %w", err)
		}
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating snapshots: %w", err)
	}
	return snaps, nil
}

func (db *DB) SetSnapshotStatus(ctx context.Context, id string, status model.SnapshotStatus) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE snapshots SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting snapshot %s status: %w", id, err)
	}
	return checkAffected(result, "snapshot", id)
}

// DiscardSnapshot abandons an editable snapshot: status discarded, active
// pointer cleared, entity rows dropped. The snapshot row itself stays for
// history.
func (db *DB) DiscardSnapshot(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var feedSourceID string
		err := tx.QueryRowContext(ctx,
			`SELECT feed_source_id FROM snapshots WHERE id = ?`, id,
		).Scan(&feedSourceID)
		if err != nil {
			if err == sql.ErrNoRows {
				return apperror.NotFound("snapshot", id)
			}
			return fmt.Errorf("sqlite: getting snapshot %s: %w", id, err)
		}

		now := time.Now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE snapshots SET status = ?, updated_at = ? WHERE id = ?`,
			model.SnapshotDiscarded, now, id,
		); err != nil {
			return fmt.Errorf("sqlite: discarding snapshot %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE feed_sources SET active_snapshot_id = NULL, updated_at = ?
			 WHERE id = ? AND active_snapshot_id = ?`,
			now, feedSourceID, id,
		); err != nil {
			return fmt.Errorf("sqlite: deactivating snapshot %s: %w", id, err)
		}
		if err := deleteNamespace(ctx, tx, id); err != nil {
			return fmt.Errorf("sqlite: dropping snapshot namespace %s: %w", id, err)
		}
		return nil
	})
}

// PublishSnapshot freezes the snapshot's entity set into an immutable feed
// version in one transaction: copy rows under the version namespace, store
// the bundle, mark the snapshot published, clear the active pointer.
func (db *DB) PublishSnapshot(ctx context.Context, v *model.FeedVersion, bundle []byte) error {
	v.ID = xid.New().String()
	v.CreatedAt = time.Now()
	v.SizeBytes = int64(len(bundle))

	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO feed_versions (id, feed_source_id, snapshot_id, start_date, end_date, content_hash, size_bytes, bundle, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ID, v.FeedSourceID, v.SnapshotID, v.StartDate.String(), v.EndDate.String(),
			v.ContentHash, v.SizeBytes, bundle, v.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating feed version: %w", err)
		}

		if err := copyNamespace(ctx, tx, v.SnapshotID, v.ID); err != nil {
			return fmt.Errorf("sqlite: freezing snapshot %s: %w", v.SnapshotID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE snapshots SET status = ?, updated_at = ? WHERE id = ?`,
			model.SnapshotPublished, v.CreatedAt, v.SnapshotID,
		); err != nil {
			return fmt.Errorf("sqlite: marking snapshot published: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE feed_sources SET active_snapshot_id = NULL, updated_at = ?
			 WHERE id = ? AND active_snapshot_id = ?`,
			v.CreatedAt, v.FeedSourceID, v.SnapshotID,
		); err != nil {
			return fmt.Errorf("sqlite: deactivating snapshot: %w", err)
		}
		return nil
	})
}

func (db *DB) CreateImportedVersion(ctx context.Context, v *model.FeedVersion, bundle []byte, set *model.EntitySet) error {
	v.ID = xid.New().String()
	v.CreatedAt = time.Now()
	v.SizeBytes = int64(len(bundle))

	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO feed_versions (id, feed_source_id, snapshot_id, start_date, end_date, content_hash, size_bytes, bundle, created_at)
			 VALUES (?, ?, '', ?, ?, ?, ?, ?, ?)`,
			v.ID, v.FeedSourceID, v.StartDate.String(), v.EndDate.String(),
			v.ContentHash, v.SizeBytes, bundle, v.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating imported version: %w", err)
		}
		if err := insertEntitySet(ctx, tx, v.ID, set); err != nil {
			return fmt.Errorf("sqlite: storing imported entity set: %w", err)
		}
		return nil
	})
}

func (db *DB) GetFeedVersion(ctx context.Context, id string) (*model.FeedVersion, error) {
	return db.scanFeedVersion(db.conn.QueryRowContext(ctx,
		`SELECT id, feed_source_id, snapshot_id, start_date, end_date, content_hash, size_bytes, created_at
		 FROM feed_versions WHERE id = ?`, id), id)
}

func (db *DB) LatestFeedVersion(ctx context.Context, feedSourceID string) (*model.FeedVersion, error) {
	return db.scanFeedVersion(db.conn.QueryRowContext(ctx,
		`SELECT id, feed_source_id, snapshot_id, start_date, end_date, content_hash, size_bytes, created_at
		 FROM feed_versions WHERE feed_source_id = ? ORDER BY created_at DESC LIMIT 1`,
		feedSourceID), feedSourceID)
}

func (db *DB) scanFeedVersion(row *sql.Row, id string) (*model.FeedVersion, error) {
	var v model.FeedVersion
	var start, end string
	err := row.Scan(&v.ID, &v.FeedSourceID, &v.SnapshotID, &start, &end, &v.ContentHash, &v.SizeBytes, &v.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("feed version", id)
		}
		return nil, fmt.Errorf("sqlite: getting feed version %s: %w", id, err)
	}
	if v.StartDate, err = date.ParseISO(start); err != nil {
		return nil, fmt.Errorf("sqlite: parsing version start date %q: %w", start, err)
	}
	if v.EndDate, err = date.ParseISO(end); err != nil {
		return nil, fmt.Errorf("sqlite: parsing version end date %q: %w", end, err)
	}
	return &v, nil
}

func (db *DB) ListFeedVersions(ctx context.Context, feedSourceID string) ([]model.FeedVersion, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, feed_source_id, snapshot_id, start_date, end_date, content_hash, size_bytes, created_at
		 FROM feed_versions WHERE feed_source_id = ? ORDER BY created_at DESC`,
		feedSourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing feed versions: %w", err)
	}
	defer rows.Close()

	var versions []model.FeedVersion
	for rows.Next() {
		var v model.FeedVersion
		var start, end string
		if err := rows.Scan(&v.ID, &v.FeedSourceID, &v.SnapshotID, &start, &end, &v.ContentHash, &v.SizeBytes, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning feed version row: %w", err)
		}
		if v.StartDate, err = date.ParseISO(start); err != nil {
			return nil, fmt.Errorf("sqlite: parsing version start date %q: %w", start, err)
		}
		if v.EndDate, err = date.ParseISO(end); err != nil {
			return nil, fmt.Errorf("sqlite: parsing version end date %q: %w", end, err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating feed versions: %w", err)
	}
	return versions, nil
}

// DeleteFeedVersion removes a version and its frozen entity namespace.
// Version deletion is independent of snapshots.
func (db *DB) DeleteFeedVersion(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := deleteNamespace(ctx, tx, id); err != nil {
			return fmt.Errorf("sqlite: deleting version namespace %s: %w", id, err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM feed_versions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlite: deleting feed version %s: %w", id, err)
		}
		return checkAffected(result, "feed version", id)
	})
}

func (db *DB) FeedVersionBundle(ctx context.Context, id string) ([]byte, error) {
	var bundle []byte
	err := db.conn.QueryRowContext(ctx,
		`SELECT bundle FROM feed_versions WHERE id = ?`, id,
	).Scan(&bundle)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("feed version", id)
		}
		return nil, fmt.Errorf("sqlite: reading feed version bundle %s: %w", id, err)
	}
	return bundle, nil
}

// checkAffected maps a zero-row UPDATE/DELETE to a not-found error.
func checkAffected(result sql.Result, resource, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if affected == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
