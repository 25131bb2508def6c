// Package sqlite implements the repository interfaces using SQLite as the
// storage backend (modernc.org/sqlite, pure Go; ":memory:" works for tests).
//
// Every entity table is keyed by (namespace, id): the namespace is the owning
// snapshot's ID while the entity set is editable, or a feed version's ID once
// frozen. Forking a snapshot from a version and freezing a version from a
// snapshot are both implemented as a transactional row copy between
// namespaces, so no entity is ever shared by reference across snapshots.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements the repository interfaces.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath (":memory:" for an in-memory database),
// configures it, and runs migrations.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL allows concurrent reads while a write is in flight.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS feed_sources (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			fetch_url          TEXT NOT NULL DEFAULT '',
			deployable         INTEGER NOT NULL DEFAULT 0,
			active_snapshot_id TEXT,
			created_at         DATETIME NOT NULL,
			updated_at         DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS snapshots (
			id             TEXT PRIMARY KEY,
			feed_source_id TEXT NOT NULL,
			name           TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL,
			edits          INTEGER NOT NULL DEFAULT 0,
			created_at     DATETIME NOT NULL,
			updated_at     DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_feed_source ON snapshots(feed_source_id);

		CREATE TABLE IF NOT EXISTS feed_versions (
			id             TEXT PRIMARY KEY,
			feed_source_id TEXT NOT NULL,
			snapshot_id    TEXT NOT NULL DEFAULT '',
			start_date     TEXT NOT NULL,
			end_date       TEXT NOT NULL,
			content_hash   TEXT NOT NULL,
			size_bytes     INTEGER NOT NULL,
			bundle         BLOB NOT NULL,
			created_at     DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_feed_versions_feed_source ON feed_versions(feed_source_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS agencies (
			namespace  TEXT NOT NULL,
			id         TEXT NOT NULL,
			agency_id  TEXT NOT NULL,
			name       TEXT NOT NULL,
			url        TEXT NOT NULL DEFAULT '',
			timezone   TEXT NOT NULL DEFAULT '',
			lang       TEXT NOT NULL DEFAULT '',
			phone      TEXT NOT NULL DEFAULT '',
			fare_url   TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (namespace, id),
			UNIQUE (namespace, agency_id)
		);

		CREATE TABLE IF NOT EXISTS stops (
			namespace     TEXT NOT NULL,
			id            TEXT NOT NULL,
			stop_id       TEXT NOT NULL,
			name          TEXT NOT NULL,
			code          TEXT NOT NULL DEFAULT '',
			description   TEXT NOT NULL DEFAULT '',
			lat           REAL NOT NULL,
			lon           REAL NOT NULL,
			zone_id       TEXT NOT NULL DEFAULT '',
			location_type INTEGER NOT NULL DEFAULT 0,
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL,
			PRIMARY KEY (namespace, id),
			UNIQUE (namespace, stop_id)
		);

		CREATE TABLE IF NOT EXISTS routes (
			namespace   TEXT NOT NULL,
			id          TEXT NOT NULL,
			route_id    TEXT NOT NULL,
			agency_id   TEXT NOT NULL,
			short_name  TEXT NOT NULL DEFAULT '',
			long_name   TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			type        INTEGER NOT NULL DEFAULT 3,
			color       TEXT NOT NULL DEFAULT '',
			text_color  TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL,
			PRIMARY KEY (namespace, id),
			UNIQUE (namespace, route_id)
		);

		CREATE TABLE IF NOT EXISTS calendars (
			namespace   TEXT NOT NULL,
			id          TEXT NOT NULL,
			service_id  TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			monday      INTEGER NOT NULL DEFAULT 0,
			tuesday     INTEGER NOT NULL DEFAULT 0,
			wednesday   INTEGER NOT NULL DEFAULT 0,
			thursday    INTEGER NOT NULL DEFAULT 0,
			friday      INTEGER NOT NULL DEFAULT 0,
			saturday    INTEGER NOT NULL DEFAULT 0,
			sunday      INTEGER NOT NULL DEFAULT 0,
			start_date  TEXT NOT NULL,
			end_date    TEXT NOT NULL,
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL,
			PRIMARY KEY (namespace, id),
			UNIQUE (namespace, service_id)
		);

		CREATE TABLE IF NOT EXISTS calendar_exceptions (
			namespace     TEXT NOT NULL,
			id            TEXT NOT NULL,
			service_id    TEXT NOT NULL,
			name          TEXT NOT NULL,
			added_dates   TEXT NOT NULL DEFAULT '[]',
			removed_dates TEXT NOT NULL DEFAULT '[]',
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL,
			PRIMARY KEY (namespace, id),
			UNIQUE (namespace, service_id)
		);

		CREATE TABLE IF NOT EXISTS fares (
			namespace         TEXT NOT NULL,
			id                TEXT NOT NULL,
			fare_id           TEXT NOT NULL,
			price             REAL NOT NULL,
			currency_type     TEXT NOT NULL,
			payment_method    INTEGER NOT NULL DEFAULT 0,
			transfers         INTEGER,
			transfer_duration INTEGER,
			created_at        DATETIME NOT NULL,
			updated_at        DATETIME NOT NULL,
			PRIMARY KEY (namespace, id),
			UNIQUE (namespace, fare_id)
		);

		CREATE TABLE IF NOT EXISTS fare_rules (
			namespace     TEXT NOT NULL,
			id            TEXT NOT NULL,
			fare_id       TEXT NOT NULL,
			route_id      TEXT NOT NULL DEFAULT '',
			origin_zone   TEXT NOT NULL DEFAULT '',
			dest_zone     TEXT NOT NULL DEFAULT '',
			contains_zone TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL,
			PRIMARY KEY (namespace, id)
		);

		CREATE TABLE IF NOT EXISTS patterns (
			namespace  TEXT NOT NULL,
			id         TEXT NOT NULL,
			pattern_id TEXT NOT NULL,
			route_id   TEXT NOT NULL,
			name       TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (namespace, id),
			UNIQUE (namespace, pattern_id)
		);

		CREATE TABLE IF NOT EXISTS pattern_stops (
			namespace           TEXT NOT NULL,
			id                  TEXT NOT NULL,
			pattern_id          TEXT NOT NULL,
			position            INTEGER NOT NULL,
			stop_id             TEXT NOT NULL,
			shape_dist_traveled REAL NOT NULL DEFAULT 0,
			default_travel_time INTEGER NOT NULL DEFAULT 0,
			default_dwell_time  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (namespace, id)
		);
		CREATE INDEX IF NOT EXISTS idx_pattern_stops_seq ON pattern_stops(namespace, pattern_id, position);

		CREATE TABLE IF NOT EXISTS trips (
			namespace  TEXT NOT NULL,
			id         TEXT NOT NULL,
			trip_id    TEXT NOT NULL,
			pattern_id TEXT NOT NULL,
			service_id TEXT NOT NULL,
			headsign   TEXT NOT NULL DEFAULT '',
			short_name TEXT NOT NULL DEFAULT '',
			block_id   TEXT NOT NULL DEFAULT '',
			direction  INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (namespace, id),
			UNIQUE (namespace, trip_id)
		);
		CREATE INDEX IF NOT EXISTS idx_trips_pattern ON trips(namespace, pattern_id);
		CREATE INDEX IF NOT EXISTS idx_trips_service ON trips(namespace, service_id);

		CREATE TABLE IF NOT EXISTS stop_times (
			namespace TEXT NOT NULL,
			id        TEXT NOT NULL,
			trip_id   TEXT NOT NULL,
			ordinal   INTEGER NOT NULL,
			arrival   INTEGER,
			departure INTEGER,
			PRIMARY KEY (namespace, id)
		);
		CREATE INDEX IF NOT EXISTS idx_stop_times_seq ON stop_times(namespace, trip_id, ordinal);
	`)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}

// bumpSnapshot increments the owning snapshot's modification counter. A no-op
// when ns is a feed-version namespace, which can only happen for internal
// loads; mutating operations are only ever issued against snapshots.
func bumpSnapshot(ctx context.Context, tx *sql.Tx, ns string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE snapshots SET edits = edits + 1, updated_at = ? WHERE id = ?`,
		time.Now(), ns,
	)
	if err != nil {
		return fmt.Errorf("bumping snapshot %s: %w", ns, err)
	}
	return nil
}

// entityTables lists every namespaced table with its copyable columns, used
// by copyNamespace and by feed-source/version cleanup.
var entityTables = []struct {
	name string
	cols string
}{
	{"agencies", "id, agency_id, name, url, timezone, lang, phone, fare_url, created_at, updated_at"},
	{"stops", "id, stop_id, name, code, description, lat, lon, zone_id, location_type, created_at, updated_at"},
	{"routes", "id, route_id, agency_id, short_name, long_name, description, type, color, text_color, created_at, updated_at"},
	{"calendars", "id, service_id, description, monday, tuesday, wednesday, thursday, friday, saturday, sunday, start_date, end_date, created_at, updated_at"},
	{"calendar_exceptions", "id, service_id, name, added_dates, removed_dates, created_at, updated_at"},
	{"fares", "id, fare_id, price, currency_type, payment_method, transfers, transfer_duration, created_at, updated_at"},
	{"fare_rules", "id, fare_id, route_id, origin_zone, dest_zone, contains_zone, created_at, updated_at"},
	{"patterns", "id, pattern_id, route_id, name, created_at, updated_at"},
	{"pattern_stops", "id, pattern_id, position, stop_id, shape_dist_traveled, default_travel_time, default_dwell_time"},
	{"trips", "id, trip_id, pattern_id, service_id, headsign, short_name, block_id, direction, created_at, updated_at"},
	{"stop_times", "id, trip_id, ordinal, arrival, departure"},
}

// copyNamespace duplicates every entity row from one namespace into another.
// Surrogate IDs are carried over: they only need to be stable within a
// namespace, and keeping them makes fork-then-diff debugging saner.
func copyNamespace(ctx context.Context, tx *sql.Tx, from, to string) error {
	for _, t := range entityTables {
		q := fmt.Sprintf(
			`INSERT INTO %s (namespace, %s) SELECT ?, %s FROM %s WHERE namespace = ?`,
			t.name, t.cols, t.cols, t.name,
		)
		if _, err := tx.ExecContext(ctx, q, to, from); err != nil {
			return fmt.Errorf("copying %s rows: %w", t.name, err)
		}
	}
	return nil
}

// deleteNamespace removes every entity row in a namespace.
func deleteNamespace(ctx context.Context, tx *sql.Tx, ns string) error {
	for _, t := range entityTables {
		q := fmt.Sprintf(`DELETE FROM %s WHERE namespace = ?`, t.name)
		if _, err := tx.ExecContext(ctx, q, ns); err != nil {
			return fmt.Errorf("deleting %s rows: %w", t.name, err)
		}
	}
	return nil
}

// existsTx reports whether the parameterized EXISTS-style count query matches
// at least one row.
func existsTx(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, query string, args ...any) (bool, error) {
	var count int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
