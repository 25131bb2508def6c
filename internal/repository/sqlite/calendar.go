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
)

// serviceIDConflictTx enforces uniqueness across the shared service-id
// namespace spanning calendars and calendar exceptions. excludeTable/ID skip
// the entity being updated.
func serviceIDConflictTx(ctx context.Context, tx *sql.Tx, ns, serviceID, excludeTable, excludeID string) error {
	for _, table := range []string{"calendars", "calendar_exceptions"} {
		exclude := ""
		if table == excludeTable {
			exclude = excludeID
		}
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE namespace = ? AND service_id = ? AND id <> ?`, table)
		taken, err := existsTx(ctx, tx, q, ns, serviceID, exclude)
		if err != nil {
			return fmt.Errorf("sqlite: checking service id: %w", err)
		}
		if taken {
			return apperror.Conflict("service", serviceID)
		}
	}
	return nil
}

func (db *DB) CreateCalendar(ctx context.Context, ns string, c *model.Calendar) error {
	c.ID = xid.New().String()
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := serviceIDConflictTx(ctx, tx, ns, c.ServiceID, "calendars", c.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO calendars (namespace, id, service_id, description, monday, tuesday, wednesday, thursday, friday, saturday, sunday, start_date, end_date, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, c.ID, c.ServiceID, c.Description,
			c.Monday, c.Tuesday, c.Wednesday, c.Thursday, c.Friday, c.Saturday, c.Sunday,
			c.StartDate.String(), c.EndDate.String(), c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating calendar: %w", err)
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func scanCalendar(row interface{ Scan(...any) error }) (*model.Calendar, error) {
	var c model.Calendar
	var start, end string
	err := row.Scan(&c.ID, &c.ServiceID, &c.Description,
		&c.Monday, &c.Tuesday, &c.Wednesday, &c.Thursday, &c.Friday, &c.Saturday, &c.Sunday,
		&start, &end, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if c.StartDate, err = date.ParseISO(start); err != nil {
		return nil, fmt.Errorf("parsing calendar start date %q: %w", start, err)
	}
	if c.EndDate, err = date.ParseISO(end); err != nil {
		return nil, fmt.Errorf("parsing calendar end date %q: %w", end, err)
	}
	return &c, nil
}

const calendarCols = `id, service_id, description, monday, tuesday, wednesday, thursday, friday, saturday, sunday, start_date, end_date, created_at, updated_at`

func (db *DB) GetCalendar(ctx context.Context, ns, id string) (*model.Calendar, error) {
	c, err := scanCalendar(db.conn.QueryRowContext(ctx,
		`SELECT `+calendarCols+` FROM calendars WHERE namespace = ? AND id = ?`, ns, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("calendar", id)
		}
		return nil, fmt.Errorf("sqlite: getting calendar %s: %w", id, err)
	}
	return c, nil
}

func (db *DB) ListCalendars(ctx context.Context, ns string) ([]model.Calendar, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+calendarCols+` FROM calendars WHERE namespace = ? ORDER BY service_id`, ns)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing calendars: %w", err)
	}
	defer rows.Close()

	var calendars []model.Calendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning calendar row: %w", err)
		}
		calendars = append(calendars, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating calendars: %w", err)
	}
	return calendars, nil
}

func (db *DB) UpdateCalendar(ctx context.Context, ns string, c *model.Calendar) error {
	c.UpdatedAt = time.Now()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := serviceIDConflictTx(ctx, tx, ns, c.ServiceID, "calendars", c.ID); err != nil {
			return err
		}
		oldKey, err := currentKeyTx(ctx, tx, ns, "calendars", "service_id", c.ID, "calendar")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE calendars SET service_id = ?, description = ?, monday = ?, tuesday = ?, wednesday = ?, thursday = ?, friday = ?, saturday = ?, sunday = ?, start_date = ?, end_date = ?, updated_at = ?
			 WHERE namespace = ? AND id = ?`,
			c.ServiceID, c.Description,
			c.Monday, c.Tuesday, c.Wednesday, c.Thursday, c.Friday, c.Saturday, c.Sunday,
			c.StartDate.String(), c.EndDate.String(), c.UpdatedAt, ns, c.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating calendar %s: %w", c.ID, err)
		}
		// Trips reference the service by natural key; keep them attached if it
		// changes.
		if err := cascadeRenameTx(ctx, tx, ns, oldKey, c.ServiceID, keyRef{"trips", "service_id"}); err != nil {
			return err
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) DeleteCalendar(ctx context.Context, ns, id string, cascade bool) error {
	return db.deleteService(ctx, ns, id, cascade, "calendars", "calendar")
}

func (db *DB) CreateCalendarException(ctx context.Context, ns string, e *model.CalendarException) error {
	e.ID = xid.New().String()
	now := time.Now()
	e.CreatedAt = now
	e.UpdatedAt = now

	added, removed, err := marshalExceptionDates(e)
	if err != nil {
		return fmt.Errorf("sqlite: creating calendar exception: %w", err)
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := serviceIDConflictTx(ctx, tx, ns, e.ServiceID, "calendar_exceptions", e.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO calendar_exceptions (namespace, id, service_id, name, added_dates, removed_dates, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, e.ID, e.ServiceID, e.Name, added, removed, e.CreatedAt, e.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: creating calendar exception: %w", err)
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func scanCalendarException(row interface{ Scan(...any) error }) (*model.CalendarException, error) {
	var e model.CalendarException
	var added, removed string
	err := row.Scan(&e.ID, &e.ServiceID, &e.Name, &added, &removed, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if e.AddedDates, err = parseISODates(added); err != nil {
		return nil, err
	}
	if e.RemovedDates, err = parseISODates(removed); err != nil {
		return nil, err
	}
	return &e, nil
}

func (db *DB) GetCalendarException(ctx context.Context, ns, id string) (*model.CalendarException, error) {
	e, err := scanCalendarException(db.conn.QueryRowContext(ctx,
		`SELECT id, service_id, name, added_dates, removed_dates, created_at, updated_at
		 FROM calendar_exceptions WHERE namespace = ? AND id = ?`, ns, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("calendar exception", id)
		}
		return nil, fmt.Errorf("sqlite: getting calendar exception %s: %w", id, err)
	}
	return e, nil
}

func (db *DB) ListCalendarExceptions(ctx context.Context, ns string) ([]model.CalendarException, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, service_id, name, added_dates, removed_dates, created_at, updated_at
		 FROM calendar_exceptions WHERE namespace = ? ORDER BY service_id`, ns)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing calendar exceptions: %w", err)
	}
	defer rows.Close()

	var exceptions []model.CalendarException
	for rows.Next() {
		e, err := scanCalendarException(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning calendar exception row: %w", err)
		}
		exceptions = append(exceptions, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating calendar exceptions: %w", err)
	}
	return exceptions, nil
}

func (db *DB) UpdateCalendarException(ctx context.Context, ns string, e *model.CalendarException) error {
	e.UpdatedAt = time.Now()
	added, removed, err := marshalExceptionDates(e)
	if err != nil {
		return fmt.Errorf("sqlite: updating calendar exception: %w", err)
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := serviceIDConflictTx(ctx, tx, ns, e.ServiceID, "calendar_exceptions", e.ID); err != nil {
			return err
		}
		oldKey, err := currentKeyTx(ctx, tx, ns, "calendar_exceptions", "service_id", e.ID, "calendar exception")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE calendar_exceptions SET service_id = ?, name = ?, added_dates = ?, removed_dates = ?, updated_at = ?
			 WHERE namespace = ? AND id = ?`,
			e.ServiceID, e.Name, added, removed, e.UpdatedAt, ns, e.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating calendar exception %s: %w", e.ID, err)
		}
		// Trips reference the service by natural key; keep them attached if it
		// changes.
		if err := cascadeRenameTx(ctx, tx, ns, oldKey, e.ServiceID, keyRef{"trips", "service_id"}); err != nil {
			return err
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) DeleteCalendarException(ctx context.Context, ns, id string, cascade bool) error {
	return db.deleteService(ctx, ns, id, cascade, "calendar_exceptions", "calendar exception")
}

// deleteService removes a calendar or calendar exception, with trips
// referencing its service id as dependents.
func (db *DB) deleteService(ctx context.Context, ns, id string, cascade bool, table, resource string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var serviceID string
		q := fmt.Sprintf(`SELECT service_id FROM %s WHERE namespace = ? AND id = ?`, table)
		err := tx.QueryRowContext(ctx, q, ns, id).Scan(&serviceID)
		if err != nil {
			if err == sql.ErrNoRows {
				return apperror.NotFound(resource, id)
			}
			return fmt.Errorf("sqlite: getting %s %s: %w", resource, id, err)
		}

		var tripCount int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM trips WHERE namespace = ? AND service_id = ?`, ns, serviceID,
		).Scan(&tripCount); err != nil {
			return fmt.Errorf("sqlite: counting service trips: %w", err)
		}
		if tripCount > 0 {
			if !cascade {
				return apperror.ReferentialIntegrity(resource, serviceID, fmt.Sprintf("%d trip(s)", tripCount))
			}
			if err := deleteTripsByServiceTx(ctx, tx, ns, serviceID); err != nil {
				return err
			}
		}

		del := fmt.Sprintf(`DELETE FROM %s WHERE namespace = ? AND id = ?`, table)
		if _, err := tx.ExecContext(ctx, del, ns, id); err != nil {
			return fmt.Errorf("sqlite: deleting %s %s: %w", resource, id, err)
		}
		return bumpSnapshot(ctx, tx, ns)
	})
}

func (db *DB) ServiceIDExists(ctx context.Context, ns, serviceID string) (bool, error) {
	ok, err := existsTx(ctx, db.conn,
		`SELECT (SELECT COUNT(*) FROM calendars WHERE namespace = ?1 AND service_id = ?2)
		      + (SELECT COUNT(*) FROM calendar_exceptions WHERE namespace = ?1 AND service_id = ?2)`,
		ns, serviceID)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking service %s: %w", serviceID, err)
	}
	return ok, nil
}
