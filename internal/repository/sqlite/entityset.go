package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickb777/date"
	"github.com/rs/xid"

	"github.com/transitkit/feedsmith/internal/model"
)

// EntitySet loads a namespace's full entity set, ordered by natural key (and
// ordinal position for sequences) so exports are deterministic.
func (db *DB) EntitySet(ctx context.Context, ns string) (*model.EntitySet, error) {
	set := &model.EntitySet{}
	var err error

	if set.Agencies, err = db.ListAgencies(ctx, ns); err != nil {
		return nil, err
	}
	if set.Stops, err = db.ListStops(ctx, ns); err != nil {
		return nil, err
	}
	if set.Routes, err = db.ListRoutes(ctx, ns); err != nil {
		return nil, err
	}
	if set.Calendars, err = db.ListCalendars(ctx, ns); err != nil {
		return nil, err
	}
	if set.CalendarExceptions, err = db.ListCalendarExceptions(ctx, ns); err != nil {
		return nil, err
	}
	if set.Fares, err = db.ListFares(ctx, ns); err != nil {
		return nil, err
	}
	if set.FareRules, err = db.ListFareRules(ctx, ns); err != nil {
		return nil, err
	}
	if set.Patterns, err = db.ListPatterns(ctx, ns, ""); err != nil {
		return nil, err
	}
	if set.PatternStops, err = db.listAllPatternStops(ctx, ns); err != nil {
		return nil, err
	}
	if set.Trips, err = db.ListTrips(ctx, ns, "", ""); err != nil {
		return nil, err
	}
	if set.StopTimes, err = db.listAllStopTimes(ctx, ns); err != nil {
		return nil, err
	}
	return set, nil
}

func (db *DB) listAllPatternStops(ctx context.Context, ns string) ([]model.PatternStop, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, pattern_id, position, stop_id, shape_dist_traveled, default_travel_time, default_dwell_time
		 FROM pattern_stops WHERE namespace = ? ORDER BY pattern_id, position`, ns)
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
	return stops, rows.Err()
}

func (db *DB) listAllStopTimes(ctx context.Context, ns string) ([]model.StopTime, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, trip_id, ordinal, arrival, departure
		 FROM stop_times WHERE namespace = ? ORDER BY trip_id, ordinal`, ns)
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
	return times, rows.Err()
}

// insertEntitySet writes an imported entity set under a fresh namespace.
// Surrogate IDs are assigned here; the importer only knows natural keys.
func insertEntitySet(ctx context.Context, tx *sql.Tx, ns string, set *model.EntitySet) error {
	now := time.Now()

	for i := range set.Agencies {
		a := &set.Agencies[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agencies (namespace, id, agency_id, name, url, timezone, lang, phone, fare_url, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, xid.New().String(), a.AgencyID, a.Name, a.URL, a.Timezone, a.Lang, a.Phone, a.FareURL, now, now,
		); err != nil {
			return fmt.Errorf("inserting agency %s: %w", a.AgencyID, err)
		}
	}
	for i := range set.Stops {
		s := &set.Stops[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stops (namespace, id, stop_id, name, code, description, lat, lon, zone_id, location_type, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, xid.New().String(), s.StopID, s.Name, s.Code, s.Desc, s.Lat, s.Lon, s.ZoneID, s.LocationType, now, now,
		); err != nil {
			return fmt.Errorf("inserting stop %s: %w", s.StopID, err)
		}
	}
	for i := range set.Routes {
		r := &set.Routes[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO routes (namespace, id, route_id, agency_id, short_name, long_name, description, type, color, text_color, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, xid.New().String(), r.RouteID, r.AgencyID, r.ShortName, r.LongName, r.Desc, r.Type, r.Color, r.TextColor, now, now,
		); err != nil {
			return fmt.Errorf("inserting route %s: %w", r.RouteID, err)
		}
	}
	for i := range set.Calendars {
		c := &set.Calendars[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO calendars (namespace, id, service_id, description, monday, tuesday, wednesday, thursday, friday, saturday, sunday, start_date, end_date, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, xid.New().String(), c.ServiceID, c.Description,
			c.Monday, c.Tuesday, c.Wednesday, c.Thursday, c.Friday, c.Saturday, c.Sunday,
			c.StartDate.String(), c.EndDate.String(), now, now,
		); err != nil {
			return fmt.Errorf("inserting calendar %s: %w", c.ServiceID, err)
		}
	}
	for i := range set.CalendarExceptions {
		e := &set.CalendarExceptions[i]
		added, removed, err := marshalExceptionDates(e)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO calendar_exceptions (namespace, id, service_id, name, added_dates, removed_dates, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, xid.New().String(), e.ServiceID, e.Name, added, removed, now, now,
		); err != nil {
			return fmt.Errorf("inserting calendar exception %s: %w", e.ServiceID, err)
		}
	}
	for i := range set.Fares {
		f := &set.Fares[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fares (namespace, id, fare_id, price, currency_type, payment_method, transfers, transfer_duration, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, xid.New().String(), f.FareID, f.Price, f.CurrencyType, f.PaymentMethod, f.Transfers, f.TransferDuration, now, now,
		); err != nil {
			return fmt.Errorf("inserting fare %s: %w", f.FareID, err)
		}
	}
	for i := range set.FareRules {
		fr := &set.FareRules[i]
		id := fr.ID
		if id == "" {
			id = xid.New().String()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fare_rules (namespace, id, fare_id, route_id, origin_zone, dest_zone, contains_zone, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, id, fr.FareID, fr.RouteID, fr.OriginZone, fr.DestZone, fr.ContainsZone, now, now,
		); err != nil {
			return fmt.Errorf("inserting fare rule for %s: %w", fr.FareID, err)
		}
	}
	for i := range set.Patterns {
		p := &set.Patterns[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO patterns (namespace, id, pattern_id, route_id, name, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ns, xid.New().String(), p.PatternID, p.RouteID, p.Name, now, now,
		); err != nil {
			return fmt.Errorf("inserting pattern %s: %w", p.PatternID, err)
		}
	}
	for i := range set.PatternStops {
		ps := &set.PatternStops[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pattern_stops (namespace, id, pattern_id, position, stop_id, shape_dist_traveled, default_travel_time, default_dwell_time)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, xid.New().String(), ps.PatternID, ps.Position, ps.StopID, ps.ShapeDistTraveled, ps.DefaultTravelTime, ps.DefaultDwellTime,
		); err != nil {
			return fmt.Errorf("inserting pattern stop %s[%d]: %w", ps.PatternID, ps.Position, err)
		}
	}
	for i := range set.Trips {
		t := &set.Trips[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trips (namespace, id, trip_id, pattern_id, service_id, headsign, short_name, block_id, direction, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ns, xid.New().String(), t.TripID, t.PatternID, t.ServiceID, t.Headsign, t.ShortName, t.BlockID, t.Direction, now, now,
		); err != nil {
			return fmt.Errorf("inserting trip %s: %w", t.TripID, err)
		}
	}
	for i := range set.StopTimes {
		st := &set.StopTimes[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stop_times (namespace, id, trip_id, ordinal, arrival, departure)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ns, xid.New().String(), st.TripID, st.Ordinal, clockValue(st.Arrival), clockValue(st.Departure),
		); err != nil {
			return fmt.Errorf("inserting stop time %s[%d]: %w", st.TripID, st.Ordinal, err)
		}
	}
	return nil
}

func marshalExceptionDates(e *model.CalendarException) (string, string, error) {
	added, err := json.Marshal(isoDates(e.AddedDates))
	if err != nil {
		return "", "", fmt.Errorf("marshaling added dates: %w", err)
	}
	removed, err := json.Marshal(isoDates(e.RemovedDates))
	if err != nil {
		return "", "", fmt.Errorf("marshaling removed dates: %w", err)
	}
	return string(added), string(removed), nil
}

func isoDates(ds []date.Date) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.String())
	}
	return out
}

func parseISODates(raw string) ([]date.Date, error) {
	var ss []string
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return nil, fmt.Errorf("unmarshaling dates %q: %w", raw, err)
	}
	if len(ss) == 0 {
		return nil, nil
	}
	out := make([]date.Date, 0, len(ss))
	for _, s := range ss {
		d, err := date.ParseISO(s)
		if err != nil {
			return nil, fmt.Errorf("parsing date %q: %w", s, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func clockValue(t *model.ClockTime) any {
	if t == nil {
		return nil
	}
	return int64(*t)
}
