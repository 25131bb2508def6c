package gtfs

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/rickb777/date"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/model"
)

// Import parses a GTFS zip into an entity set. Trips sharing an identical
// stop sequence on the same route are grouped under one inferred pattern,
// since GTFS itself has no pattern concept.
func Import(data []byte) (*model.EntitySet, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperror.ValidationFailed("bundle", fmt.Sprintf("not a zip archive: %v", err))
	}

	files := make(map[string][]record)
	for _, f := range zr.File {
		name := f.Name
		// Tolerate feeds zipped inside a single top-level directory.
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		if !strings.HasSuffix(name, ".txt") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("gtfs: opening %s: %w", f.Name, err)
		}
		recs, err := readRecords(rc)
		rc.Close()
		if err != nil {
			return nil, apperror.ValidationFailed(name, fmt.Sprintf("parsing %s: %v", name, err))
		}
		files[name] = recs
	}

	set := &model.EntitySet{}

	for _, r := range files["agency.txt"] {
		set.Agencies = append(set.Agencies, model.Agency{
			AgencyID: firstNonEmpty(r.get("agency_id"), r.get("agency_name")),
			Name:     r.get("agency_name"),
			URL:      r.get("agency_url"),
			Timezone: r.get("agency_timezone"),
			Lang:     r.get("agency_lang"),
			Phone:    r.get("agency_phone"),
			FareURL:  r.get("agency_fare_url"),
		})
	}

	for _, r := range files["stops.txt"] {
		lat, _ := strconv.ParseFloat(r.get("stop_lat"), 64)
		lon, _ := strconv.ParseFloat(r.get("stop_lon"), 64)
		locType, _ := strconv.Atoi(r.get("location_type"))
		set.Stops = append(set.Stops, model.Stop{
			StopID:       r.get("stop_id"),
			Code:         r.get("stop_code"),
			Name:         r.get("stop_name"),
			Desc:         r.get("stop_desc"),
			Lat:          lat,
			Lon:          lon,
			ZoneID:       r.get("zone_id"),
			LocationType: locType,
		})
	}

	for _, r := range files["routes.txt"] {
		rtype, _ := strconv.Atoi(r.get("route_type"))
		set.Routes = append(set.Routes, model.Route{
			RouteID:   r.get("route_id"),
			AgencyID:  r.get("agency_id"),
			ShortName: r.get("route_short_name"),
			LongName:  r.get("route_long_name"),
			Desc:      r.get("route_desc"),
			Type:      rtype,
			Color:     r.get("route_color"),
			TextColor: r.get("route_text_color"),
		})
	}

	for _, r := range files["calendar.txt"] {
		start, err := parseGTFSDate(r.get("start_date"))
		if err != nil {
			return nil, apperror.ValidationFailed("calendar.txt", err.Error())
		}
		end, err := parseGTFSDate(r.get("end_date"))
		if err != nil {
			return nil, apperror.ValidationFailed("calendar.txt", err.Error())
		}
		set.Calendars = append(set.Calendars, model.Calendar{
			ServiceID: r.get("service_id"),
			Monday:    r.get("monday") == "1",
			Tuesday:   r.get("tuesday") == "1",
			Wednesday: r.get("wednesday") == "1",
			Thursday:  r.get("thursday") == "1",
			Friday:    r.get("friday") == "1",
			Saturday:  r.get("saturday") == "1",
			Sunday:    r.get("sunday") == "1",
			StartDate: start,
			EndDate:   end,
		})
	}

	// calendar_dates rows for a service ID without a calendar fold into one
	// exception per service; rows attached to a calendar's service are dropped
	// (the editor models overrides as standalone named exceptions).
	calendarServices := make(map[string]bool, len(set.Calendars))
	for _, c := range set.Calendars {
		calendarServices[c.ServiceID] = true
	}
	exceptions := make(map[string]*model.CalendarException)
	var exceptionOrder []string
	for _, r := range files["calendar_dates.txt"] {
		sid := r.get("service_id")
		if calendarServices[sid] {
			continue
		}
		d, err := parseGTFSDate(r.get("date"))
		if err != nil {
			return nil, apperror.ValidationFailed("calendar_dates.txt", err.Error())
		}
		exc := exceptions[sid]
		if exc == nil {
			exc = &model.CalendarException{ServiceID: sid, Name: sid}
			exceptions[sid] = exc
			exceptionOrder = append(exceptionOrder, sid)
		}
		if r.get("exception_type") == "2" {
			exc.RemovedDates = append(exc.RemovedDates, d)
		} else {
			exc.AddedDates = append(exc.AddedDates, d)
		}
	}
	for _, sid := range exceptionOrder {
		set.CalendarExceptions = append(set.CalendarExceptions, *exceptions[sid])
	}

	for _, r := range files["fare_attributes.txt"] {
		price, _ := strconv.ParseFloat(r.get("price"), 64)
		payment, _ := strconv.Atoi(r.get("payment_method"))
		f := model.Fare{
			FareID:        r.get("fare_id"),
			Price:         price,
			CurrencyType:  r.get("currency_type"),
			PaymentMethod: payment,
		}
		if v := r.get("transfers"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				f.Transfers = &n
			}
		}
		if v := r.get("transfer_duration"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				f.TransferDuration = &n
			}
		}
		set.Fares = append(set.Fares, f)
	}

	for _, r := range files["fare_rules.txt"] {
		set.FareRules = append(set.FareRules, model.FareRule{
			FareID:       r.get("fare_id"),
			RouteID:      r.get("route_id"),
			OriginZone:   r.get("origin_id"),
			DestZone:     r.get("destination_id"),
			ContainsZone: r.get("contains_id"),
		})
	}

	type tripRow struct {
		trip    model.Trip
		routeID string
	}
	trips := make(map[string]*tripRow)
	var tripOrder []string
	for _, r := range files["trips.txt"] {
		direction, _ := strconv.Atoi(r.get("direction_id"))
		id := r.get("trip_id")
		trips[id] = &tripRow{
			trip: model.Trip{
				TripID:    id,
				ServiceID: r.get("service_id"),
				Headsign:  r.get("trip_headsign"),
				ShortName: r.get("trip_short_name"),
				BlockID:   r.get("block_id"),
				Direction: direction,
			},
			routeID: r.get("route_id"),
		}
		tripOrder = append(tripOrder, id)
	}

	type stopTimeRow struct {
		seq       int
		stopID    string
		arrival   *model.ClockTime
		departure *model.ClockTime
	}
	tripStopTimes := make(map[string][]stopTimeRow)
	for _, r := range files["stop_times.txt"] {
		seq, _ := strconv.Atoi(r.get("stop_sequence"))
		row := stopTimeRow{seq: seq, stopID: r.get("stop_id")}
		if v := r.get("arrival_time"); v != "" {
			t, err := model.ParseClockTime(v)
			if err != nil {
				return nil, apperror.ValidationFailed("stop_times.txt", fmt.Sprintf("trip %s: %v", r.get("trip_id"), err))
			}
			row.arrival = &t
		}
		if v := r.get("departure_time"); v != "" {
			t, err := model.ParseClockTime(v)
			if err != nil {
				return nil, apperror.ValidationFailed("stop_times.txt", fmt.Sprintf("trip %s: %v", r.get("trip_id"), err))
			}
			row.departure = &t
		}
		tripID := r.get("trip_id")
		tripStopTimes[tripID] = append(tripStopTimes[tripID], row)
	}
	for _, rows := range tripStopTimes {
		sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	}

	// Pattern inference: trips on the same route visiting the same stop
	// sequence share one pattern.
	patternKeyOf := func(routeID string, rows []stopTimeRow) string {
		parts := make([]string, 0, len(rows)+1)
		parts = append(parts, routeID)
		for _, row := range rows {
			parts = append(parts, row.stopID)
		}
		return strings.Join(parts, "\x00")
	}
	patternIDs := make(map[string]string)
	patternSeq := 0
	for _, tripID := range tripOrder {
		tr := trips[tripID]
		rows := tripStopTimes[tripID]
		key := patternKeyOf(tr.routeID, rows)
		pid, seen := patternIDs[key]
		if !seen {
			patternSeq++
			pid = fmt.Sprintf("%s-%d", tr.routeID, patternSeq)
			patternIDs[key] = pid
			stopIDs := make([]string, len(rows))
			for i, row := range rows {
				stopIDs[i] = row.stopID
			}
			set.Patterns = append(set.Patterns, model.Pattern{
				PatternID: pid,
				RouteID:   tr.routeID,
				Name:      patternName(tr.routeID, stopIDs, set.Stops),
			})
			for i, row := range rows {
				set.PatternStops = append(set.PatternStops, model.PatternStop{
					PatternID: pid,
					Position:  i,
					StopID:    row.stopID,
				})
			}
		}
		tr.trip.PatternID = pid
		set.Trips = append(set.Trips, tr.trip)
		for i, row := range rows {
			set.StopTimes = append(set.StopTimes, model.StopTime{
				TripID:    tripID,
				Ordinal:   i,
				Arrival:   row.arrival,
				Departure: row.departure,
			})
		}
	}

	if issues := Validate(set); len(issues) > 0 {
		return nil, apperror.ValidationSummary(issues)
	}
	return set, nil
}

func patternName(routeID string, stopIDs []string, stops []model.Stop) string {
	if len(stopIDs) == 0 {
		return routeID
	}
	names := make(map[string]string, len(stops))
	for _, s := range stops {
		names[s.StopID] = s.Name
	}
	first := names[stopIDs[0]]
	last := names[stopIDs[len(stopIDs)-1]]
	if first == "" || last == "" {
		return routeID
	}
	return first + " - " + last
}

// record is one CSV row indexed by header name.
type record struct {
	fields map[string]int
	values []string
}

func (r record) get(name string) string {
	i, ok := r.fields[name]
	if !ok || i >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[i])
}

func readRecords(rc io.Reader) ([]record, error) {
	cr := csv.NewReader(rc)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fields := make(map[string]int, len(header))
	for i, name := range header {
		fields[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}

	var recs []record
	for {
		values, err := cr.Read()
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, record{fields: fields, values: values})
	}
}

func parseGTFSDate(s string) (date.Date, error) {
	d, err := date.Parse("20060102", s)
	if err != nil {
		return date.Date{}, fmt.Errorf("invalid date %q: expected YYYYMMDD", s)
	}
	return d, nil
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
