// Package gtfs converts between the editor's entity sets and GTFS zip
// bundles. Export output is deterministic: the same entity set always
// produces the same file order, the same CSV bytes, and the same content
// hash, so republishing unchanged data can be detected by hash equality.
package gtfs

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/rickb777/date"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/model"
)

// Bundle is a built GTFS export: the zip bytes, the content hash, and the
// validity window covered by the feed's services.
type Bundle struct {
	Data      []byte
	Hash      string
	StartDate date.Date
	EndDate   date.Date
}

// fileOrder fixes the member order inside the zip and the hash input order.
var fileOrder = []string{
	"agency.txt",
	"stops.txt",
	"routes.txt",
	"calendar.txt",
	"calendar_dates.txt",
	"fare_attributes.txt",
	"fare_rules.txt",
	"trips.txt",
	"stop_times.txt",
}

// Export validates the entity set, renders it as GTFS CSV files, and packs
// them into a zip. A set failing structural validation returns a validation
// summary listing every issue found.
func Export(set *model.EntitySet) (*Bundle, error) {
	if issues := Validate(set); len(issues) > 0 {
		return nil, apperror.ValidationSummary(issues)
	}

	start, end, ok := ValidityWindow(set)
	if !ok {
		return nil, apperror.ValidationSummary([]string{"feed defines no service calendars"})
	}

	files, err := renderFiles(set)
	if err != nil {
		return nil, err
	}

	// Content hash covers the uncompressed payloads in fixed order, so it is
	// independent of zip compression details.
	h := sha256.New()
	for _, name := range fileOrder {
		h.Write([]byte(name))
		h.Write(files[name])
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range fileOrder {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return nil, fmt.Errorf("gtfs: creating zip entry %s: %w", name, err)
		}
		if _, err := w.Write(files[name]); err != nil {
			return nil, fmt.Errorf("gtfs: writing zip entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gtfs: closing zip: %w", err)
	}

	return &Bundle{
		Data:      buf.Bytes(),
		Hash:      hex.EncodeToString(h.Sum(nil)),
		StartDate: start,
		EndDate:   end,
	}, nil
}

// Validate collects the structural problems that block an export. An empty
// slice means the set is exportable.
func Validate(set *model.EntitySet) []string {
	var issues []string

	if len(set.Agencies) == 0 {
		issues = append(issues, "feed defines no agencies")
	}
	if len(set.Stops) == 0 {
		issues = append(issues, "feed defines no stops")
	}
	if len(set.Routes) == 0 {
		issues = append(issues, "feed defines no routes")
	}
	if len(set.Calendars) == 0 && len(set.CalendarExceptions) == 0 {
		issues = append(issues, "feed defines no service calendars")
	}

	agencies := make(map[string]bool, len(set.Agencies))
	for _, a := range set.Agencies {
		agencies[a.AgencyID] = true
	}
	stops := make(map[string]bool, len(set.Stops))
	for _, s := range set.Stops {
		stops[s.StopID] = true
	}
	routes := make(map[string]bool, len(set.Routes))
	for _, r := range set.Routes {
		routes[r.RouteID] = true
		if !agencies[r.AgencyID] {
			issues = append(issues, fmt.Sprintf("route %s references unknown agency %s", r.RouteID, r.AgencyID))
		}
	}
	services := make(map[string]bool, len(set.Calendars)+len(set.CalendarExceptions))
	for _, c := range set.Calendars {
		services[c.ServiceID] = true
	}
	for _, e := range set.CalendarExceptions {
		services[e.ServiceID] = true
	}
	patterns := make(map[string]bool, len(set.Patterns))
	for _, p := range set.Patterns {
		patterns[p.PatternID] = true
		if !routes[p.RouteID] {
			issues = append(issues, fmt.Sprintf("pattern %s references unknown route %s", p.PatternID, p.RouteID))
		}
	}
	for _, ps := range set.PatternStops {
		if !stops[ps.StopID] {
			issues = append(issues, fmt.Sprintf("pattern %s references unknown stop %s", ps.PatternID, ps.StopID))
		}
	}
	for _, t := range set.Trips {
		if !patterns[t.PatternID] {
			issues = append(issues, fmt.Sprintf("trip %s references unknown pattern %s", t.TripID, t.PatternID))
		}
		if !services[t.ServiceID] {
			issues = append(issues, fmt.Sprintf("trip %s references unknown service %s", t.TripID, t.ServiceID))
		}
	}
	return issues
}

// ValidityWindow returns the union of every calendar's date range and every
// exception's mentioned dates. ok is false when no service defines any date.
func ValidityWindow(set *model.EntitySet) (date.Date, date.Date, bool) {
	var start, end date.Date
	ok := false

	extend := func(lo, hi date.Date) {
		if !ok {
			start, end, ok = lo, hi, true
			return
		}
		if lo.Before(start) {
			start = lo
		}
		if hi.After(end) {
			end = hi
		}
	}
	for _, c := range set.Calendars {
		extend(c.StartDate, c.EndDate)
	}
	for _, e := range set.CalendarExceptions {
		if lo, hi, has := e.DateRange(); has {
			extend(lo, hi)
		}
	}
	return start, end, ok
}

func gtfsDate(d date.Date) string {
	return d.Format("20060102")
}

func gtfsBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func clockString(t *model.ClockTime) string {
	if t == nil {
		return ""
	}
	return t.String()
}

func renderCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// renderFiles produces the CSV payload per GTFS file. Entity sets arrive
// ordered by natural key from the store, which keeps the output stable.
func renderFiles(set *model.EntitySet) (map[string][]byte, error) {
	files := make(map[string][]byte, len(fileOrder))

	render := func(name string, header []string, rows [][]string) error {
		payload, err := renderCSV(header, rows)
		if err != nil {
			return fmt.Errorf("gtfs: rendering %s: %w", name, err)
		}
		files[name] = payload
		return nil
	}

	rows := make([][]string, 0, len(set.Agencies))
	for _, a := range set.Agencies {
		rows = append(rows, []string{a.AgencyID, a.Name, a.URL, a.Timezone, a.Lang, a.Phone, a.FareURL})
	}
	if err := render("agency.txt",
		[]string{"agency_id", "agency_name", "agency_url", "agency_timezone", "agency_lang", "agency_phone", "agency_fare_url"},
		rows); err != nil {
		return nil, err
	}

	rows = rows[:0]
	for _, s := range set.Stops {
		rows = append(rows, []string{
			s.StopID, s.Code, s.Name, s.Desc,
			strconv.FormatFloat(s.Lat, 'f', 6, 64), strconv.FormatFloat(s.Lon, 'f', 6, 64),
			s.ZoneID, strconv.Itoa(s.LocationType),
		})
	}
	if err := render("stops.txt",
		[]string{"stop_id", "stop_code", "stop_name", "stop_desc", "stop_lat", "stop_lon", "zone_id", "location_type"},
		rows); err != nil {
		return nil, err
	}

	rows = rows[:0]
	for _, r := range set.Routes {
		rows = append(rows, []string{
			r.RouteID, r.AgencyID, r.ShortName, r.LongName, r.Desc,
			strconv.Itoa(r.Type), r.Color, r.TextColor,
		})
	}
	if err := render("routes.txt",
		[]string{"route_id", "agency_id", "route_short_name", "route_long_name", "route_desc", "route_type", "route_color", "route_text_color"},
		rows); err != nil {
		return nil, err
	}

	rows = rows[:0]
	for _, c := range set.Calendars {
		rows = append(rows, []string{
			c.ServiceID,
			gtfsBool(c.Monday), gtfsBool(c.Tuesday), gtfsBool(c.Wednesday), gtfsBool(c.Thursday),
			gtfsBool(c.Friday), gtfsBool(c.Saturday), gtfsBool(c.Sunday),
			gtfsDate(c.StartDate), gtfsDate(c.EndDate),
		})
	}
	if err := render("calendar.txt",
		[]string{"service_id", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday", "start_date", "end_date"},
		rows); err != nil {
		return nil, err
	}

	rows = rows[:0]
	for _, e := range set.CalendarExceptions {
		for _, d := range e.AddedDates {
			rows = append(rows, []string{e.ServiceID, gtfsDate(d), "1"})
		}
		for _, d := range e.RemovedDates {
			rows = append(rows, []string{e.ServiceID, gtfsDate(d), "2"})
		}
	}
	if err := render("calendar_dates.txt",
		[]string{"service_id", "date", "exception_type"},
		rows); err != nil {
		return nil, err
	}

	rows = rows[:0]
	for _, f := range set.Fares {
		transfers := ""
		if f.Transfers != nil {
			transfers = strconv.Itoa(*f.Transfers)
		}
		duration := ""
		if f.TransferDuration != nil {
			duration = strconv.Itoa(*f.TransferDuration)
		}
		rows = append(rows, []string{
			f.FareID, strconv.FormatFloat(f.Price, 'f', 2, 64), f.CurrencyType,
			strconv.Itoa(f.PaymentMethod), transfers, duration,
		})
	}
	if err := render("fare_attributes.txt",
		[]string{"fare_id", "price", "currency_type", "payment_method", "transfers", "transfer_duration"},
		rows); err != nil {
		return nil, err
	}

	rows = rows[:0]
	for _, fr := range set.FareRules {
		rows = append(rows, []string{fr.FareID, fr.RouteID, fr.OriginZone, fr.DestZone, fr.ContainsZone})
	}
	if err := render("fare_rules.txt",
		[]string{"fare_id", "route_id", "origin_id", "destination_id", "contains_id"},
		rows); err != nil {
		return nil, err
	}

	// Patterns are an editor concept. Trips flatten to route_id directly, and
	// stop_times resolve stop IDs through the pattern sequence by ordinal.
	routeOfPattern := make(map[string]string, len(set.Patterns))
	for _, p := range set.Patterns {
		routeOfPattern[p.PatternID] = p.RouteID
	}
	stopAtOrdinal := make(map[string]map[int]string, len(set.Patterns))
	for _, ps := range set.PatternStops {
		m := stopAtOrdinal[ps.PatternID]
		if m == nil {
			m = make(map[int]string)
			stopAtOrdinal[ps.PatternID] = m
		}
		m[ps.Position] = ps.StopID
	}

	rows = rows[:0]
	for _, t := range set.Trips {
		rows = append(rows, []string{
			routeOfPattern[t.PatternID], t.ServiceID, t.TripID,
			t.Headsign, t.ShortName, strconv.Itoa(t.Direction), t.BlockID,
		})
	}
	if err := render("trips.txt",
		[]string{"route_id", "service_id", "trip_id", "trip_headsign", "trip_short_name", "direction_id", "block_id"},
		rows); err != nil {
		return nil, err
	}

	patternOfTrip := make(map[string]string, len(set.Trips))
	for _, t := range set.Trips {
		patternOfTrip[t.TripID] = t.PatternID
	}
	rows = rows[:0]
	for _, st := range set.StopTimes {
		if !st.Set() {
			continue
		}
		stopID := stopAtOrdinal[patternOfTrip[st.TripID]][st.Ordinal]
		arrival := clockString(st.Arrival)
		departure := clockString(st.Departure)
		// GTFS requires both columns; mirror the one that is set.
		if arrival == "" {
			arrival = departure
		}
		if departure == "" {
			departure = arrival
		}
		rows = append(rows, []string{
			st.TripID, arrival, departure, stopID, strconv.Itoa(st.Ordinal + 1),
		})
	}
	if err := render("stop_times.txt",
		[]string{"trip_id", "arrival_time", "departure_time", "stop_id", "stop_sequence"},
		rows); err != nil {
		return nil, err
	}

	return files, nil
}
