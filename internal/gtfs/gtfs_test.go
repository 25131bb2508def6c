package gtfs

import (
	"testing"
	"time"

	"github.com/rickb777/date"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/model"
)

func clock(t *testing.T, s string) *model.ClockTime {
	t.Helper()
	ct, err := model.ParseClockTime(s)
	require.NoError(t, err)
	return &ct
}

func testEntitySet(t *testing.T) *model.EntitySet {
	t.Helper()
	return &model.EntitySet{
		Agencies: []model.Agency{
			{AgencyID: "MTA", Name: "Metro Transit", URL: "https://example.com", Timezone: "America/New_York"},
		},
		Stops: []model.Stop{
			{StopID: "S1", Name: "First Street", Lat: 40.71, Lon: -74.00},
			{StopID: "S2", Name: "Second Street", Lat: 40.72, Lon: -74.01},
			{StopID: "S3", Name: "Third Street", Lat: 40.73, Lon: -74.02},
		},
		Routes: []model.Route{
			{RouteID: "R1", AgencyID: "MTA", ShortName: "1", LongName: "Crosstown", Type: 3},
		},
		Calendars: []model.Calendar{
			{
				ServiceID: "WEEKDAY",
				Monday:    true, Tuesday: true, Wednesday: true, Thursday: true, Friday: true,
				StartDate: date.New(2026, time.January, 1),
				EndDate:   date.New(2026, time.June, 30),
			},
		},
		Patterns: []model.Pattern{
			{PatternID: "P1", RouteID: "R1", Name: "First Street - Third Street"},
		},
		PatternStops: []model.PatternStop{
			{PatternID: "P1", Position: 0, StopID: "S1"},
			{PatternID: "P1", Position: 1, StopID: "S2"},
			{PatternID: "P1", Position: 2, StopID: "S3"},
		},
		Trips: []model.Trip{
			{TripID: "T1", PatternID: "P1", ServiceID: "WEEKDAY", Headsign: "Downtown"},
		},
		StopTimes: []model.StopTime{
			{TripID: "T1", Ordinal: 0, Arrival: clock(t, "08:00:00"), Departure: clock(t, "08:00:30")},
			{TripID: "T1", Ordinal: 1, Arrival: clock(t, "08:05:00"), Departure: clock(t, "08:05:30")},
			{TripID: "T1", Ordinal: 2, Arrival: clock(t, "08:10:00"), Departure: clock(t, "08:10:30")},
		},
	}
}

func TestExportIsDeterministic(t *testing.T) {
	set := testEntitySet(t)

	first, err := Export(set)
	require.NoError(t, err)
	second, err := Export(set)
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.Data, second.Data)
	assert.NotEmpty(t, first.Hash)
}

func TestExportHashChangesWithContent(t *testing.T) {
	set := testEntitySet(t)
	first, err := Export(set)
	require.NoError(t, err)

	set.Stops[0].Name = "Renamed Street"
	second, err := Export(set)
	require.NoError(t, err)
	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestExportValidityWindow(t *testing.T) {
	set := testEntitySet(t)
	bundle, err := Export(set)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01", bundle.StartDate.String())
	assert.Equal(t, "2026-06-30", bundle.EndDate.String())
}

func TestValidityWindowUnionsExceptions(t *testing.T) {
	set := &model.EntitySet{
		Calendars: []model.Calendar{
			{ServiceID: "A", StartDate: date.New(2018, time.March, 1), EndDate: date.New(2018, time.September, 30)},
		},
		CalendarExceptions: []model.CalendarException{
			{ServiceID: "B", Name: "Special", AddedDates: []date.Date{date.New(2020, time.July, 4)}},
		},
	}
	start, end, ok := ValidityWindow(set)
	require.True(t, ok)
	assert.Equal(t, "2018-03-01", start.String())
	assert.Equal(t, "2020-07-04", end.String())
}

func TestExportRejectsEmptySet(t *testing.T) {
	_, err := Export(&model.EntitySet{})
	require.ErrorIs(t, err, apperror.ErrValidation)

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Contains(t, appErr.Issues, "feed defines no service calendars")
	assert.Contains(t, appErr.Issues, "feed defines no agencies")
}

func TestValidateFlagsDanglingReferences(t *testing.T) {
	set := testEntitySet(t)
	set.Trips = append(set.Trips, model.Trip{TripID: "T9", PatternID: "NOPE", ServiceID: "WEEKDAY"})

	issues := Validate(set)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "trip T9 references unknown pattern NOPE")
}

func TestImportRoundTrip(t *testing.T) {
	set := testEntitySet(t)
	bundle, err := Export(set)
	require.NoError(t, err)

	imported, err := Import(bundle.Data)
	require.NoError(t, err)

	assert.Len(t, imported.Agencies, 1)
	assert.Len(t, imported.Stops, 3)
	assert.Len(t, imported.Routes, 1)
	assert.Len(t, imported.Calendars, 1)
	assert.Len(t, imported.Trips, 1)
	assert.Len(t, imported.StopTimes, 3)

	// One pattern inferred from the single distinct stop sequence.
	require.Len(t, imported.Patterns, 1)
	require.Len(t, imported.PatternStops, 3)
	assert.Equal(t, "R1", imported.Patterns[0].RouteID)
	assert.Equal(t, "S1", imported.PatternStops[0].StopID)
	assert.Equal(t, "S3", imported.PatternStops[2].StopID)

	assert.Equal(t, "08:05:00", imported.StopTimes[1].Arrival.String())
}

func TestImportGroupsTripsIntoPatterns(t *testing.T) {
	set := testEntitySet(t)
	set.Trips = append(set.Trips, model.Trip{TripID: "T2", PatternID: "P1", ServiceID: "WEEKDAY"})
	set.StopTimes = append(set.StopTimes,
		model.StopTime{TripID: "T2", Ordinal: 0, Arrival: clock(t, "09:00:00")},
		model.StopTime{TripID: "T2", Ordinal: 1, Arrival: clock(t, "09:05:00")},
		model.StopTime{TripID: "T2", Ordinal: 2, Arrival: clock(t, "09:10:00")},
	)

	bundle, err := Export(set)
	require.NoError(t, err)
	imported, err := Import(bundle.Data)
	require.NoError(t, err)

	assert.Len(t, imported.Trips, 2)
	assert.Len(t, imported.Patterns, 1)
	assert.Equal(t, imported.Trips[0].PatternID, imported.Trips[1].PatternID)
}

func TestImportRejectsGarbage(t *testing.T) {
	_, err := Import([]byte("not a zip"))
	assert.ErrorIs(t, err, apperror.ErrValidation)
}
