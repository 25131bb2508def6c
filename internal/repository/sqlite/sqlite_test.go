package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/rickb777/date"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestSnapshot creates a feed source with a fresh editing snapshot and
// returns the snapshot ID, which doubles as the entity namespace.
func newTestSnapshot(t *testing.T, db *DB) string {
	t.Helper()
	ctx := context.Background()
	fs := &model.FeedSource{Name: "Test Transit"}
	require.NoError(t, db.CreateFeedSource(ctx, fs))
	snap := &model.Snapshot{FeedSourceID: fs.ID}
	require.NoError(t, db.CreateSnapshot(ctx, snap, ""))
	return snap.ID
}

func clock(t *testing.T, s string) *model.ClockTime {
	t.Helper()
	ct, err := model.ParseClockTime(s)
	require.NoError(t, err)
	return &ct
}

func TestAgencyCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ns := newTestSnapshot(t, db)

	a := &model.Agency{AgencyID: "MTA", Name: "Metro Transit", Timezone: "America/New_York"}
	require.NoError(t, db.CreateAgency(ctx, ns, a))
	require.NotEmpty(t, a.ID)

	got, err := db.GetAgency(ctx, ns, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Metro Transit", got.Name)

	got.Name = "Metro Transit Authority"
	require.NoError(t, db.UpdateAgency(ctx, ns, got))
	got, err = db.GetAgency(ctx, ns, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Metro Transit Authority", got.Name)

	list, err := db.ListAgencies(ctx, ns)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, db.DeleteAgency(ctx, ns, a.ID, false))
	_, err = db.GetAgency(ctx, ns, a.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestAgencyDuplicateKeyConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ns := newTestSnapshot(t, db)

	require.NoError(t, db.CreateAgency(ctx, ns, &model.Agency{AgencyID: "MTA", Name: "First"}))
	err := db.CreateAgency(ctx, ns, &model.Agency{AgencyID: "MTA", Name: "Second"})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	// Same key in a different namespace is fine.
	other := newTestSnapshot(t, db)
	assert.NoError(t, db.CreateAgency(ctx, other, &model.Agency{AgencyID: "MTA", Name: "Elsewhere"}))
}

func TestAgencyDeleteWithDependents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ns := newTestSnapshot(t, db)

	a := &model.Agency{AgencyID: "MTA", Name: "Metro"}
	require.NoError(t, db.CreateAgency(ctx, ns, a))
	require.NoError(t, db.CreateRoute(ctx, ns, &model.Route{RouteID: "R1", AgencyID: "MTA", ShortName: "1"}))

	err := db.DeleteAgency(ctx, ns, a.ID, false)
	assert.ErrorIs(t, err, apperror.ErrReferentialIntegrity)

	require.NoError(t, db.DeleteAgency(ctx, ns, a.ID, true))
	routes, err := db.ListRoutes(ctx, ns)
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestServiceIDSharedAcrossCalendarsAndExceptions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ns := newTestSnapshot(t, db)

	cal := &model.Calendar{
		ServiceID: "WEEKDAY",
		Monday:    true, Tuesday: true, Wednesday: true, Thursday: true, Friday: true,
		StartDate: date.New(2026, time.January, 1),
		EndDate:   date.New(2026, time.December, 31),
	}
	require.NoError(t, db.CreateCalendar(ctx, ns, cal))

	err := db.CreateCalendarException(ctx, ns, &model.CalendarException{ServiceID: "WEEKDAY", Name: "Holidays"})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	exc := &model.CalendarException{
		ServiceID:  "XMAS",
		Name:       "Christmas",
		AddedDates: []date.Date{date.New(2026, time.December, 25)},
	}
	require.NoError(t, db.CreateCalendarException(ctx, ns, exc))

	got, err := db.GetCalendarException(ctx, ns, exc.ID)
	require.NoError(t, err)
	require.Len(t, got.AddedDates, 1)
	assert.Equal(t, "2026-12-25", got.AddedDates[0].String())

	for _, sid := range []string{"WEEKDAY", "XMAS"} {
		ok, err := db.ServiceIDExists(ctx, ns, sid)
		require.NoError(t, err)
		assert.True(t, ok, sid)
	}
	ok, err := db.ServiceIDExists(ctx, ns, "NOPE")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCalendarDeleteCascadesTrips(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ns := newTestSnapshot(t, db)
	seedPattern(t, db, ns)

	cal := &model.Calendar{
		ServiceID: "WEEKDAY",
		StartDate: date.New(2026, time.January, 1),
		EndDate:   date.New(2026, time.June, 30),
	}
	require.NoError(t, db.CreateCalendar(ctx, ns, cal))

	trip := &model.Trip{TripID: "T1", PatternID: "P1", ServiceID: "WEEKDAY"}
	require.NoError(t, db.CreateTrip(ctx, ns, trip, []model.StopTime{{Ordinal: 0}, {Ordinal: 1}, {Ordinal: 2}}))

	err := db.DeleteCalendar(ctx, ns, cal.ID, false)
	assert.ErrorIs(t, err, apperror.ErrReferentialIntegrity)

	require.NoError(t, db.DeleteCalendar(ctx, ns, cal.ID, true))
	trips, err := db.ListTrips(ctx, ns, "", "")
	require.NoError(t, err)
	assert.Empty(t, trips)
	times, err := db.StopTimes(ctx, ns, "T1")
	require.NoError(t, err)
	assert.Empty(t, times)
}

func TestFareDeleteCascadesRules(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ns := newTestSnapshot(t, db)

	f := &model.Fare{FareID: "ADULT", Price: 2.75, CurrencyType: "USD"}
	require.NoError(t, db.CreateFare(ctx, ns, f))
	require.NoError(t, db.CreateFareRule(ctx, ns, &model.FareRule{FareID: "ADULT", RouteID: "R1"}))

	err := db.DeleteFare(ctx, ns, f.ID, false)
	assert.ErrorIs(t, err, apperror.ErrReferentialIntegrity)

	require.NoError(t, db.DeleteFare(ctx, ns, f.ID, true))
	rules, err := db.ListFareRules(ctx, ns)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

// seedPattern creates agency MTA, route R1, stops S1..S3, and pattern P1 with
// the three stops in order.
func seedPattern(t *testing.T, db *DB, ns string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.CreateAgency(ctx, ns, &model.Agency{AgencyID: "MTA", Name: "Metro"}))
	require.NoError(t, db.CreateRoute(ctx, ns, &model.Route{RouteID: "R1", AgencyID: "MTA", ShortName: "1"}))
	for i, sid := range []string{"S1", "S2", "S3"} {
		require.NoError(t, db.CreateStop(ctx, ns, &model.Stop{StopID: sid, Name: "Stop " + sid, Lat: 40.7 + float64(i)*0.01, Lon: -74.0}))
	}
	require.NoError(t, db.CreatePattern(ctx, ns, &model.Pattern{PatternID: "P1", RouteID: "R1", Name: "Inbound"}))
	for i, sid := range []string{"S1", "S2", "S3"} {
		require.NoError(t, db.InsertPatternStop(ctx, ns, &model.PatternStop{
			PatternID: "P1", Position: i, StopID: sid, DefaultTravelTime: 120, DefaultDwellTime: 30,
		}))
	}
}

func patternStopIDs(t *testing.T, db *DB, ns, patternID string) []string {
	t.Helper()
	stops, err := db.PatternStops(context.Background(), ns, patternID)
	require.NoError(t, err)
	ids := make([]string, len(stops))
	for i, ps := range stops {
		require.Equal(t, i, ps.Position)
		ids[i] = ps.StopID
	}
	return ids
}

func TestInsertPatternStopShiftsTrips(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ns := newTestSnapshot(t, db)
	seedPattern(t, db, ns)

	trip := &model.Trip{TripID: "T1", PatternID: "P1", ServiceID: "WEEKDAY"}
	require.NoError(t, db.CreateTrip(ctx, ns, trip, []model.StopTime{
		{Ordinal: 0, Arrival: clock(t, "08:00:00"), Departure: clock(t, "08:00:30")},
		{Ordinal: 1, Arrival: clock(t, "08:05:00"), Departure: clock(t, "08:05:30")},
		{Ordinal: 2, Arrival: clock(t, "08:10:00"), Departure: clock(t, "08:10:30")},
	}))

	require.NoError(t, db.CreateStop(ctx, ns, &model.Stop{StopID: "S9", Name: "Infill", Lat: 40.75, Lon: -74.0}))
	require.NoError(t, db.InsertPatternStop(ctx, ns, &model.PatternStop{PatternID: "P1", Position: 1, StopID: "S9"}))

	assert.Equal(t, []string{"S1", "S9", "S2", "S3"}, patternStopIDs(t, db, ns, "P1"))

	times, err := db.StopTimes(ctx, ns, "T1")
	require.NoError(t, err)
	require.Len(t, times, 4)
	assert.False(t, times[1].Set(), "inserted ordinal should be a blank cell")
	assert.Equal(t, "08:05:00", times[2].Arrival.String())
	assert.Equal(t, "08:10:00", times[3].Arrival.String())
}

func TestRemovePatternStopShiftsTrips(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ns := newTestSnapshot(t, db)
	seedPattern(t, db, ns)

	trip := &model.Trip{TripID: "T1", PatternID: "P1", ServiceID: "WEEKDAY"}
	require.NoError(t, db.CreateTrip(ctx, ns, trip, []model.StopTime{
		{Ordinal: 0, Arrival: clock(t, "08:00:00")},
		{Ordinal: 1, Arrival: clock(t, "08:05:00")},
		{Ordinal: 2, Arrival: clock(t, "08:10:00")},
	}))

	require.NoError(t, db.RemovePatternStop(ctx, ns, "P1", 1))

	assert.Equal(t, []string{"S1", "S3"}, patternStopIDs(t, db, ns, "P1"))
	times, err := db.StopTimes(ctx, ns, "T1")
	require.NoError(t, err)
	require.Len(t, times, 2)
	assert.Equal(t, "08:00:00", times[0].Arrival.String())
	assert.Equal(t, "08:10:00", times[1].Arrival.String())

	err = db.RemovePatternStop(ctx, ns, "P1", 7)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestMovePatternStop(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ns := newTestSnapshot(t, db)
	seedPattern(t, db, ns)

	trip := &model.Trip{TripID: "T1", PatternID: "P1", ServiceID: "WEEKDAY"}
	require.NoError(t, db.CreateTrip(ctx, ns, trip, []model.StopTime{
		{Ordinal: 0, Arrival: clock(t, "08:00:00")},
		{Ordinal: 1, Arrival: clock(t, "08:05:00")},
		{Ordinal: 2, Arrival: clock(t, "08:10:00")},
	}))

	require.NoError(t, db.MovePatternStop(ctx, ns, "P1", 0, 2))
	assert.Equal(t, []string{"S2", "S3", "S1"}, patternStopIDs(t, db, ns, "P1"))

	times, err := db.StopTimes(ctx, ns, "T1")
	require.NoError(t, err)
	require.Len(t, times, 3)
	assert.Equal(t, "08:05:00", times[0].Arrival.String())
	assert.Equal(t, "08:10:00", times[1].Arrival.String())
	assert.Equal(t, "08:00:00", times[2].Arrival.String())

	err = db.MovePatternStop(ctx, ns, "P1", 0, 5)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestDeleteStopReferencedByPattern(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ns := newTestSnapshot(t, db)
	seedPattern(t, db, ns)

	stops, err := db.ListStops(ctx, ns)
	require.NoError(t, err)
	var s2 model.Stop
	for _, s := range stops {
		if s.StopID == "S2" {
			s2 = s
		}
	}
	require.NotEmpty(t, s2.ID)

	err = db.DeleteStop(ctx, ns, s2.ID, false)
	assert.ErrorIs(t, err, apperror.ErrReferentialIntegrity)

	require.NoError(t, db.DeleteStop(ctx, ns, s2.ID, true))
	assert.Equal(t, []string{"S1", "S3"}, patternStopIDs(t, db, ns, "P1"))
}

func TestReplaceStopTimes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ns := newTestSnapshot(t, db)
	seedPattern(t, db, ns)

	trip := &model.Trip{TripID: "T1", PatternID: "P1", ServiceID: "WEEKDAY"}
	require.NoError(t, db.CreateTrip(ctx, ns, trip, []model.StopTime{{Ordinal: 0}, {Ordinal: 1}, {Ordinal: 2}}))

	rows := []model.StopTime{
		{Ordinal: 0, Arrival: clock(t, "09:00:00"), Departure: clock(t, "09:00:30")},
		{Ordinal: 1, Arrival: clock(t, "09:04:00"), Departure: clock(t, "09:04:30")},
		{Ordinal: 2, Arrival: clock(t, "09:09:00"), Departure: clock(t, "09:09:30")},
	}
	require.NoError(t, db.ReplaceStopTimes(ctx, ns, "T1", rows))

	times, err := db.StopTimes(ctx, ns, "T1")
	require.NoError(t, err)
	require.Len(t, times, 3)
	assert.Equal(t, "09:04:00", times[1].Arrival.String())

	err = db.ReplaceStopTimes(ctx, ns, "NOPE", rows)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestSnapshotEditsCounter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ns := newTestSnapshot(t, db)

	snap, err := db.GetSnapshot(ctx, ns)
	require.NoError(t, err)
	assert.Zero(t, snap.Edits)

	a := &model.Agency{AgencyID: "MTA", Name: "Metro"}
	require.NoError(t, db.CreateAgency(ctx, ns, a))
	a.Name = "Metro Authority"
	require.NoError(t, db.UpdateAgency(ctx, ns, a))

	snap, err = db.GetSnapshot(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Edits)
}

func TestPublishSnapshotFreezesNamespace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	fs := &model.FeedSource{Name: "Test Transit"}
	require.NoError(t, db.CreateFeedSource(ctx, fs))
	snap := &model.Snapshot{FeedSourceID: fs.ID}
	require.NoError(t, db.CreateSnapshot(ctx, snap, ""))
	seedPattern(t, db, snap.ID)

	src, err := db.GetFeedSource(ctx, fs.ID)
	require.NoError(t, err)
	require.NotNil(t, src.ActiveSnapshotID)
	assert.Equal(t, snap.ID, *src.ActiveSnapshotID)

	v := &model.FeedVersion{
		FeedSourceID: fs.ID,
		SnapshotID:   snap.ID,
		StartDate:    date.New(2026, time.January, 1),
		EndDate:      date.New(2026, time.June, 30),
		ContentHash:  "deadbeef",
	}
	require.NoError(t, db.PublishSnapshot(ctx, v, []byte("zip-bytes")))

	// Frozen copy is independent of the snapshot.
	frozen, err := db.ListStops(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, frozen, 3)

	got, err := db.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotPublished, got.Status)

	src, err = db.GetFeedSource(ctx, fs.ID)
	require.NoError(t, err)
	assert.Nil(t, src.ActiveSnapshotID)

	bundle, err := db.FeedVersionBundle(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("zip-bytes"), bundle)

	latest, err := db.LatestFeedVersion(ctx, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, latest.ID)
	assert.Equal(t, "2026-01-01", latest.StartDate.String())
}

func TestCreateSnapshotForksVersion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	fs := &model.FeedSource{Name: "Test Transit"}
	require.NoError(t, db.CreateFeedSource(ctx, fs))
	first := &model.Snapshot{FeedSourceID: fs.ID}
	require.NoError(t, db.CreateSnapshot(ctx, first, ""))
	seedPattern(t, db, first.ID)

	v := &model.FeedVersion{
		FeedSourceID: fs.ID,
		SnapshotID:   first.ID,
		StartDate:    date.New(2026, time.January, 1),
		EndDate:      date.New(2026, time.June, 30),
		ContentHash:  "cafe",
	}
	require.NoError(t, db.PublishSnapshot(ctx, v, []byte("zip")))

	fork := &model.Snapshot{FeedSourceID: fs.ID}
	require.NoError(t, db.CreateSnapshot(ctx, fork, v.ID))

	// Editing the fork leaves the frozen version untouched.
	require.NoError(t, db.CreateStop(ctx, fork.ID, &model.Stop{StopID: "S4", Name: "New Stop", Lat: 40.8, Lon: -74.0}))
	forked, err := db.ListStops(ctx, fork.ID)
	require.NoError(t, err)
	assert.Len(t, forked, 4)
	frozen, err := db.ListStops(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, frozen, 3)
}

func TestEntitySetRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ns := newTestSnapshot(t, db)
	seedPattern(t, db, ns)

	cal := &model.Calendar{
		ServiceID: "WEEKDAY",
		StartDate: date.New(2026, time.January, 1),
		EndDate:   date.New(2026, time.June, 30),
	}
	require.NoError(t, db.CreateCalendar(ctx, ns, cal))
	trip := &model.Trip{TripID: "T1", PatternID: "P1", ServiceID: "WEEKDAY"}
	require.NoError(t, db.CreateTrip(ctx, ns, trip, []model.StopTime{
		{Ordinal: 0, Arrival: clock(t, "08:00:00")},
		{Ordinal: 1, Arrival: clock(t, "08:05:00")},
		{Ordinal: 2, Arrival: clock(t, "08:10:00")},
	}))

	set, err := db.EntitySet(ctx, ns)
	require.NoError(t, err)
	assert.Len(t, set.Agencies, 1)
	assert.Len(t, set.Stops, 3)
	assert.Len(t, set.Routes, 1)
	assert.Len(t, set.Calendars, 1)
	assert.Len(t, set.Patterns, 1)
	assert.Len(t, set.PatternStops, 3)
	assert.Len(t, set.Trips, 1)
	assert.Len(t, set.StopTimes, 3)

	fs := &model.FeedSource{Name: "Imported"}
	require.NoError(t, db.CreateFeedSource(ctx, fs))
	v := &model.FeedVersion{
		FeedSourceID: fs.ID,
		StartDate:    date.New(2026, time.January, 1),
		EndDate:      date.New(2026, time.June, 30),
		ContentHash:  "abcd",
	}
	require.NoError(t, db.CreateImportedVersion(ctx, v, []byte("zip"), set))

	imported, err := db.EntitySet(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, imported.Stops, 3)
	assert.Len(t, imported.StopTimes, 3)
}

func TestDeleteFeedSourceRemovesEverything(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	fs := &model.FeedSource{Name: "Doomed"}
	require.NoError(t, db.CreateFeedSource(ctx, fs))
	snap := &model.Snapshot{FeedSourceID: fs.ID}
	require.NoError(t, db.CreateSnapshot(ctx, snap, ""))
	seedPattern(t, db, snap.ID)

	require.NoError(t, db.DeleteFeedSource(ctx, fs.ID))

	_, err := db.GetFeedSource(ctx, fs.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	stops, err := db.ListStops(ctx, snap.ID)
	require.NoError(t, err)
	assert.Empty(t, stops)
}
