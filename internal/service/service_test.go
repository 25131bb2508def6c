package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rickb777/date"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/events"
	"github.com/transitkit/feedsmith/internal/jobs"
	"github.com/transitkit/feedsmith/internal/metrics"
	"github.com/transitkit/feedsmith/internal/model"
	"github.com/transitkit/feedsmith/internal/repository/sqlite"
)

type fixture struct {
	store     *sqlite.DB
	entities  *EntityService
	patterns  *PatternService
	timetable *TimetableService
	snapshots *SnapshotService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	coord := jobs.NewCoordinator(logger)
	t.Cleanup(coord.Close)

	return &fixture{
		store:     store,
		entities:  NewEntityService(store, logger, m),
		patterns:  NewPatternService(store, logger, m),
		timetable: NewTimetableService(store, logger, m),
		snapshots: NewSnapshotService(store, coord, events.NopPublisher{}, logger, m),
	}
}

func (f *fixture) newSnapshot(t *testing.T) (*model.FeedSource, *model.Snapshot) {
	t.Helper()
	ctx := context.Background()
	fs := &model.FeedSource{Name: "Test Transit"}
	require.NoError(t, f.snapshots.CreateFeedSource(ctx, fs))
	snap, err := f.snapshots.CreateFromScratch(ctx, fs.ID, "working copy")
	require.NoError(t, err)
	return fs, snap
}

// seedFeed fills the snapshot with a minimal publishable feed: one agency,
// three stops, one route, one weekday calendar, one pattern, one trip.
func (f *fixture) seedFeed(t *testing.T, ns string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.entities.CreateAgency(ctx, ns, &model.Agency{
		AgencyID: "MTA", Name: "Metro Transit", URL: "https://example.com", Timezone: "America/New_York",
	}))
	for i, sid := range []string{"S1", "S2", "S3"} {
		require.NoError(t, f.entities.CreateStop(ctx, ns, &model.Stop{
			StopID: sid, Name: "Stop " + sid, Lat: 40.7 + float64(i)*0.01, Lon: -74.0,
		}))
	}
	require.NoError(t, f.entities.CreateRoute(ctx, ns, &model.Route{
		RouteID: "R1", AgencyID: "MTA", ShortName: "1", Type: 3,
	}))
	require.NoError(t, f.entities.CreateCalendar(ctx, ns, &model.Calendar{
		ServiceID: "WEEKDAY",
		Monday:    true, Tuesday: true, Wednesday: true, Thursday: true, Friday: true,
		StartDate: date.New(2026, time.January, 1),
		EndDate:   date.New(2026, time.June, 30),
	}))
	require.NoError(t, f.patterns.Create(ctx, ns, &model.Pattern{
		PatternID: "P1", RouteID: "R1", Name: "Inbound",
	}))
	for i, sid := range []string{"S1", "S2", "S3"} {
		_, err := f.patterns.AddStop(ctx, ns, &model.PatternStop{
			PatternID: "P1", Position: i, StopID: sid, DefaultTravelTime: 300, DefaultDwellTime: 30,
		})
		require.NoError(t, err)
	}
	start, err := model.ParseClockTime("08:00:00")
	require.NoError(t, err)
	_, err = f.timetable.CreateTrip(ctx, ns, &CreateTripInput{
		TripID: "T1", PatternID: "P1", ServiceID: "WEEKDAY", Start: &start,
	})
	require.NoError(t, err)
}

func TestNewSnapshotEvictsPriorOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fs, first := f.newSnapshot(t)

	second, err := f.snapshots.CreateFromScratch(ctx, fs.ID, "second")
	require.NoError(t, err)

	// The evicted snapshot is retained but read-only.
	err = f.entities.CreateAgency(ctx, first.ID, &model.Agency{AgencyID: "A", Name: "Too Late"})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	assert.NoError(t, f.entities.CreateAgency(ctx, second.ID, &model.Agency{
		AgencyID: "A", Name: "Current", URL: "https://example.com", Timezone: "America/New_York",
	}))
}

func TestMutationRejectedOnNonEditingSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	_, err := f.snapshots.PublishWait(ctx, snap.ID)
	require.NoError(t, err)

	err = f.entities.CreateAgency(ctx, snap.ID, &model.Agency{AgencyID: "X", Name: "Late"})
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestRouteRequiresKnownAgency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)

	err := f.entities.CreateRoute(ctx, snap.ID, &model.Route{RouteID: "R1", AgencyID: "GHOST", ShortName: "1"})
	require.ErrorIs(t, err, apperror.ErrValidation)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "agencyId", appErr.Field)
}

func TestCreateTripSeedsFromPatternDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	rows, err := f.timetable.StopTimes(ctx, snap.ID, "T1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "08:00:00", rows[0].Arrival.String())
	assert.Equal(t, "08:00:30", rows[0].Departure.String())
	// 30s dwell then 300s travel.
	assert.Equal(t, "08:05:30", rows[1].Arrival.String())
	assert.Equal(t, "08:06:00", rows[1].Departure.String())
	assert.Equal(t, "08:11:00", rows[2].Arrival.String())
}

func TestRemoveStopFromTwoStopPattern(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	ns := snap.ID

	require.NoError(t, f.entities.CreateAgency(ctx, ns, &model.Agency{
		AgencyID: "A", Name: "Agency", URL: "https://example.com", Timezone: "America/New_York",
	}))
	require.NoError(t, f.entities.CreateStop(ctx, ns, &model.Stop{StopID: "A", Name: "Alpha", Lat: 1, Lon: 1}))
	require.NoError(t, f.entities.CreateStop(ctx, ns, &model.Stop{StopID: "B", Name: "Beta", Lat: 2, Lon: 2}))
	require.NoError(t, f.entities.CreateRoute(ctx, ns, &model.Route{RouteID: "R", AgencyID: "A", ShortName: "R"}))
	require.NoError(t, f.entities.CreateCalendar(ctx, ns, &model.Calendar{
		ServiceID: "SVC", StartDate: date.New(2026, time.January, 1), EndDate: date.New(2026, time.June, 30),
	}))
	require.NoError(t, f.patterns.Create(ctx, ns, &model.Pattern{PatternID: "P", RouteID: "R", Name: "P"}))
	for i, sid := range []string{"A", "B"} {
		_, err := f.patterns.AddStop(ctx, ns, &model.PatternStop{PatternID: "P", Position: i, StopID: sid})
		require.NoError(t, err)
	}
	_, err := f.timetable.CreateTrip(ctx, ns, &CreateTripInput{TripID: "T", PatternID: "P", ServiceID: "SVC"})
	require.NoError(t, err)

	result, err := f.patterns.RemoveStop(ctx, ns, "P", 0)
	require.NoError(t, err)
	require.Len(t, result.Stops, 1)
	assert.Equal(t, "B", result.Stops[0].StopID)
	assert.Equal(t, 0, result.Stops[0].Position)
	assert.Empty(t, result.InvalidTrips)

	rows, err := f.timetable.StopTimes(ctx, ns, "T")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].Ordinal)
}

func TestMoveStopFlagsInvalidTrips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	// T1 is seeded monotonic, so carrying its first cell to the end makes the
	// column run backwards.
	result, err := f.patterns.MoveStop(ctx, snap.ID, "P1", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, result.InvalidTrips)
}

func TestSetStopTimeNeighborValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)
	ns := snap.ID

	early, err := model.ParseClockTime("07:00:00")
	require.NoError(t, err)
	errSet := f.timetable.SetStopTime(ctx, ns, "T1", &model.StopTime{Ordinal: 1, Arrival: &early, Departure: &early})
	assert.ErrorIs(t, errSet, apperror.ErrValidation)

	fine, err := model.ParseClockTime("08:03:00")
	require.NoError(t, err)
	require.NoError(t, f.timetable.SetStopTime(ctx, ns, "T1", &model.StopTime{Ordinal: 1, Arrival: &fine, Departure: &fine}))

	rows, err := f.timetable.StopTimes(ctx, ns, "T1")
	require.NoError(t, err)
	assert.Equal(t, "08:03:00", rows[1].Arrival.String())
}

func TestSaveTripRejectsShortSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	err := f.timetable.SaveTrip(ctx, snap.ID, "T1", []model.StopTime{{Ordinal: 0}})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	// Nothing was written.
	rows, err := f.timetable.StopTimes(ctx, snap.ID, "T1")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestDuplicateTripShiftsTimes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	src, err := f.timetable.ListTrips(ctx, snap.ID, "P1", "")
	require.NoError(t, err)
	require.Len(t, src, 1)

	dup, err := f.timetable.DuplicateTrip(ctx, snap.ID, src[0].ID, "T2", 1800)
	require.NoError(t, err)
	assert.Equal(t, "T2", dup.TripID)

	rows, err := f.timetable.StopTimes(ctx, snap.ID, "T2")
	require.NoError(t, err)
	assert.Equal(t, "08:30:00", rows[0].Arrival.String())
}

func TestPublishLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fs, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	v, err := f.snapshots.PublishWait(ctx, snap.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, v.ContentHash)
	assert.Equal(t, "2026-01-01", v.StartDate.String())
	assert.Equal(t, "2026-06-30", v.EndDate.String())

	got, err := f.snapshots.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotPublished, got.Status)

	source, err := f.snapshots.GetFeedSource(ctx, fs.ID)
	require.NoError(t, err)
	assert.Nil(t, source.ActiveSnapshotID)

	bundle, err := f.snapshots.FeedVersionBundle(ctx, v.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, bundle)
}

func TestRepublishUnchangedYieldsSameHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fs, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	first, err := f.snapshots.PublishWait(ctx, snap.ID)
	require.NoError(t, err)

	fork, err := f.snapshots.CreateFromVersion(ctx, fs.ID, first.ID, "fork")
	require.NoError(t, err)
	second, err := f.snapshots.PublishWait(ctx, fork.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ContentHash, second.ContentHash)
}

func TestPublishFailureRevertsToEditing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	// Empty snapshot fails export validation.

	_, err := f.snapshots.PublishWait(ctx, snap.ID)
	require.ErrorIs(t, err, apperror.ErrJobFailure)

	got, err := f.snapshots.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotEditing, got.Status)

	// Still editable after the failed publish.
	assert.NoError(t, f.entities.CreateAgency(ctx, snap.ID, &model.Agency{
		AgencyID: "A", Name: "Agency", URL: "https://example.com", Timezone: "America/New_York",
	}))
}

func TestDiscardFreesActiveSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fs, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	require.NoError(t, f.snapshots.Discard(ctx, snap.ID))

	got, err := f.snapshots.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SnapshotDiscarded, got.Status)

	// The slot is free again.
	_, err = f.snapshots.CreateFromScratch(ctx, fs.ID, "fresh")
	assert.NoError(t, err)
}

func TestImportCreatesVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	v, err := f.snapshots.PublishWait(ctx, snap.ID)
	require.NoError(t, err)
	bundle, err := f.snapshots.FeedVersionBundle(ctx, v.ID)
	require.NoError(t, err)

	other := &model.FeedSource{Name: "Imported Feed"}
	require.NoError(t, f.snapshots.CreateFeedSource(ctx, other))

	jobID, err := f.snapshots.Import(ctx, other.ID, bundle)
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = f.snapshots.coord.Await(waitCtx, jobID)
	require.NoError(t, err)

	versions, err := f.snapshots.ListFeedVersions(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, v.ContentHash, versions[0].ContentHash)

	set, err := f.store.EntitySet(ctx, versions[0].ID)
	require.NoError(t, err)
	assert.Len(t, set.Stops, 3)
	assert.Len(t, set.Patterns, 1)
}

func TestCloneAgencyDerivesKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	dup, err := f.entities.CloneAgency(ctx, snap.ID, agencySurrogateID(t, f, snap.ID), "")
	require.NoError(t, err)
	assert.Equal(t, "MTA-copy", dup.AgencyID)
	assert.Equal(t, "Metro Transit", dup.Name)
	assert.NotEmpty(t, dup.ID)

	// Cloning again without a key collides with the derived one.
	_, err = f.entities.CloneAgency(ctx, snap.ID, agencySurrogateID(t, f, snap.ID), "")
	assert.ErrorIs(t, err, apperror.ErrConflict)

	named, err := f.entities.CloneAgency(ctx, snap.ID, agencySurrogateID(t, f, snap.ID), "MTA2")
	require.NoError(t, err)
	assert.Equal(t, "MTA2", named.AgencyID)
}

func agencySurrogateID(t *testing.T, f *fixture, ns string) string {
	t.Helper()
	list, err := f.entities.ListAgencies(context.Background(), ns)
	require.NoError(t, err)
	for _, a := range list {
		if a.AgencyID == "MTA" {
			return a.ID
		}
	}
	t.Fatal("seed agency not found")
	return ""
}

func TestRenameStopFollowsPatternReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	stops, err := f.entities.ListStops(ctx, snap.ID)
	require.NoError(t, err)
	for i := range stops {
		if stops[i].StopID == "S1" {
			stops[i].StopID = "S1-NEW"
			require.NoError(t, f.entities.UpdateStop(ctx, snap.ID, &stops[i]))
		}
	}

	seq, err := f.patterns.Stops(ctx, snap.ID, "P1")
	require.NoError(t, err)
	require.Len(t, seq, 3)
	assert.Equal(t, "S1-NEW", seq[0].StopID)

	// Every reference still resolves, so the feed exports cleanly.
	_, err = f.snapshots.PublishWait(ctx, snap.ID)
	assert.NoError(t, err)
}

func TestRenamePatternKeepsStopsAndTrips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	patterns, err := f.patterns.List(ctx, snap.ID, "R1")
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	patterns[0].PatternID = "P1-NEW"
	require.NoError(t, f.patterns.Update(ctx, snap.ID, &patterns[0]))

	seq, err := f.patterns.Stops(ctx, snap.ID, "P1-NEW")
	require.NoError(t, err)
	assert.Len(t, seq, 3)

	trips, err := f.timetable.ListTrips(ctx, snap.ID, "P1-NEW", "")
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "T1", trips[0].TripID)
}

func TestRenameAgencyFollowsRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	agencies, err := f.entities.ListAgencies(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, agencies, 1)
	agencies[0].AgencyID = "MTA-NEW"
	require.NoError(t, f.entities.UpdateAgency(ctx, snap.ID, &agencies[0]))

	routes, err := f.entities.ListRoutes(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "MTA-NEW", routes[0].AgencyID)
}

func TestRenameRouteFollowsPatternsAndFareRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	require.NoError(t, f.entities.CreateFare(ctx, snap.ID, &model.Fare{
		FareID: "BASE", Price: 2.75, CurrencyType: "USD",
	}))
	require.NoError(t, f.entities.CreateFareRule(ctx, snap.ID, &model.FareRule{
		FareID: "BASE", RouteID: "R1",
	}))

	routes, err := f.entities.ListRoutes(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	routes[0].RouteID = "R1-NEW"
	require.NoError(t, f.entities.UpdateRoute(ctx, snap.ID, &routes[0]))

	patterns, err := f.patterns.List(ctx, snap.ID, "R1-NEW")
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "P1", patterns[0].PatternID)

	rules, err := f.entities.ListFareRules(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "R1-NEW", rules[0].RouteID)
}

func TestRenameCalendarFollowsTrips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	calendars, err := f.entities.ListCalendars(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, calendars, 1)
	calendars[0].ServiceID = "WKD"
	require.NoError(t, f.entities.UpdateCalendar(ctx, snap.ID, &calendars[0]))

	trips, err := f.timetable.ListTrips(ctx, snap.ID, "", "WKD")
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "T1", trips[0].TripID)

	_, err = f.snapshots.PublishWait(ctx, snap.ID)
	assert.NoError(t, err)
}

func TestRenameCalendarExceptionFollowsTrips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	require.NoError(t, f.entities.CreateCalendarException(ctx, snap.ID, &model.CalendarException{
		ServiceID:  "HOLIDAY",
		Name:       "Holiday service",
		AddedDates: []date.Date{date.New(2026, time.July, 4)},
	}))
	start, err := model.ParseClockTime("09:00:00")
	require.NoError(t, err)
	_, err = f.timetable.CreateTrip(ctx, snap.ID, &CreateTripInput{
		TripID: "T-HOL", PatternID: "P1", ServiceID: "HOLIDAY", Start: &start,
	})
	require.NoError(t, err)

	exceptions, err := f.entities.ListCalendarExceptions(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	exceptions[0].ServiceID = "HOLIDAY-2026"
	require.NoError(t, f.entities.UpdateCalendarException(ctx, snap.ID, &exceptions[0]))

	trips, err := f.timetable.ListTrips(ctx, snap.ID, "", "HOLIDAY-2026")
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "T-HOL", trips[0].TripID)
}

func TestRenameFareFollowsFareRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	require.NoError(t, f.entities.CreateFare(ctx, snap.ID, &model.Fare{
		FareID: "BASE", Price: 2.75, CurrencyType: "USD",
	}))
	require.NoError(t, f.entities.CreateFareRule(ctx, snap.ID, &model.FareRule{
		FareID: "BASE", RouteID: "R1",
	}))

	fares, err := f.entities.ListFares(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, fares, 1)
	fares[0].FareID = "BASE-2026"
	require.NoError(t, f.entities.UpdateFare(ctx, snap.ID, &fares[0]))

	rules, err := f.entities.ListFareRules(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "BASE-2026", rules[0].FareID)
}

func TestUpdateTripRejectsPatternChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	require.NoError(t, f.patterns.Create(ctx, snap.ID, &model.Pattern{
		PatternID: "P2", RouteID: "R1", Name: "Outbound",
	}))

	trips, err := f.timetable.ListTrips(ctx, snap.ID, "P1", "")
	require.NoError(t, err)
	require.Len(t, trips, 1)
	trips[0].PatternID = "P2"

	err = f.timetable.UpdateTrip(ctx, snap.ID, &trips[0])
	require.ErrorIs(t, err, apperror.ErrValidation)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "patternId", appErr.Field)

	// The trip and its rows stayed on the original pattern.
	kept, err := f.timetable.ListTrips(ctx, snap.ID, "P1", "")
	require.NoError(t, err)
	require.Len(t, kept, 1)
	rows, err := f.timetable.StopTimes(ctx, snap.ID, "T1")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestGridOrdersTripsByFirstTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, snap := f.newSnapshot(t)
	f.seedFeed(t, snap.ID)

	earlier, err := model.ParseClockTime("06:00:00")
	require.NoError(t, err)
	_, err = f.timetable.CreateTrip(ctx, snap.ID, &CreateTripInput{
		TripID: "T0", PatternID: "P1", ServiceID: "WEEKDAY", Start: &earlier,
	})
	require.NoError(t, err)

	grid, err := f.timetable.Grid(ctx, snap.ID, "P1", "")
	require.NoError(t, err)
	require.Len(t, grid.Columns, 2)
	assert.Equal(t, "T0", grid.Columns[0].Trip.TripID)
	assert.Equal(t, "T1", grid.Columns[1].Trip.TripID)
	assert.Len(t, grid.Stops, 3)
}
