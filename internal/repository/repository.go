// Package repository defines the storage contracts for the editor. Entity
// operations are keyed by a namespace: the owning snapshot's ID while editing,
// or a feed version's ID once frozen. Implementations must keep cascading
// operations atomic: either every affected row updates or none do.
package repository

import (
	"context"

	"github.com/transitkit/feedsmith/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// FeedRepository manages feed sources, snapshots, and immutable feed versions.
type FeedRepository interface {
	CreateFeedSource(ctx context.Context, fs *model.FeedSource) error
	GetFeedSource(ctx context.Context, id string) (*model.FeedSource, error)
	ListFeedSources(ctx context.Context, opts ListOptions) ([]model.FeedSource, error)
	UpdateFeedSource(ctx context.Context, fs *model.FeedSource) error
	// DeleteFeedSource cascades to all snapshots, versions, and their entities.
	DeleteFeedSource(ctx context.Context, id string) error

	// CreateSnapshot inserts the snapshot and, when fromNamespace is non-empty,
	// copies that namespace's entity rows into the new snapshot's namespace.
	// The snapshot becomes its feed source's active snapshot. One transaction.
	CreateSnapshot(ctx context.Context, snap *model.Snapshot, fromNamespace string) error
	GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error)
	ListSnapshots(ctx context.Context, feedSourceID string) ([]model.Snapshot, error)
	SetSnapshotStatus(ctx context.Context, id string, status model.SnapshotStatus) error
	// DiscardSnapshot marks the snapshot discarded, clears the feed source's
	// active pointer if it points here, and drops the snapshot's entity rows.
	DiscardSnapshot(ctx context.Context, id string) error

	// PublishSnapshot freezes a snapshot into a feed version: copies the
	// snapshot's entity rows under the version's namespace, stores the bundle,
	// marks the snapshot published, and clears the feed source's active
	// snapshot pointer. One transaction.
	PublishSnapshot(ctx context.Context, v *model.FeedVersion, bundle []byte) error
	// CreateImportedVersion stores a version whose entity set came from an
	// imported bundle rather than a snapshot.
	CreateImportedVersion(ctx context.Context, v *model.FeedVersion, bundle []byte, set *model.EntitySet) error
	GetFeedVersion(ctx context.Context, id string) (*model.FeedVersion, error)
	LatestFeedVersion(ctx context.Context, feedSourceID string) (*model.FeedVersion, error)
	ListFeedVersions(ctx context.Context, feedSourceID string) ([]model.FeedVersion, error)
	DeleteFeedVersion(ctx context.Context, id string) error
	FeedVersionBundle(ctx context.Context, id string) ([]byte, error)
}

// EntityRepository is the per-kind CRUD surface of the entity store. Deletes
// take a cascade flag: without it a delete blocked by live dependents fails
// with a referential-integrity error; with it all dependents go in the same
// transaction.
type EntityRepository interface {
	CreateAgency(ctx context.Context, ns string, a *model.Agency) error
	GetAgency(ctx context.Context, ns, id string) (*model.Agency, error)
	ListAgencies(ctx context.Context, ns string) ([]model.Agency, error)
	UpdateAgency(ctx context.Context, ns string, a *model.Agency) error
	DeleteAgency(ctx context.Context, ns, id string, cascade bool) error
	AgencyExists(ctx context.Context, ns, agencyID string) (bool, error)

	CreateStop(ctx context.Context, ns string, s *model.Stop) error
	GetStop(ctx context.Context, ns, id string) (*model.Stop, error)
	ListStops(ctx context.Context, ns string) ([]model.Stop, error)
	UpdateStop(ctx context.Context, ns string, s *model.Stop) error
	DeleteStop(ctx context.Context, ns, id string, cascade bool) error
	StopExists(ctx context.Context, ns, stopID string) (bool, error)

	CreateRoute(ctx context.Context, ns string, r *model.Route) error
	GetRoute(ctx context.Context, ns, id string) (*model.Route, error)
	ListRoutes(ctx context.Context, ns string) ([]model.Route, error)
	UpdateRoute(ctx context.Context, ns string, r *model.Route) error
	DeleteRoute(ctx context.Context, ns, id string, cascade bool) error
	RouteExists(ctx context.Context, ns, routeID string) (bool, error)

	CreateCalendar(ctx context.Context, ns string, c *model.Calendar) error
	GetCalendar(ctx context.Context, ns, id string) (*model.Calendar, error)
	ListCalendars(ctx context.Context, ns string) ([]model.Calendar, error)
	UpdateCalendar(ctx context.Context, ns string, c *model.Calendar) error
	DeleteCalendar(ctx context.Context, ns, id string, cascade bool) error

	CreateCalendarException(ctx context.Context, ns string, e *model.CalendarException) error
	GetCalendarException(ctx context.Context, ns, id string) (*model.CalendarException, error)
	ListCalendarExceptions(ctx context.Context, ns string) ([]model.CalendarException, error)
	UpdateCalendarException(ctx context.Context, ns string, e *model.CalendarException) error
	DeleteCalendarException(ctx context.Context, ns, id string, cascade bool) error

	// ServiceIDExists checks the shared service-id namespace spanning both
	// calendars and calendar exceptions.
	ServiceIDExists(ctx context.Context, ns, serviceID string) (bool, error)

	CreateFare(ctx context.Context, ns string, f *model.Fare) error
	GetFare(ctx context.Context, ns, id string) (*model.Fare, error)
	ListFares(ctx context.Context, ns string) ([]model.Fare, error)
	UpdateFare(ctx context.Context, ns string, f *model.Fare) error
	DeleteFare(ctx context.Context, ns, id string, cascade bool) error
	FareExists(ctx context.Context, ns, fareID string) (bool, error)

	CreateFareRule(ctx context.Context, ns string, fr *model.FareRule) error
	GetFareRule(ctx context.Context, ns, id string) (*model.FareRule, error)
	ListFareRules(ctx context.Context, ns string) ([]model.FareRule, error)
	UpdateFareRule(ctx context.Context, ns string, fr *model.FareRule) error
	DeleteFareRule(ctx context.Context, ns, id string) error

	// EntitySet loads the namespace's full entity set (for export).
	EntitySet(ctx context.Context, ns string) (*model.EntitySet, error)
}

// PatternRepository manages patterns and their ordered stop sequences. The
// structural edits cascade into every dependent trip's stop-time rows within
// the same transaction.
type PatternRepository interface {
	CreatePattern(ctx context.Context, ns string, p *model.Pattern) error
	GetPattern(ctx context.Context, ns, id string) (*model.Pattern, error)
	ListPatterns(ctx context.Context, ns, routeID string) ([]model.Pattern, error)
	UpdatePattern(ctx context.Context, ns string, p *model.Pattern) error
	DeletePattern(ctx context.Context, ns, id string, cascade bool) error
	PatternExists(ctx context.Context, ns, patternID string) (bool, error)

	PatternStops(ctx context.Context, ns, patternID string) ([]model.PatternStop, error)
	// InsertPatternStop shifts ordinals >= ps.Position up by one in the
	// pattern and in every dependent trip, then inserts the pattern stop and a
	// blank stop-time row per trip at that ordinal.
	InsertPatternStop(ctx context.Context, ns string, ps *model.PatternStop) error
	// RemovePatternStop deletes the ordinal from the pattern and every
	// dependent trip, shifting later ordinals down.
	RemovePatternStop(ctx context.Context, ns, patternID string, position int) error
	// MovePatternStop reorders the sequence and every dependent trip's
	// stop-time ordinals in lockstep.
	MovePatternStop(ctx context.Context, ns, patternID string, from, to int) error
}

// TripRepository manages trips and their stop-time rows.
type TripRepository interface {
	// CreateTrip inserts the trip together with its seeded stop-time rows.
	CreateTrip(ctx context.Context, ns string, t *model.Trip, rows []model.StopTime) error
	GetTrip(ctx context.Context, ns, id string) (*model.Trip, error)
	// ListTrips filters by pattern and/or service natural key; empty means any.
	ListTrips(ctx context.Context, ns, patternID, serviceID string) ([]model.Trip, error)
	UpdateTrip(ctx context.Context, ns string, t *model.Trip) error
	DeleteTrip(ctx context.Context, ns, id string) error

	StopTimes(ctx context.Context, ns, tripID string) ([]model.StopTime, error)
	// UpdateStopTime commits a single cell edit.
	UpdateStopTime(ctx context.Context, ns string, st *model.StopTime) error
	// ReplaceStopTimes swaps the trip's entire stop-time sequence atomically.
	ReplaceStopTimes(ctx context.Context, ns, tripID string, rows []model.StopTime) error
}
