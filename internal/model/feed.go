package model

import (
	"time"

	"github.com/rickb777/date"
)

// FeedSource is the root of the versioning tree: it owns zero-or-more
// immutable feed versions and zero-or-one active (editable) snapshot.
type FeedSource struct {
	ID               string    `json:"id"`
	Name             string    `json:"name" validate:"required"`
	FetchURL         string    `json:"fetchUrl,omitempty" validate:"omitempty,url"`
	Deployable       bool      `json:"deployable"`
	ActiveSnapshotID *string   `json:"activeSnapshotId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// SnapshotStatus is the lifecycle state of a snapshot.
type SnapshotStatus string

const (
	SnapshotEditing    SnapshotStatus = "editing"
	SnapshotPublishing SnapshotStatus = "publishing"
	SnapshotPublished  SnapshotStatus = "published"
	SnapshotDiscarded  SnapshotStatus = "discarded"
)

// Snapshot is a mutable, independently editable point-in-time copy of a
// feed's entity set. Its ID is also the storage namespace of its entities.
// Edits counts successful mutations, for has-uncommitted-state checks.
type Snapshot struct {
	ID           string         `json:"id"`
	FeedSourceID string         `json:"feedSourceId"`
	Name         string         `json:"name,omitempty"`
	Status       SnapshotStatus `json:"status"`
	Edits        int64          `json:"edits"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// FeedVersion is an immutable published result: a frozen entity set (under
// the version's own namespace), a content-addressed GTFS bundle, and a
// validity window [StartDate, EndDate). Never mutated after creation.
type FeedVersion struct {
	ID           string    `json:"id"`
	FeedSourceID string    `json:"feedSourceId"`
	SnapshotID   string    `json:"snapshotId,omitempty"`
	StartDate    date.Date `json:"startDate"`
	EndDate      date.Date `json:"endDate"`
	ContentHash  string    `json:"contentHash"`
	SizeBytes    int64     `json:"sizeBytes"`
	CreatedAt    time.Time `json:"createdAt"`
}

// EntitySet is a full in-memory copy of one namespace's entities, as handed
// to the exporter at publish time or produced by the importer.
type EntitySet struct {
	Agencies           []Agency
	Stops              []Stop
	Routes             []Route
	Calendars          []Calendar
	CalendarExceptions []CalendarException
	Fares              []Fare
	FareRules          []FareRule
	Patterns           []Pattern
	PatternStops       []PatternStop
	Trips              []Trip
	StopTimes          []StopTime
}
