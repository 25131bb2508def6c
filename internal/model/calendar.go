package model

import (
	"time"

	"github.com/rickb777/date"
)

// Calendar is a recurring weekday service definition (GTFS calendar.txt).
// ServiceID is the natural key; trips reference it. Calendars and calendar
// exceptions share one service_id namespace.
type Calendar struct {
	ID          string    `json:"id"`
	ServiceID   string    `json:"serviceId" validate:"required"`
	Description string    `json:"description,omitempty"`
	Monday      bool      `json:"monday"`
	Tuesday     bool      `json:"tuesday"`
	Wednesday   bool      `json:"wednesday"`
	Thursday    bool      `json:"thursday"`
	Friday      bool      `json:"friday"`
	Saturday    bool      `json:"saturday"`
	Sunday      bool      `json:"sunday"`
	StartDate   date.Date `json:"startDate"`
	EndDate     date.Date `json:"endDate"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CalendarException is a named override adding or removing service on explicit
// dates, independent of any Calendar's weekday flags. Its ServiceID lives in
// the same namespace as Calendar service IDs, so a trip may reference either.
type CalendarException struct {
	ID           string      `json:"id"`
	ServiceID    string      `json:"serviceId" validate:"required"`
	Name         string      `json:"name" validate:"required"`
	AddedDates   []date.Date `json:"addedDates,omitempty"`
	RemovedDates []date.Date `json:"removedDates,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// DateRange returns the earliest and latest date the exception mentions, and
// false if it mentions none.
func (e *CalendarException) DateRange() (date.Date, date.Date, bool) {
	var lo, hi date.Date
	ok := false
	for _, d := range append(append([]date.Date{}, e.AddedDates...), e.RemovedDates...) {
		if !ok {
			lo, hi, ok = d, d, true
			continue
		}
		if d.Before(lo) {
			lo = d
		}
		if d.After(hi) {
			hi = d
		}
	}
	return lo, hi, ok
}
