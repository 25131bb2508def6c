package model

import "time"

// Trip is one scheduled run of a pattern on a given service. It owns an
// ordered sequence of StopTime rows, one per pattern stop, in the same order
// as the pattern at save time.
type Trip struct {
	ID        string    `json:"id"`
	TripID    string    `json:"tripId" validate:"required"`
	PatternID string    `json:"patternId" validate:"required"`
	ServiceID string    `json:"serviceId" validate:"required"`
	Headsign  string    `json:"headsign,omitempty"`
	ShortName string    `json:"shortName,omitempty"`
	BlockID   string    `json:"blockId,omitempty"`
	Direction int       `json:"direction" validate:"min=0,max=1"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StopTime is one cell row of the timetable grid: the arrival/departure pair
// for a trip at the pattern stop with the same ordinal. Nil times are unset
// (a blank cell awaiting edits).
type StopTime struct {
	ID        string     `json:"id"`
	TripID    string     `json:"tripId"`
	Ordinal   int        `json:"ordinal"`
	Arrival   *ClockTime `json:"arrival,omitempty"`
	Departure *ClockTime `json:"departure,omitempty"`
}

// Set reports whether the row has any time filled in.
func (st *StopTime) Set() bool {
	return st.Arrival != nil || st.Departure != nil
}
