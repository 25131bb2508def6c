package model

import "time"

// Pattern is the ordered stop sequence shared by a group of trips on a route.
// The sequence itself lives in PatternStop rows; their Position ordinals are
// dense (0..n-1) with no duplicates.
type Pattern struct {
	ID        string    `json:"id"`
	PatternID string    `json:"patternId" validate:"required"`
	RouteID   string    `json:"routeId" validate:"required"`
	Name      string    `json:"name" validate:"required"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PatternStop is one ordinal in a pattern's stop sequence. Default travel and
// dwell times (seconds) seed stop-time templates for new trips.
type PatternStop struct {
	ID                string  `json:"id"`
	PatternID         string  `json:"patternId" validate:"required"`
	Position          int     `json:"position" validate:"min=0"`
	StopID            string  `json:"stopId" validate:"required"`
	ShapeDistTraveled float64 `json:"shapeDistTraveled" validate:"min=0"`
	DefaultTravelTime int     `json:"defaultTravelTime" validate:"min=0"`
	DefaultDwellTime  int     `json:"defaultDwellTime" validate:"min=0"`
}
