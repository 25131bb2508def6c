package model

import "time"

// Route is a named transit line (GTFS routes.txt). AgencyID references an
// Agency in the same snapshot by natural key.
type Route struct {
	ID        string    `json:"id"`
	RouteID   string    `json:"routeId" validate:"required"`
	AgencyID  string    `json:"agencyId" validate:"required"`
	ShortName string    `json:"shortName,omitempty"`
	LongName  string    `json:"longName,omitempty"`
	Desc      string    `json:"desc,omitempty"`
	Type      int       `json:"type" validate:"min=0,max=7"`
	Color     string    `json:"color,omitempty" validate:"omitempty,gtfscolor"`
	TextColor string    `json:"textColor,omitempty" validate:"omitempty,gtfscolor"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
