package model

import "time"

// Stop is a boarding location (GTFS stops.txt). ZoneID participates in
// zone-based fare rules.
type Stop struct {
	ID           string    `json:"id"`
	StopID       string    `json:"stopId" validate:"required"`
	Name         string    `json:"name" validate:"required"`
	Code         string    `json:"code,omitempty"`
	Desc         string    `json:"desc,omitempty"`
	Lat          float64   `json:"lat" validate:"latitude"`
	Lon          float64   `json:"lon" validate:"longitude"`
	ZoneID       string    `json:"zoneId,omitempty"`
	LocationType int       `json:"locationType" validate:"min=0,max=4"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
