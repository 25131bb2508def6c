// Package model defines the transit entities managed by the editor. Every
// entity carries a surrogate ID (stable within a snapshot) plus a GTFS natural
// key that must be unique within the snapshot; entities reference each other
// by natural key. The `validate` tags drive field-level validation in the
// entity store.
package model

import "time"

// Agency is a transit operator (GTFS agency.txt).
type Agency struct {
	ID        string    `json:"id"`
	AgencyID  string    `json:"agencyId" validate:"required"`
	Name      string    `json:"name" validate:"required"`
	URL       string    `json:"url" validate:"required,url"`
	Timezone  string    `json:"timezone" validate:"required,timezone"`
	Lang      string    `json:"lang,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	FareURL   string    `json:"fareUrl,omitempty" validate:"omitempty,url"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
