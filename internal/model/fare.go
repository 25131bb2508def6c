package model

import "time"

// Fare is a priced fare class (GTFS fare_attributes.txt).
type Fare struct {
	ID               string    `json:"id"`
	FareID           string    `json:"fareId" validate:"required"`
	Price            float64   `json:"price" validate:"min=0"`
	CurrencyType     string    `json:"currencyType" validate:"required,iso4217"`
	PaymentMethod    int       `json:"paymentMethod" validate:"min=0,max=1"`
	Transfers        *int      `json:"transfers,omitempty" validate:"omitempty,min=0,max=2"`
	TransferDuration *int      `json:"transferDuration,omitempty" validate:"omitempty,min=0"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// FareRule associates a Fare with a matching criterion: a route, an
// origin/destination zone pair, or a contained zone (GTFS fare_rules.txt).
// Fare rules have no GTFS natural key; the surrogate ID doubles as one.
type FareRule struct {
	ID            string    `json:"id"`
	FareID        string    `json:"fareId" validate:"required"`
	RouteID       string    `json:"routeId,omitempty"`
	OriginZone    string    `json:"originZone,omitempty"`
	DestZone      string    `json:"destZone,omitempty"`
	ContainsZone  string    `json:"containsZone,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
