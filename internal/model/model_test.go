package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/rickb777/date"

	"github.com/transitkit/feedsmith/internal/apperror"
)

func TestParseClockTime(t *testing.T) {
	cases := []struct {
		in   string
		want ClockTime
		ok   bool
	}{
		{"08:00:00", 8 * 3600, true},
		{"00:00:00", 0, true},
		{"25:30:00", 25*3600 + 30*60, true}, // over-midnight trips are legal
		{"08:61:00", 0, false},
		{"garbage", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseClockTime(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseClockTime(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseClockTime(%q) succeeded, want error", tc.in)
		}
	}
}

func TestClockTimeJSONRoundTrip(t *testing.T) {
	st := StopTime{Ordinal: 2}
	arr := ClockTime(8*3600 + 600)
	st.Arrival = &arr

	b, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back StopTime
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Arrival == nil || *back.Arrival != arr {
		t.Errorf("Arrival = %v, want %v", back.Arrival, arr)
	}
	if back.Departure != nil {
		t.Errorf("Departure = %v, want nil", back.Departure)
	}
}

func TestValidateStop(t *testing.T) {
	good := Stop{StopID: "st1", Name: "Main St", Lat: 40.71, Lon: -74.0}
	if err := Validate(&good); err != nil {
		t.Fatalf("Validate(valid stop) = %v", err)
	}

	bad := Stop{StopID: "st2", Name: "Nowhere", Lat: 123.4, Lon: 0}
	err := Validate(&bad)
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("Validate(bad lat) = %v, want validation error", err)
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Field != "lat" {
		t.Errorf("Field = %q, want %q", appErr.Field, "lat")
	}
}

func TestValidateRouteColor(t *testing.T) {
	r := Route{RouteID: "r1", AgencyID: "a1", Type: 3, Color: "ZZZZZZ"}
	if err := Validate(&r); !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("Validate(bad color) = %v, want validation error", err)
	}
	r.Color = "00FFAA"
	if err := Validate(&r); err != nil {
		t.Fatalf("Validate(good color) = %v", err)
	}
}

func TestCalendarExceptionDateRange(t *testing.T) {
	e := CalendarException{
		ServiceID: "holiday",
		Name:      "Holiday service",
		AddedDates: []date.Date{
			date.New(2020, 12, 25),
		},
		RemovedDates: []date.Date{
			date.New(2020, 1, 1),
			date.New(2021, 1, 1),
		},
	}
	lo, hi, ok := e.DateRange()
	if !ok {
		t.Fatal("DateRange() reported no dates")
	}
	if lo != date.New(2020, 1, 1) || hi != date.New(2021, 1, 1) {
		t.Errorf("DateRange() = [%v, %v]", lo, hi)
	}

	empty := CalendarException{ServiceID: "x", Name: "x"}
	if _, _, ok := empty.DateRange(); ok {
		t.Error("empty exception reported a date range")
	}
}
