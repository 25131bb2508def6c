package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// ClockTime is a schedule time expressed as seconds since midnight. GTFS
// allows times past 24:00:00 for trips that run over midnight, so this is not
// a time-of-day type. A nil *ClockTime means the cell is unset.
type ClockTime int

// ErrClockTimeParse is returned when a time string cannot be parsed.
var ErrClockTimeParse = errors.New(`clock time must be formatted as "HH:MM:SS"`)

// ParseClockTime parses "HH:MM:SS" (hours may exceed 23).
func ParseClockTime(s string) (ClockTime, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, ErrClockTimeParse
	}
	if h < 0 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, ErrClockTimeParse
	}
	return ClockTime(h*3600 + m*60 + sec), nil
}

func (t ClockTime) String() string {
	secs := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

// MarshalJSON implements the json.Marshaler interface
func (t ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (t *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return ErrClockTimeParse
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value implements the driver.Valuer interface
func (t ClockTime) Value() (driver.Value, error) {
	return int64(t), nil
}

// Scan implements the sql.Scanner interface
func (t *ClockTime) Scan(val interface{}) error {
	i, ok := val.(int64)
	if !ok {
		return fmt.Errorf("clocktime: cannot scan %T", val)
	}
	*t = ClockTime(i)
	return nil
}
