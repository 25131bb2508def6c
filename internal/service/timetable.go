package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ulule/deepcopier"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/metrics"
	"github.com/transitkit/feedsmith/internal/model"
)

// TimetableService presents a pattern's trips as a grid: one row per pattern
// stop, one column per trip, each cell an arrival/departure pair. Cell edits
// enforce time ordering against the nearest set neighbors; whole-trip saves
// validate the full sequence before anything is written.
type TimetableService struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewTimetableService(store Store, logger *slog.Logger, m *metrics.Metrics) *TimetableService {
	return &TimetableService{store: store, logger: logger, metrics: m}
}

// TripColumn is one column of the grid.
type TripColumn struct {
	Trip  model.Trip       `json:"trip"`
	Cells []model.StopTime `json:"cells"`
}

// Grid is the timetable for one pattern on one service (serviceID empty means
// all services). Columns are ordered by each trip's first set time.
type Grid struct {
	Pattern model.Pattern       `json:"pattern"`
	Stops   []model.PatternStop `json:"stops"`
	Columns []TripColumn        `json:"columns"`
}

func (s *TimetableService) Grid(ctx context.Context, ns, patternID, serviceID string) (*Grid, error) {
	patterns, err := s.store.ListPatterns(ctx, ns, "")
	if err != nil {
		return nil, err
	}
	var pattern *model.Pattern
	for i := range patterns {
		if patterns[i].PatternID == patternID {
			pattern = &patterns[i]
			break
		}
	}
	if pattern == nil {
		return nil, apperror.NotFound("pattern", patternID)
	}

	stops, err := s.store.PatternStops(ctx, ns, patternID)
	if err != nil {
		return nil, err
	}
	trips, err := s.store.ListTrips(ctx, ns, patternID, serviceID)
	if err != nil {
		return nil, err
	}

	columns := make([]TripColumn, 0, len(trips))
	for _, t := range trips {
		cells, err := s.store.StopTimes(ctx, ns, t.TripID)
		if err != nil {
			return nil, err
		}
		columns = append(columns, TripColumn{Trip: t, Cells: cells})
	}
	sort.SliceStable(columns, func(i, j int) bool {
		return firstSetTime(columns[i].Cells) < firstSetTime(columns[j].Cells)
	})

	return &Grid{Pattern: *pattern, Stops: stops, Columns: columns}, nil
}

// firstSetTime is the sort key for grid columns; trips with no set cells sink
// to the end.
func firstSetTime(cells []model.StopTime) model.ClockTime {
	for _, c := range cells {
		if c.Arrival != nil {
			return *c.Arrival
		}
		if c.Departure != nil {
			return *c.Departure
		}
	}
	return model.ClockTime(1 << 30)
}

// CreateTripInput creates one trip column. When Start is set, times are
// seeded down the sequence from the pattern stops' default travel and dwell
// times; otherwise every cell starts blank.
type CreateTripInput struct {
	TripID    string           `json:"tripId" validate:"required"`
	PatternID string           `json:"patternId" validate:"required"`
	ServiceID string           `json:"serviceId" validate:"required"`
	Headsign  string           `json:"headsign"`
	ShortName string           `json:"shortName"`
	BlockID   string           `json:"blockId"`
	Direction int              `json:"direction" validate:"min=0,max=1"`
	Start     *model.ClockTime `json:"start,omitempty"`
}

func (s *TimetableService) CreateTrip(ctx context.Context, snapshotID string, in *CreateTripInput) (*model.Trip, error) {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return nil, err
	}
	if err := model.Validate(in); err != nil {
		return nil, err
	}
	ok, err := s.store.PatternExists(ctx, snapshotID, in.PatternID)
	if err := requireRef(ok, err, "patternId", "pattern", in.PatternID); err != nil {
		return nil, err
	}
	ok, err = s.store.ServiceIDExists(ctx, snapshotID, in.ServiceID)
	if err := requireRef(ok, err, "serviceId", "service", in.ServiceID); err != nil {
		return nil, err
	}

	stops, err := s.store.PatternStops(ctx, snapshotID, in.PatternID)
	if err != nil {
		return nil, err
	}

	trip := &model.Trip{
		TripID:    in.TripID,
		PatternID: in.PatternID,
		ServiceID: in.ServiceID,
		Headsign:  in.Headsign,
		ShortName: in.ShortName,
		BlockID:   in.BlockID,
		Direction: in.Direction,
	}
	rows := seedStopTimes(stops, in.Start)
	if err := s.store.CreateTrip(ctx, snapshotID, trip, rows); err != nil {
		return nil, err
	}
	s.metrics.EntityMutations.WithLabelValues("trip", "create").Inc()
	s.logger.Info("trip created", "snapshot", snapshotID, "trip", trip.TripID, "pattern", in.PatternID)
	return trip, nil
}

// seedStopTimes builds one row per pattern stop. With a start time, each
// stop's arrival is the previous departure plus its default travel time, and
// its departure adds the default dwell.
func seedStopTimes(stops []model.PatternStop, start *model.ClockTime) []model.StopTime {
	rows := make([]model.StopTime, len(stops))
	for i := range stops {
		rows[i] = model.StopTime{Ordinal: i}
	}
	if start == nil {
		return rows
	}

	cursor := *start
	for i, ps := range stops {
		if i > 0 {
			cursor += model.ClockTime(ps.DefaultTravelTime)
		}
		arrival := cursor
		departure := cursor + model.ClockTime(ps.DefaultDwellTime)
		rows[i].Arrival = &arrival
		rows[i].Departure = &departure
		cursor = departure
	}
	return rows
}

func (s *TimetableService) GetTrip(ctx context.Context, ns, id string) (*model.Trip, error) {
	return s.store.GetTrip(ctx, ns, id)
}

func (s *TimetableService) ListTrips(ctx context.Context, ns, patternID, serviceID string) ([]model.Trip, error) {
	return s.store.ListTrips(ctx, ns, patternID, serviceID)
}

func (s *TimetableService) StopTimes(ctx context.Context, ns, tripID string) ([]model.StopTime, error) {
	return s.store.StopTimes(ctx, ns, tripID)
}

func (s *TimetableService) UpdateTrip(ctx context.Context, snapshotID string, t *model.Trip) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := model.Validate(t); err != nil {
		return err
	}
	existing, err := s.store.GetTrip(ctx, snapshotID, t.ID)
	if err != nil {
		return err
	}
	// A trip's stop-time rows mirror its pattern's stop sequence; moving the
	// trip to another pattern would leave them describing the wrong stops.
	if t.PatternID != existing.PatternID {
		return apperror.ValidationFailed("patternId", "trip cannot move to a different pattern; create a new trip instead")
	}
	ok, err := s.store.ServiceIDExists(ctx, snapshotID, t.ServiceID)
	if err := requireRef(ok, err, "serviceId", "service", t.ServiceID); err != nil {
		return err
	}
	if err := s.store.UpdateTrip(ctx, snapshotID, t); err != nil {
		return err
	}
	s.metrics.EntityMutations.WithLabelValues("trip", "update").Inc()
	return nil
}

func (s *TimetableService) DeleteTrip(ctx context.Context, snapshotID, id string) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := s.store.DeleteTrip(ctx, snapshotID, id); err != nil {
		return err
	}
	s.metrics.EntityMutations.WithLabelValues("trip", "delete").Inc()
	return nil
}

// DuplicateTrip copies a trip column under a new trip ID, shifting every set
// time by offset seconds.
func (s *TimetableService) DuplicateTrip(ctx context.Context, snapshotID, id, newTripID string, offset int) (*model.Trip, error) {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return nil, err
	}
	src, err := s.store.GetTrip(ctx, snapshotID, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.StopTimes(ctx, snapshotID, src.TripID)
	if err != nil {
		return nil, err
	}

	dup := &model.Trip{}
	if err := deepcopier.Copy(src).To(dup); err != nil {
		return nil, fmt.Errorf("copying trip %s: %w", src.TripID, err)
	}
	dup.TripID = newTripID

	shifted := make([]model.StopTime, len(rows))
	for i, st := range rows {
		shifted[i] = model.StopTime{Ordinal: st.Ordinal}
		if st.Arrival != nil {
			t := *st.Arrival + model.ClockTime(offset)
			if t < 0 {
				return nil, apperror.ValidationFailed("offset", "offset shifts a time before midnight")
			}
			shifted[i].Arrival = &t
		}
		if st.Departure != nil {
			t := *st.Departure + model.ClockTime(offset)
			if t < 0 {
				return nil, apperror.ValidationFailed("offset", "offset shifts a time before midnight")
			}
			shifted[i].Departure = &t
		}
	}

	if err := s.store.CreateTrip(ctx, snapshotID, dup, shifted); err != nil {
		return nil, err
	}
	s.metrics.EntityMutations.WithLabelValues("trip", "duplicate").Inc()
	return dup, nil
}

// SetStopTime commits a single cell edit after checking it against the
// nearest set neighbors in the same column.
func (s *TimetableService) SetStopTime(ctx context.Context, snapshotID, tripID string, edit *model.StopTime) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if edit.Arrival != nil && edit.Departure != nil && *edit.Departure < *edit.Arrival {
		return apperror.ValidationFailed(fmt.Sprintf("%d", edit.Ordinal), "departure precedes arrival")
	}

	rows, err := s.store.StopTimes(ctx, snapshotID, tripID)
	if err != nil {
		return err
	}
	var target *model.StopTime
	for i := range rows {
		if rows[i].Ordinal == edit.Ordinal {
			target = &rows[i]
			break
		}
	}
	if target == nil {
		return apperror.NotFound("stop time", fmt.Sprintf("%s[%d]", tripID, edit.Ordinal))
	}

	if err := checkNeighbors(rows, edit); err != nil {
		return err
	}

	target.Arrival = edit.Arrival
	target.Departure = edit.Departure
	if err := s.store.UpdateStopTime(ctx, snapshotID, target); err != nil {
		return err
	}
	s.metrics.EntityMutations.WithLabelValues("stop_time", "set").Inc()
	return nil
}

// checkNeighbors rejects an edit whose times cross the latest set time before
// the ordinal or the earliest set time after it. Unset cells in between are
// skipped, so sparse columns stay editable in any order.
func checkNeighbors(rows []model.StopTime, edit *model.StopTime) error {
	field := fmt.Sprintf("%d", edit.Ordinal)

	var before, after *model.ClockTime
	for _, st := range rows {
		if st.Ordinal < edit.Ordinal {
			if st.Departure != nil {
				before = st.Departure
			} else if st.Arrival != nil {
				before = st.Arrival
			}
		}
		if st.Ordinal > edit.Ordinal && after == nil {
			if st.Arrival != nil {
				after = st.Arrival
			} else if st.Departure != nil {
				after = st.Departure
			}
		}
	}

	first := edit.Arrival
	if first == nil {
		first = edit.Departure
	}
	last := edit.Departure
	if last == nil {
		last = edit.Arrival
	}
	if before != nil && first != nil && *first < *before {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("time %s precedes the previous stop's %s", first, before))
	}
	if after != nil && last != nil && *last > *after {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("time %s follows the next stop's %s", last, after))
	}
	return nil
}

// SaveTrip replaces a trip's entire column atomically. The new rows must
// cover the pattern's sequence exactly and be monotonic; otherwise nothing is
// written.
func (s *TimetableService) SaveTrip(ctx context.Context, snapshotID, tripID string, rows []model.StopTime) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	trips, err := s.store.ListTrips(ctx, snapshotID, "", "")
	if err != nil {
		return err
	}
	var trip *model.Trip
	for i := range trips {
		if trips[i].TripID == tripID {
			trip = &trips[i]
			break
		}
	}
	if trip == nil {
		return apperror.NotFound("trip", tripID)
	}

	stops, err := s.store.PatternStops(ctx, snapshotID, trip.PatternID)
	if err != nil {
		return err
	}
	if len(rows) != len(stops) {
		return apperror.ValidationFailed("stopTimes",
			fmt.Sprintf("expected %d rows for pattern %s, got %d", len(stops), trip.PatternID, len(rows)))
	}
	for i, st := range rows {
		if st.Ordinal != i {
			return apperror.ValidationFailed("stopTimes", fmt.Sprintf("row %d has ordinal %d", i, st.Ordinal))
		}
		if st.Arrival != nil && st.Departure != nil && *st.Departure < *st.Arrival {
			return apperror.ValidationFailed(fmt.Sprintf("%d", st.Ordinal), "departure precedes arrival")
		}
	}
	if !timesMonotonic(rows) {
		return apperror.ValidationFailed("stopTimes", "stop times are not in non-decreasing order")
	}

	if err := s.store.ReplaceStopTimes(ctx, snapshotID, tripID, rows); err != nil {
		return err
	}
	s.metrics.EntityMutations.WithLabelValues("stop_time", "save").Inc()
	return nil
}
