package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ulule/deepcopier"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/metrics"
	"github.com/transitkit/feedsmith/internal/model"
)

// PatternService manages patterns and their ordered stop sequences.
// Structural edits (insert, remove, move) cascade into every dependent trip;
// edits that leave a trip's remaining times out of order are flagged, never
// silently repaired.
type PatternService struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewPatternService(store Store, logger *slog.Logger, m *metrics.Metrics) *PatternService {
	return &PatternService{store: store, logger: logger, metrics: m}
}

// StructuralEditResult reports the aftermath of a structural pattern edit.
// InvalidTrips lists trips whose remaining stop times are no longer
// non-decreasing; fixing them is the editor's job.
type StructuralEditResult struct {
	Stops        []model.PatternStop `json:"stops"`
	InvalidTrips []string            `json:"invalidTrips,omitempty"`
}

func (s *PatternService) Create(ctx context.Context, snapshotID string, p *model.Pattern) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := model.Validate(p); err != nil {
		return err
	}
	ok, err := s.store.RouteExists(ctx, snapshotID, p.RouteID)
	if err := requireRef(ok, err, "routeId", "route", p.RouteID); err != nil {
		return err
	}
	if err := s.store.CreatePattern(ctx, snapshotID, p); err != nil {
		return err
	}
	s.metrics.EntityMutations.WithLabelValues("pattern", "create").Inc()
	s.logger.Info("pattern created", "snapshot", snapshotID, "pattern", p.PatternID)
	return nil
}

func (s *PatternService) Get(ctx context.Context, ns, id string) (*model.Pattern, error) {
	return s.store.GetPattern(ctx, ns, id)
}

func (s *PatternService) List(ctx context.Context, ns, routeID string) ([]model.Pattern, error) {
	return s.store.ListPatterns(ctx, ns, routeID)
}

func (s *PatternService) Stops(ctx context.Context, ns, patternID string) ([]model.PatternStop, error) {
	ok, err := s.store.PatternExists(ctx, ns, patternID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.NotFound("pattern", patternID)
	}
	return s.store.PatternStops(ctx, ns, patternID)
}

func (s *PatternService) Update(ctx context.Context, snapshotID string, p *model.Pattern) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := model.Validate(p); err != nil {
		return err
	}
	ok, err := s.store.RouteExists(ctx, snapshotID, p.RouteID)
	if err := requireRef(ok, err, "routeId", "route", p.RouteID); err != nil {
		return err
	}
	if err := s.store.UpdatePattern(ctx, snapshotID, p); err != nil {
		return err
	}
	s.metrics.EntityMutations.WithLabelValues("pattern", "update").Inc()
	return nil
}

func (s *PatternService) Delete(ctx context.Context, snapshotID, id string, cascade bool) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := s.store.DeletePattern(ctx, snapshotID, id, cascade); err != nil {
		return err
	}
	s.metrics.EntityMutations.WithLabelValues("pattern", "delete").Inc()
	return nil
}

// AddStop inserts a stop into the pattern sequence. Dependent trips get a
// blank cell at the new ordinal, so the edit never invents times.
func (s *PatternService) AddStop(ctx context.Context, snapshotID string, ps *model.PatternStop) (*StructuralEditResult, error) {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return nil, err
	}
	if err := model.Validate(ps); err != nil {
		return nil, err
	}
	ok, err := s.store.PatternExists(ctx, snapshotID, ps.PatternID)
	if err := requireRef(ok, err, "patternId", "pattern", ps.PatternID); err != nil {
		return nil, err
	}
	ok, err = s.store.StopExists(ctx, snapshotID, ps.StopID)
	if err := requireRef(ok, err, "stopId", "stop", ps.StopID); err != nil {
		return nil, err
	}
	if err := s.store.InsertPatternStop(ctx, snapshotID, ps); err != nil {
		return nil, err
	}
	s.metrics.EntityMutations.WithLabelValues("pattern_stop", "insert").Inc()
	return s.structuralResult(ctx, snapshotID, ps.PatternID)
}

// RemoveStop deletes one ordinal from the sequence and the matching cell from
// every dependent trip. Trips whose remaining times now run backwards are
// listed in the result.
func (s *PatternService) RemoveStop(ctx context.Context, snapshotID, patternID string, position int) (*StructuralEditResult, error) {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return nil, err
	}
	if err := s.store.RemovePatternStop(ctx, snapshotID, patternID, position); err != nil {
		return nil, err
	}
	s.metrics.EntityMutations.WithLabelValues("pattern_stop", "remove").Inc()
	return s.structuralResult(ctx, snapshotID, patternID)
}

// MoveStop reorders the sequence, carrying each trip's cell along with its
// ordinal.
func (s *PatternService) MoveStop(ctx context.Context, snapshotID, patternID string, from, to int) (*StructuralEditResult, error) {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return nil, err
	}
	ok, err := s.store.PatternExists(ctx, snapshotID, patternID)
	if err := requireRef(ok, err, "patternId", "pattern", patternID); err != nil {
		return nil, err
	}
	if err := s.store.MovePatternStop(ctx, snapshotID, patternID, from, to); err != nil {
		return nil, err
	}
	s.metrics.EntityMutations.WithLabelValues("pattern_stop", "move").Inc()
	return s.structuralResult(ctx, snapshotID, patternID)
}

// Duplicate copies a pattern and its stop sequence under a new natural key.
// Trips are not copied.
func (s *PatternService) Duplicate(ctx context.Context, snapshotID, id, newPatternID, newName string) (*model.Pattern, error) {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return nil, err
	}
	src, err := s.store.GetPattern(ctx, snapshotID, id)
	if err != nil {
		return nil, err
	}
	stops, err := s.store.PatternStops(ctx, snapshotID, src.PatternID)
	if err != nil {
		return nil, err
	}

	dup := &model.Pattern{}
	if err := deepcopier.Copy(src).To(dup); err != nil {
		return nil, fmt.Errorf("copying pattern %s: %w", src.PatternID, err)
	}
	dup.PatternID = newPatternID
	if newName != "" {
		dup.Name = newName
	}
	if err := model.Validate(dup); err != nil {
		return nil, err
	}
	if err := s.store.CreatePattern(ctx, snapshotID, dup); err != nil {
		return nil, err
	}
	for i := range stops {
		ps := model.PatternStop{}
		if err := deepcopier.Copy(&stops[i]).To(&ps); err != nil {
			return nil, fmt.Errorf("copying pattern stop: %w", err)
		}
		ps.PatternID = newPatternID
		if err := s.store.InsertPatternStop(ctx, snapshotID, &ps); err != nil {
			return nil, err
		}
	}
	s.metrics.EntityMutations.WithLabelValues("pattern", "duplicate").Inc()
	s.logger.Info("pattern duplicated", "snapshot", snapshotID, "from", src.PatternID, "to", newPatternID)
	return dup, nil
}

func (s *PatternService) structuralResult(ctx context.Context, ns, patternID string) (*StructuralEditResult, error) {
	stops, err := s.store.PatternStops(ctx, ns, patternID)
	if err != nil {
		return nil, err
	}
	invalid, err := s.invalidTrips(ctx, ns, patternID)
	if err != nil {
		return nil, err
	}
	return &StructuralEditResult{Stops: stops, InvalidTrips: invalid}, nil
}

// invalidTrips returns the pattern's trips whose set cells are no longer in
// non-decreasing order.
func (s *PatternService) invalidTrips(ctx context.Context, ns, patternID string) ([]string, error) {
	trips, err := s.store.ListTrips(ctx, ns, patternID, "")
	if err != nil {
		return nil, err
	}
	var invalid []string
	for _, t := range trips {
		rows, err := s.store.StopTimes(ctx, ns, t.TripID)
		if err != nil {
			return nil, err
		}
		if !timesMonotonic(rows) {
			invalid = append(invalid, t.TripID)
		}
	}
	return invalid, nil
}

// timesMonotonic checks that, skipping unset cells, arrivals and departures
// never run backwards across the sequence.
func timesMonotonic(rows []model.StopTime) bool {
	var last *model.ClockTime
	for _, st := range rows {
		if st.Arrival != nil {
			if last != nil && *st.Arrival < *last {
				return false
			}
			last = st.Arrival
		}
		if st.Departure != nil {
			if last != nil && *st.Departure < *last {
				return false
			}
			last = st.Departure
		}
	}
	return true
}
