package service

import (
	"context"
	"log/slog"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/metrics"
	"github.com/transitkit/feedsmith/internal/model"
)

// EntityService is the validated CRUD surface over a snapshot's entity set.
// Every mutation checks the snapshot is editable, validates the input, and
// verifies natural-key references before touching the store.
type EntityService struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewEntityService(store Store, logger *slog.Logger, m *metrics.Metrics) *EntityService {
	return &EntityService{store: store, logger: logger, metrics: m}
}

func (s *EntityService) count(kind, op string) {
	s.metrics.EntityMutations.WithLabelValues(kind, op).Inc()
}

func (s *EntityService) CreateAgency(ctx context.Context, snapshotID string, a *model.Agency) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := model.Validate(a); err != nil {
		return err
	}
	if err := s.store.CreateAgency(ctx, snapshotID, a); err != nil {
		return err
	}
	s.count("agency", "create")
	s.logger.Info("agency created", "snapshot", snapshotID, "agency", a.AgencyID)
	return nil
}

func (s *EntityService) GetAgency(ctx context.Context, ns, id string) (*model.Agency, error) {
	return s.store.GetAgency(ctx, ns, id)
}

func (s *EntityService) ListAgencies(ctx context.Context, ns string) ([]model.Agency, error) {
	return s.store.ListAgencies(ctx, ns)
}

func (s *EntityService) UpdateAgency(ctx context.Context, snapshotID string, a *model.Agency) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := model.Validate(a); err != nil {
		return err
	}
	if err := s.store.UpdateAgency(ctx, snapshotID, a); err != nil {
		return err
	}
	s.count("agency", "update")
	return nil
}

func (s *EntityService) DeleteAgency(ctx context.Context, snapshotID, id string, cascade bool) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := s.store.DeleteAgency(ctx, snapshotID, id, cascade); err != nil {
		return err
	}
	s.count("agency", "delete")
	return nil
}

func (s *EntityService) CreateStop(ctx context.Context, snapshotID string, st *model.Stop) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := model.Validate(st); err != nil {
		return err
	}
	if err := s.store.CreateStop(ctx, snapshotID, st); err != nil {
		return err
	}
	s.count("stop", "create")
	return nil
}

func (s *EntityService) GetStop(ctx context.Context, ns, id string) (*model.Stop, error) {
	return s.store.GetStop(ctx, ns, id)
}

func (s *EntityService) ListStops(ctx context.Context, ns string) ([]model.Stop, error) {
	return s.store.ListStops(ctx, ns)
}

func (s *EntityService) UpdateStop(ctx context.Context, snapshotID string, st *model.Stop) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := model.Validate(st); err != nil {
		return err
	}
	if err := s.store.UpdateStop(ctx, snapshotID, st); err != nil {
		return err
	}
	s.count("stop", "update")
	return nil
}

func (s *EntityService) DeleteStop(ctx context.Context, snapshotID, id string, cascade bool) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := s.store.DeleteStop(ctx, snapshotID, id, cascade); err != nil {
		return err
	}
	s.count("stop", "delete")
	return nil
}

func (s *EntityService) CreateRoute(ctx context.Context, snapshotID string, r *model.Route) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := model.Validate(r); err != nil {
		return err
	}
	ok, err := s.store.AgencyExists(ctx, snapshotID, r.AgencyID)
	if err := requireRef(ok, err, "agencyId", "agency", r.AgencyID); err != nil {
		return err
	}
	if err := s.store.CreateRoute(ctx, snapshotID, r); err != nil {
		return err
	}
	s.count("route", "create")
	s.logger.Info("route created", "snapshot", snapshotID, "route", r.RouteID)
	return nil
}

func (s *EntityService) GetRoute(ctx context.Context, ns, id string) (*model.Route, error) {
	return s.store.GetRoute(ctx, ns, id)
}

func (s *EntityService) ListRoutes(ctx context.Context, ns string) ([]model.Route, error) {
	return s.store.ListRoutes(ctx, ns)
}

func (s *EntityService) UpdateRoute(ctx context.Context, snapshotID string, r *model.Route) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := model.Validate(r); err != nil {
		return err
	}
	ok, err := s.store.AgencyExists(ctx, snapshotID, r.AgencyID)
	if err := requireRef(ok, err, "agencyId", "agency", r.AgencyID); err != nil {
		return err
	}
	if err := s.store.UpdateRoute(ctx, snapshotID, r); err != nil {
		return err
	}
	s.count("route", "update")
	return nil
}

func (s *EntityService) DeleteRoute(ctx context.Context, snapshotID, id string, cascade bool) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := s.store.DeleteRoute(ctx, snapshotID, id, cascade); err != nil {
		return err
	}
	s.count("route", "delete")
	return nil
}

func (s *EntityService) CreateCalendar(ctx context.Context, snapshotID string, c *model.Calendar) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := validateCalendar(c); err != nil {
		return err
	}
	if err := s.store.CreateCalendar(ctx, snapshotID, c); err != nil {
		return err
	}
	s.count("calendar", "create")
	return nil
}

func (s *EntityService) GetCalendar(ctx context.Context, ns, id string) (*model.Calendar, error) {
	return s.store.GetCalendar(ctx, ns, id)
}

func (s *EntityService) ListCalendars(ctx context.Context, ns string) ([]model.Calendar, error) {
	return s.store.ListCalendars(ctx, ns)
}

func (s *EntityService) UpdateCalendar(ctx context.Context, snapshotID string, c *model.Calendar) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := validateCalendar(c); err != nil {
		return err
	}
	if err := s.store.UpdateCalendar(ctx, snapshotID, c); err != nil {
		return err
	}
	s.count("calendar", "update")
	return nil
}

func (s *EntityService) DeleteCalendar(ctx context.Context, snapshotID, id string, cascade bool) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := s.store.DeleteCalendar(ctx, snapshotID, id, cascade); err != nil {
		return err
	}
	s.count("calendar", "delete")
	return nil
}

func (s *EntityService) CreateCalendarException(ctx context.Context, snapshotID string, e *model.CalendarException) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := model.Validate(e); err != nil {
		return err
	}
	if err := s.store.CreateCalendarException(ctx, snapshotID, e); err != nil {
		return err
	}
	s.count("calendar_exception", "create")
	return nil
}

func (s *EntityService) GetCalendarException(ctx context.Context, ns, id string) (*model.CalendarException, error) {
	return s.store.GetCalendarException(ctx, ns, id)
}

func (s *EntityService) ListCalendarExceptions(ctx context.Context, ns string) ([]model.CalendarException, error) {
	return s.store.ListCalendarExceptions(ctx, ns)
}

func (s *EntityService) UpdateCalendarException(ctx context.Context, snapshotID string, e *model.CalendarException) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := model.Validate(e); err != nil {
		return err
	}
	if err := s.store.UpdateCalendarException(ctx, snapshotID, e); err != nil {
		return err
	}
	s.count("calendar_exception", "update")
	return nil
}

func (s *EntityService) DeleteCalendarException(ctx context.Context, snapshotID, id string, cascade bool) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := s.store.DeleteCalendarException(ctx, snapshotID, id, cascade); err != nil {
		return err
	}
	s.count("calendar_exception", "delete")
	return nil
}

func (s *EntityService) CreateFare(ctx context.Context, snapshotID string, f *model.Fare) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := model.Validate(f); err != nil {
		return err
	}
	if err := s.store.CreateFare(ctx, snapshotID, f); err != nil {
		return err
	}
	s.count("fare", "create")
	return nil
}

func (s *EntityService) GetFare(ctx context.Context, ns, id string) (*model.Fare, error) {
	return s.store.GetFare(ctx, ns, id)
}

func (s *EntityService) ListFares(ctx context.Context, ns string) ([]model.Fare, error) {
	return s.store.ListFares(ctx, ns)
}

func (s *EntityService) UpdateFare(ctx context.Context, snapshotID string, f *model.Fare) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := model.Validate(f); err != nil {
		return err
	}
	if err := s.store.UpdateFare(ctx, snapshotID, f); err != nil {
		return err
	}
	s.count("fare", "update")
	return nil
}

func (s *EntityService) DeleteFare(ctx context.Context, snapshotID, id string, cascade bool) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := s.store.DeleteFare(ctx, snapshotID, id, cascade); err != nil {
		return err
	}
	s.count("fare", "delete")
	return nil
}

func (s *EntityService) CreateFareRule(ctx context.Context, snapshotID string, fr *model.FareRule) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := s.validateFareRule(ctx, snapshotID, fr); err != nil {
		return err
	}
	if err := s.store.CreateFareRule(ctx, snapshotID, fr); err != nil {
		return err
	}
	s.count("fare_rule", "create")
	return nil
}

func (s *EntityService) GetFareRule(ctx context.Context, ns, id string) (*model.FareRule, error) {
	return s.store.GetFareRule(ctx, ns, id)
}

func (s *EntityService) ListFareRules(ctx context.Context, ns string) ([]model.FareRule, error) {
	return s.store.ListFareRules(ctx, ns)
}

func (s *EntityService) UpdateFareRule(ctx context.Context, snapshotID string, fr *model.FareRule) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := s.validateFareRule(ctx, snapshotID, fr); err != nil {
		return err
	}
	if err := s.store.UpdateFareRule(ctx, snapshotID, fr); err != nil {
		return err
	}
	s.count("fare_rule", "update")
	return nil
}

func (s *EntityService) DeleteFareRule(ctx context.Context, snapshotID, id string) error {
	if _, err := editableSnapshot(ctx, s.store, snapshotID); err != nil {
		return err
	}
	if err := s.store.DeleteFareRule(ctx, snapshotID, id); err != nil {
		return err
	}
	s.count("fare_rule", "delete")
	return nil
}

func (s *EntityService) validateFareRule(ctx context.Context, ns string, fr *model.FareRule) error {
	if err := model.Validate(fr); err != nil {
		return err
	}
	ok, err := s.store.FareExists(ctx, ns, fr.FareID)
	if err := requireRef(ok, err, "fareId", "fare", fr.FareID); err != nil {
		return err
	}
	if fr.RouteID != "" {
		ok, err := s.store.RouteExists(ctx, ns, fr.RouteID)
		if err := requireRef(ok, err, "routeId", "route", fr.RouteID); err != nil {
			return err
		}
	}
	return nil
}

func validateCalendar(c *model.Calendar) error {
	if err := model.Validate(c); err != nil {
		return err
	}
	if c.EndDate.Before(c.StartDate) {
		return apperror.ValidationFailed("endDate", "end date precedes start date")
	}
	return nil
}
