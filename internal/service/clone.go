package service

import (
	"context"
	"fmt"

	"github.com/rickb777/date"
	"github.com/ulule/deepcopier"

	"github.com/transitkit/feedsmith/internal/model"
)

// Clone operations copy an entity within the same snapshot under a fresh
// natural key. An empty newKey derives one from the source key.

func cloneKey(key, newKey string) string {
	if newKey != "" {
		return newKey
	}
	return key + "-copy"
}

func (s *EntityService) CloneAgency(ctx context.Context, snapshotID, id, newKey string) (*model.Agency, error) {
	src, err := s.store.GetAgency(ctx, snapshotID, id)
	if err != nil {
		return nil, err
	}
	dup := &model.Agency{}
	if err := deepcopier.Copy(src).To(dup); err != nil {
		return nil, fmt.Errorf("copying agency %s: %w", src.AgencyID, err)
	}
	dup.AgencyID = cloneKey(src.AgencyID, newKey)
	if err := s.CreateAgency(ctx, snapshotID, dup); err != nil {
		return nil, err
	}
	s.count("agency", "clone")
	return dup, nil
}

func (s *EntityService) CloneStop(ctx context.Context, snapshotID, id, newKey string) (*model.Stop, error) {
	src, err := s.store.GetStop(ctx, snapshotID, id)
	if err != nil {
		return nil, err
	}
	dup := &model.Stop{}
	if err := deepcopier.Copy(src).To(dup); err != nil {
		return nil, fmt.Errorf("copying stop %s: %w", src.StopID, err)
	}
	dup.StopID = cloneKey(src.StopID, newKey)
	if err := s.CreateStop(ctx, snapshotID, dup); err != nil {
		return nil, err
	}
	s.count("stop", "clone")
	return dup, nil
}

func (s *EntityService) CloneRoute(ctx context.Context, snapshotID, id, newKey string) (*model.Route, error) {
	src, err := s.store.GetRoute(ctx, snapshotID, id)
	if err != nil {
		return nil, err
	}
	dup := &model.Route{}
	if err := deepcopier.Copy(src).To(dup); err != nil {
		return nil, fmt.Errorf("copying route %s: %w", src.RouteID, err)
	}
	dup.RouteID = cloneKey(src.RouteID, newKey)
	if err := s.CreateRoute(ctx, snapshotID, dup); err != nil {
		return nil, err
	}
	s.count("route", "clone")
	return dup, nil
}

func (s *EntityService) CloneCalendar(ctx context.Context, snapshotID, id, newKey string) (*model.Calendar, error) {
	src, err := s.store.GetCalendar(ctx, snapshotID, id)
	if err != nil {
		return nil, err
	}
	dup := &model.Calendar{}
	if err := deepcopier.Copy(src).To(dup); err != nil {
		return nil, fmt.Errorf("copying calendar %s: %w", src.ServiceID, err)
	}
	dup.ServiceID = cloneKey(src.ServiceID, newKey)
	if err := s.CreateCalendar(ctx, snapshotID, dup); err != nil {
		return nil, err
	}
	s.count("calendar", "clone")
	return dup, nil
}

func (s *EntityService) CloneCalendarException(ctx context.Context, snapshotID, id, newKey string) (*model.CalendarException, error) {
	src, err := s.store.GetCalendarException(ctx, snapshotID, id)
	if err != nil {
		return nil, err
	}
	dup := &model.CalendarException{
		ServiceID:    cloneKey(src.ServiceID, newKey),
		Name:         src.Name,
		AddedDates:   append([]date.Date(nil), src.AddedDates...),
		RemovedDates: append([]date.Date(nil), src.RemovedDates...),
	}
	if err := s.CreateCalendarException(ctx, snapshotID, dup); err != nil {
		return nil, err
	}
	s.count("calendar_exception", "clone")
	return dup, nil
}

func (s *EntityService) CloneFare(ctx context.Context, snapshotID, id, newKey string) (*model.Fare, error) {
	src, err := s.store.GetFare(ctx, snapshotID, id)
	if err != nil {
		return nil, err
	}
	dup := &model.Fare{}
	if err := deepcopier.Copy(src).To(dup); err != nil {
		return nil, fmt.Errorf("copying fare %s: %w", src.FareID, err)
	}
	dup.FareID = cloneKey(src.FareID, newKey)
	if err := s.CreateFare(ctx, snapshotID, dup); err != nil {
		return nil, err
	}
	s.count("fare", "clone")
	return dup, nil
}

func (s *EntityService) CloneFareRule(ctx context.Context, snapshotID, id string) (*model.FareRule, error) {
	src, err := s.store.GetFareRule(ctx, snapshotID, id)
	if err != nil {
		return nil, err
	}
	dup := &model.FareRule{}
	if err := deepcopier.Copy(src).To(dup); err != nil {
		return nil, fmt.Errorf("copying fare rule %s: %w", src.ID, err)
	}
	if err := s.CreateFareRule(ctx, snapshotID, dup); err != nil {
		return nil, err
	}
	s.count("fare_rule", "clone")
	return dup, nil
}
