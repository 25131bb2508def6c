package handler

import (
	"log/slog"
	"net/http"

	"github.com/transitkit/feedsmith/internal/model"
	"github.com/transitkit/feedsmith/internal/service"
)

// EntityHandler serves CRUD and clone for the simple entity kinds. Every
// route lives under a snapshot: /api/snapshots/{id}/<kind>/{eid}.
type EntityHandler struct {
	entities *service.EntityService
	logger   *slog.Logger
}

func NewEntityHandler(entities *service.EntityService, logger *slog.Logger) *EntityHandler {
	return &EntityHandler{entities: entities, logger: logger}
}

func snapshotID(r *http.Request) string { return r.PathValue("id") }
func entityID(r *http.Request) string   { return r.PathValue("eid") }
func cascade(r *http.Request) bool      { return r.URL.Query().Get("cascade") == "true" }

// cloneRequest names the fresh natural key for a clone; empty derives one
// from the source.
type cloneRequest struct {
	NewKey string `json:"newKey"`
}

func cloneKey(r *http.Request) (string, error) {
	if r.ContentLength == 0 {
		return "", nil
	}
	var req cloneRequest
	if err := decode(r, &req); err != nil {
		return "", err
	}
	return req.NewKey, nil
}

// Agencies

func (h *EntityHandler) HandleCreateAgency(w http.ResponseWriter, r *http.Request) {
	var a model.Agency
	if err := decode(r, &a); err != nil {
		writeError(w, err)
		return
	}
	if err := h.entities.CreateAgency(r.Context(), snapshotID(r), &a); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *EntityHandler) HandleGetAgency(w http.ResponseWriter, r *http.Request) {
	a, err := h.entities.GetAgency(r.Context(), snapshotID(r), entityID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *EntityHandler) HandleListAgencies(w http.ResponseWriter, r *http.Request) {
	list, err := h.entities.ListAgencies(r.Context(), snapshotID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *EntityHandler) HandleUpdateAgency(w http.ResponseWriter, r *http.Request) {
	var a model.Agency
	if err := decode(r, &a); err != nil {
		writeError(w, err)
		return
	}
	a.ID = entityID(r)
	if err := h.entities.UpdateAgency(r.Context(), snapshotID(r), &a); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *EntityHandler) HandleDeleteAgency(w http.ResponseWriter, r *http.Request) {
	if err := h.entities.DeleteAgency(r.Context(), snapshotID(r), entityID(r), cascade(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EntityHandler) HandleCloneAgency(w http.ResponseWriter, r *http.Request) {
	key, err := cloneKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dup, err := h.entities.CloneAgency(r.Context(), snapshotID(r), entityID(r), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}

// Stops

func (h *EntityHandler) HandleCreateStop(w http.ResponseWriter, r *http.Request) {
	var st model.Stop
	if err := decode(r, &st); err != nil {
		writeError(w, err)
		return
	}
	if err := h.entities.CreateStop(r.Context(), snapshotID(r), &st); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *EntityHandler) HandleGetStop(w http.ResponseWriter, r *http.Request) {
	st, err := h.entities.GetStop(r.Context(), snapshotID(r), entityID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *EntityHandler) HandleListStops(w http.ResponseWriter, r *http.Request) {
	list, err := h.entities.ListStops(r.Context(), snapshotID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *EntityHandler) HandleUpdateStop(w http.ResponseWriter, r *http.Request) {
	var st model.Stop
	if err := decode(r, &st); err != nil {
		writeError(w, err)
		return
	}
	st.ID = entityID(r)
	if err := h.entities.UpdateStop(r.Context(), snapshotID(r), &st); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *EntityHandler) HandleDeleteStop(w http.ResponseWriter, r *http.Request) {
	if err := h.entities.DeleteStop(r.Context(), snapshotID(r), entityID(r), cascade(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EntityHandler) HandleCloneStop(w http.ResponseWriter, r *http.Request) {
	key, err := cloneKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dup, err := h.entities.CloneStop(r.Context(), snapshotID(r), entityID(r), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}

// Routes

func (h *EntityHandler) HandleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var rt model.Route
	if err := decode(r, &rt); err != nil {
		writeError(w, err)
		return
	}
	if err := h.entities.CreateRoute(r.Context(), snapshotID(r), &rt); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

func (h *EntityHandler) HandleGetRoute(w http.ResponseWriter, r *http.Request) {
	rt, err := h.entities.GetRoute(r.Context(), snapshotID(r), entityID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (h *EntityHandler) HandleListRoutes(w http.ResponseWriter, r *http.Request) {
	list, err := h.entities.ListRoutes(r.Context(), snapshotID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *EntityHandler) HandleUpdateRoute(w http.ResponseWriter, r *http.Request) {
	var rt model.Route
	if err := decode(r, &rt); err != nil {
		writeError(w, err)
		return
	}
	rt.ID = entityID(r)
	if err := h.entities.UpdateRoute(r.Context(), snapshotID(r), &rt); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (h *EntityHandler) HandleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	if err := h.entities.DeleteRoute(r.Context(), snapshotID(r), entityID(r), cascade(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EntityHandler) HandleCloneRoute(w http.ResponseWriter, r *http.Request) {
	key, err := cloneKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dup, err := h.entities.CloneRoute(r.Context(), snapshotID(r), entityID(r), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}

// Calendars

func (h *EntityHandler) HandleCreateCalendar(w http.ResponseWriter, r *http.Request) {
	var c model.Calendar
	if err := decode(r, &c); err != nil {
		writeError(w, err)
		return
	}
	if err := h.entities.CreateCalendar(r.Context(), snapshotID(r), &c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *EntityHandler) HandleGetCalendar(w http.ResponseWriter, r *http.Request) {
	c, err := h.entities.GetCalendar(r.Context(), snapshotID(r), entityID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *EntityHandler) HandleListCalendars(w http.ResponseWriter, r *http.Request) {
	list, err := h.entities.ListCalendars(r.Context(), snapshotID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *EntityHandler) HandleUpdateCalendar(w http.ResponseWriter, r *http.Request) {
	var c model.Calendar
	if err := decode(r, &c); err != nil {
		writeError(w, err)
		return
	}
	c.ID = entityID(r)
	if err := h.entities.UpdateCalendar(r.Context(), snapshotID(r), &c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *EntityHandler) HandleDeleteCalendar(w http.ResponseWriter, r *http.Request) {
	if err := h.entities.DeleteCalendar(r.Context(), snapshotID(r), entityID(r), cascade(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EntityHandler) HandleCloneCalendar(w http.ResponseWriter, r *http.Request) {
	key, err := cloneKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dup, err := h.entities.CloneCalendar(r.Context(), snapshotID(r), entityID(r), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}

// Calendar exceptions

func (h *EntityHandler) HandleCreateCalendarException(w http.ResponseWriter, r *http.Request) {
	var e model.CalendarException
	if err := decode(r, &e); err != nil {
		writeError(w, err)
		return
	}
	if err := h.entities.CreateCalendarException(r.Context(), snapshotID(r), &e); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *EntityHandler) HandleGetCalendarException(w http.ResponseWriter, r *http.Request) {
	e, err := h.entities.GetCalendarException(r.Context(), snapshotID(r), entityID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EntityHandler) HandleListCalendarExceptions(w http.ResponseWriter, r *http.Request) {
	list, err := h.entities.ListCalendarExceptions(r.Context(), snapshotID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *EntityHandler) HandleUpdateCalendarException(w http.ResponseWriter, r *http.Request) {
	var e model.CalendarException
	if err := decode(r, &e); err != nil {
		writeError(w, err)
		return
	}
	e.ID = entityID(r)
	if err := h.entities.UpdateCalendarException(r.Context(), snapshotID(r), &e); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *EntityHandler) HandleDeleteCalendarException(w http.ResponseWriter, r *http.Request) {
	if err := h.entities.DeleteCalendarException(r.Context(), snapshotID(r), entityID(r), cascade(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EntityHandler) HandleCloneCalendarException(w http.ResponseWriter, r *http.Request) {
	key, err := cloneKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dup, err := h.entities.CloneCalendarException(r.Context(), snapshotID(r), entityID(r), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}

// Fares

func (h *EntityHandler) HandleCreateFare(w http.ResponseWriter, r *http.Request) {
	var f model.Fare
	if err := decode(r, &f); err != nil {
		writeError(w, err)
		return
	}
	if err := h.entities.CreateFare(r.Context(), snapshotID(r), &f); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *EntityHandler) HandleGetFare(w http.ResponseWriter, r *http.Request) {
	f, err := h.entities.GetFare(r.Context(), snapshotID(r), entityID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *EntityHandler) HandleListFares(w http.ResponseWriter, r *http.Request) {
	list, err := h.entities.ListFares(r.Context(), snapshotID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *EntityHandler) HandleUpdateFare(w http.ResponseWriter, r *http.Request) {
	var f model.Fare
	if err := decode(r, &f); err != nil {
		writeError(w, err)
		return
	}
	f.ID = entityID(r)
	if err := h.entities.UpdateFare(r.Context(), snapshotID(r), &f); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *EntityHandler) HandleDeleteFare(w http.ResponseWriter, r *http.Request) {
	if err := h.entities.DeleteFare(r.Context(), snapshotID(r), entityID(r), cascade(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EntityHandler) HandleCloneFare(w http.ResponseWriter, r *http.Request) {
	key, err := cloneKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	dup, err := h.entities.CloneFare(r.Context(), snapshotID(r), entityID(r), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}

// Fare rules

func (h *EntityHandler) HandleCreateFareRule(w http.ResponseWriter, r *http.Request) {
	var fr model.FareRule
	if err := decode(r, &fr); err != nil {
		writeError(w, err)
		return
	}
	if err := h.entities.CreateFareRule(r.Context(), snapshotID(r), &fr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fr)
}

func (h *EntityHandler) HandleGetFareRule(w http.ResponseWriter, r *http.Request) {
	fr, err := h.entities.GetFareRule(r.Context(), snapshotID(r), entityID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fr)
}

func (h *EntityHandler) HandleListFareRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.entities.ListFareRules(r.Context(), snapshotID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *EntityHandler) HandleUpdateFareRule(w http.ResponseWriter, r *http.Request) {
	var fr model.FareRule
	if err := decode(r, &fr); err != nil {
		writeError(w, err)
		return
	}
	fr.ID = entityID(r)
	if err := h.entities.UpdateFareRule(r.Context(), snapshotID(r), &fr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fr)
}

func (h *EntityHandler) HandleDeleteFareRule(w http.ResponseWriter, r *http.Request) {
	if err := h.entities.DeleteFareRule(r.Context(), snapshotID(r), entityID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EntityHandler) HandleCloneFareRule(w http.ResponseWriter, r *http.Request) {
	dup, err := h.entities.CloneFareRule(r.Context(), snapshotID(r), entityID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}
