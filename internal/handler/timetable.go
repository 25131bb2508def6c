package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/model"
	"github.com/transitkit/feedsmith/internal/service"
)

// TimetableHandler serves the grid view and trip-level editing.
type TimetableHandler struct {
	timetable *service.TimetableService
	logger    *slog.Logger
}

func NewTimetableHandler(timetable *service.TimetableService, logger *slog.Logger) *TimetableHandler {
	return &TimetableHandler{timetable: timetable, logger: logger}
}

// HandleGrid returns the timetable for ?pattern=..., optionally narrowed to
// one service with ?service=....
func (h *TimetableHandler) HandleGrid(w http.ResponseWriter, r *http.Request) {
	patternID := r.URL.Query().Get("pattern")
	if patternID == "" {
		writeError(w, apperror.ValidationFailed("pattern", "pattern query parameter is required"))
		return
	}
	grid, err := h.timetable.Grid(r.Context(), snapshotID(r), patternID, r.URL.Query().Get("service"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

func (h *TimetableHandler) HandleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var in service.CreateTripInput
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	trip, err := h.timetable.CreateTrip(r.Context(), snapshotID(r), &in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

func (h *TimetableHandler) HandleGetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := h.timetable.GetTrip(r.Context(), snapshotID(r), r.PathValue("tid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (h *TimetableHandler) HandleListTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.timetable.ListTrips(r.Context(), snapshotID(r), q.Get("pattern"), q.Get("service"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *TimetableHandler) HandleUpdateTrip(w http.ResponseWriter, r *http.Request) {
	var t model.Trip
	if err := decode(r, &t); err != nil {
		writeError(w, err)
		return
	}
	t.ID = r.PathValue("tid")
	if err := h.timetable.UpdateTrip(r.Context(), snapshotID(r), &t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TimetableHandler) HandleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	if err := h.timetable.DeleteTrip(r.Context(), snapshotID(r), r.PathValue("tid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDuplicateTrip copies a trip under a new ID, shifting every set time
// by offsetSeconds.
func (h *TimetableHandler) HandleDuplicateTrip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TripID        string `json:"tripId"`
		OffsetSeconds int    `json:"offsetSeconds"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	dup, err := h.timetable.DuplicateTrip(r.Context(), snapshotID(r), r.PathValue("tid"), req.TripID, req.OffsetSeconds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}

// HandleSetStopTime edits a single cell, validated against its set neighbors.
func (h *TimetableHandler) HandleSetStopTime(w http.ResponseWriter, r *http.Request) {
	ordinal, err := strconv.Atoi(r.PathValue("ordinal"))
	if err != nil {
		writeError(w, apperror.ValidationFailed("ordinal", "ordinal must be an integer"))
		return
	}
	var st model.StopTime
	if err := decode(r, &st); err != nil {
		writeError(w, err)
		return
	}
	st.Ordinal = ordinal
	if err := h.timetable.SetStopTime(r.Context(), snapshotID(r), r.PathValue("tid"), &st); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleSaveTrip replaces a trip's whole stop-time column atomically.
func (h *TimetableHandler) HandleSaveTrip(w http.ResponseWriter, r *http.Request) {
	var rows []model.StopTime
	if err := decode(r, &rows); err != nil {
		writeError(w, err)
		return
	}
	tripID := r.PathValue("tid")
	if err := h.timetable.SaveTrip(r.Context(), snapshotID(r), tripID, rows); err != nil {
		writeError(w, err)
		return
	}
	saved, err := h.timetable.StopTimes(r.Context(), snapshotID(r), tripID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
