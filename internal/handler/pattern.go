package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/model"
	"github.com/transitkit/feedsmith/internal/service"
)

// PatternHandler serves patterns and their stop sequences. Structural edits
// return the new sequence plus any trips whose times the edit broke.
type PatternHandler struct {
	patterns *service.PatternService
	logger   *slog.Logger
}

func NewPatternHandler(patterns *service.PatternService, logger *slog.Logger) *PatternHandler {
	return &PatternHandler{patterns: patterns, logger: logger}
}

func (h *PatternHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var p model.Pattern
	if err := decode(r, &p); err != nil {
		writeError(w, err)
		return
	}
	if err := h.patterns.Create(r.Context(), snapshotID(r), &p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PatternHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.patterns.Get(r.Context(), snapshotID(r), r.PathValue("pid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PatternHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.patterns.List(r.Context(), snapshotID(r), r.URL.Query().Get("route"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *PatternHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var p model.Pattern
	if err := decode(r, &p); err != nil {
		writeError(w, err)
		return
	}
	p.ID = r.PathValue("pid")
	if err := h.patterns.Update(r.Context(), snapshotID(r), &p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PatternHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.patterns.Delete(r.Context(), snapshotID(r), r.PathValue("pid"), cascade(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PatternHandler) HandleStops(w http.ResponseWriter, r *http.Request) {
	stops, err := h.patterns.Stops(r.Context(), snapshotID(r), r.PathValue("pid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stops)
}

func (h *PatternHandler) HandleAddStop(w http.ResponseWriter, r *http.Request) {
	var ps model.PatternStop
	if err := decode(r, &ps); err != nil {
		writeError(w, err)
		return
	}
	ps.PatternID = r.PathValue("pid")
	result, err := h.patterns.AddStop(r.Context(), snapshotID(r), &ps)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PatternHandler) HandleRemoveStop(w http.ResponseWriter, r *http.Request) {
	pos, err := strconv.Atoi(r.PathValue("pos"))
	if err != nil {
		writeError(w, apperror.ValidationFailed("position", "position must be an integer"))
		return
	}
	result, err := h.patterns.RemoveStop(r.Context(), snapshotID(r), r.PathValue("pid"), pos)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PatternHandler) HandleMoveStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.patterns.MoveStop(r.Context(), snapshotID(r), r.PathValue("pid"), req.From, req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PatternHandler) HandleDuplicate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatternID string `json:"patternId"`
		Name      string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	dup, err := h.patterns.Duplicate(r.Context(), snapshotID(r), r.PathValue("pid"), req.PatternID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}
