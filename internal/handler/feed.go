package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/transitkit/feedsmith/internal/apperror"
	"github.com/transitkit/feedsmith/internal/model"
	"github.com/transitkit/feedsmith/internal/repository"
	"github.com/transitkit/feedsmith/internal/service"
)

// maxBundleSize caps uploaded GTFS zips at 256 MiB.
const maxBundleSize = 256 << 20

// FeedHandler serves feed sources, snapshots, versions, and job polling.
type FeedHandler struct {
	snapshots *service.SnapshotService
	logger    *slog.Logger
}

func NewFeedHandler(snapshots *service.SnapshotService, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{snapshots: snapshots, logger: logger}
}

func (h *FeedHandler) HandleCreateFeedSource(w http.ResponseWriter, r *http.Request) {
	var fs model.FeedSource
	if err := decode(r, &fs); err != nil {
		writeError(w, err)
		return
	}
	if err := h.snapshots.CreateFeedSource(r.Context(), &fs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fs)
}

func (h *FeedHandler) HandleListFeedSources(w http.ResponseWriter, r *http.Request) {
	opts := repository.ListOptions{}
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}
	list, err := h.snapshots.ListFeedSources(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *FeedHandler) HandleGetFeedSource(w http.ResponseWriter, r *http.Request) {
	fs, err := h.snapshots.GetFeedSource(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

func (h *FeedHandler) HandleUpdateFeedSource(w http.ResponseWriter, r *http.Request) {
	var fs model.FeedSource
	if err := decode(r, &fs); err != nil {
		writeError(w, err)
		return
	}
	fs.ID = r.PathValue("id")
	if err := h.snapshots.UpdateFeedSource(r.Context(), &fs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

func (h *FeedHandler) HandleDeleteFeedSource(w http.ResponseWriter, r *http.Request) {
	if err := h.snapshots.DeleteFeedSource(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCreateSnapshot opens a new editable snapshot, from scratch or forked
// from a published version (?fromVersion=...). Any prior active snapshot is
// evicted.
func (h *FeedHandler) HandleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	feedSourceID := r.PathValue("id")
	var body struct {
		Name string `json:"name"`
	}
	if r.ContentLength > 0 {
		if err := decode(r, &body); err != nil {
			writeError(w, err)
			return
		}
	}

	var snap *model.Snapshot
	var err error
	if versionID := r.URL.Query().Get("fromVersion"); versionID != "" {
		snap, err = h.snapshots.CreateFromVersion(r.Context(), feedSourceID, versionID, body.Name)
	} else {
		snap, err = h.snapshots.CreateFromScratch(r.Context(), feedSourceID, body.Name)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *FeedHandler) HandleListSnapshots(w http.ResponseWriter, r *http.Request) {
	list, err := h.snapshots.ListSnapshots(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *FeedHandler) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.GetSnapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandlePublish starts an asynchronous publish and returns 202 with the job
// ID to poll.
func (h *FeedHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	jobID, err := h.snapshots.Publish(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: jobID})
}

func (h *FeedHandler) HandleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := h.snapshots.Discard(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleImport accepts a GTFS zip, raw or as the "file" part of a multipart
// form, and starts an asynchronous import job.
func (h *FeedHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	data, err := readBundle(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobID, err := h.snapshots.Import(r.Context(), r.PathValue("id"), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: jobID})
}

func readBundle(r *http.Request) ([]byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxBundleSize); err != nil {
			return nil, apperror.ValidationFailed("body", "malformed multipart upload")
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, apperror.ValidationFailed("file", "multipart upload is missing the file part")
		}
		defer file.Close()
		return io.ReadAll(io.LimitReader(file, maxBundleSize))
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBundleSize))
	if err != nil {
		return nil, apperror.ValidationFailed("body", "reading upload body failed")
	}
	if len(data) == 0 {
		return nil, apperror.ValidationFailed("body", "empty upload")
	}
	return data, nil
}

func (h *FeedHandler) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	list, err := h.snapshots.ListFeedVersions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleLatestVersion returns the most recently created version, the one
// "create snapshot from latest" forks from.
func (h *FeedHandler) HandleLatestVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.snapshots.LatestFeedVersion(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *FeedHandler) HandleGetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.snapshots.GetFeedVersion(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *FeedHandler) HandleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	if err := h.snapshots.DeleteFeedVersion(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDownloadVersion streams the stored GTFS bundle.
func (h *FeedHandler) HandleDownloadVersion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := h.snapshots.FeedVersionBundle(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.zip"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		h.logger.Error("streaming bundle", "version", id, "error", err)
	}
}

func (h *FeedHandler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.snapshots.Job(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
