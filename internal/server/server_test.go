package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitkit/feedsmith/internal/config"
	"github.com/transitkit/feedsmith/internal/jobs"
	"github.com/transitkit/feedsmith/internal/model"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Addr:            ":0",
			ShutdownTimeout: time.Second,
		},
		Storage: config.StorageConfig{Path: ":memory:"},
		Jobs:    config.JobsConfig{RetainFinished: time.Hour},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.coord.Close()
		s.db.Close()
	})

	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts
}

// doJSON issues a request and decodes the JSON response into out (skipped
// when out is nil). Returns the status code.
func doJSON(t *testing.T, ts *httptest.Server, method, path string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

// seedOverHTTP builds a minimal publishable feed through the API and returns
// the feed source and snapshot IDs.
func seedOverHTTP(t *testing.T, ts *httptest.Server) (string, string) {
	t.Helper()

	var fs model.FeedSource
	status := doJSON(t, ts, http.MethodPost, "/api/feedsources",
		map[string]any{"name": "Test Transit"}, &fs)
	require.Equal(t, http.StatusCreated, status)

	var snap model.Snapshot
	status = doJSON(t, ts, http.MethodPost, "/api/feedsources/"+fs.ID+"/snapshots",
		map[string]any{"name": "working copy"}, &snap)
	require.Equal(t, http.StatusCreated, status)

	base := "/api/snapshots/" + snap.ID
	require.Equal(t, http.StatusCreated, doJSON(t, ts, http.MethodPost, base+"/agencies", map[string]any{
		"agencyId": "MTA", "name": "Metro Transit", "url": "https://example.com", "timezone": "America/New_York",
	}, nil))
	for i, sid := range []string{"S1", "S2", "S3"} {
		require.Equal(t, http.StatusCreated, doJSON(t, ts, http.MethodPost, base+"/stops", map[string]any{
			"stopId": sid, "name": "Stop " + sid, "lat": 40.7 + float64(i)*0.01, "lon": -74.0,
		}, nil))
	}
	require.Equal(t, http.StatusCreated, doJSON(t, ts, http.MethodPost, base+"/routes", map[string]any{
		"routeId": "R1", "agencyId": "MTA", "shortName": "1", "type": 3,
	}, nil))
	require.Equal(t, http.StatusCreated, doJSON(t, ts, http.MethodPost, base+"/calendars", map[string]any{
		"serviceId": "WEEKDAY",
		"monday":    true, "tuesday": true, "wednesday": true, "thursday": true, "friday": true,
		"startDate": "2026-01-01", "endDate": "2026-06-30",
	}, nil))
	require.Equal(t, http.StatusCreated, doJSON(t, ts, http.MethodPost, base+"/patterns", map[string]any{
		"patternId": "P1", "routeId": "R1", "name": "Inbound",
	}, nil))
	for i, sid := range []string{"S1", "S2", "S3"} {
		require.Equal(t, http.StatusOK, doJSON(t, ts, http.MethodPost, base+"/patterns/P1/stops", map[string]any{
			"position": i, "stopId": sid, "defaultTravelTime": 300, "defaultDwellTime": 30,
		}, nil))
	}
	require.Equal(t, http.StatusCreated, doJSON(t, ts, http.MethodPost, base+"/trips", map[string]any{
		"tripId": "T1", "patternId": "P1", "serviceId": "WEEKDAY", "start": "08:00:00",
	}, nil))

	return fs.ID, snap.ID
}

// awaitJob polls the job endpoint until the job leaves the running state.
func awaitJob(t *testing.T, ts *httptest.Server, jobID string) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var job jobs.Job
		status := doJSON(t, ts, http.MethodGet, "/api/jobs/"+jobID, nil, &job)
		require.Equal(t, http.StatusOK, status)
		if job.Status != jobs.StatusRunning {
			return job
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s still running after 5s", jobID)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestPublishOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	fsID, snapID := seedOverHTTP(t, ts)

	var accepted struct {
		JobID string `json:"jobId"`
	}
	status := doJSON(t, ts, http.MethodPost, "/api/snapshots/"+snapID+"/publish", nil, &accepted)
	require.Equal(t, http.StatusAccepted, status)
	require.NotEmpty(t, accepted.JobID)

	job := awaitJob(t, ts, accepted.JobID)
	require.Equal(t, jobs.StatusSucceeded, job.Status, "publish job error: %s", job.Error)

	var versions []model.FeedVersion
	status = doJSON(t, ts, http.MethodGet, "/api/feedsources/"+fsID+"/versions", nil, &versions)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, versions, 1)
	assert.NotEmpty(t, versions[0].ContentHash)
	assert.Equal(t, "2026-01-01", versions[0].StartDate.String())

	res, err := ts.Client().Get(ts.URL + "/api/versions/" + versions[0].ID + "/download")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/zip", res.Header.Get("Content-Type"))
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// The published snapshot is frozen.
	status = doJSON(t, ts, http.MethodPost, "/api/snapshots/"+snapID+"/agencies", map[string]any{
		"agencyId": "X", "name": "Late", "url": "https://example.com", "timezone": "UTC",
	}, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestTimetableGridOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	_, snapID := seedOverHTTP(t, ts)

	var grid struct {
		Stops   []model.PatternStop `json:"stops"`
		Columns []struct {
			Trip  model.Trip       `json:"trip"`
			Cells []model.StopTime `json:"cells"`
		} `json:"columns"`
	}
	status := doJSON(t, ts, http.MethodGet,
		"/api/snapshots/"+snapID+"/timetable?pattern=P1&service=WEEKDAY", nil, &grid)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, grid.Stops, 3)
	require.Len(t, grid.Columns, 1)
	require.Len(t, grid.Columns[0].Cells, 3)
	assert.Equal(t, "08:00:00", grid.Columns[0].Cells[0].Arrival.String())

	// Missing pattern parameter is a validation error.
	status = doJSON(t, ts, http.MethodGet, "/api/snapshots/"+snapID+"/timetable", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestErrorMappingOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	_, snapID := seedOverHTTP(t, ts)
	base := "/api/snapshots/" + snapID

	var errRes struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	status := doJSON(t, ts, http.MethodGet, "/api/feedsources/nope", nil, &errRes)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", errRes.Error)

	status = doJSON(t, ts, http.MethodPost, base+"/routes", map[string]any{
		"routeId": "R9", "agencyId": "GHOST", "shortName": "9",
	}, &errRes)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", errRes.Error)
	assert.Equal(t, "agencyId", errRes.Field)

	var agencies []model.Agency
	require.Equal(t, http.StatusOK, doJSON(t, ts, http.MethodGet, base+"/agencies", nil, &agencies))
	require.Len(t, agencies, 1)
	status = doJSON(t, ts, http.MethodDelete,
		fmt.Sprintf("%s/agencies/%s", base, agencies[0].ID), nil, &errRes)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "referential_integrity", errRes.Error)
}

func TestCloneStopOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	_, snapID := seedOverHTTP(t, ts)
	base := "/api/snapshots/" + snapID

	var stops []model.Stop
	require.Equal(t, http.StatusOK, doJSON(t, ts, http.MethodGet, base+"/stops", nil, &stops))
	require.NotEmpty(t, stops)

	var dup model.Stop
	status := doJSON(t, ts, http.MethodPost, base+"/stops/"+stops[0].ID+"/clone",
		map[string]any{"newKey": "S1-alt"}, &dup)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "S1-alt", dup.StopID)
	assert.Equal(t, stops[0].Name, dup.Name)
	assert.NotEqual(t, stops[0].ID, dup.ID)
}

func TestDiscardOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	_, snapID := seedOverHTTP(t, ts)

	status := doJSON(t, ts, http.MethodPost, "/api/snapshots/"+snapID+"/discard", nil, nil)
	require.Equal(t, http.StatusNoContent, status)

	var snap model.Snapshot
	status = doJSON(t, ts, http.MethodGet, "/api/snapshots/"+snapID, nil, &snap)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, model.SnapshotDiscarded, snap.Status)

	// Further discards conflict.
	status = doJSON(t, ts, http.MethodPost, "/api/snapshots/"+snapID+"/discard", nil, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	res, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "feedsmith_http_requests_total")
}
