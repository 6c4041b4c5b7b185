package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/pkg/api"
	"github.com/driftsync/driftsync/pkg/drive"
	"github.com/driftsync/driftsync/pkg/events"
	"github.com/driftsync/driftsync/pkg/metadata"
	"github.com/driftsync/driftsync/pkg/task"
	"github.com/driftsync/driftsync/pkg/transfer"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	store := metadata.NewMemoryStore()
	feed := events.NewFeed(events.DefaultBuffer)
	mgr := drive.NewManager(store, feed, transfer.Options{
		ChunkSize:    1024,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	})
	q := task.NewQueue(mgr.Executors(), task.Config{
		Workers:         2,
		CompletedBuffer: 50,
		StopGrace:       time.Second,
	})
	mgr.AttachQueue(q)
	q.Start()
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() {
		mgr.Shutdown()
		q.StopAll()
		q.Close()
		feed.Close()
	})

	return api.NewRouter(mgr, q)
}

func addMemoryDrive(t *testing.T, router http.Handler) string {
	t.Helper()

	body := fmt.Sprintf(`{"local_path": %q, "backend": {"type": "memory"}}`, t.TempDir())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/drives", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	return created.ID
}

func TestCreateAndListDrives(t *testing.T) {
	router := newTestRouter(t)
	id := addMemoryDrive(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/drives", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var drives []drive.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drives))
	require.Len(t, drives, 1)
	assert.Equal(t, id, drives[0].ID)
	assert.Equal(t, "memory", drives[0].Backend)
	assert.True(t, drives[0].Enabled)
}

func TestCreateDriveValidation(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/drives",
		bytes.NewBufferString(`{"backend": {"type": "memory"}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/drives",
		bytes.NewBufferString(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDuplicateDriveConflicts(t *testing.T) {
	router := newTestRouter(t)

	dir := t.TempDir()
	body := fmt.Sprintf(`{"local_path": %q, "backend": {"type": "memory"}}`, dir)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/drives", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/drives", bytes.NewBufferString(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteDrive(t *testing.T) {
	router := newTestRouter(t)
	id := addMemoryDrive(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/drives/"+id, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/drives/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetDriveEnabled(t *testing.T) {
	router := newTestRouter(t)
	id := addMemoryDrive(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/drives/"+id+"/enabled",
		bytes.NewBufferString(`{"enabled": false}`)))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/drives/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status drive.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Enabled)
	assert.Equal(t, string(drive.HealthPaused), string(status.Health))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/drives/unknown/enabled",
		bytes.NewBufferString(`{"enabled": true}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskEndpoints(t *testing.T) {
	router := newTestRouter(t)
	addMemoryDrive(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var tasks []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	assert.Empty(t, tasks)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tasks/unknown/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsSnapshot(t *testing.T) {
	router := newTestRouter(t)
	addMemoryDrive(t, router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		Health string `json:"health"`
		Queue  struct {
			Workers int `json:"workers"`
		} `json:"queue"`
		Drives []drive.Status `json:"drives"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Queue.Workers)
	require.Len(t, stats.Drives, 1)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
