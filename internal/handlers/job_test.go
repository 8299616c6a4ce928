package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surveysync/surveysync-api/internal/models"
	"github.com/surveysync/surveysync-api/internal/repository"
)

type stubJobRepo struct {
	repository.JobRepository

	job        *models.SyncJob
	createErr  error
	requeueErr error
	cancelErr  error
	cleared    int64
}

func (s *stubJobRepo) Create(job *models.SyncJob) (*models.SyncJob, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	job.ID = "job-1"
	job.Status = models.StatusQueued
	s.job = job
	return job, nil
}

func (s *stubJobRepo) Get(id string) (*models.SyncJob, error) {
	if s.job == nil || s.job.ID != id {
		return nil, repository.ErrJobNotFound
	}
	return s.job, nil
}

func (s *stubJobRepo) Requeue(id string) error { return s.requeueErr }
func (s *stubJobRepo) Cancel(id string) error  { return s.cancelErr }

func (s *stubJobRepo) ClearTerminal() (int64, error) { return s.cleared, nil }

func newJobHandler(repo *stubJobRepo) *JobHandler {
	return NewJobHandler(repo, zerolog.Nop())
}

func TestCreateJobDerivesName(t *testing.T) {
	repo := &stubJobRepo{}
	h := newJobHandler(repo)

	body := `{
		"connection_id": "conn-1",
		"form_id": "household_survey",
		"target_schema": "public",
		"target_table": "survey_data",
		"mode": "append",
		"create_table": true
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/sync-jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.CreateJob(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.SyncJob
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "sync_household_survey_to_public.survey_data", created.Name)
	assert.Equal(t, models.StatusQueued, created.Status)
}

func TestCreateJobRejectsInvalidConfig(t *testing.T) {
	h := newJobHandler(&stubJobRepo{})

	// Upsert without a conflict column.
	body := `{
		"connection_id": "conn-1",
		"form_id": "household_survey",
		"target_schema": "public",
		"target_table": "survey_data",
		"mode": "upsert"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/sync-jobs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.CreateJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "conflict_column")
}

func TestCreateJobRejectsBadJSON(t *testing.T) {
	h := newJobHandler(&stubJobRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/sync-jobs", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.CreateJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	h := newJobHandler(&stubJobRepo{})

	req := mux.SetURLVars(
		httptest.NewRequest(http.MethodGet, "/api/sync-jobs/missing", nil),
		map[string]string{"jobID": "missing"})
	rec := httptest.NewRecorder()
	h.GetJob(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunJobConflictWhenActive(t *testing.T) {
	h := newJobHandler(&stubJobRepo{requeueErr: repository.ErrJobNotRequeueable})

	req := mux.SetURLVars(
		httptest.NewRequest(http.MethodPost, "/api/sync-jobs/job-1/run", nil),
		map[string]string{"jobID": "job-1"})
	rec := httptest.NewRecorder()
	h.RunJob(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunJobAccepted(t *testing.T) {
	repo := &stubJobRepo{job: &models.SyncJob{ID: "job-1", Status: models.StatusQueued}}
	h := newJobHandler(repo)

	req := mux.SetURLVars(
		httptest.NewRequest(http.MethodPost, "/api/sync-jobs/job-1/run", nil),
		map[string]string{"jobID": "job-1"})
	rec := httptest.NewRecorder()
	h.RunJob(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var job models.SyncJob
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, "job-1", job.ID)
}

func TestCancelJobConflictWhenTerminal(t *testing.T) {
	h := newJobHandler(&stubJobRepo{cancelErr: repository.ErrJobNotCancellable})

	req := mux.SetURLVars(
		httptest.NewRequest(http.MethodPost, "/api/sync-jobs/job-1/cancel", nil),
		map[string]string{"jobID": "job-1"})
	rec := httptest.NewRecorder()
	h.CancelJob(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestClearTerminalJobs(t *testing.T) {
	h := newJobHandler(&stubJobRepo{cleared: 3})

	req := httptest.NewRequest(http.MethodDelete, "/api/sync-jobs", nil)
	rec := httptest.NewRecorder()
	h.ClearTerminalJobs(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted": 3}`, rec.Body.String())
}
