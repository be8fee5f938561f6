package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard/internal/domain"
	"storyboard/internal/http/handlers"
	"storyboard/internal/http/httpapi"
	"storyboard/internal/middleware"
	"storyboard/internal/orchestrator"
)

const (
	testSecret        = "test-secret"
	testCallbackToken = "callback-token"
)

type stubJobService struct {
	submitHandle *orchestrator.JobHandle
	submitErr    error
	cancelHandle *orchestrator.JobHandle
	cancelErr    error
	regenHandle  *orchestrator.JobHandle
	regenErr     error
}

func (s *stubJobService) Submit(context.Context, orchestrator.GenerationRequest) (*orchestrator.JobHandle, error) {
	return s.submitHandle, s.submitErr
}

func (s *stubJobService) Regenerate(context.Context, orchestrator.GenerationRequest, string) (*orchestrator.JobHandle, error) {
	return s.regenHandle, s.regenErr
}

func (s *stubJobService) Cancel(context.Context, domain.AccessContext, string) (*orchestrator.JobHandle, error) {
	return s.cancelHandle, s.cancelErr
}

type stubBatchService struct {
	handle *orchestrator.BatchHandle
	view   *orchestrator.BatchView
	err    error
}

func (s *stubBatchService) SubmitBatch(context.Context, orchestrator.BatchRequest) (*orchestrator.BatchHandle, error) {
	return s.handle, s.err
}

func (s *stubBatchService) Status(context.Context, string) (*orchestrator.BatchView, error) {
	return s.view, s.err
}

type stubReader struct {
	job   *domain.Job
	err   error
	calls int
}

func (s *stubReader) ReconcileJob(context.Context, string) (*domain.Job, error) {
	s.calls++
	return s.job, s.err
}

type stubCallbacks struct {
	got *orchestrator.CallbackPayload
	err error
}

func (s *stubCallbacks) HandleCallback(_ context.Context, cb orchestrator.CallbackPayload) error {
	s.got = &cb
	return s.err
}

type stubAuthz struct{ err error }

func (s *stubAuthz) Authorize(context.Context, domain.AccessContext, domain.EntityRef) error {
	return s.err
}

type stubJobStore struct {
	domain.JobRepository
	jobs   map[string]*domain.Job
	counts map[domain.JobStatus]int
}

func (s *stubJobStore) GetByID(_ context.Context, id string) (*domain.Job, error) {
	if job, ok := s.jobs[id]; ok {
		return job, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubJobStore) CountByStatus(context.Context) (map[domain.JobStatus]int, error) {
	return s.counts, nil
}

type stubDeadLetters struct {
	domain.DeadLetterRepository
	letters     []domain.DeadLetter
	republished []string
}

func (s *stubDeadLetters) List(_ context.Context, limit int) ([]domain.DeadLetter, error) {
	if limit > len(s.letters) {
		limit = len(s.letters)
	}
	return s.letters[:limit], nil
}

func (s *stubDeadLetters) GetByID(_ context.Context, id string) (*domain.DeadLetter, error) {
	for i := range s.letters {
		if s.letters[i].ID == id {
			return &s.letters[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *stubDeadLetters) MarkRepublished(_ context.Context, id string) error {
	s.republished = append(s.republished, id)
	return nil
}

type testEnv struct {
	jobs    *stubJobService
	batches *stubBatchService
	reader  *stubReader
	sink    *stubCallbacks
	authz   *stubAuthz
	store   *stubJobStore
	letters *stubDeadLetters
	server  http.Handler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		jobs:    &stubJobService{},
		batches: &stubBatchService{},
		reader:  &stubReader{},
		sink:    &stubCallbacks{},
		authz:   &stubAuthz{},
		store:   &stubJobStore{jobs: map[string]*domain.Job{}, counts: map[domain.JobStatus]int{}},
		letters: &stubDeadLetters{},
	}
	app := &handlers.App{
		Jobs:          env.jobs,
		Batches:       env.batches,
		Reader:        env.reader,
		Callbacks:     env.sink,
		Authz:         env.authz,
		JobStore:      env.store,
		DeadLetters:   env.letters,
		CallbackToken: testCallbackToken,
		Logger:        zerolog.Nop(),
	}
	env.server = httpapi.NewRouter(app, httpapi.Options{AuthSecret: testSecret})
	return env
}

func bearer(t *testing.T, role domain.PrincipalRole) string {
	t.Helper()
	token, err := middleware.SignJWT(testSecret, middleware.TokenClaims{
		Sub:    "user-1",
		Tenant: "tenant-1",
		Role:   string(role),
		Exp:    time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, h http.Handler, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJobsSubmitAccepted(t *testing.T) {
	env := newTestEnv()
	env.jobs.submitHandle = &orchestrator.JobHandle{JobID: "job-1", Status: domain.JobStatusDispatched}

	rec := doJSON(t, env.server, http.MethodPost, "/v1/jobs", bearer(t, domain.RoleMember), map[string]any{
		"family":      "illustration",
		"target_kind": "frame",
		"target_id":   "frame-1",
		"params":      map[string]any{"prompt": "a rainy alley"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp["job_id"])
	assert.Equal(t, "dispatched", resp["status"])
}

func TestJobsSubmitDuplicateReturnsExisting(t *testing.T) {
	env := newTestEnv()
	env.jobs.submitHandle = &orchestrator.JobHandle{JobID: "job-1", Status: domain.JobStatusGenerating, Existing: true}

	rec := doJSON(t, env.server, http.MethodPost, "/v1/jobs", bearer(t, domain.RoleMember), map[string]any{
		"family": "illustration", "target_kind": "frame", "target_id": "frame-1",
		"params": map[string]any{"prompt": "x"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["existing"])
}

func TestJobsSubmitRequiresAuth(t *testing.T) {
	env := newTestEnv()
	rec := doJSON(t, env.server, http.MethodPost, "/v1/jobs", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJobsSubmitContentRejected(t *testing.T) {
	env := newTestEnv()
	env.jobs.submitErr = &orchestrator.ContentRejectedError{Categories: []string{"violence"}}

	rec := doJSON(t, env.server, http.MethodPost, "/v1/jobs", bearer(t, domain.RoleMember), map[string]any{
		"family": "illustration", "target_kind": "frame", "target_id": "frame-1",
		"params": map[string]any{"prompt": "x"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "content_rejected", resp["error"])
	assert.Equal(t, []any{"violence"}, resp["categories"])
}

func TestJobsSubmitDispatchFailureCarriesHandle(t *testing.T) {
	env := newTestEnv()
	env.jobs.submitHandle = &orchestrator.JobHandle{JobID: "job-1", Status: domain.JobStatusFailed}
	env.jobs.submitErr = domain.ErrDispatchFailed

	rec := doJSON(t, env.server, http.MethodPost, "/v1/jobs", bearer(t, domain.RoleMember), map[string]any{
		"family": "illustration", "target_kind": "frame", "target_id": "frame-1",
		"params": map[string]any{"prompt": "x"},
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp["job_id"])
	assert.Equal(t, "failed", resp["status"])
}

func TestDeniedAndMissingJobsLookAlike(t *testing.T) {
	missing := newTestEnv()
	missingRec := doJSON(t, missing.server, http.MethodGet, "/v1/jobs/job-x", bearer(t, domain.RoleMember), nil)

	denied := newTestEnv()
	denied.store.jobs["job-x"] = &domain.Job{
		ID:     "job-x",
		Family: domain.FamilyIllustration,
		Target: domain.EntityRef{Kind: domain.EntityFrame, ID: "frame-1"},
		Status: domain.JobStatusGenerating,
	}
	denied.authz.err = domain.ErrAccessDenied
	deniedRec := doJSON(t, denied.server, http.MethodGet, "/v1/jobs/job-x", bearer(t, domain.RoleMember), nil)

	require.Equal(t, http.StatusNotFound, missingRec.Code)
	require.Equal(t, http.StatusNotFound, deniedRec.Code)
	assert.Equal(t, missingRec.Body.String(), deniedRec.Body.String())
}

func TestJobsStatusDeniedSkipsReconcile(t *testing.T) {
	env := newTestEnv()
	env.store.jobs["job-1"] = &domain.Job{
		ID:     "job-1",
		Family: domain.FamilyIllustration,
		Target: domain.EntityRef{Kind: domain.EntityFrame, ID: "frame-1"},
		Status: domain.JobStatusGenerating,
	}
	env.authz.err = domain.ErrAccessDenied

	rec := doJSON(t, env.server, http.MethodGet, "/v1/jobs/job-1", bearer(t, domain.RoleMember), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// A denied caller must not trigger any executor traffic for the job.
	assert.Equal(t, 0, env.reader.calls)
}

func TestJobsStatusReturnsJob(t *testing.T) {
	env := newTestEnv()
	now := time.Now().UTC()
	env.store.jobs["job-1"] = &domain.Job{
		ID:     "job-1",
		Family: domain.FamilyIllustration,
		Target: domain.EntityRef{Kind: domain.EntityFrame, ID: "frame-1"},
		Status: domain.JobStatusCompleted,
	}
	env.reader.job = &domain.Job{
		ID:        "job-1",
		Family:    domain.FamilyIllustration,
		Target:    domain.EntityRef{Kind: domain.EntityFrame, ID: "frame-1"},
		Status:    domain.JobStatusCompleted,
		Progress:  1.0,
		Attempt:   1,
		Result:    &domain.JobResult{Family: domain.FamilyIllustration, Illustration: &domain.IllustrationResult{ImageURL: "https://cdn.example/1.png"}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	rec := doJSON(t, env.server, http.MethodGet, "/v1/jobs/job-1", bearer(t, domain.RoleMember), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp["status"])
	assert.Equal(t, 1.0, resp["progress"])
	require.NotNil(t, resp["result"])
}

func TestBatchesSubmit(t *testing.T) {
	env := newTestEnv()
	env.batches.handle = &orchestrator.BatchHandle{
		BatchID:      "batch-1",
		MemberJobIDs: []string{"job-1", "job-2"},
	}

	rec := doJSON(t, env.server, http.MethodPost, "/v1/batches", bearer(t, domain.RoleMember), map[string]any{
		"family":      "illustration",
		"target_kind": "frame",
		"target_ids":  []string{"frame-1", "frame-2"},
		"shared_params": map[string]any{
			"prompt": "storm over the harbor",
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "batch-1", resp["batch_id"])
	assert.Equal(t, []any{"job-1", "job-2"}, resp["member_job_ids"])
}

func TestBatchesStatus(t *testing.T) {
	env := newTestEnv()
	env.batches.view = &orchestrator.BatchView{
		BatchID:        "batch-1",
		Status:         domain.BatchStatusPartialFailure,
		RequestedCount: 5,
		CompletedCount: 4,
		FailedCount:    1,
		MemberJobIDs:   []string{"a", "b", "c", "d", "e"},
	}

	rec := doJSON(t, env.server, http.MethodGet, "/v1/batches/batch-1", bearer(t, domain.RoleMember), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "partial_failure", resp["status"])
	assert.Equal(t, 5.0, resp["requested_count"])
	assert.Equal(t, 1.0, resp["failed_count"])
}

func TestExecutorCallbackAuth(t *testing.T) {
	env := newTestEnv()
	body := bytes.NewBufferString(`{"executor_job_id":"exec-1","status":"generating","progress":0.5}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/callback", body)
	req.Header.Set("X-Callback-Token", "wrong")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, env.sink.got)
}

func TestExecutorCallbackAccepted(t *testing.T) {
	env := newTestEnv()
	body := bytes.NewBufferString(`{"executor_job_id":"exec-1","status":"completed","progress":1}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/callback", body)
	req.Header.Set("X-Callback-Token", testCallbackToken)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.sink.got)
	assert.Equal(t, "exec-1", env.sink.got.ExecutorJobID)
	assert.Equal(t, "completed", env.sink.got.Status)
}

func TestStatsRequiresSuperAdmin(t *testing.T) {
	env := newTestEnv()
	env.store.counts = map[domain.JobStatus]int{domain.JobStatusCompleted: 3}

	rec := doJSON(t, env.server, http.MethodGet, "/v1/stats", bearer(t, domain.RoleMember), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, env.server, http.MethodGet, "/v1/stats", bearer(t, domain.RoleSuperAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	byStatus, ok := resp["jobs_by_status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3.0, byStatus["completed"])
}

func TestDeadLetterRepublish(t *testing.T) {
	env := newTestEnv()
	env.letters.letters = []domain.DeadLetter{{
		ID:        "dl-1",
		JobID:     "job-1",
		Reason:    "executor_unreachable",
		CreatedAt: time.Now().UTC(),
	}}
	env.jobs.regenHandle = &orchestrator.JobHandle{JobID: "job-2", Status: domain.JobStatusDispatched}

	rec := doJSON(t, env.server, http.MethodPost, "/v1/deadletters/dl-1/republish", bearer(t, domain.RoleSuperAdmin), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"dl-1"}, env.letters.republished)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-2", resp["job_id"])
}

func TestIllustrationStylesPublic(t *testing.T) {
	env := newTestEnv()
	rec := doJSON(t, env.server, http.MethodGet, "/v1/families/illustration/styles", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	styles, ok := resp["styles"].([]any)
	require.True(t, ok)
	assert.Len(t, styles, 4)
}
