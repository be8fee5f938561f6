package orchestrator

import (
	"context"
	"sync"
	"time"

	"storyboard/internal/audit"
	"storyboard/internal/domain"
	"storyboard/internal/executor"
	"storyboard/internal/safety"
)

// In-memory doubles shared by the dispatcher, coordinator and reconciler
// tests. memJobs mirrors the store contract: conditional insert for the
// at-most-one invariant and sequence-guarded transitions.

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]*domain.Job)}
}

func (m *memJobs) Insert(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !job.Status.Terminal() {
		for _, existing := range m.jobs {
			if existing.Target.ID == job.Target.ID && !existing.Status.Terminal() {
				return domain.ErrDuplicateOperation
			}
		}
	}
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *memJobs) Advance(_ context.Context, jobID string, expectedSeq int64, mut domain.JobMutation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return false, nil
	}
	if job.Seq != expectedSeq || job.Status.Terminal() {
		return false, nil
	}
	job.Status = mut.Status
	job.Seq++
	job.UpdatedAt = time.Now().UTC()
	if mut.Progress != nil {
		job.Progress = *mut.Progress
	}
	if mut.Attempt != nil {
		job.Attempt = *mut.Attempt
	}
	if mut.ExecutorJobID != nil {
		job.ExecutorJobID = *mut.ExecutorJobID
	}
	if mut.Result != nil {
		job.Result = mut.Result
	}
	if mut.LastError != nil {
		job.LastError = mut.LastError
	}
	if mut.UnreachableAt != nil {
		job.UnreachableAt = *mut.UnreachableAt
	}
	return true, nil
}

func (m *memJobs) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *job
	return &clone, nil
}

func (m *memJobs) GetByExecutorJobID(_ context.Context, executorJobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ExecutorJobID == executorJobID {
			clone := *job
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memJobs) ActiveByTarget(_ context.Context, targetID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.Target.ID == targetID && !job.Status.Terminal() {
			clone := *job
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memJobs) ListActive(_ context.Context) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Job
	for _, job := range m.jobs {
		if !job.Status.Terminal() {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *memJobs) LatestEpoch(_ context.Context, targetID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	epoch := -1
	for _, job := range m.jobs {
		if job.Target.ID == targetID && job.Epoch > epoch {
			epoch = job.Epoch
		}
	}
	return epoch, nil
}

func (m *memJobs) CountByStatus(_ context.Context) (map[domain.JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.JobStatus]int)
	for _, job := range m.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

type memBatches struct {
	mu      sync.Mutex
	jobs    *memJobs
	batches map[string]*domain.Batch
}

func newMemBatches(jobs *memJobs) *memBatches {
	return &memBatches{jobs: jobs, batches: make(map[string]*domain.Batch)}
}

func (m *memBatches) Insert(_ context.Context, batch *domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *batch
	m.batches[batch.ID] = &clone
	return nil
}

func (m *memBatches) GetByID(_ context.Context, batchID string) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *batch
	return &clone, nil
}

func (m *memBatches) MemberStatuses(ctx context.Context, memberJobIDs []string) ([]domain.JobStatus, error) {
	statuses := make([]domain.JobStatus, 0, len(memberJobIDs))
	for _, id := range memberJobIDs {
		job, err := m.jobs.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, job.Status)
	}
	return statuses, nil
}

type memDeadLetters struct {
	mu      sync.Mutex
	records []domain.DeadLetter
}

func (m *memDeadLetters) Append(_ context.Context, dl *domain.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *dl)
	return nil
}

func (m *memDeadLetters) GetByID(_ context.Context, id string) (*domain.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			clone := m.records[i]
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memDeadLetters) List(_ context.Context, limit int) ([]domain.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.records) {
		limit = len(m.records)
	}
	return append([]domain.DeadLetter(nil), m.records[:limit]...), nil
}

func (m *memDeadLetters) MarkRepublished(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].RepublishedAt = time.Now().UTC()
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memDeadLetters) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type allowAll struct{}

func (allowAll) Authorize(context.Context, domain.AccessContext, domain.EntityRef) error {
	return nil
}

// denyTargets denies a fixed set of target ids.
type denyTargets struct {
	denied map[string]bool
}

func (d denyTargets) Authorize(_ context.Context, _ domain.AccessContext, ref domain.EntityRef) error {
	if d.denied[ref.ID] {
		return domain.ErrAccessDenied
	}
	return nil
}

type safeGate struct{}

func (safeGate) Classify(context.Context, safety.Payload) safety.Verdict {
	return safety.Verdict{Safe: true}
}

type unsafeGate struct {
	categories []string
}

func (g unsafeGate) Classify(context.Context, safety.Payload) safety.Verdict {
	return safety.Verdict{Safe: false, Categories: g.categories}
}

type recordingAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAuditor) Emit(_ context.Context, _ domain.AccessContext, entry audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, entry.Action)
}

// stubExecutor scripts executor behavior per call.
type stubExecutor struct {
	mu          sync.Mutex
	submitErr   error
	statusErr   error
	status      *executor.StatusResponse
	submits     int
	cancels     int
	lastKeys    []string
	nextExecIDs []string
}

func (s *stubExecutor) Submit(_ context.Context, _ domain.JobFamily, req executor.SubmitRequest) (*executor.SubmitResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	s.lastKeys = append(s.lastKeys, req.IdempotencyKey)
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	id := "exec-" + req.IdempotencyKey[:8]
	if len(s.nextExecIDs) > 0 {
		id = s.nextExecIDs[0]
		s.nextExecIDs = s.nextExecIDs[1:]
	}
	return &executor.SubmitResponse{ExecutorJobID: id, AcceptedAt: time.Now().UTC()}, nil
}

func (s *stubExecutor) Status(_ context.Context, _ domain.JobFamily, _ string) (*executor.StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	if s.status == nil {
		return &executor.StatusResponse{Status: "queued"}, nil
	}
	clone := *s.status
	return &clone, nil
}

func (s *stubExecutor) Cancel(context.Context, domain.JobFamily, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	return nil
}

func (s *stubExecutor) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}
