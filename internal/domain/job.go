package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// JobFamily enumerates supported generation job categories.
type JobFamily string

const (
	FamilyIllustration   JobFamily = "illustration"
	FamilyDialogueTiming JobFamily = "dialogue_timing"
	FamilyTTS            JobFamily = "tts"
	FamilyAnimatic       JobFamily = "animatic"
	FamilyExport         JobFamily = "export"
)

// Valid reports whether the family is one of the known job families.
func (f JobFamily) Valid() bool {
	switch f {
	case FamilyIllustration, FamilyDialogueTiming, FamilyTTS, FamilyAnimatic, FamilyExport:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusDispatched JobStatus = "dispatched"
	JobStatusGenerating JobStatus = "generating"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Rank places statuses on the partial order used to discard stale
// observations. Terminal states share the highest rank.
func (s JobStatus) Rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusDispatched:
		return 1
	case JobStatusGenerating:
		return 2
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return 3
	}
	return -1
}

// ErrorCode classifies structured job errors.
type ErrorCode string

const (
	ErrCodeDispatchFailed      ErrorCode = "dispatch_failed"
	ErrCodeExecutorUnreachable ErrorCode = "executor_unreachable"
	ErrCodeGenerationFailed    ErrorCode = "generation_failed"
	ErrCodeAccessDenied        ErrorCode = "access_denied"
	ErrCodeContentRejected     ErrorCode = "content_rejected"
)

// JobError is the structured last-error payload stored on a job.
type JobError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Job encapsulates one request to generate a single artifact. Jobs are never
// deleted, only superseded by a regeneration carrying a back-reference.
type Job struct {
	ID             string
	Family         JobFamily
	Target         EntityRef
	TenantID       string
	PrincipalID    string
	IdempotencyKey string
	Epoch          int
	Status         JobStatus
	Progress       float64
	Attempt        int
	Seq            int64
	SupersededJob  string
	ExecutorJobID  string
	Params         json.RawMessage
	Result         *JobResult
	LastError      *JobError
	UnreachableAt  time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobMutation describes a single conditional state transition. Nil fields
// leave the stored value untouched.
type JobMutation struct {
	Status        JobStatus
	Progress      *float64
	Attempt       *int
	ExecutorJobID *string
	Result        *JobResult
	LastError     *JobError
	UnreachableAt *time.Time
}

// IdempotencyKey derives the deduplication key for a generation request from
// its target, a content hash of the payload and the generation epoch. A
// regeneration bumps the epoch so its key intentionally differs.
func IdempotencyKey(target EntityRef, payload []byte, epoch int, salt string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s/%s/%d/%s/", target.Kind, target.ID, epoch, salt)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// DeadLetter records a job that exhausted its retry budget, kept for operator
// inspection and manual republish.
type DeadLetter struct {
	ID            string
	JobID         string
	Reason        string
	Payload       json.RawMessage
	CreatedAt     time.Time
	RepublishedAt time.Time
}
