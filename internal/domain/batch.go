package domain

import "time"

// BatchStatus enumerates derived batch states. Batch status is a pure
// function of member job statuses and is never stored as independent truth.
type BatchStatus string

const (
	BatchStatusInProgress     BatchStatus = "in_progress"
	BatchStatusCompleted      BatchStatus = "completed"
	BatchStatusPartialFailure BatchStatus = "partial_failure"
)

// Batch groups a set of jobs submitted together. MemberJobIDs preserve the
// original request order for client-side correlation.
type Batch struct {
	ID             string
	Family         JobFamily
	MemberJobIDs   []string
	RequestedCount int
	CreatedAt      time.Time
}

// BatchAccounting is the derived view of a batch at one point in time.
type BatchAccounting struct {
	Status         BatchStatus
	RequestedCount int
	CompletedCount int
	FailedCount    int
}

// DeriveBatchStatus recomputes batch accounting from member statuses. The
// computation is idempotent: the same inputs always yield the same output.
// Cancelled members count toward the failed tally.
func DeriveBatchStatus(members []JobStatus) BatchAccounting {
	acc := BatchAccounting{RequestedCount: len(members)}
	allTerminal := true
	for _, s := range members {
		switch {
		case s == JobStatusCompleted:
			acc.CompletedCount++
		case s.Terminal():
			acc.FailedCount++
		default:
			allTerminal = false
		}
	}
	switch {
	case !allTerminal:
		acc.Status = BatchStatusInProgress
	case acc.FailedCount > 0:
		acc.Status = BatchStatusPartialFailure
	default:
		acc.Status = BatchStatusCompleted
	}
	return acc
}
