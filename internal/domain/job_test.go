package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	active := []JobStatus{JobStatusPending, JobStatusDispatched, JobStatusGenerating}
	for _, s := range active {
		assert.False(t, s.Terminal(), "%s must not be terminal", s)
	}
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s must be terminal", s)
	}
}

func TestJobStatusRankOrdering(t *testing.T) {
	assert.Less(t, JobStatusPending.Rank(), JobStatusDispatched.Rank())
	assert.Less(t, JobStatusDispatched.Rank(), JobStatusGenerating.Rank())
	assert.Less(t, JobStatusGenerating.Rank(), JobStatusCompleted.Rank())

	// Terminal states are not ordered among themselves.
	assert.Equal(t, JobStatusCompleted.Rank(), JobStatusFailed.Rank())
	assert.Equal(t, JobStatusFailed.Rank(), JobStatusCancelled.Rank())

	assert.Equal(t, -1, JobStatus("bogus").Rank())
}

func TestIdempotencyKey(t *testing.T) {
	target := EntityRef{Kind: EntityFrame, ID: "frame-1"}
	payload := []byte(`{"prompt":"a rainy alley"}`)

	assert.Equal(t,
		IdempotencyKey(target, payload, 0, ""),
		IdempotencyKey(target, payload, 0, ""),
		"same inputs must produce the same key")

	assert.NotEqual(t,
		IdempotencyKey(target, payload, 0, ""),
		IdempotencyKey(target, payload, 1, ""),
		"a regeneration epoch must change the key")

	assert.NotEqual(t,
		IdempotencyKey(target, payload, 0, ""),
		IdempotencyKey(target, []byte(`{"prompt":"a sunny alley"}`), 0, ""),
		"payload changes must change the key")

	other := EntityRef{Kind: EntityFrame, ID: "frame-2"}
	assert.NotEqual(t,
		IdempotencyKey(target, payload, 0, ""),
		IdempotencyKey(other, payload, 0, ""),
		"target changes must change the key")
}

func TestDeriveBatchStatus(t *testing.T) {
	tests := []struct {
		name    string
		members []JobStatus
		want    BatchAccounting
	}{
		{
			name:    "all in flight",
			members: []JobStatus{JobStatusPending, JobStatusGenerating},
			want:    BatchAccounting{Status: BatchStatusInProgress, RequestedCount: 2},
		},
		{
			name:    "all completed",
			members: []JobStatus{JobStatusCompleted, JobStatusCompleted},
			want:    BatchAccounting{Status: BatchStatusCompleted, RequestedCount: 2, CompletedCount: 2},
		},
		{
			name:    "mixed terminal",
			members: []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCompleted},
			want:    BatchAccounting{Status: BatchStatusPartialFailure, RequestedCount: 3, CompletedCount: 2, FailedCount: 1},
		},
		{
			name:    "cancelled counts as failed",
			members: []JobStatus{JobStatusCompleted, JobStatusCancelled},
			want:    BatchAccounting{Status: BatchStatusPartialFailure, RequestedCount: 2, CompletedCount: 1, FailedCount: 1},
		},
		{
			name:    "one member still running holds the batch open",
			members: []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusDispatched},
			want:    BatchAccounting{Status: BatchStatusInProgress, RequestedCount: 3, CompletedCount: 1, FailedCount: 1},
		},
		{
			name:    "empty batch is trivially complete",
			members: nil,
			want:    BatchAccounting{Status: BatchStatusCompleted},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveBatchStatus(tc.members))
		})
	}
}

func TestDecodeResult(t *testing.T) {
	res, err := DecodeResult(FamilyIllustration, []byte(`{"image_url":"https://cdn.example/1.png","style":"noir"}`))
	assert.NoError(t, err)
	assert.NotNil(t, res.Illustration)
	assert.Equal(t, "https://cdn.example/1.png", res.Illustration.ImageURL)
	assert.NoError(t, res.Validate())

	res, err = DecodeResult(FamilyDialogueTiming, []byte(`{"lines":[{"character":"ANNA","text":"Run.","start_at":0,"duration":0.8}],"total_duration":0.8}`))
	assert.NoError(t, err)
	assert.Len(t, res.DialogueTiming.Lines, 1)

	res, err = DecodeResult(FamilyExport, nil)
	assert.NoError(t, err)
	assert.Nil(t, res)

	_, err = DecodeResult("collage", []byte(`{}`))
	assert.Error(t, err)
}

func TestResultValidateMismatchedArm(t *testing.T) {
	res := &JobResult{Family: FamilyTTS, Illustration: &IllustrationResult{ImageURL: "x"}}
	assert.Error(t, res.Validate())
}
