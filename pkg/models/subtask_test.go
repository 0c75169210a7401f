package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestSubtask() *Subtask {
	s := &Subtask{
		TaskID:      "t1",
		WorkflowID:  "wf_u1_math_algebra_1",
		UserID:      "u1",
		DomainID:    "math",
		SubdomainID: "algebra",
		Prompt:      "Solve for x: 2x + 3 = 11",
		Difficulty:  DifficultyBeginner,
	}
	s.ApplyDefaults()
	return s
}

func TestSubtaskDefaults(t *testing.T) {
	s := newTestSubtask()
	assert.Equal(t, DefaultMaxAttempts, s.MaxAttempts)
	assert.Equal(t, SubtaskStatusActive, s.Status)
	assert.NoError(t, s.Validate())
}

func TestSubtaskValidate(t *testing.T) {
	s := newTestSubtask()
	s.TaskID = ""
	assert.ErrorIs(t, s.Validate(), ErrInvalidRequest)

	s = newTestSubtask()
	s.Difficulty = "impossible"
	assert.ErrorIs(t, s.Validate(), ErrInvalidRequest)
}

func TestRecordAttemptSequence(t *testing.T) {
	s := newTestSubtask()
	now := time.Now()

	a1, err := s.RecordAttempt("x=5", false, 40, "check your subtraction", now)
	assert.NoError(t, err)
	assert.Equal(t, 1, a1.AttemptNumber)
	assert.False(t, s.Completed)

	a2, err := s.RecordAttempt("x=4", true, 25, "", now.Add(time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, 2, a2.AttemptNumber)
	assert.True(t, s.Completed)
	assert.Equal(t, SubtaskStatusCompleted, s.Status)
	assert.NotNil(t, s.CompletedAt)

	// Second attempt of three correct: 100 * (1 - 1/3).
	if assert.NotNil(t, s.FinalScore) {
		assert.InDelta(t, 66.67, *s.FinalScore, 0.01)
	}

	_, err = s.RecordAttempt("x=4", true, 5, "", now.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrSubtaskCompleted)
	assert.Len(t, s.Attempts, 2)
}

func TestRecordAttemptCap(t *testing.T) {
	s := newTestSubtask()
	now := time.Now()

	for i := 0; i < s.MaxAttempts; i++ {
		_, err := s.RecordAttempt("wrong", false, 10, "", now)
		assert.NoError(t, err)
	}

	// Exhausting the cap without a correct answer completes with score zero.
	assert.True(t, s.Completed)
	assert.Len(t, s.Attempts, s.MaxAttempts)
	if assert.NotNil(t, s.FinalScore) {
		assert.Equal(t, 0.0, *s.FinalScore)
	}

	_, err := s.RecordAttempt("wrong again", false, 10, "", now)
	assert.Error(t, err)
	assert.Len(t, s.Attempts, s.MaxAttempts, "attempts never exceed max_attempts")
}

func TestRecordAttemptFirstTryScore(t *testing.T) {
	s := newTestSubtask()

	_, err := s.RecordAttempt("x=4", true, 30, "", time.Now())
	assert.NoError(t, err)
	if assert.NotNil(t, s.FinalScore) {
		assert.Equal(t, 100.0, *s.FinalScore)
	}
}
