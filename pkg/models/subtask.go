package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubtaskStatus represents the learner-facing state of a practice item.
type SubtaskStatus string

const (
	SubtaskStatusActive    SubtaskStatus = "active"
	SubtaskStatusPending   SubtaskStatus = "pending"
	SubtaskStatusCompleted SubtaskStatus = "completed"
	SubtaskStatusSkipped   SubtaskStatus = "skipped"
)

// Valid reports whether s is a recognized subtask status.
func (s SubtaskStatus) Valid() bool {
	switch s {
	case SubtaskStatusActive, SubtaskStatusPending, SubtaskStatusCompleted, SubtaskStatusSkipped:
		return true
	}
	return false
}

// Difficulty labels a generated practice item.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// DefaultMaxAttempts is applied when the generator does not supply a cap.
const DefaultMaxAttempts = 3

// Attempt is one learner submission against a subtask.
type Attempt struct {
	AttemptID     string    `json:"attempt_id"`
	AttemptNumber int       `json:"attempt_number"`
	Answer        string    `json:"answer"`
	IsCorrect     bool      `json:"is_correct"`
	TimeSpentSec  int       `json:"time_spent"`
	SubmittedAt   time.Time `json:"submitted_at"`
	Feedback      string    `json:"feedback,omitempty"`
}

// Subtask is one generated practice item and its attempt history. The task id
// is supplied by the external generator and doubles as the idempotency key
// for at-least-once delivery of the store-subtask callback.
type Subtask struct {
	TaskID           string                 `json:"task_id"`
	WorkflowID       string                 `json:"workflow_id"`
	UserID           string                 `json:"user_id"`
	DomainID         string                 `json:"domain_id"`
	SubdomainID      string                 `json:"subdomain_id"`
	Prompt           string                 `json:"prompt"`
	InputSchema      map[string]interface{} `json:"input_schema,omitempty"`
	AnswerSchema     map[string]interface{} `json:"answer_schema,omitempty"`
	Difficulty       Difficulty             `json:"difficulty"`
	EstimatedMinutes int                    `json:"estimated_minutes"`
	SkillsTargeted   []string               `json:"skills_targeted,omitempty"`
	MaxAttempts      int                    `json:"max_attempts"`
	Status           SubtaskStatus          `json:"status"`
	Attempts         []Attempt              `json:"attempts"`
	Completed        bool                   `json:"completed"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	FinalScore       *float64               `json:"final_score,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// Validate checks a generator-supplied subtask before persistence.
func (s *Subtask) Validate() error {
	if s.TaskID == "" {
		return fmt.Errorf("%w: task_id is required", ErrInvalidRequest)
	}
	if s.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	switch s.Difficulty {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
	default:
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidRequest, s.Difficulty)
	}
	if s.MaxAttempts < 0 {
		return fmt.Errorf("%w: max_attempts must not be negative", ErrInvalidRequest)
	}
	return nil
}

// ApplyDefaults fills generator-optional fields.
func (s *Subtask) ApplyDefaults() {
	if s.MaxAttempts == 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.Status == "" {
		s.Status = SubtaskStatusActive
	}
}

// RecordAttempt appends a learner submission, enforcing the attempt
// invariants: the sequence is 1-based and gapless, the count never exceeds
// max_attempts, and a completed subtask accepts nothing further. A correct
// answer or the final allowed attempt completes the subtask.
func (s *Subtask) RecordAttempt(answer string, isCorrect bool, timeSpentSec int, feedback string, now time.Time) (*Attempt, error) {
	if s.Completed {
		return nil, ErrSubtaskCompleted
	}
	if len(s.Attempts) >= s.MaxAttempts {
		return nil, ErrAttemptLimit
	}

	attempt := Attempt{
		AttemptID:     uuid.New().String(),
		AttemptNumber: len(s.Attempts) + 1,
		Answer:        answer,
		IsCorrect:     isCorrect,
		TimeSpentSec:  timeSpentSec,
		SubmittedAt:   now.UTC(),
		Feedback:      feedback,
	}
	s.Attempts = append(s.Attempts, attempt)
	s.UpdatedAt = now.UTC()

	if isCorrect || len(s.Attempts) == s.MaxAttempts {
		s.complete(now)
	}
	return &s.Attempts[len(s.Attempts)-1], nil
}

func (s *Subtask) complete(now time.Time) {
	s.Completed = true
	s.Status = SubtaskStatusCompleted
	at := now.UTC()
	s.CompletedAt = &at
	score := s.score()
	s.FinalScore = &score
}

// score grades the attempt history: full credit for a first-try answer,
// linearly less for each extra attempt, zero if never correct.
func (s *Subtask) score() float64 {
	for _, a := range s.Attempts {
		if a.IsCorrect {
			penalty := float64(a.AttemptNumber-1) / float64(s.MaxAttempts)
			return 100 * (1 - penalty)
		}
	}
	return 0
}
