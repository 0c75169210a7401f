// Package repository contains the persistence layer for the personalization
// orchestrator: the workflow and subtask stores it owns, plus read-only
// accessors for the collaborator data the aggregator consumes.
package repository

import (
	"context"
	"time"

	"skillforge/pkg/models"
)

// WorkflowStore is the durable record of each personalization request.
// Workflows are never deleted; status moves forward only.
type WorkflowStore interface {
	// Create persists a new workflow record.
	Create(ctx context.Context, w *models.Workflow) error
	// Get retrieves a workflow by id, or models.ErrUnknownWorkflow.
	Get(ctx context.Context, workflowID string) (*models.Workflow, error)
	// Transition conditionally advances the workflow to target. It is a
	// single conditional write: only states from which the move is forward
	// match, so racing callers converge and the loser observes changed=false
	// rather than an error.
	Transition(ctx context.Context, workflowID string, target models.WorkflowStatus) (changed bool, err error)
	// SetStage records the human-readable progress label independently of
	// status.
	SetStage(ctx context.Context, workflowID string, stage models.WorkflowStage) error
	// ListStale returns non-terminal workflows whose last update predates
	// cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Workflow, error)
}

// SubtaskStore is the durable record of generated practice items and the
// learner's attempts against them.
type SubtaskStore interface {
	// Upsert stores a subtask idempotently keyed by task id. When the task id
	// already exists for the same workflow the stored record is returned with
	// created=false; a task id bound to a different workflow is rejected with
	// models.ErrDuplicateTask.
	Upsert(ctx context.Context, s *models.Subtask) (created bool, stored *models.Subtask, err error)
	// Get retrieves a subtask by task id, or models.ErrSubtaskNotFound.
	Get(ctx context.Context, taskID string) (*models.Subtask, error)
	// ListByOwner returns a learner's subtasks in a subdomain, optionally
	// filtered by status (empty filter returns all).
	ListByOwner(ctx context.Context, userID, domainID, subdomainID string, status models.SubtaskStatus) ([]*models.Subtask, error)
	// CountOutstanding counts not-yet-completed subtasks for a learner in a
	// subdomain.
	CountOutstanding(ctx context.Context, userID, domainID, subdomainID string) (int, error)
	// SaveAttempts writes back an updated attempt history. The write is
	// optimistic: it only applies if the stored history still has
	// expectedAttempts entries, so concurrent submissions cannot interleave.
	SaveAttempts(ctx context.Context, s *models.Subtask, expectedAttempts int) (applied bool, err error)
}

// ProfileStore reads the learner's current mastery and onboarding context.
type ProfileStore interface {
	GetLearnerState(ctx context.Context, userID, domainID, subdomainID string) (*models.LearnerState, error)
}

// TemplateStore reads the per-subdomain question templates and skill taxonomy.
type TemplateStore interface {
	GetCatalog(ctx context.Context, subdomainID string) (*models.TemplateCatalog, error)
}

// HistoryStore reads recent scored sessions with per-mistake tagging.
type HistoryStore interface {
	RecentSessions(ctx context.Context, userID, subdomainID string, limit int) ([]models.ScoredSession, error)
}
