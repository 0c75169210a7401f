package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skillforge/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the orchestrator tables if they do not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PostgresWorkflowStore is a PostgreSQL implementation of the WorkflowStore
// interface.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

const workflowColumns = `workflow_id, user_id, domain_id, subdomain_id, module_id,
	target_confidence, max_subtasks, status, stage, created_at, updated_at`

// Create persists a new workflow record.
func (s *PostgresWorkflowStore) Create(ctx context.Context, w *models.Workflow) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.WorkflowID, w.UserID, w.DomainID, w.SubdomainID, w.ModuleID,
		w.TargetConfidence, w.MaxSubtasks, string(w.Status), string(w.Stage),
		w.CreatedAt, w.UpdatedAt)
	return err
}

// Get retrieves a workflow by id.
func (s *PostgresWorkflowStore) Get(ctx context.Context, workflowID string) (*models.Workflow, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+workflowColumns+` FROM workflows WHERE workflow_id = $1`, workflowID)
	return scanWorkflow(row)
}

// allStatuses enumerates the known lifecycle states for transition-predecessor
// computation.
var allStatuses = []models.WorkflowStatus{
	models.StatusAgent1Initiated,
	models.StatusAgent1Completed,
	models.StatusAgent2Initiated,
	models.StatusAgent2Completed,
	models.StatusConfidenceMet,
	models.StatusSubtasksCreated,
	models.StatusAgent1Failed,
	models.StatusAgent2Failed,
}

// predecessors returns every state from which moving to target is a legal
// forward transition.
func predecessors(target models.WorkflowStatus) []string {
	var preds []string
	for _, s := range allStatuses {
		if s.CanTransition(target) {
			preds = append(preds, string(s))
		}
	}
	return preds
}

// Transition conditionally advances a workflow. The WHERE clause restricts
// the write to states strictly behind the target, so two callbacks racing on
// the same workflow converge: exactly one write applies and the loser sees
// changed=false. Reaching the target (or beyond) first is not an error.
func (s *PostgresWorkflowStore) Transition(ctx context.Context, workflowID string, target models.WorkflowStatus) (bool, error) {
	if !target.Valid() {
		return false, fmt.Errorf("%w: unknown target status %q", models.ErrInvalidTransition, target)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE workflows
		SET status = $2, stage = $3, updated_at = now()
		WHERE workflow_id = $1 AND status = ANY($4)`,
		workflowID, string(target), string(models.StageFor(target)), predecessors(target))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Nothing matched: either the workflow is unknown or it is already at or
	// past the target. Distinguish the two for the caller.
	current, err := s.Get(ctx, workflowID)
	if err != nil {
		return false, err
	}
	if current.Status == target || !current.Status.CanTransition(target) {
		return false, nil
	}
	// The state moved between our UPDATE and the re-read; report a no-op, the
	// surviving state is by definition at or past the target.
	return false, nil
}

// SetStage records the observability stage label without touching status.
func (s *PostgresWorkflowStore) SetStage(ctx context.Context, workflowID string, stage models.WorkflowStage) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE workflows SET stage = $2, updated_at = now() WHERE workflow_id = $1`,
		workflowID, string(stage))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrUnknownWorkflow
	}
	return nil
}

// ListStale returns non-terminal workflows not updated since cutoff.
func (s *PostgresWorkflowStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE updated_at < $1 AND status = ANY($2)
		ORDER BY updated_at
		LIMIT $3`,
		cutoff, nonTerminalStatuses(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func nonTerminalStatuses() []string {
	var out []string
	for _, s := range allStatuses {
		if !s.Terminal() {
			out = append(out, string(s))
		}
	}
	return out
}

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var w models.Workflow
	var status, stage string
	err := row.Scan(&w.WorkflowID, &w.UserID, &w.DomainID, &w.SubdomainID, &w.ModuleID,
		&w.TargetConfidence, &w.MaxSubtasks, &status, &stage, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrUnknownWorkflow
	}
	if err != nil {
		return nil, err
	}
	w.Status = models.WorkflowStatus(status)
	w.Stage = models.WorkflowStage(stage)
	return &w, nil
}
