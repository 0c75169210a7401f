package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skillforge/pkg/models"
)

// PostgresSubtaskStore is a PostgreSQL implementation of the SubtaskStore
// interface.
type PostgresSubtaskStore struct {
	db *pgxpool.Pool
}

// NewPostgresSubtaskStore creates a new PostgresSubtaskStore.
func NewPostgresSubtaskStore(db *pgxpool.Pool) *PostgresSubtaskStore {
	return &PostgresSubtaskStore{db: db}
}

const subtaskColumns = `task_id, workflow_id, user_id, domain_id, subdomain_id, prompt,
	input_schema, answer_schema, difficulty, estimated_minutes, skills_targeted,
	max_attempts, status, attempts, completed, completed_at, final_score,
	created_at, updated_at`

// Upsert stores a subtask idempotently keyed by task id. The external
// generator delivers at-least-once, so a replay of an already-stored task for
// the same workflow returns the stored record unchanged; the same task id
// arriving under a different workflow is rejected.
func (s *PostgresSubtaskStore) Upsert(ctx context.Context, st *models.Subtask) (bool, *models.Subtask, error) {
	inputSchema, err := marshalNullable(st.InputSchema)
	if err != nil {
		return false, nil, fmt.Errorf("encode input_schema: %w", err)
	}
	answerSchema, err := marshalNullable(st.AnswerSchema)
	if err != nil {
		return false, nil, fmt.Errorf("encode answer_schema: %w", err)
	}
	attempts, err := json.Marshal(st.Attempts)
	if err != nil {
		return false, nil, fmt.Errorf("encode attempts: %w", err)
	}
	if st.Attempts == nil {
		attempts = []byte("[]")
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO subtasks (`+subtaskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (task_id) DO NOTHING`,
		st.TaskID, st.WorkflowID, st.UserID, st.DomainID, st.SubdomainID, st.Prompt,
		inputSchema, answerSchema, string(st.Difficulty), st.EstimatedMinutes, st.SkillsTargeted,
		st.MaxAttempts, string(st.Status), attempts, st.Completed, st.CompletedAt, st.FinalScore,
		st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return false, nil, err
	}
	if tag.RowsAffected() == 1 {
		return true, st, nil
	}

	existing, err := s.Get(ctx, st.TaskID)
	if err != nil {
		return false, nil, err
	}
	if existing.WorkflowID != st.WorkflowID {
		return false, nil, fmt.Errorf("%w: task %s belongs to workflow %s",
			models.ErrDuplicateTask, st.TaskID, existing.WorkflowID)
	}
	return false, existing, nil
}

// Get retrieves a subtask by task id.
func (s *PostgresSubtaskStore) Get(ctx context.Context, taskID string) (*models.Subtask, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+subtaskColumns+` FROM subtasks WHERE task_id = $1`, taskID)
	return scanSubtask(row)
}

// ListByOwner returns a learner's subtasks in a subdomain, newest first.
func (s *PostgresSubtaskStore) ListByOwner(ctx context.Context, userID, domainID, subdomainID string, status models.SubtaskStatus) ([]*models.Subtask, error) {
	query := `
		SELECT ` + subtaskColumns + `
		FROM subtasks
		WHERE user_id = $1 AND domain_id = $2 AND subdomain_id = $3`
	args := []interface{}{userID, domainID, subdomainID}
	if status != "" {
		query += ` AND status = $4`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Subtask
	for rows.Next() {
		st, err := scanSubtask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountOutstanding counts not-yet-completed subtasks for a learner in a
// subdomain. The generator uses this to decide how many more items to
// produce.
func (s *PostgresSubtaskStore) CountOutstanding(ctx context.Context, userID, domainID, subdomainID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM subtasks
		WHERE user_id = $1 AND domain_id = $2 AND subdomain_id = $3 AND NOT completed`,
		userID, domainID, subdomainID).Scan(&n)
	return n, err
}

// SaveAttempts writes back an updated attempt history. The optimistic length
// guard keeps two concurrent submissions from both appending attempt N.
func (s *PostgresSubtaskStore) SaveAttempts(ctx context.Context, st *models.Subtask, expectedAttempts int) (bool, error) {
	attempts, err := json.Marshal(st.Attempts)
	if err != nil {
		return false, fmt.Errorf("encode attempts: %w", err)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE subtasks
		SET attempts = $2, status = $3, completed = $4, completed_at = $5,
		    final_score = $6, updated_at = now()
		WHERE task_id = $1 AND jsonb_array_length(attempts) = $7 AND NOT completed`,
		st.TaskID, attempts, string(st.Status), st.Completed, st.CompletedAt,
		st.FinalScore, expectedAttempts)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func marshalNullable(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func scanSubtask(row pgx.Row) (*models.Subtask, error) {
	var st models.Subtask
	var difficulty, status string
	var inputSchema, answerSchema, attempts []byte
	err := row.Scan(&st.TaskID, &st.WorkflowID, &st.UserID, &st.DomainID, &st.SubdomainID,
		&st.Prompt, &inputSchema, &answerSchema, &difficulty, &st.EstimatedMinutes,
		&st.SkillsTargeted, &st.MaxAttempts, &status, &attempts, &st.Completed,
		&st.CompletedAt, &st.FinalScore, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrSubtaskNotFound
	}
	if err != nil {
		return nil, err
	}
	st.Difficulty = models.Difficulty(difficulty)
	st.Status = models.SubtaskStatus(status)
	if len(inputSchema) > 0 {
		if err := json.Unmarshal(inputSchema, &st.InputSchema); err != nil {
			return nil, fmt.Errorf("decode input_schema: %w", err)
		}
	}
	if len(answerSchema) > 0 {
		if err := json.Unmarshal(answerSchema, &st.AnswerSchema); err != nil {
			return nil, fmt.Errorf("decode answer_schema: %w", err)
		}
	}
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &st.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts: %w", err)
		}
	}
	return &st, nil
}
