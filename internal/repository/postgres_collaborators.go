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

// PostgresProfileStore reads learner mastery state. The profile data is owned
// by the learner-facing service; this accessor is read-only.
type PostgresProfileStore struct {
	db *pgxpool.Pool
}

// NewPostgresProfileStore creates a new PostgresProfileStore.
func NewPostgresProfileStore(db *pgxpool.Pool) *PostgresProfileStore {
	return &PostgresProfileStore{db: db}
}

// GetLearnerState returns the current mastery picture. A learner with no
// profile row yet gets a zero-confidence state rather than an error; only
// store failures propagate.
func (s *PostgresProfileStore) GetLearnerState(ctx context.Context, userID, domainID, subdomainID string) (*models.LearnerState, error) {
	state := models.LearnerState{
		UserID:       userID,
		DomainID:     domainID,
		SubdomainID:  subdomainID,
		SkillMastery: map[string]float64{},
	}

	// onboarding_goal is nullable; a profile created before onboarding
	// finishes must still aggregate.
	var mastery []byte
	err := s.db.QueryRow(ctx, `
		SELECT confidence, skill_mastery, modules_completed, COALESCE(onboarding_goal, ''), last_activity_at
		FROM learner_profiles
		WHERE user_id = $1 AND domain_id = $2 AND subdomain_id = $3`,
		userID, domainID, subdomainID).
		Scan(&state.Confidence, &mastery, &state.ModulesCompleted, &state.OnboardingGoal, &state.LastActivityAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &state, nil
	}
	if err != nil {
		return nil, err
	}
	if len(mastery) > 0 {
		if err := json.Unmarshal(mastery, &state.SkillMastery); err != nil {
			return nil, fmt.Errorf("decode skill_mastery: %w", err)
		}
	}
	return &state, nil
}

// PostgresTemplateStore reads the question-template catalog.
type PostgresTemplateStore struct {
	db *pgxpool.Pool
}

// NewPostgresTemplateStore creates a new PostgresTemplateStore.
func NewPostgresTemplateStore(db *pgxpool.Pool) *PostgresTemplateStore {
	return &PostgresTemplateStore{db: db}
}

// GetCatalog returns the per-subdomain templates and the skill taxonomy they
// cover.
func (s *PostgresTemplateStore) GetCatalog(ctx context.Context, subdomainID string) (*models.TemplateCatalog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT template_id, subdomain_id, title, body, difficulty, skills, estimated_minutes
		FROM question_templates
		WHERE subdomain_id = $1
		ORDER BY template_id`, subdomainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	catalog := models.TemplateCatalog{SubdomainID: subdomainID}
	seen := map[string]bool{}
	for rows.Next() {
		var t models.QuestionTemplate
		var difficulty string
		if err := rows.Scan(&t.TemplateID, &t.SubdomainID, &t.Title, &t.Body,
			&difficulty, &t.Skills, &t.EstimatedMinutes); err != nil {
			return nil, err
		}
		t.Difficulty = models.Difficulty(difficulty)
		catalog.Templates = append(catalog.Templates, t)
		for _, skill := range t.Skills {
			if !seen[skill] {
				seen[skill] = true
				catalog.SkillTaxonomy = append(catalog.SkillTaxonomy, skill)
			}
		}
	}
	return &catalog, rows.Err()
}

// PostgresHistoryStore reads recent scored practice sessions.
type PostgresHistoryStore struct {
	db *pgxpool.Pool
}

// NewPostgresHistoryStore creates a new PostgresHistoryStore.
func NewPostgresHistoryStore(db *pgxpool.Pool) *PostgresHistoryStore {
	return &PostgresHistoryStore{db: db}
}

// RecentSessions returns the learner's most recent scored sessions with their
// mistake tags, newest first.
func (s *PostgresHistoryStore) RecentSessions(ctx context.Context, userID, subdomainID string, limit int) ([]models.ScoredSession, error) {
	rows, err := s.db.Query(ctx, `
		SELECT session_id, user_id, subdomain_id, score, mistake_tags, completed_at
		FROM scored_sessions
		WHERE user_id = $1 AND subdomain_id = $2
		ORDER BY completed_at DESC
		LIMIT $3`, userID, subdomainID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ScoredSession
	for rows.Next() {
		var sess models.ScoredSession
		if err := rows.Scan(&sess.SessionID, &sess.UserID, &sess.SubdomainID,
			&sess.Score, &sess.MistakeTags, &sess.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
