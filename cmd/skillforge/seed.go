package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"skillforge/internal/config"
	"skillforge/internal/logging"
	"skillforge/internal/repository"
	"skillforge/pkg/models"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load demo collaborator data for local development",
		Long: "Populates question templates, a learner profile and recent scored\n" +
			"sessions so context-fetch callbacks have something to aggregate.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context())
		},
	}
}

func runSeed(ctx context.Context) error {
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		return err
	}

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to connect to DB", "error", err)
		return err
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		logger.Error("Failed to apply schema", "error", err)
		return err
	}

	templates := []models.QuestionTemplate{
		{TemplateID: "tpl-alg-linear-1", SubdomainID: "algebra", Title: "Solve a linear equation",
			Body: "Solve for x: {a}x + {b} = {c}", Difficulty: models.DifficultyBeginner,
			Skills: []string{"linear_equations", "arithmetic"}, EstimatedMinutes: 5},
		{TemplateID: "tpl-alg-linear-2", SubdomainID: "algebra", Title: "Linear equation with variables on both sides",
			Body: "Solve for x: {a}x + {b} = {c}x + {d}", Difficulty: models.DifficultyIntermediate,
			Skills: []string{"linear_equations", "like_terms"}, EstimatedMinutes: 8},
		{TemplateID: "tpl-alg-quad-1", SubdomainID: "algebra", Title: "Factor a quadratic",
			Body: "Factor: x^2 + {b}x + {c}", Difficulty: models.DifficultyIntermediate,
			Skills: []string{"factoring", "quadratics"}, EstimatedMinutes: 10},
		{TemplateID: "tpl-alg-quad-2", SubdomainID: "algebra", Title: "Quadratic formula",
			Body: "Find the roots of {a}x^2 + {b}x + {c} = 0", Difficulty: models.DifficultyAdvanced,
			Skills: []string{"quadratics", "radicals"}, EstimatedMinutes: 12},
	}
	for _, tpl := range templates {
		_, err := pool.Exec(ctx, `
			INSERT INTO question_templates (template_id, subdomain_id, title, body, difficulty, skills, estimated_minutes)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (template_id) DO NOTHING`,
			tpl.TemplateID, tpl.SubdomainID, tpl.Title, tpl.Body, string(tpl.Difficulty), tpl.Skills, tpl.EstimatedMinutes)
		if err != nil {
			logger.Error("Failed to seed template", "template_id", tpl.TemplateID, "error", err)
			return err
		}
		logger.Info("Seeded template", "template_id", tpl.TemplateID)
	}

	// One demo learner partway through the algebra subdomain.
	_, err = pool.Exec(ctx, `
		INSERT INTO learner_profiles (user_id, domain_id, subdomain_id, confidence, skill_mastery, modules_completed, onboarding_goal, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, domain_id, subdomain_id) DO NOTHING`,
		"demo-learner", "math", "algebra", 55,
		map[string]float64{"linear_equations": 0.7, "like_terms": 0.5, "factoring": 0.3},
		[]string{"mod-1", "mod-2"}, "pass the placement exam",
		time.Now().Add(-24*time.Hour))
	if err != nil {
		logger.Error("Failed to seed learner profile", "error", err)
		return err
	}
	logger.Info("Seeded learner profile", "user_id", "demo-learner")

	sessions := []models.ScoredSession{
		{SessionID: "sess-demo-1", UserID: "demo-learner", SubdomainID: "algebra",
			Score: 62, MistakeTags: []string{"sign_error", "like_terms"},
			CompletedAt: time.Now().Add(-72 * time.Hour)},
		{SessionID: "sess-demo-2", UserID: "demo-learner", SubdomainID: "algebra",
			Score: 71, MistakeTags: []string{"factoring"},
			CompletedAt: time.Now().Add(-48 * time.Hour)},
		{SessionID: "sess-demo-3", UserID: "demo-learner", SubdomainID: "algebra",
			Score: 68, MistakeTags: []string{"sign_error"},
			CompletedAt: time.Now().Add(-24 * time.Hour)},
	}
	for _, s := range sessions {
		_, err := pool.Exec(ctx, `
			INSERT INTO scored_sessions (session_id, user_id, subdomain_id, score, mistake_tags, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (session_id) DO NOTHING`,
			s.SessionID, s.UserID, s.SubdomainID, s.Score, s.MistakeTags, s.CompletedAt)
		if err != nil {
			logger.Error("Failed to seed session", "session_id", s.SessionID, "error", err)
			return err
		}
		logger.Info("Seeded session", "session_id", s.SessionID)
	}

	logger.Info("Seeding complete!")
	return nil
}
