package models

import "time"

// LearnerState is the current mastery picture for one learner in one
// subdomain, read from the profile/progress store.
type LearnerState struct {
	UserID           string             `json:"user_id"`
	DomainID         string             `json:"domain_id"`
	SubdomainID      string             `json:"subdomain_id"`
	Confidence       int                `json:"confidence"`
	SkillMastery     map[string]float64 `json:"skill_mastery"`
	ModulesCompleted []string           `json:"modules_completed"`
	OnboardingGoal   string             `json:"onboarding_goal,omitempty"`
	LastActivityAt   *time.Time         `json:"last_activity_at,omitempty"`
}

// QuestionTemplate is one catalog entry the generator can base a practice
// item on.
type QuestionTemplate struct {
	TemplateID       string     `json:"template_id"`
	SubdomainID      string     `json:"subdomain_id"`
	Title            string     `json:"title"`
	Body             string     `json:"body"`
	Difficulty       Difficulty `json:"difficulty"`
	Skills           []string   `json:"skills"`
	EstimatedMinutes int        `json:"estimated_minutes"`
}

// TemplateCatalog groups the per-subdomain templates with the skill taxonomy
// they draw from.
type TemplateCatalog struct {
	SubdomainID   string             `json:"subdomain_id"`
	Templates     []QuestionTemplate `json:"templates"`
	SkillTaxonomy []string           `json:"skill_taxonomy"`
}

// ScoredSession is one recent practice session with per-mistake tagging.
type ScoredSession struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	SubdomainID string    `json:"subdomain_id"`
	Score       float64   `json:"score"`
	MistakeTags []string  `json:"mistake_tags,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// BundleParams echoes the trigger parameters back to the generator.
type BundleParams struct {
	UserID           string `json:"user_id"`
	DomainID         string `json:"domain_id"`
	SubdomainID      string `json:"subdomain_id"`
	TargetConfidence int    `json:"target_confidence"`
	MaxSubtasks      int    `json:"max_subtasks"`
}

// ContextBundle is the structured read-only snapshot of learner state handed
// to Phase-1. It is always complete: the aggregator fails rather than return
// a partial picture.
type ContextBundle struct {
	Params              BundleParams    `json:"request_parameters"`
	LearnerState        LearnerState    `json:"learner_state"`
	Catalog             TemplateCatalog `json:"template_catalog"`
	RecentSessions      []ScoredSession `json:"recent_sessions"`
	OutstandingSubtasks int             `json:"outstanding_subtasks"`
}
