package services

import (
	"context"
	"fmt"

	"skillforge/internal/repository"
	"skillforge/pkg/models"
)

// recentSessionLimit bounds how much attempt history goes into a bundle.
const recentSessionLimit = 20

// Aggregator assembles the context bundle Phase-1 needs. It is a pure read
// over the collaborator stores: no caching, no mutation, every call reflects
// current store state. Any collaborator failure fails the whole bundle — a
// personalization decision must not be made on an incomplete picture.
type Aggregator struct {
	profiles  repository.ProfileStore
	templates repository.TemplateStore
	history   repository.HistoryStore
	subtasks  repository.SubtaskStore
}

// NewAggregator creates a new Aggregator.
func NewAggregator(profiles repository.ProfileStore, templates repository.TemplateStore, history repository.HistoryStore, subtasks repository.SubtaskStore) *Aggregator {
	return &Aggregator{
		profiles:  profiles,
		templates: templates,
		history:   history,
		subtasks:  subtasks,
	}
}

// Build assembles the bundle for one learning context.
func (a *Aggregator) Build(ctx context.Context, params models.BundleParams) (*models.ContextBundle, error) {
	state, err := a.profiles.GetLearnerState(ctx, params.UserID, params.DomainID, params.SubdomainID)
	if err != nil {
		return nil, fmt.Errorf("%w: learner state: %v", models.ErrAggregationUnavailable, err)
	}

	catalog, err := a.templates.GetCatalog(ctx, params.SubdomainID)
	if err != nil {
		return nil, fmt.Errorf("%w: template catalog: %v", models.ErrAggregationUnavailable, err)
	}

	sessions, err := a.history.RecentSessions(ctx, params.UserID, params.SubdomainID, recentSessionLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: attempt history: %v", models.ErrAggregationUnavailable, err)
	}

	outstanding, err := a.subtasks.CountOutstanding(ctx, params.UserID, params.DomainID, params.SubdomainID)
	if err != nil {
		return nil, fmt.Errorf("%w: outstanding subtasks: %v", models.ErrAggregationUnavailable, err)
	}

	return &models.ContextBundle{
		Params:              params,
		LearnerState:        *state,
		Catalog:             *catalog,
		RecentSessions:      sessions,
		OutstandingSubtasks: outstanding,
	}, nil
}
