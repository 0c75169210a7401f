// Package services contains the workflow orchestration core: the state
// machine driving a personalization request across the two phases of the
// external agent platform, the context aggregator, and the outbound platform
// client.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"skillforge/internal/logging"
	"skillforge/internal/repository"
	"skillforge/pkg/models"
)

// Defaults applied to caller-omitted trigger parameters.
const (
	DefaultTargetConfidence = 80
	DefaultMaxSubtasks      = 5
)

// TriggerRequest carries the parameters of a "module completed" trigger.
type TriggerRequest struct {
	UserID           string `json:"user_id"`
	DomainID         string `json:"domain_id"`
	SubdomainID      string `json:"subdomain_id"`
	ModuleID         string `json:"module_id"`
	TargetConfidence int    `json:"target_confidence"`
	MaxSubtasks      int    `json:"max_subtasks"`
}

// TriggerReceipt is returned immediately from a trigger; the caller polls
// status to observe pipeline progress, including a failed outbound handoff.
type TriggerReceipt struct {
	WorkflowID          string                `json:"workflow_id"`
	Status              models.WorkflowStatus `json:"status"`
	NextStep            string                `json:"next_step"`
	EstimatedCompletion time.Time             `json:"estimated_completion"`
}

// ContextFetchResult wraps the bundle returned to Phase-1.
type ContextFetchResult struct {
	WorkflowID string                `json:"workflow_id"`
	Timestamp  time.Time             `json:"timestamp"`
	Bundle     *models.ContextBundle `json:"context"`
}

// StoreSubtaskRequest is the Phase-2 result callback payload.
type StoreSubtaskRequest struct {
	WorkflowID          string          `json:"workflow_id"`
	UserID              string          `json:"user_id"`
	DomainID            string          `json:"domain_id"`
	SubdomainID         string          `json:"subdomain_id"`
	StopIfConfidenceMet bool            `json:"stop_if_confidence_met"`
	Task                *models.Subtask `json:"generated_task,omitempty"`
}

// StoreSubtaskResult reports what the callback did.
type StoreSubtaskResult struct {
	WorkflowID string `json:"workflow_id"`
	SubtaskID  string `json:"subtask_id,omitempty"`
	Created    bool   `json:"created"`
	NextAction string `json:"next_action"`
}

// StatusReport is the pollable view of a workflow.
type StatusReport struct {
	WorkflowID string                `json:"workflow_id"`
	Status     models.WorkflowStatus `json:"status"`
	Stage      models.WorkflowStage  `json:"stage"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// AttemptSubmission is one learner answer against a subtask, graded by the
// learner-facing collaborator before it reaches the store.
type AttemptSubmission struct {
	Answer       string `json:"answer"`
	IsCorrect    bool   `json:"is_correct"`
	TimeSpentSec int    `json:"time_spent"`
	Feedback     string `json:"feedback,omitempty"`
}

// Orchestrator is the personalization workflow state machine. It is purely
// reactive: every state past agent1_initiated is reached through an inbound
// callback, never a background loop, and all concurrency control lives in the
// stores' conditional writes.
type Orchestrator struct {
	workflows  repository.WorkflowStore
	subtasks   repository.SubtaskStore
	aggregator *Aggregator
	agent      AgentPlatform
	guard      TriggerGuard
	logger     *logging.Logger
	metrics    *orchestratorMetrics

	staleAfter          time.Duration
	estimatedCompletion time.Duration
	now                 func() time.Time
}

// OrchestratorOptions tunes orchestrator behavior.
type OrchestratorOptions struct {
	// StaleAfter marks a non-terminal workflow failed once updated_at falls
	// this far behind. Zero disables the staleness check.
	StaleAfter time.Duration
	// EstimatedCompletion sizes the completion window reported on trigger.
	EstimatedCompletion time.Duration
}

// NewOrchestrator creates the workflow orchestrator.
func NewOrchestrator(workflows repository.WorkflowStore, subtasks repository.SubtaskStore,
	aggregator *Aggregator, agent AgentPlatform, guard TriggerGuard,
	logger *logging.Logger, opts OrchestratorOptions) *Orchestrator {
	if opts.EstimatedCompletion <= 0 {
		opts.EstimatedCompletion = 3 * time.Minute
	}
	return &Orchestrator{
		workflows:           workflows,
		subtasks:            subtasks,
		aggregator:          aggregator,
		agent:               agent,
		guard:               guard,
		logger:              logger,
		metrics:             newOrchestratorMetrics(),
		staleAfter:          opts.StaleAfter,
		estimatedCompletion: opts.EstimatedCompletion,
		now:                 time.Now,
	}
}

// Trigger creates a workflow for a completed module and hands it to Phase-1.
// The call is fire-and-forget from the learner's perspective: it returns as
// soon as the workflow record exists. A synchronous outbound failure is
// absorbed into workflow state (agent1_failed) instead of failing the
// trigger, so "workflow accepted" and "workflow succeeded" stay independently
// observable.
func (o *Orchestrator) Trigger(ctx context.Context, req TriggerRequest) (*TriggerReceipt, error) {
	if req.TargetConfidence == 0 {
		req.TargetConfidence = DefaultTargetConfidence
	}
	if req.MaxSubtasks == 0 {
		req.MaxSubtasks = DefaultMaxSubtasks
	}

	now := o.now()
	w := models.NewWorkflow(req.UserID, req.DomainID, req.SubdomainID, req.ModuleID,
		req.TargetConfidence, req.MaxSubtasks, now)
	if err := w.Validate(); err != nil {
		return nil, err
	}

	if o.guard != nil {
		ok, err := o.guard.Reserve(ctx, req.UserID, req.DomainID, req.SubdomainID, req.ModuleID)
		if err != nil {
			// Dedup is best-effort: a reservation-store outage must not take
			// triggering down with it.
			o.logger.Warn("trigger dedup unavailable, proceeding", "error", err)
		} else if !ok {
			o.metrics.dedupHits.Add(ctx, 1)
			return nil, models.ErrDuplicateTrigger
		}
	}

	if err := o.workflows.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	o.metrics.triggered.Add(ctx, 1)
	o.logger.Info("workflow created",
		"workflow_id", w.WorkflowID, "user_id", w.UserID,
		"domain_id", w.DomainID, "subdomain_id", w.SubdomainID)

	status := models.StatusAgent1Initiated
	err := o.agent.StartPhase1(ctx, Phase1Request{
		WorkflowID:       w.WorkflowID,
		UserID:           w.UserID,
		DomainID:         w.DomainID,
		SubdomainID:      w.SubdomainID,
		ModuleID:         w.ModuleID,
		TargetConfidence: w.TargetConfidence,
		MaxSubtasks:      w.MaxSubtasks,
	})
	if err != nil {
		o.metrics.outboundFailures.Add(ctx, 1)
		o.logger.Error("phase-1 handoff failed", "workflow_id", w.WorkflowID, "error", err)
		if _, terr := o.workflows.Transition(ctx, w.WorkflowID, models.StatusAgent1Failed); terr != nil {
			o.logger.Error("failed to record phase-1 failure", "workflow_id", w.WorkflowID, "error", terr)
		}
		status = models.StatusAgent1Failed
	}

	return &TriggerReceipt{
		WorkflowID:          w.WorkflowID,
		Status:              status,
		NextStep:            "poll status until a terminal state is reached",
		EstimatedCompletion: now.Add(o.estimatedCompletion),
	}, nil
}

// FetchContext serves Phase-1's context callback. Repeated calls are safe:
// the bundle is rebuilt from current store state and the transition to
// agent1_completed is a no-op once set. An aggregation failure leaves the
// workflow at agent1_initiated so the platform can retry.
func (o *Orchestrator) FetchContext(ctx context.Context, workflowID string) (*ContextFetchResult, error) {
	w, err := o.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if w.Status.Failed() {
		return nil, fmt.Errorf("%w: workflow %s already failed", models.ErrInvalidTransition, workflowID)
	}

	bundle, err := o.aggregator.Build(ctx, models.BundleParams{
		UserID:           w.UserID,
		DomainID:         w.DomainID,
		SubdomainID:      w.SubdomainID,
		TargetConfidence: w.TargetConfidence,
		MaxSubtasks:      w.MaxSubtasks,
	})
	if err != nil {
		// No transition: the workflow stays where it is for the retry.
		return nil, err
	}

	if _, err := o.workflows.Transition(ctx, workflowID, models.StatusAgent1Completed); err != nil {
		return nil, fmt.Errorf("advance workflow: %w", err)
	}
	o.metrics.contextFetches.Add(ctx, 1)
	o.logger.Info("context bundle served", "workflow_id", workflowID,
		"templates", len(bundle.Catalog.Templates), "sessions", len(bundle.RecentSessions))

	return &ContextFetchResult{
		WorkflowID: workflowID,
		Timestamp:  o.now().UTC(),
		Bundle:     bundle,
	}, nil
}

// StoreSubtask serves Phase-2's result callback. The workflow must already be
// at or past agent1_completed: results cannot arrive for a workflow whose
// context was never fetched. Both branches pass through agent2_initiated and
// agent2_completed before their terminal state, keeping the ordering
// monotonic for any status poller.
func (o *Orchestrator) StoreSubtask(ctx context.Context, req StoreSubtaskRequest) (*StoreSubtaskResult, error) {
	w, err := o.workflows.Get(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if w.Status.Failed() {
		return nil, fmt.Errorf("%w: workflow %s already failed", models.ErrInvalidTransition, req.WorkflowID)
	}
	if w.Status.Rank() < models.StatusAgent1Completed.Rank() {
		return nil, fmt.Errorf("%w: workflow %s has not completed context collection",
			models.ErrInvalidTransition, req.WorkflowID)
	}
	if w.Status.Terminal() {
		return o.ackTerminalReplay(ctx, w, req)
	}

	for _, step := range []models.WorkflowStatus{models.StatusAgent2Initiated, models.StatusAgent2Completed} {
		if _, err := o.workflows.Transition(ctx, req.WorkflowID, step); err != nil {
			return nil, fmt.Errorf("advance workflow: %w", err)
		}
	}

	if req.StopIfConfidenceMet {
		// The generator decided the learner already meets the target; do not
		// manufacture busywork.
		if _, err := o.workflows.Transition(ctx, req.WorkflowID, models.StatusConfidenceMet); err != nil {
			return nil, fmt.Errorf("advance workflow: %w", err)
		}
		o.metrics.shortCircuits.Add(ctx, 1)
		o.logger.Info("workflow short-circuited, confidence met", "workflow_id", req.WorkflowID)
		return &StoreSubtaskResult{
			WorkflowID: req.WorkflowID,
			Created:    false,
			NextAction: "no further practice needed",
		}, nil
	}

	if req.Task == nil {
		return nil, fmt.Errorf("%w: generated_task is required unless stop_if_confidence_met", models.ErrInvalidRequest)
	}

	task := *req.Task
	task.WorkflowID = w.WorkflowID
	task.UserID = w.UserID
	task.DomainID = w.DomainID
	task.SubdomainID = w.SubdomainID
	task.ApplyDefaults()
	if err := task.Validate(); err != nil {
		return nil, err
	}
	now := o.now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	if err := o.workflows.SetStage(ctx, req.WorkflowID, models.StageResultStorage); err != nil {
		return nil, err
	}

	created, stored, err := o.subtasks.Upsert(ctx, &task)
	if err != nil {
		return nil, err
	}
	if created {
		o.metrics.subtasksStored.Add(ctx, 1)
	}

	if _, err := o.workflows.Transition(ctx, req.WorkflowID, models.StatusSubtasksCreated); err != nil {
		return nil, fmt.Errorf("advance workflow: %w", err)
	}
	o.logger.Info("subtask stored", "workflow_id", req.WorkflowID,
		"task_id", stored.TaskID, "created", created)

	return &StoreSubtaskResult{
		WorkflowID: req.WorkflowID,
		SubtaskID:  stored.TaskID,
		Created:    created,
		NextAction: "subtasks available to learner",
	}, nil
}

// ackTerminalReplay handles store callbacks arriving after the workflow has
// already completed. The agent platform delivers at least once, so a replay of
// the callback that finished the workflow gets the same acknowledgement it got
// the first time; anything else would silently attach new work to a finished
// workflow and is rejected instead.
func (o *Orchestrator) ackTerminalReplay(ctx context.Context, w *models.Workflow, req StoreSubtaskRequest) (*StoreSubtaskResult, error) {
	if req.StopIfConfidenceMet {
		if w.Status == models.StatusConfidenceMet {
			return &StoreSubtaskResult{
				WorkflowID: w.WorkflowID,
				Created:    false,
				NextAction: "no further practice needed",
			}, nil
		}
		return nil, fmt.Errorf("%w: workflow %s already completed with subtasks",
			models.ErrInvalidTransition, w.WorkflowID)
	}
	if req.Task == nil {
		return nil, fmt.Errorf("%w: generated_task is required unless stop_if_confidence_met", models.ErrInvalidRequest)
	}
	existing, err := o.subtasks.Get(ctx, req.Task.TaskID)
	if err != nil && !errors.Is(err, models.ErrSubtaskNotFound) {
		return nil, err
	}
	if err == nil && existing.WorkflowID == w.WorkflowID {
		return &StoreSubtaskResult{
			WorkflowID: w.WorkflowID,
			SubtaskID:  existing.TaskID,
			Created:    false,
			NextAction: "subtasks available to learner",
		}, nil
	}
	return nil, fmt.Errorf("%w: workflow %s is already terminal", models.ErrInvalidTransition, w.WorkflowID)
}

// Status returns the pollable view of a workflow. A non-empty callerID must
// match the workflow owner; user ids may contain the id delimiter, so the
// workflow id alone cannot prove ownership. A non-terminal workflow whose
// last update predates the staleness threshold is failed on read: the
// pipeline has no other timeout mechanism, so a stuck workflow would
// otherwise sit in an in-flight state forever.
func (o *Orchestrator) Status(ctx context.Context, callerID, workflowID string) (*StatusReport, error) {
	w, err := o.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if callerID != "" && w.UserID != callerID {
		return nil, fmt.Errorf("%w: workflow %s belongs to another user", models.ErrUnauthorized, workflowID)
	}

	if o.staleAfter > 0 && !w.Status.Terminal() && o.now().Sub(w.UpdatedAt) > o.staleAfter {
		target := models.StatusAgent2Failed
		if w.Status == models.StatusAgent1Initiated {
			target = models.StatusAgent1Failed
		}
		changed, err := o.workflows.Transition(ctx, workflowID, target)
		if err != nil {
			return nil, err
		}
		if changed {
			o.metrics.staleFailed.Add(ctx, 1)
			o.logger.Warn("workflow marked failed after staleness threshold",
				"workflow_id", workflowID, "was", w.Status, "now", target)
			w, err = o.workflows.Get(ctx, workflowID)
			if err != nil {
				return nil, err
			}
		}
	}

	return &StatusReport{
		WorkflowID: w.WorkflowID,
		Status:     w.Status,
		Stage:      w.Stage,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}, nil
}

// Subtasks is the read-side query that makes generated practice visible to
// the learner.
func (o *Orchestrator) Subtasks(ctx context.Context, userID, domainID, subdomainID string, status models.SubtaskStatus) ([]*models.Subtask, error) {
	return o.subtasks.ListByOwner(ctx, userID, domainID, subdomainID, status)
}

// SubmitAttempt records a graded learner answer against a subtask, retrying
// the optimistic write when concurrent submissions race. A non-empty callerID
// must match the subtask owner.
func (o *Orchestrator) SubmitAttempt(ctx context.Context, callerID, taskID string, sub AttemptSubmission) (*models.Subtask, error) {
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		task, err := o.subtasks.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if callerID != "" && task.UserID != callerID {
			return nil, fmt.Errorf("%w: subtask %s belongs to another user", models.ErrUnauthorized, taskID)
		}

		expected := len(task.Attempts)
		if _, err := task.RecordAttempt(sub.Answer, sub.IsCorrect, sub.TimeSpentSec, sub.Feedback, o.now()); err != nil {
			return nil, err
		}

		applied, err := o.subtasks.SaveAttempts(ctx, task, expected)
		if err != nil {
			return nil, err
		}
		if applied {
			return task, nil
		}
	}
	return nil, fmt.Errorf("%w: concurrent attempt submissions, retry", models.ErrInvalidRequest)
}
