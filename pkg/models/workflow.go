// Package models defines the domain models for the personalization service
package models

import (
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a personalization workflow.
type WorkflowStatus string

const (
	StatusAgent1Initiated  WorkflowStatus = "agent1_initiated"
	StatusAgent1Completed  WorkflowStatus = "agent1_completed"
	StatusAgent2Initiated  WorkflowStatus = "agent2_initiated"
	StatusAgent2Completed  WorkflowStatus = "agent2_completed"
	StatusConfidenceMet    WorkflowStatus = "completed_confidence_met"
	StatusSubtasksCreated  WorkflowStatus = "completed_subtasks_created"
	StatusAgent1Failed     WorkflowStatus = "agent1_failed"
	StatusAgent2Failed     WorkflowStatus = "agent2_failed"
)

// WorkflowStage is the coarse phase label used for progress reporting. It is
// derived from status but stored independently so observers see it even if
// the derivation changes between releases.
type WorkflowStage string

const (
	StageDataMapping           WorkflowStage = "data_mapping"
	StageLLMProcessing         WorkflowStage = "llm_processing"
	StageLLMProcessingComplete WorkflowStage = "llm_processing_complete"
	StageResultStorage         WorkflowStage = "result_storage"
	StageWorkflowComplete      WorkflowStage = "workflow_complete"
)

// statusRank orders the non-failure states. Transitions may only move to a
// strictly higher rank; failure states are absorbing and rank above
// everything so nothing can leave them.
var statusRank = map[WorkflowStatus]int{
	StatusAgent1Initiated: 1,
	StatusAgent1Completed: 2,
	StatusAgent2Initiated: 3,
	StatusAgent2Completed: 4,
	StatusConfidenceMet:   5,
	StatusSubtasksCreated: 5,
	StatusAgent1Failed:    99,
	StatusAgent2Failed:    99,
}

// Rank returns the monotonic ordering position of a status. Unknown statuses
// rank below everything so they never satisfy a transition predicate.
func (s WorkflowStatus) Rank() int {
	return statusRank[s]
}

// Valid reports whether the status is one of the known lifecycle states.
func (s WorkflowStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether the workflow can make no further progress.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case StatusConfidenceMet, StatusSubtasksCreated, StatusAgent1Failed, StatusAgent2Failed:
		return true
	}
	return false
}

// Failed reports whether the status is one of the absorbing failure states.
func (s WorkflowStatus) Failed() bool {
	return s == StatusAgent1Failed || s == StatusAgent2Failed
}

// CanTransition reports whether a workflow currently at s may move to target.
// A transition must be strictly forward. Phase failures are reachable only
// from the states where that phase is in flight: agent1_failed from
// agent1_initiated, agent2_failed from agent1_completed (handoff never
// arrived) or agent2_initiated.
func (s WorkflowStatus) CanTransition(target WorkflowStatus) bool {
	if !s.Valid() || !target.Valid() {
		return false
	}
	switch target {
	case StatusAgent1Failed:
		return s == StatusAgent1Initiated
	case StatusAgent2Failed:
		return s == StatusAgent1Completed || s == StatusAgent2Initiated
	}
	if s.Failed() {
		return false
	}
	return target.Rank() > s.Rank()
}

// StageFor maps a lifecycle status to its progress stage.
func StageFor(s WorkflowStatus) WorkflowStage {
	switch s {
	case StatusAgent1Initiated, StatusAgent1Failed:
		return StageDataMapping
	case StatusAgent1Completed, StatusAgent2Initiated, StatusAgent2Failed:
		return StageLLMProcessing
	case StatusAgent2Completed:
		return StageLLMProcessingComplete
	case StatusConfidenceMet, StatusSubtasksCreated:
		return StageWorkflowComplete
	}
	return StageDataMapping
}

// Workflow represents one end-to-end personalization request and its tracked
// lifecycle. A record is created on trigger and never deleted; it is mutated
// only through forward-only status transitions.
type Workflow struct {
	WorkflowID       string         `json:"workflow_id"`
	UserID           string         `json:"user_id"`
	DomainID         string         `json:"domain_id"`
	SubdomainID      string         `json:"subdomain_id"`
	ModuleID         string         `json:"module_id"`
	TargetConfidence int            `json:"target_confidence"`
	MaxSubtasks      int            `json:"max_subtasks"`
	Status           WorkflowStatus `json:"status"`
	Stage            WorkflowStage  `json:"stage"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// NewWorkflow creates a workflow in its initial state. The workflow id is
// derived deterministically from the learning context and the trigger time so
// retriggers stay distinguishable but traceable back to their context.
func NewWorkflow(userID, domainID, subdomainID, moduleID string, targetConfidence, maxSubtasks int, triggeredAt time.Time) *Workflow {
	now := triggeredAt.UTC()
	return &Workflow{
		WorkflowID:       WorkflowIDFor(userID, domainID, subdomainID, now),
		UserID:           userID,
		DomainID:         domainID,
		SubdomainID:      subdomainID,
		ModuleID:         moduleID,
		TargetConfidence: targetConfidence,
		MaxSubtasks:      maxSubtasks,
		Status:           StatusAgent1Initiated,
		Stage:            StageFor(StatusAgent1Initiated),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// WorkflowIDFor derives the workflow identifier for a learning context at a
// given trigger time.
func WorkflowIDFor(userID, domainID, subdomainID string, triggeredAt time.Time) string {
	return fmt.Sprintf("wf_%s_%s_%s_%d", userID, domainID, subdomainID, triggeredAt.UnixMilli())
}

// Validate checks the caller-supplied trigger parameters.
func (w *Workflow) Validate() error {
	if w.UserID == "" || w.DomainID == "" || w.SubdomainID == "" || w.ModuleID == "" {
		return fmt.Errorf("%w: user, domain, subdomain and module are required", ErrInvalidRequest)
	}
	if w.TargetConfidence < 0 || w.TargetConfidence > 100 {
		return fmt.Errorf("%w: target_confidence must be between 0 and 100", ErrInvalidRequest)
	}
	if w.MaxSubtasks <= 0 {
		return fmt.Errorf("%w: max_subtasks must be positive", ErrInvalidRequest)
	}
	return nil
}
