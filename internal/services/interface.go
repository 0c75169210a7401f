package services

import "context"

// AgentPlatform is the outbound contract with the external two-phase
// pipeline. The orchestrator only ever calls the Phase-1 entry point; later
// phases reach back over the agent gateway.
type AgentPlatform interface {
	// StartPhase1 hands a freshly created workflow to the platform's data
	// collection phase. Only a success/failure acknowledgment is expected.
	StartPhase1(ctx context.Context, req Phase1Request) error
}

// TriggerGuard deduplicates concurrent triggers for the same learning
// context with a short-lived reservation.
type TriggerGuard interface {
	// Reserve claims the context for the dedup window. It returns false when
	// another trigger already holds the reservation.
	Reserve(ctx context.Context, userID, domainID, subdomainID, moduleID string) (bool, error)
}

// Phase1Request is the payload handed to the platform's Phase-1 entry point.
type Phase1Request struct {
	WorkflowID       string `json:"workflow_id"`
	UserID           string `json:"user_id"`
	DomainID         string `json:"domain_id"`
	SubdomainID      string `json:"subdomain_id"`
	ModuleID         string `json:"module_id"`
	TargetConfidence int    `json:"target_confidence"`
	MaxSubtasks      int    `json:"max_subtasks"`
}
