package services

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// orchestratorMetrics counts the orchestrator's externally observable events.
type orchestratorMetrics struct {
	triggered        metric.Int64Counter
	dedupHits        metric.Int64Counter
	outboundFailures metric.Int64Counter
	contextFetches   metric.Int64Counter
	subtasksStored   metric.Int64Counter
	shortCircuits    metric.Int64Counter
	staleFailed      metric.Int64Counter
}

func newOrchestratorMetrics() *orchestratorMetrics {
	meter := otel.Meter("skillforge/orchestrator")
	m := &orchestratorMetrics{}
	m.triggered, _ = meter.Int64Counter("workflows_triggered_total",
		metric.WithDescription("Personalization workflows created"))
	m.dedupHits, _ = meter.Int64Counter("trigger_dedup_hits_total",
		metric.WithDescription("Triggers rejected by the in-flight reservation"))
	m.outboundFailures, _ = meter.Int64Counter("phase1_outbound_failures_total",
		metric.WithDescription("Synchronous failures handing off to Phase-1"))
	m.contextFetches, _ = meter.Int64Counter("context_fetches_total",
		metric.WithDescription("Context bundles served to Phase-1"))
	m.subtasksStored, _ = meter.Int64Counter("subtasks_stored_total",
		metric.WithDescription("Generated subtasks persisted"))
	m.shortCircuits, _ = meter.Int64Counter("confidence_short_circuits_total",
		metric.WithDescription("Workflows completed because confidence was already met"))
	m.staleFailed, _ = meter.Int64Counter("workflows_marked_stale_total",
		metric.WithDescription("Workflows failed by the staleness check"))
	return m
}
