// Package execute dispatches remediation actions to the matching provider.
// Provider failures never cross the executor boundary as errors: every
// execution produces an ActionResult, and the orchestrator decides what a
// failed one means for the incident.
package execute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oncallstack/triage-engine/internal/metrics"
	"github.com/oncallstack/triage-engine/internal/models"
	"github.com/oncallstack/triage-engine/internal/sources"
	"github.com/oncallstack/triage-engine/internal/ticketing"
)

// Executor invokes actions against the external providers with idempotency
// and timeout control.
type Executor struct {
	logger  *slog.Logger
	sources *sources.Registry
	tickets ticketing.Provider
	timeout time.Duration
}

// NewExecutor constructs an Executor. The timeout bounds every provider call.
func NewExecutor(logger *slog.Logger, registry *sources.Registry, tickets ticketing.Provider, timeout time.Duration) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Executor{logger: logger, sources: registry, tickets: tickets, timeout: timeout}
}

// Execute runs exactly one action for the incident. Cancellation is honoured
// only up to this point: once the side-effecting provider call is issued it
// runs to completion (or its timeout) regardless of the caller's context.
func (e *Executor) Execute(ctx context.Context, action models.Action, incident models.Incident) models.ActionResult {
	result := models.ActionResult{
		Action:     action,
		ExecutedAt: time.Now().UTC(),
	}

	if err := ctx.Err(); err != nil {
		result.Status = models.StatusSkipped
		result.Detail = fmt.Sprintf("cancelled before execution: %v", err)
		metrics.ObserveAction(string(action.Kind), string(result.Status))
		return result
	}

	switch action.Kind {
	case models.ActionRetry:
		result = e.executeRetry(ctx, action, incident, result)
	case models.ActionTicket:
		result = e.executeTicket(ctx, action, incident, result)
	case models.ActionEscalate:
		e.logger.Warn("incident escalated to on-call",
			slog.String("incident_id", incident.ID), slog.String("reason", action.Reason))
		metrics.ObserveEscalation()
		result.Status = models.StatusSucceeded
		result.Detail = "escalated to on-call: " + action.Reason
	case models.ActionNoOp:
		result.Status = models.StatusSkipped
		result.Detail = action.Reason
	default:
		result.Status = models.StatusFailed
		result.Detail = fmt.Sprintf("unknown action kind %q", action.Kind)
	}

	metrics.ObserveAction(string(action.Kind), string(result.Status))
	return result
}

func (e *Executor) executeRetry(ctx context.Context, action models.Action, incident models.Incident, result models.ActionResult) models.ActionResult {
	adapter, ok := e.sources.Get(incident.Source)
	if !ok {
		result.Status = models.StatusFailed
		result.Detail = fmt.Sprintf("no adapter for source system %q", incident.Source)
		return result
	}

	fields := make(map[string]string, len(incident.Fields)+1)
	for k, v := range incident.Fields {
		fields[k] = v
	}
	fields["incident_id"] = incident.ID

	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	token, err := adapter.TriggerRerun(callCtx, fields)
	if err != nil {
		result.Status = models.StatusFailed
		result.Detail = fmt.Sprintf("trigger rerun: %v", err)
		return result
	}

	// Fire-and-forget: only the trigger confirmation is recorded, never the
	// re-run's own completion.
	result.Status = models.StatusSucceeded
	result.Detail = "rerun triggered: " + token
	return result
}

func (e *Executor) executeTicket(ctx context.Context, action models.Action, incident models.Incident, result models.ActionResult) models.ActionResult {
	key := ticketing.IdempotencyKey(incident.ID, action.Kind)

	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	ticketID, err := e.tickets.CreateOrGet(callCtx, key, action.Priority, action.Summary)
	if err != nil {
		result.Status = models.StatusFailed
		result.Detail = fmt.Sprintf("create ticket: %v", err)
		return result
	}

	result.Status = models.StatusSucceeded
	result.Detail = "ticket " + ticketID
	return result
}

// callContext detaches the provider call from the caller's cancellation while
// still bounding it with the executor timeout.
func (e *Executor) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
}
