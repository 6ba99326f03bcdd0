// Package policy holds the remediation decision table. Decide is a pure
// function over domain values; it never touches a provider.
package policy

import (
	"fmt"
	"time"

	"github.com/oncallstack/triage-engine/internal/config"
	"github.com/oncallstack/triage-engine/internal/models"
)

// Decide maps a failure class and incident context to exactly one action.
// Rules are evaluated in order, first match wins:
//
//  1. retry budget exhausted       -> high-priority ticket
//  2. transient                    -> retry with exponential backoff
//  3. permanent                    -> normal-priority ticket
//  4. unknown                      -> escalate
//
// Exhausted retries outrank the classification: retrying a possibly-transient
// failure past the bound risks masking a real outage.
func Decide(fc models.FailureClass, incident models.Incident, cfg config.PolicyConfig) models.Action {
	if incident.RetryCount >= cfg.MaxRetries {
		return models.Action{
			Kind:     models.ActionTicket,
			Priority: models.PriorityHigh,
			Summary:  TicketSummary(incident, fc),
		}
	}

	switch fc.Class {
	case models.ClassTransient:
		return models.Action{
			Kind:           models.ActionRetry,
			BackoffSeconds: int(Backoff(cfg, incident.RetryCount).Seconds()),
		}
	case models.ClassPermanent:
		return models.Action{
			Kind:     models.ActionTicket,
			Priority: models.PriorityNormal,
			Summary:  TicketSummary(incident, fc),
		}
	}

	return models.Action{
		Kind:   models.ActionEscalate,
		Reason: "classification uncertain",
	}
}

// Backoff computes the delay before the n-th retry: base doubled per prior
// retry, capped.
func Backoff(cfg config.PolicyConfig, retryCount int) time.Duration {
	base := cfg.BackoffBase
	if base <= 0 {
		base = 30 * time.Second
	}

	backoff := base
	for i := 0; i < retryCount; i++ {
		backoff *= 2
		if cfg.BackoffCap > 0 && backoff >= cfg.BackoffCap {
			return cfg.BackoffCap
		}
	}
	if cfg.BackoffCap > 0 && backoff > cfg.BackoffCap {
		backoff = cfg.BackoffCap
	}
	return backoff
}

// TicketSummary renders the ticket title convention:
// [<System>] <failure class> in <pipeline>.
func TicketSummary(incident models.Incident, fc models.FailureClass) string {
	class := fc.Class
	if class == "" {
		class = models.ClassUnknown
	}
	return fmt.Sprintf("[%s] %s failure in %s", incident.Source, class, incident.PipelineName())
}
