// Package orchestrator sequences one remediation cycle end-to-end:
// normalize, classify, decide, execute, with every transition written to the
// audit ledger before the cycle advances.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oncallstack/triage-engine/internal/config"
	"github.com/oncallstack/triage-engine/internal/ledger"
	"github.com/oncallstack/triage-engine/internal/metrics"
	"github.com/oncallstack/triage-engine/internal/models"
	"github.com/oncallstack/triage-engine/internal/policy"
	"github.com/oncallstack/triage-engine/internal/utils"
)

// Normalizer turns raw input into an Incident.
type Normalizer interface {
	Normalize(raw string, hint models.SourceSystem) (models.Incident, error)
}

// Classifier maps an Incident to a FailureClass.
type Classifier interface {
	Classify(ctx context.Context, incident models.Incident) (models.FailureClass, error)
}

// ActionExecutor runs exactly one action and reports the result.
type ActionExecutor interface {
	Execute(ctx context.Context, action models.Action, incident models.Incident) models.ActionResult
}

// Orchestrator drives the per-incident state machine
// Received -> Classified -> Decided -> Executed -> Recorded, absorbing into
// ErrorRecorded when a ledger write fails. Distinct incidents proceed in
// parallel; cycles for the same incident id are serialized.
type Orchestrator struct {
	logger     *slog.Logger
	normalizer Normalizer
	classifier Classifier
	executor   ActionExecutor
	store      ledger.Store
	policyCfg  config.PolicyConfig
	locks      *keyedMutex
	latencies  *utils.LatencyTracker
}

// New constructs an Orchestrator. The ledger store handle is owned by the
// caller and injected here; the orchestrator never opens connections itself.
func New(
	logger *slog.Logger,
	normalizer Normalizer,
	classifier Classifier,
	executor ActionExecutor,
	store ledger.Store,
	policyCfg config.PolicyConfig,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger:     logger,
		normalizer: normalizer,
		classifier: classifier,
		executor:   executor,
		store:      store,
		policyCfg:  policyCfg,
		locks:      newKeyedMutex(),
		latencies:  utils.NewLatencyTracker(1024),
	}
}

// HandleIncidentReport runs one remediation cycle for the reported failure.
// It is the single entry point regardless of whether the report arrived via
// HTTP callback, CLI, or a test harness. The returned error is non-nil only
// for failures the caller must act on (malformed input, audit store trouble);
// classification and execution failures complete the cycle and are surfaced
// in the Outcome.
func (o *Orchestrator) HandleIncidentReport(ctx context.Context, raw string, hint models.SourceSystem) (models.Outcome, error) {
	start := time.Now()

	incident, err := o.normalizer.Normalize(raw, hint)
	if err != nil {
		metrics.ObserveCycle(time.Since(start), metrics.OutcomeError)
		return models.Outcome{
			State:   models.StateErrorRecorded,
			Failure: models.FailureLabel(err),
		}, err
	}

	incident.ID = models.DeriveIncidentID(incident.Source, incident.CorrelationKey(), incident.FirstSeenAt)

	// Duplicate reports of the same failure (e.g. repeated Airflow callbacks)
	// must not race past each other and double-execute an action.
	unlock := o.locks.lock(incident.ID)
	defer unlock()

	outcome, err := o.runCycle(ctx, incident)

	duration := time.Since(start)
	o.latencies.Observe(duration)
	if outcome.State == models.StateErrorRecorded {
		metrics.ObserveCycle(duration, metrics.OutcomeError)
	} else {
		metrics.ObserveCycle(duration, metrics.OutcomeSuccess)
	}
	if count := o.latencies.Count(); count >= 20 && count%20 == 0 {
		o.logger.Info("cycle latency",
			slog.Duration("p95", o.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return outcome, err
}

func (o *Orchestrator) runCycle(ctx context.Context, incident models.Incident) (models.Outcome, error) {
	outcome := models.Outcome{IncidentID: incident.ID}

	history, err := o.store.Read(ctx, incident.ID, 0)
	if err != nil {
		outcome.State = models.StateErrorRecorded
		outcome.Failure = models.FailureAuditWriteFailed
		outcome.Notes = append(outcome.Notes, "audit store unreachable; manual review required")
		outcome.NeedsManualReview = true
		return outcome, utils.NewAppError("orchestrate", "read audit trail",
			fmt.Errorf("%w: %v", models.ErrAuditWriteFailed, err))
	}

	incident.RetryCount = countRetryAttempts(history)
	previousFailed := lastExecutionFailed(history)
	outcome.RetryCount = incident.RetryCount

	// Received: the evidence is on the ledger before anything else happens.
	if _, err := o.append(ctx, incident.ID, models.StepEvidence, incident); err != nil {
		return o.abortOnAuditFailure(outcome, false, err)
	}

	// Classified.
	fc, err := o.classifier.Classify(ctx, incident)
	if err != nil {
		if !errors.Is(err, models.ErrClassificationUnavailable) {
			o.logger.Error("unexpected classifier error", slog.Any("error", err))
		}
		fc = models.FailureClass{
			Class:      models.ClassUnknown,
			Confidence: 0,
			Rationale:  "reasoning provider unavailable",
		}
		outcome.Failure = models.FailureClassificationUnavailable
		outcome.Notes = append(outcome.Notes, "classification unavailable; treated as unknown")
	}
	metrics.ObserveClassification(string(fc.Class))
	if _, err := o.append(ctx, incident.ID, models.StepClassification, fc); err != nil {
		return o.abortOnAuditFailure(outcome, false, err)
	}
	outcome.FailureClass = &fc

	// Decided. A failed execution on a previous cycle forces escalation
	// rather than an inline re-attempt of the same side effect.
	var action models.Action
	if previousFailed {
		action = models.Action{
			Kind:   models.ActionEscalate,
			Reason: "previous remediation attempt failed",
		}
	} else {
		action = policy.Decide(fc, incident, o.policyCfg)
	}
	if _, err := o.append(ctx, incident.ID, models.StepDecision, action); err != nil {
		return o.abortOnAuditFailure(outcome, false, err)
	}
	outcome.Action = &action

	// Executed.
	result := o.executor.Execute(ctx, action, incident)
	if _, err := o.append(ctx, incident.ID, models.StepExecution, result); err != nil {
		// The action already ran; an unrecorded side effect is the worst
		// failure mode, so the outcome demands a manual audit review.
		outcome.Result = &result
		return o.abortOnAuditFailure(outcome, true, err)
	}
	outcome.Result = &result

	if result.Status == models.StatusFailed {
		outcome.Failure = models.FailureExecutionFailed
	}
	outcome.State = models.StateRecorded

	o.logger.Info("remediation cycle recorded",
		slog.String("incident_id", incident.ID),
		slog.String("class", string(fc.Class)),
		slog.String("action", string(action.Kind)),
		slog.String("status", string(result.Status)))

	return outcome, nil
}

// History exposes the incident's audit trail, resumable from a sequence
// number.
func (o *Orchestrator) History(ctx context.Context, incidentID string, fromSeq int64) ([]models.AuditRecord, error) {
	return o.store.Read(ctx, incidentID, fromSeq)
}

// LatencyP95 returns the current p95 cycle latency.
func (o *Orchestrator) LatencyP95() time.Duration {
	return o.latencies.Percentile(95)
}

func (o *Orchestrator) append(ctx context.Context, incidentID string, step models.StepKind, payload interface{}) (models.AuditRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.AuditRecord{}, err
	}
	return o.store.Append(ctx, incidentID, step, data)
}

func (o *Orchestrator) abortOnAuditFailure(outcome models.Outcome, executed bool, err error) (models.Outcome, error) {
	metrics.ObserveLedgerAppendFailure()
	o.logger.Error("audit append failed; aborting cycle", slog.String("incident_id", outcome.IncidentID), slog.Any("error", err))

	outcome.State = models.StateErrorRecorded
	outcome.Failure = models.FailureAuditWriteFailed
	outcome.NeedsManualReview = true
	if executed {
		outcome.Notes = append(outcome.Notes, "action executed but not recorded; review the audit store")
	} else {
		outcome.Notes = append(outcome.Notes, "cycle aborted before execution; no action taken")
	}
	return outcome, utils.NewAppError("orchestrate", "audit append failed",
		fmt.Errorf("%w: %v", models.ErrAuditWriteFailed, err))
}

// countRetryAttempts counts every retry execution on the incident's trail,
// failed triggers included. A rerun trigger that keeps failing still burns the
// budget; only skipped executions (nothing was issued) are free.
func countRetryAttempts(history []models.AuditRecord) int {
	count := 0
	for _, record := range history {
		if record.Step != models.StepExecution {
			continue
		}
		var result models.ActionResult
		if err := json.Unmarshal(record.Payload, &result); err != nil {
			continue
		}
		if result.Action.Kind == models.ActionRetry && result.Status != models.StatusSkipped {
			count++
		}
	}
	return count
}

func lastExecutionFailed(history []models.AuditRecord) bool {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Step != models.StepExecution {
			continue
		}
		var result models.ActionResult
		if err := json.Unmarshal(history[i].Payload, &result); err != nil {
			return false
		}
		return result.Status == models.StatusFailed
	}
	return false
}
