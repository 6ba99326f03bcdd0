package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oncallstack/triage-engine/internal/config"
	"github.com/oncallstack/triage-engine/internal/ledger"
	"github.com/oncallstack/triage-engine/internal/models"
	"github.com/oncallstack/triage-engine/internal/utils"
)

type fakeNormalizer struct {
	incident models.Incident
	err      error
}

func (n *fakeNormalizer) Normalize(raw string, hint models.SourceSystem) (models.Incident, error) {
	if n.err != nil {
		return models.Incident{}, n.err
	}
	incident := n.incident
	incident.RawEvidence = raw
	return incident, nil
}

type fakeClassifier struct {
	result models.FailureClass
	err    error
}

func (c *fakeClassifier) Classify(ctx context.Context, incident models.Incident) (models.FailureClass, error) {
	if c.err != nil {
		return models.FailureClass{}, c.err
	}
	return c.result, nil
}

type fakeExecutor struct {
	mu          sync.Mutex
	status      models.ActionStatus
	failRetries bool
	actions     []models.Action
}

func (e *fakeExecutor) Execute(ctx context.Context, action models.Action, incident models.Incident) models.ActionResult {
	e.mu.Lock()
	e.actions = append(e.actions, action)
	e.mu.Unlock()

	status := e.status
	if status == "" {
		status = models.StatusSucceeded
	}
	if e.failRetries && action.Kind == models.ActionRetry {
		status = models.StatusFailed
	}
	return models.ActionResult{Action: action, Status: status, ExecutedAt: time.Now().UTC()}
}

func (e *fakeExecutor) executed() []models.Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Action(nil), e.actions...)
}

// failingStore fails appends once armed; reads pass through.
type failingStore struct {
	ledger.Store
	mu        sync.Mutex
	failAfter int
	appends   int
}

func (s *failingStore) Append(ctx context.Context, incidentID string, step models.StepKind, payload []byte) (models.AuditRecord, error) {
	s.mu.Lock()
	s.appends++
	fail := s.appends > s.failAfter
	s.mu.Unlock()

	if fail {
		return models.AuditRecord{}, errors.New("disk full")
	}
	return s.Store.Append(ctx, incidentID, step, payload)
}

func testIncident() models.Incident {
	return models.Incident{
		Source:      models.SourceAirflow,
		Fields:      map[string]string{models.FieldDAGID: "daily_etl", models.FieldTaskID: "load"},
		FirstSeenAt: time.Date(2026, 3, 14, 9, 26, 0, 0, time.UTC),
	}
}

func testPolicy() config.PolicyConfig {
	return config.PolicyConfig{MaxRetries: 3, BackoffBase: 30 * time.Second, BackoffCap: 15 * time.Minute}
}

func newTestOrchestrator(normalizer Normalizer, classifier Classifier, executor ActionExecutor, store ledger.Store) *Orchestrator {
	return New(nil, normalizer, classifier, executor, store, testPolicy())
}

func TestTransientFailureRetriesAndRecords(t *testing.T) {
	store := ledger.NewMemoryStore()
	executor := &fakeExecutor{}
	o := newTestOrchestrator(
		&fakeNormalizer{incident: testIncident()},
		&fakeClassifier{result: models.FailureClass{Class: models.ClassTransient, Confidence: 0.9}},
		executor,
		store,
	)

	outcome, err := o.HandleIncidentReport(context.Background(), "task timed out", "")
	if err != nil {
		t.Fatalf("HandleIncidentReport: %v", err)
	}

	if outcome.State != models.StateRecorded {
		t.Fatalf("state = %s, want recorded", outcome.State)
	}
	if outcome.Action.Kind != models.ActionRetry {
		t.Errorf("action = %s, want retry", outcome.Action.Kind)
	}
	if outcome.Action.BackoffSeconds != 30 {
		t.Errorf("backoff = %d, want 30", outcome.Action.BackoffSeconds)
	}
	if outcome.Failure != "" {
		t.Errorf("failure = %q, want clean cycle", outcome.Failure)
	}

	records, err := store.Read(context.Background(), outcome.IncidentID, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	wantSteps := []models.StepKind{models.StepEvidence, models.StepClassification, models.StepDecision, models.StepExecution}
	if len(records) != len(wantSteps) {
		t.Fatalf("expected %d audit records, got %d", len(wantSteps), len(records))
	}
	for i, step := range wantSteps {
		if records[i].Step != step {
			t.Errorf("record %d step = %s, want %s", i, records[i].Step, step)
		}
		if records[i].Seq != int64(i+1) {
			t.Errorf("record %d seq = %d, want %d", i, records[i].Seq, i+1)
		}
	}
}

func TestRetryBudgetExhaustionEscalatesToHighTicket(t *testing.T) {
	store := ledger.NewMemoryStore()
	executor := &fakeExecutor{}
	o := newTestOrchestrator(
		&fakeNormalizer{incident: testIncident()},
		&fakeClassifier{result: models.FailureClass{Class: models.ClassTransient, Confidence: 0.9}},
		executor,
		store,
	)
	ctx := context.Background()

	var last models.Outcome
	for cycle := 0; cycle < 4; cycle++ {
		outcome, err := o.HandleIncidentReport(ctx, "task timed out again", "")
		if err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
		last = outcome
	}

	actions := executor.executed()
	for i := 0; i < 3; i++ {
		if actions[i].Kind != models.ActionRetry {
			t.Errorf("cycle %d action = %s, want retry", i, actions[i].Kind)
		}
	}
	if last.Action.Kind != models.ActionTicket {
		t.Fatalf("final action = %s, want ticket after budget exhaustion", last.Action.Kind)
	}
	if last.Action.Priority != models.PriorityHigh {
		t.Errorf("final priority = %s, want high", last.Action.Priority)
	}
	if last.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", last.RetryCount)
	}

	// Backoff doubles per prior retry.
	if actions[0].BackoffSeconds != 30 || actions[1].BackoffSeconds != 60 || actions[2].BackoffSeconds != 120 {
		t.Errorf("backoffs = %d, %d, %d; want 30, 60, 120",
			actions[0].BackoffSeconds, actions[1].BackoffSeconds, actions[2].BackoffSeconds)
	}
}

func TestFailedRetryTriggersStillBurnBudget(t *testing.T) {
	store := ledger.NewMemoryStore()
	executor := &fakeExecutor{failRetries: true}
	o := newTestOrchestrator(
		&fakeNormalizer{incident: testIncident()},
		&fakeClassifier{result: models.FailureClass{Class: models.ClassTransient, Confidence: 0.9}},
		executor,
		store,
	)
	ctx := context.Background()

	// The rerun trigger fails on every attempt, so cycles alternate between a
	// retry attempt and the forced escalation that follows a failed execution.
	// The budget counts the attempts regardless, so the high-priority ticket
	// must still arrive.
	for cycle := 0; cycle < 10; cycle++ {
		if _, err := o.HandleIncidentReport(ctx, "task timed out", ""); err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
	}

	retries := 0
	highTickets := 0
	sawTicket := false
	for _, action := range executor.executed() {
		switch action.Kind {
		case models.ActionRetry:
			if sawTicket {
				t.Fatal("retry decided after the budget was exhausted")
			}
			retries++
		case models.ActionTicket:
			sawTicket = true
			if action.Priority == models.PriorityHigh {
				highTickets++
			}
		}
	}
	if retries != 3 {
		t.Errorf("retry attempts = %d, want exactly 3", retries)
	}
	if highTickets == 0 {
		t.Error("expected a high-priority ticket once the budget was exhausted")
	}
}

func TestClassifierOutageTreatedAsUnknown(t *testing.T) {
	store := ledger.NewMemoryStore()
	executor := &fakeExecutor{}
	o := newTestOrchestrator(
		&fakeNormalizer{incident: testIncident()},
		&fakeClassifier{err: utils.NewAppError("classify", "provider unreachable after retry",
			fmt.Errorf("%w: connection refused", models.ErrClassificationUnavailable))},
		executor,
		store,
	)

	outcome, err := o.HandleIncidentReport(context.Background(), "garbled", "")
	if err != nil {
		t.Fatalf("HandleIncidentReport: %v", err)
	}

	if outcome.State != models.StateRecorded {
		t.Fatalf("state = %s, want recorded despite outage", outcome.State)
	}
	if outcome.FailureClass.Class != models.ClassUnknown {
		t.Errorf("class = %s, want unknown", outcome.FailureClass.Class)
	}
	if outcome.Action.Kind != models.ActionEscalate {
		t.Errorf("action = %s, want escalate for unknown class", outcome.Action.Kind)
	}
	if outcome.Failure != models.FailureClassificationUnavailable {
		t.Errorf("failure = %q, want classification_unavailable", outcome.Failure)
	}
}

func TestFailedExecutionEscalatesNextCycle(t *testing.T) {
	store := ledger.NewMemoryStore()
	executor := &fakeExecutor{status: models.StatusFailed}
	classifier := &fakeClassifier{result: models.FailureClass{Class: models.ClassTransient, Confidence: 0.9}}
	o := newTestOrchestrator(&fakeNormalizer{incident: testIncident()}, classifier, executor, store)
	ctx := context.Background()

	first, err := o.HandleIncidentReport(ctx, "timeout", "")
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if first.State != models.StateRecorded {
		t.Fatalf("state = %s, want recorded even when execution failed", first.State)
	}
	if first.Failure != models.FailureExecutionFailed {
		t.Errorf("failure = %q, want execution_failed", first.Failure)
	}

	executor.status = models.StatusSucceeded
	second, err := o.HandleIncidentReport(ctx, "timeout", "")
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if second.Action.Kind != models.ActionEscalate {
		t.Fatalf("second action = %s, want escalate after failed execution", second.Action.Kind)
	}
	if second.Action.Reason != "previous remediation attempt failed" {
		t.Errorf("reason = %q", second.Action.Reason)
	}
}

func TestMalformedEvidenceReturnsError(t *testing.T) {
	o := newTestOrchestrator(
		&fakeNormalizer{err: utils.NewAppError("normalize", "empty evidence", models.ErrMalformedEvidence)},
		&fakeClassifier{},
		&fakeExecutor{},
		ledger.NewMemoryStore(),
	)

	outcome, err := o.HandleIncidentReport(context.Background(), "", "")
	if !errors.Is(err, models.ErrMalformedEvidence) {
		t.Fatalf("expected ErrMalformedEvidence, got %v", err)
	}
	if outcome.State != models.StateErrorRecorded {
		t.Errorf("state = %s, want error_recorded", outcome.State)
	}
	if outcome.Failure != models.FailureMalformedEvidence {
		t.Errorf("failure = %q, want malformed_evidence", outcome.Failure)
	}
}

func TestAuditAppendFailureAbortsBeforeExecution(t *testing.T) {
	store := &failingStore{Store: ledger.NewMemoryStore(), failAfter: 0}
	executor := &fakeExecutor{}
	o := newTestOrchestrator(
		&fakeNormalizer{incident: testIncident()},
		&fakeClassifier{result: models.FailureClass{Class: models.ClassTransient, Confidence: 0.9}},
		executor,
		store,
	)

	outcome, err := o.HandleIncidentReport(context.Background(), "timeout", "")
	if !errors.Is(err, models.ErrAuditWriteFailed) {
		t.Fatalf("expected ErrAuditWriteFailed, got %v", err)
	}
	if outcome.State != models.StateErrorRecorded {
		t.Errorf("state = %s, want error_recorded", outcome.State)
	}
	if len(executor.executed()) != 0 {
		t.Error("no action may execute when the evidence append failed")
	}
}

func TestAuditAppendFailureAfterExecutionFlagsReview(t *testing.T) {
	// Evidence, classification, and decision appends succeed; the execution
	// append fails.
	store := &failingStore{Store: ledger.NewMemoryStore(), failAfter: 3}
	executor := &fakeExecutor{}
	o := newTestOrchestrator(
		&fakeNormalizer{incident: testIncident()},
		&fakeClassifier{result: models.FailureClass{Class: models.ClassTransient, Confidence: 0.9}},
		executor,
		store,
	)

	outcome, err := o.HandleIncidentReport(context.Background(), "timeout", "")
	if !errors.Is(err, models.ErrAuditWriteFailed) {
		t.Fatalf("expected ErrAuditWriteFailed, got %v", err)
	}
	if !outcome.NeedsManualReview {
		t.Error("expected manual review flag when the action ran unrecorded")
	}
	if len(executor.executed()) != 1 {
		t.Errorf("expected exactly one executed action, got %d", len(executor.executed()))
	}
}

func TestConcurrentReportsForSameIncidentSerialize(t *testing.T) {
	store := ledger.NewMemoryStore()
	executor := &fakeExecutor{}
	o := newTestOrchestrator(
		&fakeNormalizer{incident: testIncident()},
		&fakeClassifier{result: models.FailureClass{Class: models.ClassPermanent, Confidence: 0.9}},
		executor,
		store,
	)
	ctx := context.Background()

	const reports = 8
	var wg sync.WaitGroup
	var incidentID string
	var mu sync.Mutex
	for i := 0; i < reports; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := o.HandleIncidentReport(ctx, "schema mismatch", "")
			if err != nil {
				t.Errorf("HandleIncidentReport: %v", err)
				return
			}
			mu.Lock()
			incidentID = outcome.IncidentID
			mu.Unlock()
		}()
	}
	wg.Wait()

	records, err := store.Read(ctx, incidentID, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(records) != reports*4 {
		t.Fatalf("expected %d records, got %d", reports*4, len(records))
	}
	// Serialized cycles keep the step pattern intact per cycle.
	wantSteps := []models.StepKind{models.StepEvidence, models.StepClassification, models.StepDecision, models.StepExecution}
	for i, record := range records {
		if record.Seq != int64(i+1) {
			t.Fatalf("gap at position %d: seq %d", i, record.Seq)
		}
		if record.Step != wantSteps[i%4] {
			t.Fatalf("record %d step = %s, want %s", i, record.Step, wantSteps[i%4])
		}
	}
}

func TestHistoryResumesFromSequence(t *testing.T) {
	store := ledger.NewMemoryStore()
	o := newTestOrchestrator(
		&fakeNormalizer{incident: testIncident()},
		&fakeClassifier{result: models.FailureClass{Class: models.ClassTransient, Confidence: 0.9}},
		&fakeExecutor{},
		store,
	)
	ctx := context.Background()

	outcome, err := o.HandleIncidentReport(ctx, "timeout", "")
	if err != nil {
		t.Fatalf("HandleIncidentReport: %v", err)
	}

	tail, err := o.History(ctx, outcome.IncidentID, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("expected 2 records after seq 2, got %d", len(tail))
	}
	if tail[0].Step != models.StepDecision {
		t.Errorf("first resumed step = %s, want decision", tail[0].Step)
	}

	var action models.Action
	if err := json.Unmarshal(tail[0].Payload, &action); err != nil {
		t.Fatalf("decode decision payload: %v", err)
	}
	if action.Kind != models.ActionRetry {
		t.Errorf("decision payload kind = %s, want retry", action.Kind)
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	km := newKeyedMutex()

	release := km.lock("inc-1")
	if len(km.locks) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(km.locks))
	}
	release()
	if len(km.locks) != 0 {
		t.Fatalf("expected entry removed after release, got %d", len(km.locks))
	}
}
