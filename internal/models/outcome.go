package models

// CycleState is the terminal state of one remediation cycle.
type CycleState string

const (
	// StateRecorded means the cycle ran to completion and every step was
	// written to the audit ledger.
	StateRecorded CycleState = "recorded"
	// StateErrorRecorded means the cycle aborted on an unrecoverable failure.
	StateErrorRecorded CycleState = "error_recorded"
)

// Outcome summarises one remediation cycle for the caller. Every failure the
// cycle encountered is surfaced here; none are swallowed.
type Outcome struct {
	IncidentID   string        `json:"incident_id"`
	State        CycleState    `json:"state"`
	FailureClass *FailureClass `json:"failure_class,omitempty"`
	Action       *Action       `json:"action,omitempty"`
	Result       *ActionResult `json:"result,omitempty"`
	RetryCount   int           `json:"retry_count"`
	// Failure carries the taxonomy label of the most severe failure seen
	// during the cycle, empty when the cycle was clean.
	Failure string   `json:"failure,omitempty"`
	Notes   []string `json:"notes,omitempty"`
	// NeedsManualReview is set when an action may have executed without a
	// corresponding audit record; the audit store must be inspected by hand.
	NeedsManualReview bool `json:"needs_manual_review,omitempty"`
}
