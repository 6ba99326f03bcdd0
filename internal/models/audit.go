package models

import (
	"encoding/json"
	"time"
)

// StepKind names the decision step an audit record captures.
type StepKind string

const (
	StepEvidence       StepKind = "evidence"
	StepClassification StepKind = "classification"
	StepDecision       StepKind = "decision"
	StepExecution      StepKind = "execution"
)

// AuditRecord is one append-only entry in the incident's audit trail. Seq is
// assigned by the ledger, never by callers, and forms a gap-free increasing
// sequence starting at 1 per incident id.
type AuditRecord struct {
	IncidentID string          `json:"incident_id"`
	Seq        int64           `json:"sequence_number"`
	Step       StepKind        `json:"step_kind"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}
