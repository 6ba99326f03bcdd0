package models

import "time"

// ActionKind tags the remediation action variants.
type ActionKind string

const (
	ActionRetry    ActionKind = "retry"
	ActionTicket   ActionKind = "ticket"
	ActionEscalate ActionKind = "escalate"
	ActionNoOp     ActionKind = "noop"
)

// Priority levels for created tickets.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Action is the single remediation chosen for one decision cycle. Fields
// beyond Kind are populated per variant: BackoffSeconds for retry, Priority
// and Summary for ticket, Reason for escalate and noop.
type Action struct {
	Kind           ActionKind `json:"kind"`
	BackoffSeconds int        `json:"backoff_seconds,omitempty"`
	Priority       Priority   `json:"priority,omitempty"`
	Summary        string     `json:"summary,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// ActionStatus reports how an execution attempt ended.
type ActionStatus string

const (
	StatusSucceeded ActionStatus = "succeeded"
	StatusFailed    ActionStatus = "failed"
	StatusSkipped   ActionStatus = "skipped"
)

// ActionResult records the outcome of executing an Action.
type ActionResult struct {
	Action     Action       `json:"action"`
	Status     ActionStatus `json:"status"`
	Detail     string       `json:"detail,omitempty"`
	ExecutedAt time.Time    `json:"executed_at"`
}
