package models

import "errors"

// Failure taxonomy. These sentinels are matched with errors.Is across
// component boundaries and mapped to Outcome.Failure labels.
var (
	// ErrMalformedEvidence marks input no extractor could claim. Never
	// retried; returned to the caller.
	ErrMalformedEvidence = errors.New("malformed evidence")
	// ErrClassificationUnavailable marks a reasoning provider outage after
	// its bounded retry. Treated as an unknown classification, never a crash.
	ErrClassificationUnavailable = errors.New("classification unavailable")
	// ErrExecutionFailed marks a provider-side action failure. Recorded, and
	// escalated on the incident's next cycle rather than retried inline.
	ErrExecutionFailed = errors.New("execution failed")
	// ErrAuditWriteFailed marks a ledger append failure. Fatal for the cycle.
	ErrAuditWriteFailed = errors.New("audit write failed")
	// ErrRerunUnsupported is returned by source adapters that cannot trigger
	// a re-run (e.g. Snowflake queries).
	ErrRerunUnsupported = errors.New("rerun not supported by source system")
)

// Failure outcome labels.
const (
	FailureMalformedEvidence         = "malformed_evidence"
	FailureClassificationUnavailable = "classification_unavailable"
	FailureExecutionFailed           = "execution_failed"
	FailureAuditWriteFailed          = "audit_write_failed"
)

// FailureLabel maps a taxonomy error to its outcome label, or "" when the
// error is outside the taxonomy.
func FailureLabel(err error) string {
	switch {
	case errors.Is(err, ErrMalformedEvidence):
		return FailureMalformedEvidence
	case errors.Is(err, ErrClassificationUnavailable):
		return FailureClassificationUnavailable
	case errors.Is(err, ErrExecutionFailed):
		return FailureExecutionFailed
	case errors.Is(err, ErrAuditWriteFailed):
		return FailureAuditWriteFailed
	}
	return ""
}
