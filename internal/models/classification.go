package models

// Class buckets a failure by whether remediation can be automated.
type Class string

const (
	// ClassTransient failures are expected to self-resolve on retry.
	ClassTransient Class = "transient"
	// ClassPermanent failures need a human or code change.
	ClassPermanent Class = "permanent"
	// ClassUnknown is used when the reasoner cannot tell, or its confidence
	// fell below the configured floor.
	ClassUnknown Class = "unknown"
)

// FailureClass is the output of one classification attempt. Never mutated; a
// re-classification produces a new record linked to the same incident.
type FailureClass struct {
	Class      Class   `json:"class"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}
