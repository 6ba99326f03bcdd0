package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/oncallstack/triage-engine/internal/models"
)

// Failure signatures observed across Airflow, Databricks, and Snowflake
// incidents. Transient ones are expected to self-resolve on retry; permanent
// ones will not resolve without a human or code change.
var (
	transientSignatures = []string{
		"timeout",
		"timed out",
		"rate limit",
		"too many requests",
		"connection reset",
		"connection refused",
		"cluster unavailable",
		"temporarily unavailable",
		"service unavailable",
		"resource contention",
		"deadlock",
		"throttl",
	}

	permanentSignatures = []string{
		"syntax error",
		"compilation error",
		"schema mismatch",
		"does not exist",
		"not found",
		"no such file",
		"permission denied",
		"access denied",
		"data quality",
		"invalid identifier",
		"module not found",
	}
)

// RuleReasoner is the rule-based fallback provider: it matches evidence
// against known failure signatures and derives confidence from the strength
// of the match.
type RuleReasoner struct{}

// NewRuleReasoner constructs the rule-based provider.
func NewRuleReasoner() *RuleReasoner { return &RuleReasoner{} }

// Infer classifies by signature matching. It never fails.
func (r *RuleReasoner) Infer(ctx context.Context, evidence string, fields map[string]string) (models.FailureClass, error) {
	if err := ctx.Err(); err != nil {
		return models.FailureClass{}, err
	}

	lowered := strings.ToLower(evidence)
	transient := matchedSignatures(lowered, transientSignatures)
	permanent := matchedSignatures(lowered, permanentSignatures)

	switch {
	case len(transient) > 0 && len(permanent) == 0:
		return models.FailureClass{
			Class:      models.ClassTransient,
			Confidence: signatureConfidence(len(transient)),
			Rationale:  fmt.Sprintf("matched transient signatures: %s", strings.Join(transient, ", ")),
		}, nil
	case len(permanent) > 0 && len(transient) == 0:
		return models.FailureClass{
			Class:      models.ClassPermanent,
			Confidence: signatureConfidence(len(permanent)),
			Rationale:  fmt.Sprintf("matched permanent signatures: %s", strings.Join(permanent, ", ")),
		}, nil
	case len(transient) > 0 && len(permanent) > 0:
		class := models.ClassTransient
		if len(permanent) > len(transient) {
			class = models.ClassPermanent
		}
		return models.FailureClass{
			Class:      class,
			Confidence: 0.5,
			Rationale: fmt.Sprintf("ambiguous signatures (transient: %s; permanent: %s)",
				strings.Join(transient, ", "), strings.Join(permanent, ", ")),
		}, nil
	}

	return models.FailureClass{
		Class:      models.ClassUnknown,
		Confidence: 0.2,
		Rationale:  "no known failure signature matched",
	}, nil
}

func matchedSignatures(lowered string, signatures []string) []string {
	var matched []string
	for _, sig := range signatures {
		if strings.Contains(lowered, sig) {
			matched = append(matched, sig)
		}
	}
	return matched
}

func signatureConfidence(matches int) float64 {
	confidence := 0.7 + 0.1*float64(matches-1)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence
}
