package sources

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/oncallstack/triage-engine/internal/models"
)

// MockAdapter serves mock mode and tests: evidence is recognised by a "mock"
// marker, fields are parsed from key=value tokens, and re-runs are fabricated.
type MockAdapter struct{}

// NewMockAdapter constructs the mock adapter.
func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

// System identifies the mock platform.
func (a *MockAdapter) System() models.SourceSystem { return models.SourceMock }

// ExtractFields parses key=value tokens out of the evidence.
func (a *MockAdapter) ExtractFields(raw string) (map[string]string, error) {
	if !strings.Contains(strings.ToLower(raw), "mock") {
		return nil, ErrNoMatch
	}

	fields := make(map[string]string)
	for _, token := range strings.Fields(raw) {
		key, value, ok := strings.Cut(token, "=")
		if !ok || value == "" {
			continue
		}
		switch key {
		case models.FieldDAGID, models.FieldTaskID, models.FieldRunID,
			models.FieldJobID, models.FieldQueryID, models.FieldPipeline:
			fields[key] = value
		}
	}
	if len(fields) == 0 {
		return nil, ErrNoMatch
	}
	return fields, nil
}

// TriggerRerun fabricates a confirmation token.
func (a *MockAdapter) TriggerRerun(ctx context.Context, fields map[string]string) (string, error) {
	return "mock-rerun-" + uuid.NewString()[:8], nil
}
