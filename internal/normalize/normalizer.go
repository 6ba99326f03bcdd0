// Package normalize turns raw log and metadata input into structured
// Incident records using the source-system adapters' field extractors.
package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oncallstack/triage-engine/internal/models"
	"github.com/oncallstack/triage-engine/internal/sources"
	"github.com/oncallstack/triage-engine/internal/utils"
)

// Normalizer is a pure transformation: it never assigns incident ids and has
// no side effects. The orchestrator derives the id from the normalized
// incident so duplicate reports collapse.
type Normalizer struct {
	registry *sources.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewNormalizer constructs a Normalizer over the configured adapters.
func NewNormalizer(registry *sources.Registry, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{registry: registry, logger: logger, now: time.Now}
}

// WithClock overrides the first-seen clock; used by tests.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// Normalize builds an Incident from raw input. When hint is empty the
// adapters are probed in registry order; when no extractor claims the input
// and no hint was given, the input is malformed.
func (n *Normalizer) Normalize(raw string, hint models.SourceSystem) (models.Incident, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Incident{}, utils.NewAppError("normalize", "empty evidence", models.ErrMalformedEvidence)
	}

	incident := models.Incident{
		RawEvidence: raw,
		FirstSeenAt: n.now().UTC(),
	}

	if hint != "" {
		if !hint.Valid() {
			return models.Incident{}, utils.NewAppError("normalize",
				fmt.Sprintf("unknown source system %q", hint), models.ErrMalformedEvidence)
		}
		adapter, ok := n.registry.Get(hint)
		if !ok {
			return models.Incident{}, utils.NewAppError("normalize",
				fmt.Sprintf("no adapter for source system %q", hint), models.ErrMalformedEvidence)
		}

		incident.Source = hint
		fields, err := adapter.ExtractFields(raw)
		if err != nil && !errors.Is(err, sources.ErrNoMatch) {
			return models.Incident{}, utils.NewAppError("normalize", "extract fields", err)
		}
		// An explicit hint is authoritative even when extraction finds
		// nothing; the incident just carries no structured fields.
		incident.Fields = fields
		return incident, nil
	}

	for _, adapter := range n.registry.All() {
		fields, err := adapter.ExtractFields(raw)
		if errors.Is(err, sources.ErrNoMatch) {
			continue
		}
		if err != nil {
			return models.Incident{}, utils.NewAppError("normalize", "extract fields", err)
		}
		incident.Source = adapter.System()
		incident.Fields = fields
		return incident, nil
	}

	n.logger.Debug("no extractor claimed evidence", slog.Int("evidence_len", len(raw)))
	return models.Incident{}, utils.NewAppError("normalize",
		"no extractor could determine the source system", models.ErrMalformedEvidence)
}
