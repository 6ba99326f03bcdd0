// Package sources implements the source-system adapters: field extraction
// from raw failure evidence and re-run triggering against the owning
// platform's API.
package sources

import (
	"context"
	"errors"
	"regexp"

	"github.com/oncallstack/triage-engine/internal/config"
	"github.com/oncallstack/triage-engine/internal/models"
)

// ErrNoMatch is returned by ExtractFields when the evidence does not look
// like it came from the adapter's platform.
var ErrNoMatch = errors.New("evidence does not match source system")

// Adapter is the capability contract for one pipeline platform.
type Adapter interface {
	// System identifies the platform this adapter serves.
	System() models.SourceSystem
	// ExtractFields parses structured fields out of raw evidence. Returns
	// ErrNoMatch when the evidence is not recognisably from this platform.
	ExtractFields(raw string) (map[string]string, error)
	// TriggerRerun fires a re-run of the failed pipeline and returns a
	// confirmation token. It does not wait for the re-run to complete.
	TriggerRerun(ctx context.Context, fields map[string]string) (string, error)
}

// Registry holds the configured adapters keyed by source system.
type Registry struct {
	adapters map[models.SourceSystem]Adapter
	order    []models.SourceSystem
}

// NewRegistry constructs the adapter set from configuration. Probe order is
// fixed: airflow, databricks, snowflake, mock.
func NewRegistry(cfg config.SourcesConfig) *Registry {
	r := &Registry{adapters: make(map[models.SourceSystem]Adapter)}
	r.add(NewAirflowAdapter(cfg.Airflow))
	r.add(NewDatabricksAdapter(cfg.Databricks))
	r.add(NewSnowflakeAdapter(cfg.Snowflake))
	r.add(NewMockAdapter())
	return r
}

// NewRegistryOf builds a registry from explicit adapters; used by tests.
func NewRegistryOf(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.SourceSystem]Adapter)}
	for _, a := range adapters {
		r.add(a)
	}
	return r
}

func (r *Registry) add(a Adapter) {
	r.adapters[a.System()] = a
	r.order = append(r.order, a.System())
}

// Get returns the adapter for a source system.
func (r *Registry) Get(system models.SourceSystem) (Adapter, bool) {
	a, ok := r.adapters[system]
	return a, ok
}

// All returns the adapters in probe order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, system := range r.order {
		out = append(out, r.adapters[system])
	}
	return out
}

// firstMatch returns the first capture group of the first pattern matching raw.
func firstMatch(raw string, patterns ...*regexp.Regexp) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(raw); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}
	return ""
}
