// Package ticketing implements the ticketing provider capability: idempotent
// create-or-return-existing ticket creation keyed by a deterministic key.
package ticketing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/oncallstack/triage-engine/internal/config"
	"github.com/oncallstack/triage-engine/internal/models"
)

// Provider is the capability contract consumed by the action executor.
// CreateOrGet must return the existing ticket id when one was already created
// under the same key, so a retried execution never duplicates a ticket.
type Provider interface {
	CreateOrGet(ctx context.Context, key string, priority models.Priority, summary string) (string, error)
}

// NewProvider selects the ticketing provider named by configuration. The db
// handle is required only for the postgres provider.
func NewProvider(cfg config.TicketingConfig, db *sqlx.DB) (Provider, error) {
	switch cfg.Provider {
	case "", "memory":
		return NewMemoryProvider(cfg.Queue), nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("postgres ticketing requires a ledger database handle")
		}
		return NewPostgresProvider(db, cfg.Queue), nil
	case "http":
		return NewHTTPProvider(cfg.Endpoint, cfg.APIKey, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown ticketing provider %q", cfg.Provider)
}

// IdempotencyKey derives the deterministic ticket key for an incident and
// action kind. Executions retried after a crash between decision and audit
// commit reuse the key and land on the same ticket.
func IdempotencyKey(incidentID string, kind models.ActionKind) string {
	sum := sha256.Sum256([]byte(incidentID + "|" + string(kind)))
	return "tk-" + hex.EncodeToString(sum[:8])
}
