// Package ledger provides the append-only audit trail backing every
// remediation decision. Once an append returns success the record is durable;
// per-incident sequence numbers are assigned by the store, atomically with the
// append, and form a gap-free sequence starting at 1.
package ledger

import (
	"context"

	"github.com/oncallstack/triage-engine/internal/models"
)

// Store is the durable key-ordered append + ranged read capability consumed
// by the orchestrator. Appends for different incident ids proceed
// independently; appends for the same incident id are serialized by the
// caller, but implementations must still assign sequence numbers atomically
// so retried appends never produce gaps or duplicates.
type Store interface {
	// Append writes one audit record, assigning the next sequence number for
	// the incident id.
	Append(ctx context.Context, incidentID string, step models.StepKind, payload []byte) (models.AuditRecord, error)
	// Read returns the incident's records with Seq > fromSeq, ordered by
	// sequence number. Pass fromSeq 0 for the full trail; callers resume an
	// interrupted read by passing the last sequence number they saw.
	Read(ctx context.Context, incidentID string, fromSeq int64) ([]models.AuditRecord, error)
	Close() error
}
