package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/oncallstack/triage-engine/internal/models"
)

// MemoryStore is the in-process Store used in mock mode and tests. Records do
// not survive process restart; everything else honours the Store contract.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]models.AuditRecord
}

// NewMemoryStore constructs an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]models.AuditRecord)}
}

// Append assigns the next sequence number for the incident and stores the record.
func (s *MemoryStore) Append(ctx context.Context, incidentID string, step models.StepKind, payload []byte) (models.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.AuditRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := models.AuditRecord{
		IncidentID: incidentID,
		Seq:        int64(len(s.records[incidentID])) + 1,
		Step:       step,
		Payload:    append([]byte(nil), payload...),
		Timestamp:  time.Now().UTC(),
	}
	s.records[incidentID] = append(s.records[incidentID], record)
	return record, nil
}

// Read returns records with Seq > fromSeq in sequence order.
func (s *MemoryStore) Read(ctx context.Context, incidentID string, fromSeq int64) ([]models.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.records[incidentID]
	out := make([]models.AuditRecord, 0, len(all))
	for _, r := range all {
		if r.Seq > fromSeq {
			out = append(out, r)
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
