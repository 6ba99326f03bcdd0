package ticketing

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/oncallstack/triage-engine/internal/models"
)

// MemoryProvider is the in-process ticketing system used in mock mode and
// tests.
type MemoryProvider struct {
	mu      sync.Mutex
	queue   string
	tickets map[string]string
	creates int
}

// NewMemoryProvider constructs an empty in-memory ticket store.
func NewMemoryProvider(queue string) *MemoryProvider {
	return &MemoryProvider{queue: queue, tickets: make(map[string]string)}
}

// CreateOrGet returns the existing ticket id for the key, creating one on
// first use.
func (p *MemoryProvider) CreateOrGet(ctx context.Context, key string, priority models.Priority, summary string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.tickets[key]; ok {
		return id, nil
	}
	id := newTicketID()
	p.tickets[key] = id
	p.creates++
	return id, nil
}

// Creates reports how many tickets were actually created; used by tests to
// assert idempotence.
func (p *MemoryProvider) Creates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates
}

func newTicketID() string {
	return "TICKET-" + strings.ToUpper(uuid.NewString()[:8])
}
