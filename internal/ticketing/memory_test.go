package ticketing

import (
	"context"
	"strings"
	"testing"

	"github.com/oncallstack/triage-engine/internal/models"
)

func TestMemoryProviderCreateOrGet(t *testing.T) {
	p := NewMemoryProvider("DE_ONCALL")
	ctx := context.Background()

	first, err := p.CreateOrGet(ctx, "tk-abc", models.PriorityHigh, "[airflow] transient failure in daily_etl")
	if err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	if !strings.HasPrefix(first, "TICKET-") {
		t.Errorf("ticket id = %q, want TICKET- prefix", first)
	}

	second, err := p.CreateOrGet(ctx, "tk-abc", models.PriorityHigh, "[airflow] transient failure in daily_etl")
	if err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	if first != second {
		t.Errorf("same key produced different tickets: %s vs %s", first, second)
	}
	if p.Creates() != 1 {
		t.Errorf("creates = %d, want 1", p.Creates())
	}

	other, err := p.CreateOrGet(ctx, "tk-def", models.PriorityNormal, "another")
	if err != nil {
		t.Fatalf("CreateOrGet: %v", err)
	}
	if other == first {
		t.Error("distinct keys must produce distinct tickets")
	}
}

func TestIdempotencyKeyDeterministic(t *testing.T) {
	a := IdempotencyKey("inc-1", models.ActionTicket)
	b := IdempotencyKey("inc-1", models.ActionTicket)
	if a != b {
		t.Fatalf("keys differ for identical input: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "tk-") {
		t.Errorf("key = %q, want tk- prefix", a)
	}

	if IdempotencyKey("inc-2", models.ActionTicket) == a {
		t.Error("different incidents must derive different keys")
	}
	if IdempotencyKey("inc-1", models.ActionEscalate) == a {
		t.Error("different action kinds must derive different keys")
	}
}

func TestNewProviderSelection(t *testing.T) {
	if _, err := NewProvider(configFor("memory"), nil); err != nil {
		t.Errorf("memory provider: %v", err)
	}
	if _, err := NewProvider(configFor("http"), nil); err != nil {
		t.Errorf("http provider: %v", err)
	}
	if _, err := NewProvider(configFor("postgres"), nil); err == nil {
		t.Error("postgres provider without db handle must fail")
	}
	if _, err := NewProvider(configFor("carrier-pigeon"), nil); err == nil {
		t.Error("expected error for unknown provider")
	}
}
