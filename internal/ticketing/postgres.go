package ticketing

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/oncallstack/triage-engine/internal/models"
)

// PostgresProvider persists tickets in the shared engine database; used when
// no external ticketing system is wired up but tickets must survive restarts.
type PostgresProvider struct {
	db    *sqlx.DB
	queue string
}

// NewPostgresProvider constructs a provider over an existing database handle.
func NewPostgresProvider(db *sqlx.DB, queue string) *PostgresProvider {
	return &PostgresProvider{db: db, queue: queue}
}

// CreateOrGet inserts the ticket under its key, returning the already-stored
// id when the key exists. The key's primary-key constraint makes concurrent
// creations converge on one ticket.
func (p *PostgresProvider) CreateOrGet(ctx context.Context, key string, priority models.Priority, summary string) (string, error) {
	const insert = `
		INSERT INTO tickets (ticket_key, ticket_id, priority, summary, queue)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ticket_key) DO NOTHING`

	candidate := newTicketID()
	if _, err := p.db.ExecContext(ctx, insert, key, candidate, string(priority), summary, p.queue); err != nil {
		return "", fmt.Errorf("create ticket: %w", err)
	}

	var id string
	if err := p.db.GetContext(ctx, &id, `SELECT ticket_id FROM tickets WHERE ticket_key = $1`, key); err != nil {
		return "", fmt.Errorf("fetch ticket: %w", err)
	}
	return id, nil
}
