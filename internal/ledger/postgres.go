package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx via database/sql
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/oncallstack/triage-engine/internal/models"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const uniqueViolation = "23505"

// PostgresStore is the durable Store implementation.
type PostgresStore struct {
	db *sqlx.DB
}

// PostgresConfig holds connection parameters for the ledger database.
type PostgresConfig struct {
	DSN      string
	MaxConns int
	Migrate  bool
}

// NewPostgresStore opens the ledger database, optionally applying embedded
// migrations, and verifies connectivity.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sqlx.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger database: %w", err)
	}

	if cfg.Migrate {
		goose.SetBaseFS(embedMigrations)
		if err := goose.SetDialect("postgres"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set migration dialect: %w", err)
		}
		if err := goose.Up(db.DB, "migrations"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply ledger migrations: %w", err)
		}
	}

	return &PostgresStore{db: db}, nil
}

// DB exposes the underlying handle so other repositories (the Postgres
// ticketing provider) can share the connection pool.
func (s *PostgresStore) DB() *sqlx.DB { return s.db }

type auditRow struct {
	IncidentID string    `db:"incident_id"`
	Seq        int64     `db:"seq"`
	StepKind   string    `db:"step_kind"`
	Payload    []byte    `db:"payload"`
	CreatedAt  time.Time `db:"created_at"`
}

// Append inserts the record with the next per-incident sequence number in a
// single statement. The (incident_id, seq) primary key makes the assignment
// atomic: a concurrent append racing to the same sequence number fails with a
// unique violation and is retried, so the sequence stays gap-free.
func (s *PostgresStore) Append(ctx context.Context, incidentID string, step models.StepKind, payload []byte) (models.AuditRecord, error) {
	const insert = `
		INSERT INTO audit_records (incident_id, seq, step_kind, payload, created_at)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, now()
		FROM audit_records WHERE incident_id = $1
		RETURNING seq, created_at`

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		var row struct {
			Seq       int64     `db:"seq"`
			CreatedAt time.Time `db:"created_at"`
		}
		err := s.db.GetContext(ctx, &row, insert, incidentID, string(step), payload)
		if err == nil {
			return models.AuditRecord{
				IncidentID: incidentID,
				Seq:        row.Seq,
				Step:       step,
				Payload:    append([]byte(nil), payload...),
				Timestamp:  row.CreatedAt.UTC(),
			}, nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			lastErr = err
			continue
		}
		return models.AuditRecord{}, fmt.Errorf("append audit record: %w", err)
	}
	return models.AuditRecord{}, fmt.Errorf("append audit record: sequence contention: %w", lastErr)
}

// Read returns the incident's records with seq > fromSeq in sequence order.
func (s *PostgresStore) Read(ctx context.Context, incidentID string, fromSeq int64) ([]models.AuditRecord, error) {
	const query = `
		SELECT incident_id, seq, step_kind, payload, created_at
		FROM audit_records
		WHERE incident_id = $1 AND seq > $2
		ORDER BY seq`

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, incidentID, fromSeq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit records: %w", err)
	}

	records := make([]models.AuditRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, models.AuditRecord{
			IncidentID: r.IncidentID,
			Seq:        r.Seq,
			Step:       models.StepKind(r.StepKind),
			Payload:    r.Payload,
			Timestamp:  r.CreatedAt.UTC(),
		})
	}
	return records, nil
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
