package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

const recordColumns = `
  id,
  correlation_id,
  tenant_id,
  ticket_id,
  status,
  created_at,
  completed_at,
  processing_time_ms,
  llm_output,
  context_gathered,
  error_message
`

const schemaSQL = `
CREATE TABLE IF NOT EXISTS enhancement_records (
  id                 UUID PRIMARY KEY,
  correlation_id     UUID NOT NULL,
  tenant_id          TEXT NOT NULL,
  ticket_id          TEXT NOT NULL,
  status             TEXT NOT NULL DEFAULT 'pending',
  created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
  completed_at       TIMESTAMPTZ,
  processing_time_ms BIGINT,
  llm_output         TEXT,
  context_gathered   JSONB,
  error_message      TEXT
);
CREATE INDEX IF NOT EXISTS idx_enhancement_records_ticket
  ON enhancement_records (tenant_id, ticket_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_enhancement_records_correlation
  ON enhancement_records (correlation_id);
`

// PostgresStore is the production Store backed by Postgres via pgx.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against the given DSN.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate creates the enhancement_records table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate enhancement_records: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, rec *EnhancementRecord) (uuid.UUID, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enhancement_records
		  (id, correlation_id, tenant_id, ticket_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.CorrelationID, rec.TenantID, rec.TicketID, rec.Status, rec.CreatedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert enhancement record: %w", err)
	}
	return rec.ID, nil
}

// Finalize implements Store. The WHERE status = 'pending' guard makes the
// transition idempotent: once terminal, later calls match zero rows.
func (s *PostgresStore) Finalize(ctx context.Context, id uuid.UUID, fields TerminalFields) error {
	if !fields.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, fields.Status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE enhancement_records
		SET status = $2,
		    completed_at = now(),
		    processing_time_ms = $3,
		    llm_output = NULLIF($4, ''),
		    context_gathered = $5,
		    error_message = NULLIF($6, '')
		WHERE id = $1 AND status = 'pending'
	`, id, fields.Status, fields.ProcessingTimeMs, fields.LLMOutput,
		fields.ContextGathered, fields.ErrorMessage)
	if err != nil {
		return fmt.Errorf("finalize enhancement record: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize rows affected: %w", err)
	}
	if rows == 0 {
		// Either already terminal (no-op) or missing entirely.
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM enhancement_records WHERE id = $1)`, id,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("finalize existence check: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*EnhancementRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM enhancement_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get enhancement record: %w", err)
	}
	return rec, nil
}

// ListByTicket implements Store.
func (s *PostgresStore) ListByTicket(ctx context.Context, tenantID, ticketID string) ([]*EnhancementRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM enhancement_records
		WHERE tenant_id = $1 AND ticket_id = $2
		ORDER BY created_at DESC
	`, tenantID, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list enhancement records: %w", err)
	}
	defer rows.Close()

	var records []*EnhancementRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enhancement record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enhancement records: %w", err)
	}
	return records, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*EnhancementRecord, error) {
	var rec EnhancementRecord
	var status string
	err := s.Scan(
		&rec.ID,
		&rec.CorrelationID,
		&rec.TenantID,
		&rec.TicketID,
		&status,
		&rec.CreatedAt,
		&rec.CompletedAt,
		&rec.ProcessingTimeMs,
		&rec.LLMOutput,
		&rec.ContextGathered,
		&rec.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	return &rec, nil
}
