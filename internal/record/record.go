// Package record persists the durable lifecycle of enhancement jobs.
//
// An EnhancementRecord is created in StatusPending before any pipeline stage
// runs and is finalized exactly once to a terminal status. Finalize is
// idempotent: a second call on an already-terminal record is a no-op, so a
// supervising retry layer can safely re-invoke the pipeline.
package record

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an enhancement record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidStatus is returned for finalize calls with a non-terminal status.
	ErrInvalidStatus = errors.New("finalize requires a terminal status")
)

// EnhancementRecord is the durable state of one enhancement job.
type EnhancementRecord struct {
	ID            uuid.UUID `json:"id"`
	CorrelationID uuid.UUID `json:"correlationId"`
	TenantID      string    `json:"tenantId"`
	TicketID      string    `json:"ticketId"`

	Status Status `json:"status"`

	CreatedAt        time.Time  `json:"createdAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	ProcessingTimeMs *int64     `json:"processingTimeMs,omitempty"`

	LLMOutput       *string `json:"llmOutput,omitempty"`
	ContextGathered []byte  `json:"contextGathered,omitempty"` // JSON snapshot of the context bundle
	ErrorMessage    *string `json:"errorMessage,omitempty"`
}

// TerminalFields carries the fields written by Finalize.
type TerminalFields struct {
	Status           Status
	ProcessingTimeMs int64
	LLMOutput        string
	ContextGathered  []byte
	ErrorMessage     string
}

// Store persists enhancement records.
//
// The pipeline orchestrator is the only writer; the HTTP surface reads.
type Store interface {
	// Create persists a new pending record and returns its ID.
	Create(ctx context.Context, rec *EnhancementRecord) (uuid.UUID, error)

	// Finalize transitions a pending record to a terminal status.
	// Finalizing an already-terminal record is a no-op, not an error.
	Finalize(ctx context.Context, id uuid.UUID, fields TerminalFields) error

	// Get returns a record by ID, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*EnhancementRecord, error)

	// ListByTicket returns all records for a tenant's ticket, newest first.
	ListByTicket(ctx context.Context, tenantID, ticketID string) ([]*EnhancementRecord, error)
}
