// Package pipeline implements the enhancement pipeline orchestrator.
//
// One job runs through three phases under a deadline hierarchy: context
// gathering (bounded fan-out, partial failure tolerated), synthesis (LLM
// with a deterministic local fallback), and update write-back (boolean,
// retries owned by the client). Every run commits exactly one terminal
// EnhancementRecord, whatever happens in between.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/enrichd/internal/tenant"
)

// Priority is the urgency of the inbound ticket.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// EnhancementJob is the immutable input to one pipeline run.
type EnhancementJob struct {
	TenantID    string    `json:"tenant_id"`
	TicketID    string    `json:"ticket_id"`
	Description string    `json:"description"`
	Priority    Priority  `json:"priority"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Validate rejects malformed jobs. A validation failure is a programmer or
// producer error and is the one expected case where Run returns an error.
func (j EnhancementJob) Validate() error {
	if j.TenantID == "" {
		return errors.New("job missing tenant ID")
	}
	if j.TicketID == "" {
		return errors.New("job missing ticket ID")
	}
	if j.Priority != "" && !j.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", j.Priority)
	}
	return nil
}

// ErrorKind classifies a context source failure.
type ErrorKind string

const (
	ErrorKindNone    ErrorKind = ""
	ErrorKindTimeout ErrorKind = "timeout"
	ErrorKindFetch   ErrorKind = "fetch_error"
)

// ContextSourceResult is the outcome of one adapter invocation.
type ContextSourceResult struct {
	SourceName string         `json:"sourceName"`
	Payload    map[string]any `json:"payload,omitempty"`
	Succeeded  bool           `json:"succeeded"`
	ErrorKind  ErrorKind      `json:"errorKind,omitempty"`
	DurationMs int64          `json:"durationMs"`
}

// ContextBundle holds every source result in adapter registration order.
//
// A bundle is usable even when SucceededCount is zero; downstream stages
// degrade rather than reject it.
type ContextBundle struct {
	Results        []ContextSourceResult `json:"results"`
	SucceededCount int                   `json:"succeededCount"`
	TotalCount     int                   `json:"totalCount"`
}

// SynthesisResult is the outcome of the synthesis phase.
type SynthesisResult struct {
	Text         string `json:"text"`
	UsedFallback bool   `json:"usedFallback"`
	WordCount    int    `json:"wordCount"`
}

// EnhancementOutcome is returned to the queue worker for every job.
type EnhancementOutcome struct {
	Status           string    `json:"status"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	RecordID         uuid.UUID `json:"record_id"`
	CorrelationID    uuid.UUID `json:"correlation_id"`
}

// SourceAdapter performs one bounded fetch against an external context
// source. Implementations must respect ctx cancellation and return promptly.
type SourceAdapter interface {
	Name() string
	Fetch(ctx context.Context, tenantID, ticketID string) (map[string]any, error)
}

// SynthesisClient invokes the external synthesis capability. An error or an
// empty result both trigger the local fallback formatter.
type SynthesisClient interface {
	Synthesize(ctx context.Context, job EnhancementJob, bundle *ContextBundle) (string, error)
}

// UpdateClient applies the enhancement to the external ticketing system.
// It never returns an error; retry and backoff are its own responsibility.
type UpdateClient interface {
	Apply(ctx context.Context, target tenant.Config, ticketID, content string) bool
}
