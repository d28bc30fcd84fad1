package record

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*EnhancementRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*EnhancementRecord)}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, rec *EnhancementRecord) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	return rec.ID, nil
}

// Finalize implements Store. Already-terminal records are left untouched.
func (s *MemoryStore) Finalize(ctx context.Context, id uuid.UUID, fields TerminalFields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !fields.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, fields.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if rec.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC()
	rec.Status = fields.Status
	rec.CompletedAt = &now
	ms := fields.ProcessingTimeMs
	rec.ProcessingTimeMs = &ms
	if fields.LLMOutput != "" {
		out := fields.LLMOutput
		rec.LLMOutput = &out
	}
	if len(fields.ContextGathered) > 0 {
		rec.ContextGathered = append([]byte(nil), fields.ContextGathered...)
	}
	if fields.ErrorMessage != "" {
		msg := fields.ErrorMessage
		rec.ErrorMessage = &msg
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*EnhancementRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *rec
	return &cp, nil
}

// ListByTicket implements Store.
func (s *MemoryStore) ListByTicket(ctx context.Context, tenantID, ticketID string) ([]*EnhancementRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*EnhancementRecord
	for _, rec := range s.records {
		if rec.TenantID == tenantID && rec.TicketID == ticketID {
			cp := *rec
			records = append(records, &cp)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}
