package record

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingRecord(t *testing.T, s Store) uuid.UUID {
	t.Helper()
	id, err := s.Create(context.Background(), &EnhancementRecord{
		CorrelationID: uuid.New(),
		TenantID:      "acme",
		TicketID:      "TKT-1",
	})
	require.NoError(t, err)
	return id
}

func TestMemoryStore_CreateDefaults(t *testing.T) {
	s := NewMemoryStore()
	id := newPendingRecord(t, s)

	rec, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Nil(t, rec.CompletedAt)
}

func TestMemoryStore_FinalizeCompleted(t *testing.T) {
	s := NewMemoryStore()
	id := newPendingRecord(t, s)

	err := s.Finalize(context.Background(), id, TerminalFields{
		Status:           StatusCompleted,
		ProcessingTimeMs: 420,
		LLMOutput:        "enhanced summary",
		ContextGathered:  []byte(`{"succeededCount":2}`),
	})
	require.NoError(t, err)

	rec, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	require.NotNil(t, rec.ProcessingTimeMs)
	assert.EqualValues(t, 420, *rec.ProcessingTimeMs)
	require.NotNil(t, rec.LLMOutput)
	assert.Equal(t, "enhanced summary", *rec.LLMOutput)
	require.NotNil(t, rec.CompletedAt)
}

func TestMemoryStore_FinalizeIdempotent(t *testing.T) {
	s := NewMemoryStore()
	id := newPendingRecord(t, s)

	require.NoError(t, s.Finalize(context.Background(), id, TerminalFields{
		Status:       StatusFailed,
		ErrorMessage: "external update failed after retries",
	}))

	// Second finalize with different fields must not change anything.
	require.NoError(t, s.Finalize(context.Background(), id, TerminalFields{
		Status:           StatusCompleted,
		ProcessingTimeMs: 999,
		LLMOutput:        "should be ignored",
	}))

	rec, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Nil(t, rec.LLMOutput)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "update failed")
}

func TestMemoryStore_FinalizeRejectsNonTerminal(t *testing.T) {
	s := NewMemoryStore()
	id := newPendingRecord(t, s)

	err := s.Finalize(context.Background(), id, TerminalFields{Status: StatusPending})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestMemoryStore_FinalizeMissing(t *testing.T) {
	s := NewMemoryStore()
	err := s.Finalize(context.Background(), uuid.New(), TerminalFields{Status: StatusFailed})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListByTicket(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for range 3 {
		_, err := s.Create(ctx, &EnhancementRecord{
			CorrelationID: uuid.New(),
			TenantID:      "acme",
			TicketID:      "TKT-7",
		})
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, &EnhancementRecord{
		CorrelationID: uuid.New(),
		TenantID:      "other",
		TicketID:      "TKT-7",
	})
	require.NoError(t, err)

	records, err := s.ListByTicket(ctx, "acme", "TKT-7")
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusPending.Valid())
	assert.False(t, Status("running").Valid())
}
