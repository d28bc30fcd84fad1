package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// CorrelationContext carries one job's correlation ID and its soft
// wall-clock deadline. It is created at job start and passed explicitly;
// nothing about the current job lives in package or goroutine state.
//
// The soft deadline bounds the sum of phase budgets; the job-level hard
// ceiling (enforced separately through context cancellation) is wider and
// always wins when the two disagree.
type CorrelationContext struct {
	ID       uuid.UUID
	Deadline time.Time
}

// NewCorrelationContext starts a budget window of totalBudget from now.
func NewCorrelationContext(totalBudget time.Duration) CorrelationContext {
	return CorrelationContext{
		ID:       uuid.New(),
		Deadline: time.Now().Add(totalBudget),
	}
}

// Remaining returns the time left in the soft budget. Never negative.
func (c CorrelationContext) Remaining() time.Duration {
	remaining := time.Until(c.Deadline)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Exhausted reports whether the soft budget has run out.
func (c CorrelationContext) Exhausted() bool {
	return c.Remaining() == 0
}

// PhaseBudget clamps a configured phase budget to the remaining soft
// budget. Phases are never proportionally compressed; each simply gets
// whatever is smaller, and a phase starting after exhaustion gets zero.
func (c CorrelationContext) PhaseBudget(configured time.Duration) time.Duration {
	remaining := c.Remaining()
	if configured < remaining {
		return configured
	}
	return remaining
}
