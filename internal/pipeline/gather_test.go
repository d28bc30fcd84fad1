package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a function-backed SourceAdapter for tests.
type fakeAdapter struct {
	name string
	fn   func(ctx context.Context, tenantID, ticketID string) (map[string]any, error)
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Fetch(ctx context.Context, tenantID, ticketID string) (map[string]any, error) {
	return a.fn(ctx, tenantID, ticketID)
}

func successAdapter(name string, payload map[string]any) *fakeAdapter {
	return &fakeAdapter{name: name, fn: func(context.Context, string, string) (map[string]any, error) {
		return payload, nil
	}}
}

func failingAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name, fn: func(context.Context, string, string) (map[string]any, error) {
		return nil, errors.New("upstream unavailable")
	}}
}

// blockingAdapter ignores its own deadline until ctx fires, simulating a
// slow cooperative source.
func blockingAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name, fn: func(ctx context.Context, _, _ string) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

// stuckAdapter ignores cancellation entirely for longer than any deadline
// used in these tests.
func stuckAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name, fn: func(context.Context, string, string) (map[string]any, error) {
		time.Sleep(2 * time.Second)
		return nil, errors.New("finally gave up")
	}}
}

func newTestGatherer(adapters []SourceAdapter, sourceTimeout time.Duration) *Gatherer {
	return NewGatherer(adapters, sourceTimeout, nil, nil)
}

func TestGather_AllSucceed(t *testing.T) {
	g := newTestGatherer([]SourceAdapter{
		successAdapter("ticket_search", map[string]any{"similar": "TKT-2"}),
		successAdapter("knowledge_base", map[string]any{"article": "KB-1"}),
		successAdapter("ip_lookup", map[string]any{"asn": "AS1234"}),
	}, time.Second)

	bundle := g.Gather(context.Background(), "acme", "TKT-1")

	assert.Equal(t, 3, bundle.TotalCount)
	assert.Equal(t, 3, bundle.SucceededCount)
	require.Len(t, bundle.Results, 3)
	// Registration order, not completion order.
	assert.Equal(t, "ticket_search", bundle.Results[0].SourceName)
	assert.Equal(t, "knowledge_base", bundle.Results[1].SourceName)
	assert.Equal(t, "ip_lookup", bundle.Results[2].SourceName)
	for _, res := range bundle.Results {
		assert.True(t, res.Succeeded)
		assert.Positive(t, res.DurationMs)
	}
}

func TestGather_PartialFailure(t *testing.T) {
	g := newTestGatherer([]SourceAdapter{
		failingAdapter("ticket_search"),
		failingAdapter("knowledge_base"),
		successAdapter("ip_lookup", map[string]any{"asn": "AS1234"}),
	}, time.Second)

	bundle := g.Gather(context.Background(), "acme", "TKT-1")

	assert.Equal(t, 3, bundle.TotalCount)
	assert.Equal(t, 1, bundle.SucceededCount)
	assert.False(t, bundle.Results[0].Succeeded)
	assert.Equal(t, ErrorKindFetch, bundle.Results[0].ErrorKind)
	assert.True(t, bundle.Results[2].Succeeded)
}

func TestGather_AllFail(t *testing.T) {
	g := newTestGatherer([]SourceAdapter{
		failingAdapter("a"),
		failingAdapter("b"),
	}, time.Second)

	bundle := g.Gather(context.Background(), "acme", "TKT-1")

	assert.Equal(t, 0, bundle.SucceededCount)
	assert.Equal(t, 2, bundle.TotalCount)
	require.Len(t, bundle.Results, 2)
}

func TestGather_NoAdapters(t *testing.T) {
	g := newTestGatherer(nil, time.Second)
	bundle := g.Gather(context.Background(), "acme", "TKT-1")
	assert.Equal(t, 0, bundle.TotalCount)
	assert.Empty(t, bundle.Results)
}

func TestGather_PerSourceTimeout(t *testing.T) {
	g := newTestGatherer([]SourceAdapter{
		blockingAdapter("slow"),
		successAdapter("fast", map[string]any{"k": "v"}),
	}, 30*time.Millisecond)

	bundle := g.Gather(context.Background(), "acme", "TKT-1")

	assert.Equal(t, 1, bundle.SucceededCount)
	assert.False(t, bundle.Results[0].Succeeded)
	assert.Equal(t, ErrorKindTimeout, bundle.Results[0].ErrorKind)
	assert.True(t, bundle.Results[1].Succeeded)
}

// Deadline respect: a source that never returns does not hold Gather past
// the phase deadline plus scheduling slack.
func TestGather_PhaseDeadlineWithStuckSource(t *testing.T) {
	g := newTestGatherer([]SourceAdapter{
		stuckAdapter("stuck"),
		successAdapter("fast", map[string]any{"k": "v"}),
	}, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	bundle := g.Gather(ctx, "acme", "TKT-1")
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, 1, bundle.SucceededCount)
	assert.False(t, bundle.Results[0].Succeeded)
	assert.Equal(t, ErrorKindTimeout, bundle.Results[0].ErrorKind)
	assert.Positive(t, bundle.Results[0].DurationMs)
}

func TestJoin_KeepsBufferedResultAfterDeadline(t *testing.T) {
	g := newTestGatherer(nil, time.Second)

	results := []ContextSourceResult{
		{SourceName: "fast", ErrorKind: ErrorKindTimeout},
		{SourceName: "stuck", ErrorKind: ErrorKindTimeout},
	}
	resultsChan := make(chan indexedResult, 2)
	// The fast source already finished before the deadline fired.
	resultsChan <- indexedResult{idx: 0, result: ContextSourceResult{
		SourceName: "fast",
		Succeeded:  true,
		Payload:    map[string]any{"k": "v"},
		DurationMs: 3,
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	collected, deadlineHit := g.join(ctx, resultsChan, results, 2)
	assert.Equal(t, 1, collected)
	assert.True(t, deadlineHit)
	assert.True(t, results[0].Succeeded, "completed-in-time result must be kept")
	assert.Equal(t, int64(3), results[0].DurationMs)
	assert.False(t, results[1].Succeeded)
	assert.Equal(t, ErrorKindTimeout, results[1].ErrorKind)
}

func TestGather_ExpiredPhaseContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	g := newTestGatherer([]SourceAdapter{
		blockingAdapter("any"),
	}, time.Second)

	bundle := g.Gather(ctx, "acme", "TKT-1")
	assert.Equal(t, 0, bundle.SucceededCount)
	assert.Equal(t, 1, bundle.TotalCount)
}
