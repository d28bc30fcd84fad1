package pipeline

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/enrichd/internal/logging"
	"github.com/fyrsmithlabs/enrichd/internal/telemetry"
)

// Gatherer fans out to every registered source adapter concurrently and
// joins the results into a ContextBundle.
//
// Adapter failures and timeouts never fail the phase: each failed source is
// recorded as an unsuccessful ContextSourceResult and the bundle carries
// whatever did succeed. Result order is adapter registration order, not
// completion order, so bundles are reproducible.
type Gatherer struct {
	adapters      []SourceAdapter
	sourceTimeout time.Duration
	logger        *logging.Logger
	metrics       *telemetry.Metrics
}

// NewGatherer creates a coordinator over adapters in registration order.
func NewGatherer(adapters []SourceAdapter, sourceTimeout time.Duration, logger *logging.Logger, metrics *telemetry.Metrics) *Gatherer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gatherer{
		adapters:      adapters,
		sourceTimeout: sourceTimeout,
		logger:        logger,
		metrics:       metrics,
	}
}

// indexedResult carries one adapter's result back to the joining goroutine.
type indexedResult struct {
	idx    int
	result ContextSourceResult
}

// Gather runs every adapter concurrently under the phase deadline carried by
// ctx, with each fetch additionally bounded by the per-source timeout.
//
// It always returns a bundle. If the phase deadline fires before every
// adapter reports, the bundle keeps the results already collected and marks
// the outstanding sources as timed out.
func (g *Gatherer) Gather(ctx context.Context, tenantID, ticketID string) *ContextBundle {
	n := len(g.adapters)
	bundle := &ContextBundle{
		Results:    make([]ContextSourceResult, n),
		TotalCount: n,
	}
	if n == 0 {
		return bundle
	}

	phaseStart := time.Now()

	// Pre-fill so sources still outstanding at the deadline are reported
	// as timed out rather than silently dropped.
	for i, adapter := range g.adapters {
		bundle.Results[i] = ContextSourceResult{
			SourceName: adapter.Name(),
			Succeeded:  false,
			ErrorKind:  ErrorKindTimeout,
		}
	}

	// Buffered so stragglers can still send after the join gives up on
	// them; the goroutines finish and everything gets collected by GC.
	resultsChan := make(chan indexedResult, n)

	for i, adapter := range g.adapters {
		go func(idx int, a SourceAdapter) {
			resultsChan <- indexedResult{idx: idx, result: g.fetchOne(ctx, a, tenantID, ticketID)}
		}(i, adapter)
	}

	collected, deadlineHit := g.join(ctx, resultsChan, bundle.Results, n)

	elapsed := time.Since(phaseStart)
	for i := range bundle.Results {
		res := &bundle.Results[i]
		if res.Succeeded {
			bundle.SucceededCount++
		} else if res.DurationMs == 0 {
			// Never reported back before the phase deadline.
			res.DurationMs = elapsed.Milliseconds()
			if g.metrics != nil {
				g.metrics.RecordSourceTimeout(res.SourceName)
				g.metrics.RecordSource(res.SourceName, false)
			}
		}
	}

	if deadlineHit && collected < n {
		g.logger.Warn(ctx, "context gathering truncated at phase deadline",
			zap.Int("collected", collected),
			zap.Int("total", n))
	}
	g.logger.Info(ctx, "context gathering complete",
		zap.Int("succeeded", bundle.SucceededCount),
		zap.Int("total", bundle.TotalCount),
		zap.Duration("duration", elapsed))

	return bundle
}

// join collects adapter results until all have reported or ctx expires.
// On expiry it drains anything already buffered, so a source that finished
// before the deadline keeps its result even when the deadline is observed
// first.
func (g *Gatherer) join(ctx context.Context, resultsChan <-chan indexedResult, results []ContextSourceResult, n int) (collected int, deadlineHit bool) {
	for collected < n {
		select {
		case ir := <-resultsChan:
			results[ir.idx] = ir.result
			collected++
		case <-ctx.Done():
			for {
				select {
				case ir := <-resultsChan:
					results[ir.idx] = ir.result
					collected++
				default:
					return collected, true
				}
			}
		}
	}
	return collected, false
}

// fetchOne runs a single adapter under the per-source timeout.
func (g *Gatherer) fetchOne(ctx context.Context, adapter SourceAdapter, tenantID, ticketID string) ContextSourceResult {
	ctx, span := tracer.Start(ctx, "pipeline.gather_source")
	defer span.End()
	span.SetAttributes(attribute.String("source.name", adapter.Name()))

	srcCtx, cancel := context.WithTimeout(ctx, g.sourceTimeout)
	defer cancel()

	start := time.Now()
	payload, err := adapter.Fetch(srcCtx, tenantID, ticketID)
	duration := time.Since(start)

	result := ContextSourceResult{
		SourceName: adapter.Name(),
		DurationMs: maxInt64(duration.Milliseconds(), 1),
	}

	if err != nil {
		result.ErrorKind = ErrorKindFetch
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			result.ErrorKind = ErrorKindTimeout
			if g.metrics != nil {
				g.metrics.RecordSourceTimeout(adapter.Name())
			}
			g.logger.Warn(ctx, "context source timed out",
				zap.String("source", adapter.Name()),
				zap.Duration("duration", duration))
		} else {
			g.logger.Error(ctx, "context source failed",
				zap.String("source", adapter.Name()),
				zap.Error(err))
		}
		if g.metrics != nil {
			g.metrics.RecordSource(adapter.Name(), false)
		}
		return result
	}

	result.Succeeded = true
	result.Payload = payload
	if g.metrics != nil {
		g.metrics.RecordSource(adapter.Name(), true)
	}
	g.logger.Debug(ctx, "context source fetched",
		zap.String("source", adapter.Name()),
		zap.Duration("duration", duration))

	return result
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
