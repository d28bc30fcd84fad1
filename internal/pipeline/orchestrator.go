package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/enrichd/internal/config"
	"github.com/fyrsmithlabs/enrichd/internal/logging"
	"github.com/fyrsmithlabs/enrichd/internal/record"
	"github.com/fyrsmithlabs/enrichd/internal/telemetry"
	"github.com/fyrsmithlabs/enrichd/internal/tenant"
)

// Terminal error messages written to the durable record.
const (
	errMsgTenantNotFound  = "tenant not found"
	errMsgUpdateFailed    = "external update failed after retries"
	errMsgDeadlineReached = "job deadline exceeded"
)

// finalizeTimeout bounds the record commit after the job context is gone.
const finalizeTimeout = 5 * time.Second

// Orchestrator drives one enhancement job through the pipeline phases and
// commits its terminal record. Expected failures (missing tenant, degraded
// context, failed update, deadlines) resolve into a terminal record and a
// structured outcome; Run returns an error only for malformed jobs or when
// the pending record cannot be persisted at all.
type Orchestrator struct {
	cfg      config.PipelineConfig
	tenants  tenant.Resolver
	gatherer *Gatherer
	synth    *SynthesisStage
	update   UpdateClient
	store    record.Store
	logger   *logging.Logger
	metrics  *telemetry.Metrics
}

// NewOrchestrator wires the pipeline stages.
func NewOrchestrator(
	cfg config.PipelineConfig,
	tenants tenant.Resolver,
	gatherer *Gatherer,
	synth *SynthesisStage,
	update UpdateClient,
	store record.Store,
	logger *logging.Logger,
	metrics *telemetry.Metrics,
) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		tenants:  tenants,
		gatherer: gatherer,
		synth:    synth,
		update:   update,
		store:    store,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run executes the pipeline for one job.
//
// The correlation ID generated here is attached to the job context and
// appears on every log line emitted during the call. No job exits without a
// terminal record: panics escaping a collaborator are caught at this
// boundary and converted into a failed finalize.
func (o *Orchestrator) Run(ctx context.Context, job EnhancementJob) (EnhancementOutcome, error) {
	if err := job.Validate(); err != nil {
		return EnhancementOutcome{}, fmt.Errorf("malformed job: %w", err)
	}

	corr := NewCorrelationContext(o.cfg.TotalBudget.Duration())
	start := time.Now()

	// The hard ceiling cancels everything still running; phase budgets are
	// soft and clamped to what remains of the total budget.
	jobCtx, cancel := context.WithTimeout(ctx, o.cfg.HardCeiling())
	defer cancel()

	jobCtx = logging.WithCorrelationID(jobCtx, corr.ID.String())
	jobCtx = logging.WithTenantID(jobCtx, job.TenantID)
	jobCtx = logging.WithTicketID(jobCtx, job.TicketID)

	jobCtx, span := tracer.Start(jobCtx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("correlation.id", corr.ID.String()),
		attribute.String("tenant.id", job.TenantID),
		attribute.String("ticket.id", job.TicketID),
	)

	o.logger.Info(jobCtx, "pipeline started",
		zap.String("priority", string(job.Priority)),
		zap.Duration("total_budget", o.cfg.TotalBudget.Duration()))

	// Resolve tenant before any stage runs.
	tenantCfg, err := o.tenants.Resolve(jobCtx, job.TenantID)
	if err != nil {
		if !errors.Is(err, tenant.ErrNotFound) {
			o.logger.Error(jobCtx, "tenant resolution failed", zap.Error(err))
		} else {
			o.logger.Warn(jobCtx, "tenant not found, failing job")
		}
		recID, createErr := o.createPending(jobCtx, corr, job)
		if createErr != nil {
			return EnhancementOutcome{}, createErr
		}
		return o.finalizeFailed(jobCtx, corr, recID, start, errMsgTenantNotFound, "", nil), nil
	}

	// Durability checkpoint: the pending record makes the in-flight job
	// visible to operators before any stage runs.
	recID, err := o.createPending(jobCtx, corr, job)
	if err != nil {
		return EnhancementOutcome{}, err
	}

	return o.runStages(jobCtx, corr, job, tenantCfg, recID, start), nil
}

// runStages executes gather, synthesis, and update, then finalizes. Panics
// from any collaborator are converted into a failed finalize here.
func (o *Orchestrator) runStages(
	ctx context.Context,
	corr CorrelationContext,
	job EnhancementJob,
	tenantCfg tenant.Config,
	recID uuid.UUID,
	start time.Time,
) (outcome EnhancementOutcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error(ctx, "unexpected pipeline panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			outcome = o.finalizeFailed(ctx, corr, recID, start,
				fmt.Sprintf("unexpected error: %v", r), "", nil)
		}
	}()

	// Phase 1: context gathering.
	bundle := o.runGather(ctx, corr, job)

	if ctx.Err() != nil {
		return o.finalizeFailed(ctx, corr, recID, start, errMsgDeadlineReached, "", bundle)
	}

	// Phase 2: synthesis (always yields a result, degrading to fallback).
	result := o.runSynthesis(ctx, corr, job, bundle)

	if ctx.Err() != nil {
		return o.finalizeFailed(ctx, corr, recID, start, errMsgDeadlineReached, result.Text, bundle)
	}

	// Phase 3: update write-back. Boolean contract; never raises.
	updateStart := time.Now()
	applied := o.update.Apply(ctx, tenantCfg, job.TicketID, result.Text)
	if o.metrics != nil {
		o.metrics.RecordPhase("update", time.Since(updateStart).Seconds())
	}

	processingMs := time.Since(start).Milliseconds()

	if !applied {
		// The update client owns the rejection counter; it can tell a
		// hard rejection from exhausted retries.
		o.logger.Warn(ctx, "external update rejected enhancement",
			zap.Int64("processing_time_ms", processingMs))
		// LLM output is still persisted for audit.
		return o.finalizeFailed(ctx, corr, recID, start, errMsgUpdateFailed, result.Text, bundle)
	}

	o.commit(ctx, recID, record.TerminalFields{
		Status:           record.StatusCompleted,
		ProcessingTimeMs: processingMs,
		LLMOutput:        result.Text,
		ContextGathered:  marshalBundle(bundle),
	})

	if o.metrics != nil {
		o.metrics.RecordJob(string(record.StatusCompleted), time.Since(start).Seconds())
	}
	o.logger.Info(ctx, "pipeline completed",
		zap.Int64("processing_time_ms", processingMs),
		zap.Bool("used_fallback", result.UsedFallback),
		zap.Int("context_sources_succeeded", bundle.SucceededCount))

	return EnhancementOutcome{
		Status:           string(record.StatusCompleted),
		ProcessingTimeMs: processingMs,
		RecordID:         recID,
		CorrelationID:    corr.ID,
	}
}

// runGather executes the context phase under its clamped budget.
func (o *Orchestrator) runGather(ctx context.Context, corr CorrelationContext, job EnhancementJob) *ContextBundle {
	budget := corr.PhaseBudget(o.cfg.GatherBudget.Duration())
	phaseCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	phaseStart := time.Now()
	bundle := o.gatherer.Gather(phaseCtx, job.TenantID, job.TicketID)
	if o.metrics != nil {
		o.metrics.RecordPhase("gather", time.Since(phaseStart).Seconds())
	}
	return bundle
}

// runSynthesis executes the synthesis phase under its clamped budget.
func (o *Orchestrator) runSynthesis(ctx context.Context, corr CorrelationContext, job EnhancementJob, bundle *ContextBundle) SynthesisResult {
	budget := corr.PhaseBudget(o.cfg.SynthesisBudget.Duration())
	phaseCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	phaseStart := time.Now()
	result := o.synth.Synthesize(phaseCtx, job, bundle)
	if o.metrics != nil {
		o.metrics.RecordPhase("synthesis", time.Since(phaseStart).Seconds())
	}
	return result
}

// createPending persists the initial pending record.
func (o *Orchestrator) createPending(ctx context.Context, corr CorrelationContext, job EnhancementJob) (uuid.UUID, error) {
	recID, err := o.store.Create(ctx, &record.EnhancementRecord{
		CorrelationID: corr.ID,
		TenantID:      job.TenantID,
		TicketID:      job.TicketID,
		Status:        record.StatusPending,
	})
	if err != nil {
		o.logger.Error(ctx, "failed to create enhancement record", zap.Error(err))
		return uuid.Nil, fmt.Errorf("create enhancement record: %w", err)
	}
	return recID, nil
}

// finalizeFailed commits a failed terminal record and builds the outcome.
func (o *Orchestrator) finalizeFailed(
	ctx context.Context,
	corr CorrelationContext,
	recID uuid.UUID,
	start time.Time,
	errMsg string,
	llmOutput string,
	bundle *ContextBundle,
) EnhancementOutcome {
	processingMs := time.Since(start).Milliseconds()
	o.commit(ctx, recID, record.TerminalFields{
		Status:           record.StatusFailed,
		ProcessingTimeMs: processingMs,
		LLMOutput:        llmOutput,
		ContextGathered:  marshalBundle(bundle),
		ErrorMessage:     errMsg,
	})

	if o.metrics != nil {
		o.metrics.RecordJob(string(record.StatusFailed), time.Since(start).Seconds())
	}
	o.logger.Warn(ctx, "pipeline failed",
		zap.String("error_message", errMsg),
		zap.Int64("processing_time_ms", processingMs))

	return EnhancementOutcome{
		Status:           string(record.StatusFailed),
		ProcessingTimeMs: processingMs,
		RecordID:         recID,
		CorrelationID:    corr.ID,
	}
}

// commit finalizes the record on a context that survives job cancellation,
// so a job killed at the hard ceiling still gets its terminal record.
func (o *Orchestrator) commit(ctx context.Context, recID uuid.UUID, fields record.TerminalFields) {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := o.store.Finalize(commitCtx, recID, fields); err != nil {
		o.logger.Error(ctx, "failed to finalize enhancement record",
			zap.String("record_id", recID.String()),
			zap.Error(err))
	}
}

// marshalBundle snapshots the bundle for the durable record.
func marshalBundle(bundle *ContextBundle) []byte {
	if bundle == nil {
		return nil
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return nil
	}
	return data
}
