// Package worker consumes enhancement jobs from NATS and drives them through
// the pipeline. Consumers in the same queue group share the subject, so jobs
// are load balanced across replicas.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/enrichd/internal/logging"
	"github.com/fyrsmithlabs/enrichd/internal/pipeline"
)

const (
	defaultMaxConcurrent = 8
	msgBuffer            = 64
)

// JobRunner executes one enhancement job end to end.
type JobRunner interface {
	Run(ctx context.Context, job pipeline.EnhancementJob) (pipeline.EnhancementOutcome, error)
}

// Config holds consumer configuration.
type Config struct {
	Subject       string
	QueueGroup    string
	MaxConcurrent int
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Subject == "" {
		return fmt.Errorf("subject required")
	}
	if c.QueueGroup == "" {
		return fmt.Errorf("queue group required")
	}
	return nil
}

// Consumer pulls jobs off the queue and runs them with bounded concurrency.
type Consumer struct {
	nc     *nats.Conn
	cfg    Config
	runner JobRunner
	logger *logging.Logger

	msgs chan *nats.Msg
	sub  *nats.Subscription
	sem  chan struct{}
	wg   sync.WaitGroup

	mu         sync.Mutex
	started    bool
	jobCtx     context.Context
	cancelLoop context.CancelFunc
	cancelJobs context.CancelFunc
}

// NewConsumer creates a consumer. It does not subscribe until Start.
func NewConsumer(nc *nats.Conn, cfg Config, runner JobRunner, logger *logging.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if runner == nil {
		return nil, fmt.Errorf("job runner required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}

	return &Consumer{
		nc:     nc,
		cfg:    cfg,
		runner: runner,
		logger: logger.Named("worker"),
		msgs:   make(chan *nats.Msg, msgBuffer),
		sem:    make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// Start subscribes to the job subject and begins dispatching. It returns
// once the subscription is established; job handling runs in background
// goroutines until Stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("consumer already started")
	}

	sub, err := c.nc.ChanQueueSubscribe(c.cfg.Subject, c.cfg.QueueGroup, c.msgs)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.cfg.Subject, err)
	}
	c.sub = sub
	c.started = true

	// The dispatch loop and the jobs it spawns stop at different times:
	// Stop cancels the loop immediately but must leave running jobs on
	// their own deadlines, so each gets its own context.
	loopCtx, cancelLoop := context.WithCancel(context.WithoutCancel(ctx))
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	c.cancelLoop = cancelLoop
	c.cancelJobs = cancelJobs
	c.jobCtx = jobCtx

	c.wg.Add(1)
	go c.dispatch(loopCtx)

	c.logger.Info(ctx, "worker started",
		zap.String("subject", c.cfg.Subject),
		zap.String("queue_group", c.cfg.QueueGroup),
		zap.Int("max_concurrent", c.cfg.MaxConcurrent),
	)
	return nil
}

// Stop unsubscribes and waits for in-flight jobs to finish, up to the
// context deadline. Jobs still running at the deadline keep their own hard
// ceiling; only the wait is abandoned.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	sub := c.sub
	cancelLoop := c.cancelLoop
	cancelJobs := c.cancelJobs
	c.started = false
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		c.logger.Warn(ctx, "unsubscribe failed", zap.Error(err))
	}
	cancelLoop()

	// In-flight jobs keep running on their own context; it is released
	// only once the last one returns, even if the drain wait gives up
	// first.
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		cancelJobs()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info(ctx, "worker drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker drain interrupted: %w", ctx.Err())
	}
}

func (c *Consumer) dispatch(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.msgs:
			select {
			case c.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			c.wg.Add(1)
			go func(m *nats.Msg) {
				defer c.wg.Done()
				defer func() { <-c.sem }()
				c.handle(c.jobCtx, m)
			}(msg)
		}
	}
}

// handle decodes and runs one job. Malformed payloads are logged and
// dropped; retrying them can never succeed.
func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	var job pipeline.EnhancementJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		c.logger.Error(ctx, "dropping undecodable job",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		return
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}

	outcome, err := c.runner.Run(ctx, job)
	if err != nil {
		c.logger.Error(ctx, "job failed",
			zap.String("tenant_id", job.TenantID),
			zap.String("ticket_id", job.TicketID),
			zap.Error(err),
		)
		return
	}

	c.logger.Info(ctx, "job processed",
		zap.String("tenant_id", job.TenantID),
		zap.String("ticket_id", job.TicketID),
		zap.String("status", outcome.Status),
		zap.Int64("processing_time_ms", outcome.ProcessingTimeMs),
	)
}
