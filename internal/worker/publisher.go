package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/enrichd/internal/logging"
	"github.com/fyrsmithlabs/enrichd/internal/pipeline"
)

// Publisher enqueues enhancement jobs for the worker fleet. The webhook
// ingress is its main caller.
type Publisher struct {
	nc      *nats.Conn
	subject string
	logger  *logging.Logger
}

// NewPublisher creates a publisher for the given subject.
func NewPublisher(nc *nats.Conn, subject string, logger *logging.Logger) (*Publisher, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{nc: nc, subject: subject, logger: logger.Named("publisher")}, nil
}

// Publish validates and enqueues one job.
func (p *Publisher) Publish(ctx context.Context, job pipeline.EnhancementJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("rejecting malformed job: %w", err)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}

	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.subject, err)
	}

	p.logger.Info(ctx, "job enqueued",
		zap.String("tenant_id", job.TenantID),
		zap.String("ticket_id", job.TicketID),
	)
	return nil
}
