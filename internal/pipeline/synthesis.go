package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/enrichd/internal/logging"
	"github.com/fyrsmithlabs/enrichd/internal/telemetry"
)

// SynthesisStage produces the enhancement text for a job.
//
// It tries the external synthesis client first. Any failure — an error, an
// empty or whitespace-only response, or the phase deadline — degrades to the
// local deterministic formatter instead of propagating. The stage always
// returns a result.
type SynthesisStage struct {
	client   SynthesisClient
	maxWords int
	logger   *logging.Logger
	metrics  *telemetry.Metrics
}

// NewSynthesisStage creates the stage. maxWords bounds the result text in
// both the client and fallback paths.
func NewSynthesisStage(client SynthesisClient, maxWords int, logger *logging.Logger, metrics *telemetry.Metrics) *SynthesisStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SynthesisStage{
		client:   client,
		maxWords: maxWords,
		logger:   logger,
		metrics:  metrics,
	}
}

// Synthesize runs the synthesis phase under the deadline carried by ctx.
func (s *SynthesisStage) Synthesize(ctx context.Context, job EnhancementJob, bundle *ContextBundle) SynthesisResult {
	ctx, span := tracer.Start(ctx, "pipeline.synthesize")
	defer span.End()

	start := time.Now()
	text, err := s.client.Synthesize(ctx, job, bundle)
	usedFallback := false

	switch {
	case err != nil:
		s.logger.Warn(ctx, "synthesis client failed, using fallback",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)))
		usedFallback = true
	case strings.TrimSpace(text) == "":
		s.logger.Warn(ctx, "synthesis client returned empty output, using fallback")
		usedFallback = true
	}

	if usedFallback {
		if s.metrics != nil {
			s.metrics.FallbacksTotal.Inc()
		}
		text = FormatBundle(bundle)
	}

	// Truncation is unconditional post-processing, independent of which
	// path produced the text.
	text = TruncateWords(text, s.maxWords)

	return SynthesisResult{
		Text:         text,
		UsedFallback: usedFallback,
		WordCount:    len(strings.Fields(text)),
	}
}

// TruncateWords bounds text to at most max whitespace-separated words.
// Text already within the bound is returned unchanged, which makes the
// operation idempotent.
func TruncateWords(text string, max int) string {
	if max <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= max {
		return text
	}
	return strings.Join(words[:max], " ")
}
