// Package synthesis provides the LLM-backed synthesis client used by the
// pipeline, plus the embedding function that powers knowledge base search.
// Both ride langchaingo's OpenAI-compatible client, so any endpoint that
// speaks the OpenAI wire format works.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/enrichd/internal/logging"
	"github.com/fyrsmithlabs/enrichd/internal/pipeline"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.2
)

// Config holds configuration for the synthesis client.
type Config struct {
	// BaseURL is the base URL for the OpenAI-compatible API.
	BaseURL string

	// Model is the chat model to use.
	Model string

	// APIKey authenticates against the API.
	APIKey string
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// Client implements pipeline.SynthesisClient on top of langchaingo.
type Client struct {
	llm    llms.Model
	config Config
	logger *logging.Logger
}

// NewClient creates a synthesis client with the given configuration.
func NewClient(config Config, logger *logging.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token even for keyless local endpoints.
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	return &Client{
		llm:    llm,
		config: config,
		logger: logger.Named("synthesis"),
	}, nil
}

// Synthesize generates enriched ticket context from the gathered bundle.
// The returned text is raw model output; truncation and fallback handling
// belong to the caller.
func (c *Client) Synthesize(ctx context.Context, job pipeline.EnhancementJob, bundle *pipeline.ContextBundle) (string, error) {
	prompt := buildPrompt(job, bundle)

	text, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt,
		llms.WithMaxTokens(defaultMaxTokens),
		llms.WithTemperature(defaultTemperature),
	)
	if err != nil {
		return "", fmt.Errorf("generating synthesis: %w", err)
	}

	c.logger.Debug(ctx, "synthesis complete",
		zap.String("model", c.config.Model),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("output_chars", len(text)),
	)

	return text, nil
}

// buildPrompt renders the job and gathered context into a single prompt.
// Source sections follow registration order; payload keys are sorted so the
// same bundle always yields the same prompt.
func buildPrompt(job pipeline.EnhancementJob, bundle *pipeline.ContextBundle) string {
	var b strings.Builder

	b.WriteString("You are a support engineer enriching a ticket for triage.\n")
	b.WriteString("Summarize the gathered context into actionable notes. Mention\n")
	b.WriteString("related tickets and runbook steps when present. Be concise.\n\n")

	fmt.Fprintf(&b, "Ticket %s (priority %s): %s\n", job.TicketID, job.Priority, job.Description)

	if bundle == nil || len(bundle.Results) == 0 {
		b.WriteString("\nNo context sources were available.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "\nContext (%d/%d sources responded):\n", bundle.SucceededCount, bundle.TotalCount)
	for _, res := range bundle.Results {
		if !res.Succeeded {
			fmt.Fprintf(&b, "\n[%s] unavailable (%s)\n", res.SourceName, res.ErrorKind)
			continue
		}
		fmt.Fprintf(&b, "\n[%s]\n", res.SourceName)
		keys := make([]string, 0, len(res.Payload))
		for k := range res.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %v\n", k, res.Payload[k])
		}
	}

	return b.String()
}
