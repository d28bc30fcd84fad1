// Package config provides configuration loading for enrichd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. Pipeline budgets default to the documented values: 120s total,
// 30s context gathering, 30s synthesis, 10s per context source.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/enrichd/internal/logging"
)

// Config holds the complete enrichd configuration.
type Config struct {
	Logging   logging.Config  `koanf:"logging"`
	Server    ServerConfig    `koanf:"server"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	NATS      NATSConfig      `koanf:"nats"`
	Postgres  PostgresConfig  `koanf:"postgres"`
	Synthesis SynthesisConfig `koanf:"synthesis"`
	Update    UpdateConfig    `koanf:"update"`
	Sources   SourcesConfig   `koanf:"sources"`
	Tenants   []TenantEntry   `koanf:"tenants"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// PipelineConfig holds the deadline hierarchy for one enhancement job.
//
// The job-level hard ceiling is TotalBudget * HardCeilingFactor. Phase
// budgets are clamped to whatever remains of the job deadline, so the hard
// ceiling always wins over the sum of phase budgets.
type PipelineConfig struct {
	TotalBudget       Duration `koanf:"total_budget"`
	GatherBudget      Duration `koanf:"gather_budget"`
	SynthesisBudget   Duration `koanf:"synthesis_budget"`
	SourceTimeout     Duration `koanf:"source_timeout"`
	HardCeilingFactor float64  `koanf:"hard_ceiling_factor"`
	MaxWords          int      `koanf:"max_words"`
}

// NATSConfig holds job queue configuration.
type NATSConfig struct {
	URL           string `koanf:"url"`
	Subject       string `koanf:"subject"`
	QueueGroup    string `koanf:"queue_group"`
	MaxConcurrent int    `koanf:"max_concurrent"`
}

// PostgresConfig holds record store configuration.
type PostgresConfig struct {
	DSN Secret `koanf:"dsn"`
}

// SynthesisConfig holds LLM synthesis client configuration.
type SynthesisConfig struct {
	BaseURL string   `koanf:"base_url"`
	Model   string   `koanf:"model"`
	APIKey  Secret   `koanf:"api_key"`
	Timeout Duration `koanf:"timeout"`
}

// UpdateConfig holds external ticketing write-back configuration.
type UpdateConfig struct {
	BaseURL        string   `koanf:"base_url"`
	Token          Secret   `koanf:"token"`
	MaxRetries     int      `koanf:"max_retries"`
	InitialBackoff Duration `koanf:"initial_backoff"`
}

// SourcesConfig holds context source adapter configuration.
type SourcesConfig struct {
	TicketSearchURL   string `koanf:"ticket_search_url"`
	TicketSearchToken Secret `koanf:"ticket_search_token"`
	KnowledgeBasePath string `koanf:"knowledge_base_path"`
	EmbeddingModel    string `koanf:"embedding_model"`
}

// TenantEntry declares one tenant known to this deployment.
type TenantEntry struct {
	ID             string `koanf:"id"`
	Name           string `koanf:"name"`
	ExternalSystem string `koanf:"external_system"`
	ProjectKey     string `koanf:"project_key"`
}

// NewDefaultConfig returns config with documented defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Logging: *logging.NewDefaultConfig(),
		Server: ServerConfig{
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Pipeline: PipelineConfig{
			TotalBudget:       Duration(120 * time.Second),
			GatherBudget:      Duration(30 * time.Second),
			SynthesisBudget:   Duration(30 * time.Second),
			SourceTimeout:     Duration(10 * time.Second),
			HardCeilingFactor: 2.0,
			MaxWords:          500,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Subject:       "enrichd.jobs",
			QueueGroup:    "enrichd-workers",
			MaxConcurrent: 8,
		},
		Synthesis: SynthesisConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: Duration(30 * time.Second),
		},
		Update: UpdateConfig{
			MaxRetries:     3,
			InitialBackoff: Duration(2 * time.Second),
		},
		Sources: SourcesConfig{
			KnowledgeBasePath: "./data/kb",
			EmbeddingModel:    "text-embedding-3-small",
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if c.NATS.MaxConcurrent <= 0 {
		return fmt.Errorf("nats max_concurrent must be > 0, got %d", c.NATS.MaxConcurrent)
	}
	if c.Update.MaxRetries < 0 {
		return fmt.Errorf("update max_retries cannot be negative")
	}
	seen := make(map[string]struct{}, len(c.Tenants))
	for _, t := range c.Tenants {
		if t.ID == "" {
			return fmt.Errorf("tenant entry missing id")
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate tenant id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// Validate checks the deadline hierarchy for consistency.
func (p *PipelineConfig) Validate() error {
	if p.TotalBudget.Duration() <= 0 {
		return fmt.Errorf("total_budget must be > 0")
	}
	if p.GatherBudget.Duration() <= 0 || p.SynthesisBudget.Duration() <= 0 {
		return fmt.Errorf("phase budgets must be > 0")
	}
	if p.SourceTimeout.Duration() <= 0 {
		return fmt.Errorf("source_timeout must be > 0")
	}
	if p.SourceTimeout.Duration() > p.GatherBudget.Duration() {
		return fmt.Errorf("source_timeout %s exceeds gather_budget %s",
			p.SourceTimeout.Duration(), p.GatherBudget.Duration())
	}
	if p.HardCeilingFactor < 1.0 {
		return fmt.Errorf("hard_ceiling_factor must be >= 1.0, got %g", p.HardCeilingFactor)
	}
	if p.MaxWords <= 0 {
		return fmt.Errorf("max_words must be > 0, got %d", p.MaxWords)
	}
	return nil
}

// HardCeiling returns the job-level hard deadline for one pipeline run.
func (p *PipelineConfig) HardCeiling() time.Duration {
	return time.Duration(float64(p.TotalBudget.Duration()) * p.HardCeilingFactor)
}
