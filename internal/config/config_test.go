package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 120*time.Second, cfg.Pipeline.TotalBudget.Duration())
	assert.Equal(t, 30*time.Second, cfg.Pipeline.GatherBudget.Duration())
	assert.Equal(t, 30*time.Second, cfg.Pipeline.SynthesisBudget.Duration())
	assert.Equal(t, 10*time.Second, cfg.Pipeline.SourceTimeout.Duration())
	assert.Equal(t, 500, cfg.Pipeline.MaxWords)
	assert.Equal(t, 240*time.Second, cfg.Pipeline.HardCeiling())
	assert.Equal(t, 3, cfg.Update.MaxRetries)

	require.NoError(t, cfg.Validate())
}

func TestPipelineConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PipelineConfig)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(p *PipelineConfig) {},
		},
		{
			name:    "zero total budget",
			mutate:  func(p *PipelineConfig) { p.TotalBudget = 0 },
			wantErr: "total_budget",
		},
		{
			name: "source timeout wider than gather budget",
			mutate: func(p *PipelineConfig) {
				p.SourceTimeout = Duration(time.Minute)
			},
			wantErr: "source_timeout",
		},
		{
			name:    "ceiling below budget",
			mutate:  func(p *PipelineConfig) { p.HardCeilingFactor = 0.5 },
			wantErr: "hard_ceiling_factor",
		},
		{
			name:    "zero max words",
			mutate:  func(p *PipelineConfig) { p.MaxWords = 0 },
			wantErr: "max_words",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewDefaultConfig().Pipeline
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfigValidate_DuplicateTenant(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Tenants = []TenantEntry{
		{ID: "acme"},
		{ID: "acme"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate tenant")
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
pipeline:
  total_budget: 60s
  gather_budget: 15s
tenants:
  - id: acme
    name: Acme Corp
    external_system: jira
    project_key: ACME
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("PIPELINE_SYNTHESIS_BUDGET", "20s")
	t.Setenv("NATS_URL", "nats://queue:4222")
	t.Setenv("HOME_UNRELATED", "ignored")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Pipeline.TotalBudget.Duration())
	assert.Equal(t, 15*time.Second, cfg.Pipeline.GatherBudget.Duration())
	assert.Equal(t, 20*time.Second, cfg.Pipeline.SynthesisBudget.Duration())
	assert.Equal(t, "nats://queue:4222", cfg.NATS.URL)
	require.Len(t, cfg.Tenants, 1)
	assert.Equal(t, "acme", cfg.Tenants[0].ID)
	assert.Equal(t, "jira", cfg.Tenants[0].ExternalSystem)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hunter2")
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("bogus")))
}
