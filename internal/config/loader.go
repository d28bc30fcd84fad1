package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// envSections lists the top-level config sections that can be overridden
// from the environment. Anything else in the environment is ignored.
var envSections = map[string]bool{
	"logging":   true,
	"server":    true,
	"pipeline":  true,
	"nats":      true,
	"postgres":  true,
	"synthesis": true,
	"update":    true,
	"sources":   true,
}

// Load loads configuration from an optional YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (PIPELINE_TOTAL_BUDGET, NATS_URL, ...)
//  2. YAML config file
//  3. Defaults from NewDefaultConfig
//
// Environment variables map section-first onto config keys:
//
//	SERVER_PORT            -> server.port
//	PIPELINE_TOTAL_BUDGET  -> pipeline.total_budget
//	POSTGRES_DSN           -> postgres.dsn
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envTransform maps environment variable names onto config keys.
// Returns "" for variables outside known sections, which koanf skips.
func envTransform(s string) string {
	lower := strings.ToLower(s)
	section, rest, found := strings.Cut(lower, "_")
	if !found || !envSections[section] {
		return ""
	}
	return section + "." + rest
}

// readConfigFile opens and reads the config file with a size cap.
// The file is opened once and validated through its descriptor to avoid
// a TOCTOU race between stat and read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
