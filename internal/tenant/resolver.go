// Package tenant resolves tenant configuration for enhancement jobs.
//
// A tenant is resolved exactly once per job, before any pipeline stage runs,
// and its immutable Config is passed by value through the call chain.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned when a tenant ID has no configuration.
var ErrNotFound = errors.New("tenant not found")

// Config is the immutable per-tenant configuration resolved at job start.
type Config struct {
	ID             string
	Name           string
	ExternalSystem string
	ProjectKey     string
}

// Resolver resolves tenant configuration by ID.
type Resolver interface {
	// Resolve returns the tenant's config, or ErrNotFound.
	Resolve(ctx context.Context, tenantID string) (Config, error)
}

// idPattern restricts tenant IDs to lowercase alphanumeric, hyphen, underscore.
var idPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidateID checks that a tenant ID is well-formed.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return fmt.Errorf("tenant ID exceeds 64 characters")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("tenant ID %q contains invalid characters", id)
	}
	return nil
}

// StaticResolver resolves tenants from an in-memory table built at startup.
type StaticResolver struct {
	tenants map[string]Config
}

// NewStaticResolver builds a resolver from the configured tenant entries.
// Entries with invalid IDs are rejected.
func NewStaticResolver(configs []Config) (*StaticResolver, error) {
	tenants := make(map[string]Config, len(configs))
	for _, c := range configs {
		if err := ValidateID(c.ID); err != nil {
			return nil, err
		}
		if _, dup := tenants[c.ID]; dup {
			return nil, fmt.Errorf("duplicate tenant %q", c.ID)
		}
		tenants[c.ID] = c
	}
	return &StaticResolver{tenants: tenants}, nil
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(ctx context.Context, tenantID string) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, err
	}
	cfg, ok := r.tenants[tenantID]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
	}
	return cfg, nil
}
