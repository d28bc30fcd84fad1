package sources

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/enrichd/internal/logging"
	"github.com/fyrsmithlabs/enrichd/internal/tenant"
)

// IPLookupAdapter resolves the tenant's external ticketing host and reports
// the addresses and lookup latency. A ticket raised against an unreachable
// system is a strong triage signal, so this lands in the context bundle
// alongside ticket history.
type IPLookupAdapter struct {
	resolver *net.Resolver
	tenants  tenant.Resolver
	logger   *logging.Logger
}

// NewIPLookupAdapter creates the adapter. A nil resolver uses the system
// default.
func NewIPLookupAdapter(resolver *net.Resolver, tenants tenant.Resolver, logger *logging.Logger) *IPLookupAdapter {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &IPLookupAdapter{
		resolver: resolver,
		tenants:  tenants,
		logger:   logger.Named("ip_lookup"),
	}
}

func (a *IPLookupAdapter) Name() string { return "ip_lookup" }

// Fetch resolves the tenant's external system host.
func (a *IPLookupAdapter) Fetch(ctx context.Context, tenantID, ticketID string) (map[string]any, error) {
	cfg, err := a.tenants.Resolve(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolving tenant %s: %w", tenantID, err)
	}

	host, err := hostFromSystem(cfg.ExternalSystem)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	addrs, err := a.resolver.LookupHost(ctx, host)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", host, err)
	}

	a.logger.Debug(ctx, "resolved external system host",
		zap.String("host", host),
		zap.Int("addresses", len(addrs)),
		zap.Duration("elapsed", elapsed),
	)

	return map[string]any{
		"host":      host,
		"addresses": addrs,
		"lookupMs":  elapsed.Milliseconds(),
	}, nil
}

// hostFromSystem accepts either a bare hostname or a URL.
func hostFromSystem(system string) (string, error) {
	if system == "" {
		return "", fmt.Errorf("tenant has no external system configured")
	}
	if u, err := url.Parse(system); err == nil && u.Host != "" {
		return u.Hostname(), nil
	}
	return system, nil
}
