// Enrichd is a multi-tenant ticket enhancement daemon.
//
// This binary consumes enhancement jobs from NATS, gathers context from the
// configured sources, synthesizes enriched ticket notes, writes them back to
// the external ticketing system, and records every outcome in Postgres.
//
// Configuration is loaded from an optional YAML file plus environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	enrichd
//
//	# Configure via file and environment
//	POSTGRES_DSN=postgres://... enrichd -config /etc/enrichd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/enrichd/internal/config"
	"github.com/fyrsmithlabs/enrichd/internal/logging"
	"github.com/fyrsmithlabs/enrichd/internal/pipeline"
	"github.com/fyrsmithlabs/enrichd/internal/record"
	"github.com/fyrsmithlabs/enrichd/internal/sources"
	"github.com/fyrsmithlabs/enrichd/internal/synthesis"
	"github.com/fyrsmithlabs/enrichd/internal/telemetry"
	"github.com/fyrsmithlabs/enrichd/internal/tenant"
	"github.com/fyrsmithlabs/enrichd/internal/update"
	"github.com/fyrsmithlabs/enrichd/internal/worker"
	"github.com/fyrsmithlabs/enrichd/pkg/server"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  enrichd            Start the enhancement daemon\n")
			fmt.Fprintf(os.Stderr, "  enrichd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("enrichd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the enhancement daemon and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes logger and metrics
//  3. Connects to infrastructure (Postgres, NATS, knowledge base)
//  4. Builds the context source adapters and pipeline stages
//  5. Starts the job consumer and HTTP server
//  6. Performs graceful shutdown on context cancellation
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting enrichd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("total_budget", cfg.Pipeline.TotalBudget.Duration()),
		zap.Duration("hard_ceiling", cfg.Pipeline.HardCeiling()),
	)

	metrics := telemetry.NewMetrics()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info(ctx, "dependencies initialized",
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.Bool("record_store_ready", deps.store != nil),
		zap.Int("tenants", len(cfg.Tenants)),
	)

	orch, err := buildPipeline(cfg, deps, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	consumer, err := worker.NewConsumer(deps.natsConn, worker.Config{
		Subject:       cfg.NATS.Subject,
		QueueGroup:    cfg.NATS.QueueGroup,
		MaxConcurrent: cfg.NATS.MaxConcurrent,
	}, orch, logger)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	srv := server.NewServer(cfg.Server, deps.store)

	logger.Info(ctx, "server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"),
		zap.String("job_subject", cfg.NATS.Subject),
	)

	// Blocks until context cancellation.
	serveErr := srv.Start(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := consumer.Stop(drainCtx); err != nil {
		logger.Warn(ctx, "consumer drain incomplete", zap.Error(err))
	}

	return serveErr
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	natsConn *nats.Conn
	store    *record.PostgresStore
	tenants  tenant.Resolver
	kb       *chromem.DB
	logger   *logging.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.logger != nil {
		_ = d.logger.Sync() // Best-effort sync
	}
}

// initDependencies initializes all infrastructure dependencies.
//
// This function:
//  1. Opens the Postgres record store and runs migrations
//  2. Connects to NATS for job consumption
//  3. Builds the static tenant resolver
//  4. Opens the persistent knowledge base
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	store, err := record.NewPostgresStore(ctx, cfg.Postgres.DSN.Value())
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate record store: %w", err)
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL))

	tenantConfigs := make([]tenant.Config, len(cfg.Tenants))
	for i, entry := range cfg.Tenants {
		tenantConfigs[i] = tenant.Config{
			ID:             entry.ID,
			Name:           entry.Name,
			ExternalSystem: entry.ExternalSystem,
			ProjectKey:     entry.ProjectKey,
		}
	}
	tenants, err := tenant.NewStaticResolver(tenantConfigs)
	if err != nil {
		nc.Close()
		store.Close()
		return nil, fmt.Errorf("failed to build tenant resolver: %w", err)
	}

	kb, err := chromem.NewPersistentDB(cfg.Sources.KnowledgeBasePath, false)
	if err != nil {
		nc.Close()
		store.Close()
		return nil, fmt.Errorf("failed to open knowledge base at %s: %w", cfg.Sources.KnowledgeBasePath, err)
	}

	return &dependencies{
		natsConn: nc,
		store:    store,
		tenants:  tenants,
		kb:       kb,
		logger:   logger,
	}, nil
}

// buildPipeline assembles the source adapters and pipeline stages into an
// orchestrator.
func buildPipeline(cfg *config.Config, deps *dependencies, logger *logging.Logger, metrics *telemetry.Metrics) (*pipeline.Orchestrator, error) {
	var adapters []pipeline.SourceAdapter

	if cfg.Sources.TicketSearchURL != "" {
		ticketAPI, err := sources.NewTicketAPIClient(cfg.Sources.TicketSearchURL, cfg.Sources.TicketSearchToken.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to create ticket API client: %w", err)
		}

		adapters = append(adapters, sources.NewTicketSearchAdapter(ticketAPI, 0, logger))

		embedFunc, err := synthesis.NewEmbeddingFunc(synthesis.EmbedderConfig{
			BaseURL: cfg.Synthesis.BaseURL,
			Model:   cfg.Sources.EmbeddingModel,
			APIKey:  cfg.Synthesis.APIKey.Value(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding function: %w", err)
		}

		adapters = append(adapters, sources.NewKnowledgeBaseAdapter(deps.kb, embedFunc, ticketAPI, 0, logger))
	}

	adapters = append(adapters, sources.NewIPLookupAdapter(nil, deps.tenants, logger))

	names := make([]string, len(adapters))
	for i, a := range adapters {
		names[i] = a.Name()
	}
	logger.Info(context.Background(), "context sources registered", zap.Strings("sources", names))

	gatherer := pipeline.NewGatherer(adapters, cfg.Pipeline.SourceTimeout.Duration(), logger, metrics)

	synthClient, err := synthesis.NewClient(synthesis.Config{
		BaseURL: cfg.Synthesis.BaseURL,
		Model:   cfg.Synthesis.Model,
		APIKey:  cfg.Synthesis.APIKey.Value(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis client: %w", err)
	}

	synthStage := pipeline.NewSynthesisStage(synthClient, cfg.Pipeline.MaxWords, logger, metrics)

	updateClient, err := update.NewClient(
		cfg.Update.BaseURL,
		cfg.Update.Token.Value(),
		update.RetryConfig{
			MaxAttempts:    cfg.Update.MaxRetries,
			InitialBackoff: cfg.Update.InitialBackoff.Duration(),
		},
		logger,
		metrics,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create update client: %w", err)
	}

	return pipeline.NewOrchestrator(
		cfg.Pipeline,
		deps.tenants,
		gatherer,
		synthStage,
		updateClient,
		deps.store,
		logger,
		metrics,
	), nil
}
