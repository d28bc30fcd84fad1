// Package main provides the webhook ingress for enrichd.
//
// This server receives ticket events from external ticketing systems,
// validates their HMAC-SHA256 signatures, and enqueues enhancement jobs on
// NATS for the worker fleet.
//
// Usage:
//
//	NATS_URL=nats://localhost:4222 \
//	WEBHOOK_SECRET=your_secret \
//	PORT=3000 \
//	./enrichd-webhook
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/enrichd/internal/config"
	"github.com/fyrsmithlabs/enrichd/internal/logging"
	"github.com/fyrsmithlabs/enrichd/internal/pipeline"
	"github.com/fyrsmithlabs/enrichd/internal/worker"
)

const signatureHeader = "X-Enrichd-Signature"

// Config holds webhook server configuration.
type Config struct {
	NATSURL       string
	Subject       string
	WebhookSecret config.Secret
	Port          string
}

// ticketEvent is the wire format external ticketing systems send us.
type ticketEvent struct {
	Event    string `json:"event"`
	TenantID string `json:"tenantId"`
	Ticket   struct {
		ID          string `json:"id"`
		Description string `json:"description"`
		Priority    string `json:"priority"`
	} `json:"ticket"`
}

type WebhookServer struct {
	publisher     *worker.Publisher
	webhookSecret config.Secret
	logger        *logging.Logger
	rateLimiters  map[string]*rate.Limiter
	mu            sync.RWMutex
	lastCleanup   time.Time
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Create root context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logCfg := logging.NewDefaultConfig()
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()

	logger.Info(ctx, "webhook ingress starting",
		zap.String("port", cfg.Port),
		zap.String("nats_url", cfg.NATSURL),
		zap.String("subject", cfg.Subject),
	)

	if cfg.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET not set")
	}

	nc, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return fmt.Errorf("unable to connect to NATS: %w", err)
	}
	defer nc.Close()

	logger.Info(ctx, "NATS connected", zap.String("url", cfg.NATSURL))

	publisher, err := worker.NewPublisher(nc, cfg.Subject, logger)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}

	server := &WebhookServer{
		publisher:     publisher,
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", server.handleWebhook)
	mux.HandleFunc("/health", handleHealth)

	// Create HTTP server with timeouts to prevent slowloris attacks
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(ctx, "HTTP server listening", zap.String("addr", httpServer.Addr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server shutdown error", zap.Error(err))
		return err
	}

	logger.Info(ctx, "server stopped gracefully")
	return nil
}

func loadConfig() *Config {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	subject := os.Getenv("NATS_SUBJECT")
	if subject == "" {
		subject = "enrichd.jobs"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	return &Config{
		NATSURL:       natsURL,
		Subject:       subject,
		WebhookSecret: config.Secret(os.Getenv("WEBHOOK_SECRET")),
		Port:          port,
	}
}

// getRateLimiter returns a rate limiter for the given IP address.
// Rate limit: 60 requests per minute per IP address.
func (s *WebhookServer) getRateLimiter(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rateLimiters == nil {
		s.rateLimiters = make(map[string]*rate.Limiter)
		s.lastCleanup = time.Now()
	}

	// Clean up old limiters every hour to prevent memory leaks
	if time.Since(s.lastCleanup) > time.Hour {
		s.rateLimiters = make(map[string]*rate.Limiter)
		s.lastCleanup = time.Now()
	}

	limiter, exists := s.rateLimiters[ip]
	if !exists {
		// 60 requests per minute = 1 per second with burst of 10
		limiter = rate.NewLimiter(rate.Limit(1), 10)
		s.rateLimiters[ip] = limiter
	}

	return limiter
}

// getClientIP extracts the client IP address from the request.
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (proxy/load balancer)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// validSignature checks the request's HMAC-SHA256 signature against the
// shared secret. Signatures are hex encoded with a "sha256=" prefix.
func validSignature(payload []byte, header string, secret []byte) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), want)
}

func (s *WebhookServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := getClientIP(r)
	limiter := s.getRateLimiter(clientIP)
	if !limiter.Allow() {
		s.logger.Warn(ctx, "rate limit exceeded", zap.String("ip", clientIP))
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	// Limit request body size to prevent DoS attacks (1MB max)
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Unreadable payload", http.StatusBadRequest)
		return
	}

	if !validSignature(payload, r.Header.Get(signatureHeader), []byte(s.webhookSecret.Value())) {
		s.logger.Warn(ctx, "invalid webhook signature", zap.String("ip", clientIP))
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event ticketEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn(ctx, "failed to parse webhook", zap.Error(err))
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if event.Event != "ticket.created" {
		s.logger.Debug(ctx, "ignoring event type", zap.String("type", event.Event))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ignored"})
		return
	}

	if err := s.handleTicketCreated(ctx, event); err != nil {
		s.logger.Error(ctx, "error handling ticket event", zap.Error(err))
		http.Error(w, "Invalid ticket event", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

func (s *WebhookServer) handleTicketCreated(ctx context.Context, event ticketEvent) error {
	job := pipeline.EnhancementJob{
		TenantID:    event.TenantID,
		TicketID:    event.Ticket.ID,
		Description: event.Ticket.Description,
		Priority:    pipeline.Priority(event.Ticket.Priority),
		SubmittedAt: time.Now().UTC(),
	}

	// Publish validates the job; malformed events never reach the queue.
	if err := s.publisher.Publish(ctx, job); err != nil {
		return err
	}

	s.logger.Info(ctx, "enhancement job queued",
		zap.String("tenant_id", job.TenantID),
		zap.String("ticket_id", job.TicketID),
		zap.String("priority", string(job.Priority)),
	)
	return nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
