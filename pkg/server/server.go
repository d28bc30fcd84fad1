// Package server provides the HTTP surface of enrichd.
//
// This package implements a graceful HTTP server with Echo router, health
// and metrics endpoints, and read-only access to enhancement records.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fyrsmithlabs/enrichd/internal/config"
	"github.com/fyrsmithlabs/enrichd/internal/record"
)

// Server represents the HTTP server.
type Server struct {
	config  config.ServerConfig
	echo    *echo.Echo
	records record.Store
}

// HealthResponse is the JSON response for the /health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// NewServer creates a new HTTP server with the given configuration.
//
// The server includes:
//   - Echo router for HTTP routing
//   - Standard middleware (logger, recoverer, request ID)
//   - Health check endpoint at GET /health
//   - Prometheus metrics at GET /metrics
//   - Read-only record endpoints under /api/v1
//   - Graceful shutdown support
func NewServer(cfg config.ServerConfig, records record.Store) *Server {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		config:  cfg,
		echo:    e,
		records: records,
	}

	s.registerRoutes()

	return s
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/api/v1/records/:id", s.handleGetRecord)
	s.echo.GET("/api/v1/tickets/:ticket_id/records", s.handleListRecords)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: "enrichd",
	})
}

// handleGetRecord returns one enhancement record by ID.
func (s *Server) handleGetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid record ID",
		})
	}

	rec, err := s.records.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "record not found",
			})
		}
		return err
	}

	return c.JSON(http.StatusOK, rec)
}

// handleListRecords returns all enhancement records for a tenant's ticket,
// newest first. The tenant query parameter is required.
func (s *Server) handleListRecords(c echo.Context) error {
	tenantID := c.QueryParam("tenant")
	if tenantID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "tenant query parameter required",
		})
	}

	recs, err := s.records.ListByTicket(c.Request().Context(), tenantID, c.Param("ticket_id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"records": recs,
		"count":   len(recs),
	})
}

// Start starts the HTTP server and blocks until context is cancelled.
//
// When the context is cancelled, the server performs graceful shutdown
// with the configured timeout. Returns http.ErrServerClosed on graceful
// shutdown, or any other error encountered during startup or shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	errCh := make(chan error, 1)

	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.config.ShutdownTimeout.Duration(),
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}

		return http.ErrServerClosed
	}
}

// Echo returns the underlying Echo instance for registering additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
