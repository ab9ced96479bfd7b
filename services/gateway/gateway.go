// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway provides the hardened LLM gateway service.
//
// This package contains the main service type that coordinates all
// components: HTTP routing, the admission pipeline, the session manager,
// the chat orchestrator, the cost engine, both stores, and observability
// infrastructure.
//
// # Usage
//
//	cfg := gateway.Config{
//	    Port:        8090,
//	    DatabaseDSN: "postgres://...",
//	    RedisDSN:    "redis://localhost:6379/0",
//	    SessionSecret: secret,
//	}
//	svc, err := gateway.New(context.Background(), cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/gatewatch/services/gateway/chat"
	"github.com/AleutianAI/gatewatch/services/gateway/cost"
	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
	"github.com/AleutianAI/gatewatch/services/gateway/observability"
	"github.com/AleutianAI/gatewatch/services/gateway/routes"
	"github.com/AleutianAI/gatewatch/services/gateway/session"
	"github.com/AleutianAI/gatewatch/services/gateway/store"
	"github.com/AleutianAI/gatewatch/services/gateway/vault"
	"github.com/AleutianAI/gatewatch/services/llm"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the gateway service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until a shutdown signal or a
	// fatal server error. Shutdown drains in-flight requests.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine

	// Close releases stores and flushes the tracer. Run calls this on its
	// way out; call it directly only when Run was never started.
	Close()
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds gateway configuration options. DatabaseDSN, RedisDSN, and
// SessionSecret are required; everything else has a default.
type Config struct {
	// Port is the HTTP server port. Default: 8090
	Port int

	// DatabaseDSN is the Postgres connection string.
	DatabaseDSN string

	// RedisDSN is the Redis connection URL, e.g. "redis://localhost:6379/0".
	RedisDSN string

	// MinConns/MaxConns bound the Postgres pool. Defaults: 2/10.
	MinConns int32
	MaxConns int32

	// UpstreamAPIKey authenticates to the OpenAI-compatible upstream.
	// Empty falls back to the OPENAI_API_KEY environment variable.
	UpstreamAPIKey string

	// UpstreamBaseURL overrides the upstream endpoint for proxies and
	// self-hosted servers.
	UpstreamBaseURL string

	// Model is the upstream model for every turn. Default: gpt-4o-mini
	Model string

	// SessionSecret keys the session token HMAC. At least 32 bytes.
	SessionSecret []byte

	// SessionTTL is the rolling session lifetime. Default: 7 days.
	SessionTTL time.Duration

	// GlobalDailyBudgetMillicents is the process-wide daily spend ceiling.
	// Default: 1,000,000 millicents ($10).
	GlobalDailyBudgetMillicents int64

	// AlertThresholds are budget alert percentages. Default: 50, 75, 90.
	AlertThresholds []int

	// TierTablePath optionally points at a YAML tier-limit override file.
	TierTablePath string

	// ConvMaxTokens is the per-thread token cap before the summarize-and-
	// continue rollover. Default: 150,000.
	ConvMaxTokens int64

	// KDFMemoryKiB/KDFTime tune the password hasher. Zero uses defaults.
	KDFMemoryKiB uint32
	KDFTime      uint32

	// CORSOrigin, when set, is the single allowed browser origin.
	CORSOrigin string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "gatewatch-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics exposes /metrics. Default: true.
	EnableMetrics bool

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string

	// Development loosens cookie security for local HTTP.
	Development bool

	// InitSchema creates database tables at startup when true.
	InitSchema bool
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MinConns == 0 {
		cfg.MinConns = 2
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}
	if cfg.GlobalDailyBudgetMillicents == 0 {
		cfg.GlobalDailyBudgetMillicents = 10 * cost.MillicentsPerDollar
	}
	if cfg.ConvMaxTokens == 0 {
		cfg.ConvMaxTokens = chat.DefaultConvMaxTokens
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "gatewatch-otel-collector:4317"
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use. All fields are read-only
// after New() returns.
type service struct {
	config        Config
	router        *gin.Engine
	db            *store.DB
	kv            *store.KV
	manager       *session.Manager
	orchestrator  *chat.Orchestrator
	engine        *cost.Engine
	metrics       *observability.GatewayMetrics
	table         datatypes.TierTable
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a gateway Service: tracer, metrics, stores, vault, session
// manager, cost engine, chat orchestrator, then the router. Fails fast on
// unreachable stores; the process should not come up half-wired.
func New(ctx context.Context, cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		s.metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics")
	}

	s.table = datatypes.DefaultTierTable()
	if s.config.TierTablePath != "" {
		s.table, err = datatypes.LoadTierTable(s.config.TierTablePath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to load tier table: %w", err)
		}
		slog.Info("Loaded tier table override", "path", s.config.TierTablePath)
	}

	s.db, err = store.Open(ctx, s.config.DatabaseDSN, store.PoolConfig{
		MinConns: s.config.MinConns,
		MaxConns: s.config.MaxConns,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open Postgres: %w", err)
	}
	if s.config.InitSchema {
		if err := s.db.InitSchema(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	s.kv, err = store.OpenKV(ctx, s.config.RedisDSN)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open Redis: %w", err)
	}

	v := vault.New(vault.Config{
		MemoryKiB: s.config.KDFMemoryKiB,
		Time:      s.config.KDFTime,
	})
	s.manager, err = session.NewManager(session.Config{
		Secret: s.config.SessionSecret,
		TTL:    s.config.SessionTTL,
	}, s.db, s.kv, v)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to build session manager: %w", err)
	}

	s.engine = cost.New(cost.Config{
		DailyBudgetMillicents: s.config.GlobalDailyBudgetMillicents,
		AlertThresholds:       s.config.AlertThresholds,
	}, s.db, s.kv, nil, s.metrics)

	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  s.config.UpstreamAPIKey,
		BaseURL: s.config.UpstreamBaseURL,
		Model:   s.config.Model,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	s.orchestrator = chat.NewOrchestrator(chat.Config{
		Model:         s.config.Model,
		MaxRetries:    chat.DefaultMaxRetries,
		ConvMaxTokens: s.config.ConvMaxTokens,
	}, client, s.db, s.db, s.engine, s.metrics)

	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until SIGINT/SIGTERM or a fatal
// server error. Shutdown drains in-flight requests for up to 15 seconds.
func (s *service) Run() error {
	defer s.Close()

	addr := fmt.Sprintf(":%d", s.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting gateway server", "port", s.config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown did not drain cleanly: %w", err)
	}
	slog.Info("Gateway stopped")
	return nil
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close releases the stores and flushes the tracer. Safe to call on a
// partially constructed service.
func (s *service) Close() {
	if s.kv != nil {
		if err := s.kv.Close(); err != nil {
			slog.Warn("Redis close failed", "error", err)
		}
	}
	if s.db != nil {
		s.db.Close()
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer sets up the OTLP trace exporter to the configured collector.
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("gatewatch-gateway")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

// initRouter builds the Gin engine and installs all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("gatewatch-gateway"))

	routes.SetupRoutes(router, routes.Deps{
		DB:            s.db,
		KV:            s.kv,
		Manager:       s.manager,
		Orch:          s.orchestrator,
		Engine:        s.engine,
		Metrics:       s.metrics,
		Table:         s.table,
		Model:         s.config.Model,
		CORSOrigin:    s.config.CORSOrigin,
		EnableMetrics: s.config.EnableMetrics,
		Development:   s.config.Development,
	})
	s.router = router
}
