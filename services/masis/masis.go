// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package masis provides the MASIS synthesis service: wiring for the
// self-correcting retrieval-and-synthesis pipeline, document ingestion,
// the Weaviate evidence store, the LLM collaborators, and the HTTP
// surface.
//
// # Usage
//
//	cfg := masis.Config{Port: 12310, LLMBackend: "ollama",
//	    WeaviateURL: "http://localhost:8080",
//	    EmbeddingURL: "http://localhost:12320"}
//	svc, err := masis.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package masis

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Adnan-Haque/MASIS/services/llm"
	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
	"github.com/Adnan-Haque/MASIS/services/masis/handlers"
	"github.com/Adnan-Haque/MASIS/services/masis/ingest"
	"github.com/Adnan-Haque/MASIS/services/masis/observability"
	"github.com/Adnan-Haque/MASIS/services/masis/pipeline"
	"github.com/Adnan-Haque/MASIS/services/masis/ratelimit"
	"github.com/Adnan-Haque/MASIS/services/masis/routes"
	"github.com/Adnan-Haque/MASIS/services/masis/search"
	"github.com/Adnan-Haque/MASIS/services/masis/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the lifecycle contract of the synthesis service. Run blocks
// and must be called at most once per instance; Router exposes the
// configured engine for integration tests.
type Service interface {
	Run() error
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds the service configuration. Zero values fall back to
// defaults in New; WeaviateURL and EmbeddingURL are the only required
// fields, since the pipeline cannot retrieve evidence without them.
type Config struct {
	// Port is the HTTP server port. Default: 12310.
	Port int

	// GinMode sets the Gin framework mode: debug, release, or test.
	// Default: the GIN_MODE environment variable, then release.
	GinMode string

	// LLMBackend selects the model provider: local, openai, ollama,
	// claude/anthropic. Default: local.
	LLMBackend string

	// Tiers overrides the role-to-model assignment. Zero value uses
	// DefaultTierSet for the backend. Judge roles must outrank drafting;
	// New fails on a violating assignment.
	Tiers llm.TierSet

	// WeaviateURL is the vector search backend. Required.
	WeaviateURL string

	// EmbeddingURL is the embedding service base URL. Required.
	EmbeddingURL string

	// OTelEndpoint is the OTLP gRPC collector. Empty disables the OTLP
	// exporter; Debug then selects the stdout trace exporter.
	OTelEndpoint string

	// Debug enables the stdout trace exporter when no collector is
	// configured.
	Debug bool

	// EnableMetrics exposes Prometheus metrics on /metrics. Default: true
	// (set DisableMetrics to turn off).
	DisableMetrics bool

	// AuthToken protects /v1 with bearer-token auth when non-empty.
	AuthToken string

	// DataDir is the Badger metadata directory. Default: ./data/meta.
	DataDir string

	// BlobDir is the uploaded-document blob directory. Default:
	// ./data/blobs.
	BlobDir string

	// LLMCallsPerMinute is the shared sliding-window admission limit
	// across all concurrent requests. Default: 60.
	LLMCallsPerMinute int

	// Pipeline overrides the stage tunables. Zero values use the stage
	// defaults.
	Pipeline pipeline.Config

	// Ingest overrides the ingestion worker tunables.
	Ingest ingest.Config

	// SweepInterval and StuckAfter govern the stuck-document sweeper.
	// Defaults: 1 minute and 10 minutes.
	SweepInterval time.Duration
	StuckAfter    time.Duration

	// DropFolder watches a directory for files to ingest into
	// DropWorkspaceID. Both empty disables the watcher.
	DropFolder      string
	DropWorkspaceID string

	// InfluxURL enables the quality-history sink when non-empty.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// GCSBucket enables upload archiving when non-empty. GCSKeyPath may
	// point at a service-account key file.
	GCSBucket  string
	GCSKeyPath string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service. All fields are read-only after New.
type service struct {
	config Config
	router *gin.Engine

	weaviateClient *weaviate.Client
	meta           *store.MetadataStore
	blobs          *store.BlobStore
	archive        *store.GCSArchive

	limiter  *ratelimit.SlidingWindow
	tiers    llm.TierSet
	pipeline *pipeline.Pipeline
	hub      *handlers.EventHub

	worker     *ingest.Worker
	sweeper    *ingest.Sweeper
	dropFolder *ingest.DropFolder

	qualitySink   *observability.QualitySink
	tracerCleanup func(context.Context)
}

var _ Service = (*service)(nil)

// multiObserver fans pipeline progress out to several sinks.
type multiObserver []pipeline.TraceObserver

func (m multiObserver) OnTrace(requestID string, entry datatypes.TraceEntry) {
	for _, o := range m {
		o.OnTrace(requestID, entry)
	}
}

func (m multiObserver) OnDecision(requestID string, entry datatypes.DecisionLogEntry) {
	for _, o := range m {
		o.OnDecision(requestID, entry)
	}
}

func (m multiObserver) OnComplete(requestID string, rec *datatypes.PipelineRecord) {
	for _, o := range m {
		o.OnComplete(requestID, rec)
	}
}

// =============================================================================
// Constructor
// =============================================================================

// New assembles the service: tracing, metrics, the Weaviate client and
// schema, stores, the ingestion worker, the tiered LLM clients behind the
// shared call limiter, the pipeline, and the HTTP router. It returns an
// error on any misconfiguration a deployment must not run with, such as a
// judge tier that does not outrank the drafting tier.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	var metrics *observability.ServiceMetrics
	if !s.config.DisableMetrics {
		metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics")
	}

	if err := s.initWeaviate(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize search backend: %w", err)
	}

	if err := s.initStores(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize stores: %w", err)
	}

	embedder := search.NewHTTPEmbedder(s.config.EmbeddingURL)
	searcher := search.NewWeaviateSearcher(s.weaviateClient, embedder)
	evidenceStore := search.NewEvidenceStore(s.weaviateClient)

	if err := s.initPipeline(searcher, metrics); err != nil {
		s.cleanup()
		return nil, err
	}

	if err := s.initIngestion(embedder, evidenceStore); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize ingestion: %w", err)
	}

	s.initRouter(evidenceStore)
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until it stops. Background
// components are released on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting MASIS server",
		"port", s.config.Port,
		"llm_backend", s.config.LLMBackend,
		"weaviate_url", s.config.WeaviateURL)

	return s.router.Run(addr)
}

// Router returns the configured Gin engine for integration tests.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "local"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/meta"
	}
	if cfg.BlobDir == "" {
		cfg.BlobDir = "./data/blobs"
	}
	if cfg.LLMCallsPerMinute <= 0 {
		cfg.LLMCallsPerMinute = 60
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 10 * time.Minute
	}
	if cfg.Tiers == (llm.TierSet{}) {
		cfg.Tiers = llm.DefaultTierSet(cfg.LLMBackend)
	}
	return cfg
}

// initTracer sets up OpenTelemetry span export: OTLP gRPC when a
// collector is configured, stdout in debug mode, otherwise spans stay
// process-local.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	switch {
	case s.config.OTelEndpoint != "":
		conn, err := grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
	case s.config.Debug:
		var err error
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
	default:
		return func(context.Context) {}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("masis-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown trace exporter", "error", err)
		}
	}
	return cleanup, nil
}

// initWeaviate connects to the vector search backend and ensures the
// evidence schema exists. Unlike ancillary backends this one is required:
// the service is useless without retrieval.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		return fmt.Errorf("WeaviateURL is required")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	s.weaviateClient, err = weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	if err := datatypes.EnsureWeaviateSchema(s.weaviateClient); err != nil {
		return fmt.Errorf("failed to ensure evidence schema: %w", err)
	}
	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

// initStores opens the metadata and blob stores, plus the optional GCS
// archive.
func (s *service) initStores() error {
	meta, err := store.Open(store.DefaultConfig(s.config.DataDir))
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	s.meta = meta

	blobs, err := store.NewBlobStore(s.config.BlobDir)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}
	s.blobs = blobs

	if s.config.GCSBucket != "" {
		archive, err := store.NewGCSArchive(context.Background(), s.config.GCSBucket, s.config.GCSKeyPath)
		if err != nil {
			slog.Warn("GCS archive unavailable, uploads will not be archived", "error", err)
		} else {
			s.archive = archive
		}
	}
	return nil
}

// initPipeline validates the tier assignment, builds the per-role LLM
// clients behind the shared sliding-window limiter, and assembles the
// pipeline with the configured observers.
func (s *service) initPipeline(searcher pipeline.EvidenceSearcher, metrics *observability.ServiceMetrics) error {
	s.tiers = s.config.Tiers
	if err := s.tiers.Validate(); err != nil {
		return fmt.Errorf("invalid model tier assignment: %w", err)
	}

	s.limiter = ratelimit.NewSlidingWindow(s.config.LLMCallsPerMinute, time.Minute)

	generator, err := s.newBackendClient(llm.RoleDraft)
	if err != nil {
		return fmt.Errorf("failed to create drafting client: %w", err)
	}
	compressor, err := s.newBackendClient(llm.RoleCompress)
	if err != nil {
		return fmt.Errorf("failed to create compression client: %w", err)
	}
	auditJudge, err := s.newBackendClient(llm.RoleAudit)
	if err != nil {
		return fmt.Errorf("failed to create audit client: %w", err)
	}
	evalJudge, err := s.newBackendClient(llm.RoleEvaluate)
	if err != nil {
		return fmt.Errorf("failed to create evaluation client: %w", err)
	}

	s.hub = handlers.NewEventHub()
	observers := multiObserver{s.hub}
	if metrics != nil {
		observers = append(observers, observability.NewPipelineObserver(metrics))
	}
	if s.config.InfluxURL != "" {
		s.qualitySink = observability.NewQualitySink(s.config.InfluxURL,
			s.config.InfluxToken, s.config.InfluxOrg, s.config.InfluxBucket)
		observers = append(observers, s.qualitySink)
		slog.Info("Quality-history sink enabled", "url", s.config.InfluxURL)
	}

	s.pipeline = pipeline.New(searcher, generator, compressor, auditJudge, evalJudge,
		s.config.Pipeline, observers)

	slog.Info("Pipeline assembled",
		"backend", s.config.LLMBackend,
		"draft_model", s.tiers.Draft.Model,
		"judge_model", s.tiers.Audit.Model,
		"llm_calls_per_minute", s.config.LLMCallsPerMinute)
	return nil
}

// newBackendClient creates one role's LLM client and wraps it in the
// shared limiter. On local deployments tier separation runs through the
// judge service URL; elsewhere it runs through the model name.
func (s *service) newBackendClient(role llm.Role) (llm.LLMClient, error) {
	model := s.tiers.ForRole(role).Model

	var (
		client llm.LLMClient
		err    error
	)
	switch s.config.LLMBackend {
	case "openai":
		client, err = llm.NewOpenAIClient(model)
	case "ollama":
		client, err = llm.NewOllamaClient(model)
	case "claude", "anthropic":
		client, err = llm.NewAnthropicClient(model)
	case "local":
		envVar := "LLM_SERVICE_URL_BASE"
		if role == llm.RoleAudit || role == llm.RoleEvaluate {
			envVar = "LLM_JUDGE_SERVICE_URL"
		}
		client, err = llm.NewLocalLlamaCppClient(envVar)
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", s.config.LLMBackend)
	}
	if err != nil {
		return nil, err
	}
	return llm.WithLimiter(client, s.limiter), nil
}

// initIngestion starts the worker, the stuck-document sweeper, and the
// optional drop-folder watcher.
func (s *service) initIngestion(embedder search.EmbeddingProvider, indexer ingest.ChunkIndexer) error {
	s.worker = ingest.NewWorker(s.config.Ingest, s.meta, s.blobs, embedder, indexer)
	if err := s.worker.Start(context.Background()); err != nil {
		return err
	}

	s.sweeper = ingest.NewSweeper(s.meta, ingest.SweeperConfig{
		Interval:   s.config.SweepInterval,
		StuckAfter: s.config.StuckAfter,
	})
	if err := s.sweeper.Start(context.Background()); err != nil {
		return err
	}

	if s.config.DropFolder != "" && s.config.DropWorkspaceID != "" {
		dropFolder, err := ingest.NewDropFolder(s.config.DropFolder, s.config.DropWorkspaceID, s.worker)
		if err != nil {
			slog.Warn("Drop-folder watcher unavailable", "dir", s.config.DropFolder, "error", err)
		} else {
			go dropFolder.Start(context.Background())
			s.dropFolder = dropFolder
			slog.Info("Drop-folder watcher started",
				"dir", s.config.DropFolder,
				"workspaceID", s.config.DropWorkspaceID)
		}
	}
	return nil
}

// initRouter builds the Gin engine and registers all routes.
func (s *service) initRouter(evidenceStore *search.EvidenceStore) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("masis-service"))

	var archive handlers.Archiver
	if s.archive != nil {
		archive = s.archive
	}

	routes.SetupRoutes(s.router, routes.Deps{
		Meta:          s.meta,
		Blobs:         s.blobs,
		Vectors:       evidenceStore,
		Worker:        s.worker,
		Runner:        s.pipeline,
		Hub:           s.hub,
		Weaviate:      s.weaviateClient,
		Archive:       archive,
		Backend:       s.config.LLMBackend,
		Tiers:         s.tiers,
		AuthToken:     s.config.AuthToken,
		EnableMetrics: !s.config.DisableMetrics,
	})
}

// cleanup releases background components in reverse dependency order.
func (s *service) cleanup() {
	if s.dropFolder != nil {
		if err := s.dropFolder.Stop(); err != nil {
			slog.Warn("Drop-folder stop error", "error", err)
		}
	}
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.qualitySink != nil {
		s.qualitySink.Close()
	}
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			slog.Warn("Archive close error", "error", err)
		}
	}
	if s.meta != nil {
		if err := s.meta.Close(); err != nil {
			slog.Warn("Metadata store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	llm.PurgeSecureMemory()
}
