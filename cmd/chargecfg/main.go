// Package main is the entry point for the charge configuration server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/chargecfg/internal/approval"
	"github.com/pitabwire/chargecfg/internal/bulkupload"
	"github.com/pitabwire/chargecfg/internal/capability"
	"github.com/pitabwire/chargecfg/internal/catalog"
	"github.com/pitabwire/chargecfg/internal/config"
	"github.com/pitabwire/chargecfg/internal/draft"
	"github.com/pitabwire/chargecfg/internal/events"
	"github.com/pitabwire/chargecfg/internal/formula"
	"github.com/pitabwire/chargecfg/internal/idempotency"
	"github.com/pitabwire/chargecfg/internal/observability"
	"github.com/pitabwire/chargecfg/internal/pricing"
	"github.com/pitabwire/chargecfg/internal/rules"
	"github.com/pitabwire/chargecfg/internal/transport"
	"github.com/pitabwire/chargecfg/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}
	secret := cfg.Identity.Secret()
	if secret == "" {
		fmt.Fprintf(os.Stderr, "configuration error: %s is not set\n", cfg.Identity.SecretEnv)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, observability.ServiceName, version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	priorityOrder, err := rules.ParsePriorityOrder(cfg.Rules.PriorityOrder)
	if err != nil {
		logger.Error("invalid priority order", zap.Error(err))
		return 1
	}

	// Step 4: Load the charge catalogue, validate, build registry.
	files, err := catalog.NewLoader().LoadAll(cfg.Catalog.Directories)
	if err != nil {
		metrics.RecordCatalogLoad("error", 0)
		logger.Error("catalogue loading failed", zap.Error(err))
		return 1
	}
	cat := catalog.Merge(files)

	variables := make([]string, 0, len(cat.Reference.FormulaVariables))
	for _, v := range cat.Reference.FormulaVariables {
		variables = append(variables, v.Name)
	}
	calc := pricing.NewCalculator(formula.NewEngine(variables))
	checker := catalog.NewValidator(calc)

	if verrs := checker.Validate(cat); len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("catalogue validation error", zap.String("error", ve.Error()))
		}
		metrics.RecordCatalogLoad("invalid", 0)
		metrics.RecordValidationFailures("catalog", len(verrs))
		logger.Error("catalogue validation failed", zap.Int("errors", len(verrs)))
		return 1
	}

	registry := catalog.NewRegistry(cat)
	metrics.RecordCatalogLoad("success", registry.Len())

	// Step 5: Initialize capability resolver.
	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.Capability.StaticPolicyFile)
	if err != nil {
		logger.Error("capability resolver initialization failed", zap.Error(err))
		return 1
	}
	capResolver := capability.NewResolver(evaluator, cfg.Capability.Cache.TTL, cfg.Capability.Cache.MaxEntries, metrics)

	// Step 6: Initialize idempotency store (optional).
	idemStore, idemCloser, err := buildIdempotencyStore(ctx, cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}
	var guard *idempotency.Guard
	if idemStore != nil {
		guard = idempotency.NewGuard(idemStore, cfg.Idempotency.Store.DefaultTTL)
	}

	// Step 7: Initialize event publisher.
	publisher, err := buildPublisher(cfg.Events, logger)
	if err != nil {
		logger.Error("event publisher initialization failed", zap.Error(err))
		return 1
	}

	// Step 8: Build services.
	drafts := draft.NewService(registry, draft.NewMemoryStore(), checker, publisher, metrics, logger)
	approvals := approval.NewEngine(registry, approval.NewMemoryStore(), calc, priorityOrder, publisher, metrics, logger)
	bulk := bulkupload.NewService(registry, checker, publisher, metrics, logger, bulkupload.Limits{
		MaxBytes: cfg.BulkUpload.MaxBytes,
		MaxRows:  cfg.BulkUpload.MaxRows,
	})

	// Step 9: Build HTTP router.
	readiness := observability.ReadinessChecks{
		Catalog: registry,
	}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		readiness.IdempotencyStore = hc
	}
	if hc, ok := publisher.(observability.HealthChecker); ok {
		readiness.EventPublisher = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Metrics:            metrics,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, []byte(secret)),
		CapabilityResolver: capResolver,
		Readiness:          readiness,
		PriorityOrder:      priorityOrder,
		Registry:           registry,
		Drafts:             drafts,
		Approvals:          approvals,
		BulkUpload:         bulk,
		Idempotency:        guard,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      http.MaxBytesHandler(router, maxRequestBytes(cfg)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 10: Start background tasks.
	stopExpiry := startRuleExpiry(ctx, registry, publisher, metrics, cfg.Catalog.ExpiryCheckInterval, logger)
	defer stopExpiry()

	// Step 11: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("charges", registry.Len()),
		zap.String("priority_order", cfg.Rules.PriorityOrder),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// The sweeper publishes, so it must stop before the producer closes.
	stopExpiry()

	if err := publisher.Close(); err != nil {
		logger.Error("event publisher close error", zap.Error(err))
	}
	if idemCloser != nil {
		idemCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// maxRequestBytes is the request body limit: the larger of the JSON body
// limit and the bulk upload limit plus multipart framing.
func maxRequestBytes(cfg *config.Config) int64 {
	limit := cfg.Server.MaxBodyBytes
	if upload := cfg.BulkUpload.MaxBytes + 1<<20; upload > limit {
		limit = upload
	}
	return limit
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns a nil store when idempotency is disabled.
func buildIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Store.Driver {
	case "memory":
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("idempotency store: %s environment variable not set", cfg.Store.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("idempotency store: ping: %w", err)
		}
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return idempotency.NewRedisStore(client), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency store driver: %q", cfg.Store.Driver)
	}
}

// buildPublisher creates the domain event publisher based on config.
func buildPublisher(cfg config.EventsConfig, logger *zap.Logger) (events.Publisher, error) {
	switch cfg.Driver {
	case "log", "":
		return events.NewLogPublisher(logger), nil
	case "kafka":
		p, err := events.NewKafkaPublisher(cfg.Brokers, cfg.Topic, events.NewKafkaConfig(cfg.ClientID))
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		logger.Info("publishing events to kafka", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
		return p, nil
	case "none":
		return events.NoopPublisher{}, nil
	default:
		return nil, fmt.Errorf("unsupported events driver: %q", cfg.Driver)
	}
}

// startRuleExpiry runs the rule expiry sweeper in the background. The
// returned function stops it and waits for a sweep in progress to finish; it
// may be called more than once.
func startRuleExpiry(ctx context.Context, registry *catalog.Registry, publisher events.Publisher,
	metrics *observability.Metrics, interval time.Duration, logger *zap.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() { runRuleExpiry(ctx, registry, publisher, metrics, interval, logger) })
	return func() {
		cancel()
		wg.Wait()
	}
}

// runRuleExpiry periodically marks rules past their validity as expired.
func runRuleExpiry(ctx context.Context, registry *catalog.Registry, publisher events.Publisher,
	metrics *observability.Metrics, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}

	sweep := func() {
		expired := registry.ExpireRules(model.DateOf(time.Now()))
		for code, ids := range expired {
			metrics.RecordRulesExpired(len(ids))
			logger.Info("rules expired", zap.String("charge_code", code), zap.Strings("rule_ids", ids))
			if err := publisher.Publish(ctx, events.New(events.TypeRulesExpired, code, "", ids)); err != nil {
				logger.Error("publish domain event",
					zap.String("event_type", events.TypeRulesExpired),
					zap.String("charge_code", code),
					zap.Error(err),
				)
			}
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
