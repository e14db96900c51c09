package app

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/upb/ai-gateway/config"
	"github.com/upb/ai-gateway/internal/observability"
	"github.com/upb/ai-gateway/middleware"
	"github.com/upb/ai-gateway/repositories/postgres"
	"github.com/upb/ai-gateway/services/credentials"
	"github.com/upb/ai-gateway/services/gateway"
	"github.com/upb/ai-gateway/services/pricing"
	"github.com/upb/ai-gateway/services/providers"
	"github.com/upb/ai-gateway/services/providers/alibaba"
	"github.com/upb/ai-gateway/services/providers/anthropic"
	"github.com/upb/ai-gateway/services/providers/baidu"
	"github.com/upb/ai-gateway/services/providers/bedrock"
	"github.com/upb/ai-gateway/services/providers/gemini"
	"github.com/upb/ai-gateway/services/providers/openai"
	"github.com/upb/ai-gateway/services/providers/zhipu"
	"github.com/upb/ai-gateway/services/usage"
)

// archiverStopTimeout bounds the final flush on shutdown
const archiverStopTimeout = 15 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB // nil when credentials live in memory
	Logger  *zap.Logger
	Metrics *observability.Metrics // nil when metrics are disabled

	// Provider layer
	Catalog     *providers.Catalog
	Registry    *providers.Registry
	Credentials *credentials.Store
	Pricing     *pricing.Engine

	// Usage accounting
	Aggregator *usage.Aggregator
	Archiver   *usage.Archiver // nil when archiving is disabled

	// Dispatcher
	Gateway *gateway.Service

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
}

// Adapters lists every built-in adapter builder by provider id
func Adapters() map[string]providers.AdapterBuilder {
	return map[string]providers.AdapterBuilder{
		"openai":    openai.Builder,
		"anthropic": anthropic.Builder,
		"baidu":     baidu.Builder,
		"alibaba":   alibaba.Builder,
		"zhipu":     zhipu.Builder,
		"gemini":    gemini.Builder,
		"bedrock":   bedrock.Builder,
	}
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Catalog: providers.NewBuiltinCatalog(),
	}

	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics()
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initCredentials(ctx, cfg); err != nil {
		deps.closeDB()
		return nil, fmt.Errorf("failed to initialize credentials: %w", err)
	}

	if err := deps.initPricing(cfg); err != nil {
		deps.closeDB()
		return nil, fmt.Errorf("failed to initialize pricing: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		deps.closeDB()
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initUsage(cfg); err != nil {
		deps.closeDB()
		return nil, fmt.Errorf("failed to initialize usage archive: %w", err)
	}

	deps.initGateway(cfg)
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Strings("adapters", deps.Registry.List()),
		zap.Strings("configured", deps.Credentials.Configured()))
	return deps, nil
}

// initDatabase opens PostgreSQL when configured and ensures the schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Logger.Info("no database configured, provider credentials are kept in memory")
		return nil
	}

	db, err := postgres.NewDB(*cfg.Database, d.Logger)
	if err != nil {
		return err
	}

	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return err
	}

	d.DB = db
	return nil
}

// initCredentials builds the credential store, loads persisted records and
// seeds providers whose credentials come from the environment
func (d *Dependencies) initCredentials(ctx context.Context, cfg *config.Config) error {
	var backend credentials.SecretStore = credentials.NewMemorySecretStore()
	if d.DB != nil {
		backend = postgres.NewSecretRepository(d.DB, d.Logger)
	}

	opts := []credentials.Option{credentials.WithLogger(d.Logger)}
	if cfg.Secrets.EncryptionKey != "" {
		key, err := credentials.ParseKey(cfg.Secrets.EncryptionKey)
		if err != nil {
			return err
		}
		enc, err := credentials.NewEncryptor(key)
		if err != nil {
			return err
		}
		opts = append(opts, credentials.WithEncryptor(enc))
	} else if d.DB != nil {
		d.Logger.Warn("SECRETS_ENCRYPTION_KEY not set, provider credentials are persisted unencrypted")
	}

	store := credentials.NewStore(d.Catalog, backend, opts...)
	if err := store.Load(ctx); err != nil {
		return err
	}

	ids := make([]string, 0, len(cfg.Providers))
	for id := range cfg.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		fields := cfg.Providers[id].Credentials
		if len(fields) == 0 {
			continue
		}
		if _, err := store.Save(ctx, id, fields); err != nil {
			// Partial env credentials, e.g. only BEDROCK_REGION, are not fatal
			d.Logger.Warn("skipping environment credentials",
				zap.String("provider", id),
				zap.Error(err))
			continue
		}
		d.Logger.Info("provider credentials loaded from environment", zap.String("provider", id))
	}

	d.Credentials = store
	return nil
}

// initPricing layers the CNY rate and an optional YAML file over the built-in table
func (d *Dependencies) initPricing(cfg *config.Config) error {
	table := pricing.DefaultTable()
	if cfg.Gateway.CNYRate > 0 {
		table = table.WithRate("CNY", cfg.Gateway.CNYRate)
	}

	if cfg.Gateway.PricingFile != "" {
		loaded, err := pricing.LoadFile(cfg.Gateway.PricingFile, table)
		if err != nil {
			return err
		}
		table = loaded
		d.Logger.Info("pricing overlay loaded", zap.String("file", cfg.Gateway.PricingFile))
	}

	d.Pricing = pricing.NewEngine(table, d.Logger)
	return nil
}

// initProviders builds one adapter per built-in provider
func (d *Dependencies) initProviders(cfg *config.Config) error {
	base := providers.DefaultConfig()
	base.Timeout = cfg.Gateway.RequestTimeout
	base.Cost = d.Pricing.ComputeCost
	base.Logger = d.Logger

	builder := providers.NewRegistryBuilder()
	overrides := make(map[string]providers.Config)
	for id, build := range Adapters() {
		builder.WithAdapter(id, build)

		pc, ok := cfg.Providers[id]
		if !ok {
			continue
		}
		override := base
		override.BaseURL = pc.BaseURL
		if pc.Timeout > 0 {
			override.Timeout = pc.Timeout
		}
		overrides[id] = override
	}

	registry, err := builder.Build(base, overrides)
	if err != nil {
		return err
	}

	d.Registry = registry
	d.Logger.Info("provider adapters registered", zap.Int("count", registry.Count()))
	return nil
}

// initUsage creates the aggregator and, when enabled, the background archiver
func (d *Dependencies) initUsage(cfg *config.Config) error {
	d.Aggregator = usage.NewAggregator()

	if !cfg.Archive.Enabled {
		return nil
	}

	var storage usage.Storage
	if cfg.Archive.S3Bucket != "" {
		s3, err := usage.NewS3(usage.S3Config{
			Bucket:    cfg.Archive.S3Bucket,
			Endpoint:  cfg.Archive.S3Endpoint,
			Region:    cfg.Archive.S3Region,
			AccessKey: cfg.Archive.S3AccessKey,
			SecretKey: cfg.Archive.S3SecretKey,
			Prefix:    cfg.Archive.S3Prefix,
		})
		if err != nil {
			return err
		}
		storage = s3
	} else {
		fs, err := usage.NewLocalFS(cfg.Archive.Dir)
		if err != nil {
			return err
		}
		storage = fs
	}

	archiver := usage.NewArchiver(storage, d.Aggregator, d.Logger, usage.ArchiverConfig{
		BufferSize:    cfg.Archive.BufferSize,
		FlushInterval: cfg.Archive.FlushInterval,
	})
	if err := archiver.Start(); err != nil {
		return err
	}

	d.Archiver = archiver
	return nil
}

// initGateway assembles the dispatcher and its usage sinks
func (d *Dependencies) initGateway(cfg *config.Config) {
	sinks := usage.Fanout{d.Aggregator, usage.NewLogSink(d.Logger)}
	if d.Metrics != nil {
		sinks = append(sinks, d.Metrics)
		d.Metrics.SetConfiguredProviders(len(d.Credentials.Configured()))
	}
	if d.Archiver != nil {
		sinks = append(sinks, d.Archiver)
	}

	d.Gateway = gateway.NewService(d.Catalog, d.Credentials, d.Registry,
		gateway.Config{
			Timeout:          cfg.Gateway.RequestTimeout,
			ProviderTimeouts: cfg.ProviderTimeouts(),
			BatchConcurrency: cfg.Gateway.BatchConcurrency,
		},
		gateway.WithLogger(d.Logger),
		gateway.WithSink(sinks),
		gateway.WithPricer(d.Pricing),
	)
}

// initAuth guards admin routes with ADMIN_TOKEN. Without a token the
// routes stay open, which config validation forbids in production.
func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.AdminToken == "" {
		d.Logger.Warn("ADMIN_TOKEN not set, admin endpoints are unauthenticated")
		d.AuthMiddleware = middleware.NewAuthMiddleware(nil, d.Logger)
		return
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(middleware.StaticToken(cfg.AdminToken), d.Logger)
}

// SQLDB returns the raw pool for health checks, or nil without a database
func (d *Dependencies) SQLDB() *sql.DB {
	if d.DB == nil {
		return nil
	}
	return d.DB.DB
}

func (d *Dependencies) closeDB() {
	if d.DB != nil {
		_ = d.DB.Close()
		d.DB = nil
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Flush archived usage before the process exits
	if d.Archiver != nil {
		if err := d.Archiver.Stop(archiverStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop usage archiver: %w", err))
		}
		d.Archiver = nil
	}

	// Close database connection
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.DB = nil
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
