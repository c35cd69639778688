package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/config"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/domain"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/handler"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/cache"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/certificate"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/lock"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/observability"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/postgres"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/resilience"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/santander"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/infra/supabase"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/port"
	"github.com/arinellipar/arrighiMonoRepoOfficial-sub002/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("app_env", cfg.AppEnv),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Bool("simulation", cfg.Santander.Simulation),
		zap.String("covenant_code", cfg.Santander.CovenantCode),
		observability.Redacted("client_secret", cfg.Santander.ClientSecret),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("status_cache_ttl", cfg.StatusCacheTTL),
		zap.Duration("reconcile_interval", cfg.ReconcileInterval),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "boletos")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Bank gateway ---
	bankCfg := santander.Config{
		BaseURL:            cfg.Santander.BaseURL,
		WorkspaceID:        cfg.Santander.WorkspaceID,
		CovenantCode:       cfg.Santander.CovenantCode,
		ClientID:           cfg.Santander.ClientID,
		ClientSecret:       cfg.Santander.ClientSecret,
		ApplicationKey:     cfg.Santander.ApplicationKey,
		Timeout:            cfg.HTTPTimeout,
		Production:         cfg.IsProduction(),
		InsecureSkipVerify: cfg.Santander.InsecureSkipVerify,
		CAFile:             cfg.Santander.CAFile,
		DocumentKind:       cfg.Santander.DocumentKind,
		PixKey:             cfg.Santander.PixKey,
		PixKeyType:         cfg.Santander.PixKeyType,
		TokenSafetyMargin:  cfg.TokenSafetyMargin,
		TokenDefaultTTL:    cfg.TokenDefaultTTL,
		MaxConcurrency:     cfg.MaxConcurrency,
	}
	gateway, mode := newGateway(cfg, bankCfg, metrics, logger)

	// --- Store ---
	store, contracts, closeStore := newStore(ctx, cfg, resilienceCfg, logger)
	defer closeStore()

	// --- Sequencer lock ---
	var locker port.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer client.Close()
		locker = lock.NewRedis(client, lock.RedisOptions{}, logger)
		logger.Info("reference sequence guarded by redis lease")
	} else {
		logger.Warn("REDIS_URL not set: reference sequence is only safe with a single replica")
	}

	// --- Cache ---
	statusCache := cache.New[*domain.StatusDetail](cfg.StatusCacheTTL)
	defer statusCache.Close()

	// --- Services ---
	builder := service.NewBuilder(service.BuilderConfig{
		CovenantCode: cfg.Santander.CovenantCode,
		DocumentKind: cfg.Santander.DocumentKind,
	})
	issuer := service.NewIssuer(store, contracts, gateway, builder, locker, metrics, logger)
	batch := service.NewBatchIssuer(contracts, store, issuer, metrics, logger)
	reconciler := service.NewReconciler(store, gateway, statusCache, resilienceCfg, metrics, logger)
	boletos := service.NewBoletoService(store, gateway, statusCache, cfg.Santander.CovenantCode, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Issuer:      issuer,
		Batch:       batch,
		Reconciler:  reconciler,
		Boletos:     boletos,
		Store:       store,
		GatewayMode: mode,
		Metrics:     metrics,
		JWTSecret:   []byte(cfg.JWTSecret),
	}, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // batch runs answer synchronously
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port), zap.String("bank_mode", string(mode)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	if cfg.ReconcileInterval > 0 && mode != handler.GatewayDisabled {
		g.Go(func() error {
			logger.Info("periodic reconciliation enabled", zap.Duration("interval", cfg.ReconcileInterval))
			return reconciler.Run(gctx, cfg.ReconcileInterval)
		})
	}

	// --- Graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

// newGateway picks the bank implementation. A missing client certificate
// does not stop the process: the bank routes answer 503 until it is fixed.
func newGateway(cfg *config.Config, bankCfg santander.Config, metrics *observability.Metrics, logger *zap.Logger) (port.BankSlipGateway, handler.GatewayMode) {
	if cfg.Santander.Simulation {
		return santander.NewSimulator(bankCfg, logger), handler.GatewaySimulation
	}

	candidates := certificate.BuildCandidates(certificate.Options{
		Thumbprint:     cfg.Certificate.Thumbprint,
		PlatformDirs:   cfg.Certificate.PlatformDirs,
		Password:       cfg.Certificate.Password,
		KnownPasswords: cfg.Certificate.KnownPasswords,
		UserStore:      cfg.Certificate.UserStore,
		MachineStore:   cfg.Certificate.MachineStore,
		LocalPath:      cfg.Certificate.Path,
	})
	resolved, err := certificate.NewResolver(candidates, cfg.Certificate.Thumbprint, logger).Require()
	if err != nil {
		var missing *domain.ErrCertificateNotFound
		if errors.As(err, &missing) {
			return santander.NewDisabled(missing), handler.GatewayDisabled
		}
		logger.Fatal("failed to resolve client certificate", zap.Error(err))
	}

	transport, err := santander.NewTransport(bankCfg, resolved.Certificate)
	if err != nil {
		logger.Fatal("failed to build bank transport", zap.Error(err))
	}
	tokens := santander.NewTokenCache(transport, bankCfg, metrics, logger)
	return santander.NewGateway(bankCfg, transport, tokens, metrics, logger), handler.GatewayLive
}

// newStore opens the configured persistence backend.
func newStore(ctx context.Context, cfg *config.Config, rcfg resilience.Config, logger *zap.Logger) (port.Store, port.ContractSource, func()) {
	switch cfg.StoreBackend {
	case "supabase":
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		client := supabase.NewClient(httpClient, cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.SupabaseServiceKey, rcfg, logger)
		return client, client, func() {}

	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "file:boletos.db?cache=shared"
		}
		logger.Warn("using local sqlite store", zap.String("dsn", dsn))
		db, err := postgres.OpenSQLite(dsn)
		if err != nil {
			logger.Fatal("failed to open sqlite", zap.Error(err))
		}
		if err := postgres.Migrate(db); err != nil {
			logger.Fatal("failed to migrate sqlite", zap.Error(err))
		}
		// Locally there is no CRUD layer to own the contract view.
		if err := postgres.MigrateContractView(db); err != nil {
			logger.Fatal("failed to create contract view", zap.Error(err))
		}
		return postgres.NewStore(db, logger), postgres.NewContractView(db), closer(db, logger)

	default:
		logger.Info("using PostgreSQL as data backend")
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		if err := postgres.Migrate(db); err != nil {
			logger.Fatal("failed to migrate postgres", zap.Error(err))
		}
		store := postgres.NewStore(db, logger)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			logger.Fatal("postgres ping failed", zap.Error(err))
		}
		return store, postgres.NewContractView(db), closer(db, logger)
	}
}

func closer(db *gorm.DB, logger *zap.Logger) func() {
	return func() {
		sqlDB, err := db.DB()
		if err != nil {
			return
		}
		if err := sqlDB.Close(); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	}
}
