package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BradenHooton/stepgate/internal/auth"
	"github.com/BradenHooton/stepgate/internal/background"
	"github.com/BradenHooton/stepgate/internal/cache"
	"github.com/BradenHooton/stepgate/internal/config"
	"github.com/BradenHooton/stepgate/internal/database"
	"github.com/BradenHooton/stepgate/internal/handlers"
	"github.com/BradenHooton/stepgate/internal/metrics"
	middlewareCustom "github.com/BradenHooton/stepgate/internal/middleware"
	"github.com/BradenHooton/stepgate/internal/repositories"
	"github.com/BradenHooton/stepgate/internal/routes"
	"github.com/BradenHooton/stepgate/internal/services"
	pkghttp "github.com/BradenHooton/stepgate/pkg/http"
	pkglogger "github.com/BradenHooton/stepgate/pkg/logger"
	"github.com/BradenHooton/stepgate/migrations"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	ctx := context.Background()

	// Initialize database
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Shared expiring store
	var (
		store          cache.Store
		storePing      func(context.Context) error
		cleanupManager *background.CleanupManager
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			URL:          cfg.Redis.URL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer client.Close()

		redisStore := cache.NewRedisStore(client, cfg.Redis.KeyPrefix)
		store, storePing = redisStore, redisStore.Ping
		logger.Info("using redis store")
	} else {
		memoryStore := cache.NewMemoryStore()
		store, storePing = memoryStore, memoryStore.Ping
		cleanupManager = background.NewCleanupManager(memoryStore, m, logger, cfg.Server.StoreCleanupInterval)
		logger.Warn("REDIS_URL not set, using in-memory store; throttles are not shared between instances")
	}

	// Outbound email
	var sender services.EmailSender
	if cfg.Email.Provider == "ses" {
		sender, err = services.NewAWSSESEmailService(ctx, cfg.Email.AWSRegion, cfg.Email.From, logger)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		sender = services.NewLogEmailService(cfg.Server.Env, logger)
	}

	// Credentials
	userRepo := repositories.NewUserRepository(db)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.TwoFactor.TimingBaseDelayMs,
		RandomDelayMs: cfg.TwoFactor.TimingRandomDelayMs,
	})
	userService := services.NewUserService(userRepo, timingDelay, logger)

	// Strategies
	strategies, err := buildStrategies(cfg, store, sender, logger)
	if err != nil {
		logger.Error("failed to initialize strategies", slog.Any("error", err))
		os.Exit(1)
	}
	strategyRegistry, err := services.NewStrategyRegistry(strategies...)
	if err != nil {
		logger.Error("failed to register strategies", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("two-factor strategies registered", slog.Any("types", strategyRegistry.Types()))

	devices := services.NewDeviceTrustService(store, cfg.TwoFactor.DeviceTrustTTL, logger)
	auditLogger := pkglogger.NewAuditLogger(logger)

	twoFactorService, err := services.NewTwoFactorService(
		userService,
		userService,
		strategyRegistry,
		devices,
		store,
		sender,
		cfg.TwoFactor.Settings(),
		logger,
		services.WithMetrics(m),
		services.WithAuditLogger(auditLogger),
	)
	if err != nil {
		logger.Error("failed to initialize two-factor service", slog.Any("error", err))
		os.Exit(1)
	}

	// Handlers
	ipConfig := &pkghttp.IPConfig{
		NumProxies:     cfg.Server.NumProxies,
		TrustedProxies: cfg.Server.TrustedProxies,
	}
	cookieConfig := auth.CookieConfig{
		Domain:   cfg.Server.CookieDomain,
		Secure:   cfg.Server.CookieSecure,
		SameSite: cfg.Server.CookieSameSite,
		// The device cookie must outlive the trust period
		MaxAge: cfg.TwoFactor.DeviceTrustTTL + 24*time.Hour,
	}
	twoFactorHandler := handlers.NewTwoFactorHandler(twoFactorService, ipConfig, cookieConfig, logger)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.HealthCheck{
		"database": db.HealthCheck,
		"store":    storePing,
	}, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	rateLimitConfig := middlewareCustom.DefaultAuthRateLimit(ipConfig)
	rateLimitConfig.RequestsPerMinute = cfg.Server.RateLimitPerMinute

	routes.RegisterRoutes(router, twoFactorHandler, healthHandler,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), rateLimitConfig)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	if cleanupManager != nil {
		go cleanupManager.Start(cleanupCtx)
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// SIGHUP reloads the two-factor settings, SIGINT/SIGTERM shut down
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			break
		}
		reloadSettings(twoFactorService, logger)
	}

	logger.Info("shutdown signal received")

	cleanupCancel()
	if cleanupManager != nil {
		cleanupManager.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// buildStrategies creates the strategies named in TWOFACTOR_TYPES
func buildStrategies(cfg *config.Config, store cache.Store, sender services.EmailSender, logger *slog.Logger) ([]services.Strategy, error) {
	var strategies []services.Strategy

	for _, tag := range cfg.TwoFactor.Types {
		switch tag {
		case services.StrategyDirect:
			strategies = append(strategies, services.NewDirectStrategy())
		case services.StrategyEmail:
			strategies = append(strategies, services.NewEmailStrategy(store, sender, cfg.TwoFactor.EmailCodeTTL, logger))
		case services.StrategyTOTP:
			manager, err := auth.NewTOTPManager(cfg.TwoFactor.TOTPEncryptionKey, cfg.TwoFactor.TOTPIssuer)
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, services.NewTOTPStrategy(manager, store, logger))
		}
	}

	return strategies, nil
}

// reloadSettings re-reads the environment and swaps the two-factor settings.
// The strategy registry is fixed at startup; a reload naming a strategy that
// was not registered is rejected and the old settings stay active.
func reloadSettings(svc *services.TwoFactorService, logger *slog.Logger) {
	cfg, err := config.Reload()
	if err != nil {
		logger.Error("settings reload failed", slog.Any("error", err))
		return
	}

	if err := svc.Reload(cfg.TwoFactor.Settings()); err != nil {
		logger.Error("settings reload rejected", slog.Any("error", err))
		return
	}

	logger.Info("settings reloaded")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
