// Package main is the entry point for the tablefront identity and
// tenancy server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tablefront/go-core/internal/api/rest"
	"github.com/tablefront/go-core/internal/audit"
	"github.com/tablefront/go-core/internal/auth"
	"github.com/tablefront/go-core/internal/config"
	"github.com/tablefront/go-core/internal/db"
	"github.com/tablefront/go-core/internal/metrics"
	"github.com/tablefront/go-core/internal/ratelimit"
	"github.com/tablefront/go-core/internal/tenant"
	"github.com/tablefront/go-core/internal/token"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tablefront-server %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting tablefront server",
		zap.String("version", Version),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("metrics_port", cfg.MetricsPort),
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
	logger.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core := metrics.New("tablefront")

	// Platform store: admins and owners, plus the admin connection the
	// tenant provisioner creates schemas through.
	dbCtx, dbCancel := context.WithTimeout(ctx, 15*time.Second)
	conn, err := db.Open(dbCtx, cfg.DatabaseURL, 5*time.Second)
	dbCancel()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	if err := db.MigratePlatform(conn); err != nil {
		return fmt.Errorf("migrate platform schema: %w", err)
	}

	provisioner, err := tenant.NewPGProvisioner(conn, tenant.PGProvisionerConfig{
		DSN:    cfg.DatabaseURL,
		Logger: logger.Named("provisioner"),
	})
	if err != nil {
		return fmt.Errorf("create tenant provisioner: %w", err)
	}

	registry, err := tenant.NewRegistry(provisioner, tenant.RegistryConfig{
		ProvisionTimeout: cfg.ProvisionTimeout,
		Logger:           logger.Named("registry"),
		Metrics:          core,
	})
	if err != nil {
		return fmt.Errorf("create tenant registry: %w", err)
	}

	codec, err := token.NewCodec(&token.Config{
		AccessSecret:  cfg.AccessSecret,
		RefreshSecret: cfg.RefreshSecret,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
	})
	if err != nil {
		return fmt.Errorf("create token codec: %w", err)
	}

	dispatcher, err := auth.NewDispatcher(codec, registry, db.NewPlatformAccounts(conn), auth.DispatcherConfig{
		LookupTimeout: cfg.LookupTimeout,
		Logger:        logger.Named("auth"),
		Metrics:       core,
	})
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// The limiter fails open; a cold Redis should not stop startup.
		logger.Warn("redis unreachable at startup, rate limiting degraded",
			zap.String("addr", cfg.RedisAddr),
			zap.Error(err),
		)
	}

	limiter, err := ratelimit.NewRedisLimiter(redisClient, ratelimit.RedisLimiterConfig{
		Logger:  logger.Named("ratelimit"),
		Metrics: core,
	})
	if err != nil {
		return fmt.Errorf("create rate limiter: %w", err)
	}

	policy := ratelimit.DefaultPolicy()
	if cfg.RateLimitPolicyFile != "" {
		policy, err = ratelimit.LoadPolicy(cfg.RateLimitPolicyFile)
		if err != nil {
			return fmt.Errorf("load rate limit policy: %w", err)
		}
	}
	policies := ratelimit.NewPolicyStore(policy, cfg.RateLimitPolicyFile, logger.Named("ratelimit"))
	if cfg.RateLimitPolicyFile != "" {
		if err := policies.Watch(ctx); err != nil {
			logger.Warn("policy file watch failed, hot reload disabled", zap.Error(err))
		}
	}

	auditLog, err := audit.NewLogger(audit.Config{
		FilePath: cfg.AuditLogFile,
		Logger:   logger.Named("audit"),
		Metrics:  core,
	})
	if err != nil {
		return fmt.Errorf("create audit logger: %w", err)
	}
	defer auditLog.Close()

	server, err := rest.NewServer(rest.Config{
		Addr:          fmt.Sprintf(":%d", cfg.HTTPPort),
		SecureCookies: cfg.SecureCookies,
		Logger:        logger.Named("http"),
		Metrics:       core,
	}, rest.Deps{
		Dispatcher: dispatcher,
		Codec:      codec,
		Limiter:    limiter,
		Policies:   policies,
		Audit:      auditLog,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	metricsSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:      core.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 2)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		errChan <- server.Start()
	}()
	go func() {
		logger.Info("metrics server listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
			return
		}
		errChan <- nil
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown incomplete", zap.Error(err))
	}
	return nil
}

// initLogger initializes the zap logger
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build()
}
