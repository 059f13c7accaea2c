package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"posledger/backend/internal/cache"
	"posledger/backend/internal/config"
	"posledger/backend/internal/httpapi"
	"posledger/backend/internal/lock"
	"posledger/backend/internal/metrics"
	"posledger/backend/internal/notify"
	"posledger/backend/internal/service"
	"posledger/backend/internal/store"
	"posledger/backend/internal/store/memory"
	pgstore "posledger/backend/internal/store/postgres"
	"posledger/backend/internal/tracing"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	users, err := httpapi.ParseUsers(cfg.AuthUsers)
	if err != nil {
		logger.Fatalf("invalid AUTH_USERS: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{Endpoint: cfg.OTLPEndpoint, ServiceName: cfg.ServiceName})
	if err != nil {
		logger.Fatalf("tracing init: %v", err)
	}

	m := metrics.New("posledger")
	closers := make([]func() error, 0, 2)

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.DatabaseAutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.Fatalf("migrate: %v", err)
			}
			logger.Info("schema migrated")
		}
		pg.OnRetry(m.TxRetry)
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	deps := service.Deps{
		SummaryCache:          cache.NewMemory(),
		SummaryCacheTTL:       cfg.SummaryCacheTTL,
		Locker:                lock.Noop{},
		Metrics:               m,
		Logger:                logger,
		ExcludeOpeningDeposit: !cfg.IncludeOpeningDeposit,
		SideEffectTimeout:     cfg.NotifyTimeout,
	}
	var publisher notify.Publisher = notify.NewLogPublisher(logger)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis unavailable (%v), using in-process cache and locks", err)
			_ = rdb.Close()
		} else {
			deps.SummaryCache = cache.NewRedisStore(rdb, "posledger:")
			deps.Locker = lock.NewRedisLocker(rdb, 10*time.Second, logger)
			publisher = notify.NewRedisPublisher(rdb, notify.DefaultChannel, logger)
			closers = append(closers, rdb.Close)
			logger.Info("cache, locks and notifications: redis")
		}
	} else {
		logger.Info("cache: in-process, notifications: log")
	}

	rules, err := notify.LoadRules(cfg.NotificationRulesFile)
	if err != nil {
		logger.Fatalf("notification rules: %v", err)
	}
	deps.Notifier = notify.NewDispatcher(publisher, rules, logger)

	svc := service.New(repo, deps)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, users)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, m, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("ledger backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Errorf("tracing shutdown: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Error("close")
		}
	}

	logger.WithFields(logrus.Fields{"addr": cfg.Address()}).Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects common, repeated and sequential PINs.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true, "246810": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
