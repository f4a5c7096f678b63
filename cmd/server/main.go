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

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"apotekita/backend/internal/cache"
	"apotekita/backend/internal/config"
	"apotekita/backend/internal/evidence"
	"apotekita/backend/internal/httpapi"
	"apotekita/backend/internal/logger"
	"apotekita/backend/internal/lookup"
	"apotekita/backend/internal/service"
	"apotekita/backend/internal/store"
	"apotekita/backend/internal/store/memory"
	pgstore "apotekita/backend/internal/store/postgres"
	sqlitestore "apotekita/backend/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	if err := logger.Setup(logger.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.WithComponent("server")

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)
	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("repository unavailable")
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	searchCache := cache.InvoiceSearchCache(cache.NoopInvoiceSearchCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisInvoiceSearchCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop cache")
			_ = redisCache.Close()
		} else {
			searchCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Str("addr", cfg.RedisAddr).Msg("cache: redis")
		}
	} else {
		log.Info().Msg("cache: noop")
	}

	evidenceStore, err := evidence.NewLocalStore(cfg.EvidenceDir, cfg.EvidenceMaxBytes)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.EvidenceDir).Msg("evidence directory unavailable")
	}

	engine := lookup.NewEngine(searchCache, time.Duration(cfg.InvoiceSearchTTLSeconds)*time.Second)
	svc := service.New(repo, engine, evidenceStore, service.Options{
		DefaultPageSize: cfg.ReturnsDefaultPageSize,
		MaxPageSize:     cfg.ReturnsMaxPageSize,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:    cfg.AllowedOrigin,
		MaxEvidenceBytes: cfg.EvidenceMaxBytes,
		DraftIdleTTL:     time.Duration(cfg.DraftIdleMinutes) * time.Minute,
		UploadsPerMinute: cfg.UploadsPerMinute,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("returns backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}
	log.Info().Msg("server stopped")
}

// openRepository picks postgres when DATABASE_URL is set, then sqlite when
// SQLITE_PATH is set, and the seeded in-memory store otherwise. A configured
// database that cannot be reached is fatal; there is no silent fallback.
func openRepository(ctx context.Context, cfg config.Config, log zerolog.Logger) (store.Repository, func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		if err := seedIfRequested(ctx, cfg, pg, log); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		log.Info().Msg("repository: postgres")
		return pg, pg.Close, nil
	case cfg.SQLitePath != "":
		db, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if err := seedIfRequested(ctx, cfg, db, log); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("repository: sqlite")
		return db, db.Close, nil
	default:
		log.Info().Msg("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

func seedIfRequested(ctx context.Context, cfg config.Config, repo store.Seeder, log zerolog.Logger) error {
	if !cfg.SeedDemoData {
		return nil
	}
	users, usedDefaults := store.DemoUsers(os.Getenv)
	for i := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(users[i].Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		users[i].Password = string(hash)
	}
	result, err := store.Seed(ctx, repo, time.Now(), users)
	if err != nil {
		return err
	}
	if usedDefaults && result.Users > 0 {
		log.Warn().Msg("seeded default dev credentials; set SEED_*_PASSWORD to override")
	}
	log.Info().Int("invoices", result.Invoices).Int("users", result.Users).Msg("demo data seeded")
	return nil
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

// validatePINStrength rejects non-numeric PINs, repeated digits, straight
// runs like 123456 or 987654, and a short list of common picks.
func validatePINStrength(pin string) error {
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must contain digits only")
		}
	}
	switch pin {
	case "121212", "112233", "123123", "101010", "696969":
		return fmt.Errorf("common PIN not allowed")
	}

	repeated, ascending, descending := true, true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 0 {
			repeated = false
		}
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if repeated {
		return fmt.Errorf("repeated-digit PIN not allowed")
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}
