package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"hr-leave-identity/core"
)

func main() {
	cfg := core.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	if cfg.AutoMigrate {
		version, err := core.MigrateUp(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("schema migration failed: %v", err)
		}
		logger.Info("schema up to date", "version", version)
	}

	store := core.NewPgPrincipalStore(db)
	tokens := core.NewTokenIssuer(cfg, store)
	authService := core.NewRepositoryAuthService(store, tokens, cfg.DefaultRole, logger)
	directory := core.NewEmployeeDirectory(store, cfg.DefaultRole)

	if err := core.BootstrapAdmin(ctx, store, cfg, logger); err != nil {
		log.Fatalf("bootstrap admin failed: %v", err)
	}
	if cfg.SeedPrincipalsPath != "" {
		seed, err := core.LoadSeedFile(cfg.SeedPrincipalsPath)
		if err != nil {
			log.Fatalf("load seed file: %v", err)
		}
		n, err := core.SeedPrincipals(ctx, store, seed, cfg.DefaultRole, logger)
		if err != nil {
			log.Fatalf("seed principals failed: %v", err)
		}
		logger.Info("seed principals applied", "created", n, "path", cfg.SeedPrincipalsPath)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	core.RegisterMetrics(registry)

	deps := core.RouterDeps{
		Logger:    logger,
		Auth:      authService,
		Directory: directory,
		Tokens:    tokens,
		Gatherer:  registry,
	}
	if cfg.TokenCookieEnabled {
		deps.Sessions = sessions.NewCookieStore([]byte(cfg.SessionKey))
	}

	if cfg.AuditQueueEnabled {
		redisClient, err := core.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer redisClient.Close()
		deps.Publisher = core.NewQueueAuditPublisher(core.NewRedisAuditQueue(redisClient))
		deps.AuditQueue = core.NewAuditQueueMonitor(redisClient)
	}

	router := core.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting api server", "addr", srv.Addr, "audit_queue", cfg.AuditQueueEnabled)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
}
