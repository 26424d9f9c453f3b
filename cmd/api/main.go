package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/walterthesmart/stellAIverse-contracts/internal/api"
	"github.com/walterthesmart/stellAIverse-contracts/internal/auth"
	"github.com/walterthesmart/stellAIverse-contracts/internal/config"
	"github.com/walterthesmart/stellAIverse-contracts/internal/events"
	"github.com/walterthesmart/stellAIverse-contracts/internal/evolution"
	"github.com/walterthesmart/stellAIverse-contracts/internal/exechub"
	"github.com/walterthesmart/stellAIverse-contracts/internal/infra"
	"github.com/walterthesmart/stellAIverse-contracts/internal/market"
	"github.com/walterthesmart/stellAIverse-contracts/internal/metrics"
	"github.com/walterthesmart/stellAIverse-contracts/internal/registry"
	"github.com/walterthesmart/stellAIverse-contracts/internal/store"
	"github.com/walterthesmart/stellAIverse-contracts/internal/token"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg := config.Default()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", path, err)
		}
		cfg = loaded
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}

	st, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}

	emitter, cleanup, err := buildEmitter(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize event bus: %v", err)
	}
	defer cleanup()

	authn := auth.AllowAll{}
	payments := token.NewBook()
	verifier := evolution.NewKeyring()

	reg := registry.New(st, emitter, authn)
	mkt := market.New(st, emitter, authn, reg, payments, market.Config{
		PriceUpperBound: cfg.Market.PriceUpperBound,
		MaxDurationDays: cfg.Market.MaxDurationDays,
	})
	evo := evolution.New(st, emitter, authn, reg, payments, verifier, evolution.Config{
		MinStake:        cfg.Evolution.MinStake,
		CooldownSeconds: cfg.Evolution.CooldownSeconds,
		StakeUpperBound: cfg.Evolution.StakeUpperBound,
	})
	hub := exechub.New(st, emitter, authn, reg, exechub.Config{
		WindowSeconds: cfg.ExecHub.WindowSeconds,
		MaxOperations: cfg.ExecHub.MaxOperations,
	})

	m := metrics.NewMetrics()
	server := api.NewServer(reg, mkt, evo, hub, m)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("stellAIverse engine service starting on port %s (store=%s, events=%s)",
		cfg.Server.Port, cfg.Store.Backend, cfg.Events.Backend)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	log.Println("Server stopped")
}

func buildStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		return infra.NewRedisStore(cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB, cfg.Store.Redis.KeyPrefix)
	case "postgres":
		return infra.NewPostgresStore(cfg.Store.Postgres.DSN, cfg.Store.Postgres.Table)
	default:
		return store.NewMemoryStore(), nil
	}
}

func buildEmitter(cfg *config.Config) (events.Emitter, func(), error) {
	if cfg.Events.Backend == "pubsub" {
		bus, err := events.NewPubSubBus(cfg.Events.ProjectID, cfg.Events.TopicID)
		if err != nil {
			return nil, nil, err
		}
		return bus, func() { bus.Close() }, nil
	}
	return events.NewBus(), func() {}, nil
}
