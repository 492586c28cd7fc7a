/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the banking ledger server. Handles
  configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Open the selected store (sqlite or postgres)
  3. Wire auth service, account service, and ledger engine
  4. Configure the HTTP router
  5. Serve with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store and the event publisher
  4. Exit

ENVIRONMENT:
  ADDR, DB_DRIVER (sqlite|postgres), DB_PATH, DATABASE_URL, JWT_SECRET,
  TOKEN_TTL, KAFKA_BROKERS, LOCK_TIMEOUT. See config/config.go.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration loading
*/
package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coldriver/bankcore/api"
	"github.com/coldriver/bankcore/auth"
	"github.com/coldriver/bankcore/config"
	"github.com/coldriver/bankcore/events/kafka"
	"github.com/coldriver/bankcore/ledger"
	"github.com/coldriver/bankcore/store/postgres"
	"github.com/coldriver/bankcore/store/sqlite"
)

// storage is satisfied by both SQL-backed stores.
type storage interface {
	ledger.AccountStore
	ledger.TransactionStore
	auth.UserStore
	io.Closer
}

func main() {
	cfg := config.Load()

	var (
		store storage
		err   error
	)
	switch cfg.DBDriver {
	case "postgres":
		store, err = postgres.New(cfg.DatabaseURL)
	default:
		store, err = sqlite.New(cfg.DBPath)
	}
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer store.Close()

	signer := auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL)
	authSvc := auth.NewService(store, signer)
	accounts := ledger.NewAccountService(store, authSvc)

	engineOpts := []ledger.Option{ledger.WithLockTimeout(cfg.LockTimeout)}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers)
		defer publisher.Close()
		engineOpts = append(engineOpts, ledger.WithEventPublisher(publisher))
	}
	engine := ledger.NewEngine(store, store, engineOpts...)

	router := api.NewRouter(api.NewHandler(authSvc, accounts, engine))

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s (store: %s)", cfg.Addr, cfg.DBDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
