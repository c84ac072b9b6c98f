/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the station point-of-sale server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and parse command-line flags
  2. Select the store: SQLite when -db is given, in-memory otherwise
  3. Bootstrap default pricing and seed the local OTP pool
  4. Wire the reconciler (with the External Ledger client when LEDGER_URL
     is configured; local-fallback mode otherwise)
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, PORT env overrides)
  -db      SQLite database path; empty selects the in-memory store

ENVIRONMENT (.env supported):
  LEDGER_URL    External Ledger webhook URL; empty enables the local
                OTP pool fallback
  ADMIN_TOKEN   Bearer token for admin endpoints; empty disables them
  PORT          Overrides -port

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait for active requests
  (30s timeout), close the store, exit.

SEE ALSO:
  - api/server.go: Router configuration
  - fuel/reconcile.go: The reconciliation engine
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fuelpay/station/api"
	"github.com/fuelpay/station/fuel"
	"github.com/fuelpay/station/ledger"
	"github.com/fuelpay/station/store/memory"
	"github.com/fuelpay/station/store/sqlite"
)

// seedCodes is the initial local OTP pool, used only when no External
// Ledger is configured.
var seedCodes = []string{"1234", "5678", "9012", "3456", "7890"}

func main() {
	// .env is optional; a real deployment may configure via the process
	// environment instead.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env: %v", err)
	}

	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path (empty = in-memory store)")
	flag.Parse()

	if p := os.Getenv("PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			*port = n
		}
	}

	// Select the store implementation.
	var store fuel.Store
	var closeStore func() error
	if *dbPath != "" {
		s, err := sqlite.New(*dbPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		store = s
		closeStore = s.Close
		log.Printf("Using SQLite store at %s", *dbPath)
	} else {
		store = memory.New()
		closeStore = func() error { return nil }
		log.Printf("Using in-memory store")
	}
	defer closeStore()

	ctx := context.Background()

	// Bootstrap default pricing so the first quote request succeeds.
	if _, err := store.UpdateSettings(ctx, fuel.SettingsPatch{}); err != nil {
		log.Fatalf("Failed to bootstrap settings: %v", err)
	}

	// Wire the ledger, or fall back to the local OTP pool.
	var ldg fuel.Ledger
	if url := os.Getenv("LEDGER_URL"); url != "" {
		ldg = ledger.New(url)
		log.Printf("External Ledger configured")
	} else {
		if _, ok, err := store.NextOTP(ctx); err == nil && !ok {
			if err := store.SeedOTPs(ctx, seedCodes); err != nil {
				log.Printf("Warning: failed to seed OTP pool: %v", err)
			}
		}
		log.Printf("No LEDGER_URL set; running in local OTP fallback mode")
	}

	reconciler := fuel.NewReconciler(store, ldg)
	handler := api.NewHandler(store, reconciler, os.Getenv("ADMIN_TOKEN"))
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
