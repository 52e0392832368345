/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the traceability API server. Handles
  configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Open the SQLite read-model projector
  3. Load rule sets (file, or built-in seed)
  4. Create the ledger engine with the projector attached
  5. Configure the HTTP router and start with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite read-model path (default: neocrypt.db)
           Use ":memory:" for an in-memory database
  -rules   Optional JSON rule-set file; built-in seed when omitted
  -strict  Require quality-test subject refs to resolve in the log

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the database connection
  4. Exit

EXAMPLES:
  ./server -db="./data/neocrypt.db" -rules="./rules/ashwagandha.json"
  ./server -db=":memory:" -strict

SEE ALSO:
  - api/server.go: router configuration
  - store/sqlite/sqlite.go: read-model projector
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
	"syscall"
	"time"

	"github.com/supremekai52/neocrypt/api"
	"github.com/supremekai52/neocrypt/ledger"
	"github.com/supremekai52/neocrypt/rules"
	"github.com/supremekai52/neocrypt/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "neocrypt.db", "SQLite read-model path")
	rulesPath := flag.String("rules", "", "JSON rule-set file (built-in seed when omitted)")
	strict := flag.Bool("strict", false, "require quality-test subject refs to resolve")
	flag.Parse()

	// Read-model projector
	projector, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer projector.Close()

	// Rule store
	ruleStore := ledger.NewRuleStore()
	if *rulesPath != "" {
		data, err := os.ReadFile(*rulesPath)
		if err != nil {
			log.Fatalf("Failed to read rules file: %v", err)
		}
		if err := rules.Load(ruleStore, data); err != nil {
			log.Fatalf("Failed to load rules: %v", err)
		}
	} else {
		for _, def := range rules.Seed() {
			if err := rules.Apply(ruleStore, def); err != nil {
				log.Fatalf("Failed to seed rules: %v", err)
			}
		}
		log.Printf("No -rules file given, loaded built-in seed rules")
	}

	// Engine
	opts := []ledger.Option{ledger.WithNotifier(projector)}
	if *strict {
		opts = append(opts, ledger.WithStrictSubjectRefs())
	}
	engine := ledger.NewEngine(ruleStore, opts...)

	// Router
	router := api.NewRouter(api.NewHandler(engine, ruleStore))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
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
