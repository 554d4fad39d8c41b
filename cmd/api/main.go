package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/driesdb/budget-engine/internal/analysis"
	"github.com/driesdb/budget-engine/internal/api/handlers"
	"github.com/driesdb/budget-engine/internal/api/middleware"
	infraBQ "github.com/driesdb/budget-engine/internal/infra/bigquery"
	"github.com/driesdb/budget-engine/internal/llm"
	"github.com/driesdb/budget-engine/internal/logger"
	"github.com/driesdb/budget-engine/internal/mappings"
	"github.com/driesdb/budget-engine/internal/store"
	"github.com/driesdb/budget-engine/internal/store/inmemory"
)

// backingStore is the full persistence surface the server needs from one
// backend.
type backingStore interface {
	store.TransactionStore
	store.MappingStore
	store.SnapshotStore
}

func main() {
	// Parse command-line flags
	var (
		port    = flag.String("port", "8080", "HTTP server port")
		model   = flag.String("model", os.Getenv("GENAI_MODEL"), "Gemini model name (or set GENAI_MODEL env)")
		project = flag.String("project", os.Getenv("BQ_PROJECT"), "BigQuery project ID (or set BQ_PROJECT env)")
		dataset = flag.String("dataset", os.Getenv("BQ_DATASET"), "BigQuery dataset ID (or set BQ_DATASET env)")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()

	ctx := context.Background()

	// Pick the persistence backend. Without a BigQuery project the server
	// runs fully in memory, which is fine for local use.
	var backend backingStore
	if *project != "" && *dataset != "" {
		bqStore, err := infraBQ.NewStore(ctx, *project, *dataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery store")
		}
		defer bqStore.Close()
		backend = bqStore
		log.Info().Str("project", *project).Str("dataset", *dataset).Msg("Using BigQuery persistence")
	} else {
		backend = inmemory.NewStore()
		log.Warn().Msg("No BigQuery project configured - running with in-memory persistence")
	}

	// Load the mapping registry from the store.
	groups, err := backend.LoadGroups(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load mapping groups")
	}
	registry := mappings.NewRegistry(groups...)
	log.Info().Int("groups", registry.Len()).Msg("Mapping registry loaded")

	// The AI provider is optional; without it the analysis job runs on
	// rules alone.
	var provider llm.Provider
	if gemini, err := llm.NewGeminiProvider(ctx, *model); err != nil {
		log.Warn().Err(err).Msg("AI provider unavailable - analysis will use rules only")
	} else {
		provider = gemini
		log.Info().Str("model", gemini.Model()).Msg("Gemini provider configured")
	}

	controller := analysis.NewController(backend, backend, registry, provider, log)

	// Initialize handlers
	budgetHandler := handlers.NewBudgetHandler(backend, backend, registry, controller, log)
	transactionsHandler := handlers.NewTransactionsHandler(backend, log)
	mappingsHandler := handlers.NewMappingsHandler(registry, backend, log)

	// Create router
	mux := http.NewServeMux()

	// Budget endpoints
	mux.HandleFunc("/api/budget/classify", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			budgetHandler.ClassifyTransaction(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/budget/summary", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			budgetHandler.GetSummary(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/budget/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			budgetHandler.GetSnapshot(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/budget/analyze/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			budgetHandler.StartAnalysis(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/budget/analyze/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobID := strings.TrimPrefix(r.URL.Path, "/api/budget/analyze/")
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			budgetHandler.GetAnalysisJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Transactions endpoints
	mux.HandleFunc("/api/bank/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			transactionsHandler.ListTransactions(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/bank/transactions/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/bank/transactions/")
		parts := strings.Split(rest, "/")
		if len(parts) == 2 && parts[1] == "category" && parts[0] != "" {
			if r.Method == http.MethodPost {
				transactionsHandler.SetCategory(w, r, parts[0])
				return
			}
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})

	// Mappings endpoints
	mux.HandleFunc("/api/bank/mappings", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			mappingsHandler.ListMappings(w, r)
		case http.MethodPost:
			mappingsHandler.CreateMapping(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/bank/mappings/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/bank/mappings/")
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 1 && parts[0] != "":
			switch r.Method {
			case http.MethodPut:
				mappingsHandler.UpdateMapping(w, r, parts[0])
			case http.MethodDelete:
				mappingsHandler.DeleteMapping(w, r, parts[0])
			default:
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		case len(parts) == 2 && parts[1] == "visibility" && parts[0] != "":
			if r.Method == http.MethodPost {
				mappingsHandler.ToggleVisibility(w, r, parts[0])
				return
			}
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		default:
			middleware.WriteError(w, http.StatusNotFound, "Not found")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", handlers.Health)

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
