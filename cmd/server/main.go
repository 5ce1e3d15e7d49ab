package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/liamcoop/lendermatch/internal/config"
	"github.com/liamcoop/lendermatch/internal/logger"
	"github.com/liamcoop/lendermatch/internal/metrics"
	"github.com/liamcoop/lendermatch/policy"
	"github.com/liamcoop/lendermatch/rules"
	"github.com/liamcoop/lendermatch/store"
)

type Server struct {
	db          *sql.DB
	backend     string
	manager     *policy.Manager
	metrics     *metrics.Collector
	slowRequest time.Duration
	router      *chi.Mux
}

// NewServer wires stores, engine and metrics from cfg.
func NewServer(cfg *config.Config) (*Server, error) {
	collector := metrics.NewCollector(nil)
	engine := rules.NewEngine(
		rules.WithWorkers(cfg.Underwriter.Workers),
		rules.WithSoftBonusCap(cfg.Underwriter.SoftBonusCap),
		rules.WithLogger(logger.Logger),
		rules.WithObserver(collector),
	)
	cache := store.NewInMemorySnapshotCache(store.CacheConfig{TTL: cfg.Underwriter.CacheTTL})

	var (
		db       *sql.DB
		policies store.PolicyStore
		apps     store.ApplicationStore
		results  store.ResultStore
	)
	switch cfg.Database.Backend {
	case config.BackendMemory:
		policies = store.NewInMemoryPolicyStore()
		apps = store.NewInMemoryApplicationStore()
		results = store.NewInMemoryResultStore()
	default:
		var err error
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		policies = store.NewPostgresPolicyStore(db)
		apps = store.NewPostgresApplicationStore(db)
		results = store.NewPostgresResultStore(db)
	}

	manager := policy.NewManager(policies, apps, results, cache, engine, logger.Logger)

	if cfg.SeedFile != "" {
		lenders, err := policy.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		res, err := manager.Seed(lenders)
		if err != nil {
			return nil, err
		}
		logger.Info("seed file applied", "file", cfg.SeedFile, "created", res.Created, "skipped", res.Skipped)
	}

	return newServer(manager, collector, db, cfg.Database.Backend, cfg.Server.SlowRequest), nil
}

func newServer(manager *policy.Manager, collector *metrics.Collector, db *sql.DB, backend string, slow time.Duration) *Server {
	s := &Server{
		db:          db,
		backend:     backend,
		manager:     manager,
		metrics:     collector,
		slowRequest: slow,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/rule-types", s.handleRuleTypes)
		r.Get("/log-level", s.handleGetLogLevel)
		r.Put("/log-level", s.handleSetLogLevel)

		r.Route("/lenders", func(r chi.Router) {
			r.Get("/", s.handleListLenders)
			r.Post("/", s.handleCreateLender)
			r.Route("/{lenderId}", func(r chi.Router) {
				r.Get("/", s.handleGetLender)
				r.Put("/", s.handleUpdateLender)
				r.Delete("/", s.handleDeleteLender)
				r.Post("/programs", s.handleCreateProgram)
			})
		})

		r.Route("/programs/{programId}", func(r chi.Router) {
			r.Get("/", s.handleGetProgram)
			r.Put("/", s.handleUpdateProgram)
			r.Delete("/", s.handleDeleteProgram)
			r.Post("/rules", s.handleCreateRule)
		})

		r.Route("/rules/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
		})

		r.Route("/applications", func(r chi.Router) {
			r.Get("/", s.handleListApplications)
			r.Post("/", s.handleCreateApplication)
			r.Route("/{applicationId}", func(r chi.Router) {
				r.Get("/", s.handleGetApplication)
				r.Delete("/", s.handleDeleteApplication)
				r.Post("/underwrite", s.handleUnderwrite)
				r.Get("/results", s.handleGetResults)
			})
		})

		r.Post("/evaluate", s.handleEvaluate)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// observe records every request in the metrics collector and the logger's
// counters, and logs it.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			route := ""
			if rc := chi.RouteContext(r.Context()); rc != nil {
				route = rc.RoutePattern()
			}
			s.metrics.ObserveRequest(r.Method, route, status, elapsed)

			switch {
			case status >= 500:
				logger.ErrorHttp5xx()
			case status >= 400:
				logger.WarnHttp4xx(status)
			}
			if s.slowRequest > 0 && elapsed > s.slowRequest {
				logger.WarnSlowRequest()
			}
			logger.Trace("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", elapsed.Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// respondFailure maps domain errors onto status codes.
func respondFailure(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, policy.ErrInvalid):
		respondError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, store.ErrConflict):
		respondError(w, http.StatusConflict, message, err)
	case errors.Is(err, rules.ErrContext):
		respondError(w, http.StatusUnprocessableEntity, message, err)
	default:
		logger.Error(message, "error", err)
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	if server.db != nil {
		defer server.db.Close()
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port, "store", cfg.Database.Backend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}
	logger.Info("server stopped")
}
