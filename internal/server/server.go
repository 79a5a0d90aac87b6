// Package server exposes the nutrition assistant over HTTP. It owns request
// decoding and validation, the response envelope, and the mapping from error
// kinds to status codes; all domain behavior lives in internal/agent.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/quangtienngo661/NouMeal-be/internal/agent"
	"github.com/quangtienngo661/NouMeal-be/internal/config"
	"github.com/quangtienngo661/NouMeal-be/internal/logger"
	"github.com/quangtienngo661/NouMeal-be/internal/store"
)

// Server is the HTTP front end.
type Server struct {
	cfg        config.ServerConfig
	log        *slog.Logger
	validate   *validator.Validate
	store      store.Store
	ops        *agent.Operations
	dispatcher *agent.Dispatcher
	classifier *agent.Classifier
	workflows  *agent.Workflows

	historyWindow    int
	classifierWindow int

	http *http.Server
}

// New wires the HTTP server. The router and middleware are fixed at
// construction time.
func New(
	cfg config.ServerConfig,
	agentCfg config.AgentConfig,
	log *slog.Logger,
	st store.Store,
	ops *agent.Operations,
	dispatcher *agent.Dispatcher,
	classifier *agent.Classifier,
	workflows *agent.Workflows,
) *Server {
	s := &Server{
		cfg:              cfg,
		log:              log.With("component", "http_server"),
		validate:         validator.New(),
		store:            st,
		ops:              ops,
		dispatcher:       dispatcher,
		classifier:       classifier,
		workflows:        workflows,
		historyWindow:    agentCfg.HistoryWindow,
		classifierWindow: agentCfg.ClassifierWindow,
	}

	router := mux.NewRouter()
	router.Use(logger.Middleware(s.log))

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/agent", s.handleAgent).Methods(http.MethodPost)
	api.HandleFunc("/agent/suggest", s.handleAgentSuggest).Methods(http.MethodPost)
	api.HandleFunc("/agent/multi-step", s.handleAgentMultiStep).Methods(http.MethodPost)
	api.HandleFunc("/analyze-food", s.handleAnalyzeFood).Methods(http.MethodPost)
	api.HandleFunc("/compare-foods", s.handleCompareFoods).Methods(http.MethodPost)
	api.HandleFunc("/track-calories", s.handleTrackCalories).Methods(http.MethodPost)
	api.HandleFunc("/quick-scan", s.handleQuickScan).Methods(http.MethodPost)
	api.HandleFunc("/meal-suggestion", s.handleMealSuggestion).Methods(http.MethodPost)
	api.HandleFunc("/weekly-menu", s.handleWeeklyMenu).Methods(http.MethodPost)
	api.HandleFunc("/detailed-recipes", s.handleDetailedRecipes).Methods(http.MethodPost)
	api.HandleFunc("/user/profile", s.handleSaveProfile).Methods(http.MethodPost)
	api.HandleFunc("/user/profile/{user_id}", s.handleGetProfile).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the configured router, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is canceled, then shuts down gracefully within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("HTTP server listening", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}
