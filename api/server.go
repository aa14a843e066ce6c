// Package api provides the HTTP REST API server for arvscout.
//
// It exposes comparables acquisition, valuation, historical validation,
// quota reporting, mortgage rates, cache management, Prometheus metrics and
// a WebSocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/arvscout/arvscout/internal/acquire"
	"github.com/arvscout/arvscout/internal/config"
	"github.com/arvscout/arvscout/internal/metrics"
	"github.com/arvscout/arvscout/internal/quota"
	"github.com/arvscout/arvscout/internal/valuation"
	"github.com/arvscout/arvscout/pkg/models"
)

// Version is reported by /health; the CLI overrides it at build time.
var Version = "dev"

// Engine is the acquisition surface the API needs; *acquire.Engine
// implements it.
type Engine interface {
	FetchComparables(ctx context.Context, id models.Identity, forceRefresh bool) (*acquire.ComparablesResult, error)
	FetchMortgageRate(ctx context.Context, seriesID string) (*models.MortgageRate, error)
	QuotaReport(ctx context.Context) map[string]quota.Status
	ClearCache(ctx context.Context, prefix string) (int, error)
}

// Valuer produces valuations; *valuation.Service implements it.
type Valuer interface {
	Estimate(ctx context.Context, req valuation.Request) (*valuation.Result, error)
}

// Validator annotates valuations; *history.Validator implements it.
type Validator interface {
	Validate(ctx context.Context, value float64, id models.Identity) models.HistoricalValidation
}

// Deps are the collaborators of a Server.
type Deps struct {
	Engine    Engine
	Valuer    Valuer
	Validator Validator
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Server is the HTTP API server.
type Server struct {
	router    chi.Router
	cfg       *config.Config
	engine    Engine
	valuer    Valuer
	validator Validator
	metrics   *metrics.Metrics
	logger    *zap.Logger
	validate  *validator.Validate
	hub       *Hub
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("api: config is required")
	}
	if deps.Engine == nil || deps.Valuer == nil || deps.Validator == nil {
		return nil, errors.New("api: engine, valuer and validator are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:       cfg,
		engine:    deps.Engine,
		valuer:    deps.Valuer,
		validator: deps.Validator,
		metrics:   deps.Metrics,
		logger:    logger,
		validate:  models.NewValidator(),
		hub:       NewHub(logger),
	}
	s.router = s.buildRouter()
	return s, nil
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Hub returns the event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.recordMetrics)

	// CORS
	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(2 * time.Minute))

			r.Get("/comparables", s.handleComparables)
			r.Post("/valuation", s.handleValuation)
			r.Post("/validate", s.handleValidate)
			r.Get("/rates", s.handleRates)
		})

		r.Get("/quota", s.handleQuota)
		r.Delete("/cache", s.handleClearCache)

		r.Get("/config", s.handleGetConfig)
		r.Get("/config/keys", s.handleGetConfigKeys)
	})

	return r
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// recordMetrics records request counts and latency by route pattern.
func (s *Server) recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write JSON response", zap.Error(err))
	}
}

func (s *Server) writeData(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, APIResponse{Success: false, Error: msg})
}
