package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-warehouse/internal/crawler"
	"github.com/JakeFAU/catalog-warehouse/internal/metrics"
	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

const (
	requestTimeout = 30 * time.Second
	readyTimeout   = 3 * time.Second
)

// Deps are the read-only views the server reports on.
type Deps struct {
	Namespace   warehouse.Namespace
	Checkpoint  crawler.Checkpoint
	Counter     warehouse.Counter
	Dimensional warehouse.DimensionalStore
}

// Server wires HTTP handlers to the checkpoint and warehouse.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		r.Get("/checkpoint", s.getCheckpoint)
		r.Route("/warehouse", func(r chi.Router) {
			r.Get("/", s.getWarehouse)
			r.Get("/brands", s.listBrands)
			r.Get("/categories", s.listCategories)
			r.Get("/facts/{product_id}", s.getFact)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once the warehouse answers a count query.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Counter == nil {
		writeError(w, http.StatusServiceUnavailable, "warehouse unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if _, err := s.deps.Counter.Counts(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "warehouse unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.deps.Checkpoint == nil {
		writeError(w, http.StatusServiceUnavailable, "checkpoint unavailable")
		return
	}
	done, err := s.deps.Checkpoint.Completed(r.Context())
	if err != nil {
		s.logger.Error("read checkpoint failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read checkpoint")
		return
	}
	writeJSON(w, http.StatusOK, checkpointResponse{
		Namespace: s.deps.Namespace.String(),
		Count:     len(done),
		Completed: done.Sorted(),
	})
}

func (s *Server) getWarehouse(w http.ResponseWriter, r *http.Request) {
	if s.deps.Counter == nil {
		writeError(w, http.StatusServiceUnavailable, "warehouse unavailable")
		return
	}
	counts, err := s.deps.Counter.Counts(r.Context())
	if err != nil {
		s.logger.Error("count warehouse rows failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count rows")
		return
	}
	writeJSON(w, http.StatusOK, warehouseResponse{
		Namespace: s.deps.Namespace.String(),
		Counts:    counts,
	})
}

func (s *Server) listBrands(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dimensional == nil {
		writeError(w, http.StatusServiceUnavailable, "warehouse unavailable")
		return
	}
	brands, err := s.deps.Dimensional.Brands(r.Context())
	if err != nil {
		s.logger.Error("list brands failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list brands")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"brands": brands})
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dimensional == nil {
		writeError(w, http.StatusServiceUnavailable, "warehouse unavailable")
		return
	}
	categories, err := s.deps.Dimensional.Categories(r.Context())
	if err != nil {
		s.logger.Error("list categories failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (s *Server) getFact(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dimensional == nil {
		writeError(w, http.StatusServiceUnavailable, "warehouse unavailable")
		return
	}
	productID := chi.URLParam(r, "product_id")
	fact, err := s.deps.Dimensional.Fact(r.Context(), productID)
	switch {
	case errors.Is(err, warehouse.ErrNotFound):
		writeError(w, http.StatusNotFound, "product not found")
		return
	case err != nil:
		s.logger.Error("get fact failed", zap.String("product_id", productID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get product")
		return
	}
	writeJSON(w, http.StatusOK, fact)
}

type checkpointResponse struct {
	Namespace string            `json:"namespace"`
	Count     int               `json:"count"`
	Completed []crawler.Segment `json:"completed"`
}

type warehouseResponse struct {
	Namespace string                `json:"namespace"`
	Counts    warehouse.LayerCounts `json:"counts"`
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
