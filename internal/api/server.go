// Package api exposes the daemon's HTTP surface: artifact intake, the
// per-session analysis channel, history, training and operational
// endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"seqscope/go-backend/internal/classify"
	"seqscope/go-backend/internal/config"
	"seqscope/go-backend/internal/metrics"
	"seqscope/go-backend/internal/platform/ratelimiter"
	"seqscope/go-backend/internal/session"
	"seqscope/go-backend/internal/storage"
	"seqscope/go-backend/internal/train"
	"seqscope/go-backend/internal/uploads"
)

// Deps are the collaborators the server routes requests to. All are
// required except Trainer and Metrics, which degrade gracefully.
type Deps struct {
	Uploads      *uploads.Store
	History      *storage.HistoryStore
	Classifier   *classify.Client
	Trainer      *train.Service
	Orchestrator *session.Orchestrator
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	uploads    *uploads.Store
	history    *storage.HistoryStore
	classifier *classify.Client
	trainer    *train.Service
	orch       *session.Orchestrator
	limiter    *ratelimiter.MapLimiter
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

func NewServer(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *ratelimiter.MapLimiter
	if cfg.RateLimitEnabled() {
		limiter = ratelimiter.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 10*time.Minute)
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		metrics:    deps.Metrics,
		uploads:    deps.Uploads,
		history:    deps.History,
		classifier: deps.Classifier,
		trainer:    deps.Trainer,
		orch:       deps.Orchestrator,
		limiter:    limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				return origin == "" || isAllowedOrigin(origin)
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", deps.Metrics.Handler())
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/ws/{file_id}", s.handleAnalysisSocket)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/history/{record_type}/{file_id}", s.handleHistoryRecord)
	mux.HandleFunc("/api/text-analysis", s.handleTextAnalysis)
	mux.HandleFunc("/train", s.handleTrain)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// applyCORS admits localhost origins only; requests with no Origin header
// (CLI clients, tests) pass untouched.
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin != "" && !isAllowedOrigin(origin) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return false
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
	return true
}

func isAllowedOrigin(raw string) bool {
	if raw == "null" {
		return allowNullOrigin()
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.TrimSpace(u.Hostname())
	if host == "" {
		return false
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func allowNullOrigin() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("SEQSCOPE_ALLOW_NULL_ORIGIN"))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
