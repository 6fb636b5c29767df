// Package httpapi exposes the server over HTTP: JSON endpoints for account
// handling, sync and message operations, a websocket channel for live delta
// notifications, and the prometheus scrape endpoint.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/wirechat/internal/logging"
	"github.com/dmitrijs2005/wirechat/internal/metrics"
	"github.com/dmitrijs2005/wirechat/internal/model"
	"github.com/dmitrijs2005/wirechat/internal/server/generate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UserAPI is the account surface the handlers call.
type UserAPI interface {
	Register(ctx context.Context, username, password string) (string, error)
	Login(ctx context.Context, username, password string) (string, error)
}

// SyncAPI is the delta exchange surface the handlers call.
type SyncAPI interface {
	ApplyAndPull(ctx context.Context, ownerID string, cursor int64, changes map[model.Kind][]model.Change) (*model.SyncResponse, error)
	Pull(ctx context.Context, ownerID string, cursor int64) (*model.SyncResponse, error)
}

// GenerateAPI is the message/generation surface the handlers call.
type GenerateAPI interface {
	StartExchange(ctx context.Context, ownerID string, req generate.ExchangeRequest) (*generate.ExchangeResult, error)
	Cancel(ctx context.Context, ownerID, messageID string) error
	Edit(ctx context.Context, ownerID, messageID, newContent, modelConfigID string) (*generate.ExchangeResult, error)
}

// Server serves the public HTTP endpoint.
type Server struct {
	addr         string
	users        UserAPI
	sync         SyncAPI
	gen          GenerateAPI
	jwtSecret    []byte
	pollInterval time.Duration
	logger       logging.Logger
	metrics      *metrics.Metrics
	upgrader     websocket.Upgrader
}

// NewServer constructs a Server.
func NewServer(addr string, users UserAPI, sync SyncAPI, gen GenerateAPI,
	jwtSecret string, pollInterval time.Duration, logger logging.Logger, m *metrics.Metrics) *Server {
	return &Server{
		addr:         addr,
		users:        users,
		sync:         sync,
		gen:          gen,
		jwtSecret:    []byte(jwtSecret),
		pollInterval: pollInterval,
		logger:       logger.With("module", "httpapi"),
		metrics:      m,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)

	mux.HandleFunc("POST /api/sync", s.withAuth(s.handleSync))
	mux.HandleFunc("GET /api/sync", s.withAuth(s.handlePull))
	mux.HandleFunc("POST /api/messages", s.withAuth(s.handleSendMessage))
	mux.HandleFunc("POST /api/messages/cancel", s.withAuth(s.handleCancel))
	mux.HandleFunc("POST /api/messages/edit", s.withAuth(s.handleEdit))
	mux.HandleFunc("GET /api/live", s.withAuth(s.handleLive))

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info(ctx, "http server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
