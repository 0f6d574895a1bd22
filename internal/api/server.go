// Package api is the HTTP and WebSocket surface: auth, resource CRUD,
// execution control, settings, account info, system lifecycle and the event
// stream. Every response body is JSON; failures use {"detail": "..."}.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"signalbridge/internal/broker"
	"signalbridge/internal/config"
	"signalbridge/internal/engine"
	"signalbridge/internal/hub"
	"signalbridge/internal/pipeline"
	"signalbridge/internal/store"
	"signalbridge/internal/vault"
)

// Server holds the wired subsystems behind the HTTP surface.
type Server struct {
	store       *store.Store
	engine      *engine.Engine
	vault       *vault.Vault
	hub         *hub.Hub
	adapter     broker.Adapter
	coordinator *pipeline.Coordinator
	logger      *slog.Logger

	jwtSecret string
	tokenTTL  time.Duration
	port      int
}

// New wires the server.
func New(cfg *config.Config, st *store.Store, en *engine.Engine, v *vault.Vault, h *hub.Hub, adapter broker.Adapter, coord *pipeline.Coordinator, logger *slog.Logger) *Server {
	return &Server{
		store:       st,
		engine:      en,
		vault:       v,
		hub:         h,
		adapter:     adapter,
		coordinator: coord,
		logger:      logger.With("component", "api"),
		jwtSecret:   cfg.Auth.JWTSecret,
		tokenTTL:    cfg.Auth.TokenTTL,
		port:        cfg.Server.Port,
	}
}

// Routes builds the full route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)

	mux.HandleFunc("GET /broker-configs", s.requireAuth(s.handleListBrokerConfigs))
	mux.HandleFunc("POST /broker-configs", s.requireAuth(s.handleCreateBrokerConfig))
	mux.HandleFunc("DELETE /broker-configs/{id}", s.requireAuth(s.handleDeleteBrokerConfig))

	mux.HandleFunc("POST /credentials", s.requireAuth(s.handleStoreCredential))
	mux.HandleFunc("DELETE /credentials/{id}", s.requireAuth(s.handleDeleteCredential))

	mux.HandleFunc("GET /telegram-channels", s.requireAuth(s.handleListChannels))
	mux.HandleFunc("POST /telegram-channels", s.requireAuth(s.handleCreateChannel))
	mux.HandleFunc("DELETE /telegram-channels/{id}", s.requireAuth(s.handleDeleteChannel))

	mux.HandleFunc("GET /subscribers", s.requireAuth(s.handleListSubscribers))
	mux.HandleFunc("POST /subscribers", s.requireAuth(s.handleCreateSubscriber))
	mux.HandleFunc("DELETE /subscribers/{id}", s.requireAuth(s.handleDeleteSubscriber))

	mux.HandleFunc("GET /signals", s.requireAuth(s.handleListSignals))
	mux.HandleFunc("GET /signals/{id}", s.requireAuth(s.handleGetSignal))

	mux.HandleFunc("POST /executions", s.requireAuth(s.handleCreateExecutions))
	mux.HandleFunc("GET /executions", s.requireAuth(s.handleListExecutions))
	mux.HandleFunc("GET /executions/{id}", s.requireAuth(s.handleGetExecution))
	mux.HandleFunc("POST /executions/{id}/confirm", s.requireAuth(s.handleConfirmExecution))
	mux.HandleFunc("POST /executions/{id}/cancel", s.requireAuth(s.handleCancelExecution))
	mux.HandleFunc("POST /executions/{id}/close", s.requireAuth(s.handleCloseExecution))
	mux.HandleFunc("POST /executions/{id}/modify", s.requireAuth(s.handleModifyExecution))

	mux.HandleFunc("GET /settings", s.requireAuth(s.handleGetSettings))
	mux.HandleFunc("PUT /settings", s.requireAuth(s.handleUpdateSettings))

	mux.HandleFunc("GET /account/info", s.requireAuth(s.handleAccountInfo))
	mux.HandleFunc("GET /audit-events", s.requireAuth(s.handleListAuditEvents))

	mux.HandleFunc("POST /system/start", s.requireAuth(s.handleSystemStart))
	mux.HandleFunc("POST /system/stop", s.requireAuth(s.handleSystemStop))
	mux.HandleFunc("GET /system/status", s.requireAuth(s.handleSystemStatus))

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return mux
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
