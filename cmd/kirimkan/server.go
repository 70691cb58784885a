package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"kirimkan/internal/middleware"
	"kirimkan/internal/models"
	"kirimkan/internal/push"
	"kirimkan/internal/session"
	"kirimkan/internal/webhook"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router     *mux.Router
	server     *http.Server
	logger     *logrus.Logger
	cfg        *models.Config
	registry   *session.Registry
	store      *webhook.Store
	dispatcher *webhook.Dispatcher
	hub        *push.Hub
}

func NewServer(cfg *models.Config, registry *session.Registry, store *webhook.Store, dispatcher *webhook.Dispatcher, hub *push.Hub, logger *logrus.Logger) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		cfg:        cfg,
		registry:   registry,
		store:      store,
		dispatcher: dispatcher,
		hub:        hub,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket()).Methods(http.MethodGet)

	// Auth routes stay outside the API key requirement so the dashboard
	// can obtain the token in the first place
	auth := s.router.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/login", s.handleAuthLogin()).Methods(http.MethodPost)
	auth.HandleFunc("/check", s.handleAuthCheck()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.requireAPIKey)

	api.HandleFunc("/sessions/create", s.handleCreateSession()).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions()).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession()).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession()).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/qr", s.handleGetQR()).Methods(http.MethodGet)

	api.HandleFunc("/webhook/config", s.handleGetWebhookConfig()).Methods(http.MethodGet)
	api.HandleFunc("/webhook/config", s.handleSetWebhookConfig()).Methods(http.MethodPost)
	api.HandleFunc("/webhook/config", s.handleDeleteWebhookConfig()).Methods(http.MethodDelete)
	api.HandleFunc("/webhook/{sessionId}/test", s.handleTestWebhook()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
