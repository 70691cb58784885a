package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"kirimkan/internal/errors"
	"kirimkan/internal/metrics"
	"kirimkan/internal/models"
	"kirimkan/internal/tracing"

	"github.com/gorilla/mux"
)

// successResponse is the envelope every successful API response uses.
type successResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) writeSuccess(w http.ResponseWriter, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(successResponse{Success: true, Message: message, Data: data}); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.WithError(err).WithFields(map[string]interface{}{
		"request_id": tracing.GetRequestID(r.Context()),
		"url":        r.URL.Path,
	}).Debug("Request failed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatusCode(err))
	if encErr := json.NewEncoder(w).Encode(errors.ToHTTPResponse(err)); encErr != nil {
		s.logger.WithError(encErr).Error("Failed to encode error response")
	}
}

func (s *Server) decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidArgument, "malformed JSON body").
			WithUserMessage("Request body must be valid JSON")
	}
	return nil
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeSuccess(w, "", map[string]string{"status": "healthy"})
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(metrics.GetAllMetrics()); err != nil {
			s.logger.WithError(err).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}

// --- Sessions ---

func (s *Server) handleCreateSession() http.HandlerFunc {
	type request struct {
		SessionID string `json:"sessionId"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := s.decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		info, err := s.registry.Create(r.Context(), req.SessionID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, "Session created", map[string]string{"id": info.SessionID})
	}
}

func (s *Server) handleListSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeSuccess(w, "", s.registry.List())
	}
}

func (s *Server) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := s.registry.Get(mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, "", info)
	}
}

func (s *Server) handleDeleteSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["id"]
		if err := s.registry.Delete(r.Context(), sessionID); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, "Session deleted", map[string]string{"id": sessionID})
	}
}

func (s *Server) handleGetQR() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := mux.Vars(r)["id"]
		qr, err := s.registry.GetQR(sessionID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, "", map[string]string{
			"sessionId": sessionID,
			"qr":        qr.Code,
		})
	}
}

// --- Webhook configuration ---

func (s *Server) handleGetWebhookConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := s.store.Get(r.Context(), r.URL.Query().Get("sessionId"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, "", cfg)
	}
}

func (s *Server) handleSetWebhookConfig() http.HandlerFunc {
	type request struct {
		SessionID string `json:"sessionId"`
		models.WebhookConfig
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := s.decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		saved, err := s.store.Set(r.Context(), req.SessionID, &req.WebhookConfig)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, "Webhook config saved", saved)
	}
}

func (s *Server) handleDeleteWebhookConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("sessionId")
		if err := s.store.Clear(r.Context(), sessionID); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, "Webhook config cleared", nil)
	}
}

func (s *Server) handleTestWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := s.dispatcher.TestDispatch(r.Context(), mux.Vars(r)["sessionId"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSuccess(w, "Test dispatch completed", map[string]interface{}{"results": results})
	}
}

// --- Auth ---

func (s *Server) handleAuthLogin() http.HandlerFunc {
	type request struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := s.decodeJSON(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		if s.cfg.APIKey != "" && !secureCompare(req.Password, s.cfg.APIKey) {
			s.writeError(w, r, errors.NewAuthError("invalid credentials"))
			return
		}

		s.writeSuccess(w, "Authenticated", map[string]string{
			"username": strings.TrimSpace(req.Username),
			"token":    s.cfg.APIKey,
		})
	}
}

func (s *Server) handleAuthCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && !secureCompare(apiKeyFromRequest(r), s.cfg.APIKey) {
			s.writeError(w, r, errors.NewAuthError("invalid or missing API key"))
			return
		}
		s.writeSuccess(w, "", map[string]bool{"authenticated": true})
	}
}
