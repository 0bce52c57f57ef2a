package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mailgate/mailgate/internal/keys"
	"github.com/mailgate/mailgate/internal/models"
)

// KeyCreateRequest is the request for POST /api/v1/admin/keys
type KeyCreateRequest struct {
	Name              string   `json:"name"`
	DailyLimit        int      `json:"daily_limit,omitempty"`
	AllowedRecipients []string `json:"allowed_recipients,omitempty"`
}

// KeyListResponse is the response for GET /api/v1/admin/keys
type KeyListResponse struct {
	Keys []models.APIKeyWithStats `json:"keys"`
}

// handleKeysList handles GET /api/v1/admin/keys
func (s *Server) handleKeysList(w http.ResponseWriter, r *http.Request) {
	filter := models.APIKeyFilter{
		Search: r.URL.Query().Get("search"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	list, err := s.keys.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list API keys", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to list keys")
		return
	}

	s.sendJSON(w, http.StatusOK, KeyListResponse{Keys: list})
}

// handleKeysCreate handles POST /api/v1/admin/keys. The response is the
// only place the plain key is ever revealed.
func (s *Server) handleKeysCreate(w http.ResponseWriter, r *http.Request) {
	var req KeyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.DailyLimit < 0 {
		s.sendError(w, http.StatusBadRequest, "daily_limit must not be negative")
		return
	}

	result, err := s.keys.Create(r.Context(), keys.CreateOptions{
		Name:              req.Name,
		DailyLimit:        req.DailyLimit,
		AllowedRecipients: req.AllowedRecipients,
	})
	if err != nil {
		s.logger.Error("failed to create API key", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to create key")
		return
	}

	s.logger.Info("API key created", "id", result.ID, "name", result.Name)
	s.sendJSON(w, http.StatusCreated, result)
}

// handleKeyActivate handles POST /api/v1/admin/keys/{id}/activate
func (s *Server) handleKeyActivate(w http.ResponseWriter, r *http.Request) {
	s.setKeyActive(w, r, true)
}

// handleKeyDeactivate handles POST /api/v1/admin/keys/{id}/deactivate
func (s *Server) handleKeyDeactivate(w http.ResponseWriter, r *http.Request) {
	s.setKeyActive(w, r, false)
}

func (s *Server) setKeyActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "id is required")
		return
	}

	var err error
	if active {
		err = s.keys.Activate(r.Context(), id)
	} else {
		err = s.keys.Deactivate(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, keys.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "key not found")
			return
		}
		s.logger.Error("failed to update API key", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to update key")
		return
	}

	s.logger.Info("API key updated", "id", id, "active", active)
	w.WriteHeader(http.StatusNoContent)
}
