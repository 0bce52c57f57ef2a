package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mailgate/mailgate/internal/dispatch"
	"github.com/mailgate/mailgate/internal/queue"
)

// SendRequest is the request body for POST /api/v1/send
type SendRequest struct {
	To      string            `json:"to"`
	Subject string            `json:"subject"`
	Text    string            `json:"text,omitempty"`
	HTML    string            `json:"html,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// SendResponse is the response for POST /api/v1/send
type SendResponse struct {
	Status    string `json:"status"`
	ID        string `json:"id"`
	Remaining int    `json:"remaining"`
}

// RateLimitResponse is the 429 response body
type RateLimitResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Uptime  string       `json:"uptime"`
	Spool   *queue.Stats `json:"spool,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleSend handles POST /api/v1/send
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	key := keyFromContext(r.Context())

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.To == "" {
		s.sendError(w, http.StatusBadRequest, "to is required")
		return
	}
	if req.Text == "" && req.HTML == "" {
		s.sendError(w, http.StatusBadRequest, "text or html is required")
		return
	}

	result, err := s.orchestrator.Send(r.Context(), key, dispatch.Request{
		To:       []string{req.To},
		Subject:  req.Subject,
		HTML:     req.HTML,
		Text:     req.Text,
		Headers:  req.Headers,
		ClientIP: r.RemoteAddr,
	})
	if err != nil {
		s.sendDispatchError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.IncAccepted()
	}

	s.sendJSON(w, http.StatusAccepted, SendResponse{
		Status:    "queued",
		ID:        result.SpoolID,
		Remaining: result.Remaining,
	})
}

// handleUsage handles GET /api/v1/usage
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	key := keyFromContext(r.Context())
	s.sendJSON(w, http.StatusOK, s.orchestrator.Usage(r.Context(), key))
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, _ := s.spool.Stats(r.Context())

	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).String(),
		Spool:   stats,
	})
}

// sendDispatchError maps orchestrator errors to HTTP responses
func (s *Server) sendDispatchError(w http.ResponseWriter, err error) {
	var invalidErr *dispatch.InvalidRecipientError
	if errors.As(err, &invalidErr) {
		if s.metrics != nil {
			s.metrics.IncRejected("invalid_recipient")
		}
		s.sendError(w, http.StatusBadRequest, invalidErr.Error())
		return
	}

	var notAllowedErr *dispatch.RecipientNotAllowedError
	if errors.As(err, &notAllowedErr) {
		if s.metrics != nil {
			s.metrics.IncRejected("recipient_not_allowed")
		}
		s.sendError(w, http.StatusForbidden, notAllowedErr.Error())
		return
	}

	var rateErr *dispatch.RateLimitedError
	if errors.As(err, &rateErr) {
		if s.metrics != nil {
			s.metrics.IncRateLimited()
		}
		retryAfter := int(rateErr.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.sendJSON(w, http.StatusTooManyRequests, RateLimitResponse{
			Error:             "rate_limited",
			RetryAfterSeconds: retryAfter,
		})
		return
	}

	s.logger.Error("send failed", "error", err)
	s.sendError(w, http.StatusInternalServerError, "failed to queue message")
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends a JSON error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
