package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mailgate/mailgate/internal/keys"
	"github.com/mailgate/mailgate/internal/models"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// keyFromContext returns the authenticated API key set by authMiddleware
func keyFromContext(ctx context.Context) *models.APIKey {
	key, _ := ctx.Value(apiKeyContextKey).(*models.APIKey)
	return key
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// authMiddleware resolves the caller's API key. An unknown secret is
// 401, a known but deactivated key is 403.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get("X-API-Key")
		if secret == "" {
			auth := r.Header.Get("Authorization")
			secret = strings.TrimPrefix(auth, "Bearer ")
		}

		if secret == "" {
			s.sendError(w, http.StatusUnauthorized, "missing API key")
			return
		}

		key, err := s.keys.Resolve(r.Context(), secret)
		if err != nil {
			if errors.Is(err, keys.ErrNotFound) {
				s.logger.Warn("unknown API key",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				s.sendError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			s.logger.Error("API key lookup failed", "error", err)
			s.sendError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if !key.Active {
			s.sendError(w, http.StatusForbidden, "API key is deactivated")
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminMiddleware checks the admin token
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.AdminKey == "" {
			s.sendError(w, http.StatusForbidden, "admin API is disabled")
			return
		}

		token := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.AdminKey)) != 1 {
			s.logger.Warn("unauthorized admin request",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			s.sendError(w, http.StatusUnauthorized, "invalid admin key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
