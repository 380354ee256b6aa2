package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/tracksync/internal/handlers"
)

// withMiddleware wraps the router with middleware chain
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	// Apply middleware in reverse order (last applied = first executed)
	handler = s.recoveryMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	return handler
}

// Provider headers identifying a webhook delivery and its event type
var (
	deliveryHeaders = []string{"X-GitHub-Delivery", "X-Gitlab-Event-UUID"}
	eventHeaders    = []string{"X-GitHub-Event", "X-Gitlab-Event"}
)

// requestFields extracts the webhook delivery or job a request concerns.
func requestFields(r *http.Request) map[string]string {
	fields := make(map[string]string)
	if strings.HasPrefix(r.URL.Path, "/webhooks/") {
		fields["source"] = strings.Trim(strings.TrimPrefix(r.URL.Path, "/webhooks/"), "/")
		for _, h := range deliveryHeaders {
			if v := r.Header.Get(h); v != "" {
				fields["delivery_id"] = v
				break
			}
		}
		for _, h := range eventHeaders {
			if v := r.Header.Get(h); v != "" {
				fields["event"] = v
				break
			}
		}
	}
	if segments := handlers.PathSegments(r.URL.Path, "/api/jobs/"); len(segments) > 0 && strings.HasPrefix(r.URL.Path, "/api/jobs/") {
		fields["job_id"] = segments[0]
	}
	return fields
}

// loggingMiddleware logs HTTP requests and responses, tagged with the
// webhook delivery or job they concern
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		fields := requestFields(r)

		logEvent := s.app.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr)
		if r.URL.RawQuery != "" {
			logEvent.Str("query", r.URL.RawQuery)
		}
		for k, v := range fields {
			logEvent.Str(k, v)
		}
		logEvent.Msg("HTTP request")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		respEvent := s.app.Logger.Debug()
		if rw.statusCode >= http.StatusInternalServerError {
			respEvent = s.app.Logger.Warn()
		}
		respEvent = respEvent.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Dur("duration", time.Since(start))
		for k, v := range fields {
			respEvent.Str(k, v)
		}
		respEvent.Msg("HTTP response")
	})
}

// recoveryMiddleware recovers from panics and returns 500 error
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.app.Logger.Error().
					Str("error", fmt.Sprintf("%v", err)).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				handlers.WriteError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
