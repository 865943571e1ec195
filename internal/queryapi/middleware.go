package queryapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxQueryLimit is the maximum number of results returned by query
// endpoints, matching the teacher's clampLimit ceiling.
const maxQueryLimit = 1000

// clampLimit returns limit clamped to [1, maxQueryLimit]; non-positive
// values fall back to defaultLimit (spec §6 "limit ≤ 1000").
func clampLimit(limit, defaultLimit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

// errorBody is the uniform JSON error envelope (spec §7 "UI receives a
// uniform JSON error body { code, message, details? }").
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Debug("failed to encode response", zap.Error(err))
	}
}

func (a *API) writeError(w http.ResponseWriter, code string, status int, msg string, err error) {
	if status >= http.StatusInternalServerError {
		a.logger.Error(msg, zap.Error(err))
	} else {
		a.logger.Warn(msg, zap.Error(err))
	}
	body := errorBody{Code: code, Message: msg}
	if err != nil {
		body.Details = err.Error()
	}
	a.writeJSON(w, status, body)
}

// responseWriter wraps http.ResponseWriter to capture the status code for
// logging, the same shape as the teacher's.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds permissive CORS headers, matching the teacher's dev/
// internal-use posture — restricting origins is a reverse-proxy concern.
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader carries a per-request correlation id through logs and back
// to the caller, for tying a UI-reported problem to a specific server log
// line.
const requestIDHeader = "X-Request-Id"

// loggingMiddleware logs every request's method, path, status, and
// duration, matching the teacher's loggingMiddleware, plus a generated
// request id the teacher's single-user query server had no need for.
func (a *API) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		w.Header().Set(requestIDHeader, requestID)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		a.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
