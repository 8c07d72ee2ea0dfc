// Package middleware provides HTTP middleware for the admin API.
package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/Alfredo-rv/SAAI/internal/metrics"
)

type contextKey struct{}

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestIDFrom returns the ID assigned by RequestID, falling back to the
// inbound header for requests that bypassed it.
func RequestIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(contextKey{}).(string); ok {
		return id
	}
	return r.Header.Get(RequestIDHeader)
}

// RequestID tags every request with an ID, reusing the caller's when present,
// and echoes it in the response headers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, id)))
	})
}

// Observe logs each request and records it in the HTTP metrics under its
// route template. Server errors log at warn level, everything else at debug.
func Observe(logger *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			elapsed := time.Since(start)
			route := routeTemplate(r)
			m.RecordHTTPRequest(r.Method, route, sw.status, elapsed.Seconds())

			lvl := zapcore.DebugLevel
			if sw.status >= http.StatusInternalServerError {
				lvl = zapcore.WarnLevel
			}
			if ce := logger.Check(lvl, "HTTP request"); ce != nil {
				ce.Write(
					zap.String("method", r.Method),
					zap.String("route", route),
					zap.Int("status", sw.status),
					zap.Duration("duration", elapsed),
					zap.String("request_id", RequestIDFrom(r)),
				)
			}
		})
	}
}

func routeTemplate(r *http.Request) string {
	if cur := mux.CurrentRoute(r); cur != nil {
		if tpl, err := cur.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Recovery turns a handler panic into a 500 response.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				id := RequestIDFrom(r)
				logger.Error("Handler panicked",
					zap.Any("panic", rec),
					zap.String("request_id", id),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"))
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", id)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter gives every client address its own token bucket. Buckets for
// the least recently seen clients are evicted once maxClients is reached.
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	clients *lru.Cache
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewRateLimiter creates a per-client limiter
func NewRateLimiter(requestsPerSecond float64, burstSize, maxClients int, logger *zap.Logger) (*RateLimiter, error) {
	if maxClients <= 0 {
		maxClients = 1024
	}
	clients, err := lru.New(maxClients)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{
		rps:     rate.Limit(requestsPerSecond),
		burst:   burstSize,
		clients: clients,
		logger:  logger,
	}, nil
}

func (rl *RateLimiter) limiterFor(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if v, ok := rl.clients.Get(client); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rl.rps, rl.burst)
	rl.clients.Add(client, l)
	return l
}

// Limit rejects requests over the client's budget with 429.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)
		if rl.limiterFor(client).Allow() {
			next.ServeHTTP(w, r)
			return
		}
		id := RequestIDFrom(r)
		rl.logger.Warn("Rate limit exceeded",
			zap.String("client", client),
			zap.String("path", r.URL.Path),
			zap.String("request_id", id))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", id)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Chain composes middleware so the first one listed runs outermost.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error_code": code,
		"message":    message,
		"request_id": requestID,
	})
}
