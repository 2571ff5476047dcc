package rest

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/cache"
	"github.com/meridianid/audit-ledger-backend/internal/metrics"
)

// Middleware wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares in order: the first listed runs outermost
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type contextKey string

const (
	contextKeyRequestID contextKey = "request_id"
	contextKeyActor     contextKey = "actor"
)

// RequestID assigns each request an ID, honoring one supplied by the caller
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFrom returns the request ID stored by the RequestID middleware
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// ActorFrom returns the authenticated principal, empty when auth is disabled
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(contextKeyActor).(string); ok {
		return actor
	}
	return ""
}

// Recover converts panics into 500 responses instead of dropped connections
func Recover(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Error("panic in handler",
						"path", r.URL.Path,
						"panic", recovered,
						"stack", string(debug.Stack()))
					writeError(w, r, errInternal("an unexpected error occurred"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog logs one line per request with latency and status
func AccessLog(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"duration_ms", time.Since(started).Milliseconds(),
				"request_id", RequestIDFrom(r.Context()))
		})
	}
}

// Instrument records request durations by method, route pattern and status
func Instrument(reg *metrics.Registry) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			pattern := r.Pattern
			if pattern == "" {
				pattern = "unmatched"
			}
			reg.APIRequestDuration.WithLabelValues(
				r.Method, pattern, strconv.Itoa(recorder.status)).
				Observe(time.Since(started).Seconds())
		})
	}
}

// Authenticate validates a bearer JWT and stores its subject as the request
// actor. An empty secret disables authentication for local development.
func Authenticate(secret string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, r, errUnauthorized("missing bearer token"))
				return
			}

			token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "),
				func(token *jwt.Token) (interface{}, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(secret), nil
				},
				jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				writeError(w, r, errUnauthorized("invalid token"))
				return
			}

			actor := ""
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				if sub, err := claims.GetSubject(); err == nil {
					actor = sub
				}
			}
			ctx := context.WithValue(r.Context(), contextKeyActor, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit throttles per client IP through the shared redis limiter,
// falling back to a process-local token bucket when redis is unavailable
func RateLimit(limiter *cache.RateLimiter, perSecond, burst int) Middleware {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < perSecond {
		burst = perSecond
	}
	local := rate.NewLimiter(rate.Limit(perSecond), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed := true
			if limiter != nil {
				var err error
				allowed, err = limiter.Allow(r.Context(), clientIP(r), perSecond, time.Second)
				if err != nil {
					allowed = local.Allow()
				}
			} else {
				allowed = local.Allow()
			}

			if !allowed {
				w.Header().Set("Retry-After", "1")
				writeError(w, r, errTooManyRequests("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps websocket upgrades working through the wrapped writer
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hijacker.Hijack()
}
