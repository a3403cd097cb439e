package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/crosspartition/inference-proxy/internal/shared/config"
	"github.com/crosspartition/inference-proxy/internal/shared/models"
)

type ctxKey int

const (
	principalKey ctxKey = iota
	requestIDKey
)

// RateLimiter is the per-principal limit check. Satisfied by the Redis
// client and by LocalLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, principal string, limit int) (bool, int, error)
}

// LocalLimiter is the in-process fallback used when Redis is not configured.
// Token buckets refill at limit/minute with a burst of the full limit.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *LocalLimiter) Allow(_ context.Context, principal string, limit int) (bool, int, error) {
	l.mu.Lock()
	lim, ok := l.limiters[principal]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(limit)/60.0), limit)
		l.limiters[principal] = lim
	}
	l.mu.Unlock()

	if !lim.Allow() {
		return false, 0, nil
	}
	remaining := int(lim.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, nil
}

type Middleware struct {
	table        *config.RouteTable
	limiter      RateLimiter
	defaultLimit int
	log          *slog.Logger
}

func NewMiddleware(table *config.RouteTable, limiter RateLimiter, defaultLimit int, log *slog.Logger) *Middleware {
	return &Middleware{
		table:        table,
		limiter:      limiter,
		defaultLimit: defaultLimit,
		log:          log,
	}
}

// RequestID assigns every inbound request a UUID, echoed in the
// X-Request-ID header and correlated with the audit trail.
func (m *Middleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Auth validates bearer tokens against the principal table. Tokens are
// compared by SHA-256 hash; the raw token is never stored or logged.
func (m *Middleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, r, models.NewRouteError(models.OutcomeAuthError, "missing authorization header"), "")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, r, models.NewRouteError(models.OutcomeAuthError, "invalid authorization header format"), "")
			return
		}

		hash := sha256.Sum256([]byte(parts[1]))
		principal := m.table.PrincipalByTokenHash(hex.EncodeToString(hash[:]))
		if principal == nil {
			writeError(w, r, models.NewRouteError(models.OutcomeAuthError, "unknown bearer token"), "")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimit enforces the per-principal per-minute limit.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := PrincipalFrom(r.Context())
		if principal == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := principal.RateLimitPerMinute
		if limit <= 0 {
			limit = m.defaultLimit
		}

		allowed, remaining, err := m.limiter.Allow(r.Context(), principal.Name, limit)
		if err != nil {
			// Limiter trouble must not take down routing.
			m.log.Warn("rate limiter unavailable", "principal", principal.Name, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CORS handles CORS preflight and headers.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// PrincipalFrom returns the authenticated principal, or nil.
func PrincipalFrom(ctx context.Context) *models.Principal {
	principal, _ := ctx.Value(principalKey).(*models.Principal)
	return principal
}

// RequestIDFrom returns the request ID assigned by the RequestID middleware.
func RequestIDFrom(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey).(string)
	return requestID
}
