package streamapi

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/r3e-network/reactive-streams/pkg/config"
	"github.com/r3e-network/reactive-streams/pkg/logger"
)

type ctxKey int

const ctxSubjectKey ctxKey = iota

// subjectFromContext returns the authenticated subject (JWT "sub" claim),
// if auth middleware ran.
func subjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(ctxSubjectKey).(string)
	return s
}

// clientRateLimiter hands out one golang.org/x/time/rate.Limiter per client
// IP, grounded on the same token-bucket shape as the gateway's limiter but
// keyed per remote address instead of process-wide so one noisy subscriber
// cannot starve another's create-stream calls.
type clientRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newClientRateLimiter(cfg config.RateLimitConfig) *clientRateLimiter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps * 2)
	}
	return &clientRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (c *clientRateLimiter) allow(key string) bool {
	c.mu.Lock()
	lim, ok := c.limiters[key]
	if !ok {
		lim = rate.NewLimiter(c.rps, c.burst)
		c.limiters[key] = lim
	}
	c.mu.Unlock()
	return lim.Allow()
}

// rateLimitMiddleware rejects requests over the per-client rate with 429
// (spec §5 "back-pressure policy" extended to the HTTP surface, §4.8).
func rateLimitMiddleware(cfg config.RateLimitConfig, log *logger.Logger) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	limiter := newClientRateLimiter(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !limiter.allow(key) {
				log.WithField("client", key).Warn("rate limit exceeded")
				writeError(w, http.StatusTooManyRequests, fmt.Errorf("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authMiddleware requires a valid Bearer JWT (golang-jwt/jwt/v5), signed
// with cfg.JWTSecret, when cfg.Enabled. The validated subject claim is
// attached to the request context for downstream handlers/logging.
func authMiddleware(cfg config.AuthConfig, log *logger.Logger) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" || token == header {
				writeError(w, http.StatusUnauthorized, fmt.Errorf("missing bearer token"))
				return
			}

			claims := jwt.MapClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil || !parsed.Valid {
				log.WithField("error", err).Warn("rejected invalid bearer token")
				writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid bearer token"))
				return
			}
			if cfg.Issuer != "" {
				if iss, _ := claims.GetIssuer(); iss != cfg.Issuer {
					writeError(w, http.StatusUnauthorized, fmt.Errorf("unexpected issuer"))
					return
				}
			}
			sub, _ := claims.GetSubject()
			ctx := context.WithValue(r.Context(), ctxSubjectKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// loggingMiddleware records method, path, status, and latency per request,
// mirroring the ambient request-logging convention used elsewhere in this
// codebase (pkg/logger).
func loggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.WithFields(map[string]any{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   sw.status,
				"duration": time.Since(start).String(),
			}).Info("request handled")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the wrapped writer so SSE frames reach the client as
// they are written.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards to the wrapped writer so WebSocket upgrades work behind
// this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("streamapi: response writer does not support hijacking")
	}
	return h.Hijack()
}
