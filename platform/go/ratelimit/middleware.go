package ratelimit

import (
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/zenGate-Global/tenantgate/platform/go/logging"
	"github.com/zenGate-Global/tenantgate/platform/go/problem"
)

const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderLimit     = "X-RateLimit-Limit"
)

// CheckRequest counts r, writes the quota headers and returns a *problem.RateLimitedError
// when the client is over its limit.
func (l *Limiter) CheckRequest(w http.ResponseWriter, r *http.Request) error {
	d := l.Check(ClientIP(r), r.UserAgent())
	w.Header().Set(HeaderRemaining, strconv.Itoa(d.Remaining))
	w.Header().Set(HeaderLimit, strconv.Itoa(d.Limit))
	if d.Limited {
		return &problem.RateLimitedError{RetryAfter: d.RetryAfter}
	}
	return nil
}

// Middleware rejects limited requests with 429 before any downstream work runs.
func Middleware(l *Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	if l == nil {
		panic("rate limiter is required")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := l.CheckRequest(w, r); err != nil {
				log := logging.FromRequest(r, logger)
				log.Info("request rate limited", zap.String("client_ip", ClientIP(r)), zap.Error(err))
				problem.Write(w, log, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the request's remote address without the port. Behind a proxy,
// chi's RealIP middleware must run first.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
