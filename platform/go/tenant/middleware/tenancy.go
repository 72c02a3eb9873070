package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/zenGate-Global/tenantgate/platform/go/logging"
	"github.com/zenGate-Global/tenantgate/platform/go/problem"
	"github.com/zenGate-Global/tenantgate/platform/go/tenant"
)

// Resolver maps a request host to its tenancy.
type Resolver interface {
	Resolve(ctx context.Context, host string) (*tenant.Tenancy, error)
}

// WithTenancy resolves the request host and attaches the tenancy to the context.
// Unknown hosts get 404 and an unreachable database 503; downstream handlers are
// never invoked without a tenancy.
func WithTenancy(resolver Resolver, logger *zap.Logger) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("tenancy middleware: resolver is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t, err := resolver.Resolve(r.Context(), r.Host)
			if err != nil {
				log := logging.FromRequest(r, logger)
				log.Info("tenancy not resolved", zap.Error(err))
				problem.Write(w, log, err)
				return
			}

			r = logging.Enrich(r,
				zap.String("tenancy", t.Kind.String()),
				zap.String("tenant_domain", t.Domain),
			)
			next.ServeHTTP(w, r.WithContext(tenant.WithTenancy(r.Context(), t)))
		})
	}
}

// RequireTenancy extracts the tenancy for handlers mounted behind WithTenancy.
func RequireTenancy(r *http.Request) (*tenant.Tenancy, error) {
	t, ok := tenant.FromContext(r.Context())
	if !ok {
		return nil, problem.ErrServiceUnavailable
	}
	return t, nil
}

// LandlordOnly hides routes from tenant hosts. Tenant requests get 404 as if the route
// did not exist.
func LandlordOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t, err := RequireTenancy(r)
		if err == nil && !t.IsLandlord() {
			err = problem.ErrNotFound
		}
		if err != nil {
			problem.Write(w, logging.FromRequest(r, nil), err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
