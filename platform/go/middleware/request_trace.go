package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/tenantgate/platform/go/auth"
	platformlogging "github.com/zenGate-Global/tenantgate/platform/go/logging"
	"github.com/zenGate-Global/tenantgate/platform/go/problem"
	"github.com/zenGate-Global/tenantgate/platform/go/requesttrace"
	"github.com/zenGate-Global/tenantgate/platform/go/tenant"
)

// RequestTrace populates the context with request-scoped AuditInfo so services can stamp audit fields.
// It should run after tenancy resolution and authentication so both are available when present.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := platformlogging.FromRequest(r, nil)
		requestID := middleware.GetReqID(r.Context())
		tn, _ := tenant.FromContext(r.Context())

		var audit requesttrace.AuditInfo
		if p, ok := platformauth.PrincipalFromContext(r.Context()); ok {
			var err error
			audit, err = requesttrace.FromPrincipal(p, tn, requestID)
			if err != nil {
				logger.Error("build audit info from principal", zap.Error(err))
				problem.Write(w, logger, platformauth.ErrNoSession)
				return
			}
		} else {
			audit = requesttrace.AnonymousIn(tn, requestID)
		}

		ctx := requesttrace.IntoContext(r.Context(), audit)
		fields := []zap.Field{zap.String("actor_kind", string(audit.ActorKind))}
		if audit.TenantID != nil {
			fields = append(fields, zap.String("tenant_id", audit.TenantID.String()))
		}
		ctx = platformlogging.WithLogger(ctx, logger.With(fields...))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
