package auth

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/zenGate-Global/tenantgate/platform/go/logging"
	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
	"github.com/zenGate-Global/tenantgate/platform/go/problem"
	"github.com/zenGate-Global/tenantgate/platform/go/tenant"
)

type ctxKey string

const ctxPrincipal ctxKey = "TENANTGATE_PRINCIPAL"

// Principal is the authenticated user of a request and the session that proved it.
type Principal struct {
	User    persistence.UserRecord
	Session persistence.SessionRecord
}

// WithPrincipal returns a derived context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, p)
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxPrincipal).(*Principal)
	return p, ok && p != nil
}

// RepositoryFor returns the session storage of a tenancy.
type RepositoryFor func(t *tenant.Tenancy) SessionRepository

// StoreRepository serves sessions from the tenancy's own database.
func StoreRepository(t *tenant.Tenancy) SessionRepository {
	return persistence.NewSessionStore(t.DB)
}

// Authenticate validates the session cookie against the tenancy database of the
// request. Valid sessions put a Principal on the context; invalid ones clear the
// cookie and continue unauthenticated. A storage failure answers 503.
func Authenticate(sessions *Sessions, cookies *Cookies, repoFor RepositoryFor, logger *zap.Logger) func(http.Handler) http.Handler {
	if sessions == nil || cookies == nil {
		panic("auth.Authenticate: sessions and cookies are required")
	}
	if repoFor == nil {
		repoFor = StoreRepository
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := cookies.SessionToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			t, ok := tenant.FromContext(r.Context())
			if !ok {
				problem.Write(w, logging.FromRequest(r, logger), problem.ErrServiceUnavailable)
				return
			}

			res, err := sessions.ValidateSessionToken(r.Context(), repoFor(t), token)
			switch {
			case errors.Is(err, ErrNoSession):
				cookies.DeleteSessionCookie(w, t.Domain)
				next.ServeHTTP(w, r)
				return
			case err != nil:
				problem.Write(w, logging.FromRequest(r, logger), err)
				return
			}

			if res.Renewed {
				cookies.SetSessionCookie(w, t.Domain, token, res.Session.ExpiresAt)
			}

			r = logging.Enrich(r, zap.String("user_id", res.User.ID.String()))
			ctx := WithPrincipal(r.Context(), &Principal{User: res.User, Session: res.Session})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
