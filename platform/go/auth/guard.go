package auth

import (
	"net/http"
	"strings"

	"github.com/zenGate-Global/tenantgate/platform/go/problem"
	"github.com/zenGate-Global/tenantgate/platform/go/tenant"
)

const (
	AuthPrefix     = "/auth"
	SignInPath     = "/auth/signin"
	LandlordPrefix = "/landlord"
)

// GuardConfig lists the routes reachable without a session. Everything under
// AuthPrefix is always public.
type GuardConfig struct {
	PublicRoutes []string
}

// RequireSession keeps anonymous requests away from private routes. Browsers are
// redirected to the sign-in page and JSON clients get 401. A landlord tenancy may only
// reach the landlord and auth routes.
func RequireSession(cfg GuardConfig) func(http.Handler) http.Handler {
	public := make(map[string]struct{}, len(cfg.PublicRoutes))
	for _, p := range cfg.PublicRoutes {
		public[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path

			if t, ok := tenant.FromContext(r.Context()); ok && t.IsLandlord() {
				if !hasPrefix(path, LandlordPrefix) && !hasPrefix(path, AuthPrefix) {
					http.Redirect(w, r, LandlordPrefix, http.StatusSeeOther)
					return
				}
			}

			if _, ok := public[path]; ok || hasPrefix(path, AuthPrefix) {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := PrincipalFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			if wantsJSON(r) {
				problem.Write(w, nil, ErrNoSession)
				return
			}
			http.Redirect(w, r, SignInPath, http.StatusSeeOther)
		})
	}
}

// hasPrefix matches whole path segments, so /authority does not match /auth.
func hasPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
