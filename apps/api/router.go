package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/tenantgate/platform/go/auth"
	platformlogging "github.com/zenGate-Global/tenantgate/platform/go/logging"
	platformmiddleware "github.com/zenGate-Global/tenantgate/platform/go/middleware"
	"github.com/zenGate-Global/tenantgate/platform/go/problem"
	"github.com/zenGate-Global/tenantgate/platform/go/ratelimit"
	"github.com/zenGate-Global/tenantgate/platform/go/tenant"
	tenantmiddleware "github.com/zenGate-Global/tenantgate/platform/go/tenant/middleware"
)

// routerDeps carries the already-built components the HTTP surface is assembled from.
type routerDeps struct {
	Logger         *zap.Logger
	RequestTimeout time.Duration
	CORSOrigins    []string

	Limiter  *ratelimit.Limiter
	Resolver tenantmiddleware.Resolver
	Sessions *platformauth.Sessions
	Cookies  *platformauth.Cookies
	// SessionsFor defaults to the tenancy database.
	SessionsFor platformauth.RepositoryFor
	Guard       platformauth.GuardConfig

	Auth    http.Handler
	Tenants http.Handler

	Gatherer prometheus.Gatherer
	Ready    func(ctx context.Context) error
}

type whoamiResponse struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
	Tenancy  string `json:"tenancy"`
	Domain   string `json:"domain"`
}

// newRouter wires the admission pipeline in front of the route handlers:
// rate limit, tenancy, session, audit trace, then the session guard.
func newRouter(d routerDeps) http.Handler {
	root := chi.NewRouter()
	root.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		platformlogging.RequestLogger(d.Logger),
	)
	if len(d.CORSOrigins) > 0 {
		root.Use(platformmiddleware.CORS(d.CORSOrigins))
	}

	root.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	root.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				platformlogging.FromRequest(r, d.Logger).Warn("readiness check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	if d.Gatherer != nil {
		root.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	root.Group(func(r chi.Router) {
		if d.RequestTimeout > 0 {
			r.Use(chimw.Timeout(d.RequestTimeout))
		}
		r.Use(
			ratelimit.Middleware(d.Limiter, d.Logger),
			tenantmiddleware.WithTenancy(d.Resolver, d.Logger),
			platformauth.Authenticate(d.Sessions, d.Cookies, d.SessionsFor, d.Logger),
			platformmiddleware.RequestTrace,
			platformauth.RequireSession(d.Guard),
		)

		r.Get("/", whoami)
		r.Mount(platformauth.AuthPrefix, d.Auth)
		r.Route(platformauth.LandlordPrefix, func(r chi.Router) {
			r.Use(tenantmiddleware.LandlordOnly)
			r.Get("/", whoami)
			r.Mount("/tenants", d.Tenants)
		})
	})

	return root
}

func whoami(w http.ResponseWriter, r *http.Request) {
	p, ok := platformauth.PrincipalFromContext(r.Context())
	if !ok {
		problem.Write(w, platformlogging.FromRequest(r, nil), platformauth.ErrNoSession)
		return
	}
	resp := whoamiResponse{
		UserID:   p.User.ID.String(),
		Email:    p.User.Email,
		Verified: p.User.Verified,
	}
	if t, ok := tenant.FromContext(r.Context()); ok {
		resp.Tenancy = t.Kind.String()
		resp.Domain = t.Domain
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
