package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
	"github.com/zenGate-Global/tenantgate/platform/go/tenant"
)

type pipeline struct {
	sessions *Sessions
	cookies  *Cookies
	repo     *memorySessions
	user     persistence.UserRecord
	clock    *clock.Mock
	tenancy  *tenant.Tenancy
}

func newPipeline(t *testing.T, kind tenant.Kind) *pipeline {
	t.Helper()
	s, mock, repo, user := newTestSessions(t)
	return &pipeline{
		sessions: s,
		cookies:  NewCookies(true, testKey, mock),
		repo:     repo,
		user:     user,
		clock:    mock,
		tenancy:  &tenant.Tenancy{Kind: kind, Domain: "acme.localhost"},
	}
}

func (p *pipeline) handler(next http.Handler) http.Handler {
	repoFor := func(*tenant.Tenancy) SessionRepository { return p.repo }
	h := Authenticate(p.sessions, p.cookies, repoFor, zap.NewNop())(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(tenant.WithTenancy(r.Context(), p.tenancy)))
	})
}

func (p *pipeline) request(path, token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "http://acme.localhost"+path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	}
	return req
}

func TestAuthenticateSetsPrincipal(t *testing.T) {
	p := newPipeline(t, tenant.KindTenant)
	_, err := p.sessions.CreateSession(context.Background(), p.repo, "tok", p.user.ID)
	require.NoError(t, err)

	var got *Principal
	h := p.handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, p.request("/", "tok"))

	require.NotNil(t, got)
	require.Equal(t, p.user.ID, got.User.ID)
	require.Empty(t, rec.Result().Cookies(), "no cookie churn without renewal")
}

func TestAuthenticateReissuesCookieOnRenewal(t *testing.T) {
	p := newPipeline(t, tenant.KindTenant)
	_, err := p.sessions.CreateSession(context.Background(), p.repo, "tok", p.user.ID)
	require.NoError(t, err)
	p.clock.Add(20 * 24 * time.Hour)

	rec := httptest.NewRecorder()
	p.handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, p.request("/", "tok"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "tok", cookies[0].Value)
	require.Equal(t, p.clock.Now().Add(SessionLifetime).Unix(), cookies[0].Expires.Unix())
}

func TestAuthenticateClearsInvalidCookie(t *testing.T) {
	p := newPipeline(t, tenant.KindTenant)

	called := false
	rec := httptest.NewRecorder()
	p.handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := PrincipalFromContext(r.Context())
		require.False(t, ok)
	})).ServeHTTP(rec, p.request("/", "stale"))

	require.True(t, called)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, -1, cookies[0].MaxAge)
}

func TestAuthenticateStorageFailureIs503(t *testing.T) {
	p := newPipeline(t, tenant.KindTenant)
	p.repo.failWith = errors.New("connection reset")

	called := false
	rec := httptest.NewRecorder()
	p.handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).ServeHTTP(rec, p.request("/", "tok"))

	require.False(t, called)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequireSession(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	cases := []struct {
		name     string
		kind     tenant.Kind
		path     string
		signedIn bool
		json     bool
		status   int
		location string
	}{
		{name: "auth routes are public", kind: tenant.KindTenant, path: "/auth/signin", status: http.StatusOK},
		{name: "configured public route", kind: tenant.KindTenant, path: "/pricing", status: http.StatusOK},
		{name: "anonymous private route", kind: tenant.KindTenant, path: "/dashboard", status: http.StatusSeeOther, location: SignInPath},
		{name: "anonymous json client", kind: tenant.KindTenant, path: "/dashboard", json: true, status: http.StatusUnauthorized},
		{name: "prefix is segment aware", kind: tenant.KindTenant, path: "/authority", status: http.StatusSeeOther, location: SignInPath},
		{name: "signed in", kind: tenant.KindTenant, path: "/dashboard", signedIn: true, status: http.StatusOK},
		{name: "landlord outside landlord area", kind: tenant.KindLandlord, path: "/dashboard", signedIn: true, status: http.StatusSeeOther, location: LandlordPrefix},
		{name: "landlord area", kind: tenant.KindLandlord, path: "/landlord/tenants", signedIn: true, status: http.StatusOK},
		{name: "landlord anonymous", kind: tenant.KindLandlord, path: "/landlord", status: http.StatusSeeOther, location: SignInPath},
		{name: "landlord sign in", kind: tenant.KindLandlord, path: "/auth/signin", status: http.StatusOK},
	}

	guard := RequireSession(GuardConfig{PublicRoutes: []string{"/pricing"}})(ok)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://acme.localhost"+tc.path, nil)
			ctx := tenant.WithTenancy(req.Context(), &tenant.Tenancy{Kind: tc.kind})
			if tc.signedIn {
				ctx = WithPrincipal(ctx, &Principal{})
			}
			if tc.json {
				req.Header.Set("Accept", "application/json")
			}

			rec := httptest.NewRecorder()
			guard.ServeHTTP(rec, req.WithContext(ctx))

			require.Equal(t, tc.status, rec.Code)
			if tc.location != "" {
				require.Equal(t, tc.location, rec.Header().Get("Location"))
			}
		})
	}
}
