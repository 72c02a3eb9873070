package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	platformauth "github.com/zenGate-Global/tenantgate/platform/go/auth"
	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
	"github.com/zenGate-Global/tenantgate/platform/go/requesttrace"
	"github.com/zenGate-Global/tenantgate/platform/go/tenant"
)

func withContext(tn *tenant.Tenancy, p *platformauth.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := tenant.WithTenancy(r.Context(), tn)
			if p != nil {
				ctx = platformauth.WithPrincipal(ctx, p)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func TestRequestTraceWithPrincipal(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()
	tn := &tenant.Tenancy{Kind: tenant.KindTenant, Record: &persistence.TenantRecord{ID: tenantID}}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(withContext(tn, &platformauth.Principal{User: persistence.UserRecord{ID: userID}}))
	r.Use(RequestTrace)

	r.Get("/test", func(w http.ResponseWriter, req *http.Request) {
		audit, ok := requesttrace.FromContext(req.Context())
		require.True(t, ok)
		require.Equal(t, requesttrace.ActorKindUser, audit.ActorKind)
		require.Equal(t, userID, *audit.UserID)
		require.Equal(t, tenantID, *audit.TenantID)
		require.NotEmpty(t, audit.RequestID)
		w.WriteHeader(http.StatusOK)
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestRequestTraceAnonymous(t *testing.T) {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(withContext(&tenant.Tenancy{Kind: tenant.KindLandlord}, nil))
	r.Use(RequestTrace)

	r.Get("/test", func(w http.ResponseWriter, req *http.Request) {
		audit, ok := requesttrace.FromContext(req.Context())
		require.True(t, ok)
		require.Equal(t, requesttrace.ActorKindAnonymous, audit.ActorKind)
		require.Nil(t, audit.UserID)
		require.Equal(t, "landlord", audit.Tenancy)
		w.WriteHeader(http.StatusOK)
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestRequestTraceRejectsPrincipalWithoutUser(t *testing.T) {
	r := chi.NewRouter()
	r.Use(withContext(&tenant.Tenancy{Kind: tenant.KindTenant}, &platformauth.Principal{}))
	r.Use(RequestTrace)
	r.Get("/test", func(w http.ResponseWriter, req *http.Request) {
		t.Fatal("handler must not run")
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/auth/signin", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	require.Equal(t, http.StatusNoContent, resp.Code)
	require.Equal(t, "https://app.example.com", resp.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSIgnoresUnknownOrigins(t *testing.T) {
	called := false
	h := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	require.True(t, called)
	require.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
}
