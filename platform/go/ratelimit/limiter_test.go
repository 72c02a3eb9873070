package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T, tiers Tiers) (*Limiter, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	l := New(Config{Tiers: tiers, Clock: mock})
	t.Cleanup(l.Close)
	return l, mock
}

func TestFourthRequestInWindowIsLimited(t *testing.T) {
	l, mock := newTestLimiter(t, Tiers{IP: Rate{Limit: 3, Unit: Minute}, IPUA: Rate{Limit: 3, Unit: Minute}})

	for i := 0; i < 3; i++ {
		d := l.Check("203.0.113.7", "")
		require.False(t, d.Limited)
		require.Equal(t, 2-i, d.Remaining)
		mock.Add(5 * time.Second)
	}

	d := l.Check("203.0.113.7", "")
	require.True(t, d.Limited)
	require.Equal(t, TierIP, d.Tier)
	require.Equal(t, 0, d.Remaining)
	require.Equal(t, time.Minute, d.RetryAfter)

	mock.Add(10 * time.Second)
	d = l.Check("203.0.113.7", "")
	require.True(t, d.Limited)
	require.Greater(t, d.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, d.RetryAfter, time.Minute)
	require.Equal(t, 35*time.Second, d.RetryAfter)
}

func TestWindowElapseResetsCount(t *testing.T) {
	l, mock := newTestLimiter(t, Tiers{IP: Rate{Limit: 3, Unit: Minute}, IPUA: Rate{Limit: 3, Unit: Minute}})

	for i := 0; i < 4; i++ {
		l.Check("203.0.113.7", "")
	}
	mock.Add(time.Minute)

	d := l.Check("203.0.113.7", "")
	require.False(t, d.Limited)
	require.Equal(t, 2, d.Remaining)
}

func TestTrafficDoesNotExtendWindow(t *testing.T) {
	l, mock := newTestLimiter(t, Tiers{IP: Rate{Limit: 100, Unit: Minute}, IPUA: Rate{Limit: 100, Unit: Minute}})

	for i := 0; i < 6; i++ {
		l.Check("203.0.113.7", "")
		mock.Add(10 * time.Second)
	}

	d := l.Check("203.0.113.7", "")
	require.Equal(t, 99, d.Remaining)
}

func TestUserAgentSelectsFinerTier(t *testing.T) {
	l, _ := newTestLimiter(t, Tiers{IP: Rate{Limit: 10, Unit: Hour}, IPUA: Rate{Limit: 1, Unit: Minute}})

	require.False(t, l.Check("198.51.100.1", "Firefox").Limited)
	d := l.Check("198.51.100.1", "Firefox")
	require.True(t, d.Limited)
	require.Equal(t, TierIPUA, d.Tier)

	// Same address with another agent, or none, has its own counter.
	require.False(t, l.Check("198.51.100.1", "curl/8.0").Limited)
	require.False(t, l.Check("198.51.100.1", "").Limited)
}

func TestFingerprintIsOrderSensitive(t *testing.T) {
	require.NotEqual(t, Fingerprint("ab", "c"), Fingerprint("c", "ab"))
	require.Equal(t, Fingerprint("1.2.3.4", "ua"), Fingerprint("1.2.3.4", "ua"))
	require.Equal(t, Fingerprint("1.2.3.4ua", ""), Fingerprint("1.2.3.4", "ua"))
}

func TestParseRate(t *testing.T) {
	r, err := ParseRate("10/h")
	require.NoError(t, err)
	require.Equal(t, Rate{Limit: 10, Unit: Hour}, r)
	require.Equal(t, time.Hour, r.Window())
	require.Equal(t, "10/h", r.String())

	for _, bad := range []string{"", "10", "x/h", "10/w", "-1/m"} {
		_, err := ParseRate(bad)
		require.Error(t, err, bad)
	}

	var fromEnv Rate
	require.NoError(t, fromEnv.UnmarshalText([]byte("1/d")))
	require.Equal(t, 24*time.Hour, fromEnv.Window())
}

func TestMiddlewareWritesHeadersAndRejects(t *testing.T) {
	l, _ := newTestLimiter(t, Tiers{IP: Rate{Limit: 1, Unit: Minute}, IPUA: Rate{Limit: 1, Unit: Minute}})

	calls := 0
	r := chi.NewRouter()
	r.Use(Middleware(l, zap.NewNop()))
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.10:51234"
		req.Header.Set("User-Agent", "test-agent")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusNoContent, first.Code)
	require.Equal(t, "0", first.Header().Get(HeaderRemaining))
	require.Equal(t, "1", first.Header().Get(HeaderLimit))

	second := send()
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	require.Equal(t, "60", second.Header().Get("Retry-After"))
	require.Equal(t, "1", second.Header().Get(HeaderLimit))
	require.Equal(t, 1, calls)
}

func TestClientIPStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	require.Equal(t, "2001:db8::1", ClientIP(req))

	req.RemoteAddr = "192.0.2.1"
	require.Equal(t, "192.0.2.1", ClientIP(req))
}
