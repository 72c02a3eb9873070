package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("Correct-Horse-9")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=19456,t=2,p=1$"))

	ok, err := VerifyPassword("Correct-Horse-9", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPassword("correct-horse-9", hash)
	require.NoError(t, err)
	require.False(t, ok)

	other, err := HashPassword("Correct-Horse-9")
	require.NoError(t, err)
	require.NotEqual(t, hash, other, "salts differ")
}

func TestVerifyPasswordRejectsMalformedHashes(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plaintext",
		"$2a$10$abcdefghijklmnopqrstuv",
		"$argon2id$v=18$m=19456,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=19456,t=2,p=1$!!$aGFzaA",
	} {
		_, err := VerifyPassword("pw", encoded)
		require.ErrorIs(t, err, ErrMalformedHash, encoded)
	}
}

func TestTOTPEnrolmentAndVerification(t *testing.T) {
	key, err := NewTOTPKey("tenantgate", "ada@example.com")
	require.NoError(t, err)
	require.Contains(t, key.URL(), "otpauth://totp/")
	require.NotEmpty(t, key.Secret())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	code, err := TOTPCode(key.Secret(), now)
	require.NoError(t, err)
	require.Len(t, code, 6)

	require.True(t, VerifyTOTP(code, key.Secret(), now))
	require.True(t, VerifyTOTP(code, key.Secret(), now.Add(30*time.Second)), "one step of skew")
	require.False(t, VerifyTOTP(code, key.Secret(), now.Add(90*time.Second)))
	require.False(t, VerifyTOTP("", key.Secret(), now))
	require.False(t, VerifyTOTP(code, "", now))
}

func TestGeneratedTokenShapes(t *testing.T) {
	reset, err := GenerateResetToken()
	require.NoError(t, err)
	require.Regexp(t, `^[a-z0-9]{40}$`, reset)

	code, err := GenerateVerificationCode()
	require.NoError(t, err)
	require.Regexp(t, `^[0-9]{8}$`, code)
}

func TestFailureDelayBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := FailureDelay()
		require.GreaterOrEqual(t, d, 25*time.Millisecond)
		require.LessOrEqual(t, d, 425*time.Millisecond)
	}
}

func TestDelayHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	require.ErrorIs(t, Delay(ctx), context.Canceled)
	require.Less(t, time.Since(start), 25*time.Millisecond)
}

func TestSessionCookieAttributes(t *testing.T) {
	mock := clock.NewMock()
	c := NewCookies(true, testKey, mock)
	expires := mock.Now().Add(SessionLifetime)

	rec := httptest.NewRecorder()
	c.SetSessionCookie(rec, "acme.localhost", "tok", expires)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	ck := cookies[0]
	require.Equal(t, SessionCookieName, ck.Name)
	require.Equal(t, "tok", ck.Value)
	require.Equal(t, "/", ck.Path)
	require.Equal(t, "acme.localhost", ck.Domain)
	require.True(t, ck.HttpOnly)
	require.True(t, ck.Secure)
	require.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	require.Equal(t, expires.Unix(), ck.Expires.Unix())

	rec = httptest.NewRecorder()
	c.DeleteSessionCookie(rec, "acme.localhost")
	cleared := rec.Result().Cookies()[0]
	require.Empty(t, cleared.Value)
	require.Equal(t, -1, cleared.MaxAge)
}

func TestInsecureCookiesInDevelopment(t *testing.T) {
	rec := httptest.NewRecorder()
	NewCookies(false, testKey, nil).SetSessionCookie(rec, "localhost", "tok", time.Now().Add(time.Hour))
	require.False(t, rec.Result().Cookies()[0].Secure)
}

func TestPendingCookiesAreSigned(t *testing.T) {
	c := NewCookies(true, testKey, nil)
	userID := uuid.New()

	rec := httptest.NewRecorder()
	c.SetIdentityCookie(rec, "acme.localhost", userID)
	c.SetSecrecyCookie(rec, "acme.localhost", "JBSWY3DPEHPK3PXP")

	req := httptest.NewRequest(http.MethodPost, "/auth/totp", nil)
	for _, ck := range rec.Result().Cookies() {
		req.AddCookie(ck)
	}

	got, ok := c.PendingIdentity(req)
	require.True(t, ok)
	require.Equal(t, userID, got)
	secret, ok := c.PendingSecret(req)
	require.True(t, ok)
	require.Equal(t, "JBSWY3DPEHPK3PXP", secret)

	forged := httptest.NewRequest(http.MethodPost, "/auth/totp", nil)
	forged.AddCookie(&http.Cookie{Name: IdentityCookieName, Value: uuid.NewString() + ".c2lnbmF0dXJl"})
	forged.AddCookie(&http.Cookie{Name: SecrecyCookieName, Value: "JBSWY3DPEHPK3PXP"})
	_, ok = c.PendingIdentity(forged)
	require.False(t, ok)
	_, ok = c.PendingSecret(forged)
	require.False(t, ok)

	// A signed identity value is not accepted as a secret.
	swapped := httptest.NewRequest(http.MethodPost, "/auth/totp", nil)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == IdentityCookieName {
			swapped.AddCookie(&http.Cookie{Name: SecrecyCookieName, Value: ck.Value})
		}
	}
	_, ok = c.PendingSecret(swapped)
	require.False(t, ok)
}

func TestPendingCookiesExpireServerSide(t *testing.T) {
	mock := clock.NewMock()
	c := NewCookies(true, testKey, mock)
	userID := uuid.New()

	rec := httptest.NewRecorder()
	c.SetIdentityCookie(rec, "acme.localhost", userID)
	c.SetSecrecyCookie(rec, "acme.localhost", "JBSWY3DPEHPK3PXP")
	replay := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/auth/totp", nil)
		for _, ck := range rec.Result().Cookies() {
			req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
		}
		return req
	}

	mock.Add(PendingCookieTTL - time.Second)
	_, ok := c.PendingIdentity(replay())
	require.True(t, ok)
	_, ok = c.PendingSecret(replay())
	require.True(t, ok)

	mock.Add(time.Second)
	_, ok = c.PendingIdentity(replay())
	require.False(t, ok, "identity replayed at its deadline")
	_, ok = c.PendingSecret(replay())
	require.False(t, ok)

	mock.Add(365 * 24 * time.Hour)
	_, ok = c.PendingIdentity(replay())
	require.False(t, ok)
}

func TestPendingCookieExpiryIsSigned(t *testing.T) {
	mock := clock.NewMock()
	c := NewCookies(true, testKey, mock)

	rec := httptest.NewRecorder()
	c.SetIdentityCookie(rec, "acme.localhost", uuid.New())
	value := rec.Result().Cookies()[0].Value

	// Pushing the embedded deadline forward breaks the signature.
	parts := strings.Split(value, ".")
	require.Len(t, parts, 3)
	parts[1] = strconv.FormatInt(mock.Now().Add(24*time.Hour).Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/auth/totp", nil)
	req.AddCookie(&http.Cookie{Name: IdentityCookieName, Value: strings.Join(parts, ".")})
	_, ok := c.PendingIdentity(req)
	require.False(t, ok)
}
