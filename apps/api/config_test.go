package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/tenantgate/platform/go/ratelimit"
)

func baseEnv() map[string]string {
	return map[string]string{
		"APP_SECRET":   "s3cret",
		"DATABASE_URL": "postgres://app:pw@localhost:5432/landlord?sslmode=disable",
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(baseEnv())
	require.NoError(t, err)

	require.Equal(t, "3000", cfg.Port)
	require.Equal(t, "localhost", cfg.LandlordDomain)
	require.Equal(t, 5*time.Minute, cfg.PGIdleTimeout)
	require.Equal(t, 256, cfg.TenantCacheMax)
	require.Equal(t, ratelimit.DefaultTiers(), cfg.defaultTiers())
	require.Equal(t, ratelimit.PasswordResetTiers(), cfg.forgotTiers())
	require.False(t, cfg.AuthSignUp)
	require.False(t, cfg.secureCookies())
}

func TestLoadConfigOverrides(t *testing.T) {
	environ := baseEnv()
	environ["APP_ENV"] = "production"
	environ["RATE_LIMIT_IP"] = "100/d"
	environ["AUTH_SIGNUP"] = "true"
	environ["PUBLIC_ROUTES"] = "/pricing,/about"

	cfg, err := loadConfig(environ)
	require.NoError(t, err)
	require.Equal(t, ratelimit.Rate{Limit: 100, Unit: ratelimit.Day}, cfg.RateLimitIP)
	require.True(t, cfg.AuthSignUp)
	require.Equal(t, []string{"/pricing", "/about"}, cfg.PublicRoutes)
	require.True(t, cfg.secureCookies())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	_, err := loadConfig(map[string]string{"DATABASE_URL": "postgres://x"})
	require.Error(t, err, "APP_SECRET is required")

	environ := baseEnv()
	environ["RATE_LIMIT_IPUA"] = "sixty"
	_, err = loadConfig(environ)
	require.Error(t, err)

	environ = baseEnv()
	environ["PUBLIC_BASE_URL"] = "acme.localhost"
	_, err = loadConfig(environ)
	require.Error(t, err)
}
