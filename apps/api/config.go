package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/zenGate-Global/tenantgate/platform/go/ratelimit"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	AppEnv    string `env:"APP_ENV" envDefault:"dev"`
	AppName   string `env:"APP_NAME" envDefault:"tenantgate"`
	AppSecret string `env:"APP_SECRET,required"`

	DatabaseURL        string        `env:"DATABASE_URL,required"`
	LandlordDomain     string        `env:"LANDLORD_DOMAIN" envDefault:"localhost"`
	PublicBaseURL      string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:3000"`
	PGIdleTimeout      time.Duration `env:"PG_IDLE_TIMEOUT" envDefault:"5m"`
	TenantCacheMax     int           `env:"TENANT_CACHE_MAX" envDefault:"256"`
	TenantPoolMaxConns int32         `env:"TENANT_POOL_MAX_CONNS" envDefault:"4"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	RateLimitIP         ratelimit.Rate `env:"RATE_LIMIT_IP" envDefault:"10/h"`
	RateLimitIPUA       ratelimit.Rate `env:"RATE_LIMIT_IPUA" envDefault:"60/m"`
	ForgotRateLimitIP   ratelimit.Rate `env:"FORGOT_RATE_LIMIT_IP" envDefault:"10/h"`
	ForgotRateLimitIPUA ratelimit.Rate `env:"FORGOT_RATE_LIMIT_IPUA" envDefault:"1/m"`
	RateLimitMaxEntries int            `env:"RATE_LIMIT_MAX_ENTRIES" envDefault:"100000"`

	AuthSignUp   bool     `env:"AUTH_SIGNUP" envDefault:"false"`
	AuthForgot   bool     `env:"AUTH_FORGOT" envDefault:"false"`
	PublicRoutes []string `env:"PUBLIC_ROUTES" envSeparator:","`
	CORSOrigins  []string `env:"CORS_ORIGINS" envSeparator:","`
}

// loadConfig reads the process environment. Tests pass their own map.
func loadConfig(environ map[string]string) (config, error) {
	var cfg config
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return config{}, err
	}

	u, err := url.Parse(cfg.PublicBaseURL)
	if err != nil || u.Scheme == "" {
		return config{}, fmt.Errorf("PUBLIC_BASE_URL must be an absolute url, got %q", cfg.PublicBaseURL)
	}
	if cfg.TenantPoolMaxConns <= 0 {
		return config{}, fmt.Errorf("TENANT_POOL_MAX_CONNS must be positive")
	}
	return cfg, nil
}

// secureCookies is false only for local development over plain http.
func (c config) secureCookies() bool {
	return c.AppEnv != "dev"
}

func (c config) defaultTiers() ratelimit.Tiers {
	return ratelimit.Tiers{IP: c.RateLimitIP, IPUA: c.RateLimitIPUA}
}

func (c config) forgotTiers() ratelimit.Tiers {
	return ratelimit.Tiers{IP: c.ForgotRateLimitIP, IPUA: c.ForgotRateLimitIPUA}
}
