package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	authhandler "github.com/zenGate-Global/tenantgate/domains/auth/be/handler"
	authrepo "github.com/zenGate-Global/tenantgate/domains/auth/be/repo"
	authservice "github.com/zenGate-Global/tenantgate/domains/auth/be/service"
	tenantshandler "github.com/zenGate-Global/tenantgate/domains/tenants/be/handler"
	tenantsprov "github.com/zenGate-Global/tenantgate/domains/tenants/be/provisioning"
	tenantsrepo "github.com/zenGate-Global/tenantgate/domains/tenants/be/repo"
	tenantsservice "github.com/zenGate-Global/tenantgate/domains/tenants/be/service"
	platformauth "github.com/zenGate-Global/tenantgate/platform/go/auth"
	"github.com/zenGate-Global/tenantgate/platform/go/cache"
	platformlogging "github.com/zenGate-Global/tenantgate/platform/go/logging"
	"github.com/zenGate-Global/tenantgate/platform/go/notify"
	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
	"github.com/zenGate-Global/tenantgate/platform/go/ratelimit"
	"github.com/zenGate-Global/tenantgate/platform/go/secret"
	"github.com/zenGate-Global/tenantgate/platform/go/tenant"
)

func main() {
	ctx := context.Background()

	cfg, err := loadConfig(nil)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
		Console:   cfg.AppEnv == "dev",
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := persistence.Migrate(ctx, cfg.DatabaseURL, persistence.LandlordMigrations); err != nil {
		logger.Fatal("migrate landlord database", zap.Error(err))
	}

	// Tenant CRUD and CREATE DATABASE run on this pool; tenancies get their own.
	adminPool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL, MaxConns: 4})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(adminPool)

	sealer, err := secret.NewSealer(cfg.AppSecret)
	if err != nil {
		logger.Fatal("init sealer", zap.Error(err))
	}
	sessionKey, err := secret.DeriveKey(cfg.AppSecret, "session-id")
	if err != nil {
		logger.Fatal("derive session key", zap.Error(err))
	}
	cookieKey, err := secret.DeriveKey(cfg.AppSecret, "pending-cookie")
	if err != nil {
		logger.Fatal("derive cookie key", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cacheMetrics := cache.NewMetrics()
	limiterMetrics := ratelimit.NewMetrics()
	tenancyMetrics := tenant.NewMetrics()
	for _, c := range [][]prometheus.Collector{
		cacheMetrics.PrometheusCollectors(),
		limiterMetrics.PrometheusCollectors(),
		tenancyMetrics.PrometheusCollectors(),
	} {
		registry.MustRegister(c...)
	}

	resolver := tenant.NewResolver(tenant.Config{
		LandlordURI:    cfg.DatabaseURL,
		LandlordDomain: cfg.LandlordDomain,
		IdleTTL:        cfg.PGIdleTimeout,
		MaxContexts:    cfg.TenantCacheMax,
		Opener: persistence.PoolOpener{Template: persistence.PoolConfig{
			MaxConns:        cfg.TenantPoolMaxConns,
			MaxConnIdleTime: cfg.PGIdleTimeout,
		}},
		Finder:       tenant.StoreFinder{},
		Unsealer:     sealer,
		Logger:       logger.Named("tenancy"),
		Metrics:      tenancyMetrics,
		CacheMetrics: cacheMetrics,
	})
	defer resolver.Close()
	stopSweeper := resolver.StartSweeper(cfg.SweepInterval)
	defer stopSweeper()

	limiter := ratelimit.New(ratelimit.Config{
		Name:         "default",
		Tiers:        cfg.defaultTiers(),
		MaxEntries:   cfg.RateLimitMaxEntries,
		Metrics:      limiterMetrics,
		CacheMetrics: cacheMetrics,
	})
	defer limiter.Close()
	forgotLimiter := ratelimit.New(ratelimit.Config{
		Name:         "forgot",
		Tiers:        cfg.forgotTiers(),
		MaxEntries:   cfg.RateLimitMaxEntries,
		Metrics:      limiterMetrics,
		CacheMetrics: cacheMetrics,
	})
	defer forgotLimiter.Close()

	sessions := platformauth.NewSessions(sessionKey, nil)
	cookies := platformauth.NewCookies(cfg.secureCookies(), cookieKey, nil)

	dispatcher := notify.NewDispatcher(notify.NewLogNotifier(logger.Named("notify")), logger, 0)
	defer dispatcher.Wait()

	authService, err := authservice.New(authservice.Config{
		Sessions:        sessions,
		RepositoriesFor: authrepo.Postgres,
		Dispatcher:      dispatcher,
		Issuer:          cfg.AppName,
		PublicBaseURL:   cfg.PublicBaseURL,
		SignUp:          cfg.AuthSignUp,
		Forgot:          cfg.AuthForgot,
		Logger:          logger.Named("auth"),
	})
	if err != nil {
		logger.Fatal("init auth service", zap.Error(err))
	}
	authHTTPHandler := authhandler.New(authService, cookies, ratelimit.Middleware(forgotLimiter, logger), logger)

	tenantService := tenantsservice.New(tenantsservice.Config{
		LandlordURI: cfg.DatabaseURL,
		Repo:        tenantsrepo.NewPostgresRepository(persistence.NewTenantStore(adminPool)),
		Provisioner: tenantsprov.NewDBProvisioner(adminPool, tenantsprov.GooseMigrator{}, logger.Named("provisioning")),
		Sealer:      sealer,
		Invalidator: resolver,
		Logger:      logger.Named("tenants"),
	})
	tenantHTTPHandler := tenantshandler.New(tenantService, logger)

	router := newRouter(routerDeps{
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		CORSOrigins:    cfg.CORSOrigins,
		Limiter:        limiter,
		Resolver:       resolver,
		Sessions:       sessions,
		Cookies:        cookies,
		SessionsFor:    platformauth.StoreRepository,
		Guard:          platformauth.GuardConfig{PublicRoutes: cfg.PublicRoutes},
		Auth:           authHTTPHandler.Routes(),
		Tenants:        tenantHTTPHandler.Routes(),
		Gatherer:       registry,
		Ready:          adminPool.Ping,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port), zap.String("landlord_domain", cfg.LandlordDomain))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
