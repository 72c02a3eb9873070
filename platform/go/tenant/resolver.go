package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/zenGate-Global/tenantgate/platform/go/cache"
	"github.com/zenGate-Global/tenantgate/platform/go/persistence"
	"github.com/zenGate-Global/tenantgate/platform/go/problem"
)

// LandlordKey is the cache key of the landlord tenancy. Tenant keys are full host
// names with two labels, so they never collide with it.
const LandlordKey = "landlord"

const (
	defaultIdleTTL     = 5 * time.Minute
	defaultMaxContexts = 256
	defaultRecordTTL   = 30 * time.Second
	defaultOpenTimeout = 10 * time.Second
)

// Opener establishes a database handle for a connection string.
type Opener interface {
	Open(ctx context.Context, uri string) (persistence.DB, error)
}

// RecordFinder looks up a tenant by its domain slug through the landlord database.
type RecordFinder interface {
	FindTenant(ctx context.Context, landlord persistence.Querier, domain string) (persistence.TenantRecord, error)
}

// Unsealer recovers a tenant connection string from its stored form.
type Unsealer interface {
	Open(sealed string) (string, error)
}

// StoreFinder finds tenants with persistence.TenantStore.
type StoreFinder struct{}

func (StoreFinder) FindTenant(ctx context.Context, landlord persistence.Querier, domain string) (persistence.TenantRecord, error) {
	return persistence.NewTenantStore(landlord).GetByDomain(ctx, domain)
}

// Config configures a Resolver.
type Config struct {
	LandlordURI    string
	LandlordDomain string
	// IdleTTL is how long a tenancy stays cached without being used.
	IdleTTL     time.Duration
	MaxContexts int
	// RecordTTL bounds how long a tenant lookup is reused before the landlord is asked again.
	RecordTTL   time.Duration
	OpenTimeout time.Duration

	Opener       Opener
	Finder       RecordFinder
	Unsealer     Unsealer
	Clock        clock.Clock
	Logger       *zap.Logger
	Metrics      *Metrics
	CacheMetrics *cache.Metrics
}

// Resolver maps host names to tenancies. It is safe for concurrent use and owns every
// pool it opens.
type Resolver struct {
	cfg      Config
	logger   *zap.Logger
	clock    clock.Clock
	metrics  *Metrics
	contexts *cache.Cache[string, *Tenancy]
	records  *cache.Cache[string, persistence.TenantRecord]
	group    singleflight.Group

	// memoGen is bumped by Invalidate; lookups started under an older generation are
	// not memoized.
	memoMu  sync.RWMutex
	memoGen uint64

	closing sync.WaitGroup
}

// NewResolver constructs a Resolver.
func NewResolver(cfg Config) *Resolver {
	if cfg.LandlordURI == "" {
		panic("tenant resolver: landlord uri is required")
	}
	if cfg.Opener == nil {
		panic("tenant resolver: opener is required")
	}
	if cfg.Unsealer == nil {
		panic("tenant resolver: unsealer is required")
	}
	if cfg.Finder == nil {
		cfg.Finder = StoreFinder{}
	}
	if cfg.LandlordDomain == "" {
		cfg.LandlordDomain = "localhost"
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if cfg.MaxContexts <= 0 {
		cfg.MaxContexts = defaultMaxContexts
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = defaultRecordTTL
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := &Resolver{
		cfg:     cfg,
		logger:  cfg.Logger,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
	}
	r.contexts = cache.New(cache.Options[string, *Tenancy]{
		Name:         "tenancy",
		TTL:          cfg.IdleTTL,
		MaxSize:      cfg.MaxContexts,
		RefreshOnGet: true,
		Clock:        cfg.Clock,
		OnEvict:      r.release,
		Metrics:      cfg.CacheMetrics,
	})
	r.records = cache.New(cache.Options[string, persistence.TenantRecord]{
		Name:    "tenant_records",
		TTL:     cfg.RecordTTL,
		MaxSize: cfg.MaxContexts,
		Clock:   cfg.Clock,
		Metrics: cfg.CacheMetrics,
	})
	return r
}

// Resolve returns the tenancy serving host.
//
// Hosts with more than one subdomain label yield problem.ErrNotFound without touching
// a database. The landlord tenancy is always established first; when that fails the
// error wraps problem.ErrServiceUnavailable.
func (r *Resolver) Resolve(ctx context.Context, host string) (*Tenancy, error) {
	hostname, labels := SplitHost(host)
	if len(labels) == 0 || len(labels) > 2 {
		r.metrics.observe("", "not_found")
		return nil, fmt.Errorf("host %q: %w", host, problem.ErrNotFound)
	}

	landlord, err := r.Landlord(ctx)
	if err != nil {
		r.metrics.observe(KindLandlord.String(), "unavailable")
		return nil, err
	}
	if len(labels) == 1 {
		r.metrics.observe(KindLandlord.String(), "ok")
		return landlord, nil
	}

	rec, err := r.findRecord(ctx, landlord, labels[0])
	if err != nil {
		outcome := "unavailable"
		if errors.Is(err, problem.ErrNotFound) {
			outcome = "not_found"
		}
		r.metrics.observe(KindTenant.String(), outcome)
		return nil, err
	}

	t, err := r.load(ctx, hostname, func(ctx context.Context) (*Tenancy, error) {
		uri, err := r.cfg.Unsealer.Open(rec.DBURI)
		if err != nil {
			return nil, fmt.Errorf("unseal tenant %s uri: %w", rec.Domain, err)
		}
		db, err := r.cfg.Opener.Open(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("open tenant %s: %w", rec.Domain, err)
		}
		return &Tenancy{Kind: KindTenant, Domain: hostname, DB: db, Record: &rec}, nil
	})
	if err != nil {
		r.logger.Error("tenant connection failed", zap.String("host", hostname), zap.Error(err))
		r.metrics.observe(KindTenant.String(), "unavailable")
		return nil, fmt.Errorf("%w: %v", problem.ErrServiceUnavailable, err)
	}

	r.metrics.observe(KindTenant.String(), "ok")
	return t, nil
}

// Landlord returns the landlord tenancy, establishing it when needed.
func (r *Resolver) Landlord(ctx context.Context) (*Tenancy, error) {
	t, err := r.load(ctx, LandlordKey, func(ctx context.Context) (*Tenancy, error) {
		db, err := r.cfg.Opener.Open(ctx, r.cfg.LandlordURI)
		if err != nil {
			return nil, err
		}
		return &Tenancy{Kind: KindLandlord, Domain: r.cfg.LandlordDomain, DB: db}, nil
	})
	if err != nil {
		r.logger.Error("landlord connection failed", zap.Error(err))
		return nil, fmt.Errorf("landlord is unavailable: %w: %v", problem.ErrServiceUnavailable, err)
	}
	return t, nil
}

// Invalidate drops the cached lookup and tenancy of a tenant so the next request reads
// the landlord again. Dropped pools are closed.
func (r *Resolver) Invalidate(id uuid.UUID, domain string) {
	r.memoMu.Lock()
	r.memoGen++
	r.memoMu.Unlock()
	// Drain memo writes queued before the bump so none lands after the deletes.
	r.records.Flush()

	r.records.Delete(domain)
	r.records.DeleteFunc(func(_ string, rec persistence.TenantRecord) bool { return rec.ID == id })
	r.contexts.DeleteFunc(func(_ string, t *Tenancy) bool {
		return t.Record != nil && t.Record.ID == id
	})
}

// Purge closes the pools of tenancies idle longer than the idle TTL.
func (r *Resolver) Purge() int {
	r.records.Purge()
	return r.contexts.Purge()
}

// StartSweeper purges idle tenancies every interval until the returned func is called.
func (r *Resolver) StartSweeper(interval time.Duration) func() {
	ticker := r.clock.Ticker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := r.Purge(); n > 0 {
					r.logger.Debug("closed idle tenant pools", zap.Int("count", n))
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// Len reports how many tenancies are cached.
func (r *Resolver) Len() int {
	return r.contexts.Len()
}

// Close closes every cached pool and waits for pools evicted earlier to finish closing.
// The resolver must not be used afterwards.
func (r *Resolver) Close() {
	r.contexts.Clear()
	r.contexts.Close()
	r.records.Close()
	r.closing.Wait()
}

func (r *Resolver) findRecord(ctx context.Context, landlord *Tenancy, domain string) (persistence.TenantRecord, error) {
	if rec, ok := r.records.Get(domain); ok {
		return rec, nil
	}

	r.memoMu.RLock()
	gen := r.memoGen
	r.memoMu.RUnlock()

	rec, err := r.cfg.Finder.FindTenant(ctx, landlord.DB, domain)
	switch {
	case errors.Is(err, problem.ErrNotFound):
		return persistence.TenantRecord{}, fmt.Errorf("tenant %q: %w", domain, problem.ErrNotFound)
	case err != nil:
		r.logger.Error("tenant lookup failed", zap.String("domain", domain), zap.Error(err))
		return persistence.TenantRecord{}, fmt.Errorf("tenant lookup: %w: %v", problem.ErrServiceUnavailable, err)
	}

	// The response does not wait for the memo write.
	r.memoMu.RLock()
	if r.memoGen == gen {
		r.records.SetAsync(domain, rec)
	}
	r.memoMu.RUnlock()
	return rec, nil
}

// load returns the cached tenancy for key or builds it once, however many callers race.
func (r *Resolver) load(ctx context.Context, key string, build func(context.Context) (*Tenancy, error)) (*Tenancy, error) {
	if t, ok := r.contexts.Get(key); ok {
		return t, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if t, ok := r.contexts.Get(key); ok {
			return t, nil
		}

		// Shared by every waiter, so one caller's cancellation must not fail the rest.
		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.OpenTimeout)
		defer cancel()

		t, err := build(openCtx)
		if err != nil {
			return nil, err
		}
		r.contexts.Set(key, t)
		r.metrics.poolOpened()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tenancy), nil
}

// release closes the pool of an evicted tenancy in the background. pgxpool waits for
// acquired connections to be returned, which must not stall the request whose insert
// triggered the eviction. Close waits for these.
func (r *Resolver) release(key string, t *Tenancy, reason cache.EvictReason) {
	if t == nil || t.DB == nil {
		return
	}
	r.closing.Add(1)
	go func() {
		defer r.closing.Done()
		t.DB.Close()
		r.metrics.poolClosed()
		r.logger.Debug("tenant pool closed", zap.String("key", key), zap.Stringer("reason", reason))
	}()
}
