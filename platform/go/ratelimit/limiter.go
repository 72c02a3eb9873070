// Package ratelimit counts requests per client fingerprint in fixed windows and
// decides whether a request is admitted.
package ratelimit

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"

	"github.com/zenGate-Global/tenantgate/platform/go/cache"
)

const (
	TierIP   = "ip"
	TierIPUA = "ip_ua"
)

// Decision is the outcome of one Check.
type Decision struct {
	Limited    bool
	Tier       string
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Config configures a Limiter.
type Config struct {
	Name         string
	Tiers        Tiers
	MaxEntries   int
	Clock        clock.Clock
	Metrics      *Metrics
	CacheMetrics *cache.Metrics
}

type counter struct {
	count     int
	windowEnd time.Time
}

// Limiter is safe for concurrent use. It is built once and shared by every request.
type Limiter struct {
	name     string
	tiers    Tiers
	clock    clock.Clock
	counters *cache.Cache[uint64, counter]
	metrics  *Metrics
}

// New constructs a Limiter.
func New(cfg Config) *Limiter {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	maxTTL := cfg.Tiers.IP.Window()
	if w := cfg.Tiers.IPUA.Window(); w > maxTTL {
		maxTTL = w
	}

	return &Limiter{
		name:    cfg.Name,
		tiers:   cfg.Tiers,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		counters: cache.New(cache.Options[uint64, counter]{
			Name:        "ratelimit_" + cfg.Name,
			TTL:         maxTTL,
			MaxSize:     cfg.MaxEntries,
			NoUpdateTTL: true,
			Clock:       cfg.Clock,
			Metrics:     cfg.CacheMetrics,
		}),
	}
}

// Fingerprint hashes the client identity. The user agent is appended when present.
func Fingerprint(ip, userAgent string) uint64 {
	if userAgent == "" {
		return xxhash.Sum64String(ip)
	}
	d := xxhash.New()
	_, _ = d.WriteString(ip)
	_, _ = d.WriteString(userAgent)
	return d.Sum64()
}

// Check counts one request from the client and returns the admission decision.
func (l *Limiter) Check(ip, userAgent string) Decision {
	tier, rate := TierIP, l.tiers.IP
	if userAgent != "" {
		tier, rate = TierIPUA, l.tiers.IPUA
	}

	window := rate.Window()
	now := l.clock.Now()
	c := l.counters.Update(Fingerprint(ip, userAgent), window, func(old counter, found bool) counter {
		if !found {
			return counter{count: 1, windowEnd: now.Add(window)}
		}
		old.count++
		return old
	})

	d := Decision{
		Tier:      tier,
		Limit:     rate.Limit,
		Remaining: max(rate.Limit-c.count, 0),
		Limited:   c.count > rate.Limit,
	}
	if d.Limited {
		if c.count == rate.Limit+1 {
			d.RetryAfter = window
		} else {
			d.RetryAfter = c.windowEnd.Sub(now)
		}
	}

	l.metrics.observe(l.name, d)
	return d
}

// Reset forgets every counter.
func (l *Limiter) Reset() {
	l.counters.Clear()
}

// Close releases the counter cache.
func (l *Limiter) Close() {
	l.counters.Close()
}
