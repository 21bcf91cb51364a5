// Package traveltime answers pairwise travel-duration queries through a
// cached routing backend with great-circle fallback.
package traveltime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/JohnnyHuang0515/TravelAI-sub001/internal/retry"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/metrics"
)

const (
	// redisKeyPrefix namespaces persisted legs in the shared cache tier.
	redisKeyPrefix = "travelai:tt:"

	// estimateTTL keeps fallback estimates around just long enough to not
	// hammer a backend that is down.
	estimateTTL = time.Minute

	defaultCacheTTL      = 7 * 24 * time.Hour
	defaultCacheCapacity = 100000
)

// Leg is the travel duration for one ordered point pair. Estimated legs
// come from great-circle fallback rather than the routing backend.
type Leg struct {
	Seconds   float64
	Estimated bool
}

// Minutes converts the leg to whole minutes, rounding up. Estimated legs
// are scaled by factor first when factor > 0.
func (l Leg) Minutes(factor float64) int {
	seconds := l.Seconds
	if l.Estimated && factor > 0 {
		seconds *= factor
	}
	return minutesCeil(seconds)
}

// Config configures the travel-time oracle.
type Config struct {
	// TTL bounds how long cached durations stay valid.
	TTL time.Duration
	// Capacity caps the in-process cache entry count.
	Capacity int
	// PeakMultiplier scales returned durations to model congestion.
	PeakMultiplier float64
	// FallbackSpeedKMH is the average speed assumed by the estimator.
	FallbackSpeedKMH float64
}

// Oracle answers travel-duration queries behind two cache tiers. The L1
// tier is an in-process LRU; the optional L2 tier is Redis shared across
// instances. Only backend-confirmed durations reach L2.
type Oracle struct {
	backend Backend
	rdb     *redis.Client
	l1      *lruCache[string, Leg]
	group   singleflight.Group
	exp     *metrics.Exporter

	ttl      time.Duration
	peak     float64
	speedKMH float64
}

// NewOracle creates an oracle over the given backend. Both backend and rdb
// may be nil: a nil backend degrades every query to estimation and a nil
// rdb disables the shared tier.
func NewOracle(backend Backend, rdb *redis.Client, exporter *metrics.Exporter, cfg Config) *Oracle {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCacheCapacity
	}
	if cfg.PeakMultiplier <= 0 {
		cfg.PeakMultiplier = 1.0
	}
	if cfg.FallbackSpeedKMH <= 0 {
		cfg.FallbackSpeedKMH = defaultFallbackSpeedKMH
	}
	return &Oracle{
		backend:  backend,
		rdb:      rdb,
		l1:       newLRUCache[string, Leg](cfg.Capacity, cfg.TTL),
		exp:      exporter,
		ttl:      cfg.TTL,
		peak:     cfg.PeakMultiplier,
		speedKMH: cfg.FallbackSpeedKMH,
	}
}

// Key returns the canonical cache key for an ordered point pair. Endpoints
// are rounded to five decimal places (about one meter of latitude) so that
// near-identical coordinates share an entry.
func Key(origin, dest travel.GeoPoint) string {
	return canonPoint(origin) + "|" + canonPoint(dest)
}

func canonPoint(p travel.GeoPoint) string {
	return fmt.Sprintf("%.5f,%.5f", p.Lat, p.Lng)
}

// Duration returns the travel duration from origin to dest. Identical
// canonical endpoints cost zero. Concurrent lookups for the same pair are
// collapsed into one backend request.
func (o *Oracle) Duration(ctx context.Context, origin, dest travel.GeoPoint) (Leg, error) {
	co, cd := canonPoint(origin), canonPoint(dest)
	if co == cd {
		return Leg{}, nil
	}
	key := co + "|" + cd

	if leg, ok := o.l1.get(key); ok {
		o.recordCache("l1", true)
		return o.scaled(leg), nil
	}
	o.recordCache("l1", false)

	if leg, ok := o.redisGet(ctx, key); ok {
		o.recordCache("l2", true)
		o.l1.set(key, leg, 0)
		return o.scaled(leg), nil
	}
	if o.rdb != nil {
		o.recordCache("l2", false)
	}

	v, err, _ := o.group.Do(key, func() (any, error) {
		return o.resolve(ctx, key, origin, dest)
	})
	if err != nil {
		return Leg{}, err
	}
	return o.scaled(v.(Leg)), nil
}

// resolve fills one leg from the backend, degrading to estimation when the
// backend cannot answer. Only context cancellation surfaces as an error.
func (o *Oracle) resolve(ctx context.Context, key string, origin, dest travel.GeoPoint) (Leg, error) {
	if o.backend != nil {
		var seconds float64
		err := retry.Transient(ctx, func() error {
			s, rerr := o.backend.RouteDuration(ctx, origin, dest)
			if rerr != nil {
				return rerr
			}
			seconds = s
			return nil
		})
		o.recordRouting("route", err == nil)
		if err == nil {
			leg := Leg{Seconds: seconds}
			o.store(ctx, key, leg)
			return leg, nil
		}
		if ctx.Err() != nil {
			return Leg{}, ctx.Err()
		}
		slog.Warn("routing backend unavailable, estimating leg", "error", err)
	}

	leg := Leg{Seconds: EstimateSeconds(origin, dest, o.speedKMH), Estimated: true}
	o.l1.set(key, leg, estimateTTL)
	o.recordFallback()
	return leg, nil
}

type pairIndex struct {
	i, j int
}

// Matrix resolves all pairwise durations among points. Cache misses are
// answered with a single table request covering every point involved in a
// miss; whatever the backend still cannot answer is estimated and flagged.
func (o *Oracle) Matrix(ctx context.Context, points []travel.GeoPoint) (*Matrix, error) {
	m := newMatrix(points)
	var missing []pairIndex

	for i := range points {
		for j := range points {
			if i == j {
				continue
			}
			ci, cj := canonPoint(points[i]), canonPoint(points[j])
			if ci == cj {
				m.filled[i][j] = true
				continue
			}
			key := ci + "|" + cj
			if leg, ok := o.l1.get(key); ok {
				o.recordCache("l1", true)
				m.setLeg(i, j, leg)
				continue
			}
			o.recordCache("l1", false)
			if leg, ok := o.redisGet(ctx, key); ok {
				o.recordCache("l2", true)
				o.l1.set(key, leg, 0)
				m.setLeg(i, j, leg)
				continue
			}
			if o.rdb != nil {
				o.recordCache("l2", false)
			}
			missing = append(missing, pairIndex{i, j})
		}
	}

	if len(missing) > 0 && o.backend != nil {
		if err := o.fillFromTable(ctx, m, points, missing); err != nil {
			return nil, err
		}
	}

	for _, c := range missing {
		if m.filled[c.i][c.j] {
			continue
		}
		leg := Leg{
			Seconds:   EstimateSeconds(points[c.i], points[c.j], o.speedKMH),
			Estimated: true,
		}
		o.l1.set(Key(points[c.i], points[c.j]), leg, estimateTTL)
		o.recordFallback()
		m.setLeg(c.i, c.j, leg)
	}

	m.scale(o.peak)
	return m, nil
}

// fillFromTable issues one table request over the union of points touched
// by missing cells and caches every returned leg.
func (o *Oracle) fillFromTable(ctx context.Context, m *Matrix, points []travel.GeoPoint, missing []pairIndex) error {
	seen := make(map[int]bool)
	var idx []int
	for _, c := range missing {
		if !seen[c.i] {
			seen[c.i] = true
			idx = append(idx, c.i)
		}
		if !seen[c.j] {
			seen[c.j] = true
			idx = append(idx, c.j)
		}
	}
	sort.Ints(idx)

	sub := make([]travel.GeoPoint, len(idx))
	pos := make(map[int]int, len(idx))
	for si, k := range idx {
		sub[si] = points[k]
		pos[k] = si
	}

	var durations [][]float64
	err := retry.Transient(ctx, func() error {
		d, terr := o.backend.Table(ctx, sub)
		if terr != nil {
			return terr
		}
		durations = d
		return nil
	})
	o.recordRouting("table", err == nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("routing table request failed, estimating legs", "error", err, "points", len(sub))
		return nil
	}

	for si := range sub {
		for sj := range sub {
			if si == sj || canonPoint(sub[si]) == canonPoint(sub[sj]) {
				continue
			}
			seconds := durations[si][sj]
			if seconds <= 0 {
				// OSRM encodes unroutable pairs as null, which decodes to 0.
				continue
			}
			o.store(ctx, Key(sub[si], sub[sj]), Leg{Seconds: seconds})
		}
	}
	for _, c := range missing {
		seconds := durations[pos[c.i]][pos[c.j]]
		if seconds > 0 {
			m.setLeg(c.i, c.j, Leg{Seconds: seconds})
		}
	}
	return nil
}

// store caches a backend-confirmed leg in both tiers.
func (o *Oracle) store(ctx context.Context, key string, leg Leg) {
	o.l1.set(key, leg, 0)
	if o.rdb == nil {
		return
	}
	val := strconv.FormatFloat(leg.Seconds, 'f', 3, 64)
	if err := o.rdb.Set(ctx, redisKeyPrefix+key, val, o.ttl).Err(); err != nil {
		slog.Debug("travel cache write failed", "error", err)
	}
}

func (o *Oracle) redisGet(ctx context.Context, key string) (Leg, bool) {
	if o.rdb == nil {
		return Leg{}, false
	}
	val, err := o.rdb.Get(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("travel cache read failed", "error", err)
		}
		return Leg{}, false
	}
	seconds, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return Leg{}, false
	}
	return Leg{Seconds: seconds}, true
}

func (o *Oracle) scaled(leg Leg) Leg {
	leg.Seconds *= o.peak
	return leg
}

// CleanupExpired drops expired in-process entries and reports how many.
func (o *Oracle) CleanupExpired() int {
	return o.l1.cleanupExpired()
}

// Size reports the in-process cache entry count.
func (o *Oracle) Size() int {
	return o.l1.size()
}

// Flush persists backend-confirmed in-process entries to the shared tier.
// Called on shutdown so a restarted instance starts warm.
func (o *Oracle) Flush(ctx context.Context) error {
	if o.rdb == nil {
		return nil
	}
	pipe := o.rdb.Pipeline()
	n := 0
	for key, leg := range o.l1.entries() {
		if leg.Estimated {
			continue
		}
		pipe.Set(ctx, redisKeyPrefix+key, strconv.FormatFloat(leg.Seconds, 'f', 3, 64), o.ttl)
		n++
	}
	if n == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "flush travel cache")
	}
	slog.Info("flushed travel cache", "entries", n)
	return nil
}

// StartJanitor drops expired cache entries every interval until ctx ends.
func (o *Oracle) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := o.CleanupExpired(); n > 0 {
					slog.Debug("expired travel cache entries", "count", n)
				}
			}
		}
	}()
}

func (o *Oracle) recordCache(tier string, hit bool) {
	if o.exp == nil {
		return
	}
	if hit {
		o.exp.RecordTravelCacheHit(tier)
	} else {
		o.exp.RecordTravelCacheMiss(tier)
	}
}

func (o *Oracle) recordRouting(kind string, ok bool) {
	if o.exp != nil {
		o.exp.RecordRoutingRequest(kind, ok)
	}
}

func (o *Oracle) recordFallback() {
	if o.exp != nil {
		o.exp.RecordRoutingFallback()
	}
}
