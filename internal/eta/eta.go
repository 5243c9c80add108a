package eta

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/consultora1700/mubitt-san-juan/internal/geo"
	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

// Client is the interface used to get routed travel times. OSRMClient
// implements it; when absent the speed heuristic below is used.
type Client interface {
	EstimateSeconds(from, to models.Coord) (float64, error)
}

// Estimator produces travel-time and trip-plan estimates. City average
// speed in San Juan traffic is ~30 km/h; routed estimates from Client
// take precedence when configured.
type Estimator struct {
	Client      Client
	Cache       *Cache
	AvgSpeedKmh float64
}

const (
	defaultSpeedKmh = 30.0
	minDistanceKm   = 1.0
	minDurationMin  = 5
)

// Seconds estimates travel time between two points, consulting the
// cache and routed client before falling back to the speed heuristic.
func (e *Estimator) Seconds(from, to models.Coord) float64 {
	if e.Cache != nil {
		if v, ok := e.Cache.Get(from, to); ok {
			return v
		}
	}
	if e.Client != nil {
		if v, err := e.Client.EstimateSeconds(from, to); err == nil {
			if e.Cache != nil {
				e.Cache.Set(from, to, v)
			}
			return v
		}
	}
	return EstimateSeconds(from, to, e.speed())
}

// Plan estimates the billable distance and duration of a trip, with the
// minimums the rate card assumes.
func (e *Estimator) Plan(pickup, dropoff models.Coord) (distanceKm float64, durationMin int) {
	distanceKm = geo.Haversine(pickup, dropoff)
	if distanceKm < minDistanceKm {
		distanceKm = minDistanceKm
	}
	durationMin = int(math.Ceil(e.Seconds(pickup, dropoff) / 60.0))
	if durationMin < minDurationMin {
		durationMin = minDurationMin
	}
	return distanceKm, durationMin
}

func (e *Estimator) speed() float64 {
	if e.AvgSpeedKmh > 0 {
		return e.AvgSpeedKmh
	}
	return defaultSpeedKmh
}

// EstimateSeconds is the bare heuristic: great-circle distance over a
// constant speed.
func EstimateSeconds(from, to models.Coord, speedKmh float64) float64 {
	if speedKmh <= 0 {
		speedKmh = defaultSpeedKmh
	}
	return geo.Haversine(from, to) / speedKmh * 3600.0
}

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Get returns the cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.Coord, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}
