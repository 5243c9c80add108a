package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

// Entry is a driver position as seen by the index. The index is a
// derived view keyed by driver id; it is not the source of truth for
// driver identity or availability.
type Entry struct {
	DriverID   string
	Loc        models.Coord
	Updated    time.Time
	DistanceKm float64 // from the query center, set on query results
}

// Index is the minimal surface required by the match engine and the
// location handlers.
type Index interface {
	Upsert(driverID string, loc models.Coord, at time.Time)
	Remove(driverID string)
	QueryNearby(center models.Coord, radiusKm float64, limit int) []Entry
}

// MemoryIndex is a concurrency-safe in-memory position index. Entries
// older than the liveness window are invisible to queries and evicted
// by Run's background sweep.
type MemoryIndex struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	liveness time.Duration
}

func NewMemoryIndex(liveness time.Duration) *MemoryIndex {
	if liveness <= 0 {
		liveness = 30 * time.Second
	}
	return &MemoryIndex{entries: make(map[string]Entry), liveness: liveness}
}

func (g *MemoryIndex) Upsert(driverID string, loc models.Coord, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[driverID] = Entry{DriverID: driverID, Loc: loc, Updated: at}
}

func (g *MemoryIndex) Remove(driverID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, driverID)
}

// QueryNearby returns live entries within radiusKm ordered by ascending
// distance, ties broken by most-recent update. Entries are copied out
// under the read lock, so callers never observe a half-written position.
func (g *MemoryIndex) QueryNearby(center models.Coord, radiusKm float64, limit int) []Entry {
	cutoff := time.Now().Add(-g.liveness)

	g.mu.RLock()
	candidates := make([]Entry, 0, len(g.entries))
	for _, e := range g.entries {
		if e.Updated.Before(cutoff) {
			continue
		}
		d := Haversine(center, e.Loc)
		if d > radiusKm {
			continue
		}
		e.DistanceKm = d
		candidates = append(candidates, e)
	}
	g.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceKm != candidates[j].DistanceKm {
			return candidates[i].DistanceKm < candidates[j].DistanceKm
		}
		return candidates[i].Updated.After(candidates[j].Updated)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// Run sweeps stale entries until ctx is done.
func (g *MemoryIndex) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = g.liveness
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep(time.Now())
		}
	}
}

func (g *MemoryIndex) sweep(now time.Time) int {
	cutoff := now.Add(-g.liveness)
	g.mu.Lock()
	defer g.mu.Unlock()
	evicted := 0
	for id, e := range g.entries {
		if e.Updated.Before(cutoff) {
			delete(g.entries, id)
			evicted++
		}
	}
	return evicted
}

// Haversine great-circle distance in kilometers.
func Haversine(a, b models.Coord) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}
