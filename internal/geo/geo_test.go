package geo

import (
	"testing"
	"time"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

var plaza = models.Coord{Lat: -31.5375, Lon: -68.5289} // Plaza 25 de Mayo

func TestHaversineZero(t *testing.T) {
	if d := Haversine(plaza, plaza); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	hospital := models.Coord{Lat: -31.5375, Lon: -68.5364}
	d := Haversine(plaza, hospital)
	// ~0.7km across downtown San Juan
	if d < 0.5 || d > 1.0 {
		t.Fatalf("unexpected distance %f km", d)
	}
}

func TestQueryNearbyOrderedByDistance(t *testing.T) {
	idx := NewMemoryIndex(time.Minute)
	now := time.Now()
	idx.Upsert("far", models.Coord{Lat: -31.56, Lon: -68.54}, now)
	idx.Upsert("near", models.Coord{Lat: -31.538, Lon: -68.529}, now)
	idx.Upsert("mid", models.Coord{Lat: -31.545, Lon: -68.533}, now)

	got := idx.QueryNearby(plaza, 10, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].DistanceKm < got[i-1].DistanceKm {
			t.Fatalf("results not ordered: %v", got)
		}
	}
	if got[0].DriverID != "near" {
		t.Fatalf("expected nearest first, got %s", got[0].DriverID)
	}
}

func TestQueryNearbyRespectsRadiusAndLimit(t *testing.T) {
	idx := NewMemoryIndex(time.Minute)
	now := time.Now()
	idx.Upsert("inside", models.Coord{Lat: -31.538, Lon: -68.529}, now)
	idx.Upsert("outside", models.Coord{Lat: -31.9, Lon: -68.9}, now)

	got := idx.QueryNearby(plaza, 2, 10)
	if len(got) != 1 || got[0].DriverID != "inside" {
		t.Fatalf("radius filter failed: %v", got)
	}

	idx.Upsert("inside2", models.Coord{Lat: -31.539, Lon: -68.530}, now)
	got = idx.QueryNearby(plaza, 2, 1)
	if len(got) != 1 {
		t.Fatalf("limit not applied: %v", got)
	}
}

func TestQueryNearbyExcludesStale(t *testing.T) {
	idx := NewMemoryIndex(10 * time.Second)
	idx.Upsert("stale", plaza, time.Now().Add(-time.Minute))
	idx.Upsert("live", plaza, time.Now())

	got := idx.QueryNearby(plaza, 5, 10)
	if len(got) != 1 || got[0].DriverID != "live" {
		t.Fatalf("stale entry leaked: %v", got)
	}
}

func TestSweepEvictsStale(t *testing.T) {
	idx := NewMemoryIndex(10 * time.Second)
	idx.Upsert("stale", plaza, time.Now().Add(-time.Minute))
	idx.Upsert("live", plaza, time.Now())

	if n := idx.sweep(time.Now()); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	idx.mu.RLock()
	_, staleLeft := idx.entries["stale"]
	_, liveLeft := idx.entries["live"]
	idx.mu.RUnlock()
	if staleLeft || !liveLeft {
		t.Fatalf("sweep kept/evicted wrong entries: stale=%v live=%v", staleLeft, liveLeft)
	}
}

func TestRemove(t *testing.T) {
	idx := NewMemoryIndex(time.Minute)
	idx.Upsert("d1", plaza, time.Now())
	idx.Remove("d1")
	if got := idx.QueryNearby(plaza, 5, 10); len(got) != 0 {
		t.Fatalf("expected empty after remove, got %v", got)
	}
}

func TestConcurrentUpsertsWhileQuerying(t *testing.T) {
	idx := NewMemoryIndex(time.Minute)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			idx.Upsert("d1", models.Coord{Lat: plaza.Lat + float64(i)*1e-5, Lon: plaza.Lon}, time.Now())
		}
	}()
	for i := 0; i < 500; i++ {
		for _, e := range idx.QueryNearby(plaza, 50, 10) {
			if e.Loc.Lon != plaza.Lon {
				t.Fatalf("torn read: %v", e)
			}
		}
	}
	<-done
}
