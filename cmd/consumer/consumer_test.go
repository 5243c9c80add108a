package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/consultora1700/mubitt-san-juan/internal/ingest"
	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

// fakeUpdater implements GeoUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	lastHKey string
	lastHVal map[string]interface{}
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	f.lastHKey = key
	f.lastHVal = values
	return nil
}

func TestUpdateGeoWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	u := ingest.LocationUpdate{
		DriverID: "d1",
		Loc:      models.Coord{Lat: -31.5375, Lon: -68.5289},
		Updated:  time.Now(),
	}
	start := time.Now()
	if err := updateGeoWithRetry(context.Background(), f, "drivers_geo", u, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdateGeoWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5}
	u := ingest.LocationUpdate{DriverID: "d1", Loc: models.Coord{Lat: -31.54, Lon: -68.53}}
	if err := updateGeoWithRetry(context.Background(), f, "drivers_geo", u, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestUpdateGeoWritesReadableMeta(t *testing.T) {
	f := &fakeUpdater{}
	at := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	u := ingest.LocationUpdate{DriverID: "d9", Loc: models.Coord{Lat: -31.54, Lon: -68.53}, Updated: at}
	if err := updateGeoWithRetry(context.Background(), f, "drivers_geo", u, 1, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.lastHKey != "driver:geo:d9" {
		t.Fatalf("meta key mismatch: %s", f.lastHKey)
	}
	v, ok := f.lastHVal["updated"].(string)
	if !ok {
		t.Fatalf("missing updated field")
	}
	got, err := time.Parse(time.RFC3339Nano, v)
	if err != nil || !got.Equal(at) {
		t.Fatalf("updated field not round-trippable: %q err=%v", v, err)
	}
}
