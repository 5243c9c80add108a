package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

// RedisIndex implements Index on Redis GEO commands. Position and
// update-time live in a GEOADD set plus a per-driver hash; the liveness
// filter is applied on read since Redis GEO members do not expire.
type RedisIndex struct {
	client   *redis.Client
	key      string
	liveness time.Duration
}

func NewRedisIndex(client *redis.Client, key string, liveness time.Duration) *RedisIndex {
	if liveness <= 0 {
		liveness = 30 * time.Second
	}
	return &RedisIndex{client: client, key: key, liveness: liveness}
}

func (r *RedisIndex) Upsert(driverID string, loc models.Coord, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	ctx := context.Background()
	_, _ = r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: loc.Lon,
		Latitude:  loc.Lat,
		Name:      driverID,
	}).Result()
	_ = r.client.HSet(ctx, metaKey(driverID), map[string]interface{}{
		"updated": at.Format(time.RFC3339Nano),
	}).Err()
}

func (r *RedisIndex) Remove(driverID string) {
	ctx := context.Background()
	_ = r.client.ZRem(ctx, r.key, driverID).Err()
	_ = r.client.Del(ctx, metaKey(driverID)).Err()
}

func (r *RedisIndex) QueryNearby(center models.Coord, radiusKm float64, limit int) []Entry {
	ctx := context.Background()
	res, err := r.client.GeoRadius(ctx, r.key, center.Lon, center.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil
	}

	cutoff := time.Now().Add(-r.liveness)
	out := make([]Entry, 0, len(res))
	for _, g := range res {
		e := Entry{
			DriverID:   g.Name,
			Loc:        models.Coord{Lat: g.Latitude, Lon: g.Longitude},
			DistanceKm: g.Dist,
		}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["updated"]; ok {
				if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
					e.Updated = t
				}
			}
		}
		if e.Updated.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func metaKey(id string) string { return "driver:geo:" + id }
