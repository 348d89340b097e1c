package track

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/trip-dispatch/internal/models"
)

// lastLocationTTL bounds how long a stale position survives after a trip
// stops reporting.
const lastLocationTTL = 24 * time.Hour

// RedisTracker stores last-known positions in Redis hashes and keeps a GEO
// set of driver positions for ops tooling. Both the server's relay path and
// the Kafka consumer write through this type.
type RedisTracker struct {
	client *redis.Client
	geoKey string
}

func NewRedisTracker(addr, password, geoKey string) *RedisTracker {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisTracker{client: c, geoKey: geoKey}
}

func NewRedisTrackerFromClient(c *redis.Client, geoKey string) *RedisTracker {
	return &RedisTracker{client: c, geoKey: geoKey}
}

func (r *RedisTracker) Update(ctx context.Context, upd models.LocationUpdate) error {
	if _, err := r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{Longitude: upd.Lng, Latitude: upd.Lat, Name: upd.DriverID}).Result(); err != nil {
		return err
	}
	key := lastKey(upd.TripID)
	if err := r.client.HSet(ctx, key, map[string]interface{}{
		"driver_id": upd.DriverID,
		"lat":       strconv.FormatFloat(upd.Lat, 'f', -1, 64),
		"lng":       strconv.FormatFloat(upd.Lng, 'f', -1, 64),
		"ts":        upd.Timestamp.UTC().Format(time.RFC3339Nano),
	}).Err(); err != nil {
		return err
	}
	return r.client.Expire(ctx, key, lastLocationTTL).Err()
}

func (r *RedisTracker) Last(ctx context.Context, tripID string) (models.LocationUpdate, error) {
	m, err := r.client.HGetAll(ctx, lastKey(tripID)).Result()
	if err != nil {
		return models.LocationUpdate{}, err
	}
	if len(m) == 0 {
		return models.LocationUpdate{}, ErrNoLocation
	}
	upd := models.LocationUpdate{TripID: tripID, DriverID: m["driver_id"]}
	if v, err := strconv.ParseFloat(m["lat"], 64); err == nil {
		upd.Lat = v
	}
	if v, err := strconv.ParseFloat(m["lng"], 64); err == nil {
		upd.Lng = v
	}
	if ts, err := time.Parse(time.RFC3339Nano, m["ts"]); err == nil {
		upd.Timestamp = ts
	}
	return upd, nil
}

func (r *RedisTracker) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisTracker) Close() error { return r.client.Close() }

func lastKey(tripID string) string { return "trip:last:" + tripID }
