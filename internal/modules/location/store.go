// README: Presence store backed by Redis GEO per zone, with Postgres snapshots.
package location

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mmcloughlin/geohash"
	"github.com/redis/go-redis/v9"

	"smartline/internal/types"
)

const (
	zoneGeoKeyPrefix = "presence:geo:%s"
	// geohash precision 6 cells are roughly 1.2km x 0.6km, coarse enough for
	// map clustering without leaking exact positions.
	cellPrecision = 6
)

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewStore(db *pgxpool.Pool, redis *redis.Client) *Store {
	return &Store{db: db, redis: redis}
}

// UpsertPresence writes the hot GEO entry and the durable last-location row.
// The Postgres snapshot survives Redis restarts and feeds admin map views.
func (s *Store) UpsertPresence(ctx context.Context, p Presence) error {
	if err := s.redis.GeoAdd(ctx, zoneGeoKey(p.ZoneID), &redis.GeoLocation{
		Name:      string(p.DriverID),
		Longitude: p.Position.Lng,
		Latitude:  p.Position.Lat,
	}).Err(); err != nil {
		return fmt.Errorf("geo add: %w", err)
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO driver_last_locations (user_id, zone_id, lat, lng, cell, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (user_id) DO UPDATE SET
			zone_id = EXCLUDED.zone_id,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			cell = EXCLUDED.cell,
			updated_at = EXCLUDED.updated_at`,
		string(p.DriverID), string(p.ZoneID), p.Position.Lat, p.Position.Lng,
		p.Cell, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("snapshot upsert: %w", err)
	}
	return nil
}

func (s *Store) RemovePresence(ctx context.Context, zoneID, driverID types.ID) error {
	return s.redis.ZRem(ctx, zoneGeoKey(zoneID), string(driverID)).Err()
}

// Nearby runs the coarse GEO search with coordinates attached. The caller
// re-filters with haversine; Redis GEO distance rounding is not authoritative.
func (s *Store) Nearby(ctx context.Context, zoneID types.ID, p types.Point, radiusMeters float64) ([]DriverDistance, error) {
	results, err := s.redis.GeoSearchLocation(ctx, zoneGeoKey(zoneID), &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      MaxCandidates * 2,
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DriverDistance, len(results))
	for i, r := range results {
		out[i] = DriverDistance{
			DriverID: types.ID(r.Name),
			Position: types.Point{Lat: r.Latitude, Lng: r.Longitude},
		}
	}
	return out, nil
}

// LastKnown reads the durable snapshot for one driver.
func (s *Store) LastKnown(ctx context.Context, driverID types.ID) (*Presence, error) {
	var p Presence
	var updatedAt time.Time
	err := s.db.QueryRow(ctx, `
		SELECT user_id, zone_id, lat, lng, cell, updated_at
		FROM driver_last_locations
		WHERE user_id = $1`, string(driverID),
	).Scan(&p.DriverID, &p.ZoneID, &p.Position.Lat, &p.Position.Lng, &p.Cell, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.UpdatedAt = updatedAt
	return &p, nil
}

func zoneGeoKey(zoneID types.ID) string {
	return fmt.Sprintf(zoneGeoKeyPrefix, string(zoneID))
}

func cellFor(p types.Point) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lng, cellPrecision)
}
