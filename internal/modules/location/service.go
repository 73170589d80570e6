// README: Location service: driver heartbeats in, proximity queries out.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"smartline/internal/types"
)

var (
	ErrInvalidPoint = errors.New("coordinates out of range")
	ErrGeoQuery     = errors.New("geo query failed")
)

// presenceStore is the storage surface the service needs; *Store satisfies it.
type presenceStore interface {
	UpsertPresence(ctx context.Context, p Presence) error
	RemovePresence(ctx context.Context, zoneID, driverID types.ID) error
	Nearby(ctx context.Context, zoneID types.ID, p types.Point, radiusMeters float64) ([]DriverDistance, error)
	LastKnown(ctx context.Context, driverID types.ID) (*Presence, error)
}

type Service struct {
	store presenceStore
	log   *zap.Logger
}

func NewService(store presenceStore, log *zap.Logger) *Service {
	return &Service{store: store, log: log}
}

type Heartbeat struct {
	DriverID types.ID
	ZoneID   types.ID
	Position types.Point
}

// Update records a driver heartbeat. These arrive at high frequency, so the
// write path is a single GEO upsert plus one snapshot row.
func (s *Service) Update(ctx context.Context, h Heartbeat) error {
	if !validCoordinates(h.Position.Lat, h.Position.Lng) {
		return ErrInvalidPoint
	}
	if h.ZoneID == "" {
		return fmt.Errorf("%w: zone is required", ErrInvalidPoint)
	}
	return s.store.UpsertPresence(ctx, Presence{
		DriverID:  h.DriverID,
		ZoneID:    h.ZoneID,
		Position:  h.Position,
		Cell:      cellFor(h.Position),
		UpdatedAt: time.Now().UTC(),
	})
}

// Remove drops a driver from the hot index, typically on going offline.
func (s *Service) Remove(ctx context.Context, zoneID, driverID types.ID) error {
	return s.store.RemovePresence(ctx, zoneID, driverID)
}

// NearbyDrivers returns drivers strictly inside the radius, nearest first,
// capped at MaxCandidates. An empty result is not an error.
func (s *Service) NearbyDrivers(ctx context.Context, zoneID types.ID, origin types.Point, radiusMeters float64) ([]DriverDistance, error) {
	if !validCoordinates(origin.Lat, origin.Lng) {
		return nil, ErrInvalidPoint
	}
	if radiusMeters <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive", ErrInvalidPoint)
	}
	candidates, err := s.store.Nearby(ctx, zoneID, origin, radiusMeters)
	if err != nil {
		s.log.Error("proximity query failed",
			zap.String("zone_id", string(zoneID)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGeoQuery, err)
	}
	return withinRadius(origin.Lat, origin.Lng, candidates, radiusMeters), nil
}

// LastKnown exposes the durable snapshot, used when the hot index has no entry.
func (s *Service) LastKnown(ctx context.Context, driverID types.ID) (*Presence, error) {
	return s.store.LastKnown(ctx, driverID)
}
