// README: Dispatch coordinator: candidate selection, offer fan-out, ignores.
package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"smartline/internal/config"
	"smartline/internal/modules/driver"
	"smartline/internal/modules/location"
	"smartline/internal/modules/trip"
	"smartline/internal/types"
)

// geoIndex is the proximity query surface, satisfied by the location service.
type geoIndex interface {
	NearbyDrivers(ctx context.Context, zoneID types.ID, origin types.Point, radiusMeters float64) ([]location.DriverDistance, error)
}

// profileDirectory resolves driver eligibility profiles in batch.
type profileDirectory interface {
	GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*driver.Profile, error)
}

type offerStore interface {
	RecordOffers(ctx context.Context, tripID types.ID, driverIDs []types.ID) error
	OfferedDrivers(ctx context.Context, tripID types.ID) ([]types.ID, error)
	Clear(ctx context.Context, tripID types.ID) error
}

type ignoreStore interface {
	Add(ctx context.Context, tripID, driverID types.ID) error
	IgnoredSet(ctx context.Context, tripID types.ID) (map[types.ID]bool, error)
	ClearForTrip(ctx context.Context, tripID types.ID) error
}

type tripMarker interface {
	MarkDispatched(ctx context.Context, id types.ID, at time.Time) error
}

// Bridge fans dispatch events out to drivers, customers, and admins.
// Implementations are best-effort and must never block the dispatch path hard.
type Bridge interface {
	OfferCreated(ctx context.Context, t *trip.Trip, driverIDs []types.ID)
	NoDrivers(ctx context.Context, t *trip.Trip)
	AdminEscalation(ctx context.Context, t *trip.Trip, reason string)
}

type Service struct {
	geo     geoIndex
	drivers profileDirectory
	offers  offerStore
	ignores ignoreStore
	trips   tripMarker
	bridge  Bridge
	filter  *Filter
	cfg     config.DispatchConfig
	log     *zap.Logger
}

func NewService(
	geo geoIndex,
	drivers profileDirectory,
	offers offerStore,
	ignores ignoreStore,
	trips tripMarker,
	bridge Bridge,
	quota config.QuotaConfig,
	cfg config.DispatchConfig,
	log *zap.Logger,
) *Service {
	return &Service{
		geo:     geo,
		drivers: drivers,
		offers:  offers,
		ignores: ignores,
		trips:   trips,
		bridge:  bridge,
		filter:  NewFilter(quota, cfg.VIPCategoryLevel),
		cfg:     cfg,
		log:     log,
	}
}

// Dispatch builds the eligible candidate set for a pending trip and fans out
// offers. An empty set is not an error: travel trips are still marked
// dispatched so the timeout clock starts and an admin escalation goes out;
// standard trips stay pending and reachable through the poll channel.
func (s *Service) Dispatch(ctx context.Context, t *trip.Trip) (*OfferRecord, error) {
	req := Request{
		TripID:          t.ID,
		ZoneID:          t.ZoneID,
		Type:            t.Type,
		VehicleCategory: t.VehicleCategory,
		Pickup:          t.Pickup,
		RadiusMeters:    s.cfg.RadiusMetersFor(t.Travel()),
	}

	eligible, err := s.EligibleCandidates(ctx, req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if len(eligible) == 0 {
		s.log.Info("no eligible candidates",
			zap.String("trip_id", string(t.ID)),
			zap.String("type", string(t.Type)),
		)
		s.bridge.NoDrivers(ctx, t)
		if t.Travel() {
			if err := s.trips.MarkDispatched(ctx, t.ID, now); err != nil {
				return nil, err
			}
			s.bridge.AdminEscalation(ctx, t, "no approved travel drivers in range")
		}
		return &OfferRecord{TripID: t.ID, DispatchedAt: now}, nil
	}

	pool := make([]types.ID, 0, len(eligible))
	for _, c := range eligible {
		pool = append(pool, c.DriverID)
		if len(pool) >= s.cfg.NotifyCount*2 {
			break
		}
	}
	offered := PickRandomDrivers(pool, s.cfg.NotifyCount)

	if err := s.trips.MarkDispatched(ctx, t.ID, now); err != nil {
		return nil, err
	}
	if err := s.offers.RecordOffers(ctx, t.ID, offered); err != nil {
		return nil, fmt.Errorf("record offers: %w", err)
	}
	s.bridge.OfferCreated(ctx, t, offered)

	s.log.Info("offers dispatched",
		zap.String("trip_id", string(t.ID)),
		zap.Int("eligible", len(eligible)),
		zap.Int("offered", len(offered)),
	)
	return &OfferRecord{TripID: t.ID, DriverIDs: offered, DispatchedAt: now}, nil
}

// EligibleCandidates runs the geo query and the predicate chain, returning the
// distance-ordered eligible set. Also serves the internal debug endpoint.
func (s *Service) EligibleCandidates(ctx context.Context, req Request) ([]Candidate, error) {
	hits, err := s.geo.NearbyDrivers(ctx, req.ZoneID, req.Pickup, req.RadiusMeters)
	if err != nil {
		return nil, fmt.Errorf("candidate query for trip %s: %w", req.TripID, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]types.ID, len(hits))
	for i, h := range hits {
		ids[i] = h.DriverID
	}
	profiles, err := s.drivers.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	ignored, err := s.ignores.IgnoredSet(ctx, req.TripID)
	if err != nil {
		return nil, fmt.Errorf("load ignore records: %w", err)
	}

	candidates := make([]Candidate, len(hits))
	for i, h := range hits {
		candidates[i] = Candidate{
			DriverID:       h.DriverID,
			Position:       h.Position,
			DistanceMeters: h.DistanceMeters,
			Profile:        profiles[h.DriverID],
		}
	}
	return s.filter.Apply(candidates, req, ignored), nil
}

// Reopen wipes the ignore records for a stuck pending trip and runs a fresh
// fan-out. Operators use it when every nearby driver declined and the customer
// is still waiting.
func (s *Service) Reopen(ctx context.Context, t *trip.Trip) (*OfferRecord, error) {
	if err := s.ignores.ClearForTrip(ctx, t.ID); err != nil {
		return nil, fmt.Errorf("clear ignore records: %w", err)
	}
	s.log.Info("request reopened", zap.String("trip_id", string(t.ID)))
	return s.Dispatch(ctx, t)
}

// Ignore records a driver's decline so the request never reaches them again.
func (s *Service) Ignore(ctx context.Context, tripID, driverID types.ID) error {
	if err := s.ignores.Add(ctx, tripID, driverID); err != nil {
		return err
	}
	s.log.Info("request ignored",
		zap.String("trip_id", string(tripID)),
		zap.String("driver_id", string(driverID)),
	)
	return nil
}

// PickRandomDrivers selects up to n drivers uniformly from the pool without
// mutating it. Spreading offers over the nearby pool avoids hammering the
// single closest driver in dense areas.
func PickRandomDrivers(pool []types.ID, n int) []types.ID {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	if n >= len(pool) {
		out := make([]types.ID, len(pool))
		copy(out, pool)
		return out
	}
	idx := rand.Perm(len(pool))[:n]
	out := make([]types.ID, n)
	for i, j := range idx {
		out[i] = pool[j]
	}
	return out
}
