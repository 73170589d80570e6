// README: Trip lifecycle service: request, accept, start, complete, cancel, return.
package trip

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"smartline/internal/types"
)

var (
	ErrNotFound      = errors.New("trip not found")
	ErrConflict      = errors.New("trip was modified concurrently")
	ErrStateConflict = errors.New("trip state does not allow this operation")
	ErrBadRequest    = errors.New("invalid trip request")
	ErrActiveTrip    = errors.New("customer already has an active trip")
	ErrNotAssigned   = errors.New("driver is not assigned to this trip")
	ErrWrongOTP      = errors.New("otp does not match")
)

// tripStore is the persistence surface the service needs. *Store satisfies it;
// tests swap in an in-memory fake.
type tripStore interface {
	Create(ctx context.Context, t *Trip) error
	Get(ctx context.Context, id types.ID) (*Trip, error)
	AssignDriver(ctx context.Context, tripID, driverID types.ID, otp string) (Outcome, *Trip, error)
	applyTransitioner
	HasActiveByCustomer(ctx context.Context, customerID types.ID) (bool, error)
	ActiveByDriver(ctx context.Context, driverID types.ID) (*Trip, error)
	ListPendingForDriver(ctx context.Context, q PendingQuery) ([]*Trip, error)
}

type applyTransitioner interface {
	applyTransition(ctx context.Context, tr transition) (bool, error)
}

// FareEstimator prices a route before the trip is persisted.
type FareEstimator interface {
	Estimate(ctx context.Context, zoneID types.ID, pickup, dest types.Point, category *types.ID) (types.Money, error)
}

// Bridge fans lifecycle events out to the realtime layer. Implementations are
// best-effort: a broken bridge must never fail a committed transition.
type Bridge interface {
	TripAssigned(ctx context.Context, t *Trip, losers []types.ID)
	TripEvent(ctx context.Context, event string, t *Trip)
}

// OfferBoard exposes the offer bookkeeping the service clears after assignment.
type OfferBoard interface {
	OfferedDrivers(ctx context.Context, tripID types.ID) ([]types.ID, error)
	Clear(ctx context.Context, tripID types.ID) error
}

type Service struct {
	store  tripStore
	fares  FareEstimator
	bridge Bridge
	offers OfferBoard
	live   bool
	log    *zap.Logger
}

func NewService(store tripStore, fares FareEstimator, bridge Bridge, offers OfferBoard, live bool, log *zap.Logger) *Service {
	return &Service{store: store, fares: fares, bridge: bridge, offers: offers, live: live, log: log}
}

type CreateCommand struct {
	CustomerID      types.ID
	ZoneID          types.ID
	Type            Type
	VehicleCategory *types.ID
	Pickup          types.Point
	Destination     types.Point
	PickupAddress   string
	DestAddress     string
	Passengers      int
	Luggage         int
	TravelDate      *time.Time
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Trip, error) {
	if err := validatePoint(cmd.Pickup); err != nil {
		return nil, err
	}
	if err := validatePoint(cmd.Destination); err != nil {
		return nil, err
	}
	if cmd.ZoneID == "" {
		return nil, fmt.Errorf("%w: zone is required", ErrBadRequest)
	}
	switch cmd.Type {
	case TypeRide, TypeParcel, TypeTravel:
	default:
		return nil, fmt.Errorf("%w: unknown trip type %q", ErrBadRequest, cmd.Type)
	}
	if cmd.Type == TypeTravel && cmd.TravelDate == nil {
		return nil, fmt.Errorf("%w: travel booking requires a travel date", ErrBadRequest)
	}

	active, err := s.store.HasActiveByCustomer(ctx, cmd.CustomerID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrActiveTrip
	}

	fare, err := s.fares.Estimate(ctx, cmd.ZoneID, cmd.Pickup, cmd.Destination, cmd.VehicleCategory)
	if err != nil {
		return nil, fmt.Errorf("estimate fare: %w", err)
	}

	t := &Trip{
		ID:              types.ID(newID()),
		CustomerID:      cmd.CustomerID,
		VehicleCategory: cmd.VehicleCategory,
		ZoneID:          cmd.ZoneID,
		Type:            cmd.Type,
		Status:          StatusPending,
		Pickup:          cmd.Pickup,
		Destination:     cmd.Destination,
		PickupAddress:   cmd.PickupAddress,
		DestAddress:     cmd.DestAddress,
		EstimatedFare:   fare,
		CreatedAt:       time.Now().UTC(),
		Passengers:      cmd.Passengers,
		Luggage:         cmd.Luggage,
		TravelDate:      cmd.TravelDate,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info("trip created",
		zap.String("trip_id", string(t.ID)),
		zap.String("type", string(t.Type)),
		zap.String("zone_id", string(t.ZoneID)),
	)
	return t, nil
}

type AcceptCommand struct {
	TripID   types.ID
	DriverID types.ID
}

// Accept runs the exclusive assignment. Exactly one concurrent acceptor gets
// OutcomeAssigned; the rest see AlreadyTaken or Ineligible without error.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Trip, Outcome, error) {
	otp := s.newOTP()
	outcome, t, err := s.store.AssignDriver(ctx, cmd.TripID, cmd.DriverID, otp)
	if err != nil {
		return nil, "", err
	}
	if outcome != OutcomeAssigned {
		return nil, outcome, nil
	}

	// Post-commit cleanup is best-effort: the assignment already holds.
	losers, err := s.offers.OfferedDrivers(ctx, cmd.TripID)
	if err != nil {
		s.log.Warn("reading offered drivers failed", zap.String("trip_id", string(cmd.TripID)), zap.Error(err))
	}
	losers = without(losers, cmd.DriverID)
	if err := s.offers.Clear(ctx, cmd.TripID); err != nil {
		s.log.Warn("clearing offers failed", zap.String("trip_id", string(cmd.TripID)), zap.Error(err))
	}
	s.bridge.TripAssigned(ctx, t, losers)

	s.log.Info("trip assigned",
		zap.String("trip_id", string(cmd.TripID)),
		zap.String("driver_id", string(cmd.DriverID)),
	)
	return t, OutcomeAssigned, nil
}

type StartCommand struct {
	TripID   types.ID
	DriverID types.ID
	OTP      string
}

// Start moves an accepted trip to ongoing once the assigned driver presents the
// pickup OTP collected from the customer.
func (s *Service) Start(ctx context.Context, cmd StartCommand) (*Trip, error) {
	t, err := s.store.Get(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}
	if t.DriverID == nil || *t.DriverID != cmd.DriverID {
		return nil, ErrNotAssigned
	}
	if t.Status != StatusAccepted {
		return nil, ErrStateConflict
	}
	if t.OTP != cmd.OTP {
		return nil, ErrWrongOTP
	}

	ok, err := s.store.applyTransition(ctx, transition{
		TripID:    t.ID,
		From:      StatusAccepted,
		To:        StatusOngoing,
		Version:   t.Version,
		ActorType: "driver",
		ActorID:   &cmd.DriverID,
		TripType:  t.Type,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	t.Status = StatusOngoing
	t.Version++
	s.bridge.TripEvent(ctx, "trip.started", t)
	return t, nil
}

type CompleteCommand struct {
	TripID    types.ID
	DriverID  types.ID
	DropPoint *types.Point
}

// Complete finishes an ongoing trip at the driver's current position. The final
// fare is re-priced against the actual drop point when one is recorded.
func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (*Trip, error) {
	t, err := s.store.Get(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}
	if t.DriverID == nil || *t.DriverID != cmd.DriverID {
		return nil, ErrNotAssigned
	}
	if t.Status != StatusOngoing {
		return nil, ErrStateConflict
	}

	fare := t.EstimatedFare
	if cmd.DropPoint != nil {
		if err := validatePoint(*cmd.DropPoint); err != nil {
			return nil, err
		}
		if repriced, err := s.fares.Estimate(ctx, t.ZoneID, t.Pickup, *cmd.DropPoint, t.VehicleCategory); err == nil {
			fare = repriced
		} else {
			s.log.Warn("final fare repricing failed, keeping estimate",
				zap.String("trip_id", string(t.ID)), zap.Error(err))
		}
	}

	amount := fare.Amount
	ok, err := s.store.applyTransition(ctx, transition{
		TripID:      t.ID,
		From:        StatusOngoing,
		To:          StatusCompleted,
		Version:     t.Version,
		ActorType:   "driver",
		ActorID:     &cmd.DriverID,
		DropPoint:   cmd.DropPoint,
		ActualFare:  &amount,
		ResetDriver: &cmd.DriverID,
		TripType:    t.Type,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	t.Status = StatusCompleted
	t.Version++
	t.ActualFare = &fare
	t.DropPoint = cmd.DropPoint
	s.bridge.TripEvent(ctx, "trip.completed", t)
	return t, nil
}

type CancelCommand struct {
	TripID    types.ID
	ActorType string // "customer" or "driver"
	ActorID   types.ID
	Reason    string
}

// Cancel applies the actor-scoped cancellation rules. Customers may cancel only
// before the ride starts. A driver cancelling an ongoing parcel does not orphan
// the goods: the parcel flips into the return flow with a fresh OTP so the
// sender can verify the hand-back.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Trip, error) {
	t, err := s.store.Get(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}

	switch cmd.ActorType {
	case "customer":
		if t.CustomerID != cmd.ActorID {
			return nil, ErrNotAssigned
		}
		if t.Status != StatusPending && t.Status != StatusAccepted {
			return nil, ErrStateConflict
		}
	case "driver":
		if t.DriverID == nil || *t.DriverID != cmd.ActorID {
			return nil, ErrNotAssigned
		}
		if t.Status != StatusAccepted && t.Status != StatusOngoing {
			return nil, ErrStateConflict
		}
	default:
		return nil, fmt.Errorf("%w: unknown actor type %q", ErrBadRequest, cmd.ActorType)
	}

	// A driver cancelling an ongoing parcel still carries the goods: the trip
	// flips into the return flow and the driver's counters are released only
	// when the hand-back is confirmed.
	entersReturn := t.Type == TypeParcel && cmd.ActorType == "driver" && t.Status == StatusOngoing
	resetDriver := t.DriverID
	if entersReturn {
		resetDriver = nil
	}

	ok, err := s.store.applyTransition(ctx, transition{
		TripID:       t.ID,
		From:         t.Status,
		To:           StatusCancelled,
		Version:      t.Version,
		ActorType:    cmd.ActorType,
		ActorID:      &cmd.ActorID,
		CancelReason: cmd.Reason,
		ResetDriver:  resetDriver,
		TripType:     t.Type,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	t.Status = StatusCancelled
	t.Version++

	if entersReturn {
		return s.beginReturn(ctx, t, cmd.ActorID)
	}

	s.bridge.TripEvent(ctx, "trip.cancelled", t)
	s.log.Info("trip cancelled",
		zap.String("trip_id", string(t.ID)),
		zap.String("actor", cmd.ActorType),
	)
	return t, nil
}

func (s *Service) beginReturn(ctx context.Context, t *Trip, driverID types.ID) (*Trip, error) {
	otp := s.newOTP()
	ok, err := s.store.applyTransition(ctx, transition{
		TripID:    t.ID,
		From:      StatusCancelled,
		To:        StatusReturning,
		Version:   t.Version,
		ActorType: "driver",
		ActorID:   &driverID,
		NewOTP:    otp,
		TripType:  t.Type,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	t.Status = StatusReturning
	t.Version++
	t.OTP = otp
	s.bridge.TripEvent(ctx, "parcel.returning", t)
	return t, nil
}

type ReturnCommand struct {
	TripID   types.ID
	DriverID types.ID
	OTP      string
}

// ConfirmReturned closes the parcel return flow once the driver presents the
// return OTP collected from the sender.
func (s *Service) ConfirmReturned(ctx context.Context, cmd ReturnCommand) (*Trip, error) {
	t, err := s.store.Get(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}
	if t.DriverID == nil || *t.DriverID != cmd.DriverID {
		return nil, ErrNotAssigned
	}
	if t.Status != StatusReturning {
		return nil, ErrStateConflict
	}
	if t.OTP != cmd.OTP {
		return nil, ErrWrongOTP
	}

	ok, err := s.store.applyTransition(ctx, transition{
		TripID:      t.ID,
		From:        StatusReturning,
		To:          StatusReturned,
		Version:     t.Version,
		ActorType:   "driver",
		ActorID:     &cmd.DriverID,
		ResetDriver: &cmd.DriverID,
		TripType:    t.Type,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	t.Status = StatusReturned
	t.Version++
	s.bridge.TripEvent(ctx, "parcel.returned", t)
	return t, nil
}

// Expire is called by the timeout supervisor. Losing the compare-and-set is not
// an error: it means a driver accepted or the customer cancelled first, which is
// exactly the race the sweep must tolerate.
func (s *Service) Expire(ctx context.Context, t *Trip) (bool, error) {
	ok, err := s.store.applyTransition(ctx, transition{
		TripID:    t.ID,
		From:      StatusPending,
		To:        StatusExpired,
		Version:   t.Version,
		ActorType: "system",
		TripType:  t.Type,
	})
	if err != nil || !ok {
		return ok, err
	}
	t.Status = StatusExpired
	t.Version++
	if err := s.offers.Clear(ctx, t.ID); err != nil {
		s.log.Warn("clearing offers for expired trip failed",
			zap.String("trip_id", string(t.ID)), zap.Error(err))
	}
	s.bridge.TripEvent(ctx, "trip.timeout", t)
	return true, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Trip, error) {
	return s.store.Get(ctx, id)
}

// DriverDisconnected tells the customer their driver dropped off the network
// mid-trip. The trip itself is untouched: the driver may reconnect and carry on.
func (s *Service) DriverDisconnected(ctx context.Context, driverID types.ID) (*Trip, error) {
	t, err := s.store.ActiveByDriver(ctx, driverID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.bridge.TripEvent(ctx, "driver.disconnected", t)
	s.log.Info("driver disconnected mid-trip",
		zap.String("trip_id", string(t.ID)),
		zap.String("driver_id", string(driverID)),
	)
	return t, nil
}

// PendingForDriver serves the authoritative poll channel.
func (s *Service) PendingForDriver(ctx context.Context, q PendingQuery) ([]*Trip, error) {
	if q.Limit <= 0 || q.Limit > 100 {
		return nil, fmt.Errorf("%w: limit must be between 1 and 100", ErrBadRequest)
	}
	if q.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", ErrBadRequest)
	}
	return s.store.ListPendingForDriver(ctx, q)
}

func validatePoint(p types.Point) error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) ||
		p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: coordinates out of range", ErrBadRequest)
	}
	return nil
}

func newID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// newOTP returns a fixed code outside live mode so staging flows stay testable.
func (s *Service) newOTP() string {
	if !s.live {
		return "0000"
	}
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%04d", n.Int64())
}

func without(ids []types.ID, drop types.ID) []types.ID {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
