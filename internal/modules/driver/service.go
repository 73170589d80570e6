// README: Driver service: availability toggles and travel-tier enrolment.
package driver

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"smartline/internal/types"
)

var (
	ErrNotFound      = errors.New("driver not found")
	ErrStateConflict = errors.New("travel enrolment state does not allow this")
)

type profileStore interface {
	Get(ctx context.Context, id types.ID) (*Profile, error)
	GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Profile, error)
	SetAvailability(ctx context.Context, id types.ID, a Availability) error
	SetOnline(ctx context.Context, id types.ID, online bool) error
	SetFCMToken(ctx context.Context, id types.ID, token string) error
	setTravelStatus(ctx context.Context, id types.ID, from []TravelStatus, to TravelStatus) (bool, error)
}

type Service struct {
	store profileStore
	log   *zap.Logger
}

func NewService(store profileStore, log *zap.Logger) *Service {
	return &Service{store: store, log: log}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Profile, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Profile, error) {
	return s.store.GetMany(ctx, ids)
}

func (s *Service) SetAvailability(ctx context.Context, id types.ID, a Availability) error {
	switch a {
	case AvailabilityOffline, AvailabilityAvailable, AvailabilityOnTrip:
	default:
		return errors.New("unknown availability status")
	}
	return s.store.SetAvailability(ctx, id, a)
}

func (s *Service) SetOnline(ctx context.Context, id types.ID, online bool) error {
	return s.store.SetOnline(ctx, id, online)
}

func (s *Service) SetFCMToken(ctx context.Context, id types.ID, token string) error {
	return s.store.SetFCMToken(ctx, id, token)
}

// RequestTravel enrols a driver into the long-distance tier review queue.
// Re-applying after a rejection is allowed; an approved driver stays approved.
func (s *Service) RequestTravel(ctx context.Context, id types.ID) error {
	ok, err := s.store.setTravelStatus(ctx, id, []TravelStatus{TravelNone, TravelRejected}, TravelRequested)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateConflict
	}
	s.log.Info("travel enrolment requested", zap.String("driver_id", string(id)))
	return nil
}

// ApproveTravel moves a pending enrolment to approved. Only requested drivers
// can be decided, so stale admin tabs cannot overwrite a later decision.
func (s *Service) ApproveTravel(ctx context.Context, id types.ID) error {
	return s.decideTravel(ctx, id, TravelApproved)
}

func (s *Service) RejectTravel(ctx context.Context, id types.ID) error {
	return s.decideTravel(ctx, id, TravelRejected)
}

func (s *Service) decideTravel(ctx context.Context, id types.ID, to TravelStatus) error {
	ok, err := s.store.setTravelStatus(ctx, id, []TravelStatus{TravelRequested}, to)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateConflict
	}
	s.log.Info("travel enrolment decided",
		zap.String("driver_id", string(id)),
		zap.String("decision", string(to)),
	)
	return nil
}
