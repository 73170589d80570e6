// README: Timeout supervisor: sweeps dispatched-but-unaccepted trips to expiry.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"smartline/internal/config"
	"smartline/internal/modules/trip"
	"smartline/internal/types"
)

const (
	sweepBatchSize = 100
	sweepLockTTL   = 30 * time.Second
)

type timedOutLister interface {
	ListDispatchTimedOut(ctx context.Context, travel bool, cutoff time.Time, limit int) ([]*trip.Trip, error)
}

// expirer applies the pending->expired transition. A false result means a
// concurrent accept or cancel won, which the sweep treats as resolved.
type expirer interface {
	Expire(ctx context.Context, t *trip.Trip) (bool, error)
}

type sweepLocker interface {
	AcquireSweepLock(ctx context.Context, tripID types.ID, ttl time.Duration) (bool, error)
	ReleaseSweepLock(ctx context.Context, tripID types.ID) error
}

type Supervisor struct {
	trips  timedOutLister
	trip   expirer
	locks  sweepLocker
	bridge Bridge
	cfg    config.DispatchConfig
	log    *zap.Logger
}

func NewSupervisor(trips timedOutLister, exp expirer, locks sweepLocker, bridge Bridge, cfg config.DispatchConfig, log *zap.Logger) *Supervisor {
	return &Supervisor{trips: trips, trip: exp, locks: locks, bridge: bridge, cfg: cfg, log: log}
}

// Run ticks until the context is cancelled. Sweep errors are logged and the
// loop keeps going; a broken tick must not kill the supervisor.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SupervisorTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error("supervisor sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep expires timed-out trips for both tiers. Idempotent: an already-expired
// trip no longer matches the pending query, and the compare-and-set inside
// Expire tolerates races with late accepts.
func (s *Supervisor) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	for _, travel := range []bool{false, true} {
		cutoff := now.Add(-s.cfg.TimeoutFor(travel))
		trips, err := s.trips.ListDispatchTimedOut(ctx, travel, cutoff, sweepBatchSize)
		if err != nil {
			return err
		}
		for _, t := range trips {
			s.expireOne(ctx, t, travel)
		}
	}
	return nil
}

func (s *Supervisor) expireOne(ctx context.Context, t *trip.Trip, travel bool) {
	locked, err := s.locks.AcquireSweepLock(ctx, t.ID, sweepLockTTL)
	if err != nil {
		s.log.Warn("sweep lock failed", zap.String("trip_id", string(t.ID)), zap.Error(err))
		return
	}
	if !locked {
		return
	}
	defer func() {
		if err := s.locks.ReleaseSweepLock(ctx, t.ID); err != nil {
			s.log.Warn("sweep unlock failed", zap.String("trip_id", string(t.ID)), zap.Error(err))
		}
	}()

	expired, err := s.trip.Expire(ctx, t)
	if err != nil {
		s.log.Error("expire failed", zap.String("trip_id", string(t.ID)), zap.Error(err))
		return
	}
	if !expired {
		// Lost the race against an accept or cancel; nothing to escalate.
		return
	}

	s.log.Info("trip expired by supervisor",
		zap.String("trip_id", string(t.ID)),
		zap.Bool("travel", travel),
	)
	if travel {
		s.bridge.AdminEscalation(ctx, t, "travel request expired without acceptance")
	}
}
