// README: Offer store backed by Redis sets, plus supervisor sweep locks.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"smartline/internal/types"
)

const (
	offeredKeyPrefix    = "dispatch:trip:%s:offered"
	dispatchedKeyPrefix = "dispatch:trip:%s:dispatched_at"
	sweepLockKeyPrefix  = "dispatch:lock:trip:%s"
	// Trips resolve within minutes; the TTL only guards against leaked keys.
	offerTTL = 24 * time.Hour
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// RecordOffers appends drivers to the trip's offered set and stamps the
// dispatch clock once. Re-dispatch grows the set without resetting the clock.
func (s *Store) RecordOffers(ctx context.Context, tripID types.ID, driverIDs []types.ID) error {
	pipe := s.redis.Pipeline()
	pipe.SetNX(ctx, dispatchedKey(tripID), time.Now().UTC().Format(time.RFC3339), offerTTL)
	if len(driverIDs) > 0 {
		members := make([]interface{}, len(driverIDs))
		for i, d := range driverIDs {
			members[i] = string(d)
		}
		key := offeredKey(tripID)
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, offerTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) OfferedDrivers(ctx context.Context, tripID types.ID) ([]types.ID, error) {
	members, err := s.redis.SMembers(ctx, offeredKey(tripID)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(members))
	for i, m := range members {
		ids[i] = types.ID(m)
	}
	return ids, nil
}

// Clear removes all offer bookkeeping for a resolved trip.
func (s *Store) Clear(ctx context.Context, tripID types.ID) error {
	return s.redis.Del(ctx, offeredKey(tripID), dispatchedKey(tripID)).Err()
}

// AcquireSweepLock takes a short distributed lock so that overlapping
// supervisor instances do not double-expire the same trip.
func (s *Store) AcquireSweepLock(ctx context.Context, tripID types.ID, ttl time.Duration) (bool, error) {
	return s.redis.SetNX(ctx, sweepLockKey(tripID), "1", ttl).Result()
}

func (s *Store) ReleaseSweepLock(ctx context.Context, tripID types.ID) error {
	return s.redis.Del(ctx, sweepLockKey(tripID)).Err()
}

func offeredKey(tripID types.ID) string {
	return fmt.Sprintf(offeredKeyPrefix, string(tripID))
}

func dispatchedKey(tripID types.ID) string {
	return fmt.Sprintf(dispatchedKeyPrefix, string(tripID))
}

func sweepLockKey(tripID types.ID) string {
	return fmt.Sprintf(sweepLockKeyPrefix, string(tripID))
}
