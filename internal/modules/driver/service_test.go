package driver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"smartline/internal/types"
)

type fakeProfileStore struct {
	mu       sync.Mutex
	profiles map[types.ID]*Profile
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: map[types.ID]*Profile{}}
}

func (f *fakeProfileStore) Get(ctx context.Context, id types.ID) (*Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfileStore) GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Profile, error) {
	out := map[types.ID]*Profile{}
	for _, id := range ids {
		if p, err := f.Get(ctx, id); err == nil {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeProfileStore) SetAvailability(ctx context.Context, id types.ID, a Availability) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.Availability = a
	return nil
}

func (f *fakeProfileStore) SetOnline(ctx context.Context, id types.ID, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return ErrNotFound
	}
	p.Online = online
	return nil
}

func (f *fakeProfileStore) SetFCMToken(ctx context.Context, id types.ID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[id]; ok {
		p.FCMToken = token
	}
	return nil
}

func (f *fakeProfileStore) setTravelStatus(ctx context.Context, id types.ID, from []TravelStatus, to TravelStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if p.TravelStatus == s {
			p.TravelStatus = to
			return true, nil
		}
	}
	return false, nil
}

func seedProfile(store *fakeProfileStore, id types.ID, travel TravelStatus) {
	store.profiles[id] = &Profile{
		UserID:       id,
		ZoneID:       "zone-1",
		Availability: AvailabilityAvailable,
		TravelStatus: travel,
		Categories:   []types.ID{"cat-1"},
		Online:       true,
		Active:       true,
	}
}

func TestTravelEnrolmentFlow(t *testing.T) {
	store := newFakeProfileStore()
	seedProfile(store, "d1", TravelNone)
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	if err := svc.RequestTravel(ctx, "d1"); err != nil {
		t.Fatalf("RequestTravel: %v", err)
	}
	// Double submission is a conflict, not a silent overwrite.
	if err := svc.RequestTravel(ctx, "d1"); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict on resubmit, got %v", err)
	}
	if err := svc.ApproveTravel(ctx, "d1"); err != nil {
		t.Fatalf("ApproveTravel: %v", err)
	}
	// A decided enrolment cannot be decided again.
	if err := svc.RejectTravel(ctx, "d1"); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict on second decision, got %v", err)
	}
	p, _ := svc.Get(ctx, "d1")
	if p.TravelStatus != TravelApproved {
		t.Fatalf("travel status = %s, want approved", p.TravelStatus)
	}
}

func TestRejectedDriverMayReapply(t *testing.T) {
	store := newFakeProfileStore()
	seedProfile(store, "d1", TravelRejected)
	svc := NewService(store, zap.NewNop())

	if err := svc.RequestTravel(context.Background(), "d1"); err != nil {
		t.Fatalf("RequestTravel after rejection: %v", err)
	}
}

func TestApproveWithoutRequestConflicts(t *testing.T) {
	store := newFakeProfileStore()
	seedProfile(store, "d1", TravelNone)
	svc := NewService(store, zap.NewNop())

	if err := svc.ApproveTravel(context.Background(), "d1"); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
}

func TestSetAvailabilityValidatesStatus(t *testing.T) {
	store := newFakeProfileStore()
	seedProfile(store, "d1", TravelNone)
	svc := NewService(store, zap.NewNop())

	if err := svc.SetAvailability(context.Background(), "d1", "napping"); err == nil {
		t.Fatalf("expected error for unknown availability status")
	}
	if err := svc.SetAvailability(context.Background(), "d1", AvailabilityOffline); err != nil {
		t.Fatalf("SetAvailability: %v", err)
	}
}

func TestServesCategory(t *testing.T) {
	p := &Profile{Categories: []types.ID{"sedan", "suv"}}
	if !p.ServesCategory("suv") {
		t.Fatalf("expected suv to be served")
	}
	if p.ServesCategory("bike") {
		t.Fatalf("bike must not be served")
	}
}
