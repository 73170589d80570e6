// README: Dispatch service tests: PickRandomDrivers and coordinator fan-out.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"smartline/internal/config"
	"smartline/internal/modules/driver"
	"smartline/internal/modules/location"
	"smartline/internal/modules/trip"
	"smartline/internal/types"
)

// ---------------------------------------------------------------------------
// Unit tests: PickRandomDrivers (pure function, no external dependencies)
// ---------------------------------------------------------------------------

func makeDriverPool(n int) []types.ID {
	pool := make([]types.ID, n)
	for i := range pool {
		pool[i] = types.ID(fmt.Sprintf("d%d", i))
	}
	return pool
}

func assertSubset(t *testing.T, pool, selected []types.ID) {
	t.Helper()
	in := map[types.ID]bool{}
	for _, d := range pool {
		in[d] = true
	}
	for _, d := range selected {
		if !in[d] {
			t.Fatalf("selected driver %s not in pool", d)
		}
	}
}

func assertUnique(t *testing.T, selected []types.ID) {
	t.Helper()
	seen := map[types.ID]bool{}
	for _, d := range selected {
		if seen[d] {
			t.Fatalf("driver %s selected twice", d)
		}
		seen[d] = true
	}
}

func TestPickRandomDrivers_NormalCase(t *testing.T) {
	pool := makeDriverPool(10)
	selected := PickRandomDrivers(pool, 5)
	if len(selected) != 5 {
		t.Fatalf("expected 5, got %d", len(selected))
	}
	assertSubset(t, pool, selected)
	assertUnique(t, selected)
}

func TestPickRandomDrivers_FewerThanN(t *testing.T) {
	pool := makeDriverPool(3)
	selected := PickRandomDrivers(pool, 10)
	if len(selected) != 3 {
		t.Fatalf("expected all 3, got %d", len(selected))
	}
	assertUnique(t, selected)
}

func TestPickRandomDrivers_EmptyPool(t *testing.T) {
	if got := PickRandomDrivers(nil, 5); len(got) != 0 {
		t.Fatalf("expected 0 from nil pool, got %d", len(got))
	}
	if got := PickRandomDrivers([]types.ID{}, 5); len(got) != 0 {
		t.Fatalf("expected 0 from empty pool, got %d", len(got))
	}
}

func TestPickRandomDrivers_NonPositiveN(t *testing.T) {
	pool := makeDriverPool(5)
	if got := PickRandomDrivers(pool, 0); len(got) != 0 {
		t.Fatalf("expected 0 for n=0, got %d", len(got))
	}
	if got := PickRandomDrivers(pool, -1); len(got) != 0 {
		t.Fatalf("expected 0 for n<0, got %d", len(got))
	}
}

func TestPickRandomDrivers_DoesNotMutatePool(t *testing.T) {
	pool := makeDriverPool(5)
	orig := make([]types.ID, len(pool))
	copy(orig, pool)
	PickRandomDrivers(pool, 3)
	for i, d := range pool {
		if d != orig[i] {
			t.Fatalf("pool mutated at index %d: got %s, want %s", i, d, orig[i])
		}
	}
}

// ---------------------------------------------------------------------------
// Coordinator tests with in-memory fakes
// ---------------------------------------------------------------------------

type fakeGeo struct {
	hits []location.DriverDistance
	err  error
}

func (f *fakeGeo) NearbyDrivers(ctx context.Context, zoneID types.ID, origin types.Point, radiusMeters float64) ([]location.DriverDistance, error) {
	return f.hits, f.err
}

type fakeDirectory struct {
	profiles map[types.ID]*driver.Profile
}

func (f *fakeDirectory) GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*driver.Profile, error) {
	return f.profiles, nil
}

type fakeOffers struct {
	mu       sync.Mutex
	recorded map[types.ID][]types.ID
	cleared  []types.ID
}

func newFakeOffers() *fakeOffers {
	return &fakeOffers{recorded: map[types.ID][]types.ID{}}
}

func (f *fakeOffers) RecordOffers(ctx context.Context, tripID types.ID, driverIDs []types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded[tripID] = append(f.recorded[tripID], driverIDs...)
	return nil
}

func (f *fakeOffers) OfferedDrivers(ctx context.Context, tripID types.ID) ([]types.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recorded[tripID], nil
}

func (f *fakeOffers) Clear(ctx context.Context, tripID types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.recorded, tripID)
	f.cleared = append(f.cleared, tripID)
	return nil
}

type fakeIgnores struct {
	mu      sync.Mutex
	set     map[types.ID]map[types.ID]bool
	cleared []types.ID
}

func newFakeIgnores() *fakeIgnores {
	return &fakeIgnores{set: map[types.ID]map[types.ID]bool{}}
}

func (f *fakeIgnores) Add(ctx context.Context, tripID, driverID types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set[tripID] == nil {
		f.set[tripID] = map[types.ID]bool{}
	}
	f.set[tripID][driverID] = true
	return nil
}

func (f *fakeIgnores) IgnoredSet(ctx context.Context, tripID types.ID) (map[types.ID]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set[tripID], nil
}

func (f *fakeIgnores) ClearForTrip(ctx context.Context, tripID types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.set, tripID)
	f.cleared = append(f.cleared, tripID)
	return nil
}

type fakeMarker struct {
	mu         sync.Mutex
	dispatched map[types.ID]time.Time
}

func newFakeMarker() *fakeMarker {
	return &fakeMarker{dispatched: map[types.ID]time.Time{}}
}

func (f *fakeMarker) MarkDispatched(ctx context.Context, id types.ID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dispatched[id]; !ok {
		f.dispatched[id] = at
	}
	return nil
}

type fakeBridge struct {
	mu          sync.Mutex
	offered     map[types.ID][]types.ID
	noDrivers   []types.ID
	escalations []types.ID
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{offered: map[types.ID][]types.ID{}}
}

func (b *fakeBridge) OfferCreated(ctx context.Context, t *trip.Trip, driverIDs []types.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offered[t.ID] = driverIDs
}

func (b *fakeBridge) NoDrivers(ctx context.Context, t *trip.Trip) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.noDrivers = append(b.noDrivers, t.ID)
}

func (b *fakeBridge) AdminEscalation(ctx context.Context, t *trip.Trip, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.escalations = append(b.escalations, t.ID)
}

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		SearchRadiusKm:   5,
		TravelRadiusKm:   30,
		NotifyCount:      3,
		TravelTimeout:    5 * time.Minute,
		StandardTimeout:  5 * time.Minute,
		SupervisorTick:   time.Second,
		VIPCategoryLevel: 3,
	}
}

func newTestDispatch(geo *fakeGeo, dir *fakeDirectory) (*Service, *fakeOffers, *fakeIgnores, *fakeMarker, *fakeBridge) {
	offers := newFakeOffers()
	ignores := newFakeIgnores()
	marker := newFakeMarker()
	bridge := newFakeBridge()
	svc := NewService(geo, dir, offers, ignores, marker, bridge,
		config.QuotaConfig{}, testDispatchConfig(), zap.NewNop())
	return svc, offers, ignores, marker, bridge
}

func pendingRide() *trip.Trip {
	return &trip.Trip{
		ID:     "t1",
		ZoneID: "z1",
		Type:   trip.TypeRide,
		Status: trip.StatusPending,
		Pickup: types.Point{Lat: 23.78, Lng: 90.40},
	}
}

func eligibleHit(id types.ID, distance float64) (location.DriverDistance, *driver.Profile) {
	hit := location.DriverDistance{DriverID: id, DistanceMeters: distance}
	profile := &driver.Profile{
		UserID:       id,
		ZoneID:       "z1",
		Availability: driver.AvailabilityAvailable,
		Categories:   []types.ID{"c1"},
		Online:       true,
		Active:       true,
	}
	return hit, profile
}

func TestDispatchFansOutOffers(t *testing.T) {
	geo := &fakeGeo{}
	dir := &fakeDirectory{profiles: map[types.ID]*driver.Profile{}}
	for i := 0; i < 5; i++ {
		id := types.ID(fmt.Sprintf("d%d", i))
		hit, profile := eligibleHit(id, float64(500+i*100))
		geo.hits = append(geo.hits, hit)
		dir.profiles[id] = profile
	}
	svc, offers, _, marker, bridge := newTestDispatch(geo, dir)

	rec, err := svc.Dispatch(context.Background(), pendingRide())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(rec.DriverIDs) != 3 {
		t.Fatalf("offered %d drivers, want notify count 3", len(rec.DriverIDs))
	}
	assertUnique(t, rec.DriverIDs)
	if len(offers.recorded["t1"]) != 3 {
		t.Fatalf("offer record not written")
	}
	if _, ok := marker.dispatched["t1"]; !ok {
		t.Fatalf("dispatched_at not stamped")
	}
	if len(bridge.offered["t1"]) != 3 {
		t.Fatalf("bridge not notified of offers")
	}
}

func TestDispatchStandardNoCandidatesStaysPending(t *testing.T) {
	geo := &fakeGeo{}
	dir := &fakeDirectory{profiles: map[types.ID]*driver.Profile{}}
	svc, offers, _, marker, bridge := newTestDispatch(geo, dir)

	rec, err := svc.Dispatch(context.Background(), pendingRide())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(rec.DriverIDs) != 0 {
		t.Fatalf("expected no offers")
	}
	// Standard tier: no dispatch stamp, no escalation, poll channel recovers it.
	if len(marker.dispatched) != 0 {
		t.Fatalf("standard trip must not be marked dispatched with no candidates")
	}
	if len(bridge.escalations) != 0 {
		t.Fatalf("standard trip must not escalate")
	}
	if len(bridge.noDrivers) != 1 {
		t.Fatalf("no-drivers event not published")
	}
	if len(offers.recorded) != 0 {
		t.Fatalf("no offer record expected")
	}
}

func TestDispatchTravelNoCandidatesEscalates(t *testing.T) {
	geo := &fakeGeo{}
	dir := &fakeDirectory{profiles: map[types.ID]*driver.Profile{}}
	svc, _, _, marker, bridge := newTestDispatch(geo, dir)

	travel := pendingRide()
	travel.Type = trip.TypeTravel

	if _, err := svc.Dispatch(context.Background(), travel); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	// Travel tier: the timeout clock starts even with nobody to offer to.
	if _, ok := marker.dispatched["t1"]; !ok {
		t.Fatalf("travel trip must be marked dispatched")
	}
	if len(bridge.escalations) != 1 {
		t.Fatalf("travel trip must escalate to admin")
	}
}

func TestDispatchGeoFailureFailsOnlyThisRequest(t *testing.T) {
	geo := &fakeGeo{err: location.ErrGeoQuery}
	dir := &fakeDirectory{profiles: map[types.ID]*driver.Profile{}}
	svc, offers, _, _, _ := newTestDispatch(geo, dir)

	if _, err := svc.Dispatch(context.Background(), pendingRide()); err == nil {
		t.Fatalf("expected error from geo failure")
	}
	if len(offers.recorded) != 0 {
		t.Fatalf("no offers may be recorded after geo failure")
	}
}

func TestIgnoredDriverNeverReofferedAcrossPolls(t *testing.T) {
	geo := &fakeGeo{}
	dir := &fakeDirectory{profiles: map[types.ID]*driver.Profile{}}
	hit, profile := eligibleHit("d1", 800)
	geo.hits = []location.DriverDistance{hit}
	dir.profiles["d1"] = profile
	svc, _, _, _, _ := newTestDispatch(geo, dir)
	ctx := context.Background()

	if err := svc.Ignore(ctx, "t1", "d1"); err != nil {
		t.Fatalf("Ignore: %v", err)
	}
	for i := 0; i < 3; i++ {
		eligible, err := svc.EligibleCandidates(ctx, Request{
			TripID: "t1", ZoneID: "z1", Type: trip.TypeRide,
			Pickup: types.Point{Lat: 23.78, Lng: 90.40}, RadiusMeters: 5000,
		})
		if err != nil {
			t.Fatalf("EligibleCandidates: %v", err)
		}
		if len(eligible) != 0 {
			t.Fatalf("ignored driver reappeared on poll %d", i)
		}
	}
}

func TestReopenClearsIgnoresAndFansOutAgain(t *testing.T) {
	geo := &fakeGeo{}
	dir := &fakeDirectory{profiles: map[types.ID]*driver.Profile{}}
	hit, profile := eligibleHit("d1", 800)
	geo.hits = []location.DriverDistance{hit}
	dir.profiles["d1"] = profile
	svc, offers, ignores, _, bridge := newTestDispatch(geo, dir)
	ctx := context.Background()

	// The only nearby driver declined, so a plain dispatch reaches nobody.
	if err := svc.Ignore(ctx, "t1", "d1"); err != nil {
		t.Fatalf("Ignore: %v", err)
	}
	rec, err := svc.Dispatch(ctx, pendingRide())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(rec.DriverIDs) != 0 {
		t.Fatalf("declined driver must not be offered, got %v", rec.DriverIDs)
	}

	rec, err = svc.Reopen(ctx, pendingRide())
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if len(ignores.cleared) != 1 || ignores.cleared[0] != "t1" {
		t.Fatalf("ignore records not cleared: %v", ignores.cleared)
	}
	if len(rec.DriverIDs) != 1 || rec.DriverIDs[0] != "d1" {
		t.Fatalf("reopened request should reach the driver again, got %v", rec.DriverIDs)
	}
	if len(offers.recorded["t1"]) != 1 {
		t.Fatalf("offer record not written after reopen")
	}
	if len(bridge.offered["t1"]) != 1 {
		t.Fatalf("bridge not notified after reopen")
	}
}
