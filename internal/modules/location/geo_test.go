package location

import (
	"math"
	"testing"

	"smartline/internal/types"
)

func TestHaversineMeters(t *testing.T) {
	cases := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		want                   float64 // meters
		tolerance              float64
	}{
		{"zero distance", 23.7808, 90.4067, 23.7808, 90.4067, 0, 0.001},
		{"dhaka hatirjheel to banani", 23.7808, 90.4067, 23.7937, 90.4066, 1434, 20},
		{"one degree latitude", 0, 0, 1, 0, 111195, 100},
		{"antipodal-ish", 0, 0, 0, 180, math.Pi * earthRadiusMeters, 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := haversineMeters(tc.lat1, tc.lng1, tc.lat2, tc.lng2)
			if math.Abs(got-tc.want) > tc.tolerance {
				t.Fatalf("haversineMeters = %.1f, want %.1f (±%.1f)", got, tc.want, tc.tolerance)
			}
		})
	}
}

func TestHaversineSymmetry(t *testing.T) {
	ab := haversineMeters(23.78, 90.40, 23.81, 90.41)
	ba := haversineMeters(23.81, 90.41, 23.78, 90.40)
	if math.Abs(ab-ba) > 1e-9 {
		t.Fatalf("distance not symmetric: %f vs %f", ab, ba)
	}
}

func TestWithinRadiusStrictBoundary(t *testing.T) {
	origin := types.Point{Lat: 0, Lng: 0}

	// ~111.195 m per 0.001 degree of latitude at the equator.
	inside := DriverDistance{DriverID: "in", Position: types.Point{Lat: 0.0008, Lng: 0}}
	outside := DriverDistance{DriverID: "out", Position: types.Point{Lat: 0.0012, Lng: 0}}
	onEdge := DriverDistance{DriverID: "edge", Position: types.Point{Lat: 0, Lng: 0}}

	radius := haversineMeters(0, 0, 0.0012, 0) // exactly the outside driver's distance

	got := withinRadius(origin.Lat, origin.Lng, []DriverDistance{outside, inside, onEdge}, radius)
	if len(got) != 2 {
		t.Fatalf("expected 2 drivers strictly inside, got %d", len(got))
	}
	for _, d := range got {
		if d.DriverID == "out" {
			t.Fatalf("driver exactly on the boundary must be excluded")
		}
	}
	if got[0].DriverID != "edge" {
		t.Fatalf("results not sorted nearest first: %v", got)
	}
}

func TestWithinRadiusCap(t *testing.T) {
	var candidates []DriverDistance
	for i := 0; i < MaxCandidates+25; i++ {
		candidates = append(candidates, DriverDistance{
			DriverID: types.ID(string(rune('a' + i%26))),
			Position: types.Point{Lat: float64(i) * 0.00001, Lng: 0},
		})
	}
	got := withinRadius(0, 0, candidates, 100000)
	if len(got) != MaxCandidates {
		t.Fatalf("expected cap at %d, got %d", MaxCandidates, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].DistanceMeters < got[i-1].DistanceMeters {
			t.Fatalf("results not ascending at index %d", i)
		}
	}
}

func TestSortByDistance(t *testing.T) {
	items := []DriverDistance{
		{DriverID: "c", DistanceMeters: 300},
		{DriverID: "a", DistanceMeters: 100},
		{DriverID: "b", DistanceMeters: 200},
	}
	sortByDistance(items, func(d DriverDistance) float64 { return d.DistanceMeters })
	want := []types.ID{"a", "b", "c"}
	for i, w := range want {
		if items[i].DriverID != w {
			t.Fatalf("position %d = %s, want %s", i, items[i].DriverID, w)
		}
	}
}

func TestCellForIsStable(t *testing.T) {
	p := types.Point{Lat: 23.7808, Lng: 90.4067}
	a := cellFor(p)
	b := cellFor(p)
	if a != b {
		t.Fatalf("cell must be deterministic: %s vs %s", a, b)
	}
	if len(a) != cellPrecision {
		t.Fatalf("cell length = %d, want %d", len(a), cellPrecision)
	}
}
