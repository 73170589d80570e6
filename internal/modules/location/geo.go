// Package location — geo.go contains pure geographic computation helpers.
package location

import "math"

const earthRadiusMeters = 6371000.0

// MaxCandidates bounds any proximity query result.
const MaxCandidates = 50

// haversineMeters returns the great-circle distance in meters between two
// points specified in decimal degrees.
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// sortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func sortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}

// withinRadius re-measures every candidate against the origin and keeps those
// strictly inside the radius, ascending by distance, capped at MaxCandidates.
// The strict < keeps the boundary deterministic regardless of how coarsely the
// underlying index matched.
func withinRadius(originLat, originLng float64, candidates []DriverDistance, radiusMeters float64) []DriverDistance {
	kept := candidates[:0]
	for _, c := range candidates {
		d := haversineMeters(originLat, originLng, c.Position.Lat, c.Position.Lng)
		if d < radiusMeters {
			c.DistanceMeters = d
			kept = append(kept, c)
		}
	}
	sortByDistance(kept, func(d DriverDistance) float64 { return d.DistanceMeters })
	if len(kept) > MaxCandidates {
		kept = kept[:MaxCandidates]
	}
	return kept
}

func validCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
