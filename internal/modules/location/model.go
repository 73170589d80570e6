// README: Driver presence records and proximity query results.
package location

import (
	"time"

	"smartline/internal/types"
)

// Presence is one driver's last reported position inside a zone.
type Presence struct {
	DriverID  types.ID
	ZoneID    types.ID
	Position  types.Point
	Cell      string // geohash cell used for coarse map clustering
	UpdatedAt time.Time
}

// DriverDistance is a proximity query hit, distance measured from the query origin.
type DriverDistance struct {
	DriverID       types.ID
	Position       types.Point
	DistanceMeters float64
}
