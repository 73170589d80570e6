// README: Dispatch candidates and offer records.
package dispatch

import (
	"time"

	"smartline/internal/modules/driver"
	"smartline/internal/types"
)

// Candidate is one driver under consideration for a trip, with the measured
// distance from the pickup and the loaded eligibility profile.
type Candidate struct {
	DriverID       types.ID
	Position       types.Point
	DistanceMeters float64
	Profile        *driver.Profile
}

// OfferRecord tracks which drivers were offered a trip and when the fan-out
// started. It lives in Redis and is deleted once the trip resolves.
type OfferRecord struct {
	TripID       types.ID
	DriverIDs    []types.ID
	DispatchedAt time.Time
}

// Rejection names the first predicate a candidate failed, for logging and the
// eligible-drivers debug endpoint.
type Rejection string

const (
	RejectUnavailable      Rejection = "unavailable"
	RejectZoneMismatch     Rejection = "zone_mismatch"
	RejectCategory         Rejection = "category_mismatch"
	RejectTravelUnapproved Rejection = "travel_unapproved"
	RejectIgnored          Rejection = "ignored"
	RejectQuota            Rejection = "quota"
	RejectTooFar           Rejection = "too_far"
)
