// README: Driver profile: availability, vehicle categories, quotas, travel tier.
package driver

import (
	"time"

	"smartline/internal/types"
)

type Availability string

const (
	AvailabilityOffline   Availability = "offline"
	AvailabilityAvailable Availability = "available"
	AvailabilityOnTrip    Availability = "on_trip"
)

// TravelStatus tracks the admin-gated long-distance tier enrolment.
type TravelStatus string

const (
	TravelNone      TravelStatus = "none"
	TravelRequested TravelStatus = "requested"
	TravelApproved  TravelStatus = "approved"
	TravelRejected  TravelStatus = "rejected"
)

// Profile is the eligibility view of one driver. Categories is the typed set of
// vehicle category IDs the driver's registered vehicle serves.
type Profile struct {
	UserID        types.ID
	ZoneID        types.ID
	Availability  Availability
	TravelStatus  TravelStatus
	CategoryLevel int
	Categories    []types.ID
	Online        bool
	Active        bool
	RideCount     int
	ParcelCount   int
	FCMToken      string
	UpdatedAt     time.Time
}

func (p *Profile) ServesCategory(cat types.ID) bool {
	for _, c := range p.Categories {
		if c == cat {
			return true
		}
	}
	return false
}
