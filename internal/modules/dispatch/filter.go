// README: Eligibility filter: ordered, short-circuiting predicates per candidate.
package dispatch

import (
	"smartline/internal/config"
	"smartline/internal/modules/driver"
	"smartline/internal/modules/trip"
	"smartline/internal/types"
)

// Request is the dispatch view of a trip: just the fields the predicates read.
type Request struct {
	TripID          types.ID
	ZoneID          types.ID
	Type            trip.Type
	VehicleCategory *types.ID
	Pickup          types.Point
	RadiusMeters    float64
}

// Filter evaluates candidates against a request. Predicate order matters and is
// part of the contract: availability, zone, category (or the travel gate),
// ignores, quota, distance. The first failing predicate names the rejection.
type Filter struct {
	quota    config.QuotaConfig
	vipLevel int
}

func NewFilter(quota config.QuotaConfig, vipLevel int) *Filter {
	return &Filter{quota: quota, vipLevel: vipLevel}
}

// Eligible runs the predicate chain for one candidate. The ignored set is the
// request's durable ignore records, resolved once per request by the caller.
func (f *Filter) Eligible(c Candidate, req Request, ignored map[types.ID]bool) (bool, Rejection) {
	p := c.Profile
	if p == nil {
		return false, RejectUnavailable
	}

	if p.Availability != driver.AvailabilityAvailable || !p.Online || !p.Active {
		return false, RejectUnavailable
	}

	if p.ZoneID != req.ZoneID {
		return false, RejectZoneMismatch
	}

	if req.Type == trip.TypeTravel {
		// Hard gate: the long-distance tier needs an elevated vehicle class AND
		// an admin-approved enrolment. Proximity never overrides it.
		if p.CategoryLevel < f.vipLevel || p.TravelStatus != driver.TravelApproved {
			return false, RejectTravelUnapproved
		}
	} else if req.VehicleCategory != nil && !p.ServesCategory(*req.VehicleCategory) {
		return false, RejectCategory
	}

	if ignored[c.DriverID] {
		return false, RejectIgnored
	}

	if ok := f.quotaAllows(p, req.Type); !ok {
		return false, RejectQuota
	}

	if c.DistanceMeters >= req.RadiusMeters {
		return false, RejectTooFar
	}

	return true, ""
}

// quotaAllows applies the ride/parcel mixing rule. A driver carrying a ride
// sees parcels only when follow-ups are enabled; parcel volume is capped when
// the operator configures a limit. Ride-type requests need a clear ride slot.
func (f *Filter) quotaAllows(p *driver.Profile, t trip.Type) bool {
	if t == trip.TypeParcel {
		if p.RideCount >= 1 && !f.quota.ParcelFollowStatus {
			return false
		}
		if f.quota.MaxParcelLimitEnabled && p.ParcelCount >= f.quota.MaxParcelAcceptLimit {
			return false
		}
		return true
	}
	return p.RideCount < 1
}

// Apply filters a distance-ordered candidate slice, preserving order.
func (f *Filter) Apply(candidates []Candidate, req Request, ignored map[types.ID]bool) []Candidate {
	eligible := candidates[:0]
	for _, c := range candidates {
		if ok, _ := f.Eligible(c, req, ignored); ok {
			eligible = append(eligible, c)
		}
	}
	return eligible
}
