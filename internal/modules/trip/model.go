// README: Trip aggregate, lifecycle states, and the transition table.
package trip

import (
	"time"

	"smartline/internal/types"
)

type Type string

const (
	TypeRide   Type = "ride_request"
	TypeParcel Type = "parcel"
	TypeTravel Type = "travel"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusReturning Status = "returning"
	StatusReturned  Status = "returned"
)

// Trip is the dispatch view of a trip request. driver_id is non-nil iff the
// status is accepted, ongoing, or completed.
type Trip struct {
	ID              types.ID
	CustomerID      types.ID
	DriverID        *types.ID
	VehicleCategory *types.ID // nil means any category is acceptable
	ZoneID          types.ID
	Type            Type
	Status          Status
	Version         int
	Pickup          types.Point
	Destination     types.Point
	PickupAddress   string
	DestAddress     string
	DropPoint       *types.Point
	EstimatedFare   types.Money
	ActualFare      *types.Money
	OTP             string
	CreatedAt       time.Time
	DispatchedAt    *time.Time
	AcceptedAt      *time.Time

	// Travel-tier booking metadata, carried on outbound events only.
	Passengers int
	Luggage    int
	TravelDate *time.Time
}

// StatusLog is one append-only row per transition.
type StatusLog struct {
	ID         int64
	TripID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the trip state flow as code. Returning/returned
// applies to parcels only; the store enforces that alongside actor checks.
var AllowedTransitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusCancelled, StatusExpired},
	StatusAccepted:  {StatusOngoing, StatusCancelled},
	StatusOngoing:   {StatusCompleted, StatusCancelled},
	StatusCancelled: {StatusReturning},
	StatusReturning: {StatusReturned},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status ends the active lifecycle of a trip.
// Cancelled is terminal for rides; a parcel may still enter the return flow.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusReturned:
		return true
	}
	return false
}

// Travel reports whether the trip belongs to the VIP long-distance tier.
func (t *Trip) Travel() bool {
	return t.Type == TypeTravel
}

// Outcome is the result of an acceptance attempt.
type Outcome string

const (
	OutcomeAssigned     Outcome = "assigned"
	OutcomeAlreadyTaken Outcome = "already_taken"
	OutcomeIneligible   Outcome = "ineligible"
)
