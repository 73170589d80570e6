// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"smartline/internal/modules/driver"
	"smartline/internal/modules/location"
	"smartline/internal/modules/pricing"
	"smartline/internal/modules/trip"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeTripError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, trip.ErrBadRequest), errors.Is(err, trip.ErrWrongOTP),
		errors.Is(err, location.ErrInvalidPoint):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, trip.ErrNotFound), errors.Is(err, driver.ErrNotFound),
		errors.Is(err, pricing.ErrNoRate):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, trip.ErrNotAssigned):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, trip.ErrStateConflict), errors.Is(err, trip.ErrConflict),
		errors.Is(err, trip.ErrActiveTrip), errors.Is(err, driver.ErrStateConflict):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

type tripView struct {
	TripID          string  `json:"trip_id"`
	Type            string  `json:"type"`
	Status          string  `json:"status"`
	ZoneID          string  `json:"zone_id"`
	DriverID        *string `json:"driver_id,omitempty"`
	VehicleCategory *string `json:"vehicle_category,omitempty"`
	PickupLat       float64 `json:"pickup_lat"`
	PickupLng       float64 `json:"pickup_lng"`
	DestLat         float64 `json:"dest_lat"`
	DestLng         float64 `json:"dest_lng"`
	PickupAddress   string  `json:"pickup_address,omitempty"`
	DestAddress     string  `json:"dest_address,omitempty"`
	EstimatedFare   int64   `json:"estimated_fare"`
	ActualFare      *int64  `json:"actual_fare,omitempty"`
	Currency        string  `json:"currency"`

	// Set only on the owning customer's view; the driver collects the code in
	// person, never through the API.
	OTP string `json:"otp,omitempty"`
}

func viewOf(t *trip.Trip) tripView {
	v := tripView{
		TripID:        string(t.ID),
		Type:          string(t.Type),
		Status:        string(t.Status),
		ZoneID:        string(t.ZoneID),
		PickupLat:     t.Pickup.Lat,
		PickupLng:     t.Pickup.Lng,
		DestLat:       t.Destination.Lat,
		DestLng:       t.Destination.Lng,
		PickupAddress: t.PickupAddress,
		DestAddress:   t.DestAddress,
		EstimatedFare: t.EstimatedFare.Amount,
		Currency:      t.EstimatedFare.Currency,
	}
	if t.DriverID != nil {
		d := string(*t.DriverID)
		v.DriverID = &d
	}
	if t.VehicleCategory != nil {
		cat := string(*t.VehicleCategory)
		v.VehicleCategory = &cat
	}
	if t.ActualFare != nil {
		a := t.ActualFare.Amount
		v.ActualFare = &a
	}
	return v
}
