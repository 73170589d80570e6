// README: Customer-facing trip handlers: request, status, cancel.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartline/internal/http/middleware"
	"smartline/internal/modules/dispatch"
	"smartline/internal/modules/trip"
	"smartline/internal/types"
)

type TripHandler struct {
	trips    *trip.Service
	dispatch *dispatch.Service
	log      *zap.Logger
}

func NewTripHandler(trips *trip.Service, disp *dispatch.Service, log *zap.Logger) *TripHandler {
	return &TripHandler{trips: trips, dispatch: disp, log: log}
}

type createTripReq struct {
	Type            string  `json:"type"`
	ZoneID          string  `json:"zone_id"`
	VehicleCategory *string `json:"vehicle_category"`
	PickupLat       float64 `json:"pickup_lat"`
	PickupLng       float64 `json:"pickup_lng"`
	DestLat         float64 `json:"dest_lat"`
	DestLng         float64 `json:"dest_lng"`
	PickupAddress   string  `json:"pickup_address"`
	DestAddress     string  `json:"dest_address"`
	Passengers      int     `json:"passengers"`
	Luggage         int     `json:"luggage"`
	TravelDate      string  `json:"travel_date"` // RFC3339, travel tier only
}

// Create submits a trip request and triggers the first dispatch attempt. A
// dispatch failure is logged but does not fail the creation: the request stays
// pending and the poll channel or the next sweep picks it up.
func (h *TripHandler) Create(c *gin.Context) {
	var req createTripReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	cmd := trip.CreateCommand{
		CustomerID:    types.ID(middleware.CallerUID(c)),
		ZoneID:        types.ID(req.ZoneID),
		Type:          trip.Type(req.Type),
		Pickup:        types.Point{Lat: req.PickupLat, Lng: req.PickupLng},
		Destination:   types.Point{Lat: req.DestLat, Lng: req.DestLng},
		PickupAddress: req.PickupAddress,
		DestAddress:   req.DestAddress,
		Passengers:    req.Passengers,
		Luggage:       req.Luggage,
	}
	if req.VehicleCategory != nil && *req.VehicleCategory != "" {
		cat := types.ID(*req.VehicleCategory)
		cmd.VehicleCategory = &cat
	}
	if req.TravelDate != "" {
		at, err := time.Parse(time.RFC3339, req.TravelDate)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid travel_date")
			return
		}
		cmd.TravelDate = &at
	}

	t, err := h.trips.Create(c.Request.Context(), cmd)
	if err != nil {
		writeTripError(c, err)
		return
	}

	if _, err := h.dispatch.Dispatch(c.Request.Context(), t); err != nil {
		h.log.Error("initial dispatch failed",
			zap.String("trip_id", string(t.ID)), zap.Error(err))
	}

	writeJSON(c, http.StatusCreated, viewOf(t))
}

func (h *TripHandler) Get(c *gin.Context) {
	t, err := h.trips.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeTripError(c, err)
		return
	}
	if string(t.CustomerID) != middleware.CallerUID(c) {
		writeError(c, http.StatusForbidden, "not your trip")
		return
	}
	v := viewOf(t)
	v.OTP = t.OTP
	writeJSON(c, http.StatusOK, v)
}

type cancelTripReq struct {
	Reason string `json:"reason"`
}

func (h *TripHandler) Cancel(c *gin.Context) {
	var req cancelTripReq
	_ = c.ShouldBindJSON(&req)

	t, err := h.trips.Cancel(c.Request.Context(), trip.CancelCommand{
		TripID:    types.ID(c.Param("id")),
		ActorType: "customer",
		ActorID:   types.ID(middleware.CallerUID(c)),
		Reason:    req.Reason,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOf(t))
}
