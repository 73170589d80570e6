// README: Key-authenticated callbacks from the external realtime service.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartline/internal/modules/driver"
	"smartline/internal/modules/location"
	"smartline/internal/modules/trip"
	"smartline/internal/types"
)

type InternalHandler struct {
	trips     *trip.Service
	drivers   *driver.Service
	locations *location.Service
	log       *zap.Logger
}

func NewInternalHandler(trips *trip.Service, drivers *driver.Service, locations *location.Service, log *zap.Logger) *InternalHandler {
	return &InternalHandler{trips: trips, drivers: drivers, locations: locations, log: log}
}

type assignDriverReq struct {
	RideID   string `json:"ride_id"`
	DriverID string `json:"driver_id"`
}

// AssignDriver is the realtime service's accept path: when a driver taps accept
// in the socket channel, the realtime service relays it here and the same
// exclusive assignment applies.
func (h *InternalHandler) AssignDriver(c *gin.Context) {
	var req assignDriverReq
	if err := c.ShouldBindJSON(&req); err != nil || req.RideID == "" || req.DriverID == "" {
		writeError(c, http.StatusBadRequest, "ride_id and driver_id are required")
		return
	}

	t, outcome, err := h.trips.Accept(c.Request.Context(), trip.AcceptCommand{
		TripID:   types.ID(req.RideID),
		DriverID: types.ID(req.DriverID),
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	if outcome != trip.OutcomeAssigned {
		writeJSON(c, http.StatusOK, gin.H{"success": false, "outcome": outcome})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"success": true, "outcome": outcome, "trip": viewOf(t)})
}

type internalEventReq struct {
	RideID   string `json:"ride_id"`
	DriverID string `json:"driver_id"`
	ZoneID   string `json:"zone_id"`
}

// Event ingests realtime-service observations. ride.timeout expires the trip
// through the usual compare-and-set; driver.disconnected clears presence so
// the driver stops receiving offers until the next heartbeat.
func (h *InternalHandler) Event(c *gin.Context) {
	event := c.Param("event")
	var req internalEventReq
	_ = c.ShouldBindJSON(&req)

	switch event {
	case "ride.no_drivers":
		// Already pending with no offers; nothing to mutate, keep for audit.
		h.log.Info("realtime reported no drivers", zap.String("ride_id", req.RideID))

	case "ride.timeout":
		if req.RideID == "" {
			writeError(c, http.StatusBadRequest, "ride_id is required")
			return
		}
		t, err := h.trips.Get(c.Request.Context(), types.ID(req.RideID))
		if err != nil {
			writeTripError(c, err)
			return
		}
		expired, err := h.trips.Expire(c.Request.Context(), t)
		if err != nil {
			writeTripError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, gin.H{"expired": expired})
		return

	case "driver.disconnected":
		if req.DriverID == "" {
			writeError(c, http.StatusBadRequest, "driver_id is required")
			return
		}
		ctx := c.Request.Context()
		if err := h.drivers.SetOnline(ctx, types.ID(req.DriverID), false); err != nil {
			writeTripError(c, err)
			return
		}
		if req.ZoneID != "" {
			if err := h.locations.Remove(ctx, types.ID(req.ZoneID), types.ID(req.DriverID)); err != nil {
				h.log.Warn("presence removal failed",
					zap.String("driver_id", req.DriverID), zap.Error(err))
			}
		}
		// The customer on an in-flight trip hears about the drop-off; the trip
		// itself stays put until the driver reconnects or the ride is cancelled.
		if _, err := h.trips.DriverDisconnected(ctx, types.ID(req.DriverID)); err != nil {
			h.log.Warn("disconnect notification failed",
				zap.String("driver_id", req.DriverID), zap.Error(err))
		}

	default:
		writeError(c, http.StatusBadRequest, "unknown event")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *InternalHandler) Health(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}
