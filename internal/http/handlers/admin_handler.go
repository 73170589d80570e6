// README: Admin handlers: travel approvals and candidate debugging.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"smartline/internal/modules/dispatch"
	"smartline/internal/modules/driver"
	"smartline/internal/modules/trip"
	"smartline/internal/types"
)

type AdminHandler struct {
	drivers  *driver.Service
	dispatch *dispatch.Service
	trips    *trip.Service
}

func NewAdminHandler(drivers *driver.Service, disp *dispatch.Service, trips *trip.Service) *AdminHandler {
	return &AdminHandler{drivers: drivers, dispatch: disp, trips: trips}
}

type travelDecisionReq struct {
	DriverID string `json:"driver_id"`
	Approve  bool   `json:"approve"`
}

func (h *AdminHandler) DecideTravel(c *gin.Context) {
	var req travelDecisionReq
	if err := c.ShouldBindJSON(&req); err != nil || req.DriverID == "" {
		writeError(c, http.StatusBadRequest, "driver_id is required")
		return
	}
	var err error
	status := driver.TravelRejected
	if req.Approve {
		status = driver.TravelApproved
		err = h.drivers.ApproveTravel(c.Request.Context(), types.ID(req.DriverID))
	} else {
		err = h.drivers.RejectTravel(c.Request.Context(), types.ID(req.DriverID))
	}
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": req.DriverID, "travel_status": status})
}

type redispatchReq struct {
	RideID string `json:"ride_id"`
}

// Redispatch re-opens a pending request every nearby driver declined: ignore
// records are wiped and a fresh fan-out runs.
func (h *AdminHandler) Redispatch(c *gin.Context) {
	var req redispatchReq
	if err := c.ShouldBindJSON(&req); err != nil || req.RideID == "" {
		writeError(c, http.StatusBadRequest, "ride_id is required")
		return
	}
	t, err := h.trips.Get(c.Request.Context(), types.ID(req.RideID))
	if err != nil {
		writeTripError(c, err)
		return
	}
	if t.Status != trip.StatusPending {
		writeTripError(c, trip.ErrStateConflict)
		return
	}
	record, err := h.dispatch.Reopen(c.Request.Context(), t)
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"ride_id":         req.RideID,
		"offered_drivers": record.DriverIDs,
	})
}

// EligibleDrivers runs the candidate pipeline ad hoc, for operator debugging of
// "why did nobody get this request".
func (h *AdminHandler) EligibleDrivers(c *gin.Context) {
	lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
	lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
	radius, err3 := strconv.ParseFloat(c.DefaultQuery("radius", "5000"), 64)
	zone := c.Query("zone")
	if err1 != nil || err2 != nil || err3 != nil || zone == "" {
		writeError(c, http.StatusBadRequest, "zone, lat, lng are required")
		return
	}

	req := dispatch.Request{
		TripID:       types.ID(c.Query("trip_id")),
		ZoneID:       types.ID(zone),
		Type:         trip.Type(c.DefaultQuery("type", string(trip.TypeRide))),
		Pickup:       types.Point{Lat: lat, Lng: lng},
		RadiusMeters: radius,
	}
	if cat := c.Query("category"); cat != "" {
		id := types.ID(cat)
		req.VehicleCategory = &id
	}

	eligible, err := h.dispatch.EligibleCandidates(c.Request.Context(), req)
	if err != nil {
		writeTripError(c, err)
		return
	}

	type hit struct {
		DriverID       string  `json:"driver_id"`
		DistanceMeters float64 `json:"distance_meters"`
	}
	out := make([]hit, len(eligible))
	for i, e := range eligible {
		out[i] = hit{DriverID: string(e.DriverID), DistanceMeters: e.DistanceMeters}
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": out})
}
