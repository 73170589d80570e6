// README: Driver-facing handlers: pending list, accept, ignore, lifecycle, presence.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartline/internal/config"
	"smartline/internal/http/middleware"
	"smartline/internal/modules/dispatch"
	"smartline/internal/modules/driver"
	"smartline/internal/modules/location"
	"smartline/internal/modules/trip"
	"smartline/internal/types"
)

type DriverHandler struct {
	trips     *trip.Service
	dispatch  *dispatch.Service
	drivers   *driver.Service
	locations *location.Service
	cfg       config.DispatchConfig
	quota     config.QuotaConfig
	log       *zap.Logger
}

func NewDriverHandler(
	trips *trip.Service,
	disp *dispatch.Service,
	drivers *driver.Service,
	locations *location.Service,
	cfg config.DispatchConfig,
	quota config.QuotaConfig,
	log *zap.Logger,
) *DriverHandler {
	return &DriverHandler{
		trips: trips, dispatch: disp, drivers: drivers, locations: locations,
		cfg: cfg, quota: quota, log: log,
	}
}

// PendingList is the authoritative pull channel: it re-evaluates the same
// predicates as push dispatch, so a driver who missed every notification can
// still see the eligible backlog for their zone.
func (h *DriverHandler) PendingList(c *gin.Context) {
	driverID := types.ID(middleware.CallerUID(c))

	zoneID := c.GetHeader("zoneId")
	if zoneID == "" {
		writeError(c, http.StatusBadRequest, "zoneId header is required")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid offset")
		return
	}

	profile, err := h.drivers.Get(c.Request.Context(), driverID)
	if err != nil {
		writeTripError(c, err)
		return
	}
	// Offline or unapproved drivers get an empty list, not an error. A driver
	// on an active ride keeps polling: ride requests are hidden by the quota
	// predicates below, but parcel follow-ups may still surface.
	if !profile.Online || !profile.Active || profile.Availability == driver.AvailabilityOffline {
		writeJSON(c, http.StatusOK, gin.H{"trips": []tripView{}})
		return
	}

	pos, err := h.locations.LastKnown(c.Request.Context(), driverID)
	if err != nil {
		writeError(c, http.StatusConflict, "no known location; send a heartbeat first")
		return
	}

	trips, err := h.trips.PendingForDriver(c.Request.Context(), trip.PendingQuery{
		DriverID:           driverID,
		ZoneID:             types.ID(zoneID),
		Categories:         profile.Categories,
		Location:           pos.Position,
		RadiusMeters:       h.cfg.RadiusMetersFor(false),
		RideCount:          profile.RideCount,
		ParcelCount:        profile.ParcelCount,
		ParcelFollowStatus: h.quota.ParcelFollowStatus,
		MaxParcelAccept:    h.quota.MaxParcelAcceptLimit,
		MaxParcelEnabled:   h.quota.MaxParcelLimitEnabled,
		Limit:              limit,
		Offset:             offset,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}

	views := make([]tripView, len(trips))
	for i, t := range trips {
		views[i] = viewOf(t)
	}
	writeJSON(c, http.StatusOK, gin.H{"trips": views})
}

type acceptReq struct {
	TripID string `json:"trip_id"`
}

// Accept runs the exclusive assignment. Losing is a normal response, not an
// error: the client shows "already taken" and moves on.
func (h *DriverHandler) Accept(c *gin.Context) {
	var req acceptReq
	if err := c.ShouldBindJSON(&req); err != nil || req.TripID == "" {
		writeError(c, http.StatusBadRequest, "trip_id is required")
		return
	}

	t, outcome, err := h.trips.Accept(c.Request.Context(), trip.AcceptCommand{
		TripID:   types.ID(req.TripID),
		DriverID: types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	if outcome != trip.OutcomeAssigned {
		writeJSON(c, http.StatusOK, gin.H{"outcome": outcome})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"outcome": outcome, "trip": viewOf(t)})
}

// Ignore records a decline; the request never reaches this driver again.
func (h *DriverHandler) Ignore(c *gin.Context) {
	var req acceptReq
	if err := c.ShouldBindJSON(&req); err != nil || req.TripID == "" {
		writeError(c, http.StatusBadRequest, "trip_id is required")
		return
	}
	if err := h.dispatch.Ignore(c.Request.Context(),
		types.ID(req.TripID), types.ID(middleware.CallerUID(c))); err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ignored": true})
}

type startReq struct {
	TripID string `json:"trip_id"`
	OTP    string `json:"otp"`
}

func (h *DriverHandler) Start(c *gin.Context) {
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil || req.TripID == "" {
		writeError(c, http.StatusBadRequest, "trip_id is required")
		return
	}
	t, err := h.trips.Start(c.Request.Context(), trip.StartCommand{
		TripID:   types.ID(req.TripID),
		DriverID: types.ID(middleware.CallerUID(c)),
		OTP:      req.OTP,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOf(t))
}

type completeReq struct {
	TripID  string   `json:"trip_id"`
	DropLat *float64 `json:"drop_lat"`
	DropLng *float64 `json:"drop_lng"`
}

func (h *DriverHandler) Complete(c *gin.Context) {
	var req completeReq
	if err := c.ShouldBindJSON(&req); err != nil || req.TripID == "" {
		writeError(c, http.StatusBadRequest, "trip_id is required")
		return
	}
	cmd := trip.CompleteCommand{
		TripID:   types.ID(req.TripID),
		DriverID: types.ID(middleware.CallerUID(c)),
	}
	if req.DropLat != nil && req.DropLng != nil {
		cmd.DropPoint = &types.Point{Lat: *req.DropLat, Lng: *req.DropLng}
	}
	t, err := h.trips.Complete(c.Request.Context(), cmd)
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOf(t))
}

type driverCancelReq struct {
	TripID string `json:"trip_id"`
	Reason string `json:"reason"`
}

func (h *DriverHandler) Cancel(c *gin.Context) {
	var req driverCancelReq
	if err := c.ShouldBindJSON(&req); err != nil || req.TripID == "" {
		writeError(c, http.StatusBadRequest, "trip_id is required")
		return
	}
	t, err := h.trips.Cancel(c.Request.Context(), trip.CancelCommand{
		TripID:    types.ID(req.TripID),
		ActorType: "driver",
		ActorID:   types.ID(middleware.CallerUID(c)),
		Reason:    req.Reason,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOf(t))
}

// ConfirmReturn closes a parcel return with the sender's OTP.
func (h *DriverHandler) ConfirmReturn(c *gin.Context) {
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil || req.TripID == "" {
		writeError(c, http.StatusBadRequest, "trip_id is required")
		return
	}
	t, err := h.trips.ConfirmReturned(c.Request.Context(), trip.ReturnCommand{
		TripID:   types.ID(req.TripID),
		DriverID: types.ID(middleware.CallerUID(c)),
		OTP:      req.OTP,
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOf(t))
}

type availabilityReq struct {
	Status string `json:"status"`
}

func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	driverID := types.ID(middleware.CallerUID(c))
	if err := h.drivers.SetAvailability(c.Request.Context(), driverID,
		driver.Availability(req.Status)); err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": req.Status})
}

type heartbeatReq struct {
	ZoneID string  `json:"zone_id"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

func (h *DriverHandler) Heartbeat(c *gin.Context) {
	var req heartbeatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.locations.Update(c.Request.Context(), location.Heartbeat{
		DriverID: types.ID(middleware.CallerUID(c)),
		ZoneID:   types.ID(req.ZoneID),
		Position: types.Point{Lat: req.Lat, Lng: req.Lng},
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

// RequestTravel submits the driver for long-distance tier approval.
func (h *DriverHandler) RequestTravel(c *gin.Context) {
	driverID := types.ID(middleware.CallerUID(c))
	if err := h.drivers.RequestTravel(c.Request.Context(), driverID); err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"travel_status": driver.TravelRequested})
}

type fcmTokenReq struct {
	Token string `json:"token"`
}

func (h *DriverHandler) RegisterFCMToken(c *gin.Context) {
	var req fcmTokenReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		writeError(c, http.StatusBadRequest, "token is required")
		return
	}
	driverID := types.ID(middleware.CallerUID(c))
	if err := h.drivers.SetFCMToken(c.Request.Context(), driverID, req.Token); err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}
