// README: Realtime bridge: outbound dispatch events over Redis pub/sub and FCM.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"smartline/internal/modules/trip"
	"smartline/internal/types"
)

const channelPrefix = "dispatch:"

// pusher is the FCM surface; *messaging.Client satisfies it.
type pusher interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// tokenResolver maps driver IDs to registered device tokens.
type tokenResolver interface {
	FCMTokens(ctx context.Context, ids []types.ID) (map[types.ID]string, error)
}

// Bridge publishes dispatch events to the external realtime service over Redis
// pub/sub and pushes FCM data messages to driver devices. Every method is
// best-effort: failures are logged and swallowed, because the realtime layer
// must never roll back a committed assignment or transition.
type Bridge struct {
	redis  *redis.Client
	push   pusher
	tokens tokenResolver
	log    *zap.Logger
}

func NewBridge(r *redis.Client, push pusher, tokens tokenResolver, log *zap.Logger) *Bridge {
	return &Bridge{redis: r, push: push, tokens: tokens, log: log}
}

type eventPayload struct {
	Event           string      `json:"event"`
	TripID          string      `json:"trip_id"`
	ZoneID          string      `json:"zone_id"`
	Type            string      `json:"type"`
	Status          string      `json:"status"`
	Pickup          types.Point `json:"pickup"`
	Destination     types.Point `json:"destination"`
	VehicleCategory *string     `json:"vehicle_category,omitempty"`
	DriverID        *string     `json:"driver_id,omitempty"`
	EstimatedFare   int64       `json:"estimated_fare"`
	Currency        string      `json:"currency"`
	Reason          string      `json:"reason,omitempty"`
	Passengers      int         `json:"passengers,omitempty"`
	Luggage         int         `json:"luggage,omitempty"`
	TravelDate      *time.Time  `json:"travel_date,omitempty"`
	OfferedDrivers  []types.ID  `json:"offered_drivers,omitempty"`
	At              time.Time   `json:"at"`
}

func payloadFor(event string, t *trip.Trip) eventPayload {
	p := eventPayload{
		Event:         event,
		TripID:        string(t.ID),
		ZoneID:        string(t.ZoneID),
		Type:          string(t.Type),
		Status:        string(t.Status),
		Pickup:        t.Pickup,
		Destination:   t.Destination,
		EstimatedFare: t.EstimatedFare.Amount,
		Currency:      t.EstimatedFare.Currency,
		At:            time.Now().UTC(),
	}
	if t.VehicleCategory != nil {
		c := string(*t.VehicleCategory)
		p.VehicleCategory = &c
	}
	if t.DriverID != nil {
		d := string(*t.DriverID)
		p.DriverID = &d
	}
	if t.Travel() {
		p.Passengers = t.Passengers
		p.Luggage = t.Luggage
		p.TravelDate = t.TravelDate
	}
	return p
}

func (b *Bridge) publish(ctx context.Context, event string, p eventPayload) {
	body, err := json.Marshal(p)
	if err != nil {
		b.log.Error("marshal event payload", zap.String("event", event), zap.Error(err))
		return
	}
	if err := b.redis.Publish(ctx, channelPrefix+event, body).Err(); err != nil {
		b.log.Warn("realtime publish failed",
			zap.String("event", event),
			zap.String("trip_id", p.TripID),
			zap.Error(err),
		)
	}
}

// OfferCreated announces a new pending trip to the offered drivers: one pub/sub
// event for the realtime service plus one FCM data message per device.
func (b *Bridge) OfferCreated(ctx context.Context, t *trip.Trip, driverIDs []types.ID) {
	p := payloadFor("ride.created", t)
	p.OfferedDrivers = driverIDs
	b.publish(ctx, "ride.created", p)
	b.pushToDrivers(ctx, t, driverIDs, "new_trip", "New ride request",
		fmt.Sprintf("Pickup nearby — estimated fare %.2f", float64(t.EstimatedFare.Amount)/100))
}

// TripAssigned tells the winner's customer and stops the losers' clients.
func (b *Bridge) TripAssigned(ctx context.Context, t *trip.Trip, losers []types.ID) {
	b.publish(ctx, "ride.accepted", payloadFor("ride.accepted", t))
	b.pushToDrivers(ctx, t, losers, "trip_taken", "Ride taken",
		"Another driver accepted this request")
}

// TripEvent publishes a lifecycle event with no driver fan-out.
func (b *Bridge) TripEvent(ctx context.Context, event string, t *trip.Trip) {
	b.publish(ctx, event, payloadFor(event, t))
}

func (b *Bridge) NoDrivers(ctx context.Context, t *trip.Trip) {
	b.publish(ctx, "ride.no_drivers", payloadFor("ride.no_drivers", t))
}

// AdminEscalation raises an operator-facing alert for stuck travel requests.
func (b *Bridge) AdminEscalation(ctx context.Context, t *trip.Trip, reason string) {
	p := payloadFor("admin.escalation", t)
	p.Reason = reason
	b.publish(ctx, "admin.escalation", p)
}

func (b *Bridge) pushToDrivers(ctx context.Context, t *trip.Trip, driverIDs []types.ID, msgType, title, body string) {
	if b.push == nil || len(driverIDs) == 0 {
		return
	}
	tokens, err := b.tokens.FCMTokens(ctx, driverIDs)
	if err != nil {
		b.log.Warn("resolving device tokens failed",
			zap.String("trip_id", string(t.ID)), zap.Error(err))
		return
	}
	for driverID, token := range tokens {
		msg := &messaging.Message{
			Token: token,
			Data: map[string]string{
				"type":           msgType,
				"trip_id":        string(t.ID),
				"trip_type":      string(t.Type),
				"pickup_lat":     strconv.FormatFloat(t.Pickup.Lat, 'f', 6, 64),
				"pickup_lng":     strconv.FormatFloat(t.Pickup.Lng, 'f', 6, 64),
				"dest_lat":       strconv.FormatFloat(t.Destination.Lat, 'f', 6, 64),
				"dest_lng":       strconv.FormatFloat(t.Destination.Lng, 'f', 6, 64),
				"estimated_fare": strconv.FormatInt(t.EstimatedFare.Amount, 10),
			},
			Notification: &messaging.Notification{
				Title: title,
				Body:  body,
			},
			Android: &messaging.AndroidConfig{
				Priority: "high",
			},
		}
		if _, err := b.push.Send(ctx, msg); err != nil {
			b.log.Warn("FCM push failed",
				zap.String("trip_id", string(t.ID)),
				zap.String("driver_id", string(driverID)),
				zap.Error(err),
			)
		}
	}
}
