// README: Pricing service computes fare estimates from zone rates and distance.
package pricing

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"smartline/internal/types"
)

// router returns road distance in km; nil or failing routers fall back to
// great-circle distance so pricing never blocks trip creation.
type router interface {
	DrivingRoute(ctx context.Context, origin, destination types.Point) (float64, time.Duration, error)
}

type rateStore interface {
	GetRate(ctx context.Context, zoneID, category string) (Rate, error)
}

type Service struct {
	rates  rateStore
	routes router
	log    *zap.Logger
}

func NewService(rates rateStore, routes router, log *zap.Logger) *Service {
	return &Service{rates: rates, routes: routes, log: log}
}

// Estimate prices a route for a zone. Amounts are in minor currency units.
func (s *Service) Estimate(ctx context.Context, zoneID types.ID, pickup, dest types.Point, category *types.ID) (types.Money, error) {
	cat := ""
	if category != nil {
		cat = string(*category)
	}
	rate, err := s.rates.GetRate(ctx, string(zoneID), cat)
	if err != nil {
		return types.Money{}, err
	}

	distanceKm := s.distanceKm(ctx, pickup, dest)
	amount := rate.BaseFare + int64(math.Round(distanceKm*float64(rate.PerKm)))
	if amount < rate.MinimumFare {
		amount = rate.MinimumFare
	}
	return types.Money{Amount: amount, Currency: rate.Currency}, nil
}

func (s *Service) distanceKm(ctx context.Context, pickup, dest types.Point) float64 {
	if s.routes != nil {
		km, _, err := s.routes.DrivingRoute(ctx, pickup, dest)
		if err == nil {
			return km
		}
		s.log.Warn("road distance lookup failed, using great-circle", zap.Error(err))
	}
	return greatCircleKm(pickup, dest)
}

func greatCircleKm(a, b types.Point) float64 {
	const earthRadiusKm = 6371.0
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
