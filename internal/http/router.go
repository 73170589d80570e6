// README: HTTP router: public, driver, customer, admin, and internal routes.
package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartline/internal/config"
	"smartline/internal/http/handlers"
	"smartline/internal/http/middleware"
	"smartline/internal/infra"
	"smartline/internal/modules/dispatch"
	"smartline/internal/modules/driver"
	"smartline/internal/modules/location"
	"smartline/internal/modules/trip"
)

type RouterDeps struct {
	Trips     *trip.Service
	Dispatch  *dispatch.Service
	Drivers   *driver.Service
	Locations *location.Service
	Verifier  infra.TokenVerifier
	Config    config.Config
	Log       *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	tripHandler := handlers.NewTripHandler(deps.Trips, deps.Dispatch, deps.Log)
	driverHandler := handlers.NewDriverHandler(
		deps.Trips, deps.Dispatch, deps.Drivers, deps.Locations,
		deps.Config.Dispatch, deps.Config.Quota, deps.Log,
	)
	internalHandler := handlers.NewInternalHandler(deps.Trips, deps.Drivers, deps.Locations, deps.Log)
	adminHandler := handlers.NewAdminHandler(deps.Drivers, deps.Dispatch, deps.Trips)

	r.GET("/health", internalHandler.Health)

	customer := r.Group("/api/customer", middleware.Auth(deps.Verifier), middleware.RequireRole("customer"))
	{
		customer.POST("/ride/request", tripHandler.Create)
		customer.GET("/ride/:id", tripHandler.Get)
		customer.POST("/ride/:id/cancel", tripHandler.Cancel)
	}

	drv := r.Group("/api/driver", middleware.Auth(deps.Verifier), middleware.RequireRole("driver"))
	{
		drv.GET("/ride/pending-ride-list", driverHandler.PendingList)
		drv.POST("/ride/accept", driverHandler.Accept)
		drv.POST("/ride/ignore", driverHandler.Ignore)
		drv.POST("/ride/start", driverHandler.Start)
		drv.POST("/ride/complete", driverHandler.Complete)
		drv.POST("/ride/cancel", driverHandler.Cancel)
		drv.POST("/ride/confirm-return", driverHandler.ConfirmReturn)
		drv.POST("/availability", driverHandler.SetAvailability)
		drv.POST("/location", driverHandler.Heartbeat)
		drv.POST("/travel/request", driverHandler.RequestTravel)
		drv.POST("/fcm-token", driverHandler.RegisterFCMToken)
	}

	admin := r.Group("/api/admin", middleware.Auth(deps.Verifier), middleware.RequireRole("admin"))
	{
		admin.POST("/travel/decide", adminHandler.DecideTravel)
		admin.POST("/ride/redispatch", adminHandler.Redispatch)
		admin.GET("/eligible-drivers", adminHandler.EligibleDrivers)
	}

	internal := r.Group("/api/internal", middleware.RequireAPIKey(deps.Config.Internal.APIKey))
	{
		internal.POST("/ride/assign-driver", internalHandler.AssignDriver)
		internal.POST("/events/:event", internalHandler.Event)
		internal.GET("/health", internalHandler.Health)
	}

	return r
}
