// README: Entry point; loads config, wires services, starts HTTP server and the
// timeout supervisor.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"smartline/internal/config"
	httptransport "smartline/internal/http"
	"smartline/internal/infra"
	"smartline/internal/maps"
	"smartline/internal/modules/dispatch"
	"smartline/internal/modules/driver"
	"smartline/internal/modules/location"
	"smartline/internal/modules/pricing"
	"smartline/internal/modules/trip"
	"smartline/internal/realtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		logger.Fatal("DISPATCH_FIREBASE_PROJECT_ID is required")
	}
	firebaseApp, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		logger.Fatal("firebase init", zap.Error(err))
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, firebaseApp)
	if err != nil {
		logger.Fatal("firebase auth init", zap.Error(err))
	}
	messagingClient, err := infra.NewMessagingClient(ctx, firebaseApp)
	if err != nil {
		logger.Fatal("firebase messaging init", zap.Error(err))
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("postgres init", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr, cfg.Redis.Password)
	defer func() { _ = redisClient.Close() }()

	driverStore := driver.NewStore(dbPool)
	driverSvc := driver.NewService(driverStore, logger)

	locationStore := location.NewStore(dbPool, redisClient)
	locationSvc := location.NewService(locationStore, logger)

	pricingSvc := pricing.NewService(pricing.NewStore(dbPool), nil, logger)
	if cfg.Maps.APIKey != "" {
		routeSvc, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			logger.Fatal("maps init", zap.Error(err))
		}
		pricingSvc = pricing.NewService(pricing.NewStore(dbPool), routeSvc, logger)
	}

	bridge := realtime.NewBridge(redisClient, messagingClient, driverStore, logger)

	offerStore := dispatch.NewStore(redisClient)
	ignoreStore := dispatch.NewIgnoreStore(dbPool)

	tripStore := trip.NewStore(dbPool)
	tripSvc := trip.NewService(tripStore, pricingSvc, bridge, offerStore, cfg.LiveMode, logger)

	dispatchSvc := dispatch.NewService(
		locationSvc, driverSvc, offerStore, ignoreStore, tripStore, bridge,
		cfg.Quota, cfg.Dispatch, logger,
	)
	supervisor := dispatch.NewSupervisor(tripStore, tripSvc, offerStore, bridge, cfg.Dispatch, logger)

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Trips:     tripSvc,
		Dispatch:  dispatchSvc,
		Drivers:   driverSvc,
		Locations: locationSvc,
		Verifier:  verifier,
		Config:    cfg,
		Log:       logger,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		supervisor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return server.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("shutdown", zap.Error(err))
	}
}
