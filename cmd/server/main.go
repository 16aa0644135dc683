package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/app"
	"dispatch/internal/config"
	"dispatch/internal/handler"
	"dispatch/internal/logger"
	"dispatch/internal/realtime"
	internalRedis "dispatch/internal/redis"
	"dispatch/internal/repository/postgres"
	"dispatch/internal/routing"
	"dispatch/internal/service"
)

func main() {
	cfg := config.Load()

	log := logger.New(cfg.ServiceName, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// New Relic first so the database and Redis clients can be instrumented.
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		var err error
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Error("failed to initialize new relic", logger.Error(err))
		} else {
			log.Info("new relic enabled", logger.String("app", cfg.NewRelic.AppName))
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp, log)
	if err != nil {
		log.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := app.RunMigrations(db, log); err != nil {
			log.Error("failed to run migrations", logger.Error(err))
			os.Exit(1)
		}
	}

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp, log)
	if err != nil {
		log.Error("failed to connect to redis", logger.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()

	srv, err := wireServer(db, redisClient, nrApp, cfg, log)
	if err != nil {
		log.Error("failed to wire server", logger.Error(err))
		os.Exit(1)
	}
	srv.start()

	go func() {
		log.Info("starting server", logger.String("port", cfg.Server.Port))
		if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	srv.shutdown(shutdownCtx)
	log.Info("server exited")
}

// server bundles the HTTP server with the background pieces it owns.
type server struct {
	http    *http.Server
	tracker *service.PresenceTracker
	tasks   *service.TaskQueue
	broker  *realtime.RedisBroker
	hub     *realtime.Hub
	sink    *realtime.KafkaSink
	log     logger.ILogger

	stopBroker context.CancelFunc
}

func (s *server) start() {
	s.tasks.Start()

	if s.broker != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopBroker = cancel
		go func() {
			if err := s.broker.Run(ctx, s.hub); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("event broker stopped", logger.Error(err))
			}
		}()
	}
}

func (s *server) shutdown(ctx context.Context) {
	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Error("server forced to shutdown", logger.Error(err))
	}
	if err := s.tasks.Close(ctx); err != nil {
		s.log.Warning("task queue did not drain", logger.Error(err))
	}
	s.tracker.Stop()
	if s.stopBroker != nil {
		s.stopBroker()
	}
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			s.log.Warning("failed to close kafka sink", logger.Error(err))
		}
	}
}

// wireServer wires all dependencies and returns the server.
func wireServer(db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config, log logger.ILogger) (*server, error) {
	// Redis stores.
	locationStore := internalRedis.NewLocationStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient, cfg.Dispatch.BookingLockTTL)
	cacheStore := internalRedis.NewCacheStore(redisClient, cfg.Dispatch.ETACacheTTL)

	// Repositories.
	bookingRepo := postgres.NewBookingRepository(db)
	presenceRepo := postgres.NewPresenceRepository(db)
	observerRepo := postgres.NewObserverRepository(db)

	// Event bus.
	hub := realtime.NewHub(log)
	var broker realtime.Broker
	var redisBroker *realtime.RedisBroker
	if cfg.Redis.PubSub {
		redisBroker = realtime.NewRedisBroker(redisClient, log)
		broker = redisBroker
	}
	var sinks []realtime.Sink
	var kafkaSink *realtime.KafkaSink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink = realtime.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sinks = append(sinks, kafkaSink)
		log.Info("kafka event sink enabled", logger.Strings("brokers", cfg.Kafka.Brokers), logger.String("topic", cfg.Kafka.Topic))
	}
	bus := realtime.NewBus(hub, broker, log, sinks...)

	// Routing and travel time.
	var routes service.RouteProvider
	var eta routing.Predictor = routing.StraightLineETA{SpeedKmh: cfg.Dispatch.FallbackSpeedKmh}
	if cfg.Maps.APIKey != "" {
		client, err := routing.NewGoogleClient(cfg.Maps.APIKey)
		if err != nil {
			return nil, err
		}
		routes = routing.NewGoogleProvider(client, cfg.Maps.Region)
		eta = routing.FallbackETA{
			Primary:  routing.NewGoogleETA(client),
			Fallback: eta,
			Log:      log,
		}
	} else {
		log.Warning("maps api key not set, proximity alerts disabled and eta is straight-line")
	}
	eta = routing.NewCachedETA(eta, cacheStore)

	// Services.
	tracker := service.NewPresenceTracker(presenceRepo, bookingRepo, locationStore, cacheStore, bus, log, service.PresenceOptions{
		StaleAfter: cfg.Dispatch.StaleAfter,
	})
	scorer := service.NewScorer(tracker, eta, log)
	tasks := service.NewTaskQueue(service.TaskQueueConfig{
		Workers:     cfg.Dispatch.TaskWorkers,
		QueueSize:   cfg.Dispatch.TaskQueueSize,
		MaxAttempts: cfg.Dispatch.TaskMaxAttempts,
		Backoff:     cfg.Dispatch.TaskRetryBackoff,
	}, log)
	alerter := service.NewAlerter(bookingRepo, observerRepo, routes, cacheStore, bus, log, service.AlerterOptions{
		ThresholdMeters: cfg.Dispatch.ProximityMeters,
		SampleStride:    cfg.Dispatch.RouteSampleStride,
	})
	bookingService := service.NewBookingService(bookingRepo, tracker, lockStore, bus, tasks, alerter, log)

	// Handlers.
	bookingHandler := handler.NewBookingHandler(bookingService, scorer)
	driverHandler := handler.NewDriverHandler(tracker)
	realtimeHandler := handler.NewRealtimeHandler(tracker)
	realtimeHandler.Attach(realtime.NewServer(bus, realtimeHandler, log, cfg.Dispatch.RealtimeSendBuffer))

	router := app.NewRouter(app.RouterDeps{
		BookingHandler:  bookingHandler,
		DriverHandler:   driverHandler,
		RealtimeHandler: realtimeHandler,
		RedisClient:     redisClient,
		NewRelicApp:     nrApp,
	})

	return &server{
		http: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		tracker: tracker,
		tasks:   tasks,
		broker:  redisBroker,
		hub:     hub,
		sink:    kafkaSink,
		log:     log,
	}, nil
}
