package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"courier/internal/config"
	"courier/internal/constants"
	"courier/internal/delivery"
	"courier/internal/eventlog"
	"courier/internal/logger"
	"courier/internal/records"
	"courier/pkg/bootstrap"
	"courier/pkg/health"
	"courier/pkg/logging"
	"courier/pkg/metrics"
	"courier/pkg/migrations"
	"courier/pkg/tracing"
)

const serviceName = "delivery-service"

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	mongoClient    *mongo.Client
	emitter        *eventlog.Emitter
	scheduler      *delivery.BackoffScheduler
	service        *delivery.Service
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	channel := a.Config.Delivery.Channel
	if channel == "" {
		return fmt.Errorf("delivery channel is not configured")
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}
	a.mongoClient = mongoClient

	db := mongoClient.Database(a.Config.Database.MongoDB.Database)
	if err := migrations.EnsureRetryIndexes(ctx, db); err != nil {
		return fmt.Errorf("failed to ensure retry indexes: %w", err)
	}

	if err := a.InitBroker(serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterDeliveryMetrics()
	metrics.RegisterBrokerMetrics()

	a.initService()

	if err := a.initHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initService() {
	cfg := a.Config.Delivery
	db := a.mongoClient.Database(a.Config.Database.MongoDB.Database)
	store := records.NewMongoStore(db)

	a.emitter = eventlog.NewEmitter(a.Producer, serviceName, a.Logger)
	retryStore := delivery.NewMongoRetryStore(db)
	a.scheduler = delivery.NewBackoffScheduler(retryStore, a.Producer, cfg.BaseBackoff, cfg.MaxBackoff, a.Logger)
	sender := delivery.NewSimulatedSender(cfg.Channel, cfg.FailRate)

	a.service = delivery.NewService(cfg.Channel, cfg.MaxAttempts, store, sender, a.scheduler, a.emitter, a.Logger)
}

func (a *App) initHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	topic := constants.RoutingTopic(a.Config.Delivery.Channel)
	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Consuming routing topic", "topic", topic)
		return a.Consumer.Consume(gCtx, topic, a.service.HandleDelivery)
	})

	g.Go(func() error {
		a.scheduler.Run(gCtx)
		return nil
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, serviceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down delivery service")

	if a.emitter != nil {
		a.emitter.Flush()
	}

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, nil, a.mongoClient)...)

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer shutdown error: %w", err))
			}
		}

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
