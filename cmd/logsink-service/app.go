package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"courier/internal/config"
	"courier/internal/constants"
	"courier/internal/logger"
	"courier/internal/logsink"
	"courier/pkg/bootstrap"
	"courier/pkg/circuitbreaker"
	"courier/pkg/health"
	"courier/pkg/logging"
	"courier/pkg/metrics"
	"courier/pkg/migrations"
	"courier/pkg/tracing"
)

const serviceName = "logsink-service"

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	mongoClient    *mongo.Client
	esClient       *elasticsearch.Client
	monitor        *logsink.HealthMonitor
	service        *logsink.Service
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
	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}
	a.mongoClient = mongoClient

	db := mongoClient.Database(a.Config.Database.MongoDB.Database)
	if err := migrations.EnsureLogIndexes(ctx, db); err != nil {
		return fmt.Errorf("failed to ensure log indexes: %w", err)
	}

	esClient, err := a.dbConnector.InitElasticsearch()
	if err != nil {
		return fmt.Errorf("failed to initialize Elasticsearch client: %w", err)
	}
	a.esClient = esClient

	if err := a.InitBroker(serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterLogSinkMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initService(ctx)

	if err := a.initHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initService(ctx context.Context) {
	cfg := a.Config.LogSink
	esCfg := a.Config.Database.Elasticsearch

	checker := health.NewElasticsearchChecker(a.esClient, cfg.HealthCheckTimeout)
	primary := logsink.NewElasticsearchStore(a.esClient, esCfg.Index, checker)
	if a.Config.CircuitBreaker.Enabled {
		primary.WithBreaker(circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("elasticsearch")))
	}
	secondary := logsink.NewMongoStore(a.mongoClient.Database(a.Config.Database.MongoDB.Database))

	a.monitor = logsink.NewHealthMonitor(primary, cfg.HealthCheckInterval, cfg.HealthCheckTimeout, a.Logger)
	a.monitor.AwaitStartup(ctx, cfg.StartupTimeout)

	a.service = logsink.NewService(primary, secondary, a.monitor, a.Logger)
}

func (a *App) initHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()

	// The sink itself is healthy whenever the fallback store is reachable;
	// primary health is exposed separately through metrics.
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

	g.Go(func() error {
		a.monitor.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Consuming log topic", "topic", constants.LogTopic)
		return a.Consumer.Consume(gCtx, constants.LogTopic, a.service.HandleEvent)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, serviceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down logsink service")

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
