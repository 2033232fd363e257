package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/orderledger/internal/health"
	"github.com/vladislavdragonenkov/orderledger/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderledger/internal/metrics"
	"github.com/vladislavdragonenkov/orderledger/internal/service/capture"
	grpcsvc "github.com/vladislavdragonenkov/orderledger/internal/service/grpc"
	"github.com/vladislavdragonenkov/orderledger/internal/service/outbox"
	"github.com/vladislavdragonenkov/orderledger/internal/service/payment"
	"github.com/vladislavdragonenkov/orderledger/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает хранилище, сервисы, фоновые воркеры, gRPC и ops HTTP и
// работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	ledgerMetrics := metrics.NewLedgerMetrics()
	if err := version.RegisterMetric(prometheus.DefaultRegisterer); err != nil {
		logger.WithError(err).Warn("failed to register build info metric")
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger, ledgerMetrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	// шлюз оплаты in-process: реальный провайдер подключается через domain.PaymentGateway
	services := buildServices(deps, cfg, payment.NewMockGateway(), ledgerMetrics, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}
	healthHandler.RegisterOptional("outbox", outboxBacklogChecker(services))

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	var workers sync.WaitGroup

	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(producer, logger)

	var routing outboxRouting
	if producer != nil {
		routing = kafkaOutboxRouting(producer, cfg.KafkaMailerTopic)
		consumer, err := initCartonConsumer(cfg, producer, services.CartonCapture, logger)
		if err != nil {
			logger.WithError(err).Warn("carton consumer is disabled")
		} else if err := consumer.Start(workersCtx); err == nil {
			defer func() {
				if err := consumer.Stop(); err != nil {
					logger.WithError(err).Warn("failed to stop kafka consumer")
				}
			}()
		}
	} else {
		routing = outboxRouting{publisher: newInProcessPublisher(workersCtx, services.CartonCapture, logger)}
	}

	outboxWorker := outbox.NewWorker(services.Outbox, routing.publisher, append(routing.options,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(ledgerMetrics),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)...)
	workers.Add(1)
	go func() {
		defer workers.Done()
		outboxWorker.Run(workersCtx)
	}()

	if cfg.CaptureSweepEnabled {
		sweep := capture.NewSweepWorker(services.Orders, services.OrderCapture,
			capture.WithSweepLogger(logger.WithField("component", "capture-sweep")),
			capture.WithSweepInterval(cfg.CaptureSweepInterval),
			capture.WithSweepBatchSize(cfg.CaptureSweepBatchSize),
		)
		workers.Add(1)
		go func() {
			defer workers.Done()
			sweep.Run(workersCtx)
		}()
	}

	grpcServer, healthServer := newGRPCServer(services, logger)
	opsSrv := startOpsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(opsSrv, logger)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	stopAll := func() {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownHTTP(opsSrv, logger)
		stopWorkers()
		workers.Wait()
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		stopGRPC(grpcServer, logger)
		stopAll()
		return ctx.Err()
	case err := <-errCh:
		stopAll()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newGRPCServer регистрирует LedgerService, health и reflection с метриками
// go-grpc-prometheus.
func newGRPCServer(services *Services, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	grpcsvc.RegisterLedgerServer(server, grpcsvc.NewLedgerService(services.LedgerDependencies(), logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(server)
	reflection.Register(server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcsvc.LedgerServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// newOpsRouter собирает HTTP-маршруты метрик и проверок здоровья.
func newOpsRouter(healthHandler *healthcheck.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", healthHandler.ServeHTTP)
	r.Get("/livez", healthcheck.LivenessHandler)
	r.Get("/readyz", healthHandler.ReadinessHandler)
	return r
}

// startOpsServer запускает HTTP-сервер /metrics и health-проверок.
func startOpsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newOpsRouter(healthHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("ops server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP останавливает HTTP-сервер с таймаутом.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("ops server shutdown with error")
	}
}

// outboxBacklogChecker помечает сервис degraded, если самое старое
// неотправленное сообщение ждёт дольше maxOutboxLag.
func outboxBacklogChecker(services *Services) healthcheck.Checker {
	return healthcheck.NewSimpleChecker("outbox", func() error {
		stats, err := services.Outbox.Stats()
		if err != nil {
			return err
		}
		if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() && time.Since(stats.OldestPendingAt) > maxOutboxLag {
			return errOutboxLagging
		}
		return nil
	})
}

const maxOutboxLag = 5 * time.Minute

var errOutboxLagging = errors.New("outbox backlog is older than " + maxOutboxLag.String())

var _ kafka.CartonCapturer = (*capture.CartonCapturing)(nil)
