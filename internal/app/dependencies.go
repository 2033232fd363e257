package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/health"
	"github.com/vladislavdragonenkov/orderledger/internal/metrics"
	"github.com/vladislavdragonenkov/orderledger/internal/mutex"
	"github.com/vladislavdragonenkov/orderledger/internal/service/amendment"
	"github.com/vladislavdragonenkov/orderledger/internal/service/capture"
	grpcsvc "github.com/vladislavdragonenkov/orderledger/internal/service/grpc"
	"github.com/vladislavdragonenkov/orderledger/internal/service/outbox"
	"github.com/vladislavdragonenkov/orderledger/internal/service/payment"
	"github.com/vladislavdragonenkov/orderledger/internal/service/promotion"
	"github.com/vladislavdragonenkov/orderledger/internal/service/shipping"
	"github.com/vladislavdragonenkov/orderledger/internal/service/updater"
	"github.com/vladislavdragonenkov/orderledger/internal/storage/memory"
	"github.com/vladislavdragonenkov/orderledger/internal/storage/postgres"
)

// orderStore: репозиторий заказов, который также считает использования промо.
type orderStore interface {
	domain.OrderRepository
	domain.PromotionUsageCounter
}

// runtimeDependencies: хранилища, блокировка и проверки здоровья выбранных драйверов.
type runtimeDependencies struct {
	orders       orderStore
	cartons      domain.CartonRepository
	captures     domain.CaptureRepository
	promotions   domain.PromotionRepository
	stock        domain.StockRepository
	outboxRepo   domain.OutboxRepository
	timelineRepo domain.TimelineRepository
	mutex        domain.OrderMutex

	checkers map[string]health.Checker
	closers  []func() error
}

func (d *runtimeDependencies) addCloser(fn func() error) {
	d.closers = append(d.closers, fn)
}

// Close закрывает подключения в обратном порядке.
func (d *runtimeDependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// initRuntimeDependencies открывает хранилище и блокировку по драйверам из конфигурации.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry, m *metrics.LedgerMetrics) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]health.Checker)}
	var store *postgres.Store

	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case StorageDriverMemory, "":
		orders, outboxRepo := memory.NewOrderRepository(), memory.NewOutboxRepository()
		deps.orders = orders
		deps.outboxRepo = outboxRepo
		deps.cartons = memory.NewCartonRepository(orders, outboxRepo)
		deps.captures = memory.NewCaptureRepository(orders)
		deps.promotions = memory.NewPromotionRepository()
		deps.stock = memory.NewStockRepository()
		deps.timelineRepo = memory.NewTimelineRepository()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres storage requires OMS_POSTGRES_DSN")
		}
		var err error
		store, err = postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		deps.addCloser(store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = deps.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		deps.orders = postgres.NewOrderRepository(store)
		deps.cartons = postgres.NewCartonRepository(store)
		deps.captures = postgres.NewCaptureRepository(store)
		deps.promotions = postgres.NewPromotionRepository(store)
		deps.stock = postgres.NewStockRepository(store)
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.timelineRepo = postgres.NewTimelineRepository(store)
		deps.checkers["postgres"] = health.NewPingChecker("postgres", store.Ping)
		logger.Info("using postgres storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}

	lockOpts := []mutex.Option{
		mutex.WithLogger(logger.WithField("component", "order_mutex")),
		mutex.WithMetrics(m),
		mutex.WithTTL(cfg.LockTTL),
	}
	switch strings.ToLower(strings.TrimSpace(cfg.LockDriver)) {
	case LockDriverMemory, "":
		deps.mutex = mutex.NewMemory(lockOpts...)
	case LockDriverRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			_ = deps.Close()
			return nil, errors.New("redis lock requires OMS_REDIS_ADDR")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		deps.addCloser(client.Close)
		lock := mutex.NewRedis(client, lockOpts...)
		if err := lock.Ping(ctx); err != nil {
			_ = deps.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		deps.mutex = lock
		deps.checkers["redis"] = health.NewPingChecker("redis", lock.Ping)
	case LockDriverPostgres:
		if store == nil {
			_ = deps.Close()
			return nil, errors.New("postgres lock requires postgres storage")
		}
		deps.mutex = mutex.NewPostgres(store.DB(), lockOpts...)
	default:
		_ = deps.Close()
		return nil, fmt.Errorf("unsupported lock driver: %s", cfg.LockDriver)
	}

	return deps, nil
}

// Services: собранные прикладные сервисы поверх хранилищ.
type Services struct {
	Orders        domain.OrderRepository
	Cartons       domain.CartonRepository
	Captures      domain.CaptureRepository
	Promotions    domain.PromotionRepository
	Stock         domain.StockRepository
	Timeline      domain.TimelineRepository
	Outbox        domain.OutboxRepository
	Mutex         domain.OrderMutex
	Updater       *updater.OrderUpdater
	Cancellations *amendment.Cancellations
	CartonCapture *capture.CartonCapturing
	OrderCapture  *capture.OrderCapturing
	Shipments     *shipping.Shipments
	Units         *shipping.Units
	OrderShipping *shipping.OrderShipping
	PromoService  *promotion.Service
	Gateway       domain.PaymentGateway
}

// buildServices связывает сервисы: один OrderUpdater, одна блокировка и один
// outbox на весь процесс.
func buildServices(deps *runtimeDependencies, cfg Config, gateway domain.PaymentGateway, m *metrics.LedgerMetrics, logger *log.Entry) *Services {
	store := cfg.Store()
	emitter := outbox.NewEmitter(deps.outboxRepo, m, logger.WithField("component", "outbox_emitter"))

	engine := promotion.NewEngine(deps.promotions, deps.orders,
		promotion.WithLogger(logger.WithField("component", "promotion_engine")),
		promotion.WithMetrics(m),
	)
	orderUpdater := updater.NewOrderUpdater(deps.orders, deps.timelineRepo,
		updater.Dependencies{Promotions: engine},
		updater.WithLogger(logger.WithField("component", "order_updater")),
		updater.WithMetrics(m),
	)

	stock := shipping.NewStock(deps.stock, logger.WithField("component", "stock"))
	shipOpts := []shipping.Option{shipping.WithMetrics(m)}

	strategy := capture.NewCartonPaymentStrategy(gateway, store, capture.WithMetrics(m))

	return &Services{
		Orders:     deps.orders,
		Cartons:    deps.cartons,
		Captures:   deps.captures,
		Promotions: deps.promotions,
		Stock:      deps.stock,
		Timeline:   deps.timelineRepo,
		Outbox:     deps.outboxRepo,
		Mutex:      deps.mutex,
		Updater:    orderUpdater,
		Cancellations: amendment.NewCancellations(deps.orders, deps.mutex, orderUpdater, store,
			amendment.WithMetrics(m),
			amendment.WithEmitter(emitter),
		),
		CartonCapture: capture.NewCartonCapturing(deps.cartons, deps.orders, deps.captures, deps.mutex, orderUpdater, strategy,
			capture.WithMetrics(m),
			capture.WithEmitter(emitter),
		),
		OrderCapture: capture.NewOrderCapturing(deps.orders, deps.mutex, orderUpdater, gateway, store,
			capture.WithMetrics(m),
			capture.WithEmitter(emitter),
		),
		Shipments:     shipping.NewShipments(deps.orders, deps.mutex, orderUpdater, stock, shipOpts...),
		Units:         shipping.NewUnits(deps.orders, deps.mutex, orderUpdater, stock, store, shipOpts...),
		OrderShipping: shipping.NewOrderShipping(deps.orders, deps.cartons, deps.mutex, orderUpdater, shipping.NewOutboxMailer(emitter), store, shipOpts...),
		PromoService:  promotion.NewService(deps.orders, deps.promotions, engine, deps.mutex, orderUpdater, logger.WithField("component", "promotion_service")),
		Gateway:       gateway,
	}
}

// NewServices собирает сервисы поверх in-memory хранилищ с mock-шлюзом оплаты.
// Используется тестами и локальными прогонами.
func NewServices(logger *log.Entry) *Services {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps, err := initRuntimeDependencies(context.Background(), DefaultConfig(), logger, nil)
	if err != nil {
		// memory-драйверы не возвращают ошибок
		panic(err)
	}
	return buildServices(deps, DefaultConfig(), payment.NewMockGateway(), nil, logger)
}

// OpenServices собирает сервисы по драйверам из cfg для одноразовых команд.
// Вызывающий обязан вызвать close.
func OpenServices(ctx context.Context, cfg Config, logger *log.Entry) (*Services, func() error, error) {
	deps, err := initRuntimeDependencies(ctx, cfg, logger, nil)
	if err != nil {
		return nil, nil, err
	}
	return buildServices(deps, cfg, payment.NewMockGateway(), nil, logger), deps.Close, nil
}

// LedgerDependencies возвращает сервисы для gRPC-границы.
func (s *Services) LedgerDependencies() grpcsvc.Dependencies {
	return grpcsvc.Dependencies{
		Orders:        s.Orders,
		Cartons:       s.Cartons,
		Captures:      s.Captures,
		Timeline:      s.Timeline,
		Mutex:         s.Mutex,
		Updater:       s.Updater,
		Cancellations: s.Cancellations,
		Shipping:      s.OrderShipping,
		CartonCapture: s.CartonCapture,
		OrderCapture:  s.OrderCapture,
		Promotions:    s.PromoService,
		Shipments:     s.Shipments,
		Units:         s.Units,
	}
}
