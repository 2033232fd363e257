package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Драйверы блокировки заказа.
const (
	LockDriverMemory   = "memory"
	LockDriverRedis    = "redis"
	LockDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	LockDriver string
	RedisAddr  string
	LockTTL    time.Duration

	KafkaBrokers       string
	KafkaConsumerGroup string
	KafkaMailerTopic   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	CaptureSweepEnabled   bool
	CaptureSweepInterval  time.Duration
	CaptureSweepBatchSize int

	AllowBackorderShipping bool
	// PaymentMethodPriority: типы методов оплаты через запятую.
	PaymentMethodPriority string
	Currency              string
}

// DefaultConfig возвращает настройки для локального запуска без внешних сервисов.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:              ":50051",
		MetricsAddr:           ":9090",
		StorageDriver:         StorageDriverMemory,
		PostgresAutoMigrate:   true,
		LockDriver:            LockDriverMemory,
		LockTTL:               30 * time.Second,
		KafkaConsumerGroup:    "orderledger-capture",
		OutboxPollInterval:    time.Second,
		OutboxBatchSize:       100,
		OutboxMaxAttempts:     3,
		OutboxRetryDelay:      50 * time.Millisecond,
		CaptureSweepEnabled:   true,
		CaptureSweepInterval:  time.Minute,
		CaptureSweepBatchSize: 100,
		PaymentMethodPriority: "store_credit,gift_card,credit_card,check",
		Currency:              "USD",
	}
}

// LoadConfigFromEnv подгружает .env (если есть) и переопределяет значения
// по умолчанию переменными окружения.
func LoadConfigFromEnv(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		} else if err == nil {
			log.WithField("file", file).Debug("env file loaded")
		}
	}

	cfg := DefaultConfig()
	var errs []string
	envString("OMS_GRPC_ADDR", &cfg.GRPCAddr)
	envString("OMS_METRICS_ADDR", &cfg.MetricsAddr)
	envString("OMS_STORAGE_DRIVER", &cfg.StorageDriver)
	envString("OMS_POSTGRES_DSN", &cfg.PostgresDSN)
	envString("OMS_LOCK_DRIVER", &cfg.LockDriver)
	envString("OMS_REDIS_ADDR", &cfg.RedisAddr)
	envString("KAFKA_BROKERS", &cfg.KafkaBrokers)
	envString("OMS_KAFKA_CONSUMER_GROUP", &cfg.KafkaConsumerGroup)
	envString("OMS_KAFKA_MAILER_TOPIC", &cfg.KafkaMailerTopic)
	envString("OMS_PAYMENT_METHOD_PRIORITY", &cfg.PaymentMethodPriority)
	envString("OMS_CURRENCY", &cfg.Currency)

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	collect(envBool("OMS_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate))
	collect(envBool("OMS_CAPTURE_SWEEP_ENABLED", &cfg.CaptureSweepEnabled))
	collect(envBool("OMS_ALLOW_BACKORDER_SHIPPING", &cfg.AllowBackorderShipping))
	collect(envDuration("OMS_LOCK_TTL", &cfg.LockTTL))
	collect(envDuration("OMS_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval))
	collect(envDuration("OMS_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay))
	collect(envDuration("OMS_CAPTURE_SWEEP_INTERVAL", &cfg.CaptureSweepInterval))
	collect(envInt("OMS_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize))
	collect(envInt("OMS_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts))
	collect(envInt("OMS_CAPTURE_SWEEP_BATCH_SIZE", &cfg.CaptureSweepBatchSize))

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Store собирает бизнес-настройки магазина.
func (c Config) Store() domain.StoreConfig {
	store := domain.DefaultStoreConfig()
	store.AllowBackorderShipping = c.AllowBackorderShipping
	if c.Currency != "" {
		store.Currency = c.Currency
	}
	if priority := splitList(c.PaymentMethodPriority); len(priority) > 0 {
		store.PaymentMethodPriority = make([]domain.PaymentMethodType, 0, len(priority))
		for _, method := range priority {
			store.PaymentMethodPriority = append(store.PaymentMethodPriority, domain.PaymentMethodType(method))
		}
	}
	return store
}

// Brokers возвращает список Kafka-брокеров без пустых элементов.
func (c Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = parsed
	return nil
}
