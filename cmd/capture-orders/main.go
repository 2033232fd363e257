package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/app"
	"github.com/vladislavdragonenkov/orderledger/internal/service/capture"
)

// sweeper: один проход захвата по заказам.
type sweeper interface {
	SweepOnce(ctx context.Context) (int, error)
}

// sweep выполняет проходы до тех пор, пока очередной не захватит меньше batch
// заказов. Возвращает общее число захваченных заказов.
func sweep(ctx context.Context, s sweeper, batch, maxPasses int) (int, error) {
	total := 0
	for pass := 0; pass < maxPasses; pass++ {
		captured, err := s.SweepOnce(ctx)
		total += captured
		if err != nil {
			return total, err
		}
		if captured < batch {
			break
		}
	}
	return total, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	var (
		batch     int
		maxPasses int
		timeout   time.Duration
	)
	flag.IntVar(&batch, "batch", 0, "orders per pass (0 = OMS_CAPTURE_SWEEP_BATCH_SIZE)")
	flag.IntVar(&maxPasses, "max-passes", 10, "maximum number of passes")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "overall timeout")
	flag.Parse()

	cfg, err := app.LoadConfigFromEnv()
	if err != nil {
		log.WithError(err).Fatal("не удалось прочитать конфигурацию")
	}
	if batch <= 0 {
		batch = cfg.CaptureSweepBatchSize
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := log.WithField("component", "capture-orders")
	services, closeFn, err := app.OpenServices(ctx, cfg, logger)
	if err != nil {
		log.WithError(err).Fatal("не удалось открыть хранилище")
	}
	defer func() {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	worker := capture.NewSweepWorker(services.Orders, services.OrderCapture,
		capture.WithSweepLogger(logger),
		capture.WithSweepBatchSize(batch),
	)
	total, err := sweep(ctx, worker, batch, maxPasses)
	if err != nil {
		logger.WithError(err).WithField("captured", total).Error("захват прерван")
		os.Exit(1)
	}
	logger.WithField("captured", total).Info("захват завершён")
}
