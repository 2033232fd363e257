package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// CartonCapturer захватывает оплату за отгруженную коробку.
type CartonCapturer interface {
	Capture(ctx context.Context, cartonID string) (domain.CartonCapture, error)
}

// NewCartonShippedHandler захватывает оплату по первому событию carton.shipped.
// Повторные письма (resend) и другие события пропускаются.
func NewCartonShippedHandler(capturer CartonCapturer, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "carton-shipped-handler")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		envelope, err := ParseEnvelope(message)
		if err != nil {
			logger.WithError(err).Warn("skip malformed message")
			return nil
		}
		return HandleCartonShipped(ctx, capturer, envelope, logger)
	}
}

// HandleCartonShipped обрабатывает конверт события. Уже захваченная или
// удалённая коробка считается обработанной, остальные ошибки возвращаются
// для повтора.
func HandleCartonShipped(ctx context.Context, capturer CartonCapturer, envelope *Envelope, logger *log.Entry) error {
	if envelope.EventType != domain.EventCartonShipped {
		return nil
	}

	event, err := ParseCartonShipped(envelope)
	if err != nil {
		logger.WithError(err).Warn("skip malformed carton shipped payload")
		return nil
	}
	if event.Resend {
		return nil
	}

	capture, err := capturer.Capture(ctx, event.CartonID)
	switch {
	case err == nil:
		logger.WithFields(log.Fields{
			"carton_id":  event.CartonID,
			"capture_id": capture.ID,
		}).Debug("carton captured from event")
		return nil
	case errors.Is(err, domain.ErrInventoryPreviouslyProcessed):
		logger.WithField("carton_id", event.CartonID).Info("carton already captured")
		return nil
	case errors.Is(err, domain.ErrCartonNotFound):
		logger.WithField("carton_id", event.CartonID).Warn("carton for event not found")
		return nil
	default:
		return fmt.Errorf("capture carton %s: %w", event.CartonID, err)
	}
}
