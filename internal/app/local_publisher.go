package app

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/messaging/kafka"
)

// inProcessPublisher доставляет outbox-события без брокера: carton.shipped
// сразу запускает захват коробки, остальные события только логируются.
type inProcessPublisher struct {
	ctx      context.Context
	capturer kafka.CartonCapturer
	logger   *log.Entry
}

func newInProcessPublisher(ctx context.Context, capturer kafka.CartonCapturer, logger *log.Entry) *inProcessPublisher {
	return &inProcessPublisher{ctx: ctx, capturer: capturer, logger: logger.WithField("component", "outbox-local")}
}

// Publish реализует domain.OutboxPublisher.
func (p *inProcessPublisher) Publish(event domain.OutboxMessage) error {
	envelope := &kafka.Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}
	p.logger.WithFields(log.Fields{
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
		"order_id":     kafka.PartitionKey(event.EventType, event.Payload, event.AggregateID),
	}).Debug("outbox event delivered in-process")
	return kafka.HandleCartonShipped(p.ctx, p.capturer, envelope, p.logger)
}

var _ domain.OutboxPublisher = (*inProcessPublisher)(nil)
