package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

type stubCapturer struct {
	calls []string
	err   error
}

func (s *stubCapturer) Capture(_ context.Context, cartonID string) (domain.CartonCapture, error) {
	s.calls = append(s.calls, cartonID)
	if s.err != nil {
		return domain.CartonCapture{}, s.err
	}
	return domain.CartonCapture{ID: "cap-" + cartonID, CartonID: cartonID}, nil
}

func envelopeMessage(eventType, payload string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic: TopicLedgerEvents,
		Value: []byte(fmt.Sprintf(`{"id":"m-1","aggregate_type":"carton","aggregate_id":"carton-1","event_type":%q,"payload":%s}`, eventType, payload)),
	}
}

func TestCartonShippedHandler(t *testing.T) {
	tests := []struct {
		name      string
		message   *sarama.ConsumerMessage
		err       error
		wantCalls int
		wantErr   bool
	}{
		{name: "first shipment captures", message: envelopeMessage(domain.EventCartonShipped, `{"carton_id":"carton-1","resend":false}`), wantCalls: 1},
		{name: "resend is skipped", message: envelopeMessage(domain.EventCartonShipped, `{"carton_id":"carton-1","resend":true}`)},
		{name: "other events are skipped", message: envelopeMessage(domain.EventCartonCaptured, `{}`)},
		{name: "malformed message is skipped", message: &sarama.ConsumerMessage{Value: []byte("{")}},
		{name: "already captured", message: envelopeMessage(domain.EventCartonShipped, `{"resend":false}`), err: fmt.Errorf("unit u-1: %w", domain.ErrInventoryPreviouslyProcessed), wantCalls: 1},
		{name: "missing carton", message: envelopeMessage(domain.EventCartonShipped, `{}`), err: domain.ErrCartonNotFound, wantCalls: 1},
		{name: "lock failure is retried", message: envelopeMessage(domain.EventCartonShipped, `{}`), err: domain.ErrLockFailed, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capturer := &stubCapturer{err: tt.err}
			handler := NewCartonShippedHandler(capturer, nil)

			err := handler(context.Background(), tt.message)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr && !errors.Is(err, tt.err) {
				t.Fatalf("error must wrap %v, got %v", tt.err, err)
			}
			if len(capturer.calls) != tt.wantCalls {
				t.Fatalf("expected %d capture calls, got %d", tt.wantCalls, len(capturer.calls))
			}
			if tt.wantCalls > 0 && capturer.calls[0] != "carton-1" {
				t.Fatalf("unexpected carton id %s", capturer.calls[0])
			}
		})
	}
}
