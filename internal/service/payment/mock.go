// Package payment содержит шлюз захвата платежей для локального запуска и тестов.
package payment

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// CaptureCall: один вызов Capture.
type CaptureCall struct {
	PaymentID   string
	AmountMinor int64
	Currency    string
}

// MockGateway: конфигурируемая заглушка PaymentGateway. Запоминает вызовы.
type MockGateway struct {
	mu sync.Mutex

	// CaptureErr возвращается из каждого вызова, если FailFor пуст.
	CaptureErr error
	// FailFor: ошибки для отдельных платежей.
	FailFor map[string]error

	calls []CaptureCall
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{FailFor: make(map[string]error)}
}

// Capture возвращает заранее настроенный результат и записывает вызов.
func (m *MockGateway) Capture(_ context.Context, payment domain.Payment, amountMinor int64, currency string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, CaptureCall{PaymentID: payment.ID, AmountMinor: amountMinor, Currency: currency})
	if err, ok := m.FailFor[payment.ID]; ok {
		return err
	}
	return m.CaptureErr
}

// Calls возвращает копию журнала вызовов.
func (m *MockGateway) Calls() []CaptureCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CaptureCall(nil), m.calls...)
}

// CapturedMinor: сумма всех вызовов в минорных единицах.
func (m *MockGateway) CapturedMinor() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, call := range m.calls {
		total += call.AmountMinor
	}
	return total
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
