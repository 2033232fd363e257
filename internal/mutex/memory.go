package mutex

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// Memory: блокировка заказов в пределах одного процесса.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
	opts options
}

var _ domain.OrderMutex = (*Memory)(nil)

// NewMemory создаёт блокировку в памяти.
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		held: make(map[string]struct{}),
		opts: buildOptions("order_mutex_memory", opts),
	}
}

// WithLock не ждёт освобождения: занятый заказ сразу даёт ErrLockFailed.
func (m *Memory) WithLock(ctx context.Context, orderID string, fn func(ctx context.Context) error) error {
	if !m.tryAcquire(orderID) {
		return lockFailed(m.opts, orderID, nil)
	}
	m.opts.metrics.LockAcquired()
	defer m.release(orderID)

	return fn(ctx)
}

// Held сообщает, занят ли заказ.
func (m *Memory) Held(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[orderID]
	return ok
}

func (m *Memory) tryAcquire(orderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[orderID]; busy {
		return false
	}
	m.held[orderID] = struct{}{}
	return true
}

func (m *Memory) release(orderID string) {
	m.mu.Lock()
	delete(m.held, orderID)
	m.mu.Unlock()
	m.opts.metrics.LockReleased()
}
