package memory

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

// TimelineRepository хранит журнал каждого заказа отдельно, упорядоченным по
// времени события и номеру записи.
type TimelineRepository struct {
	mu      sync.RWMutex
	seq     int64
	byOrder map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт пустой журнал.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{byOrder: make(map[string][]domain.TimelineEvent)}
}

// Append проверяет все события до записи, затем нумерует их по порядку.
func (r *TimelineRepository) Append(events ...domain.TimelineEvent) error {
	for _, event := range events {
		if err := event.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	touched := make(map[string]bool)
	for _, event := range events {
		r.seq++
		event.Seq = r.seq
		if event.Occurred.IsZero() {
			event.Occurred = now
		}
		r.byOrder[event.OrderID] = append(r.byOrder[event.OrderID], event)
		touched[event.OrderID] = true
	}
	for orderID := range touched {
		slices.SortStableFunc(r.byOrder[orderID], compareTimeline)
	}
	return nil
}

// List возвращает копию журнала заказа, отфильтрованную по types.
func (r *TimelineRepository) List(orderID string, types ...string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.byOrder[orderID]
	out := make([]domain.TimelineEvent, 0, len(events))
	for _, event := range events {
		if len(types) == 0 || slices.Contains(types, event.Type) {
			out = append(out, event)
		}
	}
	return out, nil
}

func compareTimeline(a, b domain.TimelineEvent) int {
	if c := a.Occurred.Compare(b.Occurred); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
