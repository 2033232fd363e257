package updater

import (
	"context"
	"errors"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
)

var errNoTotalsWriter = errors.New("order totals writer is not configured")

// PersistOrderTotals записывает вычисленные колонки одним обновлением,
// без проверки версии и без повторного запуска конвейера.
type PersistOrderTotals struct {
	Writer domain.OrderTotalsWriter
}

func (PersistOrderTotals) Name() string { return "persist_order_totals" }

func (s PersistOrderTotals) Apply(_ context.Context, run *Run) error {
	if s.Writer == nil {
		return errNoTotalsWriter
	}
	return s.Writer.UpdateTotals(*run.Order)
}
