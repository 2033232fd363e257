// Package updater пересчитывает денормализованные итоги и состояния заказа.
package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/metrics"
)

// Step: один шаг конвейера пересчёта. Шаги меняют заказ в памяти;
// писать в хранилище может только шаг сохранения итогов.
type Step interface {
	Name() string
	Apply(ctx context.Context, run *Run) error
}

// Run: состояние одного прогона конвейера.
type Run struct {
	Order *domain.Order
	Now   time.Time

	events []domain.TimelineEvent
}

// Record запоминает смену состояния для timeline. Одинаковые значения игнорируются.
func (r *Run) Record(name, previous, next string) {
	if previous == next {
		return
	}
	r.events = append(r.events, domain.StateChange(r.Order.ID, name, previous, next, r.Now))
}

// Events возвращает накопленные события timeline.
func (r *Run) Events() []domain.TimelineEvent {
	return r.events
}

// Pipeline: упорядоченный список шагов, собираемый один раз при старте процесса.
type Pipeline struct {
	steps   []Step
	metrics *metrics.LedgerMetrics
	now     func() time.Time
}

// PipelineOption настраивает Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineMetrics включает метрики длительности шагов.
func WithPipelineMetrics(m *metrics.LedgerMetrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithClock подменяет источник времени для событий timeline.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline собирает конвейер из шагов в заданном порядке.
func NewPipeline(steps []Step, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		steps: append([]Step(nil), steps...),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Steps возвращает имена шагов в порядке выполнения.
func (p *Pipeline) Steps() []string {
	names := make([]string, 0, len(p.steps))
	for _, step := range p.steps {
		names = append(names, step.Name())
	}
	return names
}

// Run прогоняет заказ через все шаги. Первая ошибка прерывает конвейер.
func (p *Pipeline) Run(ctx context.Context, order *domain.Order) (*Run, error) {
	start := time.Now()
	run := &Run{Order: order, Now: p.now()}

	for _, step := range p.steps {
		stepStart := time.Now()
		if err := step.Apply(ctx, run); err != nil {
			return run, fmt.Errorf("%s: %w", step.Name(), err)
		}
		p.metrics.RecordStepDuration(step.Name(), time.Since(stepStart))
	}

	p.metrics.RecordPipelineRun(time.Since(start))
	return run, nil
}

// Dependencies: внешние зависимости шагов.
type Dependencies struct {
	Promotions PromotionAdjuster
	TaxRates   []domain.TaxRate
	Totals     domain.OrderTotalsWriter
}

// Recalculate: конвейер без шага сохранения. Используется сервисами,
// которые сохраняют агрегат целиком.
func Recalculate(deps Dependencies, opts ...PipelineOption) *Pipeline {
	adjustments := CalculateAdjustments{Promotions: deps.Promotions, TaxRates: deps.TaxRates}
	return NewPipeline([]Step{
		adjustments,
		UpdateOrderTotals{},
		UpdateOrderPaymentState{},
		AdvanceShipments{},
		UpdateOrderShipmentState{},
		adjustments,
		UpdateOrderTotals{},
	}, opts...)
}

// Default: канонический конвейер order_updater с сохранением итогов.
func Default(deps Dependencies, opts ...PipelineOption) *Pipeline {
	base := Recalculate(deps)
	steps := append(base.steps, PersistOrderTotals{Writer: deps.Totals})
	return NewPipeline(steps, opts...)
}
