package domain

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает копию заказа или ErrOrderNotFound.
	Get(id string) (Order, error)
	// Save сохраняет агрегат целиком с учётом optimistic locking.
	Save(order Order) error
	// ListCapturable возвращает завершённые заказы с balance_due.
	ListCapturable(limit int) ([]Order, error)
	OrderTotalsWriter
}

// OrderTotalsWriter: массовое обновление денормализованных итогов без пересохранения агрегата.
type OrderTotalsWriter interface {
	UpdateTotals(order Order) error
}

// CartonRepository хранит коробки.
type CartonRepository interface {
	// Create сохраняет коробку вместе с заказом, единицы которого она отгрузила,
	// и событиями outbox об этой отгрузке.
	Create(carton Carton, order Order, events ...OutboxMessage) error
	Get(id string) (Carton, error)
	ListByOrder(orderID string) ([]Carton, error)
}

// CaptureRepository атомарно сохраняет захват коробки вместе с изменёнными заказами.
type CaptureRepository interface {
	Create(capture CartonCapture, orders []Order) error
	ListByCarton(cartonID string) ([]CartonCapture, error)
}

// PromotionRepository хранит промо-акции и коды.
type PromotionRepository interface {
	Create(promotion Promotion) error
	Get(id string) (Promotion, error)
	FindByCode(value string) (Promotion, PromotionCode, error)
	// ListAutomatic возвращает акции без кодов и path.
	ListAutomatic() ([]Promotion, error)
}

// StockRepository ведёт складские позиции и журнал движений.
type StockRepository interface {
	// Move добавляет движение; при quantity < 1 и отсутствии позиции возвращает ErrInvalidMovement.
	Move(locationID, variantID string, quantity int, originator string) (StockMovement, error)
	// StockItem возвращает позицию с CountOnHand, посчитанным по движениям.
	StockItem(locationID, variantID string) (StockItem, error)
	// UpsertStockItem создаёт позицию или обновляет флаг backorderable.
	UpsertStockItem(item StockItem) (StockItem, error)
	Movements(locationID, variantID string) ([]StockMovement, error)
}
