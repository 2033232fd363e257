package domain

import "time"

// StockLocation: склад.
type StockLocation struct {
	ID                   string
	Name                 string
	Active               bool
	BackorderableDefault bool
}

// StockItem: остаток варианта на складе. CountOnHand — сумма движений.
type StockItem struct {
	ID              string
	StockLocationID string
	VariantID       string
	Backorderable   bool
	CountOnHand     int
}

// StockMovement: неизменяемая запись о движении остатка.
type StockMovement struct {
	ID              string
	StockItemID     string
	StockLocationID string
	VariantID       string
	Quantity        int
	Originator      string
	CreatedAt       time.Time
}
