package domain

import (
	"slices"
	"time"
)

// CartonUnit: единица товара в коробке с её заказом.
type CartonUnit struct {
	OrderID         string
	InventoryUnitID string
}

// Carton: физическая посылка. Состав единиц фиксируется при создании.
type Carton struct {
	ID               string
	Number           string
	OrderID          string
	StockLocationID  string
	ShippingMethodID string
	AddressID        string
	Tracking         string
	Units            []CartonUnit
	ShippedAt        time.Time
	CreatedAt        time.Time
}

// Clone возвращает копию без общего слайса единиц.
func (c Carton) Clone() Carton {
	c.Units = slices.Clone(c.Units)
	return c
}

// UnitsByOrder группирует единицы по заказам в порядке первого появления.
func (c Carton) UnitsByOrder() ([]string, map[string][]string) {
	var orderIDs []string
	grouped := map[string][]string{}
	for _, unit := range c.Units {
		if _, ok := grouped[unit.OrderID]; !ok {
			orderIDs = append(orderIDs, unit.OrderID)
		}
		grouped[unit.OrderID] = append(grouped[unit.OrderID], unit.InventoryUnitID)
	}
	return orderIDs, grouped
}
