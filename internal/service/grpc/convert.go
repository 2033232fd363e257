package grpcsvc

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/service/promotion"
)

// toStatus сопоставляет доменные ошибки кодам gRPC.
func toStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	switch {
	case domain.IsLockFailed(err), domain.IsVersionConflict(err):
		return status.New(codes.Aborted, err.Error())
	case domain.IsNotFound(err):
		return status.New(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrUnitsFromOtherOrder),
		errors.Is(err, domain.ErrNoUnitsToShip),
		errors.Is(err, domain.ErrNoUnitsToReturn),
		errors.Is(err, domain.ErrOrderIDRequired),
		errors.Is(err, promotion.ErrPromotionNotSpecified):
		return status.New(codes.InvalidArgument, err.Error())
	case domain.IsPrecondition(err), errors.Is(err, domain.ErrPaymentDeclined):
		return status.New(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrPaymentTemporary):
		return status.New(codes.Unavailable, err.Error())
	default:
		return status.New(codes.Internal, "internal ledger error")
	}
}

func requiredString(req *structpb.Struct, key string) (string, error) {
	value := optionalString(req, key)
	if value == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return value, nil
}

func optionalString(req *structpb.Struct, key string) string {
	if req == nil {
		return ""
	}
	value, ok := req.GetFields()[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(value.GetStringValue())
}

func requiredStrings(req *structpb.Struct, key string) ([]string, error) {
	var out []string
	if req != nil {
		if value, ok := req.GetFields()[key]; ok {
			for idx, item := range value.GetListValue().GetValues() {
				s, ok := item.GetKind().(*structpb.Value_StringValue)
				if !ok || strings.TrimSpace(s.StringValue) == "" {
					return nil, status.Errorf(codes.InvalidArgument, "%s[%d] must be a non-empty string", key, idx)
				}
				out = append(out, strings.TrimSpace(s.StringValue))
			}
		}
	}
	if len(out) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return out, nil
}

// optionalStrings: необязательный список непустых строк.
func optionalStrings(req *structpb.Struct, key string) []string {
	var out []string
	if value, ok := req.GetFields()[key]; ok {
		for _, item := range value.GetListValue().GetValues() {
			if s := strings.TrimSpace(item.GetStringValue()); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func orderView(order domain.Order) map[string]any {
	units := make([]any, 0, len(order.InventoryUnits))
	for _, unit := range order.InventoryUnits {
		units = append(units, map[string]any{
			"id":           unit.ID,
			"line_item_id": unit.LineItemID,
			"shipment_id":  unit.ShipmentID,
			"carton_id":    unit.CartonID,
			"state":        string(unit.State),
		})
	}
	shipments := make([]any, 0, len(order.Shipments))
	for _, shipment := range order.Shipments {
		shipments = append(shipments, shipmentView(shipment))
	}
	cancels := make([]any, 0, len(order.UnitCancels))
	for _, cancel := range order.UnitCancels {
		cancels = append(cancels, unitCancelView(cancel))
	}

	return map[string]any{
		"id":                   order.ID,
		"number":               order.Number,
		"state":                string(order.State),
		"currency":             order.Currency,
		"payment_state":        string(order.PaymentState),
		"shipment_state":       string(order.ShipmentState),
		"item_total":           money(order.ItemTotal),
		"shipment_total":       money(order.ShipmentTotal),
		"adjustment_total":     money(order.AdjustmentTotal),
		"promo_total":          money(order.PromoTotal),
		"included_tax_total":   money(order.IncludedTaxTotal),
		"additional_tax_total": money(order.AdditionalTaxTotal),
		"payment_total":        money(order.PaymentTotal),
		"total":                money(order.Total),
		"item_count":           order.ItemCount,
		"version":              order.Version,
		"completed_at":         timestamp(order.CompletedAt),
		"inventory_units":      units,
		"shipments":            shipments,
		"unit_cancels":         cancels,
	}
}

func shipmentView(shipment domain.Shipment) map[string]any {
	return map[string]any{
		"id":         shipment.ID,
		"number":     shipment.Number,
		"state":      string(shipment.State),
		"cost":       money(shipment.Cost),
		"tracking":   shipment.Tracking,
		"shipped_at": timestamp(shipment.ShippedAt),
	}
}

func unitCancelView(cancel domain.UnitCancel) map[string]any {
	return map[string]any{
		"id":                cancel.ID,
		"inventory_unit_id": cancel.InventoryUnitID,
		"reason":            cancel.Reason,
		"created_by":        cancel.CreatedBy,
		"amount":            money(cancel.Total()),
	}
}

func cartonView(carton domain.Carton) map[string]any {
	units := make([]any, 0, len(carton.Units))
	for _, unit := range carton.Units {
		units = append(units, unit.InventoryUnitID)
	}
	return map[string]any{
		"id":                 carton.ID,
		"number":             carton.Number,
		"order_id":           carton.OrderID,
		"stock_location_id":  carton.StockLocationID,
		"shipping_method_id": carton.ShippingMethodID,
		"tracking":           carton.Tracking,
		"inventory_unit_ids": units,
		"shipped_at":         timestamp(carton.ShippedAt),
	}
}

func captureView(capture domain.CartonCapture) map[string]any {
	units := make([]any, 0, len(capture.Captures))
	for _, unit := range capture.Captures {
		units = append(units, map[string]any{
			"inventory_unit_id": unit.InventoryUnitID,
			"order_id":          unit.OrderID,
			"amount":            money(unit.Total()),
		})
	}
	return map[string]any{
		"id":          capture.ID,
		"carton_id":   capture.CartonID,
		"total":       money(capture.Total()),
		"captured_at": timestamp(capture.CapturedAt),
		"units":       units,
	}
}

func unitIDs(units []domain.InventoryUnit) []any {
	ids := make([]any, 0, len(units))
	for _, unit := range units {
		ids = append(ids, unit.ID)
	}
	return ids
}

func timelineView(event domain.TimelineEvent) map[string]any {
	return map[string]any{
		"seq":       event.Seq,
		"type":      event.Type,
		"reason":    event.Reason,
		"previous":  event.Previous,
		"next":      event.Next,
		"unix_time": event.Occurred.Unix(),
	}
}
