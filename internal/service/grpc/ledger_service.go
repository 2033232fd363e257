package grpcsvc

import (
	"context"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	"github.com/vladislavdragonenkov/orderledger/internal/service/promotion"
	"github.com/vladislavdragonenkov/orderledger/internal/service/shipping"
)

// OrderUpdater пересчитывает сохранённый заказ.
type OrderUpdater interface {
	Update(ctx context.Context, orderID string) (domain.Order, error)
}

// ShortShipper отменяет неотгружаемые единицы.
type ShortShipper interface {
	ShortShip(ctx context.Context, orderID string, unitIDs []string, whodunnit string) ([]domain.UnitCancel, error)
}

// UnitShipper создаёт коробки и ставит письма об отгрузке.
type UnitShipper interface {
	ShipUnits(ctx context.Context, req shipping.ShipRequest) (domain.Carton, error)
	ShipShipment(ctx context.Context, orderID, shipmentID, tracking string) (domain.Carton, error)
	Resend(ctx context.Context, cartonID string) error
}

// CartonCapturer захватывает оплату за коробку.
type CartonCapturer interface {
	Capture(ctx context.Context, cartonID string) (domain.CartonCapture, error)
}

// OrderCapturer захватывает остаток оплаты заказа.
type OrderCapturer interface {
	CapturePayments(ctx context.Context, orderID string) (decimal.Decimal, error)
}

// PromotionApplier применяет акции к заказу.
type PromotionApplier interface {
	Apply(ctx context.Context, req promotion.ApplyRequest) (bool, error)
	ApplyFreeShipping(ctx context.Context, orderID string) (int, error)
}

// ShipmentTransitions: события отмены и возобновления отгрузки.
type ShipmentTransitions interface {
	CancelShipment(ctx context.Context, orderID, shipmentID string) (domain.Shipment, error)
	ResumeShipment(ctx context.Context, orderID, shipmentID string) (domain.Shipment, error)
}

// UnitTransitions: пополнение под заказ и возврат единиц.
type UnitTransitions interface {
	FillBackorders(ctx context.Context, orderID, shipmentID string) ([]domain.InventoryUnit, error)
	ReturnUnits(ctx context.Context, orderID string, unitIDs []string) ([]domain.InventoryUnit, error)
}

// Dependencies: сервисы, которые LedgerService выставляет наружу.
type Dependencies struct {
	Orders        domain.OrderRepository
	Cartons       domain.CartonRepository
	Captures      domain.CaptureRepository
	Timeline      domain.TimelineRepository
	Mutex         domain.OrderMutex
	Updater       OrderUpdater
	Cancellations ShortShipper
	Shipping      UnitShipper
	CartonCapture CartonCapturer
	OrderCapture  OrderCapturer
	Promotions    PromotionApplier
	Shipments     ShipmentTransitions
	Units         UnitTransitions
}

// LedgerService: gRPC-граница поверх сервисов пересчёта, отмен, отгрузок и захватов.
type LedgerService struct {
	deps   Dependencies
	logger *log.Entry
}

// NewLedgerService создаёт сервис.
func NewLedgerService(deps Dependencies, logger *log.Entry) *LedgerService {
	if logger == nil {
		logger = log.WithField("component", "ledger-service")
	}
	return &LedgerService{deps: deps, logger: logger}
}

// UpdateOrder прогоняет конвейер пересчёта под блокировкой заказа.
func (s *LedgerService) UpdateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}

	var order domain.Order
	run := func(ctx context.Context) error {
		var err error
		order, err = s.deps.Updater.Update(ctx, orderID)
		return err
	}
	if s.deps.Mutex != nil {
		err = s.deps.Mutex.WithLock(ctx, orderID, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, s.fail(MethodUpdateOrder, orderID, err)
	}
	return respond(map[string]any{"order": orderView(order)})
}

// ShortShip отменяет единицы заказа, которые не будут отгружены.
func (s *LedgerService) ShortShip(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}
	unitIDs, err := requiredStrings(req, "unit_ids")
	if err != nil {
		return nil, err
	}
	whodunnit := optionalString(req, "whodunnit")

	cancels, err := s.deps.Cancellations.ShortShip(ctx, orderID, unitIDs, whodunnit)
	if err != nil {
		return nil, s.fail(MethodShortShip, orderID, err)
	}
	views := make([]any, 0, len(cancels))
	for _, cancel := range cancels {
		views = append(views, unitCancelView(cancel))
	}
	return s.withOrder(orderID, map[string]any{"unit_cancels": views})
}

// ShipUnits отгружает единицы одной коробкой. Если передан shipment_id,
// отгружаются все оставшиеся на складе единицы этой отгрузки.
func (s *LedgerService) ShipUnits(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}

	var carton domain.Carton
	if shipmentID := optionalString(req, "shipment_id"); shipmentID != "" {
		carton, err = s.deps.Shipping.ShipShipment(ctx, orderID, shipmentID, optionalString(req, "tracking"))
	} else {
		unitIDs, argErr := requiredStrings(req, "unit_ids")
		if argErr != nil {
			return nil, argErr
		}
		carton, err = s.deps.Shipping.ShipUnits(ctx, shipping.ShipRequest{
			OrderID:          orderID,
			UnitIDs:          unitIDs,
			StockLocationID:  optionalString(req, "stock_location_id"),
			ShippingMethodID: optionalString(req, "shipping_method_id"),
			AddressID:        optionalString(req, "address_id"),
			Tracking:         optionalString(req, "tracking"),
		})
	}
	if err != nil {
		return nil, s.fail(MethodShipUnits, orderID, err)
	}
	return s.withOrder(orderID, map[string]any{"carton": cartonView(carton)})
}

// ResendCartonEmail повторно ставит письмо об отгрузке коробки.
func (s *LedgerService) ResendCartonEmail(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cartonID, err := requiredString(req, "carton_id")
	if err != nil {
		return nil, err
	}
	if err := s.deps.Shipping.Resend(ctx, cartonID); err != nil {
		return nil, s.fail(MethodResendCartonEmail, cartonID, err)
	}
	return respond(map[string]any{"carton_id": cartonID, "resend": true})
}

// CaptureCarton захватывает оплату за отгруженную коробку.
func (s *LedgerService) CaptureCarton(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	cartonID, err := requiredString(req, "carton_id")
	if err != nil {
		return nil, err
	}
	capture, err := s.deps.CartonCapture.Capture(ctx, cartonID)
	if err != nil {
		return nil, s.fail(MethodCaptureCarton, cartonID, err)
	}
	return respond(map[string]any{"capture": captureView(capture)})
}

// CaptureOrder списывает непокрытую часть total заказа.
func (s *LedgerService) CaptureOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}
	captured, err := s.deps.OrderCapture.CapturePayments(ctx, orderID)
	if err != nil {
		return nil, s.fail(MethodCaptureOrder, orderID, err)
	}
	return s.withOrder(orderID, map[string]any{"captured_amount": captured.StringFixed(2)})
}

// ActivatePromotion применяет акцию по коду или идентификатору.
func (s *LedgerService) ActivatePromotion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}
	applied, err := s.deps.Promotions.Apply(ctx, promotion.ApplyRequest{
		OrderID:     orderID,
		Code:        optionalString(req, "code"),
		PromotionID: optionalString(req, "promotion_id"),
		LineItemID:  optionalString(req, "line_item_id"),
	})
	if err != nil {
		return nil, s.fail(MethodActivatePromotion, orderID, err)
	}
	return s.withOrder(orderID, map[string]any{"activated": applied})
}

// CancelShipment отменяет отгрузку заказа.
func (s *LedgerService) CancelShipment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.shipmentEvent(ctx, MethodCancelShipment, req, s.deps.Shipments.CancelShipment)
}

// ResumeShipment возобновляет отменённую отгрузку.
func (s *LedgerService) ResumeShipment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.shipmentEvent(ctx, MethodResumeShipment, req, s.deps.Shipments.ResumeShipment)
}

func (s *LedgerService) shipmentEvent(
	ctx context.Context,
	method string,
	req *structpb.Struct,
	fire func(ctx context.Context, orderID, shipmentID string) (domain.Shipment, error),
) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}
	shipmentID, err := requiredString(req, "shipment_id")
	if err != nil {
		return nil, err
	}
	shipment, err := fire(ctx, orderID, shipmentID)
	if err != nil {
		return nil, s.fail(method, orderID, err)
	}
	return s.withOrder(orderID, map[string]any{"shipment": shipmentView(shipment)})
}

// FillBackorders переводит в on_hand покрытые складом единицы отгрузки.
func (s *LedgerService) FillBackorders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}
	shipmentID, err := requiredString(req, "shipment_id")
	if err != nil {
		return nil, err
	}
	filled, err := s.deps.Units.FillBackorders(ctx, orderID, shipmentID)
	if err != nil {
		return nil, s.fail(MethodFillBackorders, orderID, err)
	}
	return s.withOrder(orderID, map[string]any{"filled_unit_ids": unitIDs(filled)})
}

// ReturnUnits принимает возврат отгруженных единиц.
func (s *LedgerService) ReturnUnits(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}
	ids, err := requiredStrings(req, "unit_ids")
	if err != nil {
		return nil, err
	}
	returned, err := s.deps.Units.ReturnUnits(ctx, orderID, ids)
	if err != nil {
		return nil, s.fail(MethodReturnUnits, orderID, err)
	}
	return s.withOrder(orderID, map[string]any{"returned_unit_ids": unitIDs(returned)})
}

// ApplyFreeShipping активирует автоматические акции бесплатной доставки.
func (s *LedgerService) ApplyFreeShipping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}
	activated, err := s.deps.Promotions.ApplyFreeShipping(ctx, orderID)
	if err != nil {
		return nil, s.fail(MethodApplyFreeShipping, orderID, err)
	}
	return s.withOrder(orderID, map[string]any{"activated_count": activated})
}

// GetOrder возвращает заказ, его коробки с захватами и timeline.
func (s *LedgerService) GetOrder(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}
	order, err := s.deps.Orders.Get(orderID)
	if err != nil {
		return nil, s.fail(MethodGetOrder, orderID, err)
	}

	body := map[string]any{"order": orderView(order)}
	if s.deps.Cartons != nil {
		cartons, err := s.deps.Cartons.ListByOrder(orderID)
		if err != nil {
			return nil, s.fail(MethodGetOrder, orderID, err)
		}
		views := make([]any, 0, len(cartons))
		for _, carton := range cartons {
			view := cartonView(carton)
			if s.deps.Captures != nil {
				captures, err := s.deps.Captures.ListByCarton(carton.ID)
				if err != nil {
					return nil, s.fail(MethodGetOrder, orderID, err)
				}
				captureViews := make([]any, 0, len(captures))
				for _, capture := range captures {
					captureViews = append(captureViews, captureView(capture))
				}
				view["captures"] = captureViews
			}
			views = append(views, view)
		}
		body["cartons"] = views
	}
	if s.deps.Timeline != nil {
		events, err := s.deps.Timeline.List(orderID, optionalStrings(req, "timeline_types")...)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to list timeline events")
		}
		views := make([]any, 0, len(events))
		for _, event := range events {
			views = append(views, timelineView(event))
		}
		body["timeline"] = views
	}
	return respond(body)
}

// withOrder дополняет ответ актуальным состоянием заказа после операции.
func (s *LedgerService) withOrder(orderID string, body map[string]any) (*structpb.Struct, error) {
	order, err := s.deps.Orders.Get(orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to reload order")
		return respond(body)
	}
	body["order"] = orderView(order)
	return respond(body)
}

// fail логирует ошибку операции и переводит её в gRPC-статус.
func (s *LedgerService) fail(method, subjectID string, err error) error {
	st := toStatus(err)
	entry := s.logger.WithError(err).WithFields(log.Fields{
		"operation": method,
		"subject":   subjectID,
		"code":      st.Code().String(),
	})
	if st.Code() == codes.Internal {
		entry.Error("ledger operation failed")
	} else {
		entry.Warn("ledger operation rejected")
	}
	return st.Err()
}

func respond(body map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(body)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

var _ LedgerServer = (*LedgerService)(nil)
