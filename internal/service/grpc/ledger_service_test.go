package grpcsvc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/orderledger/internal/app"
	"github.com/vladislavdragonenkov/orderledger/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/orderledger/internal/service/grpc"
)

const bufSize = 1024 * 1024

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.DebugLevel)
	return logger.WithField("component", "test")
}

func newTestServer(t *testing.T) (*grpcsvc.LedgerClient, *app.Services) {
	t.Helper()
	logger := loggerForTests()
	services := app.NewServices(logger)

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	grpcsvc.RegisterLedgerServer(server, grpcsvc.NewLedgerService(services.LedgerDependencies(), logger))
	go func() {
		if err := server.Serve(listener); err != nil {
			logger.WithError(err).Error("grpc serve failed")
		}
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})
	return grpcsvc.NewLedgerClient(conn), services
}

// completedOrder: завершённый заказ на две единицы по 10 с авторизованной картой.
func completedOrder() domain.Order {
	return domain.Order{
		ID:          "o-1",
		Number:      "R100",
		State:       domain.OrderStateComplete,
		Currency:    "USD",
		CompletedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		LineItems: []domain.LineItem{
			{ID: "li-1", Price: domain.MustMoney("10"), Quantity: 2, Currency: "USD", Variant: domain.Variant{ID: "v-1"}},
		},
		Shipments: []domain.Shipment{
			{ID: "sh-1", Number: "H100", StockLocationID: "loc-1", ShippingMethodID: "ups", State: domain.ShipmentStateReady},
		},
		InventoryUnits: []domain.InventoryUnit{
			{ID: "u-1", LineItemID: "li-1", VariantID: "v-1", ShipmentID: "sh-1", State: domain.UnitStateOnHand},
			{ID: "u-2", LineItemID: "li-1", VariantID: "v-1", ShipmentID: "sh-1", State: domain.UnitStateOnHand},
		},
		Payments: []domain.Payment{{
			ID:         "p-1",
			MethodType: domain.PaymentMethodCreditCard,
			Status:     domain.PaymentStatusPending,
			Amount:     domain.MustMoney("20"),
		}},
	}
}

func seed(t *testing.T, services *app.Services, order domain.Order) {
	t.Helper()
	_, err := services.Updater.Recalculate(context.Background(), &order)
	require.NoError(t, err)
	require.NoError(t, services.Orders.Create(order))
}

func requireCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok, "expected grpc status, got %v", err)
	require.Equal(t, code, st.Code(), st.Message())
}

func TestLedgerService_ShipCaptureAndShortShip(t *testing.T) {
	client, services := newTestServer(t)
	seed(t, services, completedOrder())
	ctx := context.Background()

	got, err := client.Call(ctx, grpcsvc.MethodGetOrder, map[string]any{"order_id": "o-1"})
	require.NoError(t, err)
	order := got["order"].(map[string]any)
	require.Equal(t, "20.00", order["total"])
	require.Equal(t, "balance_due", order["payment_state"])

	shipped, err := client.Call(ctx, grpcsvc.MethodShipUnits, map[string]any{
		"order_id": "o-1",
		"unit_ids": []any{"u-1"},
		"tracking": "1Z",
	})
	require.NoError(t, err)
	carton := shipped["carton"].(map[string]any)
	cartonID := carton["id"].(string)
	require.NotEmpty(t, cartonID)
	require.Equal(t, []any{"u-1"}, carton["inventory_unit_ids"])
	require.Equal(t, "partial", shipped["order"].(map[string]any)["shipment_state"])

	captured, err := client.Call(ctx, grpcsvc.MethodCaptureCarton, map[string]any{"carton_id": cartonID})
	require.NoError(t, err)
	require.Equal(t, "10.00", captured["capture"].(map[string]any)["total"])

	_, err = client.Call(ctx, grpcsvc.MethodCaptureCarton, map[string]any{"carton_id": cartonID})
	requireCode(t, err, codes.FailedPrecondition)

	canceled, err := client.Call(ctx, grpcsvc.MethodShortShip, map[string]any{
		"order_id":  "o-1",
		"unit_ids":  []any{"u-2"},
		"whodunnit": "warehouse",
	})
	require.NoError(t, err)
	cancels := canceled["unit_cancels"].([]any)
	require.Len(t, cancels, 1)
	require.Equal(t, "u-2", cancels[0].(map[string]any)["inventory_unit_id"])

	_, err = client.Call(ctx, grpcsvc.MethodResendCartonEmail, map[string]any{"carton_id": cartonID})
	require.NoError(t, err)

	full, err := client.Call(ctx, grpcsvc.MethodGetOrder, map[string]any{"order_id": "o-1"})
	require.NoError(t, err)
	cartons := full["cartons"].([]any)
	require.Len(t, cartons, 1)
	captures := cartons[0].(map[string]any)["captures"].([]any)
	require.Len(t, captures, 1)
	require.Equal(t, "10.00", captures[0].(map[string]any)["total"])
	require.NotEmpty(t, full["timeline"].([]any))

	filtered, err := client.Call(ctx, grpcsvc.MethodGetOrder, map[string]any{
		"order_id":       "o-1",
		"timeline_types": []any{domain.TimelineShortShip},
	})
	require.NoError(t, err)
	shortShips := filtered["timeline"].([]any)
	require.NotEmpty(t, shortShips)
	require.Less(t, len(shortShips), len(full["timeline"].([]any)))
	for _, event := range shortShips {
		require.Equal(t, domain.TimelineShortShip, event.(map[string]any)["type"])
		require.Positive(t, event.(map[string]any)["seq"])
	}
}

func TestLedgerService_FillBackordersAndReturnUnits(t *testing.T) {
	client, services := newTestServer(t)
	order := completedOrder()
	order.InventoryUnits[1].State = domain.UnitStateBackordered
	seed(t, services, order)
	ctx := context.Background()

	_, err := services.Stock.UpsertStockItem(domain.StockItem{StockLocationID: "loc-1", VariantID: "v-1", Backorderable: true})
	require.NoError(t, err)
	_, err = services.Stock.Move("loc-1", "v-1", 1, "supplier")
	require.NoError(t, err)

	filled, err := client.Call(ctx, grpcsvc.MethodFillBackorders, map[string]any{"order_id": "o-1", "shipment_id": "sh-1"})
	require.NoError(t, err)
	require.Equal(t, []any{"u-2"}, filled["filled_unit_ids"])
	require.NotEqual(t, "backorder", filled["order"].(map[string]any)["shipment_state"])

	_, err = client.Call(ctx, grpcsvc.MethodShipUnits, map[string]any{"order_id": "o-1", "shipment_id": "sh-1"})
	require.NoError(t, err)

	returned, err := client.Call(ctx, grpcsvc.MethodReturnUnits, map[string]any{"order_id": "o-1", "unit_ids": []any{"u-1"}})
	require.NoError(t, err)
	require.Equal(t, []any{"u-1"}, returned["returned_unit_ids"])
	units := returned["order"].(map[string]any)["inventory_units"].([]any)
	require.Equal(t, "returned", units[0].(map[string]any)["state"])

	_, err = client.Call(ctx, grpcsvc.MethodReturnUnits, map[string]any{"order_id": "o-1", "unit_ids": []any{"u-1"}})
	requireCode(t, err, codes.FailedPrecondition)
	_, err = client.Call(ctx, grpcsvc.MethodFillBackorders, map[string]any{"order_id": "o-1"})
	requireCode(t, err, codes.InvalidArgument)
}

func TestLedgerService_ApplyFreeShipping(t *testing.T) {
	client, services := newTestServer(t)
	order := completedOrder()
	order.Shipments[0].Cost = domain.MustMoney("5")
	seed(t, services, order)
	require.NoError(t, services.Promotions.Create(domain.Promotion{
		ID:      "free",
		Name:    "Free shipping",
		Actions: []domain.PromotionAction{{ID: "act-free", Type: domain.ActionFreeShipping}},
	}))
	ctx := context.Background()

	applied, err := client.Call(ctx, grpcsvc.MethodApplyFreeShipping, map[string]any{"order_id": "o-1"})
	require.NoError(t, err)
	require.Equal(t, float64(1), applied["activated_count"])
	require.Equal(t, "20.00", applied["order"].(map[string]any)["total"])

	again, err := client.Call(ctx, grpcsvc.MethodApplyFreeShipping, map[string]any{"order_id": "o-1"})
	require.NoError(t, err)
	require.Equal(t, float64(0), again["activated_count"])
}

func TestLedgerService_ErrorMapping(t *testing.T) {
	client, services := newTestServer(t)
	seed(t, services, completedOrder())
	ctx := context.Background()

	tests := []struct {
		name   string
		method string
		req    map[string]any
		code   codes.Code
	}{
		{name: "missing order id", method: grpcsvc.MethodGetOrder, req: map[string]any{}, code: codes.InvalidArgument},
		{name: "unknown order", method: grpcsvc.MethodGetOrder, req: map[string]any{"order_id": "missing"}, code: codes.NotFound},
		{name: "units from other order", method: grpcsvc.MethodShortShip, req: map[string]any{"order_id": "o-1", "unit_ids": []any{"foreign"}}, code: codes.InvalidArgument},
		{name: "empty unit ids", method: grpcsvc.MethodShipUnits, req: map[string]any{"order_id": "o-1", "unit_ids": []any{}}, code: codes.InvalidArgument},
		{name: "non-string unit id", method: grpcsvc.MethodShortShip, req: map[string]any{"order_id": "o-1", "unit_ids": []any{float64(1)}}, code: codes.InvalidArgument},
		{name: "promotion not specified", method: grpcsvc.MethodActivatePromotion, req: map[string]any{"order_id": "o-1"}, code: codes.InvalidArgument},
		{name: "unknown promotion code", method: grpcsvc.MethodActivatePromotion, req: map[string]any{"order_id": "o-1", "code": "nope"}, code: codes.NotFound},
		{name: "unknown carton", method: grpcsvc.MethodCaptureCarton, req: map[string]any{"carton_id": "missing"}, code: codes.NotFound},
		{name: "unknown shipment", method: grpcsvc.MethodCancelShipment, req: map[string]any{"order_id": "o-1", "shipment_id": "missing"}, code: codes.NotFound},
		{name: "resume ready shipment", method: grpcsvc.MethodResumeShipment, req: map[string]any{"order_id": "o-1", "shipment_id": "sh-1"}, code: codes.FailedPrecondition},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.Call(ctx, tc.method, tc.req)
			requireCode(t, err, tc.code)
		})
	}
}

func TestLedgerService_CancelAndResumeShipment(t *testing.T) {
	client, services := newTestServer(t)
	seed(t, services, completedOrder())
	ctx := context.Background()

	canceled, err := client.Call(ctx, grpcsvc.MethodCancelShipment, map[string]any{"order_id": "o-1", "shipment_id": "sh-1"})
	require.NoError(t, err)
	require.Equal(t, "canceled", canceled["shipment"].(map[string]any)["state"])

	resumed, err := client.Call(ctx, grpcsvc.MethodResumeShipment, map[string]any{"order_id": "o-1", "shipment_id": "sh-1"})
	require.NoError(t, err)
	require.NotEqual(t, "canceled", resumed["shipment"].(map[string]any)["state"])
}

func TestLedgerService_UpdateOrderAndCaptureOrder(t *testing.T) {
	client, services := newTestServer(t)
	order := completedOrder()
	order.InventoryUnits[0].State = domain.UnitStateShipped
	order.InventoryUnits[1].State = domain.UnitStateShipped
	order.Shipments[0].State = domain.ShipmentStateShipped
	seed(t, services, order)
	ctx := context.Background()

	updated, err := client.Call(ctx, grpcsvc.MethodUpdateOrder, map[string]any{"order_id": "o-1"})
	require.NoError(t, err)
	require.Equal(t, "shipped", updated["order"].(map[string]any)["shipment_state"])

	captured, err := client.Call(ctx, grpcsvc.MethodCaptureOrder, map[string]any{"order_id": "o-1"})
	require.NoError(t, err)
	require.Equal(t, "20.00", captured["captured_amount"])
	require.Equal(t, "paid", captured["order"].(map[string]any)["payment_state"])
}
