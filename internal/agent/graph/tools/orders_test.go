package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chative-support/server/internal/orders"
	"github.com/chative-support/server/internal/orders/orderstest"
)

func aliceTools(t *testing.T, status orders.OrderStatus) map[string]tool.InvokableTool {
	t.Helper()
	db := orderstest.NewDB(t)
	byName, infos, err := Index(context.Background(), OrderTools(orderstest.Service(db, status), orderstest.Alice))
	require.NoError(t, err)
	require.Len(t, infos, 4)
	return byName
}

func run(t *testing.T, tl tool.InvokableTool, args string) (map[string]any, error) {
	t.Helper()
	out, err := tl.InvokableRun(context.Background(), args)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	return m, nil
}

func TestPlaceOrderAndFollowUp(t *testing.T) {
	byName := aliceTools(t, orders.StatusProcessing)

	placed, err := run(t, byName[ToolPlaceNewOrder],
		`{"customer_email":"Alice@Example.com","items":[{"name":"2 Floor Mats","quantity":2}]}`)
	require.NoError(t, err)
	assert.Equal(t, "processing", placed["status"])
	assert.InDelta(t, 79.98, placed["total"], 1e-9)
	id := placed["order_id"].(float64)
	assert.Positive(t, id)

	latest, err := run(t, byName[ToolLatestOrderIDByProduct], `{"email":"alice@example.com","item_name":"floor mat"}`)
	require.NoError(t, err)
	assert.Equal(t, id, latest["order_id"])

	status, err := run(t, byName[ToolGetOrderStatus], `{"order_id":"1"}`)
	require.NoError(t, err)
	assert.Equal(t, "processing", status["status"])

	updated, err := run(t, byName[ToolUpdateOrderItems], `{"order_id":1,"items":"[{\"name\":\"Glow Lamp\",\"quantity\":1}]"}`)
	require.NoError(t, err)
	assert.Equal(t, true, updated["updated"])
	assert.InDelta(t, 59.5, updated["total"], 1e-9)
}

func TestToolsRefuseOtherCustomers(t *testing.T) {
	db := orderstest.NewDB(t)
	svc := orderstest.Service(db, orders.StatusProcessing)
	bobOrder, err := svc.PlaceNewOrder(context.Background(), orderstest.Bob, orders.ItemList{{Name: "Desk Pad", Quantity: 1}})
	require.NoError(t, err)

	byName, _, err := Index(context.Background(), OrderTools(svc, orderstest.Alice))
	require.NoError(t, err)

	_, err = run(t, byName[ToolPlaceNewOrder], `{"customer_email":"bob@example.com","items":[{"name":"Desk Pad"}]}`)
	assert.ErrorContains(t, err, orders.ErrCustomerForbidden.Error())

	_, err = run(t, byName[ToolLatestOrderIDByProduct], `{"email":"bob@example.com","item_name":"Desk Pad"}`)
	assert.ErrorContains(t, err, orders.ErrCustomerForbidden.Error())

	args, _ := json.Marshal(map[string]any{"order_id": bobOrder.OrderID})
	_, err = run(t, byName[ToolGetOrderStatus], string(args))
	assert.ErrorContains(t, err, orders.ErrOrderNotFound.Error())

	args, _ = json.Marshal(map[string]any{"order_id": bobOrder.OrderID, "items": []map[string]any{{"name": "Glow Lamp"}}})
	_, err = run(t, byName[ToolUpdateOrderItems], string(args))
	assert.ErrorContains(t, err, orders.ErrOrderNotFound.Error())
}

func TestToolArgumentErrors(t *testing.T) {
	byName := aliceTools(t, orders.StatusProcessing)

	_, err := run(t, byName[ToolPlaceNewOrder], `{"customer_email":"alice@example.com","items":[{"name":"Floor Mat","quantity":1.5}]}`)
	assert.Error(t, err)

	_, err = run(t, byName[ToolGetOrderStatus], `{"order_id":"abc"}`)
	assert.Error(t, err)

	_, err = run(t, byName[ToolPlaceNewOrder], `{"customer_email":"alice@example.com","items":[{"name":"xyz","quantity":1}]}`)
	assert.ErrorContains(t, err, orders.ErrNoProductMatch.Error())
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "Error: Tool cancel_order not found.", UnknownTool("cancel_order"))
	assert.Equal(t, "Error: "+assert.AnError.Error(), ToolError(assert.AnError))
}
