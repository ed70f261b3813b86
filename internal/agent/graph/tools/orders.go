package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-support/server/internal/orders"
)

const (
	ToolPlaceNewOrder          = "place_new_order"
	ToolUpdateOrderItems       = "update_order_items_if_processing"
	ToolLatestOrderIDByProduct = "get_latest_order_id_by_product"
	ToolGetOrderStatus         = "get_order_status"
)

// OrderID accepts order ids sent as JSON numbers or numeric strings.
type OrderID uint

func (o *OrderID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(bytes.TrimSpace(b), `"`)
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("order_id %q is not a positive integer", b)
	}
	*o = OrderID(n)
	return nil
}

type PlaceNewOrderInput struct {
	CustomerEmail string          `json:"customer_email"`
	Items         orders.ItemList `json:"items"`
}

type UpdateOrderItemsInput struct {
	OrderID OrderID         `json:"order_id"`
	Items   orders.ItemList `json:"items"`
}

type LatestOrderIDInput struct {
	Email    string `json:"email"`
	ItemName string `json:"item_name"`
}

type LatestOrderIDOutput struct {
	OrderID uint `json:"order_id"`
}

type OrderStatusInput struct {
	OrderID OrderID `json:"order_id"`
}

type OrderStatusOutput struct {
	OrderID uint   `json:"order_id"`
	Status  string `json:"status"`
}

var itemsParam = &schema.ParameterInfo{
	Type:     schema.Array,
	Desc:     "Requested products. Each entry has a product name and a whole-number quantity.",
	Required: true,
	ElemInfo: &schema.ParameterInfo{
		Type: schema.Object,
		SubParams: map[string]*schema.ParameterInfo{
			"name":     {Type: schema.String, Desc: "Product name as the customer wrote it", Required: true},
			"quantity": {Type: schema.Integer, Desc: "Number of units, defaults to 1"},
		},
	},
}

// OrderTools builds the order tools for one request. Every tool acts only on
// behalf of userIdentifier: other customers' emails and orders are refused.
func OrderTools(svc *orders.Service, userIdentifier string) []tool.InvokableTool {
	s := &scope{svc: svc, user: userIdentifier}
	return []tool.InvokableTool{
		utils.NewTool(&schema.ToolInfo{
			Name: ToolPlaceNewOrder,
			Desc: "Place a new order for the customer. Returns the order id, status, total and currency.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"customer_email": {Type: schema.String, Desc: "Email of the customer placing the order", Required: true},
				"items":          itemsParam,
			}),
		}, s.placeNewOrder),
		utils.NewTool(&schema.ToolInfo{
			Name: ToolUpdateOrderItems,
			Desc: "Replace the items of an existing order. Only orders in the 'processing' status can be changed.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"order_id": {Type: schema.Integer, Desc: "Id of the order to change", Required: true},
				"items":    itemsParam,
			}),
		}, s.updateOrderItems),
		utils.NewTool(&schema.ToolInfo{
			Name: ToolLatestOrderIDByProduct,
			Desc: "Find the id of the customer's most recent order that contains the named product.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"email":     {Type: schema.String, Desc: "Email of the customer", Required: true},
				"item_name": {Type: schema.String, Desc: "Product name as the customer wrote it", Required: true},
			}),
		}, s.latestOrderID),
		utils.NewTool(&schema.ToolInfo{
			Name: ToolGetOrderStatus,
			Desc: "Get the current status of an order.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"order_id": {Type: schema.Integer, Desc: "Id of the order", Required: true},
			}),
		}, s.orderStatus),
	}
}

// Index maps tools by name.
func Index(ctx context.Context, tools []tool.InvokableTool) (map[string]tool.InvokableTool, []*schema.ToolInfo, error) {
	byName := make(map[string]tool.InvokableTool, len(tools))
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("tool info: %w", err)
		}
		byName[info.Name] = t
		infos = append(infos, info)
	}
	return byName, infos, nil
}

// Describe renders "name: description" lines for prompts.
func Describe(infos []*schema.ToolInfo) []string {
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Name+": "+info.Desc)
	}
	return out
}

type scope struct {
	svc  *orders.Service
	user string
}

func (s *scope) checkEmail(email string) error {
	if !strings.EqualFold(strings.TrimSpace(email), s.user) {
		return fmt.Errorf("%w: %s", orders.ErrCustomerForbidden, email)
	}
	return nil
}

func (s *scope) checkOrder(ctx context.Context, id OrderID) error {
	ok, err := s.svc.OrderBelongsTo(ctx, uint(id), s.user)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", orders.ErrOrderNotFound, id)
	}
	return nil
}

func (s *scope) placeNewOrder(ctx context.Context, in *PlaceNewOrderInput) (*orders.OrderSummary, error) {
	if err := s.checkEmail(in.CustomerEmail); err != nil {
		return nil, err
	}
	return s.svc.PlaceNewOrder(ctx, s.user, in.Items)
}

func (s *scope) updateOrderItems(ctx context.Context, in *UpdateOrderItemsInput) (*orders.UpdateResult, error) {
	if err := s.checkOrder(ctx, in.OrderID); err != nil {
		return nil, err
	}
	return s.svc.UpdateOrderItemsIfProcessing(ctx, uint(in.OrderID), in.Items)
}

func (s *scope) latestOrderID(ctx context.Context, in *LatestOrderIDInput) (*LatestOrderIDOutput, error) {
	if err := s.checkEmail(in.Email); err != nil {
		return nil, err
	}
	id, err := s.svc.GetLatestOrderIDByProduct(ctx, s.user, in.ItemName)
	if err != nil {
		return nil, err
	}
	return &LatestOrderIDOutput{OrderID: id}, nil
}

func (s *scope) orderStatus(ctx context.Context, in *OrderStatusInput) (*OrderStatusOutput, error) {
	if err := s.checkOrder(ctx, in.OrderID); err != nil {
		return nil, err
	}
	status, err := s.svc.GetOrderStatus(ctx, uint(in.OrderID))
	if err != nil {
		return nil, err
	}
	return &OrderStatusOutput{OrderID: uint(in.OrderID), Status: string(status)}, nil
}

// ToolError renders err as the tool result the model sees.
func ToolError(err error) string {
	return "Error: " + err.Error()
}

// UnknownTool is the tool result for a call to a tool that does not exist.
func UnknownTool(name string) string {
	return fmt.Sprintf("Error: Tool %s not found.", name)
}

// softErrorTool reports tool failures as results so the model can react to them.
type softErrorTool struct {
	tool.InvokableTool
}

func (t softErrorTool) InvokableRun(ctx context.Context, arguments string, opts ...tool.Option) (string, error) {
	out, err := t.InvokableTool.InvokableRun(ctx, arguments, opts...)
	if err != nil {
		if inner := errors.Unwrap(err); inner != nil {
			err = inner
		}
		return ToolError(err), nil
	}
	return out, nil
}

// SoftErrors wraps tools so that errors become "Error: ..." results.
func SoftErrors(tools []tool.InvokableTool) []tool.BaseTool {
	out := make([]tool.BaseTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, softErrorTool{InvokableTool: t})
	}
	return out
}
