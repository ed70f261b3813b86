package orders

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	errx "github.com/chative-support/server/internal/core/error"
	logx "github.com/chative-support/server/pkg/logger"
)

// OrderSummary is what the order tools report back to the model.
type OrderSummary struct {
	OrderID  uint        `json:"order_id"`
	Status   OrderStatus `json:"status"`
	Total    float64     `json:"total"`
	Currency string      `json:"currency"`

	TotalExact decimal.Decimal `json:"-"`
}

// UpdateResult reports the outcome of an item replacement. Refusals because of
// the order status are carried in Error rather than as a Go error so the model
// can relay them to the customer.
type UpdateResult struct {
	OrderID  uint        `json:"order_id"`
	Status   OrderStatus `json:"status,omitempty"`
	Total    float64     `json:"total,omitempty"`
	Currency string      `json:"currency,omitempty"`
	Updated  bool        `json:"updated"`
	Error    string      `json:"error,omitempty"`
}

type Option func(*Service)

// WithStatusPicker overrides the random status assignment of new orders.
func WithStatusPicker(pick func() OrderStatus) Option {
	return func(s *Service) { s.pickStatus = pick }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service implements the order operations. Every operation runs inside a
// single transaction, so a failure leaves no partial order behind.
type Service struct {
	db         *gorm.DB
	resolver   *Resolver
	pickStatus func() OrderStatus
	now        func() time.Time
}

func NewService(db *gorm.DB, resolver *Resolver, opts ...Option) *Service {
	if resolver == nil {
		resolver = NewResolver(DefaultMatchThreshold)
	}
	s := &Service{
		db:       db,
		resolver: resolver,
		pickStatus: func() OrderStatus {
			return OrderStatuses[rand.IntN(len(OrderStatuses))]
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type resolvedLine struct {
	match    *Match
	quantity int
}

func (s *Service) resolveItems(ctx context.Context, tx *gorm.DB, items ItemList) ([]resolvedLine, decimal.Decimal, error) {
	if err := items.Validate(); err != nil {
		return nil, decimal.Zero, err
	}
	lines := make([]resolvedLine, 0, len(items))
	total := decimal.Zero
	for _, it := range items {
		m, err := s.resolver.Resolve(ctx, tx, it.Name)
		if err != nil {
			return nil, decimal.Zero, err
		}
		lines = append(lines, resolvedLine{match: m, quantity: it.Quantity})
		total = total.Add(m.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return lines, total, nil
}

func insertItems(ctx context.Context, tx *gorm.DB, orderID uint, lines []resolvedLine) error {
	rows := make([]OrderItem, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, OrderItem{
			OrderID:   orderID,
			ProductID: l.match.ProductID,
			Quantity:  l.quantity,
			UnitPrice: l.match.UnitPrice,
		})
	}
	return tx.WithContext(ctx).Create(&rows).Error
}

func findCustomer(ctx context.Context, tx *gorm.DB, email string) (*Customer, error) {
	var c Customer
	err := tx.WithContext(ctx).Where("email = ?", strings.TrimSpace(email)).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, email)
	}
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	return &c, nil
}

// PlaceNewOrder creates an order for the customer with the given email.
// Items are fuzzy-resolved against the catalog; the total is the sum of
// unit price times quantity and the status is picked at random.
func (s *Service) PlaceNewOrder(ctx context.Context, email string, items ItemList) (*OrderSummary, error) {
	var summary *OrderSummary
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := findCustomer(ctx, tx, email)
		if err != nil {
			return err
		}
		lines, total, err := s.resolveItems(ctx, tx, items)
		if err != nil {
			return err
		}

		placed := s.now().UTC()
		order := Order{
			CustomerID: customer.CustomerID,
			Status:     s.pickStatus(),
			Total:      total,
			Currency:   Currency,
			PlacedAt:   &placed,
		}
		if err := tx.Create(&order).Error; err != nil {
			return errx.WrapDB(err)
		}
		if err := insertItems(ctx, tx, order.OrderID, lines); err != nil {
			return errx.WrapDB(err)
		}
		summary = newSummary(&order)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logx.Info().
		Uint("order_id", summary.OrderID).
		Str("status", string(summary.Status)).
		Str("total", summary.TotalExact.StringFixed(2)).
		Msg("Placed new order")
	return summary, nil
}

// UpdateOrderItemsIfProcessing replaces all items of an order and recomputes
// its total, but only while the order is still processing.
func (s *Service) UpdateOrderItemsIfProcessing(ctx context.Context, orderID uint, items ItemList) (*UpdateResult, error) {
	var result *UpdateResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order Order
		if err := tx.First(&order, "order_id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
			}
			return errx.WrapDB(err)
		}
		if order.Status != StatusProcessing {
			result = &UpdateResult{
				OrderID: orderID,
				Status:  order.Status,
				Error:   fmt.Sprintf("Order %d is %s; changes allowed only in processing.", orderID, order.Status),
			}
			return nil
		}

		lines, total, err := s.resolveItems(ctx, tx, items)
		if err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", orderID).Delete(&OrderItem{}).Error; err != nil {
			return errx.WrapDB(err)
		}
		if err := insertItems(ctx, tx, orderID, lines); err != nil {
			return errx.WrapDB(err)
		}
		if err := tx.Model(&order).Update("total", total).Error; err != nil {
			return errx.WrapDB(err)
		}
		order.Total = total
		sum := newSummary(&order)
		result = &UpdateResult{
			OrderID:  orderID,
			Status:   sum.Status,
			Total:    sum.Total,
			Currency: sum.Currency,
			Updated:  true,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Updated {
		logx.Info().Uint("order_id", orderID).Float64("total", result.Total).Msg("Updated order items")
	} else {
		logx.Info().Uint("order_id", orderID).Str("status", string(result.Status)).Msg("Refused order update")
	}
	return result, nil
}

// GetOrderStatus is read-only; calling it repeatedly yields the same status.
func (s *Service) GetOrderStatus(ctx context.Context, orderID uint) (OrderStatus, error) {
	var order Order
	err := s.db.WithContext(ctx).Select("order_id", "status").First(&order, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return "", errx.WrapDB(err)
	}
	return order.Status, nil
}

// GetLatestOrderIDByProduct finds the customer's most recently placed order
// containing the product itemName resolves to. Orders without a placement
// time sort last; equal times fall back to the highest order id.
func (s *Service) GetLatestOrderIDByProduct(ctx context.Context, email, itemName string) (uint, error) {
	var orderID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer, err := findCustomer(ctx, tx, email)
		if err != nil {
			return err
		}
		m, err := s.resolver.Resolve(ctx, tx, itemName)
		if err != nil {
			return err
		}

		var ids []uint
		err = tx.Model(&Order{}).
			Joins("JOIN order_items ON order_items.order_id = orders.order_id").
			Where("orders.customer_id = ? AND order_items.product_id = ?", customer.CustomerID, m.ProductID).
			Order("CASE WHEN orders.placed_at IS NULL THEN 1 ELSE 0 END, orders.placed_at DESC, orders.order_id DESC").
			Limit(1).
			Pluck("orders.order_id", &ids).Error
		if err != nil {
			return errx.WrapDB(err)
		}
		if len(ids) == 0 {
			return fmt.Errorf("%w: %s", ErrNoMatchingOrder, m.Name)
		}
		orderID = ids[0]
		return nil
	})
	return orderID, err
}

// OrderBelongsTo reports whether orderID was placed by the customer with the
// given email.
func (s *Service) OrderBelongsTo(ctx context.Context, orderID uint, email string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Order{}).
		Joins("JOIN customers ON customers.customer_id = orders.customer_id").
		Where("orders.order_id = ? AND customers.email = ?", orderID, strings.TrimSpace(email)).
		Count(&n).Error
	if err != nil {
		return false, errx.WrapDB(err)
	}
	return n > 0, nil
}

func newSummary(o *Order) *OrderSummary {
	total := o.Total.Round(2)
	return &OrderSummary{
		OrderID:    o.OrderID,
		Status:     o.Status,
		Total:      total.InexactFloat64(),
		Currency:   o.Currency,
		TotalExact: total,
	}
}
