package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
)

// OrderStatuses lists every status a new order may be assigned.
var OrderStatuses = []OrderStatus{StatusProcessing, StatusShipped, StatusDelivered}

// Currency is the only currency orders are priced in.
const Currency = "USD"

type Customer struct {
	CustomerID uint      `gorm:"column:customer_id;primaryKey;autoIncrement" yaml:"-"`
	Name       string    `gorm:"size:128;not null" yaml:"name"`
	Email      string    `gorm:"size:255;not null;uniqueIndex" yaml:"email"`
	Phone      string    `gorm:"size:32" yaml:"phone"`
	CreatedAt  time.Time `yaml:"-"`
}

func (Customer) TableName() string { return "customers" }

type Product struct {
	ProductID uint            `gorm:"column:product_id;primaryKey;autoIncrement" yaml:"-"`
	SKU       string          `gorm:"column:sku;size:64;not null;uniqueIndex" yaml:"sku"`
	Name      string          `gorm:"size:255;not null" yaml:"name"`
	Category  string          `gorm:"size:64" yaml:"category"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(10,2);not null" yaml:"-"`
	Stock     int             `gorm:"not null;default:0" yaml:"stock"`
}

func (Product) TableName() string { return "products" }

type Order struct {
	OrderID    uint            `gorm:"column:order_id;primaryKey;autoIncrement"`
	CustomerID uint            `gorm:"column:customer_id;not null;index"`
	Status     OrderStatus     `gorm:"size:16;not null;index"`
	Total      decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency   string          `gorm:"size:3;not null"`
	PlacedAt   *time.Time      `gorm:"column:placed_at;index"`

	Items []OrderItem `gorm:"foreignKey:OrderID;references:OrderID"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	OrderItemID uint            `gorm:"column:order_item_id;primaryKey;autoIncrement"`
	OrderID     uint            `gorm:"column:order_id;not null;index"`
	ProductID   uint            `gorm:"column:product_id;not null;index"`
	Quantity    int             `gorm:"not null"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(10,2);not null"`
}

func (OrderItem) TableName() string { return "order_items" }

// Models lists every table owned by the order store, in migration order.
func Models() []any {
	return []any{&Customer{}, &Product{}, &Order{}, &OrderItem{}}
}
