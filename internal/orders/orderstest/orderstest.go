// Package orderstest provides a seeded order database for tests of packages
// built on top of the order tools.
package orderstest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/chative-support/server/internal/orders"
	"github.com/chative-support/server/pkg/database"
)

const (
	Alice = "alice@example.com"
	Bob   = "bob@example.com"
	Carol = "carol@example.com"

	CarolPhone = "+1-206-555-0155"
)

// NewDB opens a migrated sqlite database in a temp dir with three customers
// and a four product catalog.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	cfg := database.Config{
		Driver:       database.DriverSQLite,
		DSN:          filepath.Join(t.TempDir(), "support.db"),
		MaxOpenConns: 1,
	}
	db, err := cfg.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	ctx := context.Background()
	require.NoError(t, orders.Migrate(ctx, db))
	require.NoError(t, orders.Seed(ctx, db, &orders.SeedData{
		Customers: []orders.Customer{
			{Name: "Alice Johnson", Email: Alice, Phone: "+1-555-0101"},
			{Name: "Bob Smith", Email: Bob, Phone: "+1-555-0102"},
			{Name: "Carol Diaz", Email: Carol, Phone: CarolPhone},
		},
		Products: []orders.SeedProduct{
			{Product: orders.Product{SKU: "DSK-LIFT-01", Name: "Lift Desk", Stock: 10}, Price: "549.00"},
			{Product: orders.Product{SKU: "MAT-FLOOR-01", Name: "Floor Mat", Stock: 50}, Price: "39.99"},
			{Product: orders.Product{SKU: "LMP-GLOW-01", Name: "Glow Lamp", Stock: 20}, Price: "59.50"},
			{Product: orders.Product{SKU: "PAD-DESK-01", Name: "Desk Pad", Stock: 30}, Price: "24.99"},
		},
	}))
	return db
}

// Service returns an order service over db whose new orders are always in
// the given status.
func Service(db *gorm.DB, status orders.OrderStatus) *orders.Service {
	return orders.NewService(db, orders.NewResolver(orders.DefaultMatchThreshold),
		orders.WithStatusPicker(func() orders.OrderStatus { return status }))
}
