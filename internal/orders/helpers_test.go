package orders

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/chative-support/server/pkg/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := database.Config{
		Driver:       database.DriverSQLite,
		DSN:          filepath.Join(t.TempDir(), "orders.db"),
		MaxOpenConns: 1,
	}
	db, err := cfg.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, Seed(context.Background(), db, &SeedData{
		Customers: []Customer{
			{Name: "Alice Johnson", Email: "alice@example.com", Phone: "+1-555-0101"},
			{Name: "Bob Smith", Email: "bob@example.com", Phone: "+1-555-0102"},
		},
		Products: []SeedProduct{
			{Product: Product{SKU: "DSK-LIFT-01", Name: "Lift Desk"}, Price: "549.00"},
			{Product: Product{SKU: "MAT-FLOOR-01", Name: "Floor Mat"}, Price: "39.99"},
			{Product: Product{SKU: "LMP-GLOW-01", Name: "Glow Lamp"}, Price: "59.50"},
			{Product: Product{SKU: "PAD-DESK-01", Name: "Desk Pad"}, Price: "24.99"},
		},
	}))
	return db
}

func fixedStatus(s OrderStatus) Option {
	return WithStatusPicker(func() OrderStatus { return s })
}

func fixedClock(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}
