package orders

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	errx "github.com/chative-support/server/internal/core/error"
)

// SeedData is the YAML catalog and customer list loaded by `migrate --seed`.
type SeedData struct {
	Customers []Customer    `yaml:"customers"`
	Products  []SeedProduct `yaml:"products"`
}

type SeedProduct struct {
	Product `yaml:",inline"`
	Price   string `yaml:"price"`
}

func LoadSeed(path string) (*SeedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var data SeedData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &data, nil
}

// Migrate creates or updates the order tables.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return errx.WrapDB(err)
	}
	return nil
}

// Seed inserts customers and products, skipping rows whose email or SKU
// already exists.
func Seed(ctx context.Context, db *gorm.DB, data *SeedData) error {
	products := make([]Product, 0, len(data.Products))
	for _, sp := range data.Products {
		price, err := decimal.NewFromString(sp.Price)
		if err != nil {
			return fmt.Errorf("product %s: invalid price %q: %w", sp.SKU, sp.Price, err)
		}
		p := sp.Product
		p.UnitPrice = price
		products = append(products, p)
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(data.Customers) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&data.Customers).Error; err != nil {
				return errx.WrapDB(err)
			}
		}
		if len(products) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&products).Error; err != nil {
				return errx.WrapDB(err)
			}
		}
		return nil
	})
}
