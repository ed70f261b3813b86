package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type Config struct {
	Driver          string `split_words:"true" default:"mysql"`
	DSN             string `envconfig:"DATABASE_DSN" required:"true"`
	MaxOpenConns    int    `split_words:"true" default:"10"`
	MaxIdleConns    int    `split_words:"true" default:"5"`
	ConnMaxLifetime int    `split_words:"true" default:"300"`
	// LogQueries enables gorm's SQL logger.
	LogQueries bool `split_words:"true" default:"false"`
}

// Open connects to the relational store described by cfg.
func (c *Config) Open() (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch c.Driver {
	case DriverMySQL:
		dialector = mysql.Open(c.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(c.DSN)
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", c.Driver)
	}

	mode := logger.Silent
	if c.LogQueries {
		mode = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(mode),
	})
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", c.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: pool: %w", err)
	}
	if c.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetime) * time.Second)
	}
	return db, nil
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
