package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open connects to the backing PostgreSQL database. Tests open an in-memory
// SQLite dialector through OpenWith instead.
func Open(dsn string) (*gorm.DB, error) {
	return OpenWith(postgres.Open(dsn))
}

// OpenWith connects using the given dialector.
func OpenWith(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %w", err)
	}
	return db, nil
}
