package models

import "gorm.io/gorm"

// AutoMigrate performs all schema migrations for the engine's tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AccountProfile{},
		&Transaction{},
		&ReferralLog{},
	)
}
