package repository

import (
	"context"

	"gorm.io/gorm"
)

// Migrate creates or updates every table owned by the channel subsystem.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(
		&instanceModel{},
		&conversationModel{},
		&auditModel{},
	)
}
