package services

import (
	"context"

	"gorm.io/gorm"
)

// runInTx wraps fn in one transaction. A nil handle runs fn directly
// against whatever the repos were wired with.
func runInTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if db == nil {
		return fn(nil)
	}
	return db.WithContext(ctx).Transaction(fn)
}
