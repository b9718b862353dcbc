package repository

import (
	"context"

	"github.com/dkurbatov/freightgate/internal/models"
	"github.com/dkurbatov/freightgate/internal/storage"
)

type AuditRepository struct {
	db *storage.Postgres
}

func NewAuditRepository(db *storage.Postgres) *AuditRepository {
	return &AuditRepository{db: db}
}

// Inserts a single audit entry
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	return r.db.DB.WithContext(ctx).Create(entry).Error
}

// Inserts multiple audit entries (for batch insertion)
func (r *AuditRepository) CreateBatch(ctx context.Context, entries []models.AuditLog) error {
	if len(entries) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&entries).Error
}
