package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tallydash/backend/internal/domain/identity"
)

// GormUserRepository implements identity.UserRepository using GORM
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GormUserRepository
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// FindByTenant returns every user belonging to the tenant
func (r *GormUserRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*identity.User, error) {
	var users []*identity.User
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("email ASC").
		Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// Save creates or updates a user
func (r *GormUserRepository) Save(ctx context.Context, user *identity.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

// SetActiveForTenant bulk-updates the active flag for every user of the
// tenant and returns how many rows changed.
func (r *GormUserRepository) SetActiveForTenant(ctx context.Context, tenantID uuid.UUID, active bool) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&identity.User{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]interface{}{
			"is_active":  active,
			"updated_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}
