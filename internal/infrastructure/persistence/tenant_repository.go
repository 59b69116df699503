package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tallydash/backend/internal/domain/identity"
	"github.com/tallydash/backend/internal/domain/shared"
)

// GormTenantRepository implements identity.TenantRepository using GORM
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository creates a new GormTenantRepository
func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

// FindByID finds a tenant by its ID
func (r *GormTenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.Tenant, error) {
	var tenant identity.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

// FindAll returns every tenant, most recently created first
func (r *GormTenantRepository) FindAll(ctx context.Context) ([]*identity.Tenant, error) {
	var tenants []*identity.Tenant
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

// FindDue returns every tenant a deduction pass should visit: active with a
// positive balance. Tenants already settled for today are filtered out by the
// engine itself, not here, so the pass sees a consistent view.
func (r *GormTenantRepository) FindDue(ctx context.Context) ([]*identity.Tenant, error) {
	var tenants []*identity.Tenant
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND credits > 0", true).
		Order("created_at ASC").
		Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

// Save creates or updates a tenant
func (r *GormTenantRepository) Save(ctx context.Context, tenant *identity.Tenant) error {
	return r.db.WithContext(ctx).Save(tenant).Error
}

// UpdateLocked runs fn against the tenant row while holding a SELECT ... FOR
// UPDATE lock inside a transaction. The engine re-reads through this lock
// before mutating, which closes the check-then-act race between concurrent
// deduction callers: the loser blocks on the lock, then observes the settled
// ledger. Rows for different tenants never contend.
func (r *GormTenantRepository) UpdateLocked(ctx context.Context, id uuid.UUID, fn func(*identity.Tenant) error) (*identity.Tenant, error) {
	var tenant identity.Tenant

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&tenant, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shared.ErrNotFound
			}
			return err
		}

		if err := fn(&tenant); err != nil {
			return err
		}

		return tx.Save(&tenant).Error
	})
	if err != nil {
		return nil, err
	}

	return &tenant, nil
}
