package identity

import (
	"context"

	"github.com/google/uuid"
)

// TenantRepository persists tenant ledgers.
type TenantRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	FindAll(ctx context.Context) ([]*Tenant, error)
	// FindDue returns every tenant a full deduction pass should visit:
	// active with a positive balance.
	FindDue(ctx context.Context) ([]*Tenant, error)
	Save(ctx context.Context, tenant *Tenant) error

	// UpdateLocked runs fn against a freshly-read tenant row while holding a
	// row-level exclusive lock inside a storage transaction. Mutations fn
	// makes to the tenant are persisted before the lock is released. The
	// updated tenant is returned. Concurrent calls for the same tenant
	// serialize; different tenants never contend.
	UpdateLocked(ctx context.Context, id uuid.UUID, fn func(*Tenant) error) (*Tenant, error)
}

// UserRepository persists tenant users. Only the surface the credit engine
// needs lives here; account management is a separate concern.
type UserRepository interface {
	FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*User, error)
	Save(ctx context.Context, user *User) error
	// SetActiveForTenant bulk-updates the active flag for every user of the
	// tenant and returns how many rows changed.
	SetActiveForTenant(ctx context.Context, tenantID uuid.UUID, active bool) (int64, error)
}
