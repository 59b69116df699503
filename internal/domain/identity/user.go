package identity

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tallydash/backend/internal/domain/shared"
)

// User is a member of a tenant. Users are bulk-deactivated when their
// tenant's ledger empties and bulk-reactivated when credits are topped up.
type User struct {
	shared.BaseEntity
	TenantID uuid.UUID `gorm:"type:uuid;not null;index"`
	Email    string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	Name     string    `gorm:"type:varchar(200)"`
	IsActive bool      `gorm:"not null"`
}

// TableName returns the table name for GORM
func (User) TableName() string {
	return "users"
}

// NewUser creates an active user belonging to the given tenant.
func NewUser(tenantID uuid.UUID, email, name string) (*User, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, shared.NewDomainError("INVALID_EMAIL", "A valid email address is required")
	}

	return &User{
		BaseEntity: shared.NewBaseEntity(),
		TenantID:   tenantID,
		Email:      email,
		Name:       name,
		IsActive:   true,
	}, nil
}
