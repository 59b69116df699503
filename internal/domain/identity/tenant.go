package identity

import (
	"strings"
	"time"

	"github.com/tallydash/backend/internal/domain/credit"
	"github.com/tallydash/backend/internal/domain/shared"
)

// TenantPlan represents the subscription plan of a tenant
type TenantPlan string

const (
	TenantPlanFree       TenantPlan = "free"
	TenantPlanPremium    TenantPlan = "premium"
	TenantPlanEnterprise TenantPlan = "enterprise"
)

// IsValid returns true if the plan is a known plan
func (p TenantPlan) IsValid() bool {
	switch p {
	case TenantPlanFree, TenantPlanPremium, TenantPlanEnterprise:
		return true
	}
	return false
}

// Tenant is the aggregate root for an organization in the multi-tenant
// system. It carries the credit ledger that the daily deduction engine
// operates on: the remaining balance, the activation flag, and the IST
// calendar date of the most recent successful deduction.
//
// Ledger invariants:
//   - Credits never goes negative.
//   - LastCreditDeducted, once set, is monotonically non-decreasing.
//   - IsActive flips to false only when a deduction empties the ledger, and
//     back to true only when a top-up lands on an inactive tenant. Manual
//     administrative deactivation happens outside this aggregate.
type Tenant struct {
	shared.BaseEntity
	Name         string     `gorm:"type:varchar(255);not null"`
	Subdomain    string     `gorm:"type:varchar(100);uniqueIndex"`
	CustomDomain string     `gorm:"type:varchar(255)"`
	Timezone     string     `gorm:"type:varchar(50);not null;default:'UTC'"`
	Plan         TenantPlan `gorm:"type:varchar(50);not null;default:'free'"`
	MaxEmployees int        `gorm:"not null;default:1000"`

	// No gorm default tag on IsActive: with one, GORM drops the zero value
	// false from INSERTs and the column default would silently win.
	Credits            int        `gorm:"not null;default:0"`
	IsActive           bool       `gorm:"not null"`
	LastCreditDeducted *time.Time `gorm:"index"`
}

// TableName returns the table name for GORM
func (Tenant) TableName() string {
	return "tenants"
}

// NewTenant creates a tenant with a seeded credit balance and an untouched
// ledger (never deducted).
func NewTenant(name, subdomain string, seedCredits int) (*Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Tenant name cannot be empty")
	}
	if seedCredits < 0 {
		return nil, shared.NewDomainError("INVALID_CREDITS", "Seed credits cannot be negative")
	}

	return &Tenant{
		BaseEntity:   shared.NewBaseEntity(),
		Name:         name,
		Subdomain:    strings.ToLower(strings.TrimSpace(subdomain)),
		Timezone:     "UTC",
		Plan:         TenantPlanFree,
		MaxEmployees: 1000,
		Credits:      seedCredits,
		IsActive:     true,
	}, nil
}

// DeductionDue reports whether the ledger would be charged on the given IST
// date. Diagnostic only; the engine re-plans under the row lock.
func (t *Tenant) DeductionDue(today time.Time) bool {
	return credit.DeductionDue(t.Credits, t.LastCreditDeducted, today)
}

// ApplyDeduction applies a due deduction plan to the ledger for the given IST
// date. Returns the credits removed and whether the tenant was deactivated by
// this application. Applying a not-due plan is a no-op.
func (t *Tenant) ApplyDeduction(plan credit.DeductionPlan, today time.Time) (removed int, deactivated bool) {
	if !plan.Due {
		return 0, false
	}

	remove := plan.Remove
	if remove > t.Credits {
		remove = t.Credits
	}

	date := credit.DateOf(today)
	t.Credits -= remove
	t.LastCreditDeducted = &date

	if t.Credits == 0 && t.IsActive {
		t.IsActive = false
		deactivated = true
	}

	t.UpdatedAt = time.Now()
	return remove, deactivated
}

// ApplyTopUp adds credits to the ledger. Returns whether the top-up
// reactivated a previously-inactive tenant. Non-positive amounts are
// rejected.
func (t *Tenant) ApplyTopUp(amount int) (reactivated bool, err error) {
	if amount <= 0 {
		return false, shared.NewDomainError("INVALID_AMOUNT", "Top-up amount must be positive")
	}

	wasInactive := !t.IsActive
	t.Credits += amount

	if wasInactive && t.Credits > 0 {
		t.IsActive = true
		reactivated = true
	}

	t.UpdatedAt = time.Now()
	return reactivated, nil
}

// LowOnCredits reports whether the balance has dropped to or below the given
// warning threshold while still being positive.
func (t *Tenant) LowOnCredits(threshold int) bool {
	return t.Credits > 0 && t.Credits <= threshold
}
