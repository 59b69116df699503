// Package credit wires the deduction engine to persistence: the service here
// is the single mutation path for tenant ledgers, shared by the background
// scheduler, the request middleware, the HTTP API, and the diagnostic CLI.
package credit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tallydash/backend/internal/domain/credit"
	"github.com/tallydash/backend/internal/domain/identity"
	"github.com/tallydash/backend/internal/domain/shared"
)

// DeductionResult reports the outcome of a single Deduct call.
type DeductionResult struct {
	// Deducted is false when the ledger was already settled for today, had
	// no balance, or lost the race to a concurrent caller.
	Deducted       bool
	CreditsRemoved int
	Remaining      int
	Deactivated    bool
}

// PassStats summarizes a full deduction pass over all qualifying tenants.
type PassStats struct {
	Total       int `json:"total"`
	Processed   int `json:"processed"`
	Deducted    int `json:"deducted"`
	Deactivated int `json:"deactivated"`
	Failed      int `json:"failed"`
}

// TenantCreditStatus is the diagnostic view of one tenant's ledger.
type TenantCreditStatus struct {
	TenantID           uuid.UUID  `json:"tenant_id"`
	Name               string     `json:"name"`
	Status             string     `json:"status"`
	Credits            int        `json:"credits"`
	IsActive           bool       `json:"is_active"`
	LastCreditDeducted *time.Time `json:"last_credit_deducted,omitempty"`
	MemoPresent        bool       `json:"memo_present"`
	DeductionDue       bool       `json:"deduction_due"`
}

// Ledger status labels used by diagnostics.
const (
	StatusActive     = "ACTIVE"
	StatusLowCredits = "LOW_CREDITS"
	StatusNoCredits  = "NO_CREDITS"
	StatusInactive   = "INACTIVE"
)

// Service is the credit deduction engine's application service.
type Service struct {
	tenants identity.TenantRepository
	users   identity.UserRepository
	memo    credit.MemoStore
	clock   credit.Clock
	logger  *zap.Logger

	lowCreditThreshold int
}

// Config contains configuration for the credit Service.
type Config struct {
	// LowCreditThreshold is the balance at or below which a tenant is
	// reported as LOW_CREDITS by diagnostics and the warning middleware.
	LowCreditThreshold int
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{LowCreditThreshold: 5}
}

// NewService creates a credit Service.
func NewService(
	tenants identity.TenantRepository,
	users identity.UserRepository,
	memo credit.MemoStore,
	clock credit.Clock,
	logger *zap.Logger,
	cfg Config,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = credit.SystemClock{}
	}
	return &Service{
		tenants:            tenants,
		users:              users,
		memo:               memo,
		clock:              clock,
		logger:             logger,
		lowCreditThreshold: cfg.LowCreditThreshold,
	}
}

// LowCreditThreshold returns the configured low-balance warning threshold.
func (s *Service) LowCreditThreshold() int {
	return s.lowCreditThreshold
}

// DeductDailyCredit settles the tenant's ledger for the current IST date,
// charging one credit per elapsed calendar day since the last deduction
// (clamped to the available balance). Calling it again on the same date is a
// no-op, as is losing the race to a concurrent caller: exactly one invocation
// per tenant per day mutates the ledger.
//
// When the deduction empties the ledger the tenant is deactivated and its
// users are bulk-deactivated. The ledger write is authoritative; the user
// update runs after the ledger transaction commits and its failure is logged,
// not propagated.
func (s *Service) DeductDailyCredit(ctx context.Context, tenantID uuid.UUID) (DeductionResult, error) {
	today := credit.Today(s.clock)

	// Cheap unlocked pre-check so settled tenants skip the transaction.
	tenant, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return DeductionResult{}, err
	}
	if !credit.DeductionDue(tenant.Credits, tenant.LastCreditDeducted, today) {
		return DeductionResult{Remaining: tenant.Credits}, nil
	}

	var result DeductionResult
	updated, err := s.tenants.UpdateLocked(ctx, tenantID, func(fresh *identity.Tenant) error {
		// Re-plan against the locked read: a concurrent caller may have
		// settled today between our pre-check and lock acquisition.
		plan := credit.PlanDeduction(fresh.Credits, fresh.LastCreditDeducted, today)
		if !plan.Due {
			result = DeductionResult{Remaining: fresh.Credits}
			return nil
		}

		removed, deactivated := fresh.ApplyDeduction(plan, today)
		result = DeductionResult{
			Deducted:       true,
			CreditsRemoved: removed,
			Remaining:      fresh.Credits,
			Deactivated:    deactivated,
		}
		return nil
	})
	if err != nil {
		return DeductionResult{}, err
	}

	if result.Deducted {
		s.logger.Info("Deducted daily credits",
			zap.String("tenant_id", tenantID.String()),
			zap.String("tenant", updated.Name),
			zap.Int("credits_removed", result.CreditsRemoved),
			zap.Int("remaining", result.Remaining),
			zap.Time("billing_date", today),
		)
	}

	if result.Deactivated {
		s.logger.Warn("Tenant deactivated due to zero credits",
			zap.String("tenant_id", tenantID.String()),
			zap.String("tenant", updated.Name),
		)
		s.setUsersActive(ctx, tenantID, false)
	}

	return result, nil
}

// AddCredits tops up the tenant's ledger. Non-positive amounts are rejected
// as a no-op returning false. A top-up landing on an inactive tenant
// reactivates it and bulk-reactivates its users.
func (s *Service) AddCredits(ctx context.Context, tenantID uuid.UUID, amount int) (bool, error) {
	if amount <= 0 {
		return false, nil
	}

	var reactivated bool
	updated, err := s.tenants.UpdateLocked(ctx, tenantID, func(fresh *identity.Tenant) error {
		var err error
		reactivated, err = fresh.ApplyTopUp(amount)
		return err
	})
	if err != nil {
		return false, err
	}

	s.logger.Info("Added credits",
		zap.String("tenant_id", tenantID.String()),
		zap.String("tenant", updated.Name),
		zap.Int("amount", amount),
		zap.Int("total", updated.Credits),
	)

	if reactivated {
		s.logger.Info("Tenant reactivated by top-up",
			zap.String("tenant_id", tenantID.String()),
			zap.String("tenant", updated.Name),
		)
		s.setUsersActive(ctx, tenantID, true)
	}

	return true, nil
}

// ProcessAllTenants runs a deduction pass over every active tenant with a
// positive balance. Per-tenant failures are logged and isolated; the pass
// always visits every tenant. The returned error covers only the tenant
// selection query.
func (s *Service) ProcessAllTenants(ctx context.Context) (PassStats, error) {
	tenants, err := s.tenants.FindDue(ctx)
	if err != nil {
		return PassStats{}, err
	}

	stats := PassStats{Total: len(tenants)}
	for _, tenant := range tenants {
		result, err := s.DeductDailyCredit(ctx, tenant.ID)
		if err != nil {
			stats.Failed++
			s.logger.Error("Credit deduction failed for tenant",
				zap.String("tenant_id", tenant.ID.String()),
				zap.String("tenant", tenant.Name),
				zap.Error(err),
			)
			continue
		}
		stats.Processed++
		if result.Deducted {
			stats.Deducted++
		}
		if result.Deactivated {
			stats.Deactivated++
		}
	}

	return stats, nil
}

// InspectTenant returns the diagnostic status of a single tenant.
func (s *Service) InspectTenant(ctx context.Context, tenantID uuid.UUID) (*TenantCreditStatus, error) {
	tenant, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	status := s.statusOf(ctx, tenant)
	return &status, nil
}

// InspectAll returns the diagnostic status of every tenant.
func (s *Service) InspectAll(ctx context.Context) ([]TenantCreditStatus, error) {
	tenants, err := s.tenants.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]TenantCreditStatus, 0, len(tenants))
	for _, tenant := range tenants {
		statuses = append(statuses, s.statusOf(ctx, tenant))
	}
	return statuses, nil
}

// ClearMemos busts every request-path throttle memo so the next request per
// tenant re-runs the engine immediately.
func (s *Service) ClearMemos(ctx context.Context) (int, error) {
	if s.memo == nil {
		return 0, nil
	}
	return s.memo.DeleteByPrefix(ctx, credit.MemoKeyPrefix)
}

// MemoPresent reports whether the tenant's request-path memo is set.
func (s *Service) MemoPresent(ctx context.Context, tenantID uuid.UUID) bool {
	if s.memo == nil {
		return false
	}
	present, err := s.memo.Get(ctx, credit.MemoKey(tenantID))
	if err != nil {
		s.logger.Debug("Memo lookup failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
		return false
	}
	return present
}

func (s *Service) statusOf(ctx context.Context, tenant *identity.Tenant) TenantCreditStatus {
	today := credit.Today(s.clock)

	status := StatusActive
	switch {
	case !tenant.IsActive:
		status = StatusInactive
	case tenant.Credits == 0:
		status = StatusNoCredits
	case tenant.LowOnCredits(s.lowCreditThreshold):
		status = StatusLowCredits
	}

	return TenantCreditStatus{
		TenantID:           tenant.ID,
		Name:               tenant.Name,
		Status:             status,
		Credits:            tenant.Credits,
		IsActive:           tenant.IsActive,
		LastCreditDeducted: tenant.LastCreditDeducted,
		MemoPresent:        s.MemoPresent(ctx, tenant.ID),
		DeductionDue:       tenant.DeductionDue(today),
	}
}

// setUsersActive is the best-effort external effect accompanying ledger
// (de)activation. The ledger transaction has already committed when this
// runs; a failure here leaves users to be reconciled manually and must not
// surface to the caller.
func (s *Service) setUsersActive(ctx context.Context, tenantID uuid.UUID, active bool) {
	count, err := s.users.SetActiveForTenant(ctx, tenantID, active)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		s.logger.Error("Bulk user activation update failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Bool("active", active),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("Updated user activation for tenant",
		zap.String("tenant_id", tenantID.String()),
		zap.Bool("active", active),
		zap.Int64("users", count),
	)
}
