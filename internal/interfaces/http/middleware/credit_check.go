package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appcredit "github.com/tallydash/backend/internal/application/credit"
	"github.com/tallydash/backend/internal/domain/credit"
)

// TenantIDHeader is the development fallback for requests without a JWT.
// Honored only when CreditCheckConfig.TrustTenantHeader is set.
const TenantIDHeader = "X-Tenant-ID"

// CreditDeductor is the slice of the credit service the request path needs.
type CreditDeductor interface {
	DeductDailyCredit(ctx context.Context, tenantID uuid.UUID) (appcredit.DeductionResult, error)
}

// CreditCheckConfig holds configuration for the credit check middleware
type CreditCheckConfig struct {
	Deductor CreditDeductor
	Memo     credit.MemoStore
	// MemoTTL is how long a tenant is exempt from re-checking. Zero means
	// credit.DefaultMemoTTL.
	MemoTTL time.Duration
	Logger  *zap.Logger
	// TrustTenantHeader enables the X-Tenant-ID fallback for requests that
	// carry no JWT claims. Without it an unauthenticated caller could
	// trigger deductions for an arbitrary tenant, so leave it off in
	// production.
	TrustTenantHeader bool
}

// CreditCheckMiddleware opportunistically settles the tenant's daily credit
// on its first request of the day. The scheduler remains the primary driver;
// this path only narrows the gap between IST midnight and the next scheduled
// pass. A short-TTL memo keeps it from hitting the engine on every request.
//
// The middleware must never affect request outcomes: any failure here is
// logged and the request proceeds.
func CreditCheckMiddleware(cfg CreditCheckConfig) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.MemoTTL
	if ttl <= 0 {
		ttl = credit.DefaultMemoTTL
	}

	return func(c *gin.Context) {
		tenantID, ok := requestTenantID(c, cfg.TrustTenantHeader)
		if !ok {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := credit.MemoKey(tenantID)

		if cfg.Memo != nil {
			checked, err := cfg.Memo.Get(ctx, key)
			if err != nil {
				logger.Debug("Credit memo lookup failed",
					zap.String("tenant_id", tenantID.String()),
					zap.Error(err),
				)
			} else if checked {
				c.Next()
				return
			}
		}

		result, err := cfg.Deductor.DeductDailyCredit(ctx, tenantID)
		if err != nil {
			logger.Warn("Request-path credit deduction failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
		} else if result.Deducted {
			logger.Info("Request-path credit deduction",
				zap.String("tenant_id", tenantID.String()),
				zap.Int("credits_removed", result.CreditsRemoved),
				zap.Int("remaining", result.Remaining),
				zap.Bool("deactivated", result.Deactivated),
			)
		}

		// Memoize even after a failed deduction: the scheduler will retry
		// within the hour, and hammering a failing engine from the hot
		// path helps nobody.
		if cfg.Memo != nil {
			if err := cfg.Memo.Set(ctx, key, ttl); err != nil {
				logger.Debug("Credit memo set failed",
					zap.String("tenant_id", tenantID.String()),
					zap.Error(err),
				)
			}
		}

		c.Next()
	}
}

// requestTenantID resolves the tenant for the request from JWT claims, with
// an opt-in header fallback for development. Returns false for
// unauthenticated traffic.
func requestTenantID(c *gin.Context, trustHeader bool) (uuid.UUID, bool) {
	raw := GetJWTTenantID(c)
	if raw == "" && trustHeader {
		raw = c.GetHeader(TenantIDHeader)
	}
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
