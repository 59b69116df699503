package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appcredit "github.com/tallydash/backend/internal/application/credit"
)

// CreditWarningHeader is set on responses when the tenant's balance is low.
const CreditWarningHeader = "X-Credit-Warning"

// CreditInspector is the slice of the credit service the warning path needs.
type CreditInspector interface {
	InspectTenant(ctx context.Context, tenantID uuid.UUID) (*appcredit.TenantCreditStatus, error)
}

// CreditWarningConfig holds configuration for the credit warning middleware
type CreditWarningConfig struct {
	Inspector CreditInspector
	// ExemptPathPrefixes are not annotated (health checks, auth, static assets)
	ExemptPathPrefixes []string
	Logger             *zap.Logger
	// TrustTenantHeader enables the X-Tenant-ID fallback, as in
	// CreditCheckConfig. Leave off in production.
	TrustTenantHeader bool
}

// DefaultCreditWarningConfig returns default configuration
func DefaultCreditWarningConfig(inspector CreditInspector) CreditWarningConfig {
	return CreditWarningConfig{
		Inspector: inspector,
		ExemptPathPrefixes: []string{
			"/health",
			"/api/v1/health",
			"/api/v1/auth",
			"/static",
		},
	}
}

// CreditWarningMiddleware annotates responses for tenants running low on
// credits so clients can surface a top-up prompt. Read-only: it never mutates
// the ledger and never blocks a request.
func CreditWarningMiddleware(cfg CreditWarningConfig) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, prefix := range cfg.ExemptPathPrefixes {
			if strings.HasPrefix(path, prefix) {
				c.Next()
				return
			}
		}

		tenantID, ok := requestTenantID(c, cfg.TrustTenantHeader)
		if !ok {
			c.Next()
			return
		}

		status, err := cfg.Inspector.InspectTenant(c.Request.Context(), tenantID)
		if err != nil {
			logger.Debug("Credit status lookup failed",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
			c.Next()
			return
		}

		if status.Status == appcredit.StatusLowCredits {
			c.Header(CreditWarningHeader, "low")
			logger.Warn("Tenant is low on credits",
				zap.String("tenant_id", tenantID.String()),
				zap.String("tenant", status.Name),
				zap.Int("credits", status.Credits),
			)
		}

		c.Next()
	}
}
