package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appcredit "github.com/tallydash/backend/internal/application/credit"
	"github.com/tallydash/backend/internal/domain/shared"
)

// CreditService is the application surface the credit endpoints expose.
type CreditService interface {
	InspectTenant(ctx context.Context, tenantID uuid.UUID) (*appcredit.TenantCreditStatus, error)
	InspectAll(ctx context.Context) ([]appcredit.TenantCreditStatus, error)
	AddCredits(ctx context.Context, tenantID uuid.UUID, amount int) (bool, error)
	ProcessAllTenants(ctx context.Context) (appcredit.PassStats, error)
	ClearMemos(ctx context.Context) (int, error)
}

// CreditHandler handles tenant credit API endpoints
type CreditHandler struct {
	BaseHandler
	service CreditService
	logger  *zap.Logger
}

// NewCreditHandler creates a new CreditHandler
func NewCreditHandler(service CreditService, logger *zap.Logger) *CreditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreditHandler{service: service, logger: logger}
}

// AddCreditsRequest is the top-up request body
type AddCreditsRequest struct {
	Amount int `json:"amount" binding:"required"`
}

// AddCreditsResponse reports the ledger after a top-up
type AddCreditsResponse struct {
	Added  bool                          `json:"added"`
	Status *appcredit.TenantCreditStatus `json:"status"`
}

// GetTenantCredits returns the credit status of one tenant.
// GET /tenants/:id/credits
func (h *CreditHandler) GetTenantCredits(c *gin.Context) {
	tenantID, ok := parseIDParam(c)
	if !ok {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	status, err := h.service.InspectTenant(c.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			h.NotFound(c, "Tenant not found")
			return
		}
		h.Internal(c, "Failed to load credit status")
		return
	}

	h.Success(c, status)
}

// AddCredits tops up a tenant's ledger.
// POST /tenants/:id/credits
func (h *CreditHandler) AddCredits(c *gin.Context) {
	tenantID, ok := parseIDParam(c)
	if !ok {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req AddCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}

	added, err := h.service.AddCredits(c.Request.Context(), tenantID, req.Amount)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			h.NotFound(c, "Tenant not found")
			return
		}
		h.Internal(c, "Failed to add credits")
		return
	}
	if !added {
		h.BadRequest(c, "Amount must be positive")
		return
	}

	status, err := h.service.InspectTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Warn("Credit status reload failed after top-up",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
	}

	h.Success(c, AddCreditsResponse{Added: true, Status: status})
}

// ListStatuses returns the credit status of every tenant.
// GET /admin/credits/status
func (h *CreditHandler) ListStatuses(c *gin.Context) {
	statuses, err := h.service.InspectAll(c.Request.Context())
	if err != nil {
		h.Internal(c, "Failed to load credit statuses")
		return
	}
	h.Success(c, gin.H{"tenants": statuses, "count": len(statuses)})
}

// RunPass triggers a deduction pass over all tenants.
// POST /admin/credits/run
func (h *CreditHandler) RunPass(c *gin.Context) {
	stats, err := h.service.ProcessAllTenants(c.Request.Context())
	if err != nil {
		h.Internal(c, "Deduction pass failed")
		return
	}
	h.Success(c, stats)
}

// ClearMemos busts the request-path throttle memos.
// POST /admin/credits/clear-cache
func (h *CreditHandler) ClearMemos(c *gin.Context) {
	removed, err := h.service.ClearMemos(c.Request.Context())
	if err != nil {
		h.Internal(c, "Failed to clear credit memos")
		return
	}
	h.Success(c, gin.H{"cleared": removed})
}

// RegisterRoutes registers credit endpoints on the API group
func (h *CreditHandler) RegisterRoutes(rg *gin.RouterGroup) {
	tenants := rg.Group("/tenants")
	{
		tenants.GET("/:id/credits", h.GetTenantCredits)
		tenants.POST("/:id/credits", h.AddCredits)
	}

	admin := rg.Group("/admin/credits")
	{
		admin.GET("/status", h.ListStatuses)
		admin.POST("/run", h.RunPass)
		admin.POST("/clear-cache", h.ClearMemos)
	}
}
