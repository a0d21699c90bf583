package handler

import (
	"strconv"
	"time"

	"payrail/internal/service"
	"payrail/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuditHandler exposes read-only audit, reconciliation, and operational
// views.
type AuditHandler struct {
	audit *service.AuditService
}

func NewAuditHandler(audit *service.AuditService) *AuditHandler {
	return &AuditHandler{audit: audit}
}

func paginationParams(c *gin.Context, defaultLimit, maxLimit int) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (h *AuditHandler) trail(family string) gin.HandlerFunc {
	return func(c *gin.Context) {
		refID := c.Query("ref_id")
		limit, offset := paginationParams(c, 100, 500)
		entries, total, err := h.audit.Trail(family, refID, limit, offset)
		if err != nil {
			response.Error(c, err)
			return
		}
		if refID != "" {
			response.OK(c, gin.H{"entries": entries, "total": total})
			return
		}
		response.OK(c, gin.H{"entries": entries, "total": total, "limit": limit, "offset": offset})
	}
}

func (h *AuditHandler) Payments(c *gin.Context) { h.trail("payment")(c) }
func (h *AuditHandler) Refunds(c *gin.Context)  { h.trail("refund")(c) }
func (h *AuditHandler) Disputes(c *gin.Context) { h.trail("dispute")(c) }

// LedgerForRef returns the full cross-stream history of one ref.
func (h *AuditHandler) LedgerForRef(c *gin.Context) {
	ref := c.Param("ref")
	entries, total, err := h.audit.Trail("payment", ref, 0, 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"ref": ref, "entries": entries, "total": total})
}

func (h *AuditHandler) VaultAccess(c *gin.Context) {
	limit, _ := paginationParams(c, 100, 500)
	entries, total, err := h.audit.VaultAccess(limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"entries": entries, "total": total})
}

func (h *AuditHandler) Export(c *gin.Context) {
	family := c.DefaultQuery("entity_type", "payment")
	entries, total, err := h.audit.Export(family)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"entity_type": family,
		"entries":     entries,
		"total":       total,
		"exported_at": time.Now().UTC(),
	})
}

func (h *AuditHandler) Reconciliation(c *gin.Context) {
	reports, err := h.audit.ReconciliationReports()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"reports": reports})
}

func (h *AuditHandler) Settlements(c *gin.Context) {
	settlements, err := h.audit.Settlements()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"settlements": settlements})
}

func (h *AuditHandler) ProviderHealth(c *gin.Context) {
	health, err := h.audit.ProviderHealth()
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"providers": health})
}

func (h *AuditHandler) Metrics(c *gin.Context) {
	limit, _ := paginationParams(c, 100, 500)
	lines, err := h.audit.Metrics(limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"metrics": lines, "total": len(lines)})
}
