package handler

import (
	"strconv"

	"payrail/internal/adapter/http/dto"
	"payrail/internal/core/ports"
	"payrail/pkg/apperror"
	"payrail/pkg/response"

	"github.com/gin-gonic/gin"
)

// DisputeHandler exposes the dispute endpoints.
type DisputeHandler struct {
	disputes ports.DisputeService
}

func NewDisputeHandler(disputes ports.DisputeService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

func (h *DisputeHandler) Create(c *gin.Context) {
	key, ok := idemKey(c)
	if !ok {
		return
	}
	var req dto.CreateDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.BadRequest("Invalid request body: %v", err))
		return
	}
	resp, err := h.disputes.Open(c.Request.Context(), key, ports.DisputeOpenInput{
		PaymentID:  req.PaymentID,
		Amount:     req.Amount,
		Reason:     req.Reason,
		MerchantID: c.GetHeader("X-Merchant-Id"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Raw(c, resp.Status, resp.Body)
}

func (h *DisputeHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	items, total, err := h.disputes.List(c.Request.Context(), ports.DisputeListFilter{
		State:     c.Query("state"),
		PaymentID: c.Query("payment_id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"items": items, "total": total, "limit": limit, "offset": offset})
}

func (h *DisputeHandler) Get(c *gin.Context) {
	dispute, entries, err := h.disputes.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"id":             dispute.ID,
		"payment_id":     dispute.PaymentID,
		"amount":         dispute.Amount,
		"currency":       dispute.Currency,
		"state":          dispute.State,
		"reason":         dispute.Reason,
		"evidence":       dispute.Evidence,
		"merchant_id":    dispute.MerchantID,
		"correlation_id": dispute.CorrelationID,
		"created_at":     dispute.CreatedAt,
		"updated_at":     dispute.UpdatedAt,
		"ledger_entries": entries,
	})
}

func (h *DisputeHandler) SubmitEvidence(c *gin.Context) {
	key, ok := idemKey(c)
	if !ok {
		return
	}
	var req dto.SubmitEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.BadRequest("Invalid request body: %v", err))
		return
	}
	resp, err := h.disputes.SubmitEvidence(c.Request.Context(), key, c.Param("id"), req.Evidence)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Raw(c, resp.Status, resp.Body)
}

func (h *DisputeHandler) Resolve(c *gin.Context) {
	key, ok := idemKey(c)
	if !ok {
		return
	}
	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.BadRequest("Invalid request body: %v", err))
		return
	}
	resp, err := h.disputes.Resolve(c.Request.Context(), key, c.Param("id"), req.Outcome)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Raw(c, resp.Status, resp.Body)
}
