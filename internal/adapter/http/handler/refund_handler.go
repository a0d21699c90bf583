package handler

import (
	"strconv"

	"payrail/internal/adapter/http/dto"
	"payrail/internal/core/ports"
	"payrail/pkg/apperror"
	"payrail/pkg/response"

	"github.com/gin-gonic/gin"
)

// RefundHandler exposes the maker-checker refund endpoints.
type RefundHandler struct {
	refunds ports.RefundService
}

func NewRefundHandler(refunds ports.RefundService) *RefundHandler {
	return &RefundHandler{refunds: refunds}
}

func (h *RefundHandler) Create(c *gin.Context) {
	key, ok := idemKey(c)
	if !ok {
		return
	}
	var req dto.CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.BadRequest("Invalid request body: %v", err))
		return
	}
	resp, err := h.refunds.Request(c.Request.Context(), key, ports.RefundRequestInput{
		PaymentID:   req.PaymentID,
		Amount:      req.Amount,
		Reason:      req.Reason,
		RequestedBy: c.GetHeader("X-Merchant-Id"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Raw(c, resp.Status, resp.Body)
}

func (h *RefundHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	items, total, err := h.refunds.List(c.Request.Context(), ports.RefundListFilter{
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

func (h *RefundHandler) Get(c *gin.Context) {
	refund, entries, err := h.refunds.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"id":             refund.ID,
		"payment_id":     refund.PaymentID,
		"amount":         refund.Amount,
		"currency":       refund.Currency,
		"state":          refund.State,
		"reason":         refund.Reason,
		"requested_by":   refund.RequestedBy,
		"approved_by":    refund.ApprovedBy,
		"merchant_id":    refund.MerchantID,
		"correlation_id": refund.CorrelationID,
		"created_at":     refund.CreatedAt,
		"updated_at":     refund.UpdatedAt,
		"metadata":       refund.Metadata,
		"ledger_entries": entries,
	})
}

func (h *RefundHandler) Approve(c *gin.Context) {
	key, ok := idemKey(c)
	if !ok {
		return
	}
	role := c.GetHeader("X-Role")
	if role == "" {
		role = "operator"
	}
	resp, err := h.refunds.Approve(c.Request.Context(), key, c.Param("id"), c.GetHeader("X-Merchant-Id"), role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Raw(c, resp.Status, resp.Body)
}

func (h *RefundHandler) Reject(c *gin.Context) {
	key, ok := idemKey(c)
	if !ok {
		return
	}
	var req dto.RejectRefundRequest
	_ = c.ShouldBindJSON(&req)
	resp, err := h.refunds.Reject(c.Request.Context(), key, c.Param("id"), c.GetHeader("X-Merchant-Id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Raw(c, resp.Status, resp.Body)
}
