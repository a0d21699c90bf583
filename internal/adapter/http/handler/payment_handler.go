// Package handler contains the gin handlers for the orchestrator and
// vault HTTP surfaces.
package handler

import (
	"strconv"

	"payrail/internal/adapter/http/dto"
	"payrail/internal/core/ports"
	"payrail/pkg/apperror"
	"payrail/pkg/response"

	"github.com/gin-gonic/gin"
)

// idemKey extracts the required Idempotency-Key header, aborting with
// 400 when absent.
func idemKey(c *gin.Context) (string, bool) {
	key := c.GetHeader("Idempotency-Key")
	if key == "" {
		response.Error(c, apperror.BadRequest("Idempotency-Key header required"))
		return "", false
	}
	return key, true
}

// PaymentHandler exposes the payment-intent lifecycle endpoints.
type PaymentHandler struct {
	payments ports.PaymentService
}

func NewPaymentHandler(payments ports.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

func (h *PaymentHandler) Create(c *gin.Context) {
	key, ok := idemKey(c)
	if !ok {
		return
	}
	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.BadRequest("Invalid request body: %v", err))
		return
	}
	resp, err := h.payments.Create(c.Request.Context(), key, ports.CreatePaymentInput{
		Amount:        req.Amount,
		Currency:      req.Currency,
		MerchantID:    c.GetHeader("X-Merchant-Id"),
		CustomerEmail: req.CustomerEmail,
		Description:   req.Description,
		Country:       req.Country,
		Provider:      req.Provider,
		Metadata:      req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Raw(c, resp.Status, resp.Body)
}

func (h *PaymentHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	items, total, err := h.payments.List(c.Request.Context(), ports.PaymentListFilter{
		State:      c.Query("state"),
		MerchantID: c.Query("merchant_id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"items": items, "total": total, "limit": limit, "offset": offset})
}

func (h *PaymentHandler) Get(c *gin.Context) {
	payment, entries, err := h.payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"id":              payment.ID,
		"amount":          payment.Amount,
		"currency":        payment.Currency,
		"state":           payment.State,
		"merchant_id":     payment.MerchantID,
		"customer_email":  payment.CustomerEmail,
		"description":     payment.Description,
		"provider":        payment.Provider,
		"token":           payment.Token,
		"provider_ref":    payment.ProviderRef,
		"idempotency_key": payment.IdempotencyKey,
		"correlation_id":  payment.CorrelationID,
		"created_at":      payment.CreatedAt,
		"updated_at":      payment.UpdatedAt,
		"metadata":        payment.Metadata,
		"ledger_entries":  entries,
	})
}

func (h *PaymentHandler) Authorize(c *gin.Context) {
	key, ok := idemKey(c)
	if !ok {
		return
	}
	var req dto.AuthorizePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.BadRequest("Invalid request body: %v", err))
		return
	}
	resp, err := h.payments.Authorize(c.Request.Context(), key, c.Param("id"), c.GetHeader("X-Merchant-Id"), ports.AuthorizeInput{
		PAN:    req.PAN,
		Expiry: req.Expiry,
		Token:  req.Token,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Raw(c, resp.Status, resp.Body)
}

func (h *PaymentHandler) Capture(c *gin.Context) {
	key, ok := idemKey(c)
	if !ok {
		return
	}
	resp, err := h.payments.Capture(c.Request.Context(), key, c.Param("id"), c.GetHeader("X-Merchant-Id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Raw(c, resp.Status, resp.Body)
}

func (h *PaymentHandler) Cancel(c *gin.Context) {
	key, ok := idemKey(c)
	if !ok {
		return
	}
	resp, err := h.payments.Cancel(c.Request.Context(), key, c.Param("id"), c.GetHeader("X-Merchant-Id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Raw(c, resp.Status, resp.Body)
}
