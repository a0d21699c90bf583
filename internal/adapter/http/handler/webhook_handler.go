package handler

import (
	"io"

	"payrail/internal/core/ports"
	"payrail/pkg/apperror"
	"payrail/pkg/response"

	"github.com/gin-gonic/gin"
)

// WebhookHandler receives signed provider callbacks.
type WebhookHandler struct {
	ingress ports.WebhookIngress
}

func NewWebhookHandler(ingress ports.WebhookIngress) *WebhookHandler {
	return &WebhookHandler{ingress: ingress}
}

func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		response.Error(c, apperror.BadRequest("Unreadable request body"))
		return
	}
	result, err := h.ingress.Handle(c.Request.Context(), body, c.GetHeader("X-Webhook-Signature"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
