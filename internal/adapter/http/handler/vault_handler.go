package handler

import (
	"payrail/internal/adapter/http/dto"
	"payrail/internal/service"
	"payrail/pkg/apperror"
	"payrail/pkg/response"

	"github.com/gin-gonic/gin"
)

// VaultHandler exposes the tokenization vault endpoints.
type VaultHandler struct {
	vault *service.VaultService
}

func NewVaultHandler(vault *service.VaultService) *VaultHandler {
	return &VaultHandler{vault: vault}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (h *VaultHandler) Tokenize(c *gin.Context) {
	var req dto.TokenizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.BadRequest("Invalid request body: %v", err))
		return
	}
	card, err := h.vault.Tokenize(
		c.Request.Context(),
		req.PAN,
		req.Expiry,
		req.CardholderName,
		orDefault(req.Requester, "api-gateway"),
		orDefault(req.Purpose, "payment"),
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, card)
}

func (h *VaultHandler) Detokenize(c *gin.Context) {
	var req dto.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.BadRequest("Invalid request body: %v", err))
		return
	}
	card, err := h.vault.Detokenize(
		c.Request.Context(),
		req.Token,
		orDefault(req.Requester, "api-gateway"),
		orDefault(req.Purpose, "display"),
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, card)
}

func (h *VaultHandler) ChargeToken(c *gin.Context) {
	var req dto.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.BadRequest("Invalid request body: %v", err))
		return
	}
	card, err := h.vault.ChargeToken(
		c.Request.Context(),
		req.Token,
		orDefault(req.Requester, "api-gateway"),
		orDefault(req.Purpose, "charge"),
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, card)
}

func (h *VaultHandler) AccessLog(c *gin.Context) {
	limit, _ := paginationParams(c, 100, 500)
	entries, total, err := h.vault.AccessLog(limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"entries": entries, "total": total})
}

func (h *VaultHandler) RotateKeys(c *gin.Context) {
	total, err := h.vault.RotateKeys(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "Key rotated successfully", "total_keys": total})
}
