package handler

import (
	"payrail/internal/adapter/http/middleware"
	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/service"
	"payrail/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// GatewayDeps bundles everything the orchestrator router needs.
type GatewayDeps struct {
	Store    *filestore.Store
	Payments *service.PaymentService
	Refunds  *service.RefundService
	Disputes *service.DisputeService
	Webhooks *service.WebhookService
	Audit    *service.AuditService
	Log      zerolog.Logger
}

// NewGatewayRouter builds the orchestrator's HTTP surface.
func NewGatewayRouter(deps GatewayDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		middleware.Recovery(deps.Log),
		middleware.Correlation(),
		middleware.RequestLogger(deps.Log),
		middleware.Metrics(deps.Store, deps.Log),
		middleware.MerchantAuth(),
	)

	payments := NewPaymentHandler(deps.Payments)
	refunds := NewRefundHandler(deps.Refunds)
	disputes := NewDisputeHandler(deps.Disputes)
	webhooks := NewWebhookHandler(deps.Webhooks)
	audit := NewAuditHandler(deps.Audit)

	pi := r.Group("/payment-intents")
	{
		pi.POST("", payments.Create)
		pi.GET("", payments.List)
		pi.GET("/:id", payments.Get)
		pi.POST("/:id/authorize", payments.Authorize)
		pi.POST("/:id/capture", payments.Capture)
		pi.POST("/:id/cancel", payments.Cancel)
	}

	rf := r.Group("/refunds")
	{
		rf.POST("", refunds.Create)
		rf.GET("", refunds.List)
		rf.GET("/:id", refunds.Get)
		rf.POST("/:id/approve", refunds.Approve)
		rf.POST("/:id/reject", refunds.Reject)
	}

	dp := r.Group("/disputes")
	{
		dp.POST("", disputes.Create)
		dp.GET("", disputes.List)
		dp.GET("/:id", disputes.Get)
		dp.POST("/:id/submit-evidence", disputes.SubmitEvidence)
		dp.POST("/:id/resolve", disputes.Resolve)
	}

	r.POST("/webhooks/provider", webhooks.Receive)

	au := r.Group("/audit")
	{
		au.GET("/payments", audit.Payments)
		au.GET("/refunds", audit.Refunds)
		au.GET("/disputes", audit.Disputes)
		au.GET("/vault-access", audit.VaultAccess)
		au.GET("/export", audit.Export)
		au.GET("/reconciliation", audit.Reconciliation)
		au.GET("/settlements", audit.Settlements)
	}

	r.GET("/ledger/:ref", audit.LedgerForRef)
	r.GET("/providers/health", audit.ProviderHealth)
	r.GET("/metrics", audit.Metrics)
	r.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "healthy", "service": "api-gateway"})
	})
	return r
}

// NewVaultRouter builds the vault's HTTP surface.
func NewVaultRouter(store *filestore.Store, vault *service.VaultService, log zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		middleware.Recovery(log),
		middleware.Correlation(),
		middleware.RequestLogger(log),
	)

	h := NewVaultHandler(vault)
	r.POST("/tokenize", h.Tokenize)
	r.POST("/detokenize", h.Detokenize)
	r.POST("/charge-token", h.ChargeToken)
	r.POST("/rotate-keys", h.RotateKeys)
	r.GET("/access-log", h.AccessLog)
	r.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "healthy", "service": "vault-service"})
	})
	return r
}
