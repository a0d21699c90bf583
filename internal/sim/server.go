package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"payrail/internal/adapter/http/dto"
	"payrail/internal/adapter/http/middleware"
	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/core/domain"
	"payrail/internal/service"
	"payrail/pkg/correlation"
	"payrail/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// simState is the persisted per-provider counters plus the active
// fault profile.
type simState struct {
	ProviderID     string         `json:"provider_id"`
	TotalRequests  int            `json:"total_requests"`
	TotalSuccesses int            `json:"total_successes"`
	TotalFailures  int            `json:"total_failures"`
	LastRequestAt  *time.Time     `json:"last_request_at"`
	FailureConfig  *FailureConfig `json:"failure_config,omitempty"`
}

// Server is the provider simulator.
type Server struct {
	store       *filestore.Store
	secret      string
	callbackURL string
	client      *http.Client
	log         zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewServer creates a simulator with a deterministic RNG seed so test
// runs are reproducible.
func NewServer(store *filestore.Store, secret, callbackURL string, seed int64, log zerolog.Logger) *Server {
	return &Server{
		store:       store,
		secret:      secret,
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (s *Server) roll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Server) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return 0
	}
	return s.rng.Intn(n)
}

func simStatePath(providerID string) string {
	return "providers/" + providerID + "_sim.json"
}

func (s *Server) readState(providerID string) simState {
	st := simState{ProviderID: providerID}
	if err := s.store.ReadJSON(simStatePath(providerID), &st); err != nil && err != filestore.ErrNotFound {
		s.log.Warn().Err(err).Str("provider", providerID).Msg("sim state read failed")
	}
	if st.ProviderID == "" {
		st.ProviderID = providerID
	}
	return st
}

func (s *Server) config(providerID string) FailureConfig {
	st := s.readState(providerID)
	if st.FailureConfig != nil {
		return *st.FailureConfig
	}
	if profile, ok := ProviderProfiles[providerID]; ok {
		return profile
	}
	return DefaultFailureConfig()
}

func (s *Server) bumpCounters(providerID string, success bool) {
	st := simState{ProviderID: providerID}
	if err := s.store.Update(simStatePath(providerID), &st, func() error {
		if st.ProviderID == "" {
			st.ProviderID = providerID
		}
		now := time.Now().UTC()
		st.TotalRequests++
		if success {
			st.TotalSuccesses++
		} else {
			st.TotalFailures++
		}
		st.LastRequestAt = &now
		return nil
	}); err != nil {
		s.log.Warn().Err(err).Str("provider", providerID).Msg("sim state update failed")
	}
}

// sendWebhook posts a signed event to the gateway, optionally
// duplicating it per the provider's fault profile.
func (s *Server) sendWebhook(ctx context.Context, providerID, eventType string, data map[string]any) {
	body, err := json.Marshal(map[string]any{
		"id":         domain.NewWebhookID(),
		"type":       eventType,
		"provider":   providerID,
		"data":       data,
		"created_at": time.Now().UTC(),
	})
	if err != nil {
		return
	}
	signature := service.SignWebhook(s.secret, body)
	cid := correlation.FromContext(ctx)

	post := func() {
		req, err := http.NewRequest(http.MethodPost, s.callbackURL, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-Signature", signature)
		req.Header.Set("X-Correlation-Id", cid)
		resp, err := s.client.Do(req)
		if err != nil {
			s.log.Error().Err(err).Str("type", eventType).Msg("webhook delivery failed")
			return
		}
		resp.Body.Close()
		s.log.Info().Str("type", eventType).Str("provider", providerID).Msg("webhook sent")
	}
	post()

	if s.roll() < s.config(providerID).DuplicateWebhookRate {
		s.log.Info().Str("type", eventType).Msg("injecting duplicate webhook")
		time.Sleep(500 * time.Millisecond)
		post()
	}
}

func (s *Server) simulateLatency(cfg FailureConfig) {
	span := cfg.LatencyMsMax - cfg.LatencyMsMin
	latency := cfg.LatencyMsMin
	if span > 0 {
		latency += s.intn(span + 1)
	}
	time.Sleep(time.Duration(latency) * time.Millisecond)
}

type authorizeRequest struct {
	PaymentID  string `json:"payment_id" binding:"required"`
	Amount     int64  `json:"amount" binding:"required"`
	Currency   string `json:"currency"`
	PAN        string `json:"pan" binding:"required"`
	Expiry     string `json:"expiry" binding:"required"`
	MerchantID string `json:"merchant_id"`
}

func (s *Server) authorize(c *gin.Context) {
	providerID := c.Param("provider_id")
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorBody{Detail: "Invalid request body"})
		return
	}
	cfg := s.config(providerID)
	s.simulateLatency(cfg)

	if s.roll() < cfg.TimeoutRate {
		s.log.Warn().Str("provider", providerID).Msg("injected timeout")
		time.Sleep(15 * time.Second)
		c.JSON(http.StatusGatewayTimeout, response.ErrorBody{Detail: "Gateway timeout"})
		return
	}
	if s.roll() < cfg.ErrorRate {
		s.log.Warn().Str("provider", providerID).Msg("injected server error")
		s.bumpCounters(providerID, false)
		c.JSON(http.StatusInternalServerError, response.ErrorBody{Detail: "Internal provider error"})
		return
	}
	if s.roll() < cfg.DeclineRate {
		reasons := DeclineReasons[providerID]
		if len(reasons) == 0 {
			reasons = []string{"declined"}
		}
		reason := reasons[s.intn(len(reasons))]
		s.log.Info().Str("payment_id", req.PaymentID).Str("reason", reason).Msg("payment declined")
		s.bumpCounters(providerID, false)
		ctx := c.Request.Context()
		go s.sendWebhook(ctx, providerID, "payment.declined", map[string]any{
			"payment_id":     req.PaymentID,
			"decline_reason": reason,
		})
		c.JSON(http.StatusOK, gin.H{
			"success":        false,
			"decline_reason": reason,
			"provider_id":    providerID,
		})
		return
	}

	refPrefix := "PSP_"
	if providerID == "providerA" {
		refPrefix = "ch_"
	}
	providerRef := refPrefix + domain.NewProviderRefSuffix()

	s.bumpCounters(providerID, true)
	ctx := c.Request.Context()
	go s.sendWebhook(ctx, providerID, "payment.authorized", map[string]any{
		"payment_id":   req.PaymentID,
		"provider_ref": providerRef,
		"amount":       req.Amount,
		"currency":     req.Currency,
	})

	s.log.Info().Str("payment_id", req.PaymentID).Str("provider_ref", providerRef).Msg("authorized")
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"provider_ref": providerRef,
		"provider_id":  providerID,
	})
}

type captureRequest struct {
	PaymentID   string `json:"payment_id" binding:"required"`
	ProviderRef string `json:"provider_ref" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
}

func (s *Server) capture(c *gin.Context) {
	providerID := c.Param("provider_id")
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorBody{Detail: "Invalid request body"})
		return
	}
	cfg := s.config(providerID)
	s.simulateLatency(cfg)

	if s.roll() < cfg.ErrorRate {
		c.JSON(http.StatusInternalServerError, response.ErrorBody{Detail: "Capture failed at provider"})
		return
	}

	ctx := c.Request.Context()
	go s.sendWebhook(ctx, providerID, "payment.captured", map[string]any{
		"payment_id":   req.PaymentID,
		"provider_ref": req.ProviderRef,
		"amount":       req.Amount,
	})

	s.log.Info().Str("payment_id", req.PaymentID).Str("provider_ref", req.ProviderRef).Msg("captured")
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"provider_ref": req.ProviderRef,
		"provider_id":  providerID,
	})
}

func (s *Server) refund(c *gin.Context) {
	providerID := c.Param("provider_id")
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorBody{Detail: "Invalid request body"})
		return
	}
	cfg := s.config(providerID)
	s.simulateLatency(cfg)

	if s.roll() < cfg.ErrorRate {
		c.JSON(http.StatusInternalServerError, response.ErrorBody{Detail: "Refund failed at provider"})
		return
	}

	refundRef := "ref_" + domain.NewProviderRefSuffix()
	ctx := c.Request.Context()
	go s.sendWebhook(ctx, providerID, "payment.refunded", map[string]any{
		"payment_id":   req.PaymentID,
		"provider_ref": req.ProviderRef,
		"refund_ref":   refundRef,
		"amount":       req.Amount,
	})

	s.log.Info().Str("payment_id", req.PaymentID).Str("refund_ref", refundRef).Msg("refunded")
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"refund_ref":  refundRef,
		"provider_id": providerID,
	})
}

func (s *Server) injectFailure(c *gin.Context) {
	providerID := c.Param("provider_id")
	var req dto.InjectFailureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorBody{Detail: "Invalid request body"})
		return
	}

	cfg := s.config(providerID)
	if req.TimeoutRate != nil {
		cfg.TimeoutRate = *req.TimeoutRate
	}
	if req.DeclineRate != nil {
		cfg.DeclineRate = *req.DeclineRate
	}
	if req.ErrorRate != nil {
		cfg.ErrorRate = *req.ErrorRate
	}
	if req.DuplicateWebhookRate != nil {
		cfg.DuplicateWebhookRate = *req.DuplicateWebhookRate
	}
	if req.SettlementMismatchRate != nil {
		cfg.SettlementMismatchRate = *req.SettlementMismatchRate
	}
	if req.LatencyMsMin != nil {
		cfg.LatencyMsMin = *req.LatencyMsMin
	}
	if req.LatencyMsMax != nil {
		cfg.LatencyMsMax = *req.LatencyMsMax
	}

	st := simState{ProviderID: providerID}
	if err := s.store.Update(simStatePath(providerID), &st, func() error {
		if st.ProviderID == "" {
			st.ProviderID = providerID
		}
		st.FailureConfig = &cfg
		return nil
	}); err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorBody{Detail: "Failed to persist config"})
		return
	}

	s.log.Info().Str("provider", providerID).Msg("failure config updated")
	c.JSON(http.StatusOK, gin.H{
		"message": "Failure config updated for " + providerID,
		"config":  cfg,
	})
}

func (s *Server) state(c *gin.Context) {
	providerID := c.Param("provider_id")
	st := s.readState(providerID)
	cfg := s.config(providerID)
	st.FailureConfig = &cfg
	c.JSON(http.StatusOK, st)
}

// settlement emits a provider-side settlement CSV from the ledger,
// optionally injecting amount mismatches.
func (s *Server) settlement(c *gin.Context) {
	providerID := c.Param("provider_id")
	date := c.Query("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	cfg := s.config(providerID)

	headers := []string{"payment_id", "provider_ref", "amount", "currency", "type", "status", "settled_at"}
	var rows [][]string
	err := s.store.ReadJSONL("ledger/payments.jsonl", func(line json.RawMessage) error {
		var e domain.LedgerEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil
		}
		if e.Provider != providerID {
			return nil
		}
		if e.Type != "payment.captured" && e.Type != "payment.settled" {
			return nil
		}
		amount := e.Amount
		if s.roll() < cfg.SettlementMismatchRate {
			amount -= int64(1 + s.intn(500))
		}
		providerRef := ""
		if v, ok := e.Metadata["provider_ref"].(string); ok {
			providerRef = v
		}
		rows = append(rows, []string{
			e.Ref,
			providerRef,
			strconv.FormatInt(amount, 10),
			e.Currency,
			e.Type,
			"settled",
			e.Timestamp.UTC().Format(time.RFC3339),
		})
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorBody{Detail: "Ledger read failed"})
		return
	}

	if err := s.store.WriteCSV("settlement/settlement_"+date+".csv", headers, rows); err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorBody{Detail: "Settlement write failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"file":     "settlement_" + date + ".csv",
		"rows":     len(rows),
		"provider": providerID,
	})
}

// Router builds the simulator's HTTP surface.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		middleware.Recovery(s.log),
		middleware.Correlation(),
		middleware.RequestLogger(s.log),
	)

	p := r.Group("/providers/:provider_id")
	{
		p.POST("/authorize", s.authorize)
		p.POST("/capture", s.capture)
		p.POST("/refund", s.refund)
		p.POST("/inject-failure", s.injectFailure)
		p.GET("/state", s.state)
		p.GET("/settlement", s.settlement)
	}
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "provider-sim"})
	})
	return r
}
