package service

import (
	"context"
	"net/http"
	"sort"
	"time"

	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/core/domain"
	"payrail/internal/core/ports"
	"payrail/pkg/apperror"
	"payrail/pkg/correlation"

	"github.com/rs/zerolog"
)

// PaymentService drives the payment lifecycle. Every write path runs
// idempotency check, state validation, external side effect, ledger
// append, snapshot write, outbox append, in that order. Errors before
// the ledger append leave no trace.
type PaymentService struct {
	store       *filestore.Store
	ledger      *LedgerService
	idempotency *IdempotencyService
	routing     *RoutingEngine
	provider    ports.ProviderClient
	vault       ports.VaultClient
	log         zerolog.Logger
}

func NewPaymentService(
	store *filestore.Store,
	ledger *LedgerService,
	idempotency *IdempotencyService,
	routing *RoutingEngine,
	provider ports.ProviderClient,
	vault ports.VaultClient,
	log zerolog.Logger,
) *PaymentService {
	return &PaymentService{
		store:       store,
		ledger:      ledger,
		idempotency: idempotency,
		routing:     routing,
		provider:    provider,
		vault:       vault,
		log:         log,
	}
}

func (s *PaymentService) loadPayments() (map[string]*domain.PaymentIntent, error) {
	payments := map[string]*domain.PaymentIntent{}
	if err := s.store.ReadJSON(pathPaymentsStore, &payments); err != nil && err != filestore.ErrNotFound {
		return nil, apperror.Internal(err)
	}
	return payments, nil
}

func (s *PaymentService) savePayment(p *domain.PaymentIntent) error {
	payments := map[string]*domain.PaymentIntent{}
	return s.store.Update(pathPaymentsStore, &payments, func() error {
		payments[p.ID] = p
		return nil
	})
}

func (s *PaymentService) getPayment(paymentID string) (*domain.PaymentIntent, error) {
	payments, err := s.loadPayments()
	if err != nil {
		return nil, err
	}
	p, ok := payments[paymentID]
	if !ok {
		return nil, apperror.NotFound("Payment", paymentID)
	}
	return p, nil
}

// Create records a new payment intent in state created.
func (s *PaymentService) Create(ctx context.Context, idemKey string, in ports.CreatePaymentInput) (ports.OpResponse, error) {
	hash, err := ComputeHash(map[string]any{
		"action":         "create",
		"amount":         in.Amount,
		"currency":       in.Currency,
		"customer_email": in.CustomerEmail,
		"description":    in.Description,
		"metadata":       in.Metadata,
	})
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	scopedKey := "payments:create:" + idemKey
	if cached, err := s.idempotency.Check(scopedKey, hash); err != nil {
		return ports.OpResponse{}, err
	} else if cached != nil {
		return *cached, nil
	}

	now := time.Now().UTC()
	meta := in.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	if in.Country != "" {
		meta["country"] = in.Country
	}
	if in.Provider != "" {
		meta["preferred_provider"] = in.Provider
	}
	p := &domain.PaymentIntent{
		ID:             domain.NewPaymentID(),
		Amount:         in.Amount,
		Currency:       in.Currency,
		State:          domain.PaymentCreated,
		MerchantID:     in.MerchantID,
		CustomerEmail:  in.CustomerEmail,
		Description:    in.Description,
		IdempotencyKey: idemKey,
		CorrelationID:  correlation.FromContext(ctx),
		CreatedAt:      now,
		UpdatedAt:      now,
		Metadata:       meta,
	}

	if err := s.commit(ctx, p, "payment.created"); err != nil {
		return ports.OpResponse{}, err
	}

	resp, err := ports.NewOpResponse(http.StatusCreated, p)
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	if err := s.idempotency.Store(scopedKey, hash, resp); err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	s.log.Info().
		Str("payment_id", p.ID).
		Str("merchant_id", in.MerchantID).
		Int64("amount", in.Amount).
		Msg("payment created")
	return resp, nil
}

// commit appends the ledger entry, writes the snapshot, and emits the
// outbox event, in that order.
func (s *PaymentService) commit(ctx context.Context, p *domain.PaymentIntent, eventType string) error {
	entry := domain.LedgerEntry{
		Type:          eventType,
		Ref:           p.ID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		MerchantID:    p.MerchantID,
		Provider:      p.Provider,
		CorrelationID: correlation.FromContext(ctx),
		Metadata:      domain.Snapshot(p),
	}
	if _, err := s.ledger.WriteEntry(ctx, entry); err != nil {
		return apperror.Internal(err)
	}
	if err := s.savePayment(p); err != nil {
		return apperror.Internal(err)
	}
	if err := s.ledger.EmitOutboxEvent(ctx, eventType, domain.Snapshot(p)); err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// Authorize routes the payment to a provider and submits the card. A
// ProviderUnavailable from the selected provider triggers one failover
// attempt against the alternate. A business decline moves the payment
// to declined and still returns 200 with the snapshot.
func (s *PaymentService) Authorize(ctx context.Context, idemKey, paymentID, merchantID string, in ports.AuthorizeInput) (ports.OpResponse, error) {
	hash, err := ComputeHash(map[string]any{
		"action":     "authorize",
		"payment_id": paymentID,
		"pan":        in.PAN,
		"expiry":     in.Expiry,
		"token":      in.Token,
	})
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	scopedKey := "payments:authorize:" + idemKey
	if cached, err := s.idempotency.Check(scopedKey, hash); err != nil {
		return ports.OpResponse{}, err
	} else if cached != nil {
		return *cached, nil
	}

	p, err := s.getPayment(paymentID)
	if err != nil {
		return ports.OpResponse{}, err
	}
	if !domain.CanTransitionPayment(p.State, domain.PaymentAuthorized) {
		return ports.OpResponse{}, apperror.InvalidTransition("payment", string(p.State), string(domain.PaymentAuthorized))
	}

	token := in.Token
	if token == "" {
		token = p.Token
	}
	var pan, expiry string
	switch {
	case in.PAN != "" && in.Expiry != "":
		token, err = s.vault.Tokenize(ctx, in.PAN, in.Expiry, "api-gateway")
		if err != nil {
			return ports.OpResponse{}, err
		}
		pan, expiry = in.PAN, in.Expiry
	case token != "":
		pan, expiry, err = s.vault.ChargeToken(ctx, token, "api-gateway")
		if err != nil {
			return ports.OpResponse{}, err
		}
	default:
		return ports.OpResponse{}, apperror.BadRequest("Either pan+expiry or token required")
	}

	country, _ := p.Metadata["country"].(string)
	preferred, _ := p.Metadata["preferred_provider"].(string)
	providerID, err := s.routing.SelectProvider(p.Amount, p.Currency, country, preferred)
	if err != nil {
		return ports.OpResponse{}, err
	}

	card := ports.AuthorizeCard{
		PaymentID:  paymentID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		PAN:        pan,
		Expiry:     expiry,
		MerchantID: merchantID,
	}
	result, err := s.provider.AuthorizeCard(ctx, providerID, card)
	if apperror.IsKind(err, apperror.KindProviderUnavailable) {
		alternate := s.routing.Alternate(providerID)
		s.log.Warn().
			Str("payment_id", paymentID).
			Str("provider", providerID).
			Str("failover", alternate).
			Msg("provider unavailable, attempting failover")
		result, err = s.provider.AuthorizeCard(ctx, alternate, card)
		if err != nil {
			return ports.OpResponse{}, apperror.BadGateway("All providers failed")
		}
		providerID = alternate
	} else if err != nil {
		return ports.OpResponse{}, err
	}

	eventType := "payment.authorized"
	p.State = domain.PaymentAuthorized
	if !result.Success {
		eventType = "payment.declined"
		p.State = domain.PaymentDeclined
		if p.Metadata == nil {
			p.Metadata = map[string]any{}
		}
		p.Metadata["decline_reason"] = result.DeclineReason
	}
	p.Provider = providerID
	p.Token = token
	p.ProviderRef = result.ProviderRef
	p.UpdatedAt = time.Now().UTC()

	if err := s.commit(ctx, p, eventType); err != nil {
		return ports.OpResponse{}, err
	}

	resp, err := ports.NewOpResponse(http.StatusOK, p)
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	if err := s.idempotency.Store(scopedKey, hash, resp); err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	s.log.Info().
		Str("payment_id", paymentID).
		Str("state", string(p.State)).
		Str("provider", providerID).
		Msg("authorize completed")
	return resp, nil
}

// Capture submits a capture for an authorized payment.
func (s *PaymentService) Capture(ctx context.Context, idemKey, paymentID, merchantID string) (ports.OpResponse, error) {
	hash, err := ComputeHash(map[string]any{"action": "capture", "payment_id": paymentID})
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	scopedKey := "payments:capture:" + idemKey
	if cached, err := s.idempotency.Check(scopedKey, hash); err != nil {
		return ports.OpResponse{}, err
	} else if cached != nil {
		return *cached, nil
	}

	p, err := s.getPayment(paymentID)
	if err != nil {
		return ports.OpResponse{}, err
	}
	if !domain.CanTransitionPayment(p.State, domain.PaymentCaptured) {
		return ports.OpResponse{}, apperror.InvalidTransition("payment", string(p.State), string(domain.PaymentCaptured))
	}
	if p.Provider == "" || p.ProviderRef == "" {
		return ports.OpResponse{}, apperror.BadRequest("Payment not yet authorized with a provider")
	}

	if _, err := s.provider.Capture(ctx, p.Provider, paymentID, p.ProviderRef, p.Amount); err != nil {
		return ports.OpResponse{}, err
	}

	p.State = domain.PaymentCaptured
	p.UpdatedAt = time.Now().UTC()
	if err := s.commit(ctx, p, "payment.captured"); err != nil {
		return ports.OpResponse{}, err
	}

	resp, err := ports.NewOpResponse(http.StatusOK, p)
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	if err := s.idempotency.Store(scopedKey, hash, resp); err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	s.log.Info().Str("payment_id", paymentID).Msg("payment captured")
	return resp, nil
}

// Cancel reverses an authorized payment. No provider call is made.
func (s *PaymentService) Cancel(ctx context.Context, idemKey, paymentID, merchantID string) (ports.OpResponse, error) {
	hash, err := ComputeHash(map[string]any{"action": "cancel", "payment_id": paymentID})
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	scopedKey := "payments:cancel:" + idemKey
	if cached, err := s.idempotency.Check(scopedKey, hash); err != nil {
		return ports.OpResponse{}, err
	} else if cached != nil {
		return *cached, nil
	}

	p, err := s.getPayment(paymentID)
	if err != nil {
		return ports.OpResponse{}, err
	}
	if !domain.CanTransitionPayment(p.State, domain.PaymentReversed) {
		return ports.OpResponse{}, apperror.InvalidTransition("payment", string(p.State), string(domain.PaymentReversed))
	}

	p.State = domain.PaymentReversed
	p.UpdatedAt = time.Now().UTC()
	if err := s.commit(ctx, p, "payment.reversed"); err != nil {
		return ports.OpResponse{}, err
	}

	resp, err := ports.NewOpResponse(http.StatusOK, p)
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	if err := s.idempotency.Store(scopedKey, hash, resp); err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	s.log.Info().Str("payment_id", paymentID).Msg("payment reversed")
	return resp, nil
}

// Get returns the payment and its full ledger history.
func (s *PaymentService) Get(ctx context.Context, paymentID string) (*domain.PaymentIntent, []domain.LedgerEntry, error) {
	p, err := s.getPayment(paymentID)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.ledger.EntriesForRef(paymentID)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}
	return p, entries, nil
}

// List returns payments newest-first with optional filters. The second
// return value is the total match count before pagination.
func (s *PaymentService) List(ctx context.Context, filter ports.PaymentListFilter) ([]*domain.PaymentIntent, int, error) {
	payments, err := s.loadPayments()
	if err != nil {
		return nil, 0, err
	}
	items := make([]*domain.PaymentIntent, 0, len(payments))
	for _, p := range payments {
		if filter.State != "" && string(p.State) != filter.State {
			continue
		}
		if filter.MerchantID != "" && p.MerchantID != filter.MerchantID {
			continue
		}
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	total := len(items)

	if filter.Offset > 0 {
		if filter.Offset >= len(items) {
			return []*domain.PaymentIntent{}, total, nil
		}
		items = items[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if limit < len(items) {
		items = items[:limit]
	}
	return items, total, nil
}
