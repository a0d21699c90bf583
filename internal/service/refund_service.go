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

// RefundService implements the maker-checker refund flow. Refunds are
// created directly in pending_approval; a second actor (or an admin)
// approves, which triggers the provider refund and lands the refund in
// succeeded or failed.
type RefundService struct {
	store       *filestore.Store
	ledger      *LedgerService
	idempotency *IdempotencyService
	provider    ports.ProviderClient
	log         zerolog.Logger
}

func NewRefundService(
	store *filestore.Store,
	ledger *LedgerService,
	idempotency *IdempotencyService,
	provider ports.ProviderClient,
	log zerolog.Logger,
) *RefundService {
	return &RefundService{
		store:       store,
		ledger:      ledger,
		idempotency: idempotency,
		provider:    provider,
		log:         log,
	}
}

func (s *RefundService) loadRefunds() (map[string]*domain.Refund, error) {
	refunds := map[string]*domain.Refund{}
	if err := s.store.ReadJSON(pathRefundsStore, &refunds); err != nil && err != filestore.ErrNotFound {
		return nil, apperror.Internal(err)
	}
	return refunds, nil
}

func (s *RefundService) saveRefund(r *domain.Refund) error {
	refunds := map[string]*domain.Refund{}
	return s.store.Update(pathRefundsStore, &refunds, func() error {
		refunds[r.ID] = r
		return nil
	})
}

func (s *RefundService) getRefund(refundID string) (*domain.Refund, error) {
	refunds, err := s.loadRefunds()
	if err != nil {
		return nil, err
	}
	r, ok := refunds[refundID]
	if !ok {
		return nil, apperror.NotFound("Refund", refundID)
	}
	return r, nil
}

func (s *RefundService) commit(ctx context.Context, r *domain.Refund, eventType, outboxType string) error {
	entry := domain.LedgerEntry{
		Type:          eventType,
		Ref:           r.ID,
		Amount:        r.Amount,
		Currency:      r.Currency,
		MerchantID:    r.MerchantID,
		CorrelationID: correlation.FromContext(ctx),
		Metadata:      domain.Snapshot(r),
	}
	if _, err := s.ledger.WriteEntry(ctx, entry); err != nil {
		return apperror.Internal(err)
	}
	if err := s.saveRefund(r); err != nil {
		return apperror.Internal(err)
	}
	if err := s.ledger.EmitOutboxEvent(ctx, outboxType, domain.Snapshot(r)); err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// Request creates a refund in pending_approval for a captured or
// settled payment. The refundable amount is bounded by the payment
// amount minus refunds already pending or completed.
func (s *RefundService) Request(ctx context.Context, idemKey string, in ports.RefundRequestInput) (ports.OpResponse, error) {
	hash, err := ComputeHash(map[string]any{
		"action":     "create_refund",
		"payment_id": in.PaymentID,
		"amount":     in.Amount,
		"reason":     in.Reason,
	})
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	scopedKey := "refunds:create:" + idemKey
	if cached, err := s.idempotency.Check(scopedKey, hash); err != nil {
		return ports.OpResponse{}, err
	} else if cached != nil {
		return *cached, nil
	}

	payments := map[string]*domain.PaymentIntent{}
	if err := s.store.ReadJSON(pathPaymentsStore, &payments); err != nil && err != filestore.ErrNotFound {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	payment, ok := payments[in.PaymentID]
	if !ok {
		return ports.OpResponse{}, apperror.NotFound("Payment", in.PaymentID)
	}
	if !payment.Refundable() {
		return ports.OpResponse{}, apperror.Conflict("Payment must be captured or settled to refund")
	}

	refunds, err := s.loadRefunds()
	if err != nil {
		return ports.OpResponse{}, err
	}
	var outstanding int64
	for _, r := range refunds {
		if r.PaymentID != in.PaymentID {
			continue
		}
		switch r.State {
		case domain.RefundPendingApproval, domain.RefundApproved, domain.RefundSucceeded:
			outstanding += r.Amount
		}
	}
	if in.Amount <= 0 || outstanding+in.Amount > payment.Amount {
		return ports.OpResponse{}, apperror.BadRequest("Refund amount exceeds payment amount")
	}

	now := time.Now().UTC()
	r := &domain.Refund{
		ID:            domain.NewRefundID(),
		PaymentID:     in.PaymentID,
		Amount:        in.Amount,
		Currency:      payment.Currency,
		State:         domain.RefundPendingApproval,
		Reason:        in.Reason,
		RequestedBy:   in.RequestedBy,
		MerchantID:    in.RequestedBy,
		CorrelationID: correlation.FromContext(ctx),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.commit(ctx, r, "refund.created", "refund.created"); err != nil {
		return ports.OpResponse{}, err
	}

	resp, err := ports.NewOpResponse(http.StatusCreated, r)
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	if err := s.idempotency.Store(scopedKey, hash, resp); err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	s.log.Info().
		Str("refund_id", r.ID).
		Str("payment_id", in.PaymentID).
		Int64("amount", in.Amount).
		Msg("refund created, pending approval")
	return resp, nil
}

// Approve applies maker-checker, moves the refund to approved, and
// submits the provider refund. The terminal state depends on the
// provider outcome.
func (s *RefundService) Approve(ctx context.Context, idemKey, refundID, approver, role string) (ports.OpResponse, error) {
	hash, err := ComputeHash(map[string]any{
		"action":    "approve_refund",
		"refund_id": refundID,
		"approver":  approver,
		"role":      role,
	})
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	scopedKey := "refunds:approve:" + idemKey
	if cached, err := s.idempotency.Check(scopedKey, hash); err != nil {
		return ports.OpResponse{}, err
	} else if cached != nil {
		return *cached, nil
	}

	r, err := s.getRefund(refundID)
	if err != nil {
		return ports.OpResponse{}, err
	}
	if r.RequestedBy == approver && role != "admin" {
		return ports.OpResponse{}, apperror.MakerCheckerViolation()
	}
	if !domain.CanTransitionRefund(r.State, domain.RefundApproved) {
		return ports.OpResponse{}, apperror.InvalidTransition("refund", string(r.State), string(domain.RefundApproved))
	}

	r.State = domain.RefundApproved
	r.ApprovedBy = approver
	r.UpdatedAt = time.Now().UTC()

	payments := map[string]*domain.PaymentIntent{}
	if err := s.store.ReadJSON(pathPaymentsStore, &payments); err != nil && err != filestore.ErrNotFound {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	payment := payments[r.PaymentID]

	if payment != nil && payment.Provider != "" && payment.ProviderRef != "" {
		result, err := s.provider.Refund(ctx, payment.Provider, r.PaymentID, payment.ProviderRef, r.Amount)
		switch {
		case err != nil:
			s.log.Error().Err(err).Str("refund_id", refundID).Msg("provider refund failed")
			r.State = domain.RefundFailed
		case result.Success:
			r.State = domain.RefundSucceeded
		default:
			r.State = domain.RefundFailed
		}
	} else {
		r.State = domain.RefundSucceeded
	}
	r.UpdatedAt = time.Now().UTC()

	eventType := "refund." + string(r.State)
	if err := s.commit(ctx, r, eventType, eventType); err != nil {
		return ports.OpResponse{}, err
	}

	resp, err := ports.NewOpResponse(http.StatusOK, r)
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	if err := s.idempotency.Store(scopedKey, hash, resp); err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	s.log.Info().
		Str("refund_id", refundID).
		Str("state", string(r.State)).
		Str("approved_by", approver).
		Msg("refund approval processed")
	return resp, nil
}

// Reject moves a pending refund to failed without a provider call.
func (s *RefundService) Reject(ctx context.Context, idemKey, refundID, rejectedBy, reason string) (ports.OpResponse, error) {
	hash, err := ComputeHash(map[string]any{
		"action":      "reject_refund",
		"refund_id":   refundID,
		"rejected_by": rejectedBy,
		"reason":      reason,
	})
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	scopedKey := "refunds:reject:" + idemKey
	if cached, err := s.idempotency.Check(scopedKey, hash); err != nil {
		return ports.OpResponse{}, err
	} else if cached != nil {
		return *cached, nil
	}

	r, err := s.getRefund(refundID)
	if err != nil {
		return ports.OpResponse{}, err
	}
	if !domain.CanTransitionRefund(r.State, domain.RefundFailed) {
		return ports.OpResponse{}, apperror.InvalidTransition("refund", string(r.State), string(domain.RefundFailed))
	}

	if reason == "" {
		reason = "Rejected by approver"
	}
	r.State = domain.RefundFailed
	r.UpdatedAt = time.Now().UTC()
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata["rejection_reason"] = reason

	if err := s.commit(ctx, r, "refund.failed", "refund.rejected"); err != nil {
		return ports.OpResponse{}, err
	}

	resp, err := ports.NewOpResponse(http.StatusOK, r)
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	if err := s.idempotency.Store(scopedKey, hash, resp); err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	s.log.Info().Str("refund_id", refundID).Str("rejected_by", rejectedBy).Msg("refund rejected")
	return resp, nil
}

// Get returns one refund with its full ledger history.
func (s *RefundService) Get(ctx context.Context, refundID string) (*domain.Refund, []domain.LedgerEntry, error) {
	r, err := s.getRefund(refundID)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.ledger.EntriesForRef(refundID)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}
	return r, entries, nil
}

// List returns refunds newest-first with optional filters.
func (s *RefundService) List(ctx context.Context, filter ports.RefundListFilter) ([]*domain.Refund, int, error) {
	refunds, err := s.loadRefunds()
	if err != nil {
		return nil, 0, err
	}
	items := make([]*domain.Refund, 0, len(refunds))
	for _, r := range refunds {
		if filter.State != "" && string(r.State) != filter.State {
			continue
		}
		if filter.PaymentID != "" && r.PaymentID != filter.PaymentID {
			continue
		}
		items = append(items, r)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	total := len(items)

	if filter.Offset > 0 {
		if filter.Offset >= len(items) {
			return []*domain.Refund{}, total, nil
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
