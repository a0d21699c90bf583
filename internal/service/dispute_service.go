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

// DisputeService manages chargeback disputes. Opening a dispute on a
// captured or settled payment moves that payment to chargeback.
type DisputeService struct {
	store       *filestore.Store
	ledger      *LedgerService
	idempotency *IdempotencyService
	log         zerolog.Logger
}

func NewDisputeService(
	store *filestore.Store,
	ledger *LedgerService,
	idempotency *IdempotencyService,
	log zerolog.Logger,
) *DisputeService {
	return &DisputeService{store: store, ledger: ledger, idempotency: idempotency, log: log}
}

func (s *DisputeService) loadDisputes() (map[string]*domain.Dispute, error) {
	disputes := map[string]*domain.Dispute{}
	if err := s.store.ReadJSON(pathDisputesStore, &disputes); err != nil && err != filestore.ErrNotFound {
		return nil, apperror.Internal(err)
	}
	return disputes, nil
}

func (s *DisputeService) saveDispute(d *domain.Dispute) error {
	disputes := map[string]*domain.Dispute{}
	return s.store.Update(pathDisputesStore, &disputes, func() error {
		disputes[d.ID] = d
		return nil
	})
}

func (s *DisputeService) getDispute(disputeID string) (*domain.Dispute, error) {
	disputes, err := s.loadDisputes()
	if err != nil {
		return nil, err
	}
	d, ok := disputes[disputeID]
	if !ok {
		return nil, apperror.NotFound("Dispute", disputeID)
	}
	return d, nil
}

func (s *DisputeService) commit(ctx context.Context, d *domain.Dispute, eventType string) error {
	entry := domain.LedgerEntry{
		Type:          eventType,
		Ref:           d.ID,
		Amount:        d.Amount,
		Currency:      d.Currency,
		MerchantID:    d.MerchantID,
		CorrelationID: correlation.FromContext(ctx),
		Metadata:      domain.Snapshot(d),
	}
	if _, err := s.ledger.WriteEntry(ctx, entry); err != nil {
		return apperror.Internal(err)
	}
	if err := s.saveDispute(d); err != nil {
		return apperror.Internal(err)
	}
	if err := s.ledger.EmitOutboxEvent(ctx, eventType, domain.Snapshot(d)); err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// Open files a dispute against a payment.
func (s *DisputeService) Open(ctx context.Context, idemKey string, in ports.DisputeOpenInput) (ports.OpResponse, error) {
	hash, err := ComputeHash(map[string]any{
		"action":     "create_dispute",
		"payment_id": in.PaymentID,
		"amount":     in.Amount,
		"reason":     in.Reason,
	})
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	scopedKey := "disputes:create:" + idemKey
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

	now := time.Now().UTC()
	d := &domain.Dispute{
		ID:            domain.NewDisputeID(),
		PaymentID:     in.PaymentID,
		Amount:        in.Amount,
		Currency:      payment.Currency,
		State:         domain.DisputeOpened,
		Reason:        in.Reason,
		MerchantID:    in.MerchantID,
		CorrelationID: correlation.FromContext(ctx),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.commit(ctx, d, "dispute.opened"); err != nil {
		return ports.OpResponse{}, err
	}

	// A dispute against captured or settled funds forces the payment
	// into chargeback.
	if payment.Refundable() {
		payment.State = domain.PaymentChargeback
		payment.UpdatedAt = time.Now().UTC()
		if err := s.store.Update(pathPaymentsStore, &payments, func() error {
			payments[in.PaymentID] = payment
			return nil
		}); err != nil {
			return ports.OpResponse{}, apperror.Internal(err)
		}
	}

	resp, err := ports.NewOpResponse(http.StatusCreated, d)
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	if err := s.idempotency.Store(scopedKey, hash, resp); err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	s.log.Info().
		Str("dispute_id", d.ID).
		Str("payment_id", in.PaymentID).
		Msg("dispute opened")
	return resp, nil
}

// SubmitEvidence attaches evidence and moves the dispute under review.
func (s *DisputeService) SubmitEvidence(ctx context.Context, idemKey, disputeID, evidence string) (ports.OpResponse, error) {
	hash, err := ComputeHash(map[string]any{
		"action":     "submit_evidence",
		"dispute_id": disputeID,
		"evidence":   evidence,
	})
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	scopedKey := "disputes:evidence:" + idemKey
	if cached, err := s.idempotency.Check(scopedKey, hash); err != nil {
		return ports.OpResponse{}, err
	} else if cached != nil {
		return *cached, nil
	}

	d, err := s.getDispute(disputeID)
	if err != nil {
		return ports.OpResponse{}, err
	}
	if !domain.CanTransitionDispute(d.State, domain.DisputeUnderReview) {
		return ports.OpResponse{}, apperror.InvalidTransition("dispute", string(d.State), string(domain.DisputeUnderReview))
	}

	d.State = domain.DisputeUnderReview
	d.Evidence = evidence
	d.UpdatedAt = time.Now().UTC()

	if err := s.commit(ctx, d, "dispute.under_review"); err != nil {
		return ports.OpResponse{}, err
	}

	resp, err := ports.NewOpResponse(http.StatusOK, d)
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	if err := s.idempotency.Store(scopedKey, hash, resp); err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	s.log.Info().Str("dispute_id", disputeID).Msg("dispute evidence submitted")
	return resp, nil
}

// Resolve closes a dispute as won or lost.
func (s *DisputeService) Resolve(ctx context.Context, idemKey, disputeID, outcome string) (ports.OpResponse, error) {
	hash, err := ComputeHash(map[string]any{
		"action":     "resolve_dispute",
		"dispute_id": disputeID,
		"outcome":    outcome,
	})
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	scopedKey := "disputes:resolve:" + idemKey
	if cached, err := s.idempotency.Check(scopedKey, hash); err != nil {
		return ports.OpResponse{}, err
	} else if cached != nil {
		return *cached, nil
	}

	var target domain.DisputeState
	switch outcome {
	case "won":
		target = domain.DisputeWon
	case "lost":
		target = domain.DisputeLost
	default:
		return ports.OpResponse{}, apperror.BadRequest("Outcome must be 'won' or 'lost'")
	}

	d, err := s.getDispute(disputeID)
	if err != nil {
		return ports.OpResponse{}, err
	}
	if !domain.CanTransitionDispute(d.State, target) {
		return ports.OpResponse{}, apperror.InvalidTransition("dispute", string(d.State), string(target))
	}

	d.State = target
	d.UpdatedAt = time.Now().UTC()

	if err := s.commit(ctx, d, "dispute."+string(target)); err != nil {
		return ports.OpResponse{}, err
	}

	resp, err := ports.NewOpResponse(http.StatusOK, d)
	if err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	if err := s.idempotency.Store(scopedKey, hash, resp); err != nil {
		return ports.OpResponse{}, apperror.Internal(err)
	}
	s.log.Info().Str("dispute_id", disputeID).Str("outcome", outcome).Msg("dispute resolved")
	return resp, nil
}

// Get returns one dispute with its full ledger history.
func (s *DisputeService) Get(ctx context.Context, disputeID string) (*domain.Dispute, []domain.LedgerEntry, error) {
	d, err := s.getDispute(disputeID)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.ledger.EntriesForRef(disputeID)
	if err != nil {
		return nil, nil, apperror.Internal(err)
	}
	return d, entries, nil
}

// List returns disputes newest-first with optional filters.
func (s *DisputeService) List(ctx context.Context, filter ports.DisputeListFilter) ([]*domain.Dispute, int, error) {
	disputes, err := s.loadDisputes()
	if err != nil {
		return nil, 0, err
	}
	items := make([]*domain.Dispute, 0, len(disputes))
	for _, d := range disputes {
		if filter.State != "" && string(d.State) != filter.State {
			continue
		}
		if filter.PaymentID != "" && d.PaymentID != filter.PaymentID {
			continue
		}
		items = append(items, d)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	total := len(items)

	if filter.Offset > 0 {
		if filter.Offset >= len(items) {
			return []*domain.Dispute{}, total, nil
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
