package jobs

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/core/domain"

	"github.com/rs/zerolog"
)

const (
	pathLedgerPayments = "ledger/payments.jsonl"
	pathPaymentsStore  = "idempotency/payments_store.json"
)

var settlementHeaders = []string{
	"payment_id", "provider_ref", "amount", "currency", "type", "status", "settled_at",
}

// Settlement promotes captured payments to settled and emits a daily
// CSV from the ledger. Promotion covers every not-yet-settled captured
// payment regardless of capture date; CSV rows cover only the target
// date. Safe to run repeatedly: the settled-ref set prevents double
// promotion.
type Settlement struct {
	store *filestore.Store
	log   zerolog.Logger
}

func NewSettlement(store *filestore.Store, log zerolog.Logger) *Settlement {
	return &Settlement{store: store, log: log}
}

// Run generates a settlement for today on every tick.
func (s *Settlement) Run(ctx context.Context, interval time.Duration) error {
	s.log.Info().Dur("interval", interval).Msg("settlement generator started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			date := time.Now().UTC().Format("2006-01-02")
			if _, err := s.Generate(ctx, date); err != nil {
				s.log.Error().Err(err).Msg("settlement tick failed")
			}
		}
	}
}

// Generate runs one settlement pass for the given date and returns the
// number of CSV rows written.
func (s *Settlement) Generate(ctx context.Context, date string) (int, error) {
	var entries []domain.LedgerEntry
	err := s.store.ReadJSONL(pathLedgerPayments, func(line json.RawMessage) error {
		var e domain.LedgerEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return 0, err
	}

	payments := map[string]*domain.PaymentIntent{}
	if err := s.store.ReadJSON(pathPaymentsStore, &payments); err != nil && err != filestore.ErrNotFound {
		return 0, err
	}

	settledRefs := map[string]bool{}
	for _, e := range entries {
		if e.Type == "payment.settled" {
			settledRefs[e.Ref] = true
		}
	}

	mutated := false
	for _, e := range entries {
		if e.Type != "payment.captured" && e.Type != "payment.settled" {
			continue
		}
		payment, ok := payments[e.Ref]
		if !ok {
			continue
		}
		if payment.State != domain.PaymentCaptured || settledRefs[e.Ref] {
			continue
		}
		payment.State = domain.PaymentSettled
		payment.UpdatedAt = time.Now().UTC()
		settledRefs[e.Ref] = true
		mutated = true

		settledEntry := domain.LedgerEntry{
			EventID:       domain.NewEventID(),
			Type:          "payment.settled",
			Ref:           e.Ref,
			Amount:        e.Amount,
			Currency:      e.Currency,
			MerchantID:    payment.MerchantID,
			Provider:      e.Provider,
			CorrelationID: "corr_settlement_job",
			Timestamp:     time.Now().UTC(),
			Metadata:      domain.Snapshot(payment),
		}
		if err := s.store.AppendJSONL(pathLedgerPayments, settledEntry); err != nil {
			return 0, err
		}
		entries = append(entries, settledEntry)

		outboxEvent := domain.OutboxEvent{
			EventID:       domain.NewOutboxID(),
			Type:          "payment.settled",
			Payload:       domain.Snapshot(payment),
			CorrelationID: "corr_settlement_job",
			CreatedAt:     time.Now().UTC(),
		}
		if err := s.store.AppendJSONL(pathOutboxEvents, outboxEvent); err != nil {
			return 0, err
		}
		s.log.Info().Str("payment_id", e.Ref).Msg("payment promoted to settled")
	}

	var rows [][]string
	seen := map[string]bool{}
	for _, e := range entries {
		if e.Type != "payment.captured" && e.Type != "payment.settled" {
			continue
		}
		if !strings.HasPrefix(e.Timestamp.UTC().Format(time.RFC3339), date) {
			continue
		}
		if seen[e.Ref] {
			continue
		}
		seen[e.Ref] = true

		providerRef := ""
		if v, ok := e.Metadata["provider_ref"].(string); ok {
			providerRef = v
		}
		rows = append(rows, []string{
			e.Ref,
			providerRef,
			strconv.FormatInt(e.Amount, 10),
			e.Currency,
			e.Type,
			"settled",
			e.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	if len(rows) > 0 {
		if err := s.store.WriteCSV("settlement/settlement_"+date+".csv", settlementHeaders, rows); err != nil {
			return 0, err
		}
		s.log.Info().Str("date", date).Int("rows", len(rows)).Msg("settlement file written")
	}

	if mutated {
		fresh := map[string]*domain.PaymentIntent{}
		if err := s.store.Update(pathPaymentsStore, &fresh, func() error {
			for id, p := range payments {
				fresh[id] = p
			}
			return nil
		}); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}
