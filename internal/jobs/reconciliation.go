package jobs

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/core/domain"

	"github.com/rs/zerolog"
)

// Mismatch is one reconciliation discrepancy.
type Mismatch struct {
	PaymentID        string `json:"payment_id"`
	LedgerAmount     *int64 `json:"ledger_amount"`
	SettlementAmount *int64 `json:"settlement_amount"`
	Diff             int64  `json:"diff,omitempty"`
	Issue            string `json:"issue"`
}

// Report is the per-date reconciliation result.
type Report struct {
	Date                  string     `json:"date"`
	Status                string     `json:"status"`
	TotalLedger           int64      `json:"total_ledger"`
	TotalSettlement       int64      `json:"total_settlement"`
	Diff                  int64      `json:"diff"`
	Matched               int        `json:"matched"`
	Mismatched            int        `json:"mismatched"`
	MissingFromSettlement int        `json:"missing_from_settlement"`
	MissingFromLedger     int        `json:"missing_from_ledger"`
	Mismatches            []Mismatch `json:"mismatches"`
	GeneratedAt           time.Time  `json:"generated_at"`
}

// Reconciliation diffs ledger captured/settled totals against the
// day's settlement CSV and writes a per-date report.
type Reconciliation struct {
	store *filestore.Store
	log   zerolog.Logger
}

func NewReconciliation(store *filestore.Store, log zerolog.Logger) *Reconciliation {
	return &Reconciliation{store: store, log: log}
}

// Run reconciles today's settlement on every tick.
func (r *Reconciliation) Run(ctx context.Context, interval time.Duration) error {
	r.log.Info().Dur("interval", interval).Msg("reconciliation job started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			date := time.Now().UTC().Format("2006-01-02")
			if _, err := r.Reconcile(ctx, date); err != nil {
				r.log.Error().Err(err).Msg("reconciliation tick failed")
			}
		}
	}
}

// Reconcile produces and persists the report for one date.
func (r *Reconciliation) Reconcile(ctx context.Context, date string) (*Report, error) {
	ledgerAmounts := map[string]int64{}
	err := r.store.ReadJSONL(pathLedgerPayments, func(line json.RawMessage) error {
		var e domain.LedgerEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil
		}
		if e.Type == "payment.captured" || e.Type == "payment.settled" {
			ledgerAmounts[e.Ref] = e.Amount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	settlementAmounts := map[string]int64{}
	header, rows, err := r.store.ReadCSV("settlement/settlement_" + date + ".csv")
	if err != nil && err != filestore.ErrNotFound {
		return nil, err
	}
	idIdx, amountIdx := -1, -1
	for i, col := range header {
		switch col {
		case "payment_id":
			idIdx = i
		case "amount":
			amountIdx = i
		}
	}
	if idIdx >= 0 && amountIdx >= 0 {
		for _, row := range rows {
			if idIdx >= len(row) || amountIdx >= len(row) {
				continue
			}
			amount, err := strconv.ParseInt(row[amountIdx], 10, 64)
			if err != nil {
				continue
			}
			settlementAmounts[row[idIdx]] = amount
		}
	}

	report := &Report{
		Date:        date,
		Mismatches:  []Mismatch{},
		GeneratedAt: time.Now().UTC(),
	}

	allIDs := map[string]bool{}
	for id := range ledgerAmounts {
		allIDs[id] = true
	}
	for id := range settlementAmounts {
		allIDs[id] = true
	}

	for id := range allIDs {
		ledgerAmt, inLedger := ledgerAmounts[id]
		settleAmt, inSettlement := settlementAmounts[id]
		switch {
		case !inLedger:
			report.MissingFromLedger++
			report.Mismatches = append(report.Mismatches, Mismatch{
				PaymentID:        id,
				SettlementAmount: &settleAmt,
				Issue:            "missing_from_ledger",
			})
		case !inSettlement:
			report.MissingFromSettlement++
			report.Mismatches = append(report.Mismatches, Mismatch{
				PaymentID:    id,
				LedgerAmount: &ledgerAmt,
				Issue:        "missing_from_settlement",
			})
		case ledgerAmt != settleAmt:
			la, sa := ledgerAmt, settleAmt
			report.Mismatched++
			report.Mismatches = append(report.Mismatches, Mismatch{
				PaymentID:        id,
				LedgerAmount:     &la,
				SettlementAmount: &sa,
				Diff:             ledgerAmt - settleAmt,
				Issue:            "amount_mismatch",
			})
		default:
			report.Matched++
		}
	}

	for _, v := range ledgerAmounts {
		report.TotalLedger += v
	}
	for _, v := range settlementAmounts {
		report.TotalSettlement += v
	}
	report.Diff = report.TotalLedger - report.TotalSettlement
	report.Status = "clean"
	if len(report.Mismatches) > 0 {
		report.Status = "mismatches_found"
	}

	if err := r.store.WriteJSON("reconciliation/reconciliation_report_"+date+".json", report); err != nil {
		return nil, err
	}
	r.log.Info().
		Str("date", date).
		Int("matched", report.Matched).
		Int("mismatched", report.Mismatched).
		Int("missing_from_settlement", report.MissingFromSettlement).
		Int("missing_from_ledger", report.MissingFromLedger).
		Msg("reconciliation report written")
	return report, nil
}
