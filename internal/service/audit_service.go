package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/core/domain"
	"payrail/pkg/apperror"

	"github.com/rs/zerolog"
)

// AuditService exposes read-only views over the ledger, the vault
// access log, settlement files, and reconciliation reports.
type AuditService struct {
	store     *filestore.Store
	ledger    *LedgerService
	breaker   *CircuitBreaker
	providers []string
	log       zerolog.Logger
}

func NewAuditService(store *filestore.Store, ledger *LedgerService, breaker *CircuitBreaker, providers []string, log zerolog.Logger) *AuditService {
	return &AuditService{store: store, ledger: ledger, breaker: breaker, providers: providers, log: log}
}

// Trail returns ledger entries for one family, or the full history of
// a single ref when refID is set.
func (s *AuditService) Trail(family, refID string, limit, offset int) ([]domain.LedgerEntry, int, error) {
	if refID != "" {
		entries, err := s.ledger.EntriesForRef(refID)
		if err != nil {
			return nil, 0, apperror.Internal(err)
		}
		return entries, len(entries), nil
	}
	entries, total, err := s.ledger.AllEntries(family, limit, offset)
	if err != nil {
		return nil, 0, apperror.Internal(err)
	}
	return entries, total, nil
}

// Export dumps up to 10000 newest entries for one family.
func (s *AuditService) Export(family string) ([]domain.LedgerEntry, int, error) {
	entries, total, err := s.ledger.AllEntries(family, 10000, 0)
	if err != nil {
		return nil, 0, apperror.Internal(err)
	}
	return entries, total, nil
}

// VaultAccess returns the newest vault access-log lines.
func (s *AuditService) VaultAccess(limit int) ([]domain.VaultAccessEntry, int, error) {
	var entries []domain.VaultAccessEntry
	err := s.store.ReadJSONL(pathVaultAccessLog, func(line json.RawMessage) error {
		var e domain.VaultAccessEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, 0, apperror.Internal(err)
	}
	total := len(entries)
	// Newest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, total, nil
}

// ReconciliationReports returns all reconciliation reports, newest
// date first.
func (s *AuditService) ReconciliationReports() ([]map[string]any, error) {
	dir := s.store.Path("reconciliation")
	names, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []map[string]any{}, nil
	}
	if err != nil {
		return nil, apperror.Internal(err)
	}
	var files []string
	for _, n := range names {
		if strings.HasSuffix(n.Name(), ".json") {
			files = append(files, n.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	reports := make([]map[string]any, 0, len(files))
	for _, name := range files {
		var report map[string]any
		if err := s.store.ReadJSON(filepath.Join("reconciliation", name), &report); err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("skipping unreadable report")
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// SettlementSummary describes one settlement CSV.
type SettlementSummary struct {
	File        string              `json:"file"`
	Rows        int                 `json:"rows"`
	TotalAmount int64               `json:"total_amount"`
	Data        []map[string]string `json:"data"`
}

// Settlements summarizes every settlement CSV, newest date first.
func (s *AuditService) Settlements() ([]SettlementSummary, error) {
	dir := s.store.Path("settlement")
	names, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []SettlementSummary{}, nil
	}
	if err != nil {
		return nil, apperror.Internal(err)
	}
	var files []string
	for _, n := range names {
		if strings.HasSuffix(n.Name(), ".csv") {
			files = append(files, n.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	out := make([]SettlementSummary, 0, len(files))
	for _, name := range files {
		header, rows, err := s.store.ReadCSV(filepath.Join("settlement", name))
		if err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("skipping unreadable settlement file")
			continue
		}
		summary := SettlementSummary{File: name, Rows: len(rows), Data: make([]map[string]string, 0, len(rows))}
		amountIdx := -1
		for i, col := range header {
			if col == "amount" {
				amountIdx = i
			}
		}
		for _, row := range rows {
			rec := map[string]string{}
			for i, col := range header {
				if i < len(row) {
					rec[col] = row[i]
				}
			}
			summary.Data = append(summary.Data, rec)
			if amountIdx >= 0 && amountIdx < len(row) {
				if v, err := strconv.ParseInt(row[amountIdx], 10, 64); err == nil {
					summary.TotalAmount += v
				}
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

// ProviderHealth returns the breaker snapshot for every configured
// provider.
func (s *AuditService) ProviderHealth() (map[string]domain.BreakerState, error) {
	out := make(map[string]domain.BreakerState, len(s.providers))
	for _, p := range s.providers {
		st, err := s.breaker.State(p)
		if err != nil {
			return nil, apperror.Internal(err)
		}
		out[p] = st
	}
	return out, nil
}

// Metrics returns the newest request metric lines.
func (s *AuditService) Metrics(limit int) ([]map[string]any, error) {
	var lines []map[string]any
	err := s.store.ReadJSONL(pathMetrics, func(line json.RawMessage) error {
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			return nil
		}
		lines = append(lines, m)
		return nil
	})
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	// Newest first.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}
