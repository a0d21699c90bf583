package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"payrail/internal/adapter/storage/filestore"
	"payrail/internal/core/domain"
	"payrail/pkg/correlation"

	"github.com/rs/zerolog"
)

// LedgerService owns the three append-only event streams and the
// outbox stream. Nothing else in the system appends to them.
type LedgerService struct {
	store *filestore.Store
	log   zerolog.Logger
}

func NewLedgerService(store *filestore.Store, log zerolog.Logger) *LedgerService {
	return &LedgerService{store: store, log: log}
}

// streamForType routes an entry to its family stream by type prefix.
func streamForType(entryType string) string {
	switch {
	case strings.HasPrefix(entryType, "refund."):
		return pathLedgerRefunds
	case strings.HasPrefix(entryType, "dispute."):
		return pathLedgerDisputes
	default:
		return pathLedgerPayments
	}
}

func streamForFamily(family string) string {
	switch family {
	case "refund", "refunds":
		return pathLedgerRefunds
	case "dispute", "disputes":
		return pathLedgerDisputes
	default:
		return pathLedgerPayments
	}
}

// WriteEntry stamps identity and timestamp and appends e to its family
// stream.
func (s *LedgerService) WriteEntry(ctx context.Context, e domain.LedgerEntry) (domain.LedgerEntry, error) {
	if e.EventID == "" {
		e.EventID = domain.NewEventID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.CorrelationID == "" {
		e.CorrelationID = correlation.FromContext(ctx)
	}
	if err := s.store.AppendJSONL(streamForType(e.Type), e); err != nil {
		return domain.LedgerEntry{}, err
	}
	s.log.Debug().
		Str("event_id", e.EventID).
		Str("type", e.Type).
		Str("ref", e.Ref).
		Str("correlation_id", e.CorrelationID).
		Msg("ledger entry appended")
	return e, nil
}

// EntriesForRef scans all three streams and returns entries for ref
// sorted by timestamp ascending.
func (s *LedgerService) EntriesForRef(ref string) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for _, stream := range []string{pathLedgerPayments, pathLedgerRefunds, pathLedgerDisputes} {
		err := s.store.ReadJSONL(stream, func(line json.RawMessage) error {
			var e domain.LedgerEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return nil
			}
			if e.Ref == ref {
				out = append(out, e)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// AllEntries returns newest-first entries for one family with
// pagination. The second return value is the stream total.
func (s *LedgerService) AllEntries(family string, limit, offset int) ([]domain.LedgerEntry, int, error) {
	var all []domain.LedgerEntry
	err := s.store.ReadJSONL(streamForFamily(family), func(line json.RawMessage) error {
		var e domain.LedgerEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil
		}
		all = append(all, e)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	total := len(all)
	if offset >= len(all) {
		return []domain.LedgerEntry{}, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

// EmitOutboxEvent appends an event to the outbox stream for the
// dispatcher to deliver.
func (s *LedgerService) EmitOutboxEvent(ctx context.Context, eventType string, payload map[string]any) error {
	evt := domain.OutboxEvent{
		EventID:       domain.NewOutboxID(),
		Type:          eventType,
		Payload:       payload,
		CorrelationID: correlation.FromContext(ctx),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.AppendJSONL(pathOutboxEvents, evt); err != nil {
		return err
	}
	s.log.Debug().
		Str("event_id", evt.EventID).
		Str("type", eventType).
		Msg("outbox event emitted")
	return nil
}
