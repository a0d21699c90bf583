package service

import (
	"context"
	"testing"
	"time"

	"payrail/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRoutesByTypePrefix(t *testing.T) {
	store := newTestStore(t)
	ledger := NewLedgerService(store, zerolog.Nop())
	ctx := context.Background()

	_, err := ledger.WriteEntry(ctx, domain.LedgerEntry{Type: "payment.created", Ref: "pi_1", Amount: 100, Currency: "USD"})
	require.NoError(t, err)
	_, err = ledger.WriteEntry(ctx, domain.LedgerEntry{Type: "refund.created", Ref: "ref_1", Amount: 50, Currency: "USD"})
	require.NoError(t, err)
	_, err = ledger.WriteEntry(ctx, domain.LedgerEntry{Type: "dispute.opened", Ref: "dsp_1", Amount: 100, Currency: "USD"})
	require.NoError(t, err)
	_, err = ledger.WriteEntry(ctx, domain.LedgerEntry{Type: "webhook.payment.captured", Ref: "pi_1", Amount: 100, Currency: "USD"})
	require.NoError(t, err)

	assert.True(t, store.Exists("ledger/payments.jsonl"))
	assert.True(t, store.Exists("ledger/refunds.jsonl"))
	assert.True(t, store.Exists("ledger/disputes.jsonl"))

	payments, total, err := ledger.AllEntries("payments", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, payments, 2)
}

func TestLedgerStampsIdentity(t *testing.T) {
	ledger := NewLedgerService(newTestStore(t), zerolog.Nop())

	e, err := ledger.WriteEntry(context.Background(), domain.LedgerEntry{Type: "payment.created", Ref: "pi_1"})
	require.NoError(t, err)
	assert.Regexp(t, `^evt_[0-9a-f]{12}$`, e.EventID)
	assert.False(t, e.Timestamp.IsZero())
	assert.NotEmpty(t, e.CorrelationID)
}

func TestLedgerEntriesForRefSpansStreams(t *testing.T) {
	ledger := NewLedgerService(newTestStore(t), zerolog.Nop())
	ctx := context.Background()

	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	_, err := ledger.WriteEntry(ctx, domain.LedgerEntry{Type: "refund.created", Ref: "pi_1", Timestamp: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	_, err = ledger.WriteEntry(ctx, domain.LedgerEntry{Type: "payment.created", Ref: "pi_1", Timestamp: base})
	require.NoError(t, err)
	_, err = ledger.WriteEntry(ctx, domain.LedgerEntry{Type: "payment.captured", Ref: "pi_1", Timestamp: base.Add(time.Minute)})
	require.NoError(t, err)
	_, err = ledger.WriteEntry(ctx, domain.LedgerEntry{Type: "payment.created", Ref: "pi_other", Timestamp: base})
	require.NoError(t, err)

	entries, err := ledger.EntriesForRef("pi_1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "payment.created", entries[0].Type)
	assert.Equal(t, "payment.captured", entries[1].Type)
	assert.Equal(t, "refund.created", entries[2].Type)
}

func TestLedgerAllEntriesPagination(t *testing.T) {
	ledger := NewLedgerService(newTestStore(t), zerolog.Nop())
	ctx := context.Background()

	base := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := ledger.WriteEntry(ctx, domain.LedgerEntry{
			Type:      "payment.created",
			Ref:       "pi_1",
			Amount:    int64(i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	entries, total, err := ledger.AllEntries("payments", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, entries, 2)
	// Newest first, so offset 1 starts at amount 3.
	assert.Equal(t, int64(3), entries[0].Amount)
	assert.Equal(t, int64(2), entries[1].Amount)

	entries, total, err = ledger.AllEntries("payments", 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Empty(t, entries)
}
