package engine

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/interledger/ilp-settlement-iroha/internal/ledger"
	"github.com/interledger/ilp-settlement-iroha/internal/ledger/ledgertest"
	"github.com/interledger/ilp-settlement-iroha/internal/storage/keyValueDb/pebble"
	"github.com/interledger/ilp-settlement-iroha/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *ledgertest.Client) {
	t.Helper()

	manager := pebble.NewManager(t.TempDir())
	t.Cleanup(func() { manager.Close() })

	s, err := store.New(manager, zap.NewNop())
	require.NoError(t, err)

	client := &ledgertest.Client{}
	e := New(s, client, "alice@test", 2, zap.NewNop())
	e.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, transferMaxAttempts-1)
	}
	return e, s, client
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSettleHappyPath(t *testing.T) {
	e, s, client := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, s.SavePeerIrohaAccountID(ctx, "A", "bob@test"))

	status, err := e.Settle(ctx, "A", "K1", dec("500"), 3)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	transfers := client.SubmittedTransfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, "bob@test", transfers[0].To)
	assert.Equal(t, "50", transfers[0].Amount)
	assert.Equal(t, ledger.SettlementMemo, transfers[0].Memo)

	leftover, err := s.GetLeftover(ctx, "A")
	require.NoError(t, err)
	assert.True(t, leftover.IsZero())
}

func TestSettlePrecisionLossAccumulates(t *testing.T) {
	e, s, client := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, s.SavePeerIrohaAccountID(ctx, "A", "bob@test"))

	// 505 at scale 3 settles 50 units at scale 2, leaving 5 behind.
	status, err := e.Settle(ctx, "A", "K2", dec("505"), 3)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	leftover, err := s.GetLeftover(ctx, "A")
	require.NoError(t, err)
	assert.True(t, leftover.Equal(dec("5")), "leftover %s", leftover)

	// 495 plus the stored 5 settles another 50 units exactly.
	status, err = e.Settle(ctx, "A", "K3", dec("495"), 3)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	leftover, err = s.GetLeftover(ctx, "A")
	require.NoError(t, err)
	assert.True(t, leftover.IsZero())

	transfers := client.SubmittedTransfers()
	require.Len(t, transfers, 2)
	assert.Equal(t, "50", transfers[0].Amount)
	assert.Equal(t, "50", transfers[1].Amount)
}

func TestSettleIdempotentReplay(t *testing.T) {
	e, s, client := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, s.SavePeerIrohaAccountID(ctx, "A", "bob@test"))

	status, err := e.Settle(ctx, "A", "K1", dec("500"), 3)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	// Same key again: stored status, no second ledger call.
	status, err = e.Settle(ctx, "A", "K1", dec("500"), 3)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Len(t, client.SubmittedTransfers(), 1)
}

func TestSettleUnknownPeer(t *testing.T) {
	e, s, client := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Settle(ctx, "A", "K1", dec("500"), 3)
	assert.ErrorIs(t, err, ErrUnknownPeer)
	assert.Empty(t, client.SubmittedTransfers())

	// No idempotency record was written, so the retry succeeds once the
	// peer handshake has completed.
	require.NoError(t, s.SavePeerIrohaAccountID(ctx, "A", "bob@test"))

	status, err := e.Settle(ctx, "A", "K1", dec("500"), 3)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Len(t, client.SubmittedTransfers(), 1)
}

func TestSettleZeroAmountOnlyPersistsLeftover(t *testing.T) {
	e, s, client := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, s.SavePeerIrohaAccountID(ctx, "A", "bob@test"))

	// 99 at scale 3 is below one unit at scale 2: nothing to transfer.
	status, err := e.Settle(ctx, "A", "K1", dec("99"), 3)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Empty(t, client.SubmittedTransfers())

	leftover, err := s.GetLeftover(ctx, "A")
	require.NoError(t, err)
	assert.True(t, leftover.Equal(dec("99")))

	// The idempotency record still exists for the zero-transfer request.
	statusStored, ok, err := s.GetRequestStatus(ctx, "K1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusCreated, statusStored)
}

func TestSettleRetriesTransientLedgerFailure(t *testing.T) {
	e, s, client := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, s.SavePeerIrohaAccountID(ctx, "A", "bob@test"))
	client.SubmitErrs = []error{
		&ledger.Error{Op: "transfer", Status: "NOT_RECEIVED"},
		&ledger.Error{Op: "transfer", Status: "NOT_RECEIVED"},
	}

	status, err := e.Settle(ctx, "A", "K1", dec("500"), 3)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Len(t, client.SubmittedTransfers(), 1)
}

func TestSettleExhaustedRetriesLeaveRequestReplayable(t *testing.T) {
	e, s, client := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, s.SavePeerIrohaAccountID(ctx, "A", "bob@test"))

	for i := 0; i < transferMaxAttempts; i++ {
		client.SubmitErrs = append(client.SubmitErrs, &ledger.Error{Op: "transfer", Status: "NOT_RECEIVED"})
	}

	_, err := e.Settle(ctx, "A", "K1", dec("500"), 3)
	require.Error(t, err)

	// The failure must not be recorded: the connector's retry re-executes.
	_, ok, err := s.GetRequestStatus(ctx, "K1")
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := e.Settle(ctx, "A", "K1", dec("500"), 3)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
}

func TestSettleConcurrentSameKeySingleTransfer(t *testing.T) {
	e, s, client := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, s.SavePeerIrohaAccountID(ctx, "A", "bob@test"))

	var wg sync.WaitGroup
	statuses := make([]int, 8)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, err := e.Settle(ctx, "A", "K1", dec("500"), 3)
			require.NoError(t, err)
			statuses[i] = status
		}(i)
	}
	wg.Wait()

	// Exactly one ledger effect, every caller sees the same status.
	assert.Len(t, client.SubmittedTransfers(), 1)
	for _, status := range statuses {
		assert.Equal(t, http.StatusCreated, status)
	}
}
