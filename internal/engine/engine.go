// Package engine drives outgoing settlements: it converts the connector's
// quantity into ledger units, submits the transfer with retries, and keeps
// the idempotency ledger and precision-loss leftovers consistent.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/interledger/ilp-settlement-iroha/internal/ledger"
	"github.com/interledger/ilp-settlement-iroha/internal/scale"
	"github.com/interledger/ilp-settlement-iroha/internal/store"
)

// ErrUnknownPeer is returned when settlement is requested before the peer
// handshake bound the settlement account to an Iroha account. The request is
// not recorded, so a connector retry succeeds once the peer is known.
var ErrUnknownPeer = errors.New("no iroha account known for settlement account")

const transferMaxAttempts = 10

// Engine performs outgoing settlements against the ledger.
type Engine struct {
	// Serializes whole settlement requests: exactly one ledger effect per
	// idempotency key, and leftover arithmetic never interleaves.
	mu sync.Mutex

	store      *store.Store
	ledger     ledger.Client
	accountID  string
	assetScale int
	logger     *zap.Logger

	// replaced in tests
	newBackOff func() backoff.BackOff
}

func New(s *store.Store, client ledger.Client, accountID string, assetScale int, logger *zap.Logger) *Engine {
	return &Engine{
		store:      s,
		ledger:     client,
		accountID:  accountID,
		assetScale: assetScale,
		logger:     logger,
		newBackOff: transferBackOff,
	}
}

// transferBackOff allows 10 attempts with a 1 s initial delay doubling each
// time.
func transferBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 512 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, transferMaxAttempts-1)
}

// Settle performs one settlement request and returns the HTTP status to give
// the connector. A non-nil error maps to an internal error response; in that
// case no idempotency record exists and the connector may retry.
func (e *Engine) Settle(ctx context.Context, settlementAccountID, idempotencyKey string, amount decimal.Decimal, fromScale int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Replays of an already-processed key get the stored status verbatim,
	// with no side effects.
	status, ok, err := e.store.GetRequestStatus(ctx, idempotencyKey)
	if err != nil {
		return 0, err
	}
	if ok {
		e.logger.Info("skipping settlement request, already processed",
			zap.String("idempotency_key", idempotencyKey),
			zap.Int("status", status))
		return status, nil
	}

	peer, err := e.store.GetPeerIrohaAccountID(ctx, settlementAccountID)
	if err != nil {
		return 0, err
	}
	if peer == "" {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPeer, settlementAccountID)
	}

	leftover, err := e.store.GetLeftover(ctx, settlementAccountID)
	if err != nil {
		return 0, err
	}

	representable, newLeftover := scale.WithPrecisionLoss(amount.Add(leftover), fromScale, e.assetScale)
	units := scale.ToUnits(representable, fromScale, e.assetScale)

	if !units.IsZero() {
		e.logger.Info("performing settlement",
			zap.String("settlement_account", settlementAccountID),
			zap.String("from_iroha_account", e.accountID),
			zap.String("to_iroha_account", peer),
			zap.String("amount_units", units.String()))

		if err := e.transfer(ctx, peer, units.String()); err != nil {
			return 0, err
		}
	}

	if err := e.store.SaveLeftover(ctx, settlementAccountID, newLeftover); err != nil {
		return 0, err
	}
	if err := e.store.SaveRequestStatus(ctx, idempotencyKey, http.StatusCreated); err != nil {
		return 0, err
	}

	return http.StatusCreated, nil
}

// transfer submits to the ledger under the retry policy. Only ledger errors
// are retried; anything else aborts immediately.
func (e *Engine) transfer(ctx context.Context, toAccountID, amountUnits string) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := e.ledger.SubmitTransfer(ctx, toAccountID, amountUnits, ledger.SettlementMemo)
		if err == nil {
			return nil
		}
		if !ledger.IsLedgerError(err) {
			return backoff.Permanent(err)
		}

		e.logger.Warn("ledger transfer attempt failed",
			zap.Int("attempt", attempt),
			zap.String("to_iroha_account", toAccountID),
			zap.Error(err))
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(e.newBackOff(), ctx)); err != nil {
		return fmt.Errorf("could not send transfer command: %w", err)
	}
	return nil
}
