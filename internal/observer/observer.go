// Package observer polls the ledger for committed transfers to the engine's
// account, classifies the settlement-related ones and notifies the connector
// that the peer has paid. Notification failures are parked in the unchecked
// set and retried every tick.
package observer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/interledger/ilp-settlement-iroha/internal/connector"
	"github.com/interledger/ilp-settlement-iroha/internal/ledger"
	"github.com/interledger/ilp-settlement-iroha/internal/store"
)

// Number of transactions retrieved per ledger poll query.
const pageSize = 10

// DefaultPollInterval is how often the ledger is polled for new transfers.
const DefaultPollInterval = time.Second

// Notifier is the slice of the connector client the observer needs.
type Notifier interface {
	NotifySettlement(ctx context.Context, settlementAccountID string, quantity connector.SettlementQuantity) error
}

// Observer is the incoming-settlement poll loop.
type Observer struct {
	store      *store.Store
	ledger     ledger.Client
	notifier   Notifier
	accountID  string
	assetID    string
	assetScale int
	interval   time.Duration
	logger     *zap.Logger
}

func New(s *store.Store, client ledger.Client, notifier Notifier, accountID, assetID string, assetScale int, logger *zap.Logger) *Observer {
	return &Observer{
		store:      s,
		ledger:     client,
		notifier:   notifier,
		accountID:  accountID,
		assetID:    assetID,
		assetScale: assetScale,
		interval:   DefaultPollInterval,
		logger:     logger,
	}
}

// Run polls until the context is cancelled. Ticks never overlap: the loop
// body and the ticker share one goroutine, so a slow tick simply swallows
// the firings it missed.
func (o *Observer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick performs one poll iteration: page new transactions past the cursor,
// then retry everything still unchecked.
func (o *Observer) Tick(ctx context.Context) {
	cursor, err := o.store.GetLastCheckedTxHash(ctx)
	if err != nil {
		o.logger.Error("could not load ledger cursor", zap.Error(err))
		return
	}

	newTxs, err := o.ledger.AccountAssetTransactions(ctx, pageSize, cursor)
	if err != nil {
		o.logger.Warn("ledger poll failed", zap.Error(err))
		return
	}

	for _, tx := range newTxs {
		checked := o.process(ctx, tx)

		// The cursor only ever advances along the forward paging path, and
		// only past transactions that finished checked.
		if checked {
			if err := o.store.SetLastCheckedTxHash(ctx, tx.Hash); err != nil {
				o.logger.Error("could not advance ledger cursor",
					zap.String("tx_hash", tx.Hash), zap.Error(err))
				return
			}
		}
	}

	o.retryUnchecked(ctx)
}

func (o *Observer) retryUnchecked(ctx context.Context) {
	unchecked, err := o.store.GetUncheckedTxHashes(ctx)
	if err != nil {
		o.logger.Error("could not list unchecked transactions", zap.Error(err))
		return
	}
	if len(unchecked) == 0 {
		return
	}

	txs, err := o.ledger.TransactionsByHashes(ctx, unchecked)
	if err != nil {
		o.logger.Warn("unchecked transaction fetch failed", zap.Error(err))
		return
	}

	for _, tx := range txs {
		o.process(ctx, tx)
	}
}

// process inspects one transaction for settlement transfers and reports
// whether it ended up checked. A transfer counts as a settlement only when
// it carries the protocol memo, originates from a known peer, and targets
// the engine's account and asset on the shared ledger.
func (o *Observer) process(ctx context.Context, tx ledger.Transaction) bool {
	checked, err := o.store.WasTxChecked(ctx, tx.Hash)
	if err != nil {
		o.logger.Error("could not query checked set", zap.String("tx_hash", tx.Hash), zap.Error(err))
		return false
	}
	if checked {
		return true
	}

	success := true
	for _, transfer := range tx.Transfers {
		if transfer.Memo != ledger.SettlementMemo {
			continue
		}

		settlementAccountID, err := o.store.GetSettlementAccountID(ctx, transfer.Src)
		if err != nil {
			o.logger.Error("could not resolve transfer source",
				zap.String("src_iroha_account", transfer.Src), zap.Error(err))
			success = false
			break
		}
		if settlementAccountID == "" || transfer.Dst != o.accountID || transfer.Asset != o.assetID {
			continue
		}

		o.logger.Info("observed incoming settlement",
			zap.String("settlement_account", settlementAccountID),
			zap.String("from_iroha_account", transfer.Src),
			zap.String("amount_units", transfer.Amount),
			zap.String("tx_hash", tx.Hash))

		err = o.notifier.NotifySettlement(ctx, settlementAccountID, connector.SettlementQuantity{
			Amount: transfer.Amount,
			Scale:  o.assetScale,
		})
		if err != nil {
			o.logger.Error("could not notify connector of settlement",
				zap.String("settlement_account", settlementAccountID),
				zap.String("tx_hash", tx.Hash),
				zap.Error(err))
			success = false
			break
		}
	}

	if success {
		if err := o.store.SaveCheckedTx(ctx, tx.Hash); err != nil {
			o.logger.Error("could not mark transaction checked",
				zap.String("tx_hash", tx.Hash), zap.Error(err))
			return false
		}
		return true
	}

	if err := o.store.SaveUncheckedTx(ctx, tx.Hash); err != nil {
		o.logger.Error("could not mark transaction unchecked",
			zap.String("tx_hash", tx.Hash), zap.Error(err))
	}
	return false
}
