// Package ledgertest provides an in-memory ledger.Client for tests.
package ledgertest

import (
	"context"
	"sync"

	"github.com/interledger/ilp-settlement-iroha/internal/ledger"
)

// TransferCall records one SubmitTransfer invocation.
type TransferCall struct {
	To     string
	Amount string
	Memo   string
}

// Client is a fake ledger holding an ordered transaction history. Errors can
// be queued to simulate transient failures.
type Client struct {
	mu sync.Mutex

	GetAccountErr error

	// SubmitErrs is consumed one per SubmitTransfer call; a nil entry (or an
	// exhausted queue) makes the call succeed.
	SubmitErrs []error
	Transfers  []TransferCall

	// History is the committed ledger, oldest first.
	History []ledger.Transaction
}

var _ ledger.Client = (*Client)(nil)

func (c *Client) GetAccount(ctx context.Context, accountID string) error {
	return c.GetAccountErr
}

func (c *Client) SubmitTransfer(ctx context.Context, toAccountID, amountUnits, memo string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if len(c.SubmitErrs) > 0 {
		err = c.SubmitErrs[0]
		c.SubmitErrs = c.SubmitErrs[1:]
	}
	if err != nil {
		return err
	}

	c.Transfers = append(c.Transfers, TransferCall{To: toAccountID, Amount: amountUnits, Memo: memo})
	return nil
}

func (c *Client) AccountAssetTransactions(ctx context.Context, pageSize int, afterTxHash string) ([]ledger.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := 0
	if afterTxHash != "" {
		for i, tx := range c.History {
			if tx.Hash == afterTxHash {
				start = i + 1
				break
			}
		}
	}

	end := start + pageSize
	if end > len(c.History) {
		end = len(c.History)
	}

	page := make([]ledger.Transaction, end-start)
	copy(page, c.History[start:end])
	return page, nil
}

func (c *Client) TransactionsByHashes(ctx context.Context, hashes []string) ([]ledger.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var txs []ledger.Transaction
	for _, h := range hashes {
		for _, tx := range c.History {
			if tx.Hash == h {
				txs = append(txs, tx)
			}
		}
	}
	return txs, nil
}

// SubmittedTransfers returns a copy of the recorded transfer calls.
func (c *Client) SubmittedTransfers() []TransferCall {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TransferCall, len(c.Transfers))
	copy(out, c.Transfers)
	return out
}
