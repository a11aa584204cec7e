// Package ledger defines the engine's view of the Iroha ledger: a client
// able to submit settlement transfers and page through the account's asset
// transaction history.
package ledger

import (
	"context"
)

// SettlementMemo is the transfer description that discriminates settlement
// transfers from unrelated traffic on the shared ledger. Protocol constant;
// both sides of a peering must use it verbatim.
const SettlementMemo = "ILP Settlement"

// Transfer is one TransferAsset command of a ledger transaction. Amount is an
// integer number of units at the engine's asset scale.
type Transfer struct {
	Src    string
	Dst    string
	Asset  string
	Amount string
	Memo   string
}

// Transaction is a committed ledger transaction reduced to what settlement
// classification needs.
type Transaction struct {
	Hash      string
	Transfers []Transfer
}

// Client is the ledger adapter consumed by the engine and the observer.
type Client interface {
	// GetAccount probes that the configured account exists and is queryable.
	// Called once at startup; failure is fatal to the process.
	GetAccount(ctx context.Context, accountID string) error

	// SubmitTransfer moves amountUnits of the engine's asset from the
	// engine's account to toAccountID, synchronously to commit. Any
	// non-committed outcome surfaces as *Error.
	SubmitTransfer(ctx context.Context, toAccountID, amountUnits, memo string) error

	// AccountAssetTransactions returns up to pageSize transactions involving
	// the engine's account and asset strictly after afterTxHash. An empty
	// cursor pages from the beginning of history.
	AccountAssetTransactions(ctx context.Context, pageSize int, afterTxHash string) ([]Transaction, error)

	// TransactionsByHashes fetches specific transactions for re-processing.
	TransactionsByHashes(ctx context.Context, hashes []string) ([]Transaction, error)
}
