// Package store persists the settlement engine's state: the peer account map
// (with its reverse index), the idempotency ledger, precision-loss leftovers
// and the incoming-transaction bookkeeping. All state lives in namespaced
// key-value databases so the engine survives restarts.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/interledger/ilp-settlement-iroha/internal/storage/keyValueDb"
)

// ErrPeerReassigned is returned when a settlement account is being bound to a
// different Iroha account than the one already on record. Accounts must be
// deleted and recreated to change peers.
var ErrPeerReassigned = errors.New("settlement account already bound to another iroha account")

const (
	settlementKeyPrefix = "settlement/"
	peerKeyPrefix       = "peer/"
	checkedKeyPrefix    = "checked/"
	uncheckedKeyPrefix  = "unchecked/"
	lastCheckedKey      = "lastchecked"

	// The observer asks about the same hashes every tick; keep the hot set
	// of checked markers in memory.
	checkedCacheSize = 4096
)

// Store is the engine's durable state. Individual operations are atomic;
// multi-operation consistency is the caller's concern (see engine.Settle).
type Store struct {
	accounts     keyValueDb.DB
	leftovers    keyValueDb.DB
	requests     keyValueDb.DB
	transactions keyValueDb.DB

	checkedCache *lru.Cache[string, struct{}]
	logger       *zap.Logger
}

// New opens the store's namespaces through the given manager.
func New(manager keyValueDb.Manager, logger *zap.Logger) (*Store, error) {
	accounts, err := manager.OpenDB("accounts")
	if err != nil {
		return nil, fmt.Errorf("failed to open accounts namespace: %w", err)
	}
	leftovers, err := manager.OpenDB("leftovers")
	if err != nil {
		return nil, fmt.Errorf("failed to open leftovers namespace: %w", err)
	}
	requests, err := manager.OpenDB("requests")
	if err != nil {
		return nil, fmt.Errorf("failed to open requests namespace: %w", err)
	}
	transactions, err := manager.OpenDB("transactions")
	if err != nil {
		return nil, fmt.Errorf("failed to open transactions namespace: %w", err)
	}

	cache, err := lru.New[string, struct{}](checkedCacheSize)
	if err != nil {
		return nil, err
	}

	return &Store{
		accounts:     accounts,
		leftovers:    leftovers,
		requests:     requests,
		transactions: transactions,
		checkedCache: cache,
		logger:       logger,
	}, nil
}

// GetPeerIrohaAccountID returns the Iroha account bound to the settlement
// account, or "" when the peer handshake has not completed yet.
func (s *Store) GetPeerIrohaAccountID(ctx context.Context, settlementAccountID string) (string, error) {
	value, err := s.accounts.Read(ctx, []byte(settlementKeyPrefix+settlementAccountID))
	if errors.Is(err, keyValueDb.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// SavePeerIrohaAccountID binds a settlement account to its peer's Iroha
// account and maintains the reverse index used by incoming classification.
// Re-saving the same binding is a no-op; binding to a different Iroha account
// is rejected.
func (s *Store) SavePeerIrohaAccountID(ctx context.Context, settlementAccountID, irohaAccountID string) error {
	existing, err := s.GetPeerIrohaAccountID(ctx, settlementAccountID)
	if err != nil {
		return err
	}
	if existing == irohaAccountID {
		return nil
	}
	if existing != "" {
		s.logger.Error("refusing to rebind settlement account",
			zap.String("settlement_account", settlementAccountID),
			zap.String("bound_iroha_account", existing),
			zap.String("requested_iroha_account", irohaAccountID))
		return ErrPeerReassigned
	}

	return s.accounts.Batch(ctx, []keyValueDb.BatchOperation{
		{Type: keyValueDb.BatchPut, Key: []byte(settlementKeyPrefix + settlementAccountID), Value: []byte(irohaAccountID)},
		{Type: keyValueDb.BatchPut, Key: []byte(peerKeyPrefix + irohaAccountID), Value: []byte(settlementAccountID)},
	})
}

// GetSettlementAccountID resolves an Iroha account back to its settlement
// account, or "" when the source is not a known peer.
func (s *Store) GetSettlementAccountID(ctx context.Context, irohaAccountID string) (string, error) {
	value, err := s.accounts.Read(ctx, []byte(peerKeyPrefix+irohaAccountID))
	if errors.Is(err, keyValueDb.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (s *Store) ExistsSettlementAccount(ctx context.Context, settlementAccountID string) (bool, error) {
	peer, err := s.GetPeerIrohaAccountID(ctx, settlementAccountID)
	if err != nil {
		return false, err
	}
	return peer != "", nil
}

// DeleteSettlementAccount removes the peer binding (both directions) and the
// account's leftover. Idempotency records and transaction bookkeeping are
// instance-global and untouched.
func (s *Store) DeleteSettlementAccount(ctx context.Context, settlementAccountID string) error {
	peer, err := s.GetPeerIrohaAccountID(ctx, settlementAccountID)
	if err != nil {
		return err
	}

	ops := []keyValueDb.BatchOperation{
		{Type: keyValueDb.BatchDelete, Key: []byte(settlementKeyPrefix + settlementAccountID)},
	}
	if peer != "" {
		ops = append(ops, keyValueDb.BatchOperation{
			Type: keyValueDb.BatchDelete, Key: []byte(peerKeyPrefix + peer),
		})
	}
	if err := s.accounts.Batch(ctx, ops); err != nil {
		return err
	}

	return s.leftovers.Delete(ctx, []byte(settlementAccountID))
}

// GetRequestStatus returns the stored HTTP status for an idempotency key.
// ok is false when the key has never completed processing.
func (s *Store) GetRequestStatus(ctx context.Context, idempotencyKey string) (status int, ok bool, err error) {
	value, err := s.requests.Read(ctx, []byte(idempotencyKey))
	if errors.Is(err, keyValueDb.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	status, err = strconv.Atoi(string(value))
	if err != nil {
		return 0, false, fmt.Errorf("corrupt request status for key %s: %w", idempotencyKey, err)
	}
	return status, true, nil
}

func (s *Store) SaveRequestStatus(ctx context.Context, idempotencyKey string, status int) error {
	return s.requests.Write(ctx, []byte(idempotencyKey), []byte(strconv.Itoa(status)))
}

// GetLeftover returns the accumulated sub-representable value for an account,
// zero when none has been recorded.
func (s *Store) GetLeftover(ctx context.Context, settlementAccountID string) (decimal.Decimal, error) {
	value, err := s.leftovers.Read(ctx, []byte(settlementAccountID))
	if errors.Is(err, keyValueDb.ErrKeyNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	leftover, err := decimal.NewFromString(string(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt leftover for account %s: %w", settlementAccountID, err)
	}
	return leftover, nil
}

func (s *Store) SaveLeftover(ctx context.Context, settlementAccountID string, leftover decimal.Decimal) error {
	return s.leftovers.Write(ctx, []byte(settlementAccountID), []byte(leftover.String()))
}

// GetLastCheckedTxHash returns the observer's paging cursor, "" when the
// ledger has never been read (page from the beginning).
func (s *Store) GetLastCheckedTxHash(ctx context.Context) (string, error) {
	value, err := s.transactions.Read(ctx, []byte(lastCheckedKey))
	if errors.Is(err, keyValueDb.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (s *Store) SetLastCheckedTxHash(ctx context.Context, txHash string) error {
	return s.transactions.Write(ctx, []byte(lastCheckedKey), []byte(txHash))
}

func (s *Store) WasTxChecked(ctx context.Context, txHash string) (bool, error) {
	if _, ok := s.checkedCache.Get(txHash); ok {
		return true, nil
	}

	_, err := s.transactions.Read(ctx, []byte(checkedKeyPrefix+txHash))
	if errors.Is(err, keyValueDb.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.checkedCache.Add(txHash, struct{}{})
	return true, nil
}

// SaveCheckedTx marks a transaction as fully processed. Any unchecked marker
// is dropped in the same batch, so a hash is never in both sets.
func (s *Store) SaveCheckedTx(ctx context.Context, txHash string) error {
	err := s.transactions.Batch(ctx, []keyValueDb.BatchOperation{
		{Type: keyValueDb.BatchPut, Key: []byte(checkedKeyPrefix + txHash), Value: []byte{}},
		{Type: keyValueDb.BatchDelete, Key: []byte(uncheckedKeyPrefix + txHash)},
	})
	if err != nil {
		return err
	}

	s.checkedCache.Add(txHash, struct{}{})
	return nil
}

// SaveUncheckedTx records a transaction whose connector notification failed;
// the observer retries it on subsequent ticks.
func (s *Store) SaveUncheckedTx(ctx context.Context, txHash string) error {
	return s.transactions.Write(ctx, []byte(uncheckedKeyPrefix+txHash), []byte{})
}

func (s *Store) RemoveUncheckedTx(ctx context.Context, txHash string) error {
	return s.transactions.Delete(ctx, []byte(uncheckedKeyPrefix+txHash))
}

// GetUncheckedTxHashes lists all transactions awaiting notification retry.
func (s *Store) GetUncheckedTxHashes(ctx context.Context) ([]string, error) {
	prefix := []byte(uncheckedKeyPrefix)
	it, err := s.transactions.Iterator(ctx, prefix, keyValueDb.PrefixEnd(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var hashes []string
	for it.Next() {
		hashes = append(hashes, string(it.Key()[len(prefix):]))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return hashes, nil
}
