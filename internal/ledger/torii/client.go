// Package torii implements the ledger.Client contract against Iroha's Torii
// gRPC endpoint. Iroha protobuf messages are encoded by hand (wire.go); gRPC
// is used with a passthrough codec so no generated bindings are needed.
package torii

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/interledger/ilp-settlement-iroha/internal/keys"
	"github.com/interledger/ilp-settlement-iroha/internal/ledger"
)

const (
	toriiMethod  = "/iroha.protocol.CommandService_v1/Torii"
	statusMethod = "/iroha.protocol.CommandService_v1/Status"
	findMethod   = "/iroha.protocol.QueryService_v1/Find"

	// Transaction quorum for a single-signatory account.
	txQuorum = 1

	statusPollInterval = 500 * time.Millisecond
	submitTimeout      = 60 * time.Second
)

// rawCodec moves pre-encoded message bytes through gRPC untouched.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("rawCodec: expected []byte, got %T", v)
	}
	return b, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	out, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("rawCodec: expected *[]byte, got %T", v)
	}
	*out = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return "proto" }

// Config carries the engine's ledger identity.
type Config struct {
	ToriiURL   string
	AccountID  string
	AssetID    string
	AssetScale int
	Keypair    *keys.Keypair
}

// Client talks to a single Iroha node on behalf of one account.
type Client struct {
	conn         *grpc.ClientConn
	cfg          Config
	pubHex       string
	queryCounter atomic.Uint64
	logger       *zap.Logger
}

var _ ledger.Client = (*Client)(nil)

// New dials the Torii endpoint. The connection is lazy; startup liveness is
// verified separately via GetAccount.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	target, err := grpcTarget(cfg.ToriiURL)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial torii at %s: %w", target, err)
	}

	return &Client{
		conn:   conn,
		cfg:    cfg,
		pubHex: hex.EncodeToString(cfg.Keypair.Public),
		logger: logger,
	}, nil
}

// grpcTarget strips an optional URL scheme; Iroha's Torii speaks plain gRPC.
func grpcTarget(toriiURL string) (string, error) {
	if !strings.Contains(toriiURL, "://") {
		return toriiURL, nil
	}
	u, err := url.Parse(toriiURL)
	if err != nil {
		return "", fmt.Errorf("invalid torii-url %q: %w", toriiURL, err)
	}
	return u.Host, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req []byte) ([]byte, error) {
	var resp []byte
	err := c.conn.Invoke(ctx, method, req, &resp, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// sign hashes the payload with SHA3-256 (the hash Iroha identifies the
// message by) and signs that digest with the account key.
func (c *Client) sign(payload []byte) (signatureHex, hashHex string) {
	digest := sha3.Sum256(payload)
	signature := ed25519.Sign(c.cfg.Keypair.Private, digest[:])
	return hex.EncodeToString(signature), hex.EncodeToString(digest[:])
}

// GetAccount performs a signed GetAccount query for the given account.
func (c *Client) GetAccount(ctx context.Context, accountID string) error {
	resp, err := c.find(ctx, qpGetAccountField, encodeGetAccount(accountID))
	if err != nil {
		return err
	}
	if resp.whichField != qrAccountRespField {
		return &ledger.Error{Op: "get account", Err: fmt.Errorf("unexpected query response field %d", resp.whichField)}
	}
	return nil
}

// SubmitTransfer sends a TransferAsset transaction and blocks until Iroha
// reports a terminal status for it. Only COMMITTED counts as success.
func (c *Client) SubmitTransfer(ctx context.Context, toAccountID, amountUnits, memo string) error {
	amount, err := c.unitsToAmount(amountUnits)
	if err != nil {
		return &ledger.Error{Op: "transfer", Err: err}
	}

	transfer := encodeTransferAsset(c.cfg.AccountID, toAccountID, c.cfg.AssetID, memo, amount)
	reduced := encodeReducedPayload(
		[][]byte{encodeTransferCommand(transfer)},
		c.cfg.AccountID,
		uint64(time.Now().UnixMilli()),
		txQuorum,
	)
	payload := encodeTxPayload(reduced)

	signatureHex, hashHex := c.sign(payload)
	tx := encodeTransaction(payload, encodeSignature(c.pubHex, signatureHex))

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	if _, err := c.invoke(ctx, toriiMethod, tx); err != nil {
		return &ledger.Error{Op: "transfer", Err: err}
	}

	c.logger.Debug("submitted transfer transaction",
		zap.String("tx_hash", hashHex),
		zap.String("dest_account", toAccountID),
		zap.String("amount", amount))

	return c.awaitCommitted(ctx, hashHex)
}

// awaitCommitted polls the transaction status until it reaches a terminal
// state or the context expires.
func (c *Client) awaitCommitted(ctx context.Context, txHashHex string) error {
	req := encodeTxStatusRequest(txHashHex)

	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		raw, err := c.invoke(ctx, statusMethod, req)
		if err != nil {
			return &ledger.Error{Op: "transfer status", Err: err}
		}
		resp, err := decodeToriiResponse(raw)
		if err != nil {
			return &ledger.Error{Op: "transfer status", Err: err}
		}

		switch resp.status {
		case txStatusCommitted:
			return nil
		case txStatusStatelessFailed, txStatusStatefulFailed, txStatusRejected,
			txStatusMstExpired, txStatusNotReceived:
			return &ledger.Error{Op: "transfer", Status: txStatusName(resp.status)}
		}

		select {
		case <-ctx.Done():
			return &ledger.Error{Op: "transfer", Status: txStatusName(resp.status), Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// AccountAssetTransactions pages the engine account's asset history strictly
// after afterTxHash. Iroha's pagination cursor is inclusive, so the cursor
// transaction itself is dropped from the result.
func (c *Client) AccountAssetTransactions(ctx context.Context, pageSize int, afterTxHash string) ([]ledger.Transaction, error) {
	pagination := encodePagination(uint64(pageSize), afterTxHash)
	query := encodeGetAccountAssetTransactions(c.cfg.AccountID, c.cfg.AssetID, pagination)

	resp, err := c.find(ctx, qpGetAcctAssetTxsField, query)
	if err != nil {
		return nil, err
	}
	if resp.whichField != qrTxPageRespField && resp.whichField != qrTxsRespField {
		return nil, &ledger.Error{Op: "account asset transactions", Err: fmt.Errorf("unexpected query response field %d", resp.whichField)}
	}

	txs, err := c.convertTransactions(resp.body)
	if err != nil {
		return nil, err
	}

	if afterTxHash != "" && len(txs) > 0 && txs[0].Hash == afterTxHash {
		txs = txs[1:]
	}
	return txs, nil
}

func (c *Client) TransactionsByHashes(ctx context.Context, hashes []string) ([]ledger.Transaction, error) {
	resp, err := c.find(ctx, qpGetTransactionsField, encodeGetTransactions(hashes))
	if err != nil {
		return nil, err
	}
	if resp.whichField != qrTxsRespField && resp.whichField != qrTxPageRespField {
		return nil, &ledger.Error{Op: "transactions by hashes", Err: fmt.Errorf("unexpected query response field %d", resp.whichField)}
	}
	return c.convertTransactions(resp.body)
}

// find signs and submits a query, returning the response oneof arm.
func (c *Client) find(ctx context.Context, queryField protowire.Number, query []byte) (queryResponse, error) {
	meta := encodeQueryMeta(
		uint64(time.Now().UnixMilli()),
		c.cfg.AccountID,
		c.queryCounter.Add(1),
	)
	payload := encodeQueryPayload(meta, queryField, query)

	signatureHex, _ := c.sign(payload)
	raw, err := c.invoke(ctx, findMethod, encodeQuery(payload, encodeSignature(c.pubHex, signatureHex)))
	if err != nil {
		return queryResponse{}, &ledger.Error{Op: "find", Err: err}
	}

	resp, err := decodeQueryResponse(raw)
	if err != nil {
		return queryResponse{}, &ledger.Error{Op: "find", Err: err}
	}
	if resp.errResp != nil {
		return queryResponse{}, &ledger.Error{
			Op:     "find",
			Status: fmt.Sprintf("error response %d", resp.errResp.reason),
			Err:    fmt.Errorf("%s", resp.errResp.message),
		}
	}
	return resp, nil
}

func (c *Client) convertTransactions(body []byte) ([]ledger.Transaction, error) {
	raws, err := decodeTransactionsList(body)
	if err != nil {
		return nil, &ledger.Error{Op: "decode transactions", Err: err}
	}

	txs := make([]ledger.Transaction, 0, len(raws))
	for _, raw := range raws {
		digest := sha3.Sum256(raw.payload)
		tx := ledger.Transaction{Hash: hex.EncodeToString(digest[:])}

		for _, t := range raw.transfers {
			units, err := c.amountToUnits(t.amount)
			if err != nil {
				return nil, &ledger.Error{Op: "decode transactions", Err: err}
			}
			tx.Transfers = append(tx.Transfers, ledger.Transfer{
				Src:    t.src,
				Dst:    t.dst,
				Asset:  t.asset,
				Amount: units,
				Memo:   t.memo,
			})
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// unitsToAmount renders integer units at the configured scale as the decimal
// notation Iroha expects ("50" at scale 2 becomes "0.5").
func (c *Client) unitsToAmount(units string) (string, error) {
	d, err := decimal.NewFromString(units)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", units, err)
	}
	return d.Shift(int32(-c.cfg.AssetScale)).String(), nil
}

// amountToUnits converts Iroha's decimal notation into integer units at the
// configured scale, truncating digits finer than the asset supports.
func (c *Client) amountToUnits(amount string) (string, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", fmt.Errorf("invalid ledger amount %q: %w", amount, err)
	}
	return d.Shift(int32(c.cfg.AssetScale)).Truncate(0).String(), nil
}
