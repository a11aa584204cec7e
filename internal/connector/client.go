// Package connector is the outbound HTTP client towards the local connector:
// the peer-identity handshake during account setup and incoming-settlement
// notifications from the observer.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentDetailsMessage is the handshake payload exchanged between peered
// settlement engines. The field name is part of the wire contract.
type PaymentDetailsMessage struct {
	IrohaAccountID string `json:"iroha_account_id"`
}

// SettlementQuantity is the connector's amount representation. Amount is a
// string of integer units; the connector rejects JSON numbers here.
type SettlementQuantity struct {
	Amount string `json:"amount"`
	Scale  int    `json:"scale"`
}

// Client retries transient failures with the backoff prescribed by the
// settlement-engine RFC: 500 ms initial, 6 s cap, 15 min total, ×1.5 with
// 0.5 randomization.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	// replaced in tests to avoid multi-minute retries
	newBackOff func() backoff.BackOff
}

func New(connectorURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    connectorURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		newBackOff: rfc38BackOff,
	}
}

func rfc38BackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 6 * time.Second
	b.MaxElapsedTime = 15 * time.Minute
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.5
	return b
}

// SendPaymentDetails ships our ledger identity to the peer through the
// connector's message channel and returns the peer's identity in response.
func (c *Client) SendPaymentDetails(ctx context.Context, settlementAccountID string, msg PaymentDetailsMessage) (PaymentDetailsMessage, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return PaymentDetailsMessage{}, err
	}

	url := fmt.Sprintf("%s/accounts/%s/messages", c.baseURL, settlementAccountID)

	respBody, err := c.post(ctx, url, body, nil)
	if err != nil {
		return PaymentDetailsMessage{}, fmt.Errorf("payment details exchange failed: %w", err)
	}

	var response PaymentDetailsMessage
	if err := json.Unmarshal(respBody, &response); err != nil {
		return PaymentDetailsMessage{}, fmt.Errorf("invalid payment details response: %w", err)
	}
	if response.IrohaAccountID == "" {
		return PaymentDetailsMessage{}, fmt.Errorf("payment details response carries no iroha account id")
	}
	return response, nil
}

// NotifySettlement informs the connector that the peer behind the settlement
// account paid us. One idempotency key covers all retry attempts.
func (c *Client) NotifySettlement(ctx context.Context, settlementAccountID string, quantity SettlementQuantity) error {
	body, err := json.Marshal(quantity)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/accounts/%s/settlements", c.baseURL, settlementAccountID)
	idempotencyKey := uuid.NewString()

	c.logger.Info("notifying connector of incoming settlement",
		zap.String("settlement_account", settlementAccountID),
		zap.String("amount", quantity.Amount),
		zap.Int("scale", quantity.Scale),
		zap.String("idempotency_key", idempotencyKey))

	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	if _, err := c.post(ctx, url, body, headers); err != nil {
		return fmt.Errorf("settlement notification failed: %w", err)
	}
	return nil
}

// post issues a JSON POST under the retry policy. Transport errors and
// non-2xx responses are retried until the policy gives up.
func (c *Client) post(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, error) {
	var respBody []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("connector request failed", zap.String("url", url), zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			c.logger.Warn("connector rejected request",
				zap.String("url", url),
				zap.Int("status", resp.StatusCode))
			return fmt.Errorf("connector responded with status %d", resp.StatusCode)
		}

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return respBody, nil
}
