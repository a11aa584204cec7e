package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/interledger/ilp-settlement-iroha/internal/connector"
	"github.com/interledger/ilp-settlement-iroha/internal/storage/keyValueDb/pebble"
	"github.com/interledger/ilp-settlement-iroha/internal/store"
)

type settleCall struct {
	SID    string
	Key    string
	Amount decimal.Decimal
	Scale  int
}

type fakeSettler struct {
	calls  []settleCall
	status int
	err    error
}

func (f *fakeSettler) Settle(ctx context.Context, sid, key string, amount decimal.Decimal, fromScale int) (int, error) {
	f.calls = append(f.calls, settleCall{SID: sid, Key: key, Amount: amount, Scale: fromScale})
	if f.err != nil {
		return 0, f.err
	}
	return f.status, nil
}

type fakeExchanger struct {
	calls    int
	response connector.PaymentDetailsMessage
	err      error
}

func (f *fakeExchanger) SendPaymentDetails(ctx context.Context, sid string, msg connector.PaymentDetailsMessage) (connector.PaymentDetailsMessage, error) {
	f.calls++
	if f.err != nil {
		return connector.PaymentDetailsMessage{}, f.err
	}
	return f.response, nil
}

func newTestServer(t *testing.T) (*Server, *store.Store, *fakeSettler, *fakeExchanger) {
	t.Helper()

	manager := pebble.NewManager(t.TempDir())
	t.Cleanup(func() { manager.Close() })

	s, err := store.New(manager, zap.NewNop())
	require.NoError(t, err)

	settler := &fakeSettler{status: http.StatusCreated}
	exchanger := &fakeExchanger{response: connector.PaymentDetailsMessage{IrohaAccountID: "bob@test"}}
	srv := New(s, settler, exchanger, "alice@test", zap.NewNop())
	return srv, s, settler, exchanger
}

func TestCreateAccountRunsHandshake(t *testing.T) {
	srv, s, _, exchanger := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(`{"id":"A"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, exchanger.calls)

	peer, err := s.GetPeerIrohaAccountID(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "bob@test", peer)
}

func TestCreateAccountKnownPeerIsNoOp(t *testing.T) {
	srv, s, _, exchanger := newTestServer(t)
	require.NoError(t, s.SavePeerIrohaAccountID(context.Background(), "A", "bob@test"))

	req := httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(`{"id":"A"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Zero(t, exchanger.calls)
}

func TestCreateAccountHandshakeFailure(t *testing.T) {
	srv, s, _, exchanger := newTestServer(t)
	exchanger.err = errors.New("connector unreachable")

	req := httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(`{"id":"A"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	peer, err := s.GetPeerIrohaAccountID(context.Background(), "A")
	require.NoError(t, err)
	assert.Empty(t, peer)
}

func TestCreateAccountMalformedBody(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(`{`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteAccount(t *testing.T) {
	srv, s, _, _ := newTestServer(t)
	require.NoError(t, s.SavePeerIrohaAccountID(context.Background(), "A", "bob@test"))

	req := httptest.NewRequest(http.MethodDelete, "/accounts/A", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)

	peer, err := s.GetPeerIrohaAccountID(context.Background(), "A")
	require.NoError(t, err)
	assert.Empty(t, peer)
}

func TestDeleteUnknownAccount(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/accounts/A", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSettlementDelegates(t *testing.T) {
	srv, _, settler, _ := newTestServer(t)

	body := bytes.NewReader([]byte(`{"amount":"500","scale":3}`))
	req := httptest.NewRequest(http.MethodPost, "/accounts/A/settlements", body)
	req.Header.Set("Idempotency-Key", "K1")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, settler.calls, 1)
	call := settler.calls[0]
	assert.Equal(t, "A", call.SID)
	assert.Equal(t, "K1", call.Key)
	assert.True(t, call.Amount.Equal(decimal.RequireFromString("500")))
	assert.Equal(t, 3, call.Scale)

	var echoed connector.SettlementQuantity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &echoed))
	assert.Equal(t, connector.SettlementQuantity{Amount: "500", Scale: 3}, echoed)
}

func TestSettlementRequiresIdempotencyKey(t *testing.T) {
	srv, _, settler, _ := newTestServer(t)

	body := bytes.NewReader([]byte(`{"amount":"500","scale":3}`))
	req := httptest.NewRequest(http.MethodPost, "/accounts/A/settlements", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, settler.calls)
}

func TestSettlementRejectsNumericAmount(t *testing.T) {
	srv, _, settler, _ := newTestServer(t)

	// The wire contract requires string amounts.
	body := bytes.NewReader([]byte(`{"amount":500,"scale":3}`))
	req := httptest.NewRequest(http.MethodPost, "/accounts/A/settlements", body)
	req.Header.Set("Idempotency-Key", "K1")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, settler.calls)
}

func TestSettlementEngineFailure(t *testing.T) {
	srv, _, settler, _ := newTestServer(t)
	settler.err = errors.New("ledger unreachable")

	body := bytes.NewReader([]byte(`{"amount":"500","scale":3}`))
	req := httptest.NewRequest(http.MethodPost, "/accounts/A/settlements", body)
	req.Header.Set("Idempotency-Key", "K1")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestInboundMessageHandshake(t *testing.T) {
	srv, s, _, _ := newTestServer(t)

	body := bytes.NewReader([]byte(`{"iroha_account_id":"bob@test"}`))
	req := httptest.NewRequest(http.MethodPost, "/accounts/A/messages", body)
	req.Header.Set("Content-Type", "application/octet-stream")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var msg connector.PaymentDetailsMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "alice@test", msg.IrohaAccountID)

	peer, err := s.GetPeerIrohaAccountID(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "bob@test", peer)
}

func TestInboundMessageParseFailure(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/accounts/A/messages", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestInboundMessageReassignmentRejected(t *testing.T) {
	srv, s, _, _ := newTestServer(t)
	require.NoError(t, s.SavePeerIrohaAccountID(context.Background(), "A", "bob@test"))

	body := bytes.NewReader([]byte(`{"iroha_account_id":"carol@test"}`))
	req := httptest.NewRequest(http.MethodPost, "/accounts/A/messages", body)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	peer, err := s.GetPeerIrohaAccountID(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "bob@test", peer)
}
