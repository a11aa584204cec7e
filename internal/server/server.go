// Package server exposes the HTTP control surface consumed by the local
// connector: account lifecycle, outgoing settlement requests, and the
// peer-to-peer message channel used for the ledger-identity handshake.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/interledger/ilp-settlement-iroha/internal/connector"
	"github.com/interledger/ilp-settlement-iroha/internal/store"
)

// Settler executes one settlement request and returns the HTTP status to
// relay to the connector.
type Settler interface {
	Settle(ctx context.Context, settlementAccountID, idempotencyKey string, amount decimal.Decimal, fromScale int) (int, error)
}

// PeerExchanger ships our ledger identity to the peer engine during account
// setup and returns theirs.
type PeerExchanger interface {
	SendPaymentDetails(ctx context.Context, settlementAccountID string, msg connector.PaymentDetailsMessage) (connector.PaymentDetailsMessage, error)
}

// Server is the connector-facing HTTP API.
type Server struct {
	store     *store.Store
	settler   Settler
	exchanger PeerExchanger
	accountID string
	logger    *zap.Logger
}

func New(s *store.Store, settler Settler, exchanger PeerExchanger, accountID string, logger *zap.Logger) *Server {
	return &Server{
		store:     s,
		settler:   settler,
		exchanger: exchanger,
		accountID: accountID,
		logger:    logger,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/accounts", s.handleCreateAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{sid}", s.handleDeleteAccount).Methods(http.MethodDelete)
	r.HandleFunc("/accounts/{sid}/settlements", s.handleSettlement).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{sid}/messages", s.handleMessage).Methods(http.MethodPost)
	return r
}

// Run serves on addr until the context is cancelled, then shuts down
// gracefully so in-flight settlements can complete.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleCreateAccount sets up a settlement account. For an unknown peer it
// runs the handshake through the connector's message channel; a repeated
// setup for a known peer is a no-op.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		s.logger.Warn("rejecting malformed account setup request", zap.Error(err))
		http.Error(w, "account id required", http.StatusBadRequest)
		return
	}

	peer, err := s.store.GetPeerIrohaAccountID(r.Context(), body.ID)
	if err != nil {
		s.internalError(w, "account lookup failed", err)
		return
	}
	if peer != "" {
		s.logger.Info("account already set up",
			zap.String("settlement_account", body.ID),
			zap.String("peer_iroha_account", peer))
		w.WriteHeader(http.StatusCreated)
		return
	}

	response, err := s.exchanger.SendPaymentDetails(r.Context(), body.ID,
		connector.PaymentDetailsMessage{IrohaAccountID: s.accountID})
	if err != nil {
		s.internalError(w, "peer handshake failed", err)
		return
	}

	if err := s.store.SavePeerIrohaAccountID(r.Context(), body.ID, response.IrohaAccountID); err != nil {
		s.internalError(w, "could not save peer identity", err)
		return
	}

	s.logger.Info("account set up",
		zap.String("settlement_account", body.ID),
		zap.String("peer_iroha_account", response.IrohaAccountID))
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["sid"]

	exists, err := s.store.ExistsSettlementAccount(r.Context(), sid)
	if err != nil {
		s.internalError(w, "account lookup failed", err)
		return
	}
	if !exists {
		s.internalError(w, "cannot delete unknown account", fmt.Errorf("no such settlement account: %s", sid))
		return
	}

	if err := s.store.DeleteSettlementAccount(r.Context(), sid); err != nil {
		s.internalError(w, "account deletion failed", err)
		return
	}

	s.logger.Info("account deleted", zap.String("settlement_account", sid))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["sid"]

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		http.Error(w, "Idempotency-Key header required", http.StatusBadRequest)
		return
	}

	var quantity connector.SettlementQuantity
	if err := json.NewDecoder(r.Body).Decode(&quantity); err != nil {
		http.Error(w, "malformed settlement quantity", http.StatusBadRequest)
		return
	}

	amount, err := decimal.NewFromString(quantity.Amount)
	if err != nil {
		http.Error(w, "malformed settlement amount", http.StatusBadRequest)
		return
	}

	status, err := s.settler.Settle(r.Context(), sid, idempotencyKey, amount, quantity.Scale)
	if err != nil {
		s.internalError(w, "settlement failed", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(quantity)
}

// handleMessage answers a peer engine's handshake: the inbound body carries
// the peer's identity as raw JSON bytes, the response carries ours the same
// way.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["sid"]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.internalError(w, "could not read message body", err)
		return
	}

	var msg connector.PaymentDetailsMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.IrohaAccountID == "" {
		s.internalError(w, "malformed payment details message", err)
		return
	}

	if err := s.store.SavePeerIrohaAccountID(r.Context(), sid, msg.IrohaAccountID); err != nil {
		s.internalError(w, "could not save peer identity", err)
		return
	}

	s.logger.Info("received peer payment details",
		zap.String("settlement_account", sid),
		zap.String("peer_iroha_account", msg.IrohaAccountID))

	response, err := json.Marshal(connector.PaymentDetailsMessage{IrohaAccountID: s.accountID})
	if err != nil {
		s.internalError(w, "could not encode payment details", err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusCreated)
	w.Write(response)
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	http.Error(w, msg, http.StatusInternalServerError)
}
