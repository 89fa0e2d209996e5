package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/fintech-exchange/pkg/app/core/errs"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/ledger"
	"github.com/uhyunpark/fintech-exchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/fintech-exchange/pkg/app/exchange"
)

// TradeHistory serves past trades, typically from the journal.
type TradeHistory interface {
	RecentTrades(symbol string, limit int) ([]orderbook.Trade, error)
}

// Server handles REST API and WebSocket connections
type Server struct {
	ex     *exchange.Exchange
	router *mux.Router
	hub    *Hub
	trades TradeHistory
	logger *zap.Logger

	corsOrigins []string
	httpServer  *http.Server
}

type Option func(*Server)

func WithTradeHistory(th TradeHistory) Option {
	return func(s *Server) { s.trades = th }
}

func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// NewServer creates a new API server. hub may be nil to disable /ws.
func NewServer(ex *exchange.Exchange, hub *Hub, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		ex:          ex,
		router:      mux.NewRouter(),
		hub:         hub,
		logger:      logger.Named("api"),
		corsOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orders", s.handleGetOpenOrders).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts", s.handleListAccounts).Methods("GET")
	api.HandleFunc("/accounts", s.handleCreateAccount).Methods("POST")
	api.HandleFunc("/accounts/{id}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{id}/balances/{asset}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{id}/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/accounts/{id}/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/accounts/{id}/withdraw", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/transfers", s.handleTransfer).Methods("POST")
	api.HandleFunc("/transactions", s.handleGetTransactions).Methods("GET")

	// Order endpoints
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods("DELETE")

	if s.hub != nil {
		s.router.HandleFunc("/ws", s.handleWebSocket)
	}

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS handling
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves until Shutdown is called
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("server_starting", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ==============================
// Market Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ex.Markets())
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	depth, err := intParam(r, "depth", 0)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.ex.Depth(symbol, depth))
}

// handleGetOpenOrders lists resting orders in sequence order
func (s *Server) handleGetOpenOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.ex.OpenOrders(mux.Vars(r)["symbol"])
	if orders == nil {
		orders = []orderbook.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		respondJSON(w, http.StatusOK, []orderbook.Trade{})
		return
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		s.respondError(w, err)
		return
	}
	trades, err := s.trades.RecentTrades(mux.Vars(r)["symbol"], limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if trades == nil {
		trades = []orderbook.Trade{}
	}
	respondJSON(w, http.StatusOK, trades)
}

// ==============================
// Account Handlers
// ==============================

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ex.Accounts())
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !s.decode(w, r, &req) {
		return
	}
	acc, err := s.ex.CreateAccount(r.Context(), req.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, acc)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := s.ex.Account(accountVar(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, acc)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	id, asset := accountVar(r), mux.Vars(r)["asset"]
	bal, err := s.ex.Balance(id, asset)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, BalanceInfo{Account: id, Asset: asset, Balance: bal})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.ex.History(accountVar(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	out := []ledger.TxRecord{}
	for rec := range hist {
		out = append(out, rec)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	out := []ledger.TxRecord{}
	for rec := range s.ex.Transactions() {
		out = append(out, rec)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := accountVar(r)
	rec, err := s.ex.Deposit(r.Context(), id, req.Asset, req.Amount)
	s.respondTx(w, rec, id, err)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := accountVar(r)
	rec, err := s.ex.Withdraw(r.Context(), id, req.Asset, req.Amount)
	s.respondTx(w, rec, id, err)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !s.decode(w, r, &req) {
		return
	}
	rec, err := s.ex.Transfer(r.Context(), req.From, req.To, req.Asset, req.Amount)
	s.respondTx(w, rec, req.From, err)
}

func (s *Server) respondTx(w http.ResponseWriter, rec ledger.TxRecord, id ledger.AccountID, err error) {
	if err != nil {
		s.respondError(w, err)
		return
	}
	bal, err := s.ex.Balance(id, rec.Asset)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, TxResponse{Tx: rec, Balance: bal})
}

// ==============================
// Order Handlers
// ==============================

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req exchange.PlaceOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.ex.PlaceOrder(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}

	resp := PlaceOrderResponse{
		OrderID:   res.OrderID,
		Status:    res.Order.Status,
		Trades:    res.Trades,
		Resting:   res.Resting,
		Unmatched: res.Unmatched,
	}
	if resp.Trades == nil {
		resp.Trades = []orderbook.Trade{}
	}
	if res.Halt != nil {
		resp.Halted = &ErrorResponse{Error: errs.Kind(res.Halt), Message: res.Halt.Error()}
	}
	for _, o := range res.UnfundedCancelled {
		resp.UnfundedCancelled = append(resp.UnfundedCancelled, o.ID)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.ex.Order(orderbook.OrderID(mux.Vars(r)["id"]))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.ex.CancelOrder(r.Context(), orderbook.OrderID(mux.Vars(r)["id"]))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

// badRequest marks malformed input that never reached the exchange
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func accountVar(r *http.Request) ledger.AccountID {
	return ledger.AccountID(mux.Vars(r)["id"])
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest{msg: name + " must be a non-negative integer"}
	}
	return n, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, badRequest{msg: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// statusOf maps the error taxonomy onto HTTP status codes
func statusOf(err error) (int, string) {
	var br badRequest
	if errors.As(err, &br) {
		return http.StatusBadRequest, "BadRequest"
	}
	kind := errs.Kind(err)
	switch kind {
	case "UnknownAccount", "OrderNotFound":
		return http.StatusNotFound, kind
	case "DuplicateAccount", "OrderNotOpen":
		return http.StatusConflict, kind
	case "InsufficientFunds":
		return http.StatusUnprocessableEntity, kind
	case "InvalidAmount", "InvalidOrder", "InvalidAccountID":
		return http.StatusBadRequest, kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, "Unavailable"
	}
	return http.StatusInternalServerError, kind
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status, kind := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request_failed", zap.Error(err))
	}
	respondJSON(w, status, ErrorResponse{Error: kind, Message: err.Error()})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
