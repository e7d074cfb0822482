package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/matching"
	"github.com/uhyunpark/hyperdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperdex/pkg/app/dex"
	"github.com/uhyunpark/hyperdex/pkg/custody"
	"github.com/uhyunpark/hyperdex/pkg/crypto"
)

const defaultTradeLimit = 50

// Server handles REST API and WebSocket connections
type Server struct {
	dex    *dex.Dex
	router *mux.Router
	hub    *Hub
	nonces *nonceTracker
	format formatter
	logger *zap.Logger

	httpSrv *http.Server
	cancel  context.CancelFunc
}

// NewServer creates the API server and starts its WebSocket hub.
// nonces may be nil, in which case request nonces are only tracked in memory.
func NewServer(d *dex.Dex, nonces NonceStore, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tracker, err := newNonceTracker(nonces)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		dex:    d,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		nonces: tracker,
		format: newFormatter(d.Assets()),
		logger: logger,
		cancel: cancel,
	}
	go s.hub.Run(ctx)

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market data
	api.HandleFunc("/assets", s.handleGetAssets).Methods("GET")
	api.HandleFunc("/assets/{symbol}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/assets/{symbol}/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/assets/{symbol}/trades", s.handleGetTrades).Methods("GET")

	// Accounts
	api.HandleFunc("/accounts/{address}/balances/{symbol}", s.handleGetBalance).Methods("GET")

	// Signed mutations
	signed := api.NewRoute().Subrouter()
	signed.Use(s.requireSignature)
	signed.HandleFunc("/deposit", s.handleDeposit).Methods("POST")
	signed.HandleFunc("/withdraw", s.handleWithdraw).Methods("POST")
	signed.HandleFunc("/orders/limit", s.handleLimitOrder).Methods("POST")
	signed.HandleFunc("/orders/market", s.handleMarketOrder).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", headerTrader, headerSignature, headerNonce},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves the API until Shutdown is called
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("api server starting", zap.String("addr", addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and the WebSocket hub
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.dex.Assets()
	response := make([]AssetInfo, len(assets))
	for i, a := range assets {
		response[i] = AssetInfo{
			Symbol:   string(a.Symbol),
			Token:    a.Token.Hex(),
			Decimals: a.Decimals,
			Base:     a.Base,
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	sym := asset.Symbol(mux.Vars(r)["symbol"])
	side, err := parseSide(r.URL.Query().Get("side"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	orders, err := s.dex.GetOrders(sym, side)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	response := make([]OrderInfo, 0, len(orders))
	for _, o := range orders {
		response = append(response, s.format.order(o))
	}
	respondJSON(w, response)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	sym := asset.Symbol(mux.Vars(r)["symbol"])
	snap, err := s.book(sym)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, snap)
}

func (s *Server) book(sym asset.Symbol) (BookSnapshot, error) {
	bids, err := s.dex.Depth(sym, orderbook.Buy)
	if err != nil {
		return BookSnapshot{}, err
	}
	asks, err := s.dex.Depth(sym, orderbook.Sell)
	if err != nil {
		return BookSnapshot{}, err
	}
	return BookSnapshot{
		Symbol:    string(sym),
		Bids:      levels(bids),
		Asks:      levels(asks),
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	sym := asset.Symbol(mux.Vars(r)["symbol"])
	limit := defaultTradeLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", l)
			return
		}
		limit = n
	}

	trades, err := s.dex.RecentTrades(sym, limit)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, s.format.trades(trades))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addressStr := vars["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addressStr)
	sym := asset.Symbol(vars["symbol"])

	bal, err := s.dex.BalanceOf(addr, sym)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Address: addr.Hex(),
		Symbol:  string(sym),
		Balance: bal.Dec(),
		Display: s.format.display(sym, bal),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, s.dex.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleTransfer(w, r, s.dex.Withdraw)
}

type transferFunc func(ctx context.Context, trader common.Address, sym asset.Symbol, amount *uint256.Int) error

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request, fn transferFunc) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	trader := traderFrom(r.Context())
	sym := asset.Symbol(req.Symbol)
	if err := fn(r.Context(), trader, sym, amount); err != nil {
		s.respondDomainError(w, err)
		return
	}

	bal, err := s.dex.BalanceOf(trader, sym)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Address: trader.Hex(),
		Symbol:  string(sym),
		Balance: bal.Dec(),
		Display: s.format.display(sym, bal),
	})
}

func (s *Server) handleLimitOrder(w http.ResponseWriter, r *http.Request) {
	var req LimitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid price", err.Error())
		return
	}

	res, err := s.dex.CreateLimitOrder(traderFrom(r.Context()), asset.Symbol(req.Symbol), amount, price, side)
	s.respondOrder(w, asset.Symbol(req.Symbol), res, err)
}

func (s *Server) handleMarketOrder(w http.ResponseWriter, r *http.Request) {
	var req MarketOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}

	res, err := s.dex.CreateMarketOrder(traderFrom(r.Context()), asset.Symbol(req.Symbol), amount, side)
	s.respondOrder(w, asset.Symbol(req.Symbol), res, err)
}

func (s *Server) respondOrder(w http.ResponseWriter, sym asset.Symbol, res *matching.Result, err error) {
	if res == nil {
		s.respondDomainError(w, err)
		return
	}
	if err != nil {
		// fills before the failure stand
		s.logger.Error("order partially processed", zap.Uint64("order_id", res.Order.ID), zap.Error(err))
	}
	if len(res.Trades) > 0 || res.Rested || len(res.Evicted) > 0 {
		s.BroadcastBook(sym)
	}
	respondJSON(w, s.format.result(res))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods
// ==============================

// BroadcastTrade sends a trade to "trades:<symbol>" subscribers. It matches the
// engine's trade listener signature.
func (s *Server) BroadcastTrade(t matching.Trade) {
	s.hub.BroadcastToChannel("trades:"+string(t.Asset), TradeUpdate{Type: "trade", Trade: s.format.trade(t)})
}

// BroadcastBook sends the aggregated book to "book:<symbol>" subscribers
func (s *Server) BroadcastBook(sym asset.Symbol) {
	snap, err := s.book(sym)
	if err != nil {
		return
	}
	s.hub.BroadcastToChannel("book:"+string(sym), BookUpdate{Type: "book", Book: snap})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// respondDomainError maps core errors to HTTP statuses
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, asset.ErrUnknownAsset):
		respondError(w, http.StatusNotFound, "unknown asset", err.Error())
	case errors.Is(err, matching.ErrBaseAssetNotTradable),
		errors.Is(err, matching.ErrInsufficientAssetBalance),
		errors.Is(err, matching.ErrInsufficientBaseBalance),
		errors.Is(err, matching.ErrInvalidOrder),
		errors.Is(err, ledger.ErrOverflow),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, custody.ErrInsufficientFunds):
		respondError(w, http.StatusUnprocessableEntity, "rejected", err.Error())
	case errors.Is(err, dex.ErrWithdrawFailed):
		respondError(w, http.StatusBadGateway, "withdraw failed", err.Error())
	case errors.Is(err, crypto.ErrSignatureMismatch):
		respondError(w, http.StatusUnauthorized, "bad signature", err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}
