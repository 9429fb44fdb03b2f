package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/aditya-23140/trade-sim/internal/market"
	"github.com/aditya-23140/trade-sim/internal/sim"
)

// ErrNotFound marks lookups of unknown orders or positions so handlers can
// answer 404 instead of 400.
var ErrNotFound = errors.New("not found")

// Core is what the HTTP layer needs from the application: every mutation
// goes through it so snapshots and pushes happen on each one.
type Core interface {
	PlaceOrder(ctx context.Context, params sim.OrderParams) (sim.Order, error)
	CancelOrder(ctx context.Context, id string) (sim.Order, error)
	ClosePosition(ctx context.Context, symbol string, qty float64) error
	SellAll(ctx context.Context, symbol string) error
	Reset(ctx context.Context) error
	SetLeverage(n int) error
	SetMode(ctx context.Context, mode string) error
	SetSymbol(ctx context.Context, symbol string) error
	SetCurrency(ctx context.Context, mode string, rate float64) error
	State() State
	History(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// State is the full dashboard view returned by GET /api/v1/state.
type State struct {
	Mode          sim.Mode                `json:"mode"`
	Symbol        string                  `json:"symbol"`
	Leverage      int                     `json:"leverage"`
	USDTBalance   float64                 `json:"usdtBalance"`
	SpotBalances  map[string]float64      `json:"spotBalances"`
	Positions     map[string]sim.Position `json:"positions"`
	Orders        []sim.Order             `json:"orders"`
	Performance   sim.Performance         `json:"performance"`
	Summary       sim.Summary             `json:"summary"`
	LastPrice     float64                 `json:"lastPrice,omitempty"`
	CurrencyMode  string                  `json:"currencyMode"`
	USDToINRRate  float64                 `json:"usdToInrRate"`
	FeedConnected bool                    `json:"feedConnected"`
}

type Server struct {
	log           *zap.Logger
	core          Core
	hub           *Hub
	addr          string
	allowedOrigin string
}

func New(core Core, hub *Hub, addr, allowedOrigin string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{log: log, core: core, hub: hub, addr: addr, allowedOrigin: allowedOrigin}
}

func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.cors)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/positions/{symbol}/close", s.handleClosePosition).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sell-all", s.handleSellAll).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/leverage", s.handleLeverage).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/mode", s.handleMode).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/symbol", s.handleSymbol).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/currency", s.handleCurrency).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/ws", s.hub.ServeWS(s.allowedOrigin))
	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, errors.New("symbol query parameter is required"))
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("limit must be an integer"))
			return
		}
		limit = n
	}
	candles, err := s.core.History(r.Context(), symbol, q.Get("interval"), limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.State())
}

type placeOrderRequest struct {
	Symbol string  `json:"symbol"`
	Type   string  `json:"type"`
	Side   string  `json:"side"`
	Qty    float64 `json:"qty"`
	Price  float64 `json:"price,omitempty"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	order, err := s.core.PlaceOrder(r.Context(), sim.OrderParams{
		Symbol:     req.Symbol,
		Type:       sim.OrderType(req.Type),
		Side:       sim.Side(req.Side),
		Qty:        req.Qty,
		LimitPrice: req.Price,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, err := s.core.CancelOrder(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type closePositionRequest struct {
	Qty float64 `json:"qty,omitempty"`
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	var req closePositionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
			return
		}
	}
	if err := s.core.ClosePosition(r.Context(), symbol, req.Qty); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

func (s *Server) handleSellAll(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := s.core.SellAll(r.Context(), req.Symbol); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sold"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.core.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type leverageRequest struct {
	Leverage int `json:"leverage"`
}

func (s *Server) handleLeverage(w http.ResponseWriter, r *http.Request) {
	var req leverageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := s.core.SetLeverage(req.Leverage); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"leverage": req.Leverage})
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := s.core.SetMode(r.Context(), req.Mode); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": req.Mode})
}

func (s *Server) handleSymbol(w http.ResponseWriter, r *http.Request) {
	var req symbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := s.core.SetSymbol(r.Context(), req.Symbol); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"symbol": req.Symbol})
}

type currencyRequest struct {
	Mode string  `json:"mode"`
	Rate float64 `json:"rate"`
}

func (s *Server) handleCurrency(w http.ResponseWriter, r *http.Request) {
	var req currencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := s.core.SetCurrency(r.Context(), req.Mode, req.Rate); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": req.Mode, "rate": req.Rate})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := s.allowedOrigin
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, sim.ErrNoPosition):
		return http.StatusNotFound
	case errors.Is(err, sim.ErrInsufficientFunds),
		errors.Is(err, sim.ErrInvalidQuantity),
		errors.Is(err, sim.ErrSymbolRequired),
		errors.Is(err, sim.ErrLimitPriceRequired),
		errors.Is(err, sim.ErrNoMarketPrice),
		errors.Is(err, sim.ErrNotFutures),
		errors.Is(err, sim.ErrNotSpot),
		errors.Is(err, sim.ErrInvalidLeverage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
