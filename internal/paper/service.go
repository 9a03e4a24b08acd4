// Package paper provides the orchestration loop and the HTTP surface of
// the paper trading engine: order submission, tick injection, account
// and position queries, and order cancellation.
package paper

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/quantfab/paper-engine/internal/model"
	"github.com/quantfab/paper-engine/internal/store"
	"github.com/quantfab/paper-engine/internal/symbol"
)

// Service exposes the admin/bridge HTTP API over one orchestration loop.
type Service struct {
	loop *Loop
	st   store.Store
}

// NewService creates the HTTP service. st may be nil when no history
// store is configured; history endpoints then return empty results.
func NewService(loop *Loop, st store.Store) *Service {
	return &Service{loop: loop, st: st}
}

// Routes mounts the API endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/orders", s.SubmitOrder)
	r.Get("/orders", s.ListOpenOrders)
	r.Delete("/orders/{orderID}", s.CancelOrder)
	r.Post("/orders/cancel_all", s.CancelAllOrders)
	r.Post("/ticks", s.PushTick)
	r.Get("/account", s.GetAccount)
	r.Post("/account/reset", s.ResetAccount)
	r.Get("/positions", s.GetPositions)
	r.Get("/reports", s.ListReports)
	r.Get("/candles/{symbol}", s.GetCandles)
}

// --- Request types ---

// SubmitOrderRequest is the JSON body for POST /orders.
type SubmitOrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	OrderType     string          `json:"order_type"`
	PositionSide  string          `json:"position_side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
}

// PushTickRequest is the JSON body for POST /ticks.
type PushTickRequest struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds; 0 = now
}

// ResetAccountRequest is the JSON body for POST /account/reset.
type ResetAccountRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

// --- Handlers ---

// SubmitOrder handles POST /api/v1/orders. The order is queued into the
// orchestration loop; the resulting report arrives via the report
// stream, the WebSocket feed, and the journal.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	inst, err := symbol.Parse(req.Symbol)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	order := model.OrderInfo{
		ClientOrderID: req.ClientOrderID,
		Symbol:        inst.Symbol,
		Side:          model.Side(req.Side),
		OrderType:     model.OrderType(req.OrderType),
		PositionSide:  model.PositionSide(req.PositionSide),
		Quantity:      req.Quantity,
		Price:         req.Price,
		CreateTime:    time.Now().UTC(),
	}
	if order.PositionSide == "" {
		order.PositionSide = model.PositionSideNet
	}

	if err := s.loop.SubmitOrder(r.Context(), order); err != nil {
		writeError(w, "engine unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"client_order_id": order.ClientOrderID,
		"status":          "queued",
	})
}

// ListOpenOrders handles GET /api/v1/orders?symbol=
func (s *Service) ListOpenOrders(w http.ResponseWriter, r *http.Request) {
	sym := symbol.Normalize(r.URL.Query().Get("symbol"))
	orders := s.loop.engine.Ledger().ListOpenOrders(sym)
	if orders == nil {
		orders = []model.OrderInfo{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}. The id may be a
// client order id or an exchange order id. Cancelling an unknown or
// already-resolved order returns 404 and mutates nothing.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	rep, ok := s.loop.engine.CancelOrder(orderID)
	if !ok {
		writeError(w, "order not found: "+orderID, http.StatusNotFound)
		return
	}
	s.loop.Publish(r.Context(), rep)

	slog.Info("order cancelled",
		"client_order_id", rep.ClientOrderID,
		"exchange_order_id", rep.ExchangeOrderID,
		"symbol", rep.Symbol,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rep)
}

// CancelAllOrders handles POST /api/v1/orders/cancel_all?symbol=
func (s *Service) CancelAllOrders(w http.ResponseWriter, r *http.Request) {
	sym := symbol.Normalize(r.URL.Query().Get("symbol"))

	reports := s.loop.engine.CancelAll(sym)
	for _, rep := range reports {
		s.loop.Publish(r.Context(), rep)
	}
	if reports == nil {
		reports = []model.OrderReport{}
	}

	slog.Info("orders cancelled", "symbol", sym, "count", len(reports))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reports)
}

// PushTick handles POST /api/v1/ticks — the injection point for market
// data when no WebSocket bridge is configured (simulations, tests).
func (s *Service) PushTick(w http.ResponseWriter, r *http.Request) {
	var req PushTickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" || !req.Price.IsPositive() {
		writeError(w, "symbol and positive price are required", http.StatusBadRequest)
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp > 0 {
		ts = time.UnixMilli(req.Timestamp).UTC()
	}

	tick := model.Tick{
		Symbol:    symbol.Normalize(req.Symbol),
		Price:     req.Price,
		Timestamp: ts,
	}
	if err := s.loop.PushTick(r.Context(), tick); err != nil {
		writeError(w, "engine unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// GetAccount handles GET /api/v1/account
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.loop.engine.Ledger().Snapshot())
}

// ResetAccount handles POST /api/v1/account/reset. Wipes all positions
// and open orders and restores the given balance.
func (s *Service) ResetAccount(w http.ResponseWriter, r *http.Request) {
	var req ResetAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Balance.IsNegative() {
		writeError(w, "balance must not be negative", http.StatusBadRequest)
		return
	}

	s.loop.engine.Ledger().Reset(req.Balance)
	slog.Info("account reset", "balance", req.Balance.String())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.loop.engine.Ledger().Snapshot())
}

// GetPositions handles GET /api/v1/positions — active positions only.
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.loop.engine.Ledger().ActivePositions()
	if positions == nil {
		positions = []model.Position{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// ListReports handles GET /api/v1/reports?symbol=&limit=
func (s *Service) ListReports(w http.ResponseWriter, r *http.Request) {
	reports := []model.OrderReport{}
	if s.st != nil {
		sym := symbol.Normalize(r.URL.Query().Get("symbol"))
		limit := queryInt(r, "limit", 100)
		got, err := s.st.ListReports(r.Context(), sym, limit)
		if err != nil {
			writeError(w, "failed to list reports", http.StatusInternalServerError)
			return
		}
		if got != nil {
			reports = got
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reports)
}

// GetCandles handles GET /api/v1/candles/{symbol}?limit=
func (s *Service) GetCandles(w http.ResponseWriter, r *http.Request) {
	candles := []model.Candle{}
	if s.st != nil {
		sym := symbol.Normalize(chi.URLParam(r, "symbol"))
		limit := queryInt(r, "limit", 500)
		got, err := s.st.CandlesBySymbol(r.Context(), sym, limit)
		if err != nil {
			writeError(w, "failed to get candles", http.StatusInternalServerError)
			return
		}
		if got != nil {
			candles = got
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(candles)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
