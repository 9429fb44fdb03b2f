package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/aditya-23140/trade-sim/internal/market"
	"github.com/aditya-23140/trade-sim/internal/sim"
)

type fakeCore struct {
	placed   []sim.OrderParams
	placeErr error
	canceled []string
	leverage int
	mode     string
	symbol   string
	state    State
}

func (f *fakeCore) PlaceOrder(_ context.Context, params sim.OrderParams) (sim.Order, error) {
	if f.placeErr != nil {
		return sim.Order{}, f.placeErr
	}
	f.placed = append(f.placed, params)
	return sim.Order{ID: "o_1", Symbol: params.Symbol, Type: params.Type, Side: params.Side, Qty: params.Qty, Status: sim.StatusFilled}, nil
}

func (f *fakeCore) CancelOrder(_ context.Context, id string) (sim.Order, error) {
	if id == "missing" {
		return sim.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	f.canceled = append(f.canceled, id)
	return sim.Order{ID: id, Status: sim.StatusCanceled}, nil
}

func (f *fakeCore) ClosePosition(_ context.Context, symbol string, _ float64) error {
	if symbol == "NONE" {
		return sim.ErrNoPosition
	}
	return nil
}

func (f *fakeCore) SellAll(context.Context, string) error { return nil }
func (f *fakeCore) Reset(context.Context) error           { return nil }

func (f *fakeCore) SetLeverage(n int) error {
	if n < 1 {
		return sim.ErrInvalidLeverage
	}
	f.leverage = n
	return nil
}

func (f *fakeCore) SetMode(_ context.Context, mode string) error {
	f.mode = mode
	return nil
}

func (f *fakeCore) SetSymbol(_ context.Context, symbol string) error {
	f.symbol = symbol
	return nil
}

func (f *fakeCore) SetCurrency(context.Context, string, float64) error { return nil }

func (f *fakeCore) State() State { return f.state }

func (f *fakeCore) History(_ context.Context, symbol, _ string, _ int) ([]market.Candle, error) {
	return []market.Candle{{Symbol: symbol, Close: 100.5, Closed: true}}, nil
}

func newTestServer(core *fakeCore) *httptest.Server {
	hub := NewHub(zap.NewNop())
	go hub.Run(context.Background())
	s := New(core, hub, ":0", "*", zap.NewNop())
	return httptest.NewServer(s.Routes())
}

func TestPlaceOrderEndpoint(t *testing.T) {
	core := &fakeCore{}
	srv := newTestServer(core)
	defer srv.Close()

	body := bytes.NewBufferString(`{"symbol":"SOLUSDT","type":"MARKET","side":"LONG","qty":1}`)
	resp, err := http.Post(srv.URL+"/api/v1/orders", "application/json", body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var order sim.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if order.ID != "o_1" {
		t.Fatalf("unexpected order: %+v", order)
	}
	if len(core.placed) != 1 || core.placed[0].Symbol != "SOLUSDT" {
		t.Fatalf("core did not receive order params: %+v", core.placed)
	}
}

func TestPlaceOrderRejection(t *testing.T) {
	core := &fakeCore{placeErr: fmt.Errorf("insufficient USDT balance: %w", sim.ErrInsufficientFunds)}
	srv := newTestServer(core)
	defer srv.Close()

	body := bytes.NewBufferString(`{"symbol":"SOLUSDT","type":"MARKET","side":"LONG","qty":10000}`)
	resp, err := http.Post(srv.URL+"/api/v1/orders", "application/json", body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] == "" {
		t.Fatalf("expected error message in body")
	}
}

func TestCancelOrderNotFound(t *testing.T) {
	srv := newTestServer(&fakeCore{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/orders/missing", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelOrder(t *testing.T) {
	core := &fakeCore{}
	srv := newTestServer(core)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/orders/o_9", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(core.canceled) != 1 || core.canceled[0] != "o_9" {
		t.Fatalf("cancel not forwarded: %+v", core.canceled)
	}
}

func TestClosePositionNotFound(t *testing.T) {
	srv := newTestServer(&fakeCore{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/positions/NONE/close", "application/json", bytes.NewBufferString(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStateEndpoint(t *testing.T) {
	core := &fakeCore{state: State{Symbol: "SOLUSDT", Leverage: 5, USDTBalance: 2000, Mode: sim.ModeFutures}}
	srv := newTestServer(core)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var state State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Symbol != "SOLUSDT" || state.USDTBalance != 2000 {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestHistoryRequiresSymbol(t *testing.T) {
	srv := newTestServer(&fakeCore{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/history")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv := newTestServer(&fakeCore{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/history?symbol=SOLUSDT&interval=1m&limit=10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var candles []market.Candle
	if err := json.NewDecoder(resp.Body).Decode(&candles); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(candles) != 1 || candles[0].Symbol != "SOLUSDT" {
		t.Fatalf("unexpected candles: %+v", candles)
	}
}

func TestLeverageEndpoint(t *testing.T) {
	core := &fakeCore{}
	srv := newTestServer(core)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/leverage", "application/json", bytes.NewBufferString(`{"leverage":20}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if core.leverage != 20 {
		t.Fatalf("leverage = %d, want 20", core.leverage)
	}

	resp, err = http.Post(srv.URL+"/api/v1/leverage", "application/json", bytes.NewBufferString(`{"leverage":0}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(&fakeCore{})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/state", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q, want *", got)
	}
}
