package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

func TestSubscribeReplayedOnConnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	subCh := make(chan request, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var req request
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			select {
			case subCh <- req:
			default:
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(wsURL, 10*time.Millisecond, zap.NewNop())
	if err := client.Subscribe(ctx, "solusdt@trade", "solusdt@kline_1m"); err != nil {
		t.Fatalf("subscribe before connect: %v", err)
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = client.Run(runCtx, nil)
	}()

	select {
	case req := <-subCh:
		if req.Method != "SUBSCRIBE" {
			t.Fatalf("expected SUBSCRIBE, got %s", req.Method)
		}
		if len(req.Params) != 2 || req.Params[0] != "solusdt@trade" {
			t.Fatalf("unexpected params: %v", req.Params)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for subscription replay")
	}
}

func TestRunDeliversMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"e":"trade","s":"SOLUSDT","p":"101.5"}`))
		<-ctx.Done()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(wsURL, 10*time.Millisecond, zap.NewNop())

	got := make(chan json.RawMessage, 1)
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = client.Run(runCtx, func(msg json.RawMessage) {
			select {
			case got <- msg:
			default:
			}
		})
	}()

	select {
	case msg := <-got:
		var ev map[string]any
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev["e"] != "trade" {
			t.Fatalf("unexpected message: %v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for message")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
		<-r.Context().Done()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(wsURL, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx, nil)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
