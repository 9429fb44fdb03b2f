package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestHubBroadcastReachesClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub.ServeWS("*"))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration races the broadcast; retry until the client is attached.
	deadline := time.Now().Add(2 * time.Second)
	done := make(chan Message, 1)
	go func() {
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "tick" {
				done <- msg
				return
			}
		}
	}()
	for time.Now().Before(deadline) {
		hub.Broadcast("tick", map[string]any{"symbol": "SOLUSDT", "price": 101.5})
		select {
		case msg := <-done:
			data, _ := json.Marshal(msg.Data)
			if !strings.Contains(string(data), "SOLUSDT") {
				t.Fatalf("unexpected payload: %s", data)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatalf("broadcast never reached the client")
}
