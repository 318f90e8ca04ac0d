package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"oi-trader/internal/models"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	hub.Start(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
}

func TestHub_BroadcastToClients(t *testing.T) {
	hub, srv := startHub(t)

	c1 := dial(t, srv)
	c2 := dial(t, srv)
	waitForClients(t, hub, 2)

	hub.OnTradeClosed(models.Trade{Strike: 24500, Type: models.Call, PnL: 750})

	for _, conn := range []*websocket.Conn{c1, c2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Type != EventTradeClosed {
			t.Fatalf("event type = %q, want %q", ev.Type, EventTradeClosed)
		}
	}
}

func TestHub_ClientDisconnectIsRemoved(t *testing.T) {
	hub, srv := startHub(t)

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub, _ := startHub(t)

	// Must not block or panic with nobody listening.
	hub.OnSessionReset(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	hub.OnTradeClosed(models.Trade{PnL: -100})
}

func TestHub_StopIsIdempotent(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)

	hub.Stop()
	hub.Stop()
	if hub.IsStarted() {
		t.Fatal("hub must report stopped")
	}
}
