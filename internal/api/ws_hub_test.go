package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/atmx/ledger-engine/internal/reconcile"
)

func dialHub(t *testing.T, h *WSHub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// The upgrade completes before the hub loop picks the client up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.RLock()
		n := len(h.clients)
		h.mu.RUnlock()
		if n > 0 {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered with the hub")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func TestWSHub_NotifyBroadcastsReconciliation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewWSHub()
	go h.Run(ctx)
	conn := dialHub(t, h)

	runID := uuid.New()
	at := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	h.Notify(ctx, reconcile.Event{
		Kind:       reconcile.EventReconciled,
		PlatformID: 7,
		Ticker:     "AAPL",
		At:         at,
		Result:     &reconcile.Result{RunID: runID, Changed: 2, Open: 1, Closed: 3},
	})

	msg := readMessage(t, conn)
	if msg.Type != "reconciled" {
		t.Errorf("expected type reconciled, got %q", msg.Type)
	}
	if msg.PlatformID != 7 || msg.Ticker != "AAPL" {
		t.Errorf("unexpected scope: platform %d ticker %q", msg.PlatformID, msg.Ticker)
	}
	if msg.RunID != runID.String() {
		t.Errorf("expected run id %s, got %s", runID, msg.RunID)
	}
	if msg.Changed != 2 || msg.Open != 1 || msg.Closed != 3 {
		t.Errorf("unexpected counts: %+v", msg)
	}
	if !msg.At.Equal(at) {
		t.Errorf("expected at %s, got %s", at, msg.At)
	}

	// Events without a run carry only their kind and scope.
	h.Notify(ctx, reconcile.Event{Kind: reconcile.EventCashFlow, PlatformID: 7, At: at})
	msg = readMessage(t, conn)
	if msg.Type != "cash_flow_recorded" || msg.RunID != "" || msg.Changed != 0 {
		t.Errorf("unexpected cash flow message: %+v", msg)
	}
}

func TestWSHub_ShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewWSHub()
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	conn := dialHub(t, h)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}

	// Notifying after shutdown must not block.
	h.Notify(context.Background(), reconcile.Event{Kind: reconcile.EventTrade})
}
