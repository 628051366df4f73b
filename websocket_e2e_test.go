package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pointsarena/server/internal/auth"
	"pointsarena/server/internal/ledger"
	"pointsarena/server/internal/logging"
	"pointsarena/server/internal/websockettest"
)

// startArena spins up a real HTTP server with the websocket endpoint and the
// dispatch loop running, mirroring the wiring in main.
func startArena(t *testing.T) *httptest.Server {
	t.Helper()
	seq := 0
	server := NewServer(testConfig(), logging.NewTestLogger(), ledger.NewMemoryStore(), auth.AllowAll{}, WithRoomIDs(func() string {
		seq++
		return fmt.Sprintf("room-%d", seq)
	}))
	go server.Run()
	t.Cleanup(server.Stop)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.ServeWS)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func wsSend(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	env := struct {
		Type    string `json:"type"`
		Payload any    `json:"payload,omitempty"`
	}{Type: eventType, Payload: payload}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write %q: %v", eventType, err)
	}
}

// wsAwait reads frames until one of the wanted type arrives.
func wsAwait(t *testing.T, conn *websocket.Conn, eventType string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("set deadline: %v", err)
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read while waiting for %q: %v", eventType, err)
		}
		var env struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if env.Type == eventType {
			return env.Payload
		}
	}
}

func TestMatchOverRealSockets(t *testing.T) {
	ts := startArena(t)

	alice := websockettest.Dial(t, ts.URL+"/ws")
	bob := websockettest.Dial(t, ts.URL+"/ws")

	wsSend(t, alice, eventLogin, map[string]any{"proof": "alice"})
	wsAwait(t, alice, eventLoginAccepted)
	wsSend(t, bob, eventLogin, map[string]any{"proof": "bob"})
	wsAwait(t, bob, eventLoginAccepted)

	wsSend(t, alice, eventCreateRoom, map[string]any{"game": "rps"})
	payload := wsAwait(t, alice, eventRoomCreated)
	var created struct {
		Room roomView `json:"room"`
	}
	if err := json.Unmarshal(payload, &created); err != nil {
		t.Fatalf("decode room_created: %v", err)
	}

	wsSend(t, bob, eventJoinRoom, map[string]any{"room_id": created.Room.ID})
	wsAwait(t, alice, eventMatchStarted)
	wsAwait(t, bob, eventMatchStarted)

	wsSend(t, alice, eventSubmitMove, map[string]any{"room_id": created.Room.ID, "move": "paper"})
	wsAwait(t, alice, eventMoveAck)
	wsSend(t, bob, eventSubmitMove, map[string]any{"room_id": created.Room.ID, "move": "rock"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		var settled settledView
		if err := json.Unmarshal(wsAwait(t, conn, eventMatchSettled), &settled); err != nil {
			t.Fatalf("decode match_settled: %v", err)
		}
		if settled.Winner != "alice" {
			t.Fatalf("unexpected winner: %q", settled.Winner)
		}
		if settled.Balances["alice"] != 1100 || settled.Balances["bob"] != 900 {
			t.Fatalf("unexpected balances: %+v", settled.Balances)
		}
	}
}

func TestDisconnectOverRealSockets(t *testing.T) {
	ts := startArena(t)

	alice := websockettest.Dial(t, ts.URL+"/ws")
	bob := websockettest.Dial(t, ts.URL+"/ws")

	wsSend(t, alice, eventLogin, map[string]any{"proof": "alice"})
	wsAwait(t, alice, eventLoginAccepted)
	wsSend(t, bob, eventLogin, map[string]any{"proof": "bob"})
	wsAwait(t, bob, eventLoginAccepted)

	wsSend(t, alice, eventCreateRoom, map[string]any{"game": "rps"})
	payload := wsAwait(t, alice, eventRoomCreated)
	var created struct {
		Room roomView `json:"room"`
	}
	if err := json.Unmarshal(payload, &created); err != nil {
		t.Fatalf("decode room_created: %v", err)
	}
	wsSend(t, bob, eventJoinRoom, map[string]any{"room_id": created.Room.ID})
	wsAwait(t, alice, eventMatchStarted)

	bob.Close()

	var left struct {
		Player string   `json:"player"`
		Reason string   `json:"reason"`
		Room   roomView `json:"room"`
	}
	if err := json.Unmarshal(wsAwait(t, alice, eventMemberLeft), &left); err != nil {
		t.Fatalf("decode member_left: %v", err)
	}
	if left.Player != "bob" || left.Reason != "disconnected" {
		t.Fatalf("unexpected member_left: %+v", left)
	}
	if left.Room.Status != "waiting" {
		t.Fatalf("room not reset after disconnect: %q", left.Room.Status)
	}
}
