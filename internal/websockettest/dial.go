// Package websockettest provides dial helpers for exercising the arena
// transport end to end.
package websockettest

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// Dial connects to an httptest server URL, rewriting the scheme for the
// websocket dialer, and closes the connection when the test finishes.
func Dial(t *testing.T, urlStr string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(urlStr, "http", "ws", 1)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// DialIgnoringPongs establishes a connection with the automatic ping and pong
// responses disabled so tests can simulate an unresponsive peer.
func DialIgnoringPongs(urlStr string, header http.Header) (*websocket.Conn, *http.Response, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	conn.SetPingHandler(func(string) error { return nil })
	conn.SetPongHandler(func(string) error { return nil })
	return conn, resp, nil
}
