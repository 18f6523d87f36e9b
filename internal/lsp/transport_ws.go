package lsp

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport carries one JSON-RPC envelope per WebSocket text
// message. Some servers (and all browser-hosted ones) expose LSP this way
// instead of stdio; the framing disappears because WebSocket messages are
// already delimited.
type WebSocketTransport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  atomic.Bool
}

// DialWebSocket connects to a WebSocket LSP endpoint.
func DialWebSocket(url string) (*WebSocketTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return NewWebSocketTransport(conn), nil
}

// NewWebSocketTransport wraps an established WebSocket connection.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

// Send writes one envelope as a text message.
func (t *WebSocketTransport) Send(data []byte) error {
	if t.closed.Load() {
		return ErrShutdown
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Receive reads the next envelope, skipping non-text frames.
func (t *WebSocketTransport) Receive() ([]byte, error) {
	for {
		if t.closed.Load() {
			return nil, ErrShutdown
		}

		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.closed.Load() || websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrShutdown
			}
			return nil, fmt.Errorf("reading message: %w", err)
		}

		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close performs the closing handshake and tears down the connection.
func (t *WebSocketTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()

	return t.conn.Close()
}
