package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WebSocket is a realtime text channel to the inference server. Each request
// is one JSON frame out and one text frame back.
type WebSocket struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	log     zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocket creates a client for url. The connection is dialed lazily.
func NewWebSocket(url string, timeout time.Duration, log zerolog.Logger) *WebSocket {
	if url == "" {
		url = "ws://localhost:8000/ws"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WebSocket{
		url:     url,
		timeout: timeout,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     log,
	}
}

func (w *WebSocket) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if w.conn != nil {
		return w.conn, nil
	}
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	w.log.Debug().Str("url", w.url).Msg("websocket connected")
	w.conn = conn
	return conn, nil
}

func (w *WebSocket) dropLocked() {
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

// Respond sends req and waits for the next frame. A broken connection is
// dropped so the next call redials.
func (w *WebSocket) Respond(ctx context.Context, req Request) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	conn, err := w.connLocked(ctx)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(w.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	if err := conn.WriteJSON(req); err != nil {
		w.dropLocked()
		return "", fmt.Errorf("write: %w", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		w.dropLocked()
		return "", fmt.Errorf("read: %w", err)
	}
	return decodeReply(data), nil
}

// decodeReply accepts plain text or a JSON object carrying text, reply or content.
func decodeReply(data []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil {
		for _, k := range []string{"text", "reply", "content"} {
			if s, ok := obj[k].(string); ok {
				return s
			}
		}
	}
	return strings.TrimSpace(string(data))
}

// Ping opens a fresh connection and closes it.
func (w *WebSocket) Ping(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dropLocked()
	return nil
}
