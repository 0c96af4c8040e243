package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn a Client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens channel connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, fmt.Errorf("dial %s: handshake status %d: %w", redact(url), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", redact(url), err)
	}
	return conn, nil
}

// closeCode extracts the WebSocket close code from a read error. Anything
// that is not a close frame (reset, EOF, timeout) counts as 1006.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}
