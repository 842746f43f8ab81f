package stream

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the manager touches, extracted so
// tests can drive the state machine without sockets.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type webSocketDialer struct {
	handshakeTimeout time.Duration
}

func NewWebSocketDialer(handshakeTimeout time.Duration) Dialer {
	return &webSocketDialer{handshakeTimeout: handshakeTimeout}
}

func (d *webSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
