package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 25 * time.Second
	pongWait                = 60 * time.Second
	closeWriteWait          = time.Second
)

// Transport is a message-oriented socket. *websocket.Conn satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a Transport to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Transport, error)
}

// WebsocketDialer dials the detection backend with gorilla/websocket and keeps
// the connection alive with pings.
type WebsocketDialer struct {
	Dialer       *websocket.Dialer
	Header       http.Header
	PingInterval time.Duration // <0 disables keepalive
}

// NewWebsocketDialer returns a dialer with the given handshake timeout.
func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	return &WebsocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = NewWebsocketDialer(0).Dialer
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	interval := d.PingInterval
	if interval == 0 {
		interval = defaultPingInterval
	}
	return newKeepaliveConn(conn, interval), nil
}

// keepaliveConn refreshes the read deadline on every pong and message and
// sends pings in the background, mirroring the server-side handlers.
type keepaliveConn struct {
	conn      *websocket.Conn
	interval  time.Duration
	stop      chan struct{}
	closeOnce sync.Once
}

func newKeepaliveConn(conn *websocket.Conn, interval time.Duration) *keepaliveConn {
	k := &keepaliveConn{conn: conn, interval: interval, stop: make(chan struct{})}
	if interval > 0 {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(appData string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		go k.pingLoop()
	}
	return k
}

func (k *keepaliveConn) pingLoop() {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			// WriteControl is safe to call concurrently with WriteMessage
			if err := k.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeWriteWait)); err != nil {
				return
			}
		}
	}
}

func (k *keepaliveConn) WriteMessage(messageType int, data []byte) error {
	return k.conn.WriteMessage(messageType, data)
}

func (k *keepaliveConn) ReadMessage() (int, []byte, error) {
	messageType, data, err := k.conn.ReadMessage()
	if err == nil && k.interval > 0 {
		k.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	return messageType, data, err
}

// Close sends a normal-closure frame before tearing the socket down.
func (k *keepaliveConn) Close() error {
	var err error
	k.closeOnce.Do(func() {
		close(k.stop)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		k.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
		err = k.conn.Close()
	})
	return err
}
