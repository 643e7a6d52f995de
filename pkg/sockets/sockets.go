package sockets

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("closed connection")

type Connection interface {
	Dial(ctx context.Context, url string) error
	Send(msg Msg) error
	IsConnected() bool
	io.Closer
}

type Conn struct {
	ws               *websocket.Conn
	mu               sync.Mutex // guards ws writes and closed
	sslSkipVerify    bool
	closed           bool
	done             chan struct{}
	pingInterval     time.Duration
	handshakeTimeout time.Duration
	maxMessageSize   int64
	onError          func(err error)
	onMessage        func([]byte, Connection)
	onConnected      func(Connection)
}

func New(opts ...func(*Conn)) Connection {
	c := &Conn{
		closed:           true,
		handshakeTimeout: 15 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Msg is the message structure.
type Msg struct {
	Body []byte
}

// Closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.ws.Close()
}

func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *Conn) Send(msg Msg) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	ws := c.ws
	err := ws.WriteMessage(websocket.TextMessage, msg.Body)
	c.mu.Unlock()
	if err != nil {
		c.fail(ws, err)
		return err
	}
	return nil
}

func (c *Conn) Dial(ctx context.Context, url string) error {
	dialer := &websocket.Dialer{
		HandshakeTimeout: c.handshakeTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.sslSkipVerify,
		},
	}
	conn, res, err := dialer.DialContext(ctx, url, nil)
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
	if err != nil {
		return err
	}
	if c.maxMessageSize > 0 {
		conn.SetReadLimit(c.maxMessageSize)
	}

	c.mu.Lock()
	c.ws = conn
	c.closed = false
	c.done = make(chan struct{})
	c.mu.Unlock()

	if c.onConnected != nil {
		c.onConnected(c)
	}
	go c.readLoop(conn)
	c.setupPing()
	return nil
}

func (c *Conn) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.fail(conn, err)
			return
		}
		if c.onMessage != nil {
			c.onMessage(msg, c)
		}
	}
}

// fail closes ws after an I/O error and reports it, unless ws was already
// closed or replaced by a later Dial.
func (c *Conn) fail(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	_ = ws.Close()
	c.mu.Unlock()

	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Conn) setupPing() {
	if c.pingInterval <= 0 {
		return
	}
	c.mu.Lock()
	done, ws := c.done, c.ws
	c.mu.Unlock()

	ticker := time.NewTicker(c.pingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			c.mu.Lock()
			if c.closed || c.ws != ws {
				c.mu.Unlock()
				return
			}
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pingInterval))
			c.mu.Unlock()
			if err != nil {
				c.fail(ws, err)
				return
			}
		}
	}()
}
