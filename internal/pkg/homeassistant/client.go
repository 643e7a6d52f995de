// Package homeassistant reads entity states over the Home Assistant websocket API.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/agile-charge-planner/internal/pkg/config"
	"github.com/anicoll/agile-charge-planner/internal/pkg/model"
	"github.com/anicoll/agile-charge-planner/pkg/sockets"
)

var (
	ErrAuthInvalid   = errors.New("home assistant rejected the access token")
	ErrTokenExpired  = errors.New("home assistant access token has expired")
	ErrRequestFailed = errors.New("home assistant request failed")
	ErrTimeout       = errors.New("timed out waiting for home assistant")
)

const (
	defaultTimeout = 10 * time.Second
	pingInterval   = 30 * time.Second
)

type Client struct {
	cfg    *config.HomeAssistantConfig
	logger *zap.Logger

	mu     sync.Mutex // one request in flight, guards conn and nextID
	conn   sockets.Connection
	nextID int

	pendingMu sync.Mutex
	auth      chan error
	pending   map[int]chan response
}

func New(cfg *config.HomeAssistantConfig) *Client {
	return &Client{
		cfg:     cfg,
		logger:  zap.L(), // returns the global logger.
		pending: make(map[int]chan response),
	}
}

func (c *Client) timeout() time.Duration {
	if c.cfg.Timeout > 0 {
		return c.cfg.Timeout
	}
	return defaultTimeout
}

// Connect dials and authenticates unless a live connection exists.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect(ctx)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnect()
}

// States returns a snapshot of every entity keyed by entity id. A broken
// connection is redialled once before giving up.
func (c *Client) States(ctx context.Context) (model.EntityStates, error) {
	var (
		raw json.RawMessage
		err error
	)
	for attempt := range 2 {
		raw, err = c.call(ctx, typeGetStates)
		if err == nil || !retryable(err) || ctx.Err() != nil {
			break
		}
		c.logger.Warn("home assistant request failed, reconnecting", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	if err != nil {
		return nil, err
	}

	var list []model.EntityState
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&list); err != nil {
		return nil, fmt.Errorf("decode states: %w", err)
	}
	states := make(model.EntityStates, len(list))
	for _, s := range list {
		states[s.EntityID] = s
	}
	c.logger.Debug("fetched entity states", zap.Int("count", len(states)))
	return states, nil
}

func retryable(err error) bool {
	return !errors.Is(err, ErrAuthInvalid) && !errors.Is(err, ErrTokenExpired) && !errors.Is(err, ErrRequestFailed)
}

func (c *Client) call(ctx context.Context, msgType string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.nextID++
	id := c.nextID
	ch := make(chan response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	body, err := json.Marshal(message{ID: id, Type: msgType})
	if err != nil {
		return nil, err
	}
	if err := c.conn.Send(sockets.Msg{Body: body}); err != nil {
		_ = c.disconnect()
		return nil, fmt.Errorf("send %s: %w", msgType, err)
	}

	timer := time.NewTimer(c.timeout())
	defer timer.Stop()
	var res response
	select {
	case res = <-ch:
	case <-timer.C:
		_ = c.disconnect()
		return nil, fmt.Errorf("%w: no reply to %s", ErrTimeout, msgType)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		_ = c.disconnect()
		return nil, res.err
	}
	if res.msg.Success == nil || !*res.msg.Success {
		if res.msg.Error != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrRequestFailed, res.msg.Error.Code, res.msg.Error.Message)
		}
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, msgType)
	}
	return res.msg.Result, nil
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}
	if err := CheckToken(c.cfg.Token, time.Now()); err != nil {
		return err
	}

	auth := make(chan error, 1)
	c.pendingMu.Lock()
	c.auth = auth
	c.pendingMu.Unlock()

	opts := []func(*sockets.Conn){
		sockets.OnMessage(c.onMessage),
		sockets.OnError(c.onError),
		sockets.WithPingInterval(pingInterval),
		sockets.WithHandshakeTimeout(c.timeout()),
	}
	if c.cfg.InsecureSkipVerify {
		opts = append(opts, sockets.InsecureSkipVerify())
	}
	conn := sockets.New(opts...)

	c.logger.Debug("connecting to", zap.String("url", c.cfg.URL))
	if err := conn.Dial(ctx, c.cfg.URL); err != nil {
		c.logger.Error("failed to connect to", zap.String("url", c.cfg.URL), zap.Error(err))
		return fmt.Errorf("dial home assistant: %w", err)
	}

	timer := time.NewTimer(c.timeout())
	defer timer.Stop()
	select {
	case err := <-auth:
		if err != nil {
			_ = conn.Close()
			return err
		}
	case <-timer.C:
		_ = conn.Close()
		return fmt.Errorf("%w: authentication", ErrTimeout)
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}

	c.conn = conn
	c.logger.Info("connected to home assistant", zap.String("url", c.cfg.URL))
	return nil
}

func (c *Client) disconnect() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) onMessage(data []byte, conn sockets.Connection) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("unreadable home assistant message", zap.ByteString("data", data), zap.Error(err))
		return
	}

	switch msg.Type {
	case typeAuthRequired:
		c.logger.Debug("authenticating", zap.String("ha_version", msg.HAVersion))
		body, err := json.Marshal(message{Type: typeAuth, AccessToken: c.cfg.Token})
		if err == nil {
			err = conn.Send(sockets.Msg{Body: body})
		}
		if err != nil {
			c.finishAuth(err)
		}
	case typeAuthOK:
		c.finishAuth(nil)
	case typeAuthInvalid:
		c.finishAuth(fmt.Errorf("%w: %s", ErrAuthInvalid, msg.Message))
	case typeResult, typePong:
		c.pendingMu.Lock()
		ch, ok := c.pending[msg.ID]
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Debug("reply for unknown request", zap.Int("id", msg.ID))
			return
		}
		select {
		case ch <- response{msg: msg}:
		default:
		}
	default:
		c.logger.Debug("ignoring message", zap.String("type", msg.Type))
	}
}

func (c *Client) onError(err error) {
	c.logger.Warn("home assistant connection lost", zap.Error(err))
	c.finishAuth(err)

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		select {
		case ch <- response{err: fmt.Errorf("connection lost: %w", err)}:
		default:
		}
		delete(c.pending, id)
	}
}

func (c *Client) finishAuth(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.auth == nil {
		return
	}
	c.auth <- err
	c.auth = nil
}
