// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rpc

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tombee/fdtd/pkg/errors"
)

// ErrClientClosed is returned by calls on a closed or broken connection.
var ErrClientClosed = errors.New("rpc: client closed")

// Client is a WebSocket RPC client. Calls may be issued concurrently;
// responses are matched by correlation id.
type Client struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *Message
	err     error
	done    chan struct{}
}

// DialOption configures Dial.
type DialOption func(*dialOptions)

type dialOptions struct {
	token   string
	logger  *slog.Logger
	timeout time.Duration
}

// WithToken sends token in the X-Auth-Token header.
func WithToken(token string) DialOption {
	return func(o *dialOptions) { o.token = token }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) DialOption {
	return func(o *dialOptions) { o.logger = logger }
}

// WithHandshakeTimeout bounds the WebSocket handshake.
func WithHandshakeTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.timeout = d }
}

// Dial connects to the daemon at url, e.g. "ws://host:8444/ws".
func Dial(ctx context.Context, url string, opts ...DialOption) (*Client, error) {
	o := dialOptions{logger: slog.Default(), timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	header := http.Header{}
	if o.token != "" {
		header.Set("X-Auth-Token", o.token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: o.timeout}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, ErrAuthenticationFailed
			case http.StatusTooManyRequests:
				return nil, ErrLockedOut
			}
		}
		return nil, errors.Wrapf(err, "dialing %s", url)
	}

	c := &Client{
		ws:      ws,
		logger:  o.logger,
		pending: make(map[string]chan *Message),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Call invokes method and decodes the result into result, which may be
// nil. A failure reported by the server is returned as *RemoteError.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	req, err := NewRequest(method, params)
	if err != nil {
		return err
	}

	ch := make(chan *Message, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return c.err
	}
	c.pending[req.CorrelationID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.CorrelationID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err = c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "sending %s", method)
	}

	select {
	case resp := <-ch:
		if resp.Type == MessageTypeError {
			return &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		if result != nil {
			if err := resp.UnmarshalResult(result); err != nil {
				return errors.Wrapf(err, "decoding %s result", method)
			}
		}
		return nil
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	var readErr error
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		msg, err := ParseMessage(data)
		if err != nil {
			c.logger.Debug("dropping malformed rpc frame", slog.Any("error", err))
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.CorrelationID]
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}

	c.mu.Lock()
	if c.err == nil {
		if websocket.IsCloseError(readErr, websocket.CloseGoingAway) {
			c.err = errors.Wrap(ErrClientClosed, "server shutting down")
		} else {
			c.err = errors.Wrap(ErrClientClosed, readErr.Error())
		}
	}
	c.mu.Unlock()
	close(c.done)
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.err == nil {
		c.err = ErrClientClosed
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
