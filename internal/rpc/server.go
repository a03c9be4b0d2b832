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
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tombee/fdtd/internal/log"
	"github.com/tombee/fdtd/pkg/errors"
)

var (
	// ErrServerClosed is returned when the server was already shut down.
	ErrServerClosed = errors.New("rpc: server closed")

	// ErrShutdownTimeout is returned when graceful shutdown exceeds the timeout.
	ErrShutdownTimeout = errors.New("rpc: shutdown timeout exceeded")
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// ServerConfig configures the RPC server.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8444".
	Addr string

	// ShutdownTimeout bounds Shutdown (default 5s).
	ShutdownTimeout time.Duration

	// AuthToken enables X-Auth-Token checking when set.
	AuthToken string

	// RequestsPerSecond and Burst limit requests per connection. Zero
	// RequestsPerSecond disables limiting.
	RequestsPerSecond float64
	Burst             int

	// Version is reported by /health.
	Version string

	Logger *slog.Logger
}

// Server accepts WebSocket connections on /ws and dispatches requests to
// a Registry, one goroutine per request.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	registry *Registry
	mw       *log.RPCMiddleware
	upgrader websocket.Upgrader
	tokens   *TokenValidator

	baseCtx context.Context
	cancel  context.CancelFunc

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
	closed     bool

	connMu sync.Mutex
	conns  map[*connection]struct{}

	inflight sync.WaitGroup
}

// NewServer returns a server dispatching to registry.
func NewServer(config ServerConfig, registry *Registry) *Server {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	logger := log.WithComponent(config.Logger, "rpc")

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   config,
		logger:   logger,
		registry: registry,
		mw:       log.NewRPCMiddleware(logger, errorCode),
		upgrader: websocket.Upgrader{
			// Callers are fdtcp clients and other daemons, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		baseCtx: ctx,
		cancel:  cancel,
		conns:   make(map[*connection]struct{}),
	}
	if config.AuthToken != "" {
		s.tokens = NewTokenValidator(config.AuthToken)
	}
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.httpServer != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.config.Addr)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("rpc server error", log.Error(err))
		}
	}()

	s.logger.Info("rpc server started", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound TCP port, 0 before Start.
func (s *Server) Port() int {
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ready", http.StatusOK
	if s.isClosed() {
		status, code = "stopping", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  status,
		"version": s.config.Version,
		"service": "fdtd",
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.isClosed() {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	if s.tokens != nil {
		token := r.Header.Get("X-Auth-Token")
		if err := s.tokens.Validate(token, r.RemoteAddr); err != nil {
			s.logger.Warn("authentication failed",
				slog.String("remote", r.RemoteAddr),
				slog.Bool("hasToken", token != ""),
				log.Error(err))
			if errors.Is(err, ErrLockedOut) {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			} else {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
			}
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", slog.String("remote", r.RemoteAddr), log.Error(err))
		return
	}

	c := &connection{ws: ws, remote: r.RemoteAddr, done: make(chan struct{})}
	if s.config.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.Burst)
	}

	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()

	s.logger.Debug("websocket connection established", slog.String("remote", c.remote))
	go s.serveConnection(c)
}

// connection is one client socket. Writes from concurrent request
// goroutines are serialized by writeMu.
type connection struct {
	ws      *websocket.Conn
	remote  string
	limiter *rate.Limiter
	done    chan struct{}

	writeMu sync.Mutex
}

func (c *connection) write(msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *connection) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *Server) serveConnection(c *connection) {
	defer func() {
		close(c.done)
		s.connMu.Lock()
		delete(s.conns, c)
		s.connMu.Unlock()
		c.ws.Close()
		s.logger.Debug("websocket connection closed", slog.String("remote", c.remote))
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.keepAlive(c)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", slog.String("remote", c.remote), log.Error(err))
			}
			return
		}

		msg, err := ParseMessage(data)
		if err != nil {
			var id string
			if msg != nil {
				id = msg.CorrelationID
			}
			c.write(NewErrorResponse(id, CodeInvalidMessage, err.Error()))
			continue
		}
		if msg.Type != MessageTypeRequest {
			s.logger.Debug("ignoring non-request message", slog.String("type", string(msg.Type)))
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.write(NewErrorResponse(msg.CorrelationID, CodeRateLimited, ErrRateLimited.Error()))
			continue
		}

		s.inflight.Add(1)
		go s.dispatch(c, msg)
	}
}

func (s *Server) keepAlive(c *connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				s.logger.Debug("ping failed", slog.String("remote", c.remote), log.Error(err))
				return
			}
		}
	}
}

func (s *Server) dispatch(c *connection, req *Message) {
	defer s.inflight.Done()

	var result any
	err := s.mw.Handler(&log.RPCRequest{
		Method:        req.Method,
		CorrelationID: req.CorrelationID,
		RemoteAddr:    c.remote,
	}, func() error {
		var err error
		result, err = s.registry.Handle(s.baseCtx, req)
		return err
	})

	var resp *Message
	if err != nil {
		resp = NewErrorResponse(req.CorrelationID, errorCode(err), err.Error())
	} else if resp, err = NewResponse(req.CorrelationID, result); err != nil {
		resp = NewErrorResponse(req.CorrelationID, errors.Code(err), err.Error())
	}

	if err := c.write(resp); err != nil {
		s.logger.Warn("writing rpc response failed",
			slog.String("method", req.Method),
			slog.String("remote", c.remote),
			log.Error(err))
	}
}

func errorCode(err error) string {
	if errors.Is(err, ErrMethodNotFound) {
		return CodeMethodNotFound
	}
	return errors.Code(err)
}

// Shutdown stops accepting connections, closes open ones and cancels the
// context of in-flight requests. It does not wait for those requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.closed = true
	httpServer := s.httpServer
	s.mu.Unlock()

	s.logger.Info("rpc server shutting down")

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	var err error
	if httpServer != nil {
		if shutdownErr := httpServer.Shutdown(ctx); shutdownErr != nil {
			if errors.Is(shutdownErr, context.DeadlineExceeded) {
				err = ErrShutdownTimeout
			} else {
				err = shutdownErr
			}
		}
	}

	s.connMu.Lock()
	for c := range s.conns {
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.ws.Close()
	}
	s.connMu.Unlock()

	s.cancel()
	s.logger.Info("rpc server shutdown complete")
	return err
}

// Wait blocks until every dispatched request has returned or ctx ends.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
