// Package server hosts the WebSocket endpoint and the protocol router: it
// decodes inbound client frames, routes them into sessions, and fans
// session events out to every attached client.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cowork-ai/cowork/internal/auth"
	"github.com/cowork-ai/cowork/internal/config"
	"github.com/cowork-ai/cowork/internal/event"
	"github.com/cowork-ai/cowork/internal/logging"
	"github.com/cowork-ai/cowork/internal/provider"
	"github.com/cowork-ai/cowork/internal/registry"
	"github.com/cowork-ai/cowork/internal/tool"
	"github.com/cowork-ai/cowork/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 45 * time.Second
	maxFrameSize   = 4 << 20
	outboundBuffer = 256
)

// Server is the agent server: HTTP host, WebSocket upgrade, and router.
type Server struct {
	cfg       *config.Config
	sessions  *registry.Registry
	providers *provider.Registry
	tools     *tool.Registry
	authStore *auth.Store
	bus       *event.Bus

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*client

	httpServer *http.Server
}

// New creates a server.
func New(cfg *config.Config, sessions *registry.Registry, providers *provider.Registry,
	tools *tool.Registry, authStore *auth.Store, bus *event.Bus) *Server {
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		providers: providers,
		tools:     tools,
		authStore: authStore,
		bus:       bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The server binds to loopback by default; non-browser clients
			// send no Origin header at all.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// Routes builds the HTTP routes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.Routes()}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops the HTTP server and closes every session.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()

	s.sessions.CloseAll()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		id:       uuid.NewString(),
		server:   s,
		conn:     conn,
		outbound: make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
		attached: make(map[string]func()),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	logging.Debug().Str("client", c.id).Msg("client connected")
	go c.writePump()
	c.readPump()

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
}

// client is one connected front-end.
type client struct {
	id     string
	server *Server
	conn   *websocket.Conn

	outbound chan []byte
	done     chan struct{}
	closing  sync.Once

	mu       sync.Mutex
	attached map[string]func() // session id -> unsubscribe
}

// attach subscribes the client to a session's events.
func (c *client) attach(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.attached[sessionID]; ok {
		return
	}
	c.attached[sessionID] = c.server.bus.Subscribe(sessionID, func(ev protocol.ServerEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		select {
		case c.outbound <- data:
		case <-c.done:
		default:
			// A client that cannot drain its queue is dropped rather than
			// allowed to stall every other subscriber.
			logging.Warn().Str("client", c.id).Msg("outbound queue full, closing client")
			c.close()
		}
	})
}

func (c *client) close() {
	c.closing.Do(func() {
		c.mu.Lock()
		for _, unsub := range c.attached {
			unsub()
		}
		c.attached = make(map[string]func())
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
	})
}

// send writes one event directly to this client, bypassing session fan-out.
// Used for protocol-level errors that have no session to sequence through.
func (c *client) send(ev protocol.ServerEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case c.outbound <- data:
	case <-c.done:
	}
}

func (c *client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.server.route(c, data)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.outbound:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
