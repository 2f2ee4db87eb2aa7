// ABOUTME: Gateway assembly and WebSocket server with the observer set
// ABOUTME: Owns the run coordinator's components and the HTTP surface

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/beacon-gateway/internal/catalog"
	"github.com/2389/beacon-gateway/internal/channel"
	"github.com/2389/beacon-gateway/internal/config"
	"github.com/2389/beacon-gateway/internal/dedupe"
	"github.com/2389/beacon-gateway/internal/executor"
	"github.com/2389/beacon-gateway/internal/history"
	"github.com/2389/beacon-gateway/internal/policy"
	"github.com/2389/beacon-gateway/internal/relay"
	"github.com/2389/beacon-gateway/internal/runs"
	"github.com/2389/beacon-gateway/internal/store"
)

// Identity is the declared identity of a connected observer, taken from
// connect query parameters. The handshake proper is out of scope.
type Identity struct {
	Name     string
	Version  string
	Platform string
	Mode     string
}

// conn is one connected observer. Writes serialize on the connection mutex.
type conn struct {
	ws         *websocket.Conn
	mu         sync.Mutex
	identity   Identity
	sessionKey string
	cancel     context.CancelFunc
}

// writeRes sends a response frame.
func (c *conn) writeRes(ctx context.Context, frame ResponseFrame) error {
	frame.Type = frameRes
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.ws, frame)
}

// writeEvent sends a push event frame.
func (c *conn) writeEvent(ctx context.Context, event string, payload any) error {
	frame := EventFrame{Type: frameEvent, Event: event, Payload: payload}
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.ws, frame)
}

// Gateway composes the run coordinator and serves the protocol.
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	sessions    *store.SessionStore
	policy      *policy.Engine
	catalog     *catalog.Catalog
	dedupe      *dedupe.Cache
	registry    *runs.Registry
	contexts    *runs.Contexts
	broadcaster *relay.Broadcaster
	relay       *relay.Relay
	history     *history.Reader
	delivery    *channel.Router
	executor    executor.Executor
	validator   *validator

	// baseCtx outlives individual connections so in-flight runs survive a
	// disconnecting caller. Set by Run.
	baseCtx context.Context

	mu    sync.RWMutex
	conns map[*conn]struct{}

	// flights tracks idempotency keys with a run currently in flight, so a
	// concurrent retry joins the original instead of executing again.
	flightMu sync.Mutex
	flights  map[string]chan struct{}
}

// New assembles a gateway from configuration and its external
// collaborators: the executor engine and the delivery router.
func New(cfg *config.Config, exec executor.Executor, delivery *channel.Router, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("compiling method schemas: %w", err)
	}

	cat, err := catalog.Load(cfg.Catalog.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("loading model catalog: %w", err)
	}

	contexts := runs.NewContexts()
	broadcaster := relay.NewBroadcaster(logger)

	g := &Gateway{
		cfg:         cfg,
		logger:      logger.With("component", "gateway"),
		sessions:    store.NewSessionStore(cfg.Store.SessionsPath, logger),
		policy:      policy.FromConfig(cfg.Policy),
		catalog:     cat,
		dedupe:      dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize),
		registry:    runs.NewRegistry(logger),
		contexts:    contexts,
		broadcaster: broadcaster,
		relay:       relay.New(contexts, broadcaster, logger),
		history:     history.NewReader(cfg.Store.TranscriptDir, logger),
		delivery:    delivery,
		executor:    exec,
		validator:   v,
		baseCtx:     context.Background(),
		conns:       make(map[*conn]struct{}),
		flights:     make(map[string]chan struct{}),
	}
	return g, nil
}

// EventSink returns the sink the executor should emit run events to.
func (g *Gateway) EventSink() executor.EventSink {
	return g.relay
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	g.baseCtx = ctx

	if g.cfg.Catalog.Watch && g.cfg.Catalog.Path != "" {
		if err := g.catalog.Watch(ctx); err != nil {
			return fmt.Errorf("starting catalog watcher: %w", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	server := &http.Server{
		Addr:    g.cfg.Server.HTTPAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("listening", "addr", g.cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		g.logger.Warn("http shutdown", "error", err)
	}

	g.broadcaster.Close()
	g.dedupe.Close()
	return nil
}

// handleWS upgrades the connection, registers the observer, and runs the
// frame read loop until the peer goes away.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // transport security handled outside the gateway
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}

	q := r.URL.Query()
	connCtx, cancel := context.WithCancel(g.baseCtx)
	c := &conn{
		ws: ws,
		identity: Identity{
			Name:     q.Get("name"),
			Version:  q.Get("version"),
			Platform: q.Get("platform"),
			Mode:     q.Get("mode"),
		},
		sessionKey: q.Get("sessionKey"),
		cancel:     cancel,
	}

	g.addConn(c)
	defer g.removeConn(c)

	g.logger.Info("observer connected",
		"name", c.identity.Name,
		"version", c.identity.Version,
		"platform", c.identity.Platform,
		"mode", c.identity.Mode,
		"session_key", c.sessionKey)

	// Forward broadcast events to this observer. Scope is the declared
	// sessionKey, or everything when none was declared.
	scope := relay.GlobalKey
	if c.sessionKey != "" {
		scope = c.sessionKey
	}
	events, _ := g.broadcaster.Subscribe(connCtx, scope)
	go func() {
		for msg := range events {
			if err := c.writeEvent(connCtx, msg.Event, msg.Payload); err != nil {
				return
			}
		}
	}()

	g.readLoop(connCtx, c)
}

// readLoop consumes frames until the connection closes. Malformed frames
// are answered, never fatal.
func (g *Gateway) readLoop(ctx context.Context, c *conn) {
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, c.ws, &raw); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				g.logger.Debug("observer disconnected", "name", c.identity.Name)
			} else {
				g.logger.Debug("read failed", "name", c.identity.Name, "error", err)
			}
			return
		}

		var frame RequestFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != frameReq {
			// Answer what we can; an unparseable frame has no id to echo.
			_ = c.writeRes(ctx, ResponseFrame{
				ID:    frame.ID,
				OK:    false,
				Error: invalidRequest("malformed frame"),
			})
			continue
		}

		// Each request runs independently so a slow run never blocks the
		// transport loop.
		go g.dispatch(ctx, c, frame)
	}
}

func (g *Gateway) addConn(c *conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c] = struct{}{}
}

// removeConn prunes a closed connection from the observer set. In-flight
// runs are untouched: they hang off baseCtx, not the connection.
func (g *Gateway) removeConn(c *conn) {
	g.mu.Lock()
	delete(g.conns, c)
	g.mu.Unlock()
	c.cancel()
	c.ws.Close(websocket.StatusNormalClosure, "")
}

func (g *Gateway) connCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

func (g *Gateway) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": g.connCount(),
		"active_runs": g.registry.Count(),
	})
}
