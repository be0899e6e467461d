package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dNet/bridge/common"
	"github.com/ValentinKolb/dNet/bridge/frame"
	"github.com/ValentinKolb/dNet/bridge/serializer"
	"github.com/ValentinKolb/dNet/bridge/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("host")

// simConn is one connection from the simulation
type simConn struct {
	conn        net.Conn
	id          uint64
	writeMu     sync.Mutex
	initialized atomic.Bool
}

// write sends one frame. Frames of concurrent requests must not interleave.
func (c *simConn) write(msgType common.MessageType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return frame.WriteFrame(c.conn, msgType, payload)
}

// pendingRequest waits for the response of one forwarded request. A nil
// response means the connection was lost.
type pendingRequest struct {
	conn *simConn
	ch   chan *common.Response
}

// Host is the out-of-process side of the bridge. It accepts the simulation
// connection, serves the routes the simulation announced and forwards every
// matching HTTP request as a DispatchRequest frame.
//
// Only one simulation is connected at a time, a new connection replaces the
// old one.
//
// Thread-safety: all methods are safe for concurrent use.
type Host struct {
	config     common.HostConfig
	connector  transport.IConnector
	serializer serializer.IBridgeSerializer

	options atomic.Pointer[common.Options]
	routes  atomic.Pointer[[]common.Route]
	router  atomic.Pointer[chi.Mux]

	current atomic.Pointer[simConn]
	nextID  atomic.Uint64
	pending *xsync.MapOf[string, *pendingRequest]

	// public HTTP server started from Options.Address
	mu         sync.Mutex
	public     *http.Server
	publicAddr string

	metrics *hostMetrics
}

// New creates a host. Nothing is opened before Serve.
func New(config common.HostConfig, connector transport.IConnector, serializer serializer.IBridgeSerializer) *Host {
	h := &Host{
		config:     config.WithDefaults(),
		connector:  connector,
		serializer: serializer,
		pending:    xsync.NewMapOf[string, *pendingRequest](),
	}
	h.metrics = newHostMetrics(h)
	return h
}

// --------------------------------------------------------------------------
// Public API
// --------------------------------------------------------------------------

// Serve listens on the configured endpoint and accepts simulation connections
// until ctx is cancelled
func (h *Host) Serve(ctx context.Context) error {
	ln, err := h.connector.Listen(h.config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.config.Endpoint, err)
	}
	return h.ServeListener(ctx, ln)
}

// ServeListener accepts simulation connections on ln until ctx is cancelled.
// ln is closed on return.
func (h *Host) ServeListener(ctx context.Context, ln net.Listener) error {
	Logger.Infof("waiting for the simulation on %s (%s, %s)", ln.Addr(), h.connector.GetName(), h.serializer.Name())

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	// Close ends the connection handlers before they are awaited
	var wg sync.WaitGroup
	defer wg.Wait()
	defer h.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		if err := h.connector.UpgradeConnection(conn, h.config.Socket); err != nil {
			Logger.Errorf("failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			h.handleConn(ctx, conn)
		}()
	}
}

// Handler returns the HTTP handler serving the forwarded routes and /metrics
func (h *Host) Handler() http.Handler {
	return h
}

// ServeHTTP implements http.Handler
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/metrics" && r.Method == http.MethodGet {
		h.metrics.writePrometheus(w)
		return
	}
	router := h.router.Load()
	if router == nil {
		h.metrics.unavailable.Inc()
		renderError(w, r, http.StatusServiceUnavailable, "no routes installed, simulation not connected")
		return
	}
	router.ServeHTTP(w, r)
}

// Routes returns the route table of the simulation
func (h *Host) Routes() []common.Route {
	routes := h.routes.Load()
	if routes == nil {
		return nil
	}
	return append([]common.Route(nil), (*routes)...)
}

// Options returns the options of the simulation and false if none were received yet
func (h *Host) Options() (common.Options, bool) {
	opts := h.options.Load()
	if opts == nil {
		return common.Options{}, false
	}
	return *opts, true
}

// Connected reports whether a simulation is connected and initialized
func (h *Host) Connected() bool {
	c := h.current.Load()
	return c != nil && c.initialized.Load()
}

// PublicAddr returns the address of the public HTTP server, empty if none runs
func (h *Host) PublicAddr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.publicAddr
}

// Metrics returns the metrics set of the host
func (h *Host) Metrics() *metrics.Set {
	return h.metrics.set
}

// Close disconnects the simulation and stops the public HTTP server
func (h *Host) Close() error {
	if c := h.current.Swap(nil); c != nil {
		c.conn.Close()
		h.failPending(c)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopPublic()
}

// --------------------------------------------------------------------------
// Simulation connection
// --------------------------------------------------------------------------

// handleConn reads frames from one simulation connection until it fails
func (h *Host) handleConn(ctx context.Context, conn net.Conn) {
	c := &simConn{conn: conn, id: h.nextID.Add(1)}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if old := h.current.Swap(c); old != nil {
		Logger.Warningf("simulation connection %d replaced by connection %d from %s", old.id, c.id, conn.RemoteAddr())
		old.conn.Close()
		h.failPending(old)
	}
	h.metrics.connects.Inc()
	Logger.Infof("simulation connected from %s (connection %d)", conn.RemoteAddr(), c.id)

	err := h.readLoop(c)

	conn.Close()
	h.current.CompareAndSwap(c, nil)
	h.failPending(c)

	if ctx.Err() == nil {
		Logger.Warningf("simulation connection %d closed: %v", c.id, err)
	}
}

func (h *Host) readLoop(c *simConn) error {
	scratch := make([]byte, h.config.ReadBufferSize)

	for {
		msgType, payload, err := frame.ReadFrame(c.conn, scratch, h.config.MaxFrameSize)
		if err != nil {
			return err
		}
		if len(payload) == 0 {
			continue
		}

		switch msgType {
		case common.MsgTInitialize:
			var opts common.Options
			if err := h.serializer.Deserialize(payload, &opts); err != nil {
				return fmt.Errorf("malformed %s payload: %w", msgType, err)
			}
			if err := h.applyOptions(opts); err != nil {
				Logger.Errorf("failed to apply options: %v", err)
			}
			c.initialized.Store(true)

		case common.MsgTAddRoutes:
			var routes []common.Route
			if err := h.serializer.Deserialize(payload, &routes); err != nil {
				return fmt.Errorf("malformed %s payload: %w", msgType, err)
			}
			h.installRoutes(routes)

		case common.MsgTDispatchResponse:
			resp := &common.Response{}
			if err := h.serializer.Deserialize(payload, resp); err != nil {
				return fmt.Errorf("malformed %s payload: %w", msgType, err)
			}
			if p, ok := h.pending.LoadAndDelete(resp.RequestID); ok {
				p.ch <- resp
			} else {
				h.metrics.lateResponses.Inc()
				Logger.Warningf("response for unknown request %s (timed out?)", resp.RequestID)
			}

		default:
			Logger.Warningf("ignoring %s frame (%d bytes)", msgType, len(payload))
		}
	}
}

// failPending completes every request forwarded over c with a nil response
func (h *Host) failPending(c *simConn) {
	h.pending.Range(func(id string, p *pendingRequest) bool {
		if p.conn != c {
			return true
		}
		if p, ok := h.pending.LoadAndDelete(id); ok {
			p.ch <- nil
		}
		return true
	})
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// applyOptions stores the options, rebuilds the router and (re)starts the
// public server if the address changed
func (h *Host) applyOptions(opts common.Options) error {
	h.options.Store(&opts)
	if routes := h.routes.Load(); routes != nil {
		h.installRoutes(*routes)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.public != nil && h.public.Addr == opts.Address {
		return nil
	}
	if err := h.stopPublic(); err != nil {
		Logger.Warningf("failed to stop public server: %v", err)
	}
	if opts.Address == "" {
		return nil
	}

	ln, err := net.Listen("tcp", opts.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", opts.Address, err)
	}
	srv := &http.Server{
		Addr:         opts.Address,
		Handler:      h,
		ReadTimeout:  time.Duration(opts.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(opts.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(opts.KeepAliveSec) * time.Second,
	}
	h.public = srv
	h.publicAddr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("public server on %s stopped: %v", ln.Addr(), err)
		}
	}()
	Logger.Infof("serving HTTP on %s", h.publicAddr)
	return nil
}

// stopPublic shuts the public server down, h.mu must be held
func (h *Host) stopPublic() error {
	if h.public == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.public.Shutdown(ctx)
	h.public = nil
	h.publicAddr = ""
	return err
}
