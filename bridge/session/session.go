package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dNet/bridge/common"
	"github.com/ValentinKolb/dNet/bridge/frame"
	"github.com/ValentinKolb/dNet/bridge/serializer"
	"github.com/ValentinKolb/dNet/bridge/transport"
	"github.com/ValentinKolb/dNet/lib/buffer"
	"github.com/ValentinKolb/dNet/lib/queue"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var Logger = logger.GetLogger("session")

var (
	// ErrSessionClosed is returned by Run and Start after Close
	ErrSessionClosed = errors.New("session: closed")
	// ErrAlreadyRunning is returned when Run or Start is called twice
	ErrAlreadyRunning = errors.New("session: already running")
)

// HandlerFunc handles one forwarded request. It answers through reply.Send,
// possibly from another goroutine. A panic is answered with status 500.
type HandlerFunc func(reply *Reply)

// outFrame is one queued outbound frame
type outFrame struct {
	msgType common.MessageType
	payload []byte
}

// connection is one established connection. A reconnect never reuses it.
type connection struct {
	conn net.Conn
	gen  uint64
	out  *queue.Queue[outFrame]
}

// Session is the simulation side of the bridge. It keeps one connection to the
// host alive, sends the handshake on every connect and dispatches forwarded
// requests to the registered handler.
//
// Lifecycle: New, RegisterHandler, then Start or Run. Close is terminal.
//
// Thread-safety: all methods are safe for concurrent use.
type Session struct {
	connector  transport.IConnector
	serializer serializer.IBridgeSerializer
	pool       *buffer.Pool
	config     common.SessionConfig
	options    common.Options
	routes     []common.Route

	handler atomic.Pointer[HandlerFunc]

	state      atomic.Int32
	generation atomic.Uint64
	current    atomic.Pointer[connection]

	running   atomic.Bool
	closeCtx  context.Context
	closeFunc context.CancelFunc
	done      chan struct{}

	// bounds the number of running handlers
	workers  chan struct{}
	handlers sync.WaitGroup

	metrics      *sessionMetrics
	reconnectLog rate.Sometimes
}

// New creates a session. Nothing is dialed before Start or Run.
// The routes are sent to the host on every connect.
func New(
	connector transport.IConnector,
	serializer serializer.IBridgeSerializer,
	pool *buffer.Pool,
	config common.SessionConfig,
	options common.Options,
	routes []common.Route,
) *Session {
	config = config.WithDefaults()
	closeCtx, closeFunc := context.WithCancel(context.Background())

	s := &Session{
		connector:    connector,
		serializer:   serializer,
		pool:         pool,
		config:       config,
		options:      options,
		routes:       append([]common.Route(nil), routes...),
		closeCtx:     closeCtx,
		closeFunc:    closeFunc,
		done:         make(chan struct{}),
		workers:      make(chan struct{}, config.MaxConcurrentHandlers),
		metrics:      newSessionMetrics(),
		reconnectLog: rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
	s.state.Store(int32(StateDisconnected))
	return s
}

// --------------------------------------------------------------------------
// Public API
// --------------------------------------------------------------------------

// RegisterHandler sets the function called for every forwarded request
func (s *Session) RegisterHandler(fn HandlerFunc) {
	s.handler.Store(&fn)
}

// Start runs the session in the background. Errors of the background run are
// logged, Close stops it.
func (s *Session) Start(ctx context.Context) error {
	if s.closeCtx.Err() != nil {
		return ErrSessionClosed
	}
	if s.running.Load() {
		return ErrAlreadyRunning
	}
	started := make(chan error, 1)
	go func() {
		if err := s.run(ctx, started); err != nil {
			Logger.Errorf("session stopped: %v", err)
		}
	}()
	return <-started
}

// Run connects to the host and keeps the connection alive until ctx is
// cancelled or Close is called. Connection failures are retried forever.
func (s *Session) Run(ctx context.Context) error {
	return s.run(ctx, nil)
}

// Send queues a frame on the current connection. It returns false and logs an
// error if the session is not connected, the frame is dropped then.
func (s *Session) Send(msgType common.MessageType, payload []byte) bool {
	c := s.current.Load()
	if c == nil || s.State() != StateConnected {
		s.metrics.framesDropped.Inc(1)
		Logger.Errorf("dropping %s frame (%d bytes): session is %s", msgType, len(payload), s.State())
		return false
	}
	return s.enqueue(c, msgType, payload)
}

// Close stops the session, waits for the reader and writer to exit and closes
// the connection. A closed session can not be restarted.
func (s *Session) Close() error {
	s.closeFunc()
	if s.running.Load() {
		<-s.done
	}
	s.state.Store(int32(StateClosed))
	return nil
}

// State returns the current connection state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Generation returns the number of connections established so far. Replies
// are bound to the generation they were received on.
func (s *Session) Generation() uint64 {
	return s.generation.Load()
}

// Stats returns a snapshot of the session counters
func (s *Session) Stats() Stats {
	return s.metrics.snapshot()
}

// Registry returns the metrics registry of the session
func (s *Session) Registry() gometrics.Registry {
	return s.metrics.registry
}

// Serializer returns the serializer used for frame payloads
func (s *Session) Serializer() serializer.IBridgeSerializer {
	return s.serializer
}

// --------------------------------------------------------------------------
// Connection lifecycle
// --------------------------------------------------------------------------

// run is the connect, serve, reconnect loop. started receives the result of
// the startup checks if it is not nil.
func (s *Session) run(ctx context.Context, started chan<- error) error {
	if s.closeCtx.Err() != nil {
		return notify(started, ErrSessionClosed)
	}
	if !s.running.CompareAndSwap(false, true) {
		return notify(started, ErrAlreadyRunning)
	}
	notify(started, nil)
	defer close(s.done)

	// cancelled by the caller or by Close
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.closeCtx, cancel)
	defer stop()

	Logger.Infof("connecting to %s host at %s using %s", s.connector.GetName(), s.config.Endpoint, s.serializer.Name())

	for {
		c, err := s.connect(ctx)
		if err != nil {
			break
		}
		err = s.serve(ctx, c)
		if ctx.Err() != nil {
			break
		}
		Logger.Warningf("connection %d to %s lost: %v", c.gen, s.config.Endpoint, err)
	}

	s.handlers.Wait()
	s.state.Store(int32(StateClosed))
	Logger.Infof("session to %s closed", s.config.Endpoint)
	return nil
}

// connect dials until a connection is established and the handshake was sent,
// or ctx is cancelled
func (s *Session) connect(ctx context.Context) (*connection, error) {
	for attempt := 1; ; attempt++ {
		s.state.Store(int32(StateConnecting))

		conn, err := s.dial(ctx)
		if err == nil {
			gen := s.generation.Add(1)
			return &connection{conn: conn, gen: gen, out: queue.New[outFrame]()}, nil
		}

		s.state.Store(int32(StateDisconnected))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.reconnectLog.Do(func() {
			Logger.Warningf("connect attempt %d to %s failed: %v, retrying every %s",
				attempt, s.config.Endpoint, err, s.config.ReconnectInterval)
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.config.ReconnectInterval):
		}
	}
}

// dial establishes the connection and sends Initialize followed by AddRoutes.
// The connection is closed again if any step fails.
func (s *Session) dial(ctx context.Context) (net.Conn, error) {
	conn, err := s.connector.Connect(ctx, s.config.Endpoint)
	if err != nil {
		return nil, err
	}

	if err := s.connector.UpgradeConnection(conn, s.config.Socket); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	// the handshake is written synchronously, before the writer goroutine exists
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	opts, err := s.serializer.Serialize(&s.options)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to serialize options: %w", err)
	}
	if err := s.writeFrame(conn, common.MsgTInitialize, opts); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send %s: %w", common.MsgTInitialize, err)
	}

	routes, err := s.serializer.Serialize(s.routes)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to serialize routes: %w", err)
	}
	if err := s.writeFrame(conn, common.MsgTAddRoutes, routes); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send %s: %w", common.MsgTAddRoutes, err)
	}

	return conn, nil
}

// serve runs the reader and writer of one connection until either fails or
// ctx is cancelled. Queued frames are dropped afterwards.
func (s *Session) serve(ctx context.Context, c *connection) error {
	s.current.Store(c)
	s.state.Store(int32(StateConnected))
	s.metrics.connects.Inc(1)
	Logger.Infof("connected to %s (connection %d, %d routes)", s.config.Endpoint, c.gen, len(s.routes))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx, c) })
	g.Go(func() error { return s.writeLoop(gctx, c) })
	g.Go(func() error {
		// unblocks the reader
		<-gctx.Done()
		return c.conn.Close()
	})
	err := g.Wait()

	s.current.CompareAndSwap(c, nil)
	if ctx.Err() == nil {
		s.state.Store(int32(StateDisconnected))
	}

	if dropped := c.out.Discard(); dropped > 0 {
		s.metrics.framesDropped.Inc(int64(dropped))
		Logger.Warningf("dropped %d queued frames of connection %d", dropped, c.gen)
	}
	return err
}

// --------------------------------------------------------------------------
// Reader and writer
// --------------------------------------------------------------------------

// readLoop reads frames and dispatches requests. It returns on the first
// read or decode error.
func (s *Session) readLoop(ctx context.Context, c *connection) error {
	scratch := make([]byte, s.config.ReadBufferSize)

	for {
		msgType, payload, err := frame.ReadFrame(c.conn, scratch, s.config.MaxFrameSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		s.metrics.framesReceived.Inc(1)

		switch msgType {
		case common.MsgTDispatchRequest:
			req := &common.Request{}
			if err := s.serializer.Deserialize(payload, req); err != nil {
				return fmt.Errorf("malformed %s payload: %w", msgType, err)
			}
			if !s.dispatch(ctx, c.gen, req) {
				return ctx.Err()
			}
		default:
			Logger.Warningf("ignoring %s frame (%d bytes)", msgType, len(payload))
		}
	}
}

// writeLoop drains the outbound queue. Each frame is staged in a pooled buffer
// and written with a single call.
func (s *Session) writeLoop(ctx context.Context, c *connection) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-c.out.Recv():
			if !ok {
				return nil
			}
			if err := s.writeFrame(c.conn, f.msgType, f.payload); err != nil {
				s.metrics.framesDropped.Inc(1)
				return fmt.Errorf("write %s frame: %w", f.msgType, err)
			}
		}
	}
}

// writeFrame writes one frame to conn
func (s *Session) writeFrame(conn net.Conn, msgType common.MessageType, payload []byte) error {
	b := s.pool.Rent()
	defer s.pool.Return(b)
	frame.Encode(b, msgType, payload)

	if s.config.WriteTimeoutSec > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(time.Duration(s.config.WriteTimeoutSec) * time.Second)); err != nil {
			return err
		}
	}
	if _, err := conn.Write(b.Bytes()); err != nil {
		return err
	}

	s.metrics.framesSent.Inc(1)
	s.metrics.frameSize.Update(int64(len(payload)))
	return nil
}

// enqueue queues a frame on c
func (s *Session) enqueue(c *connection, msgType common.MessageType, payload []byte) bool {
	if !c.out.Push(&outFrame{msgType: msgType, payload: payload}) {
		s.metrics.framesDropped.Inc(1)
		Logger.Errorf("dropping %s frame: connection %d is shutting down", msgType, c.gen)
		return false
	}
	return true
}

// sendOn queues a frame only if the connection of generation gen is still current
func (s *Session) sendOn(gen uint64, msgType common.MessageType, payload []byte) bool {
	c := s.current.Load()
	if c == nil || c.gen != gen {
		s.metrics.framesDropped.Inc(1)
		Logger.Warningf("dropping %s frame for connection %d: connection is gone", msgType, gen)
		return false
	}
	return s.enqueue(c, msgType, payload)
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// dispatch runs the handler for req on a worker goroutine. It blocks while
// all workers are busy and returns false if ctx was cancelled meanwhile.
func (s *Session) dispatch(ctx context.Context, gen uint64, req *common.Request) bool {
	select {
	case s.workers <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	s.handlers.Add(1)
	go func() {
		defer func() {
			<-s.workers
			s.handlers.Done()
		}()

		reply := newReply(s, gen, req)
		defer func() {
			if r := recover(); r != nil {
				Logger.Errorf("handler for %s %s panicked: %v", req.Method, req.RawURL, r)
				reply.Fail(500, "internal server error")
			}
		}()

		handler := s.handler.Load()
		if handler == nil {
			reply.Fail(503, "no handler registered")
			return
		}
		(*handler)(reply)
	}()
	return true
}

// notify sends err to ch if ch is set and returns err
func notify(ch chan<- error, err error) error {
	if ch != nil {
		ch <- err
	}
	return err
}
