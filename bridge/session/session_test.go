package session

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dNet/bridge/common"
	"github.com/ValentinKolb/dNet/bridge/frame"
	"github.com/ValentinKolb/dNet/bridge/serializer"
	"github.com/ValentinKolb/dNet/lib/buffer"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

// pipeConnector fails a number of times and then hands out in-memory pipes.
// The host end of every pipe is delivered on accepted.
type pipeConnector struct {
	failures atomic.Int32
	attempts atomic.Int32
	accepted chan net.Conn
}

func newPipeConnector(failures int) *pipeConnector {
	c := &pipeConnector{accepted: make(chan net.Conn, 4)}
	c.failures.Store(int32(failures))
	return c
}

func (c *pipeConnector) GetName() string { return "pipe" }

func (c *pipeConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	c.attempts.Add(1)
	if c.failures.Add(-1) >= 0 {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	select {
	case c.accepted <- server:
		return client, nil
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, ctx.Err()
	}
}

func (c *pipeConnector) Listen(endpoint string) (net.Listener, error) {
	return nil, errors.New("not supported")
}

func (c *pipeConnector) UpgradeConnection(conn net.Conn, config common.SocketConfig) error {
	return nil
}

// fakeHost is the host end of one pipe
type fakeHost struct {
	t    *testing.T
	conn net.Conn
	ser  serializer.IBridgeSerializer
}

func acceptHost(t *testing.T, c *pipeConnector) *fakeHost {
	t.Helper()
	select {
	case conn := <-c.accepted:
		t.Cleanup(func() { conn.Close() })
		return &fakeHost{t: t, conn: conn, ser: serializer.NewCBORSerializer()}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for the session to connect")
		return nil
	}
}

// expect reads the next frame and fails the test if it has another type
func (h *fakeHost) expect(want common.MessageType) []byte {
	h.t.Helper()
	h.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, payload, err := frame.ReadFrame(h.conn, nil, 0)
	if err != nil {
		h.t.Fatalf("reading %s frame: %v", want, err)
	}
	if got != want {
		h.t.Fatalf("received %s frame, want %s", got, want)
	}
	return payload
}

// handshake consumes the Initialize and AddRoutes frames
func (h *fakeHost) handshake() (common.Options, []common.Route) {
	h.t.Helper()
	var opts common.Options
	if err := h.ser.Deserialize(h.expect(common.MsgTInitialize), &opts); err != nil {
		h.t.Fatalf("decoding options: %v", err)
	}
	var routes []common.Route
	if err := h.ser.Deserialize(h.expect(common.MsgTAddRoutes), &routes); err != nil {
		h.t.Fatalf("decoding routes: %v", err)
	}
	return opts, routes
}

func (h *fakeHost) send(msgType common.MessageType, payload []byte) {
	h.t.Helper()
	h.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := frame.WriteFrame(h.conn, msgType, payload); err != nil {
		h.t.Fatalf("writing %s frame: %v", msgType, err)
	}
}

func (h *fakeHost) request(req common.Request) {
	h.t.Helper()
	payload, err := h.ser.Serialize(&req)
	if err != nil {
		h.t.Fatal(err)
	}
	h.send(common.MsgTDispatchRequest, payload)
}

func (h *fakeHost) response() common.Response {
	h.t.Helper()
	var resp common.Response
	if err := h.ser.Deserialize(h.expect(common.MsgTDispatchResponse), &resp); err != nil {
		h.t.Fatalf("decoding response: %v", err)
	}
	return resp
}

var testRoutes = []common.Route{
	{Path: "/ping", Method: "GET"},
	{Path: "/players", Method: "POST"},
}

func newTestSession(t *testing.T, c *pipeConnector) *Session {
	config := common.DefaultSessionConfig()
	config.ReconnectInterval = 10 * time.Millisecond
	config.ReadBufferSize = 1024

	pool := buffer.NewPool(buffer.PoolConfig{Name: t.Name(), PoolSize: 4})
	opts := common.Options{Address: ":8080", RequestTimeoutSec: 5}
	return New(c, serializer.NewCBORSerializer(), pool, config, opts, testRoutes)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func echoHandler(r *Reply) {
	r.Response().ContentType = "text/plain"
	r.Response().Body = []byte("pong " + r.Request().RawURL)
	r.Send()
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestReconnectHandshake fails the first connection attempts. The session must
// connect exactly once and send Initialize and AddRoutes before any response.
func TestReconnectHandshake(t *testing.T) {
	c := newPipeConnector(3)
	s := newTestSession(t, c)
	s.RegisterHandler(echoHandler)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	defer s.Close()

	host := acceptHost(t, c)
	opts, routes := host.handshake()
	if opts.Address != ":8080" || opts.RequestTimeoutSec != 5 {
		t.Errorf("received options %+v", opts)
	}
	if len(routes) != 2 || routes[0] != testRoutes[0] || routes[1] != testRoutes[1] {
		t.Errorf("received routes %+v", routes)
	}

	waitFor(t, "connected state", func() bool { return s.State() == StateConnected })

	host.request(common.Request{ID: "r1", RawURL: "/ping", Method: "GET"})
	resp := host.response()
	if resp.RequestID != "r1" || resp.StatusCode != 200 || string(resp.Body) != "pong /ping" {
		t.Errorf("response = %+v", resp)
	}

	if got := c.attempts.Load(); got != 4 {
		t.Errorf("connect attempts = %d, want 4", got)
	}
	if s.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", s.Generation())
	}
	stats := s.Stats()
	if stats.Connects != 1 {
		t.Errorf("Connects = %d, want 1", stats.Connects)
	}
	// Initialize, AddRoutes and one response
	waitFor(t, "sent counter", func() bool { return s.Stats().FramesSent == 3 })
	if stats.FramesReceived != 1 {
		t.Errorf("FramesReceived = %d, want 1", stats.FramesReceived)
	}
}

// TestConnectionLossReconnects drops the connection while a request is being
// handled. The session reconnects and the stale reply is dropped.
func TestConnectionLossReconnects(t *testing.T) {
	c := newPipeConnector(0)
	s := newTestSession(t, c)

	replies := make(chan *Reply, 2)
	s.RegisterHandler(func(r *Reply) { replies <- r })

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	first := acceptHost(t, c)
	first.handshake()
	first.request(common.Request{ID: "old", RawURL: "/ping", Method: "GET"})

	var stale *Reply
	select {
	case stale = <-replies:
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}

	first.conn.Close()

	second := acceptHost(t, c)
	second.handshake()
	waitFor(t, "second connection", func() bool {
		return s.State() == StateConnected && s.Generation() == 2
	})

	if err := stale.Send(); !errors.Is(err, ErrReplyDropped) {
		t.Errorf("stale reply Send() error = %v, want ErrReplyDropped", err)
	}
	if err := stale.Send(); !errors.Is(err, ErrReplySent) {
		t.Errorf("second Send() error = %v, want ErrReplySent", err)
	}

	second.request(common.Request{ID: "new", RawURL: "/ping", Method: "GET"})
	fresh := <-replies
	if err := fresh.Send(); err != nil {
		t.Fatalf("fresh reply Send() error = %v", err)
	}
	if resp := second.response(); resp.RequestID != "new" {
		t.Errorf("response for %q, want new", resp.RequestID)
	}
	if s.Stats().Connects != 2 {
		t.Errorf("Connects = %d, want 2", s.Stats().Connects)
	}
}

func TestHandlerPanic(t *testing.T) {
	c := newPipeConnector(0)
	s := newTestSession(t, c)
	s.RegisterHandler(func(r *Reply) { panic("boom") })

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	host := acceptHost(t, c)
	host.handshake()
	host.request(common.Request{ID: "p", RawURL: "/ping", Method: "GET"})

	resp := host.response()
	if resp.RequestID != "p" || resp.StatusCode != 500 {
		t.Errorf("response = %+v, want status 500", resp)
	}
}

// TestUnknownFramesIgnored sends frames the session does not handle before a request
func TestUnknownFramesIgnored(t *testing.T) {
	c := newPipeConnector(0)
	s := newTestSession(t, c)
	s.RegisterHandler(echoHandler)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	host := acceptHost(t, c)
	host.handshake()

	host.send(common.MessageType(9), []byte("future"))
	host.send(common.MsgTDispatchRequest, nil)
	host.send(common.MsgTInitialize, []byte("not for the simulation"))
	host.request(common.Request{ID: "after", RawURL: "/ping", Method: "GET"})

	if resp := host.response(); resp.RequestID != "after" {
		t.Errorf("response for %q, want after", resp.RequestID)
	}
	if s.Generation() != 1 {
		t.Errorf("ignored frames caused a reconnect, generation %d", s.Generation())
	}
}

func TestMalformedRequestReconnects(t *testing.T) {
	c := newPipeConnector(0)
	s := newTestSession(t, c)
	s.RegisterHandler(echoHandler)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	first := acceptHost(t, c)
	first.handshake()
	first.send(common.MsgTDispatchRequest, []byte{0xff, 0xff})

	second := acceptHost(t, c)
	second.handshake()
	waitFor(t, "reconnect", func() bool { return s.Generation() == 2 })
}

func TestSendQueuesFrame(t *testing.T) {
	c := newPipeConnector(0)
	s := newTestSession(t, c)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	host := acceptHost(t, c)
	host.handshake()
	waitFor(t, "connected state", func() bool { return s.State() == StateConnected })

	if !s.Send(common.MsgTDispatchResponse, []byte("raw")) {
		t.Fatal("Send returned false while connected")
	}
	if got := host.expect(common.MsgTDispatchResponse); string(got) != "raw" {
		t.Errorf("host received %q", got)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	s := newTestSession(t, newPipeConnector(0))

	if s.Send(common.MsgTDispatchResponse, []byte("lost")) {
		t.Error("Send succeeded before the session was started")
	}
	if s.Stats().FramesDropped != 1 {
		t.Errorf("FramesDropped = %d, want 1", s.Stats().FramesDropped)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", s.State())
	}
	s.Close()
}

// TestCloseIsTerminal closes a session that never reached the host
func TestCloseIsTerminal(t *testing.T) {
	c := newPipeConnector(1 << 20)
	s := newTestSession(t, c)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start error = %v, want ErrAlreadyRunning", err)
	}
	waitFor(t, "retries", func() bool { return c.attempts.Load() >= 2 })

	if err := s.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %s, want closed", s.State())
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Run after Close error = %v, want ErrSessionClosed", err)
	}
}

// TestCancelContext stops the session through the context passed to Run
func TestCancelContext(t *testing.T) {
	c := newPipeConnector(0)
	s := newTestSession(t, c)
	s.RegisterHandler(echoHandler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	host := acceptHost(t, c)
	host.handshake()
	waitFor(t, "connected state", func() bool { return s.State() == StateConnected })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %s, want closed", s.State())
	}
	s.Close()
}

// statusSerializer fails to serialize responses carrying a given status
type statusSerializer struct {
	serializer.IBridgeSerializer
	failStatus int
}

func (s statusSerializer) Serialize(v any) ([]byte, error) {
	if resp, ok := v.(*common.Response); ok && resp.StatusCode == s.failStatus {
		return nil, errors.New("unsupported response")
	}
	return s.IBridgeSerializer.Serialize(v)
}

// TestSendSerializeFailure checks that a reply whose response can not be
// serialized is still open and can be answered with Fail
func TestSendSerializeFailure(t *testing.T) {
	c := newPipeConnector(0)
	config := common.DefaultSessionConfig()
	config.ReconnectInterval = 10 * time.Millisecond
	pool := buffer.NewPool(buffer.PoolConfig{Name: t.Name(), PoolSize: 4})
	ser := statusSerializer{IBridgeSerializer: serializer.NewCBORSerializer(), failStatus: 299}
	s := New(c, ser, pool, config, common.Options{}, testRoutes)

	sendErr := make(chan error, 1)
	s.RegisterHandler(func(r *Reply) {
		r.Response().StatusCode = 299
		err := r.Send()
		if r.Sent() {
			t.Error("Sent() = true after a failed Send")
		}
		sendErr <- err
		r.Fail(500, "failed to encode response")
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	host := acceptHost(t, c)
	host.handshake()
	host.request(common.Request{ID: "s", RawURL: "/ping", Method: "GET"})

	resp := host.response()
	if resp.RequestID != "s" || resp.StatusCode != 500 {
		t.Errorf("response = %+v, want status 500", resp)
	}
	if err := <-sendErr; err == nil || errors.Is(err, ErrReplySent) {
		t.Errorf("Send() error = %v, want a serialization error", err)
	}
}
