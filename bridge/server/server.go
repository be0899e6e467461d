package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ValentinKolb/dNet/bridge/adapter"
	"github.com/ValentinKolb/dNet/bridge/common"
	"github.com/ValentinKolb/dNet/bridge/serializer"
	"github.com/ValentinKolb/dNet/bridge/session"
	"github.com/ValentinKolb/dNet/bridge/transport"
	"github.com/ValentinKolb/dNet/lib/buffer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("server")

var (
	// ErrUnknownMode is returned by Serve for a mode other than bridge or listener
	ErrUnknownMode = errors.New("server: unknown mode")
	// ErrServerClosed is returned by Serve after Close
	ErrServerClosed = errors.New("server: closed")
)

// Server serves the routes of a Router. In bridge mode it connects to an HTTP
// host through a session, in listener mode it runs its own HTTP server.
type Server struct {
	config     common.ServerConfig
	router     *Router
	pool       *buffer.Pool
	connector  transport.IConnector
	serializer serializer.IBridgeSerializer

	mu       sync.Mutex
	closed   bool
	session  *session.Session
	listener *http.Server
	addr     string
}

// NewServer creates a route server. connector and serializer are only used in
// bridge mode.
//
// Usage:
//
//	router := server.NewRouter()
//	router.Handle("/health", "GET", health)
//
//	s := server.NewServer(config, router, pool, tcp.NewConnector(), serializer.NewCBORSerializer())
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewServer(
	config common.ServerConfig,
	router *Router,
	pool *buffer.Pool,
	connector transport.IConnector,
	serializer serializer.IBridgeSerializer,
) *Server {
	Logger.Infof("Created route server")
	Logger.Infof("%s", config.String())

	return &Server{
		config:     config,
		router:     router,
		pool:       pool,
		connector:  connector,
		serializer: serializer,
	}
}

// Serve serves the routes until ctx is cancelled or Close is called
func (s *Server) Serve(ctx context.Context) error {
	switch s.config.Mode {
	case common.ServerModeBridge:
		return s.serveBridge(ctx)
	case common.ServerModeListener:
		ln, err := net.Listen("tcp", s.config.Options.Address)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.config.Options.Address, err)
		}
		return s.ServeListener(ctx, ln)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, s.config.Mode)
	}
}

// Addr returns the address the listener mode server is bound to
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Session returns the bridge session, nil in listener mode or before Serve
func (s *Server) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Close stops serving. Serve returns afterwards. Running handlers are
// awaited, they may still call Session or Addr.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	sess, listener := s.session, s.listener
	s.mu.Unlock()

	var err error
	if sess != nil {
		err = sess.Close()
	}
	if listener != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = errors.Join(err, listener.Shutdown(ctx))
	}
	return err
}

// --------------------------------------------------------------------------
// Bridge mode
// --------------------------------------------------------------------------

func (s *Server) serveBridge(ctx context.Context) error {
	routes := s.router.Routes()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	sess := session.New(s.connector, s.serializer, s.pool, s.config.Session, s.config.Options, routes)
	sess.RegisterHandler(func(reply *session.Reply) {
		s.router.Dispatch(adapter.FromReply(reply))
	})
	s.session = sess
	s.mu.Unlock()

	Logger.Infof("serving %d routes through the %s host at %s", len(routes), s.connector.GetName(), s.config.Session.Endpoint)
	return sess.Run(ctx)
}

// --------------------------------------------------------------------------
// Listener mode
// --------------------------------------------------------------------------

// ServeListener serves the routes in-process on ln until ctx is cancelled or
// Close is called
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	opts := s.config.Options
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(opts.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(opts.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(opts.KeepAliveSec) * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	Logger.Infof("serving %d routes on %s", len(s.router.Routes()), ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the listener mode HTTP handler
func (s *Server) Handler() http.Handler {
	opts := s.config.Options

	mux := chi.NewRouter()
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{
				http.MethodGet, http.MethodPost, http.MethodPut,
				http.MethodPatch, http.MethodDelete, http.MethodOptions,
			},
			AllowedHeaders: []string{"*"},
			MaxAge:         300,
		}))
	}

	mux.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		if opts.MaxRequestBodySize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, opts.MaxRequestBodySize)
		}
		s.router.Dispatch(adapter.FromListener(w, r))
	})
	return mux
}
