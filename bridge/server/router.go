package server

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/ValentinKolb/dNet/bridge/adapter"
	"github.com/ValentinKolb/dNet/bridge/common"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrInvalidRoute is returned for routes without method or with a path
	// that does not start with a slash
	ErrInvalidRoute = errors.New("server: invalid route")
)

// HandlerFunc answers one request. A handler that returns without closing the
// context is answered with an empty response, a returned error is answered
// with 500 unless the context was closed already.
type HandlerFunc func(ctx *adapter.HttpContext) error

type route struct {
	common.Route
	handler HandlerFunc
}

// Router maps method and path to handlers. Paths are matched literally.
//
// Thread-safety: all methods are safe for concurrent use. Routes added after
// the server started are served in listener mode only, the host learns the
// route table on connect.
type Router struct {
	routes *xsync.MapOf[string, route]
	paths  *xsync.MapOf[string, int]
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		routes: xsync.NewMapOf[string, route](),
		paths:  xsync.NewMapOf[string, int](),
	}
}

// Handle registers fn for method and path. A second registration for the same
// method and path replaces the first.
func (r *Router) Handle(path, method string, fn HandlerFunc) error {
	if fn == nil || method == "" || !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q %q", ErrInvalidRoute, method, path)
	}
	rt := route{Route: common.Route{Path: path, Method: strings.ToUpper(method)}, handler: fn}
	if _, loaded := r.routes.LoadAndStore(rt.Key(), rt); !loaded {
		r.paths.Compute(path, func(n int, _ bool) (int, bool) { return n + 1, false })
	}
	Logger.Debugf("registered route %s", rt.Key())
	return nil
}

// Routes returns the route table sorted by path and method
func (r *Router) Routes() []common.Route {
	var out []common.Route
	r.routes.Range(func(_ string, rt route) bool {
		out = append(out, rt.Route)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Dispatch runs the handler matching the request of ctx. Unknown paths are
// answered with 404, known paths with another method with 405.
func (r *Router) Dispatch(ctx *adapter.HttpContext) {
	rt, ok := r.routes.Load(common.RouteKey(ctx.Method(), ctx.Path()))
	if !ok {
		if _, known := r.paths.Load(ctx.Path()); known {
			closeError(ctx, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed for %s", ctx.Method(), ctx.Path()))
			return
		}
		closeError(ctx, http.StatusNotFound, fmt.Sprintf("no route for %s %s", ctx.Method(), ctx.Path()))
		return
	}

	err := rt.handler(ctx)
	if ctx.Closed() {
		if err != nil {
			Logger.Warningf("handler for %s failed after answering: %v", rt.Key(), err)
		}
		return
	}
	if err != nil {
		Logger.Errorf("handler for %s failed: %v", rt.Key(), err)
		closeError(ctx, http.StatusInternalServerError, err.Error())
		return
	}
	if err := ctx.Close(nil); err != nil {
		Logger.Errorf("failed to answer %s: %v", rt.Key(), err)
	}
}

func closeError(ctx *adapter.HttpContext, status int, message string) {
	if err := ctx.CloseError(status, message); err != nil {
		Logger.Errorf("failed to answer with %d: %v", status, err)
	}
}
