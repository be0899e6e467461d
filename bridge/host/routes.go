package host

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/ValentinKolb/dNet/bridge/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

// errorResponse is the JSON body of every error the host answers itself
type errorResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Status: status, Error: message})
}

// --------------------------------------------------------------------------
// Router
// --------------------------------------------------------------------------

// metricsRoute is served by the host itself and shadows a simulation route
var metricsRoute = common.Route{Path: "/metrics", Method: http.MethodGet}

// installRoutes builds a new router for routes and swaps it in atomically.
// Requests already routed finish on the old router. It returns the number of
// routes that are reachable.
func (h *Host) installRoutes(routes []common.Route) int {
	h.routes.Store(&routes)

	mux := chi.NewRouter()
	mux.Use(middleware.RealIP)

	if opts := h.options.Load(); opts != nil && len(opts.CORSOrigins) > 0 {
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

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		renderError(w, r, http.StatusNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		renderError(w, r, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed for %s", r.Method, r.URL.Path))
	})

	installed := 0
	for _, route := range routes {
		if route.Key() == metricsRoute.Key() {
			Logger.Warningf("route %s is shadowed by the host metrics endpoint", route.Key())
			continue
		}
		if err := addRoute(mux, route, h.forward); err != nil {
			Logger.Errorf("skipping route %s: %v", route.Key(), err)
			continue
		}
		installed++
	}

	h.router.Store(mux)
	Logger.Infof("installed %d of %d routes", installed, len(routes))
	return installed
}

// addRoute registers one route. chi panics on unsupported methods and
// malformed patterns, those routes are reported as errors instead.
func addRoute(mux *chi.Mux, route common.Route, fn http.HandlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	mux.MethodFunc(route.Method, route.Path, fn)
	return nil
}

// --------------------------------------------------------------------------
// Forwarding
// --------------------------------------------------------------------------

// forward sends the request to the simulation and writes its response
func (h *Host) forward(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.metrics.requests.Inc()
	defer h.metrics.duration.UpdateDuration(start)

	c := h.current.Load()
	opts := h.options.Load()
	if c == nil || opts == nil || !c.initialized.Load() {
		h.metrics.unavailable.Inc()
		renderError(w, r, http.StatusServiceUnavailable, "simulation not connected")
		return
	}

	if opts.MaxRequestBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, opts.MaxRequestBodySize)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.metrics.tooLarge.Inc()
			renderError(w, r, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", opts.MaxRequestBodySize))
			return
		}
		renderError(w, r, http.StatusBadRequest, "failed to read request body")
		return
	}

	req := common.Request{
		ID:              uuid.NewString(),
		RawURL:          r.URL.RequestURI(),
		Method:          r.Method,
		ContentType:     r.Header.Get("Content-Type"),
		ContentEncoding: charsetOf(r.Header.Get("Content-Type")),
		Headers:         r.Header,
		Query:           r.URL.Query(),
		RemoteEndPoint:  r.RemoteAddr,
		Body:            body,
	}
	payload, err := h.serializer.Serialize(&req)
	if err != nil {
		h.metrics.failed.Inc()
		Logger.Errorf("failed to serialize request %s: %v", req.ID, err)
		renderError(w, r, http.StatusInternalServerError, "failed to forward request")
		return
	}

	p := &pendingRequest{conn: c, ch: make(chan *common.Response, 1)}
	h.pending.Store(req.ID, p)
	defer h.pending.Delete(req.ID)

	if err := c.write(common.MsgTDispatchRequest, payload); err != nil {
		// a failed write leaves the stream in an unknown state
		c.conn.Close()
		h.metrics.failed.Inc()
		Logger.Errorf("failed to forward request %s: %v", req.ID, err)
		renderError(w, r, http.StatusBadGateway, "simulation connection lost")
		return
	}

	timeoutSec := opts.RequestTimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = h.config.DefaultRequestTimeoutSec
	}
	timer := time.NewTimer(time.Duration(timeoutSec) * time.Second)
	defer timer.Stop()

	select {
	case resp := <-p.ch:
		if resp == nil {
			h.metrics.failed.Inc()
			renderError(w, r, http.StatusBadGateway, "simulation connection lost")
			return
		}
		writeResponse(w, resp)
	case <-timer.C:
		h.metrics.timeouts.Inc()
		renderError(w, r, http.StatusGatewayTimeout, fmt.Sprintf("simulation did not answer within %d sec", timeoutSec))
	case <-r.Context().Done():
		Logger.Debugf("client of request %s went away", req.ID)
	}
}

// writeResponse copies a simulation response to w
func writeResponse(w http.ResponseWriter, resp *common.Response) {
	header := w.Header()
	for k, values := range resp.Headers {
		for _, v := range values {
			header.Add(k, v)
		}
	}
	if resp.ContentType != "" {
		contentType := resp.ContentType
		if resp.ContentEncoding != "" && charsetOf(contentType) == "" {
			contentType = mime.FormatMediaType(mediaTypeOf(contentType), map[string]string{"charset": resp.ContentEncoding})
		}
		header.Set("Content-Type", contentType)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		if _, err := w.Write(resp.Body); err != nil {
			Logger.Debugf("failed to write response %s: %v", resp.RequestID, err)
		}
	}
}

func charsetOf(contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

func mediaTypeOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	return mediaType
}
