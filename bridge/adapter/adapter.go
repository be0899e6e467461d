package adapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"

	"github.com/ValentinKolb/dNet/bridge/common"
	"github.com/ValentinKolb/dNet/lib/buffer"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("adapter")

// ErrAlreadyClosed is returned when a response is closed twice
var ErrAlreadyClosed = errors.New("adapter: response already closed")

// BridgeContentEncoding is the only encoding the bridge host understands
const BridgeContentEncoding = "utf-8"

// IBridgeReply is the bridge backing of a context, implemented by *session.Reply
type IBridgeReply interface {
	Request() *common.Request
	Response() *common.Response
	Send() error
}

// HttpContext is the request and response of one HTTP exchange, independent
// of how the request arrived. Exactly one backing is set: an in-process
// listener (http.ResponseWriter and *http.Request) or a bridge reply.
//
// Request accessors are computed on first use. A context belongs to the
// handler it was passed to and must not be shared between goroutines.
type HttpContext struct {
	// listener backing
	w http.ResponseWriter
	r *http.Request

	// bridge backing
	reply IBridgeReply

	// lazily computed request values
	headers http.Header
	query   url.Values
	body    io.Reader

	statusCode      int
	contentType     string
	contentEncoding string
	closed          bool
}

// FromListener wraps a request served in-process
func FromListener(w http.ResponseWriter, r *http.Request) *HttpContext {
	return &HttpContext{w: w, r: r, statusCode: http.StatusOK, contentEncoding: BridgeContentEncoding}
}

// FromReply wraps a request forwarded over the bridge
func FromReply(reply IBridgeReply) *HttpContext {
	return &HttpContext{reply: reply, statusCode: http.StatusOK}
}

// IsBridge reports whether the context is backed by a bridge reply
func (c *HttpContext) IsBridge() bool {
	return c.reply != nil
}

// --------------------------------------------------------------------------
// Request
// --------------------------------------------------------------------------

// RawURL returns the request URI (path and query)
func (c *HttpContext) RawURL() string {
	if c.IsBridge() {
		return c.reply.Request().RawURL
	}
	return c.r.URL.RequestURI()
}

// Path returns the path of the request URI
func (c *HttpContext) Path() string {
	if c.IsBridge() {
		return c.reply.Request().Path()
	}
	return c.r.URL.Path
}

// Method returns the HTTP method
func (c *HttpContext) Method() string {
	if c.IsBridge() {
		return c.reply.Request().Method
	}
	return c.r.Method
}

// ContentType returns the content type of the request body
func (c *HttpContext) ContentType() string {
	if c.IsBridge() {
		return c.reply.Request().ContentType
	}
	return c.r.Header.Get("Content-Type")
}

// Headers returns the request headers with canonical keys
func (c *HttpContext) Headers() http.Header {
	if c.headers != nil {
		return c.headers
	}
	if !c.IsBridge() {
		c.headers = c.r.Header
		return c.headers
	}
	c.headers = make(http.Header, len(c.reply.Request().Headers))
	for k, v := range c.reply.Request().Headers {
		key := textproto.CanonicalMIMEHeaderKey(k)
		c.headers[key] = append(c.headers[key], v...)
	}
	return c.headers
}

// Query returns the parsed query string
func (c *HttpContext) Query() url.Values {
	if c.query != nil {
		return c.query
	}
	if !c.IsBridge() {
		c.query = c.r.URL.Query()
		return c.query
	}
	req := c.reply.Request()
	if req.Query != nil {
		c.query = url.Values(req.Query)
	} else if u, err := url.ParseRequestURI(req.RawURL); err == nil {
		c.query = u.Query()
	} else {
		c.query = url.Values{}
	}
	return c.query
}

// RemoteEndPoint returns the address of the client
func (c *HttpContext) RemoteEndPoint() string {
	if c.IsBridge() {
		return c.reply.Request().RemoteEndPoint
	}
	return c.r.RemoteAddr
}

// InputStream returns the request body
func (c *HttpContext) InputStream() io.Reader {
	if c.body != nil {
		return c.body
	}
	if c.IsBridge() {
		c.body = bytes.NewReader(c.reply.Request().Body)
	} else if c.r.Body != nil {
		c.body = c.r.Body
	} else {
		c.body = http.NoBody
	}
	return c.body
}

// ReadBody reads the whole request body into b
func (c *HttpContext) ReadBody(b *buffer.Buffer) (int64, error) {
	n, err := io.Copy(b.Stream(), c.InputStream())
	if err != nil {
		return n, fmt.Errorf("failed to read request body: %w", err)
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Response
// --------------------------------------------------------------------------

// SetStatusCode sets the status of the response, 200 by default
func (c *HttpContext) SetStatusCode(code int) {
	c.statusCode = code
}

// StatusCode returns the status of the response
func (c *HttpContext) StatusCode() int {
	return c.statusCode
}

// SetContentType sets the content type of the response
func (c *HttpContext) SetContentType(contentType string) {
	c.contentType = contentType
}

// Header returns the response headers
func (c *HttpContext) Header() http.Header {
	if c.IsBridge() {
		resp := c.reply.Response()
		if resp.Headers == nil {
			resp.Headers = make(map[string][]string)
		}
		return resp.Headers
	}
	return c.w.Header()
}

// ContentEncoding returns the character encoding of the response body,
// utf-8 unless changed. Bridge responses always use BridgeContentEncoding.
func (c *HttpContext) ContentEncoding() string {
	if c.IsBridge() {
		return BridgeContentEncoding
	}
	return c.contentEncoding
}

// SetContentEncoding sets the character encoding of the response body. It is
// ignored for bridge responses.
func (c *HttpContext) SetContentEncoding(encoding string) {
	if c.IsBridge() {
		if encoding != BridgeContentEncoding {
			Logger.Debugf("ignoring content encoding %q for bridge response", encoding)
		}
		return
	}
	c.contentEncoding = encoding
}

// Closed reports whether the response was sent
func (c *HttpContext) Closed() bool {
	return c.closed
}

// Close sends the response with data as body. Bridge responses are queued as
// a DispatchResponse frame, listener responses are written directly.
func (c *HttpContext) Close(data []byte) error {
	if c.closed {
		return ErrAlreadyClosed
	}
	c.closed = true

	if c.IsBridge() {
		resp := c.reply.Response()
		resp.StatusCode = c.statusCode
		resp.ContentType = c.contentType
		resp.ContentEncoding = BridgeContentEncoding
		resp.Body = data
		return c.reply.Send()
	}

	h := c.w.Header()
	if c.contentType != "" {
		h.Set("Content-Type", withCharset(c.contentType, c.contentEncoding))
	}
	h.Set("Content-Length", strconv.Itoa(len(data)))
	c.w.WriteHeader(c.statusCode)
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

// CloseBuffer sends the written bytes of b and returns b to pool
func (c *HttpContext) CloseBuffer(pool *buffer.Pool, b *buffer.Buffer) error {
	// Close copies (bridge) or writes (listener) the bytes before returning
	err := c.Close(b.Bytes())
	if pool != nil {
		pool.Return(b)
	}
	return err
}

// CloseJSON sends v encoded as JSON
func (c *HttpContext) CloseJSON(statusCode int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	c.SetStatusCode(statusCode)
	c.SetContentType("application/json")
	return c.Close(data)
}

// errorBody matches the error responses of the host
type errorBody struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// CloseError sends a JSON error body {"status": statusCode, "error": message}
func (c *HttpContext) CloseError(statusCode int, message string) error {
	return c.CloseJSON(statusCode, errorBody{Status: statusCode, Error: message})
}

// withCharset adds a charset parameter to a media type that has none
func withCharset(contentType, charset string) string {
	if charset == "" {
		return contentType
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return contentType
	}
	if _, ok := params["charset"]; ok {
		return contentType
	}
	params["charset"] = charset
	return mime.FormatMediaType(mediaType, params)
}
