package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// --------------------------------------------------------------------------
// Message Types
// --------------------------------------------------------------------------

// MessageType is the type tag of a bridge frame
type MessageType uint8

const (
	// MsgTInitialize carries the Options of the simulation. Always the first frame of a connection.
	MsgTInitialize MessageType = iota
	// MsgTAddRoutes carries the route table ([]Route). Always the second frame of a connection.
	MsgTAddRoutes
	// MsgTDispatchRequest carries a Request from the host to the simulation
	MsgTDispatchRequest
	// MsgTDispatchResponse carries a Response from the simulation to the host
	MsgTDispatchResponse
)

// String returns the string representation of a MessageType
func (t MessageType) String() string {
	switch t {
	case MsgTInitialize:
		return "initialize"
	case MsgTAddRoutes:
		return "addRoutes"
	case MsgTDispatchRequest:
		return "dispatchRequest"
	case MsgTDispatchResponse:
		return "dispatchResponse"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// IsValid reports whether t is one of the known message types
func (t MessageType) IsValid() bool {
	return t <= MsgTDispatchResponse
}

// --------------------------------------------------------------------------
// Records
// --------------------------------------------------------------------------

// Options configures the host. They are sent in the Initialize frame.
type Options struct {
	// Address the host serves public HTTP on, empty disables the public server
	Address string `json:"address" cbor:"1,keyasint"`

	KeepAliveSec      int `json:"keepAliveSec,omitempty" cbor:"2,keyasint,omitempty"`
	ReadTimeoutSec    int `json:"readTimeoutSec,omitempty" cbor:"3,keyasint,omitempty"`
	WriteTimeoutSec   int `json:"writeTimeoutSec,omitempty" cbor:"4,keyasint,omitempty"`
	RequestTimeoutSec int `json:"requestTimeoutSec,omitempty" cbor:"5,keyasint,omitempty"`

	// MaxRequestBodySize in bytes, 0 means unlimited
	MaxRequestBodySize int64 `json:"maxRequestBodySize,omitempty" cbor:"6,keyasint,omitempty"`

	// CORSOrigins enables CORS for the listed origins ("*" for all)
	CORSOrigins []string `json:"corsOrigins,omitempty" cbor:"7,keyasint,omitempty"`
}

// Route is one entry of the route table
type Route struct {
	Path   string `json:"path" cbor:"1,keyasint"`
	Method string `json:"method" cbor:"2,keyasint"`
}

// Key returns the registry key of the route, e.g. "GET /health"
func (r Route) Key() string {
	return RouteKey(r.Method, r.Path)
}

// RouteKey builds the registry key of a method and path
func RouteKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Request is an HTTP request forwarded by the host
type Request struct {
	// ID matches the request with its Response
	ID              string              `json:"id" cbor:"1,keyasint"`
	RawURL          string              `json:"rawUrl" cbor:"2,keyasint"`
	Method          string              `json:"method" cbor:"3,keyasint"`
	ContentType     string              `json:"contentType,omitempty" cbor:"4,keyasint,omitempty"`
	ContentEncoding string              `json:"contentEncoding,omitempty" cbor:"5,keyasint,omitempty"`
	Headers         map[string][]string `json:"headers,omitempty" cbor:"6,keyasint,omitempty"`
	Query           map[string][]string `json:"query,omitempty" cbor:"7,keyasint,omitempty"`
	RemoteEndPoint  string              `json:"remoteEndPoint,omitempty" cbor:"8,keyasint,omitempty"`
	Body            []byte              `json:"body,omitempty" cbor:"9,keyasint,omitempty"`
}

// Path returns the path component of RawURL
func (r *Request) Path() string {
	u, err := url.ParseRequestURI(r.RawURL)
	if err != nil {
		return r.RawURL
	}
	return u.Path
}

// Response answers a Request
type Response struct {
	RequestID       string              `json:"requestId" cbor:"1,keyasint"`
	StatusCode      int                 `json:"statusCode" cbor:"2,keyasint"`
	ContentType     string              `json:"contentType,omitempty" cbor:"3,keyasint,omitempty"`
	ContentEncoding string              `json:"contentEncoding,omitempty" cbor:"4,keyasint,omitempty"`
	Headers         map[string][]string `json:"headers,omitempty" cbor:"5,keyasint,omitempty"`
	Body            []byte              `json:"body,omitempty" cbor:"6,keyasint,omitempty"`
}

// NewResponse creates an empty 200 response for a request
func NewResponse(req *Request) *Response {
	return &Response{
		RequestID:  req.ID,
		StatusCode: http.StatusOK,
		Headers:    make(map[string][]string),
	}
}
