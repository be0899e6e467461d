package session

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/dNet/bridge/common"
)

var (
	// ErrReplySent is returned when a reply is sent twice
	ErrReplySent = errors.New("session: reply already sent")
	// ErrReplyDropped is returned when the connection the request arrived on is gone
	ErrReplyDropped = errors.New("session: reply dropped, connection is gone")
)

// Reply pairs a forwarded request with the response that answers it. It is
// bound to the connection the request arrived on, a reply for a connection
// that was replaced by a reconnect is dropped.
type Reply struct {
	req  *common.Request
	resp *common.Response

	session *Session
	gen     uint64
	sent    atomic.Bool
}

func newReply(s *Session, gen uint64, req *common.Request) *Reply {
	return &Reply{
		req:     req,
		resp:    common.NewResponse(req),
		session: s,
		gen:     gen,
	}
}

// Send serializes the response and queues it as a DispatchResponse frame.
// Only the first successfully serialized call sends, a failed serialization
// leaves the reply open for Fail.
func (r *Reply) Send() error {
	if r.sent.Load() {
		return ErrReplySent
	}
	payload, err := r.session.serializer.Serialize(r.resp)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}
	if !r.sent.CompareAndSwap(false, true) {
		return ErrReplySent
	}
	if !r.session.sendOn(r.gen, common.MsgTDispatchResponse, payload) {
		return ErrReplyDropped
	}
	return nil
}

// Fail answers with a plain text error unless the reply was already sent
func (r *Reply) Fail(statusCode int, message string) {
	if r.sent.Load() {
		return
	}
	r.resp.StatusCode = statusCode
	r.resp.ContentType = "text/plain; charset=utf-8"
	r.resp.Body = []byte(message)
	if err := r.Send(); err != nil && !errors.Is(err, ErrReplySent) {
		Logger.Errorf("failed to answer %s %s with %d: %v", r.req.Method, r.req.RawURL, statusCode, err)
	}
}

// Request returns the forwarded request
func (r *Reply) Request() *common.Request {
	return r.req
}

// Response returns the response that Send serializes. It must not be
// modified after Send.
func (r *Reply) Response() *common.Response {
	return r.resp
}

// Sent reports whether Send was called
func (r *Reply) Sent() bool {
	return r.sent.Load()
}

// Generation returns the connection generation the request arrived on
func (r *Reply) Generation() uint64 {
	return r.gen
}
