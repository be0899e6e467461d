package adapter

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ValentinKolb/dNet/bridge/common"
	"github.com/ValentinKolb/dNet/lib/buffer"
)

// fakeReply records sent responses
type fakeReply struct {
	req   *common.Request
	resp  *common.Response
	sends int
}

func newFakeReply(req *common.Request) *fakeReply {
	return &fakeReply{req: req, resp: common.NewResponse(req)}
}

func (f *fakeReply) Request() *common.Request   { return f.req }
func (f *fakeReply) Response() *common.Response { return f.resp }
func (f *fakeReply) Send() error {
	f.sends++
	return nil
}

// testContexts returns the same request through both backings
func testContexts(t *testing.T) (listener *HttpContext, rec *httptest.ResponseRecorder, bridge *HttpContext, reply *fakeReply) {
	t.Helper()

	r := httptest.NewRequest("POST", "/players/join?room=3&team=red", strings.NewReader(`{"name":"p1"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Token", "abc")
	r.RemoteAddr = "10.0.0.7:51234"
	rec = httptest.NewRecorder()

	reply = newFakeReply(&common.Request{
		ID:             "id-1",
		RawURL:         "/players/join?room=3&team=red",
		Method:         "POST",
		ContentType:    "application/json",
		Headers:        map[string][]string{"content-type": {"application/json"}, "x-token": {"abc"}},
		RemoteEndPoint: "10.0.0.7:51234",
		Body:           []byte(`{"name":"p1"}`),
	})

	return FromListener(rec, r), rec, FromReply(reply), reply
}

// TestRequestAccessors tests that both backings expose the same request
func TestRequestAccessors(t *testing.T) {
	listener, _, bridge, _ := testContexts(t)

	for name, ctx := range map[string]*HttpContext{"listener": listener, "bridge": bridge} {
		t.Run(name, func(t *testing.T) {
			if got := ctx.RawURL(); got != "/players/join?room=3&team=red" {
				t.Errorf("RawURL() = %q", got)
			}
			if got := ctx.Path(); got != "/players/join" {
				t.Errorf("Path() = %q", got)
			}
			if got := ctx.Method(); got != "POST" {
				t.Errorf("Method() = %q", got)
			}
			if got := ctx.ContentType(); got != "application/json" {
				t.Errorf("ContentType() = %q", got)
			}
			if got := ctx.Headers().Get("X-Token"); got != "abc" {
				t.Errorf("Headers().Get(X-Token) = %q", got)
			}
			if got := ctx.Query().Get("team"); got != "red" {
				t.Errorf("Query().Get(team) = %q", got)
			}
			if got := ctx.RemoteEndPoint(); got != "10.0.0.7:51234" {
				t.Errorf("RemoteEndPoint() = %q", got)
			}
			body, err := io.ReadAll(ctx.InputStream())
			if err != nil || string(body) != `{"name":"p1"}` {
				t.Errorf("InputStream() = %q, %v", body, err)
			}
		})
	}
}

func TestBridgeQueryFromRawURL(t *testing.T) {
	ctx := FromReply(newFakeReply(&common.Request{RawURL: "/search?q=dragon&page=2", Method: "GET"}))
	if got := ctx.Query().Get("page"); got != "2" {
		t.Errorf("Query().Get(page) = %q, want 2", got)
	}
}

func TestListenerClose(t *testing.T) {
	ctx, rec, _, _ := testContexts(t)

	ctx.SetStatusCode(http.StatusCreated)
	ctx.SetContentType("text/plain")
	ctx.SetContentEncoding("utf-8")
	ctx.Header().Set("X-Room", "3")

	if err := ctx.Close([]byte("created")); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if !ctx.Closed() {
		t.Error("Closed() = false after Close")
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("X-Room"); got != "3" {
		t.Errorf("X-Room = %q", got)
	}
	if rec.Body.String() != "created" {
		t.Errorf("body = %q", rec.Body.String())
	}

	if err := ctx.Close([]byte("again")); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("second Close error = %v, want ErrAlreadyClosed", err)
	}
}

func TestBridgeClose(t *testing.T) {
	_, _, ctx, reply := testContexts(t)

	ctx.SetStatusCode(http.StatusAccepted)
	ctx.SetContentType("application/json")
	ctx.SetContentEncoding("latin1")
	ctx.Header()["X-Room"] = []string{"3"}

	if got := ctx.ContentEncoding(); got != BridgeContentEncoding {
		t.Errorf("ContentEncoding() = %q, want the fixed bridge encoding", got)
	}

	if err := ctx.Close([]byte(`{"ok":true}`)); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if reply.sends != 1 {
		t.Fatalf("reply sent %d times, want 1", reply.sends)
	}

	resp := reply.resp
	if resp.RequestID != "id-1" || resp.StatusCode != http.StatusAccepted {
		t.Errorf("response = %+v", resp)
	}
	if resp.ContentType != "application/json" || resp.ContentEncoding != "utf-8" {
		t.Errorf("content type %q encoding %q", resp.ContentType, resp.ContentEncoding)
	}
	if string(resp.Body) != `{"ok":true}` || resp.Headers["X-Room"][0] != "3" {
		t.Errorf("response body %q headers %v", resp.Body, resp.Headers)
	}

	if err := ctx.Close(nil); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("second Close error = %v, want ErrAlreadyClosed", err)
	}
	if reply.sends != 1 {
		t.Errorf("reply sent %d times after double close", reply.sends)
	}
}

func TestCloseBufferReturnsToPool(t *testing.T) {
	pool := buffer.NewPool(buffer.PoolConfig{Name: "adapter", PoolSize: 1})
	ctx, rec, _, _ := testContexts(t)

	b := pool.Rent()
	b.WriteString("ignored prefix")
	b.Reset()
	b.WriteBytes([]byte("payload"))

	if err := ctx.CloseBuffer(pool, b); err != nil {
		t.Fatal(err)
	}
	if !b.IsPooled() {
		t.Error("buffer was not returned to the pool")
	}
	if pool.Count() != 1 {
		t.Errorf("pool count = %d, want 1", pool.Count())
	}
	if rec.Body.String() != "payload" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestCloseJSON(t *testing.T) {
	_, _, ctx, reply := testContexts(t)

	if err := ctx.CloseError(http.StatusNotFound, "no such player"); err != nil {
		t.Fatal(err)
	}
	if reply.resp.StatusCode != http.StatusNotFound || reply.resp.ContentType != "application/json" {
		t.Errorf("response = %+v", reply.resp)
	}
	if string(reply.resp.Body) != `{"status":404,"error":"no such player"}` {
		t.Errorf("body = %s", reply.resp.Body)
	}
}

func TestReadBody(t *testing.T) {
	_, _, ctx, _ := testContexts(t)
	b := buffer.New(4)
	n, err := ctx.ReadBody(b)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(`{"name":"p1"}`)) || string(b.Bytes()) != `{"name":"p1"}` {
		t.Errorf("ReadBody read %d bytes: %q", n, b.Bytes())
	}
}
