package serve

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/ValentinKolb/dNet/bridge/adapter"
	"github.com/ValentinKolb/dNet/bridge/server"
	"github.com/ValentinKolb/dNet/bridge/session"
	"github.com/ValentinKolb/dNet/lib/buffer"
	"github.com/ValentinKolb/dNet/lib/cache"
	"github.com/ValentinKolb/dNet/lib/common"
)

// demoRoom is a small chat room served by the demo routes. Chat lines are
// cached for everyone, the state of a peer overwrites its previous state and
// both are replayed to peers that join.
type demoRoom struct {
	pool     *buffer.Pool
	registry *cache.Registry
	chat     cache.Handle
	state    cache.Handle

	// session returns the bridge session, nil in listener mode
	session func() *session.Session

	mu    sync.Mutex
	inbox map[common.PeerID][]deliveredMessage
}

// deliveredMessage is one replayed cache entry
type deliveredMessage struct {
	Kind    string        `json:"kind"`
	Owner   common.PeerID `json:"owner"`
	Payload string        `json:"payload"`
}

func newDemoRoom(pool *buffer.Pool) (*demoRoom, error) {
	d := &demoRoom{
		pool:    pool,
		session: func() *session.Session { return nil },
		inbox:   make(map[common.PeerID][]deliveredMessage),
	}
	d.registry = cache.NewRegistry(cache.SenderFunc(d.deliver))

	var err error
	if d.chat, err = d.registry.Create(common.CacheGlobal | common.CacheNew | common.CacheAutoDestroy); err != nil {
		return nil, err
	}
	if d.state, err = d.registry.Create(common.CachePeer | common.CacheOverwrite | common.CacheAutoDestroy); err != nil {
		return nil, err
	}
	return d, nil
}

// register adds the demo routes to router
func (d *demoRoom) register(router *server.Router) error {
	routes := []struct {
		path, method string
		fn           server.HandlerFunc
	}{
		{"/health", http.MethodGet, d.health},
		{"/stats", http.MethodGet, d.stats},
		{"/stats/pool", http.MethodGet, d.poolMetrics},
		{"/chat", http.MethodPost, d.store(d.chat)},
		{"/state", http.MethodPut, d.store(d.state)},
		{"/join", http.MethodPost, d.join},
		{"/leave", http.MethodPost, d.leave},
	}
	for _, r := range routes {
		if err := router.Handle(r.path, r.method, r.fn); err != nil {
			return err
		}
	}
	return nil
}

// deliver collects replayed entries in the inbox of the recipient
func (d *demoRoom) deliver(to common.PeerID, entry cache.Entry) {
	kind := "chat"
	if entry.ID == d.state.ID && entry.Mode.Has(common.CacheOverwrite) {
		kind = "state"
	}
	d.mu.Lock()
	d.inbox[to] = append(d.inbox[to], deliveredMessage{Kind: kind, Owner: entry.Owner, Payload: string(entry.Payload)})
	d.mu.Unlock()
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (d *demoRoom) health(ctx *adapter.HttpContext) error {
	return ctx.CloseJSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (d *demoRoom) stats(ctx *adapter.HttpContext) error {
	out := map[string]any{
		"pool": map[string]any{
			"free":      d.pool.Count(),
			"created":   d.pool.Created(),
			"overflows": d.pool.Overflows(),
			"leaks":     d.pool.Leaks(),
		},
		"cache": map[string]any{
			"entries": d.registry.Len(),
		},
	}
	if s := d.session(); s != nil {
		out["session"] = map[string]any{
			"state":      s.State().String(),
			"generation": s.Generation(),
			"stats":      s.Stats(),
		}
	}
	return ctx.CloseJSON(http.StatusOK, out)
}

// poolMetrics writes the pool metrics in Prometheus format into a pooled buffer
func (d *demoRoom) poolMetrics(ctx *adapter.HttpContext) error {
	b := d.pool.Rent()
	d.pool.Metrics().WritePrometheus(b.Stream())
	ctx.SetContentType("text/plain; version=0.0.4")
	return ctx.CloseBuffer(d.pool, b)
}

// store caches the request body with the metadata of h
func (d *demoRoom) store(h cache.Handle) server.HandlerFunc {
	return func(ctx *adapter.HttpContext) error {
		peer, ok := peerParam(ctx)
		if !ok {
			return nil
		}

		b := d.pool.Rent()
		defer d.pool.Return(b)
		if _, err := ctx.ReadBody(b); err != nil {
			return ctx.CloseError(http.StatusBadRequest, err.Error())
		}
		if b.Length() == 0 {
			return ctx.CloseError(http.StatusBadRequest, "empty body")
		}

		h.Apply(b)
		if err := d.registry.Store(peer, b); err != nil {
			return err
		}
		return ctx.CloseJSON(http.StatusCreated, map[string]int{"cached": d.registry.Len()})
	}
}

// join replays the chat history and the state of every other peer
func (d *demoRoom) join(ctx *adapter.HttpContext) error {
	peer, ok := peerParam(ctx)
	if !ok {
		return nil
	}

	d.chat.SendToPeer(peer, 0, false)
	d.state.SendToPeer(peer, 0, false)

	d.mu.Lock()
	messages := d.inbox[peer]
	delete(d.inbox, peer)
	d.mu.Unlock()

	if messages == nil {
		messages = []deliveredMessage{}
	}
	return ctx.CloseJSON(http.StatusOK, messages)
}

// leave purges everything the peer cached
func (d *demoRoom) leave(ctx *adapter.HttpContext) error {
	peer, ok := peerParam(ctx)
	if !ok {
		return nil
	}
	return ctx.CloseJSON(http.StatusOK, map[string]int{"purged": d.registry.PeerDisconnected(peer)})
}

// peerParam parses the peer query parameter. It answers with 400 and returns
// false if the parameter is missing or invalid.
func peerParam(ctx *adapter.HttpContext) (common.PeerID, bool) {
	raw := ctx.Query().Get("peer")
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		ctx.CloseError(http.StatusBadRequest, fmt.Sprintf("invalid peer %q", raw))
		return 0, false
	}
	return common.PeerID(id), true
}
