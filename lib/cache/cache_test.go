package cache

import (
	"errors"
	"sync"
	"testing"

	"github.com/ValentinKolb/dNet/lib/buffer"
	"github.com/ValentinKolb/dNet/lib/common"
)

// recorder collects replayed entries
type recorder struct {
	mu   sync.Mutex
	sent []sentEntry
}

type sentEntry struct {
	to    common.PeerID
	entry Entry
}

func (r *recorder) SendCached(to common.PeerID, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentEntry{to: to, entry: entry})
}

func (r *recorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, s := range r.sent {
		out[i] = string(s.entry.Payload)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// store writes payload into a fresh buffer stamped with h and caches it
func store(t *testing.T, reg *Registry, h Handle, owner common.PeerID, groupID int, payload string) {
	t.Helper()
	b := buffer.New(64)
	b.WriteBytes([]byte(payload))
	b.GroupID = groupID
	h.Apply(b)
	if err := reg.Store(owner, b); err != nil {
		t.Fatalf("Store(%q) error = %v", payload, err)
	}
}

func TestCreate(t *testing.T) {
	reg := NewRegistry(nil)

	a, err := reg.Create(common.CacheOverwrite | common.CachePeer)
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	b, _ := reg.Create(common.CacheOverwrite | common.CacheGlobal)
	if a.ID == 0 || b.ID == 0 || a.ID == b.ID {
		t.Errorf("overwrite handles got ids %d and %d, want distinct non zero ids", a.ID, b.ID)
	}

	n, _ := reg.Create(common.CacheNew | common.CacheGroup)
	if n.ID != 0 {
		t.Errorf("new handle got id %d, want 0", n.ID)
	}

	explicit, _ := reg.CreateWithID(42, common.CacheNew|common.CacheGlobal)
	if explicit.ID != 42 {
		t.Errorf("CreateWithID id = %d, want 42", explicit.ID)
	}

	invalid := []common.CacheMode{
		common.CacheNone,
		common.CacheGlobal,
		common.CacheNew,
		common.CacheNew | common.CacheOverwrite | common.CacheGlobal,
		common.CacheNew | common.CacheGlobal | common.CachePeer,
	}
	for _, mode := range invalid {
		if _, err := reg.Create(mode); !errors.Is(err, common.ErrInvalidCacheMode) {
			t.Errorf("Create(%s) error = %v, want ErrInvalidCacheMode", mode, err)
		}
	}
}

// TestOverwriteKeepsLatest stores two messages under one overwrite handle,
// only the second one is replayed
func TestOverwriteKeepsLatest(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(rec)

	h, _ := reg.Create(common.CacheOverwrite | common.CachePeer)
	store(t, reg, h, 1, 0, "first")
	store(t, reg, h, 1, 0, "second")

	if got := len(reg.Find(h, 0)); got != 1 {
		t.Fatalf("Find returned %d entries, want 1", got)
	}

	if sent := h.SendToPeer(2, 0, false); sent != 1 {
		t.Fatalf("SendToPeer sent %d, want 1", sent)
	}
	if got := rec.payloads(); !equal(got, []string{"second"}) {
		t.Errorf("replayed %v, want [second]", got)
	}
	if rec.sent[0].to != 2 || rec.sent[0].entry.Owner != 1 {
		t.Errorf("replayed to %d from owner %d, want to 2 from owner 1", rec.sent[0].to, rec.sent[0].entry.Owner)
	}
}

// TestNewAccumulatesInOrder stores three group messages and replays them in order
func TestNewAccumulatesInOrder(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(rec)

	h, _ := reg.Create(common.CacheNew | common.CacheGroup)
	store(t, reg, h, 1, 7, "a")
	store(t, reg, h, 3, 7, "b")
	store(t, reg, h, 1, 7, "c")
	// other group
	store(t, reg, h, 1, 8, "x")

	if sent := h.SendToPeer(2, 7, false); sent != 3 {
		t.Fatalf("SendToPeer sent %d, want 3", sent)
	}
	if got := rec.payloads(); !equal(got, []string{"a", "b", "c"}) {
		t.Errorf("replayed %v, want [a b c]", got)
	}
	if reg.Len() != 4 {
		t.Errorf("Len() = %d, want 4", reg.Len())
	}
}

func TestReplaySkipsOwner(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(rec)

	h, _ := reg.Create(common.CacheNew | common.CacheGlobal)
	store(t, reg, h, 1, 0, "mine")
	store(t, reg, h, 2, 0, "theirs")

	if sent := h.SendToPeer(1, 0, false); sent != 1 {
		t.Errorf("SendToPeer without owner cache sent %d, want 1", sent)
	}
	if sent := h.SendToPeer(1, 0, true); sent != 2 {
		t.Errorf("SendToPeer with owner cache sent %d, want 2", sent)
	}
	if got := rec.payloads(); !equal(got, []string{"theirs", "mine", "theirs"}) {
		t.Errorf("replayed %v", got)
	}
}

func TestSendFromToPeer(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(rec)

	h, _ := reg.Create(common.CacheNew | common.CachePeer)
	store(t, reg, h, 1, 0, "from-1")
	store(t, reg, h, 2, 0, "from-2")
	store(t, reg, h, 1, 0, "from-1-again")

	if sent := h.SendFromToPeer(1, 5, 0, false); sent != 2 {
		t.Fatalf("SendFromToPeer sent %d, want 2", sent)
	}
	if got := rec.payloads(); !equal(got, []string{"from-1", "from-1-again"}) {
		t.Errorf("replayed %v", got)
	}

	// the receiver owns the entries, they are skipped
	if sent := h.SendFromToPeer(2, 2, 0, false); sent != 0 {
		t.Errorf("SendFromToPeer to the owner sent %d, want 0", sent)
	}
}

func TestMissIsNoop(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(rec)

	h, _ := reg.Create(common.CacheOverwrite | common.CacheGroup)
	if sent := h.SendToPeer(1, 99, false); sent != 0 {
		t.Errorf("SendToPeer on empty cache sent %d", sent)
	}
	if sent := h.SendFromToPeer(3, 1, 99, true); sent != 0 {
		t.Errorf("SendFromToPeer on empty cache sent %d", sent)
	}
	if len(rec.sent) != 0 {
		t.Errorf("sender was called %d times", len(rec.sent))
	}

	var zero Handle
	if zero.SendToPeer(1, 0, false) != 0 {
		t.Error("zero handle replayed entries")
	}
}

// TestHandlesAreIsolated checks that entries only match handles with the same id and retention
func TestHandlesAreIsolated(t *testing.T) {
	reg := NewRegistry(nil)

	a, _ := reg.Create(common.CacheOverwrite | common.CacheGlobal)
	b, _ := reg.Create(common.CacheOverwrite | common.CacheGlobal)
	n, _ := reg.Create(common.CacheNew | common.CacheGlobal)

	store(t, reg, a, 1, 0, "a")
	store(t, reg, b, 1, 0, "b")
	store(t, reg, n, 1, 0, "n")

	if got := reg.Find(a, 0); len(got) != 1 || string(got[0].Payload) != "a" {
		t.Errorf("Find(a) = %v", got)
	}
	if got := reg.Find(n, 0); len(got) != 1 || string(got[0].Payload) != "n" {
		t.Errorf("Find(n) = %v", got)
	}

	if removed := reg.Remove(a, 0); removed != 1 {
		t.Errorf("Remove(a) = %d, want 1", removed)
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}
}

func TestAutoDestroy(t *testing.T) {
	reg := NewRegistry(nil)

	keep, _ := reg.Create(common.CacheNew | common.CacheGlobal)
	drop, _ := reg.Create(common.CacheNew | common.CacheGlobal | common.CacheAutoDestroy)
	dropPeer, _ := reg.Create(common.CacheOverwrite | common.CachePeer | common.CacheAutoDestroy)

	store(t, reg, keep, 1, 0, "keep")
	store(t, reg, drop, 1, 0, "drop")
	store(t, reg, drop, 2, 0, "other owner")
	store(t, reg, dropPeer, 1, 0, "peer state")

	if removed := reg.PeerDisconnected(1); removed != 2 {
		t.Errorf("PeerDisconnected removed %d, want 2", removed)
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}
	if got := reg.Find(drop, 0); len(got) != 1 || got[0].Owner != 2 {
		t.Errorf("Find(drop) = %v, want only the entry of peer 2", got)
	}
}

func TestStoreCopiesPayload(t *testing.T) {
	pool := buffer.NewPool(buffer.DefaultPoolConfig())
	reg := NewRegistry(nil)
	h, _ := reg.Create(common.CacheOverwrite | common.CacheGlobal)

	b := pool.Rent()
	b.WriteBytes([]byte("state"))
	h.Apply(b)
	if err := reg.Store(1, b); err != nil {
		t.Fatal(err)
	}
	pool.Return(b)

	// the pooled buffer is reused and overwritten
	b = pool.Rent()
	b.WriteBytes([]byte("XXXXX"))
	defer pool.Return(b)

	got := reg.Find(h, 0)
	if len(got) != 1 || string(got[0].Payload) != "state" {
		t.Errorf("Find = %v, want payload state", got)
	}

	// Find returns copies
	got[0].Payload[0] = 'Z'
	if again := reg.Find(h, 0); string(again[0].Payload) != "state" {
		t.Errorf("mutating a found entry changed the cache: %q", again[0].Payload)
	}
}

func TestStoreUncached(t *testing.T) {
	reg := NewRegistry(nil)
	b := buffer.New(16)
	b.WriteBytes([]byte("nope"))
	if err := reg.Store(1, b); err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d, want 0", reg.Len())
	}

	b.CacheMode = common.CacheNew
	if err := reg.Store(1, b); !errors.Is(err, common.ErrInvalidCacheMode) {
		t.Errorf("Store with invalid mode error = %v", err)
	}
}

func TestDestroyGroupAndClear(t *testing.T) {
	reg := NewRegistry(nil)
	h, _ := reg.Create(common.CacheNew | common.CacheGroup)
	g, _ := reg.Create(common.CacheNew | common.CacheGlobal)

	store(t, reg, h, 1, 3, "a")
	store(t, reg, h, 1, 3, "b")
	store(t, reg, h, 1, 4, "c")
	store(t, reg, g, 1, 0, "d")

	if n := reg.DestroyGroup(3); n != 2 {
		t.Errorf("DestroyGroup(3) = %d, want 2", n)
	}
	if n := reg.DestroyGroup(3); n != 0 {
		t.Errorf("second DestroyGroup(3) = %d, want 0", n)
	}

	// the group can be used again after it was destroyed
	store(t, reg, h, 1, 3, "e")
	if got := reg.Find(h, 3); len(got) != 1 || string(got[0].Payload) != "e" {
		t.Errorf("Find after re-use = %v", got)
	}

	reg.Clear()
	if reg.Len() != 0 {
		t.Errorf("Len() after Clear = %d", reg.Len())
	}
}

func TestConcurrentStore(t *testing.T) {
	reg := NewRegistry(nil)
	h, _ := reg.Create(common.CacheNew | common.CachePeer)

	const peers = 8
	const perPeer = 200

	var wg sync.WaitGroup
	for p := 1; p <= peers; p++ {
		wg.Add(1)
		go func(owner common.PeerID) {
			defer wg.Done()
			for i := 0; i < perPeer; i++ {
				if err := reg.Put(Entry{ID: h.ID, Mode: h.Mode, Owner: owner, Payload: []byte{byte(i)}}); err != nil {
					t.Error(err)
					return
				}
			}
		}(common.PeerID(p))
	}
	wg.Wait()

	if reg.Len() != peers*perPeer {
		t.Errorf("Len() = %d, want %d", reg.Len(), peers*perPeer)
	}
	for p := 1; p <= peers; p++ {
		if n := h.SendFromToPeer(common.PeerID(p), 0, 0, false); n != 0 {
			// no sender configured
			t.Errorf("SendFromToPeer without sender = %d", n)
		}
	}
}
