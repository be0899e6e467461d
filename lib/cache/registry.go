package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dNet/lib/buffer"
	"github.com/ValentinKolb/dNet/lib/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("cache")

// entryList is one address slot (global, a group or a peer) in insertion order
type entryList struct {
	mu      sync.Mutex
	entries []*Entry
	dead    bool // set when the slot was destroyed, writers must fetch a new one
}

// Registry stores cached messages and replays them to peers.
//
// Entries live in three kinds of slots: one global slot, one slot per group id
// and one slot per owning peer (for the Peer address class). Lookups are
// linear scans over one slot. New entries accumulate until they are removed
// explicitly, purged with their owner (AutoDestroy) or their group is destroyed.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	sender ICacheSender
	nextID atomic.Int64

	global atomic.Pointer[entryList]
	groups *xsync.MapOf[int, *entryList]
	peers  *xsync.MapOf[common.PeerID, *entryList]
}

// NewRegistry creates an empty registry that replays entries through sender
func NewRegistry(sender ICacheSender) *Registry {
	r := &Registry{
		sender: sender,
		groups: xsync.NewMapOf[int, *entryList](),
		peers:  xsync.NewMapOf[common.PeerID, *entryList](),
	}
	r.global.Store(&entryList{})
	return r
}

// --------------------------------------------------------------------------
// Handles
// --------------------------------------------------------------------------

// Create returns a handle for mode. An id is allocated from the registry's
// counter only if mode has the Overwrite bit, New handles use id 0.
func (r *Registry) Create(mode common.CacheMode) (Handle, error) {
	if err := validateHandleMode(mode); err != nil {
		return Handle{}, err
	}
	id := 0
	if mode.Has(common.CacheOverwrite) {
		id = int(r.nextID.Add(1))
	}
	return Handle{ID: id, Mode: mode, registry: r}, nil
}

// CreateWithID returns a handle with an explicit id
func (r *Registry) CreateWithID(id int, mode common.CacheMode) (Handle, error) {
	if err := validateHandleMode(mode); err != nil {
		return Handle{}, err
	}
	return Handle{ID: id, Mode: mode, registry: r}, nil
}

func validateHandleMode(mode common.CacheMode) error {
	if mode == common.CacheNone {
		return fmt.Errorf("%w: a cache handle needs a mode other than None", common.ErrInvalidCacheMode)
	}
	return mode.Validate()
}

// --------------------------------------------------------------------------
// Insertion
// --------------------------------------------------------------------------

// Store caches the written bytes of b using the buffer's cache metadata.
// The payload is copied, b can be returned to its pool right after.
// A buffer with CacheNone is not cached.
func (r *Registry) Store(owner common.PeerID, b *buffer.Buffer) error {
	if b.CacheMode == common.CacheNone {
		return nil
	}
	if err := b.CacheMode.Validate(); err != nil {
		return err
	}
	r.put(&Entry{
		ID:                  b.CacheID,
		Mode:                b.CacheMode,
		Payload:             b.CopyBytes(),
		Owner:               owner,
		GroupID:             b.GroupID,
		DeliveryMode:        b.DeliveryMode,
		Target:              b.Target,
		SequenceChannel:     b.SequenceChannel,
		DestroyOnDisconnect: b.CacheMode.Has(common.CacheAutoDestroy),
	})
	return nil
}

// Put caches a copy of e. Overwrite entries replace the entry with the same id
// in the same slot, New entries are appended.
func (r *Registry) Put(e Entry) error {
	if e.Mode == common.CacheNone {
		return fmt.Errorf("%w: entries need a mode other than None", common.ErrInvalidCacheMode)
	}
	if err := e.Mode.Validate(); err != nil {
		return err
	}
	c := e.clone()
	c.DestroyOnDisconnect = c.DestroyOnDisconnect || c.Mode.Has(common.CacheAutoDestroy)
	r.put(&c)
	return nil
}

func (r *Registry) put(e *Entry) {
	for {
		list := r.slotFor(e.Mode.AddressClass(), e.GroupID, e.Owner)

		list.mu.Lock()
		if list.dead {
			// the slot was destroyed between lookup and lock
			list.mu.Unlock()
			continue
		}

		replaced := false
		if e.Mode.Has(common.CacheOverwrite) {
			for i, old := range list.entries {
				if old.ID == e.ID && old.Mode.Has(common.CacheOverwrite) {
					list.entries[i] = e
					replaced = true
					break
				}
			}
		}
		if !replaced {
			list.entries = append(list.entries, e)
		}
		list.mu.Unlock()

		Logger.Debugf("cached entry id=%d mode=%s owner=%d group=%d replaced=%t (%d bytes)",
			e.ID, e.Mode, e.Owner, e.GroupID, replaced, len(e.Payload))
		return
	}
}

// slotFor returns the slot for an address class, creating it if needed
func (r *Registry) slotFor(class common.CacheMode, groupID int, owner common.PeerID) *entryList {
	switch class {
	case common.CacheGroup:
		list, _ := r.groups.LoadOrCompute(groupID, func() *entryList { return &entryList{} })
		return list
	case common.CachePeer:
		list, _ := r.peers.LoadOrCompute(owner, func() *entryList { return &entryList{} })
		return list
	default:
		return r.global.Load()
	}
}

// --------------------------------------------------------------------------
// Lookup and replay
// --------------------------------------------------------------------------

// collect returns the entries matching h in insertion order. For the Peer
// class a nil from scans every owner, otherwise only from's slot. For the
// other classes a non nil from restricts the result to entries owned by from.
func (r *Registry) collect(h Handle, groupID int, from *common.PeerID) []*Entry {
	var lists []*entryList

	switch h.Mode.AddressClass() {
	case common.CacheGlobal:
		lists = append(lists, r.global.Load())
	case common.CacheGroup:
		if list, ok := r.groups.Load(groupID); ok {
			lists = append(lists, list)
		}
	case common.CachePeer:
		if from != nil {
			if list, ok := r.peers.Load(*from); ok {
				lists = append(lists, list)
			}
		} else {
			r.peers.Range(func(_ common.PeerID, list *entryList) bool {
				lists = append(lists, list)
				return true
			})
		}
	}

	var out []*Entry
	for _, list := range lists {
		list.mu.Lock()
		for _, e := range list.entries {
			if !e.matches(h) {
				continue
			}
			if from != nil && e.Owner != *from {
				continue
			}
			out = append(out, e)
		}
		list.mu.Unlock()
	}
	return out
}

// replay pushes the matching entries to peer and returns how many were sent
func (r *Registry) replay(h Handle, to common.PeerID, groupID int, from *common.PeerID, includeOwnerCache bool) int {
	entries := r.collect(h, groupID, from)
	if len(entries) == 0 {
		return 0
	}
	if r.sender == nil {
		Logger.Warningf("cache replay for id=%d mode=%s skipped: no sender configured", h.ID, h.Mode)
		return 0
	}

	sent := 0
	for _, e := range entries {
		if e.Owner == to && !includeOwnerCache {
			continue
		}
		r.sender.SendCached(to, *e)
		sent++
	}
	return sent
}

// Find returns copies of the entries matching h in insertion order. For the
// Peer class entries of every owner are returned.
func (r *Registry) Find(h Handle, groupID int) []Entry {
	entries := r.collect(h, groupID, nil)
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.clone())
	}
	return out
}

// Len returns the number of cached entries
func (r *Registry) Len() int {
	n := 0
	r.forEachSlot(func(list *entryList) {
		list.mu.Lock()
		n += len(list.entries)
		list.mu.Unlock()
	})
	return n
}

// --------------------------------------------------------------------------
// Removal
// --------------------------------------------------------------------------

// Remove deletes the entries matching h and returns how many were removed
func (r *Registry) Remove(h Handle, groupID int) int {
	var lists []*entryList
	switch h.Mode.AddressClass() {
	case common.CacheGlobal:
		lists = append(lists, r.global.Load())
	case common.CacheGroup:
		if list, ok := r.groups.Load(groupID); ok {
			lists = append(lists, list)
		}
	case common.CachePeer:
		r.peers.Range(func(_ common.PeerID, list *entryList) bool {
			lists = append(lists, list)
			return true
		})
	}

	removed := 0
	for _, list := range lists {
		removed += list.removeWhere(func(e *Entry) bool { return e.matches(h) })
	}
	return removed
}

// PeerDisconnected purges every AutoDestroy entry owned by peer, in all
// slots, and returns how many were removed
func (r *Registry) PeerDisconnected(peer common.PeerID) int {
	removed := 0
	r.forEachSlot(func(list *entryList) {
		removed += list.removeWhere(func(e *Entry) bool {
			return e.Owner == peer && e.DestroyOnDisconnect
		})
	})
	if removed > 0 {
		Logger.Debugf("purged %d auto destroy entries of peer %d", removed, peer)
	}
	return removed
}

// DestroyGroup drops the slot of a group and returns how many entries it held
func (r *Registry) DestroyGroup(groupID int) int {
	list, ok := r.groups.LoadAndDelete(groupID)
	if !ok {
		return 0
	}
	return list.kill()
}

// Clear drops every entry
func (r *Registry) Clear() {
	old := r.global.Swap(&entryList{})
	old.kill()
	r.groups.Range(func(id int, list *entryList) bool {
		r.groups.Delete(id)
		list.kill()
		return true
	})
	r.peers.Range(func(id common.PeerID, list *entryList) bool {
		r.peers.Delete(id)
		list.kill()
		return true
	})
}

func (r *Registry) forEachSlot(fn func(list *entryList)) {
	fn(r.global.Load())
	r.groups.Range(func(_ int, list *entryList) bool {
		fn(list)
		return true
	})
	r.peers.Range(func(_ common.PeerID, list *entryList) bool {
		fn(list)
		return true
	})
}

// removeWhere deletes matching entries keeping the order of the rest
func (l *entryList) removeWhere(pred func(e *Entry) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	removed := 0
	for _, e := range l.entries {
		if pred(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// clear the tail so removed entries can be collected
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = nil
	}
	l.entries = kept
	return removed
}

// kill marks the slot as destroyed and returns the number of entries it held
func (l *entryList) kill() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.entries)
	l.entries = nil
	l.dead = true
	return n
}
