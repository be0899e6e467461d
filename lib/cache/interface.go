package cache

import (
	"github.com/ValentinKolb/dNet/lib/common"
)

// ICacheSender delivers cached payloads to peers. It is implemented by the
// game-state transport and called by the registry when history is replayed.
// The entry's payload is shared with the registry and must not be modified.
type ICacheSender interface {
	SendCached(to common.PeerID, entry Entry)
}

// SenderFunc adapts a function to ICacheSender
type SenderFunc func(to common.PeerID, entry Entry)

// SendCached calls f(to, entry)
func (f SenderFunc) SendCached(to common.PeerID, entry Entry) {
	f(to, entry)
}

// Entry is one retained message
type Entry struct {
	// ID is meaningful for Overwrite entries. New entries share the id of the
	// handle they were created with (0 unless given explicitly).
	ID      int
	Mode    common.CacheMode
	Payload []byte

	Owner   common.PeerID
	GroupID int

	DeliveryMode    common.DeliveryMode
	Target          common.Target
	SequenceChannel byte

	// DestroyOnDisconnect is set for AutoDestroy entries
	DestroyOnDisconnect bool
}

// clone returns a copy with its own payload
func (e *Entry) clone() Entry {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	return c
}

// matches reports whether the entry belongs to the handle (same id and retention policy)
func (e *Entry) matches(h Handle) bool {
	return e.ID == h.ID && e.Mode.Retention() == h.Mode.Retention()
}
