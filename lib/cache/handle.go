package cache

import (
	"github.com/ValentinKolb/dNet/lib/buffer"
	"github.com/ValentinKolb/dNet/lib/common"
)

// Handle addresses the cached history of one message kind. It is obtained
// from Registry.Create and stays bound to that registry.
type Handle struct {
	ID       int
	Mode     common.CacheMode
	registry *Registry
}

// Apply stamps the handle's id and mode on a buffer about to be sent, so the
// sender can pass it to Registry.Store
func (h Handle) Apply(b *buffer.Buffer) {
	b.CacheID = h.ID
	b.CacheMode = h.Mode
}

// SendToPeer replays the matching history to peer and returns the number of
// entries sent. For the Peer class entries of every owner are considered.
// Entries owned by peer itself are skipped unless includeOwnerCache is set.
// Nothing to replay is not an error.
func (h Handle) SendToPeer(peer common.PeerID, groupID int, includeOwnerCache bool) int {
	if h.registry == nil {
		return 0
	}
	return h.registry.replay(h, peer, groupID, nil, includeOwnerCache)
}

// SendFromToPeer replays the matching history owned by from to peer to and
// returns the number of entries sent. Entries owned by to are skipped unless
// includeOwnerCache is set.
func (h Handle) SendFromToPeer(from, to common.PeerID, groupID int, includeOwnerCache bool) int {
	if h.registry == nil {
		return 0
	}
	return h.registry.replay(h, to, groupID, &from, includeOwnerCache)
}
