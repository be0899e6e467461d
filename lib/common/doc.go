// Package common defines the addressing vocabulary shared by the buffer pool,
// the message cache and every collaborator that sends messages through them.
//
// Key Components:
//
//   - CacheMode: bitset combining an address class (Global, Group, Peer) with a
//     retention policy (New, Overwrite) and the optional AutoDestroy flag.
//
//   - DeliveryMode: reliability/ordering class requested from the game-state
//     transport (reliable ordered, unreliable, sequenced, ...).
//
//   - Target and RouteTarget: recipient scope of a message or a route reply.
//
//   - PeerID: identity of a connected peer as seen by the cache.
package common
