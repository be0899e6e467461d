// Package cache implements the message cache registry.
//
// Peers send messages that must be seen by late joiners (spawned objects,
// ownership changes, room settings). Such messages are stored with a
// common.CacheMode describing who they are addressed to (Global, Group, Peer)
// and how they are retained (New appends, Overwrite replaces by id). When a
// peer joins, the caller replays the relevant history through a Handle:
//
//	reg := cache.NewRegistry(sender)
//	spawn, _ := reg.Create(common.CacheNew | common.CacheGroup)
//	...
//	spawn.SendToPeer(joiner, groupID, false)
//
// Entries flagged AutoDestroy are purged by PeerDisconnected when their owner
// leaves. Replay is delivered through ICacheSender, the registry never touches
// the network itself.
package cache
