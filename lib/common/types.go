package common

import (
	"errors"
	"fmt"
	"strings"
)

// PeerID identifies a connected peer
type PeerID int32

// --------------------------------------------------------------------------
// Cache Mode
// --------------------------------------------------------------------------

// CacheMode is a bitset describing where a cached message is addressed
// (Global, Group, Peer), how it is retained (New, Overwrite) and whether it
// is purged when its owner disconnects (AutoDestroy).
type CacheMode uint8

const (
	CacheNone        CacheMode = 0
	CacheNew         CacheMode = 1 << 0 // append a new entry
	CacheOverwrite   CacheMode = 1 << 1 // replace the entry sharing the same id
	CacheGlobal      CacheMode = 1 << 2 // addressed to everyone
	CacheGroup       CacheMode = 1 << 3 // addressed to one group
	CachePeer        CacheMode = 1 << 4 // addressed to the owning peer's slot
	CacheAutoDestroy CacheMode = 1 << 5 // purge when the owning peer disconnects
)

const (
	addressMask   = CacheGlobal | CacheGroup | CachePeer
	retentionMask = CacheNew | CacheOverwrite
)

// ErrInvalidCacheMode is returned by Validate for unusable combinations
var ErrInvalidCacheMode = errors.New("invalid cache mode")

// Has reports whether all bits of flag are set
func (m CacheMode) Has(flag CacheMode) bool {
	return flag != 0 && m&flag == flag
}

// AddressClass returns only the address bits (Global, Group or Peer)
func (m CacheMode) AddressClass() CacheMode {
	return m & addressMask
}

// Retention returns only the retention bits (New or Overwrite)
func (m CacheMode) Retention() CacheMode {
	return m & retentionMask
}

// Validate checks that exactly one address class and exactly one retention
// policy are set. CacheNone is valid and means "do not cache".
func (m CacheMode) Validate() error {
	if m == CacheNone {
		return nil
	}
	if m&^(addressMask|retentionMask|CacheAutoDestroy) != 0 {
		return fmt.Errorf("%w: unknown bits in %08b", ErrInvalidCacheMode, uint8(m))
	}
	switch m.AddressClass() {
	case CacheGlobal, CacheGroup, CachePeer:
	default:
		return fmt.Errorf("%w: %s needs exactly one of Global, Group, Peer", ErrInvalidCacheMode, m)
	}
	switch m.Retention() {
	case CacheNew, CacheOverwrite:
	default:
		return fmt.Errorf("%w: %s needs exactly one of New, Overwrite", ErrInvalidCacheMode, m)
	}
	return nil
}

// String returns the flags joined with "|", e.g. "Overwrite|Peer"
func (m CacheMode) String() string {
	if m == CacheNone {
		return "None"
	}
	names := []struct {
		flag CacheMode
		name string
	}{
		{CacheNew, "New"},
		{CacheOverwrite, "Overwrite"},
		{CacheGlobal, "Global"},
		{CacheGroup, "Group"},
		{CachePeer, "Peer"},
		{CacheAutoDestroy, "AutoDestroy"},
	}
	var parts []string
	for _, n := range names {
		if m&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("CacheMode(%d)", uint8(m))
	}
	return strings.Join(parts, "|")
}

// --------------------------------------------------------------------------
// Delivery Mode
// --------------------------------------------------------------------------

// DeliveryMode selects the reliability and ordering of the game-state transport
type DeliveryMode uint8

const (
	ReliableOrdered DeliveryMode = iota
	Unreliable
	ReliableUnordered
	Sequenced
	ReliableSequenced
)

// String returns the string representation of a DeliveryMode
func (d DeliveryMode) String() string {
	switch d {
	case ReliableOrdered:
		return "reliableOrdered"
	case Unreliable:
		return "unreliable"
	case ReliableUnordered:
		return "reliableUnordered"
	case Sequenced:
		return "sequenced"
	case ReliableSequenced:
		return "reliableSequenced"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Targets
// --------------------------------------------------------------------------

// Target selects the recipients of a message
type Target uint8

const (
	TargetAll Target = iota
	TargetAllExceptSelf
	TargetSelf
	TargetGroupMembers
	TargetGroupMembersExceptSelf
)

// String returns the string representation of a Target
func (t Target) String() string {
	switch t {
	case TargetAll:
		return "all"
	case TargetAllExceptSelf:
		return "allExceptSelf"
	case TargetSelf:
		return "self"
	case TargetGroupMembers:
		return "groupMembers"
	case TargetGroupMembersExceptSelf:
		return "groupMembersExceptSelf"
	default:
		return "unknown"
	}
}

// RouteTarget selects the recipients of a route reply. Self (the requester)
// is the default.
type RouteTarget uint8

const (
	RouteSelf RouteTarget = iota
	RouteAll
	RouteAllExceptSelf
	RouteGroupMembers
	RouteGroupMembersExceptSelf
)

// String returns the string representation of a RouteTarget
func (t RouteTarget) String() string {
	switch t {
	case RouteSelf:
		return "self"
	case RouteAll:
		return "all"
	case RouteAllExceptSelf:
		return "allExceptSelf"
	case RouteGroupMembers:
		return "groupMembers"
	case RouteGroupMembersExceptSelf:
		return "groupMembersExceptSelf"
	default:
		return "unknown"
	}
}
