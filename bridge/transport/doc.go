// Package transport defines the connector abstraction the bridge runs on.
//
// A connector knows how to dial, listen and tune one kind of stream socket.
// The framing, reconnect logic and dispatch live in bridge/session and
// bridge/host and are shared by every connector.
//
// Implementations:
//
//   - tcp: TCP sockets with Nagle's algorithm disabled and keep-alive
//
//   - unix: Unix domain sockets for a host on the same machine. The socket
//     file is removed before listening.
package transport
