// Package session implements the simulation side of the cross-process bridge.
//
// A Session keeps one persistent duplex connection to the out-of-process HTTP
// host. Its lifecycle per connection:
//
//	Disconnected -> Connecting -> Connected -> Disconnected -> ...
//	Close from any state -> Closed (terminal)
//
// Connect algorithm:
//
//   - dial the host through the configured transport.IConnector
//   - on failure wait ReconnectInterval (1s by default) and retry, forever,
//     until the session is closed
//   - on success write an Initialize frame (the Options) followed by an
//     AddRoutes frame (the route table). Both are written before the
//     connection is marked Connected, so the host never sees a
//     DispatchResponse before the handshake.
//
// While connected two goroutines run in an errgroup:
//
//   - the reader reads frames into a reusable scratch buffer, decodes
//     DispatchRequest frames and runs the handler on a bounded worker
//     goroutine. Unknown frame types are logged and skipped.
//   - the writer drains the connection's unbounded MPSC queue (lib/queue) and
//     writes every frame with one call from a pooled buffer (lib/buffer)
//
// Any read, write or decode error ends the connection: both goroutines stop,
// queued frames are dropped and the session reconnects. Requests in flight are
// lost, replies bound to the old connection are dropped.
//
// Sends while not connected are dropped with a logged error. There is no
// queueing before the first connection.
package session
