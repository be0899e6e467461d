// Package host implements the out-of-process HTTP host of the bridge.
//
// The host listens for the simulation on a tcp address or unix socket. Per
// connection the simulation first sends its Options (Initialize) and its route
// table (AddRoutes). The host then:
//
//   - starts a public HTTP server on Options.Address (if set)
//   - builds a chi router for the route table, with CORS when
//     Options.CORSOrigins is set
//   - forwards every matching request as a DispatchRequest frame with a fresh
//     uuid and waits for the DispatchResponse carrying the same id
//
// Errors the host answers itself are JSON bodies {"status", "error"}:
//
//	404 no route, 405 wrong method, 413 body too large,
//	502 connection lost while waiting, 503 no simulation, 504 timeout
//
// A newer simulation connection replaces the current one. Requests waiting on
// the replaced connection fail with 502.
//
// Metrics in Prometheus format are served on GET /metrics.
package host
