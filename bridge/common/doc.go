// Package common provides the records and configuration shared by both ends
// of the cross-process bridge: the simulation side (bridge/session,
// bridge/server) and the out-of-process HTTP host (bridge/host).
//
// The package focuses on:
//   - The frame message types and the records carried in frame payloads
//   - Configuration structs for the session, the route server and the host
//   - The custom logger factory plugged into Dragonboat's logger package
//
// Key Components:
//
//   - MessageType: the one byte tag of every frame (Initialize, AddRoutes,
//     DispatchRequest, DispatchResponse)
//
//   - Options, Route, Request, Response: the records serialized into frame
//     payloads. Options and the route table are sent once per connection,
//     requests and responses are matched by their id.
//
//   - SessionConfig, ServerConfig, HostConfig: plain configuration structs with
//     String() printers used by the CLI on startup.
//
//   - Logger: logging implementation that formats every line as
//     "LEVEL | name | message" and is installed with InitLoggers.
package common
