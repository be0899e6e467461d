// Package unix implements the bridge connector for Unix domain sockets, the
// local IPC channel between the simulation and a host on the same machine.
// Importing the package registers the connector as "unix" in bridge/transport.
package unix
