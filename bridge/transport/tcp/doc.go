// Package tcp implements the bridge connector for TCP sockets. Importing the
// package registers the connector as "tcp" in bridge/transport.
package tcp
