package unix

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/ValentinKolb/dNet/bridge/common"
	"github.com/ValentinKolb/dNet/bridge/transport"
)

func init() {
	transport.Register("unix", NewConnector)
}

// connector implements the IConnector interface for Unix sockets
type connector struct{}

// NewConnector creates a Unix socket connector
func NewConnector() transport.IConnector {
	return &connector{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnector)
// --------------------------------------------------------------------------

func (c *connector) GetName() string {
	return "unix"
}

func (c *connector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", endpoint)
}

func (c *connector) Listen(endpoint string) (net.Listener, error) {
	// Remove existing socket file if it exists
	if _, err := os.Stat(endpoint); err == nil {
		if err := os.RemoveAll(endpoint); err != nil {
			return nil, fmt.Errorf("failed to remove existing socket: %w", err)
		}
		transport.Logger.Infof("removed stale socket %s", endpoint)
	}

	listener, err := net.Listen("unix", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix socket: %w", err)
	}
	return listener, nil
}

// UpgradeConnection is a no-op, unix sockets have no tunables
func (c *connector) UpgradeConnection(conn net.Conn, config common.SocketConfig) error {
	return nil
}
