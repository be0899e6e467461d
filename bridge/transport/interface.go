package transport

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/ValentinKolb/dNet/bridge/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IConnector defines the transport specific operations of a bridge endpoint.
// The simulation side dials with Connect, the host side accepts with Listen.
type IConnector interface {
	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// Connect establishes a single connection to endpoint. It returns early
	// with an error when ctx is cancelled.
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// Listen creates a listener on endpoint
	Listen(endpoint string) (net.Listener, error)

	// UpgradeConnection applies protocol specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.SocketConfig) error
}

// Names lists the available transports, the first one is the default
var Names = []string{"tcp", "unix"}

// registry is filled by the transport packages in init
var registry = map[string]func() IConnector{}

// Register makes a connector available under name
func Register(name string, factory func() IConnector) {
	registry[name] = factory
	Logger.Debugf("registered transport %s", name)
}

// ByName returns the connector registered under name. The transport package
// must be imported for its connector to be registered.
func ByName(name string) (IConnector, error) {
	if name == "" {
		name = Names[0]
	}
	factory, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown transport %q, must be one of %s", name, strings.Join(Names, ", "))
	}
	return factory(), nil
}
