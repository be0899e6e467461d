package session

// State is the connection state of a session
type State int32

const (
	// StateDisconnected means no connection, a reconnect is pending
	StateDisconnected State = iota
	// StateConnecting means a dial or handshake is in progress
	StateConnecting
	// StateConnected means the handshake was sent and frames flow in both directions
	StateConnected
	// StateClosed is terminal, the session can not be restarted
	StateClosed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
