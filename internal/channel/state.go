package channel

// ConnectionState is the lifecycle state of the managed connection. It is
// owned exclusively by the Manager and transitions only on socket lifecycle
// events.
type ConnectionState int

const (
	// StateDisconnected means no connection exists and none is being
	// attempted.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a dial is in progress.
	StateConnecting

	// StateConnected means the transport acknowledged the connection.
	StateConnected

	// StateErrored means the transport failed and an automatic retry is
	// pending.
	StateErrored
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// StateChange describes a connection state transition. Terminal is set on
// the transition to StateDisconnected after reconnection attempts are
// exhausted; it is the "unavailable" signal surfaced to the UI.
type StateChange struct {
	Previous ConnectionState
	Current  ConnectionState
	Err      error
	Terminal bool
}
