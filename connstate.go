package rtspconn

// ConnState is the lifecycle state of a Conn.
type ConnState int

// states.
const (
	// ConnStateInit is the state of an allocated, unconnected Conn.
	ConnStateInit ConnState = iota

	// ConnStateConnecting is the state of a Conn whose connect is in progress.
	ConnStateConnecting

	// ConnStateConnected is the state of an established Conn.
	ConnStateConnected

	// ConnStateTunneled is the state of a Conn fused into a tunnel pair.
	ConnStateTunneled

	// ConnStateClosing is the state of a Conn whose teardown is in progress.
	ConnStateClosing

	// ConnStateClosed is the terminal state of a released Conn.
	ConnStateClosed

	// ConnStateFailed is the terminal state of a Conn after an
	// unrecoverable error.
	ConnStateFailed
)

// String implements fmt.Stringer.
func (s ConnState) String() string {
	switch s {
	case ConnStateInit:
		return "init"

	case ConnStateConnecting:
		return "connecting"

	case ConnStateConnected:
		return "connected"

	case ConnStateTunneled:
		return "tunneled"

	case ConnStateClosing:
		return "closing"

	case ConnStateClosed:
		return "closed"

	case ConnStateFailed:
		return "failed"
	}
	return "unknown"
}
