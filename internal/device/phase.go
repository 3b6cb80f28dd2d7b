package device

// Phase is the lifecycle stage of the device connection.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseLoadingSDK
	PhasePlayerConstructed
	PhaseConnecting
	PhaseConnected
	PhaseDisconnected
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseLoadingSDK:
		return "loading-sdk"
	case PhasePlayerConstructed:
		return "player-constructed"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText lets snapshots carry the phase as a readable string.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
