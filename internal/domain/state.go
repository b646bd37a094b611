package domain

// LinkState is the state of a single Move.
type LinkState int

const (
	LinkIdle LinkState = iota
	LinkChannelSelecting
	LinkSending
	LinkAwaitingAck
	LinkConfirmed
	LinkTimedOut
	LinkFailed
)

// String returns a human-readable representation of the state.
func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "Idle"
	case LinkChannelSelecting:
		return "ChannelSelecting"
	case LinkSending:
		return "Sending"
	case LinkAwaitingAck:
		return "AwaitingAck"
	case LinkConfirmed:
		return "Confirmed"
	case LinkTimedOut:
		return "TimedOut"
	case LinkFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state ends a Move.
func (s LinkState) Terminal() bool {
	return s == LinkConfirmed || s == LinkTimedOut || s == LinkFailed
}
