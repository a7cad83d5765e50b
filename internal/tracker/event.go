package tracker

// Event is sent in an announce request when the transfer state changes.
type Event int

// Announce events. EventNone is used for periodic announces.
const (
	EventNone Event = iota
	EventStarted
	EventCompleted
	EventStopped
)

// String returns the value of the "event" parameter.
func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventStopped:
		return "stopped"
	default:
		return ""
	}
}
