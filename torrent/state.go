package torrent

// State of a Torrent.
type State int

// Torrent states. Destroyed is terminal.
const (
	Initialized State = iota
	Started
	Stopped
	Destroyed
)

var stateNames = [...]string{
	"initialized",
	"started",
	"stopped",
	"destroyed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
