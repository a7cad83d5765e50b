package announcer

// Status of the tracker from the announcer's point of view.
type Status int

// Tracker statuses.
const (
	NotContactedYet Status = iota
	Contacting
	Working
	NotWorking
)

func (s Status) String() string {
	switch s {
	case NotContactedYet:
		return "not contacted yet"
	case Contacting:
		return "contacting"
	case Working:
		return "working"
	case NotWorking:
		return "not working"
	default:
		return "unknown"
	}
}

// Stats about the tracker.
type Stats struct {
	Status   Status
	Error    string
	Seeders  int
	Leechers int
	Peers    int
}
