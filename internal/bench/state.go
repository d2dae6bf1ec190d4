package bench

// State is the phase of a bench session.
type State int32

const (
	Initializing State = iota
	Calibrating
	Ramping
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Calibrating:
		return "calibrating"
	case Ramping:
		return "ramping"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
