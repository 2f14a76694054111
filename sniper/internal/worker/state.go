package worker

// State is a step of the worker lifecycle.
type State int

const (
	Initializing State = iota
	Monitoring
	Recovering
	Selling
	AttemptingSell
	Terminated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Monitoring:
		return "monitoring"
	case Recovering:
		return "recovering"
	case Selling:
		return "selling"
	case AttemptingSell:
		return "attempting_sell"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// MarshalText renders the state name in JSON reports.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
