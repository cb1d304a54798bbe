package crawler

// State is a phase of the crawl lifecycle. Transitions only move forward:
// Idle → Seeding → Running → Draining → Stopped.
type State int32

const (
	StateIdle State = iota
	StateSeeding
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSeeding:
		return "seeding"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}
