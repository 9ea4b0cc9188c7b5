package airlock

// CycleState is the single pressurization state of an airlock. Door locks are
// derived from it rather than stored.
type CycleState uint8

const (
	Idle CycleState = iota
	Pressurizing
	Pressurized
	Depressurizing
	Depressurized
)

func (s CycleState) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Pressurizing:
		return "PRESSURIZING"
	case Pressurized:
		return "PRESSURIZED"
	case Depressurizing:
		return "DEPRESSURIZING"
	case Depressurized:
		return "DEPRESSURIZED"
	default:
		return "UNKNOWN"
	}
}

// Cycling reports whether a pressurize or depressurize transition is in progress.
func (s CycleState) Cycling() bool { return s == Pressurizing || s == Depressurizing }

// Mode records which kind of traversal the current operator is running.
type Mode uint8

const (
	ModeNotInUse Mode = iota
	ModeIngress
	ModeEgress
)

func (m Mode) String() string {
	switch m {
	case ModeIngress:
		return "INGRESS"
	case ModeEgress:
		return "EGRESS"
	default:
		return "NOT_IN_USE"
	}
}

func ModeFor(d Direction) Mode {
	switch d {
	case Egress:
		return ModeEgress
	case Ingress:
		return ModeIngress
	default:
		return ModeNotInUse
	}
}
