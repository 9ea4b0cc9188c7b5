package airlock

import "fmt"

// Zone is one of the five positions along an airlock's traversal path.
type Zone int

const (
	NoZone Zone = -1

	ZoneInterior  Zone = 0
	ZoneInnerDoor Zone = 1
	ZoneChamber   Zone = 2
	ZoneOuterDoor Zone = 3
	ZoneExterior  Zone = 4
)

const zoneCount = 5

func (z Zone) Valid() bool { return z >= ZoneInterior && z <= ZoneExterior }

// Inside reports whether the zone lies between the two doors.
func (z Zone) Inside() bool { return z >= ZoneInnerDoor && z <= ZoneOuterDoor }

func (z Zone) String() string {
	switch z {
	case NoZone:
		return "NONE"
	case ZoneInterior:
		return "INTERIOR"
	case ZoneInnerDoor:
		return "INNER_DOOR"
	case ZoneChamber:
		return "CHAMBER"
	case ZoneOuterDoor:
		return "OUTER_DOOR"
	case ZoneExterior:
		return "EXTERIOR"
	default:
		return fmt.Sprintf("ZONE(%d)", int(z))
	}
}

// Direction is the traversal order through the zones.
type Direction uint8

const (
	Egress Direction = iota + 1
	Ingress
)

func (d Direction) String() string {
	switch d {
	case Egress:
		return "EGRESS"
	case Ingress:
		return "INGRESS"
	default:
		return "UNKNOWN"
	}
}

// Entry is the first zone an agent occupies when starting a traversal.
func (d Direction) Entry() Zone {
	if d == Ingress {
		return ZoneExterior
	}
	return ZoneInterior
}

// Exit is the last zone of a traversal.
func (d Direction) Exit() Zone {
	if d == Ingress {
		return ZoneInterior
	}
	return ZoneExterior
}

// Next returns the zone after z in this direction, or NoZone past the end.
func (d Direction) Next(z Zone) Zone {
	var n Zone
	switch d {
	case Egress:
		n = z + 1
	case Ingress:
		n = z - 1
	default:
		return NoZone
	}
	if !n.Valid() || !z.Valid() {
		return NoZone
	}
	return n
}
