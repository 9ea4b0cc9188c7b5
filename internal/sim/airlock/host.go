package airlock

import "colonysim.ai/internal/sim/kernel/model"

type HostKind uint8

const (
	HostFixed HostKind = iota + 1
	HostMobile
)

func (k HostKind) String() string {
	switch k {
	case HostFixed:
		return "BUILDING"
	case HostMobile:
		return "VEHICLE"
	default:
		return "UNKNOWN"
	}
}

// Host is the building or vehicle an airlock belongs to. Protocol code only
// uses this capability and the kind tag, never the concrete type.
type Host interface {
	HostID() string
	HostKind() HostKind
	ReferencePoint(z Zone, slot int) model.Vec2
}

// Geometry lays the five zones out along a straight axis through the chamber.
type Geometry struct {
	Origin      model.Vec2 // chamber center
	Axis        model.Vec2 // unit vector pointing from the interior to the exterior
	Spacing     float64    // distance between consecutive zone points
	SlotSpacing float64    // lateral distance between occupants of the same zone
}

func (g Geometry) point(z Zone, slot int) model.Vec2 {
	along := g.Axis.Scale(float64(int(z)-int(ZoneChamber)) * g.Spacing)
	// Slots alternate sides of the axis: 0, +1, -1, +2, -2, ...
	side := float64((slot + 1) / 2)
	if slot%2 == 0 {
		side = -side
	}
	lateral := model.Vec2{X: -g.Axis.Y, Y: g.Axis.X}.Scale(side * g.SlotSpacing)
	return g.Origin.Add(along).Add(lateral)
}

type FixedHost struct {
	ID       string
	Geometry Geometry
}

func (h *FixedHost) HostID() string     { return h.ID }
func (h *FixedHost) HostKind() HostKind { return HostFixed }
func (h *FixedHost) ReferencePoint(z Zone, slot int) model.Vec2 {
	return h.Geometry.point(z, slot)
}

// MobileHost is a rover. Its airlock geometry is relative to the vehicle position.
type MobileHost struct {
	ID       string
	Position model.Vec2
	Geometry Geometry

	// DockedAt is the settlement the vehicle is parked at, if any.
	DockedAt string
}

func (h *MobileHost) HostID() string     { return h.ID }
func (h *MobileHost) HostKind() HostKind { return HostMobile }
func (h *MobileHost) ReferencePoint(z Zone, slot int) model.Vec2 {
	return h.Position.Add(h.Geometry.point(z, slot))
}
