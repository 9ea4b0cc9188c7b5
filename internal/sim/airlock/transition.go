package airlock

import (
	"fmt"

	"colonysim.ai/internal/sim/kernel/model"
)

// TransitionTo moves the agent one zone along direction d. The target must be
// the agent's current zone, the next zone in order, or the entry zone for an
// agent that holds no zone yet; anything else is a scheduling bug and panics.
//
// On success it returns the reference point the agent should walk to. On
// failure the airlock is left untouched so the caller can retry next tick.
func TransitionTo(l *Airlock, agentID string, d Direction, target Zone) (model.Vec2, bool) {
	cur := l.ZoneOf(agentID)
	if cur == target {
		return l.ReferencePoint(agentID), true
	}
	switch {
	case cur == NoZone && target == d.Entry():
	case cur != NoZone && target == d.Next(cur):
	default:
		panic(fmt.Sprintf("airlock %s: %s move of %s from %s to %s breaks traversal order", l.id, d, agentID, cur, target))
	}
	slot := l.freeSlot(target)
	if !l.RequestZone(agentID, target) {
		return model.Vec2{}, false
	}
	l.slots[agentID] = slot
	return l.ReferencePoint(agentID), true
}

// ReferencePoint returns the standing position assigned to the agent in its
// current zone.
func (l *Airlock) ReferencePoint(agentID string) model.Vec2 {
	z := l.ZoneOf(agentID)
	if z == NoZone || l.host == nil {
		return model.Vec2{}
	}
	return l.host.ReferencePoint(z, l.slots[agentID])
}

// EntryPoint is where an agent stands before it occupies the entry zone of d.
func (l *Airlock) EntryPoint(d Direction) model.Vec2 {
	if l.host == nil {
		return model.Vec2{}
	}
	return l.host.ReferencePoint(d.Entry(), l.freeSlot(d.Entry()))
}

func (l *Airlock) freeSlot(z Zone) int {
	used := map[int]bool{}
	for id := range l.zones[z] {
		used[l.slots[id]] = true
	}
	for i := 0; ; i++ {
		if !used[i] {
			return i
		}
	}
}
