package eva

import (
	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/airlock"
	"colonysim.ai/internal/sim/kernel/model"
	"colonysim.ai/internal/sim/tasks"
)

// ReturnInside walks an agent left between the doors by a failed traversal
// back through the inner door, then disperses it into the host.
type ReturnInside struct {
	traversal
}

func NewReturnInside(env Env, p Params, a *model.Agent, l *airlock.Airlock) *ReturnInside {
	return &ReturnInside{traversal: newTraversal(env, p, a, l, airlock.Ingress, tasks.KindReturnInside, PhaseReturnInside)}
}

func (r *ReturnInside) Perform(dt float64) float64 { return r.run(dt, r.step) }

func (r *ReturnInside) step(dt float64) float64 {
	l, id := r.lock, r.a.ID
	cur := l.ZoneOf(id)
	if cur == airlock.NoZone || cur == airlock.ZoneExterior {
		return r.abandon(protocol.ErrNotInside)
	}
	if cur != airlock.ZoneInterior && l.State() != airlock.Pressurized {
		reached, rem := r.driveCycle(airlock.Pressurized, dt)
		if !reached {
			return 0
		}
		dt = rem
	}
	exit := r.dir.Exit()
	for l.ZoneOf(id) != exit || !r.a.Pos.Near(l.ReferencePoint(id), r.p.ArriveTolerance) {
		z := l.ZoneOf(id)
		if z != exit {
			z = r.dir.Next(z)
		}
		arrived, ok := r.moveTo(z)
		if !ok {
			return 0
		}
		if !arrived {
			return dt
		}
	}
	r.a.Outside = false
	r.finish(Completed, "", false)
	r.env.Disperse(r.a, l.Host().HostID())
	return dt
}
