package eva

import (
	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/airlock"
	"colonysim.ai/internal/sim/kernel/model"
	"colonysim.ai/internal/sim/tasks"
)

// Ingress brings an agent back from the exterior, through doffing and suit
// cleanup, into the host. Fitness does not gate ingress.
type Ingress struct {
	traversal
}

func NewIngress(env Env, p Params, a *model.Agent, l *airlock.Airlock) *Ingress {
	return &Ingress{traversal: newTraversal(env, p, a, l, airlock.Ingress, tasks.KindIngress, PhaseRequestIngress)}
}

func (in *Ingress) Perform(dt float64) float64 { return in.run(dt, in.step) }

func (in *Ingress) step(dt float64) float64 {
	switch in.phase {
	case PhaseRequestIngress:
		return in.requestIngress(dt)
	case PhaseDepressurizeChamber:
		return in.depressurizeChamber(dt)
	case PhaseEnterAirlock:
		return in.enterAirlock(dt)
	case PhaseWalkToChamber:
		return in.walkToChamber(dt)
	case PhasePressurizeChamber:
		return in.pressurizeChamber(dt)
	case PhaseDoffEVASuit:
		return in.doffEVASuit(dt)
	case PhaseCleanUp:
		return in.cleanUp(dt)
	case PhaseLeaveAirlock:
		return in.leaveAirlock(dt)
	default:
		panic("eva: ingress in phase " + string(in.phase))
	}
}

func (in *Ingress) requestIngress(dt float64) float64 {
	if !in.a.Outside {
		return in.abandon(protocol.ErrNotOutside)
	}
	arrived, ok := in.moveTo(airlock.ZoneExterior)
	if !ok || !arrived {
		return dt
	}
	admitted, ok := in.queue()
	if !ok {
		return in.abandon(protocol.ErrQueueFull)
	}
	if !admitted {
		return 0
	}
	in.setPhase(PhaseDepressurizeChamber)
	return dt
}

func (in *Ingress) depressurizeChamber(dt float64) float64 {
	reached, rem := in.driveCycle(airlock.Depressurized, dt)
	if !reached {
		return 0
	}
	in.setPhase(PhaseEnterAirlock)
	return rem
}

func (in *Ingress) enterAirlock(dt float64) float64 {
	l, id := in.lock, in.a.ID
	if l.ZoneOf(id) == airlock.ZoneExterior {
		if l.State() != airlock.Depressurized {
			in.setPhase(PhaseDepressurizeChamber)
			return dt
		}
		if !l.HasSpace() {
			in.setPhase(PhaseRequestIngress)
			return 0
		}
		if !l.NextInLine(id, airlock.Ingress) {
			return 0
		}
	}
	arrived, ok := in.moveTo(airlock.ZoneOuterDoor)
	if !ok {
		return 0
	}
	if !arrived {
		return dt
	}
	in.setPhase(PhaseWalkToChamber)
	return dt
}

func (in *Ingress) walkToChamber(dt float64) float64 {
	arrived, ok := in.moveTo(airlock.ZoneChamber)
	if !ok {
		return 0
	}
	if !arrived {
		return dt
	}
	in.setPhase(PhasePressurizeChamber)
	return dt
}

func (in *Ingress) pressurizeChamber(dt float64) float64 {
	reached, rem := in.driveCycle(airlock.Pressurized, dt)
	if !reached {
		return 0
	}
	in.setPhase(PhaseDoffEVASuit)
	return rem
}

// doffEVASuit hands the suit to the host and drains what is left in it into
// the host stores.
func (in *Ingress) doffEVASuit(dt float64) float64 {
	if !in.countdownOn {
		if !in.a.HasSuit() {
			in.finish(Abandoned, protocol.ErrNoSuit, true)
			return 0
		}
		in.startCountdown(in.p.DoffingTime, in.p.DoffingJitter)
	}
	done, rem := in.tickCountdown(dt)
	if !done {
		return 0
	}
	s := in.a.Suit
	in.a.Suit = nil
	if inv := in.env.Inventory(in.lock.Host().HostID()); inv != nil {
		inv.PutSuit(s)
		DrainSuit(inv, s)
	}
	in.setPhase(PhaseCleanUp)
	return rem
}

func (in *Ingress) cleanUp(dt float64) float64 {
	base, jitter := in.p.CleaningTime, in.p.CleaningJitter
	if in.lock.Host().HostKind() == airlock.HostMobile {
		base, jitter = in.p.VehicleCleaningTime, in.p.VehicleCleaningJitter
	}
	in.startCountdown(base, jitter)
	done, rem := in.tickCountdown(dt)
	if !done {
		return 0
	}
	in.setPhase(PhaseLeaveAirlock)
	return rem
}

func (in *Ingress) leaveAirlock(dt float64) float64 {
	l := in.lock
	if l.State() != airlock.Pressurized && l.ZoneOf(in.a.ID) != airlock.ZoneInterior {
		in.setPhase(PhasePressurizeChamber)
		return dt
	}
	for _, z := range []airlock.Zone{airlock.ZoneInnerDoor, airlock.ZoneInterior} {
		if l.ZoneOf(in.a.ID) < z {
			continue
		}
		arrived, ok := in.moveTo(z)
		if !ok {
			return 0
		}
		if !arrived {
			return dt
		}
	}
	in.a.Outside = false
	in.finish(Completed, "", false)
	in.env.Disperse(in.a, l.Host().HostID())
	return dt
}
