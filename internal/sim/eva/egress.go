package eva

import (
	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/airlock"
	"colonysim.ai/internal/sim/kernel/model"
	"colonysim.ai/internal/sim/tasks"
)

// Egress takes an agent from inside a host, through suit donning and
// prebreathing, out to the exterior side of the airlock.
type Egress struct {
	traversal
	suit *model.Suit // taken from the host stores, bound once donning ends
}

func NewEgress(env Env, p Params, a *model.Agent, l *airlock.Airlock) *Egress {
	e := &Egress{traversal: newTraversal(env, p, a, l, airlock.Egress, tasks.KindEgress, PhaseRequestEgress)}
	e.cleanup = e.returnSuit
	return e
}

func (e *Egress) Perform(dt float64) float64 { return e.run(dt, e.step) }

func (e *Egress) step(dt float64) float64 {
	switch e.phase {
	case PhaseRequestEgress:
		return e.requestEgress(dt)
	case PhasePressurizeChamber:
		return e.pressurizeChamber(dt)
	case PhaseEnterAirlock:
		return e.enterAirlock(dt)
	case PhaseWalkToChamber:
		return e.walkToChamber(dt)
	case PhaseDonEVASuit:
		return e.donEVASuit(dt)
	case PhasePrebreathe:
		return e.prebreathe(dt)
	case PhaseDepressurizeChamber:
		return e.depressurizeChamber(dt)
	case PhaseLeaveAirlock:
		return e.leaveAirlock(dt)
	default:
		panic("eva: egress in phase " + string(e.phase))
	}
}

func (e *Egress) requestEgress(dt float64) float64 {
	if e.a.Outside {
		return e.abandon(protocol.ErrNotInside)
	}
	if !e.fit(TierEVA) {
		return e.abandon(protocol.ErrUnfit)
	}
	if e.conflict(0.25) {
		return e.abandon(protocol.ErrPrebreatheConflict)
	}
	if !e.lock.Reserve(e.a.ID) {
		return e.abandon(protocol.ErrNoReservation)
	}
	arrived, ok := e.moveTo(airlock.ZoneInterior)
	if !ok || !arrived {
		return dt
	}
	admitted, ok := e.queue()
	if !ok {
		return e.abandon(protocol.ErrQueueFull)
	}
	if !admitted {
		return 0
	}
	e.setPhase(PhasePressurizeChamber)
	return dt
}

func (e *Egress) pressurizeChamber(dt float64) float64 {
	if !e.fit(TierEVA) {
		return e.abandon(protocol.ErrUnfit)
	}
	if e.conflict(0.25) {
		return e.abandon(protocol.ErrPrebreatheConflict)
	}
	if !e.lock.Reserve(e.a.ID) {
		return e.abandon(protocol.ErrNoReservation)
	}
	reached, rem := e.driveCycle(airlock.Pressurized, dt)
	if !reached {
		return 0
	}
	e.setPhase(PhaseEnterAirlock)
	return rem
}

func (e *Egress) enterAirlock(dt float64) float64 {
	if !e.fit(TierNominal) {
		return e.abandon(protocol.ErrUnfit)
	}
	if e.conflict(0.5) {
		return e.abandon(protocol.ErrPrebreatheConflict)
	}
	l, id := e.lock, e.a.ID
	if l.ZoneOf(id) == airlock.ZoneInterior {
		if l.State() != airlock.Pressurized {
			e.setPhase(PhasePressurizeChamber)
			return dt
		}
		if !l.HasSpace() {
			e.setPhase(PhaseRequestEgress)
			return 0
		}
		if !l.NextInLine(id, airlock.Egress) {
			return 0
		}
	}
	arrived, ok := e.moveTo(airlock.ZoneInnerDoor)
	if !ok {
		return 0
	}
	l.CancelReservation(id)
	if !arrived {
		return dt
	}
	e.setPhase(PhaseWalkToChamber)
	return dt
}

func (e *Egress) walkToChamber(dt float64) float64 {
	if !e.fit(TierNominal) {
		return e.abandon(protocol.ErrUnfit)
	}
	if e.conflict(0.75) {
		return e.abandon(protocol.ErrPrebreatheConflict)
	}
	if e.lock.State() != airlock.Pressurized {
		e.setPhase(PhasePressurizeChamber)
		return dt
	}
	arrived, ok := e.moveTo(airlock.ZoneChamber)
	if !ok {
		return 0
	}
	if !arrived {
		return dt
	}
	e.setPhase(PhaseDonEVASuit)
	return dt
}

func (e *Egress) donEVASuit(dt float64) float64 {
	if !e.fit(TierCritical) {
		return e.abandon(protocol.ErrUnfit)
	}
	if e.conflict(0.75) {
		return e.abandon(protocol.ErrPrebreatheConflict)
	}
	if e.a.HasSuit() && e.suit == nil {
		e.setPhase(PhasePrebreathe)
		return dt
	}
	if e.suit == nil {
		inv := e.env.Inventory(e.lock.Host().HostID())
		s, code := SelectSuit(inv, e.a.ID, e.p)
		if code != "" {
			e.lock.NoteSuitShortage(e.a.ID)
			e.finish(Abandoned, code, true)
			return 0
		}
		if !inv.TakeSuit(s.ID) {
			e.lock.NoteSuitShortage(e.a.ID)
			e.finish(Abandoned, protocol.ErrNoSuit, true)
			return 0
		}
		e.suit = s
		if !LoadSuit(inv, s, e.p) {
			e.finish(Abandoned, protocol.ErrTransferFailed, true)
			return 0
		}
		e.lock.ClearSuitShortage()
		e.startCountdown(e.p.DonningTime, e.p.DonningJitter)
	}
	done, rem := e.tickCountdown(dt)
	if !done {
		return 0
	}
	e.suit.OwnerID = e.a.ID
	e.a.Suit = e.suit
	e.suit = nil
	e.setPhase(PhasePrebreathe)
	return rem
}

func (e *Egress) prebreathe(dt float64) float64 {
	if !e.fit(TierCritical) {
		return e.abandon(protocol.ErrUnfit)
	}
	e.startCountdown(e.p.PrebreatheTime, e.p.PrebreatheJitter)
	done, rem := e.tickCountdown(dt)
	e.lock.ReportPrebreathe(e.a.ID, e.countdownFraction())
	if !done {
		return 0
	}
	if !e.lock.AllInsideSuited() {
		return 0
	}
	e.setPhase(PhaseDepressurizeChamber)
	return rem
}

func (e *Egress) depressurizeChamber(dt float64) float64 {
	if !e.fit(TierCritical) {
		return e.abandon(protocol.ErrUnfit)
	}
	reached, rem := e.driveCycle(airlock.Depressurized, dt)
	if !reached {
		return 0
	}
	e.setPhase(PhaseLeaveAirlock)
	return rem
}

func (e *Egress) leaveAirlock(dt float64) float64 {
	l := e.lock
	if l.State() != airlock.Depressurized || !l.IsOuterDoorUsable() {
		if l.ZoneOf(e.a.ID) != airlock.ZoneExterior {
			e.setPhase(PhaseDepressurizeChamber)
			return dt
		}
	}
	for _, z := range []airlock.Zone{airlock.ZoneOuterDoor, airlock.ZoneExterior} {
		if l.ZoneOf(e.a.ID) > z {
			continue
		}
		arrived, ok := e.moveTo(z)
		if !ok {
			return 0
		}
		if !arrived {
			return dt
		}
	}
	e.a.Outside = true
	e.finish(Completed, "", false)
	return dt
}

// returnSuit puts a suit that was taken but never worn back on the shelf. An
// agent that abandons inside also hangs up the suit it already wears.
func (e *Egress) returnSuit(o Outcome) {
	inv := e.env.Inventory(e.lock.Host().HostID())
	if inv == nil {
		return
	}
	if e.suit != nil {
		inv.PutSuit(e.suit)
		e.suit = nil
	}
	if o.Kind == Abandoned && !e.a.Outside && e.a.Suit != nil {
		inv.PutSuit(e.a.Suit)
		e.a.Suit = nil
	}
}
