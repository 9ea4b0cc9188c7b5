package colony

import (
	"errors"
	"fmt"
	"math"
	"time"

	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/airlock"
	"colonysim.ai/internal/sim/eva"
	"colonysim.ai/internal/sim/kernel/model"
	"colonysim.ai/internal/sim/tasks"
)

// stepInternal runs one tick and returns the state digest it logged.
func (w *World) stepInternal(reqs []CommandRequest) string {
	stepStart := time.Now()
	nowTick := w.tick.Load()
	dt := w.tu.MillisolsPerTick

	// Commands apply at the tick boundary in receive order.
	recorded := make([]RecordedCommand, 0, len(reqs))
	for _, req := range reqs {
		recorded = append(recorded, w.applyCommand(nowTick, req))
	}

	// Systems: tasks -> outcomes -> fitness -> suits -> scheduler -> airlocks.
	for _, id := range w.agentIDs {
		w.stacks[id].Perform(dt)
	}
	w.collectOutcomes(nowTick)
	w.millisols += dt
	w.systemFitness(dt)
	w.systemSuits(dt)
	w.systemScheduler(dt)
	for _, id := range w.airlockIDs {
		w.airlocks[id].Tick(dt)
	}
	w.checkInvariants(nowTick)

	events, outcomes := w.flushTelemetry()
	w.stepObservers(nowTick, events, outcomes)

	digest := w.stateDigest(nowTick)
	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(TickLogEntry{
			Tick:      nowTick,
			Millisols: w.millisols,
			Commands:  recorded,
			Outcomes:  outcomes,
			Events:    len(events),
			Digest:    digest,
		})
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	nextTick := w.tick.Add(1)
	if w.metricsSink != nil {
		w.metricsSink.ObserveStep(stepMS)
	}
	w.storeMetrics(nextTick, stepMS, len(events), outcomes)
	return digest
}

// collectOutcomes reaps finished traversals and decides what each agent does next.
func (w *World) collectOutcomes(nowTick uint64) {
	for _, id := range w.agentIDs {
		p := w.running[id]
		if p == nil || !p.Done() {
			continue
		}
		delete(w.running, id)
		w.handleOutcome(nowTick, p)
	}
}

func (w *World) handleOutcome(nowTick uint64, p eva.Protocol) {
	o := p.Outcome()
	a, l := p.Agent(), p.Airlock()
	result := protocol.ResultCompleted
	if o.Kind == eva.Abandoned {
		result = protocol.ResultAbandoned
	}
	w.pendingOutcomes = append(w.pendingOutcomes, protocol.OutcomeMsg{
		Type:      protocol.TypeOutcome,
		RunID:     w.cfg.RunID,
		Tick:      nowTick,
		AgentID:   a.ID,
		AirlockID: l.ID(),
		Task:      string(p.Kind()),
		Result:    result,
		Phase:     string(o.Phase),
		Code:      o.Code,
	})

	if o.Kind == eva.Completed {
		if p.Kind() == tasks.KindEgress {
			a.OutsideSince = w.millisols
		}
		return
	}
	w.retryAt[a.ID] = w.millisols + w.tu.Colony.RetryCooldown
	if l.ZoneOf(a.ID) != airlock.NoZone {
		// Failed EVA prep: the agent still holds its zone and walks back in.
		w.start(a, eva.NewReturnInside(w, w.params, a, l))
		return
	}
	if !a.Outside && w.stacks[a.ID].Empty() {
		w.Disperse(a, a.HostID)
	}
	w.logf("agent %s abandoned %s at %s on %s: %s", a.ID, p.Kind(), o.Phase, l.ID(), o.Code)
}

// systemFitness accrues fatigue, hunger and thirst while an agent is busy or
// outside, and lets it recover while idle indoors.
func (w *World) systemFitness(dt float64) {
	c := w.tu.Colony
	for _, id := range w.agentIDs {
		a := w.agents[id]
		sign := 1.0
		if !a.Outside && w.running[id] == nil {
			sign = -1
		}
		f := &a.Fitness
		f.Fatigue = math.Max(0, f.Fatigue+sign*c.FatigueRate*dt)
		f.Hunger = math.Max(0, f.Hunger+sign*c.HungerRate*dt)
		f.Thirst = math.Max(0, f.Thirst+sign*c.ThirstRate*dt)
	}
}

// systemSuits draws oxygen and water from the suits of agents outside.
func (w *World) systemSuits(dt float64) {
	c := w.tu.Colony
	for _, id := range w.agentIDs {
		a := w.agents[id]
		if !a.Outside || a.Suit == nil {
			continue
		}
		s := a.Suit
		o2 := math.Min(s.Oxygen, c.SuitOxygenRate*dt)
		s.Oxygen -= o2
		s.CO2 += o2
		s.Water = math.Max(0, s.Water-c.SuitWaterRate*dt)
	}
}

// systemScheduler starts traversals on its own when auto EVA is enabled:
// idle people inside go out at random, agents outside come back once their
// time is up or their suit runs low.
func (w *World) systemScheduler(dt float64) {
	c := w.tu.Colony
	if !c.AutoEVA {
		return
	}
	for _, id := range w.agentIDs {
		a := w.agents[id]
		if w.running[id] != nil || w.millisols < w.retryAt[id] {
			continue
		}
		if a.Outside {
			if w.millisols-a.OutsideSince < c.EVAOutsideTime && !w.suitLow(a) {
				continue
			}
			if l := w.nearestAirlock(a, w.airlockIDs); l != nil {
				if _, err := w.startIngress(a, l); err != nil {
					w.retryAt[id] = w.millisols + c.RetryCooldown
				}
			}
			continue
		}
		if a.Kind != model.KindPerson || !w.stacks[id].Empty() {
			continue
		}
		if w.rng.Float64() >= c.EVAStartChance*dt {
			continue
		}
		if l := w.nearestAirlock(a, w.hostAirlocks(a.HostID)); l != nil {
			if _, err := w.startEgress(a, l); err != nil {
				w.retryAt[id] = w.millisols + c.RetryCooldown
			}
		}
	}
}

func (w *World) suitLow(a *model.Agent) bool {
	s := a.Suit
	return s != nil && (s.Oxygen < w.params.MinSuitOxygen/2 || s.Water < w.params.MinSuitWater/2)
}

func (w *World) checkInvariants(nowTick uint64) {
	var errs []error
	owner := map[string]string{}
	for _, id := range w.airlockIDs {
		l := w.airlocks[id]
		if err := l.CheckInvariants(); err != nil {
			errs = append(errs, err)
		}
		for z := airlock.ZoneInterior; z <= airlock.ZoneExterior; z++ {
			for _, agentID := range l.Occupants(z) {
				if prev, dup := owner[agentID]; dup && prev != id {
					errs = append(errs, fmt.Errorf("agent %s occupies airlocks %s and %s", agentID, prev, id))
				}
				owner[agentID] = id
			}
		}
	}
	err := errors.Join(errs...)
	if err == nil {
		return
	}
	if w.tu.StrictInvariants {
		panic(fmt.Sprintf("colony: tick %d: %v", nowTick, err))
	}
	w.logf("tick %d: invariant violation: %v", nowTick, err)
}

// flushTelemetry hands the tick's events and outcomes to the sinks and
// returns them for the observers and the tick log.
func (w *World) flushTelemetry() ([]protocol.AirlockEvent, []protocol.OutcomeMsg) {
	events, outcomes := w.pendingEvents, w.pendingOutcomes
	w.pendingEvents, w.pendingOutcomes = nil, nil
	for _, ev := range events {
		if w.eventLogger != nil {
			_ = w.eventLogger.WriteEvent(ev)
		}
		if w.metricsSink != nil {
			w.metricsSink.ObserveEvent(ev)
		}
		switch airlock.EventKind(ev.Kind) {
		case airlock.EventCycleStalled, airlock.EventOperatorLost:
			w.logf("airlock %s: %s agent=%s state=%s", ev.AirlockID, ev.Kind, ev.AgentID, ev.State)
		}
	}
	for _, o := range outcomes {
		if w.eventLogger != nil {
			_ = w.eventLogger.WriteOutcome(o)
		}
		if w.metricsSink != nil {
			w.metricsSink.ObserveOutcome(o)
		}
	}
	if w.metricsSink != nil {
		for _, id := range w.airlockIDs {
			l := w.airlocks[id]
			queued := len(l.AwaitingInnerDoor()) + len(l.AwaitingOuterDoor())
			w.metricsSink.ObserveAirlock(id, l.State(), l.Stats(), queued)
		}
	}
	return events, outcomes
}
