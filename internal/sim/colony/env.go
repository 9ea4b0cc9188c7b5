package colony

import (
	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/airlock"
	"colonysim.ai/internal/sim/eva"
	"colonysim.ai/internal/sim/kernel/model"
	"colonysim.ai/internal/sim/tasks"
	"colonysim.ai/internal/sim/tuning"
)

// The world is the environment of every traversal protocol and the roster and
// recorder of every airlock.
var (
	_ eva.Env          = (*World)(nil)
	_ airlock.Roster   = (*World)(nil)
	_ airlock.Recorder = (*World)(nil)
)

func (w *World) WalkTo(a *model.Agent, target model.Vec2) {
	st := w.stacks[a.ID]
	if st == nil {
		return
	}
	st.Push(tasks.NewWalk(a, target, w.tu.Colony.WalkSpeed))
}

func (w *World) Disperse(a *model.Agent, hostID string) {
	h := w.hosts[hostID]
	if h == nil {
		return
	}
	a.HostID = hostID
	w.WalkTo(a, w.interiorPoint(h))
}

func (w *World) IsFit(a *model.Agent, tier eva.Tier) bool {
	th := w.thresholds(tier)
	f := a.Fitness
	return f.Fatigue < th.Fatigue && f.Stress < th.Stress && f.Hunger < th.Hunger && f.Thirst < th.Thirst
}

func (w *World) thresholds(tier eva.Tier) tuning.Thresholds {
	switch tier {
	case eva.TierEVA:
		return w.tu.Fitness.EVA
	case eva.TierNominal:
		return w.tu.Fitness.Nominal
	default:
		return w.tu.Fitness.Critical
	}
}

func (w *World) PerformanceRating(a *model.Agent) float64 { return a.Fitness.Performance }

func (w *World) FitnessWaived(hostID string) bool {
	h := w.hosts[hostID]
	return h != nil && h.dockedAt != ""
}

func (w *World) Uniform() float64 { return w.rng.Float64() }

func (w *World) HasSuit(agentID string) bool {
	return w.agents[agentID].HasSuit()
}

func (w *World) EVASkill(agentID string) model.EVASkill {
	if a := w.agents[agentID]; a != nil {
		return a.Skill
	}
	return model.EVASkill{}
}

func (w *World) RecordAirlockEvent(ev airlock.Event) {
	w.eventSeq++
	out := protocol.AirlockEvent{
		Type:        protocol.TypeAirlockEvent,
		RunID:       w.cfg.RunID,
		Tick:        w.tick.Load(),
		Seq:         w.eventSeq,
		Kind:        string(ev.Kind),
		AirlockID:   ev.AirlockID,
		AirlockName: ev.AirlockName,
		AgentID:     ev.AgentID,
		State:       ev.State.String(),
		Mode:        ev.Mode.String(),
		Operator:    ev.Operator,
		Phase:       ev.Phase,
		Code:        ev.Code,
	}
	if ev.Zone != airlock.NoZone {
		out.Zone = ev.Zone.String()
	}
	w.pendingEvents = append(w.pendingEvents, out)
}
