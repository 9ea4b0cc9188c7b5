package colony

import (
	"fmt"
	"math"

	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/airlock"
	"colonysim.ai/internal/sim/eva"
	"colonysim.ai/internal/sim/kernel/model"
)

func (w *World) applyCommand(nowTick uint64, req CommandRequest) RecordedCommand {
	cmd := req.Cmd
	res := protocol.CommandResultMsg{
		Type:            protocol.TypeCommandResult,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		ID:              cmd.ID,
		AgentID:         cmd.AgentID,
	}
	code, err := w.execCommand(cmd)
	if err != nil {
		res.Code = code
		res.Message = err.Error()
	} else {
		res.Accepted = true
	}
	if req.Resp != nil {
		select {
		case req.Resp <- res:
		default:
		}
	}
	return RecordedCommand{Cmd: cmd, Accepted: res.Accepted, Code: res.Code}
}

func (w *World) execCommand(cmd protocol.CommandMsg) (string, error) {
	if code, err := cmd.Validate(); err != nil {
		return code, err
	}
	a := w.agents[cmd.AgentID]
	if a == nil {
		return protocol.ErrUnknownAgent, fmt.Errorf("unknown agent %q", cmd.AgentID)
	}
	switch cmd.Kind {
	case protocol.CmdSetFitness:
		f := cmd.Fitness
		a.Fitness = model.Fitness{Fatigue: f.Fatigue, Stress: f.Stress, Hunger: f.Hunger, Thirst: f.Thirst, Performance: f.Performance}
		return "", nil
	case protocol.CmdCancel:
		if w.running[a.ID] == nil {
			return protocol.ErrBadRequest, fmt.Errorf("agent %s has no traversal to cancel", a.ID)
		}
		w.stacks[a.ID].Cancel()
		return "", nil
	}

	if p := w.running[a.ID]; p != nil {
		return protocol.ErrBusy, fmt.Errorf("agent %s is already in %s", a.ID, p.Kind())
	}
	var l *airlock.Airlock
	if cmd.AirlockID != "" {
		l = w.airlocks[cmd.AirlockID]
		if l == nil {
			return protocol.ErrUnknownAirlock, fmt.Errorf("unknown airlock %q", cmd.AirlockID)
		}
	}
	switch cmd.Kind {
	case protocol.CmdStartEgress:
		if l == nil {
			l = w.nearestAirlock(a, w.hostAirlocks(a.HostID))
		} else if l.Host().HostID() != a.HostID {
			return protocol.ErrUnknownAirlock, fmt.Errorf("airlock %s does not serve %s", l.ID(), a.HostID)
		}
		if l == nil {
			return protocol.ErrUnknownAirlock, fmt.Errorf("host %s has no airlock", a.HostID)
		}
		return w.startEgress(a, l)
	case protocol.CmdStartIngress:
		if l == nil {
			l = w.nearestAirlock(a, w.airlockIDs)
		}
		if l == nil {
			return protocol.ErrUnknownAirlock, fmt.Errorf("no airlock")
		}
		return w.startIngress(a, l)
	}
	return protocol.ErrBadRequest, fmt.Errorf("unhandled command kind %q", cmd.Kind)
}

func (w *World) startEgress(a *model.Agent, l *airlock.Airlock) (string, error) {
	if ok, code := eva.CanExit(w, w.params, a, l); !ok {
		return code, fmt.Errorf("agent %s cannot exit through %s", a.ID, l.ID())
	}
	w.start(a, eva.NewEgress(w, w.params, a, l))
	return "", nil
}

func (w *World) startIngress(a *model.Agent, l *airlock.Airlock) (string, error) {
	if ok, code := eva.CanEnter(a, l); !ok {
		return code, fmt.Errorf("agent %s cannot enter through %s", a.ID, l.ID())
	}
	w.start(a, eva.NewIngress(w, w.params, a, l))
	return "", nil
}

// start replaces whatever the agent was doing with p.
func (w *World) start(a *model.Agent, p eva.Protocol) {
	st := w.stacks[a.ID]
	st.Cancel()
	st.Push(p)
	w.running[a.ID] = p
	w.lastAirlock[a.ID] = p.Airlock().ID()
}

func (w *World) hostAirlocks(hostID string) []string {
	if h := w.hosts[hostID]; h != nil {
		return h.airlocks
	}
	return nil
}

// nearestAirlock returns the airlock among ids whose entry point is closest
// to the agent. An outside agent prefers the airlock it last went through.
func (w *World) nearestAirlock(a *model.Agent, ids []string) *airlock.Airlock {
	if a.Outside {
		if l := w.airlocks[w.lastAirlock[a.ID]]; l != nil {
			return l
		}
	}
	dir := airlock.Egress
	if a.Outside {
		dir = airlock.Ingress
	}
	var best *airlock.Airlock
	bestDist := math.Inf(1)
	for _, id := range ids {
		l := w.airlocks[id]
		if l == nil {
			continue
		}
		if d := a.Pos.Dist(l.EntryPoint(dir)); d < bestDist {
			best, bestDist = l, d
		}
	}
	return best
}
