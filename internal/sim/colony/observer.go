package colony

import (
	"encoding/json"
	"sort"

	"colonysim.ai/internal/observerproto"
	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/airlock"
)

// ObserverJoinRequest registers a read-only observer session that receives one
// TICK message per tick (or per EveryTicks ticks) on TickOut.
//
// All observer state is maintained by the colony loop goroutine.
type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte

	AirlockIDs []string
	Events     bool
	EveryTicks int
}

// ObserverSubscribeRequest updates an existing observer session subscription settings.
type ObserverSubscribeRequest struct {
	SessionID string

	AirlockIDs []string
	Events     bool
	EveryTicks int
}

type observerClient struct {
	id      string
	tickOut chan []byte
	cfg     observerCfg
}

type observerCfg struct {
	airlocks   map[string]bool // nil means every airlock
	events     bool
	everyTicks uint64
}

func newObserverCfg(ids []string, events bool, every int) observerCfg {
	cfg := observerCfg{events: events, everyTicks: uint64(clampInt(every, 1, 600, 1))}
	if len(ids) > 0 {
		cfg.airlocks = make(map[string]bool, len(ids))
		for _, id := range ids {
			cfg.airlocks[id] = true
		}
	}
	return cfg
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil {
		return
	}
	if old := w.observers[req.SessionID]; old != nil {
		close(old.tickOut)
	}
	w.observers[req.SessionID] = &observerClient{
		id:      req.SessionID,
		tickOut: req.TickOut,
		cfg:     newObserverCfg(req.AirlockIDs, req.Events, req.EveryTicks),
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	c.cfg = newObserverCfg(req.AirlockIDs, req.Events, req.EveryTicks)
}

func (w *World) handleObserverLeave(id string) {
	c := w.observers[id]
	if c == nil {
		return
	}
	close(c.tickOut)
	delete(w.observers, id)
}

func (w *World) stepObservers(nowTick uint64, events []protocol.AirlockEvent, outcomes []protocol.OutcomeMsg) {
	if len(w.observers) == 0 {
		return
	}
	statuses := make([]observerproto.AirlockStatus, 0, len(w.airlockIDs))
	for _, id := range w.airlockIDs {
		statuses = append(statuses, airlockStatus(w.airlocks[id]))
	}
	agents := w.agentStates()

	ids := make([]string, 0, len(w.observers))
	for id := range w.observers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := w.observers[id]
		if nowTick%c.cfg.everyTicks != 0 {
			continue
		}
		msg := observerproto.TickMsg{
			Type:            "TICK",
			ProtocolVersion: observerproto.Version,
			Tick:            nowTick,
			Millisols:       w.millisols,
			Agents:          agents,
		}
		for _, st := range statuses {
			if c.cfg.wants(st.ID) {
				msg.Airlocks = append(msg.Airlocks, st)
			}
		}
		if c.cfg.events {
			for _, ev := range events {
				if c.cfg.wants(ev.AirlockID) {
					msg.Events = append(msg.Events, ev)
				}
			}
			for _, o := range outcomes {
				if c.cfg.wants(o.AirlockID) {
					msg.Outcomes = append(msg.Outcomes, o)
				}
			}
		}
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		sendLatest(c.tickOut, b)
	}
}

func (cfg observerCfg) wants(airlockID string) bool {
	return cfg.airlocks == nil || cfg.airlocks[airlockID]
}

func airlockStatus(l *airlock.Airlock) observerproto.AirlockStatus {
	st := l.Stats()
	out := observerproto.AirlockStatus{
		ID:              l.ID(),
		State:           l.State().String(),
		Mode:            l.Mode().String(),
		Operator:        l.Operator(),
		Progress:        l.Progress(),
		Clock:           l.Clock(),
		InnerDoorLocked: l.InnerDoorLocked(),
		OuterDoorLocked: l.OuterDoorLocked(),
		AwaitingInner:   l.AwaitingInnerDoor(),
		AwaitingOuter:   l.AwaitingOuterDoor(),
		Reservations:    l.Reservations(),
		CyclesCompleted: st.CyclesCompleted,
		Abandonments:    st.Abandonments,
		Completions:     st.Completions,
		SuitShortages:   st.SuitShortages,
	}
	for z := airlock.ZoneInterior; z <= airlock.ZoneExterior; z++ {
		out.Zones[z] = l.Occupants(z)
		if out.Zones[z] == nil {
			out.Zones[z] = []string{}
		}
	}
	return out
}

func (w *World) agentStates() []observerproto.AgentState {
	out := make([]observerproto.AgentState, 0, len(w.agentIDs))
	for _, id := range w.agentIDs {
		a := w.agents[id]
		st := observerproto.AgentState{
			ID:          a.ID,
			Name:        a.Name,
			Kind:        string(a.Kind),
			HostID:      a.HostID,
			Pos:         [2]float64{a.Pos.X, a.Pos.Y},
			Outside:     a.Outside,
			Suited:      a.HasSuit(),
			Performance: a.Fitness.Performance,
		}
		if p := w.running[id]; p != nil {
			st.Task = string(p.Kind())
			st.Phase = string(p.Phase())
			st.AirlockID = p.Airlock().ID()
		}
		out = append(out, st)
	}
	return out
}

// Bootstrap describes the static layout of the colony. The layout never changes
// after New, so it is safe to call from any goroutine.
func (w *World) Bootstrap() observerproto.BootstrapResponse {
	resp := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		ColonyID:        w.cfg.ID,
		RunID:           w.cfg.RunID,
		Tick:            w.CurrentTick(),
		Params: observerproto.ColonyParams{
			TickRateHz:       w.tu.TickRateHz,
			MillisolsPerTick: w.tu.MillisolsPerTick,
			Seed:             w.tu.Seed,
		},
	}
	for _, id := range sortedHostIDs(w.hosts) {
		h := w.hosts[id]
		resp.Hosts = append(resp.Hosts, observerproto.HostInfo{
			ID:       id,
			Kind:     h.h.HostKind().String(),
			Pos:      [2]float64{h.center.X, h.center.Y},
			DockedAt: h.dockedAt,
		})
	}
	for _, id := range w.airlockIDs {
		l := w.airlocks[id]
		cfg := l.Config()
		resp.Airlocks = append(resp.Airlocks, observerproto.AirlockInfo{
			ID:        id,
			Name:      l.Name(),
			HostID:    l.Host().HostID(),
			Capacity:  cfg.Capacity,
			CycleTime: cfg.CycleTime,
		})
	}
	return resp
}

func clampInt(v, min, max, def int) int {
	if v == 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
