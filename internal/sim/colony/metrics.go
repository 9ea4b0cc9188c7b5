package colony

import (
	"sort"

	"colonysim.ai/internal/protocol"
)

// ColonyMetrics is a thread-safe read-only view of key colony runtime signals.
// It is updated from the colony loop goroutine and read from HTTP handlers/tests.
type ColonyMetrics struct {
	Tick      uint64  `json:"tick"`
	Millisols float64 `json:"millisols"`

	Agents     int `json:"agents"`
	Outside    int `json:"outside"`
	Traversals int `json:"traversals"`
	Observers  int `json:"observers"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	EventsLastTick int            `json:"events_last_tick"`
	Completions    uint64         `json:"completions"`
	Abandonments   map[string]int `json:"abandonments,omitempty"`

	Airlocks map[string]AirlockMetrics `json:"airlocks"`
}

type QueueDepths struct {
	Inbox        int `json:"inbox"`
	ObserverJoin int `json:"observer_join"`
}

type AirlockMetrics struct {
	State           string `json:"state"`
	Operator        string `json:"operator,omitempty"`
	Inside          int    `json:"inside"`
	Queued          int    `json:"queued"`
	CyclesCompleted int    `json:"cycles_completed"`
	SuitShortages   int    `json:"suit_shortages"`
}

func (w *World) Metrics() ColonyMetrics {
	if w == nil {
		return ColonyMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return ColonyMetrics{}
	}
	m, ok := v.(ColonyMetrics)
	if !ok {
		return ColonyMetrics{}
	}
	return m
}

func (w *World) storeMetrics(nextTick uint64, stepMS float64, events int, outcomes []protocol.OutcomeMsg) {
	prev := w.Metrics()
	abandoned := make(map[string]int, len(prev.Abandonments))
	for k, v := range prev.Abandonments {
		abandoned[k] = v
	}
	completions := prev.Completions
	for _, o := range outcomes {
		if o.Result == protocol.ResultAbandoned {
			abandoned[o.Code]++
		} else {
			completions++
		}
	}

	outside := 0
	for _, a := range w.agents {
		if a.Outside {
			outside++
		}
	}
	locks := make(map[string]AirlockMetrics, len(w.airlocks))
	for id, l := range w.airlocks {
		st := l.Stats()
		locks[id] = AirlockMetrics{
			State:           l.State().String(),
			Operator:        l.Operator(),
			Inside:          l.InsideCount(),
			Queued:          len(l.AwaitingInnerDoor()) + len(l.AwaitingOuterDoor()),
			CyclesCompleted: st.CyclesCompleted,
			SuitShortages:   st.SuitShortages,
		}
	}

	w.metrics.Store(ColonyMetrics{
		Tick:       nextTick,
		Millisols:  w.millisols,
		Agents:     len(w.agents),
		Outside:    outside,
		Traversals: len(w.running),
		Observers:  len(w.observers),
		QueueDepths: QueueDepths{
			Inbox:        len(w.inbox),
			ObserverJoin: len(w.observerJoin),
		},
		StepMS:         stepMS,
		EventsLastTick: events,
		Completions:    completions,
		Abandonments:   abandoned,
		Airlocks:       locks,
	})
}

func sortedHostIDs(m map[string]*host) []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
