package colony

import (
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync/atomic"

	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/airlock"
	"colonysim.ai/internal/sim/eva"
	"colonysim.ai/internal/sim/inventory"
	"colonysim.ai/internal/sim/kernel/model"
	"colonysim.ai/internal/sim/tasks"
	"colonysim.ai/internal/sim/tuning"
)

type Config struct {
	ID     string
	RunID  string
	Tuning tuning.Tuning
	Layout Layout

	// Logger may be nil.
	Logger *log.Logger
}

// CommandRequest carries an operator command into the colony loop. Resp, if
// set, receives the result once the command is applied at the next tick boundary.
type CommandRequest struct {
	Cmd  protocol.CommandMsg
	Resp chan protocol.CommandResultMsg
}

type RecordedCommand struct {
	Cmd      protocol.CommandMsg `json:"cmd"`
	Accepted bool                `json:"accepted"`
	Code     string              `json:"code,omitempty"`
}

type TickLogEntry struct {
	Tick      uint64                `json:"tick"`
	Millisols float64               `json:"millisols"`
	Commands  []RecordedCommand     `json:"commands,omitempty"`
	Outcomes  []protocol.OutcomeMsg `json:"outcomes,omitempty"`
	Events    int                   `json:"events"`
	Digest    string                `json:"digest"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// EventLogger receives every airlock event and traversal outcome, in order.
type EventLogger interface {
	WriteEvent(ev protocol.AirlockEvent) error
	WriteOutcome(o protocol.OutcomeMsg) error
}

// MetricsSink is fed from the colony loop goroutine once per tick.
type MetricsSink interface {
	ObserveStep(stepMS float64)
	ObserveEvent(ev protocol.AirlockEvent)
	ObserveOutcome(o protocol.OutcomeMsg)
	ObserveAirlock(id string, state airlock.CycleState, stats airlock.Stats, queued int)
}

type host struct {
	h        airlock.Host
	center   model.Vec2
	radius   float64
	inv      *inventory.Store
	airlocks []string
	dockedAt string
}

// World is the single-threaded colony simulation. All state must be accessed
// only from the loop goroutine.
type World struct {
	cfg    Config
	tu     tuning.Tuning
	params eva.Params
	logger *log.Logger
	rng    *rand.Rand

	tick      atomic.Uint64
	millisols float64

	hosts      map[string]*host
	airlocks   map[string]*airlock.Airlock
	airlockIDs []string

	agents      map[string]*model.Agent
	agentIDs    []string
	stacks      map[string]*tasks.Stack
	running     map[string]eva.Protocol
	retryAt     map[string]float64
	lastAirlock map[string]string

	eventSeq        uint64
	pendingEvents   []protocol.AirlockEvent
	pendingOutcomes []protocol.OutcomeMsg

	inbox         chan CommandRequest
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	stop          chan struct{}

	observers map[string]*observerClient

	tickLogger  TickLogger
	eventLogger EventLogger
	metricsSink MetricsSink

	metrics atomic.Value
}

func New(cfg Config) (*World, error) {
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	if cfg.ID == "" {
		cfg.ID = "colony"
	}
	w := &World{
		cfg:           cfg,
		tu:            cfg.Tuning,
		params:        eva.ParamsFrom(cfg.Tuning.EVA),
		logger:        cfg.Logger,
		rng:           rand.New(rand.NewSource(cfg.Tuning.Seed)),
		hosts:         map[string]*host{},
		airlocks:      map[string]*airlock.Airlock{},
		agents:        map[string]*model.Agent{},
		stacks:        map[string]*tasks.Stack{},
		running:       map[string]eva.Protocol{},
		retryAt:       map[string]float64{},
		lastAirlock:   map[string]string{},
		inbox:         make(chan CommandRequest, 1024),
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 16),
		stop:          make(chan struct{}),
		observers:     map[string]*observerClient{},
	}
	if err := w.build(cfg.Layout); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *World) ID() string    { return w.cfg.ID }
func (w *World) RunID() string { return w.cfg.RunID }

func (w *World) Tuning() tuning.Tuning { return w.tu }

func (w *World) SetTickLogger(l TickLogger)   { w.tickLogger = l }
func (w *World) SetEventLogger(l EventLogger) { w.eventLogger = l }
func (w *World) SetMetricsSink(m MetricsSink) { w.metricsSink = m }

func (w *World) Inbox() chan<- CommandRequest { return w.inbox }

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// Airlock returns the airlock with the given id. Loop goroutine only.
func (w *World) Airlock(id string) *airlock.Airlock { return w.airlocks[id] }

// Agent returns the agent with the given id. Loop goroutine only.
func (w *World) Agent(id string) *model.Agent { return w.agents[id] }

// Traversal returns the protocol the agent is running, if any. Loop goroutine only.
func (w *World) Traversal(agentID string) eva.Protocol { return w.running[agentID] }

func (w *World) AirlockIDs() []string { return append([]string(nil), w.airlockIDs...) }

func (w *World) AgentIDs() []string { return append([]string(nil), w.agentIDs...) }

func (w *World) Inventory(hostID string) eva.Inventory {
	if h := w.hosts[hostID]; h != nil && h.inv != nil {
		return h.inv
	}
	return nil
}

func (w *World) build(l Layout) error {
	ac := w.tu.Airlock
	for _, s := range l.Settlements {
		if s.ID == "" || w.hosts[s.ID] != nil {
			return fmt.Errorf("layout: bad or duplicate settlement id %q", s.ID)
		}
		h := &host{center: s.Origin, radius: s.Radius, inv: newStore(s.ID, s.Stores)}
		h.h = &airlock.FixedHost{ID: s.ID}
		for i := 0; i < s.Airlocks; i++ {
			geo := ringGeometry(s.Origin, s.Radius, i, s.Airlocks)
			fh := &airlock.FixedHost{ID: s.ID, Geometry: geo}
			id := fmt.Sprintf("%s-L%d", s.ID, i+1)
			name := fmt.Sprintf("%s airlock %d", s.Name, i+1)
			w.addAirlock(h, id, name, fh, ac.BuildingCapacity)
		}
		w.hosts[s.ID] = h
	}
	for _, v := range l.Vehicles {
		if v.ID == "" || w.hosts[v.ID] != nil {
			return fmt.Errorf("layout: bad or duplicate vehicle id %q", v.ID)
		}
		if v.DockedAt != "" && w.hosts[v.DockedAt] == nil {
			return fmt.Errorf("layout: vehicle %s docked at unknown settlement %s", v.ID, v.DockedAt)
		}
		mh := &airlock.MobileHost{
			ID:       v.ID,
			Position: v.Position,
			Geometry: airlock.Geometry{Origin: model.Vec2{X: 0, Y: -2}, Axis: model.Vec2{Y: -1}, Spacing: 0.8, SlotSpacing: 0.4},
			DockedAt: v.DockedAt,
		}
		h := &host{h: mh, center: v.Position, radius: 1, inv: newStore(v.ID, v.Stores), dockedAt: v.DockedAt}
		w.addAirlock(h, v.ID+"-L1", v.Name+" airlock", mh, ac.VehicleCapacity)
		w.hosts[v.ID] = h
	}
	for _, a := range l.Agents {
		h := w.hosts[a.HostID]
		if a.ID == "" || w.agents[a.ID] != nil || h == nil {
			return fmt.Errorf("layout: bad agent %q in host %q", a.ID, a.HostID)
		}
		kind := a.Kind
		if kind == "" {
			kind = model.KindPerson
		}
		w.agents[a.ID] = &model.Agent{
			ID:      a.ID,
			Name:    a.Name,
			Kind:    kind,
			HostID:  a.HostID,
			Pos:     w.interiorPoint(h),
			Skill:   a.Skill,
			Fitness: model.Fitness{Performance: 1},
		}
		w.stacks[a.ID] = &tasks.Stack{}
		w.agentIDs = append(w.agentIDs, a.ID)
	}
	sort.Strings(w.agentIDs)
	sort.Strings(w.airlockIDs)
	return nil
}

func (w *World) addAirlock(h *host, id, name string, ah airlock.Host, capacity int) {
	ac := w.tu.Airlock
	l := airlock.New(id, name, ah, airlock.Config{
		CycleTime:           ac.CycleTime,
		Capacity:            capacity,
		MaxWaiting:          ac.MaxWaiting,
		MaxReservations:     ac.MaxReservations,
		ReservationPeriod:   ac.ReservationPeriod,
		OperatorCheckPeriod: ac.OperatorCheckPeriod,
	}, w, w)
	w.airlocks[id] = l
	w.airlockIDs = append(w.airlockIDs, id)
	h.airlocks = append(h.airlocks, id)
}

func newStore(hostID string, s StoreSpec) *inventory.Store {
	inv := inventory.New(hostID)
	if s.OxygenCapacity > 0 {
		inv.SetCapacity(model.Oxygen, s.OxygenCapacity)
	}
	if s.WaterCapacity > 0 {
		inv.SetCapacity(model.Water, s.WaterCapacity)
	}
	inv.Store(model.Oxygen, s.Oxygen)
	inv.Store(model.Water, s.Water)
	for i := 0; i < s.Suits; i++ {
		inv.PutSuit(&model.Suit{ID: fmt.Sprintf("%s-suit-%d", hostID, i+1)})
	}
	return inv
}

func (w *World) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
