package eva

import (
	"sort"
	"testing"

	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/airlock"
	"colonysim.ai/internal/sim/inventory"
	"colonysim.ai/internal/sim/kernel/model"
	"colonysim.ai/internal/sim/tasks"
)

type stubEnv struct {
	agents    map[string]*model.Agent
	stacks    map[string]*tasks.Stack
	invs      map[string]*inventory.Store
	unfit     map[string]bool
	waived    bool
	speed     float64
	dispersed []string
}

func (e *stubEnv) WalkTo(a *model.Agent, target model.Vec2) {
	e.stacks[a.ID].Push(tasks.NewWalk(a, target, e.speed))
}

func (e *stubEnv) Disperse(a *model.Agent, hostID string) {
	e.dispersed = append(e.dispersed, a.ID)
	e.stacks[a.ID].Push(tasks.NewWalk(a, model.Vec2{X: -6}, e.speed))
}

func (e *stubEnv) Inventory(hostID string) Inventory {
	if inv, ok := e.invs[hostID]; ok {
		return inv
	}
	return nil
}

func (e *stubEnv) IsFit(a *model.Agent, _ Tier) bool       { return !e.unfit[a.ID] }
func (e *stubEnv) PerformanceRating(a *model.Agent) float64 { return 1 }
func (e *stubEnv) FitnessWaived(string) bool                { return e.waived }
func (e *stubEnv) Uniform() float64                         { return 0.5 }

func (e *stubEnv) HasSuit(id string) bool {
	a := e.agents[id]
	return a != nil && a.HasSuit()
}

func (e *stubEnv) EVASkill(string) model.EVASkill { return model.EVASkill{} }

type rig struct {
	t    *testing.T
	env  *stubEnv
	lock *airlock.Airlock
	inv  *inventory.Store
}

func testParams() Params {
	return Params{
		DonningTime:         5,
		DoffingTime:         3,
		CleaningTime:        2,
		VehicleCleaningTime: 1,
		PrebreatheTime:      5,
		MinPerformance:      0.05,
		MinSuitOxygen:       0.5,
		MinSuitWater:        0.25,
		SuitOxygenCapacity:  1,
		SuitWaterCapacity:   1,
		ArriveTolerance:     0.01,
	}
}

func newRig(t *testing.T, capacity int) *rig {
	t.Helper()
	inv := inventory.New("hab")
	inv.Store(model.Oxygen, 10)
	inv.Store(model.Water, 10)
	env := &stubEnv{
		agents: map[string]*model.Agent{},
		stacks: map[string]*tasks.Stack{},
		invs:   map[string]*inventory.Store{"hab": inv},
		unfit:  map[string]bool{},
		speed:  1,
	}
	host := &airlock.FixedHost{ID: "hab", Geometry: airlock.Geometry{Axis: model.Vec2{X: 1}, Spacing: 1, SlotSpacing: 0.5}}
	cfg := airlock.Config{
		CycleTime:           4,
		Capacity:            capacity,
		MaxWaiting:          3,
		MaxReservations:     4,
		ReservationPeriod:   40,
		OperatorCheckPeriod: 1000,
	}
	return &rig{t: t, env: env, lock: airlock.New("L1", "Hab Lock", host, cfg, env, nil), inv: inv}
}

func (r *rig) agent(id string, pos model.Vec2, outside bool) *model.Agent {
	a := &model.Agent{ID: id, Name: id, Kind: model.KindPerson, HostID: "hab", Pos: pos, Outside: outside}
	r.env.agents[id] = a
	r.env.stacks[id] = &tasks.Stack{}
	return a
}

func (r *rig) start(p Protocol) Protocol {
	r.env.stacks[p.Agent().ID].Push(p)
	return p
}

func (r *rig) tick() {
	r.t.Helper()
	ids := make([]string, 0, len(r.env.stacks))
	for id := range r.env.stacks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r.env.stacks[id].Perform(1)
	}
	r.lock.Tick(1)
	if err := r.lock.CheckInvariants(); err != nil {
		r.t.Fatalf("invariants: %v", err)
	}
}

func (r *rig) runUntil(max int, cond func() bool) bool {
	r.t.Helper()
	for i := 0; i < max; i++ {
		if cond() {
			return true
		}
		r.tick()
	}
	return cond()
}

func TestEgressHappyPath(t *testing.T) {
	r := newRig(t, 2)
	r.inv.PutSuit(&model.Suit{ID: "suit-1"})
	a := r.agent("A1", model.Vec2{X: -3}, false)
	e := r.start(NewEgress(r.env, testParams(), a, r.lock))

	if !r.runUntil(200, e.Done) {
		t.Fatalf("egress stuck in %s", e.Phase())
	}
	if o := e.Outcome(); o.Kind != Completed {
		t.Fatalf("outcome=%+v", o)
	}
	if !a.Outside || !a.HasSuit() || a.Suit.OwnerID != "A1" {
		t.Fatalf("agent after egress: outside=%v suit=%+v", a.Outside, a.Suit)
	}
	if a.Suit.Oxygen < 0.5 || a.Suit.Water < 0.25 {
		t.Fatalf("suit not loaded: %+v", a.Suit)
	}
	if !a.Pos.Near(model.Vec2{X: 2}, 0.01) {
		t.Fatalf("agent not at the exterior point: %+v", a.Pos)
	}
	l := r.lock
	if l.State() != airlock.Idle || l.Operator() != "" || l.ZoneOf("A1") != airlock.NoZone {
		t.Fatalf("airlock not released: state=%s op=%q zone=%s", l.State(), l.Operator(), l.ZoneOf("A1"))
	}
	if len(l.Reservations()) != 0 || r.inv.SuitCount() != 0 {
		t.Fatalf("reservations=%v suits=%d", l.Reservations(), r.inv.SuitCount())
	}
	if l.Stats().CyclesCompleted != 2 || l.Stats().Completions != 1 {
		t.Fatalf("stats=%+v", l.Stats())
	}
}

func TestIngressHappyPath(t *testing.T) {
	r := newRig(t, 2)
	r.inv.SetCapacity(model.Oxygen, 10.2)
	a := r.agent("B1", model.Vec2{X: 3}, true)
	a.Suit = &model.Suit{ID: "suit-9", OwnerID: "B1", Oxygen: 0.4, Water: 0.3, CO2: 0.2}
	in := r.start(NewIngress(r.env, testParams(), a, r.lock))

	if !r.runUntil(200, in.Done) {
		t.Fatalf("ingress stuck in %s", in.Phase())
	}
	if o := in.Outcome(); o.Kind != Completed {
		t.Fatalf("outcome=%+v", o)
	}
	if a.Outside || a.HasSuit() {
		t.Fatalf("agent after ingress: outside=%v suit=%+v", a.Outside, a.Suit)
	}
	if r.inv.SuitCount() != 1 {
		t.Fatalf("suit not stored: %d", r.inv.SuitCount())
	}
	// Only 0.2 of the residual oxygen fits; the rest is vented.
	if got := r.inv.Amount(model.Oxygen); got < 10.19 || got > 10.21 {
		t.Fatalf("oxygen=%v", got)
	}
	if got := r.inv.Amount(model.Water); got < 10.29 || got > 10.31 {
		t.Fatalf("water=%v", got)
	}
	if len(r.env.dispersed) != 1 || r.env.dispersed[0] != "B1" {
		t.Fatalf("dispersed=%v", r.env.dispersed)
	}
	if r.lock.State() != airlock.Idle || r.lock.Operator() != "" || !r.lock.IsEmpty() {
		t.Fatalf("airlock not released: state=%s op=%q", r.lock.State(), r.lock.Operator())
	}
}

func TestSuitShortageKeepsChamberSlot(t *testing.T) {
	r := newRig(t, 2)
	a := r.agent("A1", model.Vec2{X: -2}, false)
	e := r.start(NewEgress(r.env, testParams(), a, r.lock))

	if !r.runUntil(100, func() bool { return e.Phase() == PhaseDonEVASuit }) {
		t.Fatalf("never reached %s, in %s", PhaseDonEVASuit, e.Phase())
	}
	r.tick()
	if !e.Done() {
		t.Fatalf("empty shelf should end the egress at once, in %s", e.Phase())
	}
	o := e.Outcome()
	if o.Kind != Abandoned || o.Code != protocol.ErrNoSuit || o.Phase != PhaseDonEVASuit {
		t.Fatalf("outcome=%+v", o)
	}
	if z := r.lock.ZoneOf("A1"); z != airlock.ZoneChamber {
		t.Fatalf("zone=%s, agent should still hold the chamber", z)
	}
	if r.lock.Operator() != "" || r.lock.Stats().SuitShortages != 1 {
		t.Fatalf("operator=%q stats=%+v", r.lock.Operator(), r.lock.Stats())
	}

	back := r.start(NewReturnInside(r.env, testParams(), a, r.lock))
	if !r.runUntil(50, back.Done) {
		t.Fatalf("return inside stuck")
	}
	if back.Outcome().Kind != Completed || r.lock.ZoneOf("A1") != airlock.NoZone {
		t.Fatalf("return outcome=%+v zone=%s", back.Outcome(), r.lock.ZoneOf("A1"))
	}
	if r.lock.State() != airlock.Idle {
		t.Fatalf("state=%s", r.lock.State())
	}
}

func TestUnfitMidSequenceVacates(t *testing.T) {
	r := newRig(t, 2)
	r.inv.PutSuit(&model.Suit{ID: "suit-1"})
	a := r.agent("A1", model.Vec2{X: -2}, false)
	e := r.start(NewEgress(r.env, testParams(), a, r.lock))

	if !r.runUntil(100, func() bool { return e.Phase() == PhaseWalkToChamber }) {
		t.Fatalf("never reached %s, in %s", PhaseWalkToChamber, e.Phase())
	}
	r.env.unfit["A1"] = true
	if !r.runUntil(5, e.Done) {
		t.Fatalf("unfit agent kept going in %s", e.Phase())
	}
	if o := e.Outcome(); o.Kind != Abandoned || o.Code != protocol.ErrUnfit {
		t.Fatalf("outcome=%+v", o)
	}
	l := r.lock
	if l.ZoneOf("A1") != airlock.NoZone || l.Operator() != "" || l.IsAwaiting("A1") || l.HasReservation("A1") {
		t.Fatalf("agent left traces: zone=%s op=%q", l.ZoneOf("A1"), l.Operator())
	}
	if r.inv.SuitCount() != 1 {
		t.Fatalf("suit went missing")
	}
}

func TestUnfitWaivedOnDockedVehicle(t *testing.T) {
	r := newRig(t, 2)
	r.env.waived = true
	a := r.agent("A1", model.Vec2{X: -2}, false)
	r.env.unfit["A1"] = true
	e := r.start(NewEgress(r.env, testParams(), a, r.lock))
	r.tick()
	if e.Done() {
		t.Fatalf("waived host still rejected the agent: %+v", e.Outcome())
	}
}

func TestContentionSerializesChamber(t *testing.T) {
	r := newRig(t, 1)
	r.inv.PutSuit(&model.Suit{ID: "suit-1"})
	r.inv.PutSuit(&model.Suit{ID: "suit-2"})
	p := testParams()
	a := r.agent("A1", model.Vec2{X: -2}, false)
	b := r.agent("A2", model.Vec2{X: -2, Y: 0.5}, false)
	ea := r.start(NewEgress(r.env, p, a, r.lock))
	eb := r.start(NewEgress(r.env, p, b, r.lock))

	sawWaiting := false
	done := func() bool {
		if eb.Done() && eb.Outcome().Code == protocol.ErrPrebreatheConflict {
			// The scheduler retries agents that gave way to a group.
			eb = r.start(NewEgress(r.env, p, b, r.lock))
		}
		if r.lock.ZoneOf("A1").Inside() && r.lock.ZoneOf("A2") == airlock.ZoneInterior {
			sawWaiting = true
		}
		if len(r.lock.Occupants(airlock.ZoneChamber)) > 1 {
			t.Fatalf("chamber over capacity")
		}
		return ea.Done() && eb.Done()
	}
	if !r.runUntil(400, done) {
		t.Fatalf("stuck: A1 in %s, A2 in %s", ea.Phase(), eb.Phase())
	}
	if ea.Outcome().Kind != Completed || eb.Outcome().Kind != Completed {
		t.Fatalf("outcomes: %+v %+v", ea.Outcome(), eb.Outcome())
	}
	if !sawWaiting {
		t.Fatalf("second agent never waited for the first")
	}
	if !a.Outside || !b.Outside || r.lock.State() != airlock.Idle {
		t.Fatalf("unexpected end state")
	}
}

func TestQueuedAgentsCrossInQueueOrder(t *testing.T) {
	r := newRig(t, 2)
	var crossed []string
	rec := airlock.RecorderFunc(func(ev airlock.Event) {
		if ev.Kind == airlock.EventZoneEnter && ev.Zone == airlock.ZoneInnerDoor {
			crossed = append(crossed, ev.AgentID)
		}
	})
	r.lock = airlock.New("L1", "Hab Lock", r.lock.Host(), r.lock.Config(), r.env, rec)
	r.inv.PutSuit(&model.Suit{ID: "suit-1"})
	r.inv.PutSuit(&model.Suit{ID: "suit-2"})
	// A1 ticks first every round but reaches the line one tick after B2.
	late := r.agent("A1", model.Vec2{X: -3}, false)
	early := r.agent("B2", model.Vec2{X: -2, Y: 0.5}, false)
	el := r.start(NewEgress(r.env, testParams(), late, r.lock))
	ee := r.start(NewEgress(r.env, testParams(), early, r.lock))

	r.tick()
	r.tick()
	if q := r.lock.AwaitingInnerDoor(); len(q) != 2 || q[0] != "B2" || q[1] != "A1" {
		t.Fatalf("queue=%v", q)
	}
	if !r.runUntil(400, func() bool { return el.Done() && ee.Done() }) {
		t.Fatalf("stuck: A1 in %s, B2 in %s", el.Phase(), ee.Phase())
	}
	if el.Outcome().Kind != Completed || ee.Outcome().Kind != Completed {
		t.Fatalf("outcomes: %+v %+v", el.Outcome(), ee.Outcome())
	}
	if len(crossed) != 2 || crossed[0] != "B2" || crossed[1] != "A1" {
		t.Fatalf("crossed the inner door as %v", crossed)
	}
}

func TestCrossTrafficCompletes(t *testing.T) {
	r := newRig(t, 2)
	r.inv.PutSuit(&model.Suit{ID: "suit-1"})
	out := r.agent("A1", model.Vec2{X: -3}, false)
	in := r.agent("B1", model.Vec2{X: 3}, true)
	in.Suit = &model.Suit{ID: "suit-9", OwnerID: "B1", Oxygen: 0.5, Water: 0.5}
	e := r.start(NewEgress(r.env, testParams(), out, r.lock))
	i := r.start(NewIngress(r.env, testParams(), in, r.lock))

	if !r.runUntil(400, func() bool { return e.Done() && i.Done() }) {
		t.Fatalf("stuck: egress in %s, ingress in %s", e.Phase(), i.Phase())
	}
	if e.Outcome().Kind != Completed || i.Outcome().Kind != Completed {
		t.Fatalf("outcomes: %+v %+v", e.Outcome(), i.Outcome())
	}
	if !out.Outside || in.Outside {
		t.Fatalf("agents ended on the wrong side")
	}
}

func TestCancelReleasesEverything(t *testing.T) {
	r := newRig(t, 2)
	r.inv.PutSuit(&model.Suit{ID: "suit-1"})
	a := r.agent("A1", model.Vec2{X: -2}, false)
	e := r.start(NewEgress(r.env, testParams(), a, r.lock))

	if !r.runUntil(100, func() bool { return e.Phase() == PhasePrebreathe }) {
		t.Fatalf("never reached prebreathe, in %s", e.Phase())
	}
	if r.lock.Operator() != "A1" {
		t.Fatalf("operator=%q", r.lock.Operator())
	}
	r.env.stacks["A1"].Cancel()

	if o := e.Outcome(); o.Kind != Abandoned || o.Code != protocol.ErrCancelled {
		t.Fatalf("outcome=%+v", o)
	}
	if r.lock.ZoneOf("A1") != airlock.NoZone || r.lock.Operator() != "" {
		t.Fatalf("cancel left the agent in the airlock")
	}
	if a.HasSuit() || r.inv.SuitCount() != 1 {
		t.Fatalf("suit not hung back up")
	}
	if r.lock.MaxPrebreatheExcept("") != 0 {
		t.Fatalf("prebreathe progress not cleared")
	}
}

func TestQueueFullAbandons(t *testing.T) {
	r := newRig(t, 1)
	r.lock.RequestZone("Q1", airlock.ZoneChamber)
	for _, id := range []string{"Q2", "Q3", "Q4"} {
		if !r.lock.AddAwaitingInnerDoor(id) {
			t.Fatalf("queue refused %s", id)
		}
	}
	a := r.agent("A1", model.Vec2{X: -2}, false)
	e := NewEgress(r.env, testParams(), a, r.lock)
	e.Perform(1)
	if o := e.Outcome(); o.Kind != Abandoned || o.Code != protocol.ErrQueueFull {
		t.Fatalf("outcome=%+v", o)
	}
	if r.lock.ZoneOf("A1") != airlock.NoZone || r.lock.HasReservation("A1") {
		t.Fatalf("abandon left traces")
	}
}

func TestIngressRejectsAgentInside(t *testing.T) {
	r := newRig(t, 2)
	a := r.agent("A1", model.Vec2{X: -2}, false)
	in := NewIngress(r.env, testParams(), a, r.lock)
	in.Perform(1)
	if o := in.Outcome(); o.Kind != Abandoned || o.Code != protocol.ErrNotOutside {
		t.Fatalf("outcome=%+v", o)
	}
}

func TestCanExitCountsSuitShortage(t *testing.T) {
	r := newRig(t, 2)
	a := r.agent("A1", model.Vec2{X: -2}, false)
	p := testParams()
	if ok, code := CanExit(r.env, p, a, r.lock); ok || code != protocol.ErrNoSuit {
		t.Fatalf("ok=%v code=%s", ok, code)
	}
	if ok, _ := CanExit(r.env, p, a, r.lock); ok || r.lock.Stats().SuitShortages != 2 {
		t.Fatalf("shortages=%d", r.lock.Stats().SuitShortages)
	}
	r.inv.PutSuit(&model.Suit{ID: "suit-1"})
	if ok, code := CanExit(r.env, p, a, r.lock); !ok || code != "" {
		t.Fatalf("ok=%v code=%s", ok, code)
	}
	if r.lock.Stats().SuitShortages != 0 {
		t.Fatalf("shortage counter not reset")
	}
	if ok, code := CanEnter(a, r.lock); ok || code != protocol.ErrNotOutside {
		t.Fatalf("CanEnter ok=%v code=%s", ok, code)
	}
}

func TestSelectSuitPrefersOwnSuit(t *testing.T) {
	inv := inventory.New("hab")
	inv.Store(model.Oxygen, 5)
	inv.Store(model.Water, 5)
	inv.PutSuit(&model.Suit{ID: "a", Oxygen: 1, Water: 1})
	inv.PutSuit(&model.Suit{ID: "b", OwnerID: "A1"})
	inv.PutSuit(&model.Suit{ID: "c", OwnerID: "A9", Oxygen: 1, Water: 1})

	s, code := SelectSuit(inv, "A1", testParams())
	if code != "" || s.ID != "b" {
		t.Fatalf("picked %+v code=%s", s, code)
	}
	s, _ = SelectSuit(inv, "A2", testParams())
	if s.ID != "a" {
		t.Fatalf("A2 should get the unowned suit, got %s", s.ID)
	}

	dry := inventory.New("rover")
	dry.PutSuit(&model.Suit{ID: "a"})
	if _, code := SelectSuit(dry, "A1", testParams()); code != protocol.ErrTransferFailed {
		t.Fatalf("code=%s want %s", code, protocol.ErrTransferFailed)
	}
}
