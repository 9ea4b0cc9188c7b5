package airlock

import (
	"testing"

	"colonysim.ai/internal/sim/kernel/model"
)

type stubRoster struct {
	suited map[string]bool
	skill  map[string]model.EVASkill
}

func (s *stubRoster) HasSuit(id string) bool            { return s.suited[id] }
func (s *stubRoster) EVASkill(id string) model.EVASkill { return s.skill[id] }

func newRoster() *stubRoster {
	return &stubRoster{suited: map[string]bool{}, skill: map[string]model.EVASkill{}}
}

type eventLog struct{ events []Event }

func (e *eventLog) RecordAirlockEvent(ev Event) { e.events = append(e.events, ev) }

func (e *eventLog) count(kind EventKind) int {
	n := 0
	for _, ev := range e.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{
		CycleTime:           10,
		Capacity:            2,
		MaxWaiting:          3,
		MaxReservations:     2,
		ReservationPeriod:   40,
		OperatorCheckPeriod: 5,
	}
}

func newTestAirlock(t *testing.T, cfg Config, r Roster) (*Airlock, *eventLog) {
	t.Helper()
	host := &FixedHost{ID: "hab-1", Geometry: Geometry{Axis: model.Vec2{X: 1}, Spacing: 1, SlotSpacing: 0.5}}
	rec := &eventLog{}
	return New("L1", "Hab Airlock 1", host, cfg, r, rec), rec
}

func mustInvariants(t *testing.T, l *Airlock) {
	t.Helper()
	if err := l.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestRequestZoneVacatesPrevious(t *testing.T) {
	l, rec := newTestAirlock(t, testConfig(), newRoster())

	if !l.RequestZone("A1", ZoneInterior) {
		t.Fatalf("expected zone 0 admission")
	}
	if !l.RequestZone("A1", ZoneInnerDoor) {
		t.Fatalf("expected zone 1 admission")
	}
	if got := l.ZoneOf("A1"); got != ZoneInnerDoor {
		t.Fatalf("zone=%s", got)
	}
	if occ := l.Occupants(ZoneInterior); len(occ) != 0 {
		t.Fatalf("expected zone 0 vacated, got %v", occ)
	}
	if !l.RequestZone("A1", ZoneInnerDoor) {
		t.Fatalf("re-request of current zone must succeed")
	}
	if rec.count(EventZoneEnter) != 2 || rec.count(EventZoneLeave) != 1 {
		t.Fatalf("unexpected events: %+v", rec.events)
	}
	if l.VacateZone("A1", ZoneChamber) {
		t.Fatalf("vacate of a zone the agent is not in must fail")
	}
	if !l.VacateZone("A1", ZoneInnerDoor) {
		t.Fatalf("vacate failed")
	}
	if l.ZoneOf("A1") != NoZone {
		t.Fatalf("expected no zone after vacate")
	}
	mustInvariants(t, l)
}

func TestChamberContention(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 1
	l, _ := newTestAirlock(t, cfg, newRoster())

	l.RequestZone("A1", ZoneInnerDoor)
	l.RequestZone("A2", ZoneInnerDoor)

	first := l.RequestZone("A1", ZoneChamber)
	second := l.RequestZone("A2", ZoneChamber)
	if !first || second {
		t.Fatalf("expected exactly one chamber admission, got A1=%v A2=%v", first, second)
	}
	if l.ZoneOf("A2") != ZoneInnerDoor {
		t.Fatalf("loser must keep its zone, got %s", l.ZoneOf("A2"))
	}
	mustInvariants(t, l)

	if !l.RequestZone("A1", ZoneOuterDoor) {
		t.Fatalf("A1 could not move on")
	}
	if !l.RequestZone("A2", ZoneChamber) {
		t.Fatalf("A2 should be admitted once the chamber frees up")
	}
	mustInvariants(t, l)
}

func TestOperatorCompareAndSet(t *testing.T) {
	l, _ := newTestAirlock(t, testConfig(), newRoster())
	l.RequestZone("A1", ZoneInterior)
	l.RequestZone("A2", ZoneInterior)

	if !l.BecomeOperator("A1") {
		t.Fatalf("first claim must win")
	}
	if l.BecomeOperator("A2") {
		t.Fatalf("second claim must lose")
	}
	if !l.BecomeOperator("A1") {
		t.Fatalf("holder re-claim should report true")
	}
	l.ReleaseOperator("A2")
	if l.Operator() != "A1" {
		t.Fatalf("release by non-holder must be a no-op")
	}
	l.ReleaseOperator("A1")
	if l.Operator() != "" {
		t.Fatalf("expected operator cleared")
	}
	if !l.BecomeOperator("A2") {
		t.Fatalf("A2 should win after release")
	}
}

func TestCycleRequiresOperatorAndCompletesAtThreshold(t *testing.T) {
	l, rec := newTestAirlock(t, testConfig(), newRoster())
	l.RequestZone("A1", ZoneInterior)

	if l.BeginPressurizing("A1") {
		t.Fatalf("non-operator must not start a cycle")
	}
	l.BecomeOperator("A1")
	if !l.BeginPressurizing("A1") {
		t.Fatalf("operator should start pressurizing")
	}
	if l.BeginPressurizing("A1") || l.BeginDepressurizing("A1") {
		t.Fatalf("cannot begin while mid-cycle")
	}
	if rem := l.AdvanceCycle(4); rem != 0 || l.State() != Pressurizing {
		t.Fatalf("rem=%v state=%s", rem, l.State())
	}
	if rem := l.AdvanceCycle(4); rem != 0 || l.State() != Pressurizing {
		t.Fatalf("rem=%v state=%s", rem, l.State())
	}
	if rem := l.AdvanceCycle(5); rem != 3 || l.State() != Pressurized {
		t.Fatalf("rem=%v state=%s", rem, l.State())
	}
	if l.InnerDoorLocked() || !l.OuterDoorLocked() {
		t.Fatalf("pressurized airlock must unlock only the inner door")
	}
	if l.BeginPressurizing("A1") {
		t.Fatalf("already pressurized")
	}
	if rec.count(EventCycleComplete) != 1 || l.Stats().CyclesCompleted != 1 {
		t.Fatalf("expected one completed cycle")
	}
	if rem := l.AdvanceCycle(2); rem != 2 {
		t.Fatalf("idle advance must return all time, got %v", rem)
	}
}

func TestDepressurizeBlockedByUnsuitedOccupant(t *testing.T) {
	r := newRoster()
	l, _ := newTestAirlock(t, testConfig(), r)
	l.RequestZone("A1", ZoneChamber)
	l.RequestZone("A2", ZoneChamber)
	r.suited["A1"] = true
	l.BecomeOperator("A1")

	if l.BeginDepressurizing("A1") {
		t.Fatalf("must refuse with an unsuited occupant")
	}
	if l.State() != Idle {
		t.Fatalf("state changed on refusal: %s", l.State())
	}
	r.suited["A2"] = true
	if !l.BeginDepressurizing("A1") {
		t.Fatalf("all suited: expected depressurize to begin")
	}
	// A suit coming off mid-cycle stalls the cycle instead of completing it.
	r.suited["A2"] = false
	if rem := l.AdvanceCycle(20); rem != 20 || l.State() != Depressurizing {
		t.Fatalf("expected stall, rem=%v state=%s", rem, l.State())
	}
	r.suited["A2"] = true
	l.AdvanceCycle(20)
	if l.State() != Depressurized {
		t.Fatalf("state=%s", l.State())
	}
	if l.OuterDoorLocked() || !l.InnerDoorLocked() {
		t.Fatalf("depressurized airlock must unlock only the outer door")
	}
	mustInvariants(t, l)
}

func TestDoorUsabilityEscapeHatch(t *testing.T) {
	l, _ := newTestAirlock(t, testConfig(), newRoster())
	if !l.InnerDoorLocked() || !l.OuterDoorLocked() {
		t.Fatalf("idle airlock keeps both doors locked")
	}
	if !l.IsInnerDoorUsable() || !l.IsOuterDoorUsable() {
		t.Fatalf("empty airlock reports both doors usable")
	}
	l.RequestZone("A1", ZoneChamber)
	if l.IsInnerDoorUsable() || l.IsOuterDoorUsable() {
		t.Fatalf("occupied idle airlock must not report usable doors")
	}
}

func TestAwaitingQueueBound(t *testing.T) {
	l, rec := newTestAirlock(t, testConfig(), newRoster())
	for _, id := range []string{"A1", "A2", "A3"} {
		if !l.AddAwaitingInnerDoor(id) {
			t.Fatalf("queue rejected %s", id)
		}
	}
	if !l.AddAwaitingInnerDoor("A2") {
		t.Fatalf("re-queue must be idempotent")
	}
	if l.AddAwaitingInnerDoor("A4") {
		t.Fatalf("fourth waiter must be rejected")
	}
	if !l.AddAwaitingOuterDoor("B1") {
		t.Fatalf("outer queue is independent")
	}
	if rec.count(EventQueueJoin) != 4 {
		t.Fatalf("queue joins=%d", rec.count(EventQueueJoin))
	}
	l.RequestZone("A1", ZoneInterior)
	l.RequestZone("A1", ZoneInnerDoor)
	if got := l.AwaitingInnerDoor(); len(got) != 2 || got[0] != "A2" {
		t.Fatalf("admitted agent must leave the queue, got %v", got)
	}
	mustInvariants(t, l)
}

func TestReservationsBoundAndExpiry(t *testing.T) {
	l, rec := newTestAirlock(t, testConfig(), newRoster())
	if !l.Reserve("A1") || !l.Reserve("A2") {
		t.Fatalf("expected two reservations")
	}
	if l.Reserve("A3") {
		t.Fatalf("third reservation must be refused")
	}
	l.Tick(30)
	if !l.Reserve("A1") {
		t.Fatalf("renewal must succeed")
	}
	l.Tick(15)
	if l.HasReservation("A2") {
		t.Fatalf("A2 should have expired")
	}
	if !l.HasReservation("A1") {
		t.Fatalf("renewed reservation expired early")
	}
	if rec.count(EventReservationExpired) != 1 {
		t.Fatalf("expired events=%d", rec.count(EventReservationExpired))
	}

	rover := New("R1", "Rover Airlock", &MobileHost{ID: "rover-1"}, testConfig(), nil, nil)
	for _, id := range []string{"A1", "A2", "A3", "A4"} {
		if !rover.Reserve(id) {
			t.Fatalf("vehicles do not limit reservations")
		}
	}
	if len(rover.Reservations()) != 0 {
		t.Fatalf("vehicles keep no reservation table")
	}
}

func TestRemoveClearsEveryTableAndSettles(t *testing.T) {
	r := newRoster()
	l, rec := newTestAirlock(t, testConfig(), r)
	l.RequestZone("A1", ZoneInterior)
	l.AddAwaitingInnerDoor("A1")
	l.Reserve("A1")
	l.BecomeOperator("A1")
	l.SetMode("A1", ModeEgress)
	l.BeginPressurizing("A1")
	l.AdvanceCycle(10)

	l.Remove("A1")
	if l.ZoneOf("A1") != NoZone || l.IsAwaiting("A1") || l.HasReservation("A1") || l.Operator() != "" {
		t.Fatalf("Remove left state behind")
	}
	if l.State() != Idle || l.Mode() != ModeNotInUse {
		t.Fatalf("empty airlock should settle idle, state=%s mode=%s", l.State(), l.Mode())
	}
	if rec.count(EventIdle) != 1 {
		t.Fatalf("idle events=%d", rec.count(EventIdle))
	}
	mustInvariants(t, l)
}

func TestModeResetsOnceNobodyIsInside(t *testing.T) {
	r := newRoster()
	l, rec := newTestAirlock(t, testConfig(), r)
	l.RequestZone("A1", ZoneInterior)
	l.AddAwaitingInnerDoor("A2")
	l.BecomeOperator("A1")
	l.SetMode("A1", ModeEgress)

	l.ReleaseOperator("A1")
	if l.Mode() != ModeNotInUse {
		t.Fatalf("mode=%s with nobody between the doors", l.Mode())
	}
	if l.ZoneOf("A1") != ZoneInterior || !l.IsAwaiting("A2") || rec.count(EventIdle) != 0 {
		t.Fatalf("agents outside the doors should stay put: zone=%s idle=%d", l.ZoneOf("A1"), rec.count(EventIdle))
	}

	l.BecomeOperator("A1")
	l.SetMode("A1", ModeEgress)
	l.RequestZone("A1", ZoneInnerDoor)
	l.ReleaseOperator("A1")
	if l.Mode() != ModeEgress {
		t.Fatalf("mode reset with an occupant inside")
	}
	mustInvariants(t, l)
}

func TestNextInLineFollowsQueueOrder(t *testing.T) {
	l, _ := newTestAirlock(t, testConfig(), newRoster())
	l.AddAwaitingInnerDoor("A2")
	l.AddAwaitingInnerDoor("A1")
	l.AddAwaitingOuterDoor("B1")

	if !l.NextInLine("A2", Egress) || l.NextInLine("A1", Egress) {
		t.Fatalf("inner queue %v: only its head may cross", l.AwaitingInnerDoor())
	}
	if !l.NextInLine("B1", Ingress) || !l.NextInLine("C1", Egress) {
		t.Fatalf("the other side and unqueued agents are not held back")
	}
	l.RequestZone("A2", ZoneInnerDoor)
	if !l.NextInLine("A1", Egress) {
		t.Fatalf("A1 should head the line once A2 is through, queue=%v", l.AwaitingInnerDoor())
	}
}

func TestOrphanedCycleFinishesOnTick(t *testing.T) {
	r := newRoster()
	l, _ := newTestAirlock(t, testConfig(), r)
	l.RequestZone("A1", ZoneChamber)
	l.BecomeOperator("A1")
	l.BeginPressurizing("A1")
	l.AdvanceCycle(3)

	l.ReleaseOperator("A1")
	l.Tick(3)
	if l.State() != Pressurizing {
		t.Fatalf("state=%s", l.State())
	}
	l.Tick(4)
	if l.State() != Pressurized {
		t.Fatalf("orphaned cycle should complete, state=%s", l.State())
	}
}

func TestWatchdogReelectsBySkill(t *testing.T) {
	r := newRoster()
	r.skill["A2"] = model.EVASkill{Level: 2, Experience: 10}
	r.skill["A3"] = model.EVASkill{Level: 2, Experience: 30}
	r.skill["Q1"] = model.EVASkill{Level: 5}
	l, rec := newTestAirlock(t, testConfig(), r)

	l.RequestZone("A1", ZoneChamber)
	l.RequestZone("A2", ZoneChamber)
	l.RequestZone("A3", ZoneOuterDoor)
	l.AddAwaitingInnerDoor("Q1")
	l.BecomeOperator("A1")

	// A1 disappears without running its cleanup.
	l.VacateZone("A1", ZoneChamber)
	l.Tick(5)

	if rec.count(EventOperatorLost) != 1 {
		t.Fatalf("expected the stale operator to be cleared")
	}
	if got := l.Operator(); got != "A3" {
		t.Fatalf("expected most experienced occupant A3, got %q", got)
	}
	mustInvariants(t, l)
}

func TestCheckInvariantsDetectsStaleOperator(t *testing.T) {
	l, _ := newTestAirlock(t, testConfig(), newRoster())
	l.RequestZone("A1", ZoneInterior)
	l.BecomeOperator("A1")
	delete(l.where, "A1")
	delete(l.zones[ZoneInterior], "A1")
	if err := l.CheckInvariants(); err == nil {
		t.Fatalf("expected operator invariant violation")
	}
}

func TestTransitionFollowsTraversalOrder(t *testing.T) {
	l, _ := newTestAirlock(t, testConfig(), newRoster())

	pos, ok := TransitionTo(l, "A1", Egress, ZoneInterior)
	if !ok {
		t.Fatalf("entry transition failed")
	}
	if want := l.Host().ReferencePoint(ZoneInterior, 0); pos != want {
		t.Fatalf("pos=%+v want %+v", pos, want)
	}
	if _, ok := TransitionTo(l, "A1", Egress, ZoneInterior); !ok {
		t.Fatalf("same-zone transition must succeed trivially")
	}
	if _, ok := TransitionTo(l, "A1", Egress, ZoneInnerDoor); !ok {
		t.Fatalf("adjacent transition failed")
	}

	// Second agent in the same zone gets a different slot.
	TransitionTo(l, "A2", Egress, ZoneInterior)
	p2, _ := TransitionTo(l, "A2", Egress, ZoneInnerDoor)
	p1 := l.ReferencePoint("A1")
	if p1 == p2 {
		t.Fatalf("expected distinct slots, both at %+v", p1)
	}
}

func TestTransitionPanicsOnSkip(t *testing.T) {
	l, _ := newTestAirlock(t, testConfig(), newRoster())
	TransitionTo(l, "A1", Egress, ZoneInterior)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on non-adjacent jump")
		}
	}()
	TransitionTo(l, "A1", Egress, ZoneChamber)
}

func TestTransitionFailureLeavesStateUntouched(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 1
	l, _ := newTestAirlock(t, cfg, newRoster())
	l.RequestZone("A1", ZoneInnerDoor)
	l.RequestZone("A1", ZoneChamber)
	l.RequestZone("A2", ZoneInnerDoor)

	if _, ok := TransitionTo(l, "A2", Egress, ZoneChamber); ok {
		t.Fatalf("chamber is full")
	}
	if l.ZoneOf("A2") != ZoneInnerDoor {
		t.Fatalf("failed transition moved the agent")
	}
}

func TestDirectionNext(t *testing.T) {
	if Egress.Next(ZoneInterior) != ZoneInnerDoor || Egress.Next(ZoneExterior) != NoZone {
		t.Fatalf("egress order wrong")
	}
	if Ingress.Next(ZoneExterior) != ZoneOuterDoor || Ingress.Next(ZoneInterior) != NoZone {
		t.Fatalf("ingress order wrong")
	}
	if Egress.Entry() != ZoneInterior || Ingress.Entry() != ZoneExterior {
		t.Fatalf("entry zones wrong")
	}
	if Egress.Exit() != ZoneExterior || Ingress.Exit() != ZoneInterior {
		t.Fatalf("exit zones wrong")
	}
}
