package airlock

import (
	"errors"
	"fmt"
	"sort"

	"colonysim.ai/internal/sim/kernel/model"
)

// Config is the immutable parameter set of one airlock. Times are in millisols.
type Config struct {
	CycleTime           float64
	Capacity            int
	MaxWaiting          int
	MaxReservations     int
	ReservationPeriod   float64
	OperatorCheckPeriod float64
}

// Roster answers questions about agents that the airlock does not own.
type Roster interface {
	HasSuit(agentID string) bool
	EVASkill(agentID string) model.EVASkill
}

type Stats struct {
	CyclesCompleted int
	Abandonments    int
	Completions     int
	// SuitShortages counts consecutive failed suit checks; reset when a check succeeds.
	SuitShortages int
}

// Airlock is the shared resource agents contend over when crossing between a
// pressurized host and the exterior. It is not safe for concurrent use: all calls
// must come from the simulation loop.
type Airlock struct {
	id   string
	name string
	host Host
	cfg  Config

	roster Roster
	rec    Recorder

	state    CycleState
	mode     Mode
	progress float64
	operator string

	zones [zoneCount]map[string]struct{}
	where map[string]Zone
	slots map[string]int

	awaitingInner []string
	awaitingOuter []string

	// reservations maps agent id to the clock reading at which the reservation lapses.
	reservations map[string]float64
	// prebreathe holds the published prebreathing fraction of egressing occupants.
	prebreathe map[string]float64

	clock      float64
	sinceCheck float64

	stats Stats
}

func New(id, name string, host Host, cfg Config, roster Roster, rec Recorder) *Airlock {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.MaxWaiting < 1 {
		cfg.MaxWaiting = 1
	}
	l := &Airlock{
		id:           id,
		name:         name,
		host:         host,
		cfg:          cfg,
		roster:       roster,
		rec:          rec,
		where:        map[string]Zone{},
		slots:        map[string]int{},
		reservations: map[string]float64{},
		prebreathe:   map[string]float64{},
	}
	for i := range l.zones {
		l.zones[i] = map[string]struct{}{}
	}
	return l
}

func (l *Airlock) ID() string        { return l.id }
func (l *Airlock) Name() string      { return l.name }
func (l *Airlock) Host() Host        { return l.host }
func (l *Airlock) Config() Config    { return l.cfg }
func (l *Airlock) State() CycleState { return l.state }
func (l *Airlock) Mode() Mode        { return l.mode }
func (l *Airlock) Operator() string  { return l.operator }
func (l *Airlock) Progress() float64 { return l.progress }
func (l *Airlock) Stats() Stats      { return l.stats }
func (l *Airlock) Clock() float64    { return l.clock }
func (l *Airlock) IsOperator(agentID string) bool {
	return agentID != "" && l.operator == agentID
}

// ZoneOf returns the zone the agent occupies, or NoZone.
func (l *Airlock) ZoneOf(agentID string) Zone {
	if z, ok := l.where[agentID]; ok {
		return z
	}
	return NoZone
}

// Occupants returns the sorted occupants of one zone.
func (l *Airlock) Occupants(z Zone) []string {
	if !z.Valid() {
		return nil
	}
	return sortedKeys(l.zones[z])
}

// Inside returns the sorted occupants of zones 1 through 3.
func (l *Airlock) Inside() []string {
	var out []string
	for z := ZoneInnerDoor; z <= ZoneOuterDoor; z++ {
		for id := range l.zones[z] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (l *Airlock) InsideCount() int {
	return len(l.zones[ZoneInnerDoor]) + len(l.zones[ZoneChamber]) + len(l.zones[ZoneOuterDoor])
}

// IsEmpty reports whether nobody is between the doors.
func (l *Airlock) IsEmpty() bool { return l.InsideCount() == 0 }

// HasSpace reports whether one more agent may step between the doors.
func (l *Airlock) HasSpace() bool { return l.InsideCount() < l.cfg.Capacity }

// RequestZone moves the agent into z, vacating its previous zone in the same step.
// The chamber admits at most Capacity occupants; other zones are unbounded.
func (l *Airlock) RequestZone(agentID string, z Zone) bool {
	if !z.Valid() {
		panic(fmt.Sprintf("airlock %s: zone request for %s by %s", l.id, z, agentID))
	}
	cur, in := l.where[agentID]
	if in && cur == z {
		return true
	}
	if z == ZoneChamber && len(l.zones[ZoneChamber]) >= l.cfg.Capacity {
		return false
	}
	if in {
		delete(l.zones[cur], agentID)
		l.emit(EventZoneLeave, agentID, cur, "", "")
	}
	l.zones[z][agentID] = struct{}{}
	l.where[agentID] = z
	if z.Inside() {
		l.dropAwaiting(agentID)
	} else {
		delete(l.prebreathe, agentID)
	}
	l.emit(EventZoneEnter, agentID, z, "", "")
	return true
}

// VacateZone removes the agent from z. It reports false if the agent was not there.
func (l *Airlock) VacateZone(agentID string, z Zone) bool {
	if !z.Valid() {
		return false
	}
	if _, ok := l.zones[z][agentID]; !ok {
		return false
	}
	delete(l.zones[z], agentID)
	delete(l.where, agentID)
	delete(l.slots, agentID)
	l.emit(EventZoneLeave, agentID, z, "", "")
	l.settle()
	return true
}

// BecomeOperator claims the operator role if nobody holds it. It also reports
// true when agentID already holds the role.
func (l *Airlock) BecomeOperator(agentID string) bool {
	if agentID == "" {
		return false
	}
	if l.operator == "" {
		l.operator = agentID
		l.emit(EventOperatorAcquired, agentID, l.ZoneOf(agentID), "", "")
		return true
	}
	return l.operator == agentID
}

// ReleaseOperator clears the operator role iff agentID holds it.
func (l *Airlock) ReleaseOperator(agentID string) {
	if agentID == "" || l.operator != agentID {
		return
	}
	l.operator = ""
	l.emit(EventOperatorReleased, agentID, l.ZoneOf(agentID), "", "")
	l.settle()
}

// SetMode records the traversal kind driven by the operator. Calls from
// non-operators are ignored.
func (l *Airlock) SetMode(agentID string, m Mode) {
	if !l.IsOperator(agentID) || l.mode == m {
		return
	}
	l.mode = m
	l.emit(EventModeChanged, agentID, l.ZoneOf(agentID), "", "")
}

// BeginPressurizing starts a pressurize cycle. Only the operator may call it,
// and not while a cycle is running or the chamber is already pressurized.
func (l *Airlock) BeginPressurizing(agentID string) bool {
	if !l.IsOperator(agentID) || l.state.Cycling() || l.state == Pressurized {
		return false
	}
	l.state = Pressurizing
	l.progress = 0
	l.emit(EventCycleBegin, agentID, l.ZoneOf(agentID), "", "")
	return true
}

// BeginDepressurizing starts a depressurize cycle. On top of the pressurize
// preconditions, every agent between the doors must wear a suit.
func (l *Airlock) BeginDepressurizing(agentID string) bool {
	if !l.IsOperator(agentID) || l.state.Cycling() || l.state == Depressurized {
		return false
	}
	if !l.AllInsideSuited() {
		l.emit(EventCycleStalled, agentID, l.ZoneOf(agentID), "", "")
		return false
	}
	l.state = Depressurizing
	l.progress = 0
	l.emit(EventCycleBegin, agentID, l.ZoneOf(agentID), "", "")
	return true
}

// AdvanceCycle adds dt to the running cycle and returns the time it did not use.
// A depressurize cycle makes no progress while an unsuited agent is inside.
func (l *Airlock) AdvanceCycle(dt float64) float64 {
	if !l.state.Cycling() || dt <= 0 {
		return dt
	}
	if l.state == Depressurizing && !l.AllInsideSuited() {
		return dt
	}
	need := l.cfg.CycleTime - l.progress
	if dt < need {
		l.progress += dt
		return 0
	}
	l.progress = 0
	if l.state == Pressurizing {
		l.state = Pressurized
	} else {
		l.state = Depressurized
	}
	l.stats.CyclesCompleted++
	l.emit(EventCycleComplete, l.operator, l.ZoneOf(l.operator), "", "")
	return dt - need
}

func (l *Airlock) InnerDoorLocked() bool { return l.state != Pressurized }
func (l *Airlock) OuterDoorLocked() bool { return l.state != Depressurized }

// IsInnerDoorUsable reports whether the inner door is unlocked, or the airlock
// is empty so whoever operates it next can cycle to either side.
func (l *Airlock) IsInnerDoorUsable() bool { return !l.InnerDoorLocked() || l.IsEmpty() }

func (l *Airlock) IsOuterDoorUsable() bool { return !l.OuterDoorLocked() || l.IsEmpty() }

// AllInsideSuited reports whether every agent between the doors wears a suit.
func (l *Airlock) AllInsideSuited() bool {
	if l.roster == nil {
		return true
	}
	for z := ZoneInnerDoor; z <= ZoneOuterDoor; z++ {
		for id := range l.zones[z] {
			if !l.roster.HasSuit(id) {
				return false
			}
		}
	}
	return true
}

// AddAwaitingInnerDoor queues an agent waiting on the interior side. Queues keep
// one slot of the chamber free for traffic, so they hold at most MaxWaiting agents.
func (l *Airlock) AddAwaitingInnerDoor(agentID string) bool {
	return l.addAwaiting(&l.awaitingInner, agentID, ZoneInterior)
}

func (l *Airlock) AddAwaitingOuterDoor(agentID string) bool {
	return l.addAwaiting(&l.awaitingOuter, agentID, ZoneExterior)
}

func (l *Airlock) addAwaiting(q *[]string, agentID string, side Zone) bool {
	for _, id := range *q {
		if id == agentID {
			return true
		}
	}
	if len(*q) >= l.cfg.MaxWaiting {
		return false
	}
	*q = append(*q, agentID)
	l.emit(EventQueueJoin, agentID, side, "", "")
	return true
}

func (l *Airlock) AwaitingInnerDoor() []string { return append([]string(nil), l.awaitingInner...) }
func (l *Airlock) AwaitingOuterDoor() []string { return append([]string(nil), l.awaitingOuter...) }

// NextInLine reports whether the agent may cross the door on its entry side:
// it heads that side's queue or is not queued there at all.
func (l *Airlock) NextInLine(agentID string, d Direction) bool {
	q := l.awaitingInner
	if d == Ingress {
		q = l.awaitingOuter
	}
	return !contains(q, agentID) || q[0] == agentID
}

func (l *Airlock) IsAwaiting(agentID string) bool {
	return contains(l.awaitingInner, agentID) || contains(l.awaitingOuter, agentID)
}

func (l *Airlock) dropAwaiting(agentID string) bool {
	a := removeString(&l.awaitingInner, agentID)
	b := removeString(&l.awaitingOuter, agentID)
	return a || b
}

// Reserve books a slot for an egressing agent, or renews an existing booking.
// Vehicles do not take reservations.
func (l *Airlock) Reserve(agentID string) bool {
	if l.host == nil || l.host.HostKind() != HostFixed {
		return true
	}
	if _, ok := l.reservations[agentID]; ok {
		l.reservations[agentID] = l.clock + l.cfg.ReservationPeriod
		return true
	}
	if len(l.reservations) >= l.cfg.MaxReservations {
		return false
	}
	l.reservations[agentID] = l.clock + l.cfg.ReservationPeriod
	l.emit(EventReserved, agentID, l.ZoneOf(agentID), "", "")
	return true
}

func (l *Airlock) HasReservation(agentID string) bool {
	if l.host == nil || l.host.HostKind() != HostFixed {
		return true
	}
	_, ok := l.reservations[agentID]
	return ok
}

func (l *Airlock) CancelReservation(agentID string) { delete(l.reservations, agentID) }

func (l *Airlock) Reservations() []string {
	out := make([]string, 0, len(l.reservations))
	for id := range l.reservations {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ReportPrebreathe publishes an occupant's prebreathing progress in [0,1].
func (l *Airlock) ReportPrebreathe(agentID string, fraction float64) {
	if _, ok := l.where[agentID]; !ok {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	l.prebreathe[agentID] = fraction
}

// MaxPrebreatheExcept returns the furthest prebreathing progress among other occupants.
func (l *Airlock) MaxPrebreatheExcept(agentID string) float64 {
	best := 0.0
	for id, f := range l.prebreathe {
		if id != agentID && f > best {
			best = f
		}
	}
	return best
}

// PrebreatheComplete reports whether every occupant that has started
// prebreathing has finished.
func (l *Airlock) PrebreatheComplete() bool {
	for _, f := range l.prebreathe {
		if f < 1 {
			return false
		}
	}
	return true
}

// Remove purges the agent from every table: zones, queues, reservations and the
// operator role. It is the cleanup primitive for every way a traversal ends.
func (l *Airlock) Remove(agentID string) {
	touched := false
	if z, ok := l.where[agentID]; ok {
		delete(l.zones[z], agentID)
		delete(l.where, agentID)
		touched = true
	}
	delete(l.slots, agentID)
	delete(l.prebreathe, agentID)
	if l.dropAwaiting(agentID) {
		touched = true
	}
	if _, ok := l.reservations[agentID]; ok {
		delete(l.reservations, agentID)
		touched = true
	}
	if l.operator == agentID {
		l.operator = ""
		l.emit(EventOperatorReleased, agentID, NoZone, "", "")
		touched = true
	}
	if touched {
		l.emit(EventRemoved, agentID, NoZone, "", "")
	}
	l.settle()
}

// NoteSuitShortage counts a failed suit availability check.
func (l *Airlock) NoteSuitShortage(agentID string) {
	l.stats.SuitShortages++
	l.emit(EventSuitShortage, agentID, l.ZoneOf(agentID), "", "")
}

func (l *Airlock) ClearSuitShortage() { l.stats.SuitShortages = 0 }

// Note records a protocol-level event against this airlock.
func (l *Airlock) Note(kind EventKind, agentID, phase, code string) {
	switch kind {
	case EventAbandon:
		l.stats.Abandonments++
	case EventComplete:
		l.stats.Completions++
	}
	l.emit(kind, agentID, l.ZoneOf(agentID), phase, code)
}

// Tick advances the airlock clock. It finishes cycles left without an operator,
// expires reservations and periodically re-checks the operator.
func (l *Airlock) Tick(dt float64) {
	if dt <= 0 {
		return
	}
	l.clock += dt
	if l.operator == "" && l.state.Cycling() {
		l.AdvanceCycle(dt)
	}
	l.expireReservations()

	l.sinceCheck += dt
	if l.cfg.OperatorCheckPeriod <= 0 || l.sinceCheck >= l.cfg.OperatorCheckPeriod {
		l.sinceCheck = 0
		l.checkOperator()
	}
	l.settle()
}

func (l *Airlock) expireReservations() {
	var expired []string
	for id, until := range l.reservations {
		if l.clock >= until {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)
	for _, id := range expired {
		delete(l.reservations, id)
		l.emit(EventReservationExpired, id, l.ZoneOf(id), "", "")
	}
}

func (l *Airlock) checkOperator() {
	if l.operator != "" && !l.involved(l.operator) {
		lost := l.operator
		l.operator = ""
		l.emit(EventOperatorLost, lost, NoZone, "", "")
	}
	if l.operator != "" {
		return
	}
	if id := l.elect(); id != "" {
		l.operator = id
		l.emit(EventOperatorElected, id, l.ZoneOf(id), "", "")
	}
}

func (l *Airlock) involved(agentID string) bool {
	_, ok := l.where[agentID]
	return ok || l.IsAwaiting(agentID)
}

// elect picks an operator from the first non-empty pool: agents between the
// doors, then the outer queue, then the inner queue. Within a pool the most
// skilled agent wins; ties go to the lower id.
func (l *Airlock) elect() string {
	pools := [][]string{
		l.Inside(),
		append([]string(nil), l.awaitingOuter...),
		append([]string(nil), l.awaitingInner...),
	}
	for _, pool := range pools {
		if len(pool) == 0 {
			continue
		}
		sort.Strings(pool)
		best := pool[0]
		bestSkill := l.skill(best)
		for _, id := range pool[1:] {
			s := l.skill(id)
			if s.Level > bestSkill.Level || (s.Level == bestSkill.Level && s.Experience > bestSkill.Experience) {
				best, bestSkill = id, s
			}
		}
		return best
	}
	return ""
}

func (l *Airlock) skill(agentID string) model.EVASkill {
	if l.roster == nil {
		return model.EVASkill{}
	}
	return l.roster.EVASkill(agentID)
}

// settle takes an airlock with nobody inside out of use. Once nobody holds a
// zone or waits in line it also returns to Idle.
func (l *Airlock) settle() {
	if l.operator != "" || l.state.Cycling() || !l.IsEmpty() {
		return
	}
	if len(l.where) > 0 || len(l.awaitingInner) > 0 || len(l.awaitingOuter) > 0 {
		if l.mode != ModeNotInUse {
			l.mode = ModeNotInUse
			l.emit(EventModeChanged, "", NoZone, "", "")
		}
		return
	}
	if l.state == Idle && l.mode == ModeNotInUse {
		return
	}
	l.state = Idle
	l.mode = ModeNotInUse
	l.progress = 0
	l.emit(EventIdle, "", NoZone, "", "")
}

// CheckInvariants verifies the occupancy, capacity, operator, door and suit
// rules. A non-nil result means a scheduling bug, not an environmental condition.
func (l *Airlock) CheckInvariants() error {
	var errs []error
	seen := map[string]Zone{}
	for z := ZoneInterior; z <= ZoneExterior; z++ {
		for id := range l.zones[z] {
			if prev, dup := seen[id]; dup {
				errs = append(errs, fmt.Errorf("airlock %s: %s in both %s and %s", l.id, id, prev, z))
			}
			seen[id] = z
			if w, ok := l.where[id]; !ok || w != z {
				errs = append(errs, fmt.Errorf("airlock %s: zone index for %s out of sync", l.id, id))
			}
		}
	}
	if len(seen) != len(l.where) {
		errs = append(errs, fmt.Errorf("airlock %s: zone index has %d entries, zones hold %d", l.id, len(l.where), len(seen)))
	}
	if n := len(l.zones[ZoneChamber]); n > l.cfg.Capacity {
		errs = append(errs, fmt.Errorf("airlock %s: chamber holds %d > capacity %d", l.id, n, l.cfg.Capacity))
	}
	if l.operator != "" && !l.involved(l.operator) {
		errs = append(errs, fmt.Errorf("airlock %s: operator %s is neither occupant nor requester", l.id, l.operator))
	}
	if !l.InnerDoorLocked() && !l.OuterDoorLocked() {
		errs = append(errs, fmt.Errorf("airlock %s: both doors unlocked", l.id))
	}
	if l.state == Depressurized && !l.AllInsideSuited() {
		errs = append(errs, fmt.Errorf("airlock %s: depressurized with an unsuited occupant", l.id))
	}
	if len(l.awaitingInner) > l.cfg.MaxWaiting || len(l.awaitingOuter) > l.cfg.MaxWaiting {
		errs = append(errs, fmt.Errorf("airlock %s: waiting queue over bound", l.id))
	}
	if len(l.reservations) > l.cfg.MaxReservations {
		errs = append(errs, fmt.Errorf("airlock %s: %d reservations over bound", l.id, len(l.reservations)))
	}
	if l.progress < 0 || l.progress > l.cfg.CycleTime {
		errs = append(errs, fmt.Errorf("airlock %s: cycle progress %.3f out of range", l.id, l.progress))
	}
	return errors.Join(errs...)
}

func (l *Airlock) emit(kind EventKind, agentID string, z Zone, phase, code string) {
	if l.rec == nil {
		return
	}
	l.rec.RecordAirlockEvent(Event{
		Kind:        kind,
		AirlockID:   l.id,
		AirlockName: l.name,
		AgentID:     agentID,
		Zone:        z,
		State:       l.state,
		Mode:        l.mode,
		Operator:    l.operator,
		Phase:       phase,
		Code:        code,
	})
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func removeString(xs *[]string, s string) bool {
	for i, x := range *xs {
		if x == s {
			*xs = append((*xs)[:i], (*xs)[i+1:]...)
			return true
		}
	}
	return false
}
