package eva

import (
	"fmt"
	"math"

	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/airlock"
	"colonysim.ai/internal/sim/kernel/model"
	"colonysim.ai/internal/sim/tasks"
)

type Phase string

const (
	PhaseRequestEgress       Phase = "REQUEST_EGRESS"
	PhaseRequestIngress      Phase = "REQUEST_INGRESS"
	PhasePressurizeChamber   Phase = "PRESSURIZE_CHAMBER"
	PhaseDepressurizeChamber Phase = "DEPRESSURIZE_CHAMBER"
	PhaseEnterAirlock        Phase = "ENTER_AIRLOCK"
	PhaseWalkToChamber       Phase = "WALK_TO_CHAMBER"
	PhaseDonEVASuit          Phase = "DON_EVA_SUIT"
	PhasePrebreathe          Phase = "PREBREATHE"
	PhaseDoffEVASuit         Phase = "DOFF_EVA_SUIT"
	PhaseCleanUp             Phase = "CLEAN_UP"
	PhaseLeaveAirlock        Phase = "LEAVE_AIRLOCK"
	PhaseReturnInside        Phase = "RETURN_INSIDE"
)

type OutcomeKind uint8

const (
	Running OutcomeKind = iota
	Completed
	Abandoned
)

func (k OutcomeKind) String() string {
	switch k {
	case Completed:
		return "COMPLETED"
	case Abandoned:
		return "ABANDONED"
	default:
		return "RUNNING"
	}
}

// Outcome is how a traversal ended. Code is a protocol reason code for
// abandoned traversals.
type Outcome struct {
	Kind  OutcomeKind
	Code  string
	Phase Phase
}

// Protocol is a traversal running on an agent's task stack.
type Protocol interface {
	tasks.Task
	Agent() *model.Agent
	Airlock() *airlock.Airlock
	Direction() airlock.Direction
	Phase() Phase
	Outcome() Outcome
}

// maxPhaseSteps bounds how many phases one Perform call may pass through.
const maxPhaseSteps = 16

// traversal is the state shared by every protocol: the agent, its airlock and
// the transient phase bookkeeping that dies with the task.
type traversal struct {
	env  Env
	p    Params
	a    *model.Agent
	lock *airlock.Airlock
	dir  airlock.Direction
	kind tasks.Kind

	phase   Phase
	outcome Outcome

	target model.Vec2
	walked bool // a walk child was pushed during this step

	countdown    float64
	countdownLen float64
	countdownOn  bool

	// cleanup runs once when the traversal ends, before the airlock releases the agent.
	cleanup func(Outcome)
}

func newTraversal(env Env, p Params, a *model.Agent, l *airlock.Airlock, dir airlock.Direction, kind tasks.Kind, first Phase) traversal {
	if env == nil || a == nil || l == nil {
		panic(fmt.Sprintf("eva: %s needs an env, an agent and an airlock", kind))
	}
	t := traversal{env: env, p: p, a: a, lock: l, dir: dir, kind: kind}
	t.setPhase(first)
	return t
}

func (t *traversal) Kind() tasks.Kind             { return t.kind }
func (t *traversal) Agent() *model.Agent          { return t.a }
func (t *traversal) Airlock() *airlock.Airlock    { return t.lock }
func (t *traversal) Direction() airlock.Direction { return t.dir }
func (t *traversal) Phase() Phase                 { return t.phase }
func (t *traversal) Outcome() Outcome             { return t.outcome }
func (t *traversal) Done() bool                   { return t.outcome.Kind != Running }

// End is the cancellation path: the task is being removed from the stack.
func (t *traversal) End() {
	t.finish(Abandoned, protocol.ErrCancelled, false)
}

// run drives step through as many phases as dt allows. It hands control back
// to the stack as soon as step pushes a walk.
func (t *traversal) run(dt float64, step func(float64) float64) float64 {
	for i := 0; i < maxPhaseSteps && dt > 0 && !t.Done(); i++ {
		before := t.phase
		t.walked = false
		rem := step(dt)
		if t.walked || t.Done() {
			return rem
		}
		if rem >= dt && before == t.phase {
			return rem
		}
		dt = rem
	}
	return dt
}

func (t *traversal) setPhase(p Phase) {
	if t.phase == p {
		return
	}
	t.phase = p
	t.countdownOn = false
	t.lock.Note(airlock.EventPhase, t.a.ID, string(p), "")
}

// fit is the fitness gate rechecked at the top of every egress phase.
func (t *traversal) fit(tier Tier) bool {
	if t.env.FitnessWaived(t.a.HostID) {
		return true
	}
	return t.env.IsFit(t.a, tier) && t.env.PerformanceRating(t.a) > t.p.MinPerformance
}

// moveTo claims zone z along the traversal and walks to its reference point.
// ok is false when the airlock refused the zone.
func (t *traversal) moveTo(z airlock.Zone) (arrived, ok bool) {
	pos, ok := airlock.TransitionTo(t.lock, t.a.ID, t.dir, z)
	if !ok {
		return false, false
	}
	t.target = pos
	if t.a.Pos.Near(pos, t.p.ArriveTolerance) {
		return true, true
	}
	t.env.WalkTo(t.a, pos)
	t.walked = true
	return false, true
}

// driveCycle brings the airlock to want. The operator advances the cycle;
// everybody else polls. Depressurizing additionally waits for every occupant
// to be suited and done prebreathing. reached reports whether the airlock is at want, and
// rem is the time left over in that case.
func (t *traversal) driveCycle(want airlock.CycleState, dt float64) (reached bool, rem float64) {
	l, id := t.lock, t.a.ID
	if l.State() == want {
		return true, dt
	}
	if !l.BecomeOperator(id) {
		return false, 0
	}
	l.SetMode(id, airlock.ModeFor(t.dir))
	if l.State().Cycling() {
		dt = l.AdvanceCycle(dt)
		if l.State() == want {
			return true, dt
		}
		if l.State().Cycling() {
			return false, 0
		}
	}
	switch want {
	case airlock.Pressurized:
		if !l.BeginPressurizing(id) {
			return false, 0
		}
	case airlock.Depressurized:
		if !l.AllInsideSuited() || !l.PrebreatheComplete() || !l.BeginDepressurizing(id) {
			return false, 0
		}
	default:
		panic(fmt.Sprintf("eva: cannot drive airlock %s to %s", l.ID(), want))
	}
	dt = l.AdvanceCycle(dt)
	if l.State() == want {
		return true, dt
	}
	return false, 0
}

// startCountdown arms the phase timer once per phase: base plus or minus a
// uniform jitter.
func (t *traversal) startCountdown(base, jitter float64) {
	if t.countdownOn {
		return
	}
	d := base + (2*t.env.Uniform()-1)*jitter
	t.countdown = math.Max(0, d)
	t.countdownLen = t.countdown
	t.countdownOn = true
}

func (t *traversal) tickCountdown(dt float64) (finished bool, rem float64) {
	if t.countdown > dt {
		t.countdown -= dt
		return false, 0
	}
	rem = dt - t.countdown
	t.countdown = 0
	return true, rem
}

// countdownFraction is how much of the running countdown has elapsed.
func (t *traversal) countdownFraction() float64 {
	if t.countdownLen <= 0 {
		return 1
	}
	return 1 - t.countdown/t.countdownLen
}

// conflict reports whether another occupant is at least th through
// prebreathing, in which case a late joiner would hold the group back.
func (t *traversal) conflict(th float64) bool {
	return t.lock.MaxPrebreatheExcept(t.a.ID) >= th
}

// queue keeps the agent in the waiting line on its entry side. It reports
// false when the line is full. An agent waiting for room gives up the operator
// role so occupants can keep cycling.
func (t *traversal) queue() (admitted, ok bool) {
	l, id := t.lock, t.a.ID
	add := l.AddAwaitingInnerDoor
	if t.dir == airlock.Ingress {
		add = l.AddAwaitingOuterDoor
	}
	if !add(id) {
		return false, false
	}
	if l.HasSpace() {
		return true, true
	}
	l.ReleaseOperator(id)
	return false, true
}

// abandon is the walk-away path: every trace of the agent leaves the airlock.
func (t *traversal) abandon(code string) float64 {
	t.finish(Abandoned, code, false)
	return 0
}

// finish ends the traversal. keepZone leaves the agent's zone occupancy in
// place for a follow-up task; everything else is always released.
func (t *traversal) finish(kind OutcomeKind, code string, keepZone bool) {
	if t.outcome.Kind != Running {
		return
	}
	t.outcome = Outcome{Kind: kind, Code: code, Phase: t.phase}
	ev := airlock.EventComplete
	if kind == Abandoned {
		ev = airlock.EventAbandon
	}
	id := t.a.ID
	t.lock.Note(ev, id, string(t.phase), code)
	if t.cleanup != nil {
		t.cleanup(t.outcome)
	}
	if keepZone {
		t.lock.CancelReservation(id)
		t.lock.ReleaseOperator(id)
		return
	}
	t.lock.Remove(id)
}
