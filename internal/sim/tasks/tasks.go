package tasks

import "colonysim.ai/internal/sim/kernel/model"

type Kind string

const (
	KindWalk         Kind = "WALK"
	KindEgress       Kind = "EGRESS"
	KindIngress      Kind = "INGRESS"
	KindReturnInside Kind = "RETURN_INSIDE"
)

// Task is one node of an agent's task stack. A task may push children onto the
// stack while performing; it is resumed once they finish.
type Task interface {
	Kind() Kind
	// Perform runs the task for up to dt millisols and returns the time it did not use.
	Perform(dt float64) float64
	Done() bool
	// End tells the task it is being removed before it finished.
	End()
}

// maxSteps bounds how many push/pop hand-offs one Perform call may make.
const maxSteps = 32

// Stack is an agent's task stack. Only the top task runs.
type Stack struct {
	items []Task
}

func (s *Stack) Push(t Task) {
	if t == nil {
		return
	}
	s.items = append(s.items, t)
}

func (s *Stack) Top() Task {
	if len(s.items) == 0 {
		return nil
	}
	return s.items[len(s.items)-1]
}

func (s *Stack) Len() int    { return len(s.items) }
func (s *Stack) Empty() bool { return len(s.items) == 0 }

// Perform hands dt to the top task, popping finished tasks and descending into
// pushed children until the time is used up or nothing changes.
func (s *Stack) Perform(dt float64) float64 {
	for i := 0; i < maxSteps && dt > 0 && len(s.items) > 0; i++ {
		top := s.items[len(s.items)-1]
		n := len(s.items)
		rem := top.Perform(dt)
		done := top.Done()
		if done {
			s.remove(top)
		}
		if !done && len(s.items) == n && rem >= dt {
			return rem
		}
		dt = rem
	}
	return dt
}

// Cancel ends every task from the top down and empties the stack.
func (s *Stack) Cancel() {
	for i := len(s.items) - 1; i >= 0; i-- {
		if !s.items[i].Done() {
			s.items[i].End()
		}
	}
	s.items = s.items[:0]
}

func (s *Stack) remove(t Task) {
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i] == t {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// Walk moves an agent in a straight line toward a target at a fixed speed.
type Walk struct {
	Agent  *model.Agent
	Target model.Vec2
	Speed  float64 // meters per millisol

	done bool
}

func NewWalk(a *model.Agent, target model.Vec2, speed float64) *Walk {
	return &Walk{Agent: a, Target: target, Speed: speed}
}

func (w *Walk) Kind() Kind { return KindWalk }
func (w *Walk) Done() bool { return w.done }
func (w *Walk) End()       { w.done = true }

func (w *Walk) Perform(dt float64) float64 {
	if w.done {
		return dt
	}
	if w.Agent == nil || w.Speed <= 0 {
		w.done = true
		return dt
	}
	dist := w.Agent.Pos.Dist(w.Target)
	step := w.Speed * dt
	if step >= dist {
		w.Agent.Pos = w.Target
		w.done = true
		return dt - dist/w.Speed
	}
	w.Agent.Pos = w.Agent.Pos.Add(w.Target.Sub(w.Agent.Pos).Scale(step / dist))
	return 0
}
