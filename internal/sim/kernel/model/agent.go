package model

import "math"

type Vec2 struct{ X, Y float64 }

func (v Vec2) Add(o Vec2) Vec2               { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec2) Sub(o Vec2) Vec2               { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }
func (v Vec2) Scale(k float64) Vec2          { return Vec2{X: v.X * k, Y: v.Y * k} }
func (v Vec2) Len() float64                  { return math.Hypot(v.X, v.Y) }
func (v Vec2) Dist(o Vec2) float64           { return v.Sub(o).Len() }
func (v Vec2) Near(o Vec2, tol float64) bool { return v.Dist(o) <= tol }

type AgentKind string

const (
	KindPerson AgentKind = "PERSON"
	KindRobot  AgentKind = "ROBOT"
)

type Agent struct {
	ID   string
	Name string
	Kind AgentKind

	// HostID is the building or vehicle the agent is inside of, or was last inside of
	// when Outside is set.
	HostID  string
	Pos     Vec2
	Outside bool

	// Suit is the EVA suit currently bound to the agent (nil when not wearing one).
	Suit *Suit

	Fitness Fitness
	Skill   EVASkill

	// OutsideSince is the millisol clock reading when the agent last stepped outside.
	OutsideSince float64
}

func (a *Agent) HasSuit() bool { return a != nil && a.Suit != nil }

// Fitness readings follow the colony's health model: larger is worse, except
// Performance, which is a 0..1 rating.
type Fitness struct {
	Fatigue     float64 `json:"fatigue"`
	Stress      float64 `json:"stress"`
	Hunger      float64 `json:"hunger"`
	Thirst      float64 `json:"thirst"`
	Performance float64 `json:"performance"`
}

type EVASkill struct {
	Level      int
	Experience float64
}
