package eva

import (
	"colonysim.ai/internal/sim/kernel/model"
	"colonysim.ai/internal/sim/tuning"
)

// Tier selects how strict the fitness gate is. Early egress phases demand an
// EVA-fit agent; once the agent is committed the gate only rejects agents that
// are critically unfit.
type Tier uint8

const (
	TierEVA Tier = iota + 1
	TierNominal
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierEVA:
		return "EVA"
	case TierNominal:
		return "NOMINAL"
	case TierCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Env is what the traversal protocols need from the surrounding colony.
type Env interface {
	// WalkTo pushes a walk toward target onto the agent's task stack.
	WalkTo(a *model.Agent, target model.Vec2)
	// Disperse pushes a walk to a random interior point of the host.
	Disperse(a *model.Agent, hostID string)

	Inventory(hostID string) Inventory

	IsFit(a *model.Agent, tier Tier) bool
	PerformanceRating(a *model.Agent) float64
	// FitnessWaived reports whether the host lets unfit agents through, as a
	// vehicle docked at a settlement does.
	FitnessWaived(hostID string) bool

	// Uniform returns a value in [0,1) from the simulation's seeded source.
	Uniform() float64
}

// Inventory is a host's stores of resources and EVA suits.
type Inventory interface {
	Amount(r model.Resource) float64
	Retrieve(r model.Resource, amount float64) bool
	Store(r model.Resource, amount float64)
	RemainingCapacity(r model.Resource) float64

	Suits() []*model.Suit
	TakeSuit(id string) bool
	PutSuit(s *model.Suit)
}

// Params is the immutable timing and threshold set for every traversal. Times
// are in millisols.
type Params struct {
	DonningTime           float64
	DonningJitter         float64
	DoffingTime           float64
	DoffingJitter         float64
	CleaningTime          float64
	CleaningJitter        float64
	VehicleCleaningTime   float64
	VehicleCleaningJitter float64
	PrebreatheTime        float64
	PrebreatheJitter      float64

	MinPerformance     float64
	MinSuitOxygen      float64
	MinSuitWater       float64
	SuitOxygenCapacity float64
	SuitWaterCapacity  float64
	ArriveTolerance    float64
}

func ParamsFrom(t tuning.EVA) Params {
	return Params{
		DonningTime:           t.DonningTime,
		DonningJitter:         t.DonningJitter,
		DoffingTime:           t.DoffingTime,
		DoffingJitter:         t.DoffingJitter,
		CleaningTime:          t.CleaningTime,
		CleaningJitter:        t.CleaningJitter,
		VehicleCleaningTime:   t.VehicleCleaningTime,
		VehicleCleaningJitter: t.VehicleCleaningJitter,
		PrebreatheTime:        t.PrebreatheTime,
		PrebreatheJitter:      t.PrebreatheJitter,
		MinPerformance:        t.MinPerformance,
		MinSuitOxygen:         t.MinSuitOxygen,
		MinSuitWater:          t.MinSuitWater,
		SuitOxygenCapacity:    t.SuitOxygenCapacity,
		SuitWaterCapacity:     t.SuitWaterCapacity,
		ArriveTolerance:       t.ArriveTolerance,
	}
}
