package colony

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"colonysim.ai/internal/sim/airlock"
	"colonysim.ai/internal/sim/kernel/model"
)

// Layout is the static set of hosts and agents a colony starts with.
type Layout struct {
	Settlements []SettlementSpec `yaml:"settlements"`
	Vehicles    []VehicleSpec    `yaml:"vehicles"`
	Agents      []AgentSpec      `yaml:"agents"`
}

type SettlementSpec struct {
	ID       string     `yaml:"id"`
	Name     string     `yaml:"name"`
	Origin   model.Vec2 `yaml:"origin"`
	Radius   float64    `yaml:"radius"`
	Airlocks int        `yaml:"airlocks"`
	Stores   StoreSpec  `yaml:"stores"`
}

type VehicleSpec struct {
	ID       string     `yaml:"id"`
	Name     string     `yaml:"name"`
	Position model.Vec2 `yaml:"position"`
	DockedAt string     `yaml:"docked_at"`
	Stores   StoreSpec  `yaml:"stores"`
}

type StoreSpec struct {
	Oxygen         float64 `yaml:"oxygen"`
	Water          float64 `yaml:"water"`
	OxygenCapacity float64 `yaml:"oxygen_capacity"`
	WaterCapacity  float64 `yaml:"water_capacity"`
	Suits          int     `yaml:"suits"`
}

type AgentSpec struct {
	ID     string          `yaml:"id"`
	Name   string          `yaml:"name"`
	Kind   model.AgentKind `yaml:"kind"`
	HostID string          `yaml:"host"`
	Skill  model.EVASkill  `yaml:"skill"`
}

// DemoLayout is a small settlement with a docked rover, used when no layout
// file is configured.
func DemoLayout() Layout {
	return Layout{
		Settlements: []SettlementSpec{{
			ID:       "hab",
			Name:     "Schiaparelli Hab",
			Radius:   8,
			Airlocks: 2,
			Stores:   StoreSpec{Oxygen: 400, Water: 400, OxygenCapacity: 1000, WaterCapacity: 1000, Suits: 6},
		}},
		Vehicles: []VehicleSpec{{
			ID:       "rover1",
			Name:     "Rover 1",
			Position: model.Vec2{X: 0, Y: -20},
			DockedAt: "hab",
			Stores:   StoreSpec{Oxygen: 40, Water: 40, OxygenCapacity: 60, WaterCapacity: 60, Suits: 2},
		}},
		Agents: []AgentSpec{
			{ID: "A1", Name: "Ada", HostID: "hab", Skill: model.EVASkill{Level: 3, Experience: 40}},
			{ID: "A2", Name: "Bo", HostID: "hab", Skill: model.EVASkill{Level: 2, Experience: 10}},
			{ID: "A3", Name: "Cyd", HostID: "hab", Skill: model.EVASkill{Level: 2, Experience: 25}},
			{ID: "A4", Name: "Dee", HostID: "hab", Skill: model.EVASkill{Level: 1}},
			{ID: "A5", Name: "Eli", HostID: "hab", Skill: model.EVASkill{Level: 0}},
			{ID: "A6", Name: "Fen", HostID: "rover1", Skill: model.EVASkill{Level: 4, Experience: 90}},
		},
	}
}

func LoadLayout(path string) (Layout, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, err
	}
	var l Layout
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return Layout{}, fmt.Errorf("layout: %w", err)
	}
	return l, nil
}

// ringGeometry places airlock i of n evenly around a circular settlement, with
// the chamber centered on the wall and the axis pointing outward.
func ringGeometry(center model.Vec2, radius float64, i, n int) airlock.Geometry {
	if n < 1 {
		n = 1
	}
	theta := 2 * math.Pi * float64(i) / float64(n)
	axis := model.Vec2{X: math.Cos(theta), Y: math.Sin(theta)}
	return airlock.Geometry{
		Origin:      center.Add(axis.Scale(radius)),
		Axis:        axis,
		Spacing:     1,
		SlotSpacing: 0.5,
	}
}

// interiorPoint picks a random spot inside the host, well clear of the walls.
func (w *World) interiorPoint(h *host) model.Vec2 {
	r := h.radius * 0.6 * math.Sqrt(w.rng.Float64())
	theta := 2 * math.Pi * w.rng.Float64()
	return h.center.Add(model.Vec2{X: r * math.Cos(theta), Y: r * math.Sin(theta)})
}
