package model

type Resource string

const (
	Oxygen        Resource = "oxygen"
	Water         Resource = "water"
	CarbonDioxide Resource = "carbon_dioxide"
)

// Suit is an EVA suit with its own small oxygen and water reservoirs.
type Suit struct {
	ID      string
	OwnerID string // registered owner, empty until first donned

	Oxygen float64
	Water  float64
	CO2    float64

	OxygenCapacity float64
	WaterCapacity  float64
}

func (s *Suit) Load() float64 { return s.Oxygen + s.Water }

func (s *Suit) Meets(minOxygen, minWater float64) bool {
	return s.Oxygen >= minOxygen && s.Water >= minWater
}
