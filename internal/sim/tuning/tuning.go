package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz       int     `yaml:"tick_rate_hz"`
	MillisolsPerTick float64 `yaml:"millisols_per_tick"`
	Seed             int64   `yaml:"seed"`
	StrictInvariants bool    `yaml:"strict_invariants"`

	Airlock Airlock `yaml:"airlock"`
	EVA     EVA     `yaml:"eva"`
	Fitness Fitness `yaml:"fitness"`
	Colony  Colony  `yaml:"colony"`
}

// Airlock times are in millisols.
type Airlock struct {
	CycleTime           float64 `yaml:"cycle_time"`
	BuildingCapacity    int     `yaml:"building_capacity"`
	VehicleCapacity     int     `yaml:"vehicle_capacity"`
	MaxWaiting          int     `yaml:"max_waiting"`
	MaxReservations     int     `yaml:"max_reservations"`
	ReservationPeriod   float64 `yaml:"reservation_period"`
	OperatorCheckPeriod float64 `yaml:"operator_check_period"`
}

type EVA struct {
	DonningTime           float64 `yaml:"donning_time"`
	DonningJitter         float64 `yaml:"donning_jitter"`
	DoffingTime           float64 `yaml:"doffing_time"`
	DoffingJitter         float64 `yaml:"doffing_jitter"`
	CleaningTime          float64 `yaml:"cleaning_time"`
	CleaningJitter        float64 `yaml:"cleaning_jitter"`
	VehicleCleaningTime   float64 `yaml:"vehicle_cleaning_time"`
	VehicleCleaningJitter float64 `yaml:"vehicle_cleaning_jitter"`
	PrebreatheTime        float64 `yaml:"prebreathe_time"`
	PrebreatheJitter      float64 `yaml:"prebreathe_jitter"`

	MinPerformance     float64 `yaml:"min_performance"`
	MinSuitOxygen      float64 `yaml:"min_suit_oxygen"`
	MinSuitWater       float64 `yaml:"min_suit_water"`
	SuitOxygenCapacity float64 `yaml:"suit_oxygen_capacity"`
	SuitWaterCapacity  float64 `yaml:"suit_water_capacity"`
	ArriveTolerance    float64 `yaml:"arrive_tolerance"`
}

// Fitness holds the maxima for each fitness tier. An agent is fit for a tier
// when every reading is at or below that tier's maximum.
type Fitness struct {
	EVA      Thresholds `yaml:"eva"`
	Nominal  Thresholds `yaml:"nominal"`
	Critical Thresholds `yaml:"critical"`
}

type Thresholds struct {
	Fatigue float64 `yaml:"fatigue"`
	Stress  float64 `yaml:"stress"`
	Hunger  float64 `yaml:"hunger"`
	Thirst  float64 `yaml:"thirst"`
}

type Colony struct {
	WalkSpeed float64 `yaml:"walk_speed"` // meters per millisol

	// Per-millisol drift applied to every agent's readings.
	FatigueRate float64 `yaml:"fatigue_rate"`
	HungerRate  float64 `yaml:"hunger_rate"`
	ThirstRate  float64 `yaml:"thirst_rate"`

	// Suit consumption per millisol while outside.
	SuitOxygenRate float64 `yaml:"suit_oxygen_rate"`
	SuitWaterRate  float64 `yaml:"suit_water_rate"`

	AutoEVA        bool    `yaml:"auto_eva"`
	EVAOutsideTime float64 `yaml:"eva_outside_time"`
	EVAStartChance float64 `yaml:"eva_start_chance"` // per millisol, per idle agent
	RetryCooldown  float64 `yaml:"retry_cooldown"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:       5,
		MillisolsPerTick: 1.0,
		Seed:             1337,
		Airlock: Airlock{
			CycleTime:           10,
			BuildingCapacity:    4,
			VehicleCapacity:     2,
			MaxWaiting:          3,
			MaxReservations:     4,
			ReservationPeriod:   40,
			OperatorCheckPeriod: 5,
		},
		EVA: EVA{
			DonningTime:           25,
			DonningJitter:         5,
			DoffingTime:           15,
			DoffingJitter:         2,
			CleaningTime:          15,
			CleaningJitter:        3,
			VehicleCleaningTime:   5,
			VehicleCleaningJitter: 1,
			PrebreatheTime:        40,
			PrebreatheJitter:      5,
			MinPerformance:        0.05,
			MinSuitOxygen:         0.5,
			MinSuitWater:          0.25,
			SuitOxygenCapacity:    1.0,
			SuitWaterCapacity:     1.0,
			ArriveTolerance:       0.05,
		},
		Fitness: Fitness{
			EVA:      Thresholds{Fatigue: 500, Stress: 50, Hunger: 500, Thirst: 350},
			Nominal:  Thresholds{Fatigue: 700, Stress: 70, Hunger: 700, Thirst: 450},
			Critical: Thresholds{Fatigue: 900, Stress: 90, Hunger: 900, Thirst: 550},
		},
		Colony: Colony{
			WalkSpeed:      0.5,
			FatigueRate:    0.1,
			HungerRate:     0.05,
			ThirstRate:     0.05,
			SuitOxygenRate: 0.003,
			SuitWaterRate:  0.001,
			AutoEVA:        true,
			EVAOutsideTime: 120,
			EVAStartChance: 0.01,
			RetryCooldown:  20,
		},
	}
}

// Load reads a tuning file on top of Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickRateHz <= 0 {
		errs = append(errs, fmt.Errorf("tick_rate_hz must be > 0"))
	}
	if t.MillisolsPerTick <= 0 {
		errs = append(errs, fmt.Errorf("millisols_per_tick must be > 0"))
	}
	if t.Airlock.CycleTime <= 0 {
		errs = append(errs, fmt.Errorf("airlock.cycle_time must be > 0"))
	}
	if t.Airlock.BuildingCapacity < 1 || t.Airlock.VehicleCapacity < 1 {
		errs = append(errs, fmt.Errorf("airlock capacity must be >= 1"))
	}
	if t.Airlock.MaxWaiting < 1 {
		errs = append(errs, fmt.Errorf("airlock.max_waiting must be >= 1"))
	}
	if t.Airlock.MaxReservations < 1 || t.Airlock.ReservationPeriod <= 0 {
		errs = append(errs, fmt.Errorf("airlock reservations must allow at least one holder for a positive period"))
	}
	for name, v := range map[string]float64{
		"eva.donning_time":          t.EVA.DonningTime,
		"eva.doffing_time":          t.EVA.DoffingTime,
		"eva.cleaning_time":         t.EVA.CleaningTime,
		"eva.vehicle_cleaning_time": t.EVA.VehicleCleaningTime,
		"eva.prebreathe_time":       t.EVA.PrebreatheTime,
		"colony.walk_speed":         t.Colony.WalkSpeed,
		"colony.suit_oxygen_rate":   t.Colony.SuitOxygenRate,
		"colony.suit_water_rate":    t.Colony.SuitWaterRate,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0", name))
		}
	}
	if t.Colony.WalkSpeed == 0 {
		errs = append(errs, fmt.Errorf("colony.walk_speed must be > 0"))
	}
	if t.Colony.EVAStartChance < 0 || t.Colony.EVAStartChance > 1 {
		errs = append(errs, fmt.Errorf("colony.eva_start_chance must be in [0,1]"))
	}
	if t.EVA.SuitOxygenCapacity < t.EVA.MinSuitOxygen || t.EVA.SuitWaterCapacity < t.EVA.MinSuitWater {
		errs = append(errs, fmt.Errorf("suit capacity below minimum load"))
	}
	return errors.Join(errs...)
}
