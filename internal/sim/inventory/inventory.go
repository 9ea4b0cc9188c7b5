package inventory

import (
	"math"
	"sort"

	"colonysim.ai/internal/sim/kernel/model"
)

// Store is a host's stock of resources and stored EVA suits. Resources without
// a capacity entry are unbounded.
type Store struct {
	HostID string

	Amounts    map[model.Resource]float64
	Capacities map[model.Resource]float64

	suits map[string]*model.Suit
}

func New(hostID string) *Store {
	return &Store{
		HostID:     hostID,
		Amounts:    map[model.Resource]float64{},
		Capacities: map[model.Resource]float64{},
		suits:      map[string]*model.Suit{},
	}
}

// SetCapacity bounds r at limit. The current amount is clamped.
func (s *Store) SetCapacity(r model.Resource, limit float64) {
	if limit < 0 {
		limit = 0
	}
	s.Capacities[r] = limit
	if s.Amounts[r] > limit {
		s.Amounts[r] = limit
	}
}

func (s *Store) Amount(r model.Resource) float64 { return s.Amounts[r] }

// Retrieve takes amount of r. It fails without change if the store holds less.
func (s *Store) Retrieve(r model.Resource, amount float64) bool {
	if amount < 0 || s.Amounts[r] < amount {
		return false
	}
	s.Amounts[r] -= amount
	return true
}

// Store adds amount of r, discarding whatever exceeds the capacity.
func (s *Store) Store(r model.Resource, amount float64) {
	if amount <= 0 {
		return
	}
	s.Amounts[r] += amount
	if limit, ok := s.Capacities[r]; ok && s.Amounts[r] > limit {
		s.Amounts[r] = limit
	}
}

func (s *Store) RemainingCapacity(r model.Resource) float64 {
	limit, ok := s.Capacities[r]
	if !ok {
		return math.Inf(1)
	}
	if left := limit - s.Amounts[r]; left > 0 {
		return left
	}
	return 0
}

// Suits returns the stored suits ordered by id.
func (s *Store) Suits() []*model.Suit {
	out := make([]*model.Suit, 0, len(s.suits))
	for _, st := range s.suits {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) SuitCount() int { return len(s.suits) }

func (s *Store) TakeSuit(id string) bool {
	if _, ok := s.suits[id]; !ok {
		return false
	}
	delete(s.suits, id)
	return true
}

func (s *Store) PutSuit(st *model.Suit) {
	if st == nil || st.ID == "" {
		return
	}
	s.suits[st.ID] = st
}
