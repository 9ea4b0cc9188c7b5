package eva

import (
	"math"
	"sort"

	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/airlock"
	"colonysim.ai/internal/sim/kernel/model"
)

// loadable reports whether topping s up from inv would meet the minimum load.
func loadable(inv Inventory, s *model.Suit, p Params) bool {
	o2 := s.Oxygen + math.Min(inv.Amount(model.Oxygen), math.Max(0, capacity(s.OxygenCapacity, p.SuitOxygenCapacity)-s.Oxygen))
	h2o := s.Water + math.Min(inv.Amount(model.Water), math.Max(0, capacity(s.WaterCapacity, p.SuitWaterCapacity)-s.Water))
	return o2 >= p.MinSuitOxygen && h2o >= p.MinSuitWater
}

func capacity(own, def float64) float64 {
	if own > 0 {
		return own
	}
	return def
}

// SelectSuit picks the suit an agent should don: its registered suit if that can
// be loaded, otherwise the loadable suit holding the most oxygen and water. The
// reason code tells a shortage of suits apart from a shortage of consumables.
func SelectSuit(inv Inventory, agentID string, p Params) (*model.Suit, string) {
	if inv == nil {
		return nil, protocol.ErrNoSuit
	}
	suits := inv.Suits()
	if len(suits) == 0 {
		return nil, protocol.ErrNoSuit
	}
	sort.Slice(suits, func(i, j int) bool { return suits[i].ID < suits[j].ID })
	for _, s := range suits {
		if s.OwnerID == agentID && loadable(inv, s, p) {
			return s, ""
		}
	}
	var best *model.Suit
	for _, s := range suits {
		if s.OwnerID != "" && s.OwnerID != agentID {
			continue
		}
		if !loadable(inv, s, p) {
			continue
		}
		if best == nil || s.Load() > best.Load() {
			best = s
		}
	}
	if best == nil {
		return nil, protocol.ErrTransferFailed
	}
	return best, ""
}

// LoadSuit tops the suit's oxygen and water up from the host stores.
func LoadSuit(inv Inventory, s *model.Suit, p Params) bool {
	s.OxygenCapacity = capacity(s.OxygenCapacity, p.SuitOxygenCapacity)
	s.WaterCapacity = capacity(s.WaterCapacity, p.SuitWaterCapacity)
	for _, r := range []model.Resource{model.Oxygen, model.Water} {
		cur, limit := &s.Oxygen, s.OxygenCapacity
		if r == model.Water {
			cur, limit = &s.Water, s.WaterCapacity
		}
		need := limit - *cur
		if need <= 0 {
			continue
		}
		take := math.Min(need, inv.Amount(r))
		if take > 0 && inv.Retrieve(r, take) {
			*cur += take
		}
	}
	return s.Meets(p.MinSuitOxygen, p.MinSuitWater)
}

// DrainSuit empties the suit's residual oxygen and water into the host stores.
// Whatever does not fit is vented, as is the suit's carbon dioxide.
func DrainSuit(inv Inventory, s *model.Suit) (stored, lost float64) {
	for _, r := range []model.Resource{model.Oxygen, model.Water} {
		cur := &s.Oxygen
		if r == model.Water {
			cur = &s.Water
		}
		amt := *cur
		if amt <= 0 {
			continue
		}
		put := math.Min(amt, inv.RemainingCapacity(r))
		if put > 0 {
			inv.Store(r, put)
			stored += put
		}
		lost += amt - put
		*cur = 0
	}
	s.CO2 = 0
	return stored, lost
}

// CanExit reports whether an agent inside a host could start an egress through
// l. A failed suit check counts against the airlock's suit shortage tally.
func CanExit(env Env, p Params, a *model.Agent, l *airlock.Airlock) (bool, string) {
	if a.Outside {
		return false, protocol.ErrNotInside
	}
	if !l.HasSpace() {
		return false, protocol.ErrChamberFull
	}
	if env.PerformanceRating(a) <= p.MinPerformance {
		return false, protocol.ErrUnfit
	}
	if a.HasSuit() {
		l.ClearSuitShortage()
		return true, ""
	}
	if _, code := SelectSuit(env.Inventory(l.Host().HostID()), a.ID, p); code != "" {
		l.NoteSuitShortage(a.ID)
		return false, code
	}
	l.ClearSuitShortage()
	return true, ""
}

// CanEnter reports whether an agent outside could start an ingress through l.
func CanEnter(a *model.Agent, l *airlock.Airlock) (bool, string) {
	if !a.Outside {
		return false, protocol.ErrNotOutside
	}
	if !l.HasSpace() {
		return false, protocol.ErrChamberFull
	}
	return true, ""
}
