package colony

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"colonysim.ai/internal/sim/airlock"
	"colonysim.ai/internal/sim/kernel/model"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// stateDigest hashes everything that affects future ticks, in a fixed order,
// so two runs with the same seed and commands can be compared tick by tick.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestWriteF64(h, &tmp, w.millisols)
	for _, id := range w.airlockIDs {
		w.digestAirlock(h, &tmp, w.airlocks[id])
	}
	for _, id := range sortedHostIDs(w.hosts) {
		inv := w.hosts[id].inv
		digestWriteString(h, id)
		digestWriteF64(h, &tmp, inv.Amount(model.Oxygen))
		digestWriteF64(h, &tmp, inv.Amount(model.Water))
		for _, s := range inv.Suits() {
			digestSuit(h, &tmp, s)
		}
	}
	for _, id := range w.agentIDs {
		a := w.agents[id]
		digestWriteString(h, a.ID)
		digestWriteString(h, a.HostID)
		digestWriteF64(h, &tmp, a.Pos.X)
		digestWriteF64(h, &tmp, a.Pos.Y)
		h.Write([]byte{boolByte(a.Outside)})
		digestWriteF64(h, &tmp, a.Fitness.Fatigue)
		digestWriteF64(h, &tmp, a.Fitness.Hunger)
		digestWriteF64(h, &tmp, a.Fitness.Thirst)
		digestWriteF64(h, &tmp, a.Fitness.Performance)
		if a.Suit != nil {
			digestSuit(h, &tmp, a.Suit)
		}
		if p := w.running[id]; p != nil {
			digestWriteString(h, string(p.Kind()))
			digestWriteString(h, string(p.Phase()))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (w *World) digestAirlock(h hashWriter, tmp *[8]byte, l *airlock.Airlock) {
	digestWriteString(h, l.ID())
	h.Write([]byte{byte(l.State()), byte(l.Mode())})
	digestWriteF64(h, tmp, l.Progress())
	digestWriteString(h, l.Operator())
	for z := airlock.ZoneInterior; z <= airlock.ZoneExterior; z++ {
		for _, id := range l.Occupants(z) {
			digestWriteString(h, id)
		}
		h.Write([]byte{0xff})
	}
	for _, id := range l.AwaitingInnerDoor() {
		digestWriteString(h, id)
	}
	h.Write([]byte{0xff})
	for _, id := range l.AwaitingOuterDoor() {
		digestWriteString(h, id)
	}
	h.Write([]byte{0xff})
	for _, id := range l.Reservations() {
		digestWriteString(h, id)
	}
}

func digestSuit(h hashWriter, tmp *[8]byte, s *model.Suit) {
	digestWriteString(h, s.ID)
	digestWriteString(h, s.OwnerID)
	digestWriteF64(h, tmp, s.Oxygen)
	digestWriteF64(h, tmp, s.Water)
	digestWriteF64(h, tmp, s.CO2)
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func digestWriteString(h hashWriter, s string) {
	h.Write([]byte(s))
	h.Write([]byte{0})
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
