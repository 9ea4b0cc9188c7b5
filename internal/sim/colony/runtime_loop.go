package colony

import (
	"context"
	"time"

	"colonysim.ai/internal/protocol"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.tu.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []CommandRequest

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case req := <-w.observerSub:
			w.handleObserverSubscribe(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case req := <-w.inbox:
			pending = append(pending, req)
		case <-ticker.C:
			w.stepInternal(pending)
			pending = pending[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the colony by a single tick using the same ordering
// semantics as the server. It is intended for deterministic replays and tests.
func (w *World) StepOnce(cmds ...protocol.CommandMsg) (tick uint64, digest string) {
	reqs := make([]CommandRequest, 0, len(cmds))
	for _, c := range cmds {
		reqs = append(reqs, CommandRequest{Cmd: c})
	}
	tick = w.tick.Load()
	return tick, w.stepInternal(reqs)
}

// Submit runs one tick with cmd applied and returns its result. The server goes
// through Inbox instead.
func (w *World) Submit(cmd protocol.CommandMsg) protocol.CommandResultMsg {
	resp := make(chan protocol.CommandResultMsg, 1)
	w.stepInternal([]CommandRequest{{Cmd: cmd, Resp: resp}})
	return <-resp
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
