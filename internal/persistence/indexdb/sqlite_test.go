package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/colony"
	"colonysim.ai/internal/sim/tuning"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: colony.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(colony.TickLogEntry{Tick: 2})
	_ = s.WriteEvent(protocol.AirlockEvent{Tick: 2})
	_ = s.WriteOutcome(protocol.OutcomeMsg{Tick: 2})

	st := s.Stats()
	if st.DropTickTotal != 1 || st.DropEventTotal != 1 || st.DropOutcomeTotal != 1 {
		t.Fatalf("drops: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_EventsAndOutcomes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "colony.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.RecordRun("run_1", "colony_1", tuning.Defaults()); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	evs := []protocol.AirlockEvent{
		{Type: protocol.TypeAirlockEvent, RunID: "run_1", Tick: 1, Seq: 1, Kind: "ZONE_ENTER", AirlockID: "hab-L1", AgentID: "A1", Zone: "Z1", State: "READY", Mode: "NONE"},
		{Type: protocol.TypeAirlockEvent, RunID: "run_1", Tick: 2, Seq: 2, Kind: "CYCLE_BEGIN", AirlockID: "hab-L1", State: "PRESSURIZING", Mode: "EGRESS", Operator: "A1"},
		{Type: protocol.TypeAirlockEvent, RunID: "run_1", Tick: 3, Seq: 3, Kind: "ZONE_ENTER", AirlockID: "hab-L2", AgentID: "A2", Zone: "Z1", State: "READY", Mode: "NONE"},
	}
	for _, ev := range evs {
		_ = idx.WriteEvent(ev)
	}
	_ = idx.WriteOutcome(protocol.OutcomeMsg{RunID: "run_1", Tick: 9, AgentID: "A1", AirlockID: "hab-L1", Task: "EGRESS", Result: protocol.ResultCompleted})
	_ = idx.WriteOutcome(protocol.OutcomeMsg{RunID: "run_1", Tick: 9, AgentID: "A2", AirlockID: "hab-L1", Task: "EGRESS", Result: protocol.ResultAbandoned, Code: protocol.ErrNoSuit})
	_ = idx.WriteOutcome(protocol.OutcomeMsg{RunID: "run_1", Tick: 12, AgentID: "A3", AirlockID: "hab-L1", Task: "EGRESS", Result: protocol.ResultCompleted})
	_ = idx.WriteTick(colony.TickLogEntry{Tick: 9, Millisols: 9, Digest: "d9", Events: 3})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = idx.Close() }()
	ctx := context.Background()

	got, err := idx.Events(ctx, EventFilter{AirlockID: "hab-L1"})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 2 || got[0].Kind != "ZONE_ENTER" || got[1].Operator != "A1" {
		t.Fatalf("events=%+v", got)
	}
	got, err = idx.Events(ctx, EventFilter{AgentID: "A2", FromTick: 2})
	if err != nil || len(got) != 1 || got[0].AirlockID != "hab-L2" {
		t.Fatalf("agent events=%+v err=%v", got, err)
	}

	sum, err := idx.OutcomeSummary(ctx, "run_1")
	if err != nil {
		t.Fatalf("OutcomeSummary: %v", err)
	}
	if len(sum) != 2 {
		t.Fatalf("summary=%+v", sum)
	}
	if sum[0].Result != protocol.ResultAbandoned || sum[0].Code != protocol.ErrNoSuit || sum[0].Count != 1 {
		t.Fatalf("abandoned row=%+v", sum[0])
	}
	if sum[1].Result != protocol.ResultCompleted || sum[1].Count != 2 {
		t.Fatalf("completed row=%+v", sum[1])
	}

	tick, digest, err := idx.LastTick(ctx)
	if err != nil || tick != 9 || digest != "d9" {
		t.Fatalf("LastTick=%d %q err=%v", tick, digest, err)
	}
	runs, err := idx.Runs(ctx)
	if err != nil || len(runs) != 1 || runs[0].ColonyID != "colony_1" || runs[0].TuningDigest == "" {
		t.Fatalf("runs=%+v err=%v", runs, err)
	}
}
