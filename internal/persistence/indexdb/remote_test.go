package indexdb

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/colony"
)

func TestRemoteIndex_RetainsBatchOnFlushFailure(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	applied := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		thisReq := reqCount
		mu.Unlock()

		if thisReq <= 3 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}

		var body struct {
			Events []remoteEvent `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mu.Lock()
		applied += len(body.Events)
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	idx, err := OpenRemote(RemoteConfig{
		Endpoint:      srv.URL,
		ColonyID:      "colony_1",
		RunID:         "run_1",
		BatchSize:     1,
		FlushInterval: 20 * time.Millisecond,
		HTTPTimeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("OpenRemote: %v", err)
	}
	defer func() { _ = idx.Close() }()

	if err := idx.WriteTick(colony.TickLogEntry{Tick: 123, Digest: "abc"}); err != nil {
		t.Fatalf("WriteTick: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := applied >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	finalApplied := applied
	finalReqCount := reqCount
	mu.Unlock()

	if finalApplied < 1 {
		t.Fatalf("expected retained batch to be eventually delivered; applied=%d reqCount=%d", finalApplied, finalReqCount)
	}
	st := idx.Stats()
	if st.FlushFailTotal == 0 {
		t.Fatalf("expected flush failures to be recorded, got 0")
	}
	if st.QueueDroppedTotal != 0 {
		t.Fatalf("unexpected queue drops: %d", st.QueueDroppedTotal)
	}
}

func TestRemoteIndex_BatchCarriesRunAndKind(t *testing.T) {
	got := make(chan remoteEvent, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-colony-index-token") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var body struct {
			Events []remoteEvent `json:"events"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, ev := range body.Events {
			got <- ev
		}
	}))
	defer srv.Close()

	idx, err := OpenRemote(RemoteConfig{Endpoint: srv.URL, Token: "secret", ColonyID: "colony_1", RunID: "run_7", BatchSize: 2})
	if err != nil {
		t.Fatalf("OpenRemote: %v", err)
	}
	_ = idx.WriteEvent(protocol.AirlockEvent{Kind: "CYCLE_BEGIN", AirlockID: "hab-L1"})
	_ = idx.WriteOutcome(protocol.OutcomeMsg{AgentID: "A1", Result: protocol.ResultCompleted})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("delivered=%d want 2", len(got))
	}
	first := <-got
	second := <-got
	if first.Kind != "airlock_event" || second.Kind != "outcome" {
		t.Fatalf("kinds=%s,%s", first.Kind, second.Kind)
	}
	if first.RunID != "run_7" || first.ColonyID != "colony_1" {
		t.Fatalf("envelope=%+v", first)
	}
}

func TestOpenRemoteRejectsEmptyEndpoint(t *testing.T) {
	if _, err := OpenRemote(RemoteConfig{ColonyID: "c"}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}
