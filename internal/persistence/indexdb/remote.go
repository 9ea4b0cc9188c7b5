package indexdb

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/colony"
	"colonysim.ai/internal/sim/tuning"
)

// RemoteConfig configures RemoteIndex. Endpoint receives POSTed batches of
// {"events":[...]} JSON.
type RemoteConfig struct {
	Endpoint      string
	Token         string
	ColonyID      string
	RunID         string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *log.Logger
}

// RemoteIndex ships index rows to an HTTP ingest endpoint in batches. A batch
// that fails to send is kept and retried on the next flush.
type RemoteIndex struct {
	cfg        RemoteConfig
	httpClient *http.Client

	ch   chan remoteEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	queueDropped atomic.Uint64
	flushFail    atomic.Uint64
	sent         atomic.Uint64
}

// RemoteStats reports delivery counters for RemoteIndex.
type RemoteStats struct {
	QueueDepth        int
	QueueDroppedTotal uint64
	FlushFailTotal    uint64
	SentTotal         uint64
}

type remoteEvent struct {
	Kind     string `json:"kind"`
	ColonyID string `json:"colony_id"`
	RunID    string `json:"run_id"`
	Payload  any    `json:"payload"`
}

type remoteTickPayload struct {
	Tick      uint64                   `json:"tick"`
	Millisols float64                  `json:"millisols"`
	Digest    string                   `json:"digest"`
	Commands  []colony.RecordedCommand `json:"commands,omitempty"`
	Events    int                      `json:"events"`
}

type remoteRunPayload struct {
	Seed         int64  `json:"seed"`
	TuningDigest string `json:"tuning_digest"`
	TuningJSON   string `json:"tuning_json"`
	StartedAt    string `json:"started_at"`
}

func OpenRemote(cfg RemoteConfig) (*RemoteIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.ColonyID = strings.TrimSpace(cfg.ColonyID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty ingest endpoint")
	}
	if cfg.ColonyID == "" {
		return nil, fmt.Errorf("empty colony id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	d := &RemoteIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan remoteEvent, 32768),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *RemoteIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *RemoteIndex) Stats() RemoteStats {
	if d == nil {
		return RemoteStats{}
	}
	return RemoteStats{
		QueueDepth:        len(d.ch),
		QueueDroppedTotal: d.queueDropped.Load(),
		FlushFailTotal:    d.flushFail.Load(),
		SentTotal:         d.sent.Load(),
	}
}

func (d *RemoteIndex) WriteTick(entry colony.TickLogEntry) error {
	d.enqueue("tick", remoteTickPayload{
		Tick:      entry.Tick,
		Millisols: entry.Millisols,
		Digest:    entry.Digest,
		Commands:  entry.Commands,
		Events:    entry.Events,
	})
	return nil
}

func (d *RemoteIndex) WriteEvent(ev protocol.AirlockEvent) error {
	d.enqueue("airlock_event", ev)
	return nil
}

func (d *RemoteIndex) WriteOutcome(o protocol.OutcomeMsg) error {
	d.enqueue("outcome", o)
	return nil
}

func (d *RemoteIndex) RecordRun(runID, colonyID string, tune tuning.Tuning) error {
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	d.enqueue("run", remoteRunPayload{
		Seed:         tune.Seed,
		TuningDigest: hex.EncodeToString(sum[:]),
		TuningJSON:   string(b),
		StartedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	})
	return nil
}

func (d *RemoteIndex) enqueue(kind string, payload any) {
	if d == nil || d.closed.Load() {
		return
	}
	ev := remoteEvent{Kind: kind, ColonyID: d.cfg.ColonyID, RunID: d.cfg.RunID, Payload: payload}
	select {
	case d.ch <- ev:
	default:
		d.queueDropped.Add(1)
		d.printf("index queue full; drop kind=%s colony=%s", kind, d.cfg.ColonyID)
	}
}

func (d *RemoteIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	maxRetained := d.cfg.BatchSize * 64
	batch := make([]remoteEvent, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.printf("index flush failed batch=%d err=%v", len(batch), err)
			if over := len(batch) - maxRetained; over > 0 {
				d.queueDropped.Add(uint64(over))
				batch = append(batch[:0], batch[over:]...)
			}
			return
		}
		d.sent.Add(uint64(len(batch)))
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *RemoteIndex) sendBatch(events []remoteEvent) error {
	body := struct {
		Events []remoteEvent `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-colony-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}

func (d *RemoteIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
