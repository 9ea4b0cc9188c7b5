package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/colony"
	"colonysim.ai/internal/sim/tuning"
)

// SQLiteIndex is a secondary, queryable index of the colony logs. Writes are
// queued to a single writer goroutine and dropped when it falls behind; the
// JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick    atomic.Uint64
	dropEvent   atomic.Uint64
	dropOutcome atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqEvent
	reqOutcome
)

type req struct {
	kind reqKind

	tick    colony.TickLogEntry
	event   protocol.AirlockEvent
	outcome protocol.OutcomeMsg
}

// Stats reports queue pressure on the writer goroutine.
type Stats struct {
	QueueDepth    int
	QueueCapacity int

	DropTickTotal    uint64
	DropEventTotal   uint64
	DropOutcomeTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Egress bursts emit several events per agent per tick.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			colony_id TEXT NOT NULL,
			seed INTEGER NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			millisols REAL NOT NULL,
			digest TEXT NOT NULL,
			commands INTEGER NOT NULL,
			outcomes INTEGER NOT NULL,
			events INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS airlock_events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			kind TEXT NOT NULL,
			airlock_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			zone TEXT NOT NULL,
			state TEXT NOT NULL,
			mode TEXT NOT NULL,
			operator TEXT NOT NULL,
			phase TEXT NOT NULL,
			code TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_airlock_tick ON airlock_events(airlock_id, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent_tick ON airlock_events(agent_id, tick);`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			airlock_id TEXT NOT NULL,
			task TEXT NOT NULL,
			result TEXT NOT NULL,
			phase TEXT NOT NULL,
			code TEXT NOT NULL,
			PRIMARY KEY (run_id, tick, agent_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_airlock ON outcomes(airlock_id, result);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropTickTotal:    s.dropTick.Load(),
		DropEventTotal:   s.dropEvent.Load(),
		DropOutcomeTotal: s.dropOutcome.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry colony.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteEvent(ev protocol.AirlockEvent) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: ev}:
	default:
		s.dropEvent.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteOutcome(o protocol.OutcomeMsg) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqOutcome, outcome: o}:
	default:
		s.dropOutcome.Add(1)
	}
	return nil
}

// RecordRun stores the run header and the tuning actually applied, keyed by
// run id. It writes synchronously and is meant to be called once at startup.
func (s *SQLiteIndex) RecordRun(runID, colonyID string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('last_run_id',?)`, runID); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO runs(run_id,colony_id,seed,tuning_digest,tuning_json,started_at) VALUES(?,?,?,?,?,?)`,
		runID, colonyID, tune.Seed, digest, string(b), now,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Run is one row of the runs table.
type Run struct {
	RunID        string
	ColonyID     string
	Seed         int64
	TuningDigest string
	StartedAt    string
}

func (s *SQLiteIndex) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id,colony_id,seed,tuning_digest,started_at FROM runs ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.ColonyID, &r.Seed, &r.TuningDigest, &r.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EventFilter narrows an Events query. Zero fields match everything.
type EventFilter struct {
	RunID     string
	AirlockID string
	AgentID   string
	Kind      string
	FromTick  uint64
	ToTick    uint64
	Limit     int
}

// Events returns indexed airlock events in emission order.
func (s *SQLiteIndex) Events(ctx context.Context, f EventFilter) ([]protocol.AirlockEvent, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if f.RunID != "" {
		add("run_id = ?", f.RunID)
	}
	if f.AirlockID != "" {
		add("airlock_id = ?", f.AirlockID)
	}
	if f.AgentID != "" {
		add("agent_id = ?", f.AgentID)
	}
	if f.Kind != "" {
		add("kind = ?", f.Kind)
	}
	if f.FromTick > 0 {
		add("tick >= ?", int64(f.FromTick))
	}
	if f.ToTick > 0 {
		add("tick <= ?", int64(f.ToTick))
	}
	q := `SELECT raw_json FROM airlock_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY tick, seq"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []protocol.AirlockEvent
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ev protocol.AirlockEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// OutcomeCount is one group of OutcomeSummary.
type OutcomeCount struct {
	AirlockID string
	Task      string
	Result    string
	Code      string
	Count     int
}

// OutcomeSummary counts traversal outcomes per airlock, task, result and code.
// An empty runID summarizes every run.
func (s *SQLiteIndex) OutcomeSummary(ctx context.Context, runID string) ([]OutcomeCount, error) {
	q := `SELECT airlock_id,task,result,code,COUNT(*) FROM outcomes`
	var args []any
	if runID != "" {
		q += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	q += ` GROUP BY airlock_id,task,result,code ORDER BY airlock_id,task,result,code`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutcomeCount
	for rows.Next() {
		var c OutcomeCount
		if err := rows.Scan(&c.AirlockID, &c.Task, &c.Result, &c.Code, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LastTick returns the highest indexed tick and its digest.
func (s *SQLiteIndex) LastTick(ctx context.Context) (uint64, string, error) {
	var (
		tick   int64
		digest string
	)
	err := s.db.QueryRowContext(ctx, `SELECT tick,digest FROM ticks ORDER BY tick DESC LIMIT 1`).Scan(&tick, &digest)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return uint64(tick), digest, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,millisols,digest,commands,outcomes,events,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO airlock_events(run_id,seq,tick,kind,airlock_id,agent_id,zone,state,mode,operator,phase,code,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertOutcome, _ := s.db.Prepare(`INSERT OR REPLACE INTO outcomes(run_id,tick,agent_id,airlock_id,task,result,phase,code) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertEvent, insertOutcome} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			b, _ := json.Marshal(t)
			exec(insertTick, int64(t.Tick), t.Millisols, t.Digest, len(t.Commands), len(t.Outcomes), t.Events, string(b))

		case reqEvent:
			ev := r.event
			b, _ := json.Marshal(ev)
			exec(insertEvent,
				ev.RunID,
				int64(ev.Seq),
				int64(ev.Tick),
				ev.Kind,
				ev.AirlockID,
				ev.AgentID,
				ev.Zone,
				ev.State,
				ev.Mode,
				ev.Operator,
				ev.Phase,
				ev.Code,
				string(b),
			)

		case reqOutcome:
			o := r.outcome
			exec(insertOutcome, o.RunID, int64(o.Tick), o.AgentID, o.AirlockID, o.Task, o.Result, o.Phase, o.Code)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
