package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"colonysim.ai/internal/metrics"
	persistlog "colonysim.ai/internal/persistence/log"
	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/colony"
	"colonysim.ai/internal/sim/tuning"
	"colonysim.ai/internal/transport/observer"
	"colonysim.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", "127.0.0.1:8080", "http listen address")
		colonyID   = flag.String("colony", "colony_1", "colony id")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (defaults are used when missing)")
		layoutPath = flag.String("layout", "", "path to layout.yaml (default: built-in demo colony)")
		seed       = flag.Int64("seed", 0, "override tuning seed (0 keeps the tuning value)")
		disableDB  = flag.Bool("disable_db", false, "disable the secondary index (ticks, airlock events, outcomes)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	// COLONY_* switches may come from a local .env; the process environment wins.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("load .env: %v", err)
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", *tuningPath)
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	layout := colony.DemoLayout()
	if p := strings.TrimSpace(*layoutPath); p != "" {
		layout, err = colony.LoadLayout(p)
		if err != nil {
			logger.Fatalf("load layout: %v", err)
		}
	}

	runID := uuid.NewString()
	colonyDir := filepath.Join(*dataDir, "colonies", *colonyID)
	if err := os.MkdirAll(colonyDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	// Optional read-model index (does not affect sim determinism).
	idx, err := openRuntimeIndex(colonyDir, *colonyID, runID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.RecordRun(runID, *colonyID, tune); err != nil {
			logger.Printf("index backend: record run: %v", err)
		}
	}

	w, err := colony.New(colony.Config{
		ID:     *colonyID,
		RunID:  runID,
		Tuning: tune,
		Layout: layout,
		Logger: logger,
	})
	if err != nil {
		logger.Fatalf("colony: %v", err)
	}
	logger.Printf("colony=%s run=%s airlocks=%d agents=%d seed=%d", *colonyID, runID, len(w.AirlockIDs()), len(w.AgentIDs()), tune.Seed)

	tickLog := persistlog.NewTickLogger(colonyDir)
	eventLog := persistlog.NewAirlockEventLogger(colonyDir)
	defer tickLog.Close()
	defer eventLog.Close()
	w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	w.SetEventLogger(multiEventLogger{a: eventLog, b: idx})

	m := metrics.New(*colonyID)
	m.TrackLoop(w.Metrics)
	w.SetMetricsSink(m)

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("colony stopped: %v", err)
		}
	}()

	cmdSrv := ws.NewServer(w, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/v1/ws", cmdSrv.Handler())
	mux.HandleFunc("/v1/commands", cmdSrv.CommandHandler())

	if envBool("COLONY_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				ColonyID string               `json:"colony_id"`
				RunID    string               `json:"run_id"`
				Tick     uint64               `json:"tick"`
				Metrics  colony.ColonyMetrics `json:"metrics"`
			}{
				ColonyID: *colonyID,
				RunID:    runID,
				Tick:     w.CurrentTick(),
				Metrics:  w.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})

		obsSrv := observer.NewServer(w, logger)
		mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	} else {
		logger.Printf("admin endpoints disabled (COLONY_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("COLONY_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

type multiTickLogger struct {
	a colony.TickLogger
	b colony.TickLogger
}

func (m multiTickLogger) WriteTick(entry colony.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiEventLogger struct {
	a colony.EventLogger
	b colony.EventLogger
}

func (m multiEventLogger) WriteEvent(ev protocol.AirlockEvent) error {
	if m.a != nil {
		_ = m.a.WriteEvent(ev)
	}
	if m.b != nil {
		_ = m.b.WriteEvent(ev)
	}
	return nil
}

func (m multiEventLogger) WriteOutcome(o protocol.OutcomeMsg) error {
	if m.a != nil {
		_ = m.a.WriteOutcome(o)
	}
	if m.b != nil {
		_ = m.b.WriteOutcome(o)
	}
	return nil
}
