package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"colonysim.ai/internal/persistence/indexdb"
	"colonysim.ai/internal/sim/colony"
	"colonysim.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	colony.TickLogger
	colony.EventLogger
	Close() error
	RecordRun(runID, colonyID string, tune tuning.Tuning) error
}

func openRuntimeIndex(colonyDir, colonyID, runID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("COLONY_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(colonyDir, "index", "colony.sqlite"))
	case "remote":
		endpoint := strings.TrimSpace(os.Getenv("COLONY_INDEX_INGEST_URL"))
		if endpoint == "" {
			return nil, fmt.Errorf("COLONY_INDEX_BACKEND=remote but COLONY_INDEX_INGEST_URL is empty")
		}
		return indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(os.Getenv("COLONY_INDEX_TOKEN")),
			ColonyID:      colonyID,
			RunID:         runID,
			BatchSize:     envInt("COLONY_INDEX_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("COLONY_INDEX_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unsupported COLONY_INDEX_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
