package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"colonysim.ai/internal/protocol"
)

// Files returns the log files written under dir with the given prefix, oldest
// first (the hour stamp sorts lexically).
func Files(dir, prefix string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadJSONL decodes one compressed JSONL file and calls fn for every line.
// A non-nil error from fn stops the scan and is returned. A file that is still
// being written ends mid-frame; everything flushed so far is delivered.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), n, err)
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	return nil
}

// AirlockRecord is one decoded line of the airlock event stream. Exactly one of
// Event and Outcome is set.
type AirlockRecord struct {
	Event   *protocol.AirlockEvent
	Outcome *protocol.OutcomeMsg
}

// ReadAirlockLog decodes an airlock event log file written by AirlockEventLogger.
func ReadAirlockLog(path string, fn func(AirlockRecord) error) error {
	return ReadJSONL(path, func(line []byte) error {
		base, err := protocol.DecodeBase(line)
		if err != nil {
			return err
		}
		switch base.Type {
		case protocol.TypeAirlockEvent:
			var ev protocol.AirlockEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				return err
			}
			return fn(AirlockRecord{Event: &ev})
		case protocol.TypeOutcome:
			var o protocol.OutcomeMsg
			if err := json.Unmarshal(line, &o); err != nil {
				return err
			}
			return fn(AirlockRecord{Outcome: &o})
		default:
			return fmt.Errorf("unexpected record type %q", base.Type)
		}
	})
}
