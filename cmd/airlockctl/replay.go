package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	persistlog "colonysim.ai/internal/persistence/log"
	"colonysim.ai/internal/protocol"
	"colonysim.ai/internal/sim/colony"
	"colonysim.ai/internal/sim/tuning"
)

func newReplayCmd() *cobra.Command {
	var (
		dir        string
		tuningPath string
		layoutPath string
		fromTick   uint64
		toTick     uint64
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Verify tick logs by deterministic replay",
		Long: `Rebuild the colony from the same tuning and layout, feed it the
commands recorded in <colony dir>/ticks and compare every tick digest.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tune, err := tuning.Load(tuningPath)
			if err != nil {
				return fmt.Errorf("load tuning: %w", err)
			}
			layout := colony.DemoLayout()
			if p := strings.TrimSpace(layoutPath); p != "" {
				if layout, err = colony.LoadLayout(p); err != nil {
					return fmt.Errorf("load layout: %w", err)
				}
			}
			w, err := colony.New(colony.Config{ID: "replay", Tuning: tune, Layout: layout})
			if err != nil {
				return fmt.Errorf("colony: %w", err)
			}
			files, err := persistlog.Files(filepath.Join(dir, "ticks"), "ticks")
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no tick logs under %s", filepath.Join(dir, "ticks"))
			}
			checked, err := replayTicks(w, files, fromTick, toTick)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replay ok: checked=%d ticks\n", checked)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./data/colonies/colony_1", "colony data directory")
	cmd.Flags().StringVar(&tuningPath, "tuning", "./configs/tuning.yaml", "tuning the run used")
	cmd.Flags().StringVar(&layoutPath, "layout", "", "layout the run used (default: built-in demo colony)")
	cmd.Flags().Uint64Var(&fromTick, "from", 0, "start verifying at this tick (inclusive)")
	cmd.Flags().Uint64Var(&toTick, "to", 0, "stop after this tick (inclusive)")
	return cmd
}

// errStop ends a replay early once toTick has been verified.
var errStop = errors.New("stop")

// replayTicks steps w through every logged tick in order and returns how many
// digests were compared. The log must start at w's current tick.
func replayTicks(w *colony.World, files []string, fromTick, toTick uint64) (uint64, error) {
	var checked uint64
	for _, path := range files {
		err := persistlog.ReadJSONL(path, func(line []byte) error {
			var entry colony.TickLogEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
			if toTick != 0 && entry.Tick > toTick {
				return errStop
			}
			if entry.Tick != w.CurrentTick() {
				return fmt.Errorf("tick mismatch: want=%d got=%d", w.CurrentTick(), entry.Tick)
			}
			cmds := make([]protocol.CommandMsg, 0, len(entry.Commands))
			for _, rc := range entry.Commands {
				cmds = append(cmds, rc.Cmd)
			}
			tick, digest := w.StepOnce(cmds...)
			if tick != entry.Tick {
				return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d", tick, entry.Tick)
			}
			if tick >= fromTick {
				checked++
				if digest != entry.Digest {
					return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, digest, entry.Digest)
				}
			}
			return nil
		})
		if errors.Is(err, errStop) {
			return checked, nil
		}
		if err != nil {
			return checked, err
		}
	}
	return checked, nil
}
