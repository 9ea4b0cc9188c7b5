package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	persistlog "colonysim.ai/internal/persistence/log"
)

func newLogsCmd() *cobra.Command {
	var (
		dir       string
		airlockID string
		agentID   string
		outcomes  bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the compressed airlock event log",
		Long: `Print airlock events and traversal outcomes from the hourly
airlock-*.jsonl.zst files under <colony dir>/events, oldest first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := persistlog.Files(filepath.Join(dir, "events"), "airlock")
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no airlock logs under %s", filepath.Join(dir, "events"))
			}
			out := cmd.OutOrStdout()
			for _, path := range files {
				err := persistlog.ReadAirlockLog(path, func(r persistlog.AirlockRecord) error {
					switch {
					case r.Event != nil:
						ev := r.Event
						if outcomes || !matches(airlockID, ev.AirlockID) || !matches(agentID, ev.AgentID) {
							return nil
						}
						fmt.Fprintf(out, "%8d %-10s %-20s agent=%s zone=%s state=%s mode=%s op=%s code=%s\n",
							ev.Tick, ev.AirlockID, ev.Kind, dash(ev.AgentID), dash(ev.Zone), ev.State, ev.Mode, dash(ev.Operator), dash(ev.Code))
					case r.Outcome != nil:
						o := r.Outcome
						if !matches(airlockID, o.AirlockID) || !matches(agentID, o.AgentID) {
							return nil
						}
						fmt.Fprintf(out, "%8d %-10s OUTCOME %-14s agent=%s result=%s phase=%s code=%s\n",
							o.Tick, o.AirlockID, o.Task, o.AgentID, o.Result, dash(o.Phase), dash(o.Code))
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./data/colonies/colony_1", "colony data directory")
	cmd.Flags().StringVar(&airlockID, "airlock", "", "only this airlock")
	cmd.Flags().StringVar(&agentID, "agent", "", "only this agent")
	cmd.Flags().BoolVar(&outcomes, "outcomes", false, "print outcomes only")
	return cmd
}

func matches(want, got string) bool { return want == "" || want == got }
