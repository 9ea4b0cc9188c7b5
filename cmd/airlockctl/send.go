package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"colonysim.ai/internal/protocol"
)

func newSendCmd() *cobra.Command {
	var (
		server    string
		agentID   string
		airlockID string
		fitness   protocol.FitnessReading
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send KIND",
		Short: "Send one operator command to a running server",
		Long: `Send START_EGRESS, START_INGRESS, SET_FITNESS or CANCEL for one agent and
print the COMMAND_RESULT. Kinds are case-insensitive; "egress" and "ingress"
are accepted as short forms.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := protocol.CommandMsg{
				Type:            protocol.TypeCommand,
				ProtocolVersion: protocol.Version,
				ID:              uuid.NewString(),
				Kind:            commandKind(args[0]),
				AgentID:         agentID,
				AirlockID:       airlockID,
			}
			if msg.Kind == protocol.CmdSetFitness {
				msg.Fitness = &fitness
			}
			if code, err := msg.Validate(); err != nil {
				return fmt.Errorf("%s: %w", code, err)
			}
			res, err := postCommand(server, msg, timeout)
			if err != nil {
				return err
			}
			if res.Accepted {
				fmt.Fprintf(cmd.OutOrStdout(), "accepted tick=%d id=%s\n", res.Tick, res.ID)
				return nil
			}
			return fmt.Errorf("rejected tick=%d code=%s %s", res.Tick, res.Code, res.Message)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:8080", "colony server base url")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id")
	cmd.Flags().StringVar(&airlockID, "airlock", "", "airlock id (default: nearest)")
	cmd.Flags().Float64Var(&fitness.Fatigue, "fatigue", 0, "SET_FITNESS fatigue")
	cmd.Flags().Float64Var(&fitness.Stress, "stress", 0, "SET_FITNESS stress")
	cmd.Flags().Float64Var(&fitness.Hunger, "hunger", 0, "SET_FITNESS hunger")
	cmd.Flags().Float64Var(&fitness.Thirst, "thirst", 0, "SET_FITNESS thirst")
	cmd.Flags().Float64Var(&fitness.Performance, "performance", 1, "SET_FITNESS performance in [0,1]")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func commandKind(s string) string {
	k := strings.ToUpper(strings.TrimSpace(s))
	switch k {
	case "EGRESS":
		return protocol.CmdStartEgress
	case "INGRESS":
		return protocol.CmdStartIngress
	}
	return k
}

func postCommand(server string, msg protocol.CommandMsg, timeout time.Duration) (protocol.CommandResultMsg, error) {
	var res protocol.CommandResultMsg
	b, err := json.Marshal(msg)
	if err != nil {
		return res, err
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Post(strings.TrimRight(server, "/")+"/v1/commands", "application/json", bytes.NewReader(b))
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return res, fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return res, nil
}
