package protocol

import (
	"fmt"
	"strings"
)

// Command kinds.
const (
	CmdStartEgress  = "START_EGRESS"
	CmdStartIngress = "START_INGRESS"
	CmdSetFitness   = "SET_FITNESS"
	CmdCancel       = "CANCEL"
)

// COMMAND (operator -> colony). Applied at the next tick boundary in receive order.
type CommandMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              string          `json:"id,omitempty"`
	Kind            string          `json:"kind"`
	AgentID         string          `json:"agent_id"`
	AirlockID       string          `json:"airlock_id,omitempty"`
	Fitness         *FitnessReading `json:"fitness,omitempty"`
}

type FitnessReading struct {
	Fatigue     float64 `json:"fatigue"`
	Stress      float64 `json:"stress"`
	Hunger      float64 `json:"hunger"`
	Thirst      float64 `json:"thirst"`
	Performance float64 `json:"performance"`
}

// Validate checks the shape of a command. It does not look at colony state.
func (c CommandMsg) Validate() (code string, err error) {
	if c.Type != "" && c.Type != TypeCommand {
		return ErrBadRequest, fmt.Errorf("unexpected type %q", c.Type)
	}
	if strings.TrimSpace(c.AgentID) == "" {
		return ErrBadRequest, fmt.Errorf("missing agent_id")
	}
	switch c.Kind {
	case CmdStartEgress, CmdStartIngress, CmdCancel:
	case CmdSetFitness:
		if c.Fitness == nil {
			return ErrBadRequest, fmt.Errorf("SET_FITNESS without fitness")
		}
		if p := c.Fitness.Performance; p < 0 || p > 1 {
			return ErrBadRequest, fmt.Errorf("performance %.3f out of [0,1]", p)
		}
	default:
		return ErrBadRequest, fmt.Errorf("unknown command kind %q", c.Kind)
	}
	return "", nil
}

// COMMAND_RESULT (colony -> operator).
type CommandResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	ID              string `json:"id,omitempty"`
	AgentID         string `json:"agent_id"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// AIRLOCK_EVENT is one airlock state transition as written to the event log,
// the index and the observer stream.
type AirlockEvent struct {
	Type        string `json:"type"`
	RunID       string `json:"run_id,omitempty"`
	Tick        uint64 `json:"tick"`
	Seq         uint64 `json:"seq"`
	Kind        string `json:"kind"`
	AirlockID   string `json:"airlock_id"`
	AirlockName string `json:"airlock_name,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	Zone        string `json:"zone,omitempty"`
	State       string `json:"state"`
	Mode        string `json:"mode"`
	Operator    string `json:"operator,omitempty"`
	Phase       string `json:"phase,omitempty"`
	Code        string `json:"code,omitempty"`
}

// Outcome results.
const (
	ResultCompleted = "COMPLETED"
	ResultAbandoned = "ABANDONED"
)

// OUTCOME records how a traversal ended.
type OutcomeMsg struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id,omitempty"`
	Tick      uint64 `json:"tick"`
	AgentID   string `json:"agent_id"`
	AirlockID string `json:"airlock_id"`
	Task      string `json:"task"`
	Result    string `json:"result"`
	Phase     string `json:"phase,omitempty"`
	Code      string `json:"code,omitempty"`
}
