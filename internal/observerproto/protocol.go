package observerproto

import "colonysim.ai/internal/protocol"

// Version is the observer protocol version (separate from the command protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// AirlockIDs filters the airlocks reported each tick; empty means all.
	AirlockIDs []string `json:"airlock_ids,omitempty"`
	// Events asks for the tick's airlock events and outcomes alongside the status.
	Events bool `json:"events,omitempty"`
	// EveryTicks thins the stream to one message per N ticks.
	EveryTicks int `json:"every_ticks,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string        `json:"protocol_version"`
	ColonyID        string        `json:"colony_id"`
	RunID           string        `json:"run_id"`
	Tick            uint64        `json:"tick"`
	Params          ColonyParams  `json:"params"`
	Hosts           []HostInfo    `json:"hosts"`
	Airlocks        []AirlockInfo `json:"airlocks"`
}

type ColonyParams struct {
	TickRateHz       int     `json:"tick_rate_hz"`
	MillisolsPerTick float64 `json:"millisols_per_tick"`
	Seed             int64   `json:"seed"`
}

type HostInfo struct {
	ID       string     `json:"id"`
	Kind     string     `json:"kind"`
	Pos      [2]float64 `json:"pos"`
	DockedAt string     `json:"docked_at,omitempty"`
}

type AirlockInfo struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	HostID    string  `json:"host_id"`
	Capacity  int     `json:"capacity"`
	CycleTime float64 `json:"cycle_time"`
}

// Server -> Client. Sent every tick (or every N ticks).
type TickMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Tick            uint64  `json:"tick"`
	Millisols       float64 `json:"millisols"`

	Airlocks []AirlockStatus         `json:"airlocks"`
	Agents   []AgentState            `json:"agents"`
	Events   []protocol.AirlockEvent `json:"events,omitempty"`
	Outcomes []protocol.OutcomeMsg   `json:"outcomes,omitempty"`
}

type AirlockStatus struct {
	ID              string      `json:"id"`
	State           string      `json:"state"`
	Mode            string      `json:"mode"`
	Operator        string      `json:"operator,omitempty"`
	Progress        float64     `json:"progress"`
	Clock           float64     `json:"clock"`
	InnerDoorLocked bool        `json:"inner_door_locked"`
	OuterDoorLocked bool        `json:"outer_door_locked"`
	Zones           [5][]string `json:"zones"`
	AwaitingInner   []string    `json:"awaiting_inner,omitempty"`
	AwaitingOuter   []string    `json:"awaiting_outer,omitempty"`
	Reservations    []string    `json:"reservations,omitempty"`

	CyclesCompleted int `json:"cycles_completed"`
	Abandonments    int `json:"abandonments"`
	Completions     int `json:"completions"`
	SuitShortages   int `json:"suit_shortages"`
}

type AgentState struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Kind      string     `json:"kind"`
	HostID    string     `json:"host_id"`
	Pos       [2]float64 `json:"pos"`
	Outside   bool       `json:"outside"`
	Suited    bool       `json:"suited"`
	Task      string     `json:"task,omitempty"`
	Phase     string     `json:"phase,omitempty"`
	AirlockID string     `json:"airlock_id,omitempty"`

	Performance float64 `json:"performance"`
}
