package airlock

type EventKind string

const (
	EventZoneEnter          EventKind = "ZONE_ENTER"
	EventZoneLeave          EventKind = "ZONE_LEAVE"
	EventQueueJoin          EventKind = "QUEUE_JOIN"
	EventReserved           EventKind = "RESERVED"
	EventReservationExpired EventKind = "RESERVATION_EXPIRED"
	EventOperatorAcquired   EventKind = "OPERATOR_ACQUIRED"
	EventOperatorReleased   EventKind = "OPERATOR_RELEASED"
	EventOperatorLost       EventKind = "OPERATOR_LOST"
	EventOperatorElected    EventKind = "OPERATOR_ELECTED"
	EventModeChanged        EventKind = "MODE_CHANGED"
	EventCycleBegin         EventKind = "CYCLE_BEGIN"
	EventCycleComplete      EventKind = "CYCLE_COMPLETE"
	EventCycleStalled       EventKind = "CYCLE_STALLED"
	EventIdle               EventKind = "IDLE"
	EventRemoved            EventKind = "REMOVED"
	EventSuitShortage       EventKind = "SUIT_SHORTAGE"

	// Emitted by the traversal protocols through Note.
	EventPhase    EventKind = "PHASE"
	EventAbandon  EventKind = "ABANDON"
	EventComplete EventKind = "COMPLETE"
)

// Event is one airlock state transition, stamped with the airlock state right
// after the transition.
type Event struct {
	Kind        EventKind
	AirlockID   string
	AirlockName string
	AgentID     string
	Zone        Zone
	State       CycleState
	Mode        Mode
	Operator    string
	Phase       string
	Code        string
}

// Recorder receives airlock events. It must not call back into the airlock.
type Recorder interface {
	RecordAirlockEvent(ev Event)
}

type RecorderFunc func(ev Event)

func (f RecorderFunc) RecordAirlockEvent(ev Event) { f(ev) }
