package protocol

const (
	// Command validation.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrUnknownAgent   = "E_UNKNOWN_AGENT"
	ErrUnknownAirlock = "E_UNKNOWN_AIRLOCK"
	ErrBusy           = "E_BUSY"

	// Traversal outcomes.
	ErrUnfit              = "E_UNFIT"
	ErrNoSuit             = "E_NO_SUIT"
	ErrTransferFailed     = "E_TRANSFER_FAILED"
	ErrChamberFull        = "E_CHAMBER_FULL"
	ErrNoReservation      = "E_NO_RESERVATION"
	ErrQueueFull          = "E_QUEUE_FULL"
	ErrDoorLocked         = "E_DOOR_LOCKED"
	ErrPrebreatheConflict = "E_PREBREATHE_CONFLICT"
	ErrNotOutside         = "E_NOT_OUTSIDE"
	ErrNotInside          = "E_NOT_INSIDE"
	ErrCancelled          = "E_CANCELLED"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:         {},
	ErrUnknownAgent:       {},
	ErrUnknownAirlock:     {},
	ErrBusy:               {},
	ErrUnfit:              {},
	ErrNoSuit:             {},
	ErrTransferFailed:     {},
	ErrChamberFull:        {},
	ErrNoReservation:      {},
	ErrQueueFull:          {},
	ErrDoorLocked:         {},
	ErrPrebreatheConflict: {},
	ErrNotOutside:         {},
	ErrNotInside:          {},
	ErrCancelled:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// KnownCodes returns every defined reason code.
func KnownCodes() []string {
	out := make([]string, 0, len(knownCodes))
	for c := range knownCodes {
		out = append(out, c)
	}
	return out
}
