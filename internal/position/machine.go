package position

type Event string

const (
	EventEntryFilled Event = "ENTRY_FILLED"
	EventReduced     Event = "REDUCED"
	EventClosed      Event = "CLOSED"
)

// nextStatus is the Flat/Open transition table. Events that do not apply to
// the current status leave it unchanged.
func nextStatus(current Status, event Event) Status {
	switch current {
	case StatusFlat:
		if event == EventEntryFilled {
			return StatusOpen
		}
	case StatusOpen:
		if event == EventClosed {
			return StatusFlat
		}
	}
	return current
}

func (e *Engine) apply(event Event) {
	e.state.Status = nextStatus(e.state.Status, event)
	if e.state.Status == StatusFlat {
		seq := e.state.Seq
		e.state = State{Status: StatusFlat, Seq: seq}
	}
}
