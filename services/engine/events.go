package engine

import "time"

type EventType int

const (
	EventEntryFill EventType = iota
	EventExitFill
)

func (t EventType) String() string {
	switch t {
	case EventEntryFill:
		return "entry_fill"
	case EventExitFill:
		return "exit_fill"
	default:
		return "unknown"
	}
}

// Event records a fill. SignalIndex is the bar that raised the signal;
// FillIndex is always SignalIndex+1.
type Event struct {
	Ts          time.Time
	Type        EventType
	Side        TradeSide
	SignalIndex int
	FillIndex   int
	Price       float64
}

type EventLog struct {
	Events []Event
}

func (l *EventLog) Append(e Event) {
	if l == nil {
		return
	}
	l.Events = append(l.Events, e)
}

func (l *EventLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Events)
}
