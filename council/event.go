package council

// EventKind enumerates everything the stream can dispatch.
type EventKind int

const (
	EventStageStarted EventKind = iota + 1
	EventStage1
	EventStage2
	EventStage3
	EventTitle
	EventComplete
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStageStarted:
		return "stage_started"
	case EventStage1:
		return "stage1"
	case EventStage2:
		return "stage2"
	case EventStage3:
		return "stage3"
	case EventTitle:
		return "title"
	case EventComplete:
		return "complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one dispatched protocol event. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind EventKind

	// Stage is set for EventStageStarted.
	Stage int

	Stage1   []Stage1Result
	Stage2   []Stage2Result
	Metadata *Metadata
	Stage3   *Stage3Result

	Title string

	// Err is set for EventError: a *ProtocolError for error frames, or the
	// transport failure that cut the stream short.
	Err error
}

// Terminal reports whether no further events follow this one.
func (e Event) Terminal() bool {
	return e.Kind == EventComplete || e.Kind == EventError
}
