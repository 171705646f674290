package council

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the progress of the in-flight turn.
type State int

const (
	StateIdle State = iota
	StateAwaiting1
	StateAwaiting2
	StateAwaiting3
	StateSettled
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaiting1:
		return "awaiting stage 1"
	case StateAwaiting2:
		return "awaiting stage 2"
	case StateAwaiting3:
		return "awaiting stage 3"
	case StateSettled:
		return "settled"
	case StateErrored:
		return "errored"
	default:
		return "invalid"
	}
}

// StreamToken identifies one turn. Events are only applied under the token
// that is current when they arrive.
type StreamToken string

// Outcome says what Apply did with an event.
type Outcome int

const (
	// OutcomeApplied: a stage result was stored and the state advanced.
	OutcomeApplied Outcome = iota + 1
	// OutcomeProgress: a stage-start or title event; stage state unchanged.
	OutcomeProgress
	// OutcomeIgnored: the event violated stage order and was dropped.
	OutcomeIgnored
	// OutcomeStale: the token is not current; nothing was touched.
	OutcomeStale
	OutcomeSettled
	OutcomeErrored
)

// Result reports the effect of one event. State is the state the event
// moved the machine to; after settling or failing the machine itself is
// already back to idle.
type Result struct {
	Outcome Outcome
	State   State
	// Message is the appended assistant message on OutcomeSettled.
	Message *Message
	// Err is the surfaced failure on OutcomeErrored, or ErrStaleEvent.
	Err error
}

// Machine drives one conversation turn at a time from send to settlement.
// It is not safe for concurrent use; feed it from a single goroutine.
type Machine struct {
	logger  *zap.Logger
	state   State
	current StreamToken
	conv    *Conversation
	prompt  string
	turn    Turn
	running int
}

func NewMachine(logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{logger: logger}
}

func (m *Machine) State() State { return m.state }

// Busy reports whether a turn is in flight.
func (m *Machine) Busy() bool {
	return m.state >= StateAwaiting1 && m.state <= StateAwaiting3
}

func (m *Machine) Current() StreamToken { return m.current }

// Conversation is the conversation the in-flight turn belongs to.
func (m *Machine) Conversation() *Conversation { return m.conv }

// Running is the stage the backend last announced as started, or 0.
func (m *Machine) Running() int { return m.running }

// Pending returns the prompt and a copy of the stages collected so far.
func (m *Machine) Pending() (string, *Turn) {
	if !m.Busy() {
		return "", nil
	}
	return m.prompt, m.turn.clone()
}

// Begin starts a turn for conv and mints its token. A turn in flight for
// the same conversation is refused; one for another conversation is
// superseded.
func (m *Machine) Begin(conv *Conversation, content string) (StreamToken, error) {
	if conv == nil {
		return "", errors.New("no conversation selected")
	}
	if m.Busy() {
		if m.conv != nil && m.conv.ID == conv.ID {
			return "", ErrTurnInFlight
		}
		m.logger.Debug("superseding turn", zap.String("token", string(m.current)))
	}

	m.reset()
	m.current = StreamToken(uuid.NewString())
	m.conv = conv
	m.prompt = content
	m.state = StateAwaiting1
	return m.current, nil
}

// Invalidate abandons the in-flight turn, if any. Later events for its
// token are stale.
func (m *Machine) Invalidate() {
	if m.Busy() {
		m.logger.Debug("invalidating turn", zap.String("token", string(m.current)))
	}
	m.reset()
}

func (m *Machine) reset() {
	m.state = StateIdle
	m.current = ""
	m.conv = nil
	m.prompt = ""
	m.turn = Turn{}
	m.running = 0
}

// Apply is the transition function.
func (m *Machine) Apply(tok StreamToken, ev Event) Result {
	if tok == "" || tok != m.current || !m.Busy() {
		m.logger.Debug("dropping stale event", zap.Stringer("kind", ev.Kind), zap.String("token", string(tok)))
		return Result{Outcome: OutcomeStale, State: m.state, Err: ErrStaleEvent}
	}

	switch ev.Kind {
	case EventStageStarted:
		m.running = ev.Stage
		return m.progress()

	case EventTitle:
		m.conv.Title = ev.Title
		return m.progress()

	case EventStage1:
		if m.state != StateAwaiting1 {
			return m.ignore(ev)
		}
		m.turn.Stage1 = append([]Stage1Result{}, ev.Stage1...)
		return m.advance(StateAwaiting2)

	case EventStage2:
		if m.state != StateAwaiting1 && m.state != StateAwaiting2 {
			return m.ignore(ev)
		}
		m.turn.Stage2 = append([]Stage2Result{}, ev.Stage2...)
		m.turn.Metadata = ev.Metadata
		return m.advance(StateAwaiting3)

	case EventStage3:
		if m.turn.Stage3 != nil || ev.Stage3 == nil {
			return m.ignore(ev)
		}
		s3 := *ev.Stage3
		m.turn.Stage3 = &s3
		return m.advance(StateAwaiting3)

	case EventComplete:
		return m.settle()

	case EventError:
		return m.fail(ev.Err)

	default:
		return m.ignore(ev)
	}
}

// Finish applies the natural end of the stream.
func (m *Machine) Finish(tok StreamToken) Result {
	return m.Apply(tok, Event{Kind: EventComplete})
}

// Fail applies a transport failure.
func (m *Machine) Fail(tok StreamToken, err error) Result {
	return m.Apply(tok, Event{Kind: EventError, Err: err})
}

func (m *Machine) progress() Result {
	return Result{Outcome: OutcomeProgress, State: m.state}
}

func (m *Machine) advance(to State) Result {
	m.state = to
	return Result{Outcome: OutcomeApplied, State: m.state}
}

func (m *Machine) ignore(ev Event) Result {
	m.logger.Warn("ignoring out-of-order stage event",
		zap.Stringer("kind", ev.Kind),
		zap.Stringer("state", m.state))
	return Result{Outcome: OutcomeIgnored, State: m.state}
}

func (m *Machine) observed() bool {
	return m.turn.Stage1 != nil || m.turn.Stage2 != nil || m.turn.Stage3 != nil
}

func (m *Machine) settle() Result {
	if !m.observed() {
		return m.fail(&ProtocolError{Message: "stream ended before any stage result"})
	}

	m.conv.Append(UserMessage(m.prompt), CouncilMessage(&m.turn))
	out := CouncilMessage(&m.turn)
	m.reset()
	return Result{Outcome: OutcomeSettled, State: StateSettled, Message: &out}
}

func (m *Machine) fail(err error) Result {
	if err == nil {
		err = &ProtocolError{Message: "unknown error"}
	}
	m.logger.Debug("turn failed", zap.Error(err))
	m.reset()
	return Result{Outcome: OutcomeErrored, State: StateErrored, Err: err}
}
