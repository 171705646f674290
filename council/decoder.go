package council

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"
)

const (
	dataMarker   = "data:"
	doneSentinel = "[DONE]"
	readSize     = 32 * 1024
)

// Frame types emitted by the backend.
const (
	frameStage1Start    = "stage1_start"
	frameStage1Complete = "stage1_complete"
	frameStage2Start    = "stage2_start"
	frameStage2Complete = "stage2_complete"
	frameStage3Start    = "stage3_start"
	frameStage3Complete = "stage3_complete"
	frameTitleUpdate    = "title_update"
	frameTitleComplete  = "title_complete"
	frameComplete       = "complete"
	frameError          = "error"
)

type frame struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	Metadata *Metadata       `json:"metadata"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
}

// Decoder turns a council response body into events. It reads the body in
// whatever chunks the transport hands out and never assumes a read ends on
// a frame boundary.
//
// The sequence returned by Next always ends with exactly one EventComplete
// or EventError, after which Next returns io.EOF.
type Decoder struct {
	r      io.Reader
	logger *zap.Logger
	framer Framer
	buf    []byte
	lines  []string
	eof    bool
	done   bool

	// readErr is a transport failure held back until the lines read
	// before it have been dispatched.
	readErr error
}

func NewDecoder(r io.Reader, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{r: r, logger: logger, buf: make([]byte, readSize)}
}

// Next returns the next event. Transport failures are reported as an
// EventError carrying a *ConnectivityError, not as a returned error; the
// returned error is io.EOF once the terminal event has been delivered.
func (d *Decoder) Next() (Event, error) {
	for {
		if d.done {
			return Event{}, io.EOF
		}

		for len(d.lines) > 0 {
			line := d.lines[0]
			d.lines = d.lines[1:]

			ev, ok := d.parseLine(line)
			if !ok {
				continue
			}
			if ev.Terminal() {
				d.finish()
			}
			return ev, nil
		}

		if d.readErr != nil {
			err := d.readErr
			d.finish()
			return Event{Kind: EventError, Err: &ConnectivityError{Op: "read stream", Err: err}}, nil
		}

		if d.eof {
			if rest, ok := d.framer.Flush(); ok {
				d.lines = append(d.lines, rest)
				continue
			}
			d.finish()
			return Event{Kind: EventComplete}, nil
		}

		n, err := d.r.Read(d.buf)
		if n > 0 {
			d.lines = append(d.lines, d.framer.Feed(d.buf[:n])...)
		}
		if errors.Is(err, io.EOF) {
			d.eof = true
		} else if err != nil {
			d.readErr = err
		}
	}
}

func (d *Decoder) finish() {
	d.done = true
	d.lines = nil
}

// parseLine returns ok=false for lines that dispatch nothing.
func (d *Decoder) parseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, dataMarker) {
		return Event{}, false
	}
	payload := strings.TrimSpace(line[len(dataMarker):])
	if payload == "" {
		return Event{}, false
	}
	if payload == doneSentinel {
		return Event{Kind: EventComplete}, true
	}

	var f frame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		d.malformed(payload, err)
		return Event{}, false
	}

	switch f.Type {
	case frameStage1Start:
		return Event{Kind: EventStageStarted, Stage: 1}, true
	case frameStage2Start:
		return Event{Kind: EventStageStarted, Stage: 2}, true
	case frameStage3Start:
		return Event{Kind: EventStageStarted, Stage: 3}, true

	case frameStage1Complete:
		var results Stage1Results
		if err := json.Unmarshal(orNull(f.Data), &results); err != nil {
			d.malformed(payload, err)
			return Event{}, false
		}
		return Event{Kind: EventStage1, Stage1: results}, true

	case frameStage2Complete:
		var results Stage2Results
		if err := json.Unmarshal(orNull(f.Data), &results); err != nil {
			d.malformed(payload, err)
			return Event{}, false
		}
		return Event{Kind: EventStage2, Stage2: results, Metadata: f.Metadata}, true

	case frameStage3Complete:
		var result *Stage3Result
		if err := json.Unmarshal(orNull(f.Data), &result); err != nil || result == nil {
			if err == nil {
				err = errors.New("stage3 frame without data")
			}
			d.malformed(payload, err)
			return Event{}, false
		}
		return Event{Kind: EventStage3, Stage3: result}, true

	case frameTitleUpdate, frameTitleComplete:
		title := f.Title
		if title == "" && len(f.Data) > 0 {
			var data struct {
				Title string `json:"title"`
			}
			if err := json.Unmarshal(f.Data, &data); err != nil {
				d.malformed(payload, err)
				return Event{}, false
			}
			title = data.Title
		}
		if title == "" {
			return Event{}, false
		}
		return Event{Kind: EventTitle, Title: title}, true

	case frameComplete:
		return Event{Kind: EventComplete}, true

	case frameError:
		msg := f.Message
		if msg == "" && len(f.Data) > 0 {
			_ = json.Unmarshal(f.Data, &msg)
		}
		if msg == "" {
			msg = "unknown error"
		}
		return Event{Kind: EventError, Err: &ProtocolError{Message: msg}}, true

	default:
		d.logger.Debug("ignoring frame", zap.String("type", f.Type))
		return Event{}, false
	}
}

func (d *Decoder) malformed(payload string, err error) {
	d.logger.Warn("skipping malformed frame", zap.Error(&MalformedFrameError{Payload: payload, Err: err}))
}

func orNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
