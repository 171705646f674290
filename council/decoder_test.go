package council

import (
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// chunkReader hands out data in reads of the given sizes, cycling through
// them.
type chunkReader struct {
	data  []byte
	sizes []int
	i     int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.sizes[r.i%len(r.sizes)]
	r.i++
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

// failingReader returns all of its data together with err in one read.
type failingReader struct {
	data string
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	n := copy(p, r.data)
	r.data = r.data[n:]
	if r.data == "" {
		return n, r.err
	}
	return n, nil
}

func decodeAll(t *testing.T, r io.Reader, logger *zap.Logger) []Event {
	t.Helper()
	dec := NewDecoder(r, logger)
	var events []Event
	for i := 0; i < 10000; i++ {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
	t.Fatal("decoder did not terminate")
	return nil
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

const fullTurn = "data: {\"type\":\"stage1_start\"}\n" +
	"data: {\"type\":\"stage1_complete\",\"data\":[{\"model\":\"openai/gpt-5\",\"response\":\"réponse très détaillée 🎉\"},{\"model\":\"x-ai/grok-4\",\"response\":\"second\"}]}\n" +
	"\n" +
	"data: {\"type\":\"stage2_start\"}\r\n" +
	"data: {\"type\":\"stage2_complete\",\"data\":[{\"model\":\"openai/gpt-5\",\"ranking\":\"Response B is best.\\nFINAL RANKING:\\n1. Response B\\n2. Response A\",\"parsed_ranking\":[\"Response B\",\"Response A\"]}],\"metadata\":{\"label_to_model\":{\"Response A\":\"openai/gpt-5\",\"Response B\":\"x-ai/grok-4\"},\"aggregate_rankings\":[{\"model\":\"x-ai/grok-4\",\"average_rank\":1,\"rankings_count\":1},{\"model\":\"openai/gpt-5\",\"average_rank\":2,\"rankings_count\":1}]}}\n" +
	"data: {\"type\":\"stage3_start\"}\n" +
	"data: {\"type\":\"stage3_complete\",\"data\":{\"model\":\"google/gemini-3-pro\",\"response\":\"La réponse finale — 最终\"}}\n" +
	"data: {\"type\":\"title_complete\",\"data\":{\"title\":\"Réponses\"}}\n" +
	"data: {\"type\":\"complete\"}\n"

func TestDecoderExample(t *testing.T) {
	input := `data: {"type":"stage1_complete","data":[{"model":"m1","response":"hi"}]}` + "\n" +
		`data: {"type":"stage3_complete","data":{"model":"chair","response":"final"}}` + "\n" +
		"data: [DONE]\n"

	events := decodeAll(t, strings.NewReader(input), nil)
	want := []Event{
		{Kind: EventStage1, Stage1: []Stage1Result{{Model: "m1", Response: "hi"}}},
		{Kind: EventStage3, Stage3: &Stage3Result{Model: "chair", Response: "final"}},
		{Kind: EventComplete},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestDecoderFullTurn(t *testing.T) {
	events := decodeAll(t, strings.NewReader(fullTurn), nil)
	assert.Equal(t, []EventKind{
		EventStageStarted, EventStage1,
		EventStageStarted, EventStage2,
		EventStageStarted, EventStage3,
		EventTitle, EventComplete,
	}, kinds(events))

	assert.Equal(t, 1, events[0].Stage)
	assert.Equal(t, 3, events[4].Stage)

	s2 := events[3]
	require.Len(t, s2.Stage2, 1)
	assert.Equal(t, []string{"Response B", "Response A"}, s2.Stage2[0].Ranking)
	assert.Contains(t, s2.Stage2[0].Evaluation, "FINAL RANKING")
	require.NotNil(t, s2.Metadata)
	assert.Equal(t, "x-ai/grok-4", s2.Metadata.LabelToModel["Response B"])
	assert.Equal(t, "x-ai/grok-4", s2.Metadata.AggregateRankings[0].Model)

	assert.Equal(t, "La réponse finale — 最终", events[5].Stage3.Response)
	assert.Equal(t, "Réponses", events[6].Title)
}

func TestDecoderChunkBoundaries(t *testing.T) {
	want := decodeAll(t, strings.NewReader(fullTurn), nil)

	t.Run("fixed sizes", func(t *testing.T) {
		for size := 1; size <= 64; size++ {
			got := decodeAll(t, &chunkReader{data: []byte(fullTurn), sizes: []int{size}}, nil)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("chunk size %d (-want +got):\n%s", size, diff)
			}
		}
	})

	t.Run("random splits", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		for round := 0; round < 200; round++ {
			sizes := make([]int, 1+rng.Intn(8))
			for i := range sizes {
				sizes[i] = 1 + rng.Intn(40)
			}
			got := decodeAll(t, &chunkReader{data: []byte(fullTurn), sizes: sizes}, nil)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("sizes %v (-want +got):\n%s", sizes, diff)
			}
		}
	})

	t.Run("one byte reader", func(t *testing.T) {
		got := decodeAll(t, iotest.OneByteReader(strings.NewReader(fullTurn)), nil)
		assert.Empty(t, cmp.Diff(want, got))
	})

	t.Run("data with final read", func(t *testing.T) {
		got := decodeAll(t, iotest.DataErrReader(strings.NewReader(fullTurn)), nil)
		assert.Empty(t, cmp.Diff(want, got))
	})
}

func TestDecoderTerminalEvents(t *testing.T) {
	t.Run("error frame ends the stream", func(t *testing.T) {
		input := `data: {"type":"stage1_complete","data":[{"model":"m1","response":"hi"}]}` + "\n" +
			`data: {"type":"error","message":"rate limited"}` + "\n" +
			`data: {"type":"stage3_complete","data":{"model":"chair","response":"late"}}` + "\n"

		events := decodeAll(t, strings.NewReader(input), nil)
		require.Equal(t, []EventKind{EventStage1, EventError}, kinds(events))

		var perr *ProtocolError
		require.ErrorAs(t, events[1].Err, &perr)
		assert.Equal(t, "rate limited", perr.Message)
	})

	t.Run("error frame without message", func(t *testing.T) {
		events := decodeAll(t, strings.NewReader(`data: {"type":"error"}`+"\n"), nil)
		require.Len(t, events, 1)
		assert.EqualError(t, events[0].Err, "council stream error: unknown error")
	})

	t.Run("complete frame stops early", func(t *testing.T) {
		input := `data: {"type":"complete"}` + "\n" +
			`data: {"type":"stage3_complete","data":{"model":"chair","response":"late"}}` + "\n"
		events := decodeAll(t, strings.NewReader(input), nil)
		assert.Equal(t, []EventKind{EventComplete}, kinds(events))
	})

	t.Run("end of body is completion", func(t *testing.T) {
		input := `data: {"type":"stage1_complete","data":{"m1":"hi"}}` + "\n"
		events := decodeAll(t, strings.NewReader(input), nil)
		assert.Equal(t, []EventKind{EventStage1, EventComplete}, kinds(events))
	})

	t.Run("last frame without newline", func(t *testing.T) {
		input := `data: {"type":"stage3_complete","data":{"model":"chair","response":"final"}}`
		events := decodeAll(t, strings.NewReader(input), nil)
		require.Equal(t, []EventKind{EventStage3, EventComplete}, kinds(events))
		assert.Equal(t, "final", events[0].Stage3.Response)
	})

	t.Run("empty body", func(t *testing.T) {
		events := decodeAll(t, strings.NewReader(""), nil)
		assert.Equal(t, []EventKind{EventComplete}, kinds(events))
	})

	t.Run("read failure", func(t *testing.T) {
		boom := errors.New("connection reset by peer")
		r := io.MultiReader(
			strings.NewReader(`data: {"type":"stage1_complete","data":[{"model":"m1","response":"hi"}]}`+"\n"+`data: {"type":"stage2`),
			iotest.ErrReader(boom),
		)
		events := decodeAll(t, r, nil)
		require.Equal(t, []EventKind{EventStage1, EventError}, kinds(events))

		var cerr *ConnectivityError
		require.ErrorAs(t, events[1].Err, &cerr)
		assert.ErrorIs(t, events[1].Err, boom)
	})

	t.Run("read failure with data", func(t *testing.T) {
		boom := errors.New("unexpected EOF")
		r := &failingReader{
			data: `data: {"type":"stage1_complete","data":[{"model":"m1","response":"hi"}]}` + "\n" +
				`data: {"type":"stage3_complete","data":{"model":"chair","response":"final"}}` + "\n",
			err: boom,
		}
		events := decodeAll(t, r, nil)
		require.Equal(t, []EventKind{EventStage1, EventStage3, EventError}, kinds(events))
		assert.Equal(t, "final", events[1].Stage3.Response)
		assert.ErrorIs(t, events[2].Err, boom)
	})

	t.Run("next after terminal", func(t *testing.T) {
		dec := NewDecoder(strings.NewReader("data: [DONE]\n"), nil)
		ev, err := dec.Next()
		require.NoError(t, err)
		assert.Equal(t, EventComplete, ev.Kind)
		for i := 0; i < 3; i++ {
			_, err = dec.Next()
			assert.ErrorIs(t, err, io.EOF)
		}
	})
}

func TestDecoderSkipsNoise(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	input := ": keep-alive\n" +
		"event: message\n" +
		"data:\n" +
		`data: {"type":"heartbeat"}` + "\n" +
		`data: {"type":"stage1_complete","data":[{"model":"m1"` + "\n" +
		`data: {"type":"stage3_complete"}` + "\n" +
		`data: {"type":"title_update","title":""}` + "\n" +
		`data: {"type":"title_update","title":"Short title"}` + "\n" +
		`data: {"type":"stage1_complete","data":[{"model":"m1","response":"hi"}]}` + "\n" +
		"data: [DONE]\n"

	events := decodeAll(t, strings.NewReader(input), logger)
	require.Equal(t, []EventKind{EventTitle, EventStage1, EventComplete}, kinds(events))
	assert.Equal(t, "Short title", events[0].Title)

	malformed := logs.FilterMessage("skipping malformed frame").All()
	require.Len(t, malformed, 2)
	for _, entry := range malformed {
		assert.Equal(t, zapcore.WarnLevel, entry.Level)
	}
	assert.Equal(t, 1, logs.FilterMessage("ignoring frame").Len())
}

func TestDecoderLargeFrame(t *testing.T) {
	body := strings.Repeat("lorem ipsum ", 12000)
	input := `data: {"type":"stage3_complete","data":{"model":"chair","response":"` + body + `"}}` + "\n"

	events := decodeAll(t, &chunkReader{data: []byte(input), sizes: []int{4093, 1, 8191}}, nil)
	require.Equal(t, []EventKind{EventStage3, EventComplete}, kinds(events))
	assert.Equal(t, body, events[0].Stage3.Response)
}
