package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kir-gadjello/llm-council/council"
)

func TestReadPrompt(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		stdin    string
		terminal bool
		want     string
	}{
		{name: "args joined", args: []string{"what", "is", "2+2?"}, stdin: "ignored", want: "what is 2+2?"},
		{name: "piped stdin", stdin: "  from a pipe\n\n", want: "from a pipe"},
		{name: "terminal without args", stdin: "never read", terminal: true, want: ""},
		{name: "empty pipe", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readPrompt(tt.args, strings.NewReader(tt.stdin), tt.terminal)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := readPrompt(nil, iotest.ErrReader(errors.New("boom")), false)
	assert.ErrorContains(t, err, "read stdin")
}

func TestShortTime(t *testing.T) {
	assert.Equal(t, "2025-11-20 10:00", shortTime("2025-11-20T10:00:00.123456"))
	assert.Equal(t, "2025-11-20 10:00", shortTime("2025-11-20T10:00:00Z"))
	assert.Equal(t, "yesterday", shortTime("yesterday"))
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{council.ErrNotAuthenticated, "not logged in; run `llm-council login` first"},
		{fmt.Errorf("list: %w", &council.ConnectivityError{Op: "list conversations", Err: errors.New("refused")}), "cannot reach server (list conversations)"},
		{&council.CredentialsError{StatusCode: 401, Detail: "Incorrect username or password"}, "Incorrect username or password"},
		{&council.ProtocolError{Message: "stage 2 failed"}, "council stream error: stage 2 failed"},
		{&council.NotFoundError{Resource: "conversation", ID: "c9"}, "conversation c9 not found"},
		{context.DeadlineExceeded, "request timed out"},
		{errors.New("other"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, describeError(tt.err))
	}
}

func TestTurnPrinterWritesAcceptedStages(t *testing.T) {
	var out, progress strings.Builder
	p := turnPrinter{out: &out, progress: &progress, opts: plain}

	m := council.NewMachine(nil)
	conv := &council.Conversation{ID: "c1"}
	tok, err := m.Begin(conv, "q")
	require.NoError(t, err)

	events := []council.Event{
		{Kind: council.EventStageStarted, Stage: 1},
		{Kind: council.EventStage1, Stage1: []council.Stage1Result{{Model: "m1", Response: "a"}}},
		// Out of order: a second stage 1 result is ignored and not printed.
		{Kind: council.EventStage1, Stage1: []council.Stage1Result{{Model: "dup", Response: "b"}}},
		{Kind: council.EventStage3, Stage3: &council.Stage3Result{Model: "chair", Response: "final"}},
	}
	for _, ev := range events {
		p.event(ev, m.Apply(tok, ev), m)
	}

	assert.Contains(t, progress.String(), stageLabel(1))
	assert.Contains(t, out.String(), "m1")
	assert.NotContains(t, out.String(), "dup")
	assert.Contains(t, out.String(), "final")
	assert.Equal(t, 1, strings.Count(out.String(), "Stage 1 ·"))
}
