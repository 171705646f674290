package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/kir-gadjello/llm-council/council"
)

func putTextIntoClipboard(text string) error {
	return clipboard.WriteAll(text)
}

func terminalWidth(fd uintptr, fallback int) int {
	if !is_interactive(fd) {
		return fallback
	}
	w, _, err := term.GetSize(int(fd))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

// readPrompt joins the arguments or, with none, reads piped stdin.
func readPrompt(args []string, stdin io.Reader, stdinIsTerminal bool) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " ")), nil
	}
	if stdinIsTerminal {
		return "", nil
	}
	data, err := io.ReadAll(bufio.NewReader(stdin))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// stageAttachment uploads path and stages it for the next send.
func (a *app) stageAttachment(ctx context.Context, path string) (*council.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if err := council.CheckAttachment(path, info.Size()); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	att, err := a.store.UploadPDF(ctx, path, f)
	if err != nil {
		return nil, err
	}
	a.attachments.SetAttachment(att)
	a.logger.Debug("attachment staged", zap.String("file", att.Filename), zap.Int64("size", att.Size))
	return a.attachments.Current(), nil
}

// turnPrinter writes each stage as the machine accepts it.
type turnPrinter struct {
	out      io.Writer
	progress io.Writer
	opts     renderOptions
}

func (p turnPrinter) event(ev council.Event, res council.Result, m *council.Machine) {
	switch res.Outcome {
	case council.OutcomeProgress:
		if ev.Kind == council.EventStageStarted && p.progress != nil {
			fmt.Fprintf(p.progress, "%s\n", dimStyle.Render("… "+stageLabel(ev.Stage)))
		}
	case council.OutcomeApplied:
		_, pending := m.Pending()
		switch ev.Kind {
		case council.EventStage1:
			fmt.Fprintln(p.out, formatStage1(pending.Stage1, p.opts))
		case council.EventStage2:
			fmt.Fprintln(p.out, formatStage2(pending.Stage2, pending.Metadata, p.opts))
		case council.EventStage3:
			fmt.Fprintln(p.out, formatStage3(pending.Stage3, p.opts))
		}
	}
}

// streamTurn runs one streamed turn for conv and returns the settled
// assistant message. Nothing is appended to conv unless it settles.
func (a *app) streamTurn(ctx context.Context, conv *council.Conversation, prompt string, p turnPrinter) (*council.Message, error) {
	m := council.NewMachine(a.logger)
	tok, err := m.Begin(conv, prompt)
	if err != nil {
		return nil, err
	}

	stream, err := a.streams.Open(ctx, conv.ID, prompt, a.attachments.Current())
	if err != nil {
		m.Fail(tok, err)
		return nil, err
	}
	defer stream.Close()

	for ev := range stream.Events() {
		res := m.Apply(tok, ev)
		p.event(ev, res, m)
		switch res.Outcome {
		case council.OutcomeSettled:
			a.attachments.Clear()
			return res.Message, nil
		case council.OutcomeErrored:
			return nil, res.Err
		}
	}

	err = stream.Err()
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = &council.ProtocolError{Message: "stream closed early"}
	}
	m.Fail(tok, err)
	return nil, err
}

func (a *app) syncTurn(ctx context.Context, conv *council.Conversation, prompt string, p turnPrinter) (*council.Message, error) {
	msg, err := a.store.Send(ctx, conv.ID, prompt, a.attachments.Current())
	if err != nil {
		return nil, err
	}
	a.attachments.Clear()
	conv.Append(council.UserMessage(prompt), msg)
	fmt.Fprintln(p.out, formatTurn(msg.Turn, p.opts))
	return &msg, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := appFromCommand(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := commandContext(cmd)

	prompt, err := readPrompt(args, cmd.InOrStdin(), isTerminal(cmd.InOrStdin()))
	if err != nil {
		return err
	}
	if prompt == "" {
		return fmt.Errorf("nothing to ask: pass a question or pipe one on stdin")
	}

	if _, err := a.requireSession(ctx); err != nil {
		return err
	}

	convID, _ := cmd.Flags().GetString("conversation")
	var conv *council.Conversation
	if convID == "" {
		conv, err = a.store.Create(ctx)
	} else {
		conv, err = a.store.Get(ctx, convID)
	}
	if err != nil {
		return err
	}

	if pdf, _ := cmd.Flags().GetString("pdf"); pdf != "" {
		if _, err := a.stageAttachment(ctx, pdf); err != nil {
			return err
		}
	}

	full, _ := cmd.Flags().GetBool("full")
	stdoutTTY := isTerminal(cmd.OutOrStdout())
	printer := turnPrinter{
		out: cmd.OutOrStdout(),
		opts: renderOptions{
			Markdown: a.cfg.Markdown && stdoutTTY,
			Width:    terminalWidth(os.Stdout.Fd(), 100),
			Full:     full,
		},
	}
	if isTerminal(cmd.ErrOrStderr()) {
		printer.progress = cmd.ErrOrStderr()
	}

	var msg *council.Message
	if sync, _ := cmd.Flags().GetBool("sync"); sync {
		msg, err = a.syncTurn(ctx, conv, prompt, printer)
	} else {
		msg, err = a.streamTurn(ctx, conv, prompt, printer)
	}
	if err != nil {
		return err
	}
	a.archiveTurn(conv, prompt, msg)

	if copyFinal, _ := cmd.Flags().GetBool("copy"); copyFinal && msg.Text() != "" {
		if err := putTextIntoClipboard(msg.Text()); err != nil {
			a.logger.Warn("clipboard unavailable", zap.Error(err))
		}
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%s\n", dimStyle.Render(fmt.Sprintf("conversation %s · %s", conv.ID, conv.Title)))
	return nil
}
