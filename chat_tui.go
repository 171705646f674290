package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/kir-gadjello/llm-council/council"
)

const TEXTINPUT_PLACEHOLDER = "Ask the council... (/attach <file.pdf>, /detach, ctrl+o: conversations, ctrl+n: new)"

type (
	conversationMsg struct {
		conv *council.Conversation
		err  error
	}
	streamOpenedMsg struct {
		tok    council.StreamToken
		stream *council.Stream
		err    error
	}
	streamEventMsg struct {
		tok    council.StreamToken
		stream *council.Stream
		ev     council.Event
		// closed is set when the channel closed without a terminal event.
		closed bool
	}
	attachedMsg struct {
		att *council.Attachment
		err error
	}
	conversationListMsg struct {
		convs []council.Conversation
		err   error
	}
	deletedMsg struct {
		id  string
		err error
	}
)

// chatModel is the full-screen council chat. All network work runs in
// tea.Cmds; Update only touches the machine and the view.
type chatModel struct {
	ctx     context.Context
	app     *app
	machine *council.Machine
	conv    *council.Conversation
	stream  *council.Stream

	// sent is the attachment that went out with the in-flight turn.
	sent *council.Attachment

	spinner  spinner.Model
	viewport viewport.Model
	textarea textarea.Model
	opts     renderOptions

	initialID string
	status    string
	err       error

	picking bool
	picker  conversationPicker
}

func newChatModel(ctx context.Context, a *app, conversationID string) chatModel {
	ta := textarea.New()
	ta.Placeholder = TEXTINPUT_PLACEHOLDER
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 100000
	ta.MaxHeight = 32
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	vp := viewport.New(80, 12)
	vp.MouseWheelEnabled = true
	vp.SetContent(`<council chat is empty>`)

	sp := spinner.New()
	sp.Spinner = spinner.Pulse
	sp.Spinner.FPS = time.Second / 10
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("171"))

	m := chatModel{
		ctx:       ctx,
		app:       a,
		machine:   council.NewMachine(a.logger),
		spinner:   sp,
		viewport:  vp,
		textarea:  ta,
		opts:      renderOptions{Markdown: a.cfg.Markdown, Width: 78},
		picker:    newConversationPicker(),
		initialID: conversationID,
		status:    "loading conversation…",
	}
	if conversationID == "" {
		m.status = "creating conversation…"
	}
	return m
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.loadConversation(m.initialID))
}

func (m chatModel) loadConversation(id string) tea.Cmd {
	ctx, store := m.ctx, m.app.store
	return func() tea.Msg {
		var (
			conv *council.Conversation
			err  error
		)
		if id == "" {
			conv, err = store.Create(ctx)
		} else {
			conv, err = store.Get(ctx, id)
		}
		return conversationMsg{conv: conv, err: err}
	}
}

func (m chatModel) openStream(tok council.StreamToken, convID, prompt string, att *council.Attachment) tea.Cmd {
	ctx, streams := m.ctx, m.app.streams
	return func() tea.Msg {
		s, err := streams.Open(ctx, convID, prompt, att)
		return streamOpenedMsg{tok: tok, stream: s, err: err}
	}
}

// readEvent waits for the next event of s, tagged with the turn it belongs to.
func readEvent(tok council.StreamToken, s *council.Stream) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-s.Events()
		return streamEventMsg{tok: tok, stream: s, ev: ev, closed: !ok}
	}
}

func closeStream(s *council.Stream) tea.Cmd {
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		s.Close()
		return nil
	}
}

func (m chatModel) listConversations() tea.Cmd {
	ctx, store := m.ctx, m.app.store
	return func() tea.Msg {
		convs, err := store.List(ctx)
		return conversationListMsg{convs: convs, err: err}
	}
}

func (m chatModel) deleteConversation(id string) tea.Cmd {
	ctx, a := m.ctx, m.app
	return func() tea.Msg {
		err := a.store.Remove(ctx, id)
		if err == nil && a.archive != nil {
			if ferr := a.archive.Forget(id); ferr != nil {
				a.logger.Warn("failed to forget conversation locally", zap.String("conversation", id), zap.Error(ferr))
			}
		}
		return deletedMsg{id: id, err: err}
	}
}

func (m chatModel) attach(path string) tea.Cmd {
	ctx, a := m.ctx, m.app
	return func() tea.Msg {
		att, err := a.stageAttachment(ctx, path)
		return attachedMsg{att: att, err: err}
	}
}

// abandon invalidates the in-flight turn and drops its stream. The staged
// attachment belongs to the conversation being left.
func (m *chatModel) abandon() tea.Cmd {
	m.machine.Invalidate()
	m.app.attachments.Clear()
	m.sent = nil
	s := m.stream
	m.stream = nil
	return closeStream(s)
}

func (m chatModel) lastFinal() string {
	if m.conv == nil {
		return ""
	}
	msgs := m.conv.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == council.RoleAssistant {
			if text := msgs[i].Text(); text != "" {
				return text
			}
		}
	}
	return ""
}

func (m chatModel) submit(input string) (chatModel, tea.Cmd) {
	input = strings.TrimSpace(input)
	switch {
	case input == "":
		return m, nil
	case strings.HasPrefix(input, "/attach "):
		m.textarea.Reset()
		m.status = "uploading…"
		return m, m.attach(strings.TrimSpace(strings.TrimPrefix(input, "/attach ")))
	case input == "/detach":
		m.textarea.Reset()
		m.app.attachments.Clear()
		m.status = "attachment removed"
		return m, nil
	}

	if m.conv == nil {
		m.err = fmt.Errorf("no conversation loaded")
		return m, nil
	}
	tok, err := m.machine.Begin(m.conv, input)
	if err != nil {
		m.err = err
		return m, nil
	}
	m.err = nil
	m.status = ""
	m.sent = m.app.attachments.Current()
	m.textarea.Reset()
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, m.openStream(tok, m.conv.ID, input, m.sent))
}

// applyEvent feeds one stream message to the machine.
func (m chatModel) applyEvent(msg streamEventMsg) (chatModel, tea.Cmd) {
	prompt, _ := m.machine.Pending()
	var res council.Result
	if msg.closed {
		err := msg.stream.Err()
		if err == nil {
			err = &council.ProtocolError{Message: "stream closed early"}
		}
		res = m.machine.Fail(msg.tok, err)
	} else {
		res = m.machine.Apply(msg.tok, msg.ev)
	}

	switch res.Outcome {
	case council.OutcomeStale:
		return m, nil
	case council.OutcomeSettled:
		m.app.attachments.ClearSent(m.sent)
		m.sent = nil
		m.app.archiveTurn(m.conv, prompt, res.Message)
		m.stream = nil
		m.refresh()
		return m, closeStream(msg.stream)
	case council.OutcomeErrored:
		m.err = res.Err
		m.sent = nil
		m.stream = nil
		m.refresh()
		return m, closeStream(msg.stream)
	}
	m.refresh()
	return m, readEvent(msg.tok, msg.stream)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.picking {
		return m.updatePicker(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)
	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.machine.Invalidate()
			if m.stream != nil {
				m.stream.Close()
				m.stream = nil
			}
			return m, tea.Quit

		case tea.KeyCtrlN:
			cmd := m.abandon()
			m.conv = nil
			m.err = nil
			m.status = "creating conversation…"
			m.refresh()
			return m, tea.Batch(cmd, m.loadConversation(""))

		case tea.KeyCtrlO:
			m.status = "loading conversations…"
			return m, m.listConversations()

		case tea.KeyCtrlE:
			if text := m.lastFinal(); text != "" {
				if err := putTextIntoClipboard(text); err != nil {
					m.err = err
				} else {
					m.status = "final answer copied"
				}
			}
			return m, nil

		case tea.KeyCtrlD:
			if m.conv == nil {
				return m, nil
			}
			cmd := m.abandon()
			m.status = "deleting…"
			return m, tea.Batch(cmd, m.deleteConversation(m.conv.ID))

		case tea.KeyEnter:
			if msg.Alt {
				m.textarea.SetValue(m.textarea.Value() + "\n")
				return m, tiCmd
			}
			var cmd tea.Cmd
			m, cmd = m.submit(m.textarea.Value())
			return m, tea.Batch(tiCmd, vpCmd, cmd)
		}

	case tea.WindowSizeMsg:
		m.textarea.SetWidth(msg.Width - 2)
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = msg.Height - 2 - m.textarea.Height()
		m.opts.Width = msg.Width - 2
		m.picker.setSize(msg.Width, msg.Height)
		m.refresh()

	case conversationMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.conv = msg.conv
		m.status = ""
		m.refresh()

	case conversationListMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.status = ""
		m.picker.setConversations(msg.convs)
		m.picking = true
		return m, nil

	case deletedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.conv = nil
		m.status = "deleted " + msg.id
		return m, m.loadConversation("")

	case attachedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = ""
			return m, nil
		}
		m.err = nil
		m.status = fmt.Sprintf("attached %s (%d bytes)", msg.att.Filename, msg.att.Size)

	case streamOpenedMsg:
		if msg.tok != m.machine.Current() {
			return m, closeStream(msg.stream)
		}
		if msg.err != nil {
			res := m.machine.Fail(msg.tok, msg.err)
			m.err = res.Err
			m.refresh()
			return m, nil
		}
		m.stream = msg.stream
		return m, readEvent(msg.tok, msg.stream)

	case streamEventMsg:
		return m.applyEvent(msg)

	case spinner.TickMsg:
		if m.machine.Busy() {
			var spCmd tea.Cmd
			m.spinner, spCmd = m.spinner.Update(msg)
			m.refresh()
			return m, tea.Batch(tiCmd, vpCmd, spCmd)
		}
	}

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m chatModel) updatePicker(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var done bool
	m.picker, cmd, done = m.picker.update(msg)
	if !done {
		return m, cmd
	}
	m.picking = false
	sel := m.picker.selected
	if sel == nil || (m.conv != nil && sel.ID == m.conv.ID) {
		return m, nil
	}
	abandon := m.abandon()
	m.conv = nil
	m.err = nil
	m.status = "loading conversation…"
	m.refresh()
	return m, tea.Batch(abandon, m.loadConversation(sel.ID))
}

// refresh re-renders the transcript with the pending turn, if any.
func (m *chatModel) refresh() {
	if m.conv == nil {
		m.viewport.SetContent(`<council chat is empty>`)
		return
	}
	msgs := m.conv.Messages()
	suffix := ""
	if m.machine.Busy() && m.machine.Conversation() == m.conv {
		prompt, pending := m.machine.Pending()
		msgs = append(msgs, council.UserMessage(prompt))
		if len(pending.Stage1) > 0 || len(pending.Stage2) > 0 || pending.Stage3 != nil {
			msgs = append(msgs, council.CouncilMessage(pending))
		}
		suffix = m.spinner.View() + " " + dimStyle.Render(stageLabel(m.machine.Running()))
	}
	if len(msgs) == 0 {
		m.viewport.SetContent(`<council chat is empty>`)
		return
	}
	m.viewport.SetContent(formatMessageLog(msgs, m.opts, suffix))
	m.viewport.GotoBottom()
}

func (m chatModel) statusLine() string {
	if m.err != nil {
		return errorStyle.Render(describeError(m.err))
	}
	var parts []string
	if m.conv != nil {
		title := m.conv.Title
		if title == "" {
			title = m.conv.ID
		}
		parts = append(parts, statusStyle.Render(title))
	}
	if att := m.app.attachments.Current(); att != nil {
		parts = append(parts, dimStyle.Render("📎 "+att.Filename))
	}
	if m.machine.Busy() {
		parts = append(parts, stageLabel(m.machine.Running()))
	}
	if m.status != "" {
		parts = append(parts, dimStyle.Render(m.status))
	}
	return strings.Join(parts, " ")
}

func (m chatModel) View() string {
	if m.picking {
		return m.picker.view()
	}
	return fmt.Sprintf("%s\n%s\n%s", m.viewport.View(), m.statusLine(), m.textarea.View()) + "\n"
}
