package main

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kir-gadjello/llm-council/council"
)

var pickerFrame = lipgloss.NewStyle().Margin(1, 2)

type conversationItem struct {
	conv council.Conversation
}

func (c conversationItem) Title() string {
	if c.conv.Title == "" {
		return c.conv.ID
	}
	return c.conv.Title
}

func (c conversationItem) Description() string {
	return fmt.Sprintf("%s · %d messages · %s", shortTime(c.conv.CreatedAt), c.conv.MessageCount, c.conv.ID)
}

func (c conversationItem) FilterValue() string { return c.conv.Title + " " + c.conv.ID }

// conversationPicker lists the account's conversations inside the chat.
type conversationPicker struct {
	list     list.Model
	selected *council.Conversation
}

func newConversationPicker() conversationPicker {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Conversations"
	l.Styles.Title = statusStyle
	l.SetShowHelp(false)
	return conversationPicker{list: l}
}

func (p *conversationPicker) setConversations(convs []council.Conversation) {
	items := make([]list.Item, len(convs))
	for i, c := range convs {
		items[i] = conversationItem{conv: c}
	}
	p.list.SetItems(items)
	p.list.ResetFilter()
	p.selected = nil
}

func (p *conversationPicker) setSize(width, height int) {
	h, v := pickerFrame.GetFrameSize()
	p.list.SetSize(width-h, height-v)
}

// update reports done once the user picked a conversation or backed out.
func (p conversationPicker) update(msg tea.Msg) (conversationPicker, tea.Cmd, bool) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if p.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			p.selected = nil
			return p, nil, true
		case "enter":
			if i, ok := p.list.SelectedItem().(conversationItem); ok {
				conv := i.conv
				p.selected = &conv
			}
			return p, nil, true
		}
	case tea.WindowSizeMsg:
		p.setSize(msg.Width, msg.Height)
	}

	var cmd tea.Cmd
	p.list, cmd = p.list.Update(msg)
	return p, cmd, false
}

func (p conversationPicker) view() string {
	return pickerFrame.Render(p.list.View())
}
