package council

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// User is the account returned by the auth endpoints.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
	IsAdmin   bool   `json:"is_admin,omitempty"`
	// IsActive is only reported by the admin endpoints.
	IsActive *bool `json:"is_active,omitempty"`
}

// Active reports whether the account may log in. Accounts are active
// unless the backend says otherwise.
func (u User) Active() bool { return u.IsActive == nil || *u.IsActive }

// Stage1Result is one council member's independent answer.
type Stage1Result struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// Stage2Result is one council member's review of the anonymized answers.
type Stage2Result struct {
	Model      string   `json:"model"`
	Evaluation string   `json:"evaluation"`
	Ranking    []string `json:"ranking"`
}

// Stage3Result is the chairman's synthesis.
type Stage3Result struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// AggregateRank is a model's average position across all peer reviews.
type AggregateRank struct {
	Model         string  `json:"model"`
	AverageRank   float64 `json:"average_rank"`
	RankingsCount int     `json:"rankings_count,omitempty"`
}

// Metadata accompanies stage 2.
type Metadata struct {
	LabelToModel      map[string]string `json:"label_to_model,omitempty"`
	AggregateRankings []AggregateRank   `json:"aggregate_rankings,omitempty"`
}

// Stage1Results accepts both the list form and the {model: response} form.
type Stage1Results []Stage1Result

func (r *Stage1Results) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = nil
		return nil
	}
	if data[0] == '[' {
		var list []Stage1Result
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*r = list
		return nil
	}

	var byModel map[string]string
	if err := json.Unmarshal(data, &byModel); err != nil {
		return fmt.Errorf("stage1: %w", err)
	}
	out := make(Stage1Results, 0, len(byModel))
	for _, model := range sortedKeys(byModel) {
		out = append(out, Stage1Result{Model: model, Response: byModel[model]})
	}
	*r = out
	return nil
}

// Stage2Results accepts the list form, where "ranking" is the evaluation text
// and "parsed_ranking" the extracted labels, and the {model: {evaluation,
// ranking}} form.
type Stage2Results []Stage2Result

type stage2Wire struct {
	Model         string          `json:"model"`
	Evaluation    string          `json:"evaluation"`
	Ranking       json.RawMessage `json:"ranking"`
	ParsedRanking []string        `json:"parsed_ranking"`
}

func (w stage2Wire) normalize(model string) (Stage2Result, error) {
	res := Stage2Result{Model: w.Model, Evaluation: w.Evaluation, Ranking: w.ParsedRanking}
	if res.Model == "" {
		res.Model = model
	}
	raw := bytes.TrimSpace(w.Ranking)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return res, err
		}
		if res.Evaluation == "" {
			res.Evaluation = text
		}
	case raw[0] == '[':
		var labels []string
		if err := json.Unmarshal(raw, &labels); err != nil {
			return res, err
		}
		if len(res.Ranking) == 0 {
			res.Ranking = labels
		}
	default:
		return res, fmt.Errorf("stage2: unexpected ranking %s", truncate(string(raw), 40))
	}
	return res, nil
}

func (r *Stage2Results) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = nil
		return nil
	}
	if data[0] == '[' {
		var list []stage2Wire
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		out := make(Stage2Results, 0, len(list))
		for _, w := range list {
			res, err := w.normalize("")
			if err != nil {
				return err
			}
			out = append(out, res)
		}
		*r = out
		return nil
	}

	var byModel map[string]stage2Wire
	if err := json.Unmarshal(data, &byModel); err != nil {
		return fmt.Errorf("stage2: %w", err)
	}
	out := make(Stage2Results, 0, len(byModel))
	for _, model := range sortedKeys(byModel) {
		res, err := byModel[model].normalize(model)
		if err != nil {
			return err
		}
		out = append(out, res)
	}
	*r = out
	return nil
}

// UnmarshalJSON accepts {model, average_rank, rankings_count} objects and
// [model, average] pairs.
func (a *AggregateRank) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("aggregate rank: want [model, average], got %d items", len(pair))
		}
		if err := json.Unmarshal(pair[0], &a.Model); err != nil {
			return err
		}
		return json.Unmarshal(pair[1], &a.AverageRank)
	}

	type plain AggregateRank
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = AggregateRank(p)
	return nil
}

// Turn is the collected output of one council pipeline. Any stage may be
// missing if the backend never reported it.
type Turn struct {
	Stage1   []Stage1Result `json:"stage1,omitempty"`
	Stage2   []Stage2Result `json:"stage2,omitempty"`
	Stage3   *Stage3Result  `json:"stage3,omitempty"`
	Metadata *Metadata      `json:"metadata,omitempty"`
}

// Final returns the chairman's answer, or "" if stage 3 was never observed.
func (t *Turn) Final() string {
	if t == nil || t.Stage3 == nil {
		return ""
	}
	return t.Stage3.Response
}

func (t *Turn) clone() *Turn {
	if t == nil {
		return nil
	}
	c := &Turn{}
	if t.Stage1 != nil {
		c.Stage1 = append([]Stage1Result(nil), t.Stage1...)
	}
	if t.Stage2 != nil {
		c.Stage2 = make([]Stage2Result, len(t.Stage2))
		for i, r := range t.Stage2 {
			r.Ranking = append([]string(nil), r.Ranking...)
			c.Stage2[i] = r
		}
	}
	if t.Stage3 != nil {
		s3 := *t.Stage3
		c.Stage3 = &s3
	}
	if t.Metadata != nil {
		md := Metadata{AggregateRankings: append([]AggregateRank(nil), t.Metadata.AggregateRankings...)}
		if t.Metadata.LabelToModel != nil {
			md.LabelToModel = make(map[string]string, len(t.Metadata.LabelToModel))
			for k, v := range t.Metadata.LabelToModel {
				md.LabelToModel[k] = v
			}
		}
		c.Metadata = &md
	}
	return c
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageKind discriminates the stored message variants.
type MessageKind int

const (
	KindUser MessageKind = iota + 1
	// KindCouncil is an assistant message holding resolved stages.
	KindCouncil
	// KindLegacy is an assistant message stored as flat text.
	KindLegacy
)

// Message is one entry of a conversation. The shape is resolved once when
// decoded; nothing downstream inspects the raw JSON again.
type Message struct {
	Role    Role
	Kind    MessageKind
	Content string
	Turn    *Turn
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Kind: KindUser, Content: content}
}

func CouncilMessage(t *Turn) Message {
	return Message{Role: RoleAssistant, Kind: KindCouncil, Turn: t.clone()}
}

// Text returns what a reader would consider the message body.
func (m Message) Text() string {
	if m.Kind == KindCouncil {
		return m.Turn.Final()
	}
	return m.Content
}

type messageWire struct {
	Role     Role            `json:"role"`
	Content  json.RawMessage `json:"content,omitempty"`
	Stage1   Stage1Results   `json:"stage1,omitempty"`
	Stage2   Stage2Results   `json:"stage2,omitempty"`
	Stage3   *Stage3Result   `json:"stage3,omitempty"`
	Metadata *Metadata       `json:"metadata,omitempty"`
}

func (w messageWire) hasStages() bool {
	return w.Stage1 != nil || w.Stage2 != nil || w.Stage3 != nil
}

func (w messageWire) turn() *Turn {
	return &Turn{Stage1: w.Stage1, Stage2: w.Stage2, Stage3: w.Stage3, Metadata: w.Metadata}
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	if w.Role == RoleUser {
		var text string
		if len(w.Content) > 0 {
			if err := json.Unmarshal(w.Content, &text); err != nil {
				text = string(w.Content)
			}
		}
		*m = UserMessage(text)
		return nil
	}

	if w.Role == "" {
		w.Role = RoleAssistant
	}
	if w.hasStages() {
		*m = Message{Role: w.Role, Kind: KindCouncil, Turn: w.turn()}
		return nil
	}

	content := bytes.TrimSpace(w.Content)
	switch {
	case len(content) == 0 || bytes.Equal(content, []byte("null")):
		*m = Message{Role: w.Role, Kind: KindLegacy}
	case content[0] == '"':
		var text string
		if err := json.Unmarshal(content, &text); err != nil {
			return err
		}
		*m = Message{Role: w.Role, Kind: KindLegacy, Content: text}
	case content[0] == '{':
		var nested messageWire
		if err := json.Unmarshal(content, &nested); err != nil {
			return fmt.Errorf("assistant content: %w", err)
		}
		*m = Message{Role: w.Role, Kind: KindCouncil, Turn: nested.turn()}
	case content[0] == '[':
		var s1 Stage1Results
		if err := json.Unmarshal(content, &s1); err != nil {
			return fmt.Errorf("assistant content: %w", err)
		}
		*m = Message{Role: w.Role, Kind: KindCouncil, Turn: &Turn{Stage1: s1}}
	default:
		*m = Message{Role: w.Role, Kind: KindLegacy, Content: string(content)}
	}
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case KindCouncil:
		t := m.Turn
		if t == nil {
			t = &Turn{}
		}
		return json.Marshal(struct {
			Role Role `json:"role"`
			*Turn
		}{m.Role, t})
	default:
		return json.Marshal(struct {
			Role    Role   `json:"role"`
			Content string `json:"content"`
		}{m.Role, m.Content})
	}
}

// Conversation is the client-side view of a stored conversation. Messages
// are append-only; appended entries are never modified.
type Conversation struct {
	ID           string
	CreatedAt    string
	Title        string
	MessageCount int
	messages     []Message
}

type conversationWire struct {
	ID           string    `json:"id"`
	CreatedAt    string    `json:"created_at"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	Messages     []Message `json:"messages,omitempty"`
}

func (c *Conversation) UnmarshalJSON(data []byte) error {
	var w conversationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = Conversation{ID: w.ID, CreatedAt: w.CreatedAt, Title: w.Title, MessageCount: w.MessageCount, messages: w.Messages}
	if c.MessageCount == 0 {
		c.MessageCount = len(w.Messages)
	}
	return nil
}

func (c *Conversation) MarshalJSON() ([]byte, error) {
	return json.Marshal(conversationWire{ID: c.ID, CreatedAt: c.CreatedAt, Title: c.Title, MessageCount: c.MessageCount, Messages: c.messages})
}

// Messages returns a copy of the message list.
func (c *Conversation) Messages() []Message {
	return append([]Message(nil), c.messages...)
}

func (c *Conversation) Append(msgs ...Message) {
	c.messages = append(c.messages, msgs...)
	c.MessageCount = len(c.messages)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
