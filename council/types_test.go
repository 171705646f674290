package council

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageNormalization(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Message
	}{
		{
			name: "user",
			in:   `{"role":"user","content":"hello"}`,
			want: UserMessage("hello"),
		},
		{
			name: "user with structured content",
			in:   `{"role":"user","content":{"text":"hello"}}`,
			want: UserMessage(`{"text":"hello"}`),
		},
		{
			name: "council stages",
			in:   `{"role":"assistant","stage1":[{"model":"m1","response":"a"}],"stage3":{"model":"chair","response":"b"}}`,
			want: Message{Role: RoleAssistant, Kind: KindCouncil, Turn: &Turn{
				Stage1: []Stage1Result{{Model: "m1", Response: "a"}},
				Stage3: &Stage3Result{Model: "chair", Response: "b"},
			}},
		},
		{
			name: "legacy text",
			in:   `{"role":"assistant","content":"plain answer"}`,
			want: Message{Role: RoleAssistant, Kind: KindLegacy, Content: "plain answer"},
		},
		{
			name: "content object with stage3",
			in:   `{"role":"assistant","content":{"stage3":{"model":"chair","response":"nested"}}}`,
			want: Message{Role: RoleAssistant, Kind: KindCouncil, Turn: &Turn{
				Stage3: &Stage3Result{Model: "chair", Response: "nested"},
			}},
		},
		{
			name: "content array",
			in:   `{"role":"assistant","content":[{"model":"m1","response":"only stage one"}]}`,
			want: Message{Role: RoleAssistant, Kind: KindCouncil, Turn: &Turn{
				Stage1: []Stage1Result{{Model: "m1", Response: "only stage one"}},
			}},
		},
		{
			name: "missing role and content",
			in:   `{}`,
			want: Message{Role: RoleAssistant, Kind: KindLegacy},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Message
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("message (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMessageText(t *testing.T) {
	assert.Equal(t, "hi", UserMessage("hi").Text())
	assert.Equal(t, "", CouncilMessage(&Turn{Stage1: []Stage1Result{{Model: "m1"}}}).Text())
	assert.Equal(t, "x", CouncilMessage(&Turn{Stage3: &Stage3Result{Response: "x"}}).Text())
	assert.Equal(t, "", Message{Kind: KindCouncil}.Text())
}

func TestMessageJSONShape(t *testing.T) {
	msg := CouncilMessage(&Turn{Stage3: &Stage3Result{Model: "chair", Response: "final"}})
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","stage3":{"model":"chair","response":"final"}}`, string(data))

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, KindCouncil, back.Kind)
	assert.Equal(t, "final", back.Text())
}

func TestStageNormalization(t *testing.T) {
	t.Run("stage1 map form", func(t *testing.T) {
		var got Stage1Results
		require.NoError(t, json.Unmarshal([]byte(`{"z-model":"last","a-model":"first"}`), &got))
		assert.Equal(t, Stage1Results{{Model: "a-model", Response: "first"}, {Model: "z-model", Response: "last"}}, got)
	})

	t.Run("stage2 map form", func(t *testing.T) {
		var got Stage2Results
		in := `{"m1":{"evaluation":"solid","ranking":["Response B","Response A"]}}`
		require.NoError(t, json.Unmarshal([]byte(in), &got))
		assert.Equal(t, Stage2Results{{Model: "m1", Evaluation: "solid", Ranking: []string{"Response B", "Response A"}}}, got)
	})

	t.Run("stage2 list form", func(t *testing.T) {
		var got Stage2Results
		in := `[{"model":"m1","ranking":"B beats A","parsed_ranking":["Response B","Response A"]}]`
		require.NoError(t, json.Unmarshal([]byte(in), &got))
		assert.Equal(t, Stage2Results{{Model: "m1", Evaluation: "B beats A", Ranking: []string{"Response B", "Response A"}}}, got)
	})

	t.Run("stage2 bad ranking", func(t *testing.T) {
		var got Stage2Results
		assert.Error(t, json.Unmarshal([]byte(`[{"model":"m1","ranking":42}]`), &got))
	})

	t.Run("aggregate pairs and objects", func(t *testing.T) {
		var md Metadata
		in := `{"aggregate_rankings":[["m1",1.5],{"model":"m2","average_rank":2,"rankings_count":3}]}`
		require.NoError(t, json.Unmarshal([]byte(in), &md))
		assert.Equal(t, []AggregateRank{
			{Model: "m1", AverageRank: 1.5},
			{Model: "m2", AverageRank: 2, RankingsCount: 3},
		}, md.AggregateRankings)
	})

	t.Run("aggregate pair of wrong length", func(t *testing.T) {
		var a AggregateRank
		assert.Error(t, json.Unmarshal([]byte(`["m1"]`), &a))
	})
}

func TestConversationAppend(t *testing.T) {
	var conv Conversation
	require.NoError(t, json.Unmarshal([]byte(`{"id":"c-1","title":"t","messages":[{"role":"user","content":"a"}]}`), &conv))
	assert.Equal(t, 1, conv.MessageCount)

	msgs := conv.Messages()
	msgs[0] = UserMessage("tampered")
	assert.Equal(t, "a", conv.Messages()[0].Content)

	conv.Append(UserMessage("b"), CouncilMessage(&Turn{Stage3: &Stage3Result{Response: "c"}}))
	assert.Equal(t, 3, conv.MessageCount)

	data, err := json.Marshal(&conv)
	require.NoError(t, err)
	var back Conversation
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Len(t, back.Messages(), 3)
	assert.Equal(t, "c", back.Messages()[2].Text())
}
