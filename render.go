package main

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	markdown "github.com/vlanse/go-term-markdown"

	"github.com/kir-gadjello/llm-council/council"
)

var (
	stageStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("171"))
	modelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).Background(lipgloss.Color("#7D56F4")).Padding(0, 1)
)

var markdownCache = struct {
	sync.Mutex
	cache map[string]string
}{cache: make(map[string]string)}

var hardBreakRe = regexp.MustCompile(`(?m:^(  |\z)|\n)`)

type renderOptions struct {
	Markdown bool
	Width    int
	Padding  int
	// Full includes every member's answer and review, not only rankings.
	Full bool
}

func (o renderOptions) render(content string) string {
	content = strings.TrimRight(content, " \t\r\n")
	if !o.Markdown {
		return content
	}

	key := fmt.Sprintf("%s__%d__%d", content, o.Width, o.Padding)
	markdownCache.Lock()
	defer markdownCache.Unlock()
	if cached, ok := markdownCache.cache[key]; ok {
		return cached
	}
	rendered := strings.TrimRight(string(markdown.Render(content, o.Width, o.Padding)), " \t\r\n")
	markdownCache.cache[key] = rendered
	return rendered
}

// keepLineBreaks makes single newlines in user text survive markdown.
func keepLineBreaks(content string) string {
	return hardBreakRe.ReplaceAllStringFunc(content, func(match string) string {
		if strings.HasPrefix(match, "  ") || match == "\n" {
			return match
		}
		return "  \n"
	})
}

func stageLabel(stage int) string {
	switch stage {
	case 1:
		return "Stage 1: collecting individual responses"
	case 2:
		return "Stage 2: peer review and ranking"
	case 3:
		return "Stage 3: chairman is synthesizing"
	default:
		return "Waiting for the council"
	}
}

func formatStage1(results []council.Stage1Result, o renderOptions) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", stageStyle.Render(fmt.Sprintf("Stage 1 · %d individual responses", len(results))))
	for _, r := range results {
		if !o.Full {
			fmt.Fprintf(&sb, "  %s %s\n", modelStyle.Render(r.Model), dimStyle.Render(fmt.Sprintf("(%d chars)", len([]rune(r.Response)))))
			continue
		}
		fmt.Fprintf(&sb, "\n%s\n%s\n", modelStyle.Render("▸ "+r.Model), o.render(r.Response))
	}
	return sb.String()
}

// deanonymize maps "Response A" style labels back to model names.
func deanonymize(label string, md *council.Metadata) string {
	if md == nil {
		return label
	}
	if model, ok := md.LabelToModel[label]; ok {
		return fmt.Sprintf("%s (%s)", label, model)
	}
	return label
}

func formatStage2(results []council.Stage2Result, md *council.Metadata, o renderOptions) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", stageStyle.Render("Stage 2 · Peer rankings"))
	for _, r := range results {
		fmt.Fprintf(&sb, "  %s\n", modelStyle.Render(r.Model))
		for i, label := range r.Ranking {
			fmt.Fprintf(&sb, "    %d. %s\n", i+1, deanonymize(label, md))
		}
		if o.Full && r.Evaluation != "" {
			fmt.Fprintf(&sb, "%s\n", o.render(r.Evaluation))
		}
	}

	if md != nil && len(md.AggregateRankings) > 0 {
		ranks := append([]council.AggregateRank(nil), md.AggregateRankings...)
		sort.SliceStable(ranks, func(i, j int) bool { return ranks[i].AverageRank < ranks[j].AverageRank })

		fmt.Fprintf(&sb, "  %s\n", dimStyle.Render("Aggregate (lower is better)"))
		for i, r := range ranks {
			votes := ""
			if r.RankingsCount > 0 {
				votes = fmt.Sprintf(", %d votes", r.RankingsCount)
			}
			fmt.Fprintf(&sb, "    %d. %s  avg %.2f%s\n", i+1, r.Model, r.AverageRank, votes)
		}
	}
	return sb.String()
}

func formatStage3(result *council.Stage3Result, o renderOptions) string {
	header := "Stage 3 · Final answer"
	if result.Model != "" {
		header += " (" + result.Model + ")"
	}
	return fmt.Sprintf("%s\n%s\n", stageStyle.Render(header), o.render(result.Response))
}

// formatTurn renders whatever stages the turn holds, in stage order.
func formatTurn(t *council.Turn, o renderOptions) string {
	if t == nil {
		return ""
	}
	var parts []string
	if len(t.Stage1) > 0 {
		parts = append(parts, formatStage1(t.Stage1, o))
	}
	if len(t.Stage2) > 0 || (t.Metadata != nil && len(t.Metadata.AggregateRankings) > 0) {
		parts = append(parts, formatStage2(t.Stage2, t.Metadata, o))
	}
	if t.Stage3 != nil {
		parts = append(parts, formatStage3(t.Stage3, o))
	}
	return strings.Join(parts, "\n")
}

func formatMessage(msg council.Message, o renderOptions) string {
	switch msg.Kind {
	case council.KindUser:
		return fmt.Sprintf("%s\n%s\n", userStyle.Render("### USER:"), o.render(keepLineBreaks(msg.Content)))
	case council.KindCouncil:
		return formatTurn(msg.Turn, o)
	default:
		return fmt.Sprintf("%s\n%s\n", modelStyle.Render("### ASSISTANT:"), o.render(msg.Content))
	}
}

// formatMessageLog renders a conversation. suffix is appended after the
// last entry, typically a spinner.
func formatMessageLog(msgs []council.Message, o renderOptions, suffix string) string {
	var ret strings.Builder
	for _, msg := range msgs {
		ret.WriteString(strings.TrimRight(formatMessage(msg, o), "\n"))
		ret.WriteString("\n\n")
	}
	if suffix != "" {
		ret.WriteString(suffix)
		ret.WriteString("\n")
	}
	return ret.String()
}
