package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"dataghost/internal/types"
)

// Confidence colors: green answers are trustworthy, yellow ones carry
// caveats, red means validation failed or the data could not support one.
var (
	colorHigh   = lipgloss.Color("#8BC34A")
	colorMedium = lipgloss.Color("#FFC107")
	colorLow    = lipgloss.Color("#e53935")
	colorAccent = lipgloss.Color("#2196F3")
	colorMuted  = lipgloss.Color("244")
)

type renderStyles struct {
	Headline lipgloss.Style
	Badge    lipgloss.Style
	Section  lipgloss.Style
	Muted    lipgloss.Style
	Label    lipgloss.Style
	Error    lipgloss.Style
	Prompt   lipgloss.Style
}

func newRenderStyles() renderStyles {
	return renderStyles{
		Headline: lipgloss.NewStyle().Bold(true),
		Badge:    lipgloss.NewStyle().Foreground(lipgloss.Color("#ffffff")).Padding(0, 1).Bold(true),
		Section:  lipgloss.NewStyle().Foreground(colorAccent).Bold(true),
		Muted:    lipgloss.NewStyle().Foreground(colorMuted),
		Label:    lipgloss.NewStyle().Foreground(colorAccent),
		Error:    lipgloss.NewStyle().Foreground(colorLow),
		Prompt:   lipgloss.NewStyle().Foreground(colorAccent).Bold(true),
	}
}

func confidenceColor(level types.ConfidenceLevel) lipgloss.Color {
	switch level {
	case types.ConfidenceHigh:
		return colorHigh
	case types.ConfidenceMedium:
		return colorMedium
	default:
		return colorLow
	}
}

// renderAskResult renders one pipeline result for the terminal. A width of 0
// falls back to a standalone default; the chat view passes its pane width.
func renderAskResult(res *types.AskResult, width int) string {
	if width <= 0 {
		width = 100
	}
	if width < 40 {
		width = 40
	}
	styles := newRenderStyles()

	if res.NeedsClarification {
		return renderClarifications(res, styles)
	}
	if res.Answer == nil {
		var b strings.Builder
		for _, d := range res.Diagnostics {
			b.WriteString(styles.Muted.Render(fmt.Sprintf("%s: %s", d.Code, d.Message)))
			b.WriteString("\n")
		}
		return b.String()
	}
	return renderAnswer(res.Answer, styles, width)
}

func renderClarifications(res *types.AskResult, styles renderStyles) string {
	var b strings.Builder
	b.WriteString(styles.Headline.Render("I need a bit more detail before answering."))
	b.WriteString("\n\n")
	for _, q := range res.ClarificationQuestions {
		b.WriteString(fmt.Sprintf("%s %s\n", styles.Prompt.Render("?"), q.Prompt))
		if len(q.Options) > 0 {
			b.WriteString(styles.Muted.Render("  options: " + strings.Join(q.Options, ", ")))
			b.WriteString("\n")
		}
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  answer with %s=<value>", q.Key)))
		b.WriteString("\n")
	}
	return b.String()
}

func renderAnswer(ans *types.Answer, styles renderStyles, width int) string {
	var b strings.Builder

	level := ans.Confidence.Level
	badge := styles.Badge.Background(confidenceColor(level)).Render(strings.ToUpper(string(level)))
	b.WriteString(styles.Headline.Render(ans.Headline))
	b.WriteString("  ")
	b.WriteString(badge)
	b.WriteString("\n")
	if len(ans.Confidence.Reasons) > 0 {
		b.WriteString(styles.Muted.Render(strings.Join(ans.Confidence.Reasons, "; ")))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(renderMarkdown(ans.Narrative, width))
	b.WriteString("\n")

	if len(ans.Drivers) > 0 {
		b.WriteString(styles.Section.Render("Drivers"))
		b.WriteString("\n")
		nameWidth := 0
		for _, d := range ans.Drivers {
			if len(d.Name) > nameWidth {
				nameWidth = len(d.Name)
			}
		}
		for i, d := range ans.Drivers {
			line := fmt.Sprintf("  %d. %-*s  %10s", i+1, nameWidth, d.Name, formatContribution(d.Contribution))
			b.WriteString(line)
			if ev := evidenceSummary(d.Evidence); ev != "" {
				b.WriteString("  ")
				b.WriteString(styles.Muted.Render(ev))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(ans.Charts) > 0 {
		b.WriteString(styles.Section.Render("Charts"))
		b.WriteString("\n")
		for _, c := range ans.Charts {
			b.WriteString(fmt.Sprintf("  %s %s (%d points)\n", styles.Label.Render(c.Kind), c.Title, len(c.Data)))
		}
		b.WriteString("\n")
	}

	if len(ans.SQL) > 0 {
		b.WriteString(styles.Section.Render("Queries"))
		b.WriteString("\n")
		for _, q := range ans.SQL {
			b.WriteString("  ")
			b.WriteString(styles.Label.Render(q.Label))
			b.WriteString("\n")
			for _, line := range strings.Split(q.Query, "\n") {
				b.WriteString(styles.Muted.Render("    " + line))
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	if len(ans.ContextCitations) > 0 {
		b.WriteString(styles.Section.Render("Context used"))
		b.WriteString("\n")
		for _, c := range ans.ContextCitations {
			b.WriteString(fmt.Sprintf("  %s %s\n", styles.Label.Render(c.Filename), styles.Muted.Render(fmt.Sprintf("score %.2f", c.Score))))
			if snippet := truncate(c.Snippet, 120); snippet != "" {
				b.WriteString(styles.Muted.Render("    " + snippet))
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	if len(ans.Diagnostics) > 0 {
		b.WriteString(styles.Section.Render("Notes"))
		b.WriteString("\n")
		for _, d := range ans.Diagnostics {
			b.WriteString(styles.Muted.Render(fmt.Sprintf("  %s: %s", d.Code, d.Message)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(styles.Muted.Render(costLine(ans.Cost)))
	b.WriteString("\n")
	return b.String()
}

// renderMarkdown runs the narrative through glamour, falling back to the raw
// text when the renderer cannot be built.
func renderMarkdown(text string, width int) string {
	if text == "" {
		return ""
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return text + "\n"
	}
	out, err := renderer.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

func costLine(cost types.CostSummary) string {
	if cost.Model == "" {
		return "cost: none (no model calls)"
	}
	return fmt.Sprintf("cost: %s, %d prompt + %d completion tokens, $%.4f",
		cost.Model, cost.PromptTokens, cost.CompletionTokens, cost.USD)
}

func formatContribution(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if v > 0 {
		return "+" + s
	}
	return s
}

func evidenceSummary(evidence types.Row) string {
	if len(evidence) == 0 {
		return ""
	}
	keys := make([]string, 0, len(evidence))
	for k := range evidence {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, evidence[k]))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
