package render

import (
	"fmt"
	"strings"

	"github.com/tnglemongrass/deltamerge/internal/llm"
	"github.com/tnglemongrass/deltamerge/internal/rank"
	"github.com/tnglemongrass/deltamerge/internal/reasoning"
)

// Snapshot formats a merged chunk as markdown.
func Snapshot(c *llm.Chunk) string {
	if c == nil {
		return "_no chunks yet_\n"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", orDash(c.ID))
	fmt.Fprintf(&sb, "model `%s`, created %d\n", orDash(c.Model), c.Created)

	for _, ch := range c.Choices {
		fmt.Fprintf(&sb, "\n## Choice %d\n\n", ch.Index)
		if role, ok := ch.Delta.Role.Get(); ok {
			fmt.Fprintf(&sb, "- role: %s\n", role)
		}
		fmt.Fprintf(&sb, "- finish reason: %s\n", ch.FinishReason)
		if text, ok := ch.Delta.Content.Get(); ok && text != "" {
			fmt.Fprintf(&sb, "\n%s\n", text)
		}
		if text, ok := ch.Delta.Refusal.Get(); ok && text != "" {
			fmt.Fprintf(&sb, "\n> refusal: %s\n", text)
		}
		if calls, ok := ch.Delta.ToolCalls.Get(); ok && len(calls) > 0 {
			sb.WriteString("\n### Tool calls\n\n")
			for _, tc := range calls {
				fn := tc.Function.Or(llm.FunctionCall{})
				fmt.Fprintf(&sb, "- [%d] `%s` id=%s\n", tc.Index, fn.Name.Or("?"), tc.ID)
				if args, ok := fn.Arguments.Get(); ok && args != "" {
					fmt.Fprintf(&sb, "\n  ```json\n  %s\n  ```\n", args)
				}
			}
		}
		if images, ok := ch.Delta.Images.Get(); ok {
			fmt.Fprintf(&sb, "\n_%d image(s)_\n", len(images))
		}
		if lp, ok := ch.Logprobs.Get(); ok {
			fmt.Fprintf(&sb, "\n_%d token logprob(s)_\n", len(lp.Content.Or(nil)))
		}
	}

	if u, ok := c.Usage.Get(); ok {
		sb.WriteString("\n## Usage\n\n| prompt | completion | total |\n|---|---|---|\n")
		fmt.Fprintf(&sb, "| %d | %d | %d |\n", u.PromptTokens, u.CompletionTokens, u.TotalTokens)
		if cost, ok := u.Cost.Get(); ok {
			fmt.Fprintf(&sb, "\ncost: %.6f\n", cost)
		}
	}
	return sb.String()
}

// Summary formats a ranked summary as a markdown table.
func Summary(s rank.Summary) string {
	var sb strings.Builder
	sb.WriteString("| choice | confidence | votes |\n|---|---|---|\n")
	for _, c := range s.Choices {
		fmt.Fprintf(&sb, "| %s | %.3f | %d |\n", orDash(c.ID), c.Confidence, len(c.Reasoning))
	}
	if s.WinnerID == "" {
		sb.WriteString("\nno winner\n")
	} else {
		fmt.Fprintf(&sb, "\nwinner: **%s** (%.3f)\n", s.WinnerID, s.WinnerConfidence)
	}
	return sb.String()
}

// Record formats one decoded side-channel record as a markdown list item.
func Record(r reasoning.Record) string {
	switch l := r.Line.(type) {
	case *reasoning.ToolCallMessage:
		names := make([]string, 0, len(l.ToolCalls))
		for _, tc := range l.ToolCalls {
			names = append(names, tc.Function.Or(llm.FunctionCall{}).Name.Or("?"))
		}
		return fmt.Sprintf("- [%d] tool call: %s\n", r.ChoiceIndex, strings.Join(names, ", "))
	case *reasoning.ToolResponseChunk:
		if l.Err != nil {
			return fmt.Sprintf("- [%d] tool response `%s` failed: %s\n", r.ChoiceIndex, l.ToolCallID, l.Err.Message)
		}
		text := ""
		if l.State != nil {
			if ch, ok := l.State.Choice(0); ok {
				text = ch.Delta.Content.Or("")
			}
		}
		return fmt.Sprintf("- [%d] tool response `%s` so far: %q\n", r.ChoiceIndex, l.ToolCallID, text)
	case *reasoning.ToolResponseMessage:
		return fmt.Sprintf("- [%d] tool response `%s`: %q\n", r.ChoiceIndex, l.ToolCallID, l.Content)
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
