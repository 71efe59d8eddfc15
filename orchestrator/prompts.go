package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arkestra-ai/arkestra/budget"
	"github.com/arkestra-ai/arkestra/core"
	"github.com/arkestra-ai/arkestra/tool"
)

const juniorSystem = `You are the routing stage of a conversational assistant.
Read the environment brief, the recent history and the new user message, then
answer with a single JSON object and nothing else:
{"intent": "...", "tools_hint": [...], "tools_request": [...], "rag_query": "...", "mood_delta": {...}, "style_directive": "..."}
Omit fields you have no value for. mood_delta maps mediator names to small
signed adjustments.`

const juniorCorrectionHint = `Your previous answer was not a single valid JSON object. Reply with exactly one JSON object matching the requested shape, with no surrounding prose.`

const seniorSystem = `You are the answering stage of a conversational assistant.
Compose the reply using the supplied context. Answer with a single JSON object
and nothing else:
{"text": "...", "tool_calls": [{"name": "...", "args": {...}}], "memory": [{"kind": "fact|note", "key": "...", "text": "..."}], "plan": [...]}
text is required and must not be empty. Only call tools from the provided
catalog.`

const seniorCorrectionHint = `Your previous answer did not parse as the required JSON object, or its text field was empty. Reply with exactly one valid JSON object in the requested shape.`

func buildJuniorPrompt(brief core.EnvBrief, history []core.Message, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Environment: channel=%s chat=%s\n", brief.Channel, brief.ChatID)
	for _, f := range brief.Facts {
		fmt.Fprintf(&b, "Known fact: %s = %s\n", f.Key, f.Value)
	}
	if len(history) > 0 {
		b.WriteString("\nRecent history:\n")
		writeHistory(&b, history)
	}
	fmt.Fprintf(&b, "\nNew user message:\n%s\n", text)
	return b.String()
}

func buildSeniorPrompt(directive core.JuniorDirective, kind string, trimmed budget.Result, catalog []tool.Descriptor, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s\nResponse kind: %s\n", directive.Intent, kind)
	if directive.StyleDirective != "" {
		fmt.Fprintf(&b, "Style directive: %s\n", directive.StyleDirective)
	}
	if len(directive.ToolsHint) > 0 {
		fmt.Fprintf(&b, "Suggested tools: %s\n", strings.Join(directive.ToolsHint, ", "))
	}

	if len(catalog) > 0 {
		b.WriteString("\nTool catalog:\n")
		for _, d := range catalog {
			fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		}
	}

	for _, meta := range trimmed.Metadata {
		fmt.Fprintf(&b, "Context: %s\n", meta)
	}
	if len(trimmed.Hits) > 0 {
		b.WriteString("\nRetrieved memory:\n")
		for _, h := range trimmed.Hits {
			fmt.Fprintf(&b, "- [%s] %s\n", h.Tier, h.Text)
		}
	}
	if len(trimmed.History) > 0 {
		b.WriteString("\nConversation:\n")
		writeHistory(&b, trimmed.History)
	}
	fmt.Fprintf(&b, "\nAnswer the user's latest message:\n%s\n", text)
	return b.String()
}

func buildRefinePrompt(prior core.SeniorOutput, results []core.ToolResult) string {
	var b strings.Builder
	b.WriteString("Your draft reply was:\n")
	b.WriteString(prior.Text)
	b.WriteString("\n\nThe requested tools have now run:\n")
	for _, r := range results {
		if r.Success {
			payload, _ := json.Marshal(r.Payload)
			fmt.Fprintf(&b, "- %s succeeded: %s\n", r.Name, payload)
		} else {
			fmt.Fprintf(&b, "- %s failed (%s): %s\n", r.Name, r.ErrorKind, r.Error)
		}
	}
	b.WriteString("\nRewrite the reply incorporating these outcomes. Do not request further tool calls.\n")
	return b.String()
}

func writeHistory(b *strings.Builder, history []core.Message) {
	for _, m := range history {
		fmt.Fprintf(b, "%s: %s\n", m.Role, m.Text)
	}
}
