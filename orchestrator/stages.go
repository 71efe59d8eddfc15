package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/arkestra-ai/arkestra/budget"
	"github.com/arkestra-ai/arkestra/core"
	"github.com/arkestra-ai/arkestra/logging"
	"github.com/arkestra-ai/arkestra/mood"
)

// runJunior invokes the junior stage until a directive parses or the retry
// budget is spent. Exhaustion yields the default directive: no tools, no
// retrieval, neutral style.
func (o *Orchestrator) runJunior(ctx context.Context, log *logging.PipelineLogger, calls *callBudget, brief core.EnvBrief, history []core.Message, text string) core.JuniorDirective {
	slog := log.WithStage("run_junior")
	prompt := buildJuniorPrompt(brief, history, text)

	for attempt := 1; attempt <= o.maxRetries+1; attempt++ {
		raw, err := o.invoke(ctx, calls, o.junior, "junior", attempt, core.PromptRequest{
			Role:   "junior",
			System: juniorSystem,
			Prompt: prompt,
		})
		if err != nil {
			slog.Warn("junior invocation failed", "attempt", attempt, "error", err)
			continue
		}
		directive, err := parseJuniorDirective(raw)
		if err != nil {
			slog.Warn("junior output rejected", "attempt", attempt, "error", err)
			prompt = prompt + "\n\n" + juniorCorrectionHint
			continue
		}
		return directive
	}

	slog.Warn("junior retries exhausted, using default directive")
	return core.JuniorDirective{Intent: "chat"}
}

// runSenior invokes the senior stage until its output parses or the retry
// budget is spent. The boolean reports whether the fallback apology was
// synthesized.
func (o *Orchestrator) runSenior(ctx context.Context, log *logging.PipelineLogger, calls *callBudget, style mood.StyleParams, directive core.JuniorDirective, kind string, trimmed budget.Result, text string) (core.SeniorOutput, bool) {
	slog := log.WithStage("run_senior")
	prompt := buildSeniorPrompt(directive, kind, trimmed, o.registry.Catalog(), text)
	req := core.PromptRequest{
		Role:        "senior",
		System:      seniorSystem,
		Temperature: style.Temperature,
		MaxTokens:   style.MaxTokens,
	}

	for attempt := 1; attempt <= o.maxRetries+1; attempt++ {
		req.Prompt = prompt
		raw, err := o.invoke(ctx, calls, o.senior, "senior", attempt, req)
		if err != nil {
			slog.Warn("senior invocation failed", "attempt", attempt, "error", err)
			continue
		}
		out, err := core.ParseSeniorOutput(raw)
		if err != nil {
			slog.Warn("senior output rejected", "attempt", attempt, "error", err)
			prompt = prompt + "\n\n" + seniorCorrectionHint
			continue
		}
		return out, false
	}

	slog.Warn("senior retries exhausted, falling back")
	return core.SeniorOutput{Text: FallbackApology}, true
}

// refineSenior re-invokes the senior stage once with tool results appended.
// The boolean reports whether the refined output should replace the original
// text; any failure keeps the pre-refine text.
func (o *Orchestrator) refineSenior(ctx context.Context, log *logging.PipelineLogger, calls *callBudget, style mood.StyleParams, prior core.SeniorOutput, results []core.ToolResult) (core.SeniorOutput, bool) {
	slog := log.WithStage("refine_senior")
	raw, err := o.invoke(ctx, calls, o.senior, "senior", 1, core.PromptRequest{
		Role:        "senior",
		System:      seniorSystem,
		Prompt:      buildRefinePrompt(prior, results),
		Temperature: style.Temperature,
		MaxTokens:   style.MaxTokens,
	})
	if err != nil {
		slog.Warn("refine invocation failed, keeping original text", "error", err)
		return core.SeniorOutput{}, false
	}
	out, err := core.ParseSeniorOutput(raw)
	if err != nil {
		slog.Warn("refine output rejected, keeping original text", "error", err)
		return core.SeniorOutput{}, false
	}
	return out, true
}

// parseJuniorDirective decodes the junior stage's raw reply, rejecting
// unknown fields. A missing intent defaults to "chat".
func parseJuniorDirective(raw string) (core.JuniorDirective, error) {
	var d core.JuniorDirective
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return core.JuniorDirective{}, &core.ParseError{Stage: "junior", Raw: raw, Err: err}
	}
	if d.Intent == "" {
		d.Intent = "chat"
	}
	return d, nil
}
