package core

import (
	"encoding/json"
	"strings"
	"time"
)

// Message is a single persisted conversation turn.
type Message struct {
	ID        int64     `json:"id,omitempty"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// EnvBrief is the environment-awareness block assembled at the start of every
// pipeline run: which channel the conversation happens on and the most
// important facts known about its participants.
type EnvBrief struct {
	Channel string    `json:"channel"`
	ChatID  string    `json:"chat_id"`
	Facts   []EnvFact `json:"participants_facts,omitempty"`
}

// EnvFact is a single keyed observation about a conversation environment.
type EnvFact struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Importance float64 `json:"importance"`
}

// Tier identifies a retrieval retention horizon. Short holds raw recent
// material, Temp holds day-level consolidations, Long holds aged summaries.
type Tier string

const (
	TierShort Tier = "short"
	TierTemp  Tier = "temp"
	TierLong  Tier = "long"
)

// RetrievalHit is one scored retrieval result. Immutable once returned by the
// router.
type RetrievalHit struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Tier     Tier           `json:"tier"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// JuniorDirective is the junior stage's decision for one request: intent,
// tool hints, an optional retrieval query and an optional mood adjustment.
// Produced once per request and consumed once by the orchestrator.
type JuniorDirective struct {
	Intent         string             `json:"intent"`
	ToolsHint      []string           `json:"tools_hint,omitempty"`
	ToolsRequest   []string           `json:"tools_request,omitempty"`
	RetrievalQuery string             `json:"rag_query,omitempty"`
	MoodDelta      map[string]float64 `json:"mood_delta,omitempty"`
	StyleDirective string             `json:"style_directive,omitempty"`
}

// ToolCall is a tool invocation requested by the senior stage.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Error kinds reported in failed ToolResults.
const (
	ToolErrUnknown    = "unknown_tool"
	ToolErrValidation = "validation_error"
	ToolErrExecution  = "execution_error"
	ToolErrTimeout    = "timeout"
	ToolErrPanic      = "panic"
	ToolErrCanceled   = "canceled"
)

// ToolResult is the outcome of a single tool call. Exactly one result is
// produced per requested call, in request order. Failed calls carry an
// ErrorKind constant and leave Payload nil.
type ToolResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Payload   any    `json:"payload,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// MemoryWrite is a fact or note the senior stage asked to remember.
type MemoryWrite struct {
	Kind string `json:"kind"` // "fact" or "note"
	Key  string `json:"key,omitempty"`
	Text string `json:"text"`
}

// SeniorOutput is the senior stage's structured reply. It must parse strictly
// from the stage's raw output; a failed parse is recoverable via a bounded
// re-prompt (see orchestrator).
type SeniorOutput struct {
	Text         string        `json:"text"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	MemoryWrites []MemoryWrite `json:"memory,omitempty"`
	Plan         []string      `json:"plan,omitempty"`
}

// ParseSeniorOutput decodes a raw senior reply, rejecting unknown fields and
// empty text so that malformed model output is caught before it reaches the
// user.
func ParseSeniorOutput(raw string) (SeniorOutput, error) {
	var out SeniorOutput
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return SeniorOutput{}, &ParseError{Stage: "senior", Raw: raw, Err: err}
	}
	if out.Text == "" {
		return SeniorOutput{}, &ParseError{Stage: "senior", Raw: raw, Err: ErrEmptyText}
	}
	return out, nil
}

// GuardedResponse is the pipeline's terminal artifact: sanitized text plus
// the tool results and memory writes produced along the way.
type GuardedResponse struct {
	Text         string        `json:"text"`
	ToolResults  []ToolResult  `json:"tool_results"`
	MemoryWrites []MemoryWrite `json:"memory_writes"`
	Fallback     bool          `json:"fallback,omitempty"`
}

// BudgetPlan records the token allocation chosen for one request. The
// allocator guarantees HistoryTokens+RetrievalTokens+MetadataTokens never
// exceeds the configured maximum.
type BudgetPlan struct {
	HistoryTokens   int `json:"history_tokens"`
	RetrievalTokens int `json:"retrieval_tokens"`
	MetadataTokens  int `json:"metadata_tokens"`
}

// Total returns the summed allocation.
func (p BudgetPlan) Total() int {
	return p.HistoryTokens + p.RetrievalTokens + p.MetadataTokens
}

// Feedback is an explicit user reaction to an assistant message. Kind is
// "up", "down" or "text"; up/down feed the bandit reward signal.
type Feedback struct {
	MessageID int64  `json:"msg_id"`
	Kind      string `json:"kind"`
	Text      string `json:"text,omitempty"`
}
