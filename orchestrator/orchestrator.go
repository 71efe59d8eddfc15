// Package orchestrator drives the per-message pipeline: brief assembly, the
// junior directive stage, mood application, retrieval, the senior output
// stage, tool dispatch, an optional refine pass and final guarding. It owns
// the state machine and its retry budgets; the leaf components never call
// each other directly.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arkestra-ai/arkestra/bandit"
	"github.com/arkestra-ai/arkestra/budget"
	"github.com/arkestra-ai/arkestra/core"
	"github.com/arkestra-ai/arkestra/dispatch"
	"github.com/arkestra-ai/arkestra/guard"
	"github.com/arkestra-ai/arkestra/logging"
	"github.com/arkestra-ai/arkestra/mood"
	"github.com/arkestra-ai/arkestra/retrieval"
	"github.com/arkestra-ai/arkestra/tool"
)

// FallbackApology is the terminal text when junior or senior retries are
// exhausted. The user always receives a GuardedResponse; worst case is this
// apology with empty tool and memory lists.
const FallbackApology = "Sorry, I'm having trouble answering right now. Please try again in a moment."

// DefaultSuggestionKinds are the response shapes the bandit arbitrates
// between when no custom set is configured.
var DefaultSuggestionKinds = []string{"concise", "detailed", "playful"}

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// Store is the persistence backend. Defaults must be provided by the
	// caller; the orchestrator does not bundle one.
	Store core.Store

	// Tools is the registry of callable tools.
	Tools *tool.Registry

	// Router performs retrieval. Nil disables the Retrieve stage.
	Router *retrieval.Router

	// Persona seeds per-session mood profiles.
	Persona mood.Profile

	// Epsilon is the bandit exploration rate.
	Epsilon float64

	// SuggestionKinds are the bandit's candidate response shapes.
	SuggestionKinds []string

	// MaxRetries bounds re-prompts per model stage. The stage runs at most
	// MaxRetries+1 times.
	MaxRetries int

	// MaxModelCalls is the hard per-run cap across both stages, a stop
	// behind the per-stage retry budgets. 0 means unlimited.
	MaxModelCalls int

	// MaxContextTokens is the prompt budget handed to the allocator.
	MaxContextTokens int

	// HistoryWindow is how many trailing messages the brief includes.
	HistoryWindow int

	// ModelTimeout bounds each backend invocation.
	ModelTimeout time.Duration

	// TokenCounter overrides the allocator's counter.
	TokenCounter budget.TokenCounter

	// MaxParallelTools and ToolTimeout configure the dispatcher.
	MaxParallelTools int
	ToolTimeout      time.Duration

	// ExtraGuardRules prepend custom masking rules to the built-ins.
	ExtraGuardRules []guard.Rule

	// Logger receives pipeline telemetry.
	Logger *logging.PipelineLogger
}

type pick struct {
	intent string
	kind   string
}

// Orchestrator coordinates one junior and one senior backend over the shared
// subsystems. Handle is safe for concurrent use by multiple sessions; the
// consolidation job acquires exclusive access through Quiesce.
type Orchestrator struct {
	junior core.ModelBackend
	senior core.ModelBackend

	store    core.Store
	registry *tool.Registry

	bandit     *bandit.Selector
	allocator  *budget.Allocator
	router     *retrieval.Router
	dispatcher *dispatch.Dispatcher
	guard      *guard.Guard
	logger     *logging.PipelineLogger

	persona          mood.Profile
	epsilon          float64
	suggestionKinds  []string
	maxRetries       int
	maxModelCalls    int
	maxContextTokens int
	historyWindow    int
	modelTimeout     time.Duration

	gate sync.RWMutex

	mu    sync.Mutex
	moods map[string]*mood.State
	picks map[int64]pick
}

// New constructs an Orchestrator over the two model stages with optional
// overrides.
func New(junior, senior core.ModelBackend, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Tools:            tool.NewRegistry(),
		Persona:          mood.DefaultProfile(),
		Epsilon:          bandit.DefaultEpsilon,
		SuggestionKinds:  DefaultSuggestionKinds,
		MaxRetries:       2,
		MaxModelCalls:    10,
		MaxContextTokens: 4096,
		HistoryWindow:    20,
		ModelTimeout:     30 * time.Second,
		MaxParallelTools: 4,
		ToolTimeout:      15 * time.Second,
		Logger:           logging.NewPipelineLogger(logging.DefaultLoggerConfig()),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	g := guard.New(guard.WithExtraRules(opts.ExtraGuardRules...))

	return &Orchestrator{
		junior:           junior,
		senior:           senior,
		store:            opts.Store,
		registry:         opts.Tools,
		bandit:           bandit.NewSelector(),
		allocator:        budget.NewAllocator(opts.TokenCounter),
		router:           opts.Router,
		dispatcher: dispatch.New(opts.Tools, func(o *dispatch.Options) {
			o.MaxParallel = opts.MaxParallelTools
			o.CallTimeout = opts.ToolTimeout
			o.Logger = opts.Logger
		}),
		guard:            g,
		logger:           opts.Logger,
		persona:          opts.Persona,
		epsilon:          opts.Epsilon,
		suggestionKinds:  opts.SuggestionKinds,
		maxRetries:       opts.MaxRetries,
		maxModelCalls:    opts.MaxModelCalls,
		maxContextTokens: opts.MaxContextTokens,
		historyWindow:    opts.HistoryWindow,
		modelTimeout:     opts.ModelTimeout,
		moods:            make(map[string]*mood.State),
		picks:            make(map[int64]pick),
	}
}

// Warm loads persisted bandit state. Call once at startup, before Handle.
func (o *Orchestrator) Warm(ctx context.Context) error {
	arms, err := o.store.LoadBanditState(ctx)
	if err != nil {
		return fmt.Errorf("load bandit state: %w", err)
	}
	o.bandit.Restore(arms)
	return nil
}

// Bandit exposes the selector for the consolidation job's snapshot and decay
// entry points.
func (o *Orchestrator) Bandit() *bandit.Selector {
	return o.bandit
}

// Handle runs the full pipeline for one user message and returns the guarded
// response. It fails with PipelineError only when every recovery option at a
// stage is exhausted or when the guard stage fails; while a consolidation
// batch holds the gate new runs queue behind it and proceed once it releases.
func (o *Orchestrator) Handle(ctx context.Context, sessionID, text string) (core.GuardedResponse, error) {
	o.gate.RLock()
	defer o.gate.RUnlock()

	if err := o.guard.Healthy(); err != nil {
		return core.GuardedResponse{}, &core.PipelineError{Stage: "guard", Err: &core.GuardError{Err: err}}
	}

	invocationID := uuid.NewString()
	log := o.logger.WithSession(sessionID, invocationID)
	calls := newCallBudget(o.maxModelCalls)

	// BuildBrief
	brief, err := o.store.GetEnvBrief(ctx, sessionID)
	if err != nil {
		return core.GuardedResponse{}, &core.PipelineError{Stage: "build_brief", Err: err}
	}
	history, err := o.store.GetRecentMessages(ctx, sessionID, o.historyWindow)
	if err != nil {
		return core.GuardedResponse{}, &core.PipelineError{Stage: "build_brief", Err: err}
	}
	userMsg := core.Message{SessionID: sessionID, Role: "user", Text: text, CreatedAt: time.Now().UTC()}
	userMsg.ID, err = o.store.AppendMessage(ctx, userMsg)
	if err != nil {
		return core.GuardedResponse{}, &core.PipelineError{Stage: "build_brief", Err: err}
	}
	history = append(history, userMsg)

	// RunJunior
	directive := o.runJunior(ctx, log, calls, brief, history, text)

	// ApplyMood
	state := o.sessionMood(ctx, sessionID)
	profile := state.ApplyDelta(directive.MoodDelta)
	style := mood.BiasToStyle(profile)

	kind := o.bandit.Pick(directive.Intent, o.suggestionKinds, o.epsilon)

	// Retrieve
	var hits []core.RetrievalHit
	if o.router != nil && directive.RetrievalQuery != "" {
		hits = o.router.Search(ctx, directive.RetrievalQuery)
	}

	trimmed := o.allocator.Trim(history, hits, briefMetadata(brief), o.maxContextTokens)
	log.WithStage("budget").Debug("prompt trimmed",
		"history_tokens", trimmed.Plan.HistoryTokens,
		"retrieval_tokens", trimmed.Plan.RetrievalTokens,
		"metadata_tokens", trimmed.Plan.MetadataTokens)

	// RunSenior / ParseSenior
	out, fellBack := o.runSenior(ctx, log, calls, style, directive, kind, trimmed, text)

	// DispatchTools
	results := []core.ToolResult{}
	if !fellBack && len(out.ToolCalls) > 0 {
		results, err = o.dispatcher.RunAll(tool.WithSession(ctx, sessionID), out.ToolCalls)
		if err != nil {
			return core.GuardedResponse{}, &core.PipelineError{Stage: "dispatch_tools", Err: err}
		}
		// RefineSenior: one extra pass so the text can incorporate tool
		// outcomes. Failure keeps the pre-refine text.
		if anyExecuted(results) {
			if refined, ok := o.refineSenior(ctx, log, calls, style, out, results); ok {
				out.Text = refined.Text
			}
		}
	}

	// Guard
	censored, guardHits := o.guard.SoftCensor(out.Text)
	if guardHits.PII > 0 || guardHits.Profanity > 0 {
		log.WithStage("guard").Info("masked sensitive content",
			"pii", guardHits.PII, "profanity", guardHits.Profanity)
	}

	resp := core.GuardedResponse{
		Text:         censored,
		ToolResults:  results,
		MemoryWrites: out.MemoryWrites,
		Fallback:     fellBack,
	}
	if resp.MemoryWrites == nil {
		resp.MemoryWrites = []core.MemoryWrite{}
	}

	// Side effects: each write attempted exactly once per successful run.
	assistantMsg := core.Message{SessionID: sessionID, Role: "assistant", Text: censored, CreatedAt: time.Now().UTC()}
	msgID, err := o.store.AppendMessage(ctx, assistantMsg)
	if err != nil {
		return core.GuardedResponse{}, &core.PipelineError{Stage: "persist", Err: err}
	}
	for _, w := range resp.MemoryWrites {
		if err := o.store.SaveMemoryWrite(ctx, sessionID, w); err != nil {
			return core.GuardedResponse{}, &core.PipelineError{Stage: "persist", Err: err}
		}
	}
	if err := o.store.SaveMoodProfile(ctx, sessionID, state.Export()); err != nil {
		return core.GuardedResponse{}, &core.PipelineError{Stage: "persist", Err: err}
	}
	o.recordPick(msgID, directive.Intent, kind)

	return resp, nil
}

// Feedback records a user reaction. Up and down votes feed the bandit arm
// that produced the reacted-to message; text feedback is stored only.
func (o *Orchestrator) Feedback(ctx context.Context, fb core.Feedback) error {
	if err := o.store.SaveFeedback(ctx, fb); err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	var reward float64
	switch fb.Kind {
	case "up":
		reward = bandit.RewardMax
	case "down":
		reward = bandit.RewardMin
	default:
		return nil
	}
	p, ok := o.pickFor(fb.MessageID)
	if !ok {
		return nil
	}
	o.bandit.Update(p.intent, p.kind, reward)
	if err := o.store.SaveBanditState(ctx, o.bandit.Snapshot()); err != nil {
		return fmt.Errorf("save bandit state: %w", err)
	}
	return nil
}

// Quiesce blocks new pipeline runs, waits for in-flight ones to drain, then
// runs fn with exclusive access to the shared mood and bandit state.
func (o *Orchestrator) Quiesce(fn func() error) error {
	o.gate.Lock()
	defer o.gate.Unlock()
	return fn()
}

// SleepResetAll relaxes every loaded session's mood toward its base and
// persists the result. Called by the consolidation job inside Quiesce.
func (o *Orchestrator) SleepResetAll(ctx context.Context) error {
	o.mu.Lock()
	states := make(map[string]*mood.State, len(o.moods))
	for sid, st := range o.moods {
		states[sid] = st
	}
	o.mu.Unlock()

	for sid, st := range states {
		st.SleepReset()
		if err := o.store.SaveMoodProfile(ctx, sid, st.Export()); err != nil {
			return fmt.Errorf("save mood profile %s: %w", sid, err)
		}
	}
	return nil
}

func (o *Orchestrator) sessionMood(ctx context.Context, sessionID string) *mood.State {
	o.mu.Lock()
	if st, ok := o.moods[sessionID]; ok {
		o.mu.Unlock()
		return st
	}
	st := mood.NewState(o.persona)
	o.moods[sessionID] = st
	o.mu.Unlock()

	saved, err := o.store.LoadMoodProfile(ctx, sessionID)
	if err != nil {
		o.logger.WithStage("apply_mood").Warn("load mood profile failed", "session_id", sessionID, "error", err)
		return st
	}
	if len(saved) > 0 {
		st.Restore(saved)
	}
	return st
}

func (o *Orchestrator) recordPick(msgID int64, intent, kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.picks[msgID] = pick{intent: intent, kind: kind}
}

func (o *Orchestrator) pickFor(msgID int64) (pick, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.picks[msgID]
	return p, ok
}

// invoke runs one backend call under the per-run call budget and timeout.
func (o *Orchestrator) invoke(ctx context.Context, calls *callBudget, backend core.ModelBackend, role string, attempt int, req core.PromptRequest) (string, error) {
	if err := calls.take(role); err != nil {
		return "", &core.ModelInvocationError{Role: role, Err: err}
	}
	callCtx, cancel := context.WithTimeout(ctx, o.modelTimeout)
	defer cancel()

	start := time.Now()
	raw, err := backend.Invoke(callCtx, req)
	o.logger.LogModelCall(role, attempt, time.Since(start), err == nil, err)
	if err != nil {
		return "", &core.ModelInvocationError{Role: role, Err: err}
	}
	return raw, nil
}

func anyExecuted(results []core.ToolResult) bool {
	for _, r := range results {
		if r.ErrorKind != core.ToolErrUnknown {
			return true
		}
	}
	return false
}

func briefMetadata(brief core.EnvBrief) []string {
	meta := []string{fmt.Sprintf("channel: %s, chat: %s", brief.Channel, brief.ChatID)}
	for _, f := range brief.Facts {
		meta = append(meta, fmt.Sprintf("%s: %s", f.Key, f.Value))
	}
	return meta
}
