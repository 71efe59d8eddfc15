// Package arkestra provides a high-level façade over the two-tier
// conversation pipeline: the junior routing stage, mood-aware style shaping,
// tiered retrieval, the senior answering stage, concurrent tool dispatch and
// output guarding. Most applications interact with this package by:
//  1. Creating an Arkestra via New() with two model backends (optionally
//     overriding the default in-memory store and registering tools)
//  2. Handling user messages with Chat()
//  3. Running Sleep() on a schedule to consolidate memory tiers
//
// The façade delegates the per-message state machine to
// orchestrator.Orchestrator. All defaults are safe for local development;
// production deployments typically supply the SQLite store, a retrieval
// router and a structured logger.
package arkestra

import (
	"context"

	"github.com/arkestra-ai/arkestra/consolidation"
	"github.com/arkestra-ai/arkestra/core"
	"github.com/arkestra-ai/arkestra/logging"
	"github.com/arkestra-ai/arkestra/mood"
	"github.com/arkestra-ai/arkestra/orchestrator"
	"github.com/arkestra-ai/arkestra/retrieval"
	"github.com/arkestra-ai/arkestra/store"
	"github.com/arkestra-ai/arkestra/tool"
)

// Options configures the Arkestra instance.
type Options struct {
	// Store defaults to the in-memory implementation.
	Store core.ConsolidationStore

	// Tools is the registry exposed to the senior stage. Defaults to the
	// bundled tools wired against Store when it provides their surfaces.
	Tools *tool.Registry

	// Router enables retrieval. Nil skips the Retrieve stage.
	Router *retrieval.Router

	// Persona seeds per-session mood profiles.
	Persona mood.Profile

	// Summarizer condenses days during sleep consolidation. Nil falls back
	// to transcript truncation.
	Summarizer core.ModelBackend

	// Logger defaults to a stderr slog pipeline logger.
	Logger *logging.PipelineLogger

	// Orchestrator carries any further pipeline overrides.
	Orchestrator []func(o *orchestrator.Options)
}

// Arkestra aggregates the orchestrator and the sleep-consolidation runner.
type Arkestra struct {
	orc   *orchestrator.Orchestrator
	sleep *consolidation.Runner
	store core.ConsolidationStore
}

// New creates an Arkestra over the junior and senior backends with optional
// overrides. Any unset service is initialized with an in-memory
// implementation.
func New(junior, senior core.ModelBackend, optFns ...func(o *Options)) *Arkestra {
	opts := Options{
		Persona: mood.DefaultProfile(),
		Logger:  logging.NewPipelineLogger(logging.DefaultLoggerConfig()),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = store.NewInMemory()
	}
	if opts.Tools == nil {
		opts.Tools = defaultRegistry(opts.Store)
	}

	orc := orchestrator.New(junior, senior, append([]func(o *orchestrator.Options){
		func(o *orchestrator.Options) {
			o.Store = opts.Store
			o.Tools = opts.Tools
			o.Router = opts.Router
			o.Persona = opts.Persona
			o.Logger = opts.Logger
		},
	}, opts.Orchestrator...)...)

	sleep := consolidation.New(opts.Store, orc.Bandit(), orc, orc, func(o *consolidation.Options) {
		o.Summarizer = opts.Summarizer
		o.Logger = opts.Logger
	})

	return &Arkestra{orc: orc, sleep: sleep, store: opts.Store}
}

// Warm loads persisted shared state. Call once before Chat.
func (a *Arkestra) Warm(ctx context.Context) error {
	return a.orc.Warm(ctx)
}

// Chat runs the full pipeline for one user message.
func (a *Arkestra) Chat(ctx context.Context, sessionID, text string) (core.GuardedResponse, error) {
	return a.orc.Handle(ctx, sessionID, text)
}

// Feedback records a user reaction to an assistant message.
func (a *Arkestra) Feedback(ctx context.Context, fb core.Feedback) error {
	return a.orc.Feedback(ctx, fb)
}

// Sleep runs one consolidation batch with exclusive access to shared state.
func (a *Arkestra) Sleep(ctx context.Context) (core.SleepBatch, error) {
	return a.sleep.Run(ctx)
}

// Store exposes the configured persistence backend.
func (a *Arkestra) Store() core.ConsolidationStore {
	return a.store
}

// defaultRegistry wires the bundled tools against whatever narrow surfaces
// the store implements.
func defaultRegistry(st core.ConsolidationStore) *tool.Registry {
	registry := tool.NewRegistry()
	if ns, ok := st.(tool.NoteStore); ok {
		registry.Register(tool.NewNoteTool(ns))
	}
	if rs, ok := st.(tool.ReminderStore); ok {
		registry.Register(tool.NewReminderTool(rs))
	}
	if as, ok := st.(tool.AliasStore); ok {
		registry.Register(tool.NewAliasTool(as))
	}
	if ms, ok := st.(tool.MessageSearcher); ok {
		registry.Register(tool.NewSearchByDateTool(ms))
	}
	return registry
}
