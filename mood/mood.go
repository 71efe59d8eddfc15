// Package mood holds the per-session neuromediator profile that shapes
// generation style. Ten bounded mediator levels drift with junior-stage
// directives, relax toward their base between turns, and are partially reset
// by the external sleep-consolidation job.
package mood

import (
	"sync"

	"github.com/arkestra-ai/arkestra/core"
)

// Mediator names tracked by a profile.
const (
	Dopamine       = "dopamine"
	Serotonin      = "serotonin"
	Norepinephrine = "norepinephrine"
	Acetylcholine  = "acetylcholine"
	GABA           = "gaba"
	Glutamate      = "glutamate"
	Endorphins     = "endorphins"
	Oxytocin       = "oxytocin"
	Vasopressin    = "vasopressin"
	Histamine      = "histamine"
)

// MediatorNames lists all tracked mediators in stable order.
var MediatorNames = []string{
	Dopamine, Serotonin, Norepinephrine, Acetylcholine, GABA,
	Glutamate, Endorphins, Oxytocin, Vasopressin, Histamine,
}

// Level is one mediator's bounded state. Current always stays within
// [Min, Max]; Base is the decay target.
type Level struct {
	Min     float64
	Base    float64
	Max     float64
	Current float64
}

// Profile maps mediator name to its level. Snapshot copies are safe to keep
// across pipeline stages.
type Profile map[string]Level

// Clone returns an independent copy of the profile.
func (p Profile) Clone() Profile {
	cp := make(Profile, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// Options configures a State.
type Options struct {
	// DecayFraction is how far Current moves toward Base on SleepReset,
	// in (0, 1]. 1 snaps to base; the default 0.5 halves the distance to
	// avoid discontinuous style jumps.
	DecayFraction float64

	// StepFraction is the per-turn relaxation applied by DecayStep.
	StepFraction float64
}

// DefaultOptions returns the bundled defaults.
func DefaultOptions() Options {
	return Options{DecayFraction: 0.5, StepFraction: 0.1}
}

// State owns one session's mutable mood profile. All mutations clamp to the
// mediator bounds and happen under an exclusive lock scoped to this state,
// never across unrelated sessions.
type State struct {
	mu      sync.Mutex
	profile Profile
	opts    Options
}

// NewState creates a State seeded from the given persona profile.
func NewState(seed Profile, optFns ...func(o *Options)) *State {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.DecayFraction <= 0 || opts.DecayFraction > 1 {
		opts.DecayFraction = 0.5
	}
	if seed == nil {
		seed = DefaultProfile()
	}
	return &State{profile: seed.Clone(), opts: opts}
}

// Snapshot returns a copy of the current profile.
func (s *State) Snapshot() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.Clone()
}

// ApplyDelta adjusts each named mediator's current level by the given delta,
// clamped to [Min, Max]. Unknown mediator names are ignored; out-of-range
// deltas are clamped, never rejected. Returns the resulting profile.
func (s *State) ApplyDelta(delta map[string]float64) Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, d := range delta {
		lv, ok := s.profile[name]
		if !ok {
			continue
		}
		lv.Current = clamp(lv.Current+d, lv.Min, lv.Max)
		s.profile[name] = lv
	}
	return s.profile.Clone()
}

// SetLevels sets target levels for the named mediators, clamped to bounds.
func (s *State) SetLevels(levels map[string]float64) Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, v := range levels {
		lv, ok := s.profile[name]
		if !ok {
			continue
		}
		lv.Current = clamp(v, lv.Min, lv.Max)
		s.profile[name] = lv
	}
	return s.profile.Clone()
}

// DecayStep relaxes every mediator toward its base by the configured per-turn
// step fraction.
func (s *State) DecayStep() Profile {
	return s.relax(s.opts.StepFraction)
}

// SleepReset moves every mediator's current level toward base by the
// configured decay fraction. Invoked only by the external sleep-consolidation
// collaborator, under the orchestrator's exclusive-access gate.
func (s *State) SleepReset() Profile {
	return s.relax(s.opts.DecayFraction)
}

func (s *State) relax(fraction float64) Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, lv := range s.profile {
		lv.Current = clamp(lv.Current+(lv.Base-lv.Current)*fraction, lv.Min, lv.Max)
		s.profile[name] = lv
	}
	return s.profile.Clone()
}

// Restore replaces the profile with persisted mediator state, clamping each
// level to its bounds. Mediators absent from the snapshot keep their current
// values.
func (s *State) Restore(saved map[string]core.MediatorState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, ms := range saved {
		if _, ok := s.profile[name]; !ok {
			continue
		}
		s.profile[name] = Level{
			Min:     ms.Min,
			Base:    ms.Base,
			Max:     ms.Max,
			Current: clamp(ms.Current, ms.Min, ms.Max),
		}
	}
}

// Export converts the profile into its persisted form.
func (s *State) Export() map[string]core.MediatorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]core.MediatorState, len(s.profile))
	for name, lv := range s.profile {
		out[name] = core.MediatorState{Min: lv.Min, Base: lv.Base, Max: lv.Max, Current: lv.Current}
	}
	return out
}

// DefaultProfile returns the stock persona: every mediator ranges 1..11 with
// a neutral base of 6.
func DefaultProfile() Profile {
	p := make(Profile, len(MediatorNames))
	for _, name := range MediatorNames {
		p[name] = Level{Min: 1, Base: 6, Max: 11, Current: 6}
	}
	return p
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
