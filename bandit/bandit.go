// Package bandit implements epsilon-greedy suggestion selection over
// (intent, suggestion kind) arms. Arms persist across sessions; updates from
// concurrent pipelines are applied atomically per arm key.
package bandit

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/arkestra-ai/arkestra/core"
)

// Reward bounds. Feedback maps onto this range: up = +1, down = -1.
const (
	RewardMin = -1.0
	RewardMax = +1.0
)

// DefaultEpsilon is the stock exploration rate.
const DefaultEpsilon = 0.1

// DefaultDecay is the daily decay factor applied to trial counts at
// consolidation, keeping old evidence from dominating forever.
const DefaultDecay = 0.995

// Key identifies one arm.
type Key struct {
	Intent string
	Kind   string
}

type arm struct {
	mu     sync.Mutex
	trials int
	mean   float64
}

// Selector is a thread-safe epsilon-greedy bandit. The arm table is guarded
// by a read lock for lookup; each arm carries its own mutex so concurrent
// updates to unrelated arms never contend.
type Selector struct {
	mu   sync.RWMutex
	arms map[Key]*arm
	rng  *rand.Rand
	rmu  sync.Mutex // rng is not safe for concurrent use
}

// NewSelector creates an empty selector. Pass a seed via WithSeed for
// reproducible exploration in tests.
func NewSelector(optFns ...func(o *Options)) *Selector {
	opts := Options{Seed: time.Now().UnixNano()}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Selector{
		arms: make(map[Key]*arm),
		rng:  rand.New(rand.NewSource(opts.Seed)),
	}
}

// Options configures a Selector.
type Options struct {
	Seed int64
}

// WithSeed fixes the exploration RNG seed.
func WithSeed(seed int64) func(o *Options) {
	return func(o *Options) { o.Seed = seed }
}

// Pick selects one of candidateKinds for the intent. With probability epsilon
// it explores uniformly at random; otherwise it exploits the highest mean
// reward, breaking ties by lowest trial count (prefer under-explored arms)
// and then by lexical order of kind. An empty candidate list returns "".
func (s *Selector) Pick(intent string, candidateKinds []string, epsilon float64) string {
	if len(candidateKinds) == 0 {
		return ""
	}
	if len(candidateKinds) == 1 {
		return candidateKinds[0]
	}

	if epsilon > 0 {
		s.rmu.Lock()
		explore := s.rng.Float64() < epsilon
		var idx int
		if explore {
			idx = s.rng.Intn(len(candidateKinds))
		}
		s.rmu.Unlock()
		if explore {
			return candidateKinds[idx]
		}
	}

	// Deterministic exploitation: sort a copy so caller order never leaks
	// into tie-breaking.
	kinds := append([]string(nil), candidateKinds...)
	sort.Strings(kinds)

	best := kinds[0]
	bestTrials, bestMean := s.stats(intent, best)
	for _, kind := range kinds[1:] {
		trials, mean := s.stats(intent, kind)
		if mean > bestMean || (mean == bestMean && trials < bestTrials) {
			best, bestTrials, bestMean = kind, trials, mean
		}
	}
	return best
}

func (s *Selector) stats(intent, kind string) (int, float64) {
	s.mu.RLock()
	a, ok := s.arms[Key{Intent: intent, Kind: kind}]
	s.mu.RUnlock()
	if !ok {
		return 0, 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.trials, a.mean
}

func (s *Selector) armFor(key Key) *arm {
	s.mu.RLock()
	a, ok := s.arms[key]
	s.mu.RUnlock()
	if ok {
		return a
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok = s.arms[key]; ok {
		return a
	}
	a = &arm{}
	s.arms[key] = a
	return a
}

// Update applies one observed reward to the (intent, kind) arm using the
// incremental mean. Unknown arms are created on first update. The reward is
// clamped to [RewardMin, RewardMax].
func (s *Selector) Update(intent, kind string, reward float64) {
	if reward < RewardMin {
		reward = RewardMin
	}
	if reward > RewardMax {
		reward = RewardMax
	}
	a := s.armFor(Key{Intent: intent, Kind: kind})
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mean += (reward - a.mean) / float64(a.trials+1)
	a.trials++
}

// Decay scales every arm's trial count by the factor, flooring at zero.
// Called from the sleep-consolidation job, which holds exclusive access, so
// per-arm locking here is belt and braces.
func (s *Selector) Decay(factor float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.arms {
		a.mu.Lock()
		a.trials = int(float64(a.trials) * factor)
		a.mu.Unlock()
	}
}

// Snapshot exports all arms in deterministic (intent, kind) order.
func (s *Selector) Snapshot() []core.ArmState {
	s.mu.RLock()
	keys := make([]Key, 0, len(s.arms))
	for k := range s.arms {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Intent != keys[j].Intent {
			return keys[i].Intent < keys[j].Intent
		}
		return keys[i].Kind < keys[j].Kind
	})

	out := make([]core.ArmState, 0, len(keys))
	now := time.Now().UTC()
	for _, k := range keys {
		trials, mean := s.stats(k.Intent, k.Kind)
		out = append(out, core.ArmState{
			Intent:     k.Intent,
			Kind:       k.Kind,
			Trials:     trials,
			MeanReward: mean,
			UpdatedAt:  now,
		})
	}
	return out
}

// Restore replaces the arm table with persisted state.
func (s *Selector) Restore(arms []core.ArmState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arms = make(map[Key]*arm, len(arms))
	for _, st := range arms {
		trials := st.Trials
		if trials < 0 {
			trials = 0
		}
		s.arms[Key{Intent: st.Intent, Kind: st.Kind}] = &arm{trials: trials, mean: st.MeanReward}
	}
}
