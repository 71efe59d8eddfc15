package bandit

import (
	"sync"
	"testing"

	"github.com/arkestra-ai/arkestra/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateTracksCountAndMean(t *testing.T) {
	s := NewSelector(WithSeed(1))

	rewards := []float64{1, -1, 1, 1, -1, 1}
	var sum float64
	for _, r := range rewards {
		s.Update("task", "good", r)
		sum += r
	}

	trials, mean := s.stats("task", "good")
	assert.Equal(t, len(rewards), trials)
	assert.InDelta(t, sum/float64(len(rewards)), mean, 1e-9)
}

func TestUpdateCreatesUnknownArm(t *testing.T) {
	s := NewSelector(WithSeed(1))
	s.Update("chat", "mischief", -1)
	trials, mean := s.stats("chat", "mischief")
	assert.Equal(t, 1, trials)
	assert.Equal(t, -1.0, mean)
}

func TestUpdateClampsReward(t *testing.T) {
	s := NewSelector(WithSeed(1))
	s.Update("task", "good", 50)
	_, mean := s.stats("task", "good")
	assert.Equal(t, RewardMax, mean)
}

func TestPickGreedyPrefersHighestMean(t *testing.T) {
	s := NewSelector(WithSeed(1))
	// A: mean 0.8 over 5 trials; B: mean 0.9 over 1 trial.
	s.Restore([]core.ArmState{
		{Intent: "task", Kind: "A", Trials: 5, MeanReward: 0.8},
		{Intent: "task", Kind: "B", Trials: 1, MeanReward: 0.9},
	})
	assert.Equal(t, "B", s.Pick("task", []string{"A", "B"}, 0))
}

func TestPickTieBreaks(t *testing.T) {
	s := NewSelector(WithSeed(1))
	s.Restore([]core.ArmState{
		{Intent: "task", Kind: "seasoned", Trials: 9, MeanReward: 0.5},
		{Intent: "task", Kind: "fresh", Trials: 2, MeanReward: 0.5},
	})
	// Equal means: prefer the under-explored arm.
	assert.Equal(t, "fresh", s.Pick("task", []string{"seasoned", "fresh"}, 0))

	// Equal means and trials: lexical order of kind.
	s.Restore([]core.ArmState{
		{Intent: "task", Kind: "b", Trials: 3, MeanReward: 0.5},
		{Intent: "task", Kind: "a", Trials: 3, MeanReward: 0.5},
	})
	assert.Equal(t, "a", s.Pick("task", []string{"b", "a"}, 0))
}

func TestPickEdgeCases(t *testing.T) {
	s := NewSelector(WithSeed(1))
	assert.Equal(t, "", s.Pick("task", nil, 0))
	assert.Equal(t, "only", s.Pick("task", []string{"only"}, 1.0))
}

func TestPickExploreStaysWithinCandidates(t *testing.T) {
	s := NewSelector(WithSeed(42))
	candidates := []string{"x", "y", "z"}
	for i := 0; i < 200; i++ {
		got := s.Pick("task", candidates, 1.0)
		assert.Contains(t, candidates, got)
	}
}

func TestConcurrentUpdatesOneArm(t *testing.T) {
	s := NewSelector(WithSeed(1))
	const n = 500

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update("task", "good", 1)
		}()
	}
	wg.Wait()

	trials, mean := s.stats("task", "good")
	assert.Equal(t, n, trials)
	assert.InDelta(t, 1.0, mean, 1e-9)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewSelector(WithSeed(1))
	s.Update("task", "good", 1)
	s.Update("task", "good", -1)
	s.Update("chat", "mischief", 1)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	// Deterministic (intent, kind) ordering.
	assert.Equal(t, "chat", snap[0].Intent)
	assert.Equal(t, "task", snap[1].Intent)

	fresh := NewSelector(WithSeed(1))
	fresh.Restore(snap)
	assert.Equal(t, snap[0].Trials, fresh.Snapshot()[0].Trials)
	assert.InDelta(t, snap[1].MeanReward, fresh.Snapshot()[1].MeanReward, 1e-9)
}

func TestDecayScalesTrials(t *testing.T) {
	s := NewSelector(WithSeed(1))
	s.Restore([]core.ArmState{{Intent: "task", Kind: "good", Trials: 1000, MeanReward: 0.4}})
	s.Decay(DefaultDecay)
	trials, _ := s.stats("task", "good")
	assert.Equal(t, 995, trials)
}
