package consolidation

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkestra-ai/arkestra/bandit"
	"github.com/arkestra-ai/arkestra/core"
	"github.com/arkestra-ai/arkestra/model"
	"github.com/arkestra-ai/arkestra/store"
)

type countingGate struct{ calls int }

func (g *countingGate) Quiesce(fn func() error) error {
	g.calls++
	return fn()
}

type stubResetter struct {
	calls int
	err   error
}

func (r *stubResetter) SleepResetAll(context.Context) error {
	r.calls++
	return r.err
}

func seedMessages(t *testing.T, st *store.InMemory, day time.Time, texts ...string) {
	t.Helper()
	for i, text := range texts {
		_, err := st.AppendMessage(context.Background(), core.Message{
			SessionID: "s1",
			Role:      "user",
			Text:      text,
			CreatedAt: day.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
}

func TestRun_SummarizesDaysAndAdvancesWatermark(t *testing.T) {
	st := store.NewInMemory()
	day1 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	seedMessages(t, st, day1, "hello", "how are you")
	seedMessages(t, st, day2, "next day")

	gate := &countingGate{}
	resetter := &stubResetter{}
	now := time.Date(2025, 3, 3, 4, 0, 0, 0, time.UTC)
	r := New(st, bandit.NewSelector(), gate, resetter, func(o *Options) {
		o.Now = func() time.Time { return now }
	})

	batch, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", batch.Status)
	assert.Equal(t, 3, batch.Processed)
	assert.True(t, batch.ToSeen.Equal(day2), "watermark advances to newest message")
	assert.Equal(t, 1, gate.calls)
	assert.Equal(t, 1, resetter.calls)

	sums := st.DaySummaries()
	require.Len(t, sums, 2)
	assert.Equal(t, "2025-03-01", sums[0].Date)
	assert.Contains(t, sums[0].Text, "hello")

	// Second run sees nothing new.
	batch2, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, batch2.Processed)
}

func TestRun_UsesSummarizerWhenAvailable(t *testing.T) {
	st := store.NewInMemory()
	seedMessages(t, st, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), "long rambling talk")

	summarizer := model.NewMockBackend(model.MockReply{Text: "talked about rambling"})
	r := New(st, nil, nil, nil, func(o *Options) {
		o.Summarizer = summarizer
		o.Now = func() time.Time { return time.Date(2025, 3, 2, 4, 0, 0, 0, time.UTC) }
	})

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	sums := st.DaySummaries()
	require.Len(t, sums, 1)
	assert.Equal(t, "talked about rambling", sums[0].Text)
}

func TestRun_SummarizerFailureFallsBackToTranscript(t *testing.T) {
	st := store.NewInMemory()
	seedMessages(t, st, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), "important fact")

	summarizer := model.NewMockBackend(model.MockReply{Err: errors.New("backend down")})
	r := New(st, nil, nil, nil, func(o *Options) {
		o.Summarizer = summarizer
		o.Now = func() time.Time { return time.Date(2025, 3, 2, 4, 0, 0, 0, time.UTC) }
	})

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	sums := st.DaySummaries()
	require.Len(t, sums, 1)
	assert.Contains(t, sums[0].Text, "important fact")
}

func TestRun_PromotesAgedSummaries(t *testing.T) {
	st := store.NewInMemory()
	ctx := context.Background()
	require.NoError(t, st.SaveDaySummary(ctx, core.DaySummary{Date: "2025-02-20", Text: "ancient"}))

	now := time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC)
	r := New(st, nil, nil, nil, func(o *Options) {
		o.Now = func() time.Time { return now }
	})

	_, err := r.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, "ancient", st.LongDays()["2025-02-20"])
	assert.Empty(t, st.DaySummaries())
}

func TestRun_DecaysBanditAndPersists(t *testing.T) {
	st := store.NewInMemory()
	selector := bandit.NewSelector()
	for i := 0; i < 1000; i++ {
		selector.Update("chat", "concise", 1)
	}

	r := New(st, selector, nil, nil)
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	arms, err := st.LoadBanditState(context.Background())
	require.NoError(t, err)
	require.Len(t, arms, 1)
	assert.Equal(t, 995, arms[0].Trials)
}

func TestRun_ErrorRecordsFailedBatch(t *testing.T) {
	st := store.NewInMemory()
	seedMessages(t, st, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), "hi")

	resetter := &stubResetter{err: errors.New("reset failed")}
	r := New(st, nil, nil, resetter)

	_, err := r.Run(context.Background())
	require.Error(t, err)

	batches := st.SleepBatches()
	require.Len(t, batches, 1)
	assert.Equal(t, "error", batches[0].Status)

	// The watermark must not advance past a failed batch.
	wm, err := st.LastSleepWatermark(context.Background())
	require.NoError(t, err)
	assert.True(t, wm.IsZero())
}

func TestTruncate_KeepsRuneBoundaries(t *testing.T) {
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "abcdef", truncate("abcdef", 0))

	// Cutting inside a multi-byte rune backs up to the rune start.
	s := "héllo" // 'é' occupies bytes 1 and 2
	got := truncate(s, 2)
	assert.Equal(t, "h", got)
	assert.True(t, utf8.ValidString(got))

	got = truncate("日本語", 4)
	assert.Equal(t, "日", got)
	assert.True(t, utf8.ValidString(got))
}
