package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkestra-ai/arkestra/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "arkestra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_MessageRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	id1, err := s.AppendMessage(ctx, core.Message{SessionID: "s1", Role: "user", Text: "hello", CreatedAt: base})
	require.NoError(t, err)
	id2, err := s.AppendMessage(ctx, core.Message{SessionID: "s1", Role: "assistant", Text: "hi", CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	got, err := s.GetRecentMessages(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, "hi", got[1].Text)
	assert.True(t, got[0].CreatedAt.Equal(base))
}

func TestSQLite_RecentLimitDropsOldest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		_, err := s.AppendMessage(ctx, core.Message{SessionID: "s1", Role: "user", Text: text})
		require.NoError(t, err)
	}
	got, err := s.GetRecentMessages(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Text)
	assert.Equal(t, "c", got[1].Text)
}

func TestSQLite_EnvBrief(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	brief, err := s.GetEnvBrief(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "cli", brief.Channel)

	seed := core.EnvBrief{
		Channel: "chat",
		ChatID:  "room-7",
		Facts: []core.EnvFact{
			{Key: "name", Value: "Sam", Importance: 0.9},
			{Key: "tz", Value: "UTC", Importance: 0.2},
			{Key: "lang", Value: "en", Importance: 0.5},
			{Key: "job", Value: "dev", Importance: 0.4},
			{Key: "pet", Value: "cat", Importance: 0.3},
			{Key: "car", Value: "none", Importance: 0.1},
		},
	}
	require.NoError(t, s.PutEnvBrief(ctx, "s1", seed))

	brief, err = s.GetEnvBrief(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "chat", brief.Channel)
	assert.Equal(t, "room-7", brief.ChatID)
	require.Len(t, brief.Facts, 5, "only the five most important facts surface")
	assert.Equal(t, "name", brief.Facts[0].Key)
}

func TestSQLite_BanditStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	arms := []core.ArmState{
		{Intent: "smalltalk", Kind: "short", Trials: 3, MeanReward: 0.25, UpdatedAt: now},
		{Intent: "task", Kind: "detailed", Trials: 1, MeanReward: -1, UpdatedAt: now},
	}
	require.NoError(t, s.SaveBanditState(ctx, arms))

	got, err := s.LoadBanditState(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "smalltalk", got[0].Intent)
	assert.InDelta(t, 0.25, got[0].MeanReward, 1e-9)
	assert.True(t, got[0].UpdatedAt.Equal(now))

	// Save replaces, never appends.
	require.NoError(t, s.SaveBanditState(ctx, arms[:1]))
	got, err = s.LoadBanditState(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLite_MoodProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	profile := map[string]core.MediatorState{
		"dopamine":  {Min: 1, Base: 6, Max: 11, Current: 7.25},
		"serotonin": {Min: 1, Base: 6, Max: 11, Current: 5},
	}
	require.NoError(t, s.SaveMoodProfile(ctx, "s1", profile))

	got, err := s.LoadMoodProfile(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, profile, got)

	profile["dopamine"] = core.MediatorState{Min: 1, Base: 6, Max: 11, Current: 9}
	require.NoError(t, s.SaveMoodProfile(ctx, "s1", profile))
	got, err = s.LoadMoodProfile(ctx, "s1")
	require.NoError(t, err)
	assert.InDelta(t, 9, got["dopamine"].Current, 1e-9)
}

func TestSQLite_MemoryWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMemoryWrite(ctx, "s1", core.MemoryWrite{Kind: "fact", Key: "birthday", Text: "March 3"}))
	require.NoError(t, s.SaveMemoryWrite(ctx, "s1", core.MemoryWrite{Kind: "note", Text: "prefers tea"}))

	var facts, notes int
	require.NoError(t, s.DB().QueryRow(`SELECT count(*) FROM facts`).Scan(&facts))
	require.NoError(t, s.DB().QueryRow(`SELECT count(*) FROM notes`).Scan(&notes))
	assert.Equal(t, 1, facts)
	assert.Equal(t, 1, notes)
}

func TestSQLite_ToolSurfaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.AddNote(ctx, "s1", "buy milk", []string{"errand", "food"})
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = s.CreateReminder(ctx, "s1", "standup", time.Now().Add(time.Hour), "cli")
	require.NoError(t, err)

	require.NoError(t, s.SetAlias(ctx, "s1", "Cap", true, ""))
	require.NoError(t, s.SetAlias(ctx, "s1", "Captain", true, "formal"))

	var primaries int
	require.NoError(t, s.DB().QueryRow(
		`SELECT count(*) FROM aliases WHERE session_id = 's1' AND is_primary = 1`).Scan(&primaries))
	assert.Equal(t, 1, primaries)
}

func TestSQLite_MessagesByDate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AppendMessage(ctx, core.Message{SessionID: "s1", Role: "user", Text: "day one", CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, core.Message{SessionID: "s1", Role: "user", Text: "day two", CreatedAt: time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	got, err := s.MessagesByDate(ctx, "s1", "2025-03-01")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "day one", got[0].Text)
}

func TestSQLite_ConsolidationFlow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wm, err := s.LastSleepWatermark(ctx)
	require.NoError(t, err)
	assert.True(t, wm.IsZero())

	t1 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	_, err = s.AppendMessage(ctx, core.Message{SessionID: "s1", Role: "user", Text: "old", CreatedAt: t1})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, core.Message{SessionID: "s2", Role: "user", Text: "new", CreatedAt: t2})
	require.NoError(t, err)

	since, err := s.MessagesSince(ctx, t1)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "new", since[0].Text)

	require.NoError(t, s.SaveDaySummary(ctx, core.DaySummary{Date: "2025-03-01", BatchID: "b1", Text: "first day"}))
	require.NoError(t, s.SaveDaySummary(ctx, core.DaySummary{Date: "2025-03-02", BatchID: "b1", Text: "second day"}))

	n, err := s.PromoteAgedSummaries(ctx, "2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var longText string
	require.NoError(t, s.DB().QueryRow(`SELECT text FROM long_days WHERE date = '2025-03-01'`).Scan(&longText))
	assert.Equal(t, "first day", longText)

	var tempLeft int
	require.NoError(t, s.DB().QueryRow(`SELECT count(*) FROM day_summaries`).Scan(&tempLeft))
	assert.Equal(t, 1, tempLeft)

	finished := time.Date(2025, 3, 3, 4, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordSleepBatch(ctx, core.SleepBatch{
		ID: "b1", StartedAt: finished.Add(-time.Minute), FinishedAt: finished,
		FromSeen: t1, ToSeen: t2, Processed: 2, Status: "ok",
	}))
	require.NoError(t, s.RecordSleepBatch(ctx, core.SleepBatch{
		ID: "b2", StartedAt: finished, FinishedAt: finished.Add(time.Hour),
		FromSeen: t2, ToSeen: t2.Add(time.Hour), Processed: 0, Status: "error",
	}))

	wm, err = s.LastSleepWatermark(ctx)
	require.NoError(t, err)
	assert.True(t, wm.Equal(t2), "failed batches must not advance the watermark")
}
