package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkestra-ai/arkestra/core"
	"github.com/arkestra-ai/arkestra/model"
	"github.com/arkestra-ai/arkestra/store"
	"github.com/arkestra-ai/arkestra/tool"
)

const juniorChat = `{"intent": "chat"}`

func newTestOrchestrator(t *testing.T, junior, senior core.ModelBackend, optFns ...func(o *Options)) (*Orchestrator, *store.InMemory) {
	t.Helper()
	st := store.NewInMemory()
	fns := append([]func(o *Options){func(o *Options) {
		o.Store = st
		o.Epsilon = 0
	}}, optFns...)
	return New(junior, senior, fns...), st
}

func TestHandle_HappyPath(t *testing.T) {
	junior := model.NewMockBackend(model.MockReply{Text: juniorChat})
	senior := model.NewMockBackend(model.MockReply{Text: `{"text": "hello there"}`})
	orc, st := newTestOrchestrator(t, junior, senior)

	resp, err := orc.Handle(context.Background(), "s1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Empty(t, resp.ToolResults)
	assert.False(t, resp.Fallback)

	msgs, err := st.GetRecentMessages(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestHandle_MalformedSeniorFallsBack(t *testing.T) {
	junior := model.NewMockBackend(model.MockReply{Text: juniorChat})
	senior := model.NewMockBackend(model.MockReply{Text: "not json at all"})
	orc, _ := newTestOrchestrator(t, junior, senior)

	resp, err := orc.Handle(context.Background(), "s1", "hi")
	require.NoError(t, err)
	assert.Equal(t, FallbackApology, resp.Text)
	assert.Empty(t, resp.ToolResults)
	assert.Empty(t, resp.MemoryWrites)
	assert.True(t, resp.Fallback)
	// Initial attempt plus two retries.
	assert.Equal(t, 3, senior.CallCount())
}

func TestHandle_MalformedJuniorUsesDefaultDirective(t *testing.T) {
	junior := model.NewMockBackend(model.MockReply{Text: "???"})
	senior := model.NewMockBackend(model.MockReply{Text: `{"text": "still answered"}`})
	orc, _ := newTestOrchestrator(t, junior, senior)

	resp, err := orc.Handle(context.Background(), "s1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "still answered", resp.Text)
	assert.False(t, resp.Fallback)
	assert.Equal(t, 3, junior.CallCount())
}

func TestHandle_UnknownToolStillReachesGuard(t *testing.T) {
	junior := model.NewMockBackend(model.MockReply{Text: juniorChat})
	senior := model.NewMockBackend(
		model.MockReply{Text: `{"text": "tried a tool", "tool_calls": [{"name": "foo.bar", "args": {}}]}`},
	)
	orc, _ := newTestOrchestrator(t, junior, senior)

	resp, err := orc.Handle(context.Background(), "s1", "hi")
	require.NoError(t, err)
	require.Len(t, resp.ToolResults, 1)
	assert.False(t, resp.ToolResults[0].Success)
	assert.Equal(t, core.ToolErrUnknown, resp.ToolResults[0].ErrorKind)
	assert.Equal(t, "tried a tool", resp.Text)
}

func TestHandle_ToolExecutionAndRefine(t *testing.T) {
	registry := tool.NewRegistry(tool.NewNoteTool(store.NewInMemory()))
	junior := model.NewMockBackend(model.MockReply{Text: juniorChat})
	senior := model.NewMockBackend(
		model.MockReply{Text: `{"text": "noting that", "tool_calls": [{"name": "note.add", "args": {"text": "milk"}}]}`},
		model.MockReply{Text: `{"text": "noted: milk"}`},
	)
	orc, _ := newTestOrchestrator(t, junior, senior, func(o *Options) {
		o.Tools = registry
	})

	resp, err := orc.Handle(context.Background(), "s1", "note milk")
	require.NoError(t, err)
	require.Len(t, resp.ToolResults, 1)
	assert.True(t, resp.ToolResults[0].Success)
	assert.Equal(t, "noted: milk", resp.Text, "refine pass text replaces the draft")
	assert.Equal(t, 2, senior.CallCount())
}

func TestHandle_RefineFailureKeepsDraft(t *testing.T) {
	registry := tool.NewRegistry(tool.NewNoteTool(store.NewInMemory()))
	junior := model.NewMockBackend(model.MockReply{Text: juniorChat})
	senior := model.NewMockBackend(
		model.MockReply{Text: `{"text": "draft text", "tool_calls": [{"name": "note.add", "args": {"text": "x"}}]}`},
		model.MockReply{Err: errors.New("backend down")},
	)
	orc, _ := newTestOrchestrator(t, junior, senior, func(o *Options) {
		o.Tools = registry
	})

	resp, err := orc.Handle(context.Background(), "s1", "note x")
	require.NoError(t, err)
	assert.Equal(t, "draft text", resp.Text)
}

func TestHandle_GuardMasksEmail(t *testing.T) {
	junior := model.NewMockBackend(model.MockReply{Text: juniorChat})
	senior := model.NewMockBackend(model.MockReply{Text: `{"text": "write to foo@bar.com today"}`})
	orc, _ := newTestOrchestrator(t, junior, senior)

	resp, err := orc.Handle(context.Background(), "s1", "contact?")
	require.NoError(t, err)
	assert.Equal(t, "write to [email hidden] today", resp.Text)
}

func TestHandle_MemoryWritesPersisted(t *testing.T) {
	junior := model.NewMockBackend(model.MockReply{Text: juniorChat})
	senior := model.NewMockBackend(
		model.MockReply{Text: `{"text": "remembered", "memory": [{"kind": "fact", "key": "color", "text": "blue"}]}`},
	)
	orc, st := newTestOrchestrator(t, junior, senior)

	resp, err := orc.Handle(context.Background(), "s1", "my favorite color is blue")
	require.NoError(t, err)
	require.Len(t, resp.MemoryWrites, 1)

	writes := st.MemoryWrites("s1")
	require.Len(t, writes, 1)
	assert.Equal(t, "color", writes[0].Key)
}

func TestHandle_MoodDeltaShiftsStyle(t *testing.T) {
	junior := model.NewMockBackend(
		model.MockReply{Text: `{"intent": "chat", "mood_delta": {"dopamine": 5}}`},
	)
	senior := model.NewMockBackend(model.MockReply{Text: `{"text": "ok"}`})
	orc, st := newTestOrchestrator(t, junior, senior)

	_, err := orc.Handle(context.Background(), "s1", "great news!")
	require.NoError(t, err)

	profile, err := st.LoadMoodProfile(context.Background(), "s1")
	require.NoError(t, err)
	assert.InDelta(t, 11, profile["dopamine"].Current, 1e-9, "delta applied and clamped to max")
}

func TestHandle_QueuesBehindConsolidation(t *testing.T) {
	junior := model.NewMockBackend(model.MockReply{Text: juniorChat})
	senior := model.NewMockBackend(model.MockReply{Text: `{"text": "ok"}`})
	orc, _ := newTestOrchestrator(t, junior, senior)

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = orc.Quiesce(func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	type outcome struct {
		resp core.GuardedResponse
		err  error
	}
	answered := make(chan outcome, 1)
	go func() {
		resp, err := orc.Handle(context.Background(), "s1", "hi")
		answered <- outcome{resp, err}
	}()

	// The queued run must not proceed while the batch holds the gate.
	select {
	case <-answered:
		t.Fatal("pipeline ran while consolidation held exclusive access")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	got := <-answered
	require.NoError(t, got.err)
	assert.Equal(t, "ok", got.resp.Text)
}

func TestFeedback_UpdatesBandit(t *testing.T) {
	junior := model.NewMockBackend(model.MockReply{Text: `{"intent": "task"}`})
	senior := model.NewMockBackend(model.MockReply{Text: `{"text": "done"}`})
	orc, st := newTestOrchestrator(t, junior, senior)

	ctx := context.Background()
	_, err := orc.Handle(ctx, "s1", "do a thing")
	require.NoError(t, err)

	msgs, err := st.GetRecentMessages(ctx, "s1", 10)
	require.NoError(t, err)
	assistantID := msgs[len(msgs)-1].ID

	require.NoError(t, orc.Feedback(ctx, core.Feedback{MessageID: assistantID, Kind: "up"}))

	arms, err := st.LoadBanditState(ctx)
	require.NoError(t, err)
	require.Len(t, arms, 1)
	assert.Equal(t, "task", arms[0].Intent)
	assert.Equal(t, 1, arms[0].Trials)
	assert.InDelta(t, 1, arms[0].MeanReward, 1e-9)
}

func TestFeedback_TextKindStoredWithoutReward(t *testing.T) {
	junior := model.NewMockBackend(model.MockReply{Text: juniorChat})
	senior := model.NewMockBackend(model.MockReply{Text: `{"text": "ok"}`})
	orc, st := newTestOrchestrator(t, junior, senior)

	ctx := context.Background()
	_, err := orc.Handle(ctx, "s1", "hi")
	require.NoError(t, err)

	require.NoError(t, orc.Feedback(ctx, core.Feedback{MessageID: 2, Kind: "text", Text: "nice"}))

	arms, err := st.LoadBanditState(ctx)
	require.NoError(t, err)
	assert.Empty(t, arms)
	assert.Len(t, st.Feedback(), 1)
}

func TestWarm_RestoresBanditState(t *testing.T) {
	junior := model.NewMockBackend(model.MockReply{Text: juniorChat})
	senior := model.NewMockBackend(model.MockReply{Text: `{"text": "ok"}`})
	orc, st := newTestOrchestrator(t, junior, senior)

	ctx := context.Background()
	require.NoError(t, st.SaveBanditState(ctx, []core.ArmState{
		{Intent: "chat", Kind: "detailed", Trials: 9, MeanReward: 0.9},
	}))
	require.NoError(t, orc.Warm(ctx))

	got := orc.Bandit().Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, 9, got[0].Trials)
}
