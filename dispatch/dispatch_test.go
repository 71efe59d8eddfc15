package dispatch

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkestra-ai/arkestra/core"
	"github.com/arkestra-ai/arkestra/logging"
	"github.com/arkestra-ai/arkestra/tool"
)

func sleepTool(name string, d time.Duration, result any, err error) tool.Tool {
	return tool.NewFunctionTool(name, "test tool", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return result, err
		})
}

func TestRunAllPreservesInputOrder(t *testing.T) {
	reg := tool.NewRegistry(
		sleepTool("slow", 50*time.Millisecond, "slow-done", nil),
		sleepTool("fast", 0, "fast-done", nil),
		sleepTool("mid", 20*time.Millisecond, "mid-done", nil),
	)
	d := New(reg)

	calls := []core.ToolCall{{Name: "slow"}, {Name: "fast"}, {Name: "mid"}}
	results, err := d.RunAll(context.Background(), calls)
	require.NoError(t, err)
	require.Len(t, results, len(calls))

	assert.Equal(t, "slow", results[0].Name)
	assert.Equal(t, "fast", results[1].Name)
	assert.Equal(t, "mid", results[2].Name)
	assert.Equal(t, "slow-done", results[0].Payload)
	assert.Equal(t, "fast-done", results[1].Payload)
	assert.Equal(t, "mid-done", results[2].Payload)
}

func TestRunAllRejectsUnknownToolWithoutInvocation(t *testing.T) {
	reg := tool.NewRegistry()
	d := New(reg)

	results, err := d.RunAll(context.Background(), []core.ToolCall{{Name: "foo.bar"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, core.ToolErrUnknown, results[0].ErrorKind)
}

func TestRunAllIsolatesFailures(t *testing.T) {
	reg := tool.NewRegistry(
		sleepTool("ok", 0, "fine", nil),
		sleepTool("bad", 0, nil, errors.New("broken")),
	)
	d := New(reg)

	results, err := d.RunAll(context.Background(), []core.ToolCall{
		{Name: "bad"}, {Name: "ok"}, {Name: "nope"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.False(t, results[0].Success)
	assert.Equal(t, core.ToolErrExecution, results[0].ErrorKind)
	assert.True(t, results[1].Success)
	assert.Equal(t, "fine", results[1].Payload)
	assert.Equal(t, core.ToolErrUnknown, results[2].ErrorKind)
}

func TestRunAllTimesOutSlowCallOnly(t *testing.T) {
	reg := tool.NewRegistry(
		sleepTool("glacial", time.Second, "never", nil),
		sleepTool("quick", 0, "done", nil),
	)
	d := New(reg, func(o *Options) { o.CallTimeout = 20 * time.Millisecond })

	results, err := d.RunAll(context.Background(), []core.ToolCall{{Name: "glacial"}, {Name: "quick"}})
	require.NoError(t, err)

	assert.False(t, results[0].Success)
	assert.Equal(t, core.ToolErrTimeout, results[0].ErrorKind)
	assert.True(t, results[1].Success)
}

func TestRunAllTimesOutToolIgnoringContext(t *testing.T) {
	// A tool that never checks ctx keeps running after the dispatcher gives
	// up on it. The timed-out slot must stay a clean timeout result and the
	// sibling result must be unaffected by the stray goroutine finishing
	// later.
	stubborn := tool.NewFunctionTool("stubborn", "ignores cancellation", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			time.Sleep(80 * time.Millisecond)
			return "late", nil
		})
	reg := tool.NewRegistry(stubborn, sleepTool("quick", 0, "done", nil))
	d := New(reg, func(o *Options) { o.CallTimeout = 10 * time.Millisecond })

	results, err := d.RunAll(context.Background(), []core.ToolCall{{Name: "stubborn"}, {Name: "quick"}})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	assert.Equal(t, core.ToolErrTimeout, results[0].ErrorKind)
	assert.Nil(t, results[0].Payload)
	assert.True(t, results[1].Success)
	assert.Equal(t, "done", results[1].Payload)

	// Give the stray goroutine time to finish; the returned slice must not
	// change under it.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, core.ToolErrTimeout, results[0].ErrorKind)
	assert.Nil(t, results[0].Payload)
}

func TestRunAllLogsToolCalls(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewPipelineLogger(logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "text", Output: &buf})

	reg := tool.NewRegistry(
		sleepTool("ok", 0, "fine", nil),
		sleepTool("bad", 0, nil, errors.New("broken")),
	)
	d := New(reg, func(o *Options) { o.Logger = logger })

	_, err := d.RunAll(context.Background(), []core.ToolCall{{Name: "ok"}, {Name: "bad"}})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "tool_name=ok")
	assert.Contains(t, out, "tool_name=bad")
	assert.Contains(t, out, "broken")
}

func TestRunAllRecoversPanics(t *testing.T) {
	panicky := tool.NewFunctionTool("panic", "panics", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			panic("surprise")
		})
	reg := tool.NewRegistry(panicky, sleepTool("ok", 0, "fine", nil))
	d := New(reg)

	results, err := d.RunAll(context.Background(), []core.ToolCall{{Name: "panic"}, {Name: "ok"}})
	require.NoError(t, err)
	assert.Equal(t, core.ToolErrPanic, results[0].ErrorKind)
	assert.True(t, results[1].Success)
}

func TestRunAllClassifiesValidationErrors(t *testing.T) {
	strict := tool.NewFunctionTool("strict", "requires x",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"x": map[string]any{"type": "string"}},
			"required":   []string{"x"},
		},
		func(ctx context.Context, args map[string]any) (any, error) { return "ok", nil })
	d := New(tool.NewRegistry(strict))

	results, err := d.RunAll(context.Background(), []core.ToolCall{{Name: "strict"}})
	require.NoError(t, err)
	assert.Equal(t, core.ToolErrValidation, results[0].ErrorKind)
}

func TestRunAllEmptyBatch(t *testing.T) {
	d := New(tool.NewRegistry())
	results, err := d.RunAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRunAllCanceledContext(t *testing.T) {
	d := New(tool.NewRegistry(sleepTool("ok", 0, "fine", nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.RunAll(ctx, []core.ToolCall{{Name: "ok"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunAllBoundedParallelism(t *testing.T) {
	reg := tool.NewRegistry(sleepTool("s", 30*time.Millisecond, "x", nil))
	d := New(reg, func(o *Options) { o.MaxParallel = 1 })

	start := time.Now()
	results, err := d.RunAll(context.Background(), []core.ToolCall{{Name: "s"}, {Name: "s"}, {Name: "s"}})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	// Three 30ms calls through a single worker cannot finish in under 90ms.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
