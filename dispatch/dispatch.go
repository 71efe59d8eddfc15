// Package dispatch validates and concurrently executes the tool calls
// requested by the senior stage. Calls run in a bounded worker pool with a
// per-call timeout; a failing call never aborts its siblings, and results
// are returned in request order regardless of completion order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arkestra-ai/arkestra/core"
	"github.com/arkestra-ai/arkestra/logging"
	"github.com/arkestra-ai/arkestra/tool"
)

// Options configures a Dispatcher.
type Options struct {
	// MaxParallel bounds the worker pool. 0 or negative means one worker
	// per call.
	MaxParallel int

	// CallTimeout bounds each individual tool call.
	CallTimeout time.Duration

	// Logger defaults to a discarding pipeline logger.
	Logger *logging.PipelineLogger
}

// Dispatcher executes batches of tool calls against a registry.
type Dispatcher struct {
	registry    *tool.Registry
	maxParallel int
	callTimeout time.Duration
	logger      *logging.PipelineLogger
}

// New creates a Dispatcher over the given registry.
func New(registry *tool.Registry, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		MaxParallel: 4,
		CallTimeout: 15 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewPipelineLogger(logging.LoggerConfig{Output: io.Discard})
	}
	return &Dispatcher{
		registry:    registry,
		maxParallel: opts.MaxParallel,
		callTimeout: opts.CallTimeout,
		logger:      opts.Logger,
	}
}

// RunAll executes the calls and returns exactly one result per call, in
// input order. Unknown tool names are rejected without invocation. The
// returned error is non-nil only when the whole batch was abandoned because
// ctx was canceled before any work could complete.
func (d *Dispatcher) RunAll(ctx context.Context, calls []core.ToolCall) ([]core.ToolResult, error) {
	results := make([]core.ToolResult, len(calls))
	if len(calls) == 0 {
		return results, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	maxPar := d.maxParallel
	if maxPar <= 0 || maxPar > len(calls) {
		maxPar = len(calls)
	}
	g.SetLimit(maxPar)

	for i := range calls {
		g.Go(func() error {
			results[i] = d.runOne(gctx, calls[i])
			// Individual failures are reported in the result, never as a
			// group error: sibling calls must not be canceled.
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (d *Dispatcher) runOne(ctx context.Context, call core.ToolCall) core.ToolResult {
	impl, ok := d.registry.Get(call.Name)
	if !ok {
		d.logger.Warn("tool rejected", "tool", call.Name, "reason", core.ToolErrUnknown)
		return core.ToolResult{
			Name:      call.Name,
			Success:   false,
			ErrorKind: core.ToolErrUnknown,
			Error:     fmt.Sprintf("tool %s not found", call.Name),
		}
	}

	if err := ctx.Err(); err != nil {
		return core.ToolResult{Name: call.Name, Success: false, ErrorKind: core.ToolErrCanceled, Error: err.Error()}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if d.callTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
	}

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	payload, err := d.invoke(callCtx, impl, args)
	dur := time.Since(start)

	if err != nil {
		d.logger.LogToolCall(call.Name, dur, false, err)
		return core.ToolResult{
			Name:      call.Name,
			Success:   false,
			ErrorKind: classify(callCtx, err),
			Error:     err.Error(),
		}
	}

	d.logger.LogToolCall(call.Name, dur, true, nil)
	return core.ToolResult{Name: call.Name, Success: true, Payload: payload}
}

type callResult struct {
	payload any
	err     error
}

// invoke runs the tool with panic safety: a panicking handler yields an
// error result for that call only. The handler goroutine owns its result
// exclusively until it lands on the buffered channel, so a caller that bails
// out on ctx never races with a late handler write.
func (d *Dispatcher) invoke(ctx context.Context, impl tool.Tool, args map[string]any) (any, error) {
	resCh := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("tool panicked", "tool", impl.Name(), "recover", r)
				resCh <- callResult{err: &panicErr{val: r, stack: debug.Stack()}}
			}
		}()
		payload, err := impl.Call(ctx, args)
		resCh <- callResult{payload: payload, err: err}
	}()

	select {
	case res := <-resCh:
		return res.payload, res.err
	case <-ctx.Done():
		// The handler goroutine keeps running until it observes ctx; its
		// buffered result is discarded.
		return nil, ctx.Err()
	}
}

func classify(ctx context.Context, err error) string {
	var pe *panicErr
	if errors.As(err, &pe) {
		return core.ToolErrPanic
	}
	// The handler may have wrapped the context error; the call context's own
	// state is authoritative for timeout vs cancellation.
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return core.ToolErrTimeout
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		return core.ToolErrCanceled
	}
	var te *tool.ToolError
	if errors.As(err, &te) && te.Code == tool.CodeValidation {
		return core.ToolErrValidation
	}
	return core.ToolErrExecution
}

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
