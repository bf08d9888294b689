// Tool dispatch for the agent step loop.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/tools"
)

// concurrencyLimit bounds parallel tool execution. 4x CPU count for I/O-bound
// tools, clamped to [4, 32].
var concurrencyLimit = func() int {
	limit := runtime.NumCPU() * 4
	if limit < 4 {
		limit = 4
	}
	if limit > 32 {
		limit = 32
	}
	return limit
}()

// ToolRunner executes a single tool call. Implementations must be safe for
// concurrent use.
type ToolRunner interface {
	Run(ctx context.Context, call ToolCall) ToolResult
}

// RegistryRunner adapts an agentkit tool registry to the ToolRunner contract.
type RegistryRunner struct {
	Registry *tools.Registry
}

// Run resolves and executes the named tool. Unknown tools and execution
// errors become failed results, not error returns.
func (r *RegistryRunner) Run(ctx context.Context, call ToolCall) ToolResult {
	if r.Registry == nil {
		return ToolResult{CallID: call.ID, Error: "no tool registry", Code: 1}
	}

	tool := r.Registry.Get(call.Name)
	if tool == nil {
		return ToolResult{CallID: call.ID, Error: fmt.Sprintf("tool not found: %s", call.Name), Code: 1}
	}

	result, err := tool.Execute(ctx, call.Args)
	if err != nil {
		return ToolResult{CallID: call.ID, Error: err.Error(), Code: 1}
	}

	var output string
	switch v := result.(type) {
	case string:
		output = v
	case nil:
		output = ""
	default:
		data, _ := json.Marshal(v)
		output = string(data)
	}
	return ToolResult{CallID: call.ID, Output: output}
}

// Dispatcher executes one model turn's batch of tool calls. The mode is
// fixed per execution: sequential runs calls one after another, parallel
// fans out and awaits all completions. Either way, results come back in the
// same order as the input calls.
type Dispatcher struct {
	Runner   ToolRunner
	Parallel bool

	// Fatal marks a result as short-circuiting sequential dispatch.
	// Nil means no result is fatal.
	Fatal func(ToolResult) bool

	logger *logging.Logger
}

// NewDispatcher creates a dispatcher over the given runner.
func NewDispatcher(runner ToolRunner, parallel bool) *Dispatcher {
	return &Dispatcher{
		Runner:   runner,
		Parallel: parallel,
		logger:   logging.New().WithComponent("dispatch"),
	}
}

// Execute runs the batch and returns results ordered identically to calls.
func (d *Dispatcher) Execute(ctx context.Context, calls []ToolCall) []ToolResult {
	if len(calls) == 0 {
		return nil
	}
	if d.Parallel && len(calls) > 1 {
		return d.executeParallel(ctx, calls)
	}
	return d.executeSequential(ctx, calls)
}

func (d *Dispatcher) executeSequential(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		result := d.runOne(ctx, call)
		results = append(results, result)
		if result.Failed() && d.Fatal != nil && d.Fatal(result) {
			break
		}
	}
	return results
}

// executeParallel fans out all calls and fills a slice indexed by submission
// order, so completion order never affects result order. A failing call does
// not cancel its siblings.
func (d *Dispatcher) executeParallel(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	sem := make(chan struct{}, concurrencyLimit)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call ToolCall) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = d.runOne(ctx, call)
		}(i, call)
	}

	wg.Wait()
	return results
}

func (d *Dispatcher) runOne(ctx context.Context, call ToolCall) ToolResult {
	start := time.Now()
	result := d.Runner.Run(ctx, call)
	result.CallID = call.ID

	fields := map[string]interface{}{
		"tool":     call.Name,
		"call_id":  call.ID,
		"duration": time.Since(start).String(),
	}
	if result.Failed() {
		fields["error"] = result.Error
		d.logger.Warn("tool call failed", fields)
	} else {
		d.logger.Debug("tool call complete", fields)
	}
	return result
}
