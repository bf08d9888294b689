package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"go.opentelemetry.io/otel/trace"
)

// completionIndicators are the phrases whose presence in a model response
// signals that the model believes the task is done. Matching is a
// case-insensitive substring check, an accepted heuristic.
var completionIndicators = []string{
	"task completed",
	"task finished",
	"done",
	"completed successfully",
	"finished successfully",
}

const (
	taskIncompleteMessage = "The task is incomplete. Please try again."
	noToolCallsMessage    = "It seems that you have not completed the task."
	maxStepsMessage       = "Task execution exceeded maximum steps without completion."
)

// Runner drives one task through the step state machine.
type Runner struct {
	provider   llm.Provider
	dispatcher *Dispatcher
	toolDefs   []llm.ToolDef
	maxSteps   int
	logger     *logging.Logger

	// SystemPrompt, when set, is prepended to the message history.
	SystemPrompt string

	// ConfirmCompletion decides whether a completion signal from the model
	// is genuine. Nil means always yes.
	ConfirmCompletion func(ctx context.Context, exec *Execution) bool

	// OnStep is published every appended step, including the error branch.
	OnStep func(step *Step)
}

// NewRunner creates a runner with the given step ceiling.
func NewRunner(provider llm.Provider, dispatcher *Dispatcher, toolDefs []llm.ToolDef, maxSteps int) *Runner {
	if maxSteps <= 0 {
		maxSteps = 20
	}
	return &Runner{
		provider:   provider,
		dispatcher: dispatcher,
		toolDefs:   toolDefs,
		maxSteps:   maxSteps,
		logger:     logging.New().WithComponent("agent"),
	}
}

// Run executes the task to a terminal state. The returned Execution is always
// non-nil; err is non-nil when the run ended on the error branch, on
// cancellation, or on deadline expiry.
func (r *Runner) Run(ctx context.Context, task string) (*Execution, error) {
	exec := &Execution{Task: task}
	start := time.Now()
	defer func() {
		exec.Duration = time.Since(start)
	}()

	ctx, span := r.startRunSpan(ctx)
	var runErr error
	defer func() {
		r.endRunSpan(span, exec, runErr)
	}()

	var messages []llm.Message
	if r.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: r.SystemPrompt})
	}
	messages = append(messages, llm.Message{Role: "user", Content: task})

	for stepNum := 1; stepNum <= r.maxSteps; stepNum++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			return exec, runErr
		}

		step := &Step{Number: stepNum, State: StateThinking}
		stepCtx, stepSpan := r.startStepSpan(ctx, stepNum)

		resp, err := r.provider.Chat(stepCtx, llm.ChatRequest{
			Messages: messages,
			Tools:    r.toolDefs,
		})
		if err != nil {
			step.State = StateError
			step.Error = err.Error()
			r.appendStep(exec, step, stepSpan)
			if ctxErr := ctx.Err(); ctxErr != nil {
				runErr = ctxErr
			} else {
				runErr = fmt.Errorf("model call failed: %w", err)
			}
			return exec, runErr
		}

		step.Response = resp
		exec.InputTokens += resp.InputTokens
		exec.OutputTokens += resp.OutputTokens

		if indicatesCompletion(resp.Content) {
			if r.confirmCompletion(stepCtx, exec) {
				step.State = StateCompleted
				exec.FinalResult = resp.Content
				exec.Success = true
				r.appendStep(exec, step, stepSpan)
				return exec, nil
			}
			// The model claimed completion but the hook refused it: keep
			// thinking with a nudge.
			messages = append(messages,
				llm.Message{Role: "assistant", Content: resp.Content},
				llm.Message{Role: "user", Content: taskIncompleteMessage},
			)
			r.appendStep(exec, step, stepSpan)
			continue
		}

		toolCalls := toToolCalls(resp.ToolCalls)
		if len(toolCalls) == 0 {
			messages = append(messages,
				llm.Message{Role: "assistant", Content: resp.Content},
				llm.Message{Role: "user", Content: noToolCallsMessage},
			)
			r.appendStep(exec, step, stepSpan)
			continue
		}

		step.State = StateCallingTool
		step.ToolCalls = toolCalls
		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results := r.dispatcher.Execute(stepCtx, toolCalls)
		step.ToolResults = results
		for _, result := range results {
			content := result.Output
			if result.Failed() {
				content = "Error: " + result.Error
			}
			messages = append(messages, llm.Message{
				Role:       "tool",
				ToolCallID: result.CallID,
				Content:    content,
			})
		}

		if reflection := buildReflection(results); reflection != "" {
			step.State = StateReflecting
			step.Reflection = reflection
			messages = append(messages, llm.Message{Role: "assistant", Content: reflection})
		}

		r.appendStep(exec, step, stepSpan)
	}

	exec.FinalResult = maxStepsMessage
	exec.Success = false
	return exec, nil
}

// appendStep closes the step span, records the step, and publishes it to the
// observer. This runs on every branch, including error.
func (r *Runner) appendStep(exec *Execution, step *Step, span trace.Span) {
	r.endStepSpan(span, step)
	exec.Steps = append(exec.Steps, step)
	r.logger.Debug("step recorded", map[string]interface{}{
		"step":  step.Number,
		"state": string(step.State),
	})
	if r.OnStep != nil {
		r.OnStep(step)
	}
}

func (r *Runner) confirmCompletion(ctx context.Context, exec *Execution) bool {
	if r.ConfirmCompletion == nil {
		return true
	}
	return r.ConfirmCompletion(ctx, exec)
}

// indicatesCompletion checks the response text against the indicator list.
func indicatesCompletion(content string) bool {
	if content == "" {
		return false
	}
	lower := strings.ToLower(content)
	for _, indicator := range completionIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// buildReflection concatenates failure advice for each failed result.
func buildReflection(results []ToolResult) string {
	var parts []string
	for _, result := range results {
		if result.Failed() {
			parts = append(parts, fmt.Sprintf(
				"The tool execution failed with error: %s. Consider trying a different approach or fixing the parameters.",
				result.Error,
			))
		}
	}
	return strings.Join(parts, "\n")
}

func toToolCalls(calls []llm.ToolCallResponse) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, tc := range calls {
		out[i] = ToolCall{ID: tc.ID, Name: tc.Name, Args: tc.Args}
	}
	return out
}
