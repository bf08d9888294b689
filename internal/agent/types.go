// Package agent drives one task from initial prompt to terminal state,
// dispatching tool calls issued by the model each turn.
package agent

import (
	"time"

	"github.com/vinayprograms/agentkit/llm"
)

// StepState is the state of one state-machine iteration.
type StepState string

const (
	StateThinking    StepState = "thinking"
	StateCallingTool StepState = "calling_tool"
	StateReflecting  StepState = "reflecting"
	StateCompleted   StepState = "completed"
	StateError       StepState = "error"
)

// ToolCall is one tool invocation issued by the model.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// ToolResult is the outcome of one tool call. Results correlate with calls
// strictly by CallID, never by position: parallel dispatch completes out of
// order.
type ToolResult struct {
	CallID string `json:"call_id"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   int    `json:"code"` // zero = success
}

// Failed reports whether the call produced an error.
func (r ToolResult) Failed() bool {
	return r.Code != 0 || r.Error != ""
}

// Step is one iteration of the state machine. Steps are appended in order to
// the owning Execution.
type Step struct {
	Number      int               `json:"number"` // 1-based
	State       StepState         `json:"state"`
	Response    *llm.ChatResponse `json:"response,omitempty"`
	ToolCalls   []ToolCall        `json:"tool_calls,omitempty"`
	ToolResults []ToolResult      `json:"tool_results,omitempty"`
	Reflection  string            `json:"reflection,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Execution is the full record of one task run. It is exclusively owned by
// the caller once returned.
type Execution struct {
	Task         string        `json:"task"`
	Steps        []*Step       `json:"steps"`
	FinalResult  string        `json:"final_result"`
	Success      bool          `json:"success"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Duration     time.Duration `json:"duration"`
}

// ToolUsage returns a histogram of tool invocations across all steps.
func (e *Execution) ToolUsage() map[string]int {
	usage := make(map[string]int)
	for _, step := range e.Steps {
		for _, tc := range step.ToolCalls {
			usage[tc.Name]++
		}
	}
	return usage
}
