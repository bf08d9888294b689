// Package agent drives one task from initial prompt to terminal state.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/agentkit/llm"
)

// fakeRunner executes tool calls with scripted behavior.
type fakeRunner struct {
	fn func(ctx context.Context, call ToolCall) ToolResult
}

func (f *fakeRunner) Run(ctx context.Context, call ToolCall) ToolResult {
	return f.fn(ctx, call)
}

func okRunner() *fakeRunner {
	return &fakeRunner{fn: func(ctx context.Context, call ToolCall) ToolResult {
		return ToolResult{CallID: call.ID, Output: "ok"}
	}}
}

func newTestRunner(provider llm.Provider, runner ToolRunner, maxSteps int) *Runner {
	return NewRunner(provider, NewDispatcher(runner, false), nil, maxSteps)
}

func TestRunCompletesOnIndicatorPhrase(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse("The task completed without issues.")

	r := newTestRunner(provider, okRunner(), 5)
	exec, err := r.Run(context.Background(), "list files")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}

	if !exec.Success {
		t.Error("expected success")
	}
	if len(exec.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(exec.Steps))
	}
	if exec.Steps[0].State != StateCompleted {
		t.Errorf("step state = %s, want completed", exec.Steps[0].State)
	}
	if exec.FinalResult != "The task completed without issues." {
		t.Errorf("final result = %q", exec.FinalResult)
	}
}

func TestRunStopsAtStepCeilingExactly(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		// Never signals completion, never calls tools.
		return &llm.ChatResponse{Content: "still working on it"}, nil
	}

	const ceiling = 7
	r := newTestRunner(provider, okRunner(), ceiling)
	exec, err := r.Run(context.Background(), "impossible task")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}

	if exec.Success {
		t.Error("expected failure at ceiling")
	}
	if len(exec.Steps) != ceiling {
		t.Errorf("recorded %d steps, want exactly %d", len(exec.Steps), ceiling)
	}
	if exec.FinalResult != maxStepsMessage {
		t.Errorf("final result = %q, want exceeded-steps message", exec.FinalResult)
	}
}

func TestRefusedConfirmationContinues(t *testing.T) {
	provider := llm.NewMockProvider()
	calls := 0
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		return &llm.ChatResponse{Content: "Task completed"}, nil
	}

	r := newTestRunner(provider, okRunner(), 3)
	confirmations := 0
	r.ConfirmCompletion = func(ctx context.Context, exec *Execution) bool {
		confirmations++
		return confirmations > 1 // refuse the first claim only
	}

	exec, err := r.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}

	if !exec.Success {
		t.Error("expected eventual success")
	}
	if len(exec.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(exec.Steps))
	}
	if exec.Steps[0].State != StateThinking {
		t.Errorf("refused step state = %s, want thinking", exec.Steps[0].State)
	}

	// The nudge message must be in the history of the second call.
	req := provider.LastRequest()
	found := false
	for _, msg := range req.Messages {
		if msg.Content == taskIncompleteMessage {
			found = true
		}
	}
	if !found {
		t.Error("expected incomplete-task nudge in message history")
	}
}

func TestNoToolCallsSynthesizesUserMessage(t *testing.T) {
	provider := llm.NewMockProvider()
	calls := 0
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		if calls == 1 {
			return &llm.ChatResponse{Content: "let me think about this"}, nil
		}
		return &llm.ChatResponse{Content: "Task completed"}, nil
	}

	r := newTestRunner(provider, okRunner(), 5)
	exec, err := r.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if !exec.Success {
		t.Error("expected success")
	}

	req := provider.LastRequest()
	found := false
	for _, msg := range req.Messages {
		if msg.Content == noToolCallsMessage {
			found = true
		}
	}
	if !found {
		t.Error("expected no-action nudge in message history")
	}
}

func TestToolCallsDispatchAndFeedBack(t *testing.T) {
	provider := llm.NewMockProvider()
	calls := 0
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		if calls == 1 {
			return &llm.ChatResponse{
				Content: "listing files",
				ToolCalls: []llm.ToolCallResponse{
					{ID: "tc-1", Name: "ls", Args: map[string]interface{}{"path": "."}},
				},
			}, nil
		}
		return &llm.ChatResponse{Content: "Task completed"}, nil
	}

	r := newTestRunner(provider, okRunner(), 5)
	exec, err := r.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}

	step := exec.Steps[0]
	if step.State != StateCallingTool {
		t.Errorf("step state = %s, want calling_tool", step.State)
	}
	if len(step.ToolResults) != 1 || step.ToolResults[0].CallID != "tc-1" {
		t.Fatalf("tool results = %+v", step.ToolResults)
	}

	// Second model call must see the tool result message.
	req := provider.LastRequest()
	foundTool := false
	for _, msg := range req.Messages {
		if msg.Role == "tool" && msg.ToolCallID == "tc-1" && msg.Content == "ok" {
			foundTool = true
		}
	}
	if !foundTool {
		t.Error("expected tool result message in history")
	}
}

func TestFailedToolProducesReflection(t *testing.T) {
	provider := llm.NewMockProvider()
	calls := 0
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		if calls == 1 {
			return &llm.ChatResponse{
				ToolCalls: []llm.ToolCallResponse{
					{ID: "tc-1", Name: "bash", Args: map[string]interface{}{"cmd": "false"}},
				},
			}, nil
		}
		return &llm.ChatResponse{Content: "Task completed"}, nil
	}

	failing := &fakeRunner{fn: func(ctx context.Context, call ToolCall) ToolResult {
		return ToolResult{CallID: call.ID, Error: "exit status 1", Code: 1}
	}}

	r := newTestRunner(provider, failing, 5)
	exec, err := r.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}

	step := exec.Steps[0]
	if step.State != StateReflecting {
		t.Errorf("step state = %s, want reflecting", step.State)
	}
	if !strings.Contains(step.Reflection, "exit status 1") {
		t.Errorf("reflection missing error text: %q", step.Reflection)
	}
	if !strings.Contains(step.Reflection, "Consider trying a different approach") {
		t.Errorf("reflection missing retry advice: %q", step.Reflection)
	}
}

func TestModelErrorIsTerminal(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, errors.New("rate limited")
	}

	var observed []*Step
	r := newTestRunner(provider, okRunner(), 5)
	r.OnStep = func(step *Step) { observed = append(observed, step) }

	exec, err := r.Run(context.Background(), "task")
	if err == nil {
		t.Fatal("expected error")
	}
	if exec.Success {
		t.Error("expected failure")
	}
	if len(exec.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(exec.Steps))
	}
	if exec.Steps[0].State != StateError {
		t.Errorf("step state = %s, want error", exec.Steps[0].State)
	}
	if !strings.Contains(exec.Steps[0].Error, "rate limited") {
		t.Errorf("step error = %q", exec.Steps[0].Error)
	}
	// The observer fires even on the error branch.
	if len(observed) != 1 || observed[0].State != StateError {
		t.Errorf("observer saw %d steps, want the error step", len(observed))
	}
}

func TestObserverSeesEveryStep(t *testing.T) {
	provider := llm.NewMockProvider()
	calls := 0
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		if calls < 3 {
			return &llm.ChatResponse{Content: fmt.Sprintf("thinking %d", calls)}, nil
		}
		return &llm.ChatResponse{Content: "Task completed"}, nil
	}

	var numbers []int
	r := newTestRunner(provider, okRunner(), 10)
	r.OnStep = func(step *Step) { numbers = append(numbers, step.Number) }

	if _, err := r.Run(context.Background(), "task"); err != nil {
		t.Fatalf("run error: %v", err)
	}

	if len(numbers) != 3 {
		t.Fatalf("observer saw %d steps, want 3", len(numbers))
	}
	for i, n := range numbers {
		if n != i+1 {
			t.Errorf("step numbers not strictly increasing: %v", numbers)
			break
		}
	}
}

func TestTokenUsageAccumulates(t *testing.T) {
	provider := llm.NewMockProvider()
	calls := 0
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		resp := &llm.ChatResponse{Content: "hmm", InputTokens: 100, OutputTokens: 10}
		if calls == 3 {
			resp.Content = "Task completed"
		}
		return resp, nil
	}

	r := newTestRunner(provider, okRunner(), 10)
	exec, err := r.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}

	if exec.InputTokens != 300 || exec.OutputTokens != 30 {
		t.Errorf("tokens = %d/%d, want 300/30", exec.InputTokens, exec.OutputTokens)
	}
}

func TestCancelledContextStopsRun(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := newTestRunner(provider, okRunner(), 5)
	_, err := r.Run(ctx, "task")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestIndicatorMatchIsCaseInsensitive(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"TASK COMPLETED successfully", true},
		{"All Done here", true},
		{"the task finished early", true},
		{"still in progress", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := indicatesCompletion(tc.content); got != tc.want {
			t.Errorf("indicatesCompletion(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}
